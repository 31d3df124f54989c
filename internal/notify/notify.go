// Package notify sends run summaries to a Telegram chat.
//
// The notifier is optional: a nil *Notifier is a no-op, so call sites report
// unconditionally and never branch on whether notification is configured.
// Send failures are logged and swallowed; a run never fails because the
// report about it could not be delivered.
package notify

import (
	"fmt"

	tele "gopkg.in/telebot.v4"

	"autopost/internal/config"
	"autopost/internal/pipeline"
	"autopost/pkg/logx"
)

type Notifier struct {
	bot       *tele.Bot
	chatID    int64
	onSuccess bool
	log       logx.Logger
}

// New returns (nil, nil) when cfg is nil.
func New(cfg *config.NotifyConfig, log logx.Logger) (*Notifier, error) {
	if cfg == nil {
		return nil, nil
	}
	bot, err := tele.NewBot(tele.Settings{Token: cfg.Token})
	if err != nil {
		return nil, fmt.Errorf("notify: %w", err)
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Notifier{
		bot:       bot,
		chatID:    cfg.ChatID,
		onSuccess: cfg.OnSuccess,
		log:       log,
	}, nil
}

// PublishResult reports one publish run. Failures are always sent; successes
// only when on_success is set.
func (n *Notifier) PublishResult(target string, rep pipeline.PublishReport, runErr error) {
	if n == nil {
		return
	}
	switch {
	case runErr != nil:
		n.send(fmt.Sprintf("❌ %s: publish failed\n%s\n%v", target, rep.Item.SourceURL, runErr))
	case !rep.Selected:
		if n.onSuccess {
			n.send(fmt.Sprintf("✔️ %s: nothing eligible to publish", target))
		}
	case rep.DryRun:
		// dry runs are local rehearsals, never reported
	default:
		if n.onSuccess {
			n.send(fmt.Sprintf("✔️ %s: published %s\nremote id %s", target, rep.Item.Title, rep.RemoteID))
		}
	}
}

// EngageResult reports one engagement run.
func (n *Notifier) EngageResult(target string, rep pipeline.EngageReport, runErr error) {
	if n == nil {
		return
	}
	switch {
	case runErr != nil:
		n.send(fmt.Sprintf("❌ %s: engagement failed\n%v", target, runErr))
	case rep.Acted && !rep.DryRun && n.onSuccess:
		n.send(fmt.Sprintf("✔️ %s: engagement step done", target))
	}
}

func (n *Notifier) send(text string) {
	if _, err := n.bot.Send(tele.ChatID(n.chatID), text); err != nil {
		n.log.Warn("notification send failed", logx.Err(err))
	}
}
