// Package daemon keeps the pipelines running on cron schedules until the
// process is told to stop. The config file is watched; a clean edit swaps
// the schedule set in place, a broken one is logged and the previous config
// stays active.
package daemon

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	sd "github.com/coreos/go-systemd/v22/daemon"
	"github.com/fsnotify/fsnotify"
	"github.com/robfig/cron/v3"

	"autopost/internal/config"
	"autopost/internal/notify"
	"autopost/internal/pipeline"
	"autopost/internal/state"
	"autopost/pkg/logx"
)

type Daemon struct {
	configPath string
	store      state.Store
	log        logx.Logger
	parser     cron.Parser

	mu       sync.Mutex
	c        *cron.Cron
	notifier *notify.Notifier

	runCtx context.Context
}

func New(configPath string, store state.Store, log logx.Logger) *Daemon {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Daemon{
		configPath: configPath,
		store:      store,
		log:        log,
		// SecondOptional allows both 5-field and 6-field (with seconds) specs.
		parser: cron.NewParser(cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor),
	}
}

// Run blocks until ctx is cancelled. Systemd (when present) is told about
// readiness and shutdown; outside systemd the notify calls are no-ops.
func (d *Daemon) Run(ctx context.Context) error {
	cfg, err := config.Load(d.configPath)
	if err != nil {
		return err
	}
	d.runCtx = ctx
	if err := d.apply(cfg); err != nil {
		return err
	}

	_, _ = sd.SdNotify(false, sd.SdNotifyReady)
	d.log.Info("daemon running", logx.String("config", d.configPath))

	watchErr := make(chan error, 1)
	go func() { watchErr <- d.watch(ctx) }()

	select {
	case <-ctx.Done():
	case err := <-watchErr:
		if err != nil {
			d.log.Error("config watcher stopped", logx.Err(err))
		}
	}

	_, _ = sd.SdNotify(false, sd.SdNotifyStopping)
	d.stop()
	return ctx.Err()
}

// apply builds a fresh cron from cfg and swaps it for the running one.
func (d *Daemon) apply(cfg *config.Config) error {
	runners, err := pipeline.Runners(cfg, d.store, d.log, "")
	if err != nil {
		return err
	}
	notifier, err := notify.New(cfg.Notify, d.log)
	if err != nil {
		return err
	}

	clog := cronLogger{d.log}
	c := cron.New(
		cron.WithParser(d.parser),
		cron.WithChain(cron.Recover(clog), cron.SkipIfStillRunning(clog)),
	)

	scheduled := 0
	for _, r := range runners {
		r := r
		sched := cfg.Targets[r.Name()].Schedule
		if sched.Publish != "" {
			if _, err := c.AddFunc(sched.Publish, func() { d.publishJob(r) }); err != nil {
				return fmt.Errorf("target %q: publish schedule: %w", r.Name(), err)
			}
			scheduled++
		}
		if sched.Engage != "" {
			if _, err := c.AddFunc(sched.Engage, func() { d.engageJob(r) }); err != nil {
				return fmt.Errorf("target %q: engage schedule: %w", r.Name(), err)
			}
			scheduled++
		}
		if sched.Publish == "" && sched.Engage == "" {
			d.log.Warn("target has no schedule, idle in daemon mode", logx.String("target", r.Name()))
		}
	}

	d.mu.Lock()
	old := d.c
	d.c = c
	d.notifier = notifier
	d.mu.Unlock()

	c.Start()
	if old != nil {
		<-old.Stop().Done()
	}
	d.log.Info("schedules applied", logx.Int("entries", scheduled))
	return nil
}

func (d *Daemon) stop() {
	d.mu.Lock()
	c := d.c
	d.c = nil
	d.mu.Unlock()
	if c != nil {
		<-c.Stop().Done()
	}
}

func (d *Daemon) publishJob(r *pipeline.Runner) {
	rep, err := r.Publish(d.runCtx, false)
	if err != nil {
		d.log.Error("scheduled publish failed", logx.String("target", r.Name()), logx.Err(err))
	}
	d.mu.Lock()
	n := d.notifier
	d.mu.Unlock()
	n.PublishResult(r.Name(), rep, err)
}

func (d *Daemon) engageJob(r *pipeline.Runner) {
	rep, err := r.Engage(d.runCtx, false)
	if err != nil {
		d.log.Error("scheduled engagement failed", logx.String("target", r.Name()), logx.Err(err))
	}
	d.mu.Lock()
	n := d.notifier
	d.mu.Unlock()
	n.EngageResult(r.Name(), rep, err)
}

// watch reloads and re-applies the config whenever the file changes.
// Writes are debounced so editors and atomic renames settle first.
func (d *Daemon) watch(ctx context.Context) error {
	dir := filepath.Dir(d.configPath)
	file := filepath.Base(d.configPath)

	w, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer w.Close()
	if err := w.Add(dir); err != nil {
		return err
	}

	var (
		timerMu sync.Mutex
		timer   *time.Timer
	)
	debounce := func() {
		timerMu.Lock()
		defer timerMu.Unlock()
		if timer != nil {
			timer.Stop()
		}
		timer = time.AfterFunc(250*time.Millisecond, func() {
			cfg, err := config.Load(d.configPath)
			if err != nil {
				d.log.Error("config reload rejected", logx.Err(err))
				return
			}
			if err := d.apply(cfg); err != nil {
				d.log.Error("config reload rejected", logx.Err(err))
				return
			}
			_, _ = sd.SdNotify(false, sd.SdNotifyReloading)
			_, _ = sd.SdNotify(false, sd.SdNotifyReady)
			d.log.Info("config reloaded")
		})
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev := <-w.Events:
			if ev.Name != filepath.Join(dir, file) {
				continue
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) != 0 {
				debounce()
			}
		case <-w.Errors:
			// keep watching
		}
	}
}

// cronLogger adapts logx to the cron.Logger interface.
type cronLogger struct{ log logx.Logger }

func (l cronLogger) Info(msg string, kv ...interface{}) {
	l.log.Debug(msg, logx.Any("cron", kv))
}

func (l cronLogger) Error(err error, msg string, kv ...interface{}) {
	l.log.Error(msg, logx.Err(err), logx.Any("cron", kv))
}
