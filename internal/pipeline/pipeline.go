// Package pipeline assembles one-shot runs from configuration. Each run
// loads the target's ledgers, performs exactly one unit of work (publish one
// item, advance one engagement record, or sweep due verifications), and
// persists the outcome before returning.
package pipeline

import (
	"context"
	"fmt"
	"sort"
	"time"

	"autopost/internal/config"
	"autopost/internal/creds"
	"autopost/internal/engage"
	"autopost/internal/manifest"
	"autopost/internal/platform"
	"autopost/internal/state"
	"autopost/internal/transfer"
	"autopost/pkg/logx"
)

// Runner executes runs for a single configured target.
type Runner struct {
	name   string
	cfg    config.TargetConfig
	store  state.Store
	target platform.Target
	log    logx.Logger

	transferCfg transfer.Config
	engageCfg   engage.Config
}

// NewRunner wires the target's credential source, platform client, and
// tuning from its config block. Config durations are validated here once so
// the run methods never fail on parsing.
func NewRunner(name string, cfg config.TargetConfig, store state.Store, log logx.Logger) (*Runner, error) {
	tokens, err := creds.FromConfig(cfg.Credentials)
	if err != nil {
		return nil, fmt.Errorf("target %q: %w", name, err)
	}
	target, err := platform.New(cfg.Platform, platform.Options{
		BaseURL: cfg.API.BaseURL,
		Version: cfg.API.Version,
		Tokens:  tokens,
		HTTP:    platform.NewClient(cfg.API.RatePerSec),
		Limits:  platform.Limits{TitleMax: cfg.TitleMax, DescriptionMax: cfg.DescriptionMax},
	})
	if err != nil {
		return nil, fmt.Errorf("target %q: %w", name, err)
	}

	tc, err := transferConfig(name, cfg)
	if err != nil {
		return nil, err
	}
	ec, err := engageConfig(name, cfg.Engage)
	if err != nil {
		return nil, err
	}

	return &Runner{
		name:        name,
		cfg:         cfg,
		store:       store,
		target:      target,
		log:         log.With(logx.String("target", name)),
		transferCfg: tc,
		engageCfg:   ec,
	}, nil
}

func (r *Runner) Name() string { return r.name }

func transferConfig(name string, cfg config.TargetConfig) (transfer.Config, error) {
	up := cfg.Upload
	mode := transfer.Mode(up.Mode)
	if mode == "" {
		mode = defaultUploadMode(cfg.Platform)
	}
	pollInterval, err := config.ParseDurationOrDefault(
		"targets."+name+".upload.poll_interval", up.PollInterval, 5*time.Second)
	if err != nil {
		return transfer.Config{}, err
	}
	pollTimeout, err := config.ParseDurationOrDefault(
		"targets."+name+".upload.poll_timeout", up.PollTimeout, 10*time.Minute)
	if err != nil {
		return transfer.Config{}, err
	}

	retry := transfer.DefaultRetryPolicy()
	if cfg.Retry.MaxAttempts > 0 {
		retry.MaxAttempts = cfg.Retry.MaxAttempts
	}
	if len(cfg.Retry.Delays) > 0 {
		delays := make([]time.Duration, 0, len(cfg.Retry.Delays))
		for i, raw := range cfg.Retry.Delays {
			d, err := config.ParseDurationField(
				fmt.Sprintf("targets.%s.retry.delays[%d]", name, i), raw)
			if err != nil {
				return transfer.Config{}, err
			}
			delays = append(delays, d)
		}
		retry.Delays = delays
	}

	return transfer.Config{
		Mode:         mode,
		ChunkSize:    up.ChunkSize,
		PollInterval: pollInterval,
		PollTimeout:  pollTimeout,
		Retry:        retry,
	}, nil
}

// defaultUploadMode matches each platform's native protocol: the Graph API
// fetches hosted payloads itself, the resumable protocol wants chunks.
func defaultUploadMode(platformName string) transfer.Mode {
	if platformName == "youtube" {
		return transfer.ModeChunked
	}
	return transfer.ModeHosted
}

func engageConfig(name string, cfg config.EngageConfig) (engage.Config, error) {
	prefix := "targets." + name + ".engage."

	// "0s" disables jitter; only an absent field takes the default.
	jitter := 30 * time.Minute
	if cfg.JitterMax != "" {
		d, err := config.ParseDurationField(prefix+"jitter_max", cfg.JitterMax)
		if err != nil {
			return engage.Config{}, err
		}
		jitter = d
	}
	verifyDelay, err := config.ParseDurationOrDefault(prefix+"verify_delay", cfg.VerifyDelay, 30*time.Minute)
	if err != nil {
		return engage.Config{}, err
	}
	cooldown, err := config.ParseDurationOrDefault(prefix+"retry_cooldown", cfg.RetryCooldown, time.Hour)
	if err != nil {
		return engage.Config{}, err
	}

	return engage.Config{
		Probability:        cfg.EffectiveProbability(),
		Templates:          cfg.Templates,
		JitterMax:          jitter,
		VerifyDelay:        verifyDelay,
		RetryCooldown:      cooldown,
		MaxCommentAttempts: cfg.MaxCommentAttempts,
	}, nil
}

// PublishReport describes one publish run's outcome.
type PublishReport struct {
	Selected bool
	DryRun   bool
	Item     manifest.Item
	RemoteID string
}

// Publish selects the next eligible item and drives it through the full
// publish sequence. The outcome is recorded in the ledger before the error
// (if any) is returned; "nothing eligible" is a success with Selected=false.
// Rotation advancement persists even when no item is selected, and in
// dry-run mode, which stops right after selection.
func (r *Runner) Publish(ctx context.Context, dryRun bool) (PublishReport, error) {
	rep := PublishReport{DryRun: dryRun}

	buckets, err := manifest.ReadBuckets(r.cfg.ManifestDir, r.cfg.Buckets)
	if err != nil {
		return rep, fmt.Errorf("target %q: %w", r.name, err)
	}

	led, err := r.store.LoadPublish(r.name)
	if err != nil {
		return rep, fmt.Errorf("target %q: %w", r.name, err)
	}

	sel := manifest.Selector{MaxAttempts: r.cfg.MaxAttempts}
	item, ok := sel.Next(buckets, led)
	if err := r.store.SavePublish(r.name, led); err != nil {
		return rep, fmt.Errorf("target %q: %w", r.name, err)
	}
	if !ok {
		r.log.Info("no eligible item")
		return rep, nil
	}
	rep.Selected = true
	rep.Item = item

	log := r.log.With(
		logx.String("source_url", item.SourceURL),
		logx.String("bucket", item.Bucket))
	if dryRun {
		log.Info("dry run: would publish", logx.String("title", item.Title))
		return rep, nil
	}

	client := transfer.New(r.target, &transfer.HTTPStager{}, r.transferCfg, log)
	remoteID, pubErr := client.Publish(ctx, item)

	out := state.AttemptOutcome{Result: state.ResultSuccess, RemoteID: remoteID}
	if pubErr != nil {
		out = state.AttemptOutcome{Result: state.ResultFailed, Error: pubErr.Error()}
	}
	led.RecordAttempt(state.ItemRef{
		SourceURL: item.SourceURL,
		Bucket:    item.Bucket,
		Filename:  item.Filename,
		Title:     item.Title,
	}, out, time.Now().UTC())
	if err := r.store.SavePublish(r.name, led); err != nil {
		if pubErr != nil {
			return rep, fmt.Errorf("target %q: %v (also failed to save state: %w)", r.name, pubErr, err)
		}
		return rep, fmt.Errorf("target %q: save state: %w", r.name, err)
	}
	if pubErr != nil {
		return rep, fmt.Errorf("target %q: %w", r.name, pubErr)
	}
	rep.RemoteID = remoteID
	return rep, nil
}

// EngageReport describes one engagement run's outcome.
type EngageReport struct {
	Acted    bool
	DryRun   bool
	RemoteID string
	Action   string // "post" | "verify"
}

// Engage advances the target's engagement state by one step.
func (r *Runner) Engage(ctx context.Context, dryRun bool) (EngageReport, error) {
	rep := EngageReport{DryRun: dryRun}
	if !r.cfg.Engage.IsEnabled() {
		r.log.Debug("engagement disabled")
		return rep, nil
	}

	pub, err := r.store.LoadPublish(r.name)
	if err != nil {
		return rep, fmt.Errorf("target %q: %w", r.name, err)
	}
	eng, err := r.store.LoadEngage(r.name)
	if err != nil {
		return rep, fmt.Errorf("target %q: %w", r.name, err)
	}

	sched := engage.New(r.target, r.engageCfg, r.log)
	if dryRun {
		remoteID, action, ok := sched.Peek(pub, eng)
		if ok {
			r.log.Info("dry run: would act",
				logx.String("remote_id", remoteID),
				logx.String("action", action))
			rep.Acted = true
			rep.RemoteID = remoteID
			rep.Action = action
		}
		return rep, nil
	}

	persist := func(s *state.EngageState) error { return r.store.SaveEngage(r.name, s) }
	acted, err := sched.Run(ctx, pub, eng, persist)
	rep.Acted = acted
	if err != nil {
		return rep, fmt.Errorf("target %q: %w", r.name, err)
	}
	return rep, nil
}

// Verify sweeps every comment awaiting verification whose delay has elapsed.
// Returns the number of records checked.
func (r *Runner) Verify(ctx context.Context) (int, error) {
	eng, err := r.store.LoadEngage(r.name)
	if err != nil {
		return 0, fmt.Errorf("target %q: %w", r.name, err)
	}
	sched := engage.New(r.target, r.engageCfg, r.log)
	persist := func(s *state.EngageState) error { return r.store.SaveEngage(r.name, s) }
	checked, err := sched.VerifyDue(ctx, eng, persist)
	if err != nil {
		return checked, fmt.Errorf("target %q: %w", r.name, err)
	}
	return checked, nil
}

// Summary is a read-only rollup of one target's ledgers.
type Summary struct {
	Target        string
	Items         int
	Published     int
	Failed        int
	Pending       int
	PublishRuns   int
	Comments      map[state.CommentStatus]int
	RotationDay   string
	RotationIndex int
}

// Status reads both ledgers and counts records per state.
func (r *Runner) Status() (Summary, error) {
	pub, err := r.store.LoadPublish(r.name)
	if err != nil {
		return Summary{}, fmt.Errorf("target %q: %w", r.name, err)
	}
	eng, err := r.store.LoadEngage(r.name)
	if err != nil {
		return Summary{}, fmt.Errorf("target %q: %w", r.name, err)
	}

	sum := Summary{
		Target:        r.name,
		Items:         len(pub.Items),
		PublishRuns:   len(pub.Runs),
		Comments:      map[state.CommentStatus]int{},
		RotationDay:   pub.Rotation.LastDay,
		RotationIndex: pub.Rotation.BucketIndex,
	}
	for _, rec := range pub.Items {
		switch rec.Result {
		case state.ResultSuccess:
			sum.Published++
		case state.ResultFailed:
			sum.Failed++
		default:
			sum.Pending++
		}
	}
	for _, rec := range eng.Items {
		st := rec.Status
		if st == "" {
			st = state.CommentNone
		}
		sum.Comments[st]++
	}
	return sum, nil
}

// Runners builds one Runner per enabled target, sorted by name. only, when
// non-empty, restricts the set to that single target and errors if it is
// unknown or disabled.
func Runners(cfg *config.Config, store state.Store, log logx.Logger, only string) ([]*Runner, error) {
	names := make([]string, 0, len(cfg.Targets))
	for name, tc := range cfg.Targets {
		if only != "" && name != only {
			continue
		}
		if !tc.IsEnabled() {
			if only != "" {
				return nil, fmt.Errorf("target %q is disabled", only)
			}
			continue
		}
		names = append(names, name)
	}
	if only != "" && len(names) == 0 {
		return nil, fmt.Errorf("unknown target %q", only)
	}
	sort.Strings(names)

	runners := make([]*Runner, 0, len(names))
	for _, name := range names {
		r, err := NewRunner(name, cfg.Targets[name], store, log)
		if err != nil {
			return nil, err
		}
		runners = append(runners, r)
	}
	return runners, nil
}
