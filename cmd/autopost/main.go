package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"sort"
	"syscall"

	"github.com/spf13/cobra"

	"autopost/internal/config"
	"autopost/internal/daemon"
	"autopost/internal/notify"
	"autopost/internal/pipeline"
	"autopost/internal/state"
	"autopost/pkg/logx"
)

var (
	cfgPath    string
	targetName string
	dryRun     bool
)

var rootCmd = &cobra.Command{
	Use:           "autopost",
	Short:         "Scheduled media publishing pipeline",
	Long:          "Publishes pre-produced media items to external platforms on a rotating schedule,\nwith retrying uploads, a durable publish ledger, and delayed first-comment engagement.",
	SilenceUsage:  true,
	SilenceErrors: true,
}

var publishCmd = &cobra.Command{
	Use:   "publish",
	Short: "Select the next eligible item and publish it",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withRunners(cmd.Context(), func(ctx context.Context, runners []*pipeline.Runner, notifier *notify.Notifier) error {
			var firstErr error
			for _, r := range runners {
				rep, err := r.Publish(ctx, dryRun)
				notifier.PublishResult(r.Name(), rep, err)
				if err != nil && firstErr == nil {
					firstErr = err
				}
			}
			return firstErr
		})
	},
}

var engageCmd = &cobra.Command{
	Use:   "engage",
	Short: "Advance the delayed-comment state for one published item",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withRunners(cmd.Context(), func(ctx context.Context, runners []*pipeline.Runner, notifier *notify.Notifier) error {
			var firstErr error
			for _, r := range runners {
				rep, err := r.Engage(ctx, dryRun)
				notifier.EngageResult(r.Name(), rep, err)
				if err != nil && firstErr == nil {
					firstErr = err
				}
			}
			return firstErr
		})
	},
}

var verifyCmd = &cobra.Command{
	Use:   "verify",
	Short: "Re-check every comment awaiting verification",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withRunners(cmd.Context(), func(ctx context.Context, runners []*pipeline.Runner, _ *notify.Notifier) error {
			var firstErr error
			for _, r := range runners {
				checked, err := r.Verify(ctx)
				if err != nil && firstErr == nil {
					firstErr = err
				}
				fmt.Printf("%s: %d comment(s) checked\n", r.Name(), checked)
			}
			return firstErr
		})
	},
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Print a summary of both ledgers per target",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withRunners(cmd.Context(), func(ctx context.Context, runners []*pipeline.Runner, _ *notify.Notifier) error {
			for _, r := range runners {
				sum, err := r.Status()
				if err != nil {
					return err
				}
				printSummary(sum)
			}
			return nil
		})
	},
}

var daemonCmd = &cobra.Command{
	Use:   "daemon",
	Short: "Run publish and engage schedules until stopped",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(cfgPath)
		if err != nil {
			return err
		}
		log := newLogger(cfg.Logging)
		store, err := state.Open(storeConfig(cfg), log)
		if err != nil {
			return err
		}
		defer store.Close()

		err = daemon.New(cfgPath, store, log).Run(cmd.Context())
		if err == context.Canceled {
			return nil
		}
		return err
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgPath, "config", "./config.yaml", "path to config yaml")
	rootCmd.PersistentFlags().StringVar(&targetName, "target", "", "restrict the run to one target")
	publishCmd.Flags().BoolVar(&dryRun, "dry-run", false, "select and log only, no network calls")
	engageCmd.Flags().BoolVar(&dryRun, "dry-run", false, "select and log only, no network calls")

	rootCmd.AddCommand(publishCmd, engageCmd, verifyCmd, statusCmd, daemonCmd)
}

// withRunners loads config, opens the store, builds the runner set, and
// hands everything to fn. Store teardown and notifier wiring live here so
// the subcommands stay declarative.
func withRunners(ctx context.Context, fn func(context.Context, []*pipeline.Runner, *notify.Notifier) error) error {
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return err
	}
	log := newLogger(cfg.Logging)

	store, err := state.Open(storeConfig(cfg), log)
	if err != nil {
		return err
	}
	defer store.Close()

	runners, err := pipeline.Runners(cfg, store, log, targetName)
	if err != nil {
		return err
	}
	notifier, err := notify.New(cfg.Notify, log)
	if err != nil {
		return err
	}
	return fn(ctx, runners, notifier)
}

func storeConfig(cfg *config.Config) state.Config {
	return state.Config{
		Driver: cfg.Storage.Driver,
		Dir:    cfg.Storage.Dir,
	}
}

func newLogger(cfg config.LoggingConfig) logx.Logger {
	if cfg.File == "" {
		return logx.NewConsole(cfg.Level)
	}
	f, err := os.OpenFile(cfg.File, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		log := logx.NewConsole(cfg.Level)
		log.Warn("cannot open log file, console only", logx.String("file", cfg.File), logx.Err(err))
		return log
	}
	return logx.NewTee(f, cfg.Level)
}

func printSummary(sum pipeline.Summary) {
	fmt.Printf("%s\n", sum.Target)
	fmt.Printf("  rotation: day=%s bucket_index=%d\n", orDash(sum.RotationDay), sum.RotationIndex)
	fmt.Printf("  items: %d (published=%d failed=%d pending=%d), runs: %d\n",
		sum.Items, sum.Published, sum.Failed, sum.Pending, sum.PublishRuns)

	if len(sum.Comments) == 0 {
		fmt.Printf("  comments: none\n")
		return
	}
	keys := make([]string, 0, len(sum.Comments))
	for st := range sum.Comments {
		keys = append(keys, string(st))
	}
	sort.Strings(keys)
	fmt.Printf("  comments:")
	for _, k := range keys {
		label := k
		if label == "" {
			label = "undecided"
		}
		fmt.Printf(" %s=%d", label, sum.Comments[state.CommentStatus(k)])
	}
	fmt.Printf("\n")
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "fatal:", err)
		os.Exit(1)
	}
}
