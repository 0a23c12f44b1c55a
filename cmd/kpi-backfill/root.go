package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	billingcycledomain "github.com/mogcia-app/signal/internal/billingcycle/domain"
	"github.com/mogcia-app/signal/internal/config"
	kpidomain "github.com/mogcia-app/signal/internal/kpi/domain"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

const (
	exitOK    = 0
	exitError = 1
	exitUsage = 2
)

type options struct {
	DryRun    bool
	Period    string
	Owner     string
	BatchSize int
	Timeout   time.Duration
}

func (o options) validate() error {
	if o.Period != "" {
		if _, _, err := billingcycledomain.ParsePeriodKey(o.Period); err != nil {
			return fmt.Errorf("--period %q: %w", o.Period, err)
		}
	}
	if o.BatchSize < 0 || o.BatchSize > config.MaxBackfillBatchSize {
		return fmt.Errorf("--batch-size must be at most %d", config.MaxBackfillBatchSize)
	}
	if o.Timeout < 0 {
		return errors.New("--timeout must not be negative")
	}
	return nil
}

type runner func(ctx context.Context, opts options) (kpidomain.ReconcileResult, error)

type usageError struct {
	err error
}

func (e usageError) Error() string { return e.err.Error() }
func (e usageError) Unwrap() error { return e.err }

func newRootCmd(run runner) *cobra.Command {
	v := viper.New()

	cmd := &cobra.Command{
		Use:   "kpi-backfill",
		Short: "Rebuild monthly KPI summaries from raw analytics events",
		Long: `Rebuild monthly KPI summaries from the raw analytics events.

Every summary in scope is recomputed from scratch and overwritten. Months
that no longer have events are zeroed, not deleted. Writes are committed in
batches; a failure part way through reports how many summaries were
already written.`,
		Example: `  # Preview a full rebuild
  kpi-backfill --dry-run

  # Rebuild one month for one owner
  kpi-backfill --period=2024-05 --owner=user-123`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			opts := options{
				DryRun:    v.GetBool("dry-run"),
				Period:    strings.TrimSpace(v.GetString("period")),
				Owner:     strings.TrimSpace(v.GetString("owner")),
				BatchSize: v.GetInt("batch-size"),
				Timeout:   v.GetDuration("timeout"),
			}
			if err := opts.validate(); err != nil {
				return usageError{err: err}
			}

			ctx := cmd.Context()
			if opts.Timeout > 0 {
				var cancel context.CancelFunc
				ctx, cancel = context.WithTimeout(ctx, opts.Timeout)
				defer cancel()
			}

			result, err := run(ctx, opts)
			if err != nil {
				var batchErr *kpidomain.BatchCommitError
				if errors.As(err, &batchErr) {
					fmt.Fprintf(cmd.ErrOrStderr(), "backfill stopped after %d committed summaries\n", batchErr.Committed)
				}
				return err
			}

			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(result)
		},
	}
	cmd.SetFlagErrorFunc(func(_ *cobra.Command, err error) error {
		return usageError{err: err}
	})

	flags := cmd.Flags()
	flags.Bool("dry-run", false, "compute summaries without writing them")
	flags.String("period", "", "only rebuild this month (YYYY-MM)")
	flags.String("owner", "", "only rebuild this owner")
	flags.Int("batch-size", 0, fmt.Sprintf("summaries per commit, at most %d (default from kpi config)", config.MaxBackfillBatchSize))
	flags.Duration("timeout", time.Hour, "abort the run after this long (0 disables)")
	bindFlags(v, flags)

	return cmd
}

// bindFlags lets SIGNAL_BACKFILL_* environment variables stand in for flags.
func bindFlags(v *viper.Viper, flags *pflag.FlagSet) {
	v.SetEnvPrefix("SIGNAL_BACKFILL")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()
	_ = v.BindPFlags(flags)
}

func execute(ctx context.Context, args []string, cmd *cobra.Command) int {
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(ctx)
	if err != nil {
		fmt.Fprintln(cmd.ErrOrStderr(), "error:", err)
	}
	return exitCode(err)
}

func exitCode(err error) int {
	var usage usageError
	switch {
	case err == nil:
		return exitOK
	case errors.As(err, &usage):
		return exitUsage
	default:
		return exitError
	}
}
