package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	kpidomain "github.com/mogcia-app/signal/internal/kpi/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeRunner struct {
	opts   options
	calls  int
	result kpidomain.ReconcileResult
	err    error
}

func (f *fakeRunner) run(ctx context.Context, opts options) (kpidomain.ReconcileResult, error) {
	f.calls++
	f.opts = opts
	return f.result, f.err
}

func runCLI(t *testing.T, runner *fakeRunner, args ...string) (int, string, string) {
	t.Helper()
	cmd := newRootCmd(runner.run)
	var stdout, stderr bytes.Buffer
	cmd.SetOut(&stdout)
	cmd.SetErr(&stderr)
	code := execute(context.Background(), args, cmd)
	return code, stdout.String(), stderr.String()
}

func TestDryRunWithPeriod(t *testing.T) {
	runner := &fakeRunner{result: kpidomain.ReconcileResult{RunID: "run-1", DryRun: true, Processed: 4, Groups: 2}}

	code, stdout, _ := runCLI(t, runner, "--dry-run", "--period=2024-05", "--owner", " user-a ", "--batch-size=50")

	require.Equal(t, exitOK, code)
	assert.Equal(t, options{DryRun: true, Period: "2024-05", Owner: "user-a", BatchSize: 50, Timeout: time.Hour}, runner.opts)

	var result kpidomain.ReconcileResult
	require.NoError(t, json.Unmarshal([]byte(stdout), &result))
	assert.Equal(t, int64(4), result.Processed)
	assert.Equal(t, 2, result.Groups)
}

func TestZeroTargetsIsSuccess(t *testing.T) {
	runner := &fakeRunner{}

	code, _, _ := runCLI(t, runner)

	assert.Equal(t, exitOK, code)
	assert.Equal(t, 1, runner.calls)
}

func TestInvalidPeriodIsUsageError(t *testing.T) {
	runner := &fakeRunner{}

	code, _, stderr := runCLI(t, runner, "--period=2024-13")

	assert.Equal(t, exitUsage, code)
	assert.Zero(t, runner.calls)
	assert.Contains(t, stderr, "invalid_period_key")
}

func TestBatchSizeBounded(t *testing.T) {
	runner := &fakeRunner{}

	code, _, _ := runCLI(t, runner, "--batch-size=401")

	assert.Equal(t, exitUsage, code)
	assert.Zero(t, runner.calls)
}

func TestUnknownFlagIsUsageError(t *testing.T) {
	code, _, _ := runCLI(t, &fakeRunner{}, "--bogus")
	assert.Equal(t, exitUsage, code)
}

func TestIOErrorExitsNonZero(t *testing.T) {
	runner := &fakeRunner{err: kpidomain.Transient("scan events", errors.New("connection refused"))}

	code, _, stderr := runCLI(t, runner)

	assert.Equal(t, exitError, code)
	assert.Contains(t, stderr, "connection refused")
}

func TestBatchFailureReportsCommitted(t *testing.T) {
	runner := &fakeRunner{err: &kpidomain.BatchCommitError{Committed: 400, Err: errors.New("deadlock")}}

	code, _, stderr := runCLI(t, runner)

	assert.Equal(t, exitError, code)
	assert.Contains(t, stderr, "backfill stopped after 400 committed summaries")
}

func TestEnvironmentStandsInForFlags(t *testing.T) {
	t.Setenv("SIGNAL_BACKFILL_DRY_RUN", "true")
	t.Setenv("SIGNAL_BACKFILL_PERIOD", "2024-02")
	runner := &fakeRunner{}

	code, _, _ := runCLI(t, runner)

	require.Equal(t, exitOK, code)
	assert.True(t, runner.opts.DryRun)
	assert.Equal(t, "2024-02", runner.opts.Period)
}

func TestTimeoutAppliedToContext(t *testing.T) {
	var deadline time.Time
	var ok bool
	cmd := newRootCmd(func(ctx context.Context, opts options) (kpidomain.ReconcileResult, error) {
		deadline, ok = ctx.Deadline()
		return kpidomain.ReconcileResult{}, nil
	})
	cmd.SetOut(&bytes.Buffer{})

	code := execute(context.Background(), []string{"--timeout=5m"}, cmd)

	require.Equal(t, exitOK, code)
	require.True(t, ok)
	assert.WithinDuration(t, time.Now().Add(5*time.Minute), deadline, time.Minute)
}
