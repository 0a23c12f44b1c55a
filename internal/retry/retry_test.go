package retry

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	kpidomain "github.com/mogcia-app/signal/internal/kpi/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fastConfig(retries int) Config {
	return Config{MaxRetries: retries, BaseDelay: time.Millisecond, MaxDelay: time.Millisecond}
}

func TestDoRetriesTransient(t *testing.T) {
	var attempts int32
	err := Do(context.Background(), fastConfig(3), func(context.Context) error {
		if atomic.AddInt32(&attempts, 1) < 3 {
			return kpidomain.Transient("save", errors.New("connection reset"))
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, int32(3), atomic.LoadInt32(&attempts))
}

func TestDoStopsOnPermanentError(t *testing.T) {
	var attempts int32
	err := Do(context.Background(), fastConfig(3), func(context.Context) error {
		atomic.AddInt32(&attempts, 1)
		return kpidomain.ErrInvalidTransition
	})
	assert.ErrorIs(t, err, kpidomain.ErrInvalidTransition)
	assert.Equal(t, int32(1), atomic.LoadInt32(&attempts))
}

func TestDoBoundsAttempts(t *testing.T) {
	var attempts int32
	err := Do(context.Background(), fastConfig(2), func(context.Context) error {
		atomic.AddInt32(&attempts, 1)
		return kpidomain.Transient("save", errors.New("timeout"))
	})
	assert.Error(t, err)
	assert.Equal(t, int32(3), atomic.LoadInt32(&attempts))
}

func TestRetryable(t *testing.T) {
	assert.False(t, Retryable(nil))
	assert.False(t, Retryable(context.Canceled))
	assert.True(t, Retryable(context.DeadlineExceeded))
	assert.True(t, Retryable(kpidomain.Transient("x", errors.New("y"))))
	assert.False(t, Retryable(kpidomain.ErrConsistencyViolation))
}
