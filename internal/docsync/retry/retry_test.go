package retry

import (
	"context"
	"errors"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// noSleep records requested delays instead of waiting.
func noSleep(delays *[]time.Duration) func(ctx context.Context, d time.Duration) error {
	return func(ctx context.Context, d time.Duration) error {
		*delays = append(*delays, d)
		return ctx.Err()
	}
}

func TestNextDelay_Exponential(t *testing.T) {
	p := Policy{BaseDelay: time.Second, Factor: 2, MaxDelay: 10 * time.Second}

	tests := []struct {
		attempt int
		want    time.Duration
	}{
		{0, time.Second},
		{1, time.Second},
		{2, 2 * time.Second},
		{3, 4 * time.Second},
		{4, 8 * time.Second},
		{5, 10 * time.Second},
		{50, 10 * time.Second},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, p.NextDelay(tt.attempt), "attempt %d", tt.attempt)
	}
}

func TestNextDelay_Jitter(t *testing.T) {
	p := Policy{BaseDelay: time.Second, Factor: 2, MaxDelay: time.Minute, Jitter: 0.5}

	p.Rand = func() float64 { return 0 }
	assert.Equal(t, 500*time.Millisecond, p.NextDelay(1))

	p.Rand = func() float64 { return 0.5 }
	assert.Equal(t, time.Second, p.NextDelay(1))

	p.Rand = func() float64 { return 0.75 }
	assert.Equal(t, 1250*time.Millisecond, p.NextDelay(1))
}

func TestNextDelay_JitterBounds(t *testing.T) {
	p := DefaultPolicy()
	for i := 0; i < 1000; i++ {
		d := p.NextDelay(2)
		assert.GreaterOrEqual(t, d, 1600*time.Millisecond)
		assert.LessOrEqual(t, d, 2400*time.Millisecond)
	}
}

func TestNextDelay_FactorBelowOne(t *testing.T) {
	p := Policy{BaseDelay: time.Second, Factor: 0.5}
	assert.Equal(t, time.Second, p.NextDelay(3))
}

func TestDo_SucceedsAfterTransient(t *testing.T) {
	var delays []time.Duration
	p := Policy{MaxAttempts: 3, BaseDelay: time.Second, Factor: 2, Sleep: noSleep(&delays)}

	calls := 0
	var notified []int
	err := Do(context.Background(), p, func(attempt int, err error, d time.Duration) {
		notified = append(notified, attempt)
	}, func(ctx context.Context) error {
		calls++
		if calls < 3 {
			return Transient(errors.New("flaky"))
		}
		return nil
	})

	require.NoError(t, err)
	assert.Equal(t, 3, calls)
	assert.Equal(t, []time.Duration{time.Second, 2 * time.Second}, delays)
	assert.Equal(t, []int{1, 2}, notified)
}

func TestDo_TerminalNotRetried(t *testing.T) {
	var delays []time.Duration
	p := Policy{MaxAttempts: 5, BaseDelay: time.Second, Sleep: noSleep(&delays)}

	terminal := errors.New("quota exhausted")
	calls := 0
	err := Do(context.Background(), p, nil, func(ctx context.Context) error {
		calls++
		return terminal
	})

	assert.Same(t, terminal, err)
	assert.Equal(t, 1, calls)
	assert.Empty(t, delays)
}

func TestDo_Exhausted(t *testing.T) {
	var delays []time.Duration
	p := Policy{MaxAttempts: 3, BaseDelay: time.Millisecond, Sleep: noSleep(&delays)}

	cause := errors.New("still down")
	calls := 0
	err := Do(context.Background(), p, nil, func(ctx context.Context) error {
		calls++
		return Transient(cause)
	})

	var exhausted *ExhaustedError
	require.ErrorAs(t, err, &exhausted)
	assert.Equal(t, 3, exhausted.Attempts)
	assert.ErrorIs(t, err, cause)
	assert.Equal(t, 3, calls)
	assert.Len(t, delays, 2)
}

func TestDo_CancelledDuringBackoff(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	p := Policy{MaxAttempts: 3, BaseDelay: time.Hour}

	calls := 0
	errCh := make(chan error, 1)
	go func() {
		errCh <- Do(ctx, p, nil, func(ctx context.Context) error {
			calls++
			return Transient(errors.New("flaky"))
		})
	}()

	time.Sleep(20 * time.Millisecond)
	cancel()

	select {
	case err := <-errCh:
		assert.ErrorIs(t, err, context.Canceled)
		assert.Equal(t, 1, calls)
	case <-time.After(2 * time.Second):
		t.Fatal("Do did not observe cancellation")
	}
}

type timeoutErr struct{}

func (timeoutErr) Error() string   { return "i/o timeout" }
func (timeoutErr) Timeout() bool   { return true }
func (timeoutErr) Temporary() bool { return true }

var _ net.Error = timeoutErr{}

func TestIsTransient(t *testing.T) {
	assert.False(t, IsTransient(nil))
	assert.False(t, IsTransient(errors.New("plain")))
	assert.True(t, IsTransient(Transient(errors.New("x"))))
	assert.True(t, IsTransient(timeoutErr{}))
	assert.False(t, IsTransient(Transient(context.Canceled)))
	assert.Nil(t, Transient(nil))
}
