package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kilnworks/imagekiln/internal/kilnerr"
)

func TestDefaultPolicy(t *testing.T) {
	p := DefaultPolicy()
	assert.Equal(t, BackoffExponential, p.Mode)
	assert.Equal(t, 500*time.Millisecond, p.Initial)
	assert.Equal(t, 10*time.Second, p.Max)
	assert.Equal(t, 2, p.MaxRetries)
}

func TestNewPolicyClampsInitialToMax(t *testing.T) {
	p := NewPolicy(BackoffFixed, 5*time.Second, 2*time.Second, 5)
	assert.Equal(t, 2*time.Second, p.Initial)
	assert.Equal(t, 2*time.Second, p.Max)
	assert.Equal(t, BackoffFixed, p.Mode)
	assert.Equal(t, 5, p.MaxRetries)
}

func TestNewPolicyIgnoresUnknownMode(t *testing.T) {
	p := NewPolicy("quadratic", 0, 0, -1)
	assert.Equal(t, DefaultPolicy(), p)
}

func TestDelayModes(t *testing.T) {
	fixed := NewPolicy(BackoffFixed, 100*time.Millisecond, 500*time.Millisecond, 3)
	for i := 1; i <= 3; i++ {
		assert.Equal(t, 100*time.Millisecond, fixed.Delay(i))
	}

	linear := NewPolicy(BackoffLinear, 100*time.Millisecond, 250*time.Millisecond, 5)
	assert.Equal(t, 100*time.Millisecond, linear.Delay(1))
	assert.Equal(t, 200*time.Millisecond, linear.Delay(2))
	assert.Equal(t, 250*time.Millisecond, linear.Delay(3), "linear growth is capped")

	exp := NewPolicy(BackoffExponential, 100*time.Millisecond, 350*time.Millisecond, 5)
	assert.Equal(t, 100*time.Millisecond, exp.Delay(1))
	assert.Equal(t, 200*time.Millisecond, exp.Delay(2))
	assert.Equal(t, 350*time.Millisecond, exp.Delay(3), "exponential growth is capped")

	assert.Zero(t, exp.Delay(0))
}

func TestValidate(t *testing.T) {
	require.NoError(t, DefaultPolicy().Validate())
	assert.Error(t, Policy{Initial: 0, Max: time.Second}.Validate())
	assert.Error(t, Policy{Initial: time.Second, Max: 0}.Validate())
	assert.Error(t, Policy{Initial: time.Second, Max: time.Second, MaxRetries: -1}.Validate())
}

func TestDoRetriesUntilSuccess(t *testing.T) {
	p := NewPolicy(BackoffFixed, time.Millisecond, time.Millisecond, 3)
	attempts := 0
	err := Do(context.Background(), p, func() error {
		attempts++
		if attempts < 3 {
			return errors.New("transient")
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 3, attempts)
}

func TestDoReturnsLastError(t *testing.T) {
	p := NewPolicy(BackoffFixed, time.Millisecond, time.Millisecond, 2)
	boom := errors.New("still failing")
	attempts := 0
	err := Do(context.Background(), p, func() error {
		attempts++
		return boom
	})
	assert.Equal(t, boom, err)
	assert.Equal(t, 3, attempts, "one initial attempt plus two retries")
}

func TestDoStopsOnContextCancel(t *testing.T) {
	p := NewPolicy(BackoffFixed, time.Minute, time.Minute, 5)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := Do(ctx, p, func() error { return errors.New("transient") })
	assert.True(t, kilnerr.IsInterrupted(err))
}
