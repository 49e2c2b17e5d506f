package connection

import (
	mathrand "math/rand"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRetryDelayStaysWithinJitterWindow(t *testing.T) {
	policy := RetryPolicy{
		BaseDelay: 100 * time.Millisecond,
		MaxDelay:  time.Second,
		Rand:      mathrand.New(mathrand.NewSource(1)),
	}

	for attempt := 0; attempt < 10; attempt++ {
		ceiling := policy.BaseDelay << attempt
		if ceiling <= 0 || ceiling > policy.MaxDelay {
			ceiling = policy.MaxDelay
		}
		for i := 0; i < 50; i++ {
			d := policy.retryDelay(attempt)
			assert.GreaterOrEqual(t, d, policy.BaseDelay/2, "attempt %d", attempt)
			assert.LessOrEqual(t, d, ceiling, "attempt %d", attempt)
		}
	}
}

func TestRetryDelayGrowthIsCappedAtMaxDelay(t *testing.T) {
	policy := RetryPolicy{
		BaseDelay: 100 * time.Millisecond,
		MaxDelay:  time.Second,
		Rand:      mathrand.New(mathrand.NewSource(7)),
	}
	for i := 0; i < 50; i++ {
		assert.LessOrEqual(t, policy.retryDelay(40), time.Second)
	}
}

func TestRetryDelayUsesDefaultsForZeroPolicy(t *testing.T) {
	policy := RetryPolicy{Rand: mathrand.New(mathrand.NewSource(3))}
	d := policy.retryDelay(0)
	assert.GreaterOrEqual(t, d, defaultRetryBaseDelay/2)
	assert.LessOrEqual(t, d, defaultRetryBaseDelay)
}

func TestRetryAfterDuration(t *testing.T) {
	now := time.Date(2026, 2, 1, 10, 0, 0, 0, time.UTC)

	d, ok := retryAfterDuration("30", now)
	require.True(t, ok)
	assert.Equal(t, 30*time.Second, d)

	_, ok = retryAfterDuration("0", now)
	assert.False(t, ok)
	_, ok = retryAfterDuration("-5", now)
	assert.False(t, ok)
	_, ok = retryAfterDuration("", now)
	assert.False(t, ok)
	_, ok = retryAfterDuration("soonish", now)
	assert.False(t, ok)

	future := now.Add(90 * time.Second).Format(http.TimeFormat)
	d, ok = retryAfterDuration(future, now)
	require.True(t, ok)
	assert.Equal(t, 90*time.Second, d)

	past := now.Add(-time.Minute).Format(http.TimeFormat)
	_, ok = retryAfterDuration(past, now)
	assert.False(t, ok)
}
