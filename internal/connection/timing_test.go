package connection

import (
	"testing"
	"time"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/stretchr/testify/assert"
)

func TestBackoffValues(t *testing.T) {
	tm := DefaultTiming()
	assert.Equal(t, 5*time.Second, tm.Backoff(0))
	assert.Equal(t, 7500*time.Millisecond, tm.Backoff(1))
	assert.Equal(t, 30*time.Second, tm.Backoff(5))
	assert.Equal(t, 30*time.Second, tm.Backoff(1000))
	assert.Equal(t, 5*time.Second, tm.Backoff(-1))
}

func TestPropertyBackoffMonotonicAndCapped(t *testing.T) {
	props := gopter.NewProperties(gopter.DefaultTestParameters())
	tm := DefaultTiming()

	props.Property("backoff never decreases and never exceeds the cap", prop.ForAll(
		func(n int) bool {
			a, b := tm.Backoff(n), tm.Backoff(n+1)
			return a <= b && b <= tm.MaxBackoff && a >= tm.BaseBackoff
		},
		gen.IntRange(0, 200),
	))

	props.TestingRun(t)
}

func TestWithDefaults(t *testing.T) {
	tm := Timing{Heartbeat: time.Second}.withDefaults()
	assert.Equal(t, time.Second, tm.Heartbeat)
	assert.Equal(t, DefaultTiming().StalenessThreshold, tm.StalenessThreshold)
	assert.Equal(t, 5, tm.MaxFailures)
	assert.Equal(t, 1.5, tm.BackoffFactor)
}
