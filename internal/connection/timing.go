package connection

import (
	"math"
	"time"
)

// Timing holds every interval the manager uses.
type Timing struct {
	MinAttemptInterval time.Duration
	MaxFailures        int
	BaseBackoff        time.Duration
	BackoffFactor      float64
	MaxBackoff         time.Duration

	ForcedDelay        time.Duration
	ForcedFailureClamp int

	Heartbeat          time.Duration
	DataCheck          time.Duration
	StalenessCheck     time.Duration
	StalenessThreshold time.Duration
	PendingTimeout     time.Duration
	RecentWindow       time.Duration
	FailureReset       time.Duration

	ResyncZonesAfter time.Duration
	ResyncLogsAfter  time.Duration
	FallLogWindow    time.Duration
}

// DefaultTiming returns the production intervals.
func DefaultTiming() Timing {
	return Timing{
		MinAttemptInterval: 5 * time.Second,
		MaxFailures:        5,
		BaseBackoff:        5 * time.Second,
		BackoffFactor:      1.5,
		MaxBackoff:         30 * time.Second,

		ForcedDelay:        time.Second,
		ForcedFailureClamp: 3,

		Heartbeat:          30 * time.Second,
		DataCheck:          20 * time.Second,
		StalenessCheck:     60 * time.Second,
		StalenessThreshold: 3 * time.Minute,
		PendingTimeout:     15 * time.Second,
		RecentWindow:       10 * time.Second,
		FailureReset:       5 * time.Minute,

		ResyncZonesAfter: 500 * time.Millisecond,
		ResyncLogsAfter:  1500 * time.Millisecond,
		FallLogWindow:    24 * time.Hour,
	}
}

// Backoff returns the retry delay after a failure, given the number of
// consecutive failures that preceded it.
func (t Timing) Backoff(failures int) time.Duration {
	if failures < 0 {
		failures = 0
	}
	d := float64(t.BaseBackoff) * math.Pow(t.BackoffFactor, float64(failures))
	if d > float64(t.MaxBackoff) || math.IsInf(d, 1) {
		return t.MaxBackoff
	}
	return time.Duration(d)
}

// withDefaults fills zero fields from DefaultTiming.
func (t Timing) withDefaults() Timing {
	def := DefaultTiming()
	durations := []struct {
		dst *time.Duration
		def time.Duration
	}{
		{&t.MinAttemptInterval, def.MinAttemptInterval},
		{&t.BaseBackoff, def.BaseBackoff},
		{&t.MaxBackoff, def.MaxBackoff},
		{&t.ForcedDelay, def.ForcedDelay},
		{&t.Heartbeat, def.Heartbeat},
		{&t.DataCheck, def.DataCheck},
		{&t.StalenessCheck, def.StalenessCheck},
		{&t.StalenessThreshold, def.StalenessThreshold},
		{&t.PendingTimeout, def.PendingTimeout},
		{&t.RecentWindow, def.RecentWindow},
		{&t.FailureReset, def.FailureReset},
		{&t.ResyncZonesAfter, def.ResyncZonesAfter},
		{&t.ResyncLogsAfter, def.ResyncLogsAfter},
		{&t.FallLogWindow, def.FallLogWindow},
	}
	for _, d := range durations {
		if *d.dst <= 0 {
			*d.dst = d.def
		}
	}
	if t.MaxFailures <= 0 {
		t.MaxFailures = def.MaxFailures
	}
	if t.BackoffFactor < 1 {
		t.BackoffFactor = def.BackoffFactor
	}
	if t.ForcedFailureClamp <= 0 {
		t.ForcedFailureClamp = def.ForcedFailureClamp
	}
	return t
}
