package gateway

import (
	"context"
	"sync"
	"time"

	"github.com/beevik/ntp"

	"github.com/Long0307/LoRa-GW-SV/internal/check"
)

const (
	defaultNTPPool      = "pool.ntp.org"
	defaultNTPInterval  = 60 * time.Second
	defaultNTPThreshold = 500 * time.Millisecond
)

// Clock abstracts time.Now for the checker's CheckedAt stamp, the same
// seam internal/mac/phase.Clock uses for deterministic tests.
type Clock interface {
	Now() time.Time
}

// RealClock implements Clock using the system clock.
type RealClock struct{}

func (RealClock) Now() time.Time { return time.Now() }

// NTPStatus reports the core's own clock health against an external NTP
// pool, independent of the per-gateway TIMESYNC_REQ/RES exchange this
// package also answers — the core checking itself the way a gateway
// checks itself.
type NTPStatus struct {
	Offset    time.Duration
	Healthy   bool
	Error     string
	CheckedAt time.Time
}

// NTPChecker periodically queries an NTP pool and reports whether the
// core's clock is within threshold. This is an addition beyond the wire
// protocol in §6: an operator running the absolute-deadline pacing from
// §4.5 wants some signal the host clock hasn't drifted.
type NTPChecker struct {
	mu        sync.RWMutex
	status    NTPStatus
	pool      string
	interval  time.Duration
	threshold time.Duration
	clock     Clock

	// CheckFunc overrides real NTP queries for testing.
	CheckFunc func() NTPStatus
}

// NewNTPChecker constructs a checker against the default NTP pool.
func NewNTPChecker(clock Clock) *NTPChecker {
	check.Assert(clock != nil, "NewNTPChecker: clock must not be nil")
	return &NTPChecker{
		pool:      defaultNTPPool,
		interval:  defaultNTPInterval,
		threshold: defaultNTPThreshold,
		clock:     clock,
	}
}

// Run checks once immediately, then on every tick until ctx is cancelled.
func (n *NTPChecker) Run(ctx context.Context) {
	n.check()

	ticker := time.NewTicker(n.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n.check()
		}
	}
}

func (n *NTPChecker) check() {
	if n.CheckFunc != nil {
		n.mu.Lock()
		n.status = n.CheckFunc()
		n.mu.Unlock()
		return
	}

	resp, err := ntp.Query(n.pool)

	n.mu.Lock()
	defer n.mu.Unlock()

	now := n.clock.Now()
	if err != nil {
		n.status = NTPStatus{Error: err.Error(), Healthy: false, CheckedAt: now}
		return
	}

	n.status = NTPStatus{
		Offset:    resp.ClockOffset,
		Healthy:   resp.ClockOffset.Abs() < n.threshold,
		CheckedAt: now,
	}
}

// Status returns the most recently computed NTP status.
func (n *NTPChecker) Status() NTPStatus {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return n.status
}
