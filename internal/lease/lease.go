// Package lease implements per-workspace admission control over live calls
// with short-lived concurrency leases.
package lease

import (
	"context"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/denkuservices/denku-mvp-sub000/internal/observer"
	"github.com/denkuservices/denku-mvp-sub000/pkg/logger"
)

// DefaultTTL bounds how long an unreleased lease holds a slot.
const DefaultTTL = 15 * time.Minute

// Reason explains a denied acquisition.
type Reason string

const (
	ReasonNone              Reason = ""
	ReasonLimitReached      Reason = "limit_reached"
	ReasonWorkspaceInactive Reason = "workspace_inactive"
	ReasonInternalError     Reason = "internal_error"
)

// Decision is the result of one Acquire.
type Decision struct {
	Granted bool
	Reason  Reason
	LeaseID string
	Live    int64
}

// Result returns the metric label for the decision.
func (d Decision) Result() string {
	if d.Granted {
		return "granted"
	}
	return string(d.Reason)
}

// Manager grants and releases concurrency leases.
//
// Acquire is idempotent per (workspace, call): acquiring again for a call
// that holds a live lease refreshes it and is granted without consuming a
// second slot. Release of a missing lease is a no-op.
type Manager interface {
	Acquire(ctx context.Context, workspaceID, agentID, callID string, ttl time.Duration) (Decision, error)
	Release(ctx context.Context, workspaceID, callID string) error
	SweepExpired(ctx context.Context) (int, error)
	Backend() string
}

func effectiveTTL(ttl time.Duration) time.Duration {
	if ttl <= 0 {
		return DefaultTTL
	}
	return ttl
}

// Sweeper runs SweepExpired at most once per interval per process.
type Sweeper struct {
	manager  Manager
	interval time.Duration
	last     atomic.Int64 // unix nanos of the last sweep start
	now      func() time.Time
}

func NewSweeper(manager Manager, interval time.Duration) *Sweeper {
	return &Sweeper{manager: manager, interval: interval, now: time.Now}
}

// MaybeSweep sweeps if the interval has elapsed since the last sweep. ran
// reports whether this call performed the sweep.
func (s *Sweeper) MaybeSweep(ctx context.Context) (n int, ran bool, err error) {
	now := s.now().UnixNano()
	last := s.last.Load()
	if last != 0 && now-last < s.interval.Nanoseconds() {
		return 0, false, nil
	}
	if !s.last.CompareAndSwap(last, now) {
		return 0, false, nil
	}

	n, err = s.manager.SweepExpired(ctx)
	if err != nil {
		return 0, true, err
	}
	if n > 0 {
		observer.AddLeasesSwept(s.manager.Backend(), n)
		logger.FromContext(ctx).Info("Released expired leases",
			zap.Int("count", n),
			zap.String("backend", s.manager.Backend()),
		)
	}
	return n, true, nil
}
