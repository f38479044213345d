// pkg/lti/sweeper.go
package lti

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/edulinx/ltikit/internal/ltilog"
	"github.com/edulinx/ltikit/pkg/lti/store"
)

// Sweeper deletes expired nonce and login rows on a fixed interval.
// Deletions are best-effort: an expired nonce that survives until the
// next pass still rejects replays, it just occupies a row for longer.
type Sweeper struct {
	Store store.Sweeper
	Log   *logrus.Logger

	// Retention is how long nonce/login rows stay valid (default 15m);
	// Interval is the sweep cadence (default 5m).
	Retention time.Duration
	Interval  time.Duration
	Now       func() time.Time
}

func (s *Sweeper) retention() time.Duration {
	if s.Retention > 0 {
		return s.Retention
	}
	return 15 * time.Minute
}

func (s *Sweeper) interval() time.Duration {
	if s.Interval > 0 {
		return s.Interval
	}
	return 5 * time.Minute
}

func (s *Sweeper) now() time.Time {
	if s.Now != nil {
		return s.Now()
	}
	return time.Now().UTC()
}

// Run sweeps until ctx is cancelled. Call it in its own goroutine; it
// holds no resources that would keep the process alive once ctx ends.
func (s *Sweeper) Run(ctx context.Context) {
	t := time.NewTicker(s.interval())
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			s.SweepOnce(ctx)
		}
	}
}

// SweepOnce performs a single pass.
func (s *Sweeper) SweepOnce(ctx context.Context) {
	nonces, logins, err := s.Store.DeleteExpired(ctx, s.now().Add(-s.retention()))
	if err != nil {
		ltilog.LTI(s.Log).Warn("sweep failed: " + err.Error())
		return
	}
	if nonces > 0 || logins > 0 {
		ltilog.LTI(s.Log).WithFields(logrus.Fields{"nonces": nonces, "logins": logins}).
			Debug("swept expired rows")
	}
}
