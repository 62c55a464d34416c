// Package cleanup runs the periodic sweep of expired sessions.
package cleanup

import (
	"context"
	"time"

	"github.com/aethra/reportdesk/internal/metrics"
	"go.uber.org/zap"
)

// Sweeper deletes rows that expired before now.
type Sweeper interface {
	DeleteExpired(ctx context.Context, now time.Time) (int64, error)
}

// Service runs a Sweeper on an interval.
type Service struct {
	sweeper  Sweeper
	interval time.Duration
	metrics  *metrics.Metrics
	log      *zap.Logger
	now      func() time.Time
}

// New creates a cleanup service. A non-positive interval defaults to 15 minutes.
func New(sweeper Sweeper, interval time.Duration, m *metrics.Metrics, log *zap.Logger) *Service {
	if interval <= 0 {
		interval = 15 * time.Minute
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Service{sweeper: sweeper, interval: interval, metrics: m, log: log, now: time.Now}
}

// RunOnce performs a single sweep and returns the number of deleted rows.
func (s *Service) RunOnce(ctx context.Context) (int64, error) {
	n, err := s.sweeper.DeleteExpired(ctx, s.now())
	if err != nil {
		s.log.Error("expired session cleanup failed", zap.Error(err))
		return 0, err
	}
	s.metrics.RowsCleaned(n)
	if n > 0 {
		s.log.Info("deleted expired sessions", zap.Int64("count", n))
	}
	return n, nil
}

// Run sweeps once immediately and then on every tick until ctx is done.
func (s *Service) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	s.log.Info("cleanup started", zap.Duration("interval", s.interval))
	_, _ = s.RunOnce(ctx)

	for {
		select {
		case <-ticker.C:
			_, _ = s.RunOnce(ctx)
		case <-ctx.Done():
			s.log.Info("cleanup stopped")
			return
		}
	}
}
