package humangate

import (
	"context"
	"fmt"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

// DefaultSweepSchedule runs the expiry sweep every five minutes.
const DefaultSweepSchedule = "@every 5m"

// SweepHook runs after each expiry sweep and reports how many records it
// settled.
type SweepHook func(ctx context.Context) (int, error)

// Sweeper periodically expires overdue workflows.
type Sweeper struct {
	svc    Service
	hooks  []SweepHook
	cron   *cron.Cron
	entry  cron.EntryID
	logger *zap.Logger
}

// NewSweeper schedules CleanupExpired on schedule (standard cron spec or
// @every descriptor), followed by hooks in order. An empty schedule uses
// DefaultSweepSchedule.
func NewSweeper(svc Service, schedule string, logger *zap.Logger, hooks ...SweepHook) (*Sweeper, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if schedule == "" {
		schedule = DefaultSweepSchedule
	}

	s := &Sweeper{
		svc:    svc,
		hooks:  hooks,
		cron:   cron.New(),
		logger: logger,
	}
	id, err := s.cron.AddFunc(schedule, func() {
		if _, err := s.RunOnce(context.Background()); err != nil {
			s.logger.Error("expiry sweep failed", zap.Error(err))
		}
	})
	if err != nil {
		return nil, fmt.Errorf("invalid sweep schedule %q: %w", schedule, err)
	}
	s.entry = id
	return s, nil
}

// Start runs the schedule in the background.
func (s *Sweeper) Start() {
	s.cron.Start()
	s.logger.Info("expiry sweeper started", zap.Time("next_run", s.cron.Entry(s.entry).Next))
}

// Stop halts the schedule and waits for a running sweep or ctx.
func (s *Sweeper) Stop(ctx context.Context) {
	done := s.cron.Stop()
	select {
	case <-done.Done():
	case <-ctx.Done():
	}
}

// RunOnce performs one sweep immediately and returns the number of
// workflows it expired. Hooks run even when none expired, so records left
// behind by an earlier sweep are still settled.
func (s *Sweeper) RunOnce(ctx context.Context) (int, error) {
	n, err := s.svc.CleanupExpired(ctx)
	if err != nil {
		return n, err
	}
	settled := 0
	for _, hook := range s.hooks {
		m, err := hook(ctx)
		settled += m
		if err != nil {
			return n, fmt.Errorf("sweep hook: %w", err)
		}
	}
	s.logger.Debug("expiry sweep complete", zap.Int("expired", n), zap.Int("settled", settled))
	return n, nil
}
