package auth

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"
)

// DefaultSweepSchedule runs the expired-token sweep once a day.
const DefaultSweepSchedule = "@daily"

// sweepTimeout bounds a single scheduled sweep.
const sweepTimeout = time.Minute

// Sweeper periodically removes expired refresh-token rows. It runs on its
// own cron goroutine, independent of request handling. A failed sweep is
// logged and retried on the next tick.
type Sweeper struct {
	cron     *cron.Cron
	tokens   *TokenService
	schedule string
	logger   *slog.Logger
	onSweep  func(removed int64)
}

// NewSweeper creates a sweeper for schedule (standard cron syntax or a
// descriptor such as "@daily"). onSweep, if non-nil, is called with the
// number of rows removed by each successful sweep.
func NewSweeper(tokens *TokenService, schedule string, logger *slog.Logger, onSweep func(int64)) (*Sweeper, error) {
	if schedule == "" {
		schedule = DefaultSweepSchedule
	}
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	s := &Sweeper{
		cron:     cron.New(),
		tokens:   tokens,
		schedule: schedule,
		logger:   logger.With("component", "token-sweeper"),
		onSweep:  onSweep,
	}
	if _, err := s.cron.AddFunc(schedule, s.tick); err != nil {
		return nil, fmt.Errorf("invalid sweep schedule %q: %w", schedule, err)
	}
	return s, nil
}

// Start begins running sweeps on the schedule.
func (s *Sweeper) Start() {
	s.cron.Start()
	s.logger.Info("token sweeper started", "schedule", s.schedule)
}

// Stop halts the schedule and waits for a running sweep to finish or ctx
// to end.
func (s *Sweeper) Stop(ctx context.Context) {
	done := s.cron.Stop()
	select {
	case <-done.Done():
	case <-ctx.Done():
	}
	s.logger.Info("token sweeper stopped")
}

// RunOnce performs a sweep immediately and returns the number of rows
// removed.
func (s *Sweeper) RunOnce(ctx context.Context) (int64, error) {
	n, err := s.tokens.SweepExpired(ctx)
	if err != nil {
		return 0, err
	}
	if s.onSweep != nil {
		s.onSweep(n)
	}
	s.logger.Debug("expired tokens cleaned up", "removed", n)
	return n, nil
}

func (s *Sweeper) tick() {
	ctx, cancel := context.WithTimeout(context.Background(), sweepTimeout)
	defer cancel()

	if _, err := s.RunOnce(ctx); err != nil {
		s.logger.Warn("failed to clean up expired tokens", "error", err)
	}
}
