package services

import (
	"context"
	"log/slog"
	"time"
)

// Sweeper drives the time-based maintenance passes: flipping overdue loans
// and expiring stale pickups. Both passes are idempotent, so overlapping or
// repeated runs are harmless.
type Sweeper struct {
	ledger       *BorrowingLedger
	reservations *ReservationService
	interval     time.Duration
	logger       *slog.Logger
}

// NewSweeper creates a sweeper that runs every interval.
func NewSweeper(ledger *BorrowingLedger, reservations *ReservationService, interval time.Duration, logger *slog.Logger) *Sweeper {
	if interval <= 0 {
		interval = 15 * time.Minute
	}
	return &Sweeper{
		ledger:       ledger,
		reservations: reservations,
		interval:     interval,
		logger:       logger,
	}
}

// Run blocks, sweeping on a ticker until the context is cancelled.
func (s *Sweeper) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	s.logger.Info("sweeper started", "interval", s.interval)

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("sweeper stopped")
			return
		case <-ticker.C:
			s.SweepOnce(ctx, time.Now().UTC())
		}
	}
}

// SweepOnce runs a single maintenance pass as of the given time.
func (s *Sweeper) SweepOnce(ctx context.Context, asOf time.Time) {
	marked, err := s.ledger.MarkOverdue(ctx, asOf)
	if err != nil {
		s.logger.Error("overdue sweep failed", "error", err)
	} else if marked > 0 {
		s.logger.Info("marked borrowings overdue", "count", marked)
	}

	expired, err := s.reservations.ExpireStalePickups(ctx, asOf)
	if err != nil {
		s.logger.Error("pickup expiry sweep failed", "error", err)
	} else if expired > 0 {
		s.logger.Info("expired stale pickups", "count", expired)
	}
}
