package services

import (
	"context"
	"log/slog"
	"time"

	"github.com/ngenohkevin/circulation/internal/config"
	"github.com/ngenohkevin/circulation/internal/models"
)

// LendingEngine composes the copy registry, borrowing ledger and reservation
// queue behind the circulation entry points. Conflicts from the registry's
// compare-and-set are recoverable: the engine re-reads current state and
// retries the whole operation a bounded number of times. Every other failure
// propagates unchanged.
type LendingEngine struct {
	registry     *CopyRegistry
	ledger       *BorrowingLedger
	reservations *ReservationService
	policy       config.Policy
	logger       *slog.Logger
}

// NewLendingEngine creates a new lending engine.
func NewLendingEngine(registry *CopyRegistry, ledger *BorrowingLedger, reservations *ReservationService, policy config.Policy, logger *slog.Logger) *LendingEngine {
	return &LendingEngine{
		registry:     registry,
		ledger:       ledger,
		reservations: reservations,
		policy:       policy,
		logger:       logger,
	}
}

// Borrow allocates a copy to a member. Eligibility predicates run before the
// allocation is attempted so ineligible requests never touch the copy state.
func (e *LendingEngine) Borrow(ctx context.Context, req models.BorrowRequest) (*models.Borrowing, error) {
	if req.CopyID == "" || req.MemberID == "" {
		return nil, models.NewInvalidInput("copy id and member id are required")
	}

	if err := e.ledger.CheckEligibility(ctx, req.MemberID); err != nil {
		return nil, err
	}

	var borrowing *models.Borrowing
	err := e.withConflictRetry(ctx, "borrow", func(ctx context.Context) error {
		var err error
		borrowing, err = e.ledger.CreateBorrowing(ctx, req.CopyID, req.MemberID, req.DueDate)
		return err
	})
	if err != nil {
		return nil, err
	}
	return borrowing, nil
}

// Return closes a loan, assesses any fine, and frees or re-attributes the
// copy.
func (e *LendingEngine) Return(ctx context.Context, req models.ReturnRequest) (*models.ReturnResult, error) {
	if req.BorrowingID == "" {
		return nil, models.NewInvalidInput("borrowing id is required")
	}

	var result *models.ReturnResult
	err := e.withConflictRetry(ctx, "return", func(ctx context.Context) error {
		var err error
		result, err = e.ledger.ReturnBook(ctx, req)
		return err
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// Renew extends an active loan's due date.
func (e *LendingEngine) Renew(ctx context.Context, borrowingID string, newDueDate time.Time) (*models.Borrowing, error) {
	if borrowingID == "" {
		return nil, models.NewInvalidInput("borrowing id is required")
	}
	return e.ledger.RenewBorrowing(ctx, borrowingID, newDueDate)
}

// Reserve enqueues demand for a book title.
func (e *LendingEngine) Reserve(ctx context.Context, req models.ReserveRequest) (*models.Reservation, error) {
	return e.reservations.Reserve(ctx, req.BookID, req.MemberID)
}

// CancelReservation cancels a pending or pickup-ready reservation.
func (e *LendingEngine) CancelReservation(ctx context.Context, reservationID string) (*models.Reservation, error) {
	if reservationID == "" {
		return nil, models.NewInvalidInput("reservation id is required")
	}
	return e.reservations.Cancel(ctx, reservationID)
}

// withConflictRetry runs op, retrying on Conflict up to the policy bound.
// Each retry re-reads current state inside op; stale writes are never
// replayed blindly.
func (e *LendingEngine) withConflictRetry(ctx context.Context, name string, op func(ctx context.Context) error) error {
	attempts := e.policy.ConflictRetries
	if attempts < 1 {
		attempts = 1
	}

	var err error
	for attempt := 1; attempt <= attempts; attempt++ {
		err = op(ctx)
		if err == nil || !models.IsKind(err, models.ErrKindConflict) {
			return err
		}
		e.logger.Warn("retrying after concurrency conflict",
			"operation", name, "attempt", attempt, "error", err)
	}
	return err
}
