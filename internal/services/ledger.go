package services

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/ngenohkevin/circulation/internal/config"
	"github.com/ngenohkevin/circulation/internal/database"
	"github.com/ngenohkevin/circulation/internal/models"
)

// BorrowingStore defines the interface for borrowing, fine and member
// persistence operations.
type BorrowingStore interface {
	CreateBorrowing(ctx context.Context, borrowing models.Borrowing) (models.Borrowing, error)
	GetBorrowing(ctx context.Context, id string) (models.Borrowing, error)
	UpdateBorrowing(ctx context.Context, borrowing models.Borrowing) (models.Borrowing, error)
	DeleteBorrowing(ctx context.Context, id string) error
	ListOpenBorrowingsByMember(ctx context.Context, memberID string) ([]models.Borrowing, error)
	GetOpenBorrowingByCopy(ctx context.Context, copyID string) (models.Borrowing, error)
	ListActiveDueBefore(ctx context.Context, asOf time.Time) ([]models.Borrowing, error)
	ListOverdueBorrowings(ctx context.Context) ([]models.Borrowing, error)

	CreateFine(ctx context.Context, fine models.Fine) (models.Fine, error)
	GetFine(ctx context.Context, id string) (models.Fine, error)
	UpdateFine(ctx context.Context, fine models.Fine) (models.Fine, error)
	DeleteFine(ctx context.Context, id string) error
	GetPendingFineByBorrowing(ctx context.Context, borrowingID string) (models.Fine, error)
	SumPendingFinesByMember(ctx context.Context, memberID string) (decimal.Decimal, error)

	GetMember(ctx context.Context, memberID string) (models.Member, error)
}

// BorrowingLedger owns the loan lifecycle: create, renew, return, delete,
// and the periodic overdue sweep. It is the only component that writes
// Borrowing and Fine records; copy status changes route through the copy
// registry, reservation promotion through the reservation queue.
type BorrowingLedger struct {
	store        BorrowingStore
	registry     *CopyRegistry
	reservations *ReservationService
	events       EventPublisher
	policy       config.Policy
	logger       *slog.Logger
}

// NewBorrowingLedger creates a new borrowing ledger.
func NewBorrowingLedger(store BorrowingStore, registry *CopyRegistry, reservations *ReservationService, events EventPublisher, policy config.Policy, logger *slog.Logger) *BorrowingLedger {
	return &BorrowingLedger{
		store:        store,
		registry:     registry,
		reservations: reservations,
		events:       events,
		policy:       policy,
		logger:       logger,
	}
}

// CheckEligibility runs the member-level lending predicates without touching
// any copy state: active account, borrowing limit, outstanding fines. The
// orchestrator calls this before attempting allocation so ineligible
// requests never cost a copy transition.
func (l *BorrowingLedger) CheckEligibility(ctx context.Context, memberID string) error {
	member, err := l.store.GetMember(ctx, memberID)
	if err != nil {
		if errors.Is(err, database.ErrNotFound) {
			return models.NewNotFound("member %s not found", memberID)
		}
		return models.NewUnavailable("failed to get member: %v", err)
	}

	if !member.IsActive {
		return models.NewRuleViolation(models.RuleUserNotEligible, "member %s is not active", memberID)
	}

	open, err := l.store.ListOpenBorrowingsByMember(ctx, memberID)
	if err != nil {
		return models.NewUnavailable("failed to check open borrowings: %v", err)
	}
	if len(open) >= l.policy.MaxBorrowings {
		return models.NewRuleViolation(models.RuleBorrowingLimitExceeded,
			"member %s has reached the maximum number of borrowings (%d)", memberID, l.policy.MaxBorrowings)
	}

	unpaid, err := l.store.SumPendingFinesByMember(ctx, memberID)
	if err != nil {
		return models.NewUnavailable("failed to check outstanding fines: %v", err)
	}
	if unpaid.GreaterThan(l.policy.OutstandingFineLimit) {
		return models.NewRuleViolation(models.RuleOutstandingFines,
			"member %s owes %s in fines (limit %s)", memberID, unpaid.StringFixed(2), l.policy.OutstandingFineLimit.StringFixed(2))
	}

	return nil
}

// CreateBorrowing allocates a copy to a member and records the loan. The
// copy must be AVAILABLE, or RESERVED with a pickup-ready reservation held
// by this member. The copy transition runs first; if the ledger write fails
// afterwards the transition is rolled back, so a Conflict from a racing
// borrower leaves no partial state.
func (l *BorrowingLedger) CreateBorrowing(ctx context.Context, copyID, memberID string, requestedDueDate *time.Time) (*models.Borrowing, error) {
	if copyID == "" || memberID == "" {
		return nil, models.NewInvalidInput("copy id and member id are required")
	}

	if err := l.CheckEligibility(ctx, memberID); err != nil {
		return nil, err
	}

	bookCopy, err := l.registry.GetCopy(ctx, copyID)
	if err != nil {
		return nil, err
	}

	// Duplicate-loan guard: one copy of a title per member.
	open, err := l.store.ListOpenBorrowingsByMember(ctx, memberID)
	if err != nil {
		return nil, models.NewUnavailable("failed to check open borrowings: %v", err)
	}
	for _, existing := range open {
		other, err := l.registry.GetCopy(ctx, existing.CopyID)
		if err != nil {
			return nil, err
		}
		if other.BookID == bookCopy.BookID {
			return nil, models.NewRuleViolation(models.RuleAlreadyBorrowed,
				"member %s already has a copy of book %s borrowed", memberID, bookCopy.BookID)
		}
	}

	now := time.Now().UTC()
	dueDate := now.Add(l.policy.LoanPeriod)
	if requestedDueDate != nil {
		if !requestedDueDate.After(now) {
			return nil, models.NewRuleViolation(models.RuleInvalidDueDate,
				"requested due date %s is not after the borrow date", requestedDueDate.Format(time.RFC3339))
		}
		dueDate = requestedDueDate.UTC()
	}

	// A pickup of a reserved copy is only valid for the member the
	// reservation was promoted for.
	var heldReservation *models.Reservation
	switch bookCopy.Status {
	case models.CopyStatusAvailable:
	case models.CopyStatusReserved:
		heldReservation, err = l.reservations.GetReadyByCopy(ctx, copyID)
		if err != nil {
			return nil, err
		}
		if heldReservation == nil || heldReservation.MemberID != memberID {
			return nil, models.NewRuleViolation(models.RuleBookNotAvailable,
				"copy %s is reserved for another member", copyID)
		}
	default:
		return nil, models.NewRuleViolation(models.RuleBookNotAvailable,
			"copy %s is not available (status %s)", copyID, bookCopy.Status)
	}

	allocated, err := l.registry.TryTransition(ctx, copyID, bookCopy.Status, models.CopyStatusBorrowed, bookCopy.Version)
	if err != nil {
		return nil, err
	}

	borrowing := models.Borrowing{
		ID:         uuid.NewString(),
		CopyID:     copyID,
		MemberID:   memberID,
		BorrowDate: now,
		DueDate:    dueDate,
		Status:     models.BorrowingStatusActive,
		FineAmount: decimal.Zero,
		CreatedAt:  now,
		UpdatedAt:  now,
	}

	created, err := l.store.CreateBorrowing(ctx, borrowing)
	if err != nil {
		// Copy-first, ledger-second: undo the allocation so a failed
		// ledger write leaves no partial state. A pickup allocation goes
		// back to RESERVED so the hold stays attributed.
		if rbErr := l.registry.revertTransition(ctx, copyID, models.CopyStatusBorrowed, bookCopy.Status, allocated.Version); rbErr != nil {
			l.logger.Error("failed to roll back copy allocation", "copy_id", copyID, "error", rbErr)
		}
		return nil, models.NewUnavailable("failed to create borrowing: %v", err)
	}

	if heldReservation != nil {
		if _, err := l.reservations.MarkFulfilled(ctx, heldReservation.ID); err != nil {
			l.logger.Error("failed to mark reservation fulfilled", "reservation_id", heldReservation.ID, "error", err)
		}
	}

	l.publishBorrowingCreated(ctx, created)

	return &created, nil
}

// ReturnBook closes a loan, assesses any late fine, and hands the copy back
// to the pool or to the next reservation in the book's queue.
func (l *BorrowingLedger) ReturnBook(ctx context.Context, req models.ReturnRequest) (*models.ReturnResult, error) {
	borrowing, err := l.getBorrowing(ctx, req.BorrowingID)
	if err != nil {
		return nil, err
	}

	switch borrowing.Status {
	case models.BorrowingStatusReturned:
		return nil, models.NewRuleViolation(models.RuleAlreadyReturned, "borrowing %s is already returned", borrowing.ID)
	case models.BorrowingStatusLost:
		return nil, models.NewRuleViolation(models.RuleInvalidStatus, "borrowing %s is marked lost", borrowing.ID)
	}

	bookCopy, err := l.registry.GetCopy(ctx, borrowing.CopyID)
	if err != nil {
		return nil, err
	}

	// Decide where the copy goes: a damage report routes it to DAMAGED,
	// otherwise the reservation queue decides between RESERVED and
	// AVAILABLE.
	target := models.CopyStatusAvailable
	if req.Damaged {
		target = models.CopyStatusDamaged
	} else {
		waiting, err := l.reservations.HasPending(ctx, bookCopy.BookID)
		if err != nil {
			return nil, err
		}
		if waiting {
			target = models.CopyStatusReserved
		}
	}

	released, err := l.registry.TryTransition(ctx, bookCopy.ID, models.CopyStatusBorrowed, target, bookCopy.Version)
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	returnDate := now
	borrowing.ReturnDate = &returnDate
	borrowing.Status = models.BorrowingStatusReturned
	borrowing.UpdatedAt = now

	var fine *models.Fine
	amount := CalculateFine(borrowing.DueDate, returnDate, l.policy)
	if amount.GreaterThan(decimal.Zero) {
		created, err := l.store.CreateFine(ctx, models.Fine{
			ID:          uuid.NewString(),
			BorrowingID: borrowing.ID,
			Amount:      amount,
			Status:      models.FineStatusPending,
			CreatedAt:   now,
			UpdatedAt:   now,
		})
		if err != nil {
			l.revertReturn(ctx, bookCopy.ID, target, released.Version, nil)
			return nil, models.NewUnavailable("failed to record fine: %v", err)
		}
		fine = &created
		borrowing.FineAmount = amount
	}

	updated, err := l.store.UpdateBorrowing(ctx, *borrowing)
	if err != nil {
		l.revertReturn(ctx, bookCopy.ID, target, released.Version, fine)
		return nil, models.NewUnavailable("failed to update borrowing: %v", err)
	}

	if target == models.CopyStatusReserved {
		promoted, err := l.reservations.PromoteNext(ctx, bookCopy.BookID, bookCopy.ID)
		if err != nil {
			l.logger.Error("failed to promote reservation after return",
				"book_id", bookCopy.BookID, "copy_id", bookCopy.ID, "error", err)
		} else if promoted == nil {
			// The queue drained between the pending check and the
			// promotion (concurrent cancel); hand the copy back to the
			// pool.
			l.releaseUnclaimedCopy(ctx, bookCopy.ID)
		}
	}

	l.publishBorrowingReturned(ctx, updated, fine)

	return &models.ReturnResult{Borrowing: &updated, Fine: fine}, nil
}

// RenewBorrowing extends an active loan. Overdue loans cannot be renewed,
// the renewal count is bounded by policy, and the new due date must extend
// the current one.
func (l *BorrowingLedger) RenewBorrowing(ctx context.Context, borrowingID string, newDueDate time.Time) (*models.Borrowing, error) {
	if newDueDate.IsZero() {
		return nil, models.NewInvalidInput("new due date is required")
	}

	borrowing, err := l.getBorrowing(ctx, borrowingID)
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()

	if now.After(borrowing.DueDate) {
		return nil, models.NewRuleViolation(models.RuleCannotRenewOverdue, "borrowing %s is overdue", borrowingID)
	}
	if borrowing.Status != models.BorrowingStatusActive {
		return nil, models.NewRuleViolation(models.RuleInvalidStatus,
			"borrowing %s cannot be renewed from status %s", borrowingID, borrowing.Status)
	}
	if borrowing.RenewalCount >= l.policy.MaxRenewals {
		return nil, models.NewRuleViolation(models.RuleRenewalLimitExceeded,
			"borrowing %s has reached the renewal limit (%d)", borrowingID, l.policy.MaxRenewals)
	}
	if !newDueDate.After(borrowing.DueDate) {
		return nil, models.NewRuleViolation(models.RuleInvalidDueDate,
			"new due date %s does not extend the current due date", newDueDate.Format(time.RFC3339))
	}

	borrowing.DueDate = newDueDate.UTC()
	borrowing.RenewalCount++
	borrowing.UpdatedAt = now

	updated, err := l.store.UpdateBorrowing(ctx, *borrowing)
	if err != nil {
		return nil, models.NewUnavailable("failed to renew borrowing: %v", err)
	}

	return &updated, nil
}

// DeleteBorrowing hard-deletes a returned loan record. Administrative only;
// refused while the loan is open or a fine is still pending.
func (l *BorrowingLedger) DeleteBorrowing(ctx context.Context, borrowingID string) error {
	borrowing, err := l.getBorrowing(ctx, borrowingID)
	if err != nil {
		return err
	}

	if borrowing.Status != models.BorrowingStatusReturned {
		return models.NewRuleViolation(models.RuleInvalidStatus,
			"borrowing %s cannot be deleted from status %s", borrowingID, borrowing.Status)
	}

	if _, err := l.store.GetPendingFineByBorrowing(ctx, borrowingID); err == nil {
		return models.NewRuleViolation(models.RulePendingFine, "borrowing %s has a pending fine", borrowingID)
	} else if !errors.Is(err, database.ErrNotFound) {
		return models.NewUnavailable("failed to check fines: %v", err)
	}

	if err := l.store.DeleteBorrowing(ctx, borrowingID); err != nil {
		return models.NewUnavailable("failed to delete borrowing: %v", err)
	}

	return nil
}

// MarkOverdue flips ACTIVE loans past their due date to OVERDUE. Idempotent:
// loans already OVERDUE are not selected, and no fine is generated here
// since fines are assessed at return time.
func (l *BorrowingLedger) MarkOverdue(ctx context.Context, asOf time.Time) (int, error) {
	due, err := l.store.ListActiveDueBefore(ctx, asOf)
	if err != nil {
		return 0, models.NewUnavailable("failed to list due borrowings: %v", err)
	}

	marked := 0
	for _, borrowing := range due {
		if borrowing.Status != models.BorrowingStatusActive {
			continue
		}
		borrowing.Status = models.BorrowingStatusOverdue
		borrowing.UpdatedAt = time.Now().UTC()
		if _, err := l.store.UpdateBorrowing(ctx, borrowing); err != nil {
			return marked, models.NewUnavailable("failed to mark borrowing overdue: %v", err)
		}
		marked++
	}

	return marked, nil
}

// GetBorrowing retrieves a borrowing by ID.
func (l *BorrowingLedger) GetBorrowing(ctx context.Context, borrowingID string) (*models.Borrowing, error) {
	return l.getBorrowing(ctx, borrowingID)
}

// GetOpenBorrowingByCopy returns the loan currently holding a copy.
func (l *BorrowingLedger) GetOpenBorrowingByCopy(ctx context.Context, copyID string) (*models.Borrowing, error) {
	borrowing, err := l.store.GetOpenBorrowingByCopy(ctx, copyID)
	if err != nil {
		if errors.Is(err, database.ErrNotFound) {
			return nil, models.NewNotFound("no open borrowing for copy %s", copyID)
		}
		return nil, models.NewUnavailable("failed to get borrowing for copy: %v", err)
	}
	return &borrowing, nil
}

// ListOpenBorrowingsByMember returns a member's ACTIVE and OVERDUE loans.
func (l *BorrowingLedger) ListOpenBorrowingsByMember(ctx context.Context, memberID string) ([]models.Borrowing, error) {
	open, err := l.store.ListOpenBorrowingsByMember(ctx, memberID)
	if err != nil {
		return nil, models.NewUnavailable("failed to list open borrowings: %v", err)
	}
	return open, nil
}

// ListOverdueBorrowings returns all loans currently OVERDUE.
func (l *BorrowingLedger) ListOverdueBorrowings(ctx context.Context) ([]models.Borrowing, error) {
	overdue, err := l.store.ListOverdueBorrowings(ctx)
	if err != nil {
		return nil, models.NewUnavailable("failed to list overdue borrowings: %v", err)
	}
	return overdue, nil
}

// PayFine settles a pending fine as paid.
func (l *BorrowingLedger) PayFine(ctx context.Context, fineID string) (*models.Fine, error) {
	return l.settleFine(ctx, fineID, models.FineStatusPaid)
}

// WaiveFine settles a pending fine as waived.
func (l *BorrowingLedger) WaiveFine(ctx context.Context, fineID string) (*models.Fine, error) {
	return l.settleFine(ctx, fineID, models.FineStatusWaived)
}

func (l *BorrowingLedger) settleFine(ctx context.Context, fineID string, target models.FineStatus) (*models.Fine, error) {
	fine, err := l.store.GetFine(ctx, fineID)
	if err != nil {
		if errors.Is(err, database.ErrNotFound) {
			return nil, models.NewNotFound("fine %s not found", fineID)
		}
		return nil, models.NewUnavailable("failed to get fine: %v", err)
	}

	if !models.IsValidFineTransition(fine.Status, target) {
		return nil, models.NewInvalidTransition("fine %s cannot move from %s to %s", fineID, fine.Status, target)
	}

	fine.Status = target
	fine.UpdatedAt = time.Now().UTC()

	updated, err := l.store.UpdateFine(ctx, fine)
	if err != nil {
		return nil, models.NewUnavailable("failed to update fine: %v", err)
	}

	return &updated, nil
}

// revertReturn undoes the copy release, and any fine already recorded, when
// a later write in the return sequence fails. A failed return leaves the
// loan open and the copy BORROWED.
func (l *BorrowingLedger) revertReturn(ctx context.Context, copyID string, target models.CopyStatus, version int64, fine *models.Fine) {
	if fine != nil {
		if err := l.store.DeleteFine(ctx, fine.ID); err != nil {
			l.logger.Error("failed to remove fine during return rollback", "fine_id", fine.ID, "error", err)
		}
	}
	if err := l.registry.revertTransition(ctx, copyID, target, models.CopyStatusBorrowed, version); err != nil {
		l.logger.Error("failed to roll back copy release", "copy_id", copyID, "error", err)
	}
}

// releaseUnclaimedCopy moves a RESERVED copy with no waiter back to
// AVAILABLE. Conflicts mean someone else already moved it; nothing to do.
func (l *BorrowingLedger) releaseUnclaimedCopy(ctx context.Context, copyID string) {
	bookCopy, err := l.registry.GetCopy(ctx, copyID)
	if err != nil || bookCopy.Status != models.CopyStatusReserved {
		return
	}
	if _, err := l.registry.TryTransition(ctx, copyID, models.CopyStatusReserved, models.CopyStatusAvailable, bookCopy.Version); err != nil {
		if !models.IsKind(err, models.ErrKindConflict) {
			l.logger.Error("failed to release unclaimed copy", "copy_id", copyID, "error", err)
		}
	}
}

func (l *BorrowingLedger) getBorrowing(ctx context.Context, borrowingID string) (*models.Borrowing, error) {
	borrowing, err := l.store.GetBorrowing(ctx, borrowingID)
	if err != nil {
		if errors.Is(err, database.ErrNotFound) {
			return nil, models.NewNotFound("borrowing %s not found", borrowingID)
		}
		return nil, models.NewUnavailable("failed to get borrowing: %v", err)
	}
	return &borrowing, nil
}

func (l *BorrowingLedger) publishBorrowingCreated(ctx context.Context, borrowing models.Borrowing) {
	event := models.DomainEvent{
		ID:         uuid.NewString(),
		Type:       models.EventBorrowingCreated,
		OccurredAt: time.Now().UTC(),
		Payload: models.BorrowingCreatedPayload{
			BorrowingID: borrowing.ID,
			CopyID:      borrowing.CopyID,
			MemberID:    borrowing.MemberID,
			DueDate:     borrowing.DueDate,
		},
	}
	if err := l.events.Publish(ctx, event); err != nil {
		l.logger.Error("failed to publish borrowing created event", "borrowing_id", borrowing.ID, "error", err)
	}
}

func (l *BorrowingLedger) publishBorrowingReturned(ctx context.Context, borrowing models.Borrowing, fine *models.Fine) {
	payload := models.BorrowingReturnedPayload{
		BorrowingID: borrowing.ID,
		CopyID:      borrowing.CopyID,
		MemberID:    borrowing.MemberID,
	}
	if fine != nil {
		payload.FineAmount = &fine.Amount
	}
	event := models.DomainEvent{
		ID:         uuid.NewString(),
		Type:       models.EventBorrowingReturned,
		OccurredAt: time.Now().UTC(),
		Payload:    payload,
	}
	if err := l.events.Publish(ctx, event); err != nil {
		l.logger.Error("failed to publish borrowing returned event", "borrowing_id", borrowing.ID, "error", err)
	}
}
