package services

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/ngenohkevin/circulation/internal/database"
	"github.com/ngenohkevin/circulation/internal/models"
)

// CopyStore defines the interface for copy persistence operations.
type CopyStore interface {
	GetCopy(ctx context.Context, copyID string) (models.BookCopy, error)
	CreateCopy(ctx context.Context, copy models.BookCopy) (models.BookCopy, error)
	ListCopiesByBook(ctx context.Context, bookID string) ([]models.BookCopy, error)
	CompareAndSetCopyStatus(ctx context.Context, copyID string, expectedStatus models.CopyStatus, expectedVersion int64, newStatus models.CopyStatus) (models.BookCopy, error)
}

// EventPublisher publishes outbound domain events after state changes are
// committed. Delivery is at-least-once; a publish failure never fails the
// triggering operation.
type EventPublisher interface {
	Publish(ctx context.Context, event models.DomainEvent) error
}

// CopyRegistry is the sole writer of BookCopy.status. Every status change
// goes through TryTransition, which validates the state machine edge and
// performs a version-guarded compare-and-set.
type CopyRegistry struct {
	store  CopyStore
	events EventPublisher
	logger *slog.Logger
}

// NewCopyRegistry creates a new copy registry.
func NewCopyRegistry(store CopyStore, events EventPublisher, logger *slog.Logger) *CopyRegistry {
	return &CopyRegistry{
		store:  store,
		events: events,
		logger: logger,
	}
}

// AddCopy registers a new physical copy from catalog intake. New copies
// start AVAILABLE at version 1.
func (r *CopyRegistry) AddCopy(ctx context.Context, bookID string, copyNumber int32, condition, location string) (*models.BookCopy, error) {
	if bookID == "" {
		return nil, models.NewInvalidInput("book id is required")
	}
	if copyNumber <= 0 {
		return nil, models.NewInvalidInput("copy number must be positive, got %d", copyNumber)
	}

	now := time.Now().UTC()
	bookCopy := models.BookCopy{
		ID:         uuid.NewString(),
		BookID:     bookID,
		CopyNumber: copyNumber,
		Status:     models.CopyStatusAvailable,
		Condition:  condition,
		Location:   location,
		Version:    1,
		CreatedAt:  now,
		UpdatedAt:  now,
	}

	created, err := r.store.CreateCopy(ctx, bookCopy)
	if err != nil {
		if errors.Is(err, database.ErrDuplicate) {
			return nil, models.NewInvalidInput("copy number %d already exists for book %s", copyNumber, bookID)
		}
		return nil, models.NewUnavailable("failed to create copy: %v", err)
	}

	return &created, nil
}

// GetCopy retrieves a copy by ID.
func (r *CopyRegistry) GetCopy(ctx context.Context, copyID string) (*models.BookCopy, error) {
	bookCopy, err := r.store.GetCopy(ctx, copyID)
	if err != nil {
		if errors.Is(err, database.ErrNotFound) {
			return nil, models.NewNotFound("copy %s not found", copyID)
		}
		return nil, models.NewUnavailable("failed to get copy: %v", err)
	}
	return &bookCopy, nil
}

// ListCopiesByBook retrieves all copies of a book.
func (r *CopyRegistry) ListCopiesByBook(ctx context.Context, bookID string) ([]models.BookCopy, error) {
	copies, err := r.store.ListCopiesByBook(ctx, bookID)
	if err != nil {
		return nil, models.NewUnavailable("failed to list copies: %v", err)
	}
	return copies, nil
}

// TryTransition atomically moves a copy from the expected status to the new
// status, provided the stored (status, version) still matches the caller's
// expectation. On mismatch it fails with a Conflict error and writes
// nothing. This is the concurrency primitive every other component uses: two
// racing allocations of the same copy both pass the read, but only one
// compare-and-set wins.
func (r *CopyRegistry) TryTransition(ctx context.Context, copyID string, expectedStatus, newStatus models.CopyStatus, expectedVersion int64) (*models.BookCopy, error) {
	if !models.IsValidCopyStatus(expectedStatus) {
		return nil, models.NewInvalidInput("invalid copy status %q", expectedStatus)
	}
	if !models.IsValidCopyStatus(newStatus) {
		return nil, models.NewInvalidInput("invalid copy status %q", newStatus)
	}
	if !models.IsValidCopyTransition(expectedStatus, newStatus) {
		return nil, models.NewInvalidTransition("copy transition %s -> %s is not allowed", expectedStatus, newStatus)
	}

	updated, err := r.store.CompareAndSetCopyStatus(ctx, copyID, expectedStatus, expectedVersion, newStatus)
	if err != nil {
		switch {
		case errors.Is(err, database.ErrNotFound):
			return nil, models.NewNotFound("copy %s not found", copyID)
		case errors.Is(err, database.ErrVersionConflict):
			return nil, models.NewConflict("copy %s changed concurrently (expected %s v%d)", copyID, expectedStatus, expectedVersion)
		default:
			return nil, models.NewUnavailable("failed to transition copy: %v", err)
		}
	}

	r.publishStatusChanged(ctx, copyID, expectedStatus, newStatus)

	return &updated, nil
}

// revertTransition restores a copy's previous status after a later write in
// the same operation failed. Compensation reverses the edge that was just
// taken, so the transition table is not consulted.
func (r *CopyRegistry) revertTransition(ctx context.Context, copyID string, currentStatus, priorStatus models.CopyStatus, expectedVersion int64) error {
	_, err := r.store.CompareAndSetCopyStatus(ctx, copyID, currentStatus, expectedVersion, priorStatus)
	if err != nil {
		switch {
		case errors.Is(err, database.ErrNotFound):
			return models.NewNotFound("copy %s not found", copyID)
		case errors.Is(err, database.ErrVersionConflict):
			return models.NewConflict("copy %s changed concurrently (expected %s v%d)", copyID, currentStatus, expectedVersion)
		default:
			return models.NewUnavailable("failed to revert copy transition: %v", err)
		}
	}

	r.publishStatusChanged(ctx, copyID, currentStatus, priorStatus)

	return nil
}

func (r *CopyRegistry) publishStatusChanged(ctx context.Context, copyID string, from, to models.CopyStatus) {
	event := models.DomainEvent{
		ID:         uuid.NewString(),
		Type:       models.EventCopyStatusChanged,
		OccurredAt: time.Now().UTC(),
		Payload: models.CopyStatusChangedPayload{
			CopyID: copyID,
			From:   from,
			To:     to,
		},
	}
	if err := r.events.Publish(ctx, event); err != nil {
		r.logger.Error("failed to publish copy status event",
			"copy_id", copyID, "from", from, "to", to, "error", err)
	}
}

// ReportDamaged routes a damage report for a borrowed copy. The copy moves
// BORROWED -> DAMAGED; administrative action later moves it to MAINTENANCE
// or LOST.
func (r *CopyRegistry) ReportDamaged(ctx context.Context, copyID string, expectedVersion int64) (*models.BookCopy, error) {
	return r.TryTransition(ctx, copyID, models.CopyStatusBorrowed, models.CopyStatusDamaged, expectedVersion)
}
