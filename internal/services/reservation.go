package services

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/ngenohkevin/circulation/internal/config"
	"github.com/ngenohkevin/circulation/internal/database"
	"github.com/ngenohkevin/circulation/internal/models"
)

// ReservationStore defines the interface for reservation persistence
// operations. Listings of PENDING reservations are ordered by
// (reservation_date, id) ascending.
type ReservationStore interface {
	CreateReservation(ctx context.Context, reservation models.Reservation) (models.Reservation, error)
	GetReservation(ctx context.Context, id string) (models.Reservation, error)
	UpdateReservation(ctx context.Context, reservation models.Reservation) (models.Reservation, error)
	ListPendingReservationsByBook(ctx context.Context, bookID string) ([]models.Reservation, error)
	ListOpenReservationsByMember(ctx context.Context, memberID string) ([]models.Reservation, error)
	ListExpiredPickups(ctx context.Context, asOf time.Time) ([]models.Reservation, error)
	GetReadyReservationByCopy(ctx context.Context, copyID string) (models.Reservation, error)
}

// ReservationService owns the per-book FIFO reservation queue. All queue
// writes for a book (enqueue, promote, cancel, expire, position re-ranking)
// serialize through a per-book lock so positions stay dense and promotion
// order stays strictly FIFO.
type ReservationService struct {
	store    ReservationStore
	registry *CopyRegistry
	events   EventPublisher
	policy   config.Policy
	logger   *slog.Logger

	bookLocks sync.Map // bookID -> *sync.Mutex
}

// NewReservationService creates a new reservation service.
func NewReservationService(store ReservationStore, registry *CopyRegistry, events EventPublisher, policy config.Policy, logger *slog.Logger) *ReservationService {
	return &ReservationService{
		store:    store,
		registry: registry,
		events:   events,
		policy:   policy,
		logger:   logger,
	}
}

// lockBook acquires the serialization point for one book's queue and returns
// the unlock func.
func (s *ReservationService) lockBook(bookID string) func() {
	mu, _ := s.bookLocks.LoadOrStore(bookID, &sync.Mutex{})
	lock := mu.(*sync.Mutex)
	lock.Lock()
	return lock.Unlock
}

// Reserve enqueues demand for a book. A member may hold at most one open
// (PENDING or READY_FOR_PICKUP) reservation per book; the new entry joins
// the tail of the queue.
func (s *ReservationService) Reserve(ctx context.Context, bookID, memberID string) (*models.Reservation, error) {
	if bookID == "" || memberID == "" {
		return nil, models.NewInvalidInput("book id and member id are required")
	}

	unlock := s.lockBook(bookID)
	defer unlock()

	open, err := s.store.ListOpenReservationsByMember(ctx, memberID)
	if err != nil {
		return nil, models.NewUnavailable("failed to check existing reservations: %v", err)
	}
	for _, existing := range open {
		if existing.BookID == bookID {
			return nil, models.NewRuleViolation(models.RuleAlreadyReserved,
				"member %s already holds a reservation for book %s", memberID, bookID)
		}
	}

	pending, err := s.store.ListPendingReservationsByBook(ctx, bookID)
	if err != nil {
		return nil, models.NewUnavailable("failed to read reservation queue: %v", err)
	}

	now := time.Now().UTC()
	reservation := models.Reservation{
		ID:              uuid.NewString(),
		BookID:          bookID,
		MemberID:        memberID,
		ReservationDate: now,
		Status:          models.ReservationStatusPending,
		QueuePosition:   int32(len(pending)) + 1,
		CreatedAt:       now,
		UpdatedAt:       now,
	}

	created, err := s.store.CreateReservation(ctx, reservation)
	if err != nil {
		return nil, models.NewUnavailable("failed to create reservation: %v", err)
	}

	return &created, nil
}

// GetReservation retrieves a reservation by ID.
func (s *ReservationService) GetReservation(ctx context.Context, id string) (*models.Reservation, error) {
	reservation, err := s.store.GetReservation(ctx, id)
	if err != nil {
		if errors.Is(err, database.ErrNotFound) {
			return nil, models.NewNotFound("reservation %s not found", id)
		}
		return nil, models.NewUnavailable("failed to get reservation: %v", err)
	}
	return &reservation, nil
}

// GetQueueSnapshot returns the current PENDING queue for a book in promotion
// order.
func (s *ReservationService) GetQueueSnapshot(ctx context.Context, bookID string) (*models.QueueSnapshot, error) {
	pending, err := s.store.ListPendingReservationsByBook(ctx, bookID)
	if err != nil {
		return nil, models.NewUnavailable("failed to read reservation queue: %v", err)
	}
	return &models.QueueSnapshot{
		BookID:       bookID,
		QueueLength:  len(pending),
		Reservations: pending,
	}, nil
}

// HasPending reports whether any PENDING reservation exists for a book.
// Callers releasing a copy use this to decide between AVAILABLE and
// RESERVED, then promote under the same per-book lock.
func (s *ReservationService) HasPending(ctx context.Context, bookID string) (bool, error) {
	pending, err := s.store.ListPendingReservationsByBook(ctx, bookID)
	if err != nil {
		return false, models.NewUnavailable("failed to read reservation queue: %v", err)
	}
	return len(pending) > 0, nil
}

// PromoteNext attributes a freed copy to the head of the book's queue. The
// promoted reservation becomes READY_FOR_PICKUP with a pickup deadline, and
// the remaining PENDING positions are re-ranked to stay dense. Returns nil
// when the queue is empty, in which case the caller leaves the copy
// AVAILABLE.
func (s *ReservationService) PromoteNext(ctx context.Context, bookID, copyID string) (*models.Reservation, error) {
	unlock := s.lockBook(bookID)
	defer unlock()

	return s.promoteNextLocked(ctx, bookID, copyID)
}

// promoteNextLocked is PromoteNext without acquiring the book lock. Callers
// must hold it.
func (s *ReservationService) promoteNextLocked(ctx context.Context, bookID, copyID string) (*models.Reservation, error) {
	pending, err := s.store.ListPendingReservationsByBook(ctx, bookID)
	if err != nil {
		return nil, models.NewUnavailable("failed to read reservation queue: %v", err)
	}
	if len(pending) == 0 {
		return nil, nil
	}

	now := time.Now().UTC()
	expiry := now.Add(s.policy.PickupWindow)

	head := pending[0]
	head.Status = models.ReservationStatusReadyForPickup
	head.CopyID = copyID
	head.PickupExpiryDate = &expiry
	head.QueuePosition = 0
	head.UpdatedAt = now

	promoted, err := s.store.UpdateReservation(ctx, head)
	if err != nil {
		return nil, models.NewUnavailable("failed to promote reservation: %v", err)
	}

	if err := s.redensifyLocked(ctx, bookID); err != nil {
		return nil, err
	}

	s.publishReadyForPickup(ctx, promoted)

	return &promoted, nil
}

// Cancel cancels a reservation from PENDING or READY_FOR_PICKUP. Cancelling
// a pickup-ready reservation frees its copy, or hands it to the next waiter.
func (s *ReservationService) Cancel(ctx context.Context, reservationID string) (*models.Reservation, error) {
	reservation, err := s.GetReservation(ctx, reservationID)
	if err != nil {
		return nil, err
	}

	unlock := s.lockBook(reservation.BookID)
	defer unlock()

	// Re-read under the lock; a concurrent promote/expire may have moved it.
	current, err := s.store.GetReservation(ctx, reservationID)
	if err != nil {
		if errors.Is(err, database.ErrNotFound) {
			return nil, models.NewNotFound("reservation %s not found", reservationID)
		}
		return nil, models.NewUnavailable("failed to get reservation: %v", err)
	}

	if !models.IsValidReservationTransition(current.Status, models.ReservationStatusCancelled) {
		return nil, models.NewInvalidTransition("reservation %s cannot be cancelled from %s", reservationID, current.Status)
	}

	wasReady := current.Status == models.ReservationStatusReadyForPickup
	copyID := current.CopyID

	now := time.Now().UTC()
	current.Status = models.ReservationStatusCancelled
	current.QueuePosition = 0
	current.UpdatedAt = now

	cancelled, err := s.store.UpdateReservation(ctx, current)
	if err != nil {
		return nil, models.NewUnavailable("failed to cancel reservation: %v", err)
	}

	if err := s.redensifyLocked(ctx, cancelled.BookID); err != nil {
		return nil, err
	}

	if wasReady && copyID != "" {
		s.releaseCopyLocked(ctx, cancelled.BookID, copyID)
	}

	return &cancelled, nil
}

// ExpireStalePickups expires every READY_FOR_PICKUP reservation whose pickup
// deadline passed before asOf, freeing (or re-promoting) the attributed
// copies. Idempotent: a second sweep with the same asOf finds nothing left
// to expire. Safe to run concurrently with promote/cancel for the same book;
// the per-book lock decides the winner.
func (s *ReservationService) ExpireStalePickups(ctx context.Context, asOf time.Time) (int, error) {
	stale, err := s.store.ListExpiredPickups(ctx, asOf)
	if err != nil {
		return 0, models.NewUnavailable("failed to list expired pickups: %v", err)
	}

	expired := 0
	for _, candidate := range stale {
		ok, err := s.expireOne(ctx, candidate.ID, asOf)
		if err != nil {
			return expired, err
		}
		if ok {
			expired++
		}
	}

	return expired, nil
}

func (s *ReservationService) expireOne(ctx context.Context, reservationID string, asOf time.Time) (bool, error) {
	reservation, err := s.store.GetReservation(ctx, reservationID)
	if err != nil {
		if errors.Is(err, database.ErrNotFound) {
			return false, nil
		}
		return false, models.NewUnavailable("failed to get reservation: %v", err)
	}

	unlock := s.lockBook(reservation.BookID)
	defer unlock()

	// Re-validate under the lock; a concurrent pickup or cancel wins.
	current, err := s.store.GetReservation(ctx, reservationID)
	if err != nil {
		if errors.Is(err, database.ErrNotFound) {
			return false, nil
		}
		return false, models.NewUnavailable("failed to get reservation: %v", err)
	}
	if current.Status != models.ReservationStatusReadyForPickup {
		return false, nil
	}
	if current.PickupExpiryDate == nil || !current.PickupExpiryDate.Before(asOf) {
		return false, nil
	}

	copyID := current.CopyID

	current.Status = models.ReservationStatusExpired
	current.UpdatedAt = time.Now().UTC()

	updated, err := s.store.UpdateReservation(ctx, current)
	if err != nil {
		return false, models.NewUnavailable("failed to expire reservation: %v", err)
	}

	s.publishExpired(ctx, updated)

	if copyID != "" {
		s.releaseCopyLocked(ctx, updated.BookID, copyID)
	}

	return true, nil
}

// MarkFulfilled closes a READY_FOR_PICKUP reservation after its member
// borrowed the attributed copy.
func (s *ReservationService) MarkFulfilled(ctx context.Context, reservationID string) (*models.Reservation, error) {
	reservation, err := s.GetReservation(ctx, reservationID)
	if err != nil {
		return nil, err
	}

	unlock := s.lockBook(reservation.BookID)
	defer unlock()

	current, err := s.store.GetReservation(ctx, reservationID)
	if err != nil {
		if errors.Is(err, database.ErrNotFound) {
			return nil, models.NewNotFound("reservation %s not found", reservationID)
		}
		return nil, models.NewUnavailable("failed to get reservation: %v", err)
	}

	if !models.IsValidReservationTransition(current.Status, models.ReservationStatusFulfilled) {
		return nil, models.NewInvalidTransition("reservation %s cannot be fulfilled from %s", reservationID, current.Status)
	}

	current.Status = models.ReservationStatusFulfilled
	current.UpdatedAt = time.Now().UTC()

	fulfilled, err := s.store.UpdateReservation(ctx, current)
	if err != nil {
		return nil, models.NewUnavailable("failed to fulfill reservation: %v", err)
	}

	return &fulfilled, nil
}

// GetReadyByCopy returns the READY_FOR_PICKUP reservation attributed to a
// copy, or nil when the copy is not held for anyone.
func (s *ReservationService) GetReadyByCopy(ctx context.Context, copyID string) (*models.Reservation, error) {
	reservation, err := s.store.GetReadyReservationByCopy(ctx, copyID)
	if err != nil {
		if errors.Is(err, database.ErrNotFound) {
			return nil, nil
		}
		return nil, models.NewUnavailable("failed to get reservation for copy: %v", err)
	}
	return &reservation, nil
}

// releaseCopyLocked hands a freed RESERVED copy to the next waiter or back
// to the AVAILABLE pool. Callers hold the book lock. Conflicts are logged
// and swallowed: a concurrent transition means someone else already decided
// the copy's fate.
func (s *ReservationService) releaseCopyLocked(ctx context.Context, bookID, copyID string) {
	promoted, err := s.promoteNextLocked(ctx, bookID, copyID)
	if err != nil {
		s.logger.Error("failed to promote next reservation", "book_id", bookID, "copy_id", copyID, "error", err)
		return
	}
	if promoted != nil {
		// The copy stays RESERVED, now attributed to the next waiter.
		return
	}

	bookCopy, err := s.registry.GetCopy(ctx, copyID)
	if err != nil {
		s.logger.Error("failed to load copy for release", "copy_id", copyID, "error", err)
		return
	}
	if bookCopy.Status != models.CopyStatusReserved {
		return
	}

	if _, err := s.registry.TryTransition(ctx, copyID, models.CopyStatusReserved, models.CopyStatusAvailable, bookCopy.Version); err != nil {
		if models.IsKind(err, models.ErrKindConflict) {
			return
		}
		s.logger.Error("failed to release reserved copy", "copy_id", copyID, "error", err)
	}
}

// redensifyLocked rewrites the PENDING positions for a book as 1..N in
// (reservation_date, id) order. Callers hold the book lock.
func (s *ReservationService) redensifyLocked(ctx context.Context, bookID string) error {
	pending, err := s.store.ListPendingReservationsByBook(ctx, bookID)
	if err != nil {
		return models.NewUnavailable("failed to read reservation queue: %v", err)
	}

	for i, reservation := range pending {
		want := int32(i) + 1
		if reservation.QueuePosition == want {
			continue
		}
		reservation.QueuePosition = want
		reservation.UpdatedAt = time.Now().UTC()
		if _, err := s.store.UpdateReservation(ctx, reservation); err != nil {
			return models.NewUnavailable("failed to update queue position: %v", err)
		}
	}

	return nil
}

func (s *ReservationService) publishReadyForPickup(ctx context.Context, reservation models.Reservation) {
	var expiry time.Time
	if reservation.PickupExpiryDate != nil {
		expiry = *reservation.PickupExpiryDate
	}
	event := models.DomainEvent{
		ID:         uuid.NewString(),
		Type:       models.EventReservationReadyForPickup,
		OccurredAt: time.Now().UTC(),
		Payload: models.ReservationReadyForPickupPayload{
			ReservationID:    reservation.ID,
			BookID:           reservation.BookID,
			MemberID:         reservation.MemberID,
			CopyID:           reservation.CopyID,
			PickupExpiryDate: expiry,
		},
	}
	if err := s.events.Publish(ctx, event); err != nil {
		s.logger.Error("failed to publish pickup-ready event", "reservation_id", reservation.ID, "error", err)
	}
}

func (s *ReservationService) publishExpired(ctx context.Context, reservation models.Reservation) {
	event := models.DomainEvent{
		ID:         uuid.NewString(),
		Type:       models.EventReservationExpired,
		OccurredAt: time.Now().UTC(),
		Payload: models.ReservationExpiredPayload{
			ReservationID: reservation.ID,
			BookID:        reservation.BookID,
			MemberID:      reservation.MemberID,
		},
	}
	if err := s.events.Publish(ctx, event); err != nil {
		s.logger.Error("failed to publish reservation expired event", "reservation_id", reservation.ID, "error", err)
	}
}
