// Package memstore provides an in-memory implementation of the circulation
// store interfaces. It backs the test suite and embedded deployments; the
// postgres package provides the durable equivalent.
package memstore

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/ngenohkevin/circulation/internal/database"
	"github.com/ngenohkevin/circulation/internal/models"
)

// Store holds all circulation state in maps guarded by a single mutex. Every
// write, including the copy compare-and-set, happens under the lock, which
// gives the same atomicity the postgres store gets from version-guarded
// single-row updates.
type Store struct {
	mu sync.RWMutex

	copies       map[string]models.BookCopy
	borrowings   map[string]models.Borrowing
	reservations map[string]models.Reservation
	fines        map[string]models.Fine
	members      map[string]models.Member
}

// New creates an empty store.
func New() *Store {
	return &Store{
		copies:       make(map[string]models.BookCopy),
		borrowings:   make(map[string]models.Borrowing),
		reservations: make(map[string]models.Reservation),
		fines:        make(map[string]models.Fine),
		members:      make(map[string]models.Member),
	}
}

// --- CopyStore ---

func (s *Store) GetCopy(_ context.Context, copyID string) (models.BookCopy, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	c, ok := s.copies[copyID]
	if !ok {
		return models.BookCopy{}, database.ErrNotFound
	}
	return c, nil
}

func (s *Store) CreateCopy(_ context.Context, copy models.BookCopy) (models.BookCopy, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.copies[copy.ID]; exists {
		return models.BookCopy{}, database.ErrDuplicate
	}
	for _, existing := range s.copies {
		if existing.BookID == copy.BookID && existing.CopyNumber == copy.CopyNumber {
			return models.BookCopy{}, database.ErrDuplicate
		}
	}

	s.copies[copy.ID] = copy
	return copy, nil
}

func (s *Store) ListCopiesByBook(_ context.Context, bookID string) ([]models.BookCopy, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var copies []models.BookCopy
	for _, c := range s.copies {
		if c.BookID == bookID {
			copies = append(copies, c)
		}
	}
	sort.Slice(copies, func(i, j int) bool { return copies[i].CopyNumber < copies[j].CopyNumber })
	return copies, nil
}

func (s *Store) CompareAndSetCopyStatus(_ context.Context, copyID string, expectedStatus models.CopyStatus, expectedVersion int64, newStatus models.CopyStatus) (models.BookCopy, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.copies[copyID]
	if !ok {
		return models.BookCopy{}, database.ErrNotFound
	}
	if c.Status != expectedStatus || c.Version != expectedVersion {
		return models.BookCopy{}, database.ErrVersionConflict
	}

	c.Status = newStatus
	c.Version++
	c.UpdatedAt = time.Now().UTC()
	s.copies[copyID] = c
	return c, nil
}

// --- BorrowingStore ---

func (s *Store) CreateBorrowing(_ context.Context, borrowing models.Borrowing) (models.Borrowing, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.borrowings[borrowing.ID]; exists {
		return models.Borrowing{}, database.ErrDuplicate
	}
	s.borrowings[borrowing.ID] = borrowing
	return borrowing, nil
}

func (s *Store) GetBorrowing(_ context.Context, id string) (models.Borrowing, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	b, ok := s.borrowings[id]
	if !ok {
		return models.Borrowing{}, database.ErrNotFound
	}
	return b, nil
}

func (s *Store) UpdateBorrowing(_ context.Context, borrowing models.Borrowing) (models.Borrowing, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.borrowings[borrowing.ID]; !ok {
		return models.Borrowing{}, database.ErrNotFound
	}
	s.borrowings[borrowing.ID] = borrowing
	return borrowing, nil
}

func (s *Store) DeleteBorrowing(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.borrowings[id]; !ok {
		return database.ErrNotFound
	}
	delete(s.borrowings, id)
	return nil
}

func (s *Store) ListOpenBorrowingsByMember(_ context.Context, memberID string) ([]models.Borrowing, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var open []models.Borrowing
	for _, b := range s.borrowings {
		if b.MemberID == memberID && b.IsOpen() {
			open = append(open, b)
		}
	}
	sort.Slice(open, func(i, j int) bool { return open[i].BorrowDate.Before(open[j].BorrowDate) })
	return open, nil
}

func (s *Store) GetOpenBorrowingByCopy(_ context.Context, copyID string) (models.Borrowing, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, b := range s.borrowings {
		if b.CopyID == copyID && b.IsOpen() {
			return b, nil
		}
	}
	return models.Borrowing{}, database.ErrNotFound
}

func (s *Store) ListActiveDueBefore(_ context.Context, asOf time.Time) ([]models.Borrowing, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var due []models.Borrowing
	for _, b := range s.borrowings {
		if b.Status == models.BorrowingStatusActive && b.DueDate.Before(asOf) {
			due = append(due, b)
		}
	}
	sort.Slice(due, func(i, j int) bool { return due[i].DueDate.Before(due[j].DueDate) })
	return due, nil
}

func (s *Store) ListOverdueBorrowings(_ context.Context) ([]models.Borrowing, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var overdue []models.Borrowing
	for _, b := range s.borrowings {
		if b.Status == models.BorrowingStatusOverdue {
			overdue = append(overdue, b)
		}
	}
	sort.Slice(overdue, func(i, j int) bool { return overdue[i].DueDate.Before(overdue[j].DueDate) })
	return overdue, nil
}

// --- fines ---

func (s *Store) CreateFine(_ context.Context, fine models.Fine) (models.Fine, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, existing := range s.fines {
		if existing.BorrowingID == fine.BorrowingID && existing.Status != models.FineStatusWaived {
			return models.Fine{}, database.ErrDuplicate
		}
	}
	s.fines[fine.ID] = fine
	return fine, nil
}

func (s *Store) GetFine(_ context.Context, id string) (models.Fine, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	f, ok := s.fines[id]
	if !ok {
		return models.Fine{}, database.ErrNotFound
	}
	return f, nil
}

func (s *Store) UpdateFine(_ context.Context, fine models.Fine) (models.Fine, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.fines[fine.ID]; !ok {
		return models.Fine{}, database.ErrNotFound
	}
	s.fines[fine.ID] = fine
	return fine, nil
}

func (s *Store) DeleteFine(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.fines[id]; !ok {
		return database.ErrNotFound
	}
	delete(s.fines, id)
	return nil
}

func (s *Store) GetPendingFineByBorrowing(_ context.Context, borrowingID string) (models.Fine, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, f := range s.fines {
		if f.BorrowingID == borrowingID && f.Status == models.FineStatusPending {
			return f, nil
		}
	}
	return models.Fine{}, database.ErrNotFound
}

func (s *Store) SumPendingFinesByMember(_ context.Context, memberID string) (decimal.Decimal, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	total := decimal.Zero
	for _, f := range s.fines {
		if f.Status != models.FineStatusPending {
			continue
		}
		b, ok := s.borrowings[f.BorrowingID]
		if !ok || b.MemberID != memberID {
			continue
		}
		total = total.Add(f.Amount)
	}
	return total, nil
}

// --- members ---

func (s *Store) GetMember(_ context.Context, memberID string) (models.Member, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	m, ok := s.members[memberID]
	if !ok {
		return models.Member{}, database.ErrNotFound
	}
	return m, nil
}

// PutMember inserts or replaces a member eligibility snapshot.
func (s *Store) PutMember(_ context.Context, member models.Member) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.members[member.ID] = member
	return nil
}

// --- ReservationStore ---

func (s *Store) CreateReservation(_ context.Context, reservation models.Reservation) (models.Reservation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.reservations[reservation.ID]; exists {
		return models.Reservation{}, database.ErrDuplicate
	}
	s.reservations[reservation.ID] = reservation
	return reservation, nil
}

func (s *Store) GetReservation(_ context.Context, id string) (models.Reservation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	r, ok := s.reservations[id]
	if !ok {
		return models.Reservation{}, database.ErrNotFound
	}
	return r, nil
}

func (s *Store) UpdateReservation(_ context.Context, reservation models.Reservation) (models.Reservation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.reservations[reservation.ID]; !ok {
		return models.Reservation{}, database.ErrNotFound
	}
	s.reservations[reservation.ID] = reservation
	return reservation, nil
}

func (s *Store) ListPendingReservationsByBook(_ context.Context, bookID string) ([]models.Reservation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var pending []models.Reservation
	for _, r := range s.reservations {
		if r.BookID == bookID && r.Status == models.ReservationStatusPending {
			pending = append(pending, r)
		}
	}
	sortReservations(pending)
	return pending, nil
}

func (s *Store) ListOpenReservationsByMember(_ context.Context, memberID string) ([]models.Reservation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var open []models.Reservation
	for _, r := range s.reservations {
		if r.MemberID == memberID && r.IsOpen() {
			open = append(open, r)
		}
	}
	sortReservations(open)
	return open, nil
}

func (s *Store) ListExpiredPickups(_ context.Context, asOf time.Time) ([]models.Reservation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var stale []models.Reservation
	for _, r := range s.reservations {
		if r.Status == models.ReservationStatusReadyForPickup &&
			r.PickupExpiryDate != nil && r.PickupExpiryDate.Before(asOf) {
			stale = append(stale, r)
		}
	}
	sortReservations(stale)
	return stale, nil
}

func (s *Store) GetReadyReservationByCopy(_ context.Context, copyID string) (models.Reservation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, r := range s.reservations {
		if r.CopyID == copyID && r.Status == models.ReservationStatusReadyForPickup {
			return r, nil
		}
	}
	return models.Reservation{}, database.ErrNotFound
}

// sortReservations orders by (reservation_date, id) ascending, the queue's
// promotion order.
func sortReservations(reservations []models.Reservation) {
	sort.Slice(reservations, func(i, j int) bool {
		if reservations[i].ReservationDate.Equal(reservations[j].ReservationDate) {
			return reservations[i].ID < reservations[j].ID
		}
		return reservations[i].ReservationDate.Before(reservations[j].ReservationDate)
	})
}
