package services

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/ngenohkevin/circulation/internal/database/memstore"
	"github.com/ngenohkevin/circulation/internal/events"
	"github.com/ngenohkevin/circulation/internal/models"
)

// testEnv wires the full service stack over an in-memory store.
type testEnv struct {
	store        *memstore.Store
	registry     *CopyRegistry
	reservations *ReservationService
	ledger       *BorrowingLedger
	engine       *LendingEngine
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	policy := testPolicy()
	logger := testLogger()
	store := memstore.New()
	publisher := events.NewNopPublisher()

	registry := NewCopyRegistry(store, publisher, logger)
	reservations := NewReservationService(store, registry, publisher, policy, logger)
	ledger := NewBorrowingLedger(store, registry, reservations, publisher, policy, logger)
	engine := NewLendingEngine(registry, ledger, reservations, policy, logger)

	return &testEnv{
		store:        store,
		registry:     registry,
		reservations: reservations,
		ledger:       ledger,
		engine:       engine,
	}
}

func (e *testEnv) addMember(t *testing.T, memberID string, active bool) {
	t.Helper()

	now := time.Now().UTC()
	err := e.store.PutMember(context.Background(), models.Member{
		ID:        memberID,
		IsActive:  active,
		CreatedAt: now,
		UpdatedAt: now,
	})
	require.NoError(t, err)
}

func (e *testEnv) addCopy(t *testing.T, bookID string, copyNumber int32) *models.BookCopy {
	t.Helper()

	created, err := e.registry.AddCopy(context.Background(), bookID, copyNumber, "good", "")
	require.NoError(t, err)
	return created
}

// backdateDueDate rewrites a borrowing's due date so overdue and fine paths
// can be exercised without waiting out the loan period.
func (e *testEnv) backdateDueDate(t *testing.T, borrowingID string, daysAgo int) {
	t.Helper()

	ctx := context.Background()
	borrowing, err := e.store.GetBorrowing(ctx, borrowingID)
	require.NoError(t, err)

	borrowing.DueDate = time.Now().UTC().AddDate(0, 0, -daysAgo)
	_, err = e.store.UpdateBorrowing(ctx, borrowing)
	require.NoError(t, err)
}

// backdatePickupExpiry rewrites a reservation's pickup deadline into the past.
func (e *testEnv) backdatePickupExpiry(t *testing.T, reservationID string, hoursAgo int) {
	t.Helper()

	ctx := context.Background()
	reservation, err := e.store.GetReservation(ctx, reservationID)
	require.NoError(t, err)

	expired := time.Now().UTC().Add(-time.Duration(hoursAgo) * time.Hour)
	reservation.PickupExpiryDate = &expired
	_, err = e.store.UpdateReservation(ctx, reservation)
	require.NoError(t, err)
}
