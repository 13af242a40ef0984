package memstore

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ngenohkevin/circulation/internal/database"
	"github.com/ngenohkevin/circulation/internal/models"
)

func seedCopy(t *testing.T, store *Store, id, bookID string, copyNumber int32) models.BookCopy {
	t.Helper()

	now := time.Now().UTC()
	created, err := store.CreateCopy(context.Background(), models.BookCopy{
		ID:         id,
		BookID:     bookID,
		CopyNumber: copyNumber,
		Status:     models.CopyStatusAvailable,
		Version:    1,
		CreatedAt:  now,
		UpdatedAt:  now,
	})
	require.NoError(t, err)
	return created
}

func TestStore_CompareAndSetCopyStatus(t *testing.T) {
	store := New()
	ctx := context.Background()
	seedCopy(t, store, "copy-1", "book-1", 1)

	updated, err := store.CompareAndSetCopyStatus(ctx, "copy-1", models.CopyStatusAvailable, 1, models.CopyStatusBorrowed)
	require.NoError(t, err)
	assert.Equal(t, models.CopyStatusBorrowed, updated.Status)
	assert.Equal(t, int64(2), updated.Version)

	// Replaying the same guard fails: both the status and the version moved.
	_, err = store.CompareAndSetCopyStatus(ctx, "copy-1", models.CopyStatusAvailable, 1, models.CopyStatusBorrowed)
	assert.ErrorIs(t, err, database.ErrVersionConflict)

	_, err = store.CompareAndSetCopyStatus(ctx, "missing", models.CopyStatusAvailable, 1, models.CopyStatusBorrowed)
	assert.ErrorIs(t, err, database.ErrNotFound)
}

func TestStore_CompareAndSetCopyStatus_ConcurrentSingleWinner(t *testing.T) {
	store := New()
	ctx := context.Background()
	seedCopy(t, store, "copy-1", "book-1", 1)

	const racers = 8
	var wg sync.WaitGroup
	errs := make([]error, racers)
	for i := 0; i < racers; i++ {
		wg.Add(1)
		go func(slot int) {
			defer wg.Done()
			_, errs[slot] = store.CompareAndSetCopyStatus(ctx, "copy-1", models.CopyStatusAvailable, 1, models.CopyStatusBorrowed)
		}(i)
	}
	wg.Wait()

	winners := 0
	for _, err := range errs {
		if err == nil {
			winners++
		} else {
			assert.ErrorIs(t, err, database.ErrVersionConflict)
		}
	}
	assert.Equal(t, 1, winners)
}

func TestStore_CreateCopy_DuplicateCopyNumber(t *testing.T) {
	store := New()
	ctx := context.Background()
	seedCopy(t, store, "copy-1", "book-1", 1)

	_, err := store.CreateCopy(ctx, models.BookCopy{
		ID: "copy-2", BookID: "book-1", CopyNumber: 1,
		Status: models.CopyStatusAvailable, Version: 1,
	})
	assert.ErrorIs(t, err, database.ErrDuplicate)

	// Same number on another title is fine.
	_, err = store.CreateCopy(ctx, models.BookCopy{
		ID: "copy-3", BookID: "book-2", CopyNumber: 1,
		Status: models.CopyStatusAvailable, Version: 1,
	})
	assert.NoError(t, err)
}

func TestStore_CreateFine_OneOpenFinePerBorrowing(t *testing.T) {
	store := New()
	ctx := context.Background()

	_, err := store.CreateFine(ctx, models.Fine{
		ID: "fine-1", BorrowingID: "loan-1",
		Amount: decimal.NewFromFloat(2.50), Status: models.FineStatusPending,
	})
	require.NoError(t, err)

	_, err = store.CreateFine(ctx, models.Fine{
		ID: "fine-2", BorrowingID: "loan-1",
		Amount: decimal.NewFromFloat(1.00), Status: models.FineStatusPending,
	})
	assert.ErrorIs(t, err, database.ErrDuplicate)
}

func TestStore_SumPendingFinesByMember(t *testing.T) {
	store := New()
	ctx := context.Background()
	now := time.Now().UTC()

	for i, loanID := range []string{"loan-1", "loan-2", "loan-3"} {
		_, err := store.CreateBorrowing(ctx, models.Borrowing{
			ID:         loanID,
			CopyID:     "copy-" + loanID,
			MemberID:   "member-1",
			BorrowDate: now.Add(time.Duration(i) * time.Minute),
			DueDate:    now.AddDate(0, 0, 14),
			Status:     models.BorrowingStatusReturned,
		})
		require.NoError(t, err)
	}

	fines := []models.Fine{
		{ID: "fine-1", BorrowingID: "loan-1", Amount: decimal.NewFromFloat(2.50), Status: models.FineStatusPending},
		{ID: "fine-2", BorrowingID: "loan-2", Amount: decimal.NewFromFloat(4.00), Status: models.FineStatusPaid},
		{ID: "fine-3", BorrowingID: "loan-3", Amount: decimal.NewFromFloat(1.50), Status: models.FineStatusPending},
	}
	for _, fine := range fines {
		_, err := store.CreateFine(ctx, fine)
		require.NoError(t, err)
	}

	total, err := store.SumPendingFinesByMember(ctx, "member-1")
	require.NoError(t, err)
	assert.Equal(t, "4.00", total.StringFixed(2))

	other, err := store.SumPendingFinesByMember(ctx, "member-2")
	require.NoError(t, err)
	assert.True(t, other.IsZero())
}

func TestStore_ListPendingReservationsByBook_Ordering(t *testing.T) {
	store := New()
	ctx := context.Background()
	base := time.Now().UTC()

	ids := []string{"res-c", "res-a", "res-b"}
	for i, id := range ids {
		_, err := store.CreateReservation(ctx, models.Reservation{
			ID:              id,
			BookID:          "book-1",
			MemberID:        "member-" + id,
			ReservationDate: base.Add(time.Duration(len(ids)-i) * time.Minute),
			Status:          models.ReservationStatusPending,
		})
		require.NoError(t, err)
	}

	pending, err := store.ListPendingReservationsByBook(ctx, "book-1")
	require.NoError(t, err)
	require.Len(t, pending, 3)
	// Earliest reservation date first.
	assert.Equal(t, "res-b", pending[0].ID)
	assert.Equal(t, "res-a", pending[1].ID)
	assert.Equal(t, "res-c", pending[2].ID)
}
