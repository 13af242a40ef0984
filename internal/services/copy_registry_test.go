package services

import (
	"context"
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ngenohkevin/circulation/internal/database/memstore"
	"github.com/ngenohkevin/circulation/internal/events"
	"github.com/ngenohkevin/circulation/internal/models"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestRegistry() (*CopyRegistry, *memstore.Store) {
	store := memstore.New()
	registry := NewCopyRegistry(store, events.NewNopPublisher(), testLogger())
	return registry, store
}

func TestCopyRegistry_AddCopy_Success(t *testing.T) {
	registry, _ := newTestRegistry()

	created, err := registry.AddCopy(context.Background(), "book-1", 1, "good", "shelf A3")
	require.NoError(t, err)

	assert.Equal(t, "book-1", created.BookID)
	assert.Equal(t, models.CopyStatusAvailable, created.Status)
	assert.Equal(t, int64(1), created.Version)
	assert.NotEmpty(t, created.ID)
}

func TestCopyRegistry_AddCopy_DuplicateCopyNumber(t *testing.T) {
	registry, _ := newTestRegistry()

	_, err := registry.AddCopy(context.Background(), "book-1", 1, "good", "")
	require.NoError(t, err)

	_, err = registry.AddCopy(context.Background(), "book-1", 1, "good", "")
	assert.True(t, models.IsKind(err, models.ErrKindInvalidInput))
}

func TestCopyRegistry_AddCopy_InvalidInput(t *testing.T) {
	registry, _ := newTestRegistry()

	_, err := registry.AddCopy(context.Background(), "", 1, "", "")
	assert.True(t, models.IsKind(err, models.ErrKindInvalidInput))

	_, err = registry.AddCopy(context.Background(), "book-1", 0, "", "")
	assert.True(t, models.IsKind(err, models.ErrKindInvalidInput))
}

func TestCopyRegistry_TryTransition_Success(t *testing.T) {
	registry, _ := newTestRegistry()
	ctx := context.Background()

	created, err := registry.AddCopy(ctx, "book-1", 1, "good", "")
	require.NoError(t, err)

	updated, err := registry.TryTransition(ctx, created.ID, models.CopyStatusAvailable, models.CopyStatusBorrowed, created.Version)
	require.NoError(t, err)

	assert.Equal(t, models.CopyStatusBorrowed, updated.Status)
	assert.Equal(t, created.Version+1, updated.Version)
}

func TestCopyRegistry_TryTransition_VersionMismatch(t *testing.T) {
	registry, _ := newTestRegistry()
	ctx := context.Background()

	created, err := registry.AddCopy(ctx, "book-1", 1, "good", "")
	require.NoError(t, err)

	_, err = registry.TryTransition(ctx, created.ID, models.CopyStatusAvailable, models.CopyStatusBorrowed, created.Version+7)
	assert.True(t, models.IsKind(err, models.ErrKindConflict))

	// Nothing was written.
	current, err := registry.GetCopy(ctx, created.ID)
	require.NoError(t, err)
	assert.Equal(t, models.CopyStatusAvailable, current.Status)
	assert.Equal(t, created.Version, current.Version)
}

func TestCopyRegistry_TryTransition_IllegalEdge(t *testing.T) {
	registry, _ := newTestRegistry()
	ctx := context.Background()

	created, err := registry.AddCopy(ctx, "book-1", 1, "good", "")
	require.NoError(t, err)

	borrowed, err := registry.TryTransition(ctx, created.ID, models.CopyStatusAvailable, models.CopyStatusBorrowed, created.Version)
	require.NoError(t, err)

	// A borrowed copy may not be written off directly.
	_, err = registry.TryTransition(ctx, created.ID, models.CopyStatusBorrowed, models.CopyStatusLost, borrowed.Version)
	assert.True(t, models.IsKind(err, models.ErrKindInvalidTransition))
}

func TestCopyRegistry_TryTransition_LostIsTerminal(t *testing.T) {
	registry, _ := newTestRegistry()
	ctx := context.Background()

	created, err := registry.AddCopy(ctx, "book-1", 1, "worn", "")
	require.NoError(t, err)

	borrowed, err := registry.TryTransition(ctx, created.ID, models.CopyStatusAvailable, models.CopyStatusBorrowed, created.Version)
	require.NoError(t, err)
	damaged, err := registry.TryTransition(ctx, created.ID, models.CopyStatusBorrowed, models.CopyStatusDamaged, borrowed.Version)
	require.NoError(t, err)
	lost, err := registry.TryTransition(ctx, created.ID, models.CopyStatusDamaged, models.CopyStatusLost, damaged.Version)
	require.NoError(t, err)

	_, err = registry.TryTransition(ctx, created.ID, models.CopyStatusLost, models.CopyStatusAvailable, lost.Version)
	assert.True(t, models.IsKind(err, models.ErrKindInvalidTransition))
}

func TestCopyRegistry_TryTransition_NotFound(t *testing.T) {
	registry, _ := newTestRegistry()

	_, err := registry.TryTransition(context.Background(), "missing", models.CopyStatusAvailable, models.CopyStatusBorrowed, 1)
	assert.True(t, models.IsKind(err, models.ErrKindNotFound))
}

func TestCopyRegistry_ReportDamaged(t *testing.T) {
	registry, _ := newTestRegistry()
	ctx := context.Background()

	created, err := registry.AddCopy(ctx, "book-1", 1, "good", "")
	require.NoError(t, err)

	borrowed, err := registry.TryTransition(ctx, created.ID, models.CopyStatusAvailable, models.CopyStatusBorrowed, created.Version)
	require.NoError(t, err)

	damaged, err := registry.ReportDamaged(ctx, created.ID, borrowed.Version)
	require.NoError(t, err)
	assert.Equal(t, models.CopyStatusDamaged, damaged.Status)
}
