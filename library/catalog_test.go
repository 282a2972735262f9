package library

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newCatalogFixture(t *testing.T, store Store) (*Catalog, *Engine) {
	t.Helper()
	locks := NewBookLocks(time.Second)
	return NewCatalog(store, locks, nil), NewEngine(store, WithLocks(locks))
}

func TestCatalogCreateAndGet(t *testing.T) {
	forEachStore(t, func(t *testing.T, store Store) {
		ctx := context.Background()
		catalog, _ := newCatalogFixture(t, store)

		b, err := catalog.Create(ctx, "  Dune ", "Frank Herbert")
		require.NoError(t, err)
		assert.Equal(t, "Dune", b.Title)
		assert.True(t, b.Available)
		assert.Equal(t, StatusActive, b.Status)

		got, err := catalog.Get(ctx, b.ID)
		require.NoError(t, err)
		assert.Equal(t, b, got)

		_, err = catalog.Create(ctx, "", "Nobody")
		assert.True(t, IsInvalidInput(err))

		_, err = catalog.Get(ctx, b.ID+100)
		assert.True(t, IsNotFound(err))
	})
}

func TestCatalogUpdate(t *testing.T) {
	forEachStore(t, func(t *testing.T, store Store) {
		ctx := context.Background()
		seed(t, store, 1, 1)
		catalog, engine := newCatalogFixture(t, store)

		require.NoError(t, catalog.Update(ctx, 1, "Emma", "Jane Austen"))
		b, err := catalog.Get(ctx, 1)
		require.NoError(t, err)
		assert.Equal(t, "Emma", b.Title)
		assert.Equal(t, "Jane Austen", b.Author)
		assert.True(t, b.Available, "update leaves availability alone")

		require.NoError(t, engine.Borrow(ctx, 1, 1))
		err = catalog.Update(ctx, 1, "Persuasion", "Jane Austen")
		require.Error(t, err)
		assert.True(t, IsConflict(err))
		assert.ErrorIs(t, err, ErrBookOnLoan)

		b, err = catalog.Get(ctx, 1)
		require.NoError(t, err)
		assert.Equal(t, "Emma", b.Title)

		assert.True(t, IsNotFound(catalog.Update(ctx, 99, "X", "Y")))
	})
}

func TestCatalogSoftDelete(t *testing.T) {
	forEachStore(t, func(t *testing.T, store Store) {
		ctx := context.Background()
		seed(t, store, 1, 2)
		catalog, engine := newCatalogFixture(t, store)

		require.NoError(t, engine.Borrow(ctx, 1, 1))
		err := catalog.SoftDelete(ctx, 1)
		require.Error(t, err)
		assert.ErrorIs(t, err, ErrBookOnLoan)

		require.NoError(t, catalog.SoftDelete(ctx, 2))
		_, err = catalog.Get(ctx, 2)
		assert.True(t, IsNotFound(err))
		assert.True(t, IsNotFound(catalog.SoftDelete(ctx, 2)), "deleted books are invisible")
		assert.True(t, IsNotFound(catalog.Update(ctx, 2, "X", "Y")))

		books, err := catalog.List(ctx)
		require.NoError(t, err)
		require.Len(t, books, 1)
		assert.Equal(t, int64(1), books[0].ID)

		// Ledger history survives the book being returned and deleted.
		require.NoError(t, engine.Return(ctx, 1, 1))
		require.NoError(t, catalog.SoftDelete(ctx, 1))
		entries, err := store.EntriesForBook(ctx, 1)
		require.NoError(t, err)
		assert.Len(t, entries, 2)
	})
}

// A delete racing a borrow must never leave a deleted book on loan.
func TestCatalogDeleteRacesBorrow(t *testing.T) {
	forEachStore(t, func(t *testing.T, store Store) {
		ctx := context.Background()
		seed(t, store, 1, 1)
		catalog, engine := newCatalogFixture(t, store)

		var wg sync.WaitGroup
		var borrowErr, deleteErr error
		wg.Add(2)
		go func() { defer wg.Done(); borrowErr = engine.Borrow(ctx, 1, 1) }()
		go func() { defer wg.Done(); deleteErr = catalog.SoftDelete(ctx, 1) }()
		wg.Wait()

		switch {
		case borrowErr == nil:
			assert.ErrorIs(t, deleteErr, ErrBookOnLoan)
		case deleteErr == nil:
			assert.True(t, IsNotFound(borrowErr), "borrow after delete: %v", borrowErr)
			entries, err := store.EntriesForBook(ctx, 1)
			require.NoError(t, err)
			assert.Empty(t, entries)
		default:
			t.Fatalf("both failed: borrow=%v delete=%v", borrowErr, deleteErr)
		}
	})
}
