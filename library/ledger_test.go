package library

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLedgerAppendAssignsIncreasingSeq(t *testing.T) {
	forEachStore(t, func(t *testing.T, store Store) {
		ctx := context.Background()
		seed(t, store, 2, 2)
		ledger := NewLedger(store)

		var prev int64
		for _, step := range []struct {
			user, book int64
			action     Action
		}{
			{1, 1, ActionBorrow},
			{2, 2, ActionBorrow},
			{1, 1, ActionReturn},
			{2, 1, ActionBorrow},
		} {
			e, err := ledger.Append(ctx, step.user, step.book, step.action, uuid.Nil)
			require.NoError(t, err)
			assert.Greater(t, e.Seq, prev)
			assert.NotEqual(t, uuid.Nil, e.CorrelationID, "nil correlation id is replaced")
			prev = e.Seq
		}

		last, err := ledger.LastEntryFor(ctx, 1)
		require.NoError(t, err)
		require.NotNil(t, last)
		assert.Equal(t, int64(2), last.UserID)
		assert.Equal(t, ActionBorrow, last.Action)

		history, err := ledger.History(ctx, 1)
		require.NoError(t, err)
		require.Len(t, history, 3)
		assert.Equal(t, []int64{1, 1, 2}, []int64{history[0].UserID, history[1].UserID, history[2].UserID})
	})
}

func TestLedgerRejectsUnknownAction(t *testing.T) {
	store := NewMemoryStore()
	seed(t, store, 1, 1)

	_, err := NewLedger(store).Append(context.Background(), 1, 1, Action("LOST"), uuid.New())
	require.Error(t, err)
	assert.True(t, IsInvalidInput(err))
}

func TestLedgerCurrentHolder(t *testing.T) {
	forEachStore(t, func(t *testing.T, store Store) {
		ctx := context.Background()
		seed(t, store, 2, 1)
		ledger := NewLedger(store)

		_, ok, err := ledger.CurrentHolder(ctx, 1)
		require.NoError(t, err)
		assert.False(t, ok, "never borrowed")

		last, err := ledger.LastEntryFor(ctx, 1)
		require.NoError(t, err)
		assert.Nil(t, last)

		_, err = ledger.Append(ctx, 2, 1, ActionBorrow, uuid.New())
		require.NoError(t, err)
		holder, ok, err := ledger.CurrentHolder(ctx, 1)
		require.NoError(t, err)
		assert.True(t, ok)
		assert.Equal(t, int64(2), holder)

		_, err = ledger.Append(ctx, 2, 1, ActionReturn, uuid.New())
		require.NoError(t, err)
		_, ok, err = ledger.CurrentHolder(ctx, 1)
		require.NoError(t, err)
		assert.False(t, ok)
	})
}

func TestBooksHeldByUsesLastEntryOnly(t *testing.T) {
	forEachStore(t, func(t *testing.T, store Store) {
		ctx := context.Background()
		seed(t, store, 2, 2)
		engine := NewEngine(store)

		// User 1 borrows and returns book 1, then user 2 borrows it.
		require.NoError(t, engine.Borrow(ctx, 1, 1))
		require.NoError(t, engine.Return(ctx, 1, 1))
		require.NoError(t, engine.Borrow(ctx, 2, 1))
		require.NoError(t, engine.Borrow(ctx, 1, 2))

		held, err := store.BooksHeldBy(ctx, 1)
		require.NoError(t, err)
		assert.Equal(t, []int64{2}, held)

		held, err = store.BooksHeldBy(ctx, 2)
		require.NoError(t, err)
		assert.Equal(t, []int64{1}, held)

		require.NoError(t, engine.Return(ctx, 1, 2))
		held, err = store.BooksHeldBy(ctx, 1)
		require.NoError(t, err)
		assert.Empty(t, held)
	})
}
