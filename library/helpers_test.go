package library

import (
	"context"
	"fmt"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

// storeFactories lists every backend the shared behaviour tests run against.
var storeFactories = []struct {
	name string
	open func(t *testing.T) Store
}{
	{"memory", func(t *testing.T) Store { return NewMemoryStore() }},
	{DriverSQLite3, func(t *testing.T) Store { return openSQLite(t, DriverSQLite3) }},
	{DriverSQLite, func(t *testing.T) Store { return openSQLite(t, DriverSQLite) }},
}

func openSQLite(t *testing.T, driver string) Store {
	t.Helper()
	db, err := OpenDatabase(context.Background(), DatabaseOptions{
		Driver: driver,
		Path:   filepath.Join(t.TempDir(), "test.db"),
	})
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

// forEachStore runs fn once per backend as a subtest.
func forEachStore(t *testing.T, fn func(t *testing.T, store Store)) {
	for _, f := range storeFactories {
		t.Run(f.name, func(t *testing.T) {
			fn(t, f.open(t))
		})
	}
}

// seed creates users and books named after their position, so the n-th user
// created has id n on a fresh store.
func seed(t *testing.T, store Store, users, books int) {
	t.Helper()
	ctx := context.Background()
	for i := 1; i <= users; i++ {
		u, err := store.CreateUser(ctx, fmt.Sprintf("User %d", i))
		require.NoError(t, err)
		require.EqualValues(t, i, u.ID)
	}
	for i := 1; i <= books; i++ {
		b, err := store.CreateBook(ctx, fmt.Sprintf("Book %d", i), "Author")
		require.NoError(t, err)
		require.EqualValues(t, i, b.ID)
	}
}

// requireConsistent checks that every active book is unavailable exactly when
// its last ledger entry is a BORROW.
func requireConsistent(t *testing.T, store Store) {
	t.Helper()
	ctx := context.Background()
	books, err := store.ListActiveBooks(ctx)
	require.NoError(t, err)
	for _, b := range books {
		last, err := store.LastEntryForBook(ctx, b.ID)
		require.NoError(t, err)
		borrowed := last != nil && last.Action == ActionBorrow
		require.Equal(t, borrowed, !b.Available, "book %d availability disagrees with ledger", b.ID)
	}
}
