package library

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegistryLifecycle(t *testing.T) {
	forEachStore(t, func(t *testing.T, store Store) {
		ctx := context.Background()
		registry := NewRegistry(store, nil)

		u, err := registry.Create(ctx, " Alice ")
		require.NoError(t, err)
		assert.Equal(t, "Alice", u.Name)
		assert.Equal(t, StatusActive, u.Status)

		_, err = registry.Create(ctx, "   ")
		assert.True(t, IsInvalidInput(err))

		require.NoError(t, registry.Update(ctx, u.ID, "Alicia"))
		got, err := registry.Get(ctx, u.ID)
		require.NoError(t, err)
		assert.Equal(t, "Alicia", got.Name)

		assert.True(t, IsNotFound(registry.Update(ctx, u.ID+1, "Bob")))

		require.NoError(t, registry.SoftDelete(ctx, u.ID))
		_, err = registry.Get(ctx, u.ID)
		assert.True(t, IsNotFound(err))
		assert.True(t, IsNotFound(registry.SoftDelete(ctx, u.ID)))
		assert.True(t, IsNotFound(registry.Update(ctx, u.ID, "Again")))

		users, err := registry.List(ctx)
		require.NoError(t, err)
		assert.Empty(t, users)
	})
}

func TestRegistrySoftDeleteHolder(t *testing.T) {
	forEachStore(t, func(t *testing.T, store Store) {
		ctx := context.Background()
		seed(t, store, 2, 1)
		registry := NewRegistry(store, nil)
		engine := NewEngine(store)

		// User 1 borrowed and returned; user 2 is the current holder.
		require.NoError(t, engine.Borrow(ctx, 1, 1))
		require.NoError(t, engine.Return(ctx, 1, 1))
		require.NoError(t, engine.Borrow(ctx, 2, 1))

		err := registry.SoftDelete(ctx, 2)
		require.Error(t, err)
		assert.True(t, IsConflict(err))
		_, err = registry.Get(ctx, 2)
		require.NoError(t, err, "rejected delete leaves the user active")

		require.NoError(t, registry.SoftDelete(ctx, 1), "former borrower is not a holder")

		require.NoError(t, engine.Return(ctx, 2, 1))
		require.NoError(t, registry.SoftDelete(ctx, 2))
	})
}

func TestDeletedUserCannotBorrow(t *testing.T) {
	forEachStore(t, func(t *testing.T, store Store) {
		ctx := context.Background()
		seed(t, store, 1, 1)
		require.NoError(t, NewRegistry(store, nil).SoftDelete(ctx, 1))

		err := NewEngine(store).Borrow(ctx, 1, 1)
		assert.True(t, IsNotFound(err))
	})
}

func TestRegistryPasswords(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	seed(t, store, 1, 0)
	registry := NewRegistry(store, nil)

	require.NoError(t, registry.Authenticate(ctx, 1, ""), "users without a password always pass")

	assert.True(t, IsInvalidInput(registry.SetPassword(ctx, 1, "  ")))
	require.NoError(t, registry.SetPassword(ctx, 1, "s3cret"))

	u, err := registry.Get(ctx, 1)
	require.NoError(t, err)
	assert.True(t, u.HasPassword())
	assert.NotEqual(t, "s3cret", u.PasswordHash)

	require.NoError(t, registry.Authenticate(ctx, 1, "s3cret"))
	assert.True(t, IsUnauthorized(registry.Authenticate(ctx, 1, "wrong")))
	assert.True(t, IsNotFound(registry.Authenticate(ctx, 2, "s3cret")))
}
