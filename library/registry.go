package library

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"golang.org/x/crypto/bcrypt"
)

// Registry manages library users.
type Registry struct {
	store  Store
	logger Logger
}

func NewRegistry(store Store, logger Logger) *Registry {
	if logger == nil {
		logger = nopLogger{}
	}
	return &Registry{store: store, logger: logger}
}

func (r *Registry) Get(ctx context.Context, id int64) (*User, error) {
	return r.store.GetActiveUser(ctx, id)
}

func (r *Registry) List(ctx context.Context) ([]*User, error) {
	return r.store.ListActiveUsers(ctx)
}

// Create registers an active user.
func (r *Registry) Create(ctx context.Context, name string) (*User, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, newInvalidInputError("name is required")
	}
	u, err := r.store.CreateUser(ctx, name)
	if err != nil {
		return nil, err
	}
	r.logger.Info("user added", "user_id", u.ID)
	return u, nil
}

func (r *Registry) Update(ctx context.Context, id int64, name string) error {
	name = strings.TrimSpace(name)
	if name == "" {
		return newInvalidInputError("name is required")
	}
	if _, err := r.store.GetActiveUser(ctx, id); err != nil {
		return err
	}
	return r.store.UpdateName(ctx, id, name)
}

// SoftDelete deactivates a user. It fails with ErrUserHoldsBooks while the
// ledger names the user as current holder of any unavailable book.
func (r *Registry) SoftDelete(ctx context.Context, id int64) error {
	err := r.store.Atomic(ctx, func(tx Store) error {
		if _, err := tx.LockUser(ctx, id); err != nil {
			return err
		}
		held, err := tx.BooksHeldBy(ctx, id)
		if err != nil {
			return err
		}
		if len(held) > 0 {
			return newConflictError(ErrUserHoldsBooks,
				fmt.Sprintf("user %d still holds %d borrowed book(s)", id, len(held)))
		}
		return tx.SoftDeleteUser(ctx, id)
	})
	if err != nil {
		return err
	}
	r.logger.Info("user deleted", "user_id", id)
	return nil
}

// SetPassword stores a bcrypt hash of password for the user.
func (r *Registry) SetPassword(ctx context.Context, id int64, password string) error {
	if strings.TrimSpace(password) == "" {
		return newInvalidInputError("password cannot be empty")
	}
	if _, err := r.store.GetActiveUser(ctx, id); err != nil {
		return err
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return newInvalidInputError(err.Error())
	}
	return r.store.SetPasswordHash(ctx, id, string(hash))
}

// Authenticate checks password against the user's stored hash. Users without
// a password always pass.
func (r *Registry) Authenticate(ctx context.Context, id int64, password string) error {
	u, err := r.store.GetActiveUser(ctx, id)
	if err != nil {
		return err
	}
	if !u.HasPassword() {
		return nil
	}
	err = bcrypt.CompareHashAndPassword([]byte(u.PasswordHash), []byte(password))
	if errors.Is(err, bcrypt.ErrMismatchedHashAndPassword) {
		return newUnauthorizedError("invalid password")
	}
	if err != nil {
		return newUnauthorizedError(err.Error())
	}
	return nil
}
