package library

import (
	"context"
	"strings"
)

// Catalog manages book records. Books that are lent out cannot be edited or
// removed; availability itself is only changed by the Engine.
type Catalog struct {
	store  Store
	locks  *BookLocks
	logger Logger
}

// NewCatalog creates a catalog that shares locks with the lending engine.
func NewCatalog(store Store, locks *BookLocks, logger Logger) *Catalog {
	if logger == nil {
		logger = nopLogger{}
	}
	return &Catalog{store: store, locks: locks, logger: logger}
}

func (c *Catalog) Get(ctx context.Context, id int64) (*Book, error) {
	return c.store.GetActiveBook(ctx, id)
}

func (c *Catalog) List(ctx context.Context) ([]*Book, error) {
	return c.store.ListActiveBooks(ctx)
}

// Create adds a book. New books are available and active.
func (c *Catalog) Create(ctx context.Context, title, author string) (*Book, error) {
	title, author = strings.TrimSpace(title), strings.TrimSpace(author)
	if title == "" || author == "" {
		return nil, newInvalidInputError("title and author are required")
	}
	b, err := c.store.CreateBook(ctx, title, author)
	if err != nil {
		return nil, err
	}
	c.logger.Info("book added", "book_id", b.ID, "title", b.Title)
	return b, nil
}

// Update replaces title and author. Fails with ErrBookOnLoan while the book
// is borrowed.
func (c *Catalog) Update(ctx context.Context, id int64, title, author string) error {
	title, author = strings.TrimSpace(title), strings.TrimSpace(author)
	if title == "" || author == "" {
		return newInvalidInputError("title and author are required")
	}
	return c.whileAvailable(ctx, id, "update", func(tx Store) error {
		return tx.UpdateFields(ctx, id, title, author)
	})
}

// SoftDelete hides the book from all active queries. Fails with ErrBookOnLoan
// while the book is borrowed.
func (c *Catalog) SoftDelete(ctx context.Context, id int64) error {
	return c.whileAvailable(ctx, id, "delete", func(tx Store) error {
		return tx.SoftDeleteBook(ctx, id)
	})
}

// whileAvailable runs fn under the book lock after re-checking availability.
func (c *Catalog) whileAvailable(ctx context.Context, id int64, verb string, fn func(tx Store) error) error {
	if _, err := c.store.GetActiveBook(ctx, id); err != nil {
		return err
	}

	release, err := c.locks.Acquire(ctx, id)
	if err != nil {
		return err
	}
	defer release()

	err = c.store.Atomic(ctx, func(tx Store) error {
		b, err := tx.LockBook(ctx, id)
		if err != nil {
			return err
		}
		if !b.Available {
			return newConflictError(ErrBookOnLoan, "cannot "+verb+" a borrowed book")
		}
		return fn(tx)
	})
	if err != nil {
		return err
	}
	c.logger.Info("book "+verb+"d", "book_id", id)
	return nil
}
