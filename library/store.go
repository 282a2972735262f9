package library

import "context"

// CatalogStore persists books. Every Get/List/Lock method only sees active
// books; soft-deleted books behave exactly like missing ones.
type CatalogStore interface {
	GetActiveBook(ctx context.Context, id int64) (*Book, error)
	ListActiveBooks(ctx context.Context) ([]*Book, error)
	CreateBook(ctx context.Context, title, author string) (*Book, error)
	// LockBook reads the active book and holds an exclusive store-level lock
	// on it until the enclosing Atomic call finishes.
	LockBook(ctx context.Context, id int64) (*Book, error)
	SetAvailability(ctx context.Context, id int64, available bool) error
	UpdateFields(ctx context.Context, id int64, title, author string) error
	SoftDeleteBook(ctx context.Context, id int64) error
}

// RegistryStore persists users.
type RegistryStore interface {
	GetActiveUser(ctx context.Context, id int64) (*User, error)
	ListActiveUsers(ctx context.Context) ([]*User, error)
	CreateUser(ctx context.Context, name string) (*User, error)
	// LockUser is the user counterpart of CatalogStore.LockBook.
	LockUser(ctx context.Context, id int64) (*User, error)
	UpdateName(ctx context.Context, id int64, name string) error
	SetPasswordHash(ctx context.Context, id int64, hash string) error
	SoftDeleteUser(ctx context.Context, id int64) error
}

// LedgerStore persists the append-only transaction ledger.
type LedgerStore interface {
	// Append stores entry and returns it with its assigned sequence number.
	Append(ctx context.Context, entry TransactionEntry) (TransactionEntry, error)
	// LastEntryForBook returns nil and no error when the book has no entries.
	LastEntryForBook(ctx context.Context, bookID int64) (*TransactionEntry, error)
	EntriesForBook(ctx context.Context, bookID int64) ([]TransactionEntry, error)
	// BooksHeldBy returns the unavailable books whose last entry is a BORROW
	// by userID.
	BooksHeldBy(ctx context.Context, userID int64) ([]int64, error)
}

// Store bundles the three collaborator stores with a transaction boundary.
type Store interface {
	CatalogStore
	RegistryStore
	LedgerStore

	// Atomic runs fn against a transactional view of the store. Either every
	// write made through tx becomes visible or none does. Atomic on a view
	// joins the surrounding transaction.
	Atomic(ctx context.Context, fn func(tx Store) error) error
	Close() error
}

// Logger is satisfied by *slog.Logger.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

type nopLogger struct{}

func (nopLogger) Debug(string, ...any) {}
func (nopLogger) Info(string, ...any)  {}
func (nopLogger) Warn(string, ...any)  {}
func (nopLogger) Error(string, ...any) {}
