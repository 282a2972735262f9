package library

import (
	"context"
	"fmt"
	"time"
)

// DriverMemory selects the in-process MemoryStore.
const DriverMemory = "memory"

// Options configures a LibraryManager.
type Options struct {
	Database DatabaseOptions
	// LockWait bounds how long an operation waits for a book lock.
	LockWait time.Duration
	Logger   Logger
}

// LibraryManager is a thin façade wiring the store, catalog, registry, ledger
// and lending engine together, keeping CLI code simple.
type LibraryManager struct {
	store    Store
	catalog  *Catalog
	registry *Registry
	engine   *Engine
}

// NewLibraryManager opens the configured store.
func NewLibraryManager(ctx context.Context, opts Options) (*LibraryManager, error) {
	if opts.Logger == nil {
		opts.Logger = nopLogger{}
	}
	if opts.LockWait == 0 {
		opts.LockWait = DefaultLockWait
	}

	var store Store
	if opts.Database.Driver == DriverMemory {
		store = NewMemoryStore()
	} else {
		dbOpts := opts.Database
		dbOpts.Logger = opts.Logger
		if dbOpts.LockWait == 0 {
			dbOpts.LockWait = opts.LockWait
		}
		db, err := OpenDatabase(ctx, dbOpts)
		if err != nil {
			return nil, fmt.Errorf("open store: %w", err)
		}
		store = db
	}
	return NewLibraryManagerWithStore(store, opts.LockWait, opts.Logger), nil
}

// NewLibraryManagerWithStore wires components around an existing store.
func NewLibraryManagerWithStore(store Store, lockWait time.Duration, logger Logger) *LibraryManager {
	if logger == nil {
		logger = nopLogger{}
	}
	locks := NewBookLocks(lockWait)
	return &LibraryManager{
		store:    store,
		catalog:  NewCatalog(store, locks, logger),
		registry: NewRegistry(store, logger),
		engine:   NewEngine(store, WithLocks(locks), WithLogger(logger)),
	}
}

// Close closes the underlying store.
func (lm *LibraryManager) Close() error { return lm.store.Close() }

func (lm *LibraryManager) Catalog() *Catalog   { return lm.catalog }
func (lm *LibraryManager) Registry() *Registry { return lm.registry }
func (lm *LibraryManager) Engine() *Engine     { return lm.engine }
func (lm *LibraryManager) Ledger() *Ledger     { return NewLedger(lm.store) }

// ------------------ Circulation ------------------

// Borrow authenticates the user when a password is set and lends the book.
func (lm *LibraryManager) Borrow(ctx context.Context, userID, bookID int64, password string) error {
	if err := lm.registry.Authenticate(ctx, userID, password); err != nil {
		return err
	}
	return lm.engine.Borrow(ctx, userID, bookID)
}

// Return authenticates the user when a password is set and returns the book.
func (lm *LibraryManager) Return(ctx context.Context, userID, bookID int64, password string) error {
	if err := lm.registry.Authenticate(ctx, userID, password); err != nil {
		return err
	}
	return lm.engine.Return(ctx, userID, bookID)
}

// BookStatus is a book plus the name of its current holder, if any.
type BookStatus struct {
	Book   *Book
	Holder *User
}

// ListBookStatus returns every active book with its current holder.
func (lm *LibraryManager) ListBookStatus(ctx context.Context) ([]BookStatus, error) {
	books, err := lm.catalog.List(ctx)
	if err != nil {
		return nil, err
	}
	ledger := lm.Ledger()
	out := make([]BookStatus, 0, len(books))
	for _, b := range books {
		st := BookStatus{Book: b}
		if !b.Available {
			holderID, ok, err := ledger.CurrentHolder(ctx, b.ID)
			if err != nil {
				return nil, err
			}
			if ok {
				if u, err := lm.registry.Get(ctx, holderID); err == nil {
					st.Holder = u
				}
			}
		}
		out = append(out, st)
	}
	return out, nil
}
