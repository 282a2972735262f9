package library

import (
	"context"
	"sort"
	"sync"
)

// MemoryStore is an in-process Store. Transactions are serialised by a single
// mutex and stage their writes in an overlay that is merged on commit, so a
// failed transaction leaves no trace.
type MemoryStore struct {
	mu    sync.Mutex
	state *memState
}

type memState struct {
	books    map[int64]Book
	users    map[int64]User
	entries  []TransactionEntry
	nextBook int64
	nextUser int64
	nextSeq  int64
}

// NewMemoryStore returns an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{state: &memState{
		books: make(map[int64]Book),
		users: make(map[int64]User),
	}}
}

// Atomic runs fn with exclusive access to the store.
func (s *MemoryStore) Atomic(ctx context.Context, fn func(tx Store) error) error {
	if err := ctx.Err(); err != nil {
		return newBusyError("transaction not started", err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	tx := &memTx{
		base:     s.state,
		books:    make(map[int64]Book),
		users:    make(map[int64]User),
		nextBook: s.state.nextBook,
		nextUser: s.state.nextUser,
		nextSeq:  s.state.nextSeq,
	}
	if err := fn(tx); err != nil {
		return err
	}
	tx.commit()
	return nil
}

func (s *MemoryStore) Close() error { return nil }

func (s *MemoryStore) GetActiveBook(ctx context.Context, id int64) (b *Book, err error) {
	err = s.Atomic(ctx, func(tx Store) error {
		b, err = tx.GetActiveBook(ctx, id)
		return err
	})
	return b, err
}

func (s *MemoryStore) ListActiveBooks(ctx context.Context) (books []*Book, err error) {
	err = s.Atomic(ctx, func(tx Store) error {
		books, err = tx.ListActiveBooks(ctx)
		return err
	})
	return books, err
}

func (s *MemoryStore) CreateBook(ctx context.Context, title, author string) (b *Book, err error) {
	err = s.Atomic(ctx, func(tx Store) error {
		b, err = tx.CreateBook(ctx, title, author)
		return err
	})
	return b, err
}

func (s *MemoryStore) LockBook(ctx context.Context, id int64) (*Book, error) {
	return s.GetActiveBook(ctx, id)
}

func (s *MemoryStore) SetAvailability(ctx context.Context, id int64, available bool) error {
	return s.Atomic(ctx, func(tx Store) error { return tx.SetAvailability(ctx, id, available) })
}

func (s *MemoryStore) UpdateFields(ctx context.Context, id int64, title, author string) error {
	return s.Atomic(ctx, func(tx Store) error { return tx.UpdateFields(ctx, id, title, author) })
}

func (s *MemoryStore) SoftDeleteBook(ctx context.Context, id int64) error {
	return s.Atomic(ctx, func(tx Store) error { return tx.SoftDeleteBook(ctx, id) })
}

func (s *MemoryStore) GetActiveUser(ctx context.Context, id int64) (u *User, err error) {
	err = s.Atomic(ctx, func(tx Store) error {
		u, err = tx.GetActiveUser(ctx, id)
		return err
	})
	return u, err
}

func (s *MemoryStore) ListActiveUsers(ctx context.Context) (users []*User, err error) {
	err = s.Atomic(ctx, func(tx Store) error {
		users, err = tx.ListActiveUsers(ctx)
		return err
	})
	return users, err
}

func (s *MemoryStore) CreateUser(ctx context.Context, name string) (u *User, err error) {
	err = s.Atomic(ctx, func(tx Store) error {
		u, err = tx.CreateUser(ctx, name)
		return err
	})
	return u, err
}

func (s *MemoryStore) LockUser(ctx context.Context, id int64) (*User, error) {
	return s.GetActiveUser(ctx, id)
}

func (s *MemoryStore) UpdateName(ctx context.Context, id int64, name string) error {
	return s.Atomic(ctx, func(tx Store) error { return tx.UpdateName(ctx, id, name) })
}

func (s *MemoryStore) SetPasswordHash(ctx context.Context, id int64, hash string) error {
	return s.Atomic(ctx, func(tx Store) error { return tx.SetPasswordHash(ctx, id, hash) })
}

func (s *MemoryStore) SoftDeleteUser(ctx context.Context, id int64) error {
	return s.Atomic(ctx, func(tx Store) error { return tx.SoftDeleteUser(ctx, id) })
}

func (s *MemoryStore) Append(ctx context.Context, entry TransactionEntry) (out TransactionEntry, err error) {
	err = s.Atomic(ctx, func(tx Store) error {
		out, err = tx.Append(ctx, entry)
		return err
	})
	return out, err
}

func (s *MemoryStore) LastEntryForBook(ctx context.Context, bookID int64) (e *TransactionEntry, err error) {
	err = s.Atomic(ctx, func(tx Store) error {
		e, err = tx.LastEntryForBook(ctx, bookID)
		return err
	})
	return e, err
}

func (s *MemoryStore) EntriesForBook(ctx context.Context, bookID int64) (entries []TransactionEntry, err error) {
	err = s.Atomic(ctx, func(tx Store) error {
		entries, err = tx.EntriesForBook(ctx, bookID)
		return err
	})
	return entries, err
}

func (s *MemoryStore) BooksHeldBy(ctx context.Context, userID int64) (ids []int64, err error) {
	err = s.Atomic(ctx, func(tx Store) error {
		ids, err = tx.BooksHeldBy(ctx, userID)
		return err
	})
	return ids, err
}

// memTx is a transactional view over memState. Writes land in the overlay
// maps and the pending entry slice until commit.
type memTx struct {
	base     *memState
	books    map[int64]Book
	users    map[int64]User
	pending  []TransactionEntry
	nextBook int64
	nextUser int64
	nextSeq  int64
}

func (t *memTx) commit() {
	for id, b := range t.books {
		t.base.books[id] = b
	}
	for id, u := range t.users {
		t.base.users[id] = u
	}
	t.base.entries = append(t.base.entries, t.pending...)
	t.base.nextBook = t.nextBook
	t.base.nextUser = t.nextUser
	t.base.nextSeq = t.nextSeq
}

func (t *memTx) Atomic(_ context.Context, fn func(tx Store) error) error { return fn(t) }

func (t *memTx) Close() error { return nil }

func (t *memTx) book(id int64) (Book, bool) {
	if b, ok := t.books[id]; ok {
		return b, true
	}
	b, ok := t.base.books[id]
	return b, ok
}

func (t *memTx) activeBook(id int64) (Book, error) {
	b, ok := t.book(id)
	if !ok || b.Status != StatusActive {
		return Book{}, newNotFoundError("book", id)
	}
	return b, nil
}

func (t *memTx) GetActiveBook(_ context.Context, id int64) (*Book, error) {
	b, err := t.activeBook(id)
	if err != nil {
		return nil, err
	}
	return &b, nil
}

func (t *memTx) ListActiveBooks(_ context.Context) ([]*Book, error) {
	ids := make(map[int64]struct{}, len(t.base.books)+len(t.books))
	for id := range t.base.books {
		ids[id] = struct{}{}
	}
	for id := range t.books {
		ids[id] = struct{}{}
	}
	var books []*Book
	for id := range ids {
		if b, err := t.activeBook(id); err == nil {
			books = append(books, &b)
		}
	}
	sort.Slice(books, func(i, j int) bool { return books[i].ID < books[j].ID })
	return books, nil
}

func (t *memTx) CreateBook(_ context.Context, title, author string) (*Book, error) {
	t.nextBook++
	b := Book{ID: t.nextBook, Title: title, Author: author, Available: true, Status: StatusActive}
	t.books[b.ID] = b
	return &b, nil
}

func (t *memTx) LockBook(ctx context.Context, id int64) (*Book, error) {
	return t.GetActiveBook(ctx, id)
}

func (t *memTx) SetAvailability(_ context.Context, id int64, available bool) error {
	b, err := t.activeBook(id)
	if err != nil {
		return err
	}
	b.Available = available
	t.books[id] = b
	return nil
}

func (t *memTx) UpdateFields(_ context.Context, id int64, title, author string) error {
	b, err := t.activeBook(id)
	if err != nil {
		return err
	}
	b.Title, b.Author = title, author
	t.books[id] = b
	return nil
}

func (t *memTx) SoftDeleteBook(_ context.Context, id int64) error {
	b, err := t.activeBook(id)
	if err != nil {
		return err
	}
	b.Status = StatusDeleted
	t.books[id] = b
	return nil
}

func (t *memTx) user(id int64) (User, bool) {
	if u, ok := t.users[id]; ok {
		return u, true
	}
	u, ok := t.base.users[id]
	return u, ok
}

func (t *memTx) activeUser(id int64) (User, error) {
	u, ok := t.user(id)
	if !ok || u.Status != StatusActive {
		return User{}, newNotFoundError("user", id)
	}
	return u, nil
}

func (t *memTx) GetActiveUser(_ context.Context, id int64) (*User, error) {
	u, err := t.activeUser(id)
	if err != nil {
		return nil, err
	}
	return &u, nil
}

func (t *memTx) ListActiveUsers(_ context.Context) ([]*User, error) {
	ids := make(map[int64]struct{}, len(t.base.users)+len(t.users))
	for id := range t.base.users {
		ids[id] = struct{}{}
	}
	for id := range t.users {
		ids[id] = struct{}{}
	}
	var users []*User
	for id := range ids {
		if u, err := t.activeUser(id); err == nil {
			users = append(users, &u)
		}
	}
	sort.Slice(users, func(i, j int) bool { return users[i].ID < users[j].ID })
	return users, nil
}

func (t *memTx) CreateUser(_ context.Context, name string) (*User, error) {
	t.nextUser++
	u := User{ID: t.nextUser, Name: name, Status: StatusActive}
	t.users[u.ID] = u
	return &u, nil
}

func (t *memTx) LockUser(ctx context.Context, id int64) (*User, error) {
	return t.GetActiveUser(ctx, id)
}

func (t *memTx) UpdateName(_ context.Context, id int64, name string) error {
	u, err := t.activeUser(id)
	if err != nil {
		return err
	}
	u.Name = name
	t.users[id] = u
	return nil
}

func (t *memTx) SetPasswordHash(_ context.Context, id int64, hash string) error {
	u, err := t.activeUser(id)
	if err != nil {
		return err
	}
	u.PasswordHash = hash
	t.users[id] = u
	return nil
}

func (t *memTx) SoftDeleteUser(_ context.Context, id int64) error {
	u, err := t.activeUser(id)
	if err != nil {
		return err
	}
	u.Status = StatusDeleted
	t.users[id] = u
	return nil
}

func (t *memTx) Append(_ context.Context, entry TransactionEntry) (TransactionEntry, error) {
	t.nextSeq++
	entry.Seq = t.nextSeq
	t.pending = append(t.pending, entry)
	return entry, nil
}

// entries iterates committed then pending entries in sequence order.
func (t *memTx) entries(yield func(TransactionEntry)) {
	for _, e := range t.base.entries {
		yield(e)
	}
	for _, e := range t.pending {
		yield(e)
	}
}

func (t *memTx) LastEntryForBook(_ context.Context, bookID int64) (*TransactionEntry, error) {
	var last *TransactionEntry
	t.entries(func(e TransactionEntry) {
		if e.BookID == bookID {
			last = &e
		}
	})
	return last, nil
}

func (t *memTx) EntriesForBook(_ context.Context, bookID int64) ([]TransactionEntry, error) {
	var out []TransactionEntry
	t.entries(func(e TransactionEntry) {
		if e.BookID == bookID {
			out = append(out, e)
		}
	})
	return out, nil
}

func (t *memTx) BooksHeldBy(_ context.Context, userID int64) ([]int64, error) {
	last := make(map[int64]TransactionEntry)
	t.entries(func(e TransactionEntry) { last[e.BookID] = e })

	var ids []int64
	for bookID, e := range last {
		if !e.HeldBy(userID) {
			continue
		}
		if b, ok := t.book(bookID); ok && !b.Available {
			ids = append(ids, bookID)
		}
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids, nil
}
