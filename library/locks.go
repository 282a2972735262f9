package library

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// DefaultLockWait bounds how long an operation waits for a book's lock.
const DefaultLockWait = 5 * time.Second

// BookLocks is a table of exclusive locks keyed by book id. Entries exist only
// while somebody holds or waits for them.
type BookLocks struct {
	mu    sync.Mutex
	locks map[int64]*bookLock
	wait  time.Duration
}

type bookLock struct {
	sem  chan struct{}
	refs int
}

// NewBookLocks creates a lock table. A non-positive wait means callers block
// until their context is done.
func NewBookLocks(wait time.Duration) *BookLocks {
	return &BookLocks{locks: make(map[int64]*bookLock), wait: wait}
}

// Acquire blocks until the lock for bookID is held, the wait bound elapses or
// ctx is done. The returned release func is safe to call more than once.
func (l *BookLocks) Acquire(ctx context.Context, bookID int64) (func(), error) {
	bl := l.ref(bookID)

	if l.wait > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, l.wait)
		defer cancel()
	}

	select {
	case bl.sem <- struct{}{}:
	case <-ctx.Done():
		l.unref(bookID, bl)
		return nil, newBusyError(fmt.Sprintf("book %d is locked by another operation", bookID), ctx.Err())
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			<-bl.sem
			l.unref(bookID, bl)
		})
	}, nil
}

// Len reports how many lock entries are live.
func (l *BookLocks) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.locks)
}

func (l *BookLocks) ref(bookID int64) *bookLock {
	l.mu.Lock()
	defer l.mu.Unlock()
	bl, ok := l.locks[bookID]
	if !ok {
		bl = &bookLock{sem: make(chan struct{}, 1)}
		l.locks[bookID] = bl
	}
	bl.refs++
	return bl
}

func (l *BookLocks) unref(bookID int64, bl *bookLock) {
	l.mu.Lock()
	defer l.mu.Unlock()
	bl.refs--
	if bl.refs == 0 {
		delete(l.locks, bookID)
	}
}
