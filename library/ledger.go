package library

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Ledger is the append-only borrow/return history. It is the source of truth
// for who currently holds a book.
type Ledger struct {
	store LedgerStore
	now   func() time.Time
}

// NewLedger wraps a LedgerStore. Pass a transactional view to append as part
// of a larger atomic unit.
func NewLedger(store LedgerStore) *Ledger {
	return &Ledger{store: store, now: time.Now}
}

// Append records action for (userID, bookID). The store assigns the sequence
// number; the returned entry carries it.
func (l *Ledger) Append(ctx context.Context, userID, bookID int64, action Action, correlationID uuid.UUID) (TransactionEntry, error) {
	if !action.Valid() {
		return TransactionEntry{}, newInvalidInputError(fmt.Sprintf("unknown ledger action %q", action))
	}
	if correlationID == uuid.Nil {
		correlationID = uuid.New()
	}
	return l.store.Append(ctx, TransactionEntry{
		UserID:        userID,
		BookID:        bookID,
		Action:        action,
		OccurredAt:    l.now().UTC(),
		CorrelationID: correlationID,
	})
}

// LastEntryFor returns the most recent entry for bookID, or nil when the book
// was never borrowed.
func (l *Ledger) LastEntryFor(ctx context.Context, bookID int64) (*TransactionEntry, error) {
	return l.store.LastEntryForBook(ctx, bookID)
}

// CurrentHolder returns the user holding bookID. ok is false when the book is
// not lent out.
func (l *Ledger) CurrentHolder(ctx context.Context, bookID int64) (userID int64, ok bool, err error) {
	last, err := l.store.LastEntryForBook(ctx, bookID)
	if err != nil || last == nil || last.Action != ActionBorrow {
		return 0, false, err
	}
	return last.UserID, true, nil
}

// History returns every entry for bookID in sequence order.
func (l *Ledger) History(ctx context.Context, bookID int64) ([]TransactionEntry, error) {
	return l.store.EntriesForBook(ctx, bookID)
}
