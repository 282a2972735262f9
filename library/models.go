package library

import (
	"time"

	"github.com/google/uuid"
)

// Status is the lifecycle state of a book or user. Deleted records stay in
// storage but are invisible to every active-scope query.
type Status string

const (
	StatusActive  Status = "active"
	StatusDeleted Status = "deleted"
)

// Action is the kind of a ledger entry.
type Action string

const (
	ActionBorrow Action = "BORROW"
	ActionReturn Action = "RETURN"
)

// Valid reports whether a is one of the known ledger actions.
func (a Action) Valid() bool {
	return a == ActionBorrow || a == ActionReturn
}

// Book represents a catalog entry and its current availability.
type Book struct {
	ID        int64  `json:"id" db:"id"`
	Title     string `json:"title" db:"title"`
	Author    string `json:"author" db:"author"`
	Available bool   `json:"available" db:"available"`
	Status    Status `json:"status" db:"status"`
}

// User represents a registered library user.
type User struct {
	ID           int64  `json:"id" db:"id"`
	Name         string `json:"name" db:"name"`
	PasswordHash string `json:"-" db:"password_hash"` // Don't serialize password hash
	Status       Status `json:"status" db:"status"`
}

// HasPassword reports whether the user has a credential set.
func (u *User) HasPassword() bool { return u.PasswordHash != "" }

// TransactionEntry is one immutable ledger record. Seq is assigned by the
// store and is the only ordering used to decide a book's last action.
type TransactionEntry struct {
	Seq           int64     `json:"seq"`
	UserID        int64     `json:"user_id"`
	BookID        int64     `json:"book_id"`
	Action        Action    `json:"action"`
	OccurredAt    time.Time `json:"occurred_at"`
	CorrelationID uuid.UUID `json:"correlation_id"`
}

// HeldBy reports whether the entry makes userID the current holder of the book.
func (e *TransactionEntry) HeldBy(userID int64) bool {
	return e.Action == ActionBorrow && e.UserID == userID
}
