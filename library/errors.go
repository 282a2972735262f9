package library

import (
	"errors"
	"fmt"
)

// Error kinds returned by the catalog, registry, ledger and lending engine.
// All of them are recoverable: the operation that returned one left the
// stored state untouched.
var (
	ErrNotFound     = errors.New("not found")
	ErrConflict     = errors.New("conflict")
	ErrUnauthorized = errors.New("unauthorized")
	ErrNoRecord     = errors.New("no borrow record")
	ErrStorage      = errors.New("storage error")
	ErrBusy         = errors.New("busy")
	ErrInvalidInput = errors.New("invalid input")
)

// Conflict refinements.
var (
	ErrAlreadyBorrowed = fmt.Errorf("%w: book already borrowed", ErrConflict)
	ErrBookOnLoan      = fmt.Errorf("%w: book is currently lent out", ErrConflict)
	ErrUserHoldsBooks  = fmt.Errorf("%w: user holds borrowed books", ErrConflict)
)

const (
	CodeNotFound     = "NOT_FOUND"
	CodeConflict     = "CONFLICT"
	CodeUnauthorized = "UNAUTHORIZED"
	CodeNoRecord     = "NO_RECORD"
	CodeStorage      = "STORAGE_ERROR"
	CodeBusy         = "BUSY"
	CodeInvalidInput = "INVALID_INPUT"
)

// Error is the structured error value handed to callers.
type Error struct {
	Code    string
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s (%v)", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// UserMessage returns the message without wrapped internals.
func (e *Error) UserMessage() string { return e.Message }

func (e *Error) Unwrap() error { return e.Err }

func newNotFoundError(entity string, id int64) error {
	return &Error{
		Code:    CodeNotFound,
		Message: fmt.Sprintf("%s %d not found", entity, id),
		Err:     ErrNotFound,
	}
}

func newConflictError(reason error, message string) error {
	return &Error{Code: CodeConflict, Message: message, Err: reason}
}

func newUnauthorizedError(message string) error {
	return &Error{Code: CodeUnauthorized, Message: message, Err: ErrUnauthorized}
}

func newNoRecordError(bookID int64) error {
	return &Error{
		Code:    CodeNoRecord,
		Message: fmt.Sprintf("book %d has no borrow record", bookID),
		Err:     ErrNoRecord,
	}
}

func newInvalidInputError(message string) error {
	return &Error{Code: CodeInvalidInput, Message: message, Err: ErrInvalidInput}
}

func newBusyError(message string, cause error) error {
	err := ErrBusy
	if cause != nil {
		err = fmt.Errorf("%w: %w", ErrBusy, cause)
	}
	return &Error{Code: CodeBusy, Message: message, Err: err}
}

// newStorageError wraps an I/O or commit failure. Errors that already carry a
// kind pass through untouched so a NotFound raised inside a transaction is not
// reclassified on the way out.
func newStorageError(op string, cause error) error {
	if cause == nil {
		return nil
	}
	var le *Error
	if errors.As(cause, &le) {
		return cause
	}
	return &Error{
		Code:    CodeStorage,
		Message: op + " failed",
		Err:     fmt.Errorf("%w: %w", ErrStorage, cause),
	}
}

func IsNotFound(err error) bool     { return errors.Is(err, ErrNotFound) }
func IsConflict(err error) bool     { return errors.Is(err, ErrConflict) }
func IsUnauthorized(err error) bool { return errors.Is(err, ErrUnauthorized) }
func IsNoRecord(err error) bool     { return errors.Is(err, ErrNoRecord) }
func IsStorage(err error) bool      { return errors.Is(err, ErrStorage) }
func IsBusy(err error) bool         { return errors.Is(err, ErrBusy) }
func IsInvalidInput(err error) bool { return errors.Is(err, ErrInvalidInput) }
