package library

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "library-lending/library"

// Engine owns the borrow/return transitions. Each book is either Available or
// Borrowed; the engine is the only writer of availability.
type Engine struct {
	store  Store
	locks  *BookLocks
	logger Logger
	tracer trace.Tracer
	now    func() time.Time
}

// EngineOption configures an Engine.
type EngineOption func(*Engine)

// WithLocks shares a lock table with the Catalog.
func WithLocks(locks *BookLocks) EngineOption {
	return func(e *Engine) { e.locks = locks }
}

func WithLogger(logger Logger) EngineOption {
	return func(e *Engine) { e.logger = logger }
}

func WithTracer(tracer trace.Tracer) EngineOption {
	return func(e *Engine) { e.tracer = tracer }
}

// WithClock overrides the time source used for ledger timestamps.
func WithClock(now func() time.Time) EngineOption {
	return func(e *Engine) { e.now = now }
}

func NewEngine(store Store, opts ...EngineOption) *Engine {
	e := &Engine{
		store:  store,
		logger: nopLogger{},
		tracer: otel.Tracer(tracerName),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.locks == nil {
		e.locks = NewBookLocks(DefaultLockWait)
	}
	return e
}

// Borrow lends bookID to userID.
func (e *Engine) Borrow(ctx context.Context, userID, bookID int64) (err error) {
	ctx, span := e.startSpan(ctx, "lending.borrow", userID, bookID)
	defer func() { endSpan(span, err) }()

	if _, err := e.store.GetActiveUser(ctx, userID); err != nil {
		return err
	}
	if _, err := e.store.GetActiveBook(ctx, bookID); err != nil {
		return err
	}

	release, err := e.locks.Acquire(ctx, bookID)
	if err != nil {
		return err
	}
	defer release()

	correlationID := uuid.New()
	err = e.store.Atomic(ctx, func(tx Store) error {
		book, err := tx.LockBook(ctx, bookID)
		if err != nil {
			return err
		}
		if !book.Available {
			return newConflictError(ErrAlreadyBorrowed, fmt.Sprintf("book %d is already borrowed", bookID))
		}
		if _, err := tx.LockUser(ctx, userID); err != nil {
			return err
		}
		if err := tx.SetAvailability(ctx, bookID, false); err != nil {
			return err
		}
		_, err = e.ledger(tx).Append(ctx, userID, bookID, ActionBorrow, correlationID)
		return err
	})
	if err != nil {
		e.logger.Debug("borrow rejected", "user_id", userID, "book_id", bookID, "error", err)
		return err
	}

	e.logger.Info("book borrowed", "user_id", userID, "book_id", bookID, "correlation_id", correlationID)
	return nil
}

// Return gives bookID back on behalf of userID, who must be its current
// holder.
func (e *Engine) Return(ctx context.Context, userID, bookID int64) (err error) {
	ctx, span := e.startSpan(ctx, "lending.return", userID, bookID)
	defer func() { endSpan(span, err) }()

	if _, err := e.store.GetActiveUser(ctx, userID); err != nil {
		return err
	}
	if _, err := e.store.GetActiveBook(ctx, bookID); err != nil {
		return err
	}
	last, err := e.store.LastEntryForBook(ctx, bookID)
	if err != nil {
		return err
	}
	if err := checkReturnable(last, userID, bookID); err != nil {
		return err
	}

	release, err := e.locks.Acquire(ctx, bookID)
	if err != nil {
		return err
	}
	defer release()

	correlationID := uuid.New()
	err = e.store.Atomic(ctx, func(tx Store) error {
		if _, err := tx.LockBook(ctx, bookID); err != nil {
			return err
		}
		// Another return may have committed between the check above and the lock.
		last, err := tx.LastEntryForBook(ctx, bookID)
		if err != nil {
			return err
		}
		if err := checkReturnable(last, userID, bookID); err != nil {
			return err
		}
		if err := tx.SetAvailability(ctx, bookID, true); err != nil {
			return err
		}
		_, err = e.ledger(tx).Append(ctx, userID, bookID, ActionReturn, correlationID)
		return err
	})
	if err != nil {
		e.logger.Debug("return rejected", "user_id", userID, "book_id", bookID, "error", err)
		return err
	}

	e.logger.Info("book returned", "user_id", userID, "book_id", bookID, "correlation_id", correlationID)
	return nil
}

// IsAvailable reports the availability flag of an active book.
func (e *Engine) IsAvailable(ctx context.Context, bookID int64) (bool, error) {
	b, err := e.store.GetActiveBook(ctx, bookID)
	if err != nil {
		return false, err
	}
	return b.Available, nil
}

// CurrentHolder returns the user holding bookID according to the ledger.
func (e *Engine) CurrentHolder(ctx context.Context, bookID int64) (int64, bool, error) {
	if _, err := e.store.GetActiveBook(ctx, bookID); err != nil {
		return 0, false, err
	}
	return e.ledger(e.store).CurrentHolder(ctx, bookID)
}

func (e *Engine) ledger(store LedgerStore) *Ledger {
	l := NewLedger(store)
	l.now = e.now
	return l
}

func checkReturnable(last *TransactionEntry, userID, bookID int64) error {
	if last == nil {
		return newNoRecordError(bookID)
	}
	if !last.HeldBy(userID) {
		return newUnauthorizedError(fmt.Sprintf("user %d is not the current holder of book %d", userID, bookID))
	}
	return nil
}

func (e *Engine) startSpan(ctx context.Context, name string, userID, bookID int64) (context.Context, trace.Span) {
	return e.tracer.Start(ctx, name, trace.WithAttributes(
		attribute.Int64("library.user_id", userID),
		attribute.Int64("library.book_id", bookID),
	))
}

func endSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}
