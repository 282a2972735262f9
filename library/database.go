package library

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/doug-martin/goqu/v9"
	_ "github.com/doug-martin/goqu/v9/dialect/postgres" // dialect registration
	_ "github.com/doug-martin/goqu/v9/dialect/sqlite3"  // dialect registration
	"github.com/doug-martin/goqu/v9/exp"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib" // registers "pgx"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/mattn/go-sqlite3"
	"github.com/pkg/errors"
	"modernc.org/sqlite"
)

// Supported database/sql driver names.
const (
	DriverSQLite3  = "sqlite3"  // github.com/mattn/go-sqlite3
	DriverSQLite   = "sqlite"   // modernc.org/sqlite
	DriverPostgres = "postgres" // github.com/lib/pq
	DriverPGX      = "pgx"      // github.com/jackc/pgx/v5/stdlib
)

const (
	tableMeta         = "meta"
	tableBooks        = "books"
	tableUsers        = "users"
	tableTransactions = "transactions"

	sqliteBusy       = 5
	sqliteLocked     = 6
	pgLockNotAvail   = "55P03"
	pgLockTimeoutFmt = "SET LOCAL lock_timeout = '%dms'"
)

// DatabaseOptions selects and tunes the SQL backend.
type DatabaseOptions struct {
	Driver string
	// DSN is used as-is for postgres drivers. For SQLite drivers Path is used
	// instead when DSN is empty.
	DSN             string
	Path            string
	MaxOpenConns    int
	ConnMaxLifetime time.Duration
	// LockWait bounds row-lock waits on Postgres.
	LockWait time.Duration
	Logger   Logger
}

// Database is a Store backed by a SQL database.
type Database struct {
	*sqlStore
	db *sqlx.DB
}

// sqlStore implements every store method against either the pool or an open
// transaction.
type sqlStore struct {
	q        sqlx.ExtContext
	dialect  goqu.DialectWrapper
	postgres bool
	lockWait time.Duration
	logger   Logger
	db       *sqlx.DB // nil inside a transaction
}

// NewDatabase opens (or creates) the SQLite database at dbPath with the
// default driver and applies schema migrations.
func NewDatabase(dbPath string) (*Database, error) {
	return OpenDatabase(context.Background(), DatabaseOptions{Driver: DriverSQLite3, Path: dbPath})
}

// OpenDatabase connects to the configured backend and applies migrations.
func OpenDatabase(ctx context.Context, opts DatabaseOptions) (*Database, error) {
	if opts.Logger == nil {
		opts.Logger = nopLogger{}
	}

	dsn, err := buildDSN(opts)
	if err != nil {
		return nil, err
	}

	db, err := sqlx.Open(opts.Driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", opts.Driver, err)
	}
	if opts.MaxOpenConns > 0 {
		db.SetMaxOpenConns(opts.MaxOpenConns)
	}
	if opts.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(opts.ConnMaxLifetime)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping %s: %w", opts.Driver, err)
	}

	isPostgres := opts.Driver == DriverPostgres || opts.Driver == DriverPGX
	dialect := "sqlite3"
	if isPostgres {
		dialect = "postgres"
	}

	d := &Database{
		db: db,
		sqlStore: &sqlStore{
			q:        db,
			dialect:  goqu.Dialect(dialect),
			postgres: isPostgres,
			lockWait: opts.LockWait,
			logger:   opts.Logger,
			db:       db,
		},
	}
	if err := d.applyMigrations(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return d, nil
}

func buildDSN(opts DatabaseOptions) (string, error) {
	switch opts.Driver {
	case DriverSQLite3, DriverSQLite:
		if opts.DSN != "" {
			return opts.DSN, nil
		}
		if opts.Path == "" {
			return "", fmt.Errorf("sqlite database path is required")
		}
		// Ensure directory exists so first-run succeeds.
		if dir := filepath.Dir(opts.Path); dir != "." {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return "", fmt.Errorf("create db dir: %w", err)
			}
		}
		// Writers take the database lock at BEGIN so that concurrent
		// processes serialise instead of failing on upgrade.
		if opts.Driver == DriverSQLite3 {
			return fmt.Sprintf("file:%s?_busy_timeout=5000&_foreign_keys=1&_txlock=immediate", opts.Path), nil
		}
		return fmt.Sprintf("file:%s?_pragma=busy_timeout(5000)&_pragma=foreign_keys(1)&_txlock=immediate", opts.Path), nil
	case DriverPostgres, DriverPGX:
		if opts.DSN == "" {
			return "", fmt.Errorf("%s requires a dsn", opts.Driver)
		}
		return opts.DSN, nil
	default:
		return "", fmt.Errorf("unsupported driver %q", opts.Driver)
	}
}

// Close closes the DB.
func (d *Database) Close() error {
	return d.db.Close()
}

// ---------------------------------------------------------------------------
// Schema migration
// ---------------------------------------------------------------------------

const schemaVersion = 1

var sqliteSchema = []string{
	`CREATE TABLE IF NOT EXISTS users (
        id INTEGER PRIMARY KEY AUTOINCREMENT,
        name TEXT NOT NULL,
        password_hash TEXT NOT NULL DEFAULT '',
        status TEXT NOT NULL DEFAULT 'active'
    );`,
	`CREATE TABLE IF NOT EXISTS books (
        id INTEGER PRIMARY KEY AUTOINCREMENT,
        title TEXT NOT NULL,
        author TEXT NOT NULL,
        available BOOLEAN NOT NULL DEFAULT 1,
        status TEXT NOT NULL DEFAULT 'active'
    );`,
	`CREATE TABLE IF NOT EXISTS transactions (
        seq INTEGER PRIMARY KEY AUTOINCREMENT,
        user_id INTEGER NOT NULL REFERENCES users(id),
        book_id INTEGER NOT NULL REFERENCES books(id),
        action TEXT NOT NULL CHECK (action IN ('BORROW','RETURN')),
        occurred_at INTEGER NOT NULL,
        correlation_id TEXT NOT NULL
    );`,
	`CREATE INDEX IF NOT EXISTS idx_transactions_book_seq ON transactions(book_id, seq);`,
	`CREATE INDEX IF NOT EXISTS idx_transactions_user ON transactions(user_id);`,
}

var postgresSchema = []string{
	`CREATE TABLE IF NOT EXISTS users (
        id BIGSERIAL PRIMARY KEY,
        name TEXT NOT NULL,
        password_hash TEXT NOT NULL DEFAULT '',
        status TEXT NOT NULL DEFAULT 'active'
    );`,
	`CREATE TABLE IF NOT EXISTS books (
        id BIGSERIAL PRIMARY KEY,
        title TEXT NOT NULL,
        author TEXT NOT NULL,
        available BOOLEAN NOT NULL DEFAULT TRUE,
        status TEXT NOT NULL DEFAULT 'active'
    );`,
	`CREATE TABLE IF NOT EXISTS transactions (
        seq BIGSERIAL PRIMARY KEY,
        user_id BIGINT NOT NULL REFERENCES users(id),
        book_id BIGINT NOT NULL REFERENCES books(id),
        action TEXT NOT NULL CHECK (action IN ('BORROW','RETURN')),
        occurred_at BIGINT NOT NULL,
        correlation_id UUID NOT NULL
    );`,
	`CREATE INDEX IF NOT EXISTS idx_transactions_book_seq ON transactions(book_id, seq);`,
	`CREATE INDEX IF NOT EXISTS idx_transactions_user ON transactions(user_id);`,
}

func (d *Database) applyMigrations(ctx context.Context) error {
	if !d.postgres {
		// WAL improves write concurrency.
		if _, err := d.db.ExecContext(ctx, "PRAGMA journal_mode=WAL;"); err != nil {
			return fmt.Errorf("enable WAL: %w", err)
		}
	}

	if _, err := d.db.ExecContext(ctx, `CREATE TABLE IF NOT EXISTS meta (key TEXT PRIMARY KEY, value TEXT);`); err != nil {
		return err
	}

	current, err := d.schemaVersion(ctx)
	if err != nil {
		return err
	}
	if current >= schemaVersion {
		return nil
	}

	stmts := sqliteSchema
	if d.postgres {
		stmts = postgresSchema
	}

	return d.Atomic(ctx, func(tx Store) error {
		q := tx.(*sqlStore).q
		for _, stmt := range stmts {
			if _, err := q.ExecContext(ctx, stmt); err != nil {
				return fmt.Errorf("apply migration: %w", err)
			}
		}
		upsert, args, err := d.dialect.Insert(tableMeta).
			Rows(goqu.Record{"key": "schema_version", "value": strconv.Itoa(schemaVersion)}).
			OnConflict(goqu.DoUpdate("key", goqu.Record{"value": goqu.L("excluded.value")})).
			Prepared(true).ToSQL()
		if err != nil {
			return err
		}
		_, err = q.ExecContext(ctx, upsert, args...)
		return err
	})
}

func (d *Database) schemaVersion(ctx context.Context) (int, error) {
	query, args, err := d.dialect.From(tableMeta).Select("value").
		Where(goqu.Ex{"key": "schema_version"}).Prepared(true).ToSQL()
	if err != nil {
		return 0, err
	}
	var value string
	err = d.db.QueryRowxContext(ctx, query, args...).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("read schema version: %w", err)
	}
	return strconv.Atoi(value)
}

// ---------------------------------------------------------------------------
// Transactions
// ---------------------------------------------------------------------------

// Atomic runs fn inside a database transaction and commits when fn succeeds.
func (s *sqlStore) Atomic(ctx context.Context, fn func(tx Store) error) error {
	if s.db == nil {
		return fn(s)
	}

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return classify("begin transaction", err)
	}
	defer tx.Rollback()

	if s.postgres && s.lockWait > 0 {
		if _, err := tx.ExecContext(ctx, fmt.Sprintf(pgLockTimeoutFmt, s.lockWait.Milliseconds())); err != nil {
			return classify("set lock timeout", err)
		}
	}

	view := &sqlStore{
		q:        tx,
		dialect:  s.dialect,
		postgres: s.postgres,
		lockWait: s.lockWait,
		logger:   s.logger,
	}
	if err := fn(view); err != nil {
		return classify("transaction", err)
	}
	if err := tx.Commit(); err != nil {
		return classify("commit", err)
	}
	return nil
}

// Close is a no-op on a transactional view.
func (s *sqlStore) Close() error { return nil }

// classify maps driver errors onto the library's error kinds.
func classify(op string, err error) error {
	if err == nil {
		return nil
	}
	var le *Error
	if errors.As(err, &le) {
		return err
	}
	if isBusyErr(err) {
		return newBusyError(op+": database is locked", err)
	}
	return newStorageError(op, err)
}

func isBusyErr(err error) bool {
	var mattnErr sqlite3.Error
	if errors.As(err, &mattnErr) {
		return mattnErr.Code == sqlite3.ErrBusy || mattnErr.Code == sqlite3.ErrLocked
	}
	var moderncErr *sqlite.Error
	if errors.As(err, &moderncErr) {
		code := moderncErr.Code() & 0xff
		return code == sqliteBusy || code == sqliteLocked
	}
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return string(pqErr.Code) == pgLockNotAvail
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == pgLockNotAvail
	}
	return false
}

// ---------------------------------------------------------------------------
// Query helpers
// ---------------------------------------------------------------------------

type sqlBuilder interface {
	ToSQL() (string, []interface{}, error)
}

func (s *sqlStore) build(b sqlBuilder) (string, []interface{}, error) {
	query, args, err := b.ToSQL()
	if err != nil {
		return "", nil, errors.Wrap(err, "build query")
	}
	s.logger.Debug("executing sql", "query", query)
	return query, args, nil
}

func (s *sqlStore) get(ctx context.Context, dest any, ds *goqu.SelectDataset) error {
	query, args, err := s.build(ds.Prepared(true))
	if err != nil {
		return err
	}
	return sqlx.GetContext(ctx, s.q, dest, query, args...)
}

func (s *sqlStore) selectAll(ctx context.Context, dest any, ds *goqu.SelectDataset) error {
	query, args, err := s.build(ds.Prepared(true))
	if err != nil {
		return err
	}
	return sqlx.SelectContext(ctx, s.q, dest, query, args...)
}

// exec runs an UPDATE against a single active row; zero affected rows means
// the row does not exist or was soft-deleted.
func (s *sqlStore) execActive(ctx context.Context, op, entity string, id int64, ds *goqu.UpdateDataset) error {
	query, args, err := s.build(ds.Prepared(true))
	if err != nil {
		return classify(op, err)
	}
	res, err := s.q.ExecContext(ctx, query, args...)
	if err != nil {
		return classify(op, errors.Wrap(err, op))
	}
	n, err := res.RowsAffected()
	if err != nil {
		return classify(op, errors.Wrap(err, "rows affected"))
	}
	if n == 0 {
		return newNotFoundError(entity, id)
	}
	return nil
}

// insert runs an INSERT and returns the generated id. lib/pq has no
// LastInsertId, so Postgres uses RETURNING.
func (s *sqlStore) insert(ctx context.Context, op string, ds *goqu.InsertDataset, idCol string) (int64, error) {
	if s.postgres {
		query, args, err := s.build(ds.Returning(idCol).Prepared(true))
		if err != nil {
			return 0, classify(op, err)
		}
		var id int64
		if err := s.q.QueryRowxContext(ctx, query, args...).Scan(&id); err != nil {
			return 0, classify(op, errors.Wrap(err, op))
		}
		return id, nil
	}
	query, args, err := s.build(ds.Prepared(true))
	if err != nil {
		return 0, classify(op, err)
	}
	res, err := s.q.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, classify(op, errors.Wrap(err, op))
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, classify(op, errors.Wrap(err, "last insert id"))
	}
	return id, nil
}

func activeOnly(id int64) goqu.Ex {
	return goqu.Ex{"id": id, "status": string(StatusActive)}
}

// ---------------------------------------------------------------------------
// Books
// ---------------------------------------------------------------------------

var bookCols = []interface{}{"id", "title", "author", "available", "status"}

func (s *sqlStore) fetchBook(ctx context.Context, id int64, forUpdate bool) (*Book, error) {
	ds := s.dialect.From(tableBooks).Select(bookCols...).Where(activeOnly(id))
	if forUpdate && s.postgres {
		ds = ds.ForUpdate(exp.Wait)
	}
	var b Book
	err := s.get(ctx, &b, ds)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, newNotFoundError("book", id)
	}
	if err != nil {
		return nil, classify("select book", errors.Wrap(err, "select book"))
	}
	return &b, nil
}

func (s *sqlStore) GetActiveBook(ctx context.Context, id int64) (*Book, error) {
	return s.fetchBook(ctx, id, false)
}

func (s *sqlStore) LockBook(ctx context.Context, id int64) (*Book, error) {
	return s.fetchBook(ctx, id, true)
}

// ListActiveBooks returns active books ordered by id.
func (s *sqlStore) ListActiveBooks(ctx context.Context) ([]*Book, error) {
	ds := s.dialect.From(tableBooks).Select(bookCols...).
		Where(goqu.Ex{"status": string(StatusActive)}).
		Order(goqu.C("id").Asc())
	var books []*Book
	if err := s.selectAll(ctx, &books, ds); err != nil {
		return nil, classify("list books", errors.Wrap(err, "list books"))
	}
	return books, nil
}

func (s *sqlStore) CreateBook(ctx context.Context, title, author string) (*Book, error) {
	ds := s.dialect.Insert(tableBooks).Rows(goqu.Record{
		"title":     title,
		"author":    author,
		"available": true,
		"status":    string(StatusActive),
	})
	id, err := s.insert(ctx, "insert book", ds, "id")
	if err != nil {
		return nil, err
	}
	return &Book{ID: id, Title: title, Author: author, Available: true, Status: StatusActive}, nil
}

func (s *sqlStore) SetAvailability(ctx context.Context, id int64, available bool) error {
	ds := s.dialect.Update(tableBooks).Set(goqu.Record{"available": available}).Where(activeOnly(id))
	return s.execActive(ctx, "update availability", "book", id, ds)
}

func (s *sqlStore) UpdateFields(ctx context.Context, id int64, title, author string) error {
	ds := s.dialect.Update(tableBooks).Set(goqu.Record{"title": title, "author": author}).Where(activeOnly(id))
	return s.execActive(ctx, "update book", "book", id, ds)
}

func (s *sqlStore) SoftDeleteBook(ctx context.Context, id int64) error {
	ds := s.dialect.Update(tableBooks).Set(goqu.Record{"status": string(StatusDeleted)}).Where(activeOnly(id))
	return s.execActive(ctx, "delete book", "book", id, ds)
}

// ---------------------------------------------------------------------------
// Users
// ---------------------------------------------------------------------------

var userCols = []interface{}{"id", "name", "password_hash", "status"}

func (s *sqlStore) fetchUser(ctx context.Context, id int64, forUpdate bool) (*User, error) {
	ds := s.dialect.From(tableUsers).Select(userCols...).Where(activeOnly(id))
	if forUpdate && s.postgres {
		ds = ds.ForUpdate(exp.Wait)
	}
	var u User
	err := s.get(ctx, &u, ds)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, newNotFoundError("user", id)
	}
	if err != nil {
		return nil, classify("select user", errors.Wrap(err, "select user"))
	}
	return &u, nil
}

func (s *sqlStore) GetActiveUser(ctx context.Context, id int64) (*User, error) {
	return s.fetchUser(ctx, id, false)
}

func (s *sqlStore) LockUser(ctx context.Context, id int64) (*User, error) {
	return s.fetchUser(ctx, id, true)
}

func (s *sqlStore) ListActiveUsers(ctx context.Context) ([]*User, error) {
	ds := s.dialect.From(tableUsers).Select(userCols...).
		Where(goqu.Ex{"status": string(StatusActive)}).
		Order(goqu.C("id").Asc())
	var users []*User
	if err := s.selectAll(ctx, &users, ds); err != nil {
		return nil, classify("list users", errors.Wrap(err, "list users"))
	}
	return users, nil
}

func (s *sqlStore) CreateUser(ctx context.Context, name string) (*User, error) {
	ds := s.dialect.Insert(tableUsers).Rows(goqu.Record{
		"name":          name,
		"password_hash": "",
		"status":        string(StatusActive),
	})
	id, err := s.insert(ctx, "insert user", ds, "id")
	if err != nil {
		return nil, err
	}
	return &User{ID: id, Name: name, Status: StatusActive}, nil
}

func (s *sqlStore) UpdateName(ctx context.Context, id int64, name string) error {
	ds := s.dialect.Update(tableUsers).Set(goqu.Record{"name": name}).Where(activeOnly(id))
	return s.execActive(ctx, "update user", "user", id, ds)
}

func (s *sqlStore) SetPasswordHash(ctx context.Context, id int64, hash string) error {
	ds := s.dialect.Update(tableUsers).Set(goqu.Record{"password_hash": hash}).Where(activeOnly(id))
	return s.execActive(ctx, "update password", "user", id, ds)
}

func (s *sqlStore) SoftDeleteUser(ctx context.Context, id int64) error {
	ds := s.dialect.Update(tableUsers).Set(goqu.Record{"status": string(StatusDeleted)}).Where(activeOnly(id))
	return s.execActive(ctx, "delete user", "user", id, ds)
}

// ---------------------------------------------------------------------------
// Ledger
// ---------------------------------------------------------------------------

var entryCols = []interface{}{"seq", "user_id", "book_id", "action", "occurred_at", "correlation_id"}

type entryRow struct {
	Seq           int64  `db:"seq"`
	UserID        int64  `db:"user_id"`
	BookID        int64  `db:"book_id"`
	Action        string `db:"action"`
	OccurredAt    int64  `db:"occurred_at"`
	CorrelationID string `db:"correlation_id"`
}

func (r entryRow) entry() (TransactionEntry, error) {
	cid, err := uuid.Parse(r.CorrelationID)
	if err != nil {
		return TransactionEntry{}, errors.Wrapf(err, "ledger entry %d", r.Seq)
	}
	return TransactionEntry{
		Seq:           r.Seq,
		UserID:        r.UserID,
		BookID:        r.BookID,
		Action:        Action(r.Action),
		OccurredAt:    time.Unix(0, r.OccurredAt).UTC(),
		CorrelationID: cid,
	}, nil
}

func (s *sqlStore) Append(ctx context.Context, entry TransactionEntry) (TransactionEntry, error) {
	ds := s.dialect.Insert(tableTransactions).Rows(goqu.Record{
		"user_id":        entry.UserID,
		"book_id":        entry.BookID,
		"action":         string(entry.Action),
		"occurred_at":    entry.OccurredAt.UnixNano(),
		"correlation_id": entry.CorrelationID.String(),
	})
	seq, err := s.insert(ctx, "append ledger entry", ds, "seq")
	if err != nil {
		return TransactionEntry{}, err
	}
	entry.Seq = seq
	return entry, nil
}

func (s *sqlStore) LastEntryForBook(ctx context.Context, bookID int64) (*TransactionEntry, error) {
	ds := s.dialect.From(tableTransactions).Select(entryCols...).
		Where(goqu.Ex{"book_id": bookID}).
		Order(goqu.C("seq").Desc()).
		Limit(1)
	var row entryRow
	err := s.get(ctx, &row, ds)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, classify("select last entry", errors.Wrap(err, "select last entry"))
	}
	e, err := row.entry()
	if err != nil {
		return nil, classify("decode ledger entry", err)
	}
	return &e, nil
}

func (s *sqlStore) EntriesForBook(ctx context.Context, bookID int64) ([]TransactionEntry, error) {
	ds := s.dialect.From(tableTransactions).Select(entryCols...).
		Where(goqu.Ex{"book_id": bookID}).
		Order(goqu.C("seq").Asc())
	var rows []entryRow
	if err := s.selectAll(ctx, &rows, ds); err != nil {
		return nil, classify("list ledger entries", errors.Wrap(err, "list ledger entries"))
	}
	entries := make([]TransactionEntry, 0, len(rows))
	for _, r := range rows {
		e, err := r.entry()
		if err != nil {
			return nil, classify("decode ledger entry", err)
		}
		entries = append(entries, e)
	}
	return entries, nil
}

// BooksHeldBy selects unavailable books whose newest ledger row is a BORROW
// by userID. Older rows for the same book are ignored, so a user who returned
// a book that somebody else borrowed later is not counted.
func (s *sqlStore) BooksHeldBy(ctx context.Context, userID int64) ([]int64, error) {
	latest := s.dialect.From(goqu.T(tableTransactions).As("t2")).
		Select(goqu.MAX(goqu.I("t2.seq"))).
		Where(goqu.I("t2.book_id").Eq(goqu.I("t.book_id")))

	ds := s.dialect.From(goqu.T(tableTransactions).As("t")).
		Join(goqu.T(tableBooks).As("b"), goqu.On(goqu.I("b.id").Eq(goqu.I("t.book_id")))).
		Select(goqu.I("t.book_id")).
		Where(
			goqu.I("t.seq").Eq(latest),
			goqu.I("t.user_id").Eq(userID),
			goqu.I("t.action").Eq(string(ActionBorrow)),
			goqu.I("b.available").Eq(false),
		).
		Order(goqu.I("t.book_id").Asc())

	var ids []int64
	if err := s.selectAll(ctx, &ids, ds); err != nil {
		return nil, classify("select held books", errors.Wrap(err, "select held books"))
	}
	return ids, nil
}
