package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	_ "modernc.org/sqlite"

	"specforge/internal/config"
)

// Store manages persistence backed by SQLite or Postgres.
type Store struct {
	*Queries
	db     *sqlx.DB
	driver string
	path   string
	clock  *clock
}

type clock struct {
	mu  sync.RWMutex
	now func() time.Time
}

func (c *clock) Now() time.Time {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.now().UTC()
}

// dbtx is satisfied by both *sqlx.DB and *sqlx.Tx.
type dbtx interface {
	sqlx.ExtContext
	GetContext(ctx context.Context, dest any, query string, args ...any) error
	SelectContext(ctx context.Context, dest any, query string, args ...any) error
}

// Queries executes statements against either the database or an open transaction.
type Queries struct {
	q      dbtx
	inTx   bool
	sqlite bool
	clock  *clock
}

const (
	sqliteBusyCode          = 5
	busyRetryAttempts       = 5
	busyRetryInitialBackoff = 10 * time.Millisecond
	busyRetryMaxBackoff     = 200 * time.Millisecond
)

// Open initializes or connects to the configured database.
func Open(cfg *config.Config) (*Store, error) {
	switch cfg.Store.Driver {
	case config.DriverPostgres:
		return openPostgres(cfg.Store.DSN)
	default:
		if err := os.MkdirAll(cfg.Paths.DataDir, 0o755); err != nil {
			return nil, fmt.Errorf("ensure data directory: %w", err)
		}
		return OpenSQLite(cfg.DatabasePath(), cfg.Store.BusyTimeoutMS)
	}
}

// OpenSQLite opens a SQLite database file, creating the schema when needed.
func OpenSQLite(path string, busyTimeoutMS int) (*Store, error) {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("ensure database directory: %w", err)
		}
	}
	if busyTimeoutMS <= 0 {
		busyTimeoutMS = 5000
	}
	params := url.Values{}
	params.Add("_pragma", fmt.Sprintf("busy_timeout(%d)", busyTimeoutMS))
	params.Add("_pragma", "journal_mode(WAL)")
	params.Add("_pragma", "foreign_keys(1)")
	params.Set("_txlock", "immediate")
	dsn := "file:" + path + "?" + params.Encode()

	db, err := sqlx.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	return finishOpen(db, "sqlite", path)
}

func openPostgres(dsn string) (*Store, error) {
	db, err := sqlx.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres db: %w", err)
	}
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	return finishOpen(db, "postgres", "")
}

func finishOpen(db *sqlx.DB, driver, path string) (*Store, error) {
	c := &clock{now: time.Now}
	store := &Store{
		db:     db,
		driver: driver,
		path:   path,
		clock:  c,
	}
	store.Queries = &Queries{q: db, sqlite: driver == "sqlite", clock: c}
	if err := store.initSchema(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return store, nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Driver reports the active database driver name.
func (s *Store) Driver() string {
	return s.driver
}

// SetClock replaces the time source used for persisted timestamps.
func (s *Store) SetClock(now func() time.Time) {
	s.clock.mu.Lock()
	defer s.clock.mu.Unlock()
	if now == nil {
		now = time.Now
	}
	s.clock.now = now
}

// Now returns the store's current UTC time.
func (s *Store) Now() time.Time {
	return s.clock.Now()
}

// WithTx runs fn inside a transaction. On SQLite the whole transaction is
// retried when the database is busy, so fn must not have side effects outside
// the transaction.
func (s *Store) WithTx(ctx context.Context, fn func(*Queries) error) error {
	ctx = ensureContext(ctx)
	run := func() error {
		tx, err := s.db.BeginTxx(ctx, nil)
		if err != nil {
			return fmt.Errorf("begin tx: %w", err)
		}
		defer func() { _ = tx.Rollback() }()
		if err := fn(&Queries{q: tx, inTx: true, sqlite: s.Queries.sqlite, clock: s.clock}); err != nil {
			return err
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("commit tx: %w", err)
		}
		return nil
	}
	if !s.Queries.sqlite {
		return run()
	}
	return retryOnBusy(ctx, run)
}

func ensureContext(ctx context.Context) context.Context {
	if ctx != nil {
		return ctx
	}
	return context.Background()
}

// isSQLiteBusy matches SQLITE_BUSY and its extended codes, falling back to
// the driver's message text.
func isSQLiteBusy(err error) bool {
	var coded interface{ Code() int }
	switch {
	case err == nil:
		return false
	case errors.As(err, &coded):
		return coded.Code()&0xff == sqliteBusyCode
	default:
		return strings.Contains(err.Error(), "SQLITE_BUSY") || strings.Contains(err.Error(), "database is locked")
	}
}

// retryOnBusy reruns op with exponential backoff while SQLite reports the
// database as locked. Other errors end the loop at once.
func retryOnBusy(ctx context.Context, op func() error) error {
	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = busyRetryInitialBackoff
	policy.MaxInterval = busyRetryMaxBackoff
	policy.MaxElapsedTime = 0
	schedule := backoff.WithContext(backoff.WithMaxRetries(policy, busyRetryAttempts-1), ctx)
	return backoff.Retry(func() error {
		err := op()
		if err != nil && !isSQLiteBusy(err) {
			return backoff.Permanent(err)
		}
		return err
	}, schedule)
}

func (q *Queries) now() time.Time {
	return q.clock.Now()
}

func (q *Queries) retry(ctx context.Context, op func() error) error {
	if q.inTx || !q.sqlite {
		return op()
	}
	return retryOnBusy(ctx, op)
}

func (q *Queries) exec(ctx context.Context, query string, args ...any) (sql.Result, error) {
	ctx = ensureContext(ctx)
	query = q.q.Rebind(query)
	var res sql.Result
	err := q.retry(ctx, func() error {
		var execErr error
		res, execErr = q.q.ExecContext(ctx, query, args...)
		return execErr
	})
	return res, err
}

// execAffected runs a conditional update and reports whether any row changed.
func (q *Queries) execAffected(ctx context.Context, query string, args ...any) (bool, error) {
	res, err := q.exec(ctx, query, args...)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// insertID runs an INSERT ... RETURNING id statement.
func (q *Queries) insertID(ctx context.Context, query string, args ...any) (int64, error) {
	ctx = ensureContext(ctx)
	query = q.q.Rebind(query)
	var id int64
	err := q.retry(ctx, func() error {
		return q.q.GetContext(ctx, &id, query, args...)
	})
	return id, err
}

func (q *Queries) get(ctx context.Context, dest any, query string, args ...any) error {
	ctx = ensureContext(ctx)
	query = q.q.Rebind(query)
	return q.retry(ctx, func() error {
		return q.q.GetContext(ctx, dest, query, args...)
	})
}

func (q *Queries) selectAll(ctx context.Context, dest any, query string, args ...any) error {
	ctx = ensureContext(ctx)
	query = q.q.Rebind(query)
	return q.retry(ctx, func() error {
		return q.q.SelectContext(ctx, dest, query, args...)
	})
}
