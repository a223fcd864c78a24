package store

import (
	"context"
	"database/sql"
	_ "embed"
	"fmt"
	"log/slog"
	"regexp"
	"sync"
	"time"

	"github.com/mattn/go-sqlite3"
)

//go:embed schema.sql
var schemaSQL string

// Schema version tracking:
// 0 - Initial schema (pre-migration)
// 1 - Added snapshots.head for superseded-snapshot tracking
const currentSchemaVersion = 1

// DriverName is the database/sql driver registered by this package: the
// cgo SQLite driver with a REGEXP function installed on every connection.
const DriverName = "sqlite3_evactor"

var registerOnce sync.Once

func registerDriver() {
	registerOnce.Do(func() {
		sql.Register(DriverName, &sqlite3.SQLiteDriver{
			ConnectHook: func(conn *sqlite3.SQLiteConn) error {
				return conn.RegisterFunc("regexp", matchRegexp, true)
			},
		})
	})
}

var (
	patternsMu sync.Mutex
	patterns   = map[string]*regexp.Regexp{}
)

// matchRegexp backs "value REGEXP pattern". SQLite calls it as
// regexp(pattern, value).
func matchRegexp(pattern, value string) (bool, error) {
	patternsMu.Lock()
	re, ok := patterns[pattern]
	if !ok {
		var err error
		re, err = regexp.Compile(pattern)
		if err != nil {
			patternsMu.Unlock()
			return false, fmt.Errorf("invalid pattern %q: %w", pattern, err)
		}
		patterns[pattern] = re
	}
	patternsMu.Unlock()
	return re.MatchString(value), nil
}

// Store is the SQLite reference adapter. It implements the actor store,
// the event store and search, including every optional operation.
// Uses SQLite with WAL mode for concurrent read access.
type Store struct {
	db     *sql.DB
	now    func() time.Time
	logger *slog.Logger
}

// Option configures a Store.
type Option func(*Store)

// WithClock sets the clock used for created_on stamps.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// WithLogger sets the store logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Store) { s.logger = l }
}

// Open creates or opens a SQLite database at the given path.
// Applies required pragmas and migrations automatically.
//
// The database is configured with:
//   - WAL mode for concurrent reads during writes
//   - NORMAL synchronous mode (balance durability/performance)
//   - 5-second busy timeout for lock contention
//   - Foreign key enforcement
//
// This function is idempotent - safe to call multiple times.
func Open(path string, opts ...Option) (*Store, error) {
	registerDriver()

	db, err := sql.Open(DriverName, path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	// SQLite only supports one writer at a time, so limit connections
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err := applyPragmas(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to apply pragmas: %w", err)
	}

	if err := applySchema(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to apply schema: %w", err)
	}

	s := &Store{db: db, now: time.Now, logger: slog.Default()}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

// applyPragmas sets required SQLite configuration.
func applyPragmas(db *sql.DB) error {
	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA busy_timeout = 5000",
		"PRAGMA foreign_keys = ON",
	}

	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			return fmt.Errorf("failed to execute %q: %w", pragma, err)
		}
	}

	return nil
}

// applySchema creates tables if they don't exist and runs migrations.
// This function is idempotent.
func applySchema(db *sql.DB) error {
	var version int
	if err := db.QueryRow("PRAGMA user_version").Scan(&version); err != nil {
		return fmt.Errorf("get user_version: %w", err)
	}

	// Databases from before v1 lack snapshots.head, which the schema
	// indexes, so migrate before applying it.
	if version < 1 {
		if err := migrateToV1(db); err != nil {
			return err
		}
	}

	if _, err := db.Exec(schemaSQL); err != nil {
		return fmt.Errorf("failed to execute schema: %w", err)
	}

	if _, err := db.Exec(fmt.Sprintf("PRAGMA user_version = %d", currentSchemaVersion)); err != nil {
		return fmt.Errorf("set user_version: %w", err)
	}
	return nil
}

// migrateToV1 adds snapshots.head to a snapshots table created before v1.
// A fresh database has no snapshots table yet and is left alone.
func migrateToV1(db *sql.DB) error {
	var exists int
	if err := db.QueryRow(`
		SELECT COUNT(*) FROM sqlite_master WHERE type = 'table' AND name = 'snapshots'
	`).Scan(&exists); err != nil {
		return fmt.Errorf("migrate to v1: %w", err)
	}
	if exists == 0 {
		return nil
	}

	var hasHead int
	if err := db.QueryRow(`
		SELECT COUNT(*) FROM pragma_table_info('snapshots') WHERE name = 'head'
	`).Scan(&hasHead); err != nil {
		return fmt.Errorf("migrate to v1: %w", err)
	}
	if hasHead > 0 {
		return nil
	}

	if _, err := db.Exec(`ALTER TABLE snapshots ADD COLUMN head INTEGER NOT NULL DEFAULT 1`); err != nil {
		return fmt.Errorf("migrate to v1: %w", err)
	}
	// Old databases recorded heads only implicitly through ancestry.
	if _, err := db.Exec(`
		UPDATE snapshots SET head = 0
		WHERE EXISTS (
			SELECT 1 FROM snapshots c
			WHERE c.system_id = snapshots.system_id AND c.ancestor = snapshots.vector
		)
	`); err != nil {
		return fmt.Errorf("migrate to v1: %w", err)
	}
	return nil
}

// verifyPragma checks that a pragma is set to the expected value.
// Used for testing.
func (s *Store) verifyPragma(name, expected string) error {
	var value string
	query := fmt.Sprintf("PRAGMA %s", name)
	if err := s.db.QueryRow(query).Scan(&value); err != nil {
		return fmt.Errorf("failed to query %s: %w", name, err)
	}
	if value != expected {
		return fmt.Errorf("%s = %q, expected %q", name, value, expected)
	}
	return nil
}

// inTx runs fn in a transaction, committing on success. Transactions that
// fail on lock contention are rolled back and run again.
func (s *Store) inTx(ctx context.Context, fn func(*sql.Tx) error) error {
	return retryOp(ctx, defaultRetryConfig, func() error {
		return s.runTx(ctx, fn)
	})
}

func (s *Store) runTx(ctx context.Context, fn func(*sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}
