// internal/state/db.go
package state

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	_ "modernc.org/sqlite"

	"github.com/user/keepsake/internal/retry"
	"github.com/user/keepsake/internal/types"
)

// Dialect selects the SQL flavour spoken by the underlying driver.
type Dialect string

const (
	DialectSQLite   Dialect = "sqlite"
	DialectPostgres Dialect = "postgres"
)

var openDB = sql.Open

// DB is the durable store. All components share one DB.
type DB struct {
	db        *sql.DB
	dialect   Dialect
	now       func() time.Time
	leaseTTL  time.Duration
	leasePoll time.Duration
}

// Option configures a DB.
type Option func(*DB)

// WithClock overrides the clock used for created_at/updated_at stamps.
func WithClock(now func() time.Time) Option {
	return func(s *DB) { s.now = now }
}

// WithLeaseTTL sets how long a lease outlives its last renewal.
func WithLeaseTTL(d time.Duration) Option {
	return func(s *DB) {
		if d > 0 {
			s.leaseTTL = d
		}
	}
}

// Open connects to the store, verifies it is reachable and bootstraps the
// schema. driver is "sqlite" or "postgres"; for sqlite, dsn may be a plain
// file path. An unreachable store is reported as types.ErrConfiguration.
func Open(ctx context.Context, driver, dsn string, opts ...Option) (*DB, error) {
	var (
		dialect    Dialect
		driverName string
	)
	switch strings.ToLower(driver) {
	case "sqlite", "sqlite3", "":
		dialect, driverName = DialectSQLite, "sqlite"
		dsn = sqliteDSN(dsn)
	case "postgres", "postgresql", "pgx":
		dialect, driverName = DialectPostgres, "pgx"
	default:
		return nil, fmt.Errorf("%w: unsupported database driver %q", types.ErrConfiguration, driver)
	}
	if dsn == "" {
		return nil, fmt.Errorf("%w: database dsn is required", types.ErrConfiguration)
	}

	db, err := openDB(driverName, dsn)
	if err != nil {
		return nil, fmt.Errorf("%w: open database: %v", types.ErrConfiguration, err)
	}
	if dialect == DialectSQLite {
		// One connection serialises writers and keeps transactions on the
		// same handle.
		db.SetMaxOpenConns(1)
	}

	err = retry.DefaultPolicy().Do(ctx, func(ctx context.Context) error {
		pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		return db.PingContext(pingCtx)
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("%w: ping database: %v", types.ErrConfiguration, err)
	}

	s := &DB{db: db, dialect: dialect, now: time.Now, leaseTTL: 30 * time.Second, leasePoll: 250 * time.Millisecond}
	for _, opt := range opts {
		opt(s)
	}
	if err := s.migrate(ctx); err != nil {
		db.Close()
		return nil, err
	}
	slog.Debug("store opened", "dialect", string(dialect))
	return s, nil
}

// sqliteDSN turns a bare path into a modernc DSN with WAL, foreign keys and
// a busy timeout. DSNs that already carry options are left alone.
func sqliteDSN(dsn string) string {
	if dsn == "" || strings.Contains(dsn, "?") || dsn == ":memory:" {
		return dsn
	}
	if !strings.HasPrefix(dsn, "file:") {
		dsn = "file:" + dsn
	}
	return dsn + "?_pragma=foreign_keys(1)&_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)"
}

// Close releases the underlying connection pool.
func (s *DB) Close() error {
	return s.db.Close()
}

// Dialect reports which SQL flavour the store speaks.
func (s *DB) Dialect() Dialect {
	return s.dialect
}

// Ping checks that the store is still reachable.
func (s *DB) Ping(ctx context.Context) error {
	if err := s.db.PingContext(ctx); err != nil {
		return fmt.Errorf("%w: ping database: %v", types.ErrConfiguration, err)
	}
	return nil
}

// q rewrites ? placeholders into $n for Postgres.
func (s *DB) q(query string) string {
	if s.dialect != DialectPostgres {
		return query
	}
	var b strings.Builder
	b.Grow(len(query) + 8)
	n := 0
	for i := 0; i < len(query); i++ {
		if query[i] == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteByte(query[i])
	}
	return b.String()
}

func (s *DB) withTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	if err := fn(tx); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

func toMillis(t time.Time) int64 {
	return t.UnixMilli()
}

func fromMillis(ms int64) time.Time {
	return time.UnixMilli(ms).UTC()
}

func nullMillis(ms sql.NullInt64) *time.Time {
	if !ms.Valid {
		return nil
	}
	t := fromMillis(ms.Int64)
	return &t
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func encodeMetadata(meta map[string]any) (string, error) {
	if len(meta) == 0 {
		return "{}", nil
	}
	data, err := json.Marshal(meta)
	if err != nil {
		return "", fmt.Errorf("encode metadata: %w", err)
	}
	return string(data), nil
}

func decodeMetadata(raw string) map[string]any {
	if raw == "" || raw == "{}" {
		return nil
	}
	var meta map[string]any
	if err := json.Unmarshal([]byte(raw), &meta); err != nil {
		slog.Warn("discarding unreadable message metadata", "error", err)
		return nil
	}
	return meta
}

// escapeLike escapes LIKE wildcards so user input matches literally.
func escapeLike(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return r.Replace(s)
}

func likePattern(s string) string {
	return "%" + strings.ToLower(escapeLike(s)) + "%"
}

func notFound(what string, err error) error {
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%w: %s", types.ErrNotFound, what)
	}
	return fmt.Errorf("load %s: %w", what, err)
}
