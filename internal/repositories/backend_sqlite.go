package repositories

import (
	"context"
	"database/sql"
	"errors"
	"regexp"
	"strings"
	"time"

	"github.com/mattn/go-sqlite3"
)

// SQLite runs on a single connection: writers serialize, and a transaction
// never waits on another connection of the same process.
type sqliteBackend struct {
	db *sql.DB
}

func newSQLiteBackend(dsn string) (*sqliteBackend, error) {
	if !strings.Contains(dsn, "?") {
		dsn += "?_busy_timeout=5000&_foreign_keys=on&_journal_mode=WAL"
	}
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)
	return &sqliteBackend{db: db}, nil
}

var pgPlaceholder = regexp.MustCompile(`\$(\d+)`)

// rebind turns $n into ?n, which SQLite binds by the same ordinal.
func rebind(q string) string {
	return pgPlaceholder.ReplaceAllString(q, "?$1")
}

// sqliteTimeLayout is fixed-width so stored timestamps order as text.
const sqliteTimeLayout = "2006-01-02 15:04:05.000000000-07:00"

func bindArgs(args []any) []any {
	out := make([]any, len(args))
	for i, a := range args {
		switch v := a.(type) {
		case time.Time:
			out[i] = v.UTC().Format(sqliteTimeLayout)
		case *time.Time:
			if v == nil {
				out[i] = nil
			} else {
				out[i] = v.UTC().Format(sqliteTimeLayout)
			}
		default:
			out[i] = a
		}
	}
	return out
}

type sqlRows struct{ *sql.Rows }

func (r sqlRows) Close() { _ = r.Rows.Close() }

type sqlQuerier struct {
	q interface {
		ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
		QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
		QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	}
}

func (s sqlQuerier) exec(ctx context.Context, q string, args ...any) (int64, error) {
	res, err := s.q.ExecContext(ctx, rebind(q), bindArgs(args)...)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func (s sqlQuerier) queryRow(ctx context.Context, q string, args ...any) rowScanner {
	return s.q.QueryRowContext(ctx, rebind(q), bindArgs(args)...)
}

func (s sqlQuerier) query(ctx context.Context, q string, args ...any) (rowsIter, error) {
	rows, err := s.q.QueryContext(ctx, rebind(q), bindArgs(args)...)
	if err != nil {
		return nil, err
	}
	return sqlRows{rows}, nil
}

type sqlTx struct {
	sqlQuerier
	tx *sql.Tx
}

func (t sqlTx) commit(context.Context) error   { return t.tx.Commit() }
func (t sqlTx) rollback(context.Context) error { return t.tx.Rollback() }

func (b *sqliteBackend) exec(ctx context.Context, q string, args ...any) (int64, error) {
	return sqlQuerier{b.db}.exec(ctx, q, args...)
}

func (b *sqliteBackend) queryRow(ctx context.Context, q string, args ...any) rowScanner {
	return sqlQuerier{b.db}.queryRow(ctx, q, args...)
}

func (b *sqliteBackend) query(ctx context.Context, q string, args ...any) (rowsIter, error) {
	return sqlQuerier{b.db}.query(ctx, q, args...)
}

func (b *sqliteBackend) begin(ctx context.Context) (txHandle, error) {
	tx, err := b.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	return sqlTx{sqlQuerier: sqlQuerier{tx}, tx: tx}, nil
}

func (b *sqliteBackend) ping(ctx context.Context) error { return b.db.PingContext(ctx) }
func (b *sqliteBackend) close() error                   { return b.db.Close() }

func (b *sqliteBackend) name() string             { return "sqlite" }
func (b *sqliteBackend) lockRowSuffix() string    { return "" }
func (b *sqliteBackend) skipLockedSuffix() string { return "" }
func (b *sqliteBackend) schema() []string         { return sqliteSchema }

func (b *sqliteBackend) isNoRows(err error) bool { return errors.Is(err, sql.ErrNoRows) }

func (b *sqliteBackend) isUniqueViolation(err error) bool {
	var sqErr sqlite3.Error
	if errors.As(err, &sqErr) {
		return sqErr.ExtendedCode == sqlite3.ErrConstraintUnique ||
			sqErr.ExtendedCode == sqlite3.ErrConstraintPrimaryKey
	}
	return false
}
