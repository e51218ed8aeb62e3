package repositories

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

type pgBackend struct {
	pool *pgxpool.Pool
}

func newPGBackend(ctx context.Context, dsn string) (*pgBackend, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, err
	}
	return &pgBackend{pool: pool}, nil
}

type pgRows struct{ pgx.Rows }

func (r pgRows) Close() { r.Rows.Close() }

type pgQuerier struct {
	q interface {
		Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
		QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
		Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	}
}

func (p pgQuerier) exec(ctx context.Context, q string, args ...any) (int64, error) {
	tag, err := p.q.Exec(ctx, q, args...)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

func (p pgQuerier) queryRow(ctx context.Context, q string, args ...any) rowScanner {
	return p.q.QueryRow(ctx, q, args...)
}

func (p pgQuerier) query(ctx context.Context, q string, args ...any) (rowsIter, error) {
	rows, err := p.q.Query(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	return pgRows{rows}, nil
}

type pgTx struct {
	pgQuerier
	tx pgx.Tx
}

func (t pgTx) commit(ctx context.Context) error   { return t.tx.Commit(ctx) }
func (t pgTx) rollback(ctx context.Context) error { return t.tx.Rollback(ctx) }

func (b *pgBackend) exec(ctx context.Context, q string, args ...any) (int64, error) {
	return pgQuerier{b.pool}.exec(ctx, q, args...)
}

func (b *pgBackend) queryRow(ctx context.Context, q string, args ...any) rowScanner {
	return pgQuerier{b.pool}.queryRow(ctx, q, args...)
}

func (b *pgBackend) query(ctx context.Context, q string, args ...any) (rowsIter, error) {
	return pgQuerier{b.pool}.query(ctx, q, args...)
}

func (b *pgBackend) begin(ctx context.Context) (txHandle, error) {
	tx, err := b.pool.Begin(ctx)
	if err != nil {
		return nil, err
	}
	return pgTx{pgQuerier: pgQuerier{tx}, tx: tx}, nil
}

func (b *pgBackend) ping(ctx context.Context) error { return b.pool.Ping(ctx) }

func (b *pgBackend) close() error {
	b.pool.Close()
	return nil
}

func (b *pgBackend) name() string             { return "postgres" }
func (b *pgBackend) lockRowSuffix() string    { return " FOR UPDATE" }
func (b *pgBackend) skipLockedSuffix() string { return " FOR UPDATE SKIP LOCKED" }
func (b *pgBackend) schema() []string         { return postgresSchema }

func (b *pgBackend) isNoRows(err error) bool { return errors.Is(err, pgx.ErrNoRows) }

// isUniqueViolation matches SQLSTATE 23505.
func (b *pgBackend) isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}

// Stat exposes pool statistics for the deep health check.
func (b *pgBackend) stat() map[string]any {
	s := b.pool.Stat()
	return map[string]any{
		"total_conns":    s.TotalConns(),
		"idle_conns":     s.IdleConns(),
		"acquired_conns": s.AcquiredConns(),
	}
}
