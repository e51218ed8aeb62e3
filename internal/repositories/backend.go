package repositories

import "context"

// rowScanner is satisfied by pgx.Row and *sql.Row.
type rowScanner interface {
	Scan(dest ...any) error
}

type rowsIter interface {
	Next() bool
	Scan(dest ...any) error
	Err() error
	Close()
}

// querier is the statement surface shared by a connection pool and a
// transaction. Queries are written with $n placeholders.
type querier interface {
	exec(ctx context.Context, q string, args ...any) (int64, error)
	queryRow(ctx context.Context, q string, args ...any) rowScanner
	query(ctx context.Context, q string, args ...any) (rowsIter, error)
}

type txHandle interface {
	querier
	commit(ctx context.Context) error
	rollback(ctx context.Context) error
}

// backend hides the difference between pgx and database/sql.
type backend interface {
	querier
	begin(ctx context.Context) (txHandle, error)
	ping(ctx context.Context) error
	close() error

	name() string
	// lockRowSuffix is appended to a single-row SELECT that must lock the row
	// for the rest of the transaction.
	lockRowSuffix() string
	// skipLockedSuffix is appended to the claim sub-select.
	skipLockedSuffix() string
	schema() []string

	isNoRows(err error) bool
	isUniqueViolation(err error) bool
}
