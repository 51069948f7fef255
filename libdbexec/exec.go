package libdbexec

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/lib/pq"
)

// Exec is the minimal query surface shared by pooled connections and
// transactions. Stores depend on this, never on *sql.DB directly.
type Exec interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// CommitTx commits the transaction associated with an Exec.
type CommitTx func(ctx context.Context) error

// ReleaseTx rolls back the transaction if it was not committed. Safe to defer
// unconditionally.
type ReleaseTx func() error

// DBManager hands out executors bound either to the pool or to a transaction.
type DBManager interface {
	WithoutTransaction() Exec
	WithTransaction(ctx context.Context, onRollback ...func()) (Exec, CommitTx, ReleaseTx, error)
	Close() error
}

var (
	ErrTxFailed            = errors.New("libdb: transaction failed")
	ErrNotFound            = errors.New("libdb: not found")
	ErrUniqueViolation     = errors.New("libdb: unique constraint violation")
	ErrForeignKeyViolation = errors.New("libdb: foreign key constraint violation")
	ErrNotNullViolation    = errors.New("libdb: not null constraint violation")
	ErrCheckViolation      = errors.New("libdb: check constraint violation")
	ErrConstraintViolation = errors.New("libdb: constraint violation")
	ErrDeadlockDetected    = errors.New("libdb: deadlock detected")
	ErrSerializationFailure = errors.New("libdb: serialization failure")
	ErrLockNotAvailable    = errors.New("libdb: lock not available")
	ErrQueryCanceled       = errors.New("libdb: query canceled")
	ErrDataTruncation      = errors.New("libdb: data truncation")
	ErrNumericOutOfRange   = errors.New("libdb: numeric value out of range")
	ErrInvalidInputSyntax  = errors.New("libdb: invalid input syntax")
	ErrUndefinedColumn     = errors.New("libdb: undefined column")
	ErrUndefinedTable      = errors.New("libdb: undefined table")
	ErrMaxRowsReached      = errors.New("libdb: max rows reached")
)

// txAwareDB satisfies Exec over either a pool or an open transaction.
type txAwareDB struct {
	db           *sql.DB
	tx           *sql.Tx
	errTranslate func(error) error
}

func (t *txAwareDB) translate(err error) error {
	if err == nil {
		return nil
	}
	if t.errTranslate != nil {
		return t.errTranslate(err)
	}
	return translateSQLiteError(err)
}

func (t *txAwareDB) ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error) {
	var res sql.Result
	var err error
	if t.tx != nil {
		res, err = t.tx.ExecContext(ctx, query, args...)
	} else {
		res, err = t.db.ExecContext(ctx, query, args...)
	}
	if err != nil {
		return nil, t.translate(err)
	}
	return res, nil
}

func (t *txAwareDB) QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error) {
	var rows *sql.Rows
	var err error
	if t.tx != nil {
		rows, err = t.tx.QueryContext(ctx, query, args...)
	} else {
		rows, err = t.db.QueryContext(ctx, query, args...)
	}
	if err != nil {
		return nil, t.translate(err)
	}
	return rows, nil
}

func (t *txAwareDB) QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row {
	if t.tx != nil {
		return t.tx.QueryRowContext(ctx, query, args...)
	}
	return t.db.QueryRowContext(ctx, query, args...)
}

// translateError maps PostgreSQL errors onto the package error taxonomy.
func translateError(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%w: %w", ErrNotFound, err)
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: %w", ErrQueryCanceled, err)
	}
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		switch pqErr.Code {
		case "23505":
			return fmt.Errorf("%w: %s", ErrUniqueViolation, pqErr.Message)
		case "23503":
			return fmt.Errorf("%w: %s", ErrForeignKeyViolation, pqErr.Message)
		case "23502":
			return fmt.Errorf("%w: %s", ErrNotNullViolation, pqErr.Message)
		case "23514":
			return fmt.Errorf("%w: %s", ErrCheckViolation, pqErr.Message)
		case "40P01":
			return fmt.Errorf("%w: %s", ErrDeadlockDetected, pqErr.Message)
		case "40001":
			return fmt.Errorf("%w: %s", ErrSerializationFailure, pqErr.Message)
		case "55P03":
			return fmt.Errorf("%w: %s", ErrLockNotAvailable, pqErr.Message)
		case "57014":
			return fmt.Errorf("%w: %s", ErrQueryCanceled, pqErr.Message)
		case "22001":
			return fmt.Errorf("%w: %s", ErrDataTruncation, pqErr.Message)
		case "22003":
			return fmt.Errorf("%w: %s", ErrNumericOutOfRange, pqErr.Message)
		case "22P02":
			return fmt.Errorf("%w: %s", ErrInvalidInputSyntax, pqErr.Message)
		case "42703":
			return fmt.Errorf("%w: %s", ErrUndefinedColumn, pqErr.Message)
		case "42P01":
			return fmt.Errorf("%w: %s", ErrUndefinedTable, pqErr.Message)
		}
		if pqErr.Code.Class() == "23" {
			return fmt.Errorf("%w: %s", ErrConstraintViolation, pqErr.Message)
		}
	}
	return fmt.Errorf("libdb: postgres error: %w", err)
}
