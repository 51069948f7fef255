package libdbexec

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"
)

// postgresDBManager implements DBManager on top of a PostgreSQL pool.
type postgresDBManager struct {
	dbInstance *sql.DB
}

// NewPostgresDBManager opens a connection pool for the DSN, verifies
// connectivity, and applies the schema when one is given. For production
// schema management a dedicated migration tool is the better fit.
func NewPostgresDBManager(ctx context.Context, dsn string, schema string) (DBManager, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", translateError(err))
	}

	if err = db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("database connection failed: %w", translateError(err))
	}

	if schema != "" {
		if _, err = db.ExecContext(ctx, schema); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("failed to initialize schema: %w", translateError(err))
		}
	}

	return &postgresDBManager{dbInstance: db}, nil
}

func (sm *postgresDBManager) WithoutTransaction() Exec {
	return &txAwareDB{db: sm.dbInstance, errTranslate: translateError}
}

// WithTransaction starts a transaction and returns the bound executor with
// its commit and release functions. Release is safe to defer even after a
// successful commit.
func (sm *postgresDBManager) WithTransaction(ctx context.Context, onRollback ...func()) (Exec, CommitTx, ReleaseTx, error) {
	tx, err := sm.dbInstance.BeginTx(ctx, nil)
	if err != nil {
		return nil, nil, func() error { return nil }, fmt.Errorf("%w: begin transaction failed: %w", ErrTxFailed, translateError(err))
	}

	store := &txAwareDB{tx: tx, errTranslate: translateError}
	committed := false
	rollback := func() {
		for _, f := range onRollback {
			if f != nil {
				f()
			}
		}
	}

	commitFn := func(commitCtx context.Context) error {
		if ctxErr := commitCtx.Err(); ctxErr != nil {
			return fmt.Errorf("%w: context error before commit: %w", ErrTxFailed, ctxErr)
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("%w: commit failed: %w", ErrTxFailed, translateError(err))
		}
		committed = true
		return nil
	}

	releaseFn := func() error {
		rollbackErr := tx.Rollback()
		if !committed {
			rollback()
		}
		// sql.ErrTxDone just means the transaction already finalized.
		if rollbackErr != nil && !errors.Is(rollbackErr, sql.ErrTxDone) {
			return fmt.Errorf("%w: rollback failed: %w", ErrTxFailed, translateError(rollbackErr))
		}
		return nil
	}

	return store, commitFn, releaseFn, nil
}

func (sm *postgresDBManager) Close() error {
	if sm.dbInstance != nil {
		log.Println("Closing database connection group.")
		return sm.dbInstance.Close()
	}
	return nil
}
