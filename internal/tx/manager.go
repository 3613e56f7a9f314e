package tx

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/lib/pq"
	"go.uber.org/zap"

	"github.com/agrovision/advisory-chat/internal/observability"
)

// Transactor runs fn inside a transaction. fn may run more than once and must
// not keep state across attempts.
type Transactor interface {
	WithTx(ctx context.Context, fn func(ctx context.Context, tx *sql.Tx) error) error
}

const defaultAttempts = 5

var ErrRetryExhausted = errors.New("transaction retry exhausted")

// Manager is the postgres Transactor. Transactions run at READ COMMITTED;
// per-key append ordering comes from advisory locks, not isolation.
// Serialization failures and deadlocks are retried from the start.
type Manager struct {
	DB *sql.DB
	// Attempts bounds how often fn runs. Zero means five.
	Attempts int
}

func (m *Manager) WithTx(ctx context.Context, fn func(ctx context.Context, tx *sql.Tx) error) error {
	attempts := m.Attempts
	if attempts <= 0 {
		attempts = defaultAttempts
	}

	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		err := m.runOnce(ctx, fn)
		if err == nil {
			return nil
		}
		if !isRetryable(err) {
			return err
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		lastErr = err
		observability.GetLogger(ctx).Debug("tx: retrying aborted transaction",
			zap.Int("attempt", attempt),
			zap.Error(err),
		)
	}
	return fmt.Errorf("%w after %d attempts: %w", ErrRetryExhausted, attempts, lastErr)
}

func (m *Manager) runOnce(ctx context.Context, fn func(ctx context.Context, tx *sql.Tx) error) (err error) {
	tx, err := m.DB.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelReadCommitted})
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	if err = fn(ctx, tx); err != nil {
		return err
	}
	return tx.Commit()
}

// isRetryable reports whether postgres aborted the transaction in a way that
// a fresh attempt can succeed.
func isRetryable(err error) bool {
	if err == nil {
		return false
	}
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		switch pqErr.Code.Name() {
		case "serialization_failure", "deadlock_detected":
			return true
		}
		return false
	}
	return strings.Contains(err.Error(), "could not serialize")
}
