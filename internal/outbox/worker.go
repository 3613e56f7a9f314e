package outbox

import (
	"context"
	"database/sql"
	"time"

	"go.uber.org/zap"

	"github.com/agrovision/advisory-chat/internal/observability"
)

// Publisher is implemented by kafka.Producer.
type Publisher interface {
	Publish(ctx context.Context, key string, value []byte) error
}

// Worker relays committed outbox_events rows to the publisher in id order.
// Rows that keep failing are moved to outbox_dlq after MaxRetries.
type Worker struct {
	DB         *sql.DB
	Producer   Publisher
	BatchSize  int
	PollDelay  time.Duration
	MaxRetries int
}

func (w *Worker) Run(ctx context.Context) error {
	log := observability.GetLogger(ctx)
	log.Info("outbox worker started")

	for {
		select {
		case <-ctx.Done():
			return nil
		default:
		}

		processed, err := w.processBatch(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			log.Error("outbox error", zap.Error(err))
			sleep(ctx, time.Second)
			continue
		}
		if processed == 0 {
			sleep(ctx, w.PollDelay)
		}
	}
}

func sleep(ctx context.Context, d time.Duration) {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}

type event struct {
	id            int64
	aggregateType string
	aggregateID   string
	eventType     string
	payload       []byte
	createdAt     time.Time
	retryCount    int
}

func (w *Worker) processBatch(ctx context.Context) (int, error) {
	tx, err := w.DB.BeginTx(ctx, &sql.TxOptions{
		Isolation: sql.LevelReadCommitted,
	})
	if err != nil {
		return 0, err
	}
	defer tx.Rollback()

	batchSize := w.BatchSize
	if batchSize <= 0 {
		batchSize = 100
	}

	rows, err := tx.QueryContext(ctx, `
		SELECT id, aggregate_type, aggregate_id, event_type, payload, created_at, retry_count
		FROM outbox_events
		WHERE processed_at IS NULL
		ORDER BY id
		FOR UPDATE SKIP LOCKED
		LIMIT $1
	`, batchSize)
	if err != nil {
		return 0, err
	}

	var events []event
	for rows.Next() {
		var e event
		if err := rows.Scan(&e.id, &e.aggregateType, &e.aggregateID, &e.eventType, &e.payload, &e.createdAt, &e.retryCount); err != nil {
			rows.Close()
			return 0, err
		}
		events = append(events, e)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return 0, err
	}

	if len(events) == 0 {
		return 0, nil
	}

	maxRetries := w.MaxRetries
	if maxRetries == 0 {
		maxRetries = 3
	}

	var batchErr error
	processed := 0

	for _, e := range events {
		err := w.Producer.Publish(ctx, e.aggregateID, e.payload)
		if err == nil {
			if _, err := tx.ExecContext(ctx, `
				UPDATE outbox_events
				SET processed_at = now()
				WHERE id = $1
			`, e.id); err != nil {
				return processed, err
			}
			processed++
			continue
		}

		observability.OutboxPublishFailuresTotal.WithLabelValues(e.eventType).Inc()

		if e.retryCount >= maxRetries {
			if _, dbErr := tx.ExecContext(ctx, `
				INSERT INTO outbox_dlq (id, aggregate_type, aggregate_id, event_type, payload, created_at, failed_at, error, retry_count)
				VALUES ($1, $2, $3, $4, $5, $6, now(), $7, $8)
			`, e.id, e.aggregateType, e.aggregateID, e.eventType, e.payload, e.createdAt, err.Error(), e.retryCount+1); dbErr != nil {
				return processed, dbErr
			}
			if _, dbErr := tx.ExecContext(ctx, `DELETE FROM outbox_events WHERE id = $1`, e.id); dbErr != nil {
				return processed, dbErr
			}
		} else {
			if _, dbErr := tx.ExecContext(ctx, `
				UPDATE outbox_events
				SET retry_count = retry_count + 1, error = $2
				WHERE id = $1
			`, e.id, err.Error()); dbErr != nil {
				return processed, dbErr
			}
		}

		// later events of the batch wait so per-key order is preserved
		batchErr = err
		break
	}

	if err := tx.Commit(); err != nil {
		return processed, err
	}
	return processed, batchErr
}
