package postgres

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"time"

	"github.com/agrovision/advisory-chat/internal/domain"
	"github.com/agrovision/advisory-chat/internal/tx"
)

//go:embed schema.sql
var schema string

// Migrate creates the tables used by the store, the outbox and the directory.
func Migrate(ctx context.Context, db *sql.DB) error {
	if _, err := db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("failed to apply schema: %w", err)
	}
	return nil
}

// Store is the postgres message log. Appends to one conversation key are
// serialized by a transaction scoped advisory lock on the key; different keys
// never contend.
type Store struct {
	DB *sql.DB
	Tx tx.Transactor

	// Outbox enables writing message.sent and read_marker.advanced events in
	// the same transaction as the change.
	Outbox bool

	Now func() time.Time
}

type queryable interface {
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
}

func (s *Store) getter(tx *sql.Tx) queryable {
	if tx != nil {
		return tx
	}
	return s.DB
}

func (s *Store) now() time.Time {
	now := time.Now
	if s.Now != nil {
		now = s.Now
	}
	// postgres keeps microseconds
	return now().UTC().Truncate(time.Microsecond)
}

const messageColumns = `id, conversation_key, sender_id, sequence, text, client_message_id, sent_at`

type scanner interface {
	Scan(dest ...any) error
}

func scanMessage(row scanner) (*domain.Message, error) {
	var msg domain.Message
	var key string
	var clientID sql.NullString
	if err := row.Scan(&msg.ID, &key, &msg.SenderID, &msg.Sequence, &msg.Text, &clientID, &msg.SentAt); err != nil {
		return nil, err
	}
	msg.Key = domain.ConversationKey(key)
	msg.ClientMessageID = clientID.String
	msg.SentAt = msg.SentAt.UTC()
	return &msg, nil
}

func nullable(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func (s *Store) Append(ctx context.Context, msg *domain.Message) (*domain.Message, bool, error) {
	if err := domain.ValidateText(msg.Text); err != nil {
		return nil, false, err
	}

	var stored *domain.Message
	created := false

	err := s.Tx.WithTx(ctx, func(ctx context.Context, tx *sql.Tx) error {
		stored, created = nil, false
		q := s.getter(tx)

		if _, err := q.ExecContext(ctx, `SELECT pg_advisory_xact_lock(hashtext($1))`, string(msg.Key)); err != nil {
			return fmt.Errorf("failed to lock conversation: %w", err)
		}

		if msg.ClientMessageID != "" {
			existing, err := scanMessage(q.QueryRowContext(ctx, `
				SELECT `+messageColumns+`
				FROM messages
				WHERE conversation_key = $1 AND sender_id = $2 AND client_message_id = $3
			`, string(msg.Key), msg.SenderID, msg.ClientMessageID))
			if err == nil {
				stored = existing
				return nil
			}
			if !errors.Is(err, sql.ErrNoRows) {
				return fmt.Errorf("failed to check client message id: %w", err)
			}
		}

		next := msg.Clone()
		next.Sequence = 1
		next.SentAt = s.now()

		var lastSeq int64
		var lastAt time.Time
		err := q.QueryRowContext(ctx, `
			SELECT sequence, sent_at
			FROM messages
			WHERE conversation_key = $1
			ORDER BY sequence DESC
			LIMIT 1
		`, string(msg.Key)).Scan(&lastSeq, &lastAt)
		switch {
		case err == nil:
			next.Sequence = lastSeq + 1
			next.SentAt = domain.NextSentAt(lastAt.UTC(), next.SentAt)
		case errors.Is(err, sql.ErrNoRows):
		default:
			return fmt.Errorf("failed to read last sequence: %w", err)
		}

		low, high := next.Key.Participants()
		if _, err := q.ExecContext(ctx, `
			INSERT INTO messages (
				id, conversation_key, participant_low, participant_high,
				sender_id, sequence, text, client_message_id, sent_at
			)
			VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
		`,
			next.ID,
			string(next.Key),
			low,
			high,
			next.SenderID,
			next.Sequence,
			next.Text,
			nullable(next.ClientMessageID),
			next.SentAt,
		); err != nil {
			return fmt.Errorf("failed to save message: %w", err)
		}

		if s.Outbox {
			payload, err := domain.NewMessageSentEnvelope(next)
			if err != nil {
				return err
			}
			if err := insertOutbox(ctx, q, string(next.Key), domain.EventMessageSent, payload); err != nil {
				return err
			}
		}

		stored = next
		created = true
		return nil
	})
	if err != nil {
		return nil, false, err
	}
	return stored, created, nil
}

func insertOutbox(ctx context.Context, q queryable, aggregateID string, eventType domain.EventType, payload []byte) error {
	_, err := q.ExecContext(ctx, `
		INSERT INTO outbox_events (aggregate_type, aggregate_id, event_type, payload)
		VALUES ($1, $2, $3, $4)
	`, domain.AggregateConversation, aggregateID, string(eventType), payload)
	if err != nil {
		return fmt.Errorf("failed to save outbox event: %w", err)
	}
	return nil
}

func (s *Store) List(ctx context.Context, key domain.ConversationKey, afterSeq int64, limit int) ([]*domain.Message, error) {
	if limit <= 0 {
		limit = 1000
	}

	rows, err := s.DB.QueryContext(ctx, `
		SELECT `+messageColumns+`
		FROM messages
		WHERE conversation_key = $1
		  AND sequence > $2
		ORDER BY sequence ASC
		LIMIT $3
	`, string(key), afterSeq, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	messages := []*domain.Message{}
	for rows.Next() {
		msg, err := scanMessage(rows)
		if err != nil {
			return nil, err
		}
		messages = append(messages, msg)
	}
	return messages, rows.Err()
}

func (s *Store) Latest(ctx context.Context, key domain.ConversationKey) (*domain.Message, error) {
	msg, err := scanMessage(s.DB.QueryRowContext(ctx, `
		SELECT `+messageColumns+`
		FROM messages
		WHERE conversation_key = $1
		ORDER BY sequence DESC
		LIMIT 1
	`, string(key)))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	return msg, err
}

func (s *Store) LatestPerConversation(ctx context.Context, participantID string) ([]*domain.Message, error) {
	rows, err := s.DB.QueryContext(ctx, `
		SELECT DISTINCT ON (conversation_key) `+messageColumns+`
		FROM messages
		WHERE participant_low = $1 OR participant_high = $1
		ORDER BY conversation_key, sequence DESC
	`, participantID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	messages := []*domain.Message{}
	for rows.Next() {
		msg, err := scanMessage(rows)
		if err != nil {
			return nil, err
		}
		messages = append(messages, msg)
	}
	return messages, rows.Err()
}

func (s *Store) CountAfter(ctx context.Context, key domain.ConversationKey, excludeSender string, afterSeq int64) (int, error) {
	var n int
	err := s.DB.QueryRowContext(ctx, `
		SELECT COUNT(*)
		FROM messages
		WHERE conversation_key = $1
		  AND sequence > $2
		  AND sender_id <> $3
	`, string(key), afterSeq, excludeSender).Scan(&n)
	return n, err
}

func (s *Store) ReadMarker(ctx context.Context, key domain.ConversationKey, participantID string) (int64, error) {
	var seq int64
	err := s.DB.QueryRowContext(ctx, `
		SELECT last_read_seq
		FROM read_markers
		WHERE conversation_key = $1 AND participant_id = $2
	`, string(key), participantID).Scan(&seq)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	return seq, err
}

func (s *Store) AdvanceReadMarker(ctx context.Context, key domain.ConversationKey, participantID string, seq int64) (int64, error) {
	var result int64

	err := s.Tx.WithTx(ctx, func(ctx context.Context, tx *sql.Tx) error {
		q := s.getter(tx)

		var previous int64
		err := q.QueryRowContext(ctx, `
			SELECT last_read_seq
			FROM read_markers
			WHERE conversation_key = $1 AND participant_id = $2
			FOR UPDATE
		`, string(key), participantID).Scan(&previous)
		if err != nil && !errors.Is(err, sql.ErrNoRows) {
			return err
		}

		if err := q.QueryRowContext(ctx, `
			INSERT INTO read_markers (conversation_key, participant_id, last_read_seq)
			VALUES ($1, $2, $3)
			ON CONFLICT (conversation_key, participant_id)
			DO UPDATE SET last_read_seq = GREATEST(read_markers.last_read_seq, EXCLUDED.last_read_seq),
			              updated_at = now()
			RETURNING last_read_seq
		`, string(key), participantID, seq).Scan(&result); err != nil {
			return fmt.Errorf("failed to advance read marker: %w", err)
		}

		if s.Outbox && result > previous {
			payload, err := domain.NewReadMarkerEnvelope(key, participantID, result, s.now())
			if err != nil {
				return err
			}
			return insertOutbox(ctx, q, string(key), domain.EventReadMarkerAdvanced, payload)
		}
		return nil
	})
	return result, err
}

func (s *Store) Ping(ctx context.Context) error {
	return s.DB.PingContext(ctx)
}
