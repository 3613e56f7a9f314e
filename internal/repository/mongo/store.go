package mongo

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"

	"github.com/agrovision/advisory-chat/internal/domain"
)

const maxAppendAttempts = 16

var errContention = errors.New("append contention")

type messageDoc struct {
	ID              string    `bson:"_id"`
	Key             string    `bson:"conversation_key"`
	Low             string    `bson:"p_low"`
	High            string    `bson:"p_high"`
	SenderID        string    `bson:"sender_id"`
	Sequence        int64     `bson:"sequence"`
	Text            string    `bson:"text"`
	ClientMessageID string    `bson:"client_message_id,omitempty"`
	SentAt          time.Time `bson:"sent_at"`
}

func (d *messageDoc) message() *domain.Message {
	return &domain.Message{
		ID:              d.ID,
		Key:             domain.ConversationKey(d.Key),
		SenderID:        d.SenderID,
		Sequence:        d.Sequence,
		Text:            d.Text,
		ClientMessageID: d.ClientMessageID,
		SentAt:          d.SentAt.UTC(),
	}
}

type markerDoc struct {
	Key           string    `bson:"conversation_key"`
	ParticipantID string    `bson:"participant_id"`
	LastReadSeq   int64     `bson:"last_read_seq"`
	UpdatedAt     time.Time `bson:"updated_at"`
}

// Store keeps messages in one collection with a unique (conversation_key,
// sequence) index. Appends read the tail and insert the next sequence; a
// duplicate key error means another writer won and the append is retried.
type Store struct {
	client   *mongo.Client
	messages *mongo.Collection
	markers  *mongo.Collection

	locks sync.Map // conversation key -> *sync.Mutex

	Now func() time.Time
}

func Connect(ctx context.Context, uri, database string) (*Store, error) {
	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, fmt.Errorf("failed to connect to mongo: %w", err)
	}

	db := client.Database(database)
	s := &Store{
		client:   client,
		messages: db.Collection("messages"),
		markers:  db.Collection("read_markers"),
		Now:      time.Now,
	}
	if err := s.ensureIndexes(ctx); err != nil {
		client.Disconnect(ctx)
		return nil, err
	}
	return s, nil
}

func (s *Store) ensureIndexes(ctx context.Context) error {
	_, err := s.messages.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{
			Keys:    bson.D{{Key: "conversation_key", Value: 1}, {Key: "sequence", Value: 1}},
			Options: options.Index().SetUnique(true).SetName("key_sequence_idx"),
		},
		{
			Keys: bson.D{{Key: "conversation_key", Value: 1}, {Key: "sender_id", Value: 1}, {Key: "client_message_id", Value: 1}},
			Options: options.Index().
				SetUnique(true).
				SetName("client_message_id_idx").
				SetPartialFilterExpression(bson.M{"client_message_id": bson.M{"$exists": true}}),
		},
		{
			Keys:    bson.D{{Key: "p_low", Value: 1}},
			Options: options.Index().SetName("p_low_idx"),
		},
		{
			Keys:    bson.D{{Key: "p_high", Value: 1}},
			Options: options.Index().SetName("p_high_idx"),
		},
	})
	if err != nil {
		return fmt.Errorf("failed to create message indexes: %w", err)
	}

	_, err = s.markers.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys:    bson.D{{Key: "conversation_key", Value: 1}, {Key: "participant_id", Value: 1}},
		Options: options.Index().SetUnique(true).SetName("marker_idx"),
	})
	if err != nil {
		return fmt.Errorf("failed to create marker index: %w", err)
	}
	return nil
}

func (s *Store) Close(ctx context.Context) error {
	return s.client.Disconnect(ctx)
}

func (s *Store) now() time.Time {
	now := time.Now
	if s.Now != nil {
		now = s.Now
	}
	// BSON dates carry milliseconds
	return now().UTC().Truncate(time.Millisecond)
}

func (s *Store) lock(key domain.ConversationKey) func() {
	v, _ := s.locks.LoadOrStore(key, new(sync.Mutex))
	mu := v.(*sync.Mutex)
	mu.Lock()
	return mu.Unlock
}

func (s *Store) Append(ctx context.Context, msg *domain.Message) (*domain.Message, bool, error) {
	if err := domain.ValidateText(msg.Text); err != nil {
		return nil, false, err
	}

	// writers in this process queue up; other instances are resolved by the unique index
	unlock := s.lock(msg.Key)
	defer unlock()

	for attempt := 0; attempt < maxAppendAttempts; attempt++ {
		if msg.ClientMessageID != "" {
			var existing messageDoc
			err := s.messages.FindOne(ctx, bson.M{
				"conversation_key":  string(msg.Key),
				"sender_id":         msg.SenderID,
				"client_message_id": msg.ClientMessageID,
			}).Decode(&existing)
			if err == nil {
				return existing.message(), false, nil
			}
			if !errors.Is(err, mongo.ErrNoDocuments) {
				return nil, false, fmt.Errorf("failed to check client message id: %w", err)
			}
		}

		next := msg.Clone()
		next.Sequence = 1
		next.SentAt = s.now()

		last, err := s.latestDoc(ctx, msg.Key)
		switch {
		case err == nil:
			next.Sequence = last.Sequence + 1
			next.SentAt = domain.NextSentAt(last.SentAt.UTC(), next.SentAt)
		case errors.Is(err, domain.ErrNotFound):
		default:
			return nil, false, err
		}

		low, high := next.Key.Participants()
		_, err = s.messages.InsertOne(ctx, messageDoc{
			ID:              next.ID,
			Key:             string(next.Key),
			Low:             low,
			High:            high,
			SenderID:        next.SenderID,
			Sequence:        next.Sequence,
			Text:            next.Text,
			ClientMessageID: next.ClientMessageID,
			SentAt:          next.SentAt,
		})
		if err == nil {
			return next, true, nil
		}
		if !mongo.IsDuplicateKeyError(err) {
			return nil, false, fmt.Errorf("failed to save message: %w", err)
		}
	}

	return nil, false, fmt.Errorf("%w on %s", errContention, msg.Key)
}

func (s *Store) latestDoc(ctx context.Context, key domain.ConversationKey) (*messageDoc, error) {
	var doc messageDoc
	err := s.messages.FindOne(ctx,
		bson.M{"conversation_key": string(key)},
		options.FindOne().SetSort(bson.D{{Key: "sequence", Value: -1}}),
	).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &doc, nil
}

func (s *Store) List(ctx context.Context, key domain.ConversationKey, afterSeq int64, limit int) ([]*domain.Message, error) {
	opts := options.Find().SetSort(bson.D{{Key: "sequence", Value: 1}})
	if limit > 0 {
		opts.SetLimit(int64(limit))
	}

	cur, err := s.messages.Find(ctx, bson.M{
		"conversation_key": string(key),
		"sequence":         bson.M{"$gt": afterSeq},
	}, opts)
	if err != nil {
		return nil, err
	}
	return decodeMessages(ctx, cur)
}

func decodeMessages(ctx context.Context, cur *mongo.Cursor) ([]*domain.Message, error) {
	defer cur.Close(ctx)

	out := []*domain.Message{}
	for cur.Next(ctx) {
		var doc messageDoc
		if err := cur.Decode(&doc); err != nil {
			return nil, err
		}
		out = append(out, doc.message())
	}
	return out, cur.Err()
}

func (s *Store) Latest(ctx context.Context, key domain.ConversationKey) (*domain.Message, error) {
	doc, err := s.latestDoc(ctx, key)
	if err != nil {
		return nil, err
	}
	return doc.message(), nil
}

func (s *Store) LatestPerConversation(ctx context.Context, participantID string) ([]*domain.Message, error) {
	cur, err := s.messages.Aggregate(ctx, mongo.Pipeline{
		{{Key: "$match", Value: bson.M{"$or": bson.A{
			bson.M{"p_low": participantID},
			bson.M{"p_high": participantID},
		}}}},
		{{Key: "$sort", Value: bson.D{{Key: "conversation_key", Value: 1}, {Key: "sequence", Value: -1}}}},
		{{Key: "$group", Value: bson.M{"_id": "$conversation_key", "doc": bson.M{"$first": "$$ROOT"}}}},
		{{Key: "$replaceRoot", Value: bson.M{"newRoot": "$doc"}}},
		{{Key: "$sort", Value: bson.D{{Key: "conversation_key", Value: 1}}}},
	})
	if err != nil {
		return nil, err
	}
	return decodeMessages(ctx, cur)
}

func (s *Store) CountAfter(ctx context.Context, key domain.ConversationKey, excludeSender string, afterSeq int64) (int, error) {
	n, err := s.messages.CountDocuments(ctx, bson.M{
		"conversation_key": string(key),
		"sequence":         bson.M{"$gt": afterSeq},
		"sender_id":        bson.M{"$ne": excludeSender},
	})
	return int(n), err
}

func (s *Store) ReadMarker(ctx context.Context, key domain.ConversationKey, participantID string) (int64, error) {
	var doc markerDoc
	err := s.markers.FindOne(ctx, bson.M{
		"conversation_key": string(key),
		"participant_id":   participantID,
	}).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	return doc.LastReadSeq, nil
}

func (s *Store) AdvanceReadMarker(ctx context.Context, key domain.ConversationKey, participantID string, seq int64) (int64, error) {
	filter := bson.M{"conversation_key": string(key), "participant_id": participantID}
	update := bson.M{
		"$max": bson.M{"last_read_seq": seq},
		"$set": bson.M{"updated_at": s.now()},
	}
	opts := options.FindOneAndUpdate().SetUpsert(true).SetReturnDocument(options.After)

	var doc markerDoc
	err := s.markers.FindOneAndUpdate(ctx, filter, update, opts).Decode(&doc)
	if mongo.IsDuplicateKeyError(err) {
		// two upserts raced on a new marker; the loser retries as an update
		err = s.markers.FindOneAndUpdate(ctx, filter, update, opts).Decode(&doc)
	}
	if err != nil {
		return 0, fmt.Errorf("failed to advance read marker: %w", err)
	}
	return doc.LastReadSeq, nil
}

func (s *Store) Ping(ctx context.Context) error {
	return s.client.Ping(ctx, readpref.Primary())
}
