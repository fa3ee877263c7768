package domain

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

type recordCollection interface {
	FindOne(ctx context.Context, filter interface{}, opts ...*options.FindOneOptions) *mongo.SingleResult
	Find(ctx context.Context, filter interface{}, opts ...*options.FindOptions) (*mongo.Cursor, error)
	UpdateOne(ctx context.Context, filter interface{}, update interface{}, opts ...*options.UpdateOptions) (*mongo.UpdateResult, error)
}

// now is overridable for tests.
var now = func() time.Time {
	return time.Now().UTC().Truncate(time.Millisecond)
}

// RecordRepository persists and retrieves per-chat records in MongoDB.
type RecordRepository struct {
	collection recordCollection
}

// NewRecordRepository constructs a RecordRepository.
func NewRecordRepository(collection recordCollection) *RecordRepository {
	return &RecordRepository{collection: collection}
}

// FindByChatID fetches the record for a chat. ErrRecordNotFound is returned
// when the chat has not been onboarded.
func (r *RecordRepository) FindByChatID(ctx context.Context, chatID int64) (Record, error) {
	if err := r.check(ctx); err != nil {
		return Record{}, err
	}
	if chatID == 0 {
		return Record{}, errors.New("chat_id is required")
	}

	result := r.collection.FindOne(ctx, bson.M{"chat_id": chatID})
	if result == nil {
		return Record{}, errors.New("find record returned no result")
	}
	if err := result.Err(); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return Record{}, ErrRecordNotFound
		}
		return Record{}, fmt.Errorf("find record: %w", err)
	}

	var record Record
	if err := result.Decode(&record); err != nil {
		return Record{}, fmt.Errorf("decode record: %w", err)
	}

	return record, nil
}

// CreateForChat inserts an empty record for the chat when none exists and
// returns the stored record. The boolean reports whether a new document was
// created; an existing record is left untouched.
func (r *RecordRepository) CreateForChat(ctx context.Context, chatID, userID int64) (Record, bool, error) {
	if err := r.check(ctx); err != nil {
		return Record{}, false, err
	}
	if chatID == 0 {
		return Record{}, false, errors.New("chat_id is required")
	}

	ts := now()
	update := bson.M{
		"$setOnInsert": bson.M{
			"chat_id":          chatID,
			"user_id":          userID,
			"insurance_number": nil,
			"birth_date":       nil,
			"created_at":       ts,
			"updated_at":       ts,
		},
	}

	result, err := r.collection.UpdateOne(ctx,
		bson.M{"chat_id": chatID},
		update,
		options.Update().SetUpsert(true),
	)
	if err != nil {
		return Record{}, false, fmt.Errorf("create record: %w", err)
	}

	created := result != nil && result.UpsertedCount > 0

	record, err := r.FindByChatID(ctx, chatID)
	if err != nil {
		return Record{}, created, err
	}

	return record, created, nil
}

// UpdateInsurance overwrites the insurance number. The value must already be
// validated by the caller.
func (r *RecordRepository) UpdateInsurance(ctx context.Context, chatID int64, value string) error {
	return r.set(ctx, chatID, "insurance_number", value)
}

// UpdateBirthDate overwrites the birth date. The value must already be
// validated by the caller.
func (r *RecordRepository) UpdateBirthDate(ctx context.Context, chatID int64, value time.Time) error {
	return r.set(ctx, chatID, "birth_date", value.UTC())
}

// ListEligible returns every record with both personal fields present, ordered
// by chat id.
func (r *RecordRepository) ListEligible(ctx context.Context) ([]Record, error) {
	if err := r.check(ctx); err != nil {
		return nil, err
	}

	cursor, err := r.collection.Find(ctx, EligibleFilter(),
		options.Find().SetSort(bson.D{{Key: "chat_id", Value: 1}}),
	)
	if err != nil {
		return nil, fmt.Errorf("list eligible records: %w", err)
	}

	var records []Record
	if err := cursor.All(ctx, &records); err != nil {
		return nil, fmt.Errorf("decode eligible records: %w", err)
	}

	return records, nil
}

// EligibleFilter matches records whose personal fields are both non-null.
func EligibleFilter() bson.M {
	return bson.M{
		"insurance_number": bson.M{"$ne": nil},
		"birth_date":       bson.M{"$ne": nil},
	}
}

func (r *RecordRepository) set(ctx context.Context, chatID int64, field string, value interface{}) error {
	if err := r.check(ctx); err != nil {
		return err
	}
	if chatID == 0 {
		return errors.New("chat_id is required")
	}

	result, err := r.collection.UpdateOne(ctx,
		bson.M{"chat_id": chatID},
		bson.M{"$set": bson.M{
			field:        value,
			"updated_at": now(),
		}},
	)
	if err != nil {
		return fmt.Errorf("update %s: %w", field, err)
	}
	if result == nil || result.MatchedCount == 0 {
		return ErrRecordNotFound
	}

	return nil
}

func (r *RecordRepository) check(ctx context.Context) error {
	if r == nil || r.collection == nil {
		return errors.New("record repository is not initialized")
	}
	if ctx == nil {
		return errors.New("context is required")
	}
	return nil
}
