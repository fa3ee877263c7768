// Package store owns the MongoDB connection and binds the records collection
// to the repository and stats helpers that use it.
package store

import (
	"context"
	"errors"
	"fmt"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"

	"emias_bot/internal/config"
	"emias_bot/internal/domain"
)

// CollectionRecords holds one document per chat.
const CollectionRecords = "records"

// IndexChatIDUnique enforces one record per chat.
const IndexChatIDUnique = "chat_id_unique"

var errNotInitialized = errors.New("store manager is not initialized")

type mongoClient interface {
	Ping(context.Context, *readpref.ReadPref) error
	Database(string, ...*options.DatabaseOptions) *mongo.Database
	Disconnect(context.Context) error
}

// connectMongo is overridable for tests.
var connectMongo = func(ctx context.Context, opts *options.ClientOptions) (mongoClient, error) {
	return mongo.Connect(ctx, opts)
}

// createIndexes is overridable for tests.
var createIndexes = func(ctx context.Context, coll *mongo.Collection, models []mongo.IndexModel) ([]string, error) {
	return coll.Indexes().CreateMany(ctx, models)
}

// Manager owns the Mongo client and the bot database.
type Manager struct {
	client mongoClient
	db     *mongo.Database
}

// NewManager connects to cfg.MongoURI and checks the primary before returning.
// A failed check disconnects the client.
func NewManager(ctx context.Context, cfg config.Config) (*Manager, error) {
	if ctx == nil {
		return nil, errors.New("context is required")
	}

	client, err := connectMongo(ctx, options.Client().ApplyURI(cfg.MongoURI))
	if err != nil {
		return nil, fmt.Errorf("connect mongo: %w", err)
	}

	m := &Manager{client: client}
	if err := m.Ping(ctx); err != nil {
		_ = client.Disconnect(ctx)
		return nil, err
	}
	m.db = client.Database(cfg.MongoDB)

	return m, nil
}

// Database returns the bot database.
func (m *Manager) Database() *mongo.Database {
	return m.db
}

// Records returns the records collection.
func (m *Manager) Records() *mongo.Collection {
	return m.db.Collection(CollectionRecords)
}

// RecordRepository binds the domain repository to the records collection.
func (m *Manager) RecordRepository() *domain.RecordRepository {
	return domain.NewRecordRepository(m.Records())
}

// Stats binds the counters to the records collection.
func (m *Manager) Stats() *StatsProvider {
	return NewStatsProvider(m.Records())
}

// recordIndexes lists the indexes the records collection must carry.
// ListEligible sorts by chat_id, so the unique index also serves the scan.
func recordIndexes() []mongo.IndexModel {
	return []mongo.IndexModel{{
		Keys:    bson.D{{Key: "chat_id", Value: 1}},
		Options: options.Index().SetName(IndexChatIDUnique).SetUnique(true),
	}}
}

// EnsureIndexes creates the records indexes; the collection is created on
// first use.
func (m *Manager) EnsureIndexes(ctx context.Context) error {
	if ctx == nil {
		return errors.New("context is required")
	}
	if m == nil || m.db == nil {
		return errNotInitialized
	}

	if _, err := createIndexes(ctx, m.Records(), recordIndexes()); err != nil {
		return fmt.Errorf("create %s indexes: %w", CollectionRecords, err)
	}
	return nil
}

// Ping checks the primary; the health endpoint reports its result as "mongo".
func (m *Manager) Ping(ctx context.Context) error {
	if ctx == nil {
		return errors.New("context is required")
	}
	if m == nil || m.client == nil {
		return errNotInitialized
	}

	if err := m.client.Ping(ctx, readpref.Primary()); err != nil {
		return fmt.Errorf("ping mongo: %w", err)
	}
	return nil
}

// Close disconnects the client. Closing a nil manager is a no-op.
func (m *Manager) Close(ctx context.Context) error {
	if m == nil || m.client == nil {
		return nil
	}
	if ctx == nil {
		return errors.New("context is required")
	}

	return m.client.Disconnect(ctx)
}
