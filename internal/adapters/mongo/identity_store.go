// Package mongo implements the IdentityStore against MongoDB: message
// appends map onto $push, presence patches onto $set, and live watches
// onto change streams with full-document lookup.
package mongo

import (
	"ChatWeb/internal/core/domain"
	"ChatWeb/internal/core/ports"
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
	"go.mongodb.org/mongo-driver/v2/mongo/readpref"
)

const identitiesCollection = "identities"

// DB wraps the mongo client and database handle.
type DB struct {
	client *mongo.Client
	db     *mongo.Database
	log    zerolog.Logger
}

// NewDB connects to MongoDB and verifies the connection with a ping.
func NewDB(ctx context.Context, uri, database string, baseLogger *zerolog.Logger) (*DB, error) {
	log := baseLogger.With().Str("component", "mongo").Logger()

	client, err := mongo.Connect(options.Client().ApplyURI(uri).SetConnectTimeout(10 * time.Second))
	if err != nil {
		log.Error().Err(err).Msg("Failed to connect to MongoDB")
		return nil, err
	}

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx, readpref.Primary()); err != nil {
		log.Error().Err(err).Msg("Failed to ping MongoDB")
		_ = client.Disconnect(context.Background())
		return nil, err
	}

	log.Info().Str("database", database).Msg("MongoDB connection established")
	return &DB{client: client, db: client.Database(database), log: log}, nil
}

// Close disconnects the client.
func (d *DB) Close(ctx context.Context) error {
	d.log.Info().Msg("Closing MongoDB connection")
	return d.client.Disconnect(ctx)
}

// IdentityStore is the MongoDB-backed identity repository. Watch
// requires the server to run as a replica set (change streams).
type IdentityStore struct {
	coll *mongo.Collection
	log  zerolog.Logger
}

var _ ports.IdentityStore = (*IdentityStore)(nil)

// NewIdentityStore creates a store over the identities collection.
func NewIdentityStore(db *DB, baseLogger *zerolog.Logger) *IdentityStore {
	return &IdentityStore{
		coll: db.db.Collection(identitiesCollection),
		log:  baseLogger.With().Str("component", "mongo_identity_store").Logger(),
	}
}

// List returns every identity ordered by creation time.
func (s *IdentityStore) List(ctx context.Context) ([]*domain.Identity, error) {
	opts := options.Find().SetSort(bson.M{"created_at": 1})
	cursor, err := s.coll.Find(ctx, bson.M{}, opts)
	if err != nil {
		return nil, err
	}
	defer cursor.Close(ctx)

	var identities []*domain.Identity
	if err := cursor.All(ctx, &identities); err != nil {
		return nil, err
	}
	return identities, nil
}

// Get returns a single identity document.
func (s *IdentityStore) Get(ctx context.Context, id string) (*domain.Identity, error) {
	var identity domain.Identity
	err := s.coll.FindOne(ctx, bson.M{"_id": id}).Decode(&identity)
	if err != nil {
		if err == mongo.ErrNoDocuments {
			return nil, domain.ErrIdentityNotFound
		}
		return nil, err
	}
	return &identity, nil
}

// Create inserts a new identity record.
func (s *IdentityStore) Create(ctx context.Context, identity *domain.Identity) error {
	if identity.ID == "" {
		identity.ID = uuid.NewString()
	}
	if _, err := s.coll.InsertOne(ctx, identity); err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return fmt.Errorf("identity %s already exists", identity.ID)
		}
		s.log.Error().Err(err).Str("identity_id", identity.ID).Msg("Failed to insert identity")
		return err
	}
	return nil
}

// SetStatus merge-patches the presence status.
func (s *IdentityStore) SetStatus(ctx context.Context, id string, status domain.PresenceStatus) error {
	update := bson.M{"$set": bson.M{"status": status, "updated_at": time.Now()}}
	res, err := s.coll.UpdateOne(ctx, bson.M{"_id": id}, update)
	if err != nil {
		return err
	}
	if res.MatchedCount == 0 {
		return domain.ErrIdentityNotFound
	}
	return nil
}

// AppendMessage pushes onto the message array. $push is atomic on the
// server, so concurrent appends never lose an element.
func (s *IdentityStore) AppendMessage(ctx context.Context, id string, msg domain.Message) error {
	update := bson.M{
		"$push": bson.M{"messages": msg},
		"$set":  bson.M{"updated_at": time.Now()},
	}
	res, err := s.coll.UpdateOne(ctx, bson.M{"_id": id}, update)
	if err != nil {
		return err
	}
	if res.MatchedCount == 0 {
		return domain.ErrIdentityNotFound
	}
	return nil
}

// AdvanceMessageStatus sets the status of one message, guarded so the
// write only matches while the current status is at or below the
// target. A matched document that did not pass the guard is a
// regression.
func (s *IdentityStore) AdvanceMessageStatus(ctx context.Context, id string, index int, to domain.DeliveryStatus) error {
	if !to.Valid() {
		return fmt.Errorf("%w: %q", domain.ErrInvalidStatus, to)
	}

	statusField := fmt.Sprintf("messages.%d.status", index)
	filter := bson.M{
		"_id":       id,
		statusField: bson.M{"$in": domain.StatusesAtOrBelow(to)},
	}
	update := bson.M{"$set": bson.M{statusField: to, "updated_at": time.Now()}}

	res, err := s.coll.UpdateOne(ctx, filter, update)
	if err != nil {
		return err
	}
	if res.MatchedCount == 0 {
		if _, getErr := s.Get(ctx, id); getErr != nil {
			return getErr
		}
		return fmt.Errorf("%w: message %d -> %s", domain.ErrStatusRegression, index, to)
	}
	return nil
}

// Watch opens a change stream scoped to one document and pumps full
// snapshots to fn. The current document is delivered first. Cancel
// closes the stream; fn is never invoked after cancel returns.
func (s *IdentityStore) Watch(ctx context.Context, id string, fn ports.SnapshotFunc) (ports.CancelFunc, error) {
	pipeline := mongo.Pipeline{
		bson.D{{Key: "$match", Value: bson.D{{Key: "fullDocument._id", Value: id}}}},
	}
	opts := options.ChangeStream().SetFullDocument(options.UpdateLookup)

	stream, err := s.coll.Watch(ctx, pipeline, opts)
	if err != nil {
		s.log.Error().Err(err).Str("identity_id", id).Msg("Failed to open change stream")
		return nil, err
	}

	current, err := s.Get(ctx, id)
	if err != nil {
		_ = stream.Close(ctx)
		return nil, err
	}

	// Gate deliveries so a snapshot already decoded when cancel runs
	// can no longer reach fn.
	var gate sync.Mutex
	closed := false
	deliver := func(identity *domain.Identity) {
		gate.Lock()
		defer gate.Unlock()
		if closed {
			return
		}
		fn(identity)
	}

	deliver(current)

	streamCtx, stopStream := context.WithCancel(context.Background())
	go func() {
		defer stream.Close(context.Background())
		for stream.Next(streamCtx) {
			var event struct {
				FullDocument *domain.Identity `bson:"fullDocument"`
			}
			if err := stream.Decode(&event); err != nil {
				s.log.Error().Err(err).Str("identity_id", id).Msg("Failed to decode change event")
				continue
			}
			if event.FullDocument != nil {
				deliver(event.FullDocument)
			}
		}
		if err := stream.Err(); err != nil && streamCtx.Err() == nil {
			s.log.Error().Err(err).Str("identity_id", id).Msg("Change stream ended with error")
		}
	}()

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			gate.Lock()
			closed = true
			gate.Unlock()
			stopStream()
			s.log.Info().Str("identity_id", id).Msg("Conversation watch released")
		})
	}
	return cancel, nil
}
