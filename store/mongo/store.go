package mongo

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
	mongod "go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"

	"github.com/nexus-link/durable"
	"github.com/nexus-link/durable/fallback"
	"github.com/nexus-link/durable/id"
)

// Collection name constants.
const (
	colSummaries = "durable_summaries"
)

// Ensure Store implements fallback.BlobStore at compile time.
var _ fallback.BlobStore = (*Store)(nil)

// summaryModel is the document stored per summary blob.
type summaryModel struct {
	Path               string    `bson:"_id"`
	WorkflowInstanceID string    `bson:"workflow_instance_id"`
	Data               []byte    `bson:"data"`
	WrittenAt          time.Time `bson:"written_at"`
}

// Store keeps fallback summaries in MongoDB. The caller owns the
// *mongo.Database lifecycle; Store never disconnects the client.
type Store struct {
	db     *mongod.Database
	logger *slog.Logger
	now    func() time.Time
}

// Option configures the Store.
type Option func(*Store)

// WithLogger sets the logger for the store.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Store) {
		s.logger = logger
	}
}

// New creates a new MongoDB blob store.
func New(db *mongod.Database, opts ...Option) *Store {
	s := &Store{
		db:     db,
		logger: slog.Default(),
		now:    func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Connect dials uri and returns a store on database name. Close
// disconnects a store created this way.
func Connect(ctx context.Context, uri, name string, opts ...Option) (*Store, func(context.Context) error, error) {
	client, err := mongod.Connect(options.Client().ApplyURI(uri))
	if err != nil {
		return nil, nil, fmt.Errorf("durable/mongo: connect: %w", err)
	}
	if err := client.Ping(ctx, nil); err != nil {
		_ = client.Disconnect(ctx)
		return nil, nil, fmt.Errorf("durable/mongo: ping: %w", err)
	}
	return New(client.Database(name), opts...), client.Disconnect, nil
}

// Database returns the underlying database handle.
func (s *Store) Database() *mongod.Database {
	return s.db
}

// Migrate creates the summary indexes.
func (s *Store) Migrate(ctx context.Context) error {
	models := []mongod.IndexModel{
		// Lookup by owning instance, newest first.
		{Keys: bson.D{
			{Key: "workflow_instance_id", Value: 1},
			{Key: "written_at", Value: -1},
		}},
	}
	if _, err := s.collection().Indexes().CreateMany(ctx, models); err != nil {
		return fmt.Errorf("durable/mongo: migrate %s indexes: %w", colSummaries, err)
	}
	return nil
}

// Ping checks database connectivity.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.Client().Ping(ctx, nil)
}

// WriteBlob creates or replaces the blob at path.
func (s *Store) WriteBlob(ctx context.Context, path string, instanceID id.ID, data []byte) error {
	doc := summaryModel{
		Path:               path,
		WorkflowInstanceID: instanceID.String(),
		Data:               data,
		WrittenAt:          s.now(),
	}
	_, err := s.collection().ReplaceOne(ctx,
		bson.M{"_id": path},
		doc,
		options.Replace().SetUpsert(true),
	)
	if err != nil {
		return wrap("write blob", err)
	}
	return nil
}

// ReadBlob returns the blob at path.
func (s *Store) ReadBlob(ctx context.Context, path string) ([]byte, error) {
	var doc summaryModel
	err := s.collection().FindOne(ctx, bson.M{"_id": path}).Decode(&doc)
	if err != nil {
		if isNoDocuments(err) {
			return nil, fmt.Errorf("%w: %s", durable.ErrSummaryNotFound, path)
		}
		return nil, wrap("read blob", err)
	}
	return doc.Data, nil
}

// FindBlob returns the path of the newest blob of an instance.
func (s *Store) FindBlob(ctx context.Context, instanceID id.ID) (string, error) {
	opts := options.FindOne().
		SetSort(bson.D{{Key: "written_at", Value: -1}}).
		SetProjection(bson.M{"_id": 1})

	var doc summaryModel
	err := s.collection().FindOne(ctx, bson.M{"workflow_instance_id": instanceID.String()}, opts).Decode(&doc)
	if err != nil {
		if isNoDocuments(err) {
			return "", fmt.Errorf("%w: %s", durable.ErrSummaryNotFound, instanceID)
		}
		return "", wrap("find blob", err)
	}
	return doc.Path, nil
}

// DeleteBlob removes the blob at path. A missing blob is not an error.
func (s *Store) DeleteBlob(ctx context.Context, path string) error {
	if _, err := s.collection().DeleteOne(ctx, bson.M{"_id": path}); err != nil {
		return wrap("delete blob", err)
	}
	return nil
}

// Count returns the number of stored summaries.
func (s *Store) Count(ctx context.Context) (int64, error) {
	n, err := s.collection().CountDocuments(ctx, bson.M{})
	if err != nil {
		return 0, wrap("count blobs", err)
	}
	return n, nil
}

func (s *Store) collection() *mongod.Collection {
	return s.db.Collection(colSummaries)
}

// ── helpers ──────────────────────────────────────────────────────

// isNoDocuments returns true when err indicates no MongoDB documents found.
func isNoDocuments(err error) bool {
	return errors.Is(err, mongod.ErrNoDocuments)
}

// isUnavailable reports whether err means the server could not be reached.
func isUnavailable(err error) bool {
	if mongod.IsNetworkError(err) || mongod.IsTimeout(err) {
		return true
	}
	if errors.Is(err, mongod.ErrClientDisconnected) || errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var serverErr mongod.ServerError
	if errors.As(err, &serverErr) && serverErr.HasErrorLabel("RetryableWriteError") {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr)
}

func wrap(op string, err error) error {
	if isUnavailable(err) {
		return fmt.Errorf("durable/mongo: %s: %w: %w", op, durable.ErrStoreUnavailable, err)
	}
	return fmt.Errorf("durable/mongo: %s: %w", op, err)
}
