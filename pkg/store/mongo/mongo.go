// Package mongo provides a MongoDB-backed implementation of the
// persistence contract in pkg/store.
//
// Edges and positions live in two collections partitioned by scope ID:
//
//	dependencies: {scope_id, edge_id, from, to}
//	positions:    {scope_id, task_id, pos: {x, y}}
//
// Validation (self, duplicate, cycle) mirrors the client-side guard: the
// cycle check loads the scope's edge set and runs the same reachability
// search the engine uses, so server and client decisions cannot diverge.
// The duplicate check is additionally backed by a unique index on
// (scope_id, from, to) to stay correct under concurrent writers.
package mongo

import (
	"context"

	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/taskdeck/taskgraph/pkg/errors"
	"github.com/taskdeck/taskgraph/pkg/graph"
	"github.com/taskdeck/taskgraph/pkg/store"
)

const (
	collDependencies = "dependencies"
	collPositions    = "positions"
)

type depDoc struct {
	ScopeID string `bson:"scope_id"`
	EdgeID  string `bson:"edge_id"`
	From    string `bson:"from"`
	To      string `bson:"to"`
}

type posDoc struct {
	ScopeID string      `bson:"scope_id"`
	TaskID  string      `bson:"task_id"`
	Pos     graph.Point `bson:"pos"`
}

// Store is a MongoDB-backed persistence service.
type Store struct {
	db *mongo.Database
}

// New creates a Store on the given database. Call EnsureIndexes once at
// startup before serving traffic.
func New(db *mongo.Database) *Store {
	return &Store{db: db}
}

// Connect dials MongoDB and returns a Store on the named database.
// The returned close function disconnects the client.
func Connect(ctx context.Context, uri, database string) (*Store, func(context.Context) error, error) {
	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, nil, errors.Wrap(errors.ErrCodePersistence, err, "connect to mongodb")
	}
	if err := client.Ping(ctx, nil); err != nil {
		_ = client.Disconnect(ctx)
		return nil, nil, errors.Wrap(errors.ErrCodePersistence, err, "ping mongodb")
	}
	return New(client.Database(database)), client.Disconnect, nil
}

// EnsureIndexes creates the indexes the store relies on: a unique pair
// index guarding duplicates under concurrency, lookup indexes for edge ID
// and position upserts.
func (s *Store) EnsureIndexes(ctx context.Context) error {
	unique := true
	_, err := s.db.Collection(collDependencies).Indexes().CreateMany(ctx, []mongo.IndexModel{
		{
			Keys:    bson.D{{Key: "scope_id", Value: 1}, {Key: "from", Value: 1}, {Key: "to", Value: 1}},
			Options: &options.IndexOptions{Unique: &unique},
		},
		{
			Keys:    bson.D{{Key: "scope_id", Value: 1}, {Key: "edge_id", Value: 1}},
			Options: &options.IndexOptions{Unique: &unique},
		},
	})
	if err != nil {
		return errors.Wrap(errors.ErrCodePersistence, err, "create dependency indexes")
	}
	_, err = s.db.Collection(collPositions).Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys:    bson.D{{Key: "scope_id", Value: 1}, {Key: "task_id", Value: 1}},
		Options: &options.IndexOptions{Unique: &unique},
	})
	if err != nil {
		return errors.Wrap(errors.ErrCodePersistence, err, "create position index")
	}
	return nil
}

// ListDependencies returns every edge in the scope.
func (s *Store) ListDependencies(ctx context.Context, scopeID string) ([]store.DependencyRecord, error) {
	cur, err := s.db.Collection(collDependencies).Find(ctx, bson.M{"scope_id": scopeID})
	if err != nil {
		return nil, errors.Wrap(errors.ErrCodePersistence, err, "list dependencies for scope %s", scopeID)
	}
	defer cur.Close(ctx)

	var out []store.DependencyRecord
	for cur.Next(ctx) {
		var doc depDoc
		if err := cur.Decode(&doc); err != nil {
			return nil, errors.Wrap(errors.ErrCodeInternal, err, "decode dependency")
		}
		out = append(out, store.DependencyRecord{EdgeID: doc.EdgeID, From: doc.From, To: doc.To})
	}
	if err := cur.Err(); err != nil {
		return nil, errors.Wrap(errors.ErrCodePersistence, err, "iterate dependencies")
	}
	return out, nil
}

// ListPositions returns every saved position in the scope.
func (s *Store) ListPositions(ctx context.Context, scopeID string) ([]store.PositionRecord, error) {
	cur, err := s.db.Collection(collPositions).Find(ctx, bson.M{"scope_id": scopeID})
	if err != nil {
		return nil, errors.Wrap(errors.ErrCodePersistence, err, "list positions for scope %s", scopeID)
	}
	defer cur.Close(ctx)

	var out []store.PositionRecord
	for cur.Next(ctx) {
		var doc posDoc
		if err := cur.Decode(&doc); err != nil {
			return nil, errors.Wrap(errors.ErrCodeInternal, err, "decode position")
		}
		out = append(out, store.PositionRecord{TaskID: doc.TaskID, Pos: doc.Pos})
	}
	if err := cur.Err(); err != nil {
		return nil, errors.Wrap(errors.ErrCodePersistence, err, "iterate positions")
	}
	return out, nil
}

// CreateDependency validates and persists a new edge.
func (s *Store) CreateDependency(ctx context.Context, scopeID, fromTaskID, toTaskID string) (string, error) {
	if fromTaskID == "" || toTaskID == "" {
		return "", errors.New(errors.ErrCodeInvalidInput, "dependency endpoints must not be empty")
	}
	if fromTaskID == toTaskID {
		return "", errors.New(errors.ErrCodeSelfDependency, "task %s cannot depend on itself", fromTaskID)
	}

	existing, err := s.ListDependencies(ctx, scopeID)
	if err != nil {
		return "", err
	}
	children := make(map[string][]string, len(existing))
	for _, r := range existing {
		if r.From == fromTaskID && r.To == toTaskID {
			return "", errors.New(errors.ErrCodeDuplicateEdge, "dependency %s→%s already exists", fromTaskID, toTaskID)
		}
		children[r.From] = append(children[r.From], r.To)
	}
	if graph.Reachable(toTaskID, fromTaskID, func(id string) []string { return children[id] }) {
		return "", errors.New(errors.ErrCodeCycleRejected, "dependency %s→%s would create a cycle", fromTaskID, toTaskID)
	}

	doc := depDoc{ScopeID: scopeID, EdgeID: uuid.NewString(), From: fromTaskID, To: toTaskID}
	if _, err := s.db.Collection(collDependencies).InsertOne(ctx, doc); err != nil {
		// A concurrent writer can beat the pre-check; the unique pair
		// index turns that race into a duplicate rejection.
		if mongo.IsDuplicateKeyError(err) {
			return "", errors.New(errors.ErrCodeDuplicateEdge, "dependency %s→%s already exists", fromTaskID, toTaskID)
		}
		return "", errors.Wrap(errors.ErrCodePersistence, err, "insert dependency")
	}
	return doc.EdgeID, nil
}

// DeleteDependency removes an edge by ID.
func (s *Store) DeleteDependency(ctx context.Context, scopeID, edgeID string) error {
	res, err := s.db.Collection(collDependencies).DeleteOne(ctx, bson.M{"scope_id": scopeID, "edge_id": edgeID})
	if err != nil {
		return errors.Wrap(errors.ErrCodePersistence, err, "delete dependency %s", edgeID)
	}
	if res.DeletedCount == 0 {
		return errors.New(errors.ErrCodeNotFound, "dependency %s not found", edgeID)
	}
	return nil
}

// UpdateTaskPosition upserts or clears a task position.
func (s *Store) UpdateTaskPosition(ctx context.Context, scopeID, taskID string, pos *graph.Point) error {
	if taskID == "" {
		return errors.New(errors.ErrCodeInvalidInput, "task ID must not be empty")
	}
	coll := s.db.Collection(collPositions)
	filter := bson.M{"scope_id": scopeID, "task_id": taskID}

	if pos == nil {
		if _, err := coll.DeleteOne(ctx, filter); err != nil {
			return errors.Wrap(errors.ErrCodePersistence, err, "clear position for %s", taskID)
		}
		return nil
	}

	upsert := true
	update := bson.M{"$set": bson.M{"pos": *pos}}
	if _, err := coll.UpdateOne(ctx, filter, update, &options.UpdateOptions{Upsert: &upsert}); err != nil {
		return errors.Wrap(errors.ErrCodePersistence, err, "update position for %s", taskID)
	}
	return nil
}

var _ store.Store = (*Store)(nil)
