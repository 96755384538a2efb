package mongo

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/chatloom/chatloom/core"
)

// record is the stored shape: _id is the document path, parent the collection
// path, doc the caller's payload.
type record struct {
	ID     string   `bson:"_id"`
	Parent string   `bson:"parent"`
	Doc    bson.Raw `bson:"doc"`
}

// Options holds overrides passed to New.
type Options struct {
	// ConnectTimeout bounds the initial connect + ping.
	ConnectTimeout time.Duration
}

// Store implements core.RecordStore over one MongoDB collection.
type Store struct {
	client *mongo.Client
	coll   *mongo.Collection
}

var _ core.RecordStore = (*Store)(nil)

// New connects to MongoDB and pings it before returning.
func New(ctx context.Context, uri, database, collection string, optFns ...func(o *Options)) (*Store, error) {
	opts := Options{ConnectTimeout: 10 * time.Second}
	for _, fn := range optFns {
		fn(&opts)
	}
	clientOpts := options.Client().ApplyURI(uri).SetConnectTimeout(opts.ConnectTimeout)
	client, err := mongo.Connect(ctx, clientOpts)
	if err != nil {
		return nil, core.WrapError(core.CodeUnavailable, "connecting to mongodb", err)
	}
	if err := client.Ping(ctx, nil); err != nil {
		return nil, core.WrapError(core.CodeUnavailable, "pinging mongodb", err)
	}
	return NewWithClient(client, database, collection), nil
}

// NewWithClient wraps an existing client, for callers managing the connection
// themselves.
func NewWithClient(client *mongo.Client, database, collection string) *Store {
	return &Store{client: client, coll: client.Database(database).Collection(collection)}
}

// Close disconnects the underlying client.
func (s *Store) Close(ctx context.Context) error {
	return s.client.Disconnect(ctx)
}

// EnsureIndexes creates the parent index collection scans rely on. Call once
// at startup.
func (s *Store) EnsureIndexes(ctx context.Context) error {
	_, err := s.coll.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys: bson.D{{Key: "parent", Value: 1}},
	})
	if err != nil {
		return core.WrapError(core.CodeUnavailable, "creating parent index", err)
	}
	return nil
}

// NewID allocates a new unique document id.
func (s *Store) NewID() string { return uuid.NewString() }

// RunTransaction executes fn inside a MongoDB session transaction. The driver
// may retry fn on transient transaction errors, which the core.Tx contract
// already requires callers to tolerate.
func (s *Store) RunTransaction(ctx context.Context, fn func(tx core.Tx) error) error {
	sess, err := s.client.StartSession()
	if err != nil {
		return core.WrapError(core.CodeUnavailable, "starting mongodb session", err)
	}
	defer sess.EndSession(ctx)

	_, err = sess.WithTransaction(ctx, func(sc mongo.SessionContext) (any, error) {
		return nil, fn(&tx{ctx: sc, coll: s.coll})
	})
	return err
}

// Get reads one document outside any transaction.
func (s *Store) Get(ctx context.Context, path string) (core.Snapshot, error) {
	return getDoc(ctx, s.coll, path)
}

// Documents reads an ordered sub-collection outside any transaction.
func (s *Store) Documents(ctx context.Context, collection string, q core.Query) ([]core.Snapshot, error) {
	return findDocs(ctx, s.coll, collection, q)
}

// Batch starts an atomic bulk write.
func (s *Store) Batch() core.Batch {
	return &batch{coll: s.coll}
}

// tx implements core.Tx over a session context. Reads and writes all run on
// the session, so they commit or abort together.
type tx struct {
	ctx  mongo.SessionContext
	coll *mongo.Collection
}

var _ core.Tx = (*tx)(nil)

func (t *tx) Get(path string) (core.Snapshot, error) {
	return getDoc(t.ctx, t.coll, path)
}

func (t *tx) Documents(collection string, q core.Query) ([]core.Snapshot, error) {
	return findDocs(t.ctx, t.coll, collection, q)
}

func (t *tx) Set(path string, value any) error {
	rec, err := newRecord(path, value)
	if err != nil {
		return err
	}
	_, err = t.coll.ReplaceOne(t.ctx, bson.M{"_id": path}, rec, options.Replace().SetUpsert(true))
	if err != nil {
		return core.WrapError(core.CodeUnavailable, "writing "+path, err)
	}
	return nil
}

func (t *tx) Merge(path string, fields map[string]any) error {
	set := bson.M{}
	for k, v := range fields {
		set["doc."+k] = v
	}
	_, err := t.coll.UpdateOne(t.ctx,
		bson.M{"_id": path},
		bson.M{"$set": set, "$setOnInsert": bson.M{"parent": parentOf(path)}},
		options.Update().SetUpsert(true),
	)
	if err != nil {
		return core.WrapError(core.CodeUnavailable, "merging "+path, err)
	}
	return nil
}

func (t *tx) Delete(path string) error {
	if _, err := t.coll.DeleteOne(t.ctx, bson.M{"_id": path}); err != nil {
		return core.WrapError(core.CodeUnavailable, "deleting "+path, err)
	}
	return nil
}

// batch accumulates upserts flushed in one ordered bulk write.
type batch struct {
	coll   *mongo.Collection
	models []mongo.WriteModel
	err    error
}

var _ core.Batch = (*batch)(nil)

func (b *batch) Set(path string, value any) {
	if b.err != nil {
		return
	}
	rec, err := newRecord(path, value)
	if err != nil {
		b.err = err
		return
	}
	b.models = append(b.models, mongo.NewReplaceOneModel().
		SetFilter(bson.M{"_id": path}).
		SetReplacement(rec).
		SetUpsert(true))
}

func (b *batch) Commit(ctx context.Context) error {
	if b.err != nil {
		return b.err
	}
	if len(b.models) == 0 {
		return nil
	}
	_, err := b.coll.BulkWrite(ctx, b.models, options.BulkWrite().SetOrdered(true))
	if err != nil {
		return core.WrapError(core.CodeUnavailable, "committing batch", err)
	}
	return nil
}

// snapshot is a read view over one record.
type snapshot struct {
	path   string
	raw    bson.Raw
	exists bool
}

var _ core.Snapshot = (*snapshot)(nil)

func (s *snapshot) Exists() bool { return s.exists }
func (s *snapshot) ID() string   { return core.PathID(s.path) }
func (s *snapshot) Path() string { return s.path }

func (s *snapshot) Decode(out any) error {
	if !s.exists {
		return core.NewErrorf(core.CodeNotFound, "document %s not found", s.path)
	}
	if err := bson.Unmarshal(s.raw, out); err != nil {
		return core.WrapError(core.CodeInternal, "decoding "+s.path, err)
	}
	return nil
}

func newRecord(path string, value any) (record, error) {
	doc, err := bson.Marshal(value)
	if err != nil {
		return record{}, core.WrapError(core.CodeInternal, "encoding "+path, err)
	}
	return record{ID: path, Parent: parentOf(path), Doc: doc}, nil
}

func getDoc(ctx context.Context, coll *mongo.Collection, path string) (core.Snapshot, error) {
	var rec record
	err := coll.FindOne(ctx, bson.M{"_id": path}).Decode(&rec)
	if err == mongo.ErrNoDocuments {
		return &snapshot{path: path}, nil
	}
	if err != nil {
		return nil, core.WrapError(core.CodeUnavailable, "reading "+path, err)
	}
	return &snapshot{path: path, raw: rec.Doc, exists: true}, nil
}

func findDocs(ctx context.Context, coll *mongo.Collection, collection string, q core.Query) ([]core.Snapshot, error) {
	filter := bson.M{"parent": collection}
	for k, v := range q.Where {
		filter["doc."+k] = v
	}

	findOpts := options.Find()
	if q.OrderBy != "" {
		dir := 1
		if q.Descending {
			dir = -1
		}
		findOpts.SetSort(bson.D{{Key: "doc." + q.OrderBy, Value: dir}, {Key: "_id", Value: 1}})
	} else {
		findOpts.SetSort(bson.D{{Key: "_id", Value: 1}})
	}
	if q.Limit > 0 {
		findOpts.SetLimit(int64(q.Limit))
	}

	cur, err := coll.Find(ctx, filter, findOpts)
	if err != nil {
		return nil, core.WrapError(core.CodeUnavailable, "querying "+collection, err)
	}
	defer cur.Close(ctx)

	var out []core.Snapshot
	for cur.Next(ctx) {
		var rec record
		if err := cur.Decode(&rec); err != nil {
			return nil, core.WrapError(core.CodeInternal, "decoding query result in "+collection, err)
		}
		out = append(out, &snapshot{path: rec.ID, raw: rec.Doc, exists: true})
	}
	if err := cur.Err(); err != nil {
		return nil, core.WrapError(core.CodeUnavailable, "iterating "+collection, err)
	}
	return out, nil
}

func parentOf(path string) string {
	if i := strings.LastIndex(path, "/"); i >= 0 {
		return path[:i]
	}
	return ""
}
