package memory

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/chatloom/chatloom/core"
)

// Store is an in-memory core.RecordStore. It is safe for concurrent access.
// Documents are stored as decoded JSON maps so every read hands out an
// independent copy.
type Store struct {
	mu   sync.Mutex
	docs map[string]map[string]any
}

var _ core.RecordStore = (*Store)(nil)

// NewStore constructs an empty in-memory record store.
func NewStore() *Store {
	return &Store{docs: make(map[string]map[string]any)}
}

// NewID allocates a new unique document id.
func (s *Store) NewID() string { return uuid.NewString() }

// RunTransaction executes fn under the store lock. Writes are buffered and
// applied only when fn returns nil.
func (s *Store) RunTransaction(ctx context.Context, fn func(tx core.Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	t := &tx{store: s, overlay: make(map[string]map[string]any)}
	if err := fn(t); err != nil {
		return err
	}
	t.applyLocked()
	return nil
}

// Get reads one document outside any transaction.
func (s *Store) Get(ctx context.Context, path string) (core.Snapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshotLocked(path), nil
}

// Documents reads an ordered sub-collection outside any transaction.
func (s *Store) Documents(ctx context.Context, collection string, q core.Query) ([]core.Snapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.documentsLocked(collection, q, nil), nil
}

// Batch starts an atomic write batch.
func (s *Store) Batch() core.Batch {
	return &batch{store: s}
}

// Len reports the number of stored documents; a test helper.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.docs)
}

func (s *Store) snapshotLocked(path string) snapshot {
	doc, ok := s.docs[path]
	if !ok {
		return snapshot{path: path}
	}
	return snapshot{path: path, doc: doc, exists: true}
}

// documentsLocked lists the direct children of a collection ordered per q.
// overlay, when non-nil, shadows committed documents with in-transaction
// writes (nil entry = deleted).
func (s *Store) documentsLocked(collection string, q core.Query, overlay map[string]map[string]any) []core.Snapshot {
	prefix := collection + "/"
	merged := make(map[string]map[string]any)
	for path, doc := range s.docs {
		if isDirectChild(path, prefix) {
			merged[path] = doc
		}
	}
	for path, doc := range overlay {
		if !isDirectChild(path, prefix) {
			continue
		}
		if doc == nil {
			delete(merged, path)
		} else {
			merged[path] = doc
		}
	}

	out := make([]core.Snapshot, 0, len(merged))
	for path, doc := range merged {
		if !matchesWhere(doc, q.Where) {
			continue
		}
		out = append(out, snapshot{path: path, doc: doc, exists: true})
	}
	sort.Slice(out, func(i, j int) bool {
		a, b := out[i].(snapshot), out[j].(snapshot)
		if q.OrderBy != "" {
			c := compareValues(a.doc[q.OrderBy], b.doc[q.OrderBy])
			if c != 0 {
				if q.Descending {
					return c > 0
				}
				return c < 0
			}
		}
		return a.path < b.path
	})
	if q.Limit > 0 && len(out) > q.Limit {
		out = out[:q.Limit]
	}
	return out
}

func matchesWhere(doc map[string]any, where map[string]any) bool {
	for field, want := range where {
		encoded, err := encodeValue(want)
		if err != nil {
			return false
		}
		if compareValues(doc[field], encoded) != 0 {
			return false
		}
	}
	return true
}

func isDirectChild(path, prefix string) bool {
	if !strings.HasPrefix(path, prefix) {
		return false
	}
	return !strings.Contains(path[len(prefix):], "/")
}

// compareValues orders JSON-decoded field values. Timestamps serialize to
// RFC 3339 strings with trailing zeros stripped from the fraction, so they
// must be compared as times, not as plain strings.
func compareValues(a, b any) int {
	af, aok := a.(float64)
	bf, bok := b.(float64)
	if aok && bok {
		switch {
		case af < bf:
			return -1
		case af > bf:
			return 1
		default:
			return 0
		}
	}
	as := fmt.Sprintf("%v", a)
	bs := fmt.Sprintf("%v", b)
	if at, err := time.Parse(time.RFC3339Nano, as); err == nil {
		if bt, err := time.Parse(time.RFC3339Nano, bs); err == nil {
			return at.Compare(bt)
		}
	}
	return strings.Compare(as, bs)
}

type snapshot struct {
	path   string
	doc    map[string]any
	exists bool
}

func (s snapshot) Exists() bool { return s.exists }
func (s snapshot) ID() string   { return core.PathID(s.path) }
func (s snapshot) Path() string { return s.path }

func (s snapshot) Decode(out any) error {
	if !s.exists {
		return core.NewErrorf(core.CodeNotFound, "document %s does not exist", s.path)
	}
	raw, err := json.Marshal(s.doc)
	if err != nil {
		return err
	}
	return json.Unmarshal(raw, out)
}

// tx buffers writes in an overlay so reads within the transaction observe
// earlier writes of the same transaction.
type tx struct {
	store   *Store
	overlay map[string]map[string]any
}

var _ core.Tx = (*tx)(nil)

func (t *tx) Get(path string) (core.Snapshot, error) {
	if doc, ok := t.overlay[path]; ok {
		if doc == nil {
			return snapshot{path: path}, nil
		}
		return snapshot{path: path, doc: doc, exists: true}, nil
	}
	return t.store.snapshotLocked(path), nil
}

func (t *tx) Documents(collection string, q core.Query) ([]core.Snapshot, error) {
	return t.store.documentsLocked(collection, q, t.overlay), nil
}

func (t *tx) Set(path string, value any) error {
	doc, err := encodeDoc(value)
	if err != nil {
		return err
	}
	t.overlay[path] = doc
	return nil
}

func (t *tx) Merge(path string, fields map[string]any) error {
	base := map[string]any{}
	if doc, ok := t.overlay[path]; ok && doc != nil {
		base = doc
	} else if doc, ok := t.store.docs[path]; ok {
		base = copyDoc(doc)
	}
	for k, v := range fields {
		ev, err := encodeValue(v)
		if err != nil {
			return err
		}
		base[k] = ev
	}
	t.overlay[path] = base
	return nil
}

func (t *tx) Delete(path string) error {
	t.overlay[path] = nil
	return nil
}

func (t *tx) applyLocked() {
	for path, doc := range t.overlay {
		if doc == nil {
			delete(t.store.docs, path)
		} else {
			t.store.docs[path] = doc
		}
	}
}

type batch struct {
	store *Store
	sets  []batchSet
}

type batchSet struct {
	path  string
	value any
}

var _ core.Batch = (*batch)(nil)

func (b *batch) Set(path string, value any) {
	b.sets = append(b.sets, batchSet{path: path, value: value})
}

func (b *batch) Commit(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	encoded := make([]map[string]any, len(b.sets))
	for i, w := range b.sets {
		doc, err := encodeDoc(w.value)
		if err != nil {
			return err
		}
		encoded[i] = doc
	}
	b.store.mu.Lock()
	defer b.store.mu.Unlock()
	for i, w := range b.sets {
		b.store.docs[w.path] = encoded[i]
	}
	b.sets = nil
	return nil
}

func encodeDoc(value any) (map[string]any, error) {
	raw, err := json.Marshal(value)
	if err != nil {
		return nil, err
	}
	var doc map[string]any
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("document must encode to an object: %w", err)
	}
	return doc, nil
}

func encodeValue(value any) (any, error) {
	raw, err := json.Marshal(value)
	if err != nil {
		return nil, err
	}
	var out any
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func copyDoc(doc map[string]any) map[string]any {
	out := make(map[string]any, len(doc))
	for k, v := range doc {
		out[k] = v
	}
	return out
}
