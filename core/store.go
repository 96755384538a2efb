package core

import "context"

// Query selects and orders documents of one sub-collection.
type Query struct {
	// Where filters documents by field equality.
	Where map[string]any
	// OrderBy names the document field to sort on.
	OrderBy string
	// Descending reverses the sort order.
	Descending bool
	// Limit caps the number of returned documents, 0 for no cap.
	Limit int
}

// Snapshot is a read view of one document.
type Snapshot interface {
	// Exists reports whether the document was found.
	Exists() bool
	// ID returns the last path segment of the document.
	ID() string
	// Path returns the full document path.
	Path() string
	// Decode unmarshals the document into out.
	Decode(out any) error
}

// Tx is the handle passed to a transaction function. All reads observe a
// consistent view and all writes apply atomically iff the function returns
// nil. Implementations may re-invoke the function on contention, so it must
// be side-effect free outside the transaction.
type Tx interface {
	// Get reads one document. A missing document yields a non-nil Snapshot
	// with Exists() == false, not an error.
	Get(path string) (Snapshot, error)
	// Documents reads an ordered sub-collection.
	Documents(collection string, q Query) ([]Snapshot, error)
	// Set writes the full document, creating or replacing it.
	Set(path string, value any) error
	// Merge sets individual top-level fields, leaving others intact.
	Merge(path string, fields map[string]any) error
	// Delete removes the document if present.
	Delete(path string) error
}

// Batch accumulates writes applied in one atomic commit, used for
// post-transaction message inserts.
type Batch interface {
	Set(path string, value any)
	Commit(ctx context.Context) error
}

// RecordStore is the durable record store contract the engine is written
// against: documents with last-write-wins fields, atomic multi-document
// transactions with read-then-conditional-write semantics, and ordered
// sub-collections.
type RecordStore interface {
	// RunTransaction executes fn transactionally.
	RunTransaction(ctx context.Context, fn func(tx Tx) error) error
	// Documents reads an ordered sub-collection outside any transaction.
	Documents(ctx context.Context, collection string, q Query) ([]Snapshot, error)
	// Get reads one document outside any transaction.
	Get(ctx context.Context, path string) (Snapshot, error)
	// Batch starts an atomic write batch.
	Batch() Batch
	// NewID allocates a new unique document id.
	NewID() string
}
