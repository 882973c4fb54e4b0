// Package database defines the backend-neutral contract for the document
// store. Production runs against Firestore (firestoredb); tests and local
// runs use the in-memory implementation (memorydb).
package database

import (
	"context"
	"errors"

	"github.com/Lllllllleong/collectionadmin/internal/models"
)

var (
	// ErrDocumentNotFound is returned on id-addressed reads or updates of
	// an absent document. Get is the exception: it returns (nil, nil).
	ErrDocumentNotFound = errors.New("document not found")

	// ErrStoreUnavailable is returned when the backing service cannot be
	// reached.
	ErrStoreUnavailable = errors.New("document store unavailable")

	// ErrBatchFailed is returned when an atomic batch is rejected. No
	// operation in the batch is visible afterwards.
	ErrBatchFailed = errors.New("batch operation failed")

	// ErrInvalidOperator is returned for a filter operator outside the
	// supported set.
	ErrInvalidOperator = errors.New("invalid filter operator")
)

// Supported filter operators.
const (
	OpEqual        = "="
	OpLess         = "<"
	OpLessEqual    = "<="
	OpGreater      = ">"
	OpGreaterEqual = ">="
)

// ValidOperator reports whether op is one of the supported operators.
func ValidOperator(op string) bool {
	switch op {
	case OpEqual, OpLess, OpLessEqual, OpGreater, OpGreaterEqual:
		return true
	}
	return false
}

// Filter is one (field, operator, value) predicate. Multiple filters are
// ANDed together; there is no OR.
type Filter struct {
	Field string `json:"field"`
	Op    string `json:"op"`
	Value any    `json:"value"`
}

// Sort orders query results by a single field.
type Sort struct {
	Field string `json:"field"`
	Desc  bool   `json:"desc"`
}

// Page is one slice of a cursor-paginated listing. HasMore is approximated
// as "returned count == requested page size", so the page after a collection
// whose size is an exact multiple of the page size will be empty.
type Page struct {
	Documents []*models.Document `json:"documents"`
	Cursor    string             `json:"cursor"`
	HasMore   bool               `json:"hasMore"`
}

// Database is the collection store contract. All operations address a named
// collection; collections come into existence on first write.
type Database interface {
	// Create stores a new document with server-assigned id and timestamps.
	Create(ctx context.Context, collection string, fields map[string]any) (*models.Document, error)

	// Get returns the document, or (nil, nil) when it does not exist.
	Get(ctx context.Context, collection, id string) (*models.Document, error)

	// Set upserts the document under the given id, replacing any existing
	// fields wholesale. Used for records keyed by a natural name, such as
	// per-collection schemas.
	Set(ctx context.Context, collection, id string, fields map[string]any) (*models.Document, error)

	// Update merges fields into an existing document and refreshes its
	// updatedAt. Returns ErrDocumentNotFound when the id does not exist.
	Update(ctx context.Context, collection, id string, fields map[string]any) (*models.Document, error)

	// Delete removes the document. Deleting an absent id is not an error.
	Delete(ctx context.Context, collection, id string) error

	// Query returns documents matching all filters, optionally sorted and
	// truncated to limit (0 means no limit).
	Query(ctx context.Context, collection string, filters []Filter, sort *Sort, limit int) ([]*models.Document, error)

	// Paginate walks the collection in stable id order.
	Paginate(ctx context.Context, collection string, pageSize int, cursor string) (*Page, error)

	// Search returns documents whose field value starts with term, via the
	// lexicographic range [term, term+"").
	Search(ctx context.Context, collection, field, term string, limit int) ([]*models.Document, error)

	// Count returns the number of documents in the collection.
	Count(ctx context.Context, collection string) (int64, error)

	// Collections lists the names of all non-empty collections.
	Collections(ctx context.Context) ([]string, error)

	// BatchCreate, BatchUpdate and BatchDelete each apply their writes as a
	// single atomic unit: either every operation succeeds or none is
	// visible. Failure surfaces as ErrBatchFailed.
	BatchCreate(ctx context.Context, collection string, docs []map[string]any) ([]*models.Document, error)
	BatchUpdate(ctx context.Context, collection string, updates []models.BatchUpdateItem) error
	BatchDelete(ctx context.Context, collection string, ids []string) error

	Close() error
}
