// Package memorydb implements the database contract with an in-memory
// store, for testing or temporary use.
package memorydb

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/hashicorp/go-memdb"
	"github.com/rs/xid"

	"github.com/Lllllllleong/collectionadmin/internal/database"
	"github.com/Lllllllleong/collectionadmin/internal/models"
)

// prefixSentinel closes the lexicographic search range, mirroring the
// Firestore backend.
const prefixSentinel = ""

// docRecord is the memdb row for one document.
type docRecord struct {
	Key        string
	Collection string
	ID         string
	Fields     map[string]any
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

func (r *docRecord) toDocument() *models.Document {
	fields := make(map[string]any, len(r.Fields))
	for k, v := range r.Fields {
		fields[k] = v
	}
	return &models.Document{
		ID:        r.ID,
		Fields:    fields,
		CreatedAt: r.CreatedAt,
		UpdatedAt: r.UpdatedAt,
	}
}

// DB is an in-memory database backed by go-memdb.
type DB struct {
	db *memdb.MemDB
}

// New returns a new in-memory database.
func New() (*DB, error) {
	memDB, err := memdb.NewMemDB(schema)
	if err != nil {
		return nil, fmt.Errorf("new memdb: %w", err)
	}
	return &DB{db: memDB}, nil
}

// Close closes the database.
func (d *DB) Close() error {
	return nil
}

func recordKey(collection, id string) string {
	return collection + "/" + id
}

func cloneFields(fields map[string]any) map[string]any {
	copied := make(map[string]any, len(fields))
	for k, v := range fields {
		copied[k] = v
	}
	return copied
}

// Create stores a new document with an xid-assigned id.
func (d *DB) Create(_ context.Context, collection string, fields map[string]any) (*models.Document, error) {
	txn := d.db.Txn(true)
	defer txn.Abort()

	rec, err := insertDoc(txn, collection, fields)
	if err != nil {
		return nil, err
	}

	txn.Commit()
	return rec.toDocument(), nil
}

func insertDoc(txn *memdb.Txn, collection string, fields map[string]any) (*docRecord, error) {
	now := time.Now()
	rec := &docRecord{
		Key:        "",
		Collection: collection,
		ID:         xid.New().String(),
		Fields:     cloneFields(fields),
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	rec.Key = recordKey(collection, rec.ID)
	if err := txn.Insert(tblDocuments, rec); err != nil {
		return nil, fmt.Errorf("insert document: %w", err)
	}
	return rec, nil
}

// Get returns the document, or (nil, nil) when absent.
func (d *DB) Get(_ context.Context, collection, id string) (*models.Document, error) {
	txn := d.db.Txn(false)
	defer txn.Abort()

	raw, err := txn.First(tblDocuments, "id", recordKey(collection, id))
	if err != nil {
		return nil, fmt.Errorf("find document: %w", err)
	}
	if raw == nil {
		return nil, nil
	}
	return raw.(*docRecord).toDocument(), nil
}

// Set upserts the document under the given id, replacing existing fields.
func (d *DB) Set(_ context.Context, collection, id string, fields map[string]any) (*models.Document, error) {
	txn := d.db.Txn(true)
	defer txn.Abort()

	now := time.Now()
	rec := &docRecord{
		Key:        recordKey(collection, id),
		Collection: collection,
		ID:         id,
		Fields:     cloneFields(fields),
		CreatedAt:  now,
		UpdatedAt:  now,
	}

	raw, err := txn.First(tblDocuments, "id", rec.Key)
	if err != nil {
		return nil, fmt.Errorf("find document: %w", err)
	}
	if raw != nil {
		rec.CreatedAt = raw.(*docRecord).CreatedAt
	}

	if err := txn.Insert(tblDocuments, rec); err != nil {
		return nil, fmt.Errorf("upsert document: %w", err)
	}

	txn.Commit()
	return rec.toDocument(), nil
}

// Update merges fields into the existing document.
func (d *DB) Update(_ context.Context, collection, id string, fields map[string]any) (*models.Document, error) {
	txn := d.db.Txn(true)
	defer txn.Abort()

	rec, err := mergeDoc(txn, collection, id, fields)
	if err != nil {
		return nil, err
	}

	txn.Commit()
	return rec.toDocument(), nil
}

func mergeDoc(txn *memdb.Txn, collection, id string, fields map[string]any) (*docRecord, error) {
	raw, err := txn.First(tblDocuments, "id", recordKey(collection, id))
	if err != nil {
		return nil, fmt.Errorf("find document: %w", err)
	}
	if raw == nil {
		return nil, fmt.Errorf("%s/%s: %w", collection, id, database.ErrDocumentNotFound)
	}

	prev := raw.(*docRecord)
	merged := cloneFields(prev.Fields)
	for k, v := range fields {
		merged[k] = v
	}

	now := time.Now()
	if !now.After(prev.UpdatedAt) {
		now = prev.UpdatedAt.Add(time.Nanosecond)
	}

	rec := &docRecord{
		Key:        prev.Key,
		Collection: prev.Collection,
		ID:         prev.ID,
		Fields:     merged,
		CreatedAt:  prev.CreatedAt,
		UpdatedAt:  now,
	}
	if err := txn.Insert(tblDocuments, rec); err != nil {
		return nil, fmt.Errorf("update document: %w", err)
	}
	return rec, nil
}

// Delete removes the document; absent ids are a no-op.
func (d *DB) Delete(_ context.Context, collection, id string) error {
	txn := d.db.Txn(true)
	defer txn.Abort()

	raw, err := txn.First(tblDocuments, "id", recordKey(collection, id))
	if err != nil {
		return fmt.Errorf("find document: %w", err)
	}
	if raw == nil {
		return nil
	}
	if err := txn.Delete(tblDocuments, raw); err != nil {
		return fmt.Errorf("delete document: %w", err)
	}

	txn.Commit()
	return nil
}

func (d *DB) collectionDocs(txn *memdb.Txn, collection string) ([]*docRecord, error) {
	it, err := txn.Get(tblDocuments, "collection", collection)
	if err != nil {
		return nil, fmt.Errorf("scan collection: %w", err)
	}
	var recs []*docRecord
	for raw := it.Next(); raw != nil; raw = it.Next() {
		recs = append(recs, raw.(*docRecord))
	}
	return recs, nil
}

// Query returns documents matching all filters.
func (d *DB) Query(_ context.Context, collection string, filters []Filter, sortBy *Sort, limit int) ([]*models.Document, error) {
	for _, f := range filters {
		if !database.ValidOperator(f.Op) {
			return nil, fmt.Errorf("%q: %w", f.Op, database.ErrInvalidOperator)
		}
	}

	txn := d.db.Txn(false)
	defer txn.Abort()

	recs, err := d.collectionDocs(txn, collection)
	if err != nil {
		return nil, err
	}

	var docs []*models.Document
	for _, rec := range recs {
		if matchesFilters(rec, filters) {
			docs = append(docs, rec.toDocument())
		}
	}

	if sortBy != nil {
		sortDocuments(docs, sortBy)
	} else {
		sort.Slice(docs, func(i, j int) bool { return docs[i].ID < docs[j].ID })
	}

	if limit > 0 && len(docs) > limit {
		docs = docs[:limit]
	}
	return docs, nil
}

// Paginate walks the collection in id order.
func (d *DB) Paginate(_ context.Context, collection string, pageSize int, cursor string) (*database.Page, error) {
	txn := d.db.Txn(false)
	defer txn.Abort()

	recs, err := d.collectionDocs(txn, collection)
	if err != nil {
		return nil, err
	}
	sort.Slice(recs, func(i, j int) bool { return recs[i].ID < recs[j].ID })

	start := 0
	if cursor != "" {
		for i, rec := range recs {
			if rec.ID > cursor {
				start = i
				break
			}
			start = i + 1
		}
	}

	end := start + pageSize
	if end > len(recs) {
		end = len(recs)
	}

	page := &database.Page{}
	for _, rec := range recs[start:end] {
		page.Documents = append(page.Documents, rec.toDocument())
	}
	if len(page.Documents) > 0 {
		page.Cursor = page.Documents[len(page.Documents)-1].ID
	}
	page.HasMore = len(page.Documents) == pageSize
	return page, nil
}

// Search performs a lexicographic prefix match on a string field.
func (d *DB) Search(_ context.Context, collection, field, term string, limit int) ([]*models.Document, error) {
	txn := d.db.Txn(false)
	defer txn.Abort()

	recs, err := d.collectionDocs(txn, collection)
	if err != nil {
		return nil, err
	}

	upper := term + prefixSentinel
	var docs []*models.Document
	for _, rec := range recs {
		v, ok := rec.Fields[field].(string)
		if !ok {
			continue
		}
		if v >= term && v < upper {
			docs = append(docs, rec.toDocument())
		}
	}
	sort.Slice(docs, func(i, j int) bool {
		return docs[i].Fields[field].(string) < docs[j].Fields[field].(string)
	})
	if limit > 0 && len(docs) > limit {
		docs = docs[:limit]
	}
	return docs, nil
}

// Count returns the number of documents in the collection.
func (d *DB) Count(_ context.Context, collection string) (int64, error) {
	txn := d.db.Txn(false)
	defer txn.Abort()

	recs, err := d.collectionDocs(txn, collection)
	if err != nil {
		return 0, err
	}
	return int64(len(recs)), nil
}

// Collections lists all non-empty collection names.
func (d *DB) Collections(_ context.Context) ([]string, error) {
	txn := d.db.Txn(false)
	defer txn.Abort()

	it, err := txn.Get(tblDocuments, "id")
	if err != nil {
		return nil, fmt.Errorf("scan documents: %w", err)
	}

	seen := map[string]struct{}{}
	var names []string
	for raw := it.Next(); raw != nil; raw = it.Next() {
		c := raw.(*docRecord).Collection
		if _, ok := seen[c]; !ok {
			seen[c] = struct{}{}
			names = append(names, c)
		}
	}
	sort.Strings(names)
	return names, nil
}

// BatchCreate inserts all documents in one transaction.
func (d *DB) BatchCreate(_ context.Context, collection string, docs []map[string]any) ([]*models.Document, error) {
	txn := d.db.Txn(true)
	defer txn.Abort()

	created := make([]*models.Document, 0, len(docs))
	for _, fields := range docs {
		rec, err := insertDoc(txn, collection, fields)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", database.ErrBatchFailed, err)
		}
		created = append(created, rec.toDocument())
	}

	txn.Commit()
	return created, nil
}

// BatchUpdate merges all updates in one transaction. A single missing id
// rejects the whole batch.
func (d *DB) BatchUpdate(_ context.Context, collection string, updates []models.BatchUpdateItem) error {
	txn := d.db.Txn(true)
	defer txn.Abort()

	for _, u := range updates {
		if _, err := mergeDoc(txn, collection, u.ID, u.Data); err != nil {
			return fmt.Errorf("%w: %v", database.ErrBatchFailed, err)
		}
	}

	txn.Commit()
	return nil
}

// BatchDelete removes all ids in one transaction; absent ids are skipped.
func (d *DB) BatchDelete(_ context.Context, collection string, ids []string) error {
	txn := d.db.Txn(true)
	defer txn.Abort()

	for _, id := range ids {
		raw, err := txn.First(tblDocuments, "id", recordKey(collection, id))
		if err != nil {
			return fmt.Errorf("%w: %v", database.ErrBatchFailed, err)
		}
		if raw == nil {
			continue
		}
		if err := txn.Delete(tblDocuments, raw); err != nil {
			return fmt.Errorf("%w: %v", database.ErrBatchFailed, err)
		}
	}

	txn.Commit()
	return nil
}

// Filter and Sort aliases keep call sites uniform with the contract package.
type (
	Filter = database.Filter
	Sort   = database.Sort
)

func matchesFilters(rec *docRecord, filters []Filter) bool {
	for _, f := range filters {
		cmp, ok := compareValues(rec.Fields[f.Field], f.Value)
		if !ok {
			return false
		}
		switch f.Op {
		case database.OpEqual:
			if cmp != 0 {
				return false
			}
		case database.OpLess:
			if cmp >= 0 {
				return false
			}
		case database.OpLessEqual:
			if cmp > 0 {
				return false
			}
		case database.OpGreater:
			if cmp <= 0 {
				return false
			}
		case database.OpGreaterEqual:
			if cmp < 0 {
				return false
			}
		}
	}
	return true
}

func sortDocuments(docs []*models.Document, s *Sort) {
	sort.SliceStable(docs, func(i, j int) bool {
		cmp, ok := compareValues(docs[i].Fields[s.Field], docs[j].Fields[s.Field])
		if !ok {
			return false
		}
		if s.Desc {
			return cmp > 0
		}
		return cmp < 0
	})
}

// compareValues orders two field values of the same kind. Numeric types
// compare across int/float representations since JSON decoding produces
// float64 for every number.
func compareValues(a, b any) (int, bool) {
	if af, aok := toFloat(a); aok {
		bf, bok := toFloat(b)
		if !bok {
			return 0, false
		}
		switch {
		case af < bf:
			return -1, true
		case af > bf:
			return 1, true
		}
		return 0, true
	}

	switch av := a.(type) {
	case string:
		bv, ok := b.(string)
		if !ok {
			return 0, false
		}
		return strings.Compare(av, bv), true
	case bool:
		bv, ok := b.(bool)
		if !ok {
			return 0, false
		}
		switch {
		case av == bv:
			return 0, true
		case !av:
			return -1, true
		}
		return 1, true
	case time.Time:
		bv, ok := b.(time.Time)
		if !ok {
			return 0, false
		}
		return av.Compare(bv), true
	}
	return 0, false
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case float32:
		return float64(n), true
	case float64:
		return n, true
	}
	return 0, false
}
