// Package firestoredb implements the database contract on Cloud Firestore.
package firestoredb

import (
	"context"
	"fmt"
	"time"

	"cloud.google.com/go/firestore"
	"cloud.google.com/go/firestore/apiv1/firestorepb"
	"google.golang.org/api/iterator"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/Lllllllleong/collectionadmin/internal/database"
	"github.com/Lllllllleong/collectionadmin/internal/models"
)

// prefixSentinel is the highest Unicode code point in the private-use area,
// appended to a term to close the lexicographic prefix range.
const prefixSentinel = ""

const (
	fieldCreatedAt = "createdAt"
	fieldUpdatedAt = "updatedAt"
)

// DB implements database.Database against a Firestore project.
type DB struct {
	client *firestore.Client
}

// New wraps an existing Firestore client.
func New(client *firestore.Client) *DB {
	return &DB{client: client}
}

// Close closes the underlying client.
func (d *DB) Close() error {
	return d.client.Close()
}

// convErr maps transport errors onto the package sentinels.
func convErr(op string, err error) error {
	switch status.Code(err) {
	case codes.NotFound:
		return fmt.Errorf("%s: %w", op, database.ErrDocumentNotFound)
	case codes.Unavailable, codes.DeadlineExceeded:
		return fmt.Errorf("%s: %w: %v", op, database.ErrStoreUnavailable, err)
	}
	return fmt.Errorf("%s: %w", op, err)
}

func writeData(fields map[string]any) map[string]any {
	data := make(map[string]any, len(fields)+2)
	for k, v := range fields {
		data[k] = v
	}
	data[fieldCreatedAt] = firestore.ServerTimestamp
	data[fieldUpdatedAt] = firestore.ServerTimestamp
	return data
}

func snapToDocument(snap *firestore.DocumentSnapshot) *models.Document {
	data := snap.Data()
	doc := &models.Document{ID: snap.Ref.ID, Fields: data}
	if t, ok := data[fieldCreatedAt].(time.Time); ok {
		doc.CreatedAt = t
	}
	if t, ok := data[fieldUpdatedAt].(time.Time); ok {
		doc.UpdatedAt = t
	}
	delete(data, fieldCreatedAt)
	delete(data, fieldUpdatedAt)
	return doc
}

// Create stores a new document under a Firestore auto-id and reads the
// server-stamped timestamps back.
func (d *DB) Create(ctx context.Context, collection string, fields map[string]any) (*models.Document, error) {
	ref := d.client.Collection(collection).NewDoc()
	if _, err := ref.Create(ctx, writeData(fields)); err != nil {
		return nil, convErr("create document", err)
	}

	snap, err := ref.Get(ctx)
	if err != nil {
		return nil, convErr("read back created document", err)
	}
	return snapToDocument(snap), nil
}

// Get returns the document, or (nil, nil) when absent.
func (d *DB) Get(ctx context.Context, collection, id string) (*models.Document, error) {
	snap, err := d.client.Collection(collection).Doc(id).Get(ctx)
	if status.Code(err) == codes.NotFound {
		return nil, nil
	}
	if err != nil {
		return nil, convErr("get document", err)
	}
	return snapToDocument(snap), nil
}

// Set upserts the document under the given id, replacing existing fields.
func (d *DB) Set(ctx context.Context, collection, id string, fields map[string]any) (*models.Document, error) {
	ref := d.client.Collection(collection).Doc(id)
	if _, err := ref.Set(ctx, writeData(fields)); err != nil {
		return nil, convErr("set document", err)
	}

	snap, err := ref.Get(ctx)
	if err != nil {
		return nil, convErr("read back set document", err)
	}
	return snapToDocument(snap), nil
}

// Update merges fields into an existing document. Firestore rejects updates
// of absent documents, which maps onto ErrDocumentNotFound.
func (d *DB) Update(ctx context.Context, collection, id string, fields map[string]any) (*models.Document, error) {
	ref := d.client.Collection(collection).Doc(id)

	updates := make([]firestore.Update, 0, len(fields)+1)
	for k, v := range fields {
		updates = append(updates, firestore.Update{Path: k, Value: v})
	}
	updates = append(updates, firestore.Update{Path: fieldUpdatedAt, Value: firestore.ServerTimestamp})

	if _, err := ref.Update(ctx, updates); err != nil {
		return nil, convErr("update document", err)
	}

	snap, err := ref.Get(ctx)
	if err != nil {
		return nil, convErr("read back updated document", err)
	}
	return snapToDocument(snap), nil
}

// Delete removes the document. Firestore deletes are idempotent.
func (d *DB) Delete(ctx context.Context, collection, id string) error {
	if _, err := d.client.Collection(collection).Doc(id).Delete(ctx); err != nil {
		return convErr("delete document", err)
	}
	return nil
}

func opToFirestore(op string) (string, error) {
	switch op {
	case database.OpEqual:
		return "==", nil
	case database.OpLess, database.OpLessEqual, database.OpGreater, database.OpGreaterEqual:
		return op, nil
	}
	return "", fmt.Errorf("%q: %w", op, database.ErrInvalidOperator)
}

func collectDocs(it *firestore.DocumentIterator) ([]*models.Document, error) {
	var docs []*models.Document
	for {
		snap, err := it.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, convErr("iterate documents", err)
		}
		docs = append(docs, snapToDocument(snap))
	}
	return docs, nil
}

// Query returns documents matching all filters ANDed together.
func (d *DB) Query(ctx context.Context, collection string, filters []database.Filter, sortBy *database.Sort, limit int) ([]*models.Document, error) {
	q := d.client.Collection(collection).Query
	for _, f := range filters {
		op, err := opToFirestore(f.Op)
		if err != nil {
			return nil, err
		}
		q = q.Where(f.Field, op, f.Value)
	}
	if sortBy != nil {
		dir := firestore.Asc
		if sortBy.Desc {
			dir = firestore.Desc
		}
		q = q.OrderBy(sortBy.Field, dir)
	}
	if limit > 0 {
		q = q.Limit(limit)
	}
	return collectDocs(q.Documents(ctx))
}

// Paginate walks the collection ordered by document id; the cursor is the
// last id of the previous page.
func (d *DB) Paginate(ctx context.Context, collection string, pageSize int, cursor string) (*database.Page, error) {
	q := d.client.Collection(collection).Query.
		OrderBy(firestore.DocumentID, firestore.Asc).
		Limit(pageSize)
	if cursor != "" {
		q = q.StartAfter(cursor)
	}

	docs, err := collectDocs(q.Documents(ctx))
	if err != nil {
		return nil, err
	}

	page := &database.Page{Documents: docs}
	if len(docs) > 0 {
		page.Cursor = docs[len(docs)-1].ID
	}
	page.HasMore = len(docs) == pageSize
	return page, nil
}

// Search performs a prefix match via the range [term, term+"").
func (d *DB) Search(ctx context.Context, collection, field, term string, limit int) ([]*models.Document, error) {
	q := d.client.Collection(collection).Query.
		Where(field, ">=", term).
		Where(field, "<", term+prefixSentinel).
		OrderBy(field, firestore.Asc)
	if limit > 0 {
		q = q.Limit(limit)
	}
	return collectDocs(q.Documents(ctx))
}

// Count uses a server-side aggregation so no documents are fetched.
func (d *DB) Count(ctx context.Context, collection string) (int64, error) {
	result, err := d.client.Collection(collection).Query.
		NewAggregationQuery().
		WithCount("count").
		Get(ctx)
	if err != nil {
		return 0, convErr("count documents", err)
	}

	v, ok := result["count"].(*firestorepb.Value)
	if !ok {
		return 0, fmt.Errorf("count documents: unexpected aggregation result %T", result["count"])
	}
	return v.GetIntegerValue(), nil
}

// Collections lists all root collection ids.
func (d *DB) Collections(ctx context.Context) ([]string, error) {
	it := d.client.Collections(ctx)
	var names []string
	for {
		ref, err := it.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, convErr("list collections", err)
		}
		names = append(names, ref.ID)
	}
	return names, nil
}

// batch returns a WriteBatch. BulkWriter is the non-deprecated alternative
// but does not commit atomically, which the batch contract requires.
func (d *DB) batch() *firestore.WriteBatch {
	return d.client.Batch()
}

// BatchCreate writes all documents in one atomic batch. Timestamps are
// server-assigned, so the returned documents carry ids and fields only.
func (d *DB) BatchCreate(ctx context.Context, collection string, docs []map[string]any) ([]*models.Document, error) {
	b := d.batch()
	created := make([]*models.Document, 0, len(docs))
	for _, fields := range docs {
		ref := d.client.Collection(collection).NewDoc()
		b.Set(ref, writeData(fields))
		created = append(created, &models.Document{ID: ref.ID, Fields: fields})
	}
	if _, err := b.Commit(ctx); err != nil {
		return nil, fmt.Errorf("%w: %v", database.ErrBatchFailed, err)
	}
	return created, nil
}

// BatchUpdate merges all updates in one atomic batch. A missing id rejects
// the whole batch.
func (d *DB) BatchUpdate(ctx context.Context, collection string, updates []models.BatchUpdateItem) error {
	b := d.batch()
	for _, u := range updates {
		ref := d.client.Collection(collection).Doc(u.ID)
		fsUpdates := make([]firestore.Update, 0, len(u.Data)+1)
		for k, v := range u.Data {
			fsUpdates = append(fsUpdates, firestore.Update{Path: k, Value: v})
		}
		fsUpdates = append(fsUpdates, firestore.Update{Path: fieldUpdatedAt, Value: firestore.ServerTimestamp})
		b.Update(ref, fsUpdates)
	}
	if _, err := b.Commit(ctx); err != nil {
		return fmt.Errorf("%w: %v", database.ErrBatchFailed, err)
	}
	return nil
}

// BatchDelete removes all ids in one atomic batch.
func (d *DB) BatchDelete(ctx context.Context, collection string, ids []string) error {
	b := d.batch()
	for _, id := range ids {
		b.Delete(d.client.Collection(collection).Doc(id))
	}
	if _, err := b.Commit(ctx); err != nil {
		return fmt.Errorf("%w: %v", database.ErrBatchFailed, err)
	}
	return nil
}
