package memorydb

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Lllllllleong/collectionadmin/internal/database"
	"github.com/Lllllllleong/collectionadmin/internal/models"
)

func newTestDB(t *testing.T) *DB {
	t.Helper()
	db, err := New()
	require.NoError(t, err)
	return db
}

func TestCreateAndGet(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	created, err := db.Create(ctx, "people", map[string]any{"name": "Joe", "age": 40})
	require.NoError(t, err)
	require.NotEmpty(t, created.ID)
	assert.False(t, created.CreatedAt.IsZero())
	assert.False(t, created.UpdatedAt.IsZero())

	got, err := db.Get(ctx, "people", created.ID)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, created.ID, got.ID)
	assert.Equal(t, "Joe", got.Fields["name"])
	assert.Equal(t, 40, got.Fields["age"])
}

func TestGetAbsentReturnsNil(t *testing.T) {
	db := newTestDB(t)

	got, err := db.Get(context.Background(), "people", "no-such-id")
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestUpdateMergesFields(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	created, err := db.Create(ctx, "people", map[string]any{"name": "Joe", "city": "Oslo"})
	require.NoError(t, err)

	updated, err := db.Update(ctx, "people", created.ID, map[string]any{"city": "Bergen"})
	require.NoError(t, err)
	assert.Equal(t, "Bergen", updated.Fields["city"])
	assert.Equal(t, "Joe", updated.Fields["name"], "untouched fields must survive the merge")
	assert.True(t, updated.UpdatedAt.After(created.UpdatedAt), "updatedAt must strictly increase")
	assert.Equal(t, created.CreatedAt, updated.CreatedAt)
}

func TestUpdateMissingDocument(t *testing.T) {
	db := newTestDB(t)

	_, err := db.Update(context.Background(), "people", "no-such-id", map[string]any{"x": 1})
	assert.ErrorIs(t, err, database.ErrDocumentNotFound)
}

func TestDeleteIsIdempotent(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	created, err := db.Create(ctx, "people", map[string]any{"name": "Joe"})
	require.NoError(t, err)

	require.NoError(t, db.Delete(ctx, "people", created.ID))

	got, err := db.Get(ctx, "people", created.ID)
	require.NoError(t, err)
	assert.Nil(t, got)

	assert.NoError(t, db.Delete(ctx, "people", created.ID), "second delete must not fail")
}

func TestSetUpserts(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	first, err := db.Set(ctx, "schemas", "people", map[string]any{"version": 1})
	require.NoError(t, err)
	assert.Equal(t, "people", first.ID)

	second, err := db.Set(ctx, "schemas", "people", map[string]any{"version": 2})
	require.NoError(t, err)
	assert.Equal(t, 2, second.Fields["version"])
	assert.Equal(t, first.CreatedAt, second.CreatedAt, "upsert keeps the original creation time")
}

func TestQueryFiltersSortAndLimit(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	for i, name := range []string{"Amy", "Joe", "John", "Zoe"} {
		_, err := db.Create(ctx, "people", map[string]any{"name": name, "age": 20 + i*10})
		require.NoError(t, err)
	}

	docs, err := db.Query(ctx, "people", []database.Filter{
		{Field: "age", Op: database.OpGreaterEqual, Value: 30},
		{Field: "age", Op: database.OpLess, Value: 50},
	}, &database.Sort{Field: "age", Desc: true}, 0)
	require.NoError(t, err)
	require.Len(t, docs, 2)
	assert.Equal(t, "John", docs[0].Fields["name"])
	assert.Equal(t, "Joe", docs[1].Fields["name"])

	limited, err := db.Query(ctx, "people", nil, &database.Sort{Field: "name"}, 2)
	require.NoError(t, err)
	require.Len(t, limited, 2)
	assert.Equal(t, "Amy", limited[0].Fields["name"])

	_, err = db.Query(ctx, "people", []database.Filter{{Field: "age", Op: "!=", Value: 1}}, nil, 0)
	assert.ErrorIs(t, err, database.ErrInvalidOperator)
}

func TestPaginateWalksWholeCollection(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	want := map[string]struct{}{}
	for i := 0; i < 25; i++ {
		doc, err := db.Create(ctx, "items", map[string]any{"n": i})
		require.NoError(t, err)
		want[doc.ID] = struct{}{}
	}

	var (
		cursor   string
		pages    []int
		hasMores []bool
		got      = map[string]struct{}{}
	)
	for {
		page, err := db.Paginate(ctx, "items", 10, cursor)
		require.NoError(t, err)
		if len(page.Documents) == 0 {
			break
		}
		pages = append(pages, len(page.Documents))
		hasMores = append(hasMores, page.HasMore)
		for _, doc := range page.Documents {
			_, dup := got[doc.ID]
			require.False(t, dup, "page walk must not repeat ids")
			got[doc.ID] = struct{}{}
		}
		if !page.HasMore {
			break
		}
		cursor = page.Cursor
	}

	assert.Equal(t, []int{10, 10, 5}, pages)
	assert.Equal(t, []bool{true, true, false}, hasMores)
	assert.Equal(t, want, got, "union of pages must equal the full id set")
}

func TestSearchMatchesPrefixOnly(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	for _, name := range []string{"Joe", "John", "Amy"} {
		_, err := db.Create(ctx, "people", map[string]any{"name": name})
		require.NoError(t, err)
	}

	docs, err := db.Search(ctx, "people", "name", "Jo", 0)
	require.NoError(t, err)

	var names []string
	for _, d := range docs {
		names = append(names, d.Fields["name"].(string))
	}
	assert.ElementsMatch(t, []string{"Joe", "John"}, names)
}

func TestBatchCreateAllVisible(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	docs, err := db.BatchCreate(ctx, "items", []map[string]any{
		{"n": 1}, {"n": 2}, {"n": 3},
	})
	require.NoError(t, err)
	require.Len(t, docs, 3)

	for _, doc := range docs {
		got, err := db.Get(ctx, "items", doc.ID)
		require.NoError(t, err)
		require.NotNil(t, got)
	}
}

func TestBatchUpdateIsAtomic(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	a, err := db.Create(ctx, "items", map[string]any{"n": 1})
	require.NoError(t, err)
	b, err := db.Create(ctx, "items", map[string]any{"n": 2})
	require.NoError(t, err)

	err = db.BatchUpdate(ctx, "items", []models.BatchUpdateItem{
		{ID: a.ID, Data: map[string]any{"n": 10}},
		{ID: "no-such-id", Data: map[string]any{"n": 20}},
	})
	require.ErrorIs(t, err, database.ErrBatchFailed)

	got, err := db.Get(ctx, "items", a.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, got.Fields["n"], "no update of a failed batch may be visible")

	err = db.BatchUpdate(ctx, "items", []models.BatchUpdateItem{
		{ID: a.ID, Data: map[string]any{"n": 10}},
		{ID: b.ID, Data: map[string]any{"n": 20}},
	})
	require.NoError(t, err)

	got, err = db.Get(ctx, "items", b.ID)
	require.NoError(t, err)
	assert.Equal(t, 20, got.Fields["n"])
}

func TestBatchDelete(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	var ids []string
	for i := 0; i < 3; i++ {
		doc, err := db.Create(ctx, "items", map[string]any{"n": i})
		require.NoError(t, err)
		ids = append(ids, doc.ID)
	}

	require.NoError(t, db.BatchDelete(ctx, "items", append(ids, "no-such-id")))

	count, err := db.Count(ctx, "items")
	require.NoError(t, err)
	assert.Zero(t, count)
}

func TestCountAndCollections(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		_, err := db.Create(ctx, "alpha", map[string]any{"n": i})
		require.NoError(t, err)
	}
	for i := 0; i < 3; i++ {
		_, err := db.Create(ctx, "beta", map[string]any{"n": i})
		require.NoError(t, err)
	}

	count, err := db.Count(ctx, "alpha")
	require.NoError(t, err)
	assert.Equal(t, int64(5), count)

	names, err := db.Collections(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"alpha", "beta"}, names)
}

func TestDocumentsAreIsolatedBetweenCollections(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	doc, err := db.Create(ctx, "alpha", map[string]any{"n": 1})
	require.NoError(t, err)

	got, err := db.Get(ctx, "beta", doc.ID)
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestReturnedDocumentsAreCopies(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	created, err := db.Create(ctx, "items", map[string]any{"n": 1})
	require.NoError(t, err)
	created.Fields["n"] = 99

	got, err := db.Get(ctx, "items", created.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, got.Fields["n"], "mutating a returned document must not touch the store")
}

func ExampleDB_Paginate() {
	db, _ := New()
	ctx := context.Background()
	for i := 0; i < 3; i++ {
		_, _ = db.Create(ctx, "items", map[string]any{"n": i})
	}
	page, _ := db.Paginate(ctx, "items", 2, "")
	fmt.Println(len(page.Documents), page.HasMore)
	// Output: 2 true
}
