package blob

import (
	"bytes"
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const mb = 1024 * 1024

func uploadBytes(t *testing.T, s *MemoryStore, dir, name string, size int, contentType string) *UploadResult {
	t.Helper()
	res, err := s.Upload(context.Background(), dir, name, bytes.NewReader(make([]byte, size)), int64(size), contentType, nil, nil)
	require.NoError(t, err)
	return res
}

func TestUploadReportsMonotonicProgress(t *testing.T) {
	s := NewMemoryStore()

	var reports []float64
	_, err := s.Upload(context.Background(), "products", "photo.jpg",
		bytes.NewReader(make([]byte, 3*mb)), 3*mb, "image/jpeg", nil,
		func(percent float64) { reports = append(reports, percent) })
	require.NoError(t, err)
	require.NotEmpty(t, reports)

	for i := 1; i < len(reports); i++ {
		assert.GreaterOrEqual(t, reports[i], reports[i-1], "progress must never decrease")
	}
	assert.Equal(t, float64(100), reports[len(reports)-1])
}

func TestUploadSetsDefaultMetadata(t *testing.T) {
	s := NewMemoryStore()

	res := uploadBytes(t, s, "products", "photo.jpg", 10, "image/jpeg")
	assert.Equal(t, "products/photo.jpg", res.Path)
	assert.Equal(t, "photo.jpg", res.Metadata[MetaOriginalName])
	assert.NotEmpty(t, res.Metadata[MetaUploadedAt])

	info, err := s.Metadata(context.Background(), res.Path)
	require.NoError(t, err)
	assert.Equal(t, int64(10), info.Size)
	assert.Equal(t, "image/jpeg", info.ContentType)
}

func TestListPagesWithOffsetTokens(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	names := []string{"a.txt", "b.txt", "c.txt", "d.txt", "e.txt"}
	for _, name := range names {
		uploadBytes(t, s, "docs", name, 4, "text/plain")
	}

	var got []string
	token := ""
	for {
		page, err := s.List(ctx, "docs", 2, token)
		require.NoError(t, err)
		for _, f := range page.Files {
			got = append(got, f.Name)
		}
		if page.NextPageToken == "" {
			break
		}
		token = page.NextPageToken
	}
	assert.Equal(t, names, got, "token walk must visit every object once, in path order")

	_, err := s.List(ctx, "docs", 2, "not-a-number")
	assert.Error(t, err)
}

func TestListScopesToPrefix(t *testing.T) {
	s := NewMemoryStore()

	uploadBytes(t, s, "products", "a.jpg", 4, "image/jpeg")
	uploadBytes(t, s, "users", "b.jpg", 4, "image/jpeg")

	page, err := s.List(context.Background(), "products", 10, "")
	require.NoError(t, err)
	require.Len(t, page.Files, 1)
	assert.Equal(t, "products/a.jpg", page.Files[0].Path)
}

func TestSetAccessAndLink(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	res := uploadBytes(t, s, "products", "photo.jpg", 4, "image/jpeg")

	require.NoError(t, s.SetAccess(ctx, res.Path, true))
	info, err := s.Metadata(ctx, res.Path)
	require.NoError(t, err)
	assert.Equal(t, "true", info.Metadata[MetaIsPublic])
	assert.NotEmpty(t, info.Metadata[MetaUpdatedAt])

	require.NoError(t, s.LinkToRecord(ctx, res.Path, "rec-1", "products"))
	info, err = s.Metadata(ctx, res.Path)
	require.NoError(t, err)
	assert.Equal(t, "rec-1", info.Metadata[MetaRecordID])
	assert.Equal(t, "products", info.Metadata[MetaRecordType])
	assert.NotEmpty(t, info.Metadata[MetaLinkedAt])
	assert.Equal(t, "true", info.Metadata[MetaIsPublic], "linking must not clobber earlier metadata")

	assert.ErrorIs(t, s.SetAccess(ctx, "no/such.jpg", true), ErrObjectNotFound)
}

func TestDeleteAndBatchDelete(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	a := uploadBytes(t, s, "docs", "a.txt", 4, "text/plain")
	b := uploadBytes(t, s, "docs", "b.txt", 4, "text/plain")

	require.NoError(t, s.Delete(ctx, a.Path))
	assert.ErrorIs(t, s.Delete(ctx, a.Path), ErrObjectNotFound)

	require.NoError(t, s.BatchDelete(ctx, []string{b.Path, "docs/missing.txt"}),
		"missing objects count as already deleted")

	stats, err := s.Stats(ctx, "docs")
	require.NoError(t, err)
	assert.Zero(t, stats.TotalFiles)
}

func TestSearchByMetadataAndFilesByRecord(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	a := uploadBytes(t, s, "products", "a.jpg", 4, "image/jpeg")
	b := uploadBytes(t, s, "products", "b.jpg", 4, "image/jpeg")
	c := uploadBytes(t, s, "users", "c.jpg", 4, "image/jpeg")

	require.NoError(t, s.LinkToRecord(ctx, a.Path, "rec-1", "products"))
	require.NoError(t, s.LinkToRecord(ctx, b.Path, "rec-2", "products"))
	require.NoError(t, s.LinkToRecord(ctx, c.Path, "rec-1", "users"))

	matched, err := s.SearchByMetadata(ctx, "products", map[string]string{MetaRecordID: "rec-1"})
	require.NoError(t, err)
	require.Len(t, matched, 1)
	assert.Equal(t, a.Path, matched[0].Path)

	linked, err := s.FilesByRecord(ctx, "rec-1")
	require.NoError(t, err)
	var paths []string
	for _, f := range linked {
		paths = append(paths, f.Path)
	}
	assert.ElementsMatch(t, []string{a.Path, c.Path}, paths,
		"record lookup spans every collection prefix")
}

func TestStatsBucketsSizes(t *testing.T) {
	s := NewMemoryStore()

	uploadBytes(t, s, "docs", "tiny.txt", 100, "text/plain")
	uploadBytes(t, s, "docs", "exact.bin", 1*mb, "application/octet-stream")
	uploadBytes(t, s, "docs", "mid.bin", 3*mb, "application/octet-stream")
	uploadBytes(t, s, "docs", "big.bin", 7*mb, "application/octet-stream")
	uploadBytes(t, s, "docs", "huge.bin", 11*mb, "application/octet-stream")

	stats, err := s.Stats(context.Background(), "docs")
	require.NoError(t, err)

	assert.Equal(t, 5, stats.TotalFiles)
	assert.Equal(t, int64(100+1*mb+3*mb+7*mb+11*mb), stats.TotalSize)
	assert.Equal(t, map[string]int{
		SizeRange0to1MB:  2, // the exactly-1MB object lands in the low bucket
		SizeRange1to5MB:  1,
		SizeRange5to10MB: 1,
		SizeRange10MBUp:  1,
	}, stats.SizeRanges)
	assert.Equal(t, 1, stats.FileTypes["text/plain"])
	assert.Equal(t, 4, stats.FileTypes["application/octet-stream"])
}

func TestSizeRangeBoundaries(t *testing.T) {
	cases := []struct {
		size int64
		want string
	}{
		{0, SizeRange0to1MB},
		{1 * mb, SizeRange0to1MB},
		{1*mb + 1, SizeRange1to5MB},
		{5 * mb, SizeRange1to5MB},
		{10 * mb, SizeRange5to10MB},
		{10*mb + 1, SizeRange10MBUp},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, sizeRange(tc.size), "size %d", tc.size)
	}
}

func TestCopyWithProgressShortReader(t *testing.T) {
	var dst bytes.Buffer

	var last float64
	n, err := copyWithProgress(&dst, strings.NewReader("hello"), 5, func(p float64) { last = p })
	require.NoError(t, err)
	assert.Equal(t, int64(5), n)
	assert.Equal(t, float64(100), last)
	assert.Equal(t, "hello", dst.String())
}
