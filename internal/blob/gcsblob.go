package blob

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"path"
	"sort"
	"strconv"
	"time"

	"cloud.google.com/go/storage"
	"golang.org/x/sync/errgroup"
	"google.golang.org/api/iterator"
)

// batchDeleteConcurrency bounds parallel object deletes.
const batchDeleteConcurrency = 8

// GCSStore implements Store on a Cloud Storage bucket.
type GCSStore struct {
	client *storage.Client
	bucket string
}

// NewGCSStore returns a Store backed by the named bucket.
func NewGCSStore(client *storage.Client, bucket string) (*GCSStore, error) {
	if bucket == "" {
		return nil, fmt.Errorf("bucket name must be provided")
	}
	return &GCSStore{client: client, bucket: bucket}, nil
}

func (s *GCSStore) objectURL(name string) string {
	return fmt.Sprintf("https://storage.googleapis.com/%s/%s", s.bucket, name)
}

func (s *GCSStore) attrsToInfo(attrs *storage.ObjectAttrs) *FileInfo {
	md := make(map[string]string, len(attrs.Metadata))
	for k, v := range attrs.Metadata {
		md[k] = v
	}
	return &FileInfo{
		Name:        path.Base(attrs.Name),
		Path:        attrs.Name,
		URL:         s.objectURL(attrs.Name),
		ContentType: attrs.ContentType,
		Size:        attrs.Size,
		Created:     attrs.Created,
		Metadata:    md,
	}
}

// Upload streams the reader into the bucket, reporting progress per chunk.
func (s *GCSStore) Upload(ctx context.Context, dir, name string, r io.Reader, size int64, contentType string, metadata map[string]string, onProgress ProgressFunc) (*UploadResult, error) {
	objectName := path.Join(dir, name)
	obj := s.client.Bucket(s.bucket).Object(objectName)

	md := map[string]string{
		MetaUploadedAt:   time.Now().UTC().Format(time.RFC3339),
		MetaOriginalName: name,
	}
	for k, v := range metadata {
		md[k] = v
	}

	w := obj.NewWriter(ctx)
	w.ContentType = contentType
	w.Metadata = md

	if _, err := copyWithProgress(w, r, size, onProgress); err != nil {
		_ = w.Close()
		return nil, fmt.Errorf("%w: write %s: %v", ErrUploadFailed, objectName, err)
	}
	if err := w.Close(); err != nil {
		return nil, fmt.Errorf("%w: finalize %s: %v", ErrUploadFailed, objectName, err)
	}

	attrs, err := obj.Attrs(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: read back attrs of %s: %v", ErrUploadFailed, objectName, err)
	}

	slog.Info("Uploaded object.", "bucket", s.bucket, "object", objectName, "size", attrs.Size)
	return &UploadResult{
		URL:         s.objectURL(objectName),
		Path:        objectName,
		Name:        name,
		Size:        attrs.Size,
		ContentType: attrs.ContentType,
		Metadata:    md,
	}, nil
}

// listAll fetches every object under the prefix, sorted by path.
func (s *GCSStore) listAll(ctx context.Context, dir string) ([]*FileInfo, error) {
	query := &storage.Query{}
	if dir != "" {
		query.Prefix = dir + "/"
	}

	it := s.client.Bucket(s.bucket).Objects(ctx, query)
	var files []*FileInfo
	for {
		attrs, err := it.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("list objects under %q: %w", dir, err)
		}
		files = append(files, s.attrsToInfo(attrs))
	}
	sort.Slice(files, func(i, j int) bool { return files[i].Path < files[j].Path })
	return files, nil
}

// List pages through the full listing using a numeric offset token.
func (s *GCSStore) List(ctx context.Context, dir string, pageSize int, pageToken string) (*ListPage, error) {
	files, err := s.listAll(ctx, dir)
	if err != nil {
		return nil, err
	}
	return slicePage(files, pageSize, pageToken)
}

// Metadata returns the object's attributes.
func (s *GCSStore) Metadata(ctx context.Context, objectPath string) (*FileInfo, error) {
	attrs, err := s.client.Bucket(s.bucket).Object(objectPath).Attrs(ctx)
	if errors.Is(err, storage.ErrObjectNotExist) {
		return nil, fmt.Errorf("%s: %w", objectPath, ErrObjectNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get object attrs: %w", err)
	}
	return s.attrsToInfo(attrs), nil
}

// updateMetadata merges entries into the object's custom metadata. The
// backend replaces the whole map on update, so the current map is read
// first.
func (s *GCSStore) updateMetadata(ctx context.Context, objectPath string, entries map[string]string) error {
	obj := s.client.Bucket(s.bucket).Object(objectPath)

	attrs, err := obj.Attrs(ctx)
	if errors.Is(err, storage.ErrObjectNotExist) {
		return fmt.Errorf("%s: %w", objectPath, ErrObjectNotFound)
	}
	if err != nil {
		return fmt.Errorf("get object attrs: %w", err)
	}

	merged := make(map[string]string, len(attrs.Metadata)+len(entries))
	for k, v := range attrs.Metadata {
		merged[k] = v
	}
	for k, v := range entries {
		merged[k] = v
	}

	if _, err := obj.Update(ctx, storage.ObjectAttrsToUpdate{Metadata: merged}); err != nil {
		return fmt.Errorf("update object metadata: %w", err)
	}
	return nil
}

// SetAccess flips the boolean-as-string public flag in custom metadata.
func (s *GCSStore) SetAccess(ctx context.Context, objectPath string, isPublic bool) error {
	return s.updateMetadata(ctx, objectPath, map[string]string{
		MetaIsPublic:  strconv.FormatBool(isPublic),
		MetaUpdatedAt: time.Now().UTC().Format(time.RFC3339),
	})
}

// LinkToRecord writes the document back-reference into custom metadata.
func (s *GCSStore) LinkToRecord(ctx context.Context, objectPath, recordID, recordType string) error {
	return s.updateMetadata(ctx, objectPath, map[string]string{
		MetaRecordID:   recordID,
		MetaRecordType: recordType,
		MetaLinkedAt:   time.Now().UTC().Format(time.RFC3339),
	})
}

// Delete removes the object.
func (s *GCSStore) Delete(ctx context.Context, objectPath string) error {
	err := s.client.Bucket(s.bucket).Object(objectPath).Delete(ctx)
	if errors.Is(err, storage.ErrObjectNotExist) {
		return fmt.Errorf("%s: %w", objectPath, ErrObjectNotFound)
	}
	if err != nil {
		return fmt.Errorf("delete object: %w", err)
	}
	return nil
}

// BatchDelete removes the objects in parallel. Missing objects count as
// already deleted.
func (s *GCSStore) BatchDelete(ctx context.Context, paths []string) error {
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(batchDeleteConcurrency)
	for _, p := range paths {
		g.Go(func() error {
			if err := s.Delete(ctx, p); err != nil && !errors.Is(err, ErrObjectNotFound) {
				return err
			}
			return nil
		})
	}
	return g.Wait()
}

// SearchByMetadata filters the listing by exact custom-metadata matches.
func (s *GCSStore) SearchByMetadata(ctx context.Context, dir string, criteria map[string]string) ([]*FileInfo, error) {
	files, err := s.listAll(ctx, dir)
	if err != nil {
		return nil, err
	}
	var matched []*FileInfo
	for _, f := range files {
		if matchesCriteria(f, criteria) {
			matched = append(matched, f)
		}
	}
	return matched, nil
}

// FilesByRecord returns objects back-referencing the given document.
func (s *GCSStore) FilesByRecord(ctx context.Context, recordID string) ([]*FileInfo, error) {
	return s.SearchByMetadata(ctx, "", map[string]string{MetaRecordID: recordID})
}

// Stats aggregates the objects under the prefix.
func (s *GCSStore) Stats(ctx context.Context, dir string) (*Stats, error) {
	files, err := s.listAll(ctx, dir)
	if err != nil {
		return nil, err
	}
	return statsFromInfos(files), nil
}

// slicePage cuts one page out of a full listing. The token is the numeric
// start offset; an empty next token means the listing is exhausted.
func slicePage(files []*FileInfo, pageSize int, pageToken string) (*ListPage, error) {
	start := 0
	if pageToken != "" {
		n, err := strconv.Atoi(pageToken)
		if err != nil || n < 0 {
			return nil, fmt.Errorf("invalid page token %q", pageToken)
		}
		start = n
	}
	if start > len(files) {
		start = len(files)
	}

	end := start + pageSize
	if pageSize <= 0 || end > len(files) {
		end = len(files)
	}

	page := &ListPage{Files: files[start:end]}
	if end < len(files) {
		page.NextPageToken = strconv.Itoa(end)
	}
	return page, nil
}
