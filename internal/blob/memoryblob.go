package blob

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"path"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"
)

// memObject is one stored object in the in-memory backend.
type memObject struct {
	data []byte
	info FileInfo
}

// MemoryStore is an in-memory Store for testing or temporary use.
type MemoryStore struct {
	mu      sync.RWMutex
	objects map[string]*memObject
}

// NewMemoryStore returns an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{objects: make(map[string]*memObject)}
}

func (s *MemoryStore) infoCopy(obj *memObject) *FileInfo {
	info := obj.info
	info.Metadata = make(map[string]string, len(obj.info.Metadata))
	for k, v := range obj.info.Metadata {
		info.Metadata[k] = v
	}
	return &info
}

// Upload stores the reader's bytes under "{dir}/{name}".
func (s *MemoryStore) Upload(_ context.Context, dir, name string, r io.Reader, size int64, contentType string, metadata map[string]string, onProgress ProgressFunc) (*UploadResult, error) {
	objectPath := path.Join(dir, name)

	md := map[string]string{
		MetaUploadedAt:   time.Now().UTC().Format(time.RFC3339),
		MetaOriginalName: name,
	}
	for k, v := range metadata {
		md[k] = v
	}

	var buf bytes.Buffer
	if _, err := copyWithProgress(&buf, r, size, onProgress); err != nil {
		return nil, fmt.Errorf("%w: write %s: %v", ErrUploadFailed, objectPath, err)
	}

	obj := &memObject{
		data: buf.Bytes(),
		info: FileInfo{
			Name:        name,
			Path:        objectPath,
			URL:         "memory://" + objectPath,
			ContentType: contentType,
			Size:        int64(buf.Len()),
			Created:     time.Now(),
			Metadata:    md,
		},
	}

	s.mu.Lock()
	s.objects[objectPath] = obj
	s.mu.Unlock()

	return &UploadResult{
		URL:         obj.info.URL,
		Path:        objectPath,
		Name:        name,
		Size:        obj.info.Size,
		ContentType: contentType,
		Metadata:    md,
	}, nil
}

func (s *MemoryStore) listAll(dir string) []*FileInfo {
	prefix := ""
	if dir != "" {
		prefix = dir + "/"
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	var files []*FileInfo
	for p, obj := range s.objects {
		if strings.HasPrefix(p, prefix) {
			files = append(files, s.infoCopy(obj))
		}
	}
	sort.Slice(files, func(i, j int) bool { return files[i].Path < files[j].Path })
	return files
}

// List pages through the full listing using a numeric offset token.
func (s *MemoryStore) List(_ context.Context, dir string, pageSize int, pageToken string) (*ListPage, error) {
	return slicePage(s.listAll(dir), pageSize, pageToken)
}

// Metadata returns the object's attributes.
func (s *MemoryStore) Metadata(_ context.Context, objectPath string) (*FileInfo, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	obj, ok := s.objects[objectPath]
	if !ok {
		return nil, fmt.Errorf("%s: %w", objectPath, ErrObjectNotFound)
	}
	return s.infoCopy(obj), nil
}

func (s *MemoryStore) updateMetadata(objectPath string, entries map[string]string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	obj, ok := s.objects[objectPath]
	if !ok {
		return fmt.Errorf("%s: %w", objectPath, ErrObjectNotFound)
	}
	for k, v := range entries {
		obj.info.Metadata[k] = v
	}
	return nil
}

// SetAccess flips the boolean-as-string public flag.
func (s *MemoryStore) SetAccess(_ context.Context, objectPath string, isPublic bool) error {
	return s.updateMetadata(objectPath, map[string]string{
		MetaIsPublic:  strconv.FormatBool(isPublic),
		MetaUpdatedAt: time.Now().UTC().Format(time.RFC3339),
	})
}

// LinkToRecord writes the document back-reference.
func (s *MemoryStore) LinkToRecord(_ context.Context, objectPath, recordID, recordType string) error {
	return s.updateMetadata(objectPath, map[string]string{
		MetaRecordID:   recordID,
		MetaRecordType: recordType,
		MetaLinkedAt:   time.Now().UTC().Format(time.RFC3339),
	})
}

// Delete removes the object.
func (s *MemoryStore) Delete(_ context.Context, objectPath string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.objects[objectPath]; !ok {
		return fmt.Errorf("%s: %w", objectPath, ErrObjectNotFound)
	}
	delete(s.objects, objectPath)
	return nil
}

// BatchDelete removes the objects; missing ones count as already deleted.
func (s *MemoryStore) BatchDelete(ctx context.Context, paths []string) error {
	for _, p := range paths {
		if err := s.Delete(ctx, p); err != nil && !errors.Is(err, ErrObjectNotFound) {
			return err
		}
	}
	return nil
}

// SearchByMetadata filters the listing by exact custom-metadata matches.
func (s *MemoryStore) SearchByMetadata(_ context.Context, dir string, criteria map[string]string) ([]*FileInfo, error) {
	var matched []*FileInfo
	for _, f := range s.listAll(dir) {
		if matchesCriteria(f, criteria) {
			matched = append(matched, f)
		}
	}
	return matched, nil
}

// FilesByRecord returns objects back-referencing the given document.
func (s *MemoryStore) FilesByRecord(ctx context.Context, recordID string) ([]*FileInfo, error) {
	return s.SearchByMetadata(ctx, "", map[string]string{MetaRecordID: recordID})
}

// Stats aggregates the objects under the prefix.
func (s *MemoryStore) Stats(_ context.Context, dir string) (*Stats, error) {
	return statsFromInfos(s.listAll(dir)), nil
}
