// Package blob defines the contract for the file store. Objects live under
// "{collection}/{subPath}/{fileName}" paths; gcsblob is the production
// implementation and memoryblob serves tests and local runs.
package blob

import (
	"context"
	"errors"
	"io"
	"time"
)

var (
	// ErrObjectNotFound is returned for operations addressing a missing
	// object. Callers deleting an object should treat it as success.
	ErrObjectNotFound = errors.New("object not found")

	// ErrUploadFailed wraps the transport error of a failed upload. There
	// is no automatic retry; the caller must re-invoke.
	ErrUploadFailed = errors.New("upload failed")
)

// Custom-metadata keys shared by both backends.
const (
	MetaIsPublic     = "isPublic"
	MetaRecordID     = "recordId"
	MetaRecordType   = "recordType"
	MetaLinkedAt     = "linkedAt"
	MetaUpdatedAt    = "updatedAt"
	MetaUploadedAt   = "uploadedAt"
	MetaOriginalName = "originalName"
)

// Size-range buckets reported by Stats.
const (
	SizeRange0to1MB  = "0-1MB"
	SizeRange1to5MB  = "1-5MB"
	SizeRange5to10MB = "5-10MB"
	SizeRange10MBUp  = "10MB+"
)

// FileInfo describes one stored object.
type FileInfo struct {
	Name        string            `json:"name"`
	Path        string            `json:"path"`
	URL         string            `json:"url"`
	ContentType string            `json:"contentType"`
	Size        int64             `json:"size"`
	Created     time.Time         `json:"timeCreated"`
	Metadata    map[string]string `json:"metadata"`
}

// UploadResult is returned by a successful upload.
type UploadResult struct {
	URL         string            `json:"url"`
	Path        string            `json:"path"`
	Name        string            `json:"name"`
	Size        int64             `json:"size"`
	ContentType string            `json:"type"`
	Metadata    map[string]string `json:"metadata"`
}

// ListPage is one page of a listing. NextPageToken is empty when exhausted.
type ListPage struct {
	Files         []*FileInfo `json:"files"`
	NextPageToken string      `json:"nextPageToken"`
}

// Stats aggregates the objects under a prefix.
type Stats struct {
	TotalFiles int            `json:"totalFiles"`
	TotalSize  int64          `json:"totalSize"`
	FileTypes  map[string]int `json:"fileTypes"`
	SizeRanges map[string]int `json:"sizeRanges"`
}

// ProgressFunc receives upload progress as a percentage. Values are
// non-decreasing and end at 100 on success.
type ProgressFunc func(percent float64)

// Store is the file store contract.
//
// List fetches the full listing under the prefix and slices it client-side,
// so each page request costs O(objects under prefix). Acceptable for small
// buckets; a backend-native cursor would be needed for large ones, but the
// page-token contract would stay the same.
type Store interface {
	// Upload streams the reader into "{dir}/{name}", reporting progress.
	Upload(ctx context.Context, dir, name string, r io.Reader, size int64, contentType string, metadata map[string]string, onProgress ProgressFunc) (*UploadResult, error)

	// List returns one page of objects under dir. The page token is the
	// numeric offset into the full listing.
	List(ctx context.Context, dir string, pageSize int, pageToken string) (*ListPage, error)

	// Metadata returns the object's attributes.
	Metadata(ctx context.Context, path string) (*FileInfo, error)

	// SetAccess flips the isPublic custom-metadata flag. It does not touch
	// backend ACLs; enforcement belongs to the store's own rule engine.
	SetAccess(ctx context.Context, path string, isPublic bool) error

	// LinkToRecord writes a document back-reference into custom metadata.
	// No referential integrity is established either way.
	LinkToRecord(ctx context.Context, path, recordID, recordType string) error

	// Delete removes the object. Returns ErrObjectNotFound when absent.
	Delete(ctx context.Context, path string) error

	// BatchDelete removes the objects in parallel, best-effort. Missing
	// objects are treated as already deleted.
	BatchDelete(ctx context.Context, paths []string) error

	// SearchByMetadata returns objects under dir whose custom metadata
	// matches every criteria entry exactly.
	SearchByMetadata(ctx context.Context, dir string, criteria map[string]string) ([]*FileInfo, error)

	// FilesByRecord returns objects back-referencing the given document.
	FilesByRecord(ctx context.Context, recordID string) ([]*FileInfo, error)

	// Stats aggregates counts, bytes, content types and size ranges.
	Stats(ctx context.Context, dir string) (*Stats, error)
}

// uploadChunkSize bounds how much is written between progress reports.
const uploadChunkSize = 256 * 1024

// copyWithProgress copies src to dst in chunks, reporting percentage
// progress against size. The final report on success is always 100.
func copyWithProgress(dst io.Writer, src io.Reader, size int64, onProgress ProgressFunc) (int64, error) {
	var written int64
	buf := make([]byte, uploadChunkSize)
	for {
		n, rerr := src.Read(buf)
		if n > 0 {
			wn, werr := dst.Write(buf[:n])
			written += int64(wn)
			if werr != nil {
				return written, werr
			}
			if onProgress != nil && size > 0 {
				pct := float64(written) / float64(size) * 100
				if pct > 100 {
					pct = 100
				}
				onProgress(pct)
			}
		}
		if rerr == io.EOF {
			break
		}
		if rerr != nil {
			return written, rerr
		}
	}
	if onProgress != nil {
		onProgress(100)
	}
	return written, nil
}

// sizeRange buckets a byte count the way the analytics view expects.
func sizeRange(size int64) string {
	const mb = 1024 * 1024
	switch {
	case size <= 1*mb:
		return SizeRange0to1MB
	case size <= 5*mb:
		return SizeRange1to5MB
	case size <= 10*mb:
		return SizeRange5to10MB
	}
	return SizeRange10MBUp
}

// statsFromInfos aggregates a listing into Stats.
func statsFromInfos(files []*FileInfo) *Stats {
	stats := &Stats{
		FileTypes: map[string]int{},
		SizeRanges: map[string]int{
			SizeRange0to1MB:  0,
			SizeRange1to5MB:  0,
			SizeRange5to10MB: 0,
			SizeRange10MBUp:  0,
		},
	}
	for _, f := range files {
		stats.TotalFiles++
		stats.TotalSize += f.Size
		stats.FileTypes[f.ContentType]++
		stats.SizeRanges[sizeRange(f.Size)]++
	}
	return stats
}

// matchesCriteria reports whether every criteria entry equals the object's
// custom metadata.
func matchesCriteria(info *FileInfo, criteria map[string]string) bool {
	for k, v := range criteria {
		if info.Metadata[k] != v {
			return false
		}
	}
	return true
}
