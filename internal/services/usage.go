package services

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/Lllllllleong/collectionadmin/internal/blob"
	"github.com/Lllllllleong/collectionadmin/internal/database"
	"github.com/Lllllllleong/collectionadmin/internal/database/firestoredb"
	"github.com/Lllllllleong/collectionadmin/internal/gcp"
	"github.com/Lllllllleong/collectionadmin/internal/models"
)

// Firestore caps a write batch at 500 operations.
const maxBatchSize = 500

// UsageConfig holds configuration for the usage-aggregator service.
type UsageConfig struct {
	ProjectID        string
	Bucket           string
	UsageCollection  string
	LogCollection    string
	APILogCollection string
	RetentionDays    int
	ActiveWindow     time.Duration
}

// UsageFunction holds dependencies for the aggregation logic.
type UsageFunction struct {
	db     database.Database
	files  blob.Store
	config UsageConfig
}

// NewUsage creates a new UsageFunction instance.
func NewUsage(ctx context.Context) (*UsageFunction, error) {
	projectID := gcp.GetEnv("PROJECT_ID", "")
	if projectID == "" {
		return nil, fmt.Errorf("PROJECT_ID environment variable must be set")
	}
	bucket := gcp.GetEnv("STORAGE_BUCKET", "")
	if bucket == "" {
		return nil, fmt.Errorf("STORAGE_BUCKET environment variable must be set")
	}

	retentionDays, err := strconv.Atoi(gcp.GetEnv("RETENTION_DAYS", "90"))
	if err != nil {
		return nil, fmt.Errorf("invalid RETENTION_DAYS: %w", err)
	}

	config := UsageConfig{
		ProjectID:        projectID,
		Bucket:           bucket,
		UsageCollection:  gcp.GetEnv("RESOURCE_USAGE_COLLECTION", "resource_usage"),
		LogCollection:    gcp.GetEnv("ACTIVITY_LOG_COLLECTION", "activity_logs"),
		APILogCollection: gcp.GetEnv("API_LOG_COLLECTION", "api_logs"),
		RetentionDays:    retentionDays,
		ActiveWindow:     24 * time.Hour,
	}

	firestoreClient, err := gcp.NewFirestoreClient(ctx, config.ProjectID)
	if err != nil {
		return nil, fmt.Errorf("failed to create firestore client: %w", err)
	}
	storageClient, err := gcp.NewStorageClient(ctx)
	if err != nil {
		return nil, err
	}
	files, err := blob.NewGCSStore(storageClient, config.Bucket)
	if err != nil {
		return nil, err
	}

	return &UsageFunction{
		db:     firestoredb.New(firestoreClient),
		files:  files,
		config: config,
	}, nil
}

// Run computes one resource usage snapshot and prunes aged analytics rows.
// The snapshot write and the prune are deliberately not transactional; a
// crash between them costs at most one snapshot on an analytics-only path.
func (f *UsageFunction) Run(ctx context.Context) (*models.ResourceUsage, error) {
	logCtx := slog.With("service", "usage-aggregator")
	logCtx.Info("Starting resource usage aggregation.")

	collections, err := f.db.Collections(ctx)
	if err != nil {
		return nil, fmt.Errorf("list collections: %w", err)
	}

	// --- 1. Count documents across all collections in parallel ---
	counts := make([]int64, len(collections))
	g, gctx := errgroup.WithContext(ctx)
	for i, name := range collections {
		g.Go(func() error {
			n, err := f.db.Count(gctx, name)
			if err != nil {
				return fmt.Errorf("count %s: %w", name, err)
			}
			counts[i] = n
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	var totalDocuments int64
	for _, n := range counts {
		totalDocuments += n
	}

	// --- 2. Aggregate file count and bytes ---
	stats, err := f.files.Stats(ctx, "")
	if err != nil {
		return nil, fmt.Errorf("aggregate file stats: %w", err)
	}

	// --- 3. Distinct active users over the trailing window ---
	activeUsers, err := f.countActiveUsers(ctx)
	if err != nil {
		return nil, err
	}

	// --- 4. Append the snapshot ---
	snapshot := &models.ResourceUsage{
		Documents:   totalDocuments,
		Files:       int64(stats.TotalFiles),
		Storage:     stats.TotalSize,
		ActiveUsers: activeUsers,
	}
	doc, err := f.db.Create(ctx, f.config.UsageCollection, map[string]any{
		"timestamp":   time.Now(),
		"documents":   snapshot.Documents,
		"files":       snapshot.Files,
		"storage":     snapshot.Storage,
		"activeUsers": snapshot.ActiveUsers,
	})
	if err != nil {
		return nil, fmt.Errorf("write usage snapshot: %w", err)
	}
	snapshot.Timestamp = doc.CreatedAt
	logCtx.Info("Usage snapshot written.",
		"documents", snapshot.Documents,
		"files", snapshot.Files,
		"storage", snapshot.Storage,
		"activeUsers", snapshot.ActiveUsers,
	)

	// --- 5. Prune aged analytics rows ---
	cutoff := time.Now().AddDate(0, 0, -f.config.RetentionDays)
	for _, collection := range []string{f.config.LogCollection, f.config.APILogCollection, f.config.UsageCollection} {
		if err := f.pruneBefore(ctx, collection, cutoff); err != nil {
			logCtx.Error("Retention prune failed", "collection", collection, "error", err)
			return snapshot, err
		}
	}

	logCtx.Info("Aggregation complete.")
	return snapshot, nil
}

// countActiveUsers counts distinct user ids in activity entries inside the
// trailing window.
func (f *UsageFunction) countActiveUsers(ctx context.Context) (int, error) {
	since := time.Now().Add(-f.config.ActiveWindow)
	entries, err := f.db.Query(ctx, f.config.LogCollection, []database.Filter{
		{Field: "timestamp", Op: database.OpGreaterEqual, Value: since},
	}, nil, 0)
	if err != nil {
		return 0, fmt.Errorf("query recent activity: %w", err)
	}

	users := map[string]struct{}{}
	for _, e := range entries {
		if id, ok := e.Field("userId").(string); ok && id != "" {
			users[id] = struct{}{}
		}
	}
	return len(users), nil
}

// pruneBefore batch-deletes every row of the collection older than cutoff.
func (f *UsageFunction) pruneBefore(ctx context.Context, collection string, cutoff time.Time) error {
	aged, err := f.db.Query(ctx, collection, []database.Filter{
		{Field: "timestamp", Op: database.OpLess, Value: cutoff},
	}, nil, 0)
	if err != nil {
		return fmt.Errorf("query aged rows of %s: %w", collection, err)
	}
	if len(aged) == 0 {
		return nil
	}

	ids := make([]string, len(aged))
	for i, doc := range aged {
		ids[i] = doc.ID
	}
	for start := 0; start < len(ids); start += maxBatchSize {
		end := start + maxBatchSize
		if end > len(ids) {
			end = len(ids)
		}
		if err := f.db.BatchDelete(ctx, collection, ids[start:end]); err != nil {
			return fmt.Errorf("prune %s: %w", collection, err)
		}
	}

	slog.Info("Pruned aged rows.", "collection", collection, "count", len(ids))
	return nil
}
