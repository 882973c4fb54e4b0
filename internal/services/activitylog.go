package services

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/Lllllllleong/collectionadmin/internal/database"
	"github.com/Lllllllleong/collectionadmin/internal/database/firestoredb"
	"github.com/Lllllllleong/collectionadmin/internal/gcp"
	"github.com/Lllllllleong/collectionadmin/internal/models"
)

// ActivityLoggerConfig holds configuration for the activity-logger service.
type ActivityLoggerConfig struct {
	ProjectID     string
	LogCollection string
}

// ActivityLoggerFunction holds dependencies for the audit-write logic.
type ActivityLoggerFunction struct {
	db     database.Database
	config ActivityLoggerConfig
}

// ChangeEvent is one observed mutation, described by the resource's state
// before and after. A nil map means the resource did not exist on that side.
type ChangeEvent struct {
	ResourceType string
	ResourceName string
	UserID       string
	Before       map[string]any
	After        map[string]any
	Extra        map[string]any
}

// FirestoreDocumentEvent is the JSON payload of a Firestore written event.
type FirestoreDocumentEvent struct {
	OldValue FirestoreDocumentValue `json:"oldValue"`
	Value    FirestoreDocumentValue `json:"value"`
}

// FirestoreDocumentValue is one side of a Firestore document change. An
// absent document has an empty Name.
type FirestoreDocumentValue struct {
	Name   string         `json:"name"`
	Fields map[string]any `json:"fields"`
}

// GCSObjectEvent is the JSON payload of a storage object event.
type GCSObjectEvent struct {
	Bucket      string            `json:"bucket"`
	Name        string            `json:"name"`
	ContentType string            `json:"contentType"`
	Size        string            `json:"size"`
	Metadata    map[string]string `json:"metadata"`
}

// NewActivityLogger creates a new ActivityLoggerFunction instance.
func NewActivityLogger(ctx context.Context) (*ActivityLoggerFunction, error) {
	projectID := gcp.GetEnv("PROJECT_ID", "")
	if projectID == "" {
		return nil, fmt.Errorf("PROJECT_ID environment variable must be set")
	}

	config := ActivityLoggerConfig{
		ProjectID:     projectID,
		LogCollection: gcp.GetEnv("ACTIVITY_LOG_COLLECTION", "activity_logs"),
	}

	client, err := gcp.NewFirestoreClient(ctx, config.ProjectID)
	if err != nil {
		return nil, fmt.Errorf("failed to create firestore client: %w", err)
	}

	return &ActivityLoggerFunction{
		db:     firestoredb.New(client),
		config: config,
	}, nil
}

// Process classifies the change by before/after existence and appends one
// activity log entry. Entries are written after the mutation commits and
// delivery is at-least-once, so duplicates are possible and accepted.
func (f *ActivityLoggerFunction) Process(ctx context.Context, ev ChangeEvent) (*models.ActivityLog, error) {
	logCtx := slog.With("resourceType", ev.ResourceType, "resourceName", ev.ResourceName)

	action, err := classifyChange(ev.Before, ev.After)
	if err != nil {
		logCtx.Error("Could not classify change", "error", err)
		return nil, err
	}

	details := map[string]any{
		"before": ev.Before,
		"after":  ev.After,
	}
	for k, v := range ev.Extra {
		details[k] = v
	}

	fields := map[string]any{
		"action":       string(action),
		"resourceType": ev.ResourceType,
		"resourceName": ev.ResourceName,
		"timestamp":    time.Now(),
		"details":      details,
	}
	if ev.UserID != "" {
		fields["userId"] = ev.UserID
	}

	doc, err := f.db.Create(ctx, f.config.LogCollection, fields)
	if err != nil {
		logCtx.Error("Failed to append activity log entry", "error", err)
		return nil, fmt.Errorf("append activity log: %w", err)
	}

	logCtx.Info("Activity recorded.", "action", action, "entryId", doc.ID)
	return &models.ActivityLog{
		ID:           doc.ID,
		Action:       action,
		ResourceType: ev.ResourceType,
		ResourceName: ev.ResourceName,
		UserID:       ev.UserID,
		Timestamp:    doc.CreatedAt,
		Details:      details,
	}, nil
}

// classifyChange applies the existence rule: absent→present is a create,
// present→absent a delete, present→present an update.
func classifyChange(before, after map[string]any) (models.Action, error) {
	switch {
	case before == nil && after != nil:
		return models.ActionCreate, nil
	case before != nil && after == nil:
		return models.ActionDelete, nil
	case before != nil && after != nil:
		return models.ActionUpdate, nil
	}
	return "", fmt.Errorf("change event with no before or after state")
}

// ParseFirestoreEvent converts a Firestore written event payload into a
// ChangeEvent. User-collection changes are recorded as user resources with
// the document id as the acting user.
func ParseFirestoreEvent(data []byte) (ChangeEvent, error) {
	var payload FirestoreDocumentEvent
	if err := json.Unmarshal(data, &payload); err != nil {
		return ChangeEvent{}, fmt.Errorf("unmarshal firestore event: %w", err)
	}

	name := payload.Value.Name
	if name == "" {
		name = payload.OldValue.Name
	}
	collection, docID, err := splitDocumentPath(name)
	if err != nil {
		return ChangeEvent{}, err
	}

	ev := ChangeEvent{
		ResourceType: models.ResourceDocument,
		ResourceName: collection + "/" + docID,
	}
	if collection == "users" {
		ev.ResourceType = models.ResourceUser
		ev.UserID = docID
	}
	if payload.OldValue.Name != "" {
		ev.Before = payload.OldValue.Fields
	}
	if payload.Value.Name != "" {
		ev.After = payload.Value.Fields
	}
	return ev, nil
}

// ParseStorageEvent converts a storage object finalize or delete event into
// a ChangeEvent.
func ParseStorageEvent(data []byte, deleted bool) (ChangeEvent, error) {
	var payload GCSObjectEvent
	if err := json.Unmarshal(data, &payload); err != nil {
		return ChangeEvent{}, fmt.Errorf("unmarshal storage event: %w", err)
	}

	state := map[string]any{"bucket": payload.Bucket, "name": payload.Name}
	ev := ChangeEvent{
		ResourceType: models.ResourceFile,
		ResourceName: payload.Name,
		Extra: map[string]any{
			"contentType": payload.ContentType,
			"size":        payload.Size,
		},
	}
	if len(payload.Metadata) > 0 {
		ev.Extra["metadata"] = payload.Metadata
	}
	if deleted {
		ev.Before = state
	} else {
		ev.After = state
	}
	return ev, nil
}

// splitDocumentPath extracts "{collection}/{docId}" from a full Firestore
// resource name.
func splitDocumentPath(name string) (string, string, error) {
	const marker = "/documents/"
	idx := strings.Index(name, marker)
	if idx < 0 {
		return "", "", fmt.Errorf("unexpected document resource name %q", name)
	}
	parts := strings.SplitN(name[idx+len(marker):], "/", 2)
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", "", fmt.Errorf("unexpected document resource name %q", name)
	}
	return parts[0], parts[1], nil
}
