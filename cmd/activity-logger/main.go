package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"sync"

	"github.com/GoogleCloudPlatform/functions-framework-go/functions"
	cloudevents "github.com/cloudevents/sdk-go/v2"

	"github.com/Lllllllleong/collectionadmin/internal/services"
)

// CloudEvent types this function subscribes to.
const (
	eventFirestoreWritten = "google.cloud.firestore.document.v1.written"
	eventObjectFinalized  = "google.cloud.storage.object.v1.finalized"
	eventObjectDeleted    = "google.cloud.storage.object.v1.deleted"
)

var (
	loggerInstance *services.ActivityLoggerFunction
	once           sync.Once
	initErr        error
)

func init() {
	// --- Set up structured logging ---
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	functions.CloudEvent("LogActivity", logActivity)
}

// main is required by the Go Functions Framework.
func main() {}

// logActivity is the Cloud Function entry point. It receives Firestore
// document writes and storage object events, and appends one activity log
// entry per delivered event. Redelivery produces duplicate entries, which
// downstream consumers tolerate.
func logActivity(ctx context.Context, e cloudevents.Event) error {
	once.Do(func() {
		loggerInstance, initErr = services.NewActivityLogger(context.Background())
	})
	if initErr != nil {
		slog.Error("Critical error during function initialization", "error", initErr)
		return initErr
	}

	var (
		change services.ChangeEvent
		err    error
	)
	switch e.Type() {
	case eventFirestoreWritten:
		change, err = services.ParseFirestoreEvent(e.Data())
	case eventObjectFinalized:
		change, err = services.ParseStorageEvent(e.Data(), false)
	case eventObjectDeleted:
		change, err = services.ParseStorageEvent(e.Data(), true)
	default:
		slog.Warn("Ignoring unexpected event type", "type", e.Type())
		return nil
	}
	if err != nil {
		slog.Error("Failed to decode event data", "error", err, "type", e.Type())
		return fmt.Errorf("decode event: %w", err)
	}

	if _, err := loggerInstance.Process(ctx, change); err != nil {
		// The error is already logged with context in the Process method.
		return err
	}
	return nil
}
