package main

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"os"
	"sync"

	"github.com/GoogleCloudPlatform/functions-framework-go/functions"

	"github.com/Lllllllleong/collectionadmin/internal/services"
)

var (
	usageInstance *services.UsageFunction
	once          sync.Once
	initErr       error
)

func init() {
	// --- Set up structured logging ---
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	functions.HTTP("AggregateResourceUsage", handleAggregateResourceUsage)
}

// main is required by the Go Functions Framework.
func main() {}

// handleAggregateResourceUsage runs one aggregation pass. Cloud Scheduler
// invokes it hourly; a failed run is terminal for that run only.
func handleAggregateResourceUsage(w http.ResponseWriter, r *http.Request) {
	once.Do(func() {
		usageInstance, initErr = services.NewUsage(context.Background())
	})
	if initErr != nil {
		slog.Error("Critical: usage aggregator initialization failed", "error", initErr)
		http.Error(w, "Internal Server Error: failed to initialize service", http.StatusInternalServerError)
		return
	}

	snapshot, err := usageInstance.Run(r.Context())
	if err != nil {
		// Error is already logged with context in the Run method.
		http.Error(w, "Internal Server Error: aggregation failed", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(snapshot); err != nil {
		slog.Error("Failed to write response", "error", err)
		http.Error(w, "Internal Server Error: failed to encode response", http.StatusInternalServerError)
	}
}
