package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/Lllllllleong/collectionadmin/internal/blob"
	"github.com/Lllllllleong/collectionadmin/internal/database/firestoredb"
	"github.com/Lllllllleong/collectionadmin/internal/gateway"
	"github.com/Lllllllleong/collectionadmin/internal/gcp"
	"github.com/Lllllllleong/collectionadmin/internal/realtime"
	"github.com/Lllllllleong/collectionadmin/internal/schema"
)

func main() {
	// --- Set up structured logging ---
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	// .env is optional; deployed environments inject real variables.
	_ = godotenv.Load()

	if err := run(); err != nil {
		slog.Error("Gateway terminated", "error", err)
		os.Exit(1)
	}
}

func run() error {
	ctx := context.Background()

	projectID := gcp.GetEnv("PROJECT_ID", "")
	if projectID == "" {
		return errors.New("PROJECT_ID environment variable must be set")
	}
	bucket := gcp.GetEnv("STORAGE_BUCKET", "")
	if bucket == "" {
		return errors.New("STORAGE_BUCKET environment variable must be set")
	}
	jwtSecret := gcp.GetEnv("JWT_SECRET", "")
	if jwtSecret == "" {
		return errors.New("JWT_SECRET environment variable must be set")
	}

	firestoreClient, err := gcp.NewFirestoreClient(ctx, projectID)
	if err != nil {
		return err
	}
	db := firestoredb.New(firestoreClient)
	defer db.Close()

	storageClient, err := gcp.NewStorageClient(ctx)
	if err != nil {
		return err
	}
	files, err := blob.NewGCSStore(storageClient, bucket)
	if err != nil {
		return err
	}

	hub := realtime.NewHub()
	registry := realtime.NewRegistry(db, hub, 0)
	defer registry.Close()
	hub.BindSubscriber(registry)

	router := gateway.NewRouter(gateway.RouterConfig{
		DB:        db,
		Files:     files,
		Schemas:   schema.NewRegistry(db),
		Hub:       hub,
		JWTSecret: []byte(jwtSecret),
	})

	addr := ":" + gcp.GetEnv("PORT", "8080")
	srv := &http.Server{Addr: addr, Handler: router}

	go func() {
		slog.Info("Gateway listening.", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("Gateway server failed", "error", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	slog.Info("Shutting down gateway.")
	shutdownCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}
