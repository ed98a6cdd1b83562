package main

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/md-rashed-zaman/slotbook/libs/config"
	"github.com/md-rashed-zaman/slotbook/libs/db"
	"github.com/md-rashed-zaman/slotbook/libs/runtime"
	"github.com/md-rashed-zaman/slotbook/services/booking-service/internal/storage"
	"github.com/md-rashed-zaman/slotbook/services/booking-service/internal/storage/fsstore"
	"github.com/md-rashed-zaman/slotbook/services/booking-service/internal/storage/mongostore"
	"github.com/md-rashed-zaman/slotbook/services/booking-service/internal/storage/pgstore"
)

// openStore connects the backend named by STORE_BACKEND and returns it with its readiness check.
func openStore(ctx context.Context, logger *slog.Logger) (storage.Store, runtime.ReadyCheck, error) {
	backend := config.String("STORE_BACKEND", "memory")
	var (
		store storage.Store
		err   error
	)
	switch backend {
	case "memory":
		logger.Warn("using in-memory store; data is lost on restart")
		store = storage.NewMemory()
	case "postgres":
		store, err = openPostgres(ctx)
	case "mongo":
		store, err = openMongo(ctx)
	case "firestore":
		store, err = openFirestore(ctx)
	default:
		err = fmt.Errorf("STORE_BACKEND must be memory, postgres, mongo or firestore (got %q)", backend)
	}
	if err != nil {
		return nil, runtime.ReadyCheck{}, err
	}
	logger.Info("store ready", "backend", backend)
	return store, runtime.ReadyCheck{Name: backend, Check: store.Ping}, nil
}

func openPostgres(ctx context.Context) (storage.Store, error) {
	url, err := config.RequiredString("DATABASE_URL")
	if err != nil {
		return nil, err
	}
	maxConns, err := config.Int("DB_MAX_CONNS", int(db.DefaultOptions().MaxConns))
	if err != nil {
		return nil, err
	}
	opts := db.DefaultOptions()
	opts.MaxConns = int32(maxConns)
	pool, err := db.Open(ctx, url, opts)
	if err != nil {
		return nil, fmt.Errorf("postgres: %w", err)
	}
	store := pgstore.New(pool)
	if config.Bool("DB_AUTO_MIGRATE", true) {
		if err := store.Migrate(ctx); err != nil {
			pool.Close()
			return nil, fmt.Errorf("postgres migrate: %w", err)
		}
	}
	return store, nil
}

func openMongo(ctx context.Context) (storage.Store, error) {
	uri, err := config.RequiredString("MONGO_URI")
	if err != nil {
		return nil, err
	}
	store, err := mongostore.Open(ctx, uri, config.String("MONGO_DATABASE", "booking"))
	if err != nil {
		return nil, fmt.Errorf("mongo: %w", err)
	}
	if err := store.EnsureIndexes(ctx); err != nil {
		_ = store.Close(ctx)
		return nil, fmt.Errorf("mongo indexes: %w", err)
	}
	return store, nil
}

func openFirestore(ctx context.Context) (storage.Store, error) {
	project, err := config.RequiredString("FIRESTORE_PROJECT_ID")
	if err != nil {
		return nil, err
	}
	store, err := fsstore.Open(ctx, project, config.String("GOOGLE_APPLICATION_CREDENTIALS", ""))
	if err != nil {
		return nil, fmt.Errorf("firestore: %w", err)
	}
	return store, nil
}
