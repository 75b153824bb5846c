package usage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"toolgate/config"
	"toolgate/internal/storage"
)

// Result holds the usage recorder and the storage it opened. Close
// releases both.
type Result struct {
	Recorder Recorder
	Storage  storage.Storage
}

// Close flushes the recorder, then closes storage. Safe to call twice.
func (r *Result) Close() error {
	var errs []error
	if r.Recorder != nil {
		if err := r.Recorder.Close(); err != nil {
			errs = append(errs, fmt.Errorf("recorder close: %w", err))
		}
	}
	if r.Storage != nil {
		if err := r.Storage.Close(); err != nil {
			errs = append(errs, fmt.Errorf("storage close: %w", err))
		}
		r.Storage = nil
	}
	return errors.Join(errs...)
}

// New builds the usage recorder from configuration. Disabled tracking
// yields a NoopLogger and no storage.
func New(ctx context.Context, cfg *config.Config) (*Result, error) {
	if !cfg.Usage.Enabled {
		return &Result{Recorder: NoopLogger{}}, nil
	}

	store, err := storage.New(ctx, cfg.Storage)
	if err != nil {
		return nil, fmt.Errorf("failed to create storage: %w", err)
	}

	usageStore, err := createUsageStore(ctx, store, cfg.Usage.RetentionDays)
	if err != nil {
		_ = store.Close()
		return nil, err
	}

	return &Result{
		Recorder: NewLogger(usageStore, loggerConfig(cfg.Usage)),
		Storage:  store,
	}, nil
}

func createUsageStore(ctx context.Context, store storage.Storage, retentionDays int) (UsageStore, error) {
	switch store.Type() {
	case storage.TypeSQLite:
		return NewSQLiteStore(store.SQLiteDB(), retentionDays)
	case storage.TypePostgreSQL:
		return NewPostgreSQLStore(ctx, store.PostgreSQLPool(), retentionDays)
	case storage.TypeMongoDB:
		return NewMongoDBStore(ctx, store.MongoDatabase(), retentionDays)
	default:
		return nil, fmt.Errorf("unknown storage type: %s", store.Type())
	}
}

func loggerConfig(c config.UsageConfig) Config {
	return Config{
		Enabled:       c.Enabled,
		BufferSize:    c.BufferSize,
		FlushInterval: time.Duration(c.FlushInterval) * time.Second,
		RetentionDays: c.RetentionDays,
	}
}
