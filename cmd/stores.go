package cmd

import (
	"context"
	"fmt"

	"github.com/artikelwerk/hybrid-extractor/internal/config"
	"github.com/artikelwerk/hybrid-extractor/internal/storage/postgres"
	"github.com/artikelwerk/hybrid-extractor/internal/storage/sqlite"
	"github.com/artikelwerk/hybrid-extractor/internal/store"
)

// recordStores bundles the persistence handles behind storage.backend.
// Either handle is nil when the backend cannot serve it; callers that
// need one check for nil.
type recordStores struct {
	records store.RecordRepository
	runs    store.RunRepository
	close   func()
}

// Close releases the underlying connections. Safe on the zero value.
func (s recordStores) Close() {
	if s.close != nil {
		s.close()
	}
}

// buildRecordStores opens the configured record and run persistence. The
// memory backend keeps no product records, so both handles stay nil and
// the pipeline skips record upserts.
func buildRecordStores(ctx context.Context, cfg config.Config) (recordStores, error) {
	switch cfg.Storage.Backend {
	case "postgres":
		pool, err := postgres.NewPool(ctx, postgres.PoolConfig{DSN: cfg.Storage.DSN})
		if err != nil {
			return recordStores{}, fmt.Errorf("init postgres pool: %w", err)
		}
		if err := postgres.EnsureSchema(ctx, pool); err != nil {
			pool.Close()
			return recordStores{}, err
		}
		records, err := postgres.NewRecordStore(pool)
		if err != nil {
			pool.Close()
			return recordStores{}, err
		}
		runs, err := postgres.NewRunStore(pool)
		if err != nil {
			pool.Close()
			return recordStores{}, err
		}
		return recordStores{records: records, runs: runs, close: pool.Close}, nil

	case "sqlite":
		recordStore, err := sqlite.Open(cfg.Storage.SQLitePath)
		if err != nil {
			return recordStores{}, err
		}
		if err := recordStore.Migrate(ctx); err != nil {
			_ = recordStore.Close()
			return recordStores{}, err
		}
		return recordStores{
			records: recordStore,
			close:   func() { _ = recordStore.Close() },
		}, nil

	default:
		return recordStores{}, nil
	}
}

// requireRecordStores is buildRecordStores for commands that cannot work
// without persistent product records.
func requireRecordStores(ctx context.Context, cfg config.Config) (recordStores, error) {
	stores, err := buildRecordStores(ctx, cfg)
	if err != nil {
		return recordStores{}, err
	}
	if stores.records == nil {
		return recordStores{}, fmt.Errorf(
			"storage.backend %q keeps no product records; configure sqlite or postgres",
			cfg.Storage.Backend,
		)
	}
	return stores, nil
}
