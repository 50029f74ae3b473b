package cmd

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/artikelwerk/hybrid-extractor/internal/config"
)

func TestBuildRecordStoresMemoryKeepsNoRecords(t *testing.T) {
	t.Parallel()

	cfg := config.Config{Storage: config.StorageConfig{Backend: "memory"}}
	stores, err := buildRecordStores(context.Background(), cfg)
	require.NoError(t, err)
	require.Nil(t, stores.records)
	require.Nil(t, stores.runs)
	stores.Close()
}

func TestBuildRecordStoresSQLite(t *testing.T) {
	t.Parallel()

	cfg := config.Config{Storage: config.StorageConfig{
		Backend:    "sqlite",
		SQLitePath: filepath.Join(t.TempDir(), "extractor.db"),
	}}
	stores, err := buildRecordStores(context.Background(), cfg)
	require.NoError(t, err)
	defer stores.Close()

	require.NotNil(t, stores.records)
	require.Nil(t, stores.runs)
}

func TestRequireRecordStoresRejectsMemory(t *testing.T) {
	t.Parallel()

	cfg := config.Config{Storage: config.StorageConfig{Backend: "memory"}}
	_, err := requireRecordStores(context.Background(), cfg)
	require.ErrorContains(t, err, "keeps no product records")
}
