package main

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/onlab/orderdesk/internal/config"
	"github.com/onlab/orderdesk/internal/domain"
	"github.com/onlab/orderdesk/internal/logging"
	"github.com/onlab/orderdesk/internal/pageestimate"
)

func memoryEnv(t *testing.T) {
	t.Helper()
	envFile = ""
	t.Setenv("STORE_BACKEND", config.BackendMemory)
	t.Setenv("OBJECT_STORE", config.ObjectStoreMemory)
	t.Setenv("SWEEP_SCHEDULE", "@every 1m")
}

func TestNewAppMemoryBackend(t *testing.T) {
	memoryEnv(t)
	cfg, _, err := loadConfig()
	require.NoError(t, err)

	a, err := newApp(t.Context(), cfg, logging.NewDiscard())
	require.NoError(t, err)
	defer a.Close()

	assert.Nil(t, a.db)
	assert.NotNil(t, a.engine)

	sw, err := a.newSweeper(t.Context())
	require.NoError(t, err)
	swept, ran, err := sw.RunOnce(t.Context())
	require.NoError(t, err)
	assert.True(t, ran)
	assert.Zero(t, swept)
}

func TestLoadPricingFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "pricing.yaml")
	require.NoError(t, os.WriteFile(path, []byte("prices:\n  plagiarism_check: 90\nai_removal_per_page: 12\n"), 0o600))

	table, err := loadPricing(&config.Config{PricingFile: path})
	require.NoError(t, err)

	price, err := table.Quote(domain.PlagiarismCheck, 0)
	require.NoError(t, err)
	assert.Equal(t, int64(90), price)
	assert.Equal(t, int64(12), table.PerPage())
}

func TestPageEstimatorSelection(t *testing.T) {
	assert.IsType(t, pageestimate.SizeEstimator{}, pageEstimator(&config.Config{}))
	assert.IsType(t, &pageestimate.HTTPEstimator{}, pageEstimator(&config.Config{PageEstimatorURL: "http://estimator.internal"}))
}

func TestMigrateRequiresPostgres(t *testing.T) {
	memoryEnv(t)
	err := migrateVersionCmd.RunE(migrateVersionCmd, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "STORE_BACKEND=postgres")
}
