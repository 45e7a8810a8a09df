package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_MemoryBackends(t *testing.T) {
	t.Setenv("STORE_BACKEND", "memory")
	t.Setenv("OBJECT_STORE", "memory")
	t.Setenv("SWEEP_STALE_AFTER", "30m")
	t.Setenv("CORS_ORIGINS", "https://a.example.com, https://b.example.com")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, BackendMemory, cfg.StoreBackend)
	assert.Equal(t, 30*time.Minute, cfg.SweepStaleAfter)
	assert.Equal(t, ":8080", cfg.HTTPAddr)
	assert.Equal(t, "Plagdocs", cfg.UploadBucket)
	assert.Equal(t, []string{"https://a.example.com", "https://b.example.com"}, cfg.Origins())
}

func TestLoad_EnvFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, ".env")
	require.NoError(t, os.WriteFile(path, []byte("STORE_BACKEND=memory\nOBJECT_STORE=memory\nHTTP_ADDR=:9999\n"), 0o600))
	t.Cleanup(func() {
		os.Unsetenv("STORE_BACKEND")
		os.Unsetenv("OBJECT_STORE")
		os.Unsetenv("HTTP_ADDR")
	})

	cfg, err := Load(path, filepath.Join(dir, "missing.env"))
	require.NoError(t, err)
	assert.Equal(t, ":9999", cfg.HTTPAddr)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		cfg     Config
		wantErr bool
	}{
		{"postgres without url", Config{StoreBackend: BackendPostgres, ObjectStore: ObjectStoreMemory, SweepStaleAfter: time.Hour}, true},
		{"supabase without key", Config{StoreBackend: BackendMemory, ObjectStore: ObjectStoreSupabase, SupabaseURL: "http://x", SweepStaleAfter: time.Hour}, true},
		{"gcs without bucket", Config{StoreBackend: BackendMemory, ObjectStore: ObjectStoreGCS, SweepStaleAfter: time.Hour}, true},
		{"stale window too short", Config{StoreBackend: BackendMemory, ObjectStore: ObjectStoreMemory, SweepStaleAfter: time.Second}, true},
		{"unknown backend", Config{StoreBackend: "mysql", ObjectStore: ObjectStoreMemory, SweepStaleAfter: time.Hour}, true},
		{"valid", Config{StoreBackend: BackendPostgres, DatabaseURL: "postgres://x", ObjectStore: ObjectStoreMemory, SweepStaleAfter: time.Hour}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestLoadPricingFromPath(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "pricing.yaml")
	require.NoError(t, os.WriteFile(path, []byte("prices:\n  plagiarism_check: 80\nai_removal_per_page: 120\n"), 0o600))

	cfg, err := LoadPricingFromPath(path)
	require.NoError(t, err)
	assert.Equal(t, int64(80), cfg.Prices["plagiarism_check"])
	assert.Equal(t, int64(120), cfg.AiRemovalPerPage)

	bad := filepath.Join(dir, "bad.yaml")
	require.NoError(t, os.WriteFile(bad, []byte("prices:\n  plagiarism_check: 0\n"), 0o600))
	_, err = LoadPricingFromPath(bad)
	assert.Error(t, err)
}
