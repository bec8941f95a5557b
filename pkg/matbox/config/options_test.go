package config

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tendant/matbox/pkg/matbox"
)

func TestDefaults(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "8080", cfg.Port)
	assert.Equal(t, "memory", cfg.DatabaseType)
	assert.Equal(t, "memory", cfg.Storage.Type)
	assert.True(t, cfg.EnableMetrics)
}

func TestWithPort(t *testing.T) {
	cfg, err := Load(WithPort("9090"))
	require.NoError(t, err)
	assert.Equal(t, "9090", cfg.Port)

	_, err = Load(WithPort(""))
	assert.Error(t, err)
}

func TestWithDatabase(t *testing.T) {
	tests := []struct {
		name      string
		dbType    string
		url       string
		wantError bool
	}{
		{"memory valid", "memory", "", false},
		{"postgres valid", "postgres", "postgresql://localhost/test", false},
		{"postgres missing url", "postgres", "", true},
		{"sqlite valid", "sqlite", "/tmp/matbox.db", false},
		{"sqlite missing path", "sqlite", "", true},
		{"invalid type", "mysql", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg, err := Load(WithDatabase(tt.dbType, tt.url))
			if tt.wantError {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.dbType, cfg.DatabaseType)
		})
	}
}

func TestWithS3Options(t *testing.T) {
	cfg, err := Load(
		WithS3Storage("bucket", ""),
		WithS3Credentials("key", "secret"),
		WithS3Endpoint("http://minio:9000", true),
		WithS3Encryption("aws:kms", "kms-key"),
	)
	require.NoError(t, err)
	assert.Equal(t, "us-east-1", cfg.Storage.Config["region"])
	assert.Equal(t, "key", cfg.Storage.Config["access_key_id"])
	assert.Equal(t, true, cfg.Storage.Config["enable_sse"])
	assert.Equal(t, "kms-key", cfg.Storage.Config["sse_kms_key_id"])

	_, err = Load(WithS3Credentials("key", "secret"))
	assert.Error(t, err, "S3 options require S3 storage")

	_, err = Load(WithS3Storage("bucket", ""), WithS3Encryption("DES", ""))
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	cfg := defaults()
	cfg.Storage = StorageConfig{Type: "fs", Config: map[string]interface{}{}}
	assert.Error(t, cfg.Validate())

	cfg = defaults()
	cfg.Storage = StorageConfig{Type: "gcs"}
	assert.Error(t, cfg.Validate())

	cfg = defaults()
	cfg.DatabaseType = "sqlite"
	assert.Error(t, cfg.Validate())
}

func TestBuildService(t *testing.T) {
	t.Run("memory", func(t *testing.T) {
		reg := prometheus.NewRegistry()
		cfg, err := Load(WithMetrics(true, reg))
		require.NoError(t, err)

		rt, err := cfg.BuildService(context.Background(), nil)
		require.NoError(t, err)
		defer rt.Close()
		require.NotNil(t, rt.Service)
		require.NotNil(t, rt.Metrics)

		_, err = rt.Service.AddNewMaterial(context.Background(), matbox.AddMaterialRequest{
			OwnerID: "alice", Name: "a.txt", Category: "Other", Content: []byte("hello"),
		})
		require.NoError(t, err)

		families, err := reg.Gather()
		require.NoError(t, err)
		assert.NotEmpty(t, families)
	})

	t.Run("sqlite and filesystem", func(t *testing.T) {
		dir := t.TempDir()
		cfg, err := Load(
			WithDatabase("sqlite", filepath.Join(dir, "matbox.db")),
			WithFilesystemStorage(filepath.Join(dir, "blobs")),
			WithMetrics(false, nil),
		)
		require.NoError(t, err)

		rt, err := cfg.BuildService(context.Background(), nil)
		require.NoError(t, err)
		defer rt.Close()
		assert.Nil(t, rt.Metrics)

		ctx := context.Background()
		require.NoError(t, rt.Ping(ctx))
		require.NoError(t, cfg.CheckMigrations())
		_, err = rt.Service.AddNewMaterial(ctx, matbox.AddMaterialRequest{
			OwnerID: "alice", Name: "deck.pptx", Category: "Presentation", Content: []byte("slides"),
		})
		require.NoError(t, err)

		materials, err := rt.Service.GetAllMaterials(ctx, "alice")
		require.NoError(t, err)
		require.Len(t, materials, 1)
		assert.Equal(t, matbox.CategoryPresentation, materials[0].Category)
	})

	t.Run("migrate without sql database", func(t *testing.T) {
		cfg, err := Load()
		require.NoError(t, err)
		assert.Error(t, cfg.Migrate())
		assert.Error(t, cfg.CheckMigrations())
	})
}
