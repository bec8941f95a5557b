package memory_test

import (
	"bytes"
	"context"
	"io"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tendant/matbox/pkg/matbox"
	"github.com/tendant/matbox/pkg/matbox/storage/memory"
)

func TestMemoryBackend_UploadIfAbsent(t *testing.T) {
	ctx := context.Background()
	backend := memory.New()
	data := []byte("lecture slides")

	created, err := backend.UploadIfAbsent(ctx, "k1", bytes.NewReader(data), int64(len(data)))
	require.NoError(t, err)
	assert.True(t, created)

	created, err = backend.UploadIfAbsent(ctx, "k1", bytes.NewReader([]byte("other")), 5)
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, 1, backend.Writes())

	rc, err := backend.Download(ctx, "k1")
	require.NoError(t, err)
	defer rc.Close()
	got, err := io.ReadAll(rc)
	require.NoError(t, err)
	assert.Equal(t, data, got, "first write must win")

	meta, err := backend.GetObjectMeta(ctx, "k1")
	require.NoError(t, err)
	assert.Equal(t, int64(len(data)), meta.Size)
	assert.Equal(t, "k1", meta.Key)
}

func TestMemoryBackend_SizeMismatch(t *testing.T) {
	backend := memory.New()
	_, err := backend.UploadIfAbsent(context.Background(), "k", bytes.NewReader([]byte("abc")), 10)
	require.Error(t, err)
	assert.Equal(t, 0, backend.Len())
}

func TestMemoryBackend_NotFound(t *testing.T) {
	ctx := context.Background()
	backend := memory.New()

	_, err := backend.Download(ctx, "missing")
	assert.ErrorIs(t, err, matbox.ErrBlobNotFound)

	_, err = backend.GetObjectMeta(ctx, "missing")
	assert.ErrorIs(t, err, matbox.ErrNotFound)
}

func TestMemoryBackend_ConcurrentUploadsWriteOnce(t *testing.T) {
	ctx := context.Background()
	backend := memory.New()
	data := []byte("same bytes")

	var wg sync.WaitGroup
	results := make([]bool, 16)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			created, err := backend.UploadIfAbsent(ctx, "shared", bytes.NewReader(data), int64(len(data)))
			assert.NoError(t, err)
			results[i] = created
		}(i)
	}
	wg.Wait()

	createdCount := 0
	for _, created := range results {
		if created {
			createdCount++
		}
	}
	assert.Equal(t, 1, createdCount)
	assert.Equal(t, 1, backend.Writes())
}
