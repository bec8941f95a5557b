package memory_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tendant/matbox/pkg/matbox"
	"github.com/tendant/matbox/pkg/matbox/repo/memory"
	"github.com/tendant/matbox/pkg/matbox/repo/repotest"
)

func TestMemoryRepository(t *testing.T) {
	repotest.RunRepositoryTests(t, func(t *testing.T) matbox.Repository {
		return memory.New()
	})
}

func TestMemoryRepository_RejectsUnknownCategory(t *testing.T) {
	ctx := context.Background()
	repo := memory.New()

	_, err := repo.CreateMaterial(ctx, matbox.CreateMaterialParams{
		OwnerID: "alice", Name: "deck.pptx", Category: "Poster", ContentHash: "h1", SizeBytes: 1,
	})
	assert.ErrorIs(t, err, matbox.ErrInvalidCategory)

	_, err = repo.CreateMaterial(ctx, matbox.CreateMaterialParams{
		OwnerID: "alice", Name: "deck.pptx", Category: matbox.CategoryOther, ContentHash: "h1", SizeBytes: 1,
	})
	require.NoError(t, err)

	_, err = repo.SetCategory(ctx, "alice", "deck.pptx", "presentation")
	assert.ErrorIs(t, err, matbox.ErrInvalidCategory)

	m, err := repo.FindMaterial(ctx, "alice", "deck.pptx")
	require.NoError(t, err)
	assert.Equal(t, matbox.CategoryOther, m.Category)
}
