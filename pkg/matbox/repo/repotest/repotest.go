// Package repotest provides a behavioural test suite shared by every
// matbox.Repository implementation.
package repotest

import (
	"context"
	"fmt"
	"sort"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tendant/matbox/pkg/matbox"
	"golang.org/x/sync/errgroup"
)

// Factory returns a fresh, empty repository for one subtest
type Factory func(t *testing.T) matbox.Repository

// RunRepositoryTests exercises repo semantics against newRepo
func RunRepositoryTests(t *testing.T, newRepo Factory) {
	t.Run("CreateAndFind", func(t *testing.T) {
		repo := newRepo(t)
		ctx := context.Background()

		id := create(t, repo, "alice", "lecture.pdf", matbox.CategoryPresentation, "h1", 10)

		m, err := repo.FindMaterial(ctx, "alice", "lecture.pdf")
		require.NoError(t, err)
		assert.Equal(t, id, m.ID)
		assert.Equal(t, "alice", m.OwnerID)
		assert.Equal(t, matbox.CategoryPresentation, m.Category)
		require.Len(t, m.Versions, 1)
		assert.Equal(t, 1, m.Versions[0].VersionNumber)
		assert.Equal(t, "h1", m.Versions[0].ContentHash)
		assert.Equal(t, int64(10), m.Versions[0].SizeBytes)
		assert.Equal(t, id, m.Versions[0].MaterialID)
	})

	t.Run("FindUnknown", func(t *testing.T) {
		repo := newRepo(t)
		_, err := repo.FindMaterial(context.Background(), "alice", "nothing")
		assert.ErrorIs(t, err, matbox.ErrNotFound)
	})

	t.Run("CreateDuplicate", func(t *testing.T) {
		repo := newRepo(t)
		create(t, repo, "alice", "notes.txt", matbox.CategoryOther, "h1", 1)

		_, err := repo.CreateMaterial(context.Background(), matbox.CreateMaterialParams{
			OwnerID: "alice", Name: "notes.txt", Category: matbox.CategoryOther, ContentHash: "h2", SizeBytes: 2,
		})
		assert.ErrorIs(t, err, matbox.ErrAlreadyExists)

		versions, err := repo.ListVersions(context.Background(), "alice", "notes.txt")
		require.NoError(t, err)
		assert.Len(t, versions, 1)
	})

	t.Run("SameNameDifferentOwners", func(t *testing.T) {
		repo := newRepo(t)
		a := create(t, repo, "alice", "shared.doc", matbox.CategoryOther, "h1", 1)
		b := create(t, repo, "bob", "shared.doc", matbox.CategoryApplication, "h1", 1)
		assert.NotEqual(t, a, b)

		list, err := repo.ListMaterials(context.Background(), "bob")
		require.NoError(t, err)
		require.Len(t, list, 1)
		assert.Equal(t, b, list[0].ID)
	})

	t.Run("ListMaterialsSortedByName", func(t *testing.T) {
		repo := newRepo(t)
		create(t, repo, "alice", "b.txt", matbox.CategoryOther, "h1", 1)
		create(t, repo, "alice", "a.txt", matbox.CategoryOther, "h2", 2)

		list, err := repo.ListMaterials(context.Background(), "alice")
		require.NoError(t, err)
		require.Len(t, list, 2)
		assert.Equal(t, "a.txt", list[0].Name)
		assert.Equal(t, "b.txt", list[1].Name)
		assert.Len(t, list[0].Versions, 1)

		empty, err := repo.ListMaterials(context.Background(), "nobody")
		require.NoError(t, err)
		assert.Empty(t, empty)
	})

	t.Run("AppendVersion", func(t *testing.T) {
		repo := newRepo(t)
		ctx := context.Background()
		id := create(t, repo, "alice", "report.docx", matbox.CategoryApplication, "h1", 5)

		v, err := repo.AppendVersion(ctx, matbox.AppendVersionParams{
			OwnerID: "alice", Name: "report.docx", ContentHash: "h2", SizeBytes: 7,
		})
		require.NoError(t, err)
		assert.Equal(t, 2, v.VersionNumber)
		assert.Equal(t, id, v.MaterialID)

		count, err := repo.CountVersions(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, 2, count)

		versions, err := repo.ListVersions(ctx, "alice", "report.docx")
		require.NoError(t, err)
		require.Len(t, versions, 2)
		assert.Equal(t, 1, versions[0].VersionNumber)
		assert.Equal(t, 2, versions[1].VersionNumber)
		assert.Equal(t, "h2", versions[1].ContentHash)
	})

	t.Run("AppendVersionUnknown", func(t *testing.T) {
		repo := newRepo(t)
		_, err := repo.AppendVersion(context.Background(), matbox.AppendVersionParams{
			OwnerID: "alice", Name: "ghost", ContentHash: "h", SizeBytes: 1,
		})
		assert.ErrorIs(t, err, matbox.ErrNotFound)
	})

	t.Run("CountVersionsUnknown", func(t *testing.T) {
		repo := newRepo(t)
		count, err := repo.CountVersions(context.Background(), uuid.New())
		require.NoError(t, err)
		assert.Equal(t, 0, count)
	})

	t.Run("ConcurrentAppendsAreDense", func(t *testing.T) {
		repo := newRepo(t)
		ctx := context.Background()
		id := create(t, repo, "alice", "busy.pdf", matbox.CategoryPresentation, "h0", 1)

		const writers = 8
		var g errgroup.Group
		for i := 0; i < writers; i++ {
			i := i
			g.Go(func() error {
				_, err := repo.AppendVersion(ctx, matbox.AppendVersionParams{
					OwnerID: "alice", Name: "busy.pdf", ContentHash: fmt.Sprintf("h%d", i+1), SizeBytes: 1,
				})
				return err
			})
		}
		require.NoError(t, g.Wait())

		versions, err := repo.ListVersions(ctx, "alice", "busy.pdf")
		require.NoError(t, err)
		require.Len(t, versions, writers+1)
		numbers := make([]int, len(versions))
		for i, v := range versions {
			numbers[i] = v.VersionNumber
		}
		sort.Ints(numbers)
		for i, n := range numbers {
			assert.Equal(t, i+1, n)
		}

		count, err := repo.CountVersions(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, writers+1, count)
	})

	t.Run("GetVersionPath", func(t *testing.T) {
		repo := newRepo(t)
		ctx := context.Background()
		create(t, repo, "alice", "syllabus.pdf", matbox.CategoryOther, "first", 1)
		_, err := repo.AppendVersion(ctx, matbox.AppendVersionParams{
			OwnerID: "alice", Name: "syllabus.pdf", ContentHash: "second", SizeBytes: 2,
		})
		require.NoError(t, err)

		hash, err := repo.GetVersionPath(ctx, "alice", "syllabus.pdf", 1)
		require.NoError(t, err)
		assert.Equal(t, "first", hash)

		hash, err = repo.GetVersionPath(ctx, "alice", "syllabus.pdf", 2)
		require.NoError(t, err)
		assert.Equal(t, "second", hash)

		for _, n := range []int{0, -1, 3} {
			_, err = repo.GetVersionPath(ctx, "alice", "syllabus.pdf", n)
			assert.ErrorIs(t, err, matbox.ErrInvalidVersion, "version %d", n)
		}

		_, err = repo.GetVersionPath(ctx, "alice", "missing.pdf", 1)
		assert.ErrorIs(t, err, matbox.ErrNotFound)
	})

	t.Run("SetCategory", func(t *testing.T) {
		repo := newRepo(t)
		ctx := context.Background()
		id := create(t, repo, "alice", "deck.pptx", matbox.CategoryOther, "h1", 3)
		_, err := repo.AppendVersion(ctx, matbox.AppendVersionParams{
			OwnerID: "alice", Name: "deck.pptx", ContentHash: "h2", SizeBytes: 4,
		})
		require.NoError(t, err)

		got, err := repo.SetCategory(ctx, "alice", "deck.pptx", matbox.CategoryPresentation)
		require.NoError(t, err)
		assert.Equal(t, id, got)

		m, err := repo.FindMaterial(ctx, "alice", "deck.pptx")
		require.NoError(t, err)
		assert.Equal(t, matbox.CategoryPresentation, m.Category)
		assert.Len(t, m.Versions, 2, "versions are untouched by recategorization")

		_, err = repo.SetCategory(ctx, "alice", "missing", matbox.CategoryOther)
		assert.ErrorIs(t, err, matbox.ErrNotFound)
	})

	t.Run("ListByCategory", func(t *testing.T) {
		repo := newRepo(t)
		ctx := context.Background()
		create(t, repo, "alice", "a.pptx", matbox.CategoryPresentation, "h1", 1)
		create(t, repo, "alice", "b.zip", matbox.CategoryApplication, "h2", 2)
		create(t, repo, "alice", "c.pptx", matbox.CategoryPresentation, "h3", 3)
		create(t, repo, "bob", "d.pptx", matbox.CategoryPresentation, "h4", 4)

		list, err := repo.ListByCategory(ctx, "alice", matbox.CategoryPresentation)
		require.NoError(t, err)
		require.Len(t, list, 2)
		assert.Equal(t, "a.pptx", list[0].Name)
		assert.Equal(t, "c.pptx", list[1].Name)
		for _, m := range list {
			assert.Len(t, m.Versions, 1)
		}

		list, err = repo.ListByCategory(ctx, "alice", matbox.CategoryOther)
		require.NoError(t, err)
		assert.Empty(t, list)
	})

	t.Run("ReturnedValuesAreCopies", func(t *testing.T) {
		repo := newRepo(t)
		ctx := context.Background()
		create(t, repo, "alice", "copy.txt", matbox.CategoryOther, "h1", 1)

		m, err := repo.FindMaterial(ctx, "alice", "copy.txt")
		require.NoError(t, err)
		m.Category = matbox.CategoryApplication
		m.Versions[0].ContentHash = "tampered"

		again, err := repo.FindMaterial(ctx, "alice", "copy.txt")
		require.NoError(t, err)
		assert.Equal(t, matbox.CategoryOther, again.Category)
		assert.Equal(t, "h1", again.Versions[0].ContentHash)
	})
}

func create(t *testing.T, repo matbox.Repository, owner, name string, category matbox.Category, hash string, size int64) uuid.UUID {
	t.Helper()
	id, err := repo.CreateMaterial(context.Background(), matbox.CreateMaterialParams{
		OwnerID:     owner,
		Name:        name,
		Category:    category,
		ContentHash: hash,
		SizeBytes:   size,
	})
	require.NoError(t, err)
	require.NotEqual(t, uuid.Nil, id)
	return id
}
