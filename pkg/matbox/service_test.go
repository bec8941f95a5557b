package matbox_test

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"sort"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tendant/matbox/pkg/matbox"
	"github.com/tendant/matbox/pkg/matbox/contentstore"
	"github.com/tendant/matbox/pkg/matbox/repo/memory"
	memorystorage "github.com/tendant/matbox/pkg/matbox/storage/memory"
	"golang.org/x/sync/errgroup"
)

type testEnv struct {
	service matbox.Service
	repo    *memory.Repository
	blobs   *memorystorage.Backend
	events  *recordingSink
}

func setupService(t *testing.T, opts ...matbox.Option) *testEnv {
	t.Helper()
	env := &testEnv{
		repo:   memory.New(),
		blobs:  memorystorage.New(),
		events: &recordingSink{},
	}
	store, err := contentstore.New(env.blobs)
	require.NoError(t, err)

	options := append([]matbox.Option{
		matbox.WithRepository(env.repo),
		matbox.WithContentStore(store),
		matbox.WithEventSink(env.events),
	}, opts...)
	env.service, err = matbox.New(options...)
	require.NoError(t, err)
	return env
}

type recordingSink struct {
	mu     sync.Mutex
	events []string
}

func (s *recordingSink) record(e string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, e)
	return nil
}

func (s *recordingSink) MaterialCreated(ctx context.Context, m *matbox.Material) error {
	return s.record("created:" + m.Name)
}

func (s *recordingSink) VersionAdded(ctx context.Context, ownerID, name string, v *matbox.Version) error {
	return s.record(fmt.Sprintf("version:%s:%d", name, v.VersionNumber))
}

func (s *recordingSink) CategoryChanged(ctx context.Context, id uuid.UUID, c matbox.Category) error {
	return s.record("category:" + string(c))
}

func (s *recordingSink) list() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.events...)
}

func readAll(t *testing.T, d *matbox.Download) []byte {
	t.Helper()
	defer d.Body.Close()
	data, err := io.ReadAll(d.Body)
	require.NoError(t, err)
	return data
}

func addMaterial(t *testing.T, s matbox.Service, owner, name, category string, content []byte) uuid.UUID {
	t.Helper()
	id, err := s.AddNewMaterial(context.Background(), matbox.AddMaterialRequest{
		OwnerID: owner, Name: name, Category: category, Content: content,
	})
	require.NoError(t, err)
	return id
}

func TestNew_RequiresDependencies(t *testing.T) {
	_, err := matbox.New()
	assert.Error(t, err)

	_, err = matbox.New(matbox.WithRepository(memory.New()))
	assert.Error(t, err)

	store, err := contentstore.New(memorystorage.New())
	require.NoError(t, err)
	_, err = matbox.New(matbox.WithRepository(memory.New()), matbox.WithContentStore(store), matbox.WithMaxUploadBytes(-1))
	assert.Error(t, err)
}

func TestService_DocLifecycle(t *testing.T) {
	env := setupService(t)
	ctx := context.Background()
	b1, b2 := []byte("first draft"), []byte("second draft")

	id := addMaterial(t, env.service, "alice", "doc.txt", "Other", b1)
	count, err := env.repo.CountVersions(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, 1, count)

	version, err := env.service.AddNewVersionOfMaterial(ctx, matbox.AddVersionRequest{
		OwnerID: "alice", Name: "doc.txt", Content: b2,
	})
	require.NoError(t, err)
	assert.Equal(t, 2, version.VersionNumber)
	assert.Equal(t, id, version.MaterialID)

	count, err = env.repo.CountVersions(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, 2, count)

	first, err := env.service.GetSpecificMaterial(ctx, "alice", "doc.txt", 1)
	require.NoError(t, err)
	assert.Equal(t, b1, readAll(t, first))
	assert.Equal(t, "doc.txt", first.FileName)
	assert.Equal(t, 1, first.VersionNumber)

	actual, err := env.service.GetActualMaterial(ctx, "alice", "doc.txt")
	require.NoError(t, err)
	assert.Equal(t, b2, readAll(t, actual))
	assert.Equal(t, 2, actual.VersionNumber)
	assert.Equal(t, contentstore.Hash(b2), actual.ContentHash)

	assert.Equal(t, []string{"created:doc.txt", "version:doc.txt:2"}, env.events.list())
}

func TestService_ChangeCategory(t *testing.T) {
	env := setupService(t)
	ctx := context.Background()
	id := addMaterial(t, env.service, "alice", "doc.txt", "Other", []byte("x"))

	t.Run("InvalidCategoryLeavesStateUnchanged", func(t *testing.T) {
		_, err := env.service.ChangeCategory(ctx, matbox.ChangeCategoryRequest{
			OwnerID: "alice", Name: "doc.txt", Category: "xyz",
		})
		require.Error(t, err)
		assert.Equal(t, matbox.KindInvalidCategory, matbox.KindOf(err))

		m, err := env.repo.FindMaterial(ctx, "alice", "doc.txt")
		require.NoError(t, err)
		assert.Equal(t, matbox.CategoryOther, m.Category)
	})

	t.Run("Valid", func(t *testing.T) {
		got, err := env.service.ChangeCategory(ctx, matbox.ChangeCategoryRequest{
			OwnerID: "alice", Name: "doc.txt", Category: "presentation",
		})
		require.NoError(t, err)
		assert.Equal(t, id, got)

		m, err := env.repo.FindMaterial(ctx, "alice", "doc.txt")
		require.NoError(t, err)
		assert.Equal(t, matbox.CategoryPresentation, m.Category)
		assert.Contains(t, env.events.list(), "category:Presentation")
	})

	t.Run("NotFoundBeforeCategory", func(t *testing.T) {
		_, err := env.service.ChangeCategory(ctx, matbox.ChangeCategoryRequest{
			OwnerID: "alice", Name: "missing.txt", Category: "xyz",
		})
		assert.Equal(t, matbox.KindNotFound, matbox.KindOf(err))
	})
}

func TestService_InvalidVersion(t *testing.T) {
	env := setupService(t)
	ctx := context.Background()
	addMaterial(t, env.service, "alice", "doc.txt", "Other", []byte("one"))
	_, err := env.service.AddNewVersionOfMaterial(ctx, matbox.AddVersionRequest{OwnerID: "alice", Name: "doc.txt", Content: []byte("two")})
	require.NoError(t, err)

	for _, n := range []int{5, 3, 0, -1} {
		_, err := env.service.GetSpecificMaterial(ctx, "alice", "doc.txt", n)
		require.Error(t, err)
		assert.Equal(t, matbox.KindInvalidVersion, matbox.KindOf(err), "version %d", n)
		assert.Contains(t, err.Error(), fmt.Sprint(n))
	}

	_, err = env.service.GetSpecificMaterial(ctx, "alice", "missing.txt", 0)
	assert.Equal(t, matbox.KindNotFound, matbox.KindOf(err), "absent material is reported before the version")
}

func TestService_NotFound(t *testing.T) {
	env := setupService(t)
	ctx := context.Background()

	_, err := env.service.AddNewVersionOfMaterial(ctx, matbox.AddVersionRequest{
		OwnerID: "alice", Name: "missing.txt", Content: []byte("x"),
	})
	require.Error(t, err)
	assert.Equal(t, matbox.KindNotFound, matbox.KindOf(err))
	var materialErr *matbox.MaterialError
	require.True(t, errors.As(err, &materialErr))
	assert.Equal(t, "missing.txt", materialErr.Name)
	assert.Equal(t, 0, env.blobs.Writes(), "nothing is stored for an unknown material")

	_, err = env.service.GetActualMaterial(ctx, "alice", "missing.txt")
	assert.Equal(t, matbox.KindNotFound, matbox.KindOf(err))

	_, err = env.service.GetInfoAboutMaterial(ctx, "alice", "missing.txt")
	assert.Equal(t, matbox.KindNotFound, matbox.KindOf(err))

	addMaterial(t, env.service, "alice", "mine.txt", "Other", []byte("x"))
	_, err = env.service.GetActualMaterial(ctx, "bob", "mine.txt")
	assert.Equal(t, matbox.KindNotFound, matbox.KindOf(err), "other owners cannot see the material")
}

func TestService_Uniqueness(t *testing.T) {
	env := setupService(t)
	ctx := context.Background()
	addMaterial(t, env.service, "alice", "doc.txt", "Other", []byte("a"))

	_, err := env.service.AddNewMaterial(ctx, matbox.AddMaterialRequest{
		OwnerID: "alice", Name: "doc.txt", Category: "xyz", Content: []byte("b"),
	})
	require.Error(t, err)
	assert.Equal(t, matbox.KindAlreadyExists, matbox.KindOf(err), "existence is checked before the category")

	materials, err := env.service.GetAllMaterials(ctx, "alice")
	require.NoError(t, err)
	require.Len(t, materials, 1)
	assert.Len(t, materials[0].Versions, 1)

	addMaterial(t, env.service, "bob", "doc.txt", "Other", []byte("a"))
}

func TestService_ConcurrentCreate(t *testing.T) {
	env := setupService(t)
	ctx := context.Background()

	const writers = 8
	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		succeeded int
		conflicts int
	)
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := env.service.AddNewMaterial(ctx, matbox.AddMaterialRequest{
				OwnerID: "alice", Name: "race.txt", Category: "Other", Content: []byte(fmt.Sprint(i)),
			})
			mu.Lock()
			defer mu.Unlock()
			switch matbox.KindOf(err) {
			case matbox.KindNone:
				succeeded++
			case matbox.KindAlreadyExists:
				conflicts++
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}(i)
	}
	wg.Wait()

	assert.Equal(t, 1, succeeded)
	assert.Equal(t, writers-1, conflicts)
}

func TestService_CategoryClosure(t *testing.T) {
	env := setupService(t)
	ctx := context.Background()

	for _, category := range []string{"", "Poster", "4", "Presentations"} {
		_, err := env.service.AddNewMaterial(ctx, matbox.AddMaterialRequest{
			OwnerID: "alice", Name: "doc.txt", Category: category, Content: []byte("x"),
		})
		require.Error(t, err)
		assert.Equal(t, matbox.KindInvalidCategory, matbox.KindOf(err), "category %q", category)
	}

	materials, err := env.service.GetAllMaterials(ctx, "alice")
	require.NoError(t, err)
	assert.Empty(t, materials)
	assert.Equal(t, 0, env.blobs.Writes())
}

func TestService_Dedup(t *testing.T) {
	env := setupService(t)
	ctx := context.Background()
	content := []byte("shared handout")

	addMaterial(t, env.service, "alice", "a.pdf", "Other", content)
	addMaterial(t, env.service, "bob", "b.pdf", "Application", content)
	_, err := env.service.AddNewVersionOfMaterial(ctx, matbox.AddVersionRequest{OwnerID: "alice", Name: "a.pdf", Content: content})
	require.NoError(t, err)

	assert.Equal(t, 1, env.blobs.Writes())
	assert.Equal(t, 1, env.blobs.Len())

	versions, err := env.service.GetInfoAboutMaterial(ctx, "alice", "a.pdf")
	require.NoError(t, err)
	require.Len(t, versions, 2)
	assert.Equal(t, versions[0].ContentHash, versions[1].ContentHash)
}

func TestService_ConcurrentAppend(t *testing.T) {
	env := setupService(t)
	ctx := context.Background()
	addMaterial(t, env.service, "alice", "busy.txt", "Other", []byte("v1"))

	const writers = 16
	numbers := make([]int, writers)
	g, gctx := errgroup.WithContext(ctx)
	for i := 0; i < writers; i++ {
		i := i
		g.Go(func() error {
			v, err := env.service.AddNewVersionOfMaterial(gctx, matbox.AddVersionRequest{
				OwnerID: "alice", Name: "busy.txt", Content: []byte(fmt.Sprintf("v%d", i+2)),
			})
			if err != nil {
				return err
			}
			numbers[i] = v.VersionNumber
			return nil
		})
	}
	require.NoError(t, g.Wait())

	sort.Ints(numbers)
	for i, n := range numbers {
		assert.Equal(t, i+2, n)
	}

	versions, err := env.service.GetInfoAboutMaterial(ctx, "alice", "busy.txt")
	require.NoError(t, err)
	require.Len(t, versions, writers+1)
	for i, v := range versions {
		assert.Equal(t, i+1, v.VersionNumber)
	}

	// Every version reads back the bytes submitted for it
	for _, v := range versions {
		d, err := env.service.GetSpecificMaterial(ctx, "alice", "busy.txt", v.VersionNumber)
		require.NoError(t, err)
		assert.Equal(t, v.ContentHash, contentstore.Hash(readAll(t, d)))
	}
}

func TestService_ConcurrentIdenticalPuts(t *testing.T) {
	env := setupService(t)
	ctx := context.Background()
	content := bytes.Repeat([]byte("same"), 1024)

	var g errgroup.Group
	for i := 0; i < 12; i++ {
		i := i
		g.Go(func() error {
			_, err := env.service.AddNewMaterial(ctx, matbox.AddMaterialRequest{
				OwnerID: "alice", Name: fmt.Sprintf("copy-%d.bin", i), Category: "Other", Content: content,
			})
			return err
		})
	}
	require.NoError(t, g.Wait())
	assert.Equal(t, 1, env.blobs.Writes())
}

func TestService_GetInfoWithFilters(t *testing.T) {
	env := setupService(t)
	ctx := context.Background()
	addMaterial(t, env.service, "alice", "small.pptx", "Presentation", bytes.Repeat([]byte("s"), 10))
	addMaterial(t, env.service, "alice", "large.pptx", "Presentation", bytes.Repeat([]byte("l"), 100))
	addMaterial(t, env.service, "alice", "tool.exe", "Application", bytes.Repeat([]byte("t"), 10))
	addMaterial(t, env.service, "bob", "other.pptx", "Presentation", bytes.Repeat([]byte("o"), 10))
	_, err := env.service.AddNewVersionOfMaterial(ctx, matbox.AddVersionRequest{
		OwnerID: "alice", Name: "large.pptx", Content: bytes.Repeat([]byte("L"), 50),
	})
	require.NoError(t, err)

	filter := func(category string, min, max int64) ([]*matbox.VersionInfo, error) {
		return env.service.GetInfoWithFilters(ctx, matbox.FilterRequest{
			OwnerID: "alice", Category: category, MinSize: min, MaxSize: max,
		})
	}

	t.Run("InclusiveBounds", func(t *testing.T) {
		infos, err := filter("Presentation", 10, 50)
		require.NoError(t, err)
		require.Len(t, infos, 2)
		got := map[string]int64{}
		for _, info := range infos {
			got[fmt.Sprintf("%s#%d", info.Name, info.VersionNumber)] = info.SizeBytes
			assert.Equal(t, matbox.CategoryPresentation, info.Category)
		}
		assert.Equal(t, map[string]int64{"small.pptx#1": 10, "large.pptx#2": 50}, got)
	})

	t.Run("MinAboveMax", func(t *testing.T) {
		infos, err := filter("Presentation", 60, 10)
		require.NoError(t, err)
		assert.Empty(t, infos)
	})

	t.Run("InvalidCategory", func(t *testing.T) {
		_, err := filter("Slides", 0, 10)
		assert.Equal(t, matbox.KindInvalidCategory, matbox.KindOf(err))
	})

	t.Run("NegativeSize", func(t *testing.T) {
		_, err := filter("Presentation", -1, 10)
		assert.Equal(t, matbox.KindInvalidSize, matbox.KindOf(err))
		_, err = filter("Presentation", 0, -10)
		assert.Equal(t, matbox.KindInvalidSize, matbox.KindOf(err))
	})
}

func TestService_UploadValidation(t *testing.T) {
	env := setupService(t, matbox.WithMaxUploadBytes(8))
	ctx := context.Background()

	_, err := env.service.AddNewMaterial(ctx, matbox.AddMaterialRequest{
		OwnerID: "alice", Name: "   ", Category: "Other", Content: []byte("x"),
	})
	assert.Equal(t, matbox.KindInvalidName, matbox.KindOf(err))

	_, err = env.service.AddNewMaterial(ctx, matbox.AddMaterialRequest{
		OwnerID: "alice", Name: "dir/file.txt", Category: "Other", Content: []byte("x"),
	})
	assert.Equal(t, matbox.KindInvalidName, matbox.KindOf(err))

	_, err = env.service.AddNewMaterial(ctx, matbox.AddMaterialRequest{
		OwnerID: "alice", Name: "info", Category: "Other", Content: []byte("x"),
	})
	assert.Equal(t, matbox.KindInvalidName, matbox.KindOf(err))

	_, err = env.service.AddNewMaterial(ctx, matbox.AddMaterialRequest{
		OwnerID: "alice", Name: "big.bin", Category: "Other", Content: []byte("123456789"),
	})
	assert.Equal(t, matbox.KindInvalidSize, matbox.KindOf(err))

	id := addMaterial(t, env.service, "alice", "empty.txt", "Other", nil)
	assert.NotEqual(t, uuid.Nil, id)
	d, err := env.service.GetActualMaterial(ctx, "alice", "empty.txt")
	require.NoError(t, err)
	assert.Empty(t, readAll(t, d))
}

// failingBlobStore loses every blob after it is written
type failingBlobStore struct {
	*memorystorage.Backend
}

func (f failingBlobStore) Download(ctx context.Context, key string) (io.ReadCloser, error) {
	return nil, matbox.ErrBlobNotFound
}

func TestService_MissingBlobIsStorageFault(t *testing.T) {
	store, err := contentstore.New(failingBlobStore{memorystorage.New()})
	require.NoError(t, err)
	service, err := matbox.New(matbox.WithRepository(memory.New()), matbox.WithContentStore(store))
	require.NoError(t, err)

	addMaterial(t, service, "alice", "doc.txt", "Other", []byte("x"))
	_, err = service.GetActualMaterial(context.Background(), "alice", "doc.txt")
	require.Error(t, err)
	assert.Equal(t, matbox.KindStorageFault, matbox.KindOf(err))
	var storageErr *matbox.StorageError
	assert.True(t, errors.As(err, &storageErr))
}

func TestService_VerifyMaterial(t *testing.T) {
	ctx := context.Background()
	repo := memory.New()
	newService := func() matbox.Service {
		store, err := contentstore.New(memorystorage.New())
		require.NoError(t, err)
		svc, err := matbox.New(matbox.WithRepository(repo), matbox.WithContentStore(store))
		require.NoError(t, err)
		return svc
	}
	primary, secondary := newService(), newService()

	addMaterial(t, primary, "alice", "doc.txt", "Other", []byte("one"))
	missing, err := primary.VerifyMaterial(ctx, "alice", "doc.txt")
	require.NoError(t, err)
	assert.Empty(t, missing)

	// A version written through a different blob store is absent from this one
	_, err = secondary.AddNewVersionOfMaterial(ctx, matbox.AddVersionRequest{OwnerID: "alice", Name: "doc.txt", Content: []byte("two")})
	require.NoError(t, err)

	missing, err = primary.VerifyMaterial(ctx, "alice", "doc.txt")
	require.NoError(t, err)
	assert.Equal(t, []int{2}, missing)

	missing, err = secondary.VerifyMaterial(ctx, "alice", "doc.txt")
	require.NoError(t, err)
	assert.Equal(t, []int{1}, missing)

	_, err = primary.VerifyMaterial(ctx, "alice", "missing.txt")
	assert.Equal(t, matbox.KindNotFound, matbox.KindOf(err))
}
