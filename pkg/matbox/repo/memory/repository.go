package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/tendant/matbox/pkg/matbox"
)

type materialKey struct {
	ownerID string
	name    string
}

// record holds one material. Its mutex serializes version appends so that
// version numbers stay dense without holding the repository-wide lock.
type record struct {
	mu       sync.Mutex
	material matbox.Material
	versions []matbox.Version
}

// Repository implements matbox.Repository using in-memory storage
type Repository struct {
	mu        sync.RWMutex
	materials map[materialKey]*record
	byID      map[uuid.UUID]*record
}

// New creates a new in-memory repository
func New() *Repository {
	return &Repository{
		materials: make(map[materialKey]*record),
		byID:      make(map[uuid.UUID]*record),
	}
}

func (r *Repository) lookup(ownerID, name string) (*record, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	rec, ok := r.materials[materialKey{ownerID, name}]
	return rec, ok
}

// snapshot returns a copy of the record so callers cannot mutate stored state
func (rec *record) snapshot() *matbox.Material {
	rec.mu.Lock()
	defer rec.mu.Unlock()

	m := rec.material
	m.Versions = make([]*matbox.Version, len(rec.versions))
	for i := range rec.versions {
		v := rec.versions[i]
		m.Versions[i] = &v
	}
	return &m
}

func (r *Repository) owned(ownerID string, keep func(*matbox.Material) bool) []*matbox.Material {
	r.mu.RLock()
	records := make([]*record, 0, len(r.materials))
	for key, rec := range r.materials {
		if key.ownerID == ownerID {
			records = append(records, rec)
		}
	}
	r.mu.RUnlock()

	result := make([]*matbox.Material, 0, len(records))
	for _, rec := range records {
		m := rec.snapshot()
		if keep == nil || keep(m) {
			result = append(result, m)
		}
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].Name < result[j].Name
	})
	return result
}

// Material operations

func (r *Repository) ListMaterials(ctx context.Context, ownerID string) ([]*matbox.Material, error) {
	return r.owned(ownerID, nil), nil
}

func (r *Repository) FindMaterial(ctx context.Context, ownerID, name string) (*matbox.Material, error) {
	rec, ok := r.lookup(ownerID, name)
	if !ok {
		return nil, matbox.ErrMaterialNotFound
	}
	return rec.snapshot(), nil
}

func (r *Repository) CountVersions(ctx context.Context, materialID uuid.UUID) (int, error) {
	r.mu.RLock()
	rec, ok := r.byID[materialID]
	r.mu.RUnlock()
	if !ok {
		return 0, nil
	}

	rec.mu.Lock()
	defer rec.mu.Unlock()
	return len(rec.versions), nil
}

func (r *Repository) ListVersions(ctx context.Context, ownerID, name string) ([]*matbox.Version, error) {
	material, err := r.FindMaterial(ctx, ownerID, name)
	if err != nil {
		return nil, err
	}
	return material.Versions, nil
}

func (r *Repository) ListByCategory(ctx context.Context, ownerID string, category matbox.Category) ([]*matbox.Material, error) {
	return r.owned(ownerID, func(m *matbox.Material) bool {
		return m.Category == category
	}), nil
}

func (r *Repository) CreateMaterial(ctx context.Context, params matbox.CreateMaterialParams) (uuid.UUID, error) {
	if !params.Category.IsValid() {
		return uuid.Nil, fmt.Errorf("%w: %q", matbox.ErrInvalidCategory, params.Category)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	key := materialKey{params.OwnerID, params.Name}
	if _, exists := r.materials[key]; exists {
		return uuid.Nil, fmt.Errorf("%w: %q", matbox.ErrAlreadyExists, params.Name)
	}

	now := time.Now().UTC()
	id := uuid.New()
	rec := &record{
		material: matbox.Material{
			ID:        id,
			OwnerID:   params.OwnerID,
			Name:      params.Name,
			Category:  params.Category,
			CreatedAt: now,
			UpdatedAt: now,
		},
		versions: []matbox.Version{{
			ID:            uuid.New(),
			MaterialID:    id,
			VersionNumber: 1,
			ContentHash:   params.ContentHash,
			SizeBytes:     params.SizeBytes,
			CreatedAt:     now,
		}},
	}
	r.materials[key] = rec
	r.byID[id] = rec
	return id, nil
}

func (r *Repository) AppendVersion(ctx context.Context, params matbox.AppendVersionParams) (*matbox.Version, error) {
	rec, ok := r.lookup(params.OwnerID, params.Name)
	if !ok {
		return nil, matbox.ErrMaterialNotFound
	}

	rec.mu.Lock()
	defer rec.mu.Unlock()

	now := time.Now().UTC()
	version := matbox.Version{
		ID:            uuid.New(),
		MaterialID:    rec.material.ID,
		VersionNumber: len(rec.versions) + 1,
		ContentHash:   params.ContentHash,
		SizeBytes:     params.SizeBytes,
		CreatedAt:     now,
	}
	rec.versions = append(rec.versions, version)
	rec.material.UpdatedAt = now
	return &version, nil
}

func (r *Repository) GetVersionPath(ctx context.Context, ownerID, name string, versionNumber int) (string, error) {
	rec, ok := r.lookup(ownerID, name)
	if !ok {
		return "", matbox.ErrMaterialNotFound
	}

	rec.mu.Lock()
	defer rec.mu.Unlock()

	if versionNumber < 1 || versionNumber > len(rec.versions) {
		return "", matbox.ErrInvalidVersion
	}
	return rec.versions[versionNumber-1].ContentHash, nil
}

func (r *Repository) SetCategory(ctx context.Context, ownerID, name string, category matbox.Category) (uuid.UUID, error) {
	rec, ok := r.lookup(ownerID, name)
	if !ok {
		return uuid.Nil, matbox.ErrMaterialNotFound
	}
	if !category.IsValid() {
		return uuid.Nil, fmt.Errorf("%w: %q", matbox.ErrInvalidCategory, category)
	}

	rec.mu.Lock()
	defer rec.mu.Unlock()

	rec.material.Category = category
	rec.material.UpdatedAt = time.Now().UTC()
	return rec.material.ID, nil
}

var _ matbox.Repository = (*Repository)(nil)
