package matbox

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
)

// service implements the Service interface
type service struct {
	repository     Repository
	contents       ContentStore
	eventSink      EventSink
	logger         *slog.Logger
	maxUploadBytes int64
}

// Option represents a functional option for configuring the service
type Option func(*service)

// WithRepository sets the repository for the service
func WithRepository(repo Repository) Option {
	return func(s *service) {
		s.repository = repo
	}
}

// WithContentStore sets the content-addressed store for the service
func WithContentStore(store ContentStore) Option {
	return func(s *service) {
		s.contents = store
	}
}

// WithEventSink sets the event sink for the service
func WithEventSink(sink EventSink) Option {
	return func(s *service) {
		s.eventSink = sink
	}
}

// WithLogger sets the structured logger for the service
func WithLogger(logger *slog.Logger) Option {
	return func(s *service) {
		s.logger = logger
	}
}

// WithMaxUploadBytes limits the size of uploaded content. Zero disables the limit.
func WithMaxUploadBytes(n int64) Option {
	return func(s *service) {
		s.maxUploadBytes = n
	}
}

// New creates a new service instance with the given options
func New(options ...Option) (Service, error) {
	s := &service{}

	for _, option := range options {
		option(s)
	}

	if s.repository == nil {
		return nil, fmt.Errorf("repository is required")
	}
	if s.contents == nil {
		return nil, fmt.Errorf("content store is required")
	}
	if s.maxUploadBytes < 0 {
		return nil, fmt.Errorf("max upload bytes cannot be negative: %d", s.maxUploadBytes)
	}
	if s.eventSink == nil {
		s.eventSink = NewNoopEventSink()
	}
	if s.logger == nil {
		s.logger = slog.Default()
	}

	return s, nil
}

// Read operations

func (s *service) GetAllMaterials(ctx context.Context, ownerID string) ([]*Material, error) {
	s.logger.InfoContext(ctx, "All materials requested", "owner_id", ownerID)

	materials, err := s.repository.ListMaterials(ctx, ownerID)
	if err != nil {
		s.logger.ErrorContext(ctx, "Failed to list materials", "owner_id", ownerID, "error", err)
		return nil, err
	}
	return materials, nil
}

func (s *service) GetInfoAboutMaterial(ctx context.Context, ownerID, name string) ([]*Version, error) {
	s.logger.InfoContext(ctx, "Material info requested", "owner_id", ownerID, "name", name)

	versions, err := s.repository.ListVersions(ctx, ownerID, name)
	if err != nil {
		return nil, s.fail(ctx, "info", ownerID, name, err)
	}
	return versions, nil
}

func (s *service) GetInfoWithFilters(ctx context.Context, req FilterRequest) ([]*VersionInfo, error) {
	s.logger.InfoContext(ctx, "Filtered info requested",
		"owner_id", req.OwnerID, "category", req.Category, "min_size", req.MinSize, "max_size", req.MaxSize)

	category, err := ParseCategory(req.Category)
	if err != nil {
		return nil, s.fail(ctx, "filter", req.OwnerID, "", err)
	}
	if req.MinSize < 0 || req.MaxSize < 0 {
		err := fmt.Errorf("%w: minimum and maximum size must not be negative (got %d, %d)",
			ErrInvalidSize, req.MinSize, req.MaxSize)
		return nil, s.fail(ctx, "filter", req.OwnerID, "", err)
	}

	materials, err := s.repository.ListByCategory(ctx, req.OwnerID, category)
	if err != nil {
		s.logger.ErrorContext(ctx, "Failed to list materials by category", "owner_id", req.OwnerID, "error", err)
		return nil, err
	}

	var result []*VersionInfo
	for _, m := range materials {
		for _, v := range m.Versions {
			if v.SizeBytes < req.MinSize || v.SizeBytes > req.MaxSize {
				continue
			}
			result = append(result, &VersionInfo{
				MaterialID:    m.ID,
				Name:          m.Name,
				Category:      m.Category,
				VersionNumber: v.VersionNumber,
				ContentHash:   v.ContentHash,
				SizeBytes:     v.SizeBytes,
				CreatedAt:     v.CreatedAt,
			})
		}
	}
	return result, nil
}

// Content retrieval

func (s *service) GetActualMaterial(ctx context.Context, ownerID, name string) (*Download, error) {
	s.logger.InfoContext(ctx, "Actual version requested", "owner_id", ownerID, "name", name)

	material, err := s.repository.FindMaterial(ctx, ownerID, name)
	if err != nil {
		return nil, s.fail(ctx, "get_actual", ownerID, name, err)
	}
	latest := material.Latest()
	if latest == nil {
		// Repositories never expose a material without versions.
		return nil, fmt.Errorf("material %q has no versions", name)
	}
	return s.open(ctx, material.Name, latest.VersionNumber, latest.ContentHash)
}

func (s *service) GetSpecificMaterial(ctx context.Context, ownerID, name string, versionNumber int) (*Download, error) {
	s.logger.InfoContext(ctx, "Specific version requested", "owner_id", ownerID, "name", name, "version", versionNumber)

	hash, err := s.repository.GetVersionPath(ctx, ownerID, name, versionNumber)
	if err != nil {
		if errors.Is(err, ErrInvalidVersion) {
			err = fmt.Errorf("%w: %d", err, versionNumber)
		}
		return nil, s.fail(ctx, "get_specific", ownerID, name, err)
	}
	return s.open(ctx, name, versionNumber, hash)
}

// Mutations

func (s *service) AddNewMaterial(ctx context.Context, req AddMaterialRequest) (uuid.UUID, error) {
	s.logger.InfoContext(ctx, "New material requested",
		"owner_id", req.OwnerID, "name", req.Name, "category", req.Category, "size", len(req.Content))

	if err := s.validateUpload(req.Name, req.Content); err != nil {
		return uuid.Nil, s.fail(ctx, "add", req.OwnerID, req.Name, err)
	}

	_, err := s.repository.FindMaterial(ctx, req.OwnerID, req.Name)
	switch {
	case err == nil:
		return uuid.Nil, s.fail(ctx, "add", req.OwnerID, req.Name, ErrAlreadyExists)
	case !errors.Is(err, ErrNotFound):
		return uuid.Nil, s.fail(ctx, "add", req.OwnerID, req.Name, err)
	}

	category, err := ParseCategory(req.Category)
	if err != nil {
		return uuid.Nil, s.fail(ctx, "add", req.OwnerID, req.Name, err)
	}

	hash, err := s.contents.Put(ctx, req.Content)
	if err != nil {
		return uuid.Nil, s.fail(ctx, "add", req.OwnerID, req.Name, err)
	}

	id, err := s.repository.CreateMaterial(ctx, CreateMaterialParams{
		OwnerID:     req.OwnerID,
		Name:        req.Name,
		Category:    category,
		ContentHash: hash,
		SizeBytes:   int64(len(req.Content)),
	})
	if err != nil {
		return uuid.Nil, s.fail(ctx, "add", req.OwnerID, req.Name, err)
	}

	now := time.Now().UTC()
	material := &Material{
		ID:        id,
		OwnerID:   req.OwnerID,
		Name:      req.Name,
		Category:  category,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.eventSink.MaterialCreated(ctx, material); err != nil {
		s.logger.WarnContext(ctx, "Event sink failed", "event", "material_created", "error", err)
	}

	s.logger.InfoContext(ctx, "Material created", "owner_id", req.OwnerID, "name", req.Name, "id", id, "hash", hash)
	return id, nil
}

func (s *service) AddNewVersionOfMaterial(ctx context.Context, req AddVersionRequest) (*Version, error) {
	s.logger.InfoContext(ctx, "New version requested", "owner_id", req.OwnerID, "name", req.Name, "size", len(req.Content))

	if err := s.validateUpload(req.Name, req.Content); err != nil {
		return nil, s.fail(ctx, "add_version", req.OwnerID, req.Name, err)
	}

	if _, err := s.repository.FindMaterial(ctx, req.OwnerID, req.Name); err != nil {
		return nil, s.fail(ctx, "add_version", req.OwnerID, req.Name, err)
	}

	hash, err := s.contents.Put(ctx, req.Content)
	if err != nil {
		return nil, s.fail(ctx, "add_version", req.OwnerID, req.Name, err)
	}

	version, err := s.repository.AppendVersion(ctx, AppendVersionParams{
		OwnerID:     req.OwnerID,
		Name:        req.Name,
		ContentHash: hash,
		SizeBytes:   int64(len(req.Content)),
	})
	if err != nil {
		return nil, s.fail(ctx, "add_version", req.OwnerID, req.Name, err)
	}

	if err := s.eventSink.VersionAdded(ctx, req.OwnerID, req.Name, version); err != nil {
		s.logger.WarnContext(ctx, "Event sink failed", "event", "version_added", "error", err)
	}

	s.logger.InfoContext(ctx, "Version uploaded",
		"owner_id", req.OwnerID, "name", req.Name, "version", version.VersionNumber, "hash", hash)
	return version, nil
}

func (s *service) ChangeCategory(ctx context.Context, req ChangeCategoryRequest) (uuid.UUID, error) {
	s.logger.InfoContext(ctx, "Category change requested", "owner_id", req.OwnerID, "name", req.Name, "category", req.Category)

	if _, err := s.repository.FindMaterial(ctx, req.OwnerID, req.Name); err != nil {
		return uuid.Nil, s.fail(ctx, "change_category", req.OwnerID, req.Name, err)
	}

	category, err := ParseCategory(req.Category)
	if err != nil {
		return uuid.Nil, s.fail(ctx, "change_category", req.OwnerID, req.Name, err)
	}

	id, err := s.repository.SetCategory(ctx, req.OwnerID, req.Name, category)
	if err != nil {
		return uuid.Nil, s.fail(ctx, "change_category", req.OwnerID, req.Name, err)
	}

	if err := s.eventSink.CategoryChanged(ctx, id, category); err != nil {
		s.logger.WarnContext(ctx, "Event sink failed", "event", "category_changed", "error", err)
	}

	s.logger.InfoContext(ctx, "Category changed", "owner_id", req.OwnerID, "name", req.Name, "category", category)
	return id, nil
}

// Maintenance

func (s *service) VerifyMaterial(ctx context.Context, ownerID, name string) ([]int, error) {
	s.logger.InfoContext(ctx, "Material verification requested", "owner_id", ownerID, "name", name)

	versions, err := s.repository.ListVersions(ctx, ownerID, name)
	if err != nil {
		return nil, s.fail(ctx, "verify", ownerID, name, err)
	}

	var missing []int
	for _, v := range versions {
		ok, err := s.contents.Has(ctx, v.ContentHash)
		if err != nil {
			return nil, s.fail(ctx, "verify", ownerID, name, err)
		}
		if !ok {
			s.logger.WarnContext(ctx, "Version content missing",
				"owner_id", ownerID, "name", name, "version", v.VersionNumber, "hash", v.ContentHash)
			missing = append(missing, v.VersionNumber)
		}
	}
	return missing, nil
}

// Helper methods

// reservedNames collide with fixed segments of the materials HTTP routes
// ("/info/{name}" would shadow "/{name}/{version}").
var reservedNames = map[string]struct{}{
	"info": {},
}

func (s *service) validateUpload(name string, content []byte) error {
	if strings.TrimSpace(name) == "" {
		return fmt.Errorf("%w: name is empty", ErrInvalidName)
	}
	if strings.ContainsAny(name, "/\x00") {
		return fmt.Errorf("%w: %q contains a path separator", ErrInvalidName, name)
	}
	if _, reserved := reservedNames[name]; reserved {
		return fmt.Errorf("%w: %q is reserved", ErrInvalidName, name)
	}
	if s.maxUploadBytes > 0 && int64(len(content)) > s.maxUploadBytes {
		return fmt.Errorf("%w: %d bytes exceeds the limit of %d", ErrInvalidSize, len(content), s.maxUploadBytes)
	}
	return nil
}

func (s *service) open(ctx context.Context, name string, versionNumber int, hash string) (*Download, error) {
	body, err := s.contents.Get(ctx, hash)
	if err != nil {
		s.logger.ErrorContext(ctx, "Failed to open content", "name", name, "version", versionNumber, "hash", hash, "error", err)
		var storageErr *StorageError
		if errors.As(err, &storageErr) {
			return nil, err
		}
		return nil, &StorageError{Backend: "content", Key: hash, Op: "get", Err: err}
	}

	s.logger.InfoContext(ctx, "Version provided", "name", name, "version", versionNumber)
	return &Download{
		FileName:      name,
		VersionNumber: versionNumber,
		ContentHash:   hash,
		Body:          body,
	}, nil
}

// fail logs err and wraps expected outcomes in a MaterialError. Faults are
// returned unchanged so the caller can surface them as such.
func (s *service) fail(ctx context.Context, op, ownerID, name string, err error) error {
	kind := KindOf(err)
	if !kind.Expected() {
		s.logger.ErrorContext(ctx, "Material operation failed", "op", op, "owner_id", ownerID, "name", name, "error", err)
		return err
	}
	s.logger.WarnContext(ctx, "Material operation rejected",
		"op", op, "owner_id", ownerID, "name", name, "kind", kind.String(), "error", err)
	return &MaterialError{Op: op, OwnerID: ownerID, Name: name, Err: err}
}
