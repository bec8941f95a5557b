package matbox

import (
	"context"
	"io"

	"github.com/google/uuid"
)

// BlobStore defines the interface for raw byte storage backends
type BlobStore interface {
	// UploadIfAbsent stores the content under key unless the key is already
	// present. It reports whether this call performed the write. The
	// check-and-write is atomic per key.
	UploadIfAbsent(ctx context.Context, key string, reader io.Reader, size int64) (bool, error)

	// Download returns the content stored under key or ErrBlobNotFound
	Download(ctx context.Context, key string) (io.ReadCloser, error)

	// GetObjectMeta retrieves metadata for a key or ErrBlobNotFound
	GetObjectMeta(ctx context.Context, key string) (*ObjectMeta, error)
}

// ContentStore stores content once per distinct hash.
type ContentStore interface {
	// Put persists data if its hash is unknown and returns the hash either way
	Put(ctx context.Context, data []byte) (string, error)

	// Get returns a stream of the content stored under hash or ErrBlobNotFound
	Get(ctx context.Context, hash string) (io.ReadCloser, error)

	// Has reports whether content with the given hash is stored
	Has(ctx context.Context, hash string) (bool, error)
}

// Repository defines the interface for material and version persistence
type Repository interface {
	// ListMaterials returns all materials of an owner with their versions
	ListMaterials(ctx context.Context, ownerID string) ([]*Material, error)

	// FindMaterial returns the material with its versions or ErrMaterialNotFound
	FindMaterial(ctx context.Context, ownerID, name string) (*Material, error)

	// CountVersions returns the highest version number, 0 for unknown materials
	CountVersions(ctx context.Context, materialID uuid.UUID) (int, error)

	// ListVersions returns versions ordered by number or ErrMaterialNotFound
	ListVersions(ctx context.Context, ownerID, name string) ([]*Version, error)

	// ListByCategory returns the owner's materials of one category with their versions
	ListByCategory(ctx context.Context, ownerID string, category Category) ([]*Material, error)

	// CreateMaterial atomically creates a material and its version 1.
	// Fails with ErrAlreadyExists when (owner, name) is taken.
	CreateMaterial(ctx context.Context, params CreateMaterialParams) (uuid.UUID, error)

	// AppendVersion atomically appends version N+1.
	// Fails with ErrMaterialNotFound when the material does not exist.
	AppendVersion(ctx context.Context, params AppendVersionParams) (*Version, error)

	// GetVersionPath resolves a version to its content hash.
	// Fails with ErrMaterialNotFound, then ErrInvalidVersion when out of range.
	GetVersionPath(ctx context.Context, ownerID, name string, versionNumber int) (string, error)

	// SetCategory changes the category of one material and returns its id
	SetCategory(ctx context.Context, ownerID, name string, category Category) (uuid.UUID, error)
}

// EventSink defines the interface for event handling
type EventSink interface {
	// MaterialCreated is fired after a material and its first version are stored
	MaterialCreated(ctx context.Context, material *Material) error

	// VersionAdded is fired after a new version is appended
	VersionAdded(ctx context.Context, ownerID, name string, version *Version) error

	// CategoryChanged is fired after a material is recategorized
	CategoryChanged(ctx context.Context, materialID uuid.UUID, category Category) error
}
