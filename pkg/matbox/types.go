package matbox

import (
	"io"
	"time"

	"github.com/google/uuid"
)

// Material represents one logical document owned by a user.
//
// Versions are ordered by VersionNumber ascending; the last entry is the
// actual version.
type Material struct {
	ID        uuid.UUID  `json:"id"`
	OwnerID   string     `json:"owner_id"`
	Name      string     `json:"name"`
	Category  Category   `json:"category"`
	CreatedAt time.Time  `json:"created_at"`
	UpdatedAt time.Time  `json:"updated_at"`
	Versions  []*Version `json:"versions,omitempty"`
}

// Latest returns the actual version, or nil when no versions are loaded.
func (m *Material) Latest() *Version {
	if len(m.Versions) == 0 {
		return nil
	}
	return m.Versions[len(m.Versions)-1]
}

// VersionCount returns the number of loaded versions.
func (m *Material) VersionCount() int {
	return len(m.Versions)
}

// Version is an immutable numbered snapshot of a material's content.
type Version struct {
	ID            uuid.UUID `json:"id"`
	MaterialID    uuid.UUID `json:"material_id"`
	VersionNumber int       `json:"version_number"`
	ContentHash   string    `json:"content_hash"`
	SizeBytes     int64     `json:"size_bytes"`
	CreatedAt     time.Time `json:"created_at"`
}

// VersionInfo is a flattened view of a version together with its material.
type VersionInfo struct {
	MaterialID    uuid.UUID `json:"material_id"`
	Name          string    `json:"name"`
	Category      Category  `json:"category"`
	VersionNumber int       `json:"version_number"`
	ContentHash   string    `json:"content_hash"`
	SizeBytes     int64     `json:"size_bytes"`
	CreatedAt     time.Time `json:"created_at"`
}

// Download is a readable version of a material. The caller must close Body.
type Download struct {
	FileName      string
	VersionNumber int
	ContentHash   string
	Body          io.ReadCloser
}

// ObjectMeta contains metadata about a blob in storage
type ObjectMeta struct {
	Key       string
	Size      int64
	UpdatedAt time.Time
	ETag      string
}

// CreateMaterialParams contains the fields persisted by Repository.CreateMaterial
type CreateMaterialParams struct {
	OwnerID     string
	Name        string
	Category    Category
	ContentHash string
	SizeBytes   int64
}

// AppendVersionParams contains the fields persisted by Repository.AppendVersion
type AppendVersionParams struct {
	OwnerID     string
	Name        string
	ContentHash string
	SizeBytes   int64
}
