package matbox

import (
	"context"

	"github.com/google/uuid"
)

// Service defines the public operations of the materials repository.
//
// Expected failures are returned as errors that KindOf classifies as
// NotFound, AlreadyExists, InvalidCategory, InvalidSize, InvalidVersion or
// InvalidName. Anything else is a storage fault.
type Service interface {
	// Read operations
	GetAllMaterials(ctx context.Context, ownerID string) ([]*Material, error)
	GetInfoAboutMaterial(ctx context.Context, ownerID, name string) ([]*Version, error)
	GetInfoWithFilters(ctx context.Context, req FilterRequest) ([]*VersionInfo, error)

	// Content retrieval
	GetActualMaterial(ctx context.Context, ownerID, name string) (*Download, error)
	GetSpecificMaterial(ctx context.Context, ownerID, name string, versionNumber int) (*Download, error)

	// Mutations
	AddNewMaterial(ctx context.Context, req AddMaterialRequest) (uuid.UUID, error)
	AddNewVersionOfMaterial(ctx context.Context, req AddVersionRequest) (*Version, error)
	ChangeCategory(ctx context.Context, req ChangeCategoryRequest) (uuid.UUID, error)

	// VerifyMaterial returns the version numbers whose content is missing
	// from the content store, in ascending order.
	VerifyMaterial(ctx context.Context, ownerID, name string) ([]int, error)
}
