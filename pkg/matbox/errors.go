package matbox

import (
	"errors"
	"fmt"
)

// Error types
var (
	// ErrNotFound indicates a material, version or blob reference does not resolve
	ErrNotFound = errors.New("not found")

	// ErrAlreadyExists indicates a material with the same owner and name exists
	ErrAlreadyExists = errors.New("already exists")

	// ErrInvalidCategory indicates a category outside the closed set
	ErrInvalidCategory = errors.New("invalid category")

	// ErrInvalidSize indicates a negative size bound or an unacceptable upload size
	ErrInvalidSize = errors.New("invalid size")

	// ErrInvalidVersion indicates a version number below 1 or above the version count
	ErrInvalidVersion = errors.New("invalid version")

	// ErrInvalidName indicates an empty or malformed material name
	ErrInvalidName = errors.New("invalid material name")

	// ErrMaterialNotFound is returned by repositories for unknown (owner, name) pairs
	ErrMaterialNotFound = fmt.Errorf("material %w", ErrNotFound)

	// ErrBlobNotFound is returned by blob stores for unknown keys
	ErrBlobNotFound = fmt.Errorf("blob %w", ErrNotFound)
)

// MaterialError represents an expected business failure for a material operation.
type MaterialError struct {
	Op      string
	OwnerID string
	Name    string
	Err     error
}

func (e *MaterialError) Error() string {
	if e.Name == "" {
		return fmt.Sprintf("material operation %s failed: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("material operation %s failed for %q: %v", e.Op, e.Name, e.Err)
}

func (e *MaterialError) Unwrap() error {
	return e.Err
}

// StorageError represents an unexpected failure of a blob store or repository backend.
type StorageError struct {
	Backend string
	Key     string
	Op      string
	Err     error
}

func (e *StorageError) Error() string {
	if e.Key == "" {
		return fmt.Sprintf("storage operation %s failed on backend %s: %v", e.Op, e.Backend, e.Err)
	}
	return fmt.Sprintf("storage operation %s failed for key %s on backend %s: %v", e.Op, e.Key, e.Backend, e.Err)
}

func (e *StorageError) Unwrap() error {
	return e.Err
}

// ErrorKind classifies the outcome of a service operation.
type ErrorKind int

// Error kinds. KindNone is the success case.
const (
	KindNone ErrorKind = iota
	KindNotFound
	KindAlreadyExists
	KindInvalidCategory
	KindInvalidSize
	KindInvalidVersion
	KindInvalidName
	KindStorageFault
)

func (k ErrorKind) String() string {
	switch k {
	case KindNone:
		return "none"
	case KindNotFound:
		return "not_found"
	case KindAlreadyExists:
		return "already_exists"
	case KindInvalidCategory:
		return "invalid_category"
	case KindInvalidSize:
		return "invalid_size"
	case KindInvalidVersion:
		return "invalid_version"
	case KindInvalidName:
		return "invalid_name"
	default:
		return "storage_fault"
	}
}

// Expected reports whether the kind is a recoverable business outcome.
func (k ErrorKind) Expected() bool {
	return k != KindNone && k != KindStorageFault
}

// KindOf classifies err. Storage errors win over any sentinel they wrap: a
// blob that disappears underneath an existing version is a fault, not a
// missing reference. Unrecognized errors are storage faults.
func KindOf(err error) ErrorKind {
	if err == nil {
		return KindNone
	}
	var storageErr *StorageError
	if errors.As(err, &storageErr) {
		return KindStorageFault
	}
	switch {
	case errors.Is(err, ErrNotFound):
		return KindNotFound
	case errors.Is(err, ErrAlreadyExists):
		return KindAlreadyExists
	case errors.Is(err, ErrInvalidCategory):
		return KindInvalidCategory
	case errors.Is(err, ErrInvalidSize):
		return KindInvalidSize
	case errors.Is(err, ErrInvalidVersion):
		return KindInvalidVersion
	case errors.Is(err, ErrInvalidName):
		return KindInvalidName
	default:
		return KindStorageFault
	}
}
