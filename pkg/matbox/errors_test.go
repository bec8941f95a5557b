package matbox_test

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/tendant/matbox/pkg/matbox"
)

func TestKindOf(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want matbox.ErrorKind
	}{
		{"nil", nil, matbox.KindNone},
		{"material not found", matbox.ErrMaterialNotFound, matbox.KindNotFound},
		{"wrapped not found", &matbox.MaterialError{Op: "get", Name: "a", Err: matbox.ErrMaterialNotFound}, matbox.KindNotFound},
		{"already exists", fmt.Errorf("%w: %q", matbox.ErrAlreadyExists, "a"), matbox.KindAlreadyExists},
		{"invalid category", matbox.ErrInvalidCategory, matbox.KindInvalidCategory},
		{"invalid size", matbox.ErrInvalidSize, matbox.KindInvalidSize},
		{"invalid version", matbox.ErrInvalidVersion, matbox.KindInvalidVersion},
		{"invalid name", matbox.ErrInvalidName, matbox.KindInvalidName},
		{"storage wraps not found", &matbox.StorageError{Backend: "fs", Key: "abc", Op: "get", Err: matbox.ErrBlobNotFound}, matbox.KindStorageFault},
		{"unknown", errors.New("connection refused"), matbox.KindStorageFault},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, matbox.KindOf(tt.err))
		})
	}
}

func TestErrorKind_Expected(t *testing.T) {
	assert.False(t, matbox.KindNone.Expected())
	assert.False(t, matbox.KindStorageFault.Expected())
	assert.True(t, matbox.KindNotFound.Expected())
	assert.True(t, matbox.KindInvalidVersion.Expected())
	assert.Equal(t, "storage_fault", matbox.KindStorageFault.String())
	assert.Equal(t, "not_found", matbox.KindNotFound.String())
}

func TestErrorMessages(t *testing.T) {
	err := &matbox.MaterialError{Op: "add", OwnerID: "alice", Name: "doc.txt", Err: matbox.ErrAlreadyExists}
	assert.Equal(t, `material operation add failed for "doc.txt": already exists`, err.Error())
	assert.ErrorIs(t, err, matbox.ErrAlreadyExists)

	storageErr := &matbox.StorageError{Backend: "s3", Key: "abc", Op: "put", Err: errors.New("timeout")}
	assert.Equal(t, "storage operation put failed for key abc on backend s3: timeout", storageErr.Error())

	assert.ErrorIs(t, matbox.ErrBlobNotFound, matbox.ErrNotFound)
	assert.ErrorIs(t, matbox.ErrMaterialNotFound, matbox.ErrNotFound)
}
