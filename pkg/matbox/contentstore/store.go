// Package contentstore implements a content-addressed store on top of a
// matbox.BlobStore. Content is keyed by the hex MD5 digest of its bytes and
// written at most once per distinct digest.
package contentstore

import (
	"bytes"
	"context"
	"crypto/md5"
	"encoding/hex"
	"errors"
	"fmt"
	"io"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/tendant/matbox/pkg/matbox"
	"golang.org/x/sync/singleflight"
)

// DefaultKnownHashCacheSize bounds the set of hashes remembered as present.
const DefaultKnownHashCacheSize = 4096

// Observer receives telemetry for content store operations.
type Observer interface {
	BlobWritten(hash string, sizeBytes int64)
	BlobDeduplicated(hash string)
	BlobFailed(op string, err error)
}

// Store deduplicates content across all callers of one process. Concurrent
// puts of the same content are coalesced, and the backend's atomic
// UploadIfAbsent covers writers in other processes.
type Store struct {
	backend     matbox.BlobStore
	backendName string
	known       *lru.Cache[string, struct{}]
	cacheSize   int
	inflight    singleflight.Group
	observer    Observer
}

// Option configures a Store
type Option func(*Store)

// WithBackendName sets the name reported in storage errors
func WithBackendName(name string) Option {
	return func(s *Store) {
		s.backendName = name
	}
}

// WithKnownHashCacheSize sets how many present hashes are remembered.
// Zero or negative disables the cache.
func WithKnownHashCacheSize(size int) Option {
	return func(s *Store) {
		s.cacheSize = size
	}
}

// WithObserver sets the telemetry observer
func WithObserver(observer Observer) Option {
	return func(s *Store) {
		s.observer = observer
	}
}

// New creates a content store backed by backend
func New(backend matbox.BlobStore, opts ...Option) (*Store, error) {
	if backend == nil {
		return nil, errors.New("blob store is required")
	}
	s := &Store{
		backend:     backend,
		backendName: "blob",
		cacheSize:   DefaultKnownHashCacheSize,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.cacheSize > 0 {
		cache, err := lru.New[string, struct{}](s.cacheSize)
		if err != nil {
			return nil, fmt.Errorf("failed to create known hash cache: %w", err)
		}
		s.known = cache
	}
	return s, nil
}

// Hash returns the content address of data.
func Hash(data []byte) string {
	sum := md5.Sum(data)
	return hex.EncodeToString(sum[:])
}

// Put stores data under its hash unless already present and returns the hash.
func (s *Store) Put(ctx context.Context, data []byte) (string, error) {
	hash := Hash(data)

	if s.known != nil && s.known.Contains(hash) {
		s.deduplicated(hash)
		return hash, nil
	}

	// The upload runs detached from the caller that started it, so one
	// caller giving up does not fail the others waiting on the same hash.
	leader := false
	ch := s.inflight.DoChan(hash, func() (interface{}, error) {
		leader = true
		created, err := s.backend.UploadIfAbsent(context.WithoutCancel(ctx), hash, bytes.NewReader(data), int64(len(data)))
		if err != nil {
			if s.observer != nil {
				s.observer.BlobFailed("put", err)
			}
			return false, err
		}
		if s.known != nil {
			s.known.Add(hash, struct{}{})
		}
		if created && s.observer != nil {
			s.observer.BlobWritten(hash, int64(len(data)))
		}
		return created, nil
	})

	var res singleflight.Result
	select {
	case <-ctx.Done():
		return "", ctx.Err()
	case res = <-ch:
	}
	if res.Err != nil {
		return "", &matbox.StorageError{Backend: s.backendName, Key: hash, Op: "put", Err: res.Err}
	}
	if created := res.Val.(bool); !created || !leader {
		s.deduplicated(hash)
	}
	return hash, nil
}

// Get returns the content stored under hash. The caller must close it.
func (s *Store) Get(ctx context.Context, hash string) (io.ReadCloser, error) {
	rc, err := s.backend.Download(ctx, hash)
	if err != nil {
		if errors.Is(err, matbox.ErrNotFound) {
			return nil, fmt.Errorf("%w: %s", matbox.ErrBlobNotFound, hash)
		}
		if s.observer != nil {
			s.observer.BlobFailed("get", err)
		}
		return nil, &matbox.StorageError{Backend: s.backendName, Key: hash, Op: "get", Err: err}
	}
	return rc, nil
}

// Has reports whether content with the given hash is stored. It always asks
// the backend; only Put trusts the known hash cache.
func (s *Store) Has(ctx context.Context, hash string) (bool, error) {
	_, err := s.backend.GetObjectMeta(ctx, hash)
	if err != nil {
		if errors.Is(err, matbox.ErrNotFound) {
			return false, nil
		}
		return false, &matbox.StorageError{Backend: s.backendName, Key: hash, Op: "stat", Err: err}
	}
	if s.known != nil {
		s.known.Add(hash, struct{}{})
	}
	return true, nil
}

func (s *Store) deduplicated(hash string) {
	if s.observer != nil {
		s.observer.BlobDeduplicated(hash)
	}
}

var _ matbox.ContentStore = (*Store)(nil)
