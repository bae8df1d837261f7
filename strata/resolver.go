package strata

import (
	"context"
	"fmt"
	"io"
	"sync"
)

// VirtualStoreFactory opens a Store serving one root of a location scheme,
// for example one S3 bucket.
type VirtualStoreFactory func(ctx context.Context, root string) (Store, error)

// VirtualResolver maps virtual chunk locations to the stores that serve
// them. Stores are opened on first use and cached per scheme and root.
//
// A VirtualResolver is safe for concurrent use and may be shared by many
// sessions.
type VirtualResolver struct {
	mu        sync.Mutex
	factories map[string]VirtualStoreFactory
	stores    map[resolverKey]Store
}

type resolverKey struct {
	scheme string
	root   string
}

// NewVirtualResolver returns a resolver serving "file" locations from the
// local filesystem.
func NewVirtualResolver() *VirtualResolver {
	r := &VirtualResolver{
		factories: make(map[string]VirtualStoreFactory),
		stores:    make(map[resolverKey]Store),
	}
	r.Register(SchemeFile, func(_ context.Context, _ string) (Store, error) {
		return NewFS("/")
	})
	return r
}

// Register installs the factory for scheme, replacing any previous one.
// Cached stores for the scheme are dropped.
func (r *VirtualResolver) Register(scheme string, f VirtualStoreFactory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.factories[scheme] = f
	for k := range r.stores {
		if k.scheme == scheme {
			delete(r.stores, k)
		}
	}
}

// StoreFor returns the store serving loc. The factory runs without the
// resolver lock held; when two callers open the same root concurrently the
// first store cached wins.
func (r *VirtualResolver) StoreFor(ctx context.Context, loc VirtualChunkLocation) (Store, error) {
	key := resolverKey{scheme: loc.Scheme, root: loc.Root}

	r.mu.Lock()
	if s, ok := r.stores[key]; ok {
		r.mu.Unlock()
		return s, nil
	}
	f, ok := r.factories[loc.Scheme]
	r.mu.Unlock()
	if !ok {
		return nil, &LocationError{Location: loc.String(), Reason: fmt.Sprintf("no store registered for scheme %q", loc.Scheme)}
	}

	s, err := f(ctx, loc.Root)
	if err != nil {
		return nil, fmt.Errorf("strata: open store for %s: %w", loc, backendError("open", loc.String(), err))
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if cached, ok := r.stores[key]; ok {
		return cached, nil
	}
	r.stores[key] = s
	return s, nil
}

// Read returns the [offset, offset+length) window of the object at loc.
// An object too short to cover the window is a backend error.
func (r *VirtualResolver) Read(ctx context.Context, loc VirtualChunkLocation, offset, length uint64) ([]byte, error) {
	s, err := r.StoreFor(ctx, loc)
	if err != nil {
		return nil, err
	}
	key := loc.objectKey()
	data, err := s.ReadRange(ctx, key, int64(offset), int64(length))
	if err != nil {
		return nil, fmt.Errorf("strata: read virtual chunk %s: %w", loc, backendError("read_range", loc.String(), err))
	}
	if uint64(len(data)) != length {
		return nil, fmt.Errorf("strata: read virtual chunk %s: got %d of %d bytes: %w",
			loc, len(data), length, &BackendError{Op: "read_range", Key: loc.String(), Err: io.ErrUnexpectedEOF})
	}
	return data, nil
}
