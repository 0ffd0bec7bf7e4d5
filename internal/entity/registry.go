// ABOUTME: Capability registry mapping entity type tags to profile loaders
// ABOUTME: Lets the host resolve display projections without the core knowing entity internals

package entity

import (
	"context"
	"errors"
	"fmt"
	"sync"
)

// ErrUnknownEntityType is returned when no loader is registered for a type tag
var ErrUnknownEntityType = errors.New("unknown entity type")

// Profile is the display-friendly projection of an entity.
// Attributes carries any extra fields the loader chooses to expose.
type Profile struct {
	ID          string
	DisplayName string
	Attributes  map[string]any
}

// ProfileLoader resolves one entity id to its profile.
type ProfileLoader func(ctx context.Context, id string) (*Profile, error)

// Registry maps entity type tags to their profile loaders.
// Safe for concurrent use; registration typically happens at startup.
type Registry struct {
	mu      sync.RWMutex
	loaders map[string]ProfileLoader
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{loaders: make(map[string]ProfileLoader)}
}

// Register installs the loader for a type tag, replacing any previous one.
func (r *Registry) Register(typeTag string, loader ProfileLoader) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.loaders[typeTag] = loader
}

// Resolve loads the profile for a ref.
func (r *Registry) Resolve(ctx context.Context, ref Ref) (*Profile, error) {
	r.mu.RLock()
	loader, ok := r.loaders[ref.Type]
	r.mu.RUnlock()

	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownEntityType, ref.Type)
	}

	profile, err := loader(ctx, ref.ID)
	if err != nil {
		return nil, fmt.Errorf("resolving %s: %w", ref, err)
	}
	return profile, nil
}

// Known reports whether a loader is registered for the type tag.
func (r *Registry) Known(typeTag string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.loaders[typeTag]
	return ok
}
