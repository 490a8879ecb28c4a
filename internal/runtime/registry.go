// Package runtime provides per-key coordinator placement. The invariant is
// one live coordinator per key: all callers reach the same instance, and each
// coordinator serializes its own operations with an internal mutex, which
// gives every entity a single writer.
package runtime

import "sync"

// TenantKey addresses a tenant coordinator.
func TenantKey(tenantID string) string { return tenantID }

// RoomKey addresses a room coordinator.
func RoomKey(tenantID, roomID string) string { return tenantID + "|" + roomID }

// LedgerKey addresses a ledger shard coordinator.
func LedgerKey(tenantID, shard string) string { return tenantID + "|ledger|" + shard }

// WorkspaceKey addresses a workspace coordinator.
func WorkspaceKey(tenantID, workspaceID string) string { return tenantID + "|workspace|" + workspaceID }

// Registry hands out exactly one coordinator per key, constructing lazily.
type Registry[T any] struct {
	mu        sync.Mutex
	items     map[string]T
	construct func(key string) (T, error)
}

// NewRegistry creates a registry with the given constructor. The constructor
// runs under the registry lock, so construction for a key happens once.
func NewRegistry[T any](construct func(key string) (T, error)) *Registry[T] {
	return &Registry[T]{
		items:     make(map[string]T),
		construct: construct,
	}
}

// Get returns the coordinator for key, constructing it on first touch.
func (r *Registry[T]) Get(key string) (T, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if item, ok := r.items[key]; ok {
		return item, nil
	}
	item, err := r.construct(key)
	if err != nil {
		var zero T
		return zero, err
	}
	r.items[key] = item
	return item, nil
}

// Peek returns the coordinator for key without constructing, plus whether it
// exists.
func (r *Registry[T]) Peek(key string) (T, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	item, ok := r.items[key]
	return item, ok
}
