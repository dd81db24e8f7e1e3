// Package provider defines the pluggable data domains that make up a workspace snapshot.
package provider

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
)

// Querier is the subset of *sql.DB and *sql.Tx that providers need, so the same provider
// can read outside a transaction and write inside the restore transaction.
type Querier interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

// Descriptor is what the admin UI shows about a provider.
type Descriptor struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	Critical    bool   `json:"critical"`
}

// Record is one serialized row of a domain.
type Record map[string]any

// Slice is one domain's share of a snapshot document.
type Slice struct {
	Rows []Record `json:"rows"`
}

// Len returns the number of entities in the slice.
func (s Slice) Len() int {
	return len(s.Rows)
}

// Provider owns the capture and restore logic of one data domain.
type Provider interface {
	Describe() Descriptor
	// Capture returns the workspace's current data for this domain.
	Capture(ctx context.Context, q Querier, workspaceID string) (Slice, error)
	// Count returns how many live entities the workspace has in this domain.
	Count(ctx context.Context, q Querier, workspaceID string) (int, error)
	// Restore replaces the workspace's live data for this domain with slice and
	// returns the number of entities written.
	Restore(ctx context.Context, q Querier, workspaceID string, slice Slice) (int, error)
}

var (
	ErrDuplicateProvider = errors.New("provider already registered")
	ErrInvalidProvider   = errors.New("invalid provider")
)

// Registry holds providers in registration order. It is filled at startup and only
// read while serving requests.
type Registry struct {
	mu        sync.RWMutex
	providers []Provider
	byName    map[string]Provider
}

// NewRegistry creates an empty Registry.
func NewRegistry() *Registry {
	return &Registry{byName: make(map[string]Provider)}
}

// Register appends p to the registry.
func (r *Registry) Register(p Provider) error {
	if p == nil {
		return fmt.Errorf("%w: nil provider", ErrInvalidProvider)
	}
	name := p.Describe().Name
	if name == "" {
		return fmt.Errorf("%w: empty name", ErrInvalidProvider)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.byName[name]; exists {
		return fmt.Errorf("%w: %s", ErrDuplicateProvider, name)
	}
	r.providers = append(r.providers, p)
	r.byName[name] = p
	return nil
}

// MustRegister is Register for startup code; it panics on error.
func (r *Registry) MustRegister(p Provider) {
	if err := r.Register(p); err != nil {
		panic(err)
	}
}

// Providers returns the registered providers in registration order.
func (r *Registry) Providers() []Provider {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Provider, len(r.providers))
	copy(out, r.providers)
	return out
}

// Describe returns the descriptors of all providers in registration order.
func (r *Registry) Describe() []Descriptor {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Descriptor, 0, len(r.providers))
	for _, p := range r.providers {
		out = append(out, p.Describe())
	}
	return out
}

// Get looks up a provider by name.
func (r *Registry) Get(name string) (Provider, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.byName[name]
	return p, ok
}
