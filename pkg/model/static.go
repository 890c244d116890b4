package model

import (
	"context"
	"sync"

	"k8s.io/apimachinery/pkg/runtime/schema"

	"github.com/kwatch-io/kwatch/internal/broadcast"
)

// StaticRegistry is a map-backed Registry. It serves fixed model sets in
// tests and embeddings that do not talk to a live discovery endpoint.
type StaticRegistry struct {
	mu        sync.RWMutex
	models    map[schema.GroupVersionKind]*TypeModel
	allLoaded bool
	inFlight  bool
	batch     bool
	fetches   []schema.GroupVersionKind
	fetchFn   func(ctx context.Context, gvk schema.GroupVersionKind) (*TypeModel, error)
	bcast     broadcast.Broadcaster
}

// NewStaticRegistry returns a registry pre-populated with the given models.
func NewStaticRegistry(models ...*TypeModel) *StaticRegistry {
	r := &StaticRegistry{models: make(map[schema.GroupVersionKind]*TypeModel)}
	for _, m := range models {
		r.models[m.GroupVersionKind] = m
	}
	return r
}

func (r *StaticRegistry) Lookup(gvk schema.GroupVersionKind) (*TypeModel, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	m, ok := r.models[gvk]
	return m, ok
}

func (r *StaticRegistry) LookupKind(kind string) (*TypeModel, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return lookupKind(r.models, kind)
}

func (r *StaticRegistry) AllLoaded() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.allLoaded
}

func (r *StaticRegistry) InFlight() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.inFlight
}

func (r *StaticRegistry) BatchInFlight() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.batch
}

// Fetch records the attempt and, when a fetch function is installed via
// SetFetchFunc, applies its result to the registry.
func (r *StaticRegistry) Fetch(ctx context.Context, gvk schema.GroupVersionKind) error {
	r.mu.Lock()
	r.fetches = append(r.fetches, gvk)
	fn := r.fetchFn
	r.mu.Unlock()
	if fn == nil {
		return nil
	}
	m, err := fn(ctx, gvk)
	if err != nil || m == nil {
		// Recorded as continued absence.
		return err
	}
	r.SetModel(m)
	return nil
}

func (r *StaticRegistry) Subscribe() (<-chan struct{}, func()) {
	return r.bcast.Subscribe()
}

// SetModel installs or replaces a model and notifies subscribers.
func (r *StaticRegistry) SetModel(m *TypeModel) {
	r.mu.Lock()
	r.models[m.GroupVersionKind] = m
	r.mu.Unlock()
	r.bcast.Notify()
}

// SetAllLoaded flips the bulk-load signal and notifies subscribers.
func (r *StaticRegistry) SetAllLoaded(v bool) {
	r.mu.Lock()
	r.allLoaded = v
	r.mu.Unlock()
	r.bcast.Notify()
}

// SetInFlight sets the single-fetch in-flight flag.
func (r *StaticRegistry) SetInFlight(v bool) {
	r.mu.Lock()
	r.inFlight = v
	r.mu.Unlock()
	r.bcast.Notify()
}

// SetBatchInFlight sets the bulk-load in-flight flag.
func (r *StaticRegistry) SetBatchInFlight(v bool) {
	r.mu.Lock()
	r.batch = v
	r.mu.Unlock()
	r.bcast.Notify()
}

// SetFetchFunc installs the function Fetch delegates to.
func (r *StaticRegistry) SetFetchFunc(fn func(ctx context.Context, gvk schema.GroupVersionKind) (*TypeModel, error)) {
	r.mu.Lock()
	r.fetchFn = fn
	r.mu.Unlock()
}

// Fetches returns the kinds Fetch has been called with, in order.
func (r *StaticRegistry) Fetches() []schema.GroupVersionKind {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]schema.GroupVersionKind, len(r.fetches))
	copy(out, r.fetches)
	return out
}

// lookupKind scans models for a kind name, preferring the core group and
// otherwise returning the lexically smallest group for determinism.
func lookupKind(models map[schema.GroupVersionKind]*TypeModel, kind string) (*TypeModel, bool) {
	var best *TypeModel
	for gvk, m := range models {
		if gvk.Kind != kind {
			continue
		}
		if gvk.Group == "" {
			return m, true
		}
		if best == nil || gvk.Group < best.GroupVersionKind.Group {
			best = m
		}
	}
	return best, best != nil
}
