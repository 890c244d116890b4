package model

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/go-logr/logr"
	"k8s.io/apimachinery/pkg/runtime/schema"
	"k8s.io/client-go/discovery"
	"k8s.io/client-go/discovery/cached/memory"
	"k8s.io/client-go/rest"
	"k8s.io/klog/v2"

	"github.com/kwatch-io/kwatch/internal/broadcast"
)

// DiscoveryRegistry is a Registry backed by Kubernetes API discovery. A bulk
// load populates models for every served group/version; afterwards AllLoaded
// reports true and single kinds can be re-discovered with Fetch (e.g. when a
// CRD was installed after the bulk load). A background loop invalidates the
// cached discovery data periodically so new API groups show up without a
// restart.
type DiscoveryRegistry struct {
	disco   discovery.CachedDiscoveryInterface
	log     logr.Logger
	refresh time.Duration

	mu        sync.RWMutex
	models    map[schema.GroupVersionKind]*TypeModel
	allLoaded bool
	inFlight  bool
	batch     bool

	bcast broadcast.Broadcaster
}

// DiscoveryOption configures a DiscoveryRegistry.
type DiscoveryOption func(*DiscoveryRegistry)

// WithLogger sets the registry logger (default: klog background logger).
func WithLogger(log logr.Logger) DiscoveryOption {
	return func(r *DiscoveryRegistry) { r.log = log }
}

// WithRefreshInterval sets the discovery invalidation interval (default 30s).
func WithRefreshInterval(d time.Duration) DiscoveryOption {
	return func(r *DiscoveryRegistry) { r.refresh = d }
}

// NewDiscoveryRegistry builds a registry from a rest config. Call Start to
// run the bulk load and the refresh loop.
func NewDiscoveryRegistry(cfg *rest.Config, opts ...DiscoveryOption) (*DiscoveryRegistry, error) {
	dc, err := discovery.NewDiscoveryClientForConfig(cfg)
	if err != nil {
		return nil, fmt.Errorf("discovery client: %w", err)
	}
	r := &DiscoveryRegistry{
		disco:   memory.NewMemCacheClient(dc),
		log:     klog.Background().WithName("model-registry"),
		refresh: 30 * time.Second,
		models:  make(map[schema.GroupVersionKind]*TypeModel),
	}
	for _, fn := range opts {
		fn(r)
	}
	return r, nil
}

// Start performs the initial bulk load and then keeps the registry fresh
// until ctx is cancelled. The initial load error is returned; refresh
// failures are only logged, the previous snapshot stays served.
func (r *DiscoveryRegistry) Start(ctx context.Context) error {
	if err := r.bulkLoad(); err != nil {
		return err
	}
	go r.refreshLoop(ctx)
	return nil
}

func (r *DiscoveryRegistry) refreshLoop(ctx context.Context) {
	t := time.NewTicker(r.refresh)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			r.disco.Invalidate()
			if err := r.bulkLoad(); err != nil {
				r.log.V(2).Info("discovery refresh failed", "error", err)
			}
		}
	}
}

// bulkLoad discovers every preferred resource and replaces the model set.
func (r *DiscoveryRegistry) bulkLoad() error {
	r.setBatch(true)
	defer r.setBatch(false)

	lists, err := r.disco.ServerPreferredResources()
	if err != nil && len(lists) == 0 {
		return fmt.Errorf("server preferred resources: %w", err)
	}
	// Partial discovery errors (single broken aggregated API) still yield a
	// usable list; keep what we got.
	models := make(map[schema.GroupVersionKind]*TypeModel)
	for _, list := range lists {
		gv, err := schema.ParseGroupVersion(list.GroupVersion)
		if err != nil {
			continue
		}
		for i := range list.APIResources {
			res := &list.APIResources[i]
			if isSubresource(res.Name) || isNonResourceKind(res.Kind) {
				continue
			}
			gvk := gv.WithKind(res.Kind)
			models[gvk] = &TypeModel{
				GroupVersionKind: gvk,
				Resource:         res.Name,
				Namespaced:       res.Namespaced,
				Verbs:            append([]string(nil), res.Verbs...),
				ShortNames:       append([]string(nil), res.ShortNames...),
			}
		}
	}

	r.mu.Lock()
	r.models = models
	r.allLoaded = true
	r.mu.Unlock()
	r.bcast.Notify()
	r.log.V(4).Info("bulk load complete", "models", len(models))
	return nil
}

func (r *DiscoveryRegistry) setBatch(v bool) {
	r.mu.Lock()
	r.batch = v
	r.mu.Unlock()
	r.bcast.Notify()
}

func (r *DiscoveryRegistry) Lookup(gvk schema.GroupVersionKind) (*TypeModel, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	m, ok := r.models[gvk]
	return m, ok
}

func (r *DiscoveryRegistry) LookupKind(kind string) (*TypeModel, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return lookupKind(r.models, kind)
}

func (r *DiscoveryRegistry) AllLoaded() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.allLoaded
}

func (r *DiscoveryRegistry) InFlight() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.inFlight
}

func (r *DiscoveryRegistry) BatchInFlight() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.batch
}

// Fetch re-discovers the group/version serving gvk and merges its resources
// into the model set. A failure leaves the model absent and is reported to
// the caller for logging only; the reconciler observes it as continued
// absence.
func (r *DiscoveryRegistry) Fetch(ctx context.Context, gvk schema.GroupVersionKind) error {
	r.mu.Lock()
	if r.inFlight {
		r.mu.Unlock()
		return nil
	}
	r.inFlight = true
	r.mu.Unlock()
	r.bcast.Notify()

	defer func() {
		r.mu.Lock()
		r.inFlight = false
		r.mu.Unlock()
		r.bcast.Notify()
	}()

	r.disco.Invalidate()
	gv := gvk.GroupVersion()
	if gv.Version == "" {
		// Kind-only descriptor: a targeted fetch has no group/version to ask
		// for, so fall back to a full reload.
		return r.bulkLoad()
	}
	list, err := r.disco.ServerResourcesForGroupVersion(gv.String())
	if err != nil {
		return fmt.Errorf("resources for %s: %w", gv, err)
	}

	r.mu.Lock()
	for i := range list.APIResources {
		res := &list.APIResources[i]
		if isSubresource(res.Name) || isNonResourceKind(res.Kind) {
			continue
		}
		k := gv.WithKind(res.Kind)
		r.models[k] = &TypeModel{
			GroupVersionKind: k,
			Resource:         res.Name,
			Namespaced:       res.Namespaced,
			Verbs:            append([]string(nil), res.Verbs...),
			ShortNames:       append([]string(nil), res.ShortNames...),
		}
	}
	r.mu.Unlock()
	r.bcast.Notify()
	return nil
}

func (r *DiscoveryRegistry) Subscribe() (<-chan struct{}, func()) {
	return r.bcast.Subscribe()
}

// isSubresource checks if a resource name indicates a subresource
// (e.g. "pods/log", "pods/status").
func isSubresource(name string) bool {
	return strings.Contains(name, "/")
}

// isNonResourceKind filters kinds that appear in discovery but are not
// watchable objects.
func isNonResourceKind(kind string) bool {
	switch kind {
	case "Status", "List", "WatchEvent", "APIGroup", "APIVersion",
		"APIResourceList", "CreateOptions", "UpdateOptions", "DeleteOptions",
		"PatchOptions", "GetOptions", "Table", "PartialObjectMetadata",
		"PartialObjectMetadataList":
		return true
	}
	return false
}
