// Package model resolves resource kinds to their API type models: the
// discovery metadata (plural name, scope, verbs) needed to construct watch
// and fetch requests for a kind.
package model

import (
	"context"
	"errors"
	"fmt"

	"k8s.io/apimachinery/pkg/runtime/schema"

	"github.com/kwatch-io/kwatch/pkg/descriptor"
)

// TypeModel describes the API shape of one resource kind.
type TypeModel struct {
	GroupVersionKind schema.GroupVersionKind
	// Resource is the plural resource name (e.g. "pods").
	Resource   string
	Namespaced bool
	Verbs      []string
	ShortNames []string
}

// GVR returns the group/version/resource triple for API path construction.
func (m *TypeModel) GVR() schema.GroupVersionResource {
	return schema.GroupVersionResource{
		Group:    m.GroupVersionKind.Group,
		Version:  m.GroupVersionKind.Version,
		Resource: m.Resource,
	}
}

// NotFoundError reports that the registry finished loading and still has no
// model for the requested kind. It is terminal for the current resource
// epoch; the binding layer does not retry it.
type NotFoundError struct {
	GVK schema.GroupVersionKind
}

func (e *NotFoundError) Error() string {
	if e.GVK.Group == "" && e.GVK.Version == "" {
		return fmt.Sprintf("no model found for kind %q", e.GVK.Kind)
	}
	return fmt.Sprintf("no model found for %s", e.GVK.String())
}

// IsNotFound reports whether err is a model NotFoundError.
func IsNotFound(err error) bool {
	var nf *NotFoundError
	return errors.As(err, &nf)
}

// Registry is the process-wide model catalog. Implementations must be safe
// for concurrent use. Lookups read the current snapshot; Subscribe delivers
// coalesced change signals so callers can re-read after updates.
type Registry interface {
	// Lookup returns the model for an exact group/version/kind.
	Lookup(gvk schema.GroupVersionKind) (*TypeModel, bool)
	// LookupKind returns a model matching kind alone, preferring core/v1
	// entries when several groups define the kind.
	LookupKind(kind string) (*TypeModel, bool)
	// AllLoaded reports whether the bulk load has completed, i.e. whether a
	// missing model means "does not exist" rather than "not loaded yet".
	AllLoaded() bool
	// InFlight reports whether a single-model fetch is currently running.
	InFlight() bool
	// BatchInFlight reports whether a bulk load is currently running.
	BatchInFlight() bool
	// Fetch imperatively (re-)discovers the model for one kind. Failures are
	// recorded as continued absence, not surfaced to the reconciler.
	Fetch(ctx context.Context, gvk schema.GroupVersionKind) error
	// Subscribe registers for change notifications.
	Subscribe() (<-chan struct{}, func())
}

// Resolve maps a descriptor to its type model. A caller-supplied static
// model short-circuits the registry and forces the all-loaded signal true,
// since a static model is self-sufficient. Absence is reported as a nil
// model, never as an error.
func Resolve(d *descriptor.Descriptor, static *TypeModel, reg Registry) (*TypeModel, bool) {
	if static != nil {
		return static, true
	}
	if reg == nil {
		return nil, false
	}
	allLoaded := reg.AllLoaded()
	if d.IsNothing() {
		return nil, allLoaded
	}
	if d.GroupVersionKind != nil {
		m, ok := reg.Lookup(*d.GroupVersionKind)
		if !ok {
			return nil, allLoaded
		}
		return m, allLoaded
	}
	m, ok := reg.LookupKind(d.Kind)
	if !ok {
		return nil, allLoaded
	}
	return m, allLoaded
}
