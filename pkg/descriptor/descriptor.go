package descriptor

import (
	"k8s.io/apimachinery/pkg/runtime/schema"
)

// Descriptor specifies what cluster object(s) a consumer wants to observe.
// It is a plain value: two descriptors with equal fields describe the same
// resource regardless of when or where they were allocated.
type Descriptor struct {
	// Kind is the resource kind (e.g. "Pod"). Required unless
	// GroupVersionKind is set.
	Kind string

	// GroupVersionKind pins the exact API group/version. When nil the kind
	// alone is used to resolve a type model.
	GroupVersionKind *schema.GroupVersionKind

	// IsList selects between a collection and a single object.
	IsList bool

	// Namespace scopes the query; empty means cluster-scoped or all
	// namespaces, depending on the resource.
	Namespace string

	// Name selects a single object. Ignored for list queries.
	Name string

	// LabelSelector and FieldSelector are passed through to the transport
	// in Kubernetes selector string syntax.
	LabelSelector string
	FieldSelector string

	// Limit caps list results; zero means no limit.
	Limit int64
}

// nothing is the shared sentinel for "no resource requested". Callers that
// pass a nil descriptor are normalized onto this value so that downstream
// identity checks stay stable.
var nothing = &Descriptor{}

// Nothing returns the sentinel descriptor representing an absent resource.
func Nothing() *Descriptor { return nothing }

// IsNothing reports whether d requests no resource at all.
func (d *Descriptor) IsNothing() bool {
	return d == nil || (d.Kind == "" && d.GroupVersionKind == nil)
}

// GVK returns the pinned group/version/kind, or a kind-only value when the
// descriptor does not pin a group/version.
func (d *Descriptor) GVK() schema.GroupVersionKind {
	if d == nil {
		return schema.GroupVersionKind{}
	}
	if d.GroupVersionKind != nil {
		return *d.GroupVersionKind
	}
	return schema.GroupVersionKind{Kind: d.Kind}
}

// DeepCopy returns an independent copy of d.
func (d *Descriptor) DeepCopy() *Descriptor {
	if d == nil {
		return nil
	}
	out := *d
	if d.GroupVersionKind != nil {
		gvk := *d.GroupVersionKind
		out.GroupVersionKind = &gvk
	}
	return &out
}
