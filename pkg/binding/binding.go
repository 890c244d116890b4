// Package binding keeps consumers synchronized with live cluster-resource
// state. A Session takes a resource descriptor, resolves its type model,
// manages the watch subscription in the shared store, and reduces everything
// to a stable (data, loaded, error) result on every relevant change.
package binding

import (
	"net/http"
)

// Result is the sole externally observable output of a session.
//
// Invariants: Loaded == false implies Error == nil. Data defaults to an
// empty []*unstructured.Unstructured for list resources; for single objects
// it is nil until data arrives, or an empty object when
// Options.EmptyObjectPlaceholder is set.
type Result struct {
	Data   any
	Loaded bool
	Error  error
}

// Options tune a session. Prefix, BasePath and Header are passed through to
// the transport untouched.
type Options struct {
	// Prefix is the transport URL prefix (e.g. an API proxy mount point).
	Prefix string
	// BasePath is the API path prefix.
	BasePath string
	// Header carries request header overrides for the transport.
	Header http.Header

	// EmptyObjectPlaceholder switches the "no data yet" value for single
	// (non-list) resources from nil to an empty object. Compatibility knob;
	// see DESIGN.md.
	EmptyObjectPlaceholder bool
}
