// Package store holds the shared subscription state for watched resources.
// Consumers address subscriptions by deterministic request IDs; identical
// requests collapse onto one live transport session. All mutation goes
// through Dispatch, reads return snapshots.
package store

import (
	"net/http"

	"k8s.io/apimachinery/pkg/runtime"

	"github.com/kwatch-io/kwatch/pkg/descriptor"
	"github.com/kwatch-io/kwatch/pkg/model"
)

// Request addresses one subscription. ID is a pure function of the fields
// below; two requests with the same ID share a transport session.
type Request struct {
	ID         string
	Descriptor *descriptor.Descriptor
	Model      *model.TypeModel

	// Transport pass-through options. The store and the reconciler never
	// interpret them.
	Prefix   string
	BasePath string
	Header   http.Header
}

// Record is the live payload/status snapshot for one subscription. Version
// is zero until the transport has delivered anything; the reconciler treats
// a zero-version record as "no data arrived yet".
type Record struct {
	// Data is an *unstructured.UnstructuredList for list requests and an
	// *unstructured.Unstructured for single objects.
	Data      runtime.Object
	Loaded    bool
	LoadError error
	Version   uint64
}

// Action is a store mutation. Lifecycle actions are exported; payload
// updates are dispatched by the transport sink through the same path.
type Action interface {
	isAction()
}

// SubscribeAction starts (or joins) the subscription for a request.
type SubscribeAction struct {
	Request *Request
}

// UnsubscribeAction releases one reference on a subscription. When the last
// reference is gone the transport session stops and the record is dropped.
type UnsubscribeAction struct {
	ID string
}

type setDataAction struct {
	id   string
	data runtime.Object
}

type setErrorAction struct {
	id  string
	err error
}

func (SubscribeAction) isAction()   {}
func (UnsubscribeAction) isAction() {}
func (setDataAction) isAction()     {}
func (setErrorAction) isAction()    {}

// Sink receives transport output for one subscription.
type Sink interface {
	// Set publishes a new payload snapshot and marks the record loaded.
	Set(data runtime.Object)
	// Error records a load failure. The record stays addressable; the error
	// is passed through to consumers verbatim.
	Error(err error)
}

// Store is the injected subscription-store contract the binding core depends
// on. Implementations must be safe for concurrent use.
type Store interface {
	// Get returns the current record snapshot for a request ID.
	Get(id string) (Record, bool)
	// Dispatch applies a lifecycle or payload action.
	Dispatch(a Action)
	// Subscribe registers for coalesced change notifications.
	Subscribe() (<-chan struct{}, func())
}
