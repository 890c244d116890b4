package store

import (
	"context"
	"sync"

	"github.com/go-logr/logr"
	"k8s.io/apimachinery/pkg/runtime"
	"k8s.io/klog/v2"

	"github.com/kwatch-io/kwatch/internal/broadcast"
)

// Runner drives the transport session for one subscription. Run must block
// until ctx is cancelled, feeding payload snapshots and load errors into the
// sink as they arrive.
type Runner interface {
	Run(ctx context.Context, req *Request, sink Sink)
}

// RunnerFunc adapts a function to the Runner interface.
type RunnerFunc func(ctx context.Context, req *Request, sink Sink)

func (f RunnerFunc) Run(ctx context.Context, req *Request, sink Sink) { f(ctx, req, sink) }

type entry struct {
	req    *Request
	refs   int
	rec    Record
	cancel context.CancelFunc
}

// MemoryStore is the in-process Store implementation. Each distinct request
// ID owns at most one running transport session, reference-counted across
// subscribers. Late payload writes for an unsubscribed ID are dropped.
type MemoryStore struct {
	runner Runner
	log    logr.Logger

	mu      sync.Mutex
	entries map[string]*entry

	bcast broadcast.Broadcaster
}

// StoreOption configures a MemoryStore.
type StoreOption func(*MemoryStore)

// WithStoreLogger sets the store logger (default: klog background logger).
func WithStoreLogger(log logr.Logger) StoreOption {
	return func(s *MemoryStore) { s.log = log }
}

// NewMemoryStore builds a store whose subscriptions are served by runner.
// A nil runner is allowed; records then only change through dispatched
// payload actions, which is what tests use.
func NewMemoryStore(runner Runner, opts ...StoreOption) *MemoryStore {
	s := &MemoryStore{
		runner:  runner,
		log:     klog.Background().WithName("watch-store"),
		entries: make(map[string]*entry),
	}
	for _, fn := range opts {
		fn(s)
	}
	return s
}

func (s *MemoryStore) Get(id string) (Record, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[id]
	if !ok {
		return Record{}, false
	}
	return e.rec, true
}

// Subscribe registers for change notifications.
func (s *MemoryStore) Subscribe() (<-chan struct{}, func()) {
	return s.bcast.Subscribe()
}

// Dispatch applies an action. Lifecycle and payload actions are serialized
// on the store lock, so readers always observe consistent snapshots.
func (s *MemoryStore) Dispatch(a Action) {
	switch act := a.(type) {
	case SubscribeAction:
		s.subscribe(act.Request)
	case UnsubscribeAction:
		s.unsubscribe(act.ID)
	case setDataAction:
		s.setData(act.id, act.data)
	case setErrorAction:
		s.setError(act.id, act.err)
	}
}

func (s *MemoryStore) subscribe(req *Request) {
	if req == nil || req.ID == "" {
		return
	}
	s.mu.Lock()
	if e, ok := s.entries[req.ID]; ok {
		e.refs++
		s.mu.Unlock()
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	e := &entry{req: req, refs: 1, cancel: cancel}
	s.entries[req.ID] = e
	s.mu.Unlock()

	s.log.V(4).Info("subscription started", "id", req.ID)
	if s.runner != nil {
		go s.runner.Run(ctx, req, &boundSink{store: s, id: req.ID})
	}
	s.bcast.Notify()
}

func (s *MemoryStore) unsubscribe(id string) {
	s.mu.Lock()
	e, ok := s.entries[id]
	if !ok {
		s.mu.Unlock()
		return
	}
	e.refs--
	if e.refs > 0 {
		s.mu.Unlock()
		return
	}
	delete(s.entries, id)
	s.mu.Unlock()

	e.cancel()
	s.log.V(4).Info("subscription stopped", "id", id)
	s.bcast.Notify()
}

func (s *MemoryStore) setData(id string, data runtime.Object) {
	s.mu.Lock()
	e, ok := s.entries[id]
	if !ok {
		// Arrived after the last unsubscribe; drop it.
		s.mu.Unlock()
		return
	}
	e.rec.Data = data
	e.rec.Loaded = true
	e.rec.LoadError = nil
	e.rec.Version++
	s.mu.Unlock()
	s.bcast.Notify()
}

func (s *MemoryStore) setError(id string, err error) {
	s.mu.Lock()
	e, ok := s.entries[id]
	if !ok {
		s.mu.Unlock()
		return
	}
	// A load failure is a terminal answer from the transport for now, so the
	// record counts as loaded-with-error until fresh data replaces it.
	e.rec.LoadError = err
	e.rec.Loaded = true
	e.rec.Version++
	s.mu.Unlock()
	s.bcast.Notify()
}

// boundSink routes transport output for one ID through Dispatch.
type boundSink struct {
	store *MemoryStore
	id    string
}

func (b *boundSink) Set(data runtime.Object) {
	b.store.Dispatch(setDataAction{id: b.id, data: data})
}

func (b *boundSink) Error(err error) {
	b.store.Dispatch(setErrorAction{id: b.id, err: err})
}

// SetData and SetError expose the payload path for tests and external
// transports that do not go through a Runner.
func (s *MemoryStore) SetData(id string, data runtime.Object) {
	s.Dispatch(setDataAction{id: id, data: data})
}

func (s *MemoryStore) SetError(id string, err error) {
	s.Dispatch(setErrorAction{id: id, err: err})
}
