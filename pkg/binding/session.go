package binding

import (
	"context"
	"errors"
	"strings"
	"sync"

	"github.com/go-logr/logr"
	"k8s.io/klog/v2"

	"github.com/kwatch-io/kwatch/pkg/descriptor"
	"github.com/kwatch-io/kwatch/pkg/model"
	"github.com/kwatch-io/kwatch/pkg/store"
)

// Session binds one resource descriptor to live cluster state. It owns the
// watch-request lifecycle against the shared store, the per-epoch retry
// budget for missing models, and the memoized result stream.
//
// All waiting is expressed as Loaded=false results observed across
// successive reconciliations; nothing in the session blocks on the cluster.
type Session struct {
	log      logr.Logger
	store    store.Store
	registry model.Registry
	opts     Options

	norm descriptor.Normalizer

	mu        sync.Mutex
	desc      *descriptor.Descriptor
	static    *model.TypeModel
	workspace string
	current   *store.Request
	retry     retryController
	last      Result
	lastKey   resultKey
	hasLast   bool

	kick      chan struct{}
	results   chan Result
	done      chan struct{}
	cancel    context.CancelFunc
	closeOnce sync.Once
}

// SessionOption configures a Session.
type SessionOption func(*Session)

// WithSessionLogger sets the session logger (default: klog background).
func WithSessionLogger(log logr.Logger) SessionOption {
	return func(s *Session) { s.log = log }
}

// WithWorkspace sets the initial workspace/tenant context.
func WithWorkspace(ws string) SessionOption {
	return func(s *Session) { s.workspace = ws }
}

// NewSession starts a session with no resource bound yet; it reports
// (nil, true, nil) until SetResource is called. st must not be nil. A nil
// registry is allowed for callers that always supply static models.
func NewSession(st store.Store, reg model.Registry, opts Options, sopts ...SessionOption) (*Session, error) {
	if st == nil {
		return nil, errors.New("binding: store must not be nil")
	}
	if err := validateOptions(opts); err != nil {
		return nil, err
	}

	ctx, cancel := context.WithCancel(context.Background())
	s := &Session{
		log:      klog.Background().WithName("binding"),
		store:    st,
		registry: reg,
		opts:     opts,
		kick:     make(chan struct{}, 1),
		results:  make(chan Result, 1),
		done:     make(chan struct{}),
		cancel:   cancel,
	}
	for _, fn := range sopts {
		fn(s)
	}

	storeCh, storeCancel := st.Subscribe()
	var regCh <-chan struct{}
	regCancel := func() {}
	if reg != nil {
		regCh, regCancel = reg.Subscribe()
	}

	go s.run(ctx, storeCh, storeCancel, regCh, regCancel)
	s.poke()
	return s, nil
}

// Bind is a convenience constructor that starts a session already bound to
// a resource.
func Bind(st store.Store, reg model.Registry, d *descriptor.Descriptor, static *model.TypeModel, opts Options, sopts ...SessionOption) (*Session, error) {
	s, err := NewSession(st, reg, opts, sopts...)
	if err != nil {
		return nil, err
	}
	s.SetResource(d, static)
	return s, nil
}

func validateOptions(o Options) error {
	for k := range o.Header {
		if strings.TrimSpace(k) == "" {
			return errors.New("binding: empty header key in options")
		}
	}
	return nil
}

// SetResource changes what the session observes. A nil descriptor means "no
// resource requested". A non-nil static model bypasses the registry.
func (s *Session) SetResource(d *descriptor.Descriptor, static *model.TypeModel) {
	s.mu.Lock()
	s.desc = d
	s.static = static
	s.mu.Unlock()
	s.poke()
}

// SetWorkspace switches the workspace/tenant context. This is treated as a
// watch identity change: the previous subscription is released, a new one is
// started, and the retry budget resets.
func (s *Session) SetWorkspace(ws string) {
	s.mu.Lock()
	changed := s.workspace != ws
	s.workspace = ws
	s.mu.Unlock()
	if changed {
		s.poke()
	}
}

// Results delivers result changes, latest-wins: a slow consumer only ever
// misses intermediate states, never the newest one. The channel closes when
// the session closes.
func (s *Session) Results() <-chan Result {
	return s.results
}

// Current returns the most recently computed result.
func (s *Session) Current() Result {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.last
}

// Close releases the session's subscription and stops the event loop. It
// blocks until the final unsubscribe has been dispatched. An in-flight model
// fetch is not cancelled; its late result is simply ignored.
func (s *Session) Close() {
	s.closeOnce.Do(s.cancel)
	<-s.done
}

func (s *Session) poke() {
	select {
	case s.kick <- struct{}{}:
	default:
	}
}

func (s *Session) run(ctx context.Context, storeCh <-chan struct{}, storeCancel func(), regCh <-chan struct{}, regCancel func()) {
	defer close(s.done)
	defer close(s.results)
	defer storeCancel()
	defer regCancel()
	defer func() {
		// Final cleanup: no subscription may outlive its consumer.
		s.mu.Lock()
		cur := s.current
		s.current = nil
		s.mu.Unlock()
		if cur != nil {
			s.store.Dispatch(store.UnsubscribeAction{ID: cur.ID})
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case <-s.kick:
		case <-storeCh:
		case <-regCh:
		}
		s.step(ctx)
	}
}

// step runs one reconciliation: snapshot inputs, settle the subscription
// lifecycle, compute the result, trigger a model fetch if asked, and emit
// the result when it actually changed.
func (s *Session) step(ctx context.Context) {
	s.mu.Lock()
	raw, static, ws := s.desc, s.static, s.workspace
	s.mu.Unlock()

	d := s.norm.Normalize(raw)
	m, allLoaded := model.Resolve(d, static, s.registry)

	s.mu.Lock()
	s.retry.sync(epoch(d, m, ws))
	req := deriveRequest(d, m, s.opts, ws)
	unsub, sub := s.trackLocked(req)
	s.mu.Unlock()

	// Unsubscribe for the superseded request is dispatched before subscribe
	// for its replacement.
	if unsub != "" {
		s.store.Dispatch(store.UnsubscribeAction{ID: unsub})
	}
	if sub != nil {
		s.store.Dispatch(store.SubscribeAction{Request: sub})
	}

	var rec *store.Record
	if req != nil {
		if r, ok := s.store.Get(req.ID); ok {
			rec = &r
		}
	}

	in := reconcileInput{
		Descriptor:             d,
		Model:                  m,
		Record:                 rec,
		AllModelsLoaded:        allLoaded,
		EmptyObjectPlaceholder: s.opts.EmptyObjectPlaceholder,
	}
	if s.registry != nil {
		in.ModelFetchInFlight = s.registry.InFlight()
		in.BatchFetchInFlight = s.registry.BatchInFlight()
		s.mu.Lock()
		in.RetryBudgetLeft = s.retry.allow()
		s.mu.Unlock()
	}

	out := reconcile(in)

	if out.FetchModel {
		s.mu.Lock()
		s.retry.note()
		s.mu.Unlock()
		s.fetchModel(ctx, d)
	}

	s.emit(d, req, rec, out.Result)
}

// trackLocked settles the active request against the desired one and returns
// the lifecycle actions to dispatch. Caller holds s.mu.
func (s *Session) trackLocked(req *store.Request) (unsubID string, sub *store.Request) {
	cur := s.current
	switch {
	case cur == nil && req == nil:
		return "", nil
	case cur != nil && req != nil && cur.ID == req.ID:
		return "", nil
	}
	s.current = req
	if cur != nil {
		unsubID = cur.ID
	}
	return unsubID, req
}

// fetchModel fires one forced model fetch. The result is observed indirectly
// on a later reconciliation via the updated registry; failures only log.
func (s *Session) fetchModel(ctx context.Context, d *descriptor.Descriptor) {
	gvk := d.GVK()
	s.log.V(4).Info("forcing model fetch", "gvk", gvk.String())
	go func() {
		if err := s.registry.Fetch(ctx, gvk); err != nil {
			s.log.V(2).Info("model fetch failed", "gvk", gvk.String(), "error", err)
		}
	}()
}

// epoch identifies the retry scope: descriptor identity, model identity and
// workspace. Changing any of them resets the retry budget exactly once.
func epoch(d *descriptor.Descriptor, m *model.TypeModel, ws string) string {
	modelKey := ""
	if m != nil {
		modelKey = m.GroupVersionKind.String()
	}
	return descriptor.Hash(d) + "|" + modelKey + "|" + ws
}

// resultKey is the equality-checked memoization key for emitted results; it
// captures every input that can change the observable triple. The descriptor
// hash keeps placeholder results for different resources distinct even while
// no request can be derived yet. The placeholder policy is fixed for the
// session's lifetime and needs no key field.
type resultKey struct {
	requestID string
	descHash  string
	version   uint64
	loaded    bool
	errText   string
}

func (s *Session) emit(d *descriptor.Descriptor, req *store.Request, rec *store.Record, r Result) {
	key := resultKey{descHash: descriptor.Hash(d), loaded: r.Loaded}
	if req != nil {
		key.requestID = req.ID
	}
	if rec != nil {
		key.version = rec.Version
	}
	if r.Error != nil {
		key.errText = r.Error.Error()
	}

	s.mu.Lock()
	if s.hasLast && key == s.lastKey {
		s.mu.Unlock()
		return
	}
	s.lastKey = key
	s.hasLast = true
	s.last = r
	s.mu.Unlock()

	// Latest-wins delivery: drop the stale pending value, then send.
	for {
		select {
		case s.results <- r:
			return
		default:
			select {
			case <-s.results:
			default:
			}
		}
	}
}
