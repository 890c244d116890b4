package binding

import (
	"strings"
	"sync"
	"testing"
	"time"

	"k8s.io/apimachinery/pkg/apis/meta/v1/unstructured"
	"k8s.io/apimachinery/pkg/runtime/schema"

	kwtesting "github.com/kwatch-io/kwatch/internal/testing"
	"github.com/kwatch-io/kwatch/pkg/descriptor"
	"github.com/kwatch-io/kwatch/pkg/model"
	"github.com/kwatch-io/kwatch/pkg/store"
)

// recordingStore wraps the memory store and keeps the order of lifecycle
// actions for assertions.
type recordingStore struct {
	*store.MemoryStore
	mu      sync.Mutex
	actions []string
}

func newRecordingStore() *recordingStore {
	return &recordingStore{MemoryStore: store.NewMemoryStore(nil)}
}

func (r *recordingStore) Dispatch(a store.Action) {
	switch act := a.(type) {
	case store.SubscribeAction:
		r.mu.Lock()
		r.actions = append(r.actions, "subscribe:"+act.Request.ID)
		r.mu.Unlock()
	case store.UnsubscribeAction:
		r.mu.Lock()
		r.actions = append(r.actions, "unsubscribe:"+act.ID)
		r.mu.Unlock()
	}
	r.MemoryStore.Dispatch(a)
}

func (r *recordingStore) recorded() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, len(r.actions))
	copy(out, r.actions)
	return out
}

func eventually(t *testing.T, what string, cond func() bool) {
	t.Helper()
	kwtesting.Eventually(t, 2*time.Second, 5*time.Millisecond, cond, "timed out waiting for "+what)
}

func waitResult(t *testing.T, s *Session, what string, cond func(Result) bool) Result {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for {
		select {
		case r, ok := <-s.Results():
			if !ok {
				t.Fatalf("results closed while waiting for %s", what)
			}
			if cond(r) {
				return r
			}
		case <-deadline:
			t.Fatalf("timed out waiting for %s (last: %+v)", what, s.Current())
		}
	}
}

func TestSessionNilResourceNeverSubscribes(t *testing.T) {
	st := newRecordingStore()
	reg := model.NewStaticRegistry(testPodModel)

	s, err := NewSession(st, reg, Options{})
	if err != nil {
		t.Fatalf("NewSession: %v", err)
	}
	defer s.Close()
	s.SetResource(nil, nil)

	r := waitResult(t, s, "vacuous result", func(r Result) bool { return r.Loaded })
	if r.Data != nil || r.Error != nil {
		t.Fatalf("expected (nil, true, nil), got %+v", r)
	}
	if acts := st.recorded(); len(acts) != 0 {
		t.Fatalf("no subscription may be dispatched for a nil resource, got %v", acts)
	}
}

func TestSessionListLifecycle(t *testing.T) {
	st := newRecordingStore()
	d := &descriptor.Descriptor{Kind: "Pod", IsList: true}

	s, err := Bind(st, nil, d, testPodModel, Options{})
	if err != nil {
		t.Fatalf("Bind: %v", err)
	}
	defer s.Close()

	req := deriveRequest(d, testPodModel, Options{}, "")
	eventually(t, "subscription", func() bool {
		_, ok := st.Get(req.ID)
		return ok
	})

	// Before data arrives: empty-list placeholder, not loaded, no error.
	r := waitResult(t, s, "waiting result", func(r Result) bool { return !r.Loaded })
	if items, ok := r.Data.([]*unstructured.Unstructured); !ok || len(items) != 0 {
		t.Fatalf("expected empty list placeholder, got %#v", r.Data)
	}
	if r.Error != nil {
		t.Fatalf("waiting result must carry no error, got %v", r.Error)
	}

	st.SetData(req.ID, podList("web-0", "web-1"))
	r = waitResult(t, s, "loaded result", func(r Result) bool { return r.Loaded })
	items, ok := r.Data.([]*unstructured.Unstructured)
	if !ok || len(items) != 2 {
		t.Fatalf("expected 2 pods, got %#v", r.Data)
	}
	if r.Error != nil {
		t.Fatalf("unexpected error: %v", r.Error)
	}
}

func TestSessionMirrorsTransportError(t *testing.T) {
	st := newRecordingStore()
	d := &descriptor.Descriptor{Kind: "Pod", IsList: true}

	s, err := Bind(st, nil, d, testPodModel, Options{})
	if err != nil {
		t.Fatalf("Bind: %v", err)
	}
	defer s.Close()

	req := deriveRequest(d, testPodModel, Options{}, "")
	eventually(t, "subscription", func() bool {
		_, ok := st.Get(req.ID)
		return ok
	})

	st.SetError(req.ID, &model.NotFoundError{GVK: schema.GroupVersionKind{Kind: "X"}})
	r := waitResult(t, s, "error result", func(r Result) bool { return r.Error != nil })
	if !r.Loaded {
		t.Fatalf("record fields must be mirrored verbatim, got %+v", r)
	}
}

func TestSessionUnsubscribeBeforeSubscribeOnChange(t *testing.T) {
	st := newRecordingStore()

	a := &descriptor.Descriptor{Kind: "Pod", IsList: true}
	s, err := Bind(st, nil, a, testPodModel, Options{})
	if err != nil {
		t.Fatalf("Bind: %v", err)
	}
	defer s.Close()

	reqA := deriveRequest(a, testPodModel, Options{}, "")
	eventually(t, "first subscription", func() bool {
		_, ok := st.Get(reqA.ID)
		return ok
	})

	b := &descriptor.Descriptor{Kind: "Pod", IsList: true, Namespace: "kube-system"}
	s.SetResource(b, testPodModel)
	reqB := deriveRequest(b, testPodModel, Options{}, "")
	eventually(t, "second subscription", func() bool {
		_, ok := st.Get(reqB.ID)
		return ok
	})

	assertOrdered(t, st.recorded(),
		"subscribe:"+reqA.ID,
		"unsubscribe:"+reqA.ID,
		"subscribe:"+reqB.ID,
	)
	if _, ok := st.Get(reqA.ID); ok {
		t.Fatalf("superseded subscription must be released")
	}
}

func TestSessionWorkspaceChangeResubscribes(t *testing.T) {
	st := newRecordingStore()

	d := &descriptor.Descriptor{Kind: "Pod", IsList: true}
	s, err := Bind(st, nil, d, testPodModel, Options{}, WithWorkspace("tenant-a"))
	if err != nil {
		t.Fatalf("Bind: %v", err)
	}
	defer s.Close()

	reqA := deriveRequest(d, testPodModel, Options{}, "tenant-a")
	eventually(t, "tenant-a subscription", func() bool {
		_, ok := st.Get(reqA.ID)
		return ok
	})

	s.SetWorkspace("tenant-b")
	reqB := deriveRequest(d, testPodModel, Options{}, "tenant-b")
	eventually(t, "tenant-b subscription", func() bool {
		_, ok := st.Get(reqB.ID)
		return ok
	})

	assertOrdered(t, st.recorded(),
		"subscribe:"+reqA.ID,
		"unsubscribe:"+reqA.ID,
		"subscribe:"+reqB.ID,
	)
}

func TestSessionCloseReleasesSubscription(t *testing.T) {
	st := newRecordingStore()
	d := &descriptor.Descriptor{Kind: "Pod", IsList: true}

	s, err := Bind(st, nil, d, testPodModel, Options{})
	if err != nil {
		t.Fatalf("Bind: %v", err)
	}

	req := deriveRequest(d, testPodModel, Options{}, "")
	eventually(t, "subscription", func() bool {
		_, ok := st.Get(req.ID)
		return ok
	})

	s.Close()
	if _, ok := st.Get(req.ID); ok {
		t.Fatalf("Close must release the subscription")
	}
	acts := st.recorded()
	if len(acts) == 0 || acts[len(acts)-1] != "unsubscribe:"+req.ID {
		t.Fatalf("expected a trailing unsubscribe, got %v", acts)
	}
}

func TestSessionRetryBound(t *testing.T) {
	st := newRecordingStore()
	reg := model.NewStaticRegistry() // empty, not yet loaded

	d := &descriptor.Descriptor{Kind: "Pod", IsList: true}
	s, err := Bind(st, reg, d, nil, Options{})
	if err != nil {
		t.Fatalf("Bind: %v", err)
	}
	defer s.Close()

	// Exactly one fetch fires on its own (nothing re-wakes the session).
	eventually(t, "first fetch", func() bool { return len(reg.Fetches()) == 1 })
	time.Sleep(50 * time.Millisecond)
	if got := len(reg.Fetches()); got != 1 {
		t.Fatalf("expected exactly one fetch without further wakeups, got %d", got)
	}

	// Each registry notification re-runs the decision procedure; the budget
	// caps total attempts at the bound within the same epoch.
	for i := 0; i < 2*MaxModelFetches; i++ {
		reg.SetBatchInFlight(false) // no state change, just a wakeup
		time.Sleep(20 * time.Millisecond)
	}
	if got := len(reg.Fetches()); got != MaxModelFetches {
		t.Fatalf("expected the retry bound of %d fetches, got %d", MaxModelFetches, got)
	}
}

func TestSessionRetryResetsOnResourceChange(t *testing.T) {
	st := newRecordingStore()
	reg := model.NewStaticRegistry()

	d := &descriptor.Descriptor{Kind: "Pod", IsList: true}
	s, err := Bind(st, reg, d, nil, Options{})
	if err != nil {
		t.Fatalf("Bind: %v", err)
	}
	defer s.Close()

	eventually(t, "first fetch", func() bool { return len(reg.Fetches()) >= 1 })
	for i := 0; i < 2*MaxModelFetches; i++ {
		reg.SetBatchInFlight(false)
		time.Sleep(20 * time.Millisecond)
	}
	if got := len(reg.Fetches()); got != MaxModelFetches {
		t.Fatalf("expected %d fetches before the change, got %d", MaxModelFetches, got)
	}

	// A new resource starts a new epoch with a fresh budget.
	s.SetResource(&descriptor.Descriptor{Kind: "Widget", IsList: true}, nil)
	eventually(t, "fetch for the new resource", func() bool {
		for _, gvk := range reg.Fetches() {
			if gvk.Kind == "Widget" {
				return true
			}
		}
		return false
	})
}

func TestSessionResourceChangeReplacesPlaceholder(t *testing.T) {
	st := newRecordingStore()
	reg := model.NewStaticRegistry() // nothing resolvable yet

	s, err := Bind(st, reg, &descriptor.Descriptor{Kind: "Pod", IsList: true}, nil, Options{})
	if err != nil {
		t.Fatalf("Bind: %v", err)
	}
	defer s.Close()

	r := waitResult(t, s, "list placeholder", func(r Result) bool { return !r.Loaded })
	if items, ok := r.Data.([]*unstructured.Unstructured); !ok || len(items) != 0 {
		t.Fatalf("expected the empty list placeholder, got %#v", r.Data)
	}

	// Switching to a singular resource while the model is still unresolved
	// must replace the placeholder, not keep reporting the previous one.
	s.SetResource(&descriptor.Descriptor{Kind: "Widget", Name: "w-0"}, nil)
	r = waitResult(t, s, "singular placeholder", func(r Result) bool {
		return !r.Loaded && r.Data == nil
	})
	if r.Error != nil {
		t.Fatalf("waiting result must carry no error, got %v", r.Error)
	}
	eventually(t, "Current to mirror the singular placeholder", func() bool {
		cur := s.Current()
		return !cur.Loaded && cur.Data == nil
	})
}

func TestSessionFetchSuppressedWhileRegistryBusy(t *testing.T) {
	st := newRecordingStore()
	reg := model.NewStaticRegistry()
	reg.SetInFlight(true)

	s, err := Bind(st, reg, &descriptor.Descriptor{Kind: "Pod", IsList: true}, nil, Options{})
	if err != nil {
		t.Fatalf("Bind: %v", err)
	}
	defer s.Close()

	time.Sleep(50 * time.Millisecond)
	if got := len(reg.Fetches()); got != 0 {
		t.Fatalf("no fetch may fire while a single-model fetch is in flight, got %d", got)
	}

	reg.SetInFlight(false)
	eventually(t, "fetch once the in-flight fetch finished", func() bool {
		return len(reg.Fetches()) == 1
	})
}

func TestSessionModelNotFound(t *testing.T) {
	st := newRecordingStore()
	reg := model.NewStaticRegistry()
	reg.SetAllLoaded(true)

	d := &descriptor.Descriptor{Kind: "Widget"}
	s, err := Bind(st, reg, d, nil, Options{})
	if err != nil {
		t.Fatalf("Bind: %v", err)
	}
	defer s.Close()

	r := waitResult(t, s, "not-found result", func(r Result) bool { return r.Error != nil })
	if !r.Loaded {
		t.Fatalf("model-not-found must be a loaded state, got %+v", r)
	}
	if !model.IsNotFound(r.Error) {
		t.Fatalf("expected NotFoundError, got %v", r.Error)
	}
	if r.Data != nil {
		t.Fatalf("expected nil singular placeholder, got %#v", r.Data)
	}
}

func TestSessionRejectsNilStore(t *testing.T) {
	if _, err := NewSession(nil, nil, Options{}); err == nil {
		t.Fatalf("expected an error for a nil store")
	}
}

func TestSessionRejectsMalformedOptions(t *testing.T) {
	st := newRecordingStore()
	opts := Options{Header: map[string][]string{" ": {"x"}}}
	if _, err := NewSession(st, nil, opts); err == nil {
		t.Fatalf("expected an error for an empty header key")
	}
}

func assertOrdered(t *testing.T, got []string, want ...string) {
	t.Helper()
	i := 0
	for _, action := range got {
		if i < len(want) && action == want[i] {
			i++
		}
	}
	if i != len(want) {
		t.Fatalf("expected actions in order %v, got %v", want, strings.Join(got, ", "))
	}
}
