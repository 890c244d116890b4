package transport

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/go-logr/logr"
	apierrors "k8s.io/apimachinery/pkg/api/errors"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/apis/meta/v1/unstructured"
	"k8s.io/apimachinery/pkg/watch"
	"k8s.io/client-go/dynamic"
	"k8s.io/client-go/rest"
	"k8s.io/klog/v2"

	"github.com/kwatch-io/kwatch/pkg/store"
)

// Dynamic is a store.Runner backed by the dynamic client: a plain list+watch
// per subscription, re-established on watch expiry, publishing full snapshots
// into the record. Keeping whole snapshots (rather than deltas) matches what
// the binding layer consumes.
type Dynamic struct {
	base        *rest.Config
	log         logr.Logger
	relistDelay time.Duration
}

// DynamicOption configures a Dynamic runner.
type DynamicOption func(*Dynamic)

// WithDynamicLogger sets the runner logger.
func WithDynamicLogger(log logr.Logger) DynamicOption {
	return func(d *Dynamic) { d.log = log }
}

// WithRelistDelay sets the pause before re-listing after a failure
// (default 5s).
func WithRelistDelay(delay time.Duration) DynamicOption {
	return func(d *Dynamic) { d.relistDelay = delay }
}

// NewDynamic builds a runner from a base rest config. Per-request prefix,
// base path and header overrides are applied on top of it.
func NewDynamic(cfg *rest.Config, opts ...DynamicOption) *Dynamic {
	d := &Dynamic{
		base:        cfg,
		log:         klog.Background().WithName("dynamic-transport"),
		relistDelay: 5 * time.Second,
	}
	for _, fn := range opts {
		fn(d)
	}
	return d
}

// Run serves one subscription until ctx is cancelled.
func (d *Dynamic) Run(ctx context.Context, req *store.Request, sink store.Sink) {
	cfg := restConfigFor(d.base, req)
	dyn, err := dynamic.NewForConfig(cfg)
	if err != nil {
		sink.Error(fmt.Errorf("dynamic client: %w", err))
		return
	}

	gvr := req.Model.GVR()
	var ri dynamic.ResourceInterface = dyn.Resource(gvr)
	if req.Model.Namespaced && req.Descriptor.Namespace != "" {
		ri = dyn.Resource(gvr).Namespace(req.Descriptor.Namespace)
	}

	sess := &dynamicSession{
		runner: d,
		req:    req,
		sink:   sink,
		ri:     ri,
		items:  make(map[string]*unstructured.Unstructured),
	}
	sess.loop(ctx)
}

type dynamicSession struct {
	runner *Dynamic
	req    *store.Request
	sink   store.Sink
	ri     dynamic.ResourceInterface
	items  map[string]*unstructured.Unstructured
}

func (s *dynamicSession) loop(ctx context.Context) {
	for ctx.Err() == nil {
		rv, err := s.listAndPublish(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			s.sink.Error(err)
			s.sleep(ctx)
			continue
		}
		if err := s.watch(ctx, rv); err != nil && ctx.Err() == nil {
			s.runner.log.V(4).Info("watch interrupted, re-listing",
				"id", s.req.ID, "error", err)
			s.sleep(ctx)
		}
	}
}

func (s *dynamicSession) sleep(ctx context.Context) {
	select {
	case <-ctx.Done():
	case <-time.After(s.runner.relistDelay):
	}
}

func (s *dynamicSession) listOptions() metav1.ListOptions {
	d := s.req.Descriptor
	opts := metav1.ListOptions{
		LabelSelector: d.LabelSelector,
		FieldSelector: d.FieldSelector,
	}
	if !d.IsList {
		opts.FieldSelector = joinSelectors(d.FieldSelector, "metadata.name="+d.Name)
	} else if d.Limit > 0 {
		opts.Limit = d.Limit
	}
	return opts
}

// listAndPublish seeds the snapshot and returns the resource version to
// watch from. Even single objects are listed (with a name field selector) so
// the follow-up watch has a consistent starting point.
func (s *dynamicSession) listAndPublish(ctx context.Context) (string, error) {
	list, err := s.ri.List(ctx, s.listOptions())
	if err != nil {
		return "", fmt.Errorf("list %s: %w", s.req.Model.GVR(), err)
	}

	s.items = make(map[string]*unstructured.Unstructured, len(list.Items))
	for i := range list.Items {
		obj := &list.Items[i]
		s.items[objKey(obj)] = obj
	}
	s.publish()
	return list.GetResourceVersion(), nil
}

func (s *dynamicSession) watch(ctx context.Context, rv string) error {
	opts := s.listOptions()
	opts.Limit = 0
	opts.Watch = true
	opts.ResourceVersion = rv
	opts.AllowWatchBookmarks = true

	w, err := s.ri.Watch(ctx, opts)
	if err != nil {
		return fmt.Errorf("watch %s: %w", s.req.Model.GVR(), err)
	}
	defer w.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev, ok := <-w.ResultChan():
			if !ok {
				return fmt.Errorf("watch channel closed")
			}
			switch ev.Type {
			case watch.Bookmark:
				continue
			case watch.Error:
				return fmt.Errorf("watch error event: %v", apierrors.FromObject(ev.Object))
			case watch.Added, watch.Modified:
				obj, ok := ev.Object.(*unstructured.Unstructured)
				if !ok {
					continue
				}
				s.items[objKey(obj)] = obj
				s.publish()
			case watch.Deleted:
				obj, ok := ev.Object.(*unstructured.Unstructured)
				if !ok {
					continue
				}
				delete(s.items, objKey(obj))
				s.publish()
			}
		}
	}
}

// publish pushes the current snapshot into the record: an ordered list for
// list requests, the single object (or a not-found error) otherwise.
func (s *dynamicSession) publish() {
	d := s.req.Descriptor
	if d.IsList {
		list := &unstructured.UnstructuredList{}
		list.SetGroupVersionKind(s.req.Model.GroupVersionKind.GroupVersion().WithKind(s.req.Model.GroupVersionKind.Kind + "List"))
		keys := make([]string, 0, len(s.items))
		for k := range s.items {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			list.Items = append(list.Items, *s.items[k])
		}
		s.sink.Set(list)
		return
	}

	for _, obj := range s.items {
		s.sink.Set(obj)
		return
	}
	s.sink.Error(apierrors.NewNotFound(s.req.Model.GVR().GroupResource(), d.Name))
}

func joinSelectors(a, b string) string {
	if a == "" {
		return b
	}
	return a + "," + b
}

func objKey(obj *unstructured.Unstructured) string {
	return obj.GetNamespace() + "/" + obj.GetName()
}
