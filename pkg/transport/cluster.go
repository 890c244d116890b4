package transport

import (
	"context"
	"fmt"

	"github.com/go-logr/logr"
	"k8s.io/apimachinery/pkg/apis/meta/v1/unstructured"
	"k8s.io/apimachinery/pkg/fields"
	"k8s.io/apimachinery/pkg/labels"
	"k8s.io/apimachinery/pkg/types"
	"k8s.io/klog/v2"
	crcluster "sigs.k8s.io/controller-runtime/pkg/cluster"
	"sigs.k8s.io/controller-runtime/pkg/client"

	"github.com/kwatch-io/kwatch/pkg/store"
)

// Cluster is a store.Runner backed by a controller-runtime cluster's shared
// informer cache. It suits embeddings that already run a cluster: each
// subscription attaches an event handler to the informer for its kind and
// republishes a cache snapshot on every change. Prefix/base-path/header
// overrides are not supported here; the cluster's own config wins.
type Cluster struct {
	cluster crcluster.Cluster
	log     logr.Logger
}

// ClusterOption configures a Cluster runner.
type ClusterOption func(*Cluster)

// WithClusterLogger sets the runner logger.
func WithClusterLogger(log logr.Logger) ClusterOption {
	return func(c *Cluster) { c.log = log }
}

// NewCluster builds a runner on top of an already-started cluster.
func NewCluster(cl crcluster.Cluster, opts ...ClusterOption) *Cluster {
	c := &Cluster{
		cluster: cl,
		log:     klog.Background().WithName("cluster-transport"),
	}
	for _, fn := range opts {
		fn(c)
	}
	return c
}

// Run serves one subscription from the shared informer cache until ctx is
// cancelled.
func (c *Cluster) Run(ctx context.Context, req *store.Request, sink store.Sink) {
	gvk := req.Model.GroupVersionKind

	inf, err := c.cluster.GetCache().GetInformerForKind(ctx, gvk)
	if err != nil {
		sink.Error(fmt.Errorf("informer for %s: %w", gvk, err))
		return
	}

	publish := func() {
		if err := publishSnapshot(ctx, c.cluster.GetClient(), req, sink); err != nil && ctx.Err() == nil {
			sink.Error(err)
		}
	}

	reg, err := inf.AddEventHandler(onAnyChange(publish))
	if err != nil {
		sink.Error(fmt.Errorf("event handler for %s: %w", gvk, err))
		return
	}
	defer func() {
		if err := inf.RemoveEventHandler(reg); err != nil {
			c.log.V(2).Info("remove event handler failed", "gvk", gvk.String(), "error", err)
		}
	}()

	if !c.cluster.GetCache().WaitForCacheSync(ctx) {
		return
	}
	publish()
	<-ctx.Done()
}

// publishSnapshot reads the current state for the request from a cache-backed
// reader and pushes it into the record.
func publishSnapshot(ctx context.Context, reader client.Reader, req *store.Request, sink store.Sink) error {
	d := req.Descriptor
	gvk := req.Model.GroupVersionKind

	if d.IsList {
		list := &unstructured.UnstructuredList{}
		list.SetGroupVersionKind(gvk.GroupVersion().WithKind(gvk.Kind + "List"))

		var opts []client.ListOption
		if req.Model.Namespaced && d.Namespace != "" {
			opts = append(opts, client.InNamespace(d.Namespace))
		}
		if d.LabelSelector != "" {
			sel, err := labels.Parse(d.LabelSelector)
			if err != nil {
				return fmt.Errorf("label selector: %w", err)
			}
			opts = append(opts, client.MatchingLabelsSelector{Selector: sel})
		}
		if d.FieldSelector != "" {
			sel, err := fields.ParseSelector(d.FieldSelector)
			if err != nil {
				return fmt.Errorf("field selector: %w", err)
			}
			opts = append(opts, client.MatchingFieldsSelector{Selector: sel})
		}
		if d.Limit > 0 {
			opts = append(opts, client.Limit(d.Limit))
		}
		if err := reader.List(ctx, list, opts...); err != nil {
			return fmt.Errorf("list %s: %w", gvk, err)
		}
		sink.Set(list)
		return nil
	}

	obj := &unstructured.Unstructured{}
	obj.SetGroupVersionKind(gvk)
	key := types.NamespacedName{Namespace: d.Namespace, Name: d.Name}
	if err := reader.Get(ctx, key, obj); err != nil {
		return err
	}
	sink.Set(obj)
	return nil
}

// onAnyChange adapts a zero-argument publish function to the informer event
// handler interface.
type onAnyChange func()

func (f onAnyChange) OnAdd(_ any, _ bool) { f() }
func (f onAnyChange) OnUpdate(_, _ any)   { f() }
func (f onAnyChange) OnDelete(_ any)      { f() }
