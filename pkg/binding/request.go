package binding

import (
	"fmt"
	"hash/fnv"
	"net/http"
	"sort"
	"strings"

	"github.com/kwatch-io/kwatch/pkg/descriptor"
	"github.com/kwatch-io/kwatch/pkg/model"
	"github.com/kwatch-io/kwatch/pkg/store"
)

// deriveRequest turns a normalized descriptor plus resolved model into the
// subscription request for the shared store. It returns nil when the
// descriptor is the sentinel or no model is available yet; the transport
// needs the model to construct API paths. The ID is a pure function of its
// inputs, so identical requests collapse onto one subscription.
func deriveRequest(d *descriptor.Descriptor, m *model.TypeModel, o Options, workspace string) *store.Request {
	if d.IsNothing() || m == nil {
		return nil
	}
	return &store.Request{
		ID:         requestID(d, m, o, workspace),
		Descriptor: d,
		Model:      m,
		Prefix:     o.Prefix,
		BasePath:   o.BasePath,
		Header:     o.Header.Clone(),
	}
}

func requestID(d *descriptor.Descriptor, m *model.TypeModel, o Options, workspace string) string {
	parts := []string{
		m.GVR().String(),
		descriptor.Hash(d),
		o.Prefix,
		o.BasePath,
		headerDigest(o.Header),
		workspace,
	}
	return strings.Join(parts, "|")
}

// headerDigest hashes header overrides into the request identity so that
// differently-authenticated watches never share a subscription.
func headerDigest(h http.Header) string {
	if len(h) == 0 {
		return ""
	}
	keys := make([]string, 0, len(h))
	for k := range h {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	hash := fnv.New64a()
	for _, k := range keys {
		fmt.Fprintf(hash, "%s=%s;", k, strings.Join(h[k], ","))
	}
	return fmt.Sprintf("%016x", hash.Sum64())
}
