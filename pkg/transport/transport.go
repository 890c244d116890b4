// Package transport feeds the shared subscription store with live cluster
// data. Runners implement store.Runner: one session per subscription,
// list+watch semantics, snapshots published into the record.
package transport

import (
	"net/http"
	"strings"

	"k8s.io/client-go/rest"

	"github.com/kwatch-io/kwatch/pkg/store"
)

// restConfigFor applies the request's pass-through options (prefix, base
// path, header overrides) to a copy of the base config.
func restConfigFor(base *rest.Config, req *store.Request) *rest.Config {
	cfg := rest.CopyConfig(base)
	if req.Prefix != "" || req.BasePath != "" {
		cfg.Host = joinURL(cfg.Host, req.Prefix, req.BasePath)
	}
	if len(req.Header) > 0 {
		hdr := req.Header.Clone()
		cfg.Wrap(func(rt http.RoundTripper) http.RoundTripper {
			return &headerRoundTripper{next: rt, header: hdr}
		})
	}
	return cfg
}

func joinURL(parts ...string) string {
	out := ""
	for _, p := range parts {
		p = strings.Trim(p, "/")
		if p == "" {
			continue
		}
		if out == "" {
			out = p
			continue
		}
		out = out + "/" + p
	}
	return out
}

type headerRoundTripper struct {
	next   http.RoundTripper
	header http.Header
}

func (h *headerRoundTripper) RoundTrip(req *http.Request) (*http.Response, error) {
	clone := req.Clone(req.Context())
	for k, vals := range h.header {
		clone.Header.Del(k)
		for _, v := range vals {
			clone.Header.Add(k, v)
		}
	}
	return h.next.RoundTrip(clone)
}
