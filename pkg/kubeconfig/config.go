// Package kubeconfig resolves a rest.Config for the demo binary from the
// standard kubeconfig locations.
package kubeconfig

import (
	"fmt"

	"k8s.io/client-go/rest"
	"k8s.io/client-go/tools/clientcmd"
)

// Load resolves a rest.Config. An explicit path wins; otherwise the standard
// loading rules apply (KUBECONFIG, ~/.kube/config, in-cluster as last
// resort). An empty context selects the kubeconfig's current context.
func Load(path, context string) (*rest.Config, error) {
	rules := clientcmd.NewDefaultClientConfigLoadingRules()
	if path != "" {
		rules.ExplicitPath = path
	}
	overrides := &clientcmd.ConfigOverrides{CurrentContext: context}
	cfg, err := clientcmd.NewNonInteractiveDeferredLoadingClientConfig(rules, overrides).ClientConfig()
	if err == nil {
		return cfg, nil
	}

	if incluster, ierr := rest.InClusterConfig(); ierr == nil {
		return incluster, nil
	}
	return nil, fmt.Errorf("load kubeconfig: %w", err)
}

// Contexts lists the context names available in the resolved kubeconfig,
// with the current context first.
func Contexts(path string) ([]string, error) {
	rules := clientcmd.NewDefaultClientConfigLoadingRules()
	if path != "" {
		rules.ExplicitPath = path
	}
	raw, err := rules.Load()
	if err != nil {
		return nil, fmt.Errorf("load kubeconfig: %w", err)
	}
	names := make([]string, 0, len(raw.Contexts))
	if raw.CurrentContext != "" {
		names = append(names, raw.CurrentContext)
	}
	for name := range raw.Contexts {
		if name != raw.CurrentContext {
			names = append(names, name)
		}
	}
	return names, nil
}
