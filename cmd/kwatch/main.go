package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"k8s.io/apimachinery/pkg/runtime/schema"

	"github.com/kwatch-io/kwatch/internal/ui"
	"github.com/kwatch-io/kwatch/pkg/appconfig"
	"github.com/kwatch-io/kwatch/pkg/binding"
	"github.com/kwatch-io/kwatch/pkg/descriptor"
	"github.com/kwatch-io/kwatch/pkg/kubeconfig"
	"github.com/kwatch-io/kwatch/pkg/model"
	"github.com/kwatch-io/kwatch/pkg/store"
	"github.com/kwatch-io/kwatch/pkg/transport"
)

var (
	version = "dev"
	commit  = "unknown"
	date    = "unknown"
)

func main() {
	var (
		showVersion  = flag.Bool("version", false, "Show version information")
		listContexts = flag.Bool("contexts", false, "List kubeconfig contexts and exit")
		kubeconfigP  = flag.String("kubeconfig", "", "Path to kubeconfig (default: standard loading rules)")
		kubeContext  = flag.String("context", "", "Kubeconfig context to use")
		kind         = flag.String("kind", "", "Resource kind to watch (default from config)")
		apiVersion   = flag.String("api-version", "", "group/version to pin the kind to (e.g. apps/v1)")
		namespace    = flag.String("namespace", "", "Namespace to watch")
		name         = flag.String("name", "", "Watch a single object by name instead of a list")
		selector     = flag.String("selector", "", "Label selector")
		writeConfig  = flag.Bool("write-config", false, "Persist the effective watch settings to ~/.kwatch/config.yaml")
	)
	flag.Parse()

	if *showVersion {
		fmt.Printf("kwatch version %s (commit %s, built %s)\n", version, commit, date)
		return
	}

	if *listContexts {
		names, err := kubeconfig.Contexts(*kubeconfigP)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		for _, n := range names {
			fmt.Println(n)
		}
		return
	}

	if err := run(*kubeconfigP, *kubeContext, *kind, *apiVersion, *namespace, *name, *selector, *writeConfig); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run(kubeconfigPath, kubeContext, kind, apiVersion, namespace, name, selector string, writeConfig bool) error {
	cfg, err := appconfig.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Config warning: %v\n", err)
	}
	if kind == "" {
		kind = cfg.Watch.Kind
	}
	if namespace == "" {
		namespace = cfg.Watch.Namespace
	}
	if selector == "" {
		selector = cfg.Watch.LabelSelector
	}
	if writeConfig {
		cfg.Watch = appconfig.WatchConfig{Kind: kind, Namespace: namespace, LabelSelector: selector}
		if err := appconfig.Save(cfg); err != nil {
			return fmt.Errorf("write config: %w", err)
		}
	}

	restCfg, err := kubeconfig.Load(kubeconfigPath, kubeContext)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	registry, err := model.NewDiscoveryRegistry(restCfg,
		model.WithRefreshInterval(time.Duration(cfg.Registry.RefreshSeconds)*time.Second))
	if err != nil {
		return err
	}
	// The bulk load runs in the background; the binding layer reports
	// "loading" until models arrive.
	go func() {
		if err := registry.Start(ctx); err != nil {
			fmt.Fprintf(os.Stderr, "Discovery warning: %v\n", err)
		}
	}()

	st := store.NewMemoryStore(transport.NewDynamic(restCfg))

	d := &descriptor.Descriptor{
		Kind:          kind,
		IsList:        name == "",
		Namespace:     namespace,
		Name:          name,
		LabelSelector: selector,
	}
	if apiVersion != "" {
		gv, err := schema.ParseGroupVersion(apiVersion)
		if err != nil {
			return fmt.Errorf("parse api-version: %w", err)
		}
		gvk := gv.WithKind(kind)
		d.GroupVersionKind = &gvk
	}

	session, err := binding.Bind(st, registry, d, nil, binding.Options{
		EmptyObjectPlaceholder: cfg.EmptyObjectPlaceholder,
	})
	if err != nil {
		return err
	}
	defer session.Close()

	title := kind
	if namespace != "" {
		title = namespace + "/" + kind
	}
	return ui.Run(title, session)
}
