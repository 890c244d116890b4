package descriptor

import (
	"testing"

	"k8s.io/apimachinery/pkg/runtime/schema"
)

func TestNormalizeStableAcrossEqualInputs(t *testing.T) {
	var n Normalizer

	gvk := schema.GroupVersionKind{Group: "apps", Version: "v1", Kind: "Deployment"}
	first := n.Normalize(&Descriptor{Kind: "Deployment", GroupVersionKind: &gvk, IsList: true, Namespace: "default"})

	// Structurally equal but freshly allocated, including the GVK pointer.
	gvk2 := schema.GroupVersionKind{Group: "apps", Version: "v1", Kind: "Deployment"}
	second := n.Normalize(&Descriptor{Kind: "Deployment", GroupVersionKind: &gvk2, IsList: true, Namespace: "default"})

	if first != second {
		t.Fatalf("expected the same pointer for deep-equal inputs, got %p and %p", first, second)
	}
}

func TestNormalizeChangesOnDifferentInput(t *testing.T) {
	var n Normalizer

	first := n.Normalize(&Descriptor{Kind: "Pod", IsList: true})
	second := n.Normalize(&Descriptor{Kind: "Pod", IsList: true, Namespace: "kube-system"})

	if first == second {
		t.Fatalf("expected different pointers for different inputs")
	}
	if second.Namespace != "kube-system" {
		t.Fatalf("expected namespace to be preserved, got %q", second.Namespace)
	}
}

func TestNormalizeNilIsSentinel(t *testing.T) {
	var n Normalizer

	d := n.Normalize(nil)
	if d != Nothing() {
		t.Fatalf("expected the shared sentinel for nil input")
	}
	if !d.IsNothing() {
		t.Fatalf("sentinel must report IsNothing")
	}
	if again := n.Normalize(nil); again != d {
		t.Fatalf("sentinel must be referentially stable")
	}
}

func TestNormalizeDoesNotAliasCallerValue(t *testing.T) {
	var n Normalizer

	raw := &Descriptor{Kind: "Pod", IsList: true}
	norm := n.Normalize(raw)

	// Mutating the caller's value must not disturb the memoized state.
	raw.Namespace = "default"
	if norm.Namespace != "" {
		t.Fatalf("normalized value aliases caller memory")
	}

	fresh := n.Normalize(&Descriptor{Kind: "Pod", IsList: true})
	if fresh != norm {
		t.Fatalf("memoization broken by caller-side mutation")
	}
}

func TestHashDeterministic(t *testing.T) {
	a := &Descriptor{Kind: "Pod", IsList: true, Namespace: "default"}
	b := &Descriptor{Kind: "Pod", IsList: true, Namespace: "default"}
	c := &Descriptor{Kind: "Pod", IsList: true, Namespace: "other"}

	if Hash(a) != Hash(b) {
		t.Fatalf("equal descriptors must hash equally")
	}
	if Hash(a) == Hash(c) {
		t.Fatalf("different descriptors should not collide on these inputs")
	}
	if Hash(nil) != Hash(Nothing()) {
		t.Fatalf("nil must hash as the sentinel")
	}
}

func TestGVKFallsBackToKind(t *testing.T) {
	d := &Descriptor{Kind: "Widget"}
	if got := d.GVK(); got.Kind != "Widget" || got.Group != "" || got.Version != "" {
		t.Fatalf("unexpected GVK for kind-only descriptor: %v", got)
	}

	gvk := schema.GroupVersionKind{Group: "example.com", Version: "v1", Kind: "Widget"}
	d = &Descriptor{Kind: "Widget", GroupVersionKind: &gvk}
	if got := d.GVK(); got != gvk {
		t.Fatalf("expected pinned GVK, got %v", got)
	}
}
