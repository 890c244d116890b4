package kubeconfig

import (
	"os"
	"path/filepath"
	"testing"
)

const testKubeconfig = `apiVersion: v1
kind: Config
current-context: beta
contexts:
- name: alpha
  context:
    cluster: c
    user: u
- name: beta
  context:
    cluster: c
    user: u
clusters:
- name: c
  cluster:
    server: https://host:6443
users:
- name: u
  user: {}
`

func writeTestKubeconfig(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config")
	if err := os.WriteFile(path, []byte(testKubeconfig), 0o644); err != nil {
		t.Fatalf("write kubeconfig: %v", err)
	}
	return path
}

func TestContextsCurrentFirst(t *testing.T) {
	names, err := Contexts(writeTestKubeconfig(t))
	if err != nil {
		t.Fatalf("Contexts: %v", err)
	}
	if len(names) != 2 || names[0] != "beta" {
		t.Fatalf("expected the current context first, got %v", names)
	}
}

func TestLoadExplicitPath(t *testing.T) {
	cfg, err := Load(writeTestKubeconfig(t), "")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Host != "https://host:6443" {
		t.Fatalf("unexpected host: %q", cfg.Host)
	}

	if _, err := Load(writeTestKubeconfig(t), "alpha"); err != nil {
		t.Fatalf("Load with context override: %v", err)
	}
}
