package policy

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/pockitect/pockitect/pkg/engine"
)

func writePolicy(t *testing.T, path, content string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		t.Fatalf("Failed to create directory: %v", err)
	}
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("Failed to write test file: %v", err)
	}
}

func TestReadPolicyFileRego(t *testing.T) {
	policyFile := filepath.Join(t.TempDir(), "keep-tagged.rego")
	writePolicy(t, policyFile, `# Keep resources tagged keep=yes
package keep

import rego.v1

deny contains "tagged keep" if {
	input.resource.tags.keep == "yes"
}`)

	policy, err := readPolicyFile(policyFile)
	if err != nil {
		t.Fatalf("Failed to load policy: %v", err)
	}

	if policy.Name != "keep-tagged" {
		t.Errorf("Expected name 'keep-tagged', got '%s'", policy.Name)
	}
	if policy.Description != "Keep resources tagged keep=yes" {
		t.Errorf("Unexpected description %q", policy.Description)
	}
	if policy.Severity != SeverityError || !policy.Enabled {
		t.Errorf("Rego files should load enabled and blocking, got %+v", policy)
	}
	if policy.Source != policyFile {
		t.Errorf("Source = %q", policy.Source)
	}
}

func TestReadPolicyFileJSON(t *testing.T) {
	policyFile := filepath.Join(t.TempDir(), "from-json.json")

	data, err := json.Marshal(Policy{
		Description: "A test policy",
		Rego:        "package test\n\nimport rego.v1\n\ndeny contains \"x\" if { false }",
		Severity:    SeverityWarning,
		Enabled:     true,
		Builtin:     true,
	})
	if err != nil {
		t.Fatalf("Failed to marshal policy: %v", err)
	}
	writePolicy(t, policyFile, string(data))

	loaded, err := readPolicyFile(policyFile)
	if err != nil {
		t.Fatalf("Failed to load policy: %v", err)
	}
	if loaded.Name != "from-json" {
		t.Errorf("Expected name from file, got '%s'", loaded.Name)
	}
	if loaded.Severity != SeverityWarning {
		t.Errorf("Expected severity warning, got '%s'", loaded.Severity)
	}
	if loaded.Builtin {
		t.Error("A file policy cannot claim to be builtin")
	}
}

func TestLoadDirSkipsBadFiles(t *testing.T) {
	dir := t.TempDir()

	writePolicy(t, filepath.Join(dir, "p1.rego"), "package p1\n\nimport rego.v1\n\ndeny contains \"x\" if { false }")
	writePolicy(t, filepath.Join(dir, "nested", "p2.rego"), "package p2\n\nimport rego.v1\n\ndeny contains \"x\" if { false }")
	writePolicy(t, filepath.Join(dir, "broken.json"), "{not json")
	writePolicy(t, filepath.Join(dir, "README.md"), "# not a policy")

	loaded, err := loadDir(dir, zerolog.Nop())
	if err != nil {
		t.Fatalf("Failed to load directory: %v", err)
	}
	if len(loaded) != 2 {
		t.Errorf("Expected 2 policies (including subdirectory), got %d", len(loaded))
	}
}

func TestLeadingComment(t *testing.T) {
	tests := []struct {
		name    string
		content string
		want    string
	}{
		{"none", "package x", ""},
		{"single", "# Only one line\npackage x", "Only one line"},
		{"multi", "# First\n# Second\n\npackage x\n# ignored", "First Second"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := leadingComment(tt.content); got != tt.want {
				t.Errorf("leadingComment() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestEngineLoadDir(t *testing.T) {
	eng := newTestEngine(t)
	ctx := context.Background()

	if err := eng.LoadDir(ctx, filepath.Join(t.TempDir(), "missing")); err != nil {
		t.Fatalf("missing directory should be a no-op: %v", err)
	}

	dir := t.TempDir()
	writePolicy(t, filepath.Join(dir, "quiet.rego"), "package quiet\n\nimport rego.v1\n\ndeny contains \"x\" if { false }")
	if err := eng.LoadDir(ctx, dir); err != nil {
		t.Fatalf("LoadDir failed: %v", err)
	}
	if _, err := eng.GetPolicy("quiet"); err != nil {
		t.Error(err)
	}
}

func TestEngineWatchReloads(t *testing.T) {
	if testing.Short() {
		t.Skip("uses the file watcher")
	}
	eng := newTestEngine(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	dir := t.TempDir()
	writePolicy(t, filepath.Join(dir, "base.rego"), "package base\n\nimport rego.v1\n\ndeny contains \"x\" if { false }")
	if err := eng.LoadDir(ctx, dir); err != nil {
		t.Fatalf("LoadDir failed: %v", err)
	}
	if err := eng.Watch(ctx, dir); err != nil {
		t.Fatalf("Watch failed: %v", err)
	}

	writePolicy(t, filepath.Join(dir, "no-vpc.rego"), `package novpc

import rego.v1

deny contains "vpcs stay" if { input.resource.type == "vpc" }`)

	input := NewInput(OperationTerminate, "web", resource("vpc-1", engine.TypeVPC, nil))
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		decision, err := eng.Evaluate(ctx, input)
		if err != nil {
			t.Fatalf("Evaluate failed: %v", err)
		}
		if !decision.Allowed {
			return
		}
		time.Sleep(50 * time.Millisecond)
	}
	t.Fatal("new policy file was not picked up")
}
