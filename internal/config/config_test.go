package config_test

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/spachava753/patchcheck/internal/config"
	"github.com/spachava753/patchcheck/internal/models"
)

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		t.Fatalf("creating dir: %v", err)
	}
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("writing %s: %v", name, err)
	}
	return path
}

func TestLoadJobConfigYAML(t *testing.T) {
	jobYaml := `manifest: pkg/package.json
build_script: compile
output: out/marker.txt
log_level: debug
strict_patch_paths: true
manifest_overlay:
  - op: add
    path: /patchedDependencies
    value:
      left-pad: patches/left-pad.patch
fetch:
  registry: https://npm.example.com
  concurrency: 8
environment:
  type: docker
  image: node:20
  memory: 4G
  env:
    CI: "1"
`
	tmpDir := t.TempDir()
	path := writeFile(t, tmpDir, "patchcheck.yaml", jobYaml)

	cfg, err := config.LoadJobConfig(path)
	if err != nil {
		t.Fatalf("LoadJobConfig failed: %v", err)
	}

	if cfg.Manifest != filepath.Join(tmpDir, "pkg", "package.json") {
		t.Errorf("expected manifest resolved against config dir, got %s", cfg.Manifest)
	}
	if cfg.Output != filepath.Join(tmpDir, "out", "marker.txt") {
		t.Errorf("expected output resolved against config dir, got %s", cfg.Output)
	}
	if cfg.BuildScript != "compile" {
		t.Errorf("expected build_script compile, got %s", cfg.BuildScript)
	}
	if !cfg.StrictPatchPaths {
		t.Error("expected strict_patch_paths true")
	}
	if cfg.Fetch.Concurrency != 8 {
		t.Errorf("expected concurrency 8, got %d", cfg.Fetch.Concurrency)
	}
	if cfg.Environment.Type != "docker" {
		t.Errorf("expected environment type docker, got %s", cfg.Environment.Type)
	}
	if cfg.Environment.Env["CI"] != "1" {
		t.Errorf("expected env CI=1, got %q", cfg.Environment.Env["CI"])
	}
	if len(cfg.ManifestOverlay) != 1 || cfg.ManifestOverlay[0]["op"] != "add" {
		t.Errorf("unexpected overlay: %v", cfg.ManifestOverlay)
	}
}

func TestLoadJobConfigTOML(t *testing.T) {
	jobToml := `manifest = "package.json"
lockfile = "locks/bun.lock"
report = "report.json"

[fetch]
concurrency = 2

[environment]
type = "modal"
image = "oven/bun:1"

[environment.provider_config]
app_name = "patchcheck-ci"
`
	tmpDir := t.TempDir()
	path := writeFile(t, tmpDir, "patchcheck.toml", jobToml)

	cfg, err := config.LoadJobConfig(path)
	if err != nil {
		t.Fatalf("LoadJobConfig failed: %v", err)
	}

	if cfg.Lockfile != filepath.Join(tmpDir, "locks", "bun.lock") {
		t.Errorf("unexpected lockfile %s", cfg.Lockfile)
	}
	if cfg.Report != filepath.Join(tmpDir, "report.json") {
		t.Errorf("unexpected report %s", cfg.Report)
	}
	if cfg.Fetch.Concurrency != 2 {
		t.Errorf("expected concurrency 2, got %d", cfg.Fetch.Concurrency)
	}
	if cfg.Fetch.Registry != config.DefaultRegistry {
		t.Errorf("expected default registry, got %s", cfg.Fetch.Registry)
	}
	if cfg.Environment.ProviderConfig["app_name"] != "patchcheck-ci" {
		t.Errorf("unexpected provider config: %v", cfg.Environment.ProviderConfig)
	}
	if cfg.BuildScript != config.DefaultBuildScript {
		t.Errorf("expected default build script, got %s", cfg.BuildScript)
	}
}

func TestLoadJobConfigInvalid(t *testing.T) {
	tests := []struct {
		name    string
		file    string
		content string
	}{
		{"unknown environment", "c.yaml", "environment:\n  type: k8s\n"},
		{"bad memory", "c.yaml", "environment:\n  memory: 12Q\n"},
		{"bad log level", "c.yaml", "log_level: loud\n"},
		{"container without image", "c.yaml", "environment:\n  type: docker\n  image: \"\"\n"},
		{"overlay without op", "c.yaml", "manifest_overlay:\n  - path: /name\n"},
		{"unsupported extension", "c.ini", "manifest=package.json\n"},
		{"malformed yaml", "c.yaml", "fetch: [\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := writeFile(t, t.TempDir(), tt.file, tt.content)
			_, err := config.LoadJobConfig(path)
			if err == nil {
				t.Fatal("expected error, got nil")
			}
			if got := models.ErrorTypeOf(err); got != models.ErrConfigInvalid {
				t.Errorf("expected %s, got %s (%v)", models.ErrConfigInvalid, got, err)
			}
		})
	}
}

func TestDefaultJobConfig(t *testing.T) {
	cfg := config.DefaultJobConfig()

	if cfg.BuildScript != "build" {
		t.Errorf("expected default build_script 'build', got %s", cfg.BuildScript)
	}
	if cfg.Output != "patch-test.txt" {
		t.Errorf("expected default output patch-test.txt, got %s", cfg.Output)
	}
	if cfg.Environment.Type != "local" {
		t.Errorf("expected default environment type local, got %s", cfg.Environment.Type)
	}
	if cfg.Fetch.Concurrency != 4 {
		t.Errorf("expected default concurrency 4, got %d", cfg.Fetch.Concurrency)
	}
	if err := config.Validate(cfg); err != nil {
		t.Errorf("default config should validate: %v", err)
	}
}

func TestLoadManifestWithoutPatches(t *testing.T) {
	path := writeFile(t, t.TempDir(), "package.json", `{}`)

	m, err := config.LoadManifest(path, nil)
	if err != nil {
		t.Fatalf("LoadManifest failed: %v", err)
	}
	if m.PatchedDependencies == nil {
		t.Fatal("PatchedDependencies should default to an empty map, got nil")
	}
	if len(m.PatchedDependencies) != 0 {
		t.Errorf("expected no patches, got %v", m.PatchedDependencies)
	}
	if m.Path != path {
		t.Errorf("expected path %s, got %s", path, m.Path)
	}
}

func TestLoadManifestWithPatches(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "package.json", `{
  "name": "patch-fixture",
  "version": "1.0.0",
  "scripts": {"build": "node build.js"},
  "patchedDependencies": {"left-pad": "patches/left-pad.patch"}
}`)

	m, err := config.LoadManifest(path, nil)
	if err != nil {
		t.Fatalf("LoadManifest failed: %v", err)
	}

	want := map[string]string{"left-pad": "patches/left-pad.patch"}
	if diff := cmp.Diff(want, m.PatchedDependencies); diff != "" {
		t.Errorf("patchedDependencies mismatch (-want +got):\n%s", diff)
	}
	if cmd, ok := m.Script("build"); !ok || cmd != "node build.js" {
		t.Errorf("unexpected build script %q", cmd)
	}
	if m.Dir() != dir {
		t.Errorf("expected dir %s, got %s", dir, m.Dir())
	}
}

func TestLoadManifestNullPatches(t *testing.T) {
	path := writeFile(t, t.TempDir(), "package.json", `{"patchedDependencies": null}`)

	m, err := config.LoadManifest(path, nil)
	if err != nil {
		t.Fatalf("LoadManifest failed: %v", err)
	}
	if m.PatchedDependencies == nil || len(m.PatchedDependencies) != 0 {
		t.Errorf("expected empty map, got %#v", m.PatchedDependencies)
	}
}

func TestLoadManifestErrors(t *testing.T) {
	tests := []struct {
		name    string
		content *string
		want    models.ErrorType
	}{
		{"missing file", nil, models.ErrManifestNotFound},
		{"invalid json", ptr(`{"name": `), models.ErrManifestParse},
		{"empty file", ptr(``), models.ErrManifestParse},
		{"patches wrong shape", ptr(`{"patchedDependencies": ["left-pad"]}`), models.ErrManifestParse},
		{"patch path not a string", ptr(`{"patchedDependencies": {"left-pad": 3}}`), models.ErrManifestParse},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dir := t.TempDir()
			path := filepath.Join(dir, "package.json")
			if tt.content != nil {
				writeFile(t, dir, "package.json", *tt.content)
			}

			_, err := config.LoadManifest(path, nil)
			if err == nil {
				t.Fatal("expected error, got nil")
			}
			if !errors.Is(err, &models.Error{Type: tt.want}) {
				t.Errorf("expected %s, got %v", tt.want, err)
			}
		})
	}
}

func TestLoadManifestOverlay(t *testing.T) {
	path := writeFile(t, t.TempDir(), "package.json", `{"name": "fixture"}`)

	overlay := []map[string]any{
		{
			"op":    "add",
			"path":  "/patchedDependencies",
			"value": map[string]any{"is-even@1.0.0": "patches/is-even.patch"},
		},
	}

	m, err := config.LoadManifest(path, overlay)
	if err != nil {
		t.Fatalf("LoadManifest failed: %v", err)
	}
	if m.PatchedDependencies["is-even@1.0.0"] != "patches/is-even.patch" {
		t.Errorf("overlay not applied: %v", m.PatchedDependencies)
	}
	if m.Name != "fixture" {
		t.Errorf("expected name fixture, got %s", m.Name)
	}
}

func TestLoadManifestOverlayFailure(t *testing.T) {
	path := writeFile(t, t.TempDir(), "package.json", `{"name": "fixture"}`)

	overlay := []map[string]any{
		{"op": "replace", "path": "/patchedDependencies/left-pad", "value": "x.patch"},
	}

	_, err := config.LoadManifest(path, overlay)
	if got := models.ErrorTypeOf(err); got != models.ErrManifestParse {
		t.Errorf("expected %s, got %s (%v)", models.ErrManifestParse, got, err)
	}
}

func ptr[T any](v T) *T {
	return &v
}
