package executor_test

import (
	"context"
	"errors"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/segmentio/encoding/json"

	"github.com/spachava753/patchcheck/internal/executor"
	"github.com/spachava753/patchcheck/internal/models"
)

// trace records the order in which pipeline stages ran.
type trace struct {
	events []string
}

func (tr *trace) add(ev string) { tr.events = append(tr.events, ev) }

type fakeOverrides struct {
	set models.ResolvedPatchSet
}

func (f *fakeOverrides) Len() int { return len(f.set) }

type fakeConverter struct {
	tr  *trace
	got models.ResolvedPatchSet
	err error
	out *fakeOverrides
}

func (c *fakeConverter) ConvertPatches(ctx context.Context, set models.ResolvedPatchSet) (models.OverrideSet, error) {
	c.tr.add("convert")
	c.got = set
	if c.err != nil {
		return nil, c.err
	}
	if len(set) == 0 {
		return nil, nil
	}
	c.out = &fakeOverrides{set: set}
	return c.out, nil
}

type fakeBackend struct {
	tr       *trace
	fetchErr error
	runErr   error
	exitCode int
	// nilTree and nilResult make the backend return (nil, nil).
	nilTree   bool
	nilResult bool

	gotReq    models.FetchRequest
	gotScript string
	cleaned   bool
}

func (b *fakeBackend) Fetch(ctx context.Context, req models.FetchRequest) (*models.WorkTree, error) {
	b.tr.add("fetch")
	b.gotReq = req
	if b.fetchErr != nil {
		return nil, b.fetchErr
	}
	if b.nilTree {
		return nil, nil
	}
	return &models.WorkTree{Dir: "/work", Manifest: req.Manifest, Patched: []string{"left-pad"}}, nil
}

func (b *fakeBackend) RunScript(ctx context.Context, wt *models.WorkTree, script string) (*models.ScriptResult, error) {
	b.tr.add("run")
	b.gotScript = script
	if b.runErr != nil {
		return nil, b.runErr
	}
	if b.nilResult {
		return nil, nil
	}
	return &models.ScriptResult{ExitCode: b.exitCode}, nil
}

func (b *fakeBackend) Cleanup(ctx context.Context, wt *models.WorkTree) error {
	b.tr.add("cleanup")
	b.cleaned = true
	return nil
}

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, filepath.FromSlash(name))
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}
	return path
}

func newPipeline(t *testing.T, manifest string) (*executor.Pipeline, *fakeConverter, *fakeBackend, *trace) {
	t.Helper()
	dir := t.TempDir()
	tr := &trace{}
	conv := &fakeConverter{tr: tr}
	be := &fakeBackend{tr: tr}
	p := &executor.Pipeline{
		Converter: conv,
		Backend:   be,
		Recorder:  &executor.Recorder{Output: filepath.Join(dir, "out", "patch-test.txt")},
		Options: executor.Options{
			Manifest: writeFile(t, dir, "package.json", manifest),
			Script:   "build",
		},
	}
	return p, conv, be, tr
}

func TestPipelineWithoutPatches(t *testing.T) {
	p, conv, be, tr := newPipeline(t, `{}`)

	run, err := p.Run(context.Background())
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	if conv.got == nil || len(conv.got) != 0 {
		t.Errorf("converter should receive an empty set, got %#v", conv.got)
	}
	if _, ok := be.gotReq.Overrides.(models.EmptyOverrides); !ok {
		t.Errorf("backend should receive EmptyOverrides, got %T", be.gotReq.Overrides)
	}
	if diff := cmp.Diff([]string{"convert", "fetch", "run", "cleanup"}, tr.events); diff != "" {
		t.Errorf("stage order mismatch (-want +got):\n%s", diff)
	}

	data, err := os.ReadFile(p.Recorder.Output)
	if err != nil {
		t.Fatalf("reading marker: %v", err)
	}
	if string(data) != "Patch test passed!\n" {
		t.Errorf("unexpected marker content %q", data)
	}
	if run.Output != p.Recorder.Output {
		t.Errorf("expected output %s, got %s", p.Recorder.Output, run.Output)
	}
	if !run.Build.Success || run.Build.State != models.StateSucceeded {
		t.Errorf("expected succeeded build, got %+v", run.Build)
	}
}

func TestPipelineResolvesPatchPaths(t *testing.T) {
	p, conv, be, _ := newPipeline(t, `{"patchedDependencies": {"left-pad": "patches/left-pad.patch"}}`)
	dir := filepath.Dir(p.Options.Manifest)

	run, err := p.Run(context.Background())
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	want := models.ResolvedPatchSet{"left-pad": filepath.Join(dir, "patches", "left-pad.patch")}
	if diff := cmp.Diff(want, conv.got); diff != "" {
		t.Errorf("converter input mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff(want, run.Patches); diff != "" {
		t.Errorf("run patches mismatch (-want +got):\n%s", diff)
	}
	if be.gotReq.Overrides != models.OverrideSet(conv.out) {
		t.Error("backend should receive the converter's override set unmodified")
	}
	if run.Overrides != 1 {
		t.Errorf("expected 1 override, got %d", run.Overrides)
	}
	if be.gotScript != "build" {
		t.Errorf("expected script build, got %s", be.gotScript)
	}
}

func TestPipelineBuildFailure(t *testing.T) {
	p, _, be, _ := newPipeline(t, `{}`)
	be.exitCode = 1
	writeFile(t, filepath.Dir(p.Recorder.Output), "patch-test.txt", "Patch test passed!\n")

	run, err := p.Run(context.Background())
	if err == nil {
		t.Fatal("expected error, got nil")
	}
	if !errors.Is(err, &models.Error{Type: models.ErrBuildScript}) {
		t.Errorf("expected %s, got %v", models.ErrBuildScript, err)
	}
	if _, statErr := os.Stat(p.Recorder.Output); !os.IsNotExist(statErr) {
		t.Error("no marker should exist after a failed build")
	}
	if run == nil || run.Build == nil {
		t.Fatal("expected a run result with the failed build")
	}
	if run.Build.State != models.StateFailed {
		t.Errorf("expected state failed, got %s", run.Build.State)
	}
	if run.Output != "" {
		t.Errorf("expected empty output, got %s", run.Output)
	}
	if !be.cleaned {
		t.Error("work tree should be cleaned up after a failed build")
	}
}

func TestPipelineEarlyFailures(t *testing.T) {
	tests := []struct {
		name     string
		manifest *string
		strict   bool
		convErr  error
		want     models.ErrorType
		events   []string
	}{
		{
			name:   "missing manifest",
			want:   models.ErrManifestNotFound,
			events: nil,
		},
		{
			name:     "malformed manifest",
			manifest: ptr(`{"patchedDependencies": `),
			want:     models.ErrManifestParse,
			events:   nil,
		},
		{
			name:     "strict resolution rejects escaping path",
			manifest: ptr(`{"patchedDependencies": {"left-pad": "../left-pad.patch"}}`),
			strict:   true,
			want:     models.ErrPatchPathResolution,
			events:   nil,
		},
		{
			name:     "converter error",
			manifest: ptr(`{"patchedDependencies": {"left-pad": "p.patch"}}`),
			convErr:  errors.New("boom"),
			want:     models.ErrDependencyFetch,
			events:   []string{"convert"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p, conv, _, tr := newPipeline(t, `{}`)
			if tt.manifest == nil {
				os.Remove(p.Options.Manifest)
			} else {
				writeFile(t, filepath.Dir(p.Options.Manifest), "package.json", *tt.manifest)
			}
			p.Options.Strict = tt.strict
			conv.err = tt.convErr

			run, err := p.Run(context.Background())
			if got := models.ErrorTypeOf(err); got != tt.want {
				t.Errorf("expected %s, got %s (%v)", tt.want, got, err)
			}
			if run != nil {
				t.Errorf("expected no run result, got %+v", run)
			}
			if diff := cmp.Diff(tt.events, tr.events); diff != "" {
				t.Errorf("stage mismatch (-want +got):\n%s", diff)
			}
			if _, statErr := os.Stat(p.Recorder.Output); !os.IsNotExist(statErr) {
				t.Error("no marker should be written")
			}
		})
	}
}

func TestPipelineReplacesStaleReport(t *testing.T) {
	p, _, _, _ := newPipeline(t, `{"name": "fixture"}`)
	p.Recorder.Report = filepath.Join(filepath.Dir(p.Recorder.Output), "report.json")

	if _, err := p.Run(context.Background()); err != nil {
		t.Fatalf("first run failed: %v", err)
	}

	writeFile(t, filepath.Dir(p.Options.Manifest), "package.json", `{"name": `)
	if _, err := p.Run(context.Background()); models.ErrorTypeOf(err) != models.ErrManifestParse {
		t.Fatalf("expected %s, got %v", models.ErrManifestParse, err)
	}

	data, err := os.ReadFile(p.Recorder.Report)
	if err != nil {
		t.Fatalf("reading report: %v", err)
	}
	var got models.RunResult
	if err := json.Unmarshal(data, &got); err != nil {
		t.Fatalf("decoding report: %v", err)
	}
	if got.Success || got.Build != nil {
		t.Errorf("report still describes the earlier run: %+v", got)
	}
	if got.Error == nil || got.Error.Type != models.ErrManifestParse {
		t.Errorf("expected %s in report, got %+v", models.ErrManifestParse, got.Error)
	}
	if got.Manifest != p.Options.Manifest {
		t.Errorf("expected manifest %s, got %s", p.Options.Manifest, got.Manifest)
	}
	if _, err := os.Stat(p.Recorder.Output); !os.IsNotExist(err) {
		t.Error("marker from the earlier run should be removed")
	}
}

func TestOrchestratorStates(t *testing.T) {
	tests := []struct {
		name     string
		fetchErr error
		runErr    error
		exitCode  int
		nilTree   bool
		nilResult bool
		wantErr   models.ErrorType
		history   []models.BuildState
	}{
		{
			name: "success",
			history: []models.BuildState{
				models.StateNotStarted, models.StateFetchingDependencies, models.StateBuilding, models.StateSucceeded,
			},
		},
		{
			name:     "untyped fetch error",
			fetchErr: errors.New("registry unreachable"),
			wantErr:  models.ErrDependencyFetch,
			history: []models.BuildState{
				models.StateNotStarted, models.StateFetchingDependencies, models.StateFailed,
			},
		},
		{
			name:     "typed fetch error is kept",
			fetchErr: models.Errorf(models.ErrInternalError, "disk full"),
			wantErr:  models.ErrInternalError,
			history: []models.BuildState{
				models.StateNotStarted, models.StateFetchingDependencies, models.StateFailed,
			},
		},
		{
			name:    "script error",
			runErr:  errors.New("no such script"),
			wantErr: models.ErrBuildScript,
			history: []models.BuildState{
				models.StateNotStarted, models.StateFetchingDependencies, models.StateBuilding, models.StateFailed,
			},
		},
		{
			name:    "backend returns no work tree",
			nilTree: true,
			wantErr: models.ErrInternalError,
			history: []models.BuildState{
				models.StateNotStarted, models.StateFetchingDependencies, models.StateFailed,
			},
		},
		{
			name:      "backend returns no script result",
			nilResult: true,
			wantErr:   models.ErrInternalError,
			history: []models.BuildState{
				models.StateNotStarted, models.StateFetchingDependencies, models.StateBuilding, models.StateFailed,
			},
		},
		{
			name:     "non-zero exit",
			exitCode: 3,
			wantErr:  models.ErrBuildScript,
			history: []models.BuildState{
				models.StateNotStarted, models.StateFetchingDependencies, models.StateBuilding, models.StateFailed,
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			be := &fakeBackend{
				tr:        &trace{},
				fetchErr:  tt.fetchErr,
				runErr:    tt.runErr,
				exitCode:  tt.exitCode,
				nilTree:   tt.nilTree,
				nilResult: tt.nilResult,
			}
			orch := executor.NewBuildOrchestrator(be, false)

			res, err := orch.Build(context.Background(), models.FetchRequest{}, "build")
			if res == nil {
				t.Fatal("result should never be nil")
			}
			if got := models.ErrorTypeOf(err); got != tt.wantErr {
				t.Errorf("expected error type %q, got %q (%v)", tt.wantErr, got, err)
			}
			if diff := cmp.Diff(tt.history, orch.History()); diff != "" {
				t.Errorf("history mismatch (-want +got):\n%s", diff)
			}
			if res.State != orch.State() {
				t.Errorf("result state %s does not match orchestrator state %s", res.State, orch.State())
			}
			if res.Success != (tt.wantErr == "") {
				t.Errorf("expected success %v, got %v", tt.wantErr == "", res.Success)
			}
			if tt.wantErr != "" && (res.Error == nil || res.Error.Type != tt.wantErr) {
				t.Errorf("expected result error of type %s, got %+v", tt.wantErr, res.Error)
			}
			if res.Durations.FetchSec == nil {
				t.Error("fetch duration should be recorded")
			}
			if tt.fetchErr != nil && res.Durations.BuildSec != nil {
				t.Error("build duration should be nil when the fetch failed")
			}
			if tt.exitCode != 0 && (res.ExitCode == nil || *res.ExitCode != tt.exitCode) {
				t.Errorf("expected exit code %d, got %v", tt.exitCode, res.ExitCode)
			}
			if tt.fetchErr == nil && !tt.nilTree && !be.cleaned {
				t.Error("work tree should be cleaned up")
			}
		})
	}
}

func TestOrchestratorSingleUse(t *testing.T) {
	be := &fakeBackend{tr: &trace{}}
	orch := executor.NewBuildOrchestrator(be, false)
	if _, err := orch.Build(context.Background(), models.FetchRequest{}, "build"); err != nil {
		t.Fatalf("first Build failed: %v", err)
	}

	_, err := orch.Build(context.Background(), models.FetchRequest{}, "build")
	if got := models.ErrorTypeOf(err); got != models.ErrInternalError {
		t.Errorf("expected %s on reuse, got %s (%v)", models.ErrInternalError, got, err)
	}
	if orch.State() != models.StateSucceeded {
		t.Errorf("terminal state should not change, got %s", orch.State())
	}
}

func TestOrchestratorKeepWorkTree(t *testing.T) {
	be := &fakeBackend{tr: &trace{}}
	orch := executor.NewBuildOrchestrator(be, true)
	if _, err := orch.Build(context.Background(), models.FetchRequest{}, "build"); err != nil {
		t.Fatalf("Build failed: %v", err)
	}
	if be.cleaned {
		t.Error("work tree should be kept")
	}
	if _, ok := be.gotReq.Overrides.(models.EmptyOverrides); !ok {
		t.Errorf("nil overrides should be replaced with EmptyOverrides, got %T", be.gotReq.Overrides)
	}
}

func TestBuildOverrides(t *testing.T) {
	ctx := context.Background()

	t.Run("nil result becomes empty", func(t *testing.T) {
		conv := executor.OverrideConverterFunc(func(ctx context.Context, set models.ResolvedPatchSet) (models.OverrideSet, error) {
			return nil, nil
		})
		out, err := executor.BuildOverrides(ctx, conv, models.ResolvedPatchSet{})
		if err != nil {
			t.Fatalf("BuildOverrides failed: %v", err)
		}
		if out == nil || out.Len() != 0 {
			t.Errorf("expected empty overrides, got %#v", out)
		}
	})

	t.Run("overrides from nothing", func(t *testing.T) {
		conv := executor.OverrideConverterFunc(func(ctx context.Context, set models.ResolvedPatchSet) (models.OverrideSet, error) {
			return &fakeOverrides{set: models.ResolvedPatchSet{"x": "/x.patch"}}, nil
		})
		_, err := executor.BuildOverrides(ctx, conv, models.ResolvedPatchSet{})
		if got := models.ErrorTypeOf(err); got != models.ErrInternalError {
			t.Errorf("expected %s, got %s", models.ErrInternalError, got)
		}
	})

	t.Run("converter cannot mutate input", func(t *testing.T) {
		set := models.ResolvedPatchSet{"left-pad": "/pkg/patches/left-pad.patch"}
		conv := executor.OverrideConverterFunc(func(ctx context.Context, in models.ResolvedPatchSet) (models.OverrideSet, error) {
			in["left-pad"] = "/elsewhere.patch"
			return &fakeOverrides{set: in}, nil
		})
		if _, err := executor.BuildOverrides(ctx, conv, set); err != nil {
			t.Fatalf("BuildOverrides failed: %v", err)
		}
		if set["left-pad"] != "/pkg/patches/left-pad.patch" {
			t.Errorf("input set was modified: %v", set)
		}
	})

	t.Run("nil converter", func(t *testing.T) {
		_, err := executor.BuildOverrides(ctx, nil, models.ResolvedPatchSet{})
		if got := models.ErrorTypeOf(err); got != models.ErrInternalError {
			t.Errorf("expected %s, got %s", models.ErrInternalError, got)
		}
	})
}

func TestRecorderRefusesFailedBuild(t *testing.T) {
	r := &executor.Recorder{Output: filepath.Join(t.TempDir(), "patch-test.txt")}

	for _, res := range []*models.BuildResult{
		nil,
		{State: models.StateFailed},
		{State: models.StateBuilding, Success: true},
	} {
		err := r.Record(res)
		if got := models.ErrorTypeOf(err); got != models.ErrResultRecord {
			t.Errorf("expected %s, got %s (%v)", models.ErrResultRecord, got, err)
		}
	}
	if _, err := os.Stat(r.Output); !os.IsNotExist(err) {
		t.Error("marker should not be written")
	}
}

func TestRecorderWritesReport(t *testing.T) {
	dir := t.TempDir()
	r := &executor.Recorder{
		Output: filepath.Join(dir, "nested", "patch-test.txt"),
		Report: filepath.Join(dir, "nested", "report.json"),
	}
	res := &models.BuildResult{Success: true, State: models.StateSucceeded, Script: "build"}

	if err := r.Record(res); err != nil {
		t.Fatalf("Record failed: %v", err)
	}
	run := &models.RunResult{Package: "fixture", Build: res, Output: r.Output}
	if err := r.WriteReport(run); err != nil {
		t.Fatalf("WriteReport failed: %v", err)
	}

	data, err := os.ReadFile(r.Report)
	if err != nil {
		t.Fatalf("reading report: %v", err)
	}
	var got models.RunResult
	if err := json.Unmarshal(data, &got); err != nil {
		t.Fatalf("decoding report: %v", err)
	}
	if got.Package != "fixture" || got.Build == nil || got.Build.State != models.StateSucceeded {
		t.Errorf("unexpected report %+v", got)
	}

	entries, err := os.ReadDir(filepath.Join(dir, "nested"))
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 2 {
		t.Errorf("expected only marker and report, found %d entries", len(entries))
	}
}

func TestRunFromConfigLocal(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	if _, err := exec.LookPath("patch"); err != nil {
		t.Skip("patch(1) not installed")
	}

	dir := t.TempDir()
	writeFile(t, dir, "package.json", `{
  "name": "fixture",
  "version": "1.0.0",
  "scripts": {"build": "grep -q patched node_modules/left-pad/index.js"},
  "patchedDependencies": {"left-pad": "patches/left-pad.patch"}
}`)
	writeFile(t, dir, "bun.lock", `{
  "lockfileVersion": 1,
  "packages": {
    "left-pad": ["left-pad@file:vendor/left-pad", {}],
  }
}`)
	writeFile(t, dir, "vendor/left-pad/index.js", "module.exports = \"original\";\n")
	writeFile(t, dir, "patches/left-pad.patch", `--- a/index.js
+++ b/index.js
@@ -1 +1 @@
-module.exports = "original";
+module.exports = "patched";
`)
	cfgPath := writeFile(t, dir, "patchcheck.yaml", "report: report.json\nenvironment:\n  type: local\n")

	run, err := executor.RunFromConfig(context.Background(), cfgPath, io.Discard, io.Discard)
	if err != nil {
		t.Fatalf("RunFromConfig failed: %v", err)
	}

	marker := filepath.Join(dir, "patch-test.txt")
	if run.Output != marker {
		t.Errorf("expected output %s, got %s", marker, run.Output)
	}
	data, err := os.ReadFile(marker)
	if err != nil {
		t.Fatalf("reading marker: %v", err)
	}
	if string(data) != executor.SuccessMarker {
		t.Errorf("unexpected marker %q", data)
	}
	if diff := cmp.Diff([]string{"left-pad"}, run.Build.Patched); diff != "" {
		t.Errorf("patched mismatch (-want +got):\n%s", diff)
	}
	if _, err := os.Stat(filepath.Join(dir, "report.json")); err != nil {
		t.Errorf("report should be written: %v", err)
	}
}

func ptr[T any](v T) *T {
	return &v
}
