package executor

import (
	"context"
	"fmt"
	"io"
	"log/slog"

	"github.com/spachava753/patchcheck/internal/backend"
	"github.com/spachava753/patchcheck/internal/config"
	"github.com/spachava753/patchcheck/internal/environment"
	"github.com/spachava753/patchcheck/internal/environment/docker"
	"github.com/spachava753/patchcheck/internal/environment/local"
	"github.com/spachava753/patchcheck/internal/environment/modal"
	"github.com/spachava753/patchcheck/internal/models"
	"github.com/spachava753/patchcheck/internal/patch"
	"github.com/spachava753/patchcheck/internal/util"
)

// OverrideConverter turns resolved patches into the backend's override
// representation.
type OverrideConverter interface {
	ConvertPatches(ctx context.Context, set models.ResolvedPatchSet) (models.OverrideSet, error)
}

// OverrideConverterFunc adapts a function to OverrideConverter.
type OverrideConverterFunc func(ctx context.Context, set models.ResolvedPatchSet) (models.OverrideSet, error)

func (f OverrideConverterFunc) ConvertPatches(ctx context.Context, set models.ResolvedPatchSet) (models.OverrideSet, error) {
	return f(ctx, set)
}

// BuildOverrides runs conv on a copy of set. The result is never nil.
func BuildOverrides(ctx context.Context, conv OverrideConverter, set models.ResolvedPatchSet) (models.OverrideSet, error) {
	if conv == nil {
		return nil, models.Errorf(models.ErrInternalError, "no override converter configured")
	}
	out, err := conv.ConvertPatches(ctx, set.Clone())
	if err != nil {
		return nil, models.AsTyped(models.ErrDependencyFetch, fmt.Errorf("converting patches: %w", err))
	}
	if out == nil {
		out = models.EmptyOverrides{}
	}
	if len(set) == 0 && out.Len() != 0 {
		return nil, models.Errorf(models.ErrInternalError, "converter returned %d overrides for an empty patch set", out.Len())
	}
	return out, nil
}

// Options configures a Pipeline run.
type Options struct {
	Manifest     string
	Lockfile     string
	Script       string
	Overlay      []map[string]any
	Strict       bool
	KeepWorkTree bool
}

// Pipeline runs manifest loading, patch resolution, override conversion,
// the build and result recording, in that order.
type Pipeline struct {
	Converter OverrideConverter
	Backend   Backend
	Recorder  *Recorder
	Options   Options
}

// Prepared is the output of the steps that run before the build.
type Prepared struct {
	Manifest  models.PackageManifest
	Patches   models.ResolvedPatchSet
	Overrides models.OverrideSet
}

// Prepare loads the manifest, resolves patch paths and converts them into
// overrides. Nothing is fetched or built.
func (p *Pipeline) Prepare(ctx context.Context) (*Prepared, error) {
	m, err := config.LoadManifest(p.Options.Manifest, p.Options.Overlay)
	if err != nil {
		return nil, err
	}
	slog.Debug("loaded manifest", "path", m.Path, "patched_dependencies", len(m.PatchedDependencies))

	set, err := patch.ResolveManifest(m, patch.Options{Strict: p.Options.Strict})
	if err != nil {
		return nil, err
	}
	for name, path := range set {
		slog.Debug("resolved patch", "dependency", name, "path", path)
	}

	overrides, err := BuildOverrides(ctx, p.Converter, set)
	if err != nil {
		return nil, err
	}
	return &Prepared{Manifest: m, Patches: set, Overrides: overrides}, nil
}

// Run executes the whole pipeline. The returned RunResult is nil only when
// the build never started; the report is written in every case.
func (p *Pipeline) Run(ctx context.Context) (*models.RunResult, error) {
	if p.Recorder == nil {
		return nil, models.Errorf(models.ErrInternalError, "no recorder configured")
	}
	if err := p.Recorder.Reset(); err != nil {
		return nil, err
	}

	prep, err := p.Prepare(ctx)
	if err != nil {
		p.report(&models.RunResult{Manifest: p.Options.Manifest, Error: models.NewBuildError(err)})
		return nil, err
	}

	run := &models.RunResult{
		Package:   prep.Manifest.Name,
		Manifest:  prep.Manifest.Path,
		Patches:   prep.Patches,
		Overrides: prep.Overrides.Len(),
	}

	orch := NewBuildOrchestrator(p.Backend, p.Options.KeepWorkTree)
	req := models.FetchRequest{
		Manifest:  prep.Manifest,
		LockPath:  p.Options.Lockfile,
		Overrides: prep.Overrides,
	}
	build, err := orch.Build(ctx, req, p.Options.Script)
	run.Build = build
	if err != nil {
		run.Error = models.NewBuildError(err)
		p.report(run)
		return run, err
	}

	if err := p.Recorder.Record(build); err != nil {
		run.Error = models.NewBuildError(err)
		p.report(run)
		return run, err
	}
	run.Success = true
	run.Output = p.Recorder.Output
	slog.Info("patch test passed", "output", run.Output)

	p.report(run)
	return run, nil
}

func (p *Pipeline) report(run *models.RunResult) {
	if err := p.Recorder.WriteReport(run); err != nil {
		slog.Warn("failed to write report", "error", err)
	}
}

// NewProvider creates the environment provider named by cfg.Type.
func NewProvider(cfg models.EnvConfig) (environment.Provider, error) {
	switch cfg.Type {
	case "", "local":
		return local.NewProvider(), nil
	case "docker":
		return docker.NewProvider(), nil
	case "modal":
		p, err := modal.NewProvider(modal.ParseProviderConfig(cfg.ProviderConfig))
		if err != nil {
			return nil, err
		}
		return p, nil
	default:
		return nil, models.Errorf(models.ErrConfigInvalid, "unsupported environment type: %s", cfg.Type)
	}
}

// NewPipelineFromConfig wires the bundled backend and the configured
// provider into a Pipeline. Script output goes to stdout and stderr.
func NewPipelineFromConfig(cfg models.JobConfig, stdout, stderr io.Writer) (*Pipeline, error) {
	provider, err := NewProvider(cfg.Environment)
	if err != nil {
		return nil, fmt.Errorf("creating provider: %w", err)
	}
	memoryMB, err := util.ParseMemory(cfg.Environment.Memory)
	if err != nil {
		return nil, models.Errorf(models.ErrConfigInvalid, "environment.memory: %w", err)
	}

	bun := backend.New(backend.Options{
		Provider:     provider,
		Image:        cfg.Environment.Image,
		BuildContext: cfg.Environment.BuildContext,
		Pull:         cfg.Environment.Pull,
		CPUs:         cfg.Environment.CPUs,
		MemoryMB:     memoryMB,
		Env:          cfg.Environment.Env,
		Registry:     cfg.Fetch.Registry,
		Concurrency:  cfg.Fetch.Concurrency,
		Stdout:       stdout,
		Stderr:       stderr,
	})

	return &Pipeline{
		Converter: bun,
		Backend:   bun,
		Recorder:  &Recorder{Output: cfg.Output, Report: cfg.Report},
		Options: Options{
			Manifest:     cfg.Manifest,
			Lockfile:     cfg.Lockfile,
			Script:       cfg.BuildScript,
			Overlay:      cfg.ManifestOverlay,
			Strict:       cfg.StrictPatchPaths,
			KeepWorkTree: cfg.KeepWorkTree,
		},
	}, nil
}

// RunFromConfig loads a config file and runs the pipeline it describes.
func RunFromConfig(ctx context.Context, configPath string, stdout, stderr io.Writer) (*models.RunResult, error) {
	cfg, err := config.LoadJobConfig(configPath)
	if err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}
	p, err := NewPipelineFromConfig(cfg, stdout, stderr)
	if err != nil {
		return nil, err
	}
	return p.Run(ctx)
}
