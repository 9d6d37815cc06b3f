package executor

import (
	"context"
	"log/slog"
	"time"

	"github.com/spachava753/patchcheck/internal/models"
)

// Backend fetches dependencies with overrides applied and runs scripts in
// the resulting work tree.
type Backend interface {
	Fetch(ctx context.Context, req models.FetchRequest) (*models.WorkTree, error)
	RunScript(ctx context.Context, wt *models.WorkTree, script string) (*models.ScriptResult, error)
	Cleanup(ctx context.Context, wt *models.WorkTree) error
}

// BuildOrchestrator drives one build through
// NotStarted -> FetchingDependencies -> Building -> Succeeded|Failed.
// It is single use.
type BuildOrchestrator struct {
	backend      Backend
	keepWorkTree bool

	state   models.BuildState
	history []models.BuildState
}

// NewBuildOrchestrator creates an orchestrator in the NotStarted state.
func NewBuildOrchestrator(backend Backend, keepWorkTree bool) *BuildOrchestrator {
	return &BuildOrchestrator{
		backend:      backend,
		keepWorkTree: keepWorkTree,
		state:        models.StateNotStarted,
		history:      []models.BuildState{models.StateNotStarted},
	}
}

// State returns the current state.
func (o *BuildOrchestrator) State() models.BuildState {
	return o.state
}

// History returns every state entered so far, starting with NotStarted.
func (o *BuildOrchestrator) History() []models.BuildState {
	return append([]models.BuildState(nil), o.history...)
}

func (o *BuildOrchestrator) transition(to models.BuildState) error {
	if !o.state.CanTransition(to) {
		return models.Errorf(models.ErrInternalError, "invalid build state transition %s -> %s", o.state, to)
	}
	slog.Debug("build state", "from", o.state, "to", to)
	o.state = to
	o.history = append(o.history, to)
	return nil
}

// Build fetches dependencies for req and runs script. The returned result
// is never nil; the error is non-nil exactly when the build failed.
func (o *BuildOrchestrator) Build(ctx context.Context, req models.FetchRequest, script string) (*models.BuildResult, error) {
	result := &models.BuildResult{
		State:  o.state,
		Script: script,
		Timestamps: models.Timestamps{
			StartedAt: time.Now(),
		},
	}
	defer func() {
		result.State = o.state
		result.Timestamps.EndedAt = time.Now()
		result.Durations.TotalSec = result.Timestamps.EndedAt.Sub(result.Timestamps.StartedAt).Seconds()
	}()

	if req.Overrides == nil {
		req.Overrides = models.EmptyOverrides{}
	}

	// Phase 1: dependency fetch
	if err := o.transition(models.StateFetchingDependencies); err != nil {
		result.Error = models.NewBuildError(err)
		return result, err
	}
	fetchStart := time.Now()
	result.Timestamps.FetchStartedAt = &fetchStart
	wt, err := o.backend.Fetch(ctx, req)
	fetchEnd := time.Now()
	result.Timestamps.FetchEndedAt = &fetchEnd
	fetchDur := fetchEnd.Sub(fetchStart).Seconds()
	result.Durations.FetchSec = &fetchDur

	if err != nil {
		return o.fail(result, models.AsTyped(models.ErrDependencyFetch, err))
	}
	if wt == nil {
		return o.fail(result, models.Errorf(models.ErrInternalError, "backend returned no work tree"))
	}
	defer o.cleanup(ctx, wt)
	result.Patched = wt.Patched

	// Phase 2: build script
	if err := o.transition(models.StateBuilding); err != nil {
		return o.fail(result, err)
	}
	buildStart := time.Now()
	result.Timestamps.BuildStartedAt = &buildStart
	sr, err := o.backend.RunScript(ctx, wt, script)
	buildEnd := time.Now()
	result.Timestamps.BuildEndedAt = &buildEnd
	buildDur := buildEnd.Sub(buildStart).Seconds()
	result.Durations.BuildSec = &buildDur

	if err != nil {
		return o.fail(result, models.AsTyped(models.ErrBuildScript, err))
	}
	if sr == nil {
		return o.fail(result, models.Errorf(models.ErrInternalError, "backend returned no script result"))
	}
	result.ExitCode = &sr.ExitCode
	if sr.ExitCode != 0 {
		return o.fail(result, models.Errorf(models.ErrBuildScript, "script %q exited with code %d", script, sr.ExitCode))
	}

	if err := o.transition(models.StateSucceeded); err != nil {
		return o.fail(result, err)
	}
	result.Success = true
	return result, nil
}

func (o *BuildOrchestrator) fail(result *models.BuildResult, err error) (*models.BuildResult, error) {
	if o.state.CanTransition(models.StateFailed) {
		o.transition(models.StateFailed)
	}
	result.Error = models.NewBuildError(err)
	return result, err
}

func (o *BuildOrchestrator) cleanup(ctx context.Context, wt *models.WorkTree) {
	if o.keepWorkTree {
		slog.Info("keeping work tree", "dir", wt.Dir)
		return
	}
	if err := o.backend.Cleanup(context.WithoutCancel(ctx), wt); err != nil {
		slog.Warn("failed to clean up work tree", "dir", wt.Dir, "error", err)
	}
}
