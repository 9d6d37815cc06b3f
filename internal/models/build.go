package models

import "time"

// BuildState is a stage of a single build run.
type BuildState string

const (
	StateNotStarted           BuildState = "not_started"
	StateFetchingDependencies BuildState = "fetching_dependencies"
	StateBuilding             BuildState = "building"
	StateSucceeded            BuildState = "succeeded"
	StateFailed               BuildState = "failed"
)

// IsTerminal reports whether no further transition is possible from s.
func (s BuildState) IsTerminal() bool {
	return s == StateSucceeded || s == StateFailed
}

// CanTransition reports whether s -> to is a legal step.
func (s BuildState) CanTransition(to BuildState) bool {
	switch s {
	case StateNotStarted:
		return to == StateFetchingDependencies || to == StateFailed
	case StateFetchingDependencies:
		return to == StateBuilding || to == StateFailed
	case StateBuilding:
		return to == StateSucceeded || to == StateFailed
	default:
		return false
	}
}

// FetchRequest is what the backend needs to prepare a work tree.
type FetchRequest struct {
	Manifest  PackageManifest
	LockPath  string
	Overrides OverrideSet
}

// WorkTree is an isolated copy of the package with its dependencies
// installed and overrides applied.
type WorkTree struct {
	Dir      string
	Manifest PackageManifest
	// Packages is the number of installed dependencies.
	Packages int
	// Patched lists the dependencies that had a patch applied.
	Patched []string
}

// ScriptResult is the outcome of running a build script.
type ScriptResult struct {
	ExitCode int
	Duration time.Duration
}

// BuildResult contains the outcome of a build run.
type BuildResult struct {
	Success    bool        `json:"success"`
	State      BuildState  `json:"state"`
	Script     string      `json:"script"`
	ExitCode   *int        `json:"exit_code"`
	Patched    []string    `json:"patched"`
	Error      *BuildError `json:"error"`
	Durations  Durations   `json:"durations"`
	Timestamps Timestamps  `json:"timestamps"`
}

type BuildError struct {
	Type    ErrorType `json:"type"`
	Message string    `json:"message"`
}

type Durations struct {
	TotalSec float64  `json:"total_sec"`
	FetchSec *float64 `json:"fetch_sec"`
	BuildSec *float64 `json:"build_sec"`
}

type Timestamps struct {
	StartedAt      time.Time  `json:"started_at"`
	FetchStartedAt *time.Time `json:"fetch_started_at"`
	FetchEndedAt   *time.Time `json:"fetch_ended_at"`
	BuildStartedAt *time.Time `json:"build_started_at"`
	BuildEndedAt   *time.Time `json:"build_ended_at"`
	EndedAt        time.Time  `json:"ended_at"`
}

// RunResult summarizes one pipeline invocation.
type RunResult struct {
	Success   bool             `json:"success"`
	Package   string           `json:"package"`
	Manifest  string           `json:"manifest"`
	Patches   ResolvedPatchSet `json:"patches"`
	Overrides int              `json:"overrides"`
	Build     *BuildResult     `json:"build"`
	// Output is the marker path; empty unless the build succeeded.
	Output string `json:"output,omitempty"`
	// Error is set for every failed run, including those that stopped
	// before the build started.
	Error *BuildError `json:"error,omitempty"`
}

// NewBuildError converts err into its report form.
func NewBuildError(err error) *BuildError {
	return &BuildError{Type: ErrorTypeOf(err), Message: err.Error()}
}
