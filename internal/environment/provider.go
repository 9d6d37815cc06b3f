// Package environment defines where build scripts run. A Provider creates
// isolated Environments; the backend copies a prepared work tree into one
// and executes the build script inside it.
package environment

import (
	"context"
	"io"
	"time"
)

// WorkDir is where the work tree is placed inside every environment.
const WorkDir = "/workspace"

// Environment represents a running build sandbox.
type Environment interface {
	// ID returns the unique identifier for this environment.
	ID() string

	// CopyTo copies a local file or directory into the environment.
	CopyTo(ctx context.Context, src, dst string) error

	// Exec executes a shell command in the environment, streaming stdout and
	// stderr to the provided writers. A command that runs and fails is
	// reported through the exit code, not the error.
	Exec(ctx context.Context, cmd string, stdout, stderr io.Writer, opts ExecOptions) (int, error)

	// Destroy removes the environment and cleans up all resources.
	Destroy(ctx context.Context) error
}

// ExecOptions configures command execution.
type ExecOptions struct {
	Env     map[string]string
	Timeout time.Duration
	WorkDir string
}

// Provider is a factory for creating environments.
type Provider interface {
	// Name returns the provider name ("local", "docker", "modal").
	Name() string

	// BuildImage builds a container image from the given context directory.
	BuildImage(ctx context.Context, opts BuildImageOptions) (string, error)

	// PullImage pulls a pre-built image from a registry.
	PullImage(ctx context.Context, imageRef string) error

	// CreateEnvironment creates and starts a new environment from an image.
	CreateEnvironment(ctx context.Context, opts CreateEnvironmentOptions) (Environment, error)
}

// BuildImageOptions configures image building.
type BuildImageOptions struct {
	ContextDir string
	Tag        string
	Timeout    time.Duration
	NoCache    bool
}

// CreateEnvironmentOptions configures environment creation.
type CreateEnvironmentOptions struct {
	// Name is used as the container or app name; generated when empty.
	Name     string
	ImageRef string
	CPUs     int
	MemoryMB int
	Env      map[string]string
}
