// Package docker runs build scripts in local Docker containers via the
// docker CLI.
package docker

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/spachava753/patchcheck/internal/environment"
)

// Provider implements the Docker environment provider.
type Provider struct{}

// NewProvider creates a new Docker provider.
func NewProvider() *Provider {
	return &Provider{}
}

// Name returns the provider name.
func (p *Provider) Name() string {
	return "docker"
}

// BuildImage builds a Docker image from the given context directory.
func (p *Provider) BuildImage(ctx context.Context, opts environment.BuildImageOptions) (string, error) {
	args := []string{"build", "-t", opts.Tag}
	if opts.NoCache {
		args = append(args, "--no-cache")
	}
	args = append(args, opts.ContextDir)

	if opts.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, opts.Timeout)
		defer cancel()
	}

	slog.Debug("building docker image", "tag", opts.Tag, "context", opts.ContextDir)
	cmd := exec.CommandContext(ctx, "docker", args...)
	cmd.Stdout = os.Stderr
	cmd.Stderr = os.Stderr

	if err := cmd.Run(); err != nil {
		return "", fmt.Errorf("building docker image: %w", err)
	}

	return opts.Tag, nil
}

// PullImage pulls a pre-built image from a registry.
func (p *Provider) PullImage(ctx context.Context, imageRef string) error {
	slog.Debug("pulling docker image", "image", imageRef)
	cmd := exec.CommandContext(ctx, "docker", "pull", imageRef)
	cmd.Stdout = os.Stderr
	cmd.Stderr = os.Stderr

	if err := cmd.Run(); err != nil {
		return fmt.Errorf("pulling docker image: %w", err)
	}

	return nil
}

// CreateEnvironment creates and starts a Docker container.
func (p *Provider) CreateEnvironment(ctx context.Context, opts environment.CreateEnvironmentOptions) (environment.Environment, error) {
	containerID := opts.Name
	if containerID == "" {
		containerID = fmt.Sprintf("patchcheck-%d", time.Now().UnixNano())
	}

	args := runArgs(containerID, opts)
	slog.Debug("creating docker container", "name", containerID, "image", opts.ImageRef)

	cmd := exec.CommandContext(ctx, "docker", args...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		return nil, fmt.Errorf("creating docker container: %w: %s", err, stderr.String())
	}

	return &DockerEnvironment{
		containerID: containerID,
	}, nil
}

func runArgs(containerID string, opts environment.CreateEnvironmentOptions) []string {
	args := []string{
		"run",
		"-d",
		"--name", containerID,
	}

	if opts.CPUs > 0 {
		args = append(args, "--cpus", strconv.Itoa(opts.CPUs))
	}
	if opts.MemoryMB > 0 {
		args = append(args, "--memory", fmt.Sprintf("%dm", opts.MemoryMB))
	}

	for k, v := range opts.Env {
		args = append(args, "-e", fmt.Sprintf("%s=%s", k, v))
	}

	args = append(args, opts.ImageRef)
	// Keep container running with sleep infinity
	args = append(args, "sleep", "infinity")
	return args
}

// DockerEnvironment represents a running Docker container.
type DockerEnvironment struct {
	containerID string
}

// ID returns the container ID.
func (e *DockerEnvironment) ID() string {
	return e.containerID
}

// CopyTo copies a local file or directory into the container. A directory's
// contents land directly in dst.
func (e *DockerEnvironment) CopyTo(ctx context.Context, src, dst string) error {
	info, err := os.Stat(src)
	if err != nil {
		return fmt.Errorf("stat source: %w", err)
	}

	mkdir := filepath.Dir(dst)
	if info.IsDir() {
		mkdir = dst
		src = filepath.Clean(src) + "/."
	}
	if mkdir != "/" && mkdir != "." {
		mkdirCmd := exec.CommandContext(ctx, "docker", "exec", e.containerID, "mkdir", "-p", mkdir)
		if err := mkdirCmd.Run(); err != nil {
			return fmt.Errorf("creating directory %s: %w", mkdir, err)
		}
	}

	cmd := exec.CommandContext(ctx, "docker", "cp", src, fmt.Sprintf("%s:%s", e.containerID, dst))
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		return fmt.Errorf("copying to container: %w: %s", err, stderr.String())
	}
	return nil
}

// Exec executes a command in the container.
func (e *DockerEnvironment) Exec(ctx context.Context, cmd string, stdout, stderr io.Writer, opts environment.ExecOptions) (int, error) {
	if opts.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, opts.Timeout)
		defer cancel()
	}

	execCmd := exec.CommandContext(ctx, "docker", execArgs(e.containerID, cmd, opts)...)
	execCmd.Stdout = stdout
	execCmd.Stderr = stderr

	err := execCmd.Run()
	if err != nil {
		if ctx.Err() == context.DeadlineExceeded {
			return -1, fmt.Errorf("command timed out")
		}
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) && ctx.Err() == nil {
			return exitErr.ExitCode(), nil
		}
		return -1, fmt.Errorf("executing command: %w", err)
	}

	return 0, nil
}

func execArgs(containerID, cmd string, opts environment.ExecOptions) []string {
	args := []string{"exec"}

	for k, v := range opts.Env {
		args = append(args, "-e", fmt.Sprintf("%s=%s", k, v))
	}

	if opts.WorkDir != "" {
		args = append(args, "-w", opts.WorkDir)
	}

	return append(args, containerID, "sh", "-c", cmd)
}

// Destroy removes the container and cleans up resources.
func (e *DockerEnvironment) Destroy(ctx context.Context) error {
	slog.Debug("removing docker container", "name", e.containerID)
	cmd := exec.CommandContext(ctx, "docker", "rm", "-f", e.containerID)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		// Ignore error if container already removed
		if !strings.Contains(stderr.String(), "No such container") {
			return fmt.Errorf("removing container: %w", err)
		}
	}
	return nil
}
