// Package local runs build scripts on the host, each environment rooted in
// its own temporary directory.
package local

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/spachava753/patchcheck/internal/environment"
	"github.com/spachava753/patchcheck/internal/fetch"
)

// Provider implements the host environment provider. Images are ignored.
type Provider struct {
	// BaseDir is where environment roots are created; os.TempDir() if empty.
	BaseDir string
}

// NewProvider creates a new local provider.
func NewProvider() *Provider {
	return &Provider{}
}

func (p *Provider) Name() string {
	return "local"
}

// BuildImage is a no-op; the host is the image.
func (p *Provider) BuildImage(ctx context.Context, opts environment.BuildImageOptions) (string, error) {
	slog.Debug("local provider ignores image build", "context", opts.ContextDir)
	return opts.Tag, nil
}

// PullImage is a no-op.
func (p *Provider) PullImage(ctx context.Context, imageRef string) error {
	return nil
}

// CreateEnvironment creates a fresh root directory. Paths inside the
// environment are interpreted relative to that root.
func (p *Provider) CreateEnvironment(ctx context.Context, opts environment.CreateEnvironmentOptions) (environment.Environment, error) {
	pattern := "patchcheck-env-*"
	if opts.Name != "" {
		pattern = opts.Name + "-*"
	}
	root, err := os.MkdirTemp(p.BaseDir, pattern)
	if err != nil {
		return nil, fmt.Errorf("creating environment root: %w", err)
	}
	slog.Debug("local environment created", "root", root)
	return &Environment{root: root, env: opts.Env}, nil
}

// Environment is a host directory acting as a sandbox root.
type Environment struct {
	root string
	env  map[string]string
}

// ID returns the root directory.
func (e *Environment) ID() string {
	return e.root
}

// Path maps an environment path to its host location.
func (e *Environment) Path(p string) string {
	return filepath.Join(e.root, filepath.FromSlash(strings.TrimPrefix(p, "/")))
}

// CopyTo copies a host file or directory to dst inside the environment.
func (e *Environment) CopyTo(ctx context.Context, src, dst string) error {
	info, err := os.Stat(src)
	if err != nil {
		return fmt.Errorf("stat source: %w", err)
	}
	target := e.Path(dst)

	if info.IsDir() {
		if err := fetch.CopyDir(src, target); err != nil {
			return fmt.Errorf("copying %s: %w", src, err)
		}
		return nil
	}

	if err := os.MkdirAll(filepath.Dir(target), 0755); err != nil {
		return fmt.Errorf("creating directory: %w", err)
	}
	data, err := os.ReadFile(src)
	if err != nil {
		return fmt.Errorf("reading source file: %w", err)
	}
	return os.WriteFile(target, data, info.Mode().Perm())
}

// Exec runs cmd with sh -c in its own process group. The process group is
// killed when ctx is done.
func (e *Environment) Exec(ctx context.Context, cmd string, stdout, stderr io.Writer, opts environment.ExecOptions) (int, error) {
	if opts.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, opts.Timeout)
		defer cancel()
	}

	c := exec.Command("sh", "-c", cmd)
	c.Dir = e.root
	if opts.WorkDir != "" {
		c.Dir = e.Path(opts.WorkDir)
	}
	c.Env = os.Environ()
	for k, v := range e.env {
		c.Env = append(c.Env, k+"="+v)
	}
	for k, v := range opts.Env {
		c.Env = append(c.Env, k+"="+v)
	}
	c.Stdout = stdout
	c.Stderr = stderr
	c.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}

	if err := c.Start(); err != nil {
		return -1, fmt.Errorf("starting command: %w", err)
	}

	done := make(chan error, 1)
	go func() {
		done <- c.Wait()
	}()

	var err error
	select {
	case <-ctx.Done():
		syscall.Kill(-c.Process.Pid, syscall.SIGKILL)
		<-done
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return -1, fmt.Errorf("command timed out")
		}
		return -1, fmt.Errorf("command cancelled: %w", ctx.Err())
	case err = <-done:
	}

	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			return exitErr.ExitCode(), nil
		}
		return -1, fmt.Errorf("executing command: %w", err)
	}
	return 0, nil
}

// Destroy removes the environment root.
func (e *Environment) Destroy(ctx context.Context) error {
	slog.Debug("destroying local environment", "root", e.root)
	if err := os.RemoveAll(e.root); err != nil {
		return fmt.Errorf("removing environment root: %w", err)
	}
	return nil
}
