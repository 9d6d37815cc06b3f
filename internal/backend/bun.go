// Package backend is the bundled build backend. It reads bun.lock, installs
// the locked packages into an isolated work tree, applies the declared
// patches with patch(1), and runs package.json scripts in an environment.
package backend

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"maps"
	"os"
	"os/exec"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"github.com/spachava753/patchcheck/internal/environment"
	"github.com/spachava753/patchcheck/internal/fetch"
	"github.com/spachava753/patchcheck/internal/lockfile"
	"github.com/spachava753/patchcheck/internal/models"
)

// DefaultLockfile is looked up next to the manifest when no lockfile is given.
const DefaultLockfile = "bun.lock"

// Options configures a Bun backend.
type Options struct {
	Provider environment.Provider
	// Image is the image reference used for environments. BuildContext, if
	// set, is built instead.
	Image        string
	BuildContext string
	Pull         bool
	CPUs         int
	MemoryMB     int
	Env          map[string]string

	Registry    string
	Concurrency int

	// Stdout and Stderr receive the build script's output. Nil discards it.
	Stdout io.Writer
	Stderr io.Writer
}

// Bun implements the override conversion and the fetch/build backend.
type Bun struct {
	opts Options
}

// New creates a Bun backend.
func New(opts Options) *Bun {
	if opts.Registry == "" {
		opts.Registry = fetch.DefaultRegistry
	}
	return &Bun{opts: opts}
}

// Fetch prepares the work tree: a copy of the package with every locked
// dependency installed under node_modules and every override applied.
func (b *Bun) Fetch(ctx context.Context, req models.FetchRequest) (wt *models.WorkTree, err error) {
	overrides, err := asOverrides(req.Overrides)
	if err != nil {
		return nil, models.NewError(models.ErrDependencyFetch, err)
	}

	srcDir := req.Manifest.Dir()
	workDir, err := os.MkdirTemp("", "patchcheck-work-*")
	if err != nil {
		return nil, models.NewError(models.ErrInternalError, fmt.Errorf("creating work tree: %w", err))
	}
	defer func() {
		if err != nil {
			os.RemoveAll(workDir)
		}
	}()

	slog.Debug("copying package source", "src", srcDir, "work_tree", workDir)
	if err := fetch.CopyDir(srcDir, workDir, "node_modules", ".git"); err != nil {
		return nil, models.NewError(models.ErrDependencyFetch, fmt.Errorf("copying package source: %w", err))
	}

	lf, err := b.loadLockfile(req, overrides)
	if err != nil {
		return nil, models.NewError(models.ErrDependencyFetch, err)
	}

	entries := lf.Sorted()
	if err := b.install(ctx, srcDir, workDir, entries); err != nil {
		return nil, models.NewError(models.ErrDependencyFetch, err)
	}
	if err := linkBins(workDir, entries); err != nil {
		return nil, models.NewError(models.ErrDependencyFetch, fmt.Errorf("linking bins: %w", err))
	}

	patched, err := b.applyOverrides(ctx, workDir, lf, overrides)
	if err != nil {
		return nil, models.NewError(models.ErrDependencyFetch, err)
	}

	slog.Info("dependencies installed", "packages", len(entries), "patched", len(patched))
	return &models.WorkTree{
		Dir:      workDir,
		Manifest: req.Manifest,
		Packages: len(entries),
		Patched:  patched,
	}, nil
}

func (b *Bun) loadLockfile(req models.FetchRequest, overrides Overrides) (*lockfile.Lockfile, error) {
	lockPath := req.LockPath
	if lockPath == "" {
		lockPath = filepath.Join(req.Manifest.Dir(), DefaultLockfile)
	}

	lf, err := lockfile.Load(lockPath)
	if errors.Is(err, fs.ErrNotExist) && overrides.Len() == 0 {
		slog.Warn("no lockfile, building without dependencies", "path", lockPath)
		return &lockfile.Lockfile{Packages: map[string]lockfile.Entry{}}, nil
	}
	if err != nil {
		return nil, err
	}
	return lf, nil
}

func (b *Bun) install(ctx context.Context, srcDir, workDir string, entries []lockfile.Entry) error {
	jobs := make([]fetch.Job, 0, len(entries))
	for _, e := range entries {
		f, err := fetch.FromEntry(e, b.opts.Registry)
		if err != nil {
			return fmt.Errorf("lock entry %s: %w", e.Path, err)
		}
		jobs = append(jobs, fetch.Job{
			Name:    e.Ident,
			Fetcher: f,
			Dest:    filepath.Join(workDir, filepath.FromSlash(e.InstallDir())),
		})
	}

	client := fetch.NewClient(srcDir, b.opts.Concurrency)
	return client.FetchAll(ctx, jobs)
}

// linkBins creates node_modules/.bin entries for every package bin, next to
// the node_modules directory the package is installed in.
func linkBins(workDir string, entries []lockfile.Entry) error {
	for _, e := range entries {
		bins := e.Bins()
		if len(bins) == 0 {
			continue
		}
		pkgDir := filepath.Join(workDir, filepath.FromSlash(e.InstallDir()))
		binDir := filepath.Join(filepath.Dir(pkgDir), ".bin")
		if strings.HasPrefix(e.Name(), "@") {
			binDir = filepath.Join(filepath.Dir(filepath.Dir(pkgDir)), ".bin")
		}
		if err := os.MkdirAll(binDir, 0755); err != nil {
			return err
		}

		for _, name := range slices.Sorted(maps.Keys(bins)) {
			target := filepath.Join(pkgDir, filepath.FromSlash(bins[name]))
			if _, err := os.Stat(target); err != nil {
				slog.Warn("bin target missing", "package", e.Ident, "bin", name, "target", bins[name])
				continue
			}
			if err := os.Chmod(target, 0755); err != nil {
				return err
			}
			rel, err := filepath.Rel(binDir, target)
			if err != nil {
				return err
			}
			link := filepath.Join(binDir, filepath.Base(name))
			os.Remove(link)
			if err := os.Symlink(rel, link); err != nil {
				return err
			}
		}
	}
	return nil
}

// applyOverrides patches every installed copy each override refers to and
// returns the lock paths that were patched.
func (b *Bun) applyOverrides(ctx context.Context, workDir string, lf *lockfile.Lockfile, overrides Overrides) ([]string, error) {
	deps := slices.Sorted(maps.Keys(overrides))
	undeclared, unused := lf.ComparePatches(deps)
	if len(undeclared) > 0 {
		slog.Warn("patches not recorded in lockfile", "dependencies", undeclared)
	}
	if len(unused) > 0 {
		slog.Warn("lockfile patches missing from manifest", "dependencies", unused)
	}

	var patched []string
	for _, dep := range deps {
		ov := overrides[dep]

		if _, err := os.Stat(ov.Patch); err != nil {
			return nil, fmt.Errorf("patch for %s: %w", dep, err)
		}

		targets := lf.Find(dep)
		if len(targets) == 0 {
			return nil, fmt.Errorf("patched dependency %s is not in the lockfile", dep)
		}

		for _, e := range targets {
			pkgDir := filepath.Join(workDir, filepath.FromSlash(e.InstallDir()))
			if err := applyPatch(ctx, pkgDir, ov.Patch); err != nil {
				return nil, fmt.Errorf("patching %s: %w", e.Ident, err)
			}
			patched = append(patched, e.Path)
		}
	}
	return patched, nil
}

// applyPatch runs patch(1) in pkgDir and fails if nothing changed.
func applyPatch(ctx context.Context, pkgDir, patchFile string) error {
	before, err := snapshot(pkgDir)
	if err != nil {
		return fmt.Errorf("reading package: %w", err)
	}

	cmd := exec.CommandContext(ctx, "patch", "-p1", "--forward", "--batch", "-i", patchFile)
	cmd.Dir = pkgDir
	var out bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = &out
	if err := cmd.Run(); err != nil {
		return fmt.Errorf("%s: %w: %s", filepath.Base(patchFile), err, strings.TrimSpace(out.String()))
	}

	after, err := snapshot(pkgDir)
	if err != nil {
		return fmt.Errorf("reading patched package: %w", err)
	}

	changed := changes(before, after)
	if len(changed) == 0 {
		return fmt.Errorf("%s changed nothing", filepath.Base(patchFile))
	}
	for _, c := range changed {
		slog.Debug("patched file", "package", pkgDir, "file", c.Path, "added", c.Added, "removed", c.Removed)
	}
	return nil
}

// RunScript runs scripts[script] from the work tree's manifest in a fresh
// environment with node_modules/.bin on PATH.
func (b *Bun) RunScript(ctx context.Context, wt *models.WorkTree, script string) (*models.ScriptResult, error) {
	command, ok := wt.Manifest.Script(script)
	if !ok {
		return nil, models.Errorf(models.ErrBuildScript, "package.json has no %q script", script)
	}
	if b.opts.Provider == nil {
		return nil, models.Errorf(models.ErrInternalError, "no environment provider configured")
	}

	imageRef, err := b.imageRef(ctx)
	if err != nil {
		return nil, models.NewError(models.ErrBuildScript, err)
	}

	env, err := b.opts.Provider.CreateEnvironment(ctx, environment.CreateEnvironmentOptions{
		ImageRef: imageRef,
		CPUs:     b.opts.CPUs,
		MemoryMB: b.opts.MemoryMB,
		Env:      b.opts.Env,
	})
	if err != nil {
		return nil, models.NewError(models.ErrBuildScript, fmt.Errorf("creating environment: %w", err))
	}
	defer func() {
		if err := env.Destroy(context.WithoutCancel(ctx)); err != nil {
			slog.Warn("failed to destroy environment", "id", env.ID(), "error", err)
		}
	}()

	if err := env.CopyTo(ctx, wt.Dir, environment.WorkDir); err != nil {
		return nil, models.NewError(models.ErrBuildScript, fmt.Errorf("copying work tree: %w", err))
	}

	slog.Info("running build script", "script", script, "command", command, "environment", b.opts.Provider.Name())
	start := time.Now()
	code, err := env.Exec(ctx, scriptCommand(command), b.opts.Stdout, b.opts.Stderr, environment.ExecOptions{
		WorkDir: environment.WorkDir,
		Env: map[string]string{
			"npm_lifecycle_event": script,
			"npm_package_name":    wt.Manifest.Name,
			"npm_package_version": wt.Manifest.Version,
		},
	})
	if err != nil {
		return nil, models.NewError(models.ErrBuildScript, fmt.Errorf("running %s: %w", script, err))
	}

	return &models.ScriptResult{ExitCode: code, Duration: time.Since(start)}, nil
}

func scriptCommand(command string) string {
	return `export PATH="$(pwd)/node_modules/.bin:$PATH"; ` + command
}

func (b *Bun) imageRef(ctx context.Context) (string, error) {
	p := b.opts.Provider
	if b.opts.BuildContext != "" {
		ref, err := p.BuildImage(ctx, environment.BuildImageOptions{
			ContextDir: b.opts.BuildContext,
			Tag:        "patchcheck-build:latest",
		})
		if err != nil {
			return "", fmt.Errorf("building image: %w", err)
		}
		return ref, nil
	}
	if b.opts.Pull && b.opts.Image != "" {
		if err := p.PullImage(ctx, b.opts.Image); err != nil {
			return "", err
		}
	}
	return b.opts.Image, nil
}

// Cleanup removes the work tree.
func (b *Bun) Cleanup(ctx context.Context, wt *models.WorkTree) error {
	if wt == nil || wt.Dir == "" {
		return nil
	}
	slog.Debug("removing work tree", "dir", wt.Dir)
	return os.RemoveAll(wt.Dir)
}
