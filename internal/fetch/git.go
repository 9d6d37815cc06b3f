package fetch

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
)

// fetchGit clones f.URL into a scratch directory, checks out f.Rev and
// copies the tree without .git into dest.
func (c *Client) fetchGit(ctx context.Context, f Fetcher, dest string) error {
	scratch, err := os.MkdirTemp("", "patchcheck-git-*")
	if err != nil {
		return fmt.Errorf("creating clone directory: %w", err)
	}
	defer os.RemoveAll(scratch)

	clonePath := filepath.Join(scratch, "repo")
	if err := cloneRepo(ctx, f.URL, f.Rev, clonePath); err != nil {
		return err
	}
	return CopyDir(clonePath, dest, ".git")
}

// cloneRepo does a shallow clone for HEAD and a full clone plus checkout
// for a specific revision.
func cloneRepo(ctx context.Context, url, rev, clonePath string) error {
	if rev == "" || rev == "HEAD" {
		slog.Debug("cloning repository (shallow)", "url", url, "dest", clonePath)
		if err := git(ctx, "", "clone", "--depth", "1", url, clonePath); err != nil {
			return fmt.Errorf("git clone: %w", err)
		}
		return nil
	}

	slog.Debug("cloning repository (full)", "url", url, "rev", rev, "dest", clonePath)
	if err := git(ctx, "", "clone", "--quiet", url, clonePath); err != nil {
		return fmt.Errorf("git clone: %w", err)
	}

	slog.Debug("checking out revision", "rev", rev)
	if err := git(ctx, clonePath, "checkout", "--quiet", rev); err != nil {
		return fmt.Errorf("git checkout %s: %w", rev, err)
	}
	return nil
}

func git(ctx context.Context, dir string, args ...string) error {
	cmd := exec.CommandContext(ctx, "git", args...)
	cmd.Dir = dir
	cmd.Stdout = os.Stderr
	cmd.Stderr = os.Stderr
	return cmd.Run()
}
