package docker

import (
	"slices"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/spachava753/patchcheck/internal/environment"
)

func TestRunArgs(t *testing.T) {
	got := runArgs("patchcheck-1", environment.CreateEnvironmentOptions{
		ImageRef: "oven/bun:1",
		CPUs:     2,
		MemoryMB: 4096,
		Env:      map[string]string{"CI": "1"},
	})

	want := []string{
		"run", "-d", "--name", "patchcheck-1",
		"--cpus", "2",
		"--memory", "4096m",
		"-e", "CI=1",
		"oven/bun:1", "sleep", "infinity",
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("run args mismatch (-want +got):\n%s", diff)
	}
}

func TestRunArgsNoLimits(t *testing.T) {
	got := runArgs("c", environment.CreateEnvironmentOptions{ImageRef: "node:20"})
	if slices.Contains(got, "--cpus") || slices.Contains(got, "--memory") {
		t.Errorf("unexpected resource flags in %v", got)
	}
}

func TestExecArgs(t *testing.T) {
	got := execArgs("c", "bun run build", environment.ExecOptions{
		WorkDir: environment.WorkDir,
		Env:     map[string]string{"NODE_ENV": "production"},
	})

	want := []string{"exec", "-e", "NODE_ENV=production", "-w", "/workspace", "c", "sh", "-c", "bun run build"}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("exec args mismatch (-want +got):\n%s", diff)
	}
}
