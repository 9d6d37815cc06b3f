package executor

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/google/renameio/v2"
	"github.com/segmentio/encoding/json"

	"github.com/spachava753/patchcheck/internal/models"
)

// SuccessMarker is the exact content of the output artifact.
const SuccessMarker = "Patch test passed!\n"

// Recorder writes the success marker and, optionally, a JSON report.
type Recorder struct {
	// Output is the marker path.
	Output string
	// Report is the JSON report path. Empty disables the report.
	Report string
}

// Reset removes the marker and report left by an earlier run so a failing
// run never leaves either behind.
func (r *Recorder) Reset() error {
	for _, p := range []string{r.Output, r.Report} {
		if p == "" {
			continue
		}
		err := os.Remove(p)
		if err == nil {
			slog.Debug("removed stale result", "path", p)
			continue
		}
		if !errors.Is(err, fs.ErrNotExist) {
			return models.NewError(models.ErrResultRecord, fmt.Errorf("removing stale result: %w", err))
		}
	}
	return nil
}

// Record writes SuccessMarker to Output. It refuses any result that is not
// a successful build.
func (r *Recorder) Record(res *models.BuildResult) error {
	if res == nil {
		return models.Errorf(models.ErrResultRecord, "no build result to record")
	}
	if !res.Success || res.State != models.StateSucceeded {
		return models.Errorf(models.ErrResultRecord, "refusing to record a build in state %s", res.State)
	}
	if err := writeAtomic(r.Output, []byte(SuccessMarker)); err != nil {
		return models.NewError(models.ErrResultRecord, fmt.Errorf("writing marker: %w", err))
	}
	return nil
}

// WriteReport writes run as indented JSON to Report.
func (r *Recorder) WriteReport(run *models.RunResult) error {
	if r.Report == "" {
		return nil
	}
	data, err := json.MarshalIndent(run, "", "  ")
	if err != nil {
		return models.NewError(models.ErrResultRecord, fmt.Errorf("encoding report: %w", err))
	}
	if err := writeAtomic(r.Report, append(data, '\n')); err != nil {
		return models.NewError(models.ErrResultRecord, fmt.Errorf("writing report: %w", err))
	}
	return nil
}

// writeAtomic creates the parent of path and replaces path in one rename.
func writeAtomic(path string, data []byte) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("creating directory: %w", err)
	}
	return renameio.WriteFile(path, data, 0644)
}
