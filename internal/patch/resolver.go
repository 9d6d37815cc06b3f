// Package patch resolves the patch paths a manifest declares.
package patch

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/spachava753/patchcheck/internal/models"
)

// Options controls path resolution.
type Options struct {
	// Strict rejects empty names, empty or absolute paths, and paths that
	// leave the base directory. Without it every string is joined as given.
	Strict bool
}

// Resolve joins every declared patch path onto baseDir. The result has
// exactly the keys of m.PatchedDependencies and is never nil. Files are not
// checked for existence.
func Resolve(m models.PackageManifest, baseDir string, opts Options) (models.ResolvedPatchSet, error) {
	resolved := make(models.ResolvedPatchSet, len(m.PatchedDependencies))
	for name, rel := range m.PatchedDependencies {
		if opts.Strict {
			if err := validate(name, rel); err != nil {
				return nil, models.NewError(models.ErrPatchPathResolution, err)
			}
		}
		resolved[name] = filepath.Join(baseDir, rel)
	}
	return resolved, nil
}

// ResolveManifest resolves against the manifest's own directory.
func ResolveManifest(m models.PackageManifest, opts Options) (models.ResolvedPatchSet, error) {
	return Resolve(m, m.Dir(), opts)
}

func validate(name, rel string) error {
	if strings.TrimSpace(name) == "" {
		return fmt.Errorf("empty dependency name for patch %q", rel)
	}
	if strings.TrimSpace(rel) == "" {
		return fmt.Errorf("empty patch path for %s", name)
	}
	if filepath.IsAbs(rel) {
		return fmt.Errorf("patch path for %s must be relative: %s", name, rel)
	}
	if !filepath.IsLocal(rel) {
		return fmt.Errorf("patch path for %s escapes the package directory: %s", name, rel)
	}
	return nil
}
