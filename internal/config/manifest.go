package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	jsonpatch "github.com/evanphx/json-patch"
	"github.com/segmentio/encoding/json"

	"github.com/spachava753/patchcheck/internal/models"
)

// LoadManifest reads and parses a package.json. The optional overlay is a
// list of RFC 6902 operations applied to the raw document before decoding.
//
// The returned manifest always has non-nil PatchedDependencies and Scripts.
func LoadManifest(path string, overlay []map[string]any) (models.PackageManifest, error) {
	var m models.PackageManifest

	absPath, err := filepath.Abs(path)
	if err != nil {
		return m, fmt.Errorf("getting absolute path: %w", err)
	}

	data, err := os.ReadFile(absPath)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return m, models.NewError(models.ErrManifestNotFound, fmt.Errorf("manifest %s does not exist", absPath))
		}
		return m, models.NewError(models.ErrInternalError, fmt.Errorf("reading manifest: %w", err))
	}

	if len(overlay) > 0 {
		data, err = applyOverlay(data, overlay)
		if err != nil {
			return m, models.NewError(models.ErrManifestParse, fmt.Errorf("applying manifest overlay: %w", err))
		}
	}

	if err := json.Unmarshal(data, &m); err != nil {
		return models.PackageManifest{}, models.NewError(models.ErrManifestParse, fmt.Errorf("parsing %s: %w", absPath, err))
	}

	if m.PatchedDependencies == nil {
		m.PatchedDependencies = map[string]string{}
	}
	if m.Scripts == nil {
		m.Scripts = map[string]string{}
	}
	m.Path = absPath

	return m, nil
}

func applyOverlay(doc []byte, ops []map[string]any) ([]byte, error) {
	raw, err := json.Marshal(ops)
	if err != nil {
		return nil, fmt.Errorf("encoding overlay: %w", err)
	}
	p, err := jsonpatch.DecodePatch(raw)
	if err != nil {
		return nil, fmt.Errorf("decoding overlay: %w", err)
	}
	return p.Apply(doc)
}
