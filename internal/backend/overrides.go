package backend

import (
	"context"
	"errors"
	"fmt"

	"github.com/spachava753/patchcheck/internal/models"
)

// Override replaces a dependency's fetched source with the patched source.
type Override struct {
	// Dependency is the patch key: a package name, matching every installed
	// copy, or a name@version ident.
	Dependency string `json:"dependency"`
	// Patch is the absolute path of the patch file.
	Patch string `json:"patch"`
}

// Overrides is the backend's OverrideSet, keyed by dependency.
type Overrides map[string]Override

func (o Overrides) Len() int { return len(o) }

// ConvertPatches turns resolved patch paths into Overrides. An empty set
// yields empty Overrides. Patch files are not checked here; Fetch does it.
func (b *Bun) ConvertPatches(ctx context.Context, set models.ResolvedPatchSet) (models.OverrideSet, error) {
	out := make(Overrides, len(set))
	for dep, p := range set {
		if dep == "" {
			return nil, errors.New("patch declared for an empty dependency name")
		}
		if p == "" {
			return nil, fmt.Errorf("no patch path for %s", dep)
		}
		out[dep] = Override{Dependency: dep, Patch: p}
	}
	return out, nil
}

func asOverrides(set models.OverrideSet) (Overrides, error) {
	switch s := set.(type) {
	case nil, models.EmptyOverrides:
		return Overrides{}, nil
	case Overrides:
		return s, nil
	default:
		return nil, fmt.Errorf("unsupported override set %T", set)
	}
}
