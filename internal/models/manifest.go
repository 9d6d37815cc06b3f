package models

import (
	"maps"
	"path/filepath"
)

// PackageManifest is the parsed package.json. Only the fields the harness
// and the bundled backend read are modeled.
type PackageManifest struct {
	Name                string            `json:"name,omitempty"`
	Version             string            `json:"version,omitempty"`
	Scripts             map[string]string `json:"scripts,omitempty"`
	PatchedDependencies map[string]string `json:"patchedDependencies,omitempty"`

	// Path is the absolute path of the manifest file.
	Path string `json:"-"`
}

// Dir returns the directory containing the manifest. Patch paths are
// relative to it.
func (m PackageManifest) Dir() string {
	return filepath.Dir(m.Path)
}

// Script returns the command for the named script.
func (m PackageManifest) Script(name string) (string, bool) {
	cmd, ok := m.Scripts[name]
	return cmd, ok
}

// ResolvedPatchSet maps dependency names to absolute patch file paths.
type ResolvedPatchSet map[string]string

// Clone returns a copy that shares no state with s.
func (s ResolvedPatchSet) Clone() ResolvedPatchSet {
	out := make(ResolvedPatchSet, len(s))
	maps.Copy(out, s)
	return out
}

// OverrideSet is the backend-native override representation built from a
// ResolvedPatchSet. The pipeline hands it to the backend untouched.
type OverrideSet interface {
	Len() int
}

// EmptyOverrides is the no-op OverrideSet.
type EmptyOverrides struct{}

func (EmptyOverrides) Len() int { return 0 }
