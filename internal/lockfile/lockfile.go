// Package lockfile reads bun's text lockfile (bun.lock).
//
// bun.lock is JSON with trailing commas allowed. Every JSON document is a
// YAML flow document, and YAML flow collections accept a trailing comma, so
// the file is decoded with yaml.v3 directly.
package lockfile

import (
	"errors"
	"fmt"
	"os"
	"path"
	"slices"
	"strings"

	"gopkg.in/yaml.v3"
)

// Lockfile is a parsed bun.lock.
type Lockfile struct {
	Version int `yaml:"lockfileVersion"`
	// PatchedDependencies maps name@version to the patch bun recorded when
	// the lock was written.
	PatchedDependencies map[string]string `yaml:"patchedDependencies"`
	Packages            map[string]Entry  `yaml:"packages"`
}

// Entry is one value of the packages table. bun stores entries as
// positional arrays:
//
//	npm:    [ident, registry, info, integrity]
//	others: [ident, info, ...]
type Entry struct {
	// Path is the packages key, e.g. "left-pad" or "a/b" for a copy of b
	// nested under a.
	Path      string `yaml:"-"`
	Ident     string `yaml:"-"`
	Registry  string `yaml:"-"`
	Integrity string `yaml:"-"`
	Info      Info   `yaml:"-"`
}

// Info is the metadata object carried by most entries.
type Info struct {
	Dependencies         map[string]string `yaml:"dependencies"`
	OptionalDependencies map[string]string `yaml:"optionalDependencies"`
	PeerDependencies     map[string]string `yaml:"peerDependencies"`
	Bin                  map[string]string `yaml:"-"`
	BinDir               string            `yaml:"binDir"`
}

// Load reads and parses the lockfile at p.
func Load(p string) (*Lockfile, error) {
	data, err := os.ReadFile(p)
	if err != nil {
		return nil, fmt.Errorf("reading lockfile: %w", err)
	}
	lf, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("parsing %s: %w", p, err)
	}
	return lf, nil
}

// Parse decodes bun.lock contents.
func Parse(data []byte) (*Lockfile, error) {
	var lf Lockfile
	if err := yaml.Unmarshal(data, &lf); err != nil {
		return nil, err
	}
	if lf.Version == 0 && lf.Packages == nil {
		return nil, errors.New("not a bun lockfile: missing lockfileVersion and packages")
	}
	if lf.Packages == nil {
		lf.Packages = map[string]Entry{}
	}
	for key, e := range lf.Packages {
		e.Path = key
		lf.Packages[key] = e
	}
	return &lf, nil
}

// Sorted returns the entries ordered by install depth, then by path, so that
// a parent directory is always listed before the packages nested in it.
func (lf *Lockfile) Sorted() []Entry {
	entries := make([]Entry, 0, len(lf.Packages))
	for _, e := range lf.Packages {
		entries = append(entries, e)
	}
	slices.SortFunc(entries, func(a, b Entry) int {
		if d := len(a.segments()) - len(b.segments()); d != 0 {
			return d
		}
		return strings.Compare(a.Path, b.Path)
	})
	return entries
}

// Find returns the entries a patch key refers to. The key is either a bare
// package name, matching every installed copy, or a full name@version ident.
func (lf *Lockfile) Find(key string) []Entry {
	var out []Entry
	for _, e := range lf.Sorted() {
		if e.Ident == key || e.Name() == key {
			out = append(out, e)
		}
	}
	return out
}

// ComparePatches matches manifest patch keys against the lock's
// patchedDependencies. A key matches a lock entry by full ident or by
// package name. undeclared lists keys the lock does not know; unused lists
// lock entries no key refers to. Both are nil when the lock records no
// patches.
func (lf *Lockfile) ComparePatches(keys []string) (undeclared, unused []string) {
	if len(lf.PatchedDependencies) == 0 {
		return nil, nil
	}
	matched := make(map[string]bool, len(lf.PatchedDependencies))
	for _, key := range keys {
		found := false
		for ident := range lf.PatchedDependencies {
			if name, _ := splitIdent(ident); ident == key || name == key {
				matched[ident] = true
				found = true
			}
		}
		if !found {
			undeclared = append(undeclared, key)
		}
	}
	for ident := range lf.PatchedDependencies {
		if !matched[ident] {
			unused = append(unused, ident)
		}
	}
	slices.Sort(undeclared)
	slices.Sort(unused)
	return undeclared, unused
}

func (e *Entry) UnmarshalYAML(value *yaml.Node) error {
	if value.Kind != yaml.SequenceNode {
		return fmt.Errorf("line %d: package entry must be an array", value.Line)
	}
	if len(value.Content) == 0 {
		return fmt.Errorf("line %d: empty package entry", value.Line)
	}
	if err := value.Content[0].Decode(&e.Ident); err != nil {
		return fmt.Errorf("line %d: decoding ident: %w", value.Line, err)
	}
	if len(e.Ident) < 2 || !strings.Contains(e.Ident[1:], "@") {
		return fmt.Errorf("line %d: ident %q has no version", value.Line, e.Ident)
	}

	var scalars []string
	for _, n := range value.Content[1:] {
		switch n.Kind {
		case yaml.MappingNode:
			if err := e.Info.decode(n); err != nil {
				return fmt.Errorf("line %d: decoding info for %s: %w", n.Line, e.Ident, err)
			}
		case yaml.ScalarNode:
			scalars = append(scalars, n.Value)
		}
	}

	if e.SourceKind() == SourceNpm {
		if len(scalars) > 0 {
			e.Registry = scalars[0]
		}
		if len(scalars) > 1 {
			e.Integrity = scalars[1]
		}
	}
	return nil
}

func (i *Info) decode(n *yaml.Node) error {
	if err := n.Decode(i); err != nil {
		return err
	}
	var raw struct {
		Bin yaml.Node `yaml:"bin"`
	}
	if err := n.Decode(&raw); err != nil {
		return err
	}
	switch raw.Bin.Kind {
	case 0:
	case yaml.ScalarNode:
		// A single string is keyed by the package name once it is known.
		i.Bin = map[string]string{"": raw.Bin.Value}
	case yaml.MappingNode:
		if err := raw.Bin.Decode(&i.Bin); err != nil {
			return fmt.Errorf("decoding bin: %w", err)
		}
	default:
		return fmt.Errorf("unexpected bin value at line %d", raw.Bin.Line)
	}
	return nil
}

// Name returns the package name part of the ident.
func (e Entry) Name() string {
	name, _ := splitIdent(e.Ident)
	return name
}

// Version returns everything after the name: "1.3.0" for registry
// packages, the full source spec such as "github:owner/repo#abc123" for
// everything else.
func (e Entry) Version() string {
	_, v := splitIdent(e.Ident)
	return v
}

// Bins returns the bin map with a bare string bin keyed by the package's
// unscoped name.
func (e Entry) Bins() map[string]string {
	if len(e.Info.Bin) == 0 {
		return nil
	}
	out := make(map[string]string, len(e.Info.Bin))
	for k, v := range e.Info.Bin {
		if k == "" {
			k = path.Base(e.Name())
		}
		out[k] = v
	}
	return out
}

// InstallDir is the slash-separated directory the entry installs to,
// relative to the package root: "a/@s/b" becomes
// "node_modules/a/node_modules/@s/b".
func (e Entry) InstallDir() string {
	segs := e.segments()
	parts := make([]string, 0, 2*len(segs))
	for _, s := range segs {
		parts = append(parts, "node_modules", s)
	}
	return path.Join(parts...)
}

// segments splits the packages key into package names, keeping scoped
// names whole.
func (e Entry) segments() []string {
	raw := strings.Split(e.Path, "/")
	var out []string
	for i := 0; i < len(raw); i++ {
		if strings.HasPrefix(raw[i], "@") && i+1 < len(raw) {
			out = append(out, raw[i]+"/"+raw[i+1])
			i++
			continue
		}
		out = append(out, raw[i])
	}
	return out
}

func splitIdent(ident string) (name, spec string) {
	if ident == "" {
		return "", ""
	}
	i := strings.Index(ident[1:], "@")
	if i < 0 {
		return ident, ""
	}
	return ident[:i+1], ident[i+2:]
}
