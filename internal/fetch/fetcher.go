// Package fetch downloads and unpacks the packages listed in a lockfile.
package fetch

import (
	"errors"
	"fmt"
	"strings"

	"github.com/spachava753/patchcheck/internal/lockfile"
)

// DefaultRegistry is the npm registry used when none is configured.
const DefaultRegistry = "https://registry.npmjs.org/"

// ErrNoAtInIdent is returned for package identifiers without a version.
var ErrNoAtInIdent = errors.New("no @ in package identifier")

// Kind selects how a package is retrieved.
type Kind string

const (
	KindURL     Kind = "url"
	KindGit     Kind = "git"
	KindGitHub  Kind = "github"
	KindTarball Kind = "tarball"
	KindCopy    Kind = "copy"
)

// Fetcher describes where one package comes from. Which fields are set
// depends on Kind.
type Fetcher struct {
	Kind  Kind
	URL   string
	Owner string
	Repo  string
	Rev   string
	// Hash is an SRI integrity string. Downloads are checked against it
	// when set.
	Hash string
	// Path is the source of a copy, relative to the client's root.
	Path string
}

func (f Fetcher) String() string {
	switch f.Kind {
	case KindGitHub:
		return fmt.Sprintf("github:%s/%s#%s", f.Owner, f.Repo, f.Rev)
	case KindGit:
		return fmt.Sprintf("git:%s#%s", f.URL, f.Rev)
	case KindCopy:
		return "copy:" + f.Path
	default:
		return string(f.Kind) + ":" + f.URL
	}
}

// NewNpm returns a url fetcher for an npm package.
func NewNpm(ident, hash, registry string) (Fetcher, error) {
	u, err := NpmURL(ident, registry)
	if err != nil {
		return Fetcher{}, err
	}
	return Fetcher{Kind: KindURL, URL: u, Hash: hash}, nil
}

// NpmURL returns the tarball URL of an npm ident such as
// "@alloc/quick-lru@5.2.0". registry may be empty (the default registry),
// a base registry URL with or without a trailing slash, or a full tarball
// URL ending in .tgz, which is returned as is.
func NpmURL(ident, registry string) (string, error) {
	if registry != "" && strings.HasSuffix(registry, ".tgz") {
		return registry, nil
	}

	base := DefaultRegistry
	if registry != "" {
		base = registry
		if !strings.HasSuffix(base, "/") {
			base += "/"
		}
	}

	scope, nameAndVer, scoped := strings.Cut(ident, "/")
	if !scoped {
		name, ver, ok := strings.Cut(ident, "@")
		if !ok {
			return "", fmt.Errorf("%w: %q", ErrNoAtInIdent, ident)
		}
		return fmt.Sprintf("%s%s/-/%s-%s.tgz", base, name, name, ver), nil
	}

	name, ver, ok := strings.Cut(nameAndVer, "@")
	if !ok {
		return "", fmt.Errorf("%w: %q", ErrNoAtInIdent, ident)
	}
	return fmt.Sprintf("%s%s/%s/-/%s-%s.tgz", base, scope, name, name, ver), nil
}

// FromEntry picks the fetcher for a lock entry. registry is used for npm
// packages whose entry does not name one.
func FromEntry(e lockfile.Entry, registry string) (Fetcher, error) {
	spec := e.Version()
	switch e.SourceKind() {
	case lockfile.SourceNpm:
		reg := e.Registry
		if reg == "" {
			reg = registry
		}
		return NewNpm(e.Ident, e.Integrity, reg)

	case lockfile.SourceGitHub:
		repoPath, rev, _ := strings.Cut(strings.TrimPrefix(spec, "github:"), "#")
		owner, repo, ok := strings.Cut(repoPath, "/")
		if !ok || owner == "" || repo == "" {
			return Fetcher{}, fmt.Errorf("invalid github source %q", spec)
		}
		if rev == "" {
			rev = "HEAD"
		}
		return Fetcher{Kind: KindGitHub, Owner: owner, Repo: repo, Rev: rev}, nil

	case lockfile.SourceGit:
		url, rev, _ := strings.Cut(strings.TrimPrefix(spec, "git+"), "#")
		return Fetcher{Kind: KindGit, URL: url, Rev: rev}, nil

	case lockfile.SourceTarball:
		return Fetcher{Kind: KindTarball, URL: spec, Hash: e.Integrity}, nil

	case lockfile.SourceFile, lockfile.SourceLink, lockfile.SourceWorkspace:
		_, p, _ := strings.Cut(spec, ":")
		return Fetcher{Kind: KindCopy, Path: p}, nil
	}
	return Fetcher{}, fmt.Errorf("unsupported source for %s", e.Ident)
}

// GitHubArchiveURL is the tarball URL of a github fetcher.
func (f Fetcher) GitHubArchiveURL() string {
	return fmt.Sprintf("https://github.com/%s/%s/archive/%s.tar.gz", f.Owner, f.Repo, f.Rev)
}
