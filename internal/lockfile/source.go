package lockfile

import "strings"

// SourceKind says where a package's contents come from.
type SourceKind string

const (
	SourceNpm       SourceKind = "npm"
	SourceGitHub    SourceKind = "github"
	SourceGit       SourceKind = "git"
	SourceTarball   SourceKind = "tarball"
	SourceFile      SourceKind = "file"
	SourceLink      SourceKind = "link"
	SourceWorkspace SourceKind = "workspace"
)

// SourceKind classifies the entry by the prefix of its version spec.
func (e Entry) SourceKind() SourceKind {
	v := e.Version()
	switch {
	case strings.HasPrefix(v, "github:"):
		return SourceGitHub
	case strings.HasPrefix(v, "git+"), strings.HasPrefix(v, "git:"), strings.HasPrefix(v, "git@"):
		return SourceGit
	case strings.HasPrefix(v, "http://"), strings.HasPrefix(v, "https://"):
		return SourceTarball
	case strings.HasPrefix(v, "file:"):
		return SourceFile
	case strings.HasPrefix(v, "link:"):
		return SourceLink
	case strings.HasPrefix(v, "workspace:"):
		return SourceWorkspace
	default:
		return SourceNpm
	}
}
