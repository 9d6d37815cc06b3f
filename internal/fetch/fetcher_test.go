package fetch

import (
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/spachava753/patchcheck/internal/lockfile"
)

func TestNpmURL(t *testing.T) {
	tests := []struct {
		name     string
		ident    string
		registry string
		want     string
	}{
		{
			name:  "default registry scoped",
			ident: "@alloc/quick-lru@5.2.0",
			want:  "https://registry.npmjs.org/@alloc/quick-lru/-/quick-lru-5.2.0.tgz",
		},
		{
			name:  "default registry unscoped",
			ident: "left-pad@1.3.0",
			want:  "https://registry.npmjs.org/left-pad/-/left-pad-1.3.0.tgz",
		},
		{
			name:     "custom registry with slash",
			ident:    "@alloc/quick-lru@5.2.0",
			registry: "https://npm.pkg.github.com/",
			want:     "https://npm.pkg.github.com/@alloc/quick-lru/-/quick-lru-5.2.0.tgz",
		},
		{
			name:     "custom registry without slash",
			ident:    "lodash@4.17.21",
			registry: "https://npm.example.com",
			want:     "https://npm.example.com/lodash/-/lodash-4.17.21.tgz",
		},
		{
			name:     "full tarball url",
			ident:    "lodash@4.17.21",
			registry: "https://npm.pkg.github.com/lodash/-/lodash-4.17.21.tgz",
			want:     "https://npm.pkg.github.com/lodash/-/lodash-4.17.21.tgz",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := NpmURL(tt.ident, tt.registry)
			if err != nil {
				t.Fatalf("NpmURL failed: %v", err)
			}
			if got != tt.want {
				t.Errorf("NpmURL() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestNpmURLNoAt(t *testing.T) {
	for _, ident := range []string{"lodash", "@alloc/quick-lru"} {
		if _, err := NpmURL(ident, ""); !errors.Is(err, ErrNoAtInIdent) {
			t.Errorf("NpmURL(%q) error = %v, want ErrNoAtInIdent", ident, err)
		}
	}
}

func TestFromEntry(t *testing.T) {
	tests := []struct {
		name  string
		entry lockfile.Entry
		want  Fetcher
	}{
		{
			name:  "npm default registry",
			entry: lockfile.Entry{Ident: "left-pad@1.3.0", Integrity: "sha512-abc"},
			want: Fetcher{
				Kind: KindURL,
				URL:  "https://mirror.example.com/left-pad/-/left-pad-1.3.0.tgz",
				Hash: "sha512-abc",
			},
		},
		{
			name:  "npm entry registry wins",
			entry: lockfile.Entry{Ident: "@s/a@1.0.0", Registry: "https://npm.pkg.github.com/"},
			want:  Fetcher{Kind: KindURL, URL: "https://npm.pkg.github.com/@s/a/-/a-1.0.0.tgz"},
		},
		{
			name:  "github",
			entry: lockfile.Entry{Ident: "pkg@github:owner/repo#abc123"},
			want:  Fetcher{Kind: KindGitHub, Owner: "owner", Repo: "repo", Rev: "abc123"},
		},
		{
			name:  "git",
			entry: lockfile.Entry{Ident: "pkg@git+https://example.com/pkg.git#abc123"},
			want:  Fetcher{Kind: KindGit, URL: "https://example.com/pkg.git", Rev: "abc123"},
		},
		{
			name:  "tarball",
			entry: lockfile.Entry{Ident: "pkg@https://example.com/pkg-1.0.0.tgz"},
			want:  Fetcher{Kind: KindTarball, URL: "https://example.com/pkg-1.0.0.tgz"},
		},
		{
			name:  "file",
			entry: lockfile.Entry{Ident: "lib@file:../lib"},
			want:  Fetcher{Kind: KindCopy, Path: "../lib"},
		},
		{
			name:  "workspace",
			entry: lockfile.Entry{Ident: "app@workspace:packages/app"},
			want:  Fetcher{Kind: KindCopy, Path: "packages/app"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := FromEntry(tt.entry, "https://mirror.example.com")
			if err != nil {
				t.Fatalf("FromEntry failed: %v", err)
			}
			if diff := cmp.Diff(tt.want, got); diff != "" {
				t.Errorf("fetcher mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestFromEntryInvalidGitHub(t *testing.T) {
	if _, err := FromEntry(lockfile.Entry{Ident: "pkg@github:justowner"}, ""); err == nil {
		t.Error("expected error for github source without repo")
	}
}

func TestGitHubArchiveURL(t *testing.T) {
	f := Fetcher{Kind: KindGitHub, Owner: "owner", Repo: "repo", Rev: "abc"}
	if got, want := f.GitHubArchiveURL(), "https://github.com/owner/repo/archive/abc.tar.gz"; got != want {
		t.Errorf("GitHubArchiveURL() = %q, want %q", got, want)
	}
}
