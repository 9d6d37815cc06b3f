package backend

import (
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"strings"

	diffpatch "github.com/sergi/go-diff/diffmatchpatch"
)

// FileChange counts the lines a patch changed in one file.
type FileChange struct {
	Path    string
	Added   int
	Removed int
}

// snapshot reads every regular file under dir, keyed by slash path. Nested
// node_modules are not part of the package and are skipped.
func snapshot(dir string) (map[string]string, error) {
	files := map[string]string{}
	err := filepath.WalkDir(dir, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			if p != dir && d.Name() == "node_modules" {
				return filepath.SkipDir
			}
			return nil
		}
		if !d.Type().IsRegular() {
			return nil
		}
		b, err := os.ReadFile(p)
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(dir, p)
		if err != nil {
			return err
		}
		files[filepath.ToSlash(rel)] = string(b)
		return nil
	})
	return files, err
}

// changes compares two snapshots line by line, sorted by path.
func changes(before, after map[string]string) []FileChange {
	dmp := diffpatch.New()

	paths := map[string]struct{}{}
	for p := range before {
		paths[p] = struct{}{}
	}
	for p := range after {
		paths[p] = struct{}{}
	}

	var out []FileChange
	for p := range paths {
		a, b := before[p], after[p]
		if a == b {
			continue
		}
		ca, cb, lines := dmp.DiffLinesToChars(a, b)
		diffs := dmp.DiffCharsToLines(dmp.DiffMain(ca, cb, false), lines)

		fc := FileChange{Path: p}
		for _, d := range diffs {
			n := countLines(d.Text)
			switch d.Type {
			case diffpatch.DiffInsert:
				fc.Added += n
			case diffpatch.DiffDelete:
				fc.Removed += n
			}
		}
		out = append(out, fc)
	}

	slices.SortFunc(out, func(x, y FileChange) int { return strings.Compare(x.Path, y.Path) })
	return out
}

func countLines(s string) int {
	if s == "" {
		return 0
	}
	n := strings.Count(s, "\n")
	if !strings.HasSuffix(s, "\n") {
		n++
	}
	return n
}
