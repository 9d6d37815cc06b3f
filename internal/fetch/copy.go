package fetch

import (
	"fmt"
	"os"
	"slices"

	cp "github.com/otiai10/copy"
)

// CopyDir recursively copies src into dst. Directories whose base name is in
// skip are left out at any depth. Symlinks are recreated, not followed.
func CopyDir(src, dst string, skip ...string) error {
	info, err := os.Stat(src)
	if err != nil {
		return fmt.Errorf("stat %s: %w", src, err)
	}
	if !info.IsDir() {
		return fmt.Errorf("%s is not a directory", src)
	}

	return cp.Copy(src, dst, cp.Options{
		OnSymlink: func(string) cp.SymlinkAction { return cp.Shallow },
		Skip: func(fi os.FileInfo, p, _ string) (bool, error) {
			return p != src && fi.IsDir() && slices.Contains(skip, fi.Name()), nil
		},
	})
}
