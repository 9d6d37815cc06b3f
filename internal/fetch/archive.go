package fetch

import (
	"archive/tar"
	"errors"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/klauspost/compress/gzip"
)

// ExtractTarGz unpacks a gzipped tarball into dest, dropping the first
// path component of every entry ("package/" for npm, "repo-rev/" for
// GitHub archives). All writes go through an os.Root on dest, so entries
// that would land outside dest, directly or through an earlier symlink,
// are rejected.
func ExtractTarGz(r io.Reader, dest string) error {
	gz, err := gzip.NewReader(r)
	if err != nil {
		return fmt.Errorf("opening gzip stream: %w", err)
	}
	defer gz.Close()

	if err := os.MkdirAll(dest, 0755); err != nil {
		return err
	}
	root, err := os.OpenRoot(dest)
	if err != nil {
		return err
	}
	defer root.Close()

	tr := tar.NewReader(gz)
	for {
		hdr, err := tr.Next()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("reading tar: %w", err)
		}

		rel := stripFirst(hdr.Name)
		if rel == "" {
			continue
		}
		if !filepath.IsLocal(rel) {
			return fmt.Errorf("tar entry %q escapes destination", hdr.Name)
		}
		target := filepath.FromSlash(rel)

		switch hdr.Typeflag {
		case tar.TypeDir:
			if err := root.MkdirAll(target, 0755); err != nil {
				return fmt.Errorf("creating %s: %w", rel, err)
			}
		case tar.TypeReg:
			if err := writeEntry(root, tr, target, hdr.FileInfo().Mode().Perm()); err != nil {
				return fmt.Errorf("writing %s: %w", rel, err)
			}
		case tar.TypeSymlink:
			// Only links that stay inside the package are recreated.
			linked := path.Join(path.Dir(rel), hdr.Linkname)
			if path.IsAbs(hdr.Linkname) || !filepath.IsLocal(linked) {
				return fmt.Errorf("symlink %q -> %q escapes destination", hdr.Name, hdr.Linkname)
			}
			if err := root.MkdirAll(filepath.Dir(target), 0755); err != nil {
				return fmt.Errorf("creating %s: %w", rel, err)
			}
			if err := root.Symlink(hdr.Linkname, target); err != nil {
				return fmt.Errorf("linking %s: %w", rel, err)
			}
		default:
			// pax headers, hard links and devices are not used by npm packages
		}
	}
}

func writeEntry(root *os.Root, r io.Reader, target string, perm os.FileMode) error {
	if err := root.MkdirAll(filepath.Dir(target), 0755); err != nil {
		return err
	}
	// npm tarballs occasionally carry unreadable modes.
	f, err := root.OpenFile(target, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, perm|0644)
	if err != nil {
		return err
	}
	if _, err := io.Copy(f, r); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

func stripFirst(name string) string {
	name = strings.TrimPrefix(path.Clean("/"+name), "/")
	_, rest, _ := strings.Cut(name, "/")
	return rest
}
