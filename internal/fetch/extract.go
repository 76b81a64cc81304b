package fetch

import (
	"archive/tar"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/klauspost/compress/gzip"
)

// Install unpacks archive into a staging directory next to target and moves its
// top-level directory into place, replacing target. With several top-level
// directories the one whose name starts with prefer wins. The staging
// directory is always removed; on failure target may be absent but is never
// half-written.
func Install(archive, target, prefer string) error {
	staging, err := os.MkdirTemp(filepath.Dir(target), filepath.Base(target)+"-extract-")
	if err != nil {
		return err
	}
	defer os.RemoveAll(staging)

	if err := ExtractTarGz(archive, staging); err != nil {
		return err
	}
	top, err := topDir(staging, prefer)
	if err != nil {
		return err
	}
	if err := os.RemoveAll(target); err != nil {
		return err
	}
	return os.Rename(top, target)
}

func topDir(staging, prefer string) (string, error) {
	entries, err := os.ReadDir(staging)
	if err != nil {
		return "", err
	}
	var dirs []string
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		if prefer != "" && strings.HasPrefix(e.Name(), prefer) {
			return filepath.Join(staging, e.Name()), nil
		}
		dirs = append(dirs, e.Name())
	}
	if len(dirs) == 1 {
		return filepath.Join(staging, dirs[0]), nil
	}
	return "", fmt.Errorf("unexpected archive layout: %d top-level directories", len(dirs))
}

// ExtractTarGz unpacks a gzip-compressed tarball into dest. Entries and link
// targets that would land outside dest are rejected.
func ExtractTarGz(archive, dest string) error {
	f, err := os.Open(archive)
	if err != nil {
		return err
	}
	defer f.Close()

	gz, err := gzip.NewReader(f)
	if err != nil {
		return fmt.Errorf("not a gzip archive: %w", err)
	}
	defer gz.Close()

	tr := tar.NewReader(gz)
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return err
		}

		target, err := within(dest, hdr.Name)
		if err != nil {
			return err
		}

		switch hdr.Typeflag {
		case tar.TypeDir:
			if err := os.MkdirAll(target, 0755); err != nil {
				return err
			}
		case tar.TypeReg:
			if err := writeFile(target, tr, hdr.FileInfo().Mode().Perm()); err != nil {
				return err
			}
		case tar.TypeSymlink:
			linkTarget := hdr.Linkname
			if !filepath.IsAbs(linkTarget) {
				linkTarget = filepath.Join(filepath.Dir(target), linkTarget)
			}
			if _, err := within(dest, mustRel(dest, linkTarget)); err != nil {
				return fmt.Errorf("symlink %s escapes archive root", hdr.Name)
			}
			if err := os.MkdirAll(filepath.Dir(target), 0755); err != nil {
				return err
			}
			if err := os.Symlink(hdr.Linkname, target); err != nil {
				return err
			}
		case tar.TypeLink:
			src, err := within(dest, hdr.Linkname)
			if err != nil {
				return err
			}
			if err := os.Link(src, target); err != nil {
				return err
			}
		default:
			// Device nodes and the like have no place in a release archive.
		}
	}
}

func writeFile(path string, r io.Reader, mode os.FileMode) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return err
	}
	out, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, mode|0200)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, r); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}

// within joins name onto root and fails if the result leaves root.
func within(root, name string) (string, error) {
	target := filepath.Join(root, name)
	if target != root && !strings.HasPrefix(target, root+string(os.PathSeparator)) {
		return "", fmt.Errorf("archive entry %q escapes destination", name)
	}
	return target, nil
}

func mustRel(root, path string) string {
	rel, err := filepath.Rel(root, path)
	if err != nil {
		return path
	}
	return rel
}

// Personal.AI order the ending
