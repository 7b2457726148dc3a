// Package archive extracts binary-manager variant bundles (tar.gz/tar.zst
// archives via github.com/moby/go-archive, zip archives via the standard
// library since go-archive is tar-only) into a target directory.
package archive

import (
	"archive/zip"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	archivelib "github.com/moby/go-archive"
)

// Extract unpacks the archive at srcPath into destDir, which is created if
// necessary. The archive format is inferred from srcPath's extension.
func Extract(srcPath, destDir string) error {
	if err := os.MkdirAll(destDir, 0o755); err != nil {
		return fmt.Errorf("create extraction dir: %w", err)
	}

	if strings.HasSuffix(strings.ToLower(srcPath), ".zip") {
		return extractZip(srcPath, destDir)
	}
	return extractTar(srcPath, destDir)
}

func extractTar(srcPath, destDir string) error {
	f, err := os.Open(srcPath)
	if err != nil {
		return fmt.Errorf("open archive: %w", err)
	}
	defer f.Close()

	if err := archivelib.Untar(f, destDir, &archivelib.TarOptions{
		NoLchown: true,
	}); err != nil {
		return fmt.Errorf("untar %s: %w", srcPath, err)
	}
	return nil
}

func extractZip(srcPath, destDir string) error {
	r, err := zip.OpenReader(srcPath)
	if err != nil {
		return fmt.Errorf("open zip: %w", err)
	}
	defer r.Close()

	for _, zf := range r.File {
		target := filepath.Join(destDir, zf.Name) //nolint:gosec // bundle provenance is checksum-verified upstream
		if !strings.HasPrefix(target, filepath.Clean(destDir)+string(os.PathSeparator)) && target != filepath.Clean(destDir) {
			return fmt.Errorf("zip entry escapes destination: %s", zf.Name)
		}

		if zf.FileInfo().IsDir() {
			if err := os.MkdirAll(target, 0o755); err != nil {
				return err
			}
			continue
		}

		if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
			return err
		}

		if err := extractZipEntry(zf, target); err != nil {
			return err
		}
	}
	return nil
}

func extractZipEntry(zf *zip.File, target string) error {
	rc, err := zf.Open()
	if err != nil {
		return err
	}
	defer rc.Close()

	out, err := os.OpenFile(target, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, zf.Mode())
	if err != nil {
		return err
	}
	defer out.Close()

	if _, err := io.Copy(out, rc); err != nil {
		return err
	}
	return nil
}

// FindBinary walks root looking for a file whose base name matches one of
// candidates, returning the first match. Used after extraction to locate the
// backend-specific binary name among an archive's contents.
func FindBinary(root string, candidates []string) (string, error) {
	want := make(map[string]bool, len(candidates))
	for _, c := range candidates {
		want[c] = true
	}

	var found string
	err := filepath.Walk(root, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if info.IsDir() {
			return nil
		}
		if want[info.Name()] {
			found = path
			return filepath.SkipAll
		}
		return nil
	})
	if err != nil {
		return "", err
	}
	if found == "" {
		return "", fmt.Errorf("none of %v found under %s", candidates, root)
	}
	return found, nil
}
