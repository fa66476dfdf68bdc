// Package backup creates compressed archives of a server's working
// directory. Archives are plain tar.gz files so they can be unpacked with
// standard tooling.
package backup

import (
	"archive/tar"
	"compress/gzip"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// ArchiveName renders the canonical backup filename for a server.
func ArchiveName(serverID string, now time.Time) string {
	return fmt.Sprintf("%s-%s.tar.gz", serverID, now.Format("20060102-150405"))
}

// CreateArchive writes a gzip-compressed tarball of srcDir to dstPath and
// returns the archive size in bytes. Entries are stored relative to srcDir.
// Symlinks are preserved; sockets and other irregular files are skipped.
func CreateArchive(srcDir, dstPath string) (int64, error) {
	if err := os.MkdirAll(filepath.Dir(dstPath), 0o755); err != nil {
		return 0, err
	}
	out, err := os.Create(dstPath)
	if err != nil {
		return 0, err
	}
	gz := gzip.NewWriter(out)
	tw := tar.NewWriter(gz)

	walkErr := filepath.WalkDir(srcDir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(srcDir, path)
		if err != nil {
			return err
		}
		if rel == "." {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return err
		}
		var link string
		if info.Mode()&fs.ModeSymlink != 0 {
			if link, err = os.Readlink(path); err != nil {
				return err
			}
		} else if !info.Mode().IsRegular() && !info.IsDir() {
			return nil
		}
		hdr, err := tar.FileInfoHeader(info, link)
		if err != nil {
			return err
		}
		hdr.Name = filepath.ToSlash(rel)
		if info.IsDir() {
			hdr.Name += "/"
		}
		if err := tw.WriteHeader(hdr); err != nil {
			return err
		}
		if !info.Mode().IsRegular() {
			return nil
		}
		f, err := os.Open(path)
		if err != nil {
			return err
		}
		_, err = io.Copy(tw, f)
		_ = f.Close()
		return err
	})

	if err := tw.Close(); err != nil && walkErr == nil {
		walkErr = err
	}
	if err := gz.Close(); err != nil && walkErr == nil {
		walkErr = err
	}
	if err := out.Close(); err != nil && walkErr == nil {
		walkErr = err
	}
	if walkErr != nil {
		_ = os.Remove(dstPath)
		return 0, fmt.Errorf("failed to archive %s: %w", srcDir, walkErr)
	}
	st, err := os.Stat(dstPath)
	if err != nil {
		return 0, err
	}
	return st.Size(), nil
}

// Dir returns the backup directory for a server under the configured root.
func Dir(root, serverID string) string {
	return filepath.Join(root, strings.TrimSpace(serverID))
}
