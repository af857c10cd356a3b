package upload

import (
	"archive/tar"
	"archive/zip"
	"compress/gzip"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"

	"github.com/tanyuqing/FileServer/internal/fsutil"
)

var ErrUnknownArchive = errors.New("unsupported archive format")

// Expand unpacks the archive at f.Path into z and removes the archive once
// every entry has been handled. The archive is moved out of the zone first, so
// an entry carrying the archive's own name cannot overwrite it mid-read.
// Entries whose name contains a ".." segment are skipped. On error, entries
// extracted so far stay in place and the archive is put back unless an entry
// has taken its name.
func (m *Manager) Expand(z *Zone, f SavedFile) (entries int, err error) {
	ext, ok := m.archiveFormat(f.Name)
	if !ok {
		return 0, ErrUnknownArchive
	}
	id, err := newID()
	if err != nil {
		return 0, err
	}
	src := filepath.Join(filepath.Dir(z.Dir), "."+filepath.Base(f.Path)+"."+id+".expanding")
	if err := os.Rename(f.Path, src); err != nil {
		return 0, fmt.Errorf("move %s aside: %w", f.Name, err)
	}

	switch ext {
	case ".zip":
		entries, err = expandZip(src, z.Dir)
	case ".tar":
		entries, err = expandTar(src, z.Dir, false)
	case ".tar.gz", ".tgz":
		entries, err = expandTar(src, z.Dir, true)
	default:
		err = fmt.Errorf("%w: %s", ErrUnknownArchive, ext)
	}
	if err != nil {
		if _, serr := os.Lstat(f.Path); errors.Is(serr, os.ErrNotExist) {
			_ = os.Rename(src, f.Path)
		} else {
			_ = os.Remove(src)
		}
		return entries, fmt.Errorf("expand %s: %w", f.Name, err)
	}
	if err := os.Remove(src); err != nil {
		return entries, fmt.Errorf("remove %s: %w", f.Name, err)
	}
	return entries, nil
}

// entryPath confines an archive entry name to dest. Names with a ".."
// segment are rejected instead of being clamped.
func entryPath(dest, name string) (string, error) {
	if fsutil.HasDotDot(name) {
		return "", fsutil.ErrPathEscape
	}
	return fsutil.JoinWithinRoot(dest, name)
}

func newID() (string, error) {
	var b [8]byte
	if _, err := rand.Read(b[:]); err != nil {
		return "", err
	}
	return hex.EncodeToString(b[:]), nil
}

func expandZip(src, dest string) (int, error) {
	zr, err := zip.OpenReader(src)
	if err != nil {
		return 0, err
	}
	defer zr.Close()

	n := 0
	for _, zf := range zr.File {
		dst, err := entryPath(dest, zf.Name)
		if err != nil {
			log.Printf("archive %s: skipping entry %q: %v", filepath.Base(src), zf.Name, err)
			continue
		}
		if zf.FileInfo().IsDir() {
			if err := os.MkdirAll(dst, 0o755); err != nil {
				return n, err
			}
			continue
		}
		rc, err := zf.Open()
		if err != nil {
			return n, err
		}
		err = writeEntry(dst, rc, zf.Mode())
		rc.Close()
		if err != nil {
			return n, err
		}
		n++
	}
	return n, nil
}

func expandTar(src, dest string, gzipped bool) (int, error) {
	f, err := os.Open(src)
	if err != nil {
		return 0, err
	}
	defer f.Close()

	var r io.Reader = f
	if gzipped {
		gz, err := gzip.NewReader(f)
		if err != nil {
			return 0, err
		}
		defer gz.Close()
		r = gz
	}

	tr := tar.NewReader(r)
	n := 0
	for {
		h, err := tr.Next()
		if errors.Is(err, io.EOF) {
			return n, nil
		}
		if err != nil {
			return n, err
		}
		dst, err := entryPath(dest, h.Name)
		if err != nil {
			log.Printf("archive %s: skipping entry %q: %v", filepath.Base(src), h.Name, err)
			continue
		}
		switch h.Typeflag {
		case tar.TypeDir:
			if err := os.MkdirAll(dst, 0o755); err != nil {
				return n, err
			}
		case tar.TypeReg:
			if err := writeEntry(dst, tr, h.FileInfo().Mode()); err != nil {
				return n, err
			}
			n++
		default:
			// links and devices are not materialized
			log.Printf("archive %s: skipping %q (type %c)", filepath.Base(src), h.Name, h.Typeflag)
		}
	}
}

func writeEntry(dst string, r io.Reader, mode os.FileMode) error {
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return err
	}
	perm := mode.Perm()
	if perm == 0 {
		perm = 0o644
	}
	out, err := os.OpenFile(dst, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, perm)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, r); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}
