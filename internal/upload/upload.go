package upload

import (
	"encoding/hex"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"golang.org/x/crypto/blake2b"

	"github.com/tanyuqing/FileServer/internal/config"
	"github.com/tanyuqing/FileServer/internal/fsutil"
)

// Uploads land in a directory below the share root whose path is made of
// query parameter values, e.g. with the default scheme:
//
//	POST /upload?platform=android&form=debug  =>  <root>/android/debug
//
// Each upload request wipes its landing zone first, so a re-upload with the
// same parameters replaces the previous batch. Concurrent uploads to the same
// zone are not serialized.

var (
	ErrMissingParam = errors.New("missing query parameter")
	ErrBadParam     = errors.New("invalid query parameter")
	ErrEmptyName    = errors.New("empty file name")
)

type ParamError struct {
	Name string
	Err  error
}

func (e *ParamError) Error() string {
	return fmt.Sprintf("%v: %s", e.Err, e.Name)
}

func (e *ParamError) Unwrap() error { return e.Err }

type Manager struct {
	rootAbs     string
	params      []config.UploadParam
	archiveExts []string
}

func New(rootAbs string, params []config.UploadParam, archiveExts []string) *Manager {
	exts := make([]string, 0, len(archiveExts))
	for _, e := range archiveExts {
		e = strings.ToLower(strings.TrimSpace(e))
		if e == "" {
			continue
		}
		if !strings.HasPrefix(e, ".") {
			e = "." + e
		}
		exts = append(exts, e)
	}
	return &Manager{
		rootAbs:     filepath.Clean(rootAbs),
		params:      params,
		archiveExts: exts,
	}
}

// Zone is a landing zone for one upload request.
type Zone struct {
	Dir   string // absolute
	Rel   string // slash-separated, relative to the share root
	Wiped bool   // set by Prepare when an earlier batch was removed
}

// Resolve derives the landing zone from q without touching the filesystem.
func (m *Manager) Resolve(q url.Values) (*Zone, error) {
	segs := make([]string, 0, len(m.params))
	for _, p := range m.params {
		v := strings.TrimSpace(q.Get(p.Name))
		if v == "" {
			if p.Required {
				return nil, &ParamError{Name: p.Name, Err: ErrMissingParam}
			}
			continue
		}
		if !fsutil.IsSegment(v) {
			return nil, &ParamError{Name: p.Name, Err: ErrBadParam}
		}
		segs = append(segs, v)
	}
	if len(segs) == 0 {
		// only reachable when every parameter is optional
		return nil, &ParamError{Name: "any of the upload parameters", Err: ErrMissingParam}
	}
	rel := strings.Join(segs, "/")
	dir, err := fsutil.JoinWithinRoot(m.rootAbs, rel)
	if err != nil {
		return nil, err
	}
	return &Zone{Dir: dir, Rel: rel}, nil
}

// Prepare empties the zone, creating it if needed.
func (m *Manager) Prepare(z *Zone) error {
	wiped, err := fsutil.ResetDir(z.Dir)
	z.Wiped = wiped
	if err != nil {
		return fmt.Errorf("prepare %s: %w", z.Rel, err)
	}
	return nil
}

// SavedFile describes one file written into a zone.
type SavedFile struct {
	Name string // relative to the zone
	Path string
	Size int64
	Sum  string // hex BLAKE2b-256 of the content
}

// Save writes payload to name inside z, creating parent directories for
// names that contain slashes.
func (m *Manager) Save(z *Zone, name string, payload []byte) (SavedFile, error) {
	rel := fsutil.CleanRelPath(name)
	if rel == "" {
		return SavedFile{}, ErrEmptyName
	}
	dst, err := fsutil.JoinWithinRoot(z.Dir, rel)
	if err != nil {
		return SavedFile{}, fmt.Errorf("save %q: %w", name, err)
	}
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return SavedFile{}, err
	}
	if err := os.WriteFile(dst, payload, 0o644); err != nil {
		return SavedFile{}, err
	}
	sum := blake2b.Sum256(payload)
	return SavedFile{
		Name: rel,
		Path: dst,
		Size: int64(len(payload)),
		Sum:  hex.EncodeToString(sum[:]),
	}, nil
}

// IsArchive reports whether name ends in one of the configured archive
// extensions.
func (m *Manager) IsArchive(name string) bool {
	_, ok := m.archiveFormat(name)
	return ok
}

func (m *Manager) archiveFormat(name string) (string, bool) {
	lower := strings.ToLower(name)
	for _, ext := range m.archiveExts {
		if strings.HasSuffix(lower, ext) {
			return ext, true
		}
	}
	return "", false
}
