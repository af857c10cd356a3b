package fsutil

import (
	"errors"
	"os"
	"path"
	"path/filepath"
	"strings"
)

var (
	ErrInvalidPath = errors.New("invalid path")
	ErrPathEscape  = errors.New("path escapes root")
)

// CleanRelPath turns a user supplied path like "", "/", "a//b" or "\a\b"
// into a slash-separated relative path without a leading slash. The root is
// returned as "". Dot-dot segments are resolved against the root, so the
// result never starts with "..".
func CleanRelPath(p string) string {
	p = strings.TrimSpace(p)
	p = strings.ReplaceAll(p, "\\", "/")
	p = path.Clean("/" + p)
	p = strings.TrimPrefix(p, "/")
	if p == "." {
		return ""
	}
	return p
}

// JoinWithinRoot joins rel onto root using the host separator and returns the
// cleaned absolute path. It fails with ErrPathEscape if the result would land
// outside root.
func JoinWithinRoot(root string, rel string) (string, error) {
	if strings.Contains(rel, "\x00") {
		return "", ErrInvalidPath
	}
	rel = CleanRelPath(rel)
	rootClean := filepath.Clean(root)
	if rel == "" {
		return rootClean, nil
	}
	abs := filepath.Clean(filepath.Join(rootClean, filepath.FromSlash(rel)))
	if !Within(rootClean, abs) {
		return "", ErrPathEscape
	}
	return abs, nil
}

// Within reports whether p is root or lies below it. Both paths must already
// be clean.
func Within(root, p string) bool {
	if p == root {
		return true
	}
	prefix := root
	if !strings.HasSuffix(prefix, string(filepath.Separator)) {
		prefix += string(filepath.Separator)
	}
	return strings.HasPrefix(p, prefix)
}

// IsSegment reports whether s can be used as exactly one path element.
func IsSegment(s string) bool {
	if s == "" || s == "." || s == ".." {
		return false
	}
	return !strings.ContainsAny(s, "/\\\x00")
}

// HasDotDot reports whether p, split at either kind of slash, has a ".."
// element.
func HasDotDot(p string) bool {
	for _, el := range strings.FieldsFunc(p, func(r rune) bool { return r == '/' || r == '\\' }) {
		if el == ".." {
			return true
		}
	}
	return false
}

// ResetDir removes dir and everything below it, then recreates it empty.
// It reports whether anything had to be removed.
func ResetDir(dir string) (wiped bool, err error) {
	if _, err := os.Lstat(dir); err == nil {
		wiped = true
		if err := os.RemoveAll(dir); err != nil {
			return wiped, err
		}
	} else if !errors.Is(err, os.ErrNotExist) {
		return false, err
	}
	return wiped, os.MkdirAll(dir, 0o755)
}
