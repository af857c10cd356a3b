// Package formdata decodes multipart/form-data bodies that have been read
// into memory in full.
//
// The decoder works on raw bytes: it locates every boundary marker, cuts the
// body into parts, splits each part at the first blank line and reads the
// Content-Disposition and Content-Type headers. A malformed part is reported
// and skipped; the remaining parts are still decoded.
package formdata

import (
	"bytes"
	"errors"
	"strings"
)

var ErrMissingBoundary = errors.New("content type has no boundary")

// BoundaryFromContentType returns the boundary token of a multipart
// Content-Type header value, without the leading "--".
func BoundaryFromContentType(contentType string) (string, error) {
	const attr = "boundary="
	i := indexFold(contentType, attr)
	if i < 0 {
		return "", ErrMissingBoundary
	}
	b := contentType[i+len(attr):]
	if j := strings.IndexByte(b, ';'); j >= 0 {
		b = b[:j]
	}
	b = strings.Trim(strings.TrimSpace(b), `"`)
	if b == "" {
		return "", ErrMissingBoundary
	}
	return b, nil
}

// indexFold is strings.Index with ASCII case folding.
func indexFold(s, substr string) int {
	for i := 0; i+len(substr) <= len(s); i++ {
		if strings.EqualFold(s[i:i+len(substr)], substr) {
			return i
		}
	}
	return -1
}

// Marker returns the delimiter that precedes every part: "--" + boundary.
func Marker(boundary string) []byte {
	return []byte("--" + boundary)
}

// FindBoundaries returns every index in body at which marker starts, in
// ascending order. Overlapping occurrences are all reported.
func FindBoundaries(body, marker []byte) []int {
	if len(marker) == 0 {
		return nil
	}
	var positions []int
	for off := 0; off <= len(body)-len(marker); {
		i := bytes.Index(body[off:], marker)
		if i < 0 {
			break
		}
		positions = append(positions, off+i)
		off += i + 1
	}
	return positions
}
