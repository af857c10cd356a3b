package formdata

import (
	"bytes"
	"encoding/base64"
	"errors"
	"mime"
	"net/url"
	"strings"
)

var (
	ErrNoHeaderEnd   = errors.New("part has no header terminator")
	ErrNoDisposition = errors.New("part has no Content-Disposition header")
)

var headerEnd = []byte("\r\n\r\n")

type partHeader struct {
	Disposition string // value after "Content-Disposition:"
	ContentType string // value after "Content-Type:"
}

// splitPart separates the header block of a part from its payload at the
// first CRLFCRLF.
func splitPart(part []byte) (partHeader, []byte, error) {
	end := bytes.Index(part, headerEnd)
	if end < 0 {
		return partHeader{}, nil, ErrNoHeaderEnd
	}
	var h partHeader
	for _, line := range strings.Split(string(part[:end]), "\r\n") {
		if v, ok := cutHeader(line, "Content-Disposition:"); ok {
			h.Disposition = v
		} else if v, ok := cutHeader(line, "Content-Type:"); ok {
			h.ContentType = v
		}
	}
	if h.Disposition == "" {
		return partHeader{}, nil, ErrNoDisposition
	}
	return h, part[end+len(headerEnd):], nil
}

func cutHeader(line, name string) (string, bool) {
	if len(line) < len(name) || !strings.EqualFold(line[:len(name)], name) {
		return "", false
	}
	return strings.TrimSpace(line[len(name):]), true
}

type disposition struct {
	Name        string
	Filename    string
	HasFilename bool
}

// parseDisposition reads name, filename and filename* from a
// Content-Disposition value. filename* takes precedence over filename.
func parseDisposition(v string) disposition {
	var (
		d        disposition
		plain    string
		extended string
		hasExt   bool
	)
	for _, el := range strings.Split(v, ";") {
		key, val, ok := strings.Cut(strings.TrimSpace(el), "=")
		if !ok {
			continue
		}
		val = strings.Trim(strings.TrimSpace(val), `"`)
		switch strings.ToLower(strings.TrimSpace(key)) {
		case "name":
			d.Name = val
		case "filename":
			plain, d.HasFilename = val, true
		case "filename*":
			extended, hasExt, d.HasFilename = val, true, true
		}
	}
	raw := plain
	if hasExt {
		raw = extended
	}
	if d.HasFilename {
		d.Filename = decodeFilename(raw)
	}
	return d
}

var wordDecoder = new(mime.WordDecoder)

// decodeFilename handles the encodings clients use for non-ASCII names:
// RFC 5987 "UTF-8''<percent-encoded>" and RFC 2047 encoded words such as
// "=?utf-8?B?<base64>?=". A value that does not decode is used literally,
// minus the UTF-8'' prefix.
func decodeFilename(raw string) string {
	const utf8Prefix = "UTF-8''"
	switch {
	case len(raw) >= len(utf8Prefix) && strings.EqualFold(raw[:len(utf8Prefix)], utf8Prefix):
		rest := raw[len(utf8Prefix):]
		if name, err := url.QueryUnescape(rest); err == nil {
			return name
		}
		return rest
	case strings.HasPrefix(raw, "=?") && strings.HasSuffix(raw, "?="):
		if name, ok := decodeBase64Word(raw); ok {
			return name
		}
		if name, err := wordDecoder.Decode(raw); err == nil {
			return name
		}
	}
	return raw
}

// decodeBase64Word decodes "=?utf-8?B?...?=" directly, so that padding-free
// tokens some clients send are still accepted.
func decodeBase64Word(raw string) (string, bool) {
	const prefix = "=?utf-8?b?"
	if len(raw) < len(prefix)+2 || !strings.EqualFold(raw[:len(prefix)], prefix) {
		return "", false
	}
	tok := raw[len(prefix) : len(raw)-2]
	b, err := base64.StdEncoding.DecodeString(tok)
	if err != nil {
		b, err = base64.RawStdEncoding.DecodeString(strings.TrimRight(tok, "="))
		if err != nil {
			return "", false
		}
	}
	return string(b), true
}
