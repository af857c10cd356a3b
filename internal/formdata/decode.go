package formdata

import (
	"errors"
	"fmt"
)

type Kind int

const (
	KindField Kind = iota
	KindFile
)

func (k Kind) String() string {
	switch k {
	case KindField:
		return "field"
	case KindFile:
		return "file"
	default:
		return fmt.Sprintf("Kind(%d)", int(k))
	}
}

// Part is one decoded segment of a multipart body. For KindFile, Filename is
// set (possibly empty when the client sent filename="") and Payload holds the
// raw bytes. For KindField, Value holds the payload as a string.
type Part struct {
	Kind        Kind
	Name        string
	Filename    string
	ContentType string
	Payload     []byte
	Value       string
}

// PartError reports a part that could not be decoded. Index counts parts in
// body order, starting at 0.
type PartError struct {
	Index int
	Err   error
}

func (e *PartError) Error() string {
	return fmt.Sprintf("part %d: %v", e.Index, e.Err)
}

func (e *PartError) Unwrap() error { return e.Err }

// Decode splits body at every occurrence of "--"+boundary and decodes the
// parts in between. Parts are returned in body order. Parts that fail to
// decode are left out and reported through the returned error, which joins
// one *PartError per failure; a non-nil error therefore does not mean parts
// is empty.
//
// Payload slices alias body.
func Decode(body []byte, boundary string) ([]Part, error) {
	if boundary == "" {
		return nil, ErrMissingBoundary
	}
	marker := Marker(boundary)
	positions := FindBoundaries(body, marker)

	var (
		parts []Part
		errs  []error
		index int
	)
	for i := 0; i+1 < len(positions); i++ {
		// Skip the marker and its CRLF; stop before the CRLF that precedes
		// the next marker.
		start := positions[i] + len(marker) + 2
		end := positions[i+1] - 2
		if start >= end {
			continue
		}
		p, err := decodePart(body[start:end])
		if err != nil {
			errs = append(errs, &PartError{Index: index, Err: err})
		} else {
			parts = append(parts, p)
		}
		index++
	}
	return parts, errors.Join(errs...)
}

func decodePart(raw []byte) (Part, error) {
	h, payload, err := splitPart(raw)
	if err != nil {
		return Part{}, err
	}
	d := parseDisposition(h.Disposition)
	p := Part{
		Name:        d.Name,
		ContentType: h.ContentType,
	}
	if d.HasFilename {
		p.Kind = KindFile
		p.Filename = d.Filename
		p.Payload = payload
	} else {
		p.Kind = KindField
		p.Value = string(payload)
	}
	return p, nil
}
