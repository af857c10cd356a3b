package httpserver

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/dustin/go-humanize"

	"github.com/tanyuqing/FileServer/internal/formdata"
	"github.com/tanyuqing/FileServer/internal/upload"
)

const uploadOK = "File upload succeeded"

// handleUpload buffers the multipart body, prepares the landing zone named by
// the query parameters and stores every file part in it. A part that fails to
// decode or save is logged and skipped; the rest of the batch still lands.
func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request, l reqLog) {
	ct := r.Header.Get("Content-Type")
	l.Printf("client content type: %s", ct)
	boundary, err := formdata.BoundaryFromContentType(ct)
	if err != nil {
		writeText(w, http.StatusBadRequest, "Boundary not found in Content-Type header")
		return
	}

	zone, err := s.uploads.Resolve(r.URL.Query())
	if err != nil {
		l.Printf("resolve landing zone: %v", err)
		writeText(w, http.StatusBadRequest, paramMessage(err))
		return
	}

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, s.cfg.MaxUploadBytes))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeText(w, http.StatusRequestEntityTooLarge,
				fmt.Sprintf("Request body exceeds %s", humanize.IBytes(uint64(tooLarge.Limit))))
			return
		}
		l.Printf("read body: %v", err)
		writeText(w, http.StatusBadRequest, "Failed to read request body")
		return
	}

	if err := s.uploads.Prepare(zone); err != nil {
		l.Printf("%v", err)
		writeText(w, http.StatusInternalServerError, "Failed to prepare upload directory")
		return
	}
	l.Printf("landing zone %s ready (cleared previous batch: %v)", zone.Dir, zone.Wiped)

	parts, err := formdata.Decode(body, boundary)
	if err != nil {
		l.Printf("multipart: %v", err)
	}

	var saved []string
	for _, p := range parts {
		switch p.Kind {
		case formdata.KindField:
			l.Printf("field %s = %q", p.Name, p.Value)
		case formdata.KindFile:
			if p.Filename == "" {
				l.Printf("file part %q has an empty filename, skipped", p.Name)
				continue
			}
			if name, ok := s.saveFile(zone, p, l); ok {
				saved = append(saved, name)
			}
		}
	}

	var b strings.Builder
	b.WriteString(uploadOK)
	for _, name := range saved {
		b.WriteString("\n" + name)
	}
	writeText(w, http.StatusOK, b.String())
	l.Printf("upload finished: %d file(s) saved", len(saved))
}

// saveFile writes one file part and expands it when it is an archive. It
// returns the line reported to the client for this part.
func (s *Server) saveFile(zone *upload.Zone, p formdata.Part, l reqLog) (string, bool) {
	sf, err := s.uploads.Save(zone, p.Filename, p.Payload)
	if err != nil {
		l.Printf("save %q: %v", p.Filename, err)
		return "", false
	}
	l.Printf("saved %s (%s, blake2b %s)", sf.Path, humanize.Bytes(uint64(sf.Size)), sf.Sum[:16])

	line := zone.Rel + "/" + sf.Name
	if s.uploads.IsArchive(sf.Name) {
		n, err := s.uploads.Expand(zone, sf)
		if err != nil {
			l.Printf("%v", err)
			return line + " (expansion failed)", true
		}
		l.Printf("expanded %s into %s (%d files), archive removed", sf.Name, zone.Dir, n)
		return fmt.Sprintf("%s (expanded, %d files)", line, n), true
	}
	return line, true
}

func paramMessage(err error) string {
	var pe *upload.ParamError
	switch {
	case errors.As(err, &pe) && errors.Is(err, upload.ErrMissingParam):
		return fmt.Sprintf("Query parameter %s is empty, please check the URL", pe.Name)
	case errors.As(err, &pe):
		return fmt.Sprintf("Query parameter %s must be a single directory name", pe.Name)
	default:
		return "Invalid upload destination"
	}
}
