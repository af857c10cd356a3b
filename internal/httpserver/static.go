package httpserver

import (
	"errors"
	"io"
	"net/http"
	"os"
	"strconv"

	"github.com/dustin/go-humanize"

	"github.com/tanyuqing/FileServer/internal/fsutil"
)

const (
	faviconPath = "favicon.ico"
	chunkSize   = 64 << 10
)

type targetKind int

const (
	targetNotFound targetKind = iota
	targetDirectory
	targetFile
)

type target struct {
	kind targetKind
	path string // absolute filesystem path
	rel  string // slash-separated, "" for the root
	info os.FileInfo
}

// resolve maps a decoded URL path onto the share root.
func (s *Server) resolve(urlPath string) target {
	rel := fsutil.CleanRelPath(urlPath)
	if fsutil.HasDotDot(urlPath) {
		return target{kind: targetNotFound, rel: rel}
	}
	abs, err := fsutil.JoinWithinRoot(s.cfg.Root, rel)
	if err != nil {
		return target{kind: targetNotFound, rel: rel}
	}
	st, err := os.Stat(abs)
	switch {
	case err != nil:
		return target{kind: targetNotFound, path: abs, rel: rel}
	case st.IsDir():
		return target{kind: targetDirectory, path: abs, rel: rel, info: st}
	case st.Mode().IsRegular():
		return target{kind: targetFile, path: abs, rel: rel, info: st}
	default:
		return target{kind: targetNotFound, path: abs, rel: rel}
	}
}

func (s *Server) handleGet(w http.ResponseWriter, r *http.Request, l reqLog) {
	if fsutil.CleanRelPath(r.URL.Path) == faviconPath {
		writeText(w, http.StatusOK, "no favicon")
		return
	}

	t := s.resolve(r.URL.Path)
	switch t.kind {
	case targetDirectory:
		l.Printf("%s is a directory", t.path)
		page, err := renderListing(t.path, t.rel)
		if err != nil {
			l.Printf("list %s: %v", t.path, err)
			writeText(w, http.StatusInternalServerError, "Failed to read directory")
			return
		}
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		w.Header().Set("Content-Length", strconv.Itoa(len(page)))
		w.WriteHeader(http.StatusOK)
		if _, err := w.Write(page); err != nil {
			l.Printf("write listing: %v", err)
		}
	case targetFile:
		l.Printf("%s is a file", t.path)
		n, err := streamFile(w, t)
		if err != nil {
			l.Printf("transfer of %s aborted after %s: %v", t.rel, humanize.Bytes(uint64(n)), err)
			return
		}
		l.Printf("transfer of %s finished (%s)", t.rel, humanize.Bytes(uint64(n)))
	default:
		l.Printf("%s is neither a file nor a directory", t.rel)
		writeText(w, http.StatusNotFound, "File or directory not found")
	}
}

// handleHead reports the metadata of a file without sending its content.
func (s *Server) handleHead(w http.ResponseWriter, r *http.Request, l reqLog) {
	t := s.resolve(r.URL.Path)
	if t.kind != targetFile {
		w.WriteHeader(http.StatusNotFound)
		return
	}
	w.Header().Set("Content-Type", contentTypeForName(t.info.Name()))
	w.Header().Set("Content-Length", strconv.FormatInt(t.info.Size(), 10))
	w.WriteHeader(http.StatusOK)
}

var errShortWrite = errors.New("short write")

// streamFile copies the file to w in fixed-size chunks and flushes once the
// last chunk is written. It returns the number of bytes written.
func streamFile(w http.ResponseWriter, t target) (int64, error) {
	f, err := os.Open(t.path)
	if err != nil {
		writeText(w, http.StatusInternalServerError, "Failed to open file")
		return 0, err
	}
	defer f.Close()

	w.Header().Set("Content-Type", contentTypeForName(t.info.Name()))
	w.Header().Set("Content-Length", strconv.FormatInt(t.info.Size(), 10))
	w.WriteHeader(http.StatusOK)

	var written int64
	buf := make([]byte, chunkSize)
	for {
		nr, rerr := f.Read(buf)
		if nr > 0 {
			nw, werr := w.Write(buf[:nr])
			written += int64(nw)
			if werr != nil {
				return written, werr
			}
			if nw != nr {
				return written, errShortWrite
			}
		}
		if errors.Is(rerr, io.EOF) {
			break
		}
		if rerr != nil {
			return written, rerr
		}
	}
	if err := http.NewResponseController(w).Flush(); err != nil && !errors.Is(err, http.ErrNotSupported) {
		return written, err
	}
	return written, nil
}
