package httpserver

import (
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"path/filepath"
	"strconv"

	"github.com/rs/cors"

	"github.com/tanyuqing/FileServer/internal/config"
	"github.com/tanyuqing/FileServer/internal/upload"
)

type Options struct {
	Config config.Config
}

// Server answers GET/HEAD from the share root and accepts multipart uploads
// on the configured upload path. Nothing is shared between requests except
// the configuration, which is never modified after New.
type Server struct {
	cfg     config.Config
	uploads *upload.Manager
}

func New(opts Options) (*Server, error) {
	cfg := opts.Config
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	root, err := filepath.Abs(cfg.Root)
	if err != nil {
		return nil, fmt.Errorf("abs root: %w", err)
	}
	st, err := os.Stat(root)
	if err != nil {
		return nil, err
	}
	if !st.IsDir() {
		return nil, errors.New("root is not a directory")
	}
	cfg.Root = root
	return &Server{
		cfg:     cfg,
		uploads: upload.New(root, cfg.UploadParams, cfg.ArchiveExts),
	}, nil
}

func (s *Server) Config() config.Config { return s.cfg }

func (s *Server) Handler() http.Handler {
	var h http.Handler = http.HandlerFunc(s.dispatch)
	h = withRecover(h)
	if len(s.cfg.CORSOrigins) > 0 {
		h = cors.New(cors.Options{
			AllowedOrigins: s.cfg.CORSOrigins,
			AllowedMethods: []string{http.MethodGet, http.MethodHead, http.MethodPost},
			AllowedHeaders: []string{"Content-Type"},
		}).Handler(h)
	}
	return h
}

func (s *Server) dispatch(w http.ResponseWriter, r *http.Request) {
	l := newReqLog()
	l.Printf("%s %s", r.Method, r.URL)

	switch r.Method {
	case http.MethodGet:
		s.handleGet(w, r, l)
	case http.MethodHead:
		s.handleHead(w, r, l)
	case http.MethodPost:
		if r.URL.Path != s.cfg.UploadPath {
			writeText(w, http.StatusOK, "")
			return
		}
		s.handleUpload(w, r, l)
	default:
		writeText(w, http.StatusMethodNotAllowed, "Method Not Allowed")
	}
}

func withRecover(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			v := recover()
			if v == nil {
				return
			}
			if v == http.ErrAbortHandler {
				panic(v)
			}
			log.Printf("panic serving %s %s: %v", r.Method, r.URL, v)
			writeText(w, http.StatusInternalServerError, "Internal Server Error")
		}()
		next.ServeHTTP(w, r)
	})
}

// writeText sends a complete plain text response.
func writeText(w http.ResponseWriter, code int, msg string) {
	h := w.Header()
	h.Set("Content-Type", "text/plain; charset=utf-8")
	h.Set("Content-Length", strconv.Itoa(len(msg)))
	w.WriteHeader(code)
	if msg != "" {
		_, _ = w.Write([]byte(msg))
	}
}
