package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"log"
	"net"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"sync"
	"syscall"

	"golang.org/x/net/netutil"

	"github.com/tanyuqing/FileServer/internal/config"
	"github.com/tanyuqing/FileServer/internal/httpserver"
)

func main() {
	log.SetFlags(log.LstdFlags | log.Lmicroseconds)

	var (
		root         = flag.String("root", "", "file root (required if -config is not set)")
		listen       = flag.String("listen", config.DefaultListen, "comma-separated listen addresses or http:// prefixes")
		uploadParams = flag.String("upload-params", config.SchemePlatform, `query parameters forming the upload directory; "?" marks optional ones`)
		maxConns     = flag.Int("max-conns", 0, "max concurrent connections per listener (0 = unlimited)")
		corsOrigins  = flag.String("cors", "", "comma-separated origins allowed to call the server cross-origin")
		cfgPath      = flag.String("config", "", "path to config json (optional)")
	)
	flag.Parse()

	var cfg config.Config
	if *cfgPath != "" {
		b, err := os.ReadFile(*cfgPath)
		if err != nil {
			log.Fatalf("read config: %v", err)
		}
		if err := json.Unmarshal(b, &cfg); err != nil {
			log.Fatalf("parse config: %v", err)
		}
	} else {
		if strings.TrimSpace(*root) == "" {
			log.Fatalf("missing -root (or provide -config)")
		}
		params, err := config.ParseUploadParams(*uploadParams)
		if err != nil {
			log.Fatalf("-upload-params: %v", err)
		}
		cfg = config.Config{
			Root:         *root,
			Listen:       splitList(*listen),
			UploadParams: params,
			MaxConns:     *maxConns,
			CORSOrigins:  splitList(*corsOrigins),
		}
	}

	if cfg.Root == "" {
		log.Fatalf("config: root is required")
	}
	absRoot, err := filepath.Abs(cfg.Root)
	if err != nil {
		log.Fatalf("abs root: %v", err)
	}
	cfg.Root = absRoot
	if err := os.MkdirAll(cfg.Root, 0o755); err != nil {
		log.Fatalf("mkdir root: %v", err)
	}

	srv, err := httpserver.New(httpserver.Options{Config: cfg})
	if err != nil {
		log.Fatalf("server init: %v", err)
	}
	cfg = srv.Config()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, withHeaders(srv.Handler())); err != nil {
		log.Fatal(err)
	}
}

// run serves h on every configured address until ctx is done, then shuts the
// server down and waits for all listeners to return.
func run(ctx context.Context, cfg config.Config, h http.Handler) error {
	hs := &http.Server{Handler: h}

	var listeners []net.Listener
	for _, prefix := range cfg.Listen {
		addr, err := config.ListenAddr(prefix)
		if err != nil {
			return err
		}
		ln, err := net.Listen("tcp", addr)
		if err != nil {
			for _, l := range listeners {
				l.Close()
			}
			return err
		}
		if cfg.MaxConns > 0 {
			ln = netutil.LimitListener(ln, cfg.MaxConns)
		}
		listeners = append(listeners, ln)
	}

	log.Printf("file server started, root=%s", cfg.Root)
	var wg sync.WaitGroup
	for _, ln := range listeners {
		log.Printf("listening on http://%s/", ln.Addr())
		log.Printf("upload example: http://%s%s?%s", ln.Addr(), cfg.UploadPath, exampleQuery(cfg))
		wg.Add(1)
		go func(ln net.Listener) {
			defer wg.Done()
			if err := hs.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
				log.Printf("serve %s: %v", ln.Addr(), err)
			}
		}(ln)
	}

	<-ctx.Done()
	log.Printf("shutting down")
	sctx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownGrace())
	defer cancel()
	err := hs.Shutdown(sctx)
	wg.Wait()
	return err
}

func exampleQuery(cfg config.Config) string {
	var q []string
	for _, p := range cfg.UploadParams {
		q = append(q, p.Name+"=("+p.Name+")")
	}
	return strings.Join(q, "&")
}

func withHeaders(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Content-Type-Options", "nosniff")
		w.Header().Set("Cache-Control", "no-store")
		next.ServeHTTP(w, r)
	})
}

func splitList(s string) []string {
	var out []string
	for _, f := range strings.Split(s, ",") {
		if f = strings.TrimSpace(f); f != "" {
			out = append(out, f)
		}
	}
	return out
}
