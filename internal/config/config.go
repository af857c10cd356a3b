package config

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"
)

// Upload parameter presets. A trailing "?" marks an optional parameter.
const (
	SchemePlatform = "platform,form?"
	SchemeRelease  = "type,user,platform,version"
)

const (
	DefaultListen         = ":8888"
	DefaultUploadPath     = "/upload"
	DefaultMaxUploadBytes = 2 << 30
	DefaultShutdown       = 10
)

// Config is built once at startup and handed to the server by value.
// It is JSON-friendly so it can be loaded from a file with -config.
type Config struct {
	// Root is the directory served over GET/HEAD and written by uploads.
	Root string `json:"root"`

	// Listen holds one or more addresses. Both "host:port" and URL prefixes
	// like "http://host:port/" are accepted.
	Listen []string `json:"listen,omitempty"`

	// UploadPath is the only path that accepts multipart POSTs.
	UploadPath string `json:"uploadPath,omitempty"`

	// UploadParams lists the query parameters whose values, in order, form
	// the landing zone below Root. Default: SchemePlatform.
	UploadParams []UploadParam `json:"uploadParams,omitempty"`

	// ArchiveExts are file name suffixes that get expanded after upload.
	ArchiveExts []string `json:"archiveExts,omitempty"`

	// MaxUploadBytes bounds the buffered request body of one upload.
	MaxUploadBytes int64 `json:"maxUploadBytes,omitempty"`

	// MaxConns caps concurrent connections per listener. 0 means no cap.
	MaxConns int `json:"maxConns,omitempty"`

	// CORSOrigins enables CORS for the listed origins ("*" for any).
	CORSOrigins []string `json:"corsOrigins,omitempty"`

	// ShutdownTimeout is the grace period in seconds for in-flight requests.
	ShutdownTimeout int `json:"shutdownTimeout,omitempty"`
}

type UploadParam struct {
	Name     string `json:"name"`
	Required bool   `json:"required"`
}

// ApplyDefaults fills zero-valued fields.
func (c *Config) ApplyDefaults() {
	if len(c.Listen) == 0 {
		c.Listen = []string{DefaultListen}
	}
	if c.UploadPath == "" {
		c.UploadPath = DefaultUploadPath
	}
	if !strings.HasPrefix(c.UploadPath, "/") {
		c.UploadPath = "/" + c.UploadPath
	}
	if len(c.UploadParams) == 0 {
		c.UploadParams, _ = ParseUploadParams(SchemePlatform)
	}
	if c.ArchiveExts == nil {
		c.ArchiveExts = []string{".zip", ".tar", ".tar.gz", ".tgz"}
	}
	if c.MaxUploadBytes <= 0 {
		c.MaxUploadBytes = DefaultMaxUploadBytes
	}
	if c.ShutdownTimeout <= 0 {
		c.ShutdownTimeout = DefaultShutdown
	}
}

// Validate checks a config that already went through ApplyDefaults.
func (c Config) Validate() error {
	if strings.TrimSpace(c.Root) == "" {
		return errors.New("config: root is required")
	}
	if len(c.Listen) == 0 {
		return errors.New("config: at least one listen address is required")
	}
	for _, l := range c.Listen {
		if _, err := ListenAddr(l); err != nil {
			return fmt.Errorf("config: %w", err)
		}
	}
	if len(c.UploadParams) == 0 {
		return errors.New("config: uploadParams is empty")
	}
	seen := make(map[string]bool, len(c.UploadParams))
	hasRequired := false
	for _, p := range c.UploadParams {
		if p.Name == "" {
			return errors.New("config: upload parameter with empty name")
		}
		if seen[p.Name] {
			return fmt.Errorf("config: duplicate upload parameter %q", p.Name)
		}
		seen[p.Name] = true
		hasRequired = hasRequired || p.Required
	}
	// Without a required parameter the landing zone could collapse onto Root
	// and an upload would wipe the whole share.
	if !hasRequired {
		return errors.New("config: at least one upload parameter must be required")
	}
	if c.MaxConns < 0 {
		return errors.New("config: maxConns must not be negative")
	}
	return nil
}

func (c Config) ShutdownGrace() time.Duration {
	return time.Duration(c.ShutdownTimeout) * time.Second
}

// ParseUploadParams parses a comma-separated parameter list such as
// "platform,form?". Names ending in "?" are optional.
func ParseUploadParams(s string) ([]UploadParam, error) {
	var params []UploadParam
	for _, f := range strings.Split(s, ",") {
		f = strings.TrimSpace(f)
		if f == "" {
			continue
		}
		p := UploadParam{Name: strings.TrimSuffix(f, "?"), Required: !strings.HasSuffix(f, "?")}
		if p.Name == "" {
			return nil, fmt.Errorf("invalid upload parameter %q", f)
		}
		params = append(params, p)
	}
	if len(params) == 0 {
		return nil, errors.New("no upload parameters")
	}
	return params, nil
}

// ListenAddr turns a listen prefix into a host:port for net.Listen.
// "http://localhost:8888/" becomes "localhost:8888"; plain addresses pass
// through.
func ListenAddr(prefix string) (string, error) {
	prefix = strings.TrimSpace(prefix)
	if prefix == "" {
		return "", errors.New("empty listen address")
	}
	if !strings.Contains(prefix, "://") {
		return prefix, nil
	}
	u, err := url.Parse(prefix)
	if err != nil {
		return "", fmt.Errorf("listen prefix %q: %w", prefix, err)
	}
	if u.Scheme != "http" {
		return "", fmt.Errorf("listen prefix %q: unsupported scheme %q", prefix, u.Scheme)
	}
	if u.Port() == "" {
		return u.Hostname() + ":80", nil
	}
	return u.Host, nil
}
