package source

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"os"
	"sort"
	"strings"
	"sync"
	"time"
)

// DefaultUserAgent is sent by the http loader when none is configured.
const DefaultUserAgent = "pulseboard-ingest/1.0"

// DefaultMaxBytes caps a fetched document.
const DefaultMaxBytes = 10 << 20

// Page is a loaded document.
type Page struct {
	URL  string
	Body []byte
	// Screenshot is a full-page PNG, nil when the loader cannot render.
	Screenshot []byte
}

// Loader fetches a document. On error the returned Page may be non-nil and carry whatever was
// captured before the failure, so the caller can save it as a diagnostic.
type Loader interface {
	Load(ctx context.Context, target string) (*Page, error)
}

// LoaderConfig is the loader section of a source entry.
type LoaderConfig struct {
	Type      string        `yaml:"type"` // file | http | browser
	Timeout   time.Duration `yaml:"timeout"`
	UserAgent string        `yaml:"user_agent"`
	MaxBytes  int64         `yaml:"max_bytes"`
	// Browser only.
	Headless  *bool  `yaml:"headless"`
	RemoteURL string `yaml:"remote_url"`
}

// LoaderFactory builds a Loader from its config.
type LoaderFactory func(cfg LoaderConfig, logger *slog.Logger) (Loader, error)

var (
	loadersMu sync.RWMutex
	loaders   = map[string]LoaderFactory{
		"file": func(LoaderConfig, *slog.Logger) (Loader, error) { return FileLoader{}, nil },
		"http": func(c LoaderConfig, _ *slog.Logger) (Loader, error) { return NewHTTPLoader(c), nil },
	}
)

// RegisterLoader makes a loader type available to NewFromConfig. Packages with heavy
// dependencies (the headless browser) register themselves from init.
func RegisterLoader(name string, f LoaderFactory) {
	loadersMu.Lock()
	defer loadersMu.Unlock()
	if f == nil {
		panic("source: RegisterLoader factory is nil")
	}
	loaders[name] = f
}

func newLoader(cfg LoaderConfig, logger *slog.Logger) (Loader, error) {
	typ := cfg.Type
	if typ == "" {
		typ = "http"
	}
	loadersMu.RLock()
	f, ok := loaders[typ]
	names := make([]string, 0, len(loaders))
	for n := range loaders {
		names = append(names, n)
	}
	loadersMu.RUnlock()
	if !ok {
		sort.Strings(names)
		return nil, fmt.Errorf("unknown loader type %q (registered: %s)", typ, strings.Join(names, ", "))
	}
	return f(cfg, logger)
}

// FileLoader reads documents from disk. Targets are paths or file:// URLs.
type FileLoader struct{}

func (FileLoader) Load(ctx context.Context, target string) (*Page, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	path := strings.TrimPrefix(target, "file://")
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return &Page{URL: target, Body: b}, nil
}

// HTTPLoader fetches documents with a plain GET.
type HTTPLoader struct {
	Client    *http.Client
	UserAgent string
	MaxBytes  int64
}

// NewHTTPLoader applies defaults: 30s timeout, DefaultUserAgent, DefaultMaxBytes.
func NewHTTPLoader(c LoaderConfig) *HTTPLoader {
	timeout := c.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	ua := c.UserAgent
	if ua == "" {
		ua = DefaultUserAgent
	}
	maxBytes := c.MaxBytes
	if maxBytes <= 0 {
		maxBytes = DefaultMaxBytes
	}
	return &HTTPLoader{Client: NewHTTPClient(timeout), UserAgent: ua, MaxBytes: maxBytes}
}

// NewHTTPClient returns a client with bounded dial and handshake times.
func NewHTTPClient(timeout time.Duration) *http.Client {
	tr := &http.Transport{
		Proxy:               http.ProxyFromEnvironment,
		DialContext:         (&net.Dialer{Timeout: 5 * time.Second, KeepAlive: 60 * time.Second}).DialContext,
		MaxIdleConns:        100,
		IdleConnTimeout:     90 * time.Second,
		TLSHandshakeTimeout: 5 * time.Second,
	}
	return &http.Client{Timeout: timeout, Transport: tr}
}

var errTooLarge = errors.New("document exceeds size limit")

func (l *HTTPLoader) Load(ctx context.Context, target string) (*Page, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("User-Agent", l.UserAgent)
	req.Header.Set("Accept", "text/html,application/json;q=0.9,*/*;q=0.8")

	client := l.Client
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	maxBytes := l.MaxBytes
	if maxBytes <= 0 {
		maxBytes = DefaultMaxBytes
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBytes+1))
	if err != nil {
		return nil, err
	}
	page := &Page{URL: target, Body: body}
	if int64(len(body)) > maxBytes {
		page.Body = body[:maxBytes]
		return page, fmt.Errorf("%w (%d bytes)", errTooLarge, maxBytes)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return page, fmt.Errorf("GET %s: status %d", target, resp.StatusCode)
	}
	return page, nil
}
