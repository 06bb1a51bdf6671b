// Package browser provides the "browser" page loader: a Chrome instance driven through Rod
// with stealth patches, for pages that only render with JavaScript and a signed-in profile.
//
// Importing the package registers the loader with the source package.
package browser

import (
	"context"
	"crypto/tls"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/url"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/cdp"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/proto"
	"github.com/go-rod/stealth"

	"pulseboard/internal/ingest/source"
)

func init() {
	source.RegisterLoader("browser", func(c source.LoaderConfig, logger *slog.Logger) (source.Loader, error) {
		cfg := Config{RemoteURL: c.RemoteURL, NavTimeout: c.Timeout, Logger: logger, Headless: true}
		if c.Headless != nil {
			cfg.Headless = *c.Headless
		}
		return New(cfg), nil
	})
}

// Config configures the loader.
type Config struct {
	// RemoteURL is the DevTools WebSocket URL of a running Chrome, which is left running
	// after each load. Empty = launch a local one per load.
	RemoteURL string
	// Headless is ignored with RemoteURL.
	Headless bool
	// NavTimeout bounds navigation and load. Default: 30s.
	NavTimeout time.Duration
	Logger     *slog.Logger
}

// Loader renders a page and captures its DOM and a full-page screenshot.
type Loader struct {
	cfg Config
}

// New returns a Loader. Chrome is started lazily by Load.
func New(cfg Config) *Loader {
	if cfg.NavTimeout <= 0 {
		cfg.NavTimeout = 30 * time.Second
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Loader{cfg: cfg}
}

// Load navigates to target and waits for the load event. On failure after the tab was
// opened, the returned page carries a screenshot of whatever was rendered.
func (l *Loader) Load(ctx context.Context, target string) (*source.Page, error) {
	b, sess, err := l.connect(ctx)
	if err != nil {
		return nil, err
	}
	defer sess.close()

	page, err := stealth.Page(b)
	if err != nil {
		return nil, fmt.Errorf("browser: create tab: %w", err)
	}
	defer page.Close()

	navCtx, cancel := context.WithTimeout(ctx, l.cfg.NavTimeout)
	defer cancel()

	if err := page.Context(navCtx).Navigate(target); err != nil {
		return l.partial(page, target), fmt.Errorf("browser: navigate %s: %w", target, err)
	}
	if err := page.Context(navCtx).WaitLoad(); err != nil {
		l.cfg.Logger.Warn("browser: wait load timeout", "url", target, "error", err)
	}

	res, err := page.Context(navCtx).Eval(`() => document.documentElement.outerHTML`)
	if err != nil {
		return l.partial(page, target), fmt.Errorf("browser: get DOM: %w", err)
	}
	return &source.Page{URL: target, Body: []byte(res.Value.Str()), Screenshot: l.screenshot(page)}, nil
}

// session is one load's hold on Chrome. conn is the CDP websocket and is always closed;
// browser is shut down and teardown run only when the load launched Chrome itself.
type session struct {
	browser  interface{ Close() error }
	conn     io.Closer
	teardown func()
	logger   *slog.Logger
}

func (s *session) close() {
	if s.teardown != nil {
		if err := s.browser.Close(); err != nil {
			s.logger.Warn("browser: close", "error", err)
		}
	}
	if err := s.conn.Close(); err != nil {
		s.logger.Debug("browser: close devtools connection", "error", err)
	}
	if s.teardown != nil {
		s.teardown()
	}
}

func (l *Loader) connect(ctx context.Context) (*rod.Browser, *session, error) {
	wsURL := l.cfg.RemoteURL
	var teardown func()
	if wsURL == "" {
		lnch := launcher.New().Headless(l.cfg.Headless).
			Set("disable-blink-features", "AutomationControlled")
		u, err := lnch.Launch()
		if err != nil {
			return nil, nil, fmt.Errorf("browser: launch: %w", err)
		}
		wsURL, teardown = u, lnch.Cleanup
	}
	fail := func(err error) (*rod.Browser, *session, error) {
		if teardown != nil {
			teardown()
		}
		return nil, nil, fmt.Errorf("browser: connect: %w", err)
	}

	d, err := newConnDialer(wsURL)
	if err != nil {
		return fail(err)
	}
	ws := &cdp.WebSocket{Dialer: d}
	if err := ws.Connect(ctx, d.url, nil); err != nil {
		d.close()
		return fail(err)
	}
	b := rod.New().Client(cdp.New().Start(ws))
	if err := b.Connect(); err != nil {
		_ = ws.Close()
		return fail(err)
	}
	return b, &session{browser: b, conn: ws, teardown: teardown, logger: l.cfg.Logger}, nil
}

// connDialer dials the DevTools endpoint and keeps the connection so a failed websocket
// handshake can still be closed.
type connDialer struct {
	url  string
	tls  bool
	conn net.Conn
}

func newConnDialer(wsURL string) (*connDialer, error) {
	u, err := url.Parse(wsURL)
	if err != nil {
		return nil, err
	}
	d := &connDialer{}
	switch u.Scheme {
	case "ws":
		if u.Port() == "" {
			u.Host += ":80"
		}
	case "wss":
		d.tls = true
		if u.Port() == "" {
			u.Host += ":443"
		}
	default:
		return nil, fmt.Errorf("unsupported devtools scheme %q", u.Scheme)
	}
	d.url = u.String()
	return d, nil
}

func (d *connDialer) DialContext(ctx context.Context, network, address string) (net.Conn, error) {
	var (
		conn net.Conn
		err  error
	)
	if d.tls {
		conn, err = (&tls.Dialer{}).DialContext(ctx, network, address)
	} else {
		conn, err = (&net.Dialer{}).DialContext(ctx, network, address)
	}
	d.conn = conn
	return conn, err
}

func (d *connDialer) close() {
	if d.conn != nil {
		_ = d.conn.Close()
	}
}

func (l *Loader) partial(page *rod.Page, target string) *source.Page {
	shot := l.screenshot(page)
	if shot == nil {
		return nil
	}
	return &source.Page{URL: target, Screenshot: shot}
}

// screenshot is best effort; it gets its own deadline because the navigation one may have expired.
func (l *Loader) screenshot(page *rod.Page) []byte {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	shot, err := page.Context(ctx).Screenshot(true, &proto.PageCaptureScreenshot{
		Format: proto.PageCaptureScreenshotFormatPng,
	})
	if err != nil {
		l.cfg.Logger.Warn("browser: screenshot failed", "error", err)
		return nil
	}
	return shot
}
