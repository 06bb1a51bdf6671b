package source

import (
	"bytes"
	"context"
	"fmt"
	"iter"
	"log/slog"
	"sync/atomic"
	"time"

	"golang.org/x/net/html"

	"pulseboard/internal/artifact"
	"pulseboard/internal/record/domain"
)

// ArtifactSink receives diagnostics (screenshots, HTML dumps). artifact.Store satisfies it.
type ArtifactSink interface {
	Put(ctx context.Context, key, contentType string, data []byte) (string, error)
}

// DOMSource loads a page and applies a Profile to it.
type DOMSource struct {
	name      string
	target    string
	loader    Loader
	profile   *compiledProfile
	location  *time.Location
	artifacts ArtifactSink
	logger    *slog.Logger
	now       func() time.Time
}

// DOMOption configures a DOMSource.
type DOMOption func(*DOMSource)

// WithArtifacts saves a screenshot of every loaded page and a screenshot or HTML dump on failure.
func WithArtifacts(a ArtifactSink) DOMOption { return func(s *DOMSource) { s.artifacts = a } }

// WithLocation sets the zone used for "today".
func WithLocation(loc *time.Location) DOMOption { return func(s *DOMSource) { s.location = loc } }

// WithLogger sets the logger for non-fatal problems.
func WithLogger(l *slog.Logger) DOMOption { return func(s *DOMSource) { s.logger = l } }

// WithClock overrides the capture clock.
func WithClock(now func() time.Time) DOMOption { return func(s *DOMSource) { s.now = now } }

// NewDOMSource validates and compiles p.
func NewDOMSource(name, target string, loader Loader, p Profile, opts ...DOMOption) (*DOMSource, error) {
	if name == "" {
		return nil, fmt.Errorf("source name is empty")
	}
	if loader == nil {
		return nil, fmt.Errorf("source %s: loader is nil", name)
	}
	cp, err := p.compile()
	if err != nil {
		return nil, fmt.Errorf("source %s: %w", name, err)
	}
	s := &DOMSource{
		name:     name,
		target:   target,
		loader:   loader,
		profile:  cp,
		location: time.UTC,
		logger:   slog.Default(),
		now:      time.Now,
	}
	for _, o := range opts {
		o(s)
	}
	s.logger = s.logger.With("source", name)
	return s, nil
}

func (s *DOMSource) Name() string      { return s.name }
func (s *DOMSource) Kind() domain.Kind { return s.profile.kind }

// Location is the zone used for "today" and for scraped dates.
func (s *DOMSource) Location() *time.Location { return s.location }

// Fetch loads the page once and returns its rows as items.
func (s *DOMSource) Fetch(ctx context.Context) (iter.Seq2[RawItem, error], error) {
	page, err := s.loader.Load(ctx, s.target)
	if err != nil {
		s.saveFailure(ctx, page)
		return nil, &UnavailableError{Source: s.name, Err: err}
	}
	doc, err := html.Parse(bytes.NewReader(page.Body))
	if err != nil {
		s.saveFailure(ctx, page)
		return nil, &UnavailableError{Source: s.name, Err: fmt.Errorf("parse html: %w", err)}
	}
	if len(page.Screenshot) > 0 {
		s.save(ctx, s.profile.label, "png", "image/png", page.Screenshot)
	}

	rows := s.profile.rowsOf(doc)
	now := s.now()
	s.logger.Debug("page loaded", "target", s.target, "rows", len(rows))

	var used atomic.Bool
	return func(yield func(RawItem, error) bool) {
		if !used.CompareAndSwap(false, true) {
			return
		}
		for i, row := range rows {
			if ctx.Err() != nil {
				return
			}
			item, err := s.extract(row, now)
			if err != nil {
				if !yield(nil, &ItemError{Source: s.name, Index: i, Err: err}) {
					return
				}
				continue
			}
			if !yield(item, nil) {
				return
			}
		}
	}, nil
}

// extract isolates one row so that a malformed element cannot abort the batch.
func (s *DOMSource) extract(row *html.Node, now time.Time) (item RawItem, err error) {
	defer func() {
		if r := recover(); r != nil {
			item, err = nil, fmt.Errorf("panic: %v", r)
		}
	}()
	return s.profile.extract(row, now, s.location)
}

func (s *DOMSource) saveFailure(ctx context.Context, page *Page) {
	switch {
	case page == nil:
	case len(page.Screenshot) > 0:
		s.save(ctx, "error", "png", "image/png", page.Screenshot)
	case len(page.Body) > 0:
		s.save(ctx, "error", "html", "text/html; charset=utf-8", page.Body)
	}
}

func (s *DOMSource) save(ctx context.Context, label, ext, contentType string, data []byte) {
	if s.artifacts == nil {
		return
	}
	loc, err := s.artifacts.Put(ctx, artifact.Key(s.name, label, ext, s.now()), contentType, data)
	if err != nil {
		s.logger.Warn("save artifact failed", "label", label, "error", err)
		return
	}
	s.logger.Info("artifact saved", "label", label, "location", loc)
}
