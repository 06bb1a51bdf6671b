package source

import (
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"pulseboard/internal/record/domain"
)

// Config is the sources file (SOURCES_FILE).
type Config struct {
	// Timezone is the default IANA zone for dates without one (UTC when empty).
	Timezone string         `yaml:"timezone"`
	Sources  []SourceConfig `yaml:"sources"`
}

// SourceConfig is one entry of the sources file.
type SourceConfig struct {
	Name string `yaml:"name"`
	Type string `yaml:"type"` // dom (default) | json
	// Kind is the record kind of a json feed; dom sources take it from their profile.
	Kind   domain.Kind  `yaml:"kind"`
	Target string       `yaml:"target"`
	Loader LoaderConfig `yaml:"loader"`
	// Profile names a built-in profile (gmail, calendar).
	Profile string `yaml:"profile"`
	// Custom overrides or replaces the named profile. Non-empty fields win; field maps are merged.
	Custom   *Profile `yaml:"custom_profile"`
	Timezone string   `yaml:"timezone"`
	Disabled bool     `yaml:"disabled"`
}

// LoadConfig reads and decodes a sources file.
func LoadConfig(path string) (Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return Config{}, err
	}
	var c Config
	if err := yaml.Unmarshal(b, &c); err != nil {
		return Config{}, fmt.Errorf("parse %s: %w", path, err)
	}
	return c, nil
}

// Deps are shared by every source built from a config.
type Deps struct {
	Artifacts ArtifactSink
	Logger    *slog.Logger
	Now       func() time.Time
}

// Build constructs every enabled source. Names must be unique.
func Build(c Config, deps Deps) ([]Source, error) {
	defLoc, err := loadLocation(c.Timezone)
	if err != nil {
		return nil, err
	}
	seen := make(map[string]bool, len(c.Sources))
	var out []Source
	for i, sc := range c.Sources {
		if sc.Disabled {
			continue
		}
		if seen[sc.Name] {
			return nil, fmt.Errorf("sources[%d]: duplicate name %q", i, sc.Name)
		}
		seen[sc.Name] = true
		s, err := NewFromConfig(sc, defLoc, deps)
		if err != nil {
			return nil, fmt.Errorf("sources[%d]: %w", i, err)
		}
		out = append(out, s)
	}
	if len(out) == 0 {
		return nil, errors.New("no sources configured")
	}
	return out, nil
}

// NewFromConfig builds one source. defLoc applies when the entry has no timezone.
func NewFromConfig(c SourceConfig, defLoc *time.Location, deps Deps) (Source, error) {
	if c.Name == "" {
		return nil, errors.New("source name is required")
	}
	if c.Target == "" {
		return nil, fmt.Errorf("source %s: target is required", c.Name)
	}
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	loader, err := newLoader(c.Loader, logger)
	if err != nil {
		return nil, fmt.Errorf("source %s: %w", c.Name, err)
	}

	switch c.Type {
	case "", "dom":
		p, err := resolveProfile(c)
		if err != nil {
			return nil, fmt.Errorf("source %s: %w", c.Name, err)
		}
		loc := defLoc
		if c.Timezone != "" {
			if loc, err = loadLocation(c.Timezone); err != nil {
				return nil, fmt.Errorf("source %s: %w", c.Name, err)
			}
		}
		if loc == nil {
			loc = time.UTC
		}
		opts := []DOMOption{WithLocation(loc), WithLogger(logger)}
		if deps.Artifacts != nil {
			opts = append(opts, WithArtifacts(deps.Artifacts))
		}
		if deps.Now != nil {
			opts = append(opts, WithClock(deps.Now))
		}
		return NewDOMSource(c.Name, c.Target, loader, p, opts...)
	case "json":
		return NewJSONSource(c.Name, c.Kind, c.Target, loader)
	default:
		return nil, fmt.Errorf("unknown source type: %s", c.Type)
	}
}

func resolveProfile(c SourceConfig) (Profile, error) {
	var p Profile
	if c.Profile != "" {
		builtin, ok := BuiltinProfile(c.Profile)
		if !ok {
			return Profile{}, fmt.Errorf("unknown profile %q", c.Profile)
		}
		p = builtin
	}
	if o := c.Custom; o != nil {
		if o.Kind != "" {
			p.Kind = o.Kind
		}
		if o.Rows != "" {
			p.Rows = o.Rows
		}
		if o.Limit != 0 {
			p.Limit = o.Limit
		}
		if o.Label != "" {
			p.Label = o.Label
		}
		if len(o.Fields) > 0 {
			merged := maps.Clone(p.Fields)
			if merged == nil {
				merged = make(map[string]Field, len(o.Fields))
			}
			maps.Copy(merged, o.Fields)
			p.Fields = merged
		}
	}
	if c.Profile == "" && c.Custom == nil {
		return Profile{}, errors.New("profile or custom_profile is required")
	}
	return p, nil
}

// loadLocation resolves an IANA zone name; empty means UTC.
func loadLocation(name string) (*time.Location, error) {
	if name == "" {
		return time.UTC, nil
	}
	loc, err := time.LoadLocation(name)
	if err != nil {
		return nil, fmt.Errorf("timezone %q: %w", name, err)
	}
	return loc, nil
}
