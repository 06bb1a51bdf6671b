// Package artifact stores diagnostic files produced by source adapters (page screenshots and
// HTML dumps). The ingest core writes them but never reads them back.
package artifact

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"strings"
	"sync"
	"time"
)

// ErrNotFound is returned by Get when no artifact has the key.
var ErrNotFound = errors.New("artifact: not found")

// Store persists named artifacts.
type Store interface {
	// Put writes data under key, replacing any previous content, and returns where it landed
	// (a file path or an object URL).
	Put(ctx context.Context, key, contentType string, data []byte) (string, error)
	// Get returns the content stored under key.
	Get(ctx context.Context, key string) ([]byte, error)
}

// Key builds an artifact key of the form "<source>/<20060102T150405Z>-<label>.<ext>".
func Key(source, label, ext string, at time.Time) string {
	return fmt.Sprintf("%s/%s-%s.%s", sanitize(source), at.UTC().Format("20060102T150405Z"), sanitize(label), strings.TrimPrefix(ext, "."))
}

func sanitize(s string) string {
	s = strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_', r == '.':
			return r
		}
		return '_'
	}, strings.TrimSpace(s))
	if s == "" || s == "." || s == ".." {
		return "_"
	}
	return s
}

// cleanKey rejects keys that would escape the store root.
func cleanKey(key string) (string, error) {
	k := path.Clean("/" + strings.ReplaceAll(key, "\\", "/"))[1:]
	if k == "" || k != strings.TrimPrefix(key, "/") || strings.HasPrefix(k, "../") {
		return "", fmt.Errorf("artifact: invalid key %q", key)
	}
	return k, nil
}

// FileStore keeps artifacts under a base directory.
type FileStore struct {
	baseDir string
	mu      sync.RWMutex
}

// NewFileStore creates the base directory if needed.
func NewFileStore(baseDir string) (*FileStore, error) {
	if err := os.MkdirAll(baseDir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to ensure artifact dir: %w", err)
	}
	return &FileStore{baseDir: baseDir}, nil
}

// Put writes data atomically (temp file then rename).
func (s *FileStore) Put(ctx context.Context, key, contentType string, data []byte) (string, error) {
	k, err := cleanKey(key)
	if err != nil {
		return "", err
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	p := filepath.Join(s.baseDir, filepath.FromSlash(k))
	if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
		return "", fmt.Errorf("failed to ensure artifact dir: %w", err)
	}
	tmp := p + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return "", fmt.Errorf("failed to write artifact: %w", err)
	}
	if err := os.Rename(tmp, p); err != nil {
		_ = os.Remove(tmp)
		return "", fmt.Errorf("failed to commit artifact: %w", err)
	}
	return p, nil
}

func (s *FileStore) Get(ctx context.Context, key string) ([]byte, error) {
	k, err := cleanKey(key)
	if err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	data, err := os.ReadFile(filepath.Join(s.baseDir, filepath.FromSlash(k)))
	if errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, key)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read artifact: %w", err)
	}
	return data, nil
}
