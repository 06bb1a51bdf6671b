package artifact

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"pulseboard/internal/config"
)

func TestFileStore_PutGet(t *testing.T) {
	dir := t.TempDir()
	s, err := NewFileStore(dir)
	if err != nil {
		t.Fatalf("NewFileStore: %v", err)
	}
	ctx := context.Background()

	loc, err := s.Put(ctx, "gmail/inbox.png", "image/png", []byte("png-bytes"))
	if err != nil {
		t.Fatalf("Put: %v", err)
	}
	if want := filepath.Join(dir, "gmail", "inbox.png"); loc != want {
		t.Errorf("Put location = %q, want %q", loc, want)
	}
	if _, err := os.Stat(loc + ".tmp"); !os.IsNotExist(err) {
		t.Errorf("temp file left behind: %v", err)
	}

	got, err := s.Get(ctx, "gmail/inbox.png")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if string(got) != "png-bytes" {
		t.Errorf("Get = %q, want %q", got, "png-bytes")
	}

	// Overwrite replaces content.
	if _, err := s.Put(ctx, "gmail/inbox.png", "image/png", []byte("v2")); err != nil {
		t.Fatalf("Put overwrite: %v", err)
	}
	got, _ = s.Get(ctx, "gmail/inbox.png")
	if string(got) != "v2" {
		t.Errorf("Get after overwrite = %q, want %q", got, "v2")
	}
}

func TestFileStore_GetMissing(t *testing.T) {
	s, err := NewFileStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewFileStore: %v", err)
	}
	_, err = s.Get(context.Background(), "nope.png")
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("Get missing err = %v, want ErrNotFound", err)
	}
}

func TestFileStore_RejectsEscapingKeys(t *testing.T) {
	s, err := NewFileStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewFileStore: %v", err)
	}
	for _, key := range []string{"", "../evil.png", "a/../../evil.png", "a/../b.png"} {
		t.Run(key, func(t *testing.T) {
			if _, err := s.Put(context.Background(), key, "image/png", []byte("x")); err == nil {
				t.Errorf("Put(%q) succeeded, want error", key)
			}
		})
	}
}

func TestFileStore_CanceledContext(t *testing.T) {
	s, err := NewFileStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewFileStore: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := s.Put(ctx, "a.png", "image/png", []byte("x")); !errors.Is(err, context.Canceled) {
		t.Errorf("Put err = %v, want context.Canceled", err)
	}
}

func TestKey(t *testing.T) {
	at := time.Date(2024, 7, 15, 14, 5, 0, 0, time.FixedZone("CEST", 2*3600))
	tests := []struct {
		source, label, ext string
		want               string
	}{
		{"browser_automation_gmail", "inbox", "png", "browser_automation_gmail/20240715T120500Z-inbox.png"},
		{"my source", "error", ".html", "my_source/20240715T120500Z-error.html"},
		{"../up", "x/y", "png", ".._up/20240715T120500Z-x_y.png"},
		{"", "error", "png", "_/20240715T120500Z-error.png"},
	}
	for _, tt := range tests {
		if got := Key(tt.source, tt.label, tt.ext, at); got != tt.want {
			t.Errorf("Key(%q, %q, %q) = %q, want %q", tt.source, tt.label, tt.ext, got, tt.want)
		}
	}
}

func TestNewStoreFromConfig(t *testing.T) {
	ctx := context.Background()

	t.Run("default fs", func(t *testing.T) {
		dir := filepath.Join(t.TempDir(), "shots")
		s, err := NewStoreFromConfig(ctx, &config.Config{ArtifactDir: dir})
		if err != nil {
			t.Fatalf("NewStoreFromConfig: %v", err)
		}
		fs, ok := s.(*FileStore)
		if !ok {
			t.Fatalf("store = %T, want *FileStore", s)
		}
		if fs.baseDir != dir {
			t.Errorf("baseDir = %q, want %q", fs.baseDir, dir)
		}
	})

	t.Run("s3 without bucket", func(t *testing.T) {
		if _, err := NewStoreFromConfig(ctx, &config.Config{ArtifactStorageType: "s3"}); err == nil {
			t.Error("expected error for s3 without bucket")
		}
	})

	t.Run("s3 with bucket", func(t *testing.T) {
		s, err := NewStoreFromConfig(ctx, &config.Config{
			ArtifactStorageType: "s3",
			ArtifactBucket:      "shots",
			ArtifactPrefix:      "pulseboard/",
			ArtifactS3Endpoint:  "http://localhost:9000",
		})
		if err != nil {
			t.Fatalf("NewStoreFromConfig: %v", err)
		}
		s3s, ok := s.(*S3Store)
		if !ok {
			t.Fatalf("store = %T, want *S3Store", s)
		}
		if s3s.bucket != "shots" || s3s.prefix != "pulseboard/" {
			t.Errorf("bucket/prefix = %q/%q", s3s.bucket, s3s.prefix)
		}
	})

	t.Run("gcs without bucket", func(t *testing.T) {
		if _, err := NewStoreFromConfig(ctx, &config.Config{ArtifactStorageType: "gcs"}); err == nil {
			t.Error("expected error for gcs without bucket")
		}
	})

	t.Run("unsupported", func(t *testing.T) {
		if _, err := NewStoreFromConfig(ctx, &config.Config{ArtifactStorageType: "ftp"}); err == nil {
			t.Error("expected error for unsupported type")
		}
	})
}
