package source

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"

	"github.com/kozaktomas/photo-courier/internal/config"
	"github.com/kozaktomas/photo-courier/internal/retry"
)

func TestMediaExtensions(t *testing.T) {
	tests := []struct {
		path  string
		image bool
		video bool
	}{
		{"clip.mp4", false, true},
		{"CLIP.MP4", false, true},
		{"photo.jpg", true, false},
		{"photo.JPEG", true, false},
		{"scan.webp", true, false},
		{"movie.mkv", false, true},
		{"notes.txt", false, false},
		{"archive.zip", false, false},
		{"noext", false, false},
	}
	for _, tc := range tests {
		if got := IsImage(tc.path); got != tc.image {
			t.Errorf("IsImage(%s) = %v; want %v", tc.path, got, tc.image)
		}
		if got := IsVideo(tc.path); got != tc.video {
			t.Errorf("IsVideo(%s) = %v; want %v", tc.path, got, tc.video)
		}
		if got := IsMedia(tc.path); got != (tc.image || tc.video) {
			t.Errorf("IsMedia(%s) = %v; want %v", tc.path, got, tc.image || tc.video)
		}
	}
}

func TestLocalDir_List(t *testing.T) {
	dir := t.TempDir()
	sub := filepath.Join(dir, "nested")
	if err := os.MkdirAll(sub, 0o755); err != nil {
		t.Fatalf("Failed to create subdir: %v", err)
	}
	for _, name := range []string{"b.jpg", "a.mp4", "skip.txt"} {
		if err := os.WriteFile(filepath.Join(dir, name), []byte("x"), 0o644); err != nil {
			t.Fatalf("Failed to write %s: %v", name, err)
		}
	}
	if err := os.WriteFile(filepath.Join(sub, "c.png"), []byte("x"), 0o644); err != nil {
		t.Fatalf("Failed to write nested file: %v", err)
	}

	src := NewLocalDir(dir)
	items, err := src.List(context.Background())
	if err != nil {
		t.Fatalf("Failed to list: %v", err)
	}
	if len(items) != 3 {
		t.Fatalf("Expected 3 media items, got %d: %+v", len(items), items)
	}
	// Deterministic listing order.
	expected := []string{
		filepath.Join(dir, "a.mp4"),
		filepath.Join(dir, "b.jpg"),
		filepath.Join(sub, "c.png"),
	}
	for i, want := range expected {
		if items[i].Path != want {
			t.Errorf("Item %d: expected %s, got %s", i, want, items[i].Path)
		}
	}
	if items[0].Size != 1 {
		t.Errorf("Expected size 1, got %d", items[0].Size)
	}
}

func TestLocalDir_FetchAndDelete(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "item.jpg")
	if err := os.WriteFile(path, []byte("data"), 0o644); err != nil {
		t.Fatalf("Failed to write file: %v", err)
	}

	src := NewLocalDir(dir)
	local, cleanup, err := src.Fetch(context.Background(), Item{Path: path})
	if err != nil {
		t.Fatalf("Failed to fetch: %v", err)
	}
	defer cleanup()
	if local != path {
		t.Errorf("Expected fetch to return the path itself, got %s", local)
	}

	// Cleanup must not remove the source file.
	cleanup()
	if _, err := os.Stat(path); err != nil {
		t.Fatalf("Expected file to survive cleanup: %v", err)
	}

	if err := src.Delete(context.Background(), Item{Path: path}); err != nil {
		t.Fatalf("Failed to delete: %v", err)
	}
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Error("Expected file to be removed by Delete")
	}

	if _, _, err := src.Fetch(context.Background(), Item{Path: path}); err == nil {
		t.Error("Expected fetch of a missing file to fail")
	}
}

func TestResolve(t *testing.T) {
	cfg := &config.Config{}
	cfg.Blob.ConnectionString = "DefaultEndpointsProtocol=https;AccountName=test;AccountKey=dGVzdA==;EndpointSuffix=core.windows.net"

	src, err := Resolve(cfg, "/data/incoming")
	if err != nil {
		t.Fatalf("Failed to resolve local source: %v", err)
	}
	if _, ok := src.(*LocalDir); !ok {
		t.Errorf("Expected LocalDir, got %T", src)
	}

	src, err = Resolve(cfg, "blob://media/cameras")
	if err != nil {
		t.Fatalf("Failed to resolve blob source: %v", err)
	}
	blob, ok := src.(*BlobSource)
	if !ok {
		t.Fatalf("Expected BlobSource, got %T", src)
	}
	if blob.container != "media" || blob.prefix != "cameras" {
		t.Errorf("Expected container media prefix cameras, got %s %s", blob.container, blob.prefix)
	}

	if _, err := Resolve(cfg, "blob://"); err == nil {
		t.Error("Expected error for blob source without container")
	}

	cfg.Blob.ConnectionString = ""
	if _, err := Resolve(cfg, "blob://media"); err == nil {
		t.Error("Expected error for blob source without connection string")
	}
}

func TestBlobErrorClassification(t *testing.T) {
	tests := []struct {
		name      string
		wrapped   error
		transient bool
	}{
		{"Throttled", &azcore.ResponseError{StatusCode: 429}, true},
		{"ServerError", &azcore.ResponseError{StatusCode: 503}, true},
		{"NotFound", &azcore.ResponseError{StatusCode: 404}, false},
		{"Forbidden", &azcore.ResponseError{StatusCode: 403}, false},
		{"Transport", errors.New("connection reset"), true},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			err := &blobError{op: "download blob media/a.jpg", err: tc.wrapped}
			if got := retry.IsTransient(err); got != tc.transient {
				t.Errorf("Expected transient=%v, got %v", tc.transient, got)
			}
		})
	}
}
