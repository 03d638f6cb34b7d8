package photos

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/kozaktomas/photo-courier/internal/config"
	"github.com/kozaktomas/photo-courier/internal/retry"
)

// fakeService emulates the slice of the photo service API the client uses.
type fakeService struct {
	t         *testing.T
	albums    []map[string]string
	uploads   []string
	processed []string
	failWith  int // when non-zero, upload endpoint returns this status
}

func (f *fakeService) handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/v1/sessions", func(w http.ResponseWriter, r *http.Request) {
		var creds map[string]string
		if err := json.NewDecoder(r.Body).Decode(&creds); err != nil {
			http.Error(w, "bad request", http.StatusBadRequest)
			return
		}
		if creds["password"] != "secret" {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		json.NewEncoder(w).Encode(map[string]any{
			"access_token": "tok-123",
			"user":         map[string]string{"UID": "user-1"},
		})
	})
	mux.HandleFunc("GET /api/v1/albums", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(f.albums)
	})
	mux.HandleFunc("POST /api/v1/albums", func(w http.ResponseWriter, r *http.Request) {
		var payload map[string]string
		json.NewDecoder(r.Body).Decode(&payload)
		album := map[string]string{"UID": "album-new", "Title": payload["Title"]}
		f.albums = append(f.albums, album)
		json.NewEncoder(w).Encode(album)
	})
	mux.HandleFunc("POST /api/v1/users/user-1/upload/", func(w http.ResponseWriter, r *http.Request) {
		if f.failWith != 0 {
			http.Error(w, "boom", f.failWith)
			return
		}
		if auth := r.Header.Get("Authorization"); auth != "Bearer tok-123" {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		token := strings.TrimPrefix(r.URL.Path, "/api/v1/users/user-1/upload/")
		f.uploads = append(f.uploads, token)
		w.WriteHeader(http.StatusOK)
	})
	mux.HandleFunc("PUT /api/v1/users/user-1/upload/", func(w http.ResponseWriter, r *http.Request) {
		token := strings.TrimPrefix(r.URL.Path, "/api/v1/users/user-1/upload/")
		f.processed = append(f.processed, token)
		w.Write([]byte("{}"))
	})
	return mux
}

func newTestClient(t *testing.T, f *fakeService, album string) *Client {
	t.Helper()
	srv := httptest.NewServer(f.handler())
	t.Cleanup(srv.Close)

	c, err := New(&config.PhotosConfig{
		URL:      srv.URL,
		Username: "courier",
		Password: "secret",
		Album:    album,
	})
	if err != nil {
		t.Fatalf("Failed to create client: %v", err)
	}
	return c
}

func testFile(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "photo.jpg")
	if err := os.WriteFile(path, []byte("jpeg-bytes"), 0o644); err != nil {
		t.Fatalf("Failed to write test file: %v", err)
	}
	return path
}

func TestNew_AuthFailure(t *testing.T) {
	f := &fakeService{t: t}
	srv := httptest.NewServer(f.handler())
	defer srv.Close()

	_, err := New(&config.PhotosConfig{URL: srv.URL, Username: "courier", Password: "wrong"})
	if err == nil {
		t.Fatal("Expected authentication failure")
	}
}

func TestUpload_ProcessesIntoAlbum(t *testing.T) {
	f := &fakeService{t: t, albums: []map[string]string{
		{"UID": "album-42", "Title": "Family"},
	}}
	c := newTestClient(t, f, "Family")

	ref, err := c.Upload(context.Background(), testFile(t))
	if err != nil {
		t.Fatalf("Failed to upload: %v", err)
	}
	if ref == "" {
		t.Error("Expected a non-empty upload reference")
	}
	if len(f.uploads) != 1 || len(f.processed) != 1 {
		t.Errorf("Expected 1 upload and 1 process call, got %d and %d", len(f.uploads), len(f.processed))
	}
	if f.uploads[0] != f.processed[0] {
		t.Errorf("Expected process to use the upload token, got %s vs %s", f.uploads[0], f.processed[0])
	}
	if c.albumUID != "album-42" {
		t.Errorf("Expected existing album to be reused, got %s", c.albumUID)
	}
}

func TestUpload_CreatesMissingAlbum(t *testing.T) {
	f := &fakeService{t: t}
	c := newTestClient(t, f, "Fresh Album")

	if _, err := c.Upload(context.Background(), testFile(t)); err != nil {
		t.Fatalf("Failed to upload: %v", err)
	}
	if c.albumUID != "album-new" {
		t.Errorf("Expected album to be created, got UID %s", c.albumUID)
	}
	if len(f.albums) != 1 || f.albums[0]["Title"] != "Fresh Album" {
		t.Errorf("Expected created album, got %+v", f.albums)
	}
}

func TestUpload_ErrorClassification(t *testing.T) {
	tests := []struct {
		status    int
		transient bool
	}{
		{http.StatusServiceUnavailable, true},
		{http.StatusTooManyRequests, true},
		{http.StatusForbidden, false},
	}
	for _, tc := range tests {
		f := &fakeService{t: t, failWith: tc.status}
		c := newTestClient(t, f, "")

		_, err := c.Upload(context.Background(), testFile(t))
		if err == nil {
			t.Fatalf("status %d: expected upload error", tc.status)
		}
		if retry.IsTransient(err) != tc.transient {
			t.Errorf("status %d: IsTransient = %v; want %v", tc.status, retry.IsTransient(err), tc.transient)
		}
	}
}
