package recognize

import (
	"bytes"
	"context"
	"encoding/json"
	"image"
	"image/color"
	"image/jpeg"
	"math"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/kozaktomas/photo-courier/internal/store"
	"github.com/kozaktomas/photo-courier/internal/store/mock"
)

func TestCosineSimilarity(t *testing.T) {
	tests := []struct {
		name     string
		a, b     []float32
		expected float64
	}{
		{"identical", []float32{1, 0, 0}, []float32{1, 0, 0}, 1.0},
		{"orthogonal", []float32{1, 0, 0}, []float32{0, 1, 0}, 0.0},
		{"opposite", []float32{1, 0, 0}, []float32{-1, 0, 0}, -1.0},
		{"scaled", []float32{1, 2, 3}, []float32{2, 4, 6}, 1.0},
		{"empty", nil, nil, 0.0},
		{"mismatched length", []float32{1}, []float32{1, 2}, 0.0},
		{"zero vector", []float32{0, 0}, []float32{1, 1}, 0.0},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			result := CosineSimilarity(tc.a, tc.b)
			if math.Abs(result-tc.expected) > 1e-6 {
				t.Errorf("CosineSimilarity(%v, %v) = %f; want %f", tc.a, tc.b, result, tc.expected)
			}
		})
	}
}

func TestReferenceSet_Nearest(t *testing.T) {
	set := &ReferenceSet{
		persons: []string{"alice", "bob"},
		refs: []store.ReferenceEmbedding{
			{Person: "alice", Embedding: []float32{1, 0, 0}},
			{Person: "bob", Embedding: []float32{0, 1, 0}},
		},
	}
	set.buildIndex()

	person, score, ok := set.Nearest([]float32{0.9, 0.1, 0})
	if !ok {
		t.Fatal("Expected a nearest person")
	}
	if person != "alice" {
		t.Errorf("Expected alice, got %s", person)
	}
	if score <= 0.9 || score > 1.0 {
		t.Errorf("Expected high similarity score, got %f", score)
	}

	person, _, ok = set.Nearest([]float32{0, 1, 0.1})
	if !ok || person != "bob" {
		t.Errorf("Expected bob, got %s ok=%v", person, ok)
	}

	empty := &ReferenceSet{}
	if _, _, ok := empty.Nearest([]float32{1, 0, 0}); ok {
		t.Error("Expected no result from empty set")
	}
}

func TestDetectMIMEType(t *testing.T) {
	tests := []struct {
		name     string
		data     []byte
		expected string
	}{
		{"jpeg", []byte{0xFF, 0xD8, 0xFF, 0xE0, 0, 0, 0, 0}, "image/jpeg"},
		{"png", []byte{0x89, 0x50, 0x4E, 0x47, 0x0D, 0x0A, 0x1A, 0x0A}, "image/png"},
		{"short", []byte{0x01}, "application/octet-stream"},
		{"unknown", []byte{1, 2, 3, 4, 5, 6, 7, 8}, "application/octet-stream"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if got := detectMIMEType(tc.data); got != tc.expected {
				t.Errorf("detectMIMEType = %s; want %s", got, tc.expected)
			}
		})
	}
}

func TestStatusError_Transient(t *testing.T) {
	tests := []struct {
		status    int
		transient bool
	}{
		{http.StatusTooManyRequests, true},
		{http.StatusInternalServerError, true},
		{http.StatusBadGateway, true},
		{http.StatusBadRequest, false},
		{http.StatusNotFound, false},
		{http.StatusUnauthorized, false},
	}
	for _, tc := range tests {
		err := &statusError{status: tc.status}
		if err.Transient() != tc.transient {
			t.Errorf("status %d: Transient() = %v; want %v", tc.status, err.Transient(), tc.transient)
		}
	}
}

// testJPEG encodes a small solid-color image.
func testJPEG(t *testing.T, c color.Color) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, 16, 16))
	for y := 0; y < 16; y++ {
		for x := 0; x < 16; x++ {
			img.Set(x, y, c)
		}
	}
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, nil); err != nil {
		t.Fatalf("Failed to encode test image: %v", err)
	}
	return buf.Bytes()
}

// fakeEmbedServer answers /embed/face with a fixed response and counts
// requests.
func fakeEmbedServer(t *testing.T, resp FaceResponse, calls *int) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/embed/face" {
			http.NotFound(w, r)
			return
		}
		*calls++
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(resp)
	}))
}

func TestFaceEmbedProvider_Match(t *testing.T) {
	calls := 0
	srv := fakeEmbedServer(t, FaceResponse{
		FacesCount: 1,
		Faces: []FaceDetection{
			{FaceIndex: 0, Embedding: []float32{0.95, 0.05, 0}, BBox: []float64{10, 10, 50, 50}, DetScore: 0.99},
		},
	}, &calls)
	defer srv.Close()

	provider := NewFaceEmbedProvider(srv.URL)
	refs := &ReferenceSet{
		persons: []string{"alice", "bob"},
		refs: []store.ReferenceEmbedding{
			{Person: "alice", Embedding: []float32{1, 0, 0}},
			{Person: "bob", Embedding: []float32{0, 1, 0}},
		},
	}
	refs.buildIndex()

	candidates, err := provider.Match(context.Background(), testJPEG(t, color.White), refs)
	if err != nil {
		t.Fatalf("Failed to match: %v", err)
	}
	if len(candidates) != 1 {
		t.Fatalf("Expected 1 candidate, got %d", len(candidates))
	}
	if candidates[0].Person != "alice" {
		t.Errorf("Expected alice, got %s", candidates[0].Person)
	}
	if candidates[0].Score < 0.9 {
		t.Errorf("Expected high score, got %f", candidates[0].Score)
	}
}

func TestFaceEmbedProvider_MatchNoFaces(t *testing.T) {
	calls := 0
	srv := fakeEmbedServer(t, FaceResponse{FacesCount: 0}, &calls)
	defer srv.Close()

	provider := NewFaceEmbedProvider(srv.URL)
	refs := &ReferenceSet{}

	candidates, err := provider.Match(context.Background(), testJPEG(t, color.White), refs)
	if err != nil {
		t.Fatalf("Expected faceless image to match cleanly, got %v", err)
	}
	if len(candidates) != 0 {
		t.Errorf("Expected no candidates, got %d", len(candidates))
	}
}

func TestFaceEmbedProvider_LocateFace(t *testing.T) {
	calls := 0
	srv := fakeEmbedServer(t, FaceResponse{
		FacesCount: 2,
		Faces: []FaceDetection{
			{FaceIndex: 0, Embedding: []float32{1, 0}, BBox: []float64{0, 0, 10, 10}, DetScore: 0.4},
			{FaceIndex: 1, Embedding: []float32{0, 1}, BBox: []float64{20, 30, 60, 80}, DetScore: 0.9},
		},
	}, &calls)
	defer srv.Close()

	provider := NewFaceEmbedProvider(srv.URL)
	rect, err := provider.LocateFace(context.Background(), testJPEG(t, color.White))
	if err != nil {
		t.Fatalf("Failed to locate face: %v", err)
	}
	expected := image.Rect(20, 30, 60, 80)
	if rect != expected {
		t.Errorf("Expected bbox %v, got %v", expected, rect)
	}
}

func TestFaceEmbedProvider_LocateFaceNone(t *testing.T) {
	calls := 0
	srv := fakeEmbedServer(t, FaceResponse{FacesCount: 0}, &calls)
	defer srv.Close()

	provider := NewFaceEmbedProvider(srv.URL)
	_, err := provider.LocateFace(context.Background(), testJPEG(t, color.White))
	if err != ErrNoFace {
		t.Errorf("Expected ErrNoFace, got %v", err)
	}
}

func TestLoadReferenceSet_CachesEmbeddings(t *testing.T) {
	dir := t.TempDir()
	for i, person := range []string{"alice", "bob"} {
		personDir := filepath.Join(dir, person)
		if err := os.MkdirAll(personDir, 0o755); err != nil {
			t.Fatalf("Failed to create person dir: %v", err)
		}
		img := testJPEG(t, color.Gray{Y: uint8(i * 100)})
		if err := os.WriteFile(filepath.Join(personDir, "sample.jpg"), img, 0o644); err != nil {
			t.Fatalf("Failed to write sample: %v", err)
		}
	}
	// Non-image noise must be ignored.
	if err := os.WriteFile(filepath.Join(dir, "alice", "notes.txt"), []byte("x"), 0o644); err != nil {
		t.Fatalf("Failed to write noise file: %v", err)
	}

	calls := 0
	srv := fakeEmbedServer(t, FaceResponse{
		FacesCount: 1,
		Faces: []FaceDetection{
			{FaceIndex: 0, Embedding: []float32{0.5, 0.5}, BBox: []float64{0, 0, 8, 8}, DetScore: 0.8},
		},
	}, &calls)
	defer srv.Close()

	st := mock.NewMockStore()
	embedder := NewEmbeddingClient(srv.URL)

	set, err := LoadReferenceSet(context.Background(), st, embedder, dir, "faceembed")
	if err != nil {
		t.Fatalf("Failed to load reference set: %v", err)
	}
	if got := set.Persons(); len(got) != 2 || got[0] != "alice" || got[1] != "bob" {
		t.Errorf("Expected persons [alice bob], got %v", got)
	}
	if set.Size() != 2 {
		t.Errorf("Expected 2 embeddings, got %d", set.Size())
	}
	if calls != 2 {
		t.Errorf("Expected 2 embed calls on cold load, got %d", calls)
	}

	// Unchanged directory loads entirely from the store cache.
	set, err = LoadReferenceSet(context.Background(), st, embedder, dir, "faceembed")
	if err != nil {
		t.Fatalf("Failed to reload reference set: %v", err)
	}
	if set.Size() != 2 {
		t.Errorf("Expected 2 cached embeddings, got %d", set.Size())
	}
	if calls != 2 {
		t.Errorf("Expected no extra embed calls on warm load, got %d", calls)
	}

	// Adding a sample invalidates the cache.
	img := testJPEG(t, color.Black)
	if err := os.WriteFile(filepath.Join(dir, "bob", "extra.jpg"), img, 0o644); err != nil {
		t.Fatalf("Failed to add sample: %v", err)
	}
	set, err = LoadReferenceSet(context.Background(), st, embedder, dir, "faceembed")
	if err != nil {
		t.Fatalf("Failed to reload after change: %v", err)
	}
	if set.Size() != 3 {
		t.Errorf("Expected 3 embeddings after adding a sample, got %d", set.Size())
	}
	if calls != 5 {
		t.Errorf("Expected full re-embed after change (5 total calls), got %d", calls)
	}
}

func TestLoadReferenceSet_WithoutEmbedder(t *testing.T) {
	dir := t.TempDir()
	personDir := filepath.Join(dir, "carol")
	if err := os.MkdirAll(personDir, 0o755); err != nil {
		t.Fatalf("Failed to create person dir: %v", err)
	}
	if err := os.WriteFile(filepath.Join(personDir, "a.jpg"), testJPEG(t, color.White), 0o644); err != nil {
		t.Fatalf("Failed to write sample: %v", err)
	}

	set, err := LoadReferenceSet(context.Background(), mock.NewMockStore(), nil, dir, "openai")
	if err != nil {
		t.Fatalf("Failed to load person-only set: %v", err)
	}
	if got := set.Persons(); len(got) != 1 || got[0] != "carol" {
		t.Errorf("Expected persons [carol], got %v", got)
	}
	if set.Size() != 0 {
		t.Errorf("Expected no embeddings without embedder, got %d", set.Size())
	}
}

func TestResizeImage(t *testing.T) {
	img := image.NewRGBA(image.Rect(0, 0, 200, 100))
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, nil); err != nil {
		t.Fatalf("Failed to encode: %v", err)
	}

	resized, err := resizeImage(buf.Bytes(), 50)
	if err != nil {
		t.Fatalf("Failed to resize: %v", err)
	}
	w, h, err := imageDimensions(resized)
	if err != nil {
		t.Fatalf("Failed to decode resized image: %v", err)
	}
	if w != 50 || h != 25 {
		t.Errorf("Expected 50x25, got %dx%d", w, h)
	}

	// An image already within the cap keeps its dimensions.
	small, err := resizeImage(buf.Bytes(), 400)
	if err != nil {
		t.Fatalf("Failed to resize: %v", err)
	}
	if w, h, _ := imageDimensions(small); w != 200 || h != 100 {
		t.Errorf("Expected 200x100, got %dx%d", w, h)
	}
}

func TestMatchPromptListsPersons(t *testing.T) {
	prompt := buildMatchPrompt([]string{"alice", "bob"})
	for _, person := range []string{"alice", "bob"} {
		if !bytes.Contains([]byte(prompt), []byte(person)) {
			t.Errorf("Expected prompt to mention %s", person)
		}
	}
}
