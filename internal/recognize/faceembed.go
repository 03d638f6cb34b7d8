package recognize

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"image"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"strings"
	"time"
)

const defaultEmbeddingURL = "http://localhost:8000"

// FaceDetection represents a single detected face.
type FaceDetection struct {
	FaceIndex int       `json:"face_index"`
	Dim       int       `json:"dim"`
	Embedding []float32 `json:"embedding"`
	BBox      []float64 `json:"bbox"` // [x1, y1, x2, y2]
	DetScore  float64   `json:"det_score"`
}

// FaceResponse represents the response from the face embedding endpoint.
type FaceResponse struct {
	FacesCount int             `json:"faces_count"`
	Faces      []FaceDetection `json:"faces"`
	Model      string          `json:"model"`
}

// EmbeddingClient talks to the face embedding server.
type EmbeddingClient struct {
	baseURL string
	client  *http.Client
}

// NewEmbeddingClient creates a new embedding client.
func NewEmbeddingClient(baseURL string) *EmbeddingClient {
	if baseURL == "" {
		baseURL = defaultEmbeddingURL
	}
	return &EmbeddingClient{
		baseURL: strings.TrimSuffix(baseURL, "/"),
		client:  &http.Client{Timeout: 2 * time.Minute},
	}
}

// ComputeFaceEmbeddings detects faces and computes their embeddings.
func (c *EmbeddingClient) ComputeFaceEmbeddings(ctx context.Context, imageData []byte) (*FaceResponse, error) {
	body, err := c.postMultipartImage(ctx, "/embed/face", imageData)
	if err != nil {
		return nil, err
	}

	var faceResp FaceResponse
	if err := json.Unmarshal(body, &faceResp); err != nil {
		return nil, fmt.Errorf("failed to parse response: %w", err)
	}
	return &faceResp, nil
}

// postMultipartImage constructs a multipart form with the image data and
// posts it to the given endpoint. The part carries an explicit Content-Type
// based on magic byte detection.
func (c *EmbeddingClient) postMultipartImage(ctx context.Context, endpoint string, imageData []byte) ([]byte, error) {
	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)

	h := make(textproto.MIMEHeader)
	h.Set("Content-Disposition", `form-data; name="file"; filename="image.jpg"`)
	h.Set("Content-Type", detectMIMEType(imageData))
	part, err := writer.CreatePart(h)
	if err != nil {
		return nil, fmt.Errorf("failed to create form file: %w", err)
	}
	if _, err := part.Write(imageData); err != nil {
		return nil, fmt.Errorf("failed to write image data: %w", err)
	}
	if err := writer.Close(); err != nil {
		return nil, fmt.Errorf("failed to close multipart writer: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+endpoint, &buf)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, &transportError{err: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, &statusError{status: resp.StatusCode, body: string(body)}
	}
	return body, nil
}

// detectMIMEType detects the MIME type from image data.
func detectMIMEType(data []byte) string {
	if len(data) < 8 {
		return "application/octet-stream"
	}
	// JPEG: FF D8 FF
	if data[0] == 0xFF && data[1] == 0xD8 && data[2] == 0xFF {
		return "image/jpeg"
	}
	// PNG: 89 50 4E 47 0D 0A 1A 0A
	if data[0] == 0x89 && data[1] == 0x50 && data[2] == 0x4E && data[3] == 0x47 {
		return "image/png"
	}
	// GIF: 47 49 46 38
	if data[0] == 0x47 && data[1] == 0x49 && data[2] == 0x46 && data[3] == 0x38 {
		return "image/gif"
	}
	// WebP: 52 49 46 46 ... 57 45 42 50
	if len(data) >= 12 && data[0] == 0x52 && data[1] == 0x49 && data[2] == 0x46 && data[3] == 0x46 &&
		data[8] == 0x57 && data[9] == 0x45 && data[10] == 0x42 && data[11] == 0x50 {
		return "image/webp"
	}
	return "application/octet-stream"
}

// transportError wraps network-level failures, always worth retrying.
type transportError struct{ err error }

func (e *transportError) Error() string   { return fmt.Sprintf("request failed: %v", e.err) }
func (e *transportError) Unwrap() error   { return e.err }
func (e *transportError) Transient() bool { return true }

// statusError classifies non-200 responses. Throttling and server errors
// are transient; other client errors are permanent.
type statusError struct {
	status int
	body   string
}

func (e *statusError) Error() string {
	return fmt.Sprintf("API error (status %d): %s", e.status, e.body)
}

func (e *statusError) Transient() bool {
	return e.status == http.StatusTooManyRequests || e.status >= 500
}

// FaceEmbedProvider matches faces by cosine similarity between embeddings
// from the face embedding server and the cached reference set.
type FaceEmbedProvider struct {
	client *EmbeddingClient
}

// NewFaceEmbedProvider creates the default embedding-based provider.
func NewFaceEmbedProvider(baseURL string) *FaceEmbedProvider {
	return &FaceEmbedProvider{client: NewEmbeddingClient(baseURL)}
}

func (p *FaceEmbedProvider) Name() string {
	return "faceembed"
}

// Embedder exposes the underlying client for reference set loading.
func (p *FaceEmbedProvider) Embedder() *EmbeddingClient {
	return p.client
}

func (p *FaceEmbedProvider) Match(ctx context.Context, imageData []byte, refs *ReferenceSet) ([]Candidate, error) {
	resp, err := p.client.ComputeFaceEmbeddings(ctx, imageData)
	if err != nil {
		return nil, err
	}
	if len(resp.Faces) == 0 {
		return nil, nil
	}

	// Best score per person across all detected faces.
	best := make(map[string]float64)
	for _, face := range resp.Faces {
		if len(face.Embedding) == 0 {
			continue
		}
		person, score, ok := refs.Nearest(face.Embedding)
		if !ok {
			continue
		}
		if score > best[person] {
			best[person] = score
		}
	}

	candidates := make([]Candidate, 0, len(best))
	for person, score := range best {
		candidates = append(candidates, Candidate{Person: person, Score: score})
	}
	sortCandidates(candidates)
	return candidates, nil
}

// LocateFace returns the bounding box of the face with the highest
// detection score.
func (p *FaceEmbedProvider) LocateFace(ctx context.Context, imageData []byte) (image.Rectangle, error) {
	resp, err := p.client.ComputeFaceEmbeddings(ctx, imageData)
	if err != nil {
		return image.Rectangle{}, err
	}

	var best *FaceDetection
	for i := range resp.Faces {
		face := &resp.Faces[i]
		if len(face.BBox) != 4 {
			continue
		}
		if best == nil || face.DetScore > best.DetScore {
			best = face
		}
	}
	if best == nil {
		return image.Rectangle{}, ErrNoFace
	}
	return image.Rect(int(best.BBox[0]), int(best.BBox[1]), int(best.BBox[2]), int(best.BBox[3])), nil
}
