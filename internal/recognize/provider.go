// Package recognize implements the face recognition capability behind the
// scan pipeline. A Provider scores an image against the known-people
// reference set; the backend is selected once at startup and never changes
// for the lifetime of the process.
package recognize

import (
	"context"
	"errors"
	"fmt"
	"image"

	"github.com/kozaktomas/photo-courier/internal/config"
)

// ErrNoFace indicates no face could be located in the image.
var ErrNoFace = errors.New("no face detected")

// Candidate is one known person with the similarity score of the best
// matching face in the image. Scores are normalized to [0, 1].
type Candidate struct {
	Person string
	Score  float64
}

// Provider defines the interface for recognition backends.
type Provider interface {
	Name() string

	// Match scores the image against the reference set and returns
	// candidates ordered best first. An image with no detectable face
	// returns an empty slice, not an error.
	Match(ctx context.Context, imageData []byte, refs *ReferenceSet) ([]Candidate, error)

	// LocateFace returns the pixel bounding box of the most prominent
	// face, or ErrNoFace.
	LocateFace(ctx context.Context, imageData []byte) (image.Rectangle, error)
}

// New creates the configured provider.
func New(ctx context.Context, cfg *config.RecognitionConfig) (Provider, error) {
	switch cfg.Backend {
	case "faceembed", "":
		return NewFaceEmbedProvider(cfg.EmbeddingURL), nil
	case "openai":
		return NewOpenAIProvider(cfg.OpenAIToken), nil
	case "gemini":
		return NewGeminiProvider(ctx, cfg.GeminiAPIKey)
	default:
		return nil, fmt.Errorf("unknown recognition backend: %s", cfg.Backend)
	}
}
