package recognize

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"image"

	"google.golang.org/genai"
)

const geminiModel = "gemini-2.5-flash"

// GeminiProvider scores images with a hosted Gemini vision model.
type GeminiProvider struct {
	client *genai.Client
}

// NewGeminiProvider creates a Gemini-backed provider.
func NewGeminiProvider(ctx context.Context, apiKey string) (*GeminiProvider, error) {
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create Gemini client: %w", err)
	}
	return &GeminiProvider{client: client}, nil
}

func (p *GeminiProvider) Name() string {
	return geminiModel
}

func (p *GeminiProvider) complete(ctx context.Context, prompt string, imageData []byte) (string, error) {
	resized, err := resizeImage(imageData, 800)
	if err != nil {
		return "", err
	}

	contents := []*genai.Content{
		{
			Role: "user",
			Parts: []*genai.Part{
				{Text: prompt},
				{InlineData: &genai.Blob{Data: resized, MIMEType: "image/jpeg"}},
			},
		},
	}
	config := &genai.GenerateContentConfig{
		ResponseMIMEType: "application/json",
	}

	result, err := p.client.Models.GenerateContent(ctx, geminiModel, contents, config)
	if err != nil {
		return "", fmt.Errorf("gemini API error: %w", err)
	}
	content := result.Text()
	if content == "" {
		return "", errors.New("no response from Gemini")
	}
	return content, nil
}

func (p *GeminiProvider) Match(ctx context.Context, imageData []byte, refs *ReferenceSet) ([]Candidate, error) {
	persons := refs.Persons()
	if len(persons) == 0 {
		return nil, nil
	}

	content, err := p.complete(ctx, buildMatchPrompt(persons), imageData)
	if err != nil {
		return nil, err
	}
	var parsed matchResponse
	if err := json.Unmarshal([]byte(content), &parsed); err != nil {
		return nil, fmt.Errorf("failed to parse match response: %w (response: %s)", err, content)
	}
	if !parsed.FaceDetected {
		return nil, nil
	}

	known := make(map[string]bool, len(persons))
	for _, person := range persons {
		known[person] = true
	}
	var candidates []Candidate
	for _, m := range parsed.Matches {
		if !known[m.Person] {
			continue
		}
		candidates = append(candidates, Candidate{Person: m.Person, Score: clamp01(m.Confidence)})
	}
	sortCandidates(candidates)
	return candidates, nil
}

func (p *GeminiProvider) LocateFace(ctx context.Context, imageData []byte) (image.Rectangle, error) {
	content, err := p.complete(ctx, locateFacePrompt, imageData)
	if err != nil {
		return image.Rectangle{}, err
	}
	var parsed bboxResponse
	if err := json.Unmarshal([]byte(content), &parsed); err != nil {
		return image.Rectangle{}, fmt.Errorf("failed to parse bbox response: %w (response: %s)", err, content)
	}
	return relativeBBoxToRect(parsed, imageData)
}
