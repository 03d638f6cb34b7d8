package recognize

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"image"
	"strings"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/shared"
)

const openaiModel = openai.ChatModelGPT4_1Mini

// matchResponse is the JSON shape both hosted providers are asked to emit
// when scoring an image against the known person list.
type matchResponse struct {
	Matches []struct {
		Person     string  `json:"person"`
		Confidence float64 `json:"confidence"`
	} `json:"matches"`
	FaceDetected bool `json:"face_detected"`
}

// bboxResponse is the JSON shape for face localization. Coordinates are
// relative fractions of the image size so the answer is independent of any
// resizing done before the call.
type bboxResponse struct {
	FaceDetected bool    `json:"face_detected"`
	X1           float64 `json:"x1"`
	Y1           float64 `json:"y1"`
	X2           float64 `json:"x2"`
	Y2           float64 `json:"y2"`
}

func buildMatchPrompt(persons []string) string {
	return fmt.Sprintf(`You compare the face in a photo against a list of known people.
Known people: %s.
Respond with JSON only: {"face_detected": bool, "matches": [{"person": "<name from the list>", "confidence": <0.0-1.0>}]}.
Include a match entry only for people who could plausibly be in the photo. Confidence 1.0 means certain identity, 0.0 means certainly not that person. If no face is visible, set face_detected to false and matches to [].`,
		strings.Join(persons, ", "))
}

const locateFacePrompt = `Find the most prominent face in the photo.
Respond with JSON only: {"face_detected": bool, "x1": <0.0-1.0>, "y1": <0.0-1.0>, "x2": <0.0-1.0>, "y2": <0.0-1.0>}.
Coordinates are fractions of the image width and height, top-left origin. If no face is visible, set face_detected to false.`

// OpenAIProvider scores images with a hosted OpenAI vision model. It needs
// no embedding service; the reference set contributes the person list.
type OpenAIProvider struct {
	client *openai.Client
}

// NewOpenAIProvider creates an OpenAI-backed provider.
func NewOpenAIProvider(apiKey string) *OpenAIProvider {
	client := openai.NewClient(option.WithAPIKey(apiKey))
	return &OpenAIProvider{client: &client}
}

func (p *OpenAIProvider) Name() string {
	return openaiModel
}

func (p *OpenAIProvider) complete(ctx context.Context, systemPrompt string, imageData []byte) (string, error) {
	resized, err := resizeImage(imageData, 800)
	if err != nil {
		return "", err
	}
	imageURL := "data:image/jpeg;base64," + base64.StdEncoding.EncodeToString(resized)

	resp, err := p.client.Chat.Completions.New(ctx, openai.ChatCompletionNewParams{
		Model: openaiModel,
		Messages: []openai.ChatCompletionMessageParamUnion{
			{
				OfSystem: &openai.ChatCompletionSystemMessageParam{
					Content: openai.ChatCompletionSystemMessageParamContentUnion{
						OfString: openai.String(systemPrompt),
					},
				},
			},
			{
				OfUser: &openai.ChatCompletionUserMessageParam{
					Content: openai.ChatCompletionUserMessageParamContentUnion{
						OfArrayOfContentParts: []openai.ChatCompletionContentPartUnionParam{
							openai.TextContentPart("Analyze this photo."),
							openai.ImageContentPart(openai.ChatCompletionContentPartImageImageURLParam{
								URL:    imageURL,
								Detail: "low",
							}),
						},
					},
				},
			},
		},
		ResponseFormat: openai.ChatCompletionNewParamsResponseFormatUnion{
			OfJSONObject: &shared.ResponseFormatJSONObjectParam{},
		},
		MaxTokens: openai.Int(500),
	})
	if err != nil {
		return "", fmt.Errorf("OpenAI API error: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", errors.New("no response from OpenAI")
	}
	return resp.Choices[0].Message.Content, nil
}

func (p *OpenAIProvider) Match(ctx context.Context, imageData []byte, refs *ReferenceSet) ([]Candidate, error) {
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

func (p *OpenAIProvider) LocateFace(ctx context.Context, imageData []byte) (image.Rectangle, error) {
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

func relativeBBoxToRect(parsed bboxResponse, imageData []byte) (image.Rectangle, error) {
	if !parsed.FaceDetected {
		return image.Rectangle{}, ErrNoFace
	}
	width, height, err := imageDimensions(imageData)
	if err != nil {
		return image.Rectangle{}, err
	}
	rect := image.Rect(
		int(clamp01(parsed.X1)*float64(width)),
		int(clamp01(parsed.Y1)*float64(height)),
		int(clamp01(parsed.X2)*float64(width)),
		int(clamp01(parsed.Y2)*float64(height)),
	)
	if rect.Empty() {
		return image.Rectangle{}, ErrNoFace
	}
	return rect, nil
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
