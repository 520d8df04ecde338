package insights

import (
	"context"
	"fmt"

	"google.golang.org/genai"
)

// TextModel produces text for a prompt. Implementations may fail or time out.
type TextModel interface {
	Generate(ctx context.Context, prompt string) (string, error)
}

// GeminiModel is the TextModel backed by Gemini.
type GeminiModel struct {
	client *genai.Client
	model  string
}

// NewGeminiModel creates a Gemini client. Credentials come from the environment
// (GEMINI_API_KEY / GOOGLE_API_KEY, or the Vertex AI variables).
func NewGeminiModel(ctx context.Context, modelName string) (*GeminiModel, error) {
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		HTTPOptions: genai.HTTPOptions{APIVersion: "v1"},
	})
	if err != nil {
		return nil, fmt.Errorf("NewGeminiModel: create genai client: %w", err)
	}
	if modelName == "" {
		modelName = DefaultModelName
	}
	return &GeminiModel{client: client, model: modelName}, nil
}

// Generate implements TextModel.
func (g *GeminiModel) Generate(ctx context.Context, prompt string) (string, error) {
	contents := []*genai.Content{
		{
			Role:  "user",
			Parts: []*genai.Part{{Text: prompt}},
		},
	}

	resp, err := g.client.Models.GenerateContent(ctx, g.model, contents, nil)
	if err != nil {
		return "", fmt.Errorf("GeminiModel.Generate: generate content: %w", err)
	}

	text := resp.Text()
	if text == "" {
		return "", fmt.Errorf("GeminiModel.Generate: empty response from model")
	}
	return text, nil
}
