package llm

import (
	"context"
	"fmt"
	"strings"

	"google.golang.org/genai"
)

// geminiClient implements the Client interface over the Gemini API.
type geminiClient struct {
	models      *genai.Models
	model       string
	temperature float32
}

// newGeminiClient creates a Gemini client. An empty APIKey lets the SDK read
// GEMINI_API_KEY or GOOGLE_API_KEY from the environment.
func newGeminiClient(ctx context.Context, cfg Config) (Client, error) {
	model := cfg.Model
	if model == "" {
		model = "gemini-2.5-flash"
	}

	clientCfg := &genai.ClientConfig{
		APIKey:      cfg.APIKey,
		Backend:     genai.BackendGeminiAPI,
		HTTPOptions: genai.HTTPOptions{APIVersion: "v1beta"},
	}
	if cfg.BaseURL != "" {
		clientCfg.HTTPOptions.BaseURL = cfg.BaseURL
	}

	client, err := genai.NewClient(ctx, clientCfg)
	if err != nil {
		return nil, fmt.Errorf("create genai client: %w", err)
	}

	return &geminiClient{
		models:      client.Models,
		model:       model,
		temperature: float32(cfg.Temperature),
	}, nil
}

// Complete sends a single user turn with an optional system instruction.
func (c *geminiClient) Complete(ctx context.Context, prompt Prompt) (string, error) {
	contents := []*genai.Content{
		{
			Role:  "user",
			Parts: []*genai.Part{{Text: prompt.User}},
		},
	}

	genCfg := &genai.GenerateContentConfig{
		Temperature: genai.Ptr(c.temperature),
	}
	if prompt.System != "" {
		genCfg.SystemInstruction = &genai.Content{
			Parts: []*genai.Part{{Text: prompt.System}},
		}
	}

	resp, err := c.models.GenerateContent(ctx, c.model, contents, genCfg)
	if err != nil {
		return "", fmt.Errorf("generate content: %w", err)
	}

	text := resp.Text()
	if strings.TrimSpace(text) == "" {
		return "", ErrEmptyResponse
	}
	return text, nil
}
