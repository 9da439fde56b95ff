package llm

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/Veraticus/statement-copilot/internal/common"
)

const (
	anthropicEndpoint = "https://api.anthropic.com/v1/messages"
	anthropicVersion  = "2023-06-01"
)

type anthropicClient struct {
	httpClient  *http.Client
	apiKey      string
	model       string
	endpoint    string
	temperature float64
	maxTokens   int
}

func newAnthropicClient(cfg Config) (Client, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("%w: Anthropic API key", common.ErrMissingConfig)
	}

	model := cfg.Model
	if model == "" {
		model = "claude-3-5-sonnet-latest"
	}

	return &anthropicClient{
		httpClient:  newHTTPClient(cfg),
		apiKey:      cfg.APIKey,
		model:       model,
		endpoint:    endpointFor(cfg.BaseURL, anthropicEndpoint, "/v1/messages"),
		temperature: cfg.Temperature,
		maxTokens:   cfg.maxTokens(),
	}, nil
}

type messagesRequest struct {
	Model       string        `json:"model"`
	System      string        `json:"system,omitempty"`
	Messages    []chatMessage `json:"messages"`
	MaxTokens   int           `json:"max_tokens"`
	Temperature float64       `json:"temperature"`
}

type messagesResponse struct {
	Model   string `json:"model"`
	Content []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"content"`
	StopReason string `json:"stop_reason"`
}

// Complete joins the text blocks of a messages response.
func (c *anthropicClient) Complete(ctx context.Context, prompt Prompt) (string, error) {
	req := messagesRequest{
		Model:       c.model,
		System:      prompt.System,
		Messages:    []chatMessage{{Role: "user", Content: prompt.User}},
		MaxTokens:   prompt.tokens(c.maxTokens),
		Temperature: c.temperature,
	}
	headers := map[string]string{
		"x-api-key":         c.apiKey,
		"anthropic-version": anthropicVersion,
	}

	var resp messagesResponse
	if err := postJSON(ctx, c.httpClient, "Anthropic", c.endpoint, headers, req, &resp); err != nil {
		return "", err
	}

	var sb strings.Builder
	for _, block := range resp.Content {
		if block.Type == "text" || block.Type == "" {
			sb.WriteString(block.Text)
		}
	}
	text := sb.String()
	if strings.TrimSpace(text) == "" {
		return "", ErrEmptyResponse
	}
	if resp.StopReason == "max_tokens" {
		return "", fmt.Errorf("%w: completion hit max_tokens=%d", ErrTruncated, req.MaxTokens)
	}
	return text, nil
}
