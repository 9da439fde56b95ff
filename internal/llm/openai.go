package llm

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/Veraticus/statement-copilot/internal/common"
)

const openAIEndpoint = "https://api.openai.com/v1/chat/completions"

type openAIClient struct {
	httpClient  *http.Client
	apiKey      string
	model       string
	endpoint    string
	temperature float64
	maxTokens   int
}

func newOpenAIClient(cfg Config) (Client, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("%w: OpenAI API key", common.ErrMissingConfig)
	}

	model := cfg.Model
	if model == "" {
		model = "gpt-4o-mini"
	}

	return &openAIClient{
		httpClient:  newHTTPClient(cfg),
		apiKey:      cfg.APIKey,
		model:       model,
		endpoint:    endpointFor(cfg.BaseURL, openAIEndpoint, "/v1/chat/completions"),
		temperature: cfg.Temperature,
		maxTokens:   cfg.maxTokens(),
	}, nil
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	Temperature float64       `json:"temperature"`
	MaxTokens   int           `json:"max_tokens"`
}

type chatResponse struct {
	Model   string `json:"model"`
	Choices []struct {
		Message      chatMessage `json:"message"`
		FinishReason string      `json:"finish_reason"`
	} `json:"choices"`
	Usage struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
	} `json:"usage"`
}

// Complete returns the first choice of a chat completion. A choice cut off
// by the token limit is an error, since truncated statement JSON never
// validates.
func (c *openAIClient) Complete(ctx context.Context, prompt Prompt) (string, error) {
	req := chatRequest{
		Model:       c.model,
		Temperature: c.temperature,
		MaxTokens:   prompt.tokens(c.maxTokens),
	}
	if prompt.System != "" {
		req.Messages = append(req.Messages, chatMessage{Role: "system", Content: prompt.System})
	}
	req.Messages = append(req.Messages, chatMessage{Role: "user", Content: prompt.User})

	var resp chatResponse
	headers := map[string]string{"Authorization": "Bearer " + c.apiKey}
	if err := postJSON(ctx, c.httpClient, "OpenAI", c.endpoint, headers, req, &resp); err != nil {
		return "", err
	}

	if len(resp.Choices) == 0 {
		return "", errors.New("no completion choices returned")
	}
	choice := resp.Choices[0]
	if strings.TrimSpace(choice.Message.Content) == "" {
		return "", ErrEmptyResponse
	}
	if choice.FinishReason == "length" {
		return "", fmt.Errorf("%w: completion hit max_tokens=%d", ErrTruncated, req.MaxTokens)
	}
	return choice.Message.Content, nil
}
