package llm

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrEmptyResponse is returned when a provider answers with no text.
	ErrEmptyResponse = errors.New("empty response from model")
	// ErrTruncated is returned when a provider stopped at the token limit.
	ErrTruncated = errors.New("response truncated")
)

// Client defines the interface for LLM providers.
type Client interface {
	Complete(ctx context.Context, prompt Prompt) (string, error)
}

// Prompt is a single-turn completion request.
type Prompt struct {
	System    string
	User      string
	MaxTokens int // zero means the client default
}

// Config holds provider settings.
type Config struct {
	Provider       string
	APIKey         string
	Model          string
	ClaudeCodePath string
	BaseURL        string // overrides the provider endpoint, mostly for tests
	CacheTTL       time.Duration
	Timeout        time.Duration
	RateLimit      int
	Temperature    float64
	MaxTokens      int
}

func (c Config) timeout() time.Duration {
	if c.Timeout <= 0 {
		return 120 * time.Second
	}
	return c.Timeout
}

func (c Config) maxTokens() int {
	if c.MaxTokens <= 0 {
		return 4096
	}
	return c.MaxTokens
}

func (p Prompt) tokens(fallback int) int {
	if p.MaxTokens > 0 {
		return p.MaxTokens
	}
	return fallback
}
