package llm

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/Veraticus/statement-copilot/internal/common"
)

// NewClient creates a rate limited, cached client for the configured provider.
// Callers should Close it when done.
func NewClient(ctx context.Context, cfg Config, logger *slog.Logger) (*LimitedClient, error) {
	var inner Client
	var err error

	switch strings.ToLower(cfg.Provider) {
	case "openai":
		inner, err = newOpenAIClient(cfg)
	case "anthropic":
		inner, err = newAnthropicClient(cfg)
	case "claudecode":
		inner, err = newClaudeCodeClient(cfg)
	case "gemini":
		inner, err = newGeminiClient(ctx, cfg)
	default:
		return nil, fmt.Errorf("%w: unsupported LLM provider: %s", common.ErrInvalidConfig, cfg.Provider)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to create LLM client: %w", err)
	}

	return NewLimitedClient(inner, cfg.RateLimit, cfg.CacheTTL, logger), nil
}

// LimitedClient wraps a Client with a rate limiter and a response cache.
type LimitedClient struct {
	inner   Client
	limiter *rateLimiter
	cache   *responseCache
	logger  *slog.Logger
}

// NewLimitedClient wraps inner.
func NewLimitedClient(inner Client, requestsPerMinute int, cacheTTL time.Duration, logger *slog.Logger) *LimitedClient {
	return &LimitedClient{
		inner:   inner,
		limiter: newRateLimiter(requestsPerMinute),
		cache:   newResponseCache(cacheTTL),
		logger:  common.LoggerOrDefault(logger),
	}
}

// Complete serves the prompt from cache or forwards it once a token is free.
// Failures are returned as is; re-running the stage is the caller's call.
func (c *LimitedClient) Complete(ctx context.Context, prompt Prompt) (string, error) {
	key := promptKey(prompt)
	if text, ok := c.cache.get(key); ok {
		c.logger.Debug("llm cache hit", "key", key[:12])
		return text, nil
	}

	if !c.limiter.tryAcquire() {
		c.logger.Debug("llm rate limit reached, waiting")
		if err := c.limiter.wait(ctx); err != nil {
			return "", err
		}
	}

	start := time.Now()
	text, err := c.inner.Complete(ctx, prompt)
	if err != nil {
		var apiErr *APIError
		if errors.As(err, &apiErr) {
			c.logger.Warn("llm call failed", "status", apiErr.Status, "retryable", apiErr.Retryable())
		}
		return "", err
	}
	c.logger.Debug("llm completion",
		"duration", time.Since(start),
		"prompt_chars", len(prompt.User),
		"response_chars", len(text))

	c.cache.set(key, text)
	return text, nil
}

// Close stops the limiter and drops cached responses.
func (c *LimitedClient) Close() {
	c.limiter.Close()
	c.cache.Close()
}
