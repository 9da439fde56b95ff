package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"unicode/utf8"

	"github.com/Veraticus/statement-copilot/internal/categorize"
	"github.com/Veraticus/statement-copilot/internal/common"
)

const classifierSystemPrompt = "You are a strict JSON classifier. " +
	"Classify each transaction into exactly one category from the allowed list. " +
	"Return ONLY JSON."

// Classifier implements categorize.Classifier on top of a text completion Client.
type Classifier struct {
	client Client
	logger *slog.Logger
}

// NewClassifier creates a batch classifier.
func NewClassifier(client Client, logger *slog.Logger) *Classifier {
	return &Classifier{
		client: client,
		logger: common.LoggerOrDefault(logger),
	}
}

// ClassifyBatch sends one batch and decodes the JSON array answer. Payloads
// that are not a JSON array of {idx, category} are contract violations;
// length checks are left to the categorizer.
func (c *Classifier) ClassifyBatch(ctx context.Context, batch categorize.Batch) ([]categorize.Result, error) {
	prompt, err := buildClassificationPrompt(batch)
	if err != nil {
		return nil, err
	}

	raw, err := c.client.Complete(ctx, Prompt{System: classifierSystemPrompt, User: prompt})
	if err != nil {
		return nil, fmt.Errorf("classification call failed: %w", err)
	}

	var results []categorize.Result
	if err := json.Unmarshal([]byte(cleanJSON(raw, '[', ']')), &results); err != nil {
		return nil, fmt.Errorf("%w: batch %d: categorization returned non-JSON: %s",
			categorize.ErrContractViolation, batch.Number, truncate(raw, 200))
	}

	c.logger.Debug("classified batch",
		"batch", batch.Number,
		"requests", len(batch.Requests),
		"results", len(results))

	return results, nil
}

func buildClassificationPrompt(batch categorize.Batch) (string, error) {
	input, err := json.Marshal(batch.Requests)
	if err != nil {
		return "", fmt.Errorf("failed to marshal batch: %w", err)
	}

	var sb strings.Builder
	sb.WriteString("Allowed categories: [")
	sb.WriteString(strings.Join(batch.Categories, ", "))
	sb.WriteString("]\n\nInput: ")
	sb.Write(input)
	sb.WriteString("\n\nReturn JSON array of same length, each element: {\"idx\": <idx>, \"category\": <one of allowed>}")
	return sb.String(), nil
}

// truncate keeps at most n runes of s.
func truncate(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	return string([]rune(s)[:n]) + "..."
}
