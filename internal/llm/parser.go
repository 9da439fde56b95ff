package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/Veraticus/statement-copilot/internal/common"
)

// DefaultChunkChars bounds each labeled chunk of statement text in the prompt.
const DefaultChunkChars = 12000

const parserSystemPrompt = `You are a strict JSON extraction engine.

Return ONLY valid JSON. No markdown. No explanations.

Schema:
{
  "statement": {
    "issuer": "string",
    "period_start": "YYYY-MM-DD|null",
    "period_end": "YYYY-MM-DD|null",
    "due_date": "YYYY-MM-DD|null",
    "total_minor": 0,
    "currency": "ISO-4217",
    "items": [
      {
        "posted_at": "YYYY-MM-DD|null",
        "description_raw": "string",
        "merchant_norm": "string|null",
        "amount_minor": 0,
        "currency": "ISO-4217",
        "direction": "outflow|inflow",
        "kind": "purchase|refund|fee|interest|adjustment|payment",
        "installment_n": null,
        "installment_total": null,
        "orig_amount_minor": null,
        "orig_currency": null,
        "fx_rate": null
      }
    ]
  }
}

Rules:
- Amounts are integers in minor units (e.g. cents).
- If a field is unknown, use null (not empty string) for nullable fields.
- IOF should be represented as a separate item with kind="fee" and direction="outflow".
- For domestic purchases in the statement currency, orig_* and fx_rate should be null.`

// StatementParser turns extracted statement text into statement JSON.
type StatementParser struct {
	client     Client
	logger     *slog.Logger
	chunkChars int
}

// NewStatementParser creates a parser.
func NewStatementParser(client Client, logger *slog.Logger) *StatementParser {
	return &StatementParser{
		client:     client,
		logger:     common.LoggerOrDefault(logger),
		chunkChars: DefaultChunkChars,
	}
}

// Parse asks the model for the statement JSON. The returned bytes are only
// guaranteed to be syntactically valid JSON; structure is checked downstream.
func (p *StatementParser) Parse(ctx context.Context, issuer, text string) ([]byte, error) {
	if strings.TrimSpace(text) == "" {
		return nil, fmt.Errorf("%w: statement text", common.ErrEmptyInput)
	}

	chunks := chunkText(text, p.chunkChars)

	var sb strings.Builder
	fmt.Fprintf(&sb, "ISSUER: %s\n\n", issuer)
	for i, ch := range chunks {
		fmt.Fprintf(&sb, "CHUNK %d/%d:\n%s\n\n", i+1, len(chunks), ch)
	}
	sb.WriteString("Now produce the JSON output according to the schema. Return ONLY JSON.")

	raw, err := p.client.Complete(ctx, Prompt{System: parserSystemPrompt, User: sb.String()})
	if err != nil {
		return nil, fmt.Errorf("parse call failed: %w", err)
	}

	clean := cleanJSON(raw, '{', '}')
	if !json.Valid([]byte(clean)) {
		return nil, fmt.Errorf("model returned invalid JSON: %s", truncate(raw, 200))
	}

	p.logger.Debug("parsed statement text",
		"issuer", issuer,
		"chunks", len(chunks),
		"bytes", len(clean))

	return []byte(clean), nil
}

func chunkText(s string, maxChars int) []string {
	if maxChars <= 0 || len(s) <= maxChars {
		return []string{s}
	}
	var chunks []string
	runes := []rune(s)
	for i := 0; i < len(runes); i += maxChars {
		end := i + maxChars
		if end > len(runes) {
			end = len(runes)
		}
		chunks = append(chunks, string(runes[i:end]))
	}
	return chunks
}
