package llm

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/Veraticus/statement-copilot/internal/categorize"
	"github.com/Veraticus/statement-copilot/internal/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// stubClient returns canned completions and records prompts.
type stubClient struct {
	err     error
	reply   string
	prompts []Prompt
	mu      sync.Mutex
}

func (s *stubClient) Complete(_ context.Context, p Prompt) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.prompts = append(s.prompts, p)
	return s.reply, s.err
}

func (s *stubClient) calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.prompts)
}

func testBatch() categorize.Batch {
	return categorize.Batch{
		Number:     2,
		Categories: []string{"groceries", "other"},
		Requests: []categorize.Request{
			{Idx: 0, PostedAt: model.StringPtr("2024-12-01"), Description: "MERCADO X", Kind: model.KindPurchase, Direction: model.DirectionOutflow, AmountMinor: 1234, Currency: "BRL"},
			{Idx: 3, Description: "LOJA Y", Kind: model.KindPurchase, Direction: model.DirectionOutflow, AmountMinor: 99, Currency: "BRL"},
		},
	}
}

func TestClassifierClassifyBatch(t *testing.T) {
	stub := &stubClient{reply: "```json\n[{\"idx\":0,\"category\":\"groceries\"},{\"idx\":3,\"category\":\"other\"}]\n```"}
	c := NewClassifier(stub, nil)

	results, err := c.ClassifyBatch(context.Background(), testBatch())
	require.NoError(t, err)
	assert.Equal(t, []categorize.Result{{Idx: 0, Category: "groceries"}, {Idx: 3, Category: "other"}}, results)

	require.Equal(t, 1, stub.calls())
	p := stub.prompts[0]
	assert.Equal(t, classifierSystemPrompt, p.System)
	assert.Contains(t, p.User, "Allowed categories: [groceries, other]")
	assert.Contains(t, p.User, `"description":"MERCADO X"`)
	assert.Contains(t, p.User, `"amount_minor":1234`)
	assert.Contains(t, p.User, `"posted_at":null`)
}

func TestClassifierNonJSONIsContractViolation(t *testing.T) {
	stub := &stubClient{reply: "I think the first one is groceries."}
	c := NewClassifier(stub, nil)

	_, err := c.ClassifyBatch(context.Background(), testBatch())
	require.Error(t, err)
	assert.ErrorIs(t, err, categorize.ErrContractViolation)
	assert.Contains(t, err.Error(), "batch 2")
}

func TestClassifierTransportError(t *testing.T) {
	boom := errors.New("connection reset")
	c := NewClassifier(&stubClient{err: boom}, nil)

	_, err := c.ClassifyBatch(context.Background(), testBatch())
	require.ErrorIs(t, err, boom)
	assert.NotErrorIs(t, err, categorize.ErrContractViolation)
}

func TestClassifierShortAnswerFailsInCategorizer(t *testing.T) {
	stub := &stubClient{reply: `[{"idx":0,"category":"groceries"}]`}
	cat, err := categorize.New(NewClassifier(stub, nil), model.DefaultTaxonomy())
	require.NoError(t, err)

	items := []model.StatementItem{
		{DescriptionRaw: "LOJA A", Currency: "BRL", Kind: model.KindPurchase, Direction: model.DirectionOutflow},
		{DescriptionRaw: "LOJA B", Currency: "BRL", Kind: model.KindPurchase, Direction: model.DirectionOutflow},
	}
	_, err = cat.Categorize(context.Background(), items)
	require.ErrorIs(t, err, categorize.ErrContractViolation)
}

func TestStatementParserParse(t *testing.T) {
	stub := &stubClient{reply: "Here you go:\n```json\n{\"statement\": {\"issuer\": \"itau\", \"items\": []}}\n```"}
	p := NewStatementParser(stub, nil)
	p.chunkChars = 10

	out, err := p.Parse(context.Background(), "itau", "===== PAGE 1/1 =====\nNETFLIX 55,90")
	require.NoError(t, err)
	assert.JSONEq(t, `{"statement": {"issuer": "itau", "items": []}}`, string(out))

	user := stub.prompts[0].User
	assert.True(t, strings.HasPrefix(user, "ISSUER: itau"))
	assert.Contains(t, user, "CHUNK 1/4:")
	assert.Contains(t, user, "CHUNK 4/4:")
}

func TestStatementParserErrors(t *testing.T) {
	p := NewStatementParser(&stubClient{reply: "{not json"}, nil)

	_, err := p.Parse(context.Background(), "itau", "   ")
	require.Error(t, err)

	_, err = p.Parse(context.Background(), "itau", "text")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid JSON")
}

func TestCleanJSON(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"bare array", `[1,2]`, `[1,2]`},
		{"fenced", "```json\n[1,2]\n```", `[1,2]`},
		{"fence without language", "```\n[1]\n```", `[1]`},
		{"prose around", "Sure! [1, 2] Hope it helps", `[1, 2]`},
		{"single line fence", "```[1]```", "```[1]```"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, cleanJSON(tt.in, '[', ']'))
		})
	}
}

func TestChunkText(t *testing.T) {
	assert.Equal(t, []string{"abc"}, chunkText("abc", 10))
	assert.Equal(t, []string{"ab", "cd", "e"}, chunkText("abcde", 2))
	assert.Equal(t, []string{"çã", "o"}, chunkText("ção", 2))
}

func TestLimitedClientCachesIdenticalPrompts(t *testing.T) {
	stub := &stubClient{reply: "answer"}
	c := NewLimitedClient(stub, 100, time.Minute, nil)
	defer c.Close()

	ctx := context.Background()
	for i := 0; i < 3; i++ {
		text, err := c.Complete(ctx, Prompt{System: "s", User: "same"})
		require.NoError(t, err)
		assert.Equal(t, "answer", text)
	}
	assert.Equal(t, 1, stub.calls())

	_, err := c.Complete(ctx, Prompt{System: "s", User: "different"})
	require.NoError(t, err)
	assert.Equal(t, 2, stub.calls())
	assert.Equal(t, 2, c.cache.size())
}

func TestLimitedClientDoesNotCacheErrors(t *testing.T) {
	stub := &stubClient{err: errors.New("down")}
	c := NewLimitedClient(stub, 100, time.Minute, nil)
	defer c.Close()

	_, err := c.Complete(context.Background(), Prompt{User: "x"})
	require.Error(t, err)
	assert.Equal(t, 0, c.cache.size())
}

func TestLimitedClientWithoutCache(t *testing.T) {
	stub := &stubClient{reply: "ok"}
	c := NewLimitedClient(stub, 100, 0, nil)
	defer c.Close()

	for i := 0; i < 2; i++ {
		_, err := c.Complete(context.Background(), Prompt{User: "x"})
		require.NoError(t, err)
	}
	assert.Equal(t, 2, stub.calls())
}

type flakyClient struct {
	failures []error
	calls    int
}

func (f *flakyClient) Complete(context.Context, Prompt) (string, error) {
	f.calls++
	if f.calls <= len(f.failures) {
		return "", f.failures[f.calls-1]
	}
	return "ok", nil
}

func TestLimitedClientReturnsFailuresWithoutRetry(t *testing.T) {
	tests := []struct {
		name    string
		failure error
	}{
		{"rate limited", &APIError{Provider: "OpenAI", Status: 429}},
		{"server error", &APIError{Status: 503}},
		{"client error", &APIError{Status: 400}},
		{"transport error", errors.New("connection reset")},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			inner := &flakyClient{failures: []error{tt.failure}}
			c := NewLimitedClient(inner, 100, time.Minute, nil)
			defer c.Close()

			_, err := c.Complete(context.Background(), Prompt{User: "x"})
			require.ErrorIs(t, err, tt.failure)
			assert.Equal(t, 1, inner.calls)
			assert.Equal(t, 0, c.cache.size())
		})
	}
}

func TestClassifierSurfacesProviderFailure(t *testing.T) {
	inner := &flakyClient{failures: []error{&APIError{Provider: "OpenAI", Status: 503}}}
	c := NewLimitedClient(inner, 100, 0, nil)
	defer c.Close()

	_, err := NewClassifier(c, nil).ClassifyBatch(context.Background(), testBatch())
	require.Error(t, err)
	assert.Equal(t, 1, inner.calls)
}

func TestLimitedClientWaitsForRateLimit(t *testing.T) {
	stub := &stubClient{reply: "ok"}
	c := NewLimitedClient(stub, 1, 0, nil)
	defer c.Close()

	_, err := c.Complete(context.Background(), Prompt{User: "first"})
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err = c.Complete(ctx, Prompt{User: "second"})
	assert.ErrorContains(t, err, "rate limiter")
	assert.Equal(t, 1, stub.calls())
}

func TestTruncate(t *testing.T) {
	tests := []struct {
		name  string
		input string
		n     int
		want  string
	}{
		{"short", "abc", 5, "abc"},
		{"exact", "abcde", 5, "abcde"},
		{"ascii", "abcdef", 3, "abc..."},
		{"multibyte boundary", "não é JSON", 2, "nã..."},
		{"accents only", "çãéí", 3, "çãé..."},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := truncate(tt.input, tt.n)
			assert.Equal(t, tt.want, got)
			assert.True(t, utf8.ValidString(got))
		})
	}
}
