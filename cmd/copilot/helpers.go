package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/Veraticus/statement-copilot/internal/categorize"
	"github.com/Veraticus/statement-copilot/internal/cli"
	"github.com/Veraticus/statement-copilot/internal/common"
	"github.com/Veraticus/statement-copilot/internal/config"
	"github.com/Veraticus/statement-copilot/internal/llm"
	"github.com/Veraticus/statement-copilot/internal/model"
	"github.com/Veraticus/statement-copilot/internal/storage"
	"github.com/spf13/viper"
)

// mockProvider selects the offline keyword classifier instead of a model.
const mockProvider = "mock"

func loadConfig() (config.Config, error) {
	return config.Load(viper.GetViper())
}

// openStorage opens the configured database and brings its schema up to date,
// snapshotting it first when an older schema is about to change.
func openStorage(ctx context.Context, cfg config.Config) (*storage.SQLiteStorage, error) {
	store, err := storage.NewSQLiteStorage(cfg.Database.Path, slog.Default())
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	current, err := store.SchemaVersion(ctx)
	if err != nil {
		_ = store.Close()
		return nil, err
	}
	if current > 0 && current < storage.ExpectedSchemaVersion {
		manager, err := store.NewCheckpointManager()
		if err != nil {
			_ = store.Close()
			return nil, err
		}
		if _, err := manager.AutoCheckpoint(ctx, "migrate"); err != nil {
			_ = store.Close()
			return nil, err
		}
	}

	if err := store.Migrate(ctx); err != nil {
		_ = store.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}
	return store, nil
}

func llmConfig(cfg config.Config) llm.Config {
	c := llm.Config{
		Provider:       cfg.LLM.Provider,
		Model:          cfg.LLM.Model,
		ClaudeCodePath: cfg.LLM.ClaudeCodePath,
		CacheTTL:       cfg.LLM.CacheTTL,
		Timeout:        cfg.Pipeline.Timeout,
		RateLimit:      cfg.LLM.RateLimit,
		Temperature:    cfg.LLM.Temperature,
		MaxTokens:      cfg.LLM.MaxTokens,
	}
	switch strings.ToLower(cfg.LLM.Provider) {
	case "openai":
		c.APIKey = cfg.LLM.OpenAIAPIKey
	case "anthropic":
		c.APIKey = cfg.LLM.AnthropicAPIKey
	case "gemini":
		c.APIKey = cfg.LLM.GeminiAPIKey
	}
	return c
}

// newLLMClient returns nil for the mock provider.
func newLLMClient(ctx context.Context, cfg config.Config) (*llm.LimitedClient, error) {
	if strings.EqualFold(cfg.LLM.Provider, mockProvider) {
		return nil, nil
	}
	client, err := llm.NewClient(ctx, llmConfig(cfg), slog.Default())
	if err != nil {
		return nil, common.NewUserError("could not set up the language model; check llm.provider and its API key", err)
	}
	return client, nil
}

func newClassifier(client *llm.LimitedClient) categorize.Classifier {
	if client == nil {
		return categorize.NewMockClassifier()
	}
	return llm.NewClassifier(client, slog.Default())
}

func newCategorizer(cfg config.Config, classifier categorize.Classifier, progress categorize.ProgressReporter) (*categorize.Categorizer, error) {
	var extra []categorize.PrefixRule
	if cfg.Categorize.RulesFile != "" {
		rules, err := categorize.LoadRules(cfg.Categorize.RulesFile)
		if err != nil {
			return nil, err
		}
		extra = rules
	}
	heuristics, err := categorize.NewDefaultHeuristics(cfg.Taxonomy(), extra)
	if err != nil {
		return nil, err
	}

	opts := []categorize.Option{
		categorize.WithBatchSize(cfg.Categorize.BatchSize),
		categorize.WithConcurrency(cfg.Categorize.Concurrency),
		categorize.WithHeuristics(heuristics),
		categorize.WithLogger(slog.Default()),
	}
	if progress != nil {
		opts = append(opts, categorize.WithProgress(progress))
	}
	return categorize.New(classifier, cfg.Taxonomy(), opts...)
}

// barCategorizer sizes a fresh progress bar to each document it categorizes.
type barCategorizer struct {
	cfg        config.Config
	classifier categorize.Classifier
	quiet      bool
}

func (b *barCategorizer) CategorizeDocument(ctx context.Context, doc model.StatementDocument) (model.StatementDocument, error) {
	var bar *cli.BatchProgress
	var progress categorize.ProgressReporter
	if !b.quiet && len(doc.Items) > 0 {
		bar = cli.NewBatchProgress(os.Stderr, len(doc.Items), "Categorizing items...")
		progress = bar
	}

	c, err := newCategorizer(b.cfg, b.classifier, progress)
	if err != nil {
		return model.StatementDocument{}, err
	}
	out, err := c.CategorizeDocument(ctx, doc)
	if err != nil {
		return model.StatementDocument{}, err
	}
	if bar != nil {
		_ = bar.Finish()
	}
	return out, nil
}

func formatFileSize(size int64) string {
	const unit = 1024
	if size < unit {
		return fmt.Sprintf("%d B", size)
	}
	div, exp := int64(unit), 0
	for n := size / unit; n >= unit; n /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %cB", float64(size)/float64(div), "KMGTPE"[exp])
}

func formatRelativeTime(t time.Time) string {
	d := time.Since(t)
	switch {
	case d < time.Minute:
		return "just now"
	case d < time.Hour:
		return pluralize(int(d.Minutes()), "minute") + " ago"
	case d < 24*time.Hour:
		return pluralize(int(d.Hours()), "hour") + " ago"
	case d < 7*24*time.Hour:
		return pluralize(int(d.Hours()/24), "day") + " ago"
	}
	return t.Format("2006-01-02")
}

func pluralize(n int, word string) string {
	if n == 1 {
		return "1 " + word
	}
	return fmt.Sprintf("%d %ss", n, word)
}

func absPath(path string) (string, error) {
	abs, err := filepath.Abs(config.ExpandPath(path))
	if err != nil {
		return "", fmt.Errorf("failed to resolve %s: %w", path, err)
	}
	return abs, nil
}

func contextWithTimeout(ctx context.Context, timeout time.Duration) (context.Context, context.CancelFunc) {
	if timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, timeout)
}
