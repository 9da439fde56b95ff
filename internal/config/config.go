package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/Veraticus/statement-copilot/internal/common"
	"github.com/Veraticus/statement-copilot/internal/model"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// EnvPrefix is the prefix for environment overrides, e.g. STATEMENT_COPILOT_WORKSPACE.
const EnvPrefix = "STATEMENT_COPILOT"

// PasswordEnv names the environment variable holding the PDF password.
const PasswordEnv = "STATEMENT_PDF_PASSWORD"

// Config is the explicit configuration value threaded into every component.
type Config struct {
	Workspace  string
	Database   DatabaseConfig
	Categorize CategorizeConfig
	Pipeline   PipelineConfig
	LLM        LLMConfig
	Extract    ExtractConfig
	Logging    LoggingConfig
}

// DatabaseConfig locates the SQLite store.
type DatabaseConfig struct {
	Path string
}

// CategorizeConfig controls the categorization stage.
type CategorizeConfig struct {
	RulesFile   string
	Taxonomy    []string
	BatchSize   int
	Concurrency int
}

// PipelineConfig bounds the orchestrator.
type PipelineConfig struct {
	Timeout  time.Duration
	MaxPages int
}

// LLMConfig holds provider settings for the parse and classification collaborators.
type LLMConfig struct {
	Provider        string
	Model           string
	OpenAIAPIKey    string
	AnthropicAPIKey string
	GeminiAPIKey    string
	ClaudeCodePath  string
	CacheTTL        time.Duration
	Temperature     float64
	RateLimit       int
	MaxTokens       int
}

// ExtractConfig names the external PDF tools.
type ExtractConfig struct {
	QPDFPath      string
	PDFToTextPath string
}

// LoggingConfig selects slog level and handler.
type LoggingConfig struct {
	Level  string
	Format string
}

// SetDefaults registers the default value of every known key on v.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("workspace", ".")
	v.SetDefault("database.path", "")
	v.SetDefault("categorize.batch_size", 30)
	v.SetDefault("categorize.concurrency", 1)
	v.SetDefault("categorize.taxonomy", model.DefaultCategories)
	v.SetDefault("categorize.rules_file", "")
	v.SetDefault("pipeline.timeout", 10*time.Minute)
	v.SetDefault("pipeline.max_pages", 3)
	v.SetDefault("llm.provider", "openai")
	v.SetDefault("llm.cache_ttl", 24*time.Hour)
	v.SetDefault("llm.rate_limit", 60)
	v.SetDefault("llm.temperature", 0.0)
	v.SetDefault("llm.max_tokens", 4096)
	v.SetDefault("llm.claude_code_path", "claude")
	v.SetDefault("extract.qpdf_path", "qpdf")
	v.SetDefault("extract.pdftotext_path", "pdftotext")
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "console")
}

// LoadDotEnv loads a .env file from the working directory when present.
// Variables already set in the environment win.
func LoadDotEnv(path string) error {
	if path == "" {
		path = ".env"
	}
	if _, err := os.Stat(path); err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("failed to stat %s: %w", path, err)
	}
	if err := godotenv.Load(path); err != nil {
		return fmt.Errorf("failed to load %s: %w", path, err)
	}
	return nil
}

// Load builds a Config from v, applying defaults and provider key fallbacks.
func Load(v *viper.Viper) (Config, error) {
	cfg := Config{
		Workspace: ExpandPath(v.GetString("workspace")),
		Database: DatabaseConfig{
			Path: ExpandPath(v.GetString("database.path")),
		},
		Categorize: CategorizeConfig{
			BatchSize:   v.GetInt("categorize.batch_size"),
			Concurrency: v.GetInt("categorize.concurrency"),
			Taxonomy:    v.GetStringSlice("categorize.taxonomy"),
			RulesFile:   ExpandPath(v.GetString("categorize.rules_file")),
		},
		Pipeline: PipelineConfig{
			Timeout:  v.GetDuration("pipeline.timeout"),
			MaxPages: v.GetInt("pipeline.max_pages"),
		},
		LLM: LLMConfig{
			Provider:        v.GetString("llm.provider"),
			Model:           v.GetString("llm.model"),
			OpenAIAPIKey:    firstNonEmpty(v.GetString("llm.openai_api_key"), os.Getenv("OPENAI_API_KEY")),
			AnthropicAPIKey: firstNonEmpty(v.GetString("llm.anthropic_api_key"), os.Getenv("ANTHROPIC_API_KEY")),
			GeminiAPIKey:    firstNonEmpty(v.GetString("llm.gemini_api_key"), os.Getenv("GEMINI_API_KEY")),
			ClaudeCodePath:  v.GetString("llm.claude_code_path"),
			CacheTTL:        v.GetDuration("llm.cache_ttl"),
			RateLimit:       v.GetInt("llm.rate_limit"),
			Temperature:     v.GetFloat64("llm.temperature"),
			MaxTokens:       v.GetInt("llm.max_tokens"),
		},
		Extract: ExtractConfig{
			QPDFPath:      ExpandPath(v.GetString("extract.qpdf_path")),
			PDFToTextPath: ExpandPath(v.GetString("extract.pdftotext_path")),
		},
		Logging: LoggingConfig{
			Level:  v.GetString("logging.level"),
			Format: v.GetString("logging.format"),
		},
	}

	if cfg.Workspace == "" {
		cfg.Workspace = "."
	}
	abs, err := filepath.Abs(cfg.Workspace)
	if err != nil {
		return Config{}, fmt.Errorf("failed to resolve workspace %q: %w", cfg.Workspace, err)
	}
	cfg.Workspace = abs

	if cfg.Database.Path == "" {
		cfg.Database.Path = cfg.DefaultDatabasePath()
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks value ranges that would otherwise fail deep inside a stage.
func (c Config) Validate() error {
	if c.Categorize.BatchSize <= 0 {
		return fmt.Errorf("%w: categorize.batch_size must be positive, got %d", common.ErrInvalidConfig, c.Categorize.BatchSize)
	}
	if c.Categorize.Concurrency <= 0 {
		return fmt.Errorf("%w: categorize.concurrency must be positive, got %d", common.ErrInvalidConfig, c.Categorize.Concurrency)
	}
	if c.Pipeline.Timeout <= 0 {
		return fmt.Errorf("%w: pipeline.timeout must be positive", common.ErrInvalidConfig)
	}
	if c.Pipeline.MaxPages < 0 {
		return fmt.Errorf("%w: pipeline.max_pages must not be negative", common.ErrInvalidConfig)
	}
	return nil
}

// Taxonomy returns the configured category set.
func (c Config) Taxonomy() model.Taxonomy {
	if len(c.Categorize.Taxonomy) == 0 {
		return model.DefaultTaxonomy()
	}
	return model.NewTaxonomy(c.Categorize.Taxonomy)
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
