// Package pipeline sequences the ingestion stages of one statement file and
// keeps an artifact per stage so a failed run can be resumed.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/Veraticus/statement-copilot/internal/classification"
	"github.com/Veraticus/statement-copilot/internal/common"
	"github.com/Veraticus/statement-copilot/internal/extract"
	"github.com/Veraticus/statement-copilot/internal/model"
	"github.com/Veraticus/statement-copilot/internal/schema"
	"github.com/Veraticus/statement-copilot/internal/storage"
	"github.com/Veraticus/statement-copilot/internal/summary"
)

// State is how far a run got.
type State string

// Pipeline states.
const (
	StateStart       State = "start"
	StateDecrypted   State = "decrypted"
	StateExtracted   State = "extracted"
	StateParsed      State = "parsed"
	StateValidated   State = "validated"
	StateNormalized  State = "normalized"
	StateCategorized State = "categorized"
	StateRevalidated State = "revalidated"
	StateStored      State = "stored"
	StateDone        State = "done"
)

// DefaultTimeout bounds each stage when none is configured.
const DefaultTimeout = 10 * time.Minute

// Unlocker makes a readable copy of a possibly encrypted PDF.
type Unlocker interface {
	Unlock(ctx context.Context, pdfPath, password string) (extract.UnlockResult, error)
}

// TextExtractor pulls the text of a readable PDF.
type TextExtractor interface {
	Extract(ctx context.Context, pdfPath string) (string, error)
}

// Parser turns statement text into document JSON.
type Parser interface {
	Parse(ctx context.Context, issuer, text string) ([]byte, error)
}

// OFXParser converts OFX/QFX exports straight into documents.
type OFXParser interface {
	ParseFile(ctx context.Context, r io.Reader, issuer string) (*model.StatementDocument, error)
}

// Categorizer assigns categories to the items of a document.
type Categorizer interface {
	CategorizeDocument(ctx context.Context, doc model.StatementDocument) (model.StatementDocument, error)
}

// Store persists documents idempotently.
type Store interface {
	UpsertStatement(ctx context.Context, doc *model.StatementDocument, issuer string, src storage.SourceDescriptor) (storage.UpsertResult, error)
}

// Components are the collaborators of a pipeline. Unlocker, Extractor and
// Parser are only needed for PDF input; OFX only for OFX/QFX input.
type Components struct {
	Unlocker    Unlocker
	Extractor   TextExtractor
	Parser      Parser
	OFX         OFXParser
	Normalizer  *classification.Normalizer
	Categorizer Categorizer
	Store       Store
	Taxonomy    model.Taxonomy
}

// Input describes one ingestion.
type Input struct {
	Issuer       string
	FilePath     string
	Password     string
	AccountLabel string
	VerifyOnly   bool
}

// Result describes a finished (or verify-only) run.
type Result struct {
	Upsert       storage.UpsertResult
	Document     *model.StatementDocument
	State        State
	FilePath     string
	Hash         string
	ReadablePath string
	Summary      string
	Artifacts    Artifacts
	Encrypted    bool
}

// Pipeline runs the ingestion stages.
type Pipeline struct {
	components  Components
	validator   *schema.Validator
	revalidator *schema.Validator
	logger      *slog.Logger
	dataDir     string
	timeout     time.Duration
}

// New creates a pipeline writing artifacts to dataDir.
func New(c Components, dataDir string, timeout time.Duration, logger *slog.Logger) (*Pipeline, error) {
	if c.Categorizer == nil {
		return nil, fmt.Errorf("%w: categorizer", common.ErrMissingConfig)
	}
	if c.Store == nil {
		return nil, fmt.Errorf("%w: store", common.ErrMissingConfig)
	}
	if dataDir == "" {
		return nil, fmt.Errorf("%w: data directory", common.ErrMissingConfig)
	}
	if c.Normalizer == nil {
		c.Normalizer = classification.NewDefaultNormalizer()
	}
	if c.Taxonomy.Len() == 0 {
		c.Taxonomy = model.DefaultTaxonomy()
	}
	if timeout <= 0 {
		timeout = DefaultTimeout
	}

	return &Pipeline{
		components:  c,
		validator:   schema.NewValidator(),
		revalidator: schema.NewValidator(schema.WithTaxonomy(c.Taxonomy)),
		logger:      common.LoggerOrDefault(logger),
		dataDir:     dataDir,
		timeout:     timeout,
	}, nil
}

// ArtifactsFor returns the artifact names for a content hash.
func (p *Pipeline) ArtifactsFor(hash string) Artifacts {
	return Artifacts{Dir: p.dataDir, Hash: hash}
}

// IsOFX reports whether path looks like an OFX or QFX export.
func IsOFX(path string) bool {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".ofx", ".qfx":
		return true
	}
	return false
}

// CheckInput fails with a file-not-found StageError, attributed to the first
// stage that would read path, when path does not exist.
func CheckInput(path string) error {
	if _, err := os.Stat(path); err != nil {
		stage := StageUnlock
		if IsOFX(path) {
			stage = StageParse
		}
		return &StageError{Stage: stage, Err: fmt.Errorf("%w: %s", common.ErrFileNotFound, path)}
	}
	return nil
}

// Run executes every stage for in. It stops at the first failure and returns
// a *StageError; nothing is stored unless every earlier stage succeeded.
func (p *Pipeline) Run(ctx context.Context, in Input) (*Result, error) {
	if strings.TrimSpace(in.Issuer) == "" {
		return nil, fmt.Errorf("%w: issuer", common.ErrMissingConfig)
	}

	path, err := filepath.Abs(in.FilePath)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve %s: %w", in.FilePath, err)
	}
	in.FilePath = path
	if err := CheckInput(path); err != nil {
		return nil, err
	}

	res := &Result{State: StateStart, FilePath: path}
	sourceType := model.SourceTypePDF

	if IsOFX(path) {
		sourceType = model.SourceTypeOFX
		if err := p.ingestOFX(ctx, in, res); err != nil {
			return res, err
		}
		if in.VerifyOnly {
			return res, nil
		}
	} else {
		unlocked, err := p.Unlock(ctx, in)
		if err != nil {
			return res, err
		}
		res.Hash = unlocked.Hash
		res.ReadablePath = unlocked.Path
		res.Encrypted = unlocked.Encrypted
		res.Artifacts = p.ArtifactsFor(unlocked.Hash)
		res.State = StateDecrypted
		if in.VerifyOnly {
			return res, nil
		}

		if _, err := p.Extract(ctx, unlocked.Hash, unlocked.Path); err != nil {
			return res, err
		}
		res.State = StateExtracted

		if _, err := p.Parse(ctx, in.Issuer, unlocked.Hash); err != nil {
			return res, err
		}
		res.State = StateParsed
	}

	if _, err := p.Validate(ctx, res.Hash); err != nil {
		return res, err
	}
	res.State = StateValidated

	if _, err := p.Normalize(ctx, res.Hash); err != nil {
		return res, err
	}
	res.State = StateNormalized

	if _, err := p.Categorize(ctx, res.Hash); err != nil {
		return res, err
	}
	res.State = StateCategorized

	doc, err := p.Revalidate(ctx, res.Hash)
	if err != nil {
		return res, err
	}
	res.State = StateRevalidated
	res.Document = doc

	src := storage.SourceDescriptor{
		SourceType:   sourceType,
		FilePath:     path,
		ContentHash:  res.Hash,
		AccountLabel: in.AccountLabel,
		Metadata: map[string]string{
			"file_name": filepath.Base(path),
			"encrypted": fmt.Sprintf("%t", res.Encrypted),
		},
	}
	upsert, err := p.Store(ctx, in.Issuer, doc, src)
	if err != nil {
		return res, err
	}
	res.Upsert = upsert
	res.State = StateStored

	res.Summary = summary.Summarize(*doc)
	res.State = StateDone

	p.logger.Info("ingested statement",
		"issuer", in.Issuer,
		"file", path,
		"statement_id", upsert.StatementID,
		"items", upsert.ItemsWritten)
	return res, nil
}

// ingestOFX hashes the export and writes its parsed artifact directly, in
// place of the unlock, extract and parse stages.
func (p *Pipeline) ingestOFX(ctx context.Context, in Input, res *Result) error {
	hash, err := extract.HashFile(in.FilePath)
	if err != nil {
		return &StageError{Stage: StageParse, Err: err}
	}
	res.Hash = hash
	res.ReadablePath = in.FilePath
	res.Artifacts = p.ArtifactsFor(hash)
	res.State = StateDecrypted
	if in.VerifyOnly {
		return nil
	}

	if p.components.OFX == nil {
		return &StageError{Stage: StageParse, Err: fmt.Errorf("%w: OFX parser", common.ErrMissingConfig)}
	}

	err = p.runStage(ctx, StageParse, "", func(ctx context.Context) error {
		// #nosec G304 - user supplied statement path
		f, err := os.Open(in.FilePath)
		if err != nil {
			return fmt.Errorf("failed to open %s: %w", in.FilePath, err)
		}
		defer func() { _ = f.Close() }()

		doc, err := p.components.OFX.ParseFile(ctx, f, in.Issuer)
		if err != nil {
			return err
		}
		return WriteDocument(res.Artifacts.Parsed(), *doc)
	})
	if err != nil {
		return err
	}
	res.State = StateParsed
	return nil
}

// runStage bounds fn by the stage timeout and wraps any failure.
func (p *Pipeline) runStage(ctx context.Context, stage Stage, lastGood string, fn func(context.Context) error) error {
	stageCtx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	start := time.Now()
	err := fn(stageCtx)
	if err == nil {
		p.logger.Debug("stage finished", "stage", stage, "duration", time.Since(start))
		return nil
	}

	var stageErr *StageError
	if errors.As(err, &stageErr) {
		return stageErr
	}
	if errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil {
		err = fmt.Errorf("%w after %s: %w", common.ErrTimeout, p.timeout, err)
	}
	p.logger.Error("stage failed", "stage", stage, "error", err, "artifact", lastGood)
	return &StageError{Stage: stage, Err: err, Artifact: lastGood}
}
