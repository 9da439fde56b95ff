package pipeline

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/Veraticus/statement-copilot/internal/common"
	"github.com/Veraticus/statement-copilot/internal/extract"
	"github.com/Veraticus/statement-copilot/internal/model"
	"github.com/Veraticus/statement-copilot/internal/schema"
	"github.com/Veraticus/statement-copilot/internal/storage"
)

// Unlock verifies the PDF and returns a readable copy of it.
func (p *Pipeline) Unlock(ctx context.Context, in Input) (extract.UnlockResult, error) {
	if p.components.Unlocker == nil {
		return extract.UnlockResult{}, &StageError{Stage: StageUnlock, Err: fmt.Errorf("%w: unlocker", common.ErrMissingConfig)}
	}

	var res extract.UnlockResult
	err := p.runStage(ctx, StageUnlock, "", func(ctx context.Context) error {
		var err error
		res, err = p.components.Unlocker.Unlock(ctx, in.FilePath, in.Password)
		return err
	})
	if err != nil {
		return extract.UnlockResult{}, err
	}

	p.logger.Info("PDF opened",
		"encrypted", res.Encrypted,
		"sha256", res.Hash[:min(12, len(res.Hash))],
		"readable", res.Path)
	return res, nil
}

// Extract writes the text of the readable PDF to the text artifact.
func (p *Pipeline) Extract(ctx context.Context, hash, readablePath string) (string, error) {
	if p.components.Extractor == nil {
		return "", &StageError{Stage: StageExtract, Err: fmt.Errorf("%w: text extractor", common.ErrMissingConfig)}
	}

	art := p.ArtifactsFor(hash)
	err := p.runStage(ctx, StageExtract, readablePath, func(ctx context.Context) error {
		text, err := p.components.Extractor.Extract(ctx, readablePath)
		if err != nil {
			return err
		}
		return writeArtifact(art.Text(), []byte(text))
	})
	if err != nil {
		return "", err
	}
	return art.Text(), nil
}

// Parse sends the text artifact to the parser and stores its raw answer.
func (p *Pipeline) Parse(ctx context.Context, issuer, hash string) (string, error) {
	if p.components.Parser == nil {
		return "", &StageError{Stage: StageParse, Err: fmt.Errorf("%w: statement parser", common.ErrMissingConfig)}
	}

	art := p.ArtifactsFor(hash)
	err := p.runStage(ctx, StageParse, art.Text(), func(ctx context.Context) error {
		text, err := readArtifact(art.Text())
		if err != nil {
			return err
		}
		raw, err := p.components.Parser.Parse(ctx, issuer, string(text))
		if err != nil {
			return err
		}
		return writeArtifact(art.Parsed(), append([]byte(strings.TrimSpace(string(raw))), '\n'))
	})
	if err != nil {
		return "", err
	}
	return art.Parsed(), nil
}

// Validate checks the parsed artifact.
func (p *Pipeline) Validate(ctx context.Context, hash string) (*model.StatementDocument, error) {
	art := p.ArtifactsFor(hash)
	return p.decodeStage(ctx, StageValidate, p.validator, art.Parsed(), art.Parsed())
}

// Normalize classifies every item of the parsed artifact and writes the result.
func (p *Pipeline) Normalize(ctx context.Context, hash string) (*model.StatementDocument, error) {
	art := p.ArtifactsFor(hash)
	doc, err := p.decodeStage(ctx, StageNormalize, p.validator, art.Parsed(), art.Parsed())
	if err != nil {
		return nil, err
	}

	normalized := p.components.Normalizer.NormalizeAll(*doc)
	err = p.runStage(ctx, StageNormalize, art.Parsed(), func(context.Context) error {
		return WriteDocument(art.Normalized(), normalized)
	})
	if err != nil {
		return nil, err
	}
	return &normalized, nil
}

// Categorize categorizes the normalized artifact and writes the result. The
// categorized artifact is only written when every batch succeeded.
func (p *Pipeline) Categorize(ctx context.Context, hash string) (*model.StatementDocument, error) {
	art := p.ArtifactsFor(hash)
	doc, err := p.decodeStage(ctx, StageCategorize, p.validator, art.Normalized(), art.Normalized())
	if err != nil {
		return nil, err
	}

	var categorized model.StatementDocument
	err = p.runStage(ctx, StageCategorize, art.Normalized(), func(ctx context.Context) error {
		var err error
		categorized, err = p.components.Categorizer.CategorizeDocument(ctx, *doc)
		if err != nil {
			return err
		}
		return WriteDocument(art.Categorized(), categorized)
	})
	if err != nil {
		return nil, err
	}
	return &categorized, nil
}

// Revalidate checks the categorized artifact, including category membership.
func (p *Pipeline) Revalidate(ctx context.Context, hash string) (*model.StatementDocument, error) {
	art := p.ArtifactsFor(hash)
	return p.decodeStage(ctx, StageRevalidate, p.revalidator, art.Categorized(), art.Categorized())
}

// Store persists a revalidated document.
func (p *Pipeline) Store(ctx context.Context, issuer string, doc *model.StatementDocument, src storage.SourceDescriptor) (storage.UpsertResult, error) {
	var res storage.UpsertResult
	lastGood := ""
	if src.ContentHash != "" {
		lastGood = p.ArtifactsFor(src.ContentHash).Categorized()
	}
	err := p.runStage(ctx, StageStore, lastGood, func(ctx context.Context) error {
		var err error
		res, err = p.components.Store.UpsertStatement(ctx, doc, issuer, src)
		return err
	})
	return res, err
}

// decodeStage reads and validates one artifact as part of stage.
func (p *Pipeline) decodeStage(ctx context.Context, stage Stage, v *schema.Validator, path, lastGood string) (*model.StatementDocument, error) {
	var doc *model.StatementDocument
	var violations []schema.Violation

	err := p.runStage(ctx, stage, lastGood, func(ctx context.Context) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		data, err := readArtifact(path)
		if err != nil {
			return err
		}
		var res schema.Result
		doc, res, err = v.Decode(data)
		violations = res.Errors
		return err
	})
	if err != nil {
		var stageErr *StageError
		if errors.As(err, &stageErr) {
			stageErr.Violations = violations
		}
		return nil, err
	}
	return doc, nil
}
