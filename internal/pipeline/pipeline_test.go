package pipeline

import (
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/Veraticus/statement-copilot/internal/categorize"
	"github.com/Veraticus/statement-copilot/internal/common"
	"github.com/Veraticus/statement-copilot/internal/extract"
	"github.com/Veraticus/statement-copilot/internal/model"
	"github.com/Veraticus/statement-copilot/internal/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const parsedJSON = `{
  "statement": {
    "issuer": "nubank",
    "period_start": "2024-02-01",
    "period_end": "2024-02-29",
    "due_date": "2024-03-10",
    "total_minor": 5870,
    "currency": "BRL",
    "items": [
      {"posted_at": "2024-02-03", "description_raw": "PADARIA REAL", "merchant_norm": null,
       "amount_minor": 2550, "currency": "BRL", "direction": "outflow", "kind": "purchase",
       "installment_n": null, "installment_total": null, "orig_amount_minor": null, "orig_currency": null, "fx_rate": null},
      {"posted_at": "2024-02-10", "description_raw": "UBER *TRIP", "merchant_norm": null,
       "amount_minor": 3200, "currency": "BRL", "direction": "outflow", "kind": "purchase",
       "installment_n": null, "installment_total": null, "orig_amount_minor": null, "orig_currency": null, "fx_rate": null},
      {"posted_at": "2024-02-15", "description_raw": "PAGAMENTO RECEBIDO", "merchant_norm": null,
       "amount_minor": 150000, "currency": "BRL", "direction": "inflow", "kind": "purchase",
       "installment_n": null, "installment_total": null, "orig_amount_minor": null, "orig_currency": null, "fx_rate": null},
      {"posted_at": "2024-02-20", "description_raw": "IOF COMPRA INTERNACIONAL", "merchant_norm": null,
       "amount_minor": 120, "currency": "BRL", "direction": "outflow", "kind": "purchase",
       "installment_n": null, "installment_total": null, "orig_amount_minor": null, "orig_currency": null, "fx_rate": null}
    ]
  }
}`

type stubUnlocker struct {
	err   error
	res   extract.UnlockResult
	calls int
}

func (s *stubUnlocker) Unlock(_ context.Context, pdfPath, _ string) (extract.UnlockResult, error) {
	s.calls++
	if s.err != nil {
		return extract.UnlockResult{}, s.err
	}
	res := s.res
	if res.Path == "" {
		res.Path = pdfPath
	}
	return res, nil
}

type stubExtractor struct {
	err  error
	text string
}

func (s *stubExtractor) Extract(_ context.Context, _ string) (string, error) {
	return s.text, s.err
}

type stubParser struct {
	err   error
	block bool
	raw   string
	calls int
}

func (s *stubParser) Parse(ctx context.Context, _, _ string) ([]byte, error) {
	s.calls++
	if s.block {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	if s.err != nil {
		return nil, s.err
	}
	return []byte(s.raw), nil
}

type stubOFX struct {
	doc *model.StatementDocument
}

func (s *stubOFX) ParseFile(_ context.Context, r io.Reader, _ string) (*model.StatementDocument, error) {
	if _, err := io.ReadAll(r); err != nil {
		return nil, err
	}
	return s.doc, nil
}

type categorizerFunc func(context.Context, model.StatementDocument) (model.StatementDocument, error)

func (f categorizerFunc) CategorizeDocument(ctx context.Context, doc model.StatementDocument) (model.StatementDocument, error) {
	return f(ctx, doc)
}

type failingStore struct{}

func (failingStore) UpsertStatement(context.Context, *model.StatementDocument, string, storage.SourceDescriptor) (storage.UpsertResult, error) {
	return storage.UpsertResult{}, errors.New("disk full")
}

type fixture struct {
	pipeline   *Pipeline
	store      *storage.SQLiteStorage
	unlocker   *stubUnlocker
	parser     *stubParser
	classifier *categorize.MockClassifier
	input      Input
	dataDir    string
}

func newFixture(t *testing.T, mods ...func(*Components)) *fixture {
	t.Helper()
	dir := t.TempDir()

	store, err := storage.NewSQLiteStorage(filepath.Join(dir, "financas.sqlite"), nil)
	require.NoError(t, err)
	require.NoError(t, store.Migrate(context.Background()))
	t.Cleanup(func() { _ = store.Close() })

	pdf := filepath.Join(dir, "fatura.pdf")
	require.NoError(t, os.WriteFile(pdf, []byte("%PDF-1.4"), 0o600))

	classifier := categorize.NewMockClassifier()
	cat, err := categorize.New(classifier, model.DefaultTaxonomy())
	require.NoError(t, err)

	f := &fixture{
		store:      store,
		unlocker:   &stubUnlocker{res: extract.UnlockResult{Hash: "feedface0123456789"}},
		parser:     &stubParser{raw: parsedJSON},
		classifier: classifier,
		input:      Input{Issuer: "nubank", FilePath: pdf},
		dataDir:    filepath.Join(dir, "data"),
	}

	c := Components{
		Unlocker:    f.unlocker,
		Extractor:   &stubExtractor{text: "\n\n===== PAGE 1/1 =====\nPADARIA REAL 25,50"},
		Parser:      f.parser,
		Categorizer: cat,
		Store:       store,
	}
	for _, mod := range mods {
		mod(&c)
	}

	f.pipeline, err = New(c, f.dataDir, time.Minute, nil)
	require.NoError(t, err)
	return f
}

func (f *fixture) counts(t *testing.T) (int, int) {
	t.Helper()
	statements, err := f.store.CountStatements(context.Background())
	require.NoError(t, err)
	items, err := f.store.CountItems(context.Background())
	require.NoError(t, err)
	return statements, items
}

func TestRun(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	res, err := f.pipeline.Run(ctx, f.input)
	require.NoError(t, err)

	assert.Equal(t, StateDone, res.State)
	assert.Equal(t, "feedface0123456789", res.Hash)
	for _, path := range []string{res.Artifacts.Text(), res.Artifacts.Parsed(), res.Artifacts.Normalized(), res.Artifacts.Categorized()} {
		assert.FileExists(t, path)
	}
	assert.Equal(t, filepath.Join(f.dataDir, "feedface0123456789.parsed.json"), res.Artifacts.Parsed())

	require.NotNil(t, res.Document)
	byDesc := make(map[string]model.StatementItem)
	for _, it := range res.Document.Items {
		byDesc[it.DescriptionRaw] = it
		require.NotNil(t, it.Category, it.DescriptionRaw)
	}
	assert.Equal(t, "groceries", *byDesc["PADARIA REAL"].Category)
	assert.Equal(t, "transport", *byDesc["UBER *TRIP"].Category)
	assert.Equal(t, model.KindPayment, byDesc["PAGAMENTO RECEBIDO"].Kind)
	assert.Equal(t, model.ItemTypeStatementFlow, byDesc["PAGAMENTO RECEBIDO"].ItemType)
	assert.Equal(t, model.KindFee, byDesc["IOF COMPRA INTERNACIONAL"].Kind)
	assert.Equal(t, model.ItemTypeTransaction, byDesc["PADARIA REAL"].ItemType)

	statements, items := f.counts(t)
	assert.Equal(t, 1, statements)
	assert.Equal(t, 4, items)

	assert.Contains(t, res.Summary, "Issuer: nubank")
	assert.Contains(t, res.Summary, "- groceries: BRL 25,50")

	src, err := f.store.GetSource(ctx, res.Upsert.SourceID)
	require.NoError(t, err)
	assert.Equal(t, model.SourceTypePDF, src.SourceType)
	assert.Equal(t, "feedface0123456789", src.ContentHash)
	assert.Equal(t, "fatura.pdf", src.Metadata["file_name"])
}

func TestRun_RerunIsIdempotent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	first, err := f.pipeline.Run(ctx, f.input)
	require.NoError(t, err)
	second, err := f.pipeline.Run(ctx, f.input)
	require.NoError(t, err)

	assert.Equal(t, first.Upsert.StatementID, second.Upsert.StatementID)
	assert.Equal(t, first.Upsert.SourceID, second.Upsert.SourceID)
	assert.True(t, second.Upsert.Replaced)

	statements, items := f.counts(t)
	assert.Equal(t, 1, statements)
	assert.Equal(t, 4, items)
}

func TestRun_VerifyOnly(t *testing.T) {
	f := newFixture(t)
	f.unlocker.res.Encrypted = true
	f.unlocker.res.Path = "/tmp/feedface0123456789.unlocked.pdf"
	f.input.VerifyOnly = true

	res, err := f.pipeline.Run(context.Background(), f.input)
	require.NoError(t, err)

	assert.Equal(t, StateDecrypted, res.State)
	assert.True(t, res.Encrypted)
	assert.Equal(t, "/tmp/feedface0123456789.unlocked.pdf", res.ReadablePath)
	assert.Zero(t, f.parser.calls)
	assert.NoFileExists(t, res.Artifacts.Text())

	statements, _ := f.counts(t)
	assert.Zero(t, statements)
}

func TestRun_StageFailures(t *testing.T) {
	tests := []struct {
		setup     func(*fixture)
		mod       func(*Components)
		wantErr   error
		name      string
		wantStage Stage
		wantCode  int
	}{
		{
			name:      "missing file",
			setup:     func(f *fixture) { f.input.FilePath = filepath.Join(f.dataDir, "nope.pdf") },
			wantStage: StageUnlock,
			wantCode:  ExitFileNotFound,
			wantErr:   common.ErrFileNotFound,
		},
		{
			name:      "password required",
			setup:     func(f *fixture) { f.unlocker.err = extract.ErrPasswordRequired },
			wantStage: StageUnlock,
			wantCode:  ExitUnlock,
			wantErr:   extract.ErrPasswordRequired,
		},
		{
			name: "extraction fails",
			mod: func(c *Components) {
				c.Extractor = &stubExtractor{err: extract.ErrNoText}
			},
			wantStage: StageExtract,
			wantCode:  ExitExtract,
			wantErr:   extract.ErrNoText,
		},
		{
			name:      "parser fails",
			setup:     func(f *fixture) { f.parser.err = common.ErrCollaboratorFailed },
			wantStage: StageParse,
			wantCode:  ExitParse,
			wantErr:   common.ErrCollaboratorFailed,
		},
		{
			name: "revalidation rejects unknown category",
			mod: func(c *Components) {
				c.Categorizer = categorizerFunc(func(_ context.Context, doc model.StatementDocument) (model.StatementDocument, error) {
					out := doc.Clone()
					out.Items[0].Category = model.StringPtr("crypto")
					return out, nil
				})
			},
			wantStage: StageRevalidate,
			wantCode:  ExitRevalidate,
		},
		{
			name:      "store fails",
			mod:       func(c *Components) { c.Store = failingStore{} },
			wantStage: StageStore,
			wantCode:  ExitStore,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var mods []func(*Components)
			if tt.mod != nil {
				mods = append(mods, tt.mod)
			}
			f := newFixture(t, mods...)
			if tt.setup != nil {
				tt.setup(f)
			}

			_, err := f.pipeline.Run(context.Background(), f.input)
			require.Error(t, err)

			var stageErr *StageError
			require.ErrorAs(t, err, &stageErr)
			assert.Equal(t, tt.wantStage, stageErr.Stage)
			assert.Equal(t, tt.wantCode, stageErr.ExitCode())
			assert.Equal(t, tt.wantCode, ExitCode(err))
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
			}

			statements, _ := f.counts(t)
			assert.Zero(t, statements)
		})
	}
}

func TestRun_InvalidParseOutput(t *testing.T) {
	f := newFixture(t)
	f.parser.raw = `{"statement": {"issuer": "nubank", "currency": "REAL", "total_minor": 1.5, "items": [{"direction": "up"}]}}`

	res, err := f.pipeline.Run(context.Background(), f.input)
	require.Error(t, err)

	var stageErr *StageError
	require.ErrorAs(t, err, &stageErr)
	assert.Equal(t, StageValidate, stageErr.Stage)
	assert.Equal(t, ExitValidate, stageErr.ExitCode())
	assert.Equal(t, res.Artifacts.Parsed(), stageErr.Artifact)
	assert.NotEmpty(t, stageErr.Violations)
	assert.Contains(t, err.Error(), "last good artifact")
	assert.Equal(t, StateParsed, res.State)
}

func TestRun_ShortClassifierAnswerPersistsNothing(t *testing.T) {
	f := newFixture(t)
	f.classifier.Respond = func(b categorize.Batch) ([]categorize.Result, error) {
		results := make([]categorize.Result, 0, len(b.Requests))
		for _, r := range b.Requests[:len(b.Requests)-1] {
			results = append(results, categorize.Result{Idx: r.Idx, Category: "other"})
		}
		return results, nil
	}

	res, err := f.pipeline.Run(context.Background(), f.input)
	require.Error(t, err)

	var stageErr *StageError
	require.ErrorAs(t, err, &stageErr)
	assert.Equal(t, StageCategorize, stageErr.Stage)
	assert.Equal(t, ExitCategorize, stageErr.ExitCode())
	assert.ErrorIs(t, err, categorize.ErrContractViolation)
	assert.Equal(t, res.Artifacts.Normalized(), stageErr.Artifact)
	assert.NoFileExists(t, res.Artifacts.Categorized())

	statements, items := f.counts(t)
	assert.Zero(t, statements)
	assert.Zero(t, items)
}

func TestResumeFromArtifacts(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.classifier.Respond = func(categorize.Batch) ([]categorize.Result, error) {
		return nil, common.ErrCollaboratorFailed
	}

	res, err := f.pipeline.Run(ctx, f.input)
	require.Error(t, err)
	assert.Equal(t, 1, f.parser.calls)

	f.classifier.Respond = nil
	_, err = f.pipeline.Categorize(ctx, res.Hash)
	require.NoError(t, err)
	doc, err := f.pipeline.Revalidate(ctx, res.Hash)
	require.NoError(t, err)
	_, err = f.pipeline.Store(ctx, "nubank", doc, storage.SourceDescriptor{SourceType: model.SourceTypePDF, ContentHash: res.Hash})
	require.NoError(t, err)

	assert.Equal(t, 1, f.parser.calls)
	statements, items := f.counts(t)
	assert.Equal(t, 1, statements)
	assert.Equal(t, 4, items)
}

func TestRun_StageTimeout(t *testing.T) {
	f := newFixture(t)
	f.parser.block = true
	f.pipeline.timeout = 20 * time.Millisecond

	_, err := f.pipeline.Run(context.Background(), f.input)
	require.Error(t, err)

	var stageErr *StageError
	require.ErrorAs(t, err, &stageErr)
	assert.Equal(t, StageParse, stageErr.Stage)
	assert.ErrorIs(t, err, common.ErrTimeout)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Equal(t, stageErr.Artifact, filepath.Join(f.dataDir, "feedface0123456789.txt"))
}

func TestRun_OFX(t *testing.T) {
	doc := &model.StatementDocument{
		Issuer:      "nubank",
		PeriodStart: model.StringPtr("2024-02-01"),
		PeriodEnd:   model.StringPtr("2024-02-29"),
		Currency:    "BRL",
		TotalMinor:  2550,
		Items: []model.StatementItem{{
			PostedAt:       model.StringPtr("2024-02-03"),
			DescriptionRaw: "PADARIA REAL",
			AmountMinor:    2550,
			Currency:       "BRL",
			Direction:      model.DirectionOutflow,
			Kind:           model.KindPurchase,
		}},
	}
	f := newFixture(t, func(c *Components) { c.OFX = &stubOFX{doc: doc} })

	ofxPath := filepath.Join(filepath.Dir(f.input.FilePath), "extrato.OFX")
	require.NoError(t, os.WriteFile(ofxPath, []byte("OFXHEADER:100"), 0o600))
	f.input.FilePath = ofxPath

	res, err := f.pipeline.Run(context.Background(), f.input)
	require.NoError(t, err)

	assert.Equal(t, StateDone, res.State)
	assert.Zero(t, f.unlocker.calls)
	assert.Zero(t, f.parser.calls)
	assert.FileExists(t, res.Artifacts.Parsed())
	assert.NoFileExists(t, res.Artifacts.Text())

	hash, err := extract.HashFile(ofxPath)
	require.NoError(t, err)
	assert.Equal(t, hash, res.Hash)

	src, err := f.store.GetSource(context.Background(), res.Upsert.SourceID)
	require.NoError(t, err)
	assert.Equal(t, model.SourceTypeOFX, src.SourceType)
}

func TestNew(t *testing.T) {
	cat, err := categorize.New(nil, model.DefaultTaxonomy())
	require.NoError(t, err)

	_, err = New(Components{Store: failingStore{}}, t.TempDir(), 0, nil)
	assert.ErrorIs(t, err, common.ErrMissingConfig)

	_, err = New(Components{Categorizer: cat}, t.TempDir(), 0, nil)
	assert.ErrorIs(t, err, common.ErrMissingConfig)

	_, err = New(Components{Categorizer: cat, Store: failingStore{}}, "", 0, nil)
	assert.ErrorIs(t, err, common.ErrMissingConfig)

	p, err := New(Components{Categorizer: cat, Store: failingStore{}}, t.TempDir(), 0, nil)
	require.NoError(t, err)
	assert.Equal(t, DefaultTimeout, p.timeout)
}

func TestIsOFX(t *testing.T) {
	assert.True(t, IsOFX("a.ofx"))
	assert.True(t, IsOFX("/x/b.QFX"))
	assert.False(t, IsOFX("fatura.pdf"))
	assert.False(t, IsOFX("ofx"))
}

func TestExitCode(t *testing.T) {
	assert.Equal(t, ExitOK, ExitCode(nil))
	assert.Equal(t, ExitUnknown, ExitCode(errors.New("boom")))
	assert.Equal(t, ExitFileNotFound, ExitCode(common.ErrFileNotFound))
	assert.Equal(t, ExitCategorize, (&StageError{Stage: StageNormalize, Err: errors.New("x")}).ExitCode())
}
