package main

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strconv"

	"github.com/Veraticus/statement-copilot/internal/cli"
	"github.com/Veraticus/statement-copilot/internal/config"
	"github.com/Veraticus/statement-copilot/internal/extract"
	"github.com/Veraticus/statement-copilot/internal/llm"
	"github.com/Veraticus/statement-copilot/internal/ofx"
	"github.com/Veraticus/statement-copilot/internal/pipeline"
	"github.com/spf13/cobra"
)

type ingestOptions struct {
	issuer       string
	file         string
	password     string
	accountLabel string
	verifyOnly   bool
	quiet        bool
}

func ingestCmd() *cobra.Command {
	var opts ingestOptions

	cmd := &cobra.Command{
		Use:   "ingest",
		Short: "Run the full pipeline for one statement file",
		Long: `Unlock, extract, parse, validate, normalize, categorize, revalidate and store
one statement. PDF files go through qpdf, pdftotext and the language model;
OFX/QFX exports are converted directly.

Every stage leaves an artifact under <workspace>/data/statement-copilot so a
failed run can be resumed with the single-stage commands.

Exit codes: 0 ok, 2 file not found, 3 unlock, 4 extract, 5 validation,
6 storage, 7 parse, 8 categorization, 9 revalidation.`,
		Example: `  # Ingest a password protected PDF
  STATEMENT_PDF_PASSWORD=123 copilot ingest --issuer nubank --file fatura.pdf

  # Only check that the PDF opens
  copilot ingest --issuer itau --file fatura.pdf --verify-only

  # Ingest an OFX export
  copilot ingest --issuer inter --file extrato.ofx`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runIngest(cmd, opts)
		},
	}

	cmd.Flags().StringVar(&opts.issuer, "issuer", "", "statement issuer, e.g. nubank")
	cmd.Flags().StringVar(&opts.file, "file", "", "statement file (PDF, OFX or QFX)")
	cmd.Flags().StringVar(&opts.password, "password", "", "PDF password (default: $"+config.PasswordEnv+")")
	cmd.Flags().StringVar(&opts.accountLabel, "account-label", "", "display label for the issuer's account")
	cmd.Flags().BoolVar(&opts.verifyOnly, "verify-only", false, "stop after checking the file can be opened")
	cmd.Flags().BoolVarP(&opts.quiet, "quiet", "q", false, "hide the progress bar")
	_ = cmd.MarkFlagRequired("issuer")
	_ = cmd.MarkFlagRequired("file")

	return cmd
}

func runIngest(cmd *cobra.Command, opts ingestOptions) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if opts.password == "" {
		opts.password = os.Getenv(config.PasswordEnv)
	}

	// Nothing is opened or configured for a file that is not there.
	if err := pipeline.CheckInput(opts.file); err != nil {
		return err
	}

	interrupts := cli.NewInterruptHandler(cmd.ErrOrStderr())
	defer interrupts.Stop()
	ctx := interrupts.HandleInterrupts(cmd.Context(),
		fmt.Sprintf("Completed stages are kept in %s; re-run the same command to resume.", cfg.DataDir()))

	store, err := openStorage(ctx, cfg)
	if err != nil {
		return &pipeline.StageError{Stage: pipeline.StageStore, Err: err}
	}
	defer func() { _ = store.Close() }()

	var client *llm.LimitedClient
	if !opts.verifyOnly {
		client, err = newLLMClient(ctx, cfg)
		if err != nil {
			// The model is first needed to parse PDFs, or to categorize OFX items.
			stage := pipeline.StageParse
			if pipeline.IsOFX(opts.file) {
				stage = pipeline.StageCategorize
			}
			return &pipeline.StageError{Stage: stage, Err: err}
		}
	}
	if client != nil {
		defer client.Close()
	}

	logger := slog.Default()
	runner := extract.ExecRunner{}
	components := pipeline.Components{
		Unlocker:    extract.NewUnlocker(cfg.Extract.QPDFPath, cfg.TmpDir(), runner, logger),
		Extractor:   extract.NewTextExtractor(cfg.Extract.PDFToTextPath, cfg.Extract.QPDFPath, cfg.Pipeline.MaxPages, runner, logger),
		OFX:         ofx.NewParser(),
		Categorizer: &barCategorizer{cfg: cfg, classifier: newClassifier(client), quiet: opts.quiet},
		Store:       store,
		Taxonomy:    cfg.Taxonomy(),
	}
	if client != nil {
		components.Parser = llm.NewStatementParser(client, logger)
	}

	p, err := pipeline.New(components, cfg.DataDir(), cfg.Pipeline.Timeout, logger)
	if err != nil {
		return err
	}

	res, err := p.Run(ctx, pipeline.Input{
		Issuer:       opts.issuer,
		FilePath:     opts.file,
		Password:     opts.password,
		AccountLabel: opts.accountLabel,
		VerifyOnly:   opts.verifyOnly,
	})
	if err != nil {
		printStageFailure(cmd, err)
		return err
	}

	out := cmd.OutOrStdout()
	if opts.verifyOnly {
		fmt.Fprintln(out, cli.FormatSuccess("File opens"))
		fmt.Fprintln(out, cli.RenderKeyValues([]cli.KV{
			{Key: "File", Value: res.FilePath},
			{Key: "SHA-256", Value: res.Hash},
			{Key: "Encrypted", Value: strconv.FormatBool(res.Encrypted)},
			{Key: "Readable copy", Value: res.ReadablePath},
		}))
		return nil
	}

	fmt.Fprintln(out, cli.FormatTitle("Statement stored"))
	fmt.Fprintln(out, cli.RenderKeyValues([]cli.KV{
		{Key: "Statement", Value: res.Upsert.StatementID},
		{Key: "Account", Value: res.Upsert.AccountID},
		{Key: "Source", Value: res.Upsert.SourceID},
		{Key: "Items", Value: strconv.Itoa(res.Upsert.ItemsWritten)},
		{Key: "Replaced", Value: strconv.FormatBool(res.Upsert.Replaced)},
	}))
	fmt.Fprintln(out)
	fmt.Fprintln(out, cli.RenderBox("Summary", res.Summary))
	return nil
}

// printStageFailure lists validation problems and where to resume from.
func printStageFailure(cmd *cobra.Command, err error) {
	var stageErr *pipeline.StageError
	if !errors.As(err, &stageErr) {
		return
	}
	w := cmd.ErrOrStderr()
	if len(stageErr.Violations) > 0 {
		messages := make([]string, len(stageErr.Violations))
		for i, v := range stageErr.Violations {
			messages[i] = v.String()
		}
		fmt.Fprintln(w, cli.FormatWarning(fmt.Sprintf("%d validation problem(s):", len(messages))))
		fmt.Fprintln(w, cli.FormatViolations(messages, 20))
	}
	if stageErr.Artifact != "" {
		fmt.Fprintln(w, cli.FormatInfo("Last good artifact: "+stageErr.Artifact))
	}
}
