package main

import (
	"fmt"
	"log/slog"
	"strconv"

	"github.com/Veraticus/statement-copilot/internal/classification"
	"github.com/Veraticus/statement-copilot/internal/cli"
	"github.com/Veraticus/statement-copilot/internal/extract"
	"github.com/Veraticus/statement-copilot/internal/model"
	"github.com/Veraticus/statement-copilot/internal/pipeline"
	"github.com/Veraticus/statement-copilot/internal/schema"
	"github.com/Veraticus/statement-copilot/internal/storage"
	"github.com/Veraticus/statement-copilot/internal/summary"
	"github.com/spf13/cobra"
)

func validateCmd() *cobra.Command {
	var file string
	var withTaxonomy bool

	cmd := &cobra.Command{
		Use:   "validate",
		Short: "Validate a statement document",
		Long: `Check a statement JSON document and print its summary, or every violation
found. Exits with status 5 when the document is invalid.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			var opts []schema.Option
			if withTaxonomy {
				opts = append(opts, schema.WithTaxonomy(cfg.Taxonomy()))
			}

			doc, err := readStageDocument(cmd, file, pipeline.StageValidate, schema.NewValidator(opts...))
			if err != nil {
				return err
			}

			fmt.Fprintln(cmd.OutOrStdout(), cli.FormatSuccess("Document is valid"))
			fmt.Fprintln(cmd.OutOrStdout(), summary.Summarize(*doc))
			return nil
		},
	}

	cmd.Flags().StringVar(&file, "file", "", "statement JSON document")
	cmd.Flags().BoolVar(&withTaxonomy, "categories", false, "also require categories to be in the taxonomy")
	_ = cmd.MarkFlagRequired("file")

	return cmd
}

func normalizeCmd() *cobra.Command {
	var in, out string

	cmd := &cobra.Command{
		Use:   "normalize",
		Short: "Classify items as transactions or statement flows",
		RunE: func(cmd *cobra.Command, _ []string) error {
			doc, err := readStageDocument(cmd, in, pipeline.StageNormalize, schema.NewValidator())
			if err != nil {
				return err
			}

			normalized := classification.NewDefaultNormalizer().NormalizeAll(*doc)
			if err := pipeline.WriteDocument(out, normalized); err != nil {
				return &pipeline.StageError{Stage: pipeline.StageNormalize, Err: err, Artifact: in}
			}

			flows := 0
			for _, it := range normalized.Items {
				if !it.IsTransaction() {
					flows++
				}
			}
			fmt.Fprintln(cmd.OutOrStdout(), cli.FormatSuccess(fmt.Sprintf(
				"Normalized %d items (%d transactions, %d statement flows) into %s",
				len(normalized.Items), len(normalized.Items)-flows, flows, out)))
			return nil
		},
	}

	cmd.Flags().StringVar(&in, "in", "", "parsed statement document")
	cmd.Flags().StringVar(&out, "out", "", "where to write the normalized document")
	_ = cmd.MarkFlagRequired("in")
	_ = cmd.MarkFlagRequired("out")

	return cmd
}

func categorizeCmd() *cobra.Command {
	var in, out, issuer string
	var quiet bool

	cmd := &cobra.Command{
		Use:   "categorize",
		Short: "Assign spend categories to a normalized document",
		Long: `Categorize every item of a normalized document, using prefix heuristics first
and the language model for the rest, then revalidate the result against the
taxonomy. Nothing is written unless every batch succeeds.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			ctx := cmd.Context()

			doc, err := readStageDocument(cmd, in, pipeline.StageCategorize, schema.NewValidator())
			if err != nil {
				return err
			}
			if issuer != "" && doc.Issuer != issuer {
				slog.Warn("document issuer differs from --issuer", "document", doc.Issuer, "issuer", issuer)
				doc.Issuer = issuer
			}

			client, err := newLLMClient(ctx, cfg)
			if err != nil {
				return &pipeline.StageError{Stage: pipeline.StageCategorize, Err: err, Artifact: in}
			}
			if client != nil {
				defer client.Close()
			}

			ctx, cancel := contextWithTimeout(ctx, cfg.Pipeline.Timeout)
			defer cancel()

			categorizer := &barCategorizer{cfg: cfg, classifier: newClassifier(client), quiet: quiet}
			categorized, err := categorizer.CategorizeDocument(ctx, *doc)
			if err != nil {
				return &pipeline.StageError{Stage: pipeline.StageCategorize, Err: err, Artifact: in}
			}

			res, err := schema.NewValidator(schema.WithTaxonomy(cfg.Taxonomy())).ValidateDocument(categorized)
			if err == nil {
				err = res.Err()
			}
			if err != nil {
				stageErr := &pipeline.StageError{Stage: pipeline.StageRevalidate, Err: err, Artifact: in, Violations: res.Errors}
				printStageFailure(cmd, stageErr)
				return stageErr
			}

			if err := pipeline.WriteDocument(out, categorized); err != nil {
				return &pipeline.StageError{Stage: pipeline.StageCategorize, Err: err, Artifact: in}
			}
			fmt.Fprintln(cmd.OutOrStdout(), cli.FormatSuccess(fmt.Sprintf("Categorized %d items into %s", len(categorized.Items), out)))
			return nil
		},
	}

	cmd.Flags().StringVar(&in, "in", "", "normalized statement document")
	cmd.Flags().StringVar(&out, "out", "", "where to write the categorized document")
	cmd.Flags().StringVar(&issuer, "issuer", "", "override the document issuer")
	cmd.Flags().BoolVarP(&quiet, "quiet", "q", false, "hide the progress bar")
	_ = cmd.MarkFlagRequired("in")
	_ = cmd.MarkFlagRequired("out")

	return cmd
}

func storeCmd() *cobra.Command {
	var issuer, file, accountLabel string

	cmd := &cobra.Command{
		Use:   "store",
		Short: "Store a categorized document",
		Long: `Revalidate a categorized document and upsert it. Storing the same file again,
or a corrected document for the same period, replaces the statement's items
instead of adding to them.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			ctx := cmd.Context()

			doc, err := readStageDocument(cmd, file, pipeline.StageRevalidate, schema.NewValidator(schema.WithTaxonomy(cfg.Taxonomy())))
			if err != nil {
				return err
			}

			path, err := absPath(file)
			if err != nil {
				return err
			}
			hash, err := extract.HashFile(path)
			if err != nil {
				return &pipeline.StageError{Stage: pipeline.StageStore, Err: err}
			}

			store, err := openStorage(ctx, cfg)
			if err != nil {
				return &pipeline.StageError{Stage: pipeline.StageStore, Err: err}
			}
			defer func() { _ = store.Close() }()

			res, err := store.UpsertStatement(ctx, doc, issuer, storage.SourceDescriptor{
				SourceType:   model.SourceTypeJSON,
				FilePath:     path,
				ContentHash:  hash,
				AccountLabel: accountLabel,
			})
			if err != nil {
				return &pipeline.StageError{Stage: pipeline.StageStore, Err: err, Artifact: path}
			}

			out := cmd.OutOrStdout()
			fmt.Fprintln(out, cli.FormatSuccess("Statement stored"))
			fmt.Fprintln(out, cli.RenderKeyValues([]cli.KV{
				{Key: "Statement", Value: res.StatementID},
				{Key: "Items", Value: strconv.Itoa(res.ItemsWritten)},
				{Key: "Replaced", Value: strconv.FormatBool(res.Replaced)},
			}))
			return nil
		},
	}

	cmd.Flags().StringVar(&issuer, "issuer", "", "statement issuer, e.g. nubank")
	cmd.Flags().StringVar(&file, "file", "", "categorized statement document")
	cmd.Flags().StringVar(&accountLabel, "account-label", "", "display label for the issuer's account")
	_ = cmd.MarkFlagRequired("issuer")
	_ = cmd.MarkFlagRequired("file")

	return cmd
}

// readStageDocument reads path with v, reporting failures as a failure of stage.
func readStageDocument(cmd *cobra.Command, path string, stage pipeline.Stage, v *schema.Validator) (*model.StatementDocument, error) {
	doc, res, err := pipeline.ReadDocument(path, v)
	if err == nil {
		return doc, nil
	}

	stageErr := &pipeline.StageError{Stage: stage, Err: err, Violations: res.Errors}
	printStageFailure(cmd, stageErr)
	return nil, stageErr
}
