// Package categorize assigns spend categories to statement items, resolving
// what it can locally and batching the rest to an external classifier.
package categorize

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/Veraticus/statement-copilot/internal/common"
	"github.com/Veraticus/statement-copilot/internal/model"
	"golang.org/x/sync/errgroup"
)

// DefaultBatchSize bounds the payload of one classification call.
const DefaultBatchSize = 30

// ErrContractViolation means the classifier answered with the wrong shape.
var ErrContractViolation = errors.New("classifier contract violation")

// Request carries only the fields needed to classify one item.
type Request struct {
	PostedAt    *string         `json:"posted_at"`
	Description string          `json:"description"`
	Kind        model.Kind      `json:"kind"`
	Direction   model.Direction `json:"direction"`
	Currency    string          `json:"currency"`
	Idx         int             `json:"idx"`
	AmountMinor int64           `json:"amount_minor"`
}

// Result is the classifier's answer for one request.
type Result struct {
	Category string `json:"category"`
	Idx      int    `json:"idx"`
}

// Batch is one classification call.
type Batch struct {
	Categories []string
	Requests   []Request
	Number     int
}

// Classifier is the external text-classification collaborator.
type Classifier interface {
	ClassifyBatch(ctx context.Context, batch Batch) ([]Result, error)
}

// ProgressReporter is told how many items each finished batch resolved.
type ProgressReporter interface {
	Add(n int) error
}

// Stats describes how a run resolved its items.
type Stats struct {
	Kept       int
	Heuristic  int
	Classified int
	Coerced    int
	Calls      int
}

// Categorizer assigns a category from a closed taxonomy to every item.
type Categorizer struct {
	classifier  Classifier
	heuristics  *Heuristics
	progress    ProgressReporter
	logger      *slog.Logger
	taxonomy    model.Taxonomy
	batchSize   int
	concurrency int
}

// Option configures a Categorizer.
type Option func(*Categorizer)

// WithBatchSize sets the number of items per batch.
func WithBatchSize(n int) Option {
	return func(c *Categorizer) {
		if n > 0 {
			c.batchSize = n
		}
	}
}

// WithConcurrency bounds how many classification calls run at once.
func WithConcurrency(n int) Option {
	return func(c *Categorizer) {
		if n > 0 {
			c.concurrency = n
		}
	}
}

// WithHeuristics replaces the default prefix matcher.
func WithHeuristics(h *Heuristics) Option {
	return func(c *Categorizer) {
		c.heuristics = h
	}
}

// WithProgress reports resolved items per batch.
func WithProgress(p ProgressReporter) Option {
	return func(c *Categorizer) {
		c.progress = p
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(c *Categorizer) {
		c.logger = l
	}
}

// New creates a categorizer. A nil classifier is allowed as long as every
// item is resolved locally; otherwise Categorize fails.
func New(classifier Classifier, taxonomy model.Taxonomy, opts ...Option) (*Categorizer, error) {
	c := &Categorizer{
		classifier:  classifier,
		taxonomy:    taxonomy,
		batchSize:   DefaultBatchSize,
		concurrency: 1,
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.heuristics == nil {
		h, err := NewDefaultHeuristics(taxonomy, nil)
		if err != nil {
			return nil, err
		}
		c.heuristics = h
	}
	c.logger = common.LoggerOrDefault(c.logger)
	return c, nil
}

type pendingBatch struct {
	results []Result
	batch   Batch
	offset  int
	size    int
}

// Categorize returns a copy of items with every category set to a taxonomy
// member. Items that already carry a valid category keep it. Categories are
// applied only after every batch succeeded: a single failing batch leaves
// the whole run without assignments.
func (c *Categorizer) Categorize(ctx context.Context, items []model.StatementItem) ([]model.StatementItem, error) {
	out, _, err := c.CategorizeWithStats(ctx, items)
	return out, err
}

// CategorizeWithStats is Categorize plus a breakdown of how items were resolved.
func (c *Categorizer) CategorizeWithStats(ctx context.Context, items []model.StatementItem) ([]model.StatementItem, Stats, error) {
	var stats Stats
	local := make([]string, len(items))
	var pending []*pendingBatch

	for offset, n := 0, 0; offset < len(items); offset, n = offset+c.batchSize, n+1 {
		end := offset + c.batchSize
		if end > len(items) {
			end = len(items)
		}

		pb := &pendingBatch{
			offset: offset,
			size:   end - offset,
			batch:  Batch{Number: n, Categories: c.taxonomy.Names()},
		}
		for i, it := range items[offset:end] {
			if it.Category != nil && c.taxonomy.Contains(*it.Category) {
				local[offset+i] = *it.Category
				stats.Kept++
				continue
			}
			if cat, ok := c.heuristics.Match(it.DescriptionRaw); ok {
				local[offset+i] = cat
				stats.Heuristic++
				continue
			}
			pb.batch.Requests = append(pb.batch.Requests, Request{
				Idx:         i,
				PostedAt:    it.PostedAt,
				Description: it.DescriptionRaw,
				Kind:        it.Kind,
				Direction:   it.Direction,
				AmountMinor: it.AmountMinor,
				Currency:    it.Currency,
			})
		}
		pending = append(pending, pb)
	}

	if err := c.dispatch(ctx, pending); err != nil {
		return nil, stats, err
	}

	out := make([]model.StatementItem, len(items))
	copy(out, items)
	for i := range out {
		if local[i] != "" {
			out[i].Category = model.StringPtr(local[i])
		}
	}
	for _, pb := range pending {
		if len(pb.batch.Requests) > 0 {
			stats.Calls++
		}
		for _, r := range pb.results {
			cat := c.taxonomy.Coerce(r.Category)
			if cat != r.Category {
				stats.Coerced++
				c.logger.Debug("coerced unknown category",
					"batch", pb.batch.Number,
					"idx", r.Idx,
					"category", r.Category)
			}
			out[pb.offset+r.Idx].Category = model.StringPtr(cat)
			stats.Classified++
		}
	}
	for i := range out {
		if out[i].Category == nil {
			out[i].Category = model.StringPtr(model.CategoryOther)
		}
	}

	c.logger.Info("categorized items",
		"items", len(items),
		"kept", stats.Kept,
		"heuristic", stats.Heuristic,
		"classified", stats.Classified,
		"coerced", stats.Coerced,
		"calls", stats.Calls)

	return out, stats, nil
}

func (c *Categorizer) dispatch(ctx context.Context, pending []*pendingBatch) error {
	if c.classifier == nil {
		for _, pb := range pending {
			if len(pb.batch.Requests) > 0 {
				return fmt.Errorf("batch %d: %d item(s) need a classifier but none is configured", pb.batch.Number, len(pb.batch.Requests))
			}
		}
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(c.concurrency)

	for _, pb := range pending {
		if len(pb.batch.Requests) == 0 {
			c.report(pb.size)
			continue
		}

		g.Go(func() error {
			results, err := c.classifier.ClassifyBatch(gctx, pb.batch)
			if err != nil {
				return fmt.Errorf("batch %d: %w", pb.batch.Number, err)
			}
			if err := checkContract(pb.batch, results); err != nil {
				return err
			}
			pb.results = results
			c.report(pb.size)
			return nil
		})
	}

	return g.Wait()
}

// checkContract requires one result per request, each naming a requested
// index exactly once.
func checkContract(b Batch, results []Result) error {
	if len(results) != len(b.Requests) {
		return fmt.Errorf("%w: batch %d: expected %d results, got %d",
			ErrContractViolation, b.Number, len(b.Requests), len(results))
	}

	want := make(map[int]bool, len(b.Requests))
	for _, r := range b.Requests {
		want[r.Idx] = false
	}
	for j, r := range results {
		seen, ok := want[r.Idx]
		if !ok {
			return fmt.Errorf("%w: batch %d: result %d names unrequested idx %d",
				ErrContractViolation, b.Number, j, r.Idx)
		}
		if seen {
			return fmt.Errorf("%w: batch %d: idx %d answered twice",
				ErrContractViolation, b.Number, r.Idx)
		}
		want[r.Idx] = true
	}
	return nil
}

func (c *Categorizer) report(n int) {
	if c.progress == nil {
		return
	}
	if err := c.progress.Add(n); err != nil {
		c.logger.Warn("Failed to update progress", "error", err)
	}
}

// CategorizeDocument returns a new document with categorized items.
func (c *Categorizer) CategorizeDocument(ctx context.Context, doc model.StatementDocument) (model.StatementDocument, error) {
	items, err := c.Categorize(ctx, doc.Items)
	if err != nil {
		return model.StatementDocument{}, err
	}
	out := doc.Clone()
	out.Items = items
	return out, nil
}
