package extract

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	"github.com/Veraticus/statement-copilot/internal/common"
)

// DefaultMaxPages keeps the parse prompt to the statement's summary pages.
const DefaultMaxPages = 3

// ErrNoText is returned when none of the extracted pages carry any text.
var ErrNoText = errors.New("no text extracted from PDF")

// TextExtractor pulls per-page text with pdftotext, counting pages with qpdf.
type TextExtractor struct {
	runner        Runner
	logger        *slog.Logger
	pdftotextPath string
	qpdfPath      string
	maxPages      int
}

// NewTextExtractor creates an extractor. maxPages <= 0 extracts every page.
func NewTextExtractor(pdftotextPath, qpdfPath string, maxPages int, runner Runner, logger *slog.Logger) *TextExtractor {
	if pdftotextPath == "" {
		pdftotextPath = "pdftotext"
	}
	if qpdfPath == "" {
		qpdfPath = "qpdf"
	}
	if runner == nil {
		runner = ExecRunner{}
	}
	return &TextExtractor{
		runner:        runner,
		logger:        common.LoggerOrDefault(logger),
		pdftotextPath: pdftotextPath,
		qpdfPath:      qpdfPath,
		maxPages:      maxPages,
	}
}

// PageMarker separates pages in extracted text.
func PageMarker(page, total int) string {
	return fmt.Sprintf("\n\n===== PAGE %d/%d =====\n", page, total)
}

// Extract returns the text of the first pages of a readable PDF, each page
// preceded by its PageMarker.
func (e *TextExtractor) Extract(ctx context.Context, pdfPath string) (string, error) {
	total, err := e.pageCount(ctx, pdfPath)
	if err != nil {
		return "", err
	}

	stop := total
	if e.maxPages > 0 && e.maxPages < total {
		stop = e.maxPages
	}

	var sb strings.Builder
	var chars int
	for page := 1; page <= stop; page++ {
		n := strconv.Itoa(page)
		res, err := e.runner.Run(ctx, e.pdftotextPath, "-layout", "-enc", "UTF-8", "-f", n, "-l", n, pdfPath, "-")
		if err != nil {
			return "", err
		}
		if res.ExitCode != 0 {
			return "", fmt.Errorf("pdftotext failed on page %d: %s", page, stderrText(res))
		}

		text := string(res.Stdout)
		chars += len(strings.TrimSpace(text))
		sb.WriteString(PageMarker(page, total))
		sb.WriteString(text)
	}

	if chars == 0 {
		return "", ErrNoText
	}

	e.logger.Debug("extracted PDF text",
		"pages", stop,
		"total_pages", total,
		"chars", sb.Len())

	return sb.String(), nil
}

func (e *TextExtractor) pageCount(ctx context.Context, pdfPath string) (int, error) {
	res, err := e.runner.Run(ctx, e.qpdfPath, "--show-npages", pdfPath)
	if err != nil {
		return 0, err
	}
	if res.ExitCode != 0 {
		return 0, fmt.Errorf("failed to count pages: %s", stderrText(res))
	}

	n, err := strconv.Atoi(strings.TrimSpace(string(res.Stdout)))
	if err != nil {
		return 0, fmt.Errorf("unexpected page count %q: %w", strings.TrimSpace(string(res.Stdout)), err)
	}
	if n <= 0 {
		return 0, ErrNoText
	}
	return n, nil
}
