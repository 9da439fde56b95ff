package cli

import (
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/schollz/progressbar/v3"
)

// BatchProgress shows categorization progress as a terminal bar. It satisfies
// the categorizer's progress reporter.
type BatchProgress struct {
	bar *progressbar.ProgressBar
}

// NewBatchProgress creates a bar for total items.
func NewBatchProgress(writer io.Writer, total int, description string) *BatchProgress {
	if writer == nil {
		writer = os.Stderr
	}
	p := &BatchProgress{}
	p.bar = progressbar.NewOptions(total,
		progressbar.OptionSetWriter(writer),
		progressbar.OptionEnableColorCodes(true),
		progressbar.OptionShowCount(),
		progressbar.OptionShowElapsedTimeOnFinish(),
		progressbar.OptionSetWidth(40),
		progressbar.OptionSetDescription("[cyan][bold]"+description+"[reset]"),
		progressbar.OptionSetTheme(progressbar.Theme{
			Saucer:        "[green]=[reset]",
			SaucerHead:    "[green]>[reset]",
			SaucerPadding: " ",
			BarStart:      "[",
			BarEnd:        "]",
		}),
		progressbar.OptionOnCompletion(func() {
			if _, err := fmt.Fprintln(writer); err != nil {
				slog.Warn("Failed to write newline after progress bar", "error", err)
			}
		}),
	)
	return p
}

// Add advances the bar by n items.
func (p *BatchProgress) Add(n int) error {
	return p.bar.Add(n)
}

// Finish fills the bar.
func (p *BatchProgress) Finish() error {
	return p.bar.Finish()
}

// Current returns how many items have been reported.
func (p *BatchProgress) Current() int64 {
	return p.bar.State().CurrentNum
}
