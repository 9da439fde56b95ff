package pipeline

import (
	"errors"
	"fmt"
	"strings"

	"github.com/Veraticus/statement-copilot/internal/common"
	"github.com/Veraticus/statement-copilot/internal/schema"
)

// Stage names a pipeline step.
type Stage string

// Pipeline stages in execution order.
const (
	StageUnlock     Stage = "unlock"
	StageExtract    Stage = "extract"
	StageParse      Stage = "parse"
	StageValidate   Stage = "validate"
	StageNormalize  Stage = "normalize"
	StageCategorize Stage = "categorize"
	StageRevalidate Stage = "revalidate"
	StageStore      Stage = "store"
)

// Process exit codes.
const (
	ExitOK           = 0
	ExitFileNotFound = 2
	ExitUnlock       = 3
	ExitExtract      = 4
	ExitValidate     = 5
	ExitStore        = 6
	ExitParse        = 7
	ExitCategorize   = 8
	ExitRevalidate   = 9
	ExitUnknown      = 1
)

// StageError reports which stage failed and where its last good input lives.
type StageError struct {
	Err        error
	Stage      Stage
	Artifact   string
	Violations []schema.Violation
}

func (e *StageError) Error() string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "%s failed: %v", e.Stage, e.Err)
	if e.Artifact != "" {
		fmt.Fprintf(&sb, " (last good artifact: %s)", e.Artifact)
	}
	return sb.String()
}

func (e *StageError) Unwrap() error {
	return e.Err
}

// ExitCode maps the failure to the CLI exit status.
func (e *StageError) ExitCode() int {
	if errors.Is(e.Err, common.ErrFileNotFound) {
		return ExitFileNotFound
	}
	switch e.Stage {
	case StageUnlock:
		return ExitUnlock
	case StageExtract:
		return ExitExtract
	case StageParse:
		return ExitParse
	case StageValidate:
		return ExitValidate
	case StageNormalize, StageCategorize:
		return ExitCategorize
	case StageRevalidate:
		return ExitRevalidate
	case StageStore:
		return ExitStore
	}
	return ExitUnknown
}

// ExitCode returns the exit status for any error returned by the pipeline.
func ExitCode(err error) int {
	if err == nil {
		return ExitOK
	}
	var stageErr *StageError
	if errors.As(err, &stageErr) {
		return stageErr.ExitCode()
	}
	if errors.Is(err, common.ErrFileNotFound) {
		return ExitFileNotFound
	}
	return ExitUnknown
}
