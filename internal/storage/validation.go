package storage

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/Veraticus/statement-copilot/internal/model"
)

// Validation errors.
var (
	ErrNilContext      = errors.New("context cannot be nil")
	ErrEmptyString     = errors.New("string parameter cannot be empty")
	ErrNilParameter    = errors.New("parameter cannot be nil")
	ErrInvalidMonth    = errors.New("month must be YYYY-MM")
	ErrMissingPeriod   = errors.New("cannot determine statement period: no period bounds, posted dates or due date")
	ErrInvalidDocument = errors.New("invalid statement document")
)

func validateContext(ctx context.Context) error {
	if ctx == nil {
		return ErrNilContext
	}
	return nil
}

func validateString(s string, paramName string) error {
	if strings.TrimSpace(s) == "" {
		return fmt.Errorf("%w: %s", ErrEmptyString, paramName)
	}
	return nil
}

// validateDocument checks what the store itself relies on. Enum membership is
// enforced by the table CHECK constraints.
func validateDocument(doc *model.StatementDocument) error {
	if doc == nil {
		return fmt.Errorf("%w: document", ErrNilParameter)
	}
	if len(strings.TrimSpace(doc.Currency)) != 3 {
		return fmt.Errorf("%w: currency %q", ErrInvalidDocument, doc.Currency)
	}
	return nil
}
