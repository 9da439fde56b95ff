package model

import "time"

// SourceType identifies what kind of file a source was imported from.
type SourceType string

// Source type constants.
const (
	SourceTypePDF  SourceType = "pdf"
	SourceTypeOFX  SourceType = "ofx"
	SourceTypeJSON SourceType = "json"
)

// Account is the ledger a statement belongs to. There is one account per issuer.
type Account struct {
	CreatedAt    time.Time
	ID           string
	Issuer       string
	Label        string
	HomeCurrency string
}

// AccountID returns the account identifier for an issuer.
func AccountID(issuer string) string {
	return "acc:" + issuer
}

// Source is a content-addressed imported file.
type Source struct {
	ImportedAt  time.Time
	Metadata    map[string]string
	ID          string
	AccountID   string
	SourceType  SourceType
	FilePath    string
	ContentHash string
}

// Statement is the persisted header of a statement for one period.
type Statement struct {
	CreatedAt   time.Time
	DueDate     *string
	ID          string
	AccountID   string
	PeriodStart string
	PeriodEnd   string
	Currency    string
	SourceID    string
	TotalMinor  int64
}

// StoredItem is a persisted statement item together with its row metadata.
type StoredItem struct {
	CreatedAt   time.Time
	ID          string
	StatementID string
	Fingerprint string
	StatementItem
}
