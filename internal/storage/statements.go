package storage

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/Veraticus/statement-copilot/internal/common"
	"github.com/Veraticus/statement-copilot/internal/model"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// SourceDescriptor identifies the file a document was produced from.
type SourceDescriptor struct {
	Metadata     map[string]string
	SourceType   model.SourceType
	FilePath     string
	ContentHash  string
	AccountLabel string
}

// UpsertResult reports the rows an upsert resolved to.
type UpsertResult struct {
	AccountID    string
	SourceID     string
	StatementID  string
	ItemsWritten int
	// Replaced is true when an existing statement was refreshed.
	Replaced bool
}

// UpsertStatement stores doc for issuer in one transaction. Re-running it with
// the same source, or with a corrected document for the same period, refreshes
// the existing statement and replaces its whole item set.
func (s *SQLiteStorage) UpsertStatement(ctx context.Context, doc *model.StatementDocument, issuer string, src SourceDescriptor) (UpsertResult, error) {
	if err := validateContext(ctx); err != nil {
		return UpsertResult{}, err
	}
	if err := validateString(issuer, "issuer"); err != nil {
		return UpsertResult{}, err
	}
	if err := validateDocument(doc); err != nil {
		return UpsertResult{}, err
	}

	periodStart, periodEnd, err := DerivePeriod(doc)
	if err != nil {
		return UpsertResult{}, err
	}

	if src.ContentHash == "" {
		hash, hashErr := DocumentHash(doc)
		if hashErr != nil {
			return UpsertResult{}, hashErr
		}
		src.ContentHash = hash
	}
	if src.SourceType == "" {
		src.SourceType = model.SourceTypeJSON
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return UpsertResult{}, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	now := time.Now().UTC()
	result := UpsertResult{AccountID: model.AccountID(issuer)}

	if err := s.ensureAccountTx(ctx, tx, result.AccountID, issuer, src.AccountLabel, doc.Currency, now); err != nil {
		return UpsertResult{}, err
	}

	result.SourceID, err = s.resolveSourceTx(ctx, tx, result.AccountID, src, now)
	if err != nil {
		return UpsertResult{}, err
	}

	header := model.Statement{
		AccountID:   result.AccountID,
		PeriodStart: periodStart,
		PeriodEnd:   periodEnd,
		DueDate:     doc.DueDate,
		TotalMinor:  doc.TotalMinor,
		Currency:    doc.Currency,
		SourceID:    result.SourceID,
		CreatedAt:   now,
	}
	result.StatementID, result.Replaced, err = s.resolveStatementTx(ctx, tx, header)
	if err != nil {
		return UpsertResult{}, err
	}

	result.ItemsWritten, err = s.replaceItemsTx(ctx, tx, result.StatementID, issuer, doc, now)
	if err != nil {
		return UpsertResult{}, err
	}

	if err := tx.Commit(); err != nil {
		return UpsertResult{}, fmt.Errorf("failed to commit statement: %w", err)
	}

	s.logger.Info("stored statement",
		"account_id", result.AccountID,
		"statement_id", result.StatementID,
		"source_id", result.SourceID,
		"items", result.ItemsWritten,
		"replaced", result.Replaced)

	return result, nil
}

func (s *SQLiteStorage) ensureAccountTx(ctx context.Context, tx *sql.Tx, accountID, issuer, label, currency string, now time.Time) error {
	if label == "" {
		label = issuer
	}
	if currency == "" {
		currency = "BRL"
	}
	_, err := tx.ExecContext(ctx, `
		INSERT OR IGNORE INTO accounts (id, issuer, label, home_currency, created_at)
		VALUES (?, ?, ?, ?, ?)
	`, accountID, issuer, label, currency, now)
	if err != nil {
		return fmt.Errorf("failed to upsert account: %w", err)
	}
	return nil
}

func (s *SQLiteStorage) resolveSourceTx(ctx context.Context, tx *sql.Tx, accountID string, src SourceDescriptor, now time.Time) (string, error) {
	id, err := findSource(ctx, tx, accountID, src.ContentHash)
	if err == nil {
		return id, nil
	}
	if !errors.Is(err, common.ErrNotFound) {
		return "", err
	}

	var metadata sql.NullString
	if len(src.Metadata) > 0 {
		raw, marshalErr := json.Marshal(src.Metadata)
		if marshalErr != nil {
			return "", fmt.Errorf("failed to marshal source metadata: %w", marshalErr)
		}
		metadata = sql.NullString{String: string(raw), Valid: true}
	}

	id = uuid.NewString()
	_, err = tx.ExecContext(ctx, `
		INSERT INTO sources (id, account_id, source_type, file_path, content_hash, imported_at, metadata_json)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, id, accountID, string(src.SourceType), src.FilePath, src.ContentHash, now, metadata)
	if err != nil {
		return "", fmt.Errorf("failed to insert source: %w", err)
	}
	return id, nil
}

func findSource(ctx context.Context, q rowQuerier, accountID, contentHash string) (string, error) {
	var id string
	err := q.QueryRowContext(ctx,
		`SELECT id FROM sources WHERE account_id = ? AND content_hash = ?`,
		accountID, contentHash).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return "", common.ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("failed to query source: %w", err)
	}
	return id, nil
}

// resolveStatementTx finds the statement by source first, then by period, and
// refreshes its header; otherwise it inserts a new one. The lookups and the
// insert share one BEGIN IMMEDIATE transaction, so no other writer can add the
// row in between.
func (s *SQLiteStorage) resolveStatementTx(ctx context.Context, tx *sql.Tx, header model.Statement) (string, bool, error) {
	id, err := findStatementID(ctx, tx,
		`SELECT id FROM statements WHERE source_id = ? ORDER BY created_at DESC LIMIT 1`,
		header.SourceID)
	if errors.Is(err, common.ErrNotFound) {
		id, err = findStatementID(ctx, tx,
			`SELECT id FROM statements WHERE account_id = ? AND period_start = ? AND period_end = ?`,
			header.AccountID, header.PeriodStart, header.PeriodEnd)
	}

	switch {
	case err == nil:
		if updateErr := updateStatementTx(ctx, tx, id, header); updateErr != nil {
			return "", false, updateErr
		}
		return id, true, nil
	case !errors.Is(err, common.ErrNotFound):
		return "", false, err
	}

	id = uuid.NewString()
	_, err = tx.ExecContext(ctx, `
		INSERT INTO statements (id, account_id, period_start, period_end, due_date, total_minor, currency, source_id, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, id, header.AccountID, header.PeriodStart, header.PeriodEnd, nullString(header.DueDate),
		header.TotalMinor, header.Currency, header.SourceID, header.CreatedAt)
	if err != nil {
		return "", false, fmt.Errorf("failed to insert statement: %w", err)
	}
	return id, false, nil
}

func findStatementID(ctx context.Context, q rowQuerier, query string, args ...any) (string, error) {
	var id string
	err := q.QueryRowContext(ctx, query, args...).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return "", common.ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("failed to query statement: %w", err)
	}
	return id, nil
}

func updateStatementTx(ctx context.Context, tx *sql.Tx, id string, header model.Statement) error {
	_, err := tx.ExecContext(ctx, `
		UPDATE statements
		SET period_start = ?, period_end = ?, due_date = ?, total_minor = ?, currency = ?, source_id = ?
		WHERE id = ?
	`, header.PeriodStart, header.PeriodEnd, nullString(header.DueDate),
		header.TotalMinor, header.Currency, header.SourceID, id)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("%w: period %s..%s already belongs to another statement",
				common.ErrDuplicateEntry, header.PeriodStart, header.PeriodEnd)
		}
		return fmt.Errorf("failed to update statement %s: %w", id, err)
	}
	return nil
}

func (s *SQLiteStorage) replaceItemsTx(ctx context.Context, tx *sql.Tx, statementID, issuer string, doc *model.StatementDocument, now time.Time) (int, error) {
	if _, err := tx.ExecContext(ctx, `DELETE FROM statement_items WHERE statement_id = ?`, statementID); err != nil {
		return 0, fmt.Errorf("failed to delete existing items: %w", err)
	}

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO statement_items (
			id, statement_id, posted_at, description_raw, merchant_norm, amount_minor,
			currency, direction, kind, item_type, installment_n, installment_total,
			category, orig_amount_minor, orig_currency, fx_rate, fingerprint, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return 0, fmt.Errorf("failed to prepare item insert: %w", err)
	}
	defer func() { _ = stmt.Close() }()

	for i, item := range doc.Items {
		if item.Currency == "" {
			item.Currency = doc.Currency
		}

		var fxRate sql.NullString
		if item.FxRate != nil {
			fxRate = sql.NullString{String: item.FxRate.String(), Valid: true}
		}

		_, err := stmt.ExecContext(ctx,
			uuid.NewString(),
			statementID,
			nullString(item.PostedAt),
			item.DescriptionRaw,
			nullString(item.MerchantNorm),
			item.AmountMinor,
			item.Currency,
			string(item.Direction),
			string(item.Kind),
			string(item.ItemType),
			nullInt(item.InstallmentN),
			nullInt(item.InstallmentTotal),
			nullString(item.Category),
			nullInt64(item.OrigAmountMinor),
			nullString(item.OrigCurrency),
			fxRate,
			model.Fingerprint(issuer, doc.DueDate, item),
			now,
		)
		if err != nil {
			return 0, fmt.Errorf("failed to insert item[%d] %q: %w", i, item.DescriptionRaw, err)
		}
	}

	return len(doc.Items), nil
}

// DerivePeriod returns the statement period, filling missing bounds from the
// item posted dates and, failing that, from the due date's month.
func DerivePeriod(doc *model.StatementDocument) (string, string, error) {
	start, end := deref(doc.PeriodStart), deref(doc.PeriodEnd)
	if start != "" && end != "" {
		return start, end, nil
	}

	var minPosted, maxPosted string
	for _, item := range doc.Items {
		posted := deref(item.PostedAt)
		if posted == "" {
			continue
		}
		if minPosted == "" || posted < minPosted {
			minPosted = posted
		}
		if posted > maxPosted {
			maxPosted = posted
		}
	}

	if minPosted == "" {
		if due := deref(doc.DueDate); due != "" {
			dueTime, err := time.Parse(time.DateOnly, due)
			if err != nil {
				return "", "", fmt.Errorf("%w: due date %q: %v", ErrMissingPeriod, due, err)
			}
			first := time.Date(dueTime.Year(), dueTime.Month(), 1, 0, 0, 0, 0, time.UTC)
			minPosted = first.Format(time.DateOnly)
			maxPosted = first.AddDate(0, 1, -1).Format(time.DateOnly)
		}
	}

	if start == "" {
		start = minPosted
	}
	if end == "" {
		end = maxPosted
	}
	if start == "" || end == "" {
		return "", "", ErrMissingPeriod
	}
	return start, end, nil
}

// DocumentHash identifies a document that has no source file.
func DocumentHash(doc *model.StatementDocument) (string, error) {
	raw, err := json.Marshal(model.Envelope{Statement: *doc})
	if err != nil {
		return "", fmt.Errorf("failed to hash document: %w", err)
	}
	sum := sha256.Sum256(raw)
	return hex.EncodeToString(sum[:]), nil
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return strings.TrimSpace(*s)
}

const statementColumns = `id, account_id, period_start, period_end, due_date, total_minor, currency, source_id, created_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanStatement(row rowScanner) (*model.Statement, error) {
	var st model.Statement
	var dueDate, sourceID sql.NullString
	if err := row.Scan(&st.ID, &st.AccountID, &st.PeriodStart, &st.PeriodEnd, &dueDate,
		&st.TotalMinor, &st.Currency, &sourceID, &st.CreatedAt); err != nil {
		return nil, err
	}
	st.DueDate = stringPtr(dueDate)
	st.SourceID = sourceID.String
	return &st, nil
}

// GetStatement returns the statement header with the given id.
func (s *SQLiteStorage) GetStatement(ctx context.Context, id string) (*model.Statement, error) {
	if err := validateString(id, "id"); err != nil {
		return nil, err
	}
	st, err := scanStatement(s.db.QueryRowContext(ctx,
		`SELECT `+statementColumns+` FROM statements WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, common.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get statement: %w", err)
	}
	return st, nil
}

// ListStatements returns statements newest period first. An empty accountID lists all.
func (s *SQLiteStorage) ListStatements(ctx context.Context, accountID string) ([]model.Statement, error) {
	query := `SELECT ` + statementColumns + ` FROM statements`
	var args []any
	if accountID != "" {
		query += ` WHERE account_id = ?`
		args = append(args, accountID)
	}
	query += ` ORDER BY period_end DESC, account_id`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list statements: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var statements []model.Statement
	for rows.Next() {
		st, err := scanStatement(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan statement: %w", err)
		}
		statements = append(statements, *st)
	}
	return statements, rows.Err()
}

// GetStatementItems returns the stored items of a statement in insertion order.
func (s *SQLiteStorage) GetStatementItems(ctx context.Context, statementID string) ([]model.StoredItem, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, statement_id, posted_at, description_raw, merchant_norm, amount_minor,
			currency, direction, kind, item_type, installment_n, installment_total,
			category, orig_amount_minor, orig_currency, fx_rate, fingerprint, created_at
		FROM statement_items
		WHERE statement_id = ?
		ORDER BY rowid
	`, statementID)
	if err != nil {
		return nil, fmt.Errorf("failed to query items: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var items []model.StoredItem
	for rows.Next() {
		var it model.StoredItem
		var postedAt, merchant, category, origCurrency, fxRate sql.NullString
		var installmentN, installmentTotal, origAmount sql.NullInt64
		var direction, kind, itemType string

		if err := rows.Scan(&it.ID, &it.StatementID, &postedAt, &it.DescriptionRaw, &merchant,
			&it.AmountMinor, &it.Currency, &direction, &kind, &itemType, &installmentN,
			&installmentTotal, &category, &origAmount, &origCurrency, &fxRate,
			&it.Fingerprint, &it.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan item: %w", err)
		}

		it.PostedAt = stringPtr(postedAt)
		it.MerchantNorm = stringPtr(merchant)
		it.Category = stringPtr(category)
		it.OrigCurrency = stringPtr(origCurrency)
		it.InstallmentN = intPtr(installmentN)
		it.InstallmentTotal = intPtr(installmentTotal)
		it.OrigAmountMinor = int64Ptr(origAmount)
		it.Direction = model.Direction(direction)
		it.Kind = model.Kind(kind)
		it.ItemType = model.ItemType(itemType)
		if fxRate.Valid {
			rate, err := decimal.NewFromString(fxRate.String)
			if err != nil {
				return nil, fmt.Errorf("item %s has invalid fx_rate %q: %w", it.ID, fxRate.String, err)
			}
			it.FxRate = &rate
		}

		items = append(items, it)
	}
	return items, rows.Err()
}

// LoadDocument rebuilds the statement document for a stored statement.
func (s *SQLiteStorage) LoadDocument(ctx context.Context, statementID string) (*model.StatementDocument, error) {
	st, err := s.GetStatement(ctx, statementID)
	if err != nil {
		return nil, err
	}

	var issuer string
	if err := s.db.QueryRowContext(ctx,
		`SELECT issuer FROM accounts WHERE id = ?`, st.AccountID).Scan(&issuer); err != nil {
		return nil, fmt.Errorf("failed to get account %s: %w", st.AccountID, err)
	}

	stored, err := s.GetStatementItems(ctx, statementID)
	if err != nil {
		return nil, err
	}

	doc := &model.StatementDocument{
		Issuer:      issuer,
		PeriodStart: model.StringPtr(st.PeriodStart),
		PeriodEnd:   model.StringPtr(st.PeriodEnd),
		DueDate:     st.DueDate,
		TotalMinor:  st.TotalMinor,
		Currency:    st.Currency,
		Items:       make([]model.StatementItem, 0, len(stored)),
	}
	for _, it := range stored {
		doc.Items = append(doc.Items, it.StatementItem)
	}
	return doc, nil
}

// GetAccount returns the account with the given id.
func (s *SQLiteStorage) GetAccount(ctx context.Context, id string) (*model.Account, error) {
	var acc model.Account
	var label sql.NullString
	err := s.db.QueryRowContext(ctx,
		`SELECT id, issuer, label, home_currency, created_at FROM accounts WHERE id = ?`, id).
		Scan(&acc.ID, &acc.Issuer, &label, &acc.HomeCurrency, &acc.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, common.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get account: %w", err)
	}
	acc.Label = label.String
	return &acc, nil
}

// GetSource returns the source with the given id.
func (s *SQLiteStorage) GetSource(ctx context.Context, id string) (*model.Source, error) {
	var src model.Source
	var filePath, metadata sql.NullString
	var sourceType string
	err := s.db.QueryRowContext(ctx, `
		SELECT id, account_id, source_type, file_path, content_hash, imported_at, metadata_json
		FROM sources WHERE id = ?
	`, id).Scan(&src.ID, &src.AccountID, &sourceType, &filePath, &src.ContentHash, &src.ImportedAt, &metadata)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, common.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get source: %w", err)
	}
	src.SourceType = model.SourceType(sourceType)
	src.FilePath = filePath.String
	if metadata.Valid {
		if err := json.Unmarshal([]byte(metadata.String), &src.Metadata); err != nil {
			return nil, fmt.Errorf("source %s has invalid metadata: %w", id, err)
		}
	}
	return &src, nil
}

// CountStatements returns the number of stored statements.
func (s *SQLiteStorage) CountStatements(ctx context.Context) (int, error) {
	return s.count(ctx, `SELECT COUNT(*) FROM statements`)
}

// CountSources returns the number of stored sources.
func (s *SQLiteStorage) CountSources(ctx context.Context) (int, error) {
	return s.count(ctx, `SELECT COUNT(*) FROM sources`)
}

// CountItems returns the number of stored statement items.
func (s *SQLiteStorage) CountItems(ctx context.Context) (int, error) {
	return s.count(ctx, `SELECT COUNT(*) FROM statement_items`)
}

func (s *SQLiteStorage) count(ctx context.Context, query string) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, query).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count: %w", err)
	}
	return n, nil
}
