package storage

import (
	"context"
	"fmt"
	"time"
)

// UncategorizedLabel names spend that has no category in reports.
const UncategorizedLabel = "uncategorized"

// CategorySpend is the outflow purchase total of one category in one currency.
type CategorySpend struct {
	Category   string
	Currency   string
	TotalMinor int64
	Count      int
}

// MonthRange returns the [start, end) ISO dates of a YYYY-MM month.
func MonthRange(month string) (string, string, error) {
	t, err := time.Parse("2006-01", month)
	if err != nil || len(month) != 7 {
		return "", "", fmt.Errorf("%w: %q", ErrInvalidMonth, month)
	}
	return t.Format(time.DateOnly), t.AddDate(0, 1, 0).Format(time.DateOnly), nil
}

// SpendByCategory sums outflow purchases posted in month, largest first.
// An empty accountID covers every account.
func (s *SQLiteStorage) SpendByCategory(ctx context.Context, month, accountID string) ([]CategorySpend, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}
	start, end, err := MonthRange(month)
	if err != nil {
		return nil, err
	}

	query := `
		SELECT COALESCE(si.category, ?) AS category,
		       si.currency,
		       SUM(si.amount_minor) AS total_minor,
		       COUNT(*) AS n
		FROM statement_items si
		JOIN statements s ON s.id = si.statement_id
		WHERE si.kind = 'purchase'
		  AND si.direction = 'outflow'
		  AND si.posted_at >= ? AND si.posted_at < ?`
	args := []any{UncategorizedLabel, start, end}
	if accountID != "" {
		query += ` AND s.account_id = ?`
		args = append(args, accountID)
	}
	query += `
		GROUP BY 1, 2
		ORDER BY total_minor DESC, category`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query spend by category: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []CategorySpend
	for rows.Next() {
		var cs CategorySpend
		if err := rows.Scan(&cs.Category, &cs.Currency, &cs.TotalMinor, &cs.Count); err != nil {
			return nil, fmt.Errorf("failed to scan spend row: %w", err)
		}
		out = append(out, cs)
	}
	return out, rows.Err()
}
