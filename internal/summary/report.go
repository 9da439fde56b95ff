package summary

import (
	"fmt"
	"sort"
	"strings"

	"github.com/Veraticus/statement-copilot/internal/storage"
	"github.com/shopspring/decimal"
)

// DefaultTopCategories is how many categories a spend report lists before
// folding the remainder into "other".
const DefaultTopCategories = 8

const otherCategory = "other"

// SpendRow is one line of a spend report.
type SpendRow struct {
	Category   string
	TotalMinor int64
	Share      decimal.Decimal
}

// SpendReport is the monthly spend by category for one currency.
type SpendReport struct {
	Month      string
	Currency   string
	Rows       []SpendRow
	TotalMinor int64
}

// BuildSpendReports groups rows per currency, keeps the top categories and
// merges the rest into "other". Reports are ordered by currency code.
func BuildSpendReports(month string, rows []storage.CategorySpend, top int) []SpendReport {
	if top < 1 {
		top = 1
	}

	byCurrency := make(map[string][]storage.CategorySpend)
	for _, r := range rows {
		byCurrency[r.Currency] = append(byCurrency[r.Currency], r)
	}

	currencies := make([]string, 0, len(byCurrency))
	for c := range byCurrency {
		currencies = append(currencies, c)
	}
	sort.Strings(currencies)

	reports := make([]SpendReport, 0, len(currencies))
	for _, currency := range currencies {
		reports = append(reports, buildSpendReport(month, currency, byCurrency[currency], top))
	}
	return reports
}

func buildSpendReport(month, currency string, rows []storage.CategorySpend, top int) SpendReport {
	sort.SliceStable(rows, func(i, j int) bool {
		return rows[i].TotalMinor > rows[j].TotalMinor
	})

	report := SpendReport{Month: month, Currency: currency}
	var rest int64
	for i, r := range rows {
		report.TotalMinor += r.TotalMinor
		if i >= top {
			rest += r.TotalMinor
			continue
		}
		report.Rows = append(report.Rows, SpendRow{Category: r.Category, TotalMinor: r.TotalMinor})
	}

	if rest > 0 {
		merged := false
		for i := range report.Rows {
			if report.Rows[i].Category == otherCategory {
				report.Rows[i].TotalMinor += rest
				merged = true
				break
			}
		}
		if !merged {
			report.Rows = append(report.Rows, SpendRow{Category: otherCategory, TotalMinor: rest})
		}
		sort.SliceStable(report.Rows, func(i, j int) bool {
			return report.Rows[i].TotalMinor > report.Rows[j].TotalMinor
		})
	}

	if report.TotalMinor != 0 {
		total := decimal.NewFromInt(report.TotalMinor)
		for i := range report.Rows {
			report.Rows[i].Share = decimal.NewFromInt(report.Rows[i].TotalMinor).Div(total)
		}
	}
	return report
}

func (r SpendReport) String() string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Spend by category, %s (%s)\n", r.Month, r.Currency)

	width := 0
	for _, row := range r.Rows {
		width = max(width, len(row.Category))
	}
	for _, row := range r.Rows {
		fmt.Fprintf(&sb, "- %-*s  %s  (%s%%)\n", width, row.Category,
			FormatMoney(r.Currency, row.TotalMinor), row.Share.Shift(2).StringFixed(0))
	}
	fmt.Fprintf(&sb, "Total: %s", FormatMoney(r.Currency, r.TotalMinor))
	return sb.String()
}
