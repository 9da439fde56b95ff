// Package summary renders plain-text rollups of statements and spend reports.
package summary

import (
	"fmt"
	"sort"
	"strings"

	"github.com/Veraticus/statement-copilot/internal/model"
)

// Rollup limits.
const (
	TopCategories = 6
	TopExpenses   = 5
	TopFlows      = 5
)

const (
	uncategorized = "uncategorized"
	missing       = "-"
)

// CategoryTotal is the outflow transaction spend of one category.
type CategoryTotal struct {
	Category   string
	TotalMinor int64
}

// Rollup is the structured form of a statement summary.
type Rollup struct {
	Issuer           string
	DueDate          string
	Currency         string
	Categories       []CategoryTotal
	TopExpenses      []model.StatementItem
	TopFlows         []model.StatementItem
	TotalMinor       int64
	TransactionCount int
	FlowCount        int
}

// Build computes the rollup of doc. Items without an item type count as transactions.
func Build(doc model.StatementDocument) Rollup {
	r := Rollup{
		Issuer:     doc.Issuer,
		DueDate:    missing,
		Currency:   doc.Currency,
		TotalMinor: doc.TotalMinor,
	}
	if doc.DueDate != nil && *doc.DueDate != "" {
		r.DueDate = *doc.DueDate
	}

	var expenses, flows []model.StatementItem
	totals := make(map[string]int64)
	var order []string

	for _, it := range doc.Items {
		if !it.IsTransaction() {
			r.FlowCount++
			flows = append(flows, it)
			continue
		}
		r.TransactionCount++
		if it.Direction != model.DirectionOutflow {
			continue
		}
		expenses = append(expenses, it)

		cat := it.CategoryOr(uncategorized)
		if _, seen := totals[cat]; !seen {
			order = append(order, cat)
		}
		totals[cat] += it.AmountMinor
	}

	for _, cat := range order {
		r.Categories = append(r.Categories, CategoryTotal{Category: cat, TotalMinor: totals[cat]})
	}
	sort.SliceStable(r.Categories, func(i, j int) bool {
		return r.Categories[i].TotalMinor > r.Categories[j].TotalMinor
	})
	r.Categories = head(r.Categories, TopCategories)

	sort.SliceStable(expenses, func(i, j int) bool {
		return expenses[i].AmountMinor > expenses[j].AmountMinor
	})
	r.TopExpenses = head(expenses, TopExpenses)

	sort.SliceStable(flows, func(i, j int) bool {
		return abs(flows[i].AmountMinor) > abs(flows[j].AmountMinor)
	})
	r.TopFlows = head(flows, TopFlows)

	return r
}

// Summarize renders the plain-text summary of doc.
func Summarize(doc model.StatementDocument) string {
	return Build(doc).String()
}

func (r Rollup) String() string {
	var lines []string
	lines = append(lines,
		"Issuer: "+r.Issuer,
		"Due date: "+r.DueDate,
		fmt.Sprintf("Total: %s %s", r.Currency, FormatMinor(r.TotalMinor)),
		"",
	)

	if len(r.Categories) > 0 {
		lines = append(lines, "Top categories:")
		for _, c := range r.Categories {
			lines = append(lines, fmt.Sprintf("- %s: %s %s", c.Category, r.Currency, FormatMinor(c.TotalMinor)))
		}
		lines = append(lines, "")
	}

	lines = append(lines, "Top expenses (transactions):")
	for _, it := range r.TopExpenses {
		lines = append(lines, fmt.Sprintf("- %s | %s | %s | %s %s",
			orMissing(it.PostedAt), it.DescriptionRaw, it.CategoryOr(uncategorized),
			it.Currency, FormatMinor(it.AmountMinor)))
	}

	if len(r.TopFlows) > 0 {
		lines = append(lines, "", "Statement flows (top 5 by absolute value):")
		for _, it := range r.TopFlows {
			lines = append(lines, fmt.Sprintf("- %s | %s | %s | %s | %s %s",
				orMissing(it.PostedAt), it.DescriptionRaw, it.Kind, it.Direction,
				it.Currency, FormatMinor(it.AmountMinor)))
		}
	}

	return strings.Join(lines, "\n")
}

func orMissing(s *string) string {
	if s == nil || *s == "" {
		return missing
	}
	return *s
}

func head[T any](s []T, n int) []T {
	if len(s) > n {
		return s[:n]
	}
	return s
}

func abs(n int64) int64 {
	if n < 0 {
		return -n
	}
	return n
}
