package summary

import (
	"strings"
	"testing"

	"github.com/Veraticus/statement-copilot/internal/model"
	"github.com/Veraticus/statement-copilot/internal/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFormatMinor(t *testing.T) {
	tests := []struct {
		name  string
		want  string
		minor int64
	}{
		{name: "zero", minor: 0, want: "0,00"},
		{name: "cents", minor: 7, want: "0,07"},
		{name: "hundreds", minor: 12345, want: "123,45"},
		{name: "thousands", minor: 123456, want: "1.234,56"},
		{name: "millions", minor: 123456789, want: "1.234.567,89"},
		{name: "negative", minor: -150000, want: "-1.500,00"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, FormatMinor(tt.minor))
		})
	}
}

func TestFormatMoney(t *testing.T) {
	assert.Equal(t, "R$ 1.234,56", FormatMoney("BRL", 123456))
	assert.Equal(t, "USD 10,00", FormatMoney("USD", 1000))
}

func tx(posted, desc string, amount int64, dir model.Direction, category string) model.StatementItem {
	it := model.StatementItem{
		DescriptionRaw: desc,
		AmountMinor:    amount,
		Currency:       "BRL",
		Direction:      dir,
		Kind:           model.KindPurchase,
		ItemType:       model.ItemTypeTransaction,
	}
	if posted != "" {
		it.PostedAt = model.StringPtr(posted)
	}
	if category != "" {
		it.Category = model.StringPtr(category)
	}
	return it
}

func flow(desc string, amount int64, kind model.Kind, dir model.Direction) model.StatementItem {
	return model.StatementItem{
		PostedAt:       model.StringPtr("2024-02-15"),
		DescriptionRaw: desc,
		AmountMinor:    amount,
		Currency:       "BRL",
		Direction:      dir,
		Kind:           kind,
		ItemType:       model.ItemTypeStatementFlow,
	}
}

func TestSummarize(t *testing.T) {
	doc := model.StatementDocument{
		Issuer:     "nubank",
		DueDate:    model.StringPtr("2024-03-10"),
		Currency:   "BRL",
		TotalMinor: 123456,
		Items: []model.StatementItem{
			tx("2024-02-03", "PADARIA REAL", 2550, model.DirectionOutflow, "groceries"),
			tx("2024-02-04", "MERCADO DIA", 10000, model.DirectionOutflow, "groceries"),
			tx("", "UBER *TRIP", 3200, model.DirectionOutflow, "transport"),
			tx("2024-02-06", "AMAZON", 5000, model.DirectionOutflow, ""),
			tx("2024-02-07", "ESTORNO AMAZON", 5000, model.DirectionInflow, "shopping"),
			flow("PAGAMENTO RECEBIDO", 150000, model.KindPayment, model.DirectionInflow),
			flow("IOF COMPRA INTERNACIONAL", 120, model.KindFee, model.DirectionOutflow),
		},
	}

	want := strings.Join([]string{
		"Issuer: nubank",
		"Due date: 2024-03-10",
		"Total: BRL 1.234,56",
		"",
		"Top categories:",
		"- groceries: BRL 125,50",
		"- uncategorized: BRL 50,00",
		"- transport: BRL 32,00",
		"",
		"Top expenses (transactions):",
		"- 2024-02-04 | MERCADO DIA | groceries | BRL 100,00",
		"- 2024-02-06 | AMAZON | uncategorized | BRL 50,00",
		"- - | UBER *TRIP | transport | BRL 32,00",
		"- 2024-02-03 | PADARIA REAL | groceries | BRL 25,50",
		"",
		"Statement flows (top 5 by absolute value):",
		"- 2024-02-15 | PAGAMENTO RECEBIDO | payment | inflow | BRL 1.500,00",
		"- 2024-02-15 | IOF COMPRA INTERNACIONAL | fee | outflow | BRL 1,20",
	}, "\n")

	assert.Equal(t, want, Summarize(doc))
}

func TestBuild(t *testing.T) {
	t.Run("limits and counts", func(t *testing.T) {
		doc := model.StatementDocument{Issuer: "itau", Currency: "BRL"}
		for i := 0; i < 8; i++ {
			doc.Items = append(doc.Items, tx("2024-02-01", "LOJA", int64(100*(i+1)), model.DirectionOutflow, string(rune('a'+i))))
		}
		for i := 0; i < 7; i++ {
			doc.Items = append(doc.Items, flow("JUROS", int64(-10*(i+1)), model.KindInterest, model.DirectionOutflow))
		}

		r := Build(doc)
		assert.Equal(t, 8, r.TransactionCount)
		assert.Equal(t, 7, r.FlowCount)
		require.Len(t, r.Categories, TopCategories)
		assert.Equal(t, "h", r.Categories[0].Category)
		require.Len(t, r.TopExpenses, TopExpenses)
		assert.Equal(t, int64(800), r.TopExpenses[0].AmountMinor)
		require.Len(t, r.TopFlows, TopFlows)
		assert.Equal(t, int64(-70), r.TopFlows[0].AmountMinor)
		assert.Equal(t, "-", r.DueDate)
	})

	t.Run("items without item type are transactions", func(t *testing.T) {
		it := tx("2024-02-01", "PADARIA", 500, model.DirectionOutflow, "groceries")
		it.ItemType = ""
		r := Build(model.StatementDocument{Currency: "BRL", Items: []model.StatementItem{it}})
		assert.Equal(t, 1, r.TransactionCount)
		assert.Zero(t, r.FlowCount)
		assert.NotContains(t, r.String(), "Statement flows")
	})

	t.Run("empty document", func(t *testing.T) {
		out := Summarize(model.StatementDocument{Issuer: "nubank", Currency: "BRL"})
		assert.NotContains(t, out, "Top categories")
		assert.Contains(t, out, "Top expenses (transactions):")
	})
}

func TestBuildSpendReports(t *testing.T) {
	rows := []storage.CategorySpend{
		{Category: "groceries", Currency: "BRL", TotalMinor: 40000},
		{Category: "transport", Currency: "BRL", TotalMinor: 30000},
		{Category: "other", Currency: "BRL", TotalMinor: 10000},
		{Category: "health", Currency: "BRL", TotalMinor: 15000},
		{Category: "fuel", Currency: "BRL", TotalMinor: 5000},
		{Category: "travel", Currency: "USD", TotalMinor: 2000},
	}

	t.Run("folds the tail into other", func(t *testing.T) {
		reports := BuildSpendReports("2024-02", rows, 3)
		require.Len(t, reports, 2)

		brl := reports[0]
		assert.Equal(t, "BRL", brl.Currency)
		assert.Equal(t, int64(100000), brl.TotalMinor)
		require.Len(t, brl.Rows, 4)
		assert.Equal(t, "groceries", brl.Rows[0].Category)
		assert.Equal(t, "transport", brl.Rows[1].Category)
		assert.Equal(t, "health", brl.Rows[2].Category)
		assert.Equal(t, "other", brl.Rows[3].Category)
		assert.Equal(t, int64(15000), brl.Rows[3].TotalMinor)
		assert.Equal(t, "0.4", brl.Rows[0].Share.String())

		assert.Equal(t, "USD", reports[1].Currency)
	})

	t.Run("adds other when absent", func(t *testing.T) {
		reports := BuildSpendReports("2024-02", rows[:2], 1)
		require.Len(t, reports, 1)
		require.Len(t, reports[0].Rows, 2)
		assert.Equal(t, "groceries", reports[0].Rows[0].Category)
		assert.Equal(t, "other", reports[0].Rows[1].Category)
		assert.Equal(t, int64(30000), reports[0].Rows[1].TotalMinor)
	})

	t.Run("merged other is reordered by total", func(t *testing.T) {
		in := []storage.CategorySpend{
			{Category: "groceries", Currency: "BRL", TotalMinor: 500},
			{Category: "other", Currency: "BRL", TotalMinor: 400},
			{Category: "fuel", Currency: "BRL", TotalMinor: 300},
			{Category: "health", Currency: "BRL", TotalMinor: 200},
		}
		reports := BuildSpendReports("2024-02", in, 2)
		require.Len(t, reports[0].Rows, 2)
		assert.Equal(t, "other", reports[0].Rows[0].Category)
		assert.Equal(t, int64(900), reports[0].Rows[0].TotalMinor)
	})

	t.Run("no rows", func(t *testing.T) {
		assert.Empty(t, BuildSpendReports("2024-02", nil, DefaultTopCategories))
	})
}

func TestSpendReportString(t *testing.T) {
	reports := BuildSpendReports("2024-02", []storage.CategorySpend{
		{Category: "groceries", Currency: "BRL", TotalMinor: 75000},
		{Category: "fuel", Currency: "BRL", TotalMinor: 25000},
	}, DefaultTopCategories)
	require.Len(t, reports, 1)

	want := strings.Join([]string{
		"Spend by category, 2024-02 (BRL)",
		"- groceries  R$ 750,00  (75%)",
		"- fuel       R$ 250,00  (25%)",
		"Total: R$ 1.000,00",
	}, "\n")
	assert.Equal(t, want, reports[0].String())
}
