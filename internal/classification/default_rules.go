package classification

import "github.com/Veraticus/statement-copilot/internal/model"

// DefaultRules returns the keyword rules in override order:
// payment, interest, fee, balance.
func DefaultRules() []Rule {
	return []Rule{
		{
			Name:     "Payment or transfer",
			Family:   FamilyPayment,
			Regex:    `\b(PAGAMENTO|PAYMENT|PIX)\b`,
			Priority: 400,
			// A payment reduces what is owed: money flowing into the ledger.
			Apply: func(it *model.StatementItem) {
				it.Kind = model.KindPayment
				it.Direction = model.DirectionInflow
				it.ItemType = model.ItemTypeStatementFlow
			},
		},
		{
			Name:     "Interest",
			Family:   FamilyInterest,
			Regex:    `\b(JUROS|INTEREST)\b`,
			Priority: 300,
			Apply: func(it *model.StatementItem) {
				it.Kind = model.KindInterest
				it.ItemType = model.ItemTypeStatementFlow
			},
		},
		{
			Name:     "Fee, tax or fine",
			Family:   FamilyFee,
			Regex:    `\b(IOF|TARIFA|FEE|ENCARGO|MULTA)\b`,
			Priority: 200,
			Apply: func(it *model.StatementItem) {
				if it.Kind != model.KindInterest && it.Kind != model.KindPayment {
					it.Kind = model.KindFee
				}
				it.ItemType = model.ItemTypeStatementFlow
			},
		},
		{
			Name:     "Carried or overdue balance",
			Family:   FamilyBalance,
			Regex:    `\b(SALDO|BALANCE|EM\s+ABERTO|EM\s+ATRASO|ATRASO)\b`,
			Priority: 100,
			Apply: func(it *model.StatementItem) {
				if it.Kind != model.KindPayment {
					if it.Kind == "" {
						it.Kind = model.KindAdjustment
					}
					if it.Direction == "" {
						it.Direction = model.DirectionOutflow
					}
				}
				it.ItemType = model.ItemTypeStatementFlow
			},
		},
	}
}
