// Package ofx converts OFX/QFX exports into statement documents.
package ofx

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"regexp"
	"strings"
	"time"

	"github.com/Veraticus/statement-copilot/internal/model"
	"github.com/aclindsa/ofxgo"
	"github.com/shopspring/decimal"
)

// ErrNoStatement is returned when a file carries no bank or card statement.
var ErrNoStatement = errors.New("no statement found in OFX file")

// ErrMultipleStatements is returned when a file carries more than one statement.
var ErrMultipleStatements = errors.New("OFX file contains more than one statement")

var (
	severityRegex = regexp.MustCompile(`(?i)<SEVERITY>(Info|Warn|Error)</SEVERITY>`)
	tagFixRegex   = regexp.MustCompile(`(?m)^(\s*<[A-Z][A-Z0-9._]*[A-Z0-9])$`)
)

// Parser implements OFX/QFX file parsing.
type Parser struct{}

// NewParser creates a new OFX parser.
func NewParser() *Parser {
	return &Parser{}
}

// preprocessOFX fixes common formatting issues in OFX files.
func (p *Parser) preprocessOFX(content string) string {
	content = strings.TrimLeft(content, " \t\r\n")

	// SEVERITY must be upper case.
	content = severityRegex.ReplaceAllStringFunc(content, strings.ToUpper)

	// Some SGML exports drop the closing bracket of bare opening tags.
	return tagFixRegex.ReplaceAllString(content, "$1>")
}

// statementData is the part of a bank or card statement we map from.
type statementData struct {
	start    *ofxgo.Date
	end      *ofxgo.Date
	balance  ofxgo.Amount
	currency string
	account  string
	txns     []ofxgo.Transaction
}

// ParseFile reads a single-statement OFX/QFX file into a statement document.
// An empty issuer falls back to the signon organization.
func (p *Parser) ParseFile(ctx context.Context, reader io.Reader, issuer string) (*model.StatementDocument, error) {
	content, err := io.ReadAll(reader)
	if err != nil {
		return nil, fmt.Errorf("failed to read OFX file: %w", err)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	resp, err := ofxgo.ParseResponse(strings.NewReader(p.preprocessOFX(string(content))))
	if err != nil {
		return nil, fmt.Errorf("failed to parse OFX file: %w", err)
	}

	var stmts []statementData
	for _, msg := range resp.Bank {
		if stmt, ok := msg.(*ofxgo.StatementResponse); ok {
			data := statementData{
				balance:  stmt.BalAmt,
				currency: stmt.CurDef.String(),
				account:  string(stmt.BankAcctFrom.AcctID),
			}
			if stmt.BankTranList != nil {
				data.start = &stmt.BankTranList.DtStart
				data.end = &stmt.BankTranList.DtEnd
				data.txns = stmt.BankTranList.Transactions
			}
			stmts = append(stmts, data)
		}
	}
	for _, msg := range resp.CreditCard {
		if stmt, ok := msg.(*ofxgo.CCStatementResponse); ok {
			data := statementData{
				balance:  stmt.BalAmt,
				currency: stmt.CurDef.String(),
				account:  string(stmt.CCAcctFrom.AcctID),
			}
			if stmt.BankTranList != nil {
				data.start = &stmt.BankTranList.DtStart
				data.end = &stmt.BankTranList.DtEnd
				data.txns = stmt.BankTranList.Transactions
			}
			stmts = append(stmts, data)
		}
	}

	switch len(stmts) {
	case 0:
		return nil, ErrNoStatement
	case 1:
	default:
		return nil, fmt.Errorf("%w: found %d", ErrMultipleStatements, len(stmts))
	}

	if issuer == "" {
		issuer = strings.ToLower(strings.TrimSpace(string(resp.Signon.Org)))
	}
	if issuer == "" {
		return nil, errors.New("issuer is required: OFX file has no signon organization")
	}

	doc, err := p.convertStatement(stmts[0], issuer)
	if err != nil {
		return nil, err
	}

	slog.Info("Parsed OFX file",
		"issuer", issuer,
		"account", stmts[0].account,
		"items", len(doc.Items))

	return doc, nil
}

func (p *Parser) convertStatement(stmt statementData, issuer string) (*model.StatementDocument, error) {
	currency := strings.ToUpper(stmt.currency)
	if len(currency) != 3 {
		currency = "BRL"
	}

	total, err := minorUnits(stmt.balance)
	if err != nil {
		return nil, fmt.Errorf("ledger balance: %w", err)
	}

	doc := &model.StatementDocument{
		Issuer:      issuer,
		Currency:    currency,
		TotalMinor:  abs(total),
		PeriodStart: formatDate(stmt.start),
		PeriodEnd:   formatDate(stmt.end),
		Items:       make([]model.StatementItem, 0, len(stmt.txns)),
	}

	for i := range stmt.txns {
		item, err := p.convertTransaction(stmt.txns[i], currency)
		if err != nil {
			return nil, fmt.Errorf("transaction %s: %w", stmt.txns[i].FiTID, err)
		}
		doc.Items = append(doc.Items, item)
	}

	return doc, nil
}

// convertTransaction maps one OFX transaction. OFX signs debits negative.
func (p *Parser) convertTransaction(ofxTx ofxgo.Transaction, currency string) (model.StatementItem, error) {
	amount, err := minorUnits(ofxTx.TrnAmt)
	if err != nil {
		return model.StatementItem{}, err
	}

	direction := model.DirectionInflow
	if amount < 0 {
		direction = model.DirectionOutflow
	}

	description := strings.TrimSpace(string(ofxTx.Name))
	if description == "" && ofxTx.Payee != nil {
		description = strings.TrimSpace(string(ofxTx.Payee.Name))
	}
	if description == "" {
		description = strings.TrimSpace(string(ofxTx.Memo))
	}

	item := model.StatementItem{
		PostedAt:       formatDate(&ofxTx.DtPosted),
		DescriptionRaw: description,
		AmountMinor:    abs(amount),
		Currency:       currency,
		Direction:      direction,
		Kind:           kindFor(ofxTx.TrnType.String(), direction),
	}
	if merchant := p.extractMerchantName(ofxTx); merchant != "" {
		item.MerchantNorm = &merchant
	}

	return item, nil
}

func kindFor(trnType string, direction model.Direction) model.Kind {
	switch trnType {
	case "INT", "DIV":
		return model.KindInterest
	case "FEE", "SRVCHG":
		return model.KindFee
	case "PAYMENT":
		return model.KindPayment
	}
	if direction == model.DirectionInflow {
		return model.KindRefund
	}
	return model.KindPurchase
}

// extractMerchantName tries to get a clean merchant name from OFX data.
func (p *Parser) extractMerchantName(tx ofxgo.Transaction) string {
	if tx.Payee != nil && tx.Payee.Name != "" {
		return strings.TrimSpace(string(tx.Payee.Name))
	}

	name := string(tx.Name)
	if tx.Memo != "" && isGenericDescription(name) {
		name = string(tx.Memo)
	}
	name = strings.TrimSpace(name)

	prefixes := []string{
		"COMPRA CARTAO ",
		"COMPRA ",
		"PIX ENVIADO ",
		"PIX RECEBIDO ",
		"POS PURCHASE ",
		"DEBIT CARD PURCHASE ",
		"ACH DEBIT ",
	}
	for _, prefix := range prefixes {
		if strings.HasPrefix(strings.ToUpper(name), prefix) {
			name = name[len(prefix):]
			break
		}
	}

	// Leading DD/MM date stamps.
	if len(name) > 5 && name[2] == '/' && name[5] == ' ' {
		name = strings.TrimSpace(name[6:])
	}

	return name
}

func isGenericDescription(name string) bool {
	switch strings.ToUpper(strings.TrimSpace(name)) {
	case "DEBIT", "CREDIT", "PURCHASE", "PAYMENT", "COMPRA", "PAGAMENTO", "PIX":
		return true
	}
	return false
}

// minorUnits converts an OFX amount to signed cents.
func minorUnits(a ofxgo.Amount) (int64, error) {
	d, err := decimal.NewFromString(a.FloatString(4))
	if err != nil {
		return 0, fmt.Errorf("invalid amount %q: %w", a.FloatString(4), err)
	}
	return d.Shift(2).Round(0).IntPart(), nil
}

func formatDate(d *ofxgo.Date) *string {
	if d == nil || d.IsZero() {
		return nil
	}
	s := d.Format(time.DateOnly)
	return &s
}

func abs(n int64) int64 {
	if n < 0 {
		return -n
	}
	return n
}
