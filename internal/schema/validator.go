// Package schema checks statement documents against their structural contract
// and converts untyped JSON into typed model values.
package schema

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/Veraticus/statement-copilot/internal/model"
	"github.com/shopspring/decimal"
)

// MaxInspectedItems caps per-item inspection for pathological inputs.
const MaxInspectedItems = 5000

// ErrInvalidDocument is returned by Decode when validation fails.
var ErrInvalidDocument = errors.New("invalid statement document")

var currencyPattern = regexp.MustCompile(`^[A-Za-z]{3}$`)

// Violation is a single structural defect.
type Violation struct {
	Path    string
	Message string
}

func (v Violation) String() string {
	if v.Path == "" {
		return v.Message
	}
	return v.Path + " " + v.Message
}

// Result is the outcome of a validation run. Errors holds every violation found.
type Result struct {
	Errors []Violation
	OK     bool
}

// Messages renders the violations as strings.
func (r Result) Messages() []string {
	out := make([]string, len(r.Errors))
	for i, v := range r.Errors {
		out[i] = v.String()
	}
	return out
}

// Err returns nil for a passing result and an ErrInvalidDocument wrap otherwise.
func (r Result) Err() error {
	if r.OK {
		return nil
	}
	return fmt.Errorf("%w: %d violation(s): %s", ErrInvalidDocument, len(r.Errors), strings.Join(r.Messages(), "; "))
}

// Validator checks documents. The zero value is not usable; call NewValidator.
type Validator struct {
	taxonomy *model.Taxonomy
	maxItems int
}

// Option configures a Validator.
type Option func(*Validator)

// WithTaxonomy makes any present item category outside t a violation.
func WithTaxonomy(t model.Taxonomy) Option {
	return func(v *Validator) {
		v.taxonomy = &t
	}
}

// WithMaxItems overrides the per-item inspection cap.
func WithMaxItems(n int) Option {
	return func(v *Validator) {
		if n > 0 {
			v.maxItems = n
		}
	}
}

// NewValidator creates a validator.
func NewValidator(opts ...Option) *Validator {
	v := &Validator{maxItems: MaxInspectedItems}
	for _, opt := range opts {
		opt(v)
	}
	return v
}

// Validate inspects an untyped decoded document (as produced by a json.Decoder
// with UseNumber) and reports every violation. The input is never modified.
func (v *Validator) Validate(raw any) Result {
	c := &collector{}

	root, _ := raw.(map[string]any)
	st, ok := root["statement"].(map[string]any)
	if !ok {
		c.add("", "missing statement object")
		return c.result()
	}

	for _, k := range []string{"issuer", "currency", "total_minor", "items"} {
		if _, present := st[k]; !present {
			c.add("statement", "missing field: "+k)
		}
	}

	if issuer, present := st["issuer"]; present {
		if s, isStr := issuer.(string); !isStr || strings.TrimSpace(s) == "" {
			c.add("statement.issuer", "must be a non-empty string")
		}
	}

	if !isCurrency(st["currency"]) {
		c.add("statement.currency", "must be ISO-4217 (3 letters)")
	}

	if !isInteger(st["total_minor"]) {
		c.add("statement.total_minor", "must be int")
	}

	for _, d := range []string{"period_start", "period_end", "due_date"} {
		if val, present := st[d]; present && val != nil && !isISODate(val) {
			c.add("statement."+d, "must be YYYY-MM-DD or null")
		}
	}

	items, isList := st["items"].([]any)
	if !isList {
		c.add("statement.items", "must be list")
		items = nil
	}

	limit := len(items)
	if limit > v.maxItems {
		limit = v.maxItems
	}
	for i := 0; i < limit; i++ {
		v.validateItem(c, i, items[i])
	}

	return c.result()
}

func (v *Validator) validateItem(c *collector, i int, raw any) {
	path := fmt.Sprintf("item[%d]", i)

	it, ok := raw.(map[string]any)
	if !ok {
		c.add(path, "not object")
		return
	}

	if !isInteger(it["amount_minor"]) {
		c.add(path+".amount_minor", "must be int")
	}
	if !isCurrency(it["currency"]) {
		c.add(path+".currency", "must be ISO-4217")
	}

	if itype, present := it["item_type"]; present && itype != nil {
		s, _ := itype.(string)
		if !model.ItemType(s).Valid() {
			c.add(path+".item_type", fmt.Sprintf("invalid: %v", itype))
		}
	}

	dir, _ := it["direction"].(string)
	if !model.Direction(dir).Valid() {
		c.add(path+".direction", fmt.Sprintf("invalid: %v", it["direction"]))
	}
	kind, _ := it["kind"].(string)
	if !model.Kind(kind).Valid() {
		c.add(path+".kind", fmt.Sprintf("invalid: %v", it["kind"]))
	}

	if pd, present := it["posted_at"]; present && pd != nil && !isISODate(pd) {
		c.add(path+".posted_at", "must be YYYY-MM-DD or null")
	}

	for _, k := range []string{"description_raw", "merchant_norm", "orig_currency", "category"} {
		if val, present := it[k]; present && val != nil {
			if _, isStr := val.(string); !isStr {
				c.add(path+"."+k, "must be string or null")
			}
		}
	}
	for _, k := range []string{"installment_n", "installment_total", "orig_amount_minor"} {
		if val, present := it[k]; present && val != nil && !isInteger(val) {
			c.add(path+"."+k, "must be int or null")
		}
	}
	if fx, present := it["fx_rate"]; present && fx != nil && !isDecimal(fx) {
		c.add(path+".fx_rate", "must be number or null")
	}

	if v.taxonomy != nil {
		if cat, isStr := it["category"].(string); isStr && !v.taxonomy.Contains(cat) {
			c.add(path+".category", "not in taxonomy: "+cat)
		}
	}
}

// Decode parses data, validates it and converts it into a typed document.
// The typed value is only produced when validation passes.
func (v *Validator) Decode(data []byte) (*model.StatementDocument, Result, error) {
	raw, err := decodeRaw(data)
	if err != nil {
		return nil, Result{}, err
	}

	res := v.Validate(raw)
	if !res.OK {
		return nil, res, res.Err()
	}

	var env model.Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, res, fmt.Errorf("%w: %w", ErrInvalidDocument, err)
	}
	if env.Statement.Items == nil {
		env.Statement.Items = []model.StatementItem{}
	}
	return &env.Statement, res, nil
}

// ValidateDocument re-checks a typed document, e.g. after a stage changed it.
func (v *Validator) ValidateDocument(doc model.StatementDocument) (Result, error) {
	data, err := json.Marshal(model.Envelope{Statement: doc})
	if err != nil {
		return Result{}, fmt.Errorf("failed to encode document: %w", err)
	}
	raw, err := decodeRaw(data)
	if err != nil {
		return Result{}, err
	}
	return v.Validate(raw), nil
}

func decodeRaw(data []byte) (any, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()

	var raw any
	if err := dec.Decode(&raw); err != nil {
		var syntaxErr *json.SyntaxError
		if errors.As(err, &syntaxErr) {
			line, col := calculatePosition(data, syntaxErr.Offset)
			return nil, fmt.Errorf("%w: malformed JSON at line %d column %d: %w", ErrInvalidDocument, line, col, err)
		}
		return nil, fmt.Errorf("%w: %w", ErrInvalidDocument, err)
	}
	return raw, nil
}

// calculatePosition converts a byte offset to line and column numbers.
func calculatePosition(data []byte, offset int64) (line int, column int) {
	line = 1
	column = 1

	for i := int64(0); i < offset && i < int64(len(data)); i++ {
		if data[i] == '\n' {
			line++
			column = 1
		} else {
			column++
		}
	}

	return
}

type collector struct {
	errs []Violation
}

func (c *collector) add(path, msg string) {
	c.errs = append(c.errs, Violation{Path: path, Message: msg})
}

func (c *collector) result() Result {
	return Result{OK: len(c.errs) == 0, Errors: c.errs}
}

func isInteger(v any) bool {
	switch n := v.(type) {
	case json.Number:
		_, err := n.Int64()
		return err == nil
	case int, int32, int64:
		return true
	}
	return false
}

func isDecimal(v any) bool {
	switch n := v.(type) {
	case json.Number:
		_, err := decimal.NewFromString(n.String())
		return err == nil
	case string:
		_, err := decimal.NewFromString(n)
		return err == nil
	case float64, int, int64:
		return true
	}
	return false
}

func isCurrency(v any) bool {
	s, ok := v.(string)
	return ok && currencyPattern.MatchString(s)
}

func isISODate(v any) bool {
	s, ok := v.(string)
	if !ok || len(s) != len(time.DateOnly) {
		return false
	}
	_, err := time.Parse(time.DateOnly, s)
	return err == nil
}
