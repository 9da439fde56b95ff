package categorize

import (
	"context"
	"strings"
	"sync"
)

// MockClassifier is a deterministic Classifier for tests and offline runs.
// By default it picks a category from keywords in the description and
// falls back to "other".
type MockClassifier struct {
	// Respond, when set, replaces the default keyword behavior.
	Respond func(Batch) ([]Result, error)
	calls   []Batch
	mu      sync.Mutex
}

// NewMockClassifier creates a new mock classifier.
func NewMockClassifier() *MockClassifier {
	return &MockClassifier{calls: make([]Batch, 0)}
}

var mockKeywords = []struct {
	keyword  string
	category string
}{
	{"MERCADO", "groceries"},
	{"SUPERMERC", "groceries"},
	{"PADARIA", "groceries"},
	{"FARMACIA", "health"},
	{"ESCOLA", "education"},
	{"CURSO", "education"},
	{"HOTEL", "travel"},
	{"AIRBNB", "travel"},
	{"LATAM", "travel"},
	{"GOL ", "travel"},
	{"ENERGIA", "bills"},
	{"VIVO", "bills"},
	{"CLARO", "bills"},
	{"ESTORNO", "cashback_refund"},
	{"CASHBACK", "cashback_refund"},
	{"ANUIDADE", "fees_taxes"},
}

// ClassifyBatch records the batch and answers it.
func (m *MockClassifier) ClassifyBatch(_ context.Context, batch Batch) ([]Result, error) {
	m.mu.Lock()
	m.calls = append(m.calls, batch)
	respond := m.Respond
	m.mu.Unlock()

	if respond != nil {
		return respond(batch)
	}

	results := make([]Result, len(batch.Requests))
	for i, r := range batch.Requests {
		results[i] = Result{Idx: r.Idx, Category: "other"}
		desc := strings.ToUpper(r.Description)
		for _, k := range mockKeywords {
			if strings.Contains(desc, k.keyword) {
				results[i].Category = k.category
				break
			}
		}
	}
	return results, nil
}

// Calls returns the batches received so far.
func (m *MockClassifier) Calls() []Batch {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Batch, len(m.calls))
	copy(out, m.calls)
	return out
}

// CallCount returns how many batches were received.
func (m *MockClassifier) CallCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.calls)
}
