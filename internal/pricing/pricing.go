// Package pricing maps (provider, model) pairs to per-token prices and
// computes request cost from token counts.
package pricing

import "fmt"

// Row holds USD prices per 1000 tokens.
type Row struct {
	Provider    string
	Model       string
	InputPer1K  float64
	OutputPer1K float64
}

// DefaultRow is used for any pair missing from the table when the
// configuration does not supply its own default. It is priced at the upper
// end of the configured providers so unknown models are never free.
var DefaultRow = Row{
	Provider:    "*",
	Model:       "*",
	InputPer1K:  0.01,
	OutputPer1K: 0.03,
}

type key struct {
	provider string
	model    string
}

// Table is immutable after construction and safe for concurrent use.
type Table struct {
	rows map[key]Row
	def  Row
}

// NewTable builds a table. A nil def selects DefaultRow.
func NewTable(rows []Row, def *Row) (*Table, error) {
	t := &Table{
		rows: make(map[key]Row, len(rows)),
		def:  DefaultRow,
	}
	if def != nil {
		if def.InputPer1K < 0 || def.OutputPer1K < 0 {
			return nil, fmt.Errorf("default price must not be negative")
		}
		t.def = Row{Provider: "*", Model: "*", InputPer1K: def.InputPer1K, OutputPer1K: def.OutputPer1K}
	}
	for _, r := range rows {
		if r.InputPer1K < 0 || r.OutputPer1K < 0 {
			return nil, fmt.Errorf("price for %s/%s must not be negative", r.Provider, r.Model)
		}
		k := key{r.Provider, r.Model}
		if _, dup := t.rows[k]; dup {
			return nil, fmt.Errorf("duplicate price for %s/%s", r.Provider, r.Model)
		}
		t.rows[k] = r
	}
	return t, nil
}

// Lookup returns the row for the pair, or the default row and false.
func (t *Table) Lookup(provider, model string) (Row, bool) {
	if r, ok := t.rows[key{provider, model}]; ok {
		return r, true
	}
	return t.def, false
}

func (t *Table) Default() Row { return t.def }

// Compute returns the USD cost of a request. Unknown pairs are priced with
// the default row rather than rejected.
func (t *Table) Compute(provider, model string, inputTokens, outputTokens int) float64 {
	r, _ := t.Lookup(provider, model)
	return r.Cost(inputTokens, outputTokens)
}

func (r Row) Cost(inputTokens, outputTokens int) float64 {
	return float64(inputTokens)/1000*r.InputPer1K + float64(outputTokens)/1000*r.OutputPer1K
}
