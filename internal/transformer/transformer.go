// Package transformer turns raw source records into normalized transactions.
//
// The Normalizer runs a Chain of builtin steps over a private copy of the
// batch and then projects each record onto the destination schema. It never
// fails: problems with individual values become Anomalies and the affected
// field is stored as null.
package transformer

import (
	"time"

	"github.com/shopspring/decimal"

	"txetl/internal/records"
	"txetl/internal/schema"
	"txetl/internal/transformer/builtin"
)

// Anomaly is a per-field coercion problem that did not abort the batch.
type Anomaly = builtin.Anomaly

// Report is the per-batch account of what the steps did.
type Report = builtin.Report

// Transformer is one step of a Chain.
type Transformer interface {
	Apply(in []records.Raw, rep *Report) []records.Raw
}

// Chain is an ordered list of transformers.
type Chain []Transformer

// Apply runs every transformer in order.
func (c Chain) Apply(in []records.Raw, rep *Report) []records.Raw {
	out := in
	for _, t := range c {
		out = t.Apply(out, rep)
	}
	return out
}

// Output is the result of normalizing one batch.
type Output struct {
	Records   []records.Transaction
	Anomalies []Anomaly
	Report    Report
}

// Normalizer repairs and types a raw batch for the given schema.
type Normalizer struct {
	Schema schema.Definition

	// Layouts overrides the accepted timestamp layouts.
	Layouts []string

	// Dedupe collapses repeated transaction ids, keeping the last one.
	Dedupe bool
}

// New returns a Normalizer for the transactions schema.
func New() *Normalizer {
	return &Normalizer{Schema: schema.Transactions()}
}

// Chain returns the steps Normalize runs, in order.
func (n *Normalizer) Chain() Chain {
	types := make(map[string]schema.Type, len(n.Schema.Columns()))
	for _, c := range n.Schema.Columns() {
		if c.Name == schema.TotalPrice {
			continue
		}
		types[c.Name] = c.Type
	}

	total, _ := n.Schema.Lookup(schema.TotalPrice)
	chain := Chain{
		builtin.DropFields{Fields: schema.Deprecated},
		builtin.Coerce{Types: types, Layouts: n.Layouts},
		builtin.FillMissing{
			Fields:         []string{schema.TransactionID, schema.ProductID},
			BlankIsMissing: true,
		},
		builtin.DeriveTotal{
			Quantity: schema.Quantity,
			Price:    schema.PricePerUnit,
			Total:    schema.TotalPrice,
			Places:   int32(total.Scale),
		},
	}
	if n.Dedupe {
		chain = append(chain, builtin.DeDup{Keys: []string{schema.TransactionID}, Policy: builtin.KeepLast})
	}
	return chain
}

// Normalize returns one Transaction per input record (fewer only when Dedupe
// collapses duplicates), in input order. The input is not modified.
func (n *Normalizer) Normalize(raw []records.Raw) Output {
	batch := make([]records.Raw, len(raw))
	for i, r := range raw {
		batch[i] = r.Clone()
	}

	var rep Report
	batch = n.Chain().Apply(batch, &rep)

	price, _ := n.Schema.Lookup(schema.PricePerUnit)
	out := Output{
		Records:   make([]records.Transaction, 0, len(batch)),
		Anomalies: rep.Anomalies,
		Report:    rep,
	}
	for _, r := range batch {
		out.Records = append(out.Records, project(r, int32(price.Scale)))
	}
	return out
}

func project(r records.Raw, priceScale int32) records.Transaction {
	t := records.Transaction{
		TransactionID:   str(r[schema.TransactionID]),
		UserID:          intPtr(r[schema.UserID]),
		ProductID:       str(r[schema.ProductID]),
		ProductCategory: strPtr(r[schema.ProductCategory]),
		Quantity:        intPtr(r[schema.Quantity]),
		PricePerUnit:    dec(r[schema.PricePerUnit]),
		PaymentMethod:   strPtr(r[schema.PaymentMethod]),
		TransactionDate: timePtr(r[schema.TransactionDate]),
		ShippingCountry: strPtr(r[schema.ShippingCountry]),
		TotalPrice:      dec(r[schema.TotalPrice]),
	}
	if t.PricePerUnit.Valid {
		t.PricePerUnit.Decimal = t.PricePerUnit.Decimal.Round(priceScale)
	}
	return t
}

func str(v any) string {
	s, _ := v.(string)
	return s
}

func strPtr(v any) *string {
	s, ok := v.(string)
	if !ok {
		return nil
	}
	return &s
}

func intPtr(v any) *int64 {
	n, ok := v.(int64)
	if !ok {
		return nil
	}
	return &n
}

func timePtr(v any) *time.Time {
	ts, ok := v.(time.Time)
	if !ok {
		return nil
	}
	return &ts
}

func dec(v any) decimal.NullDecimal {
	d, ok := v.(decimal.Decimal)
	if !ok {
		return decimal.NullDecimal{}
	}
	return decimal.NullDecimal{Decimal: d, Valid: true}
}
