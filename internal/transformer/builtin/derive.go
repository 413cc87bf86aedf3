package builtin

import (
	"github.com/shopspring/decimal"

	"txetl/internal/records"
)

// DeriveTotal sets Total to Quantity * Price rounded to Places fractional
// digits, half away from zero: a negative half rounds down, so -3 * 2.005
// gives -6.02 rather than the strict half-up -6.01. The product is computed
// on the exact values, before any rounding of Price. When either operand is
// missing the total is null and an anomaly is reported.
//
// It expects Coerce to have run: Quantity holds int64 and Price holds
// decimal.Decimal. Any source value already present in Total is replaced.
type DeriveTotal struct {
	Quantity string
	Price    string
	Total    string
	Places   int32
}

// Apply implements the step.
func (d DeriveTotal) Apply(in []records.Raw, rep *Report) []records.Raw {
	for i, r := range in {
		q, qok := r[d.Quantity].(int64)
		p, pok := r[d.Price].(decimal.Decimal)
		if !qok || !pok {
			r[d.Total] = nil
			rep.anomaly(i+1, d.Total, nil, "missing operand")
			continue
		}
		r[d.Total] = decimal.NewFromInt(q).Mul(p).Round(d.Places)
	}
	return in
}
