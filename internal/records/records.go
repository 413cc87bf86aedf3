// Package records holds the record shapes that flow through a pipeline run.
//
// Raw is the loosely-typed object decoded from the source: any field may be
// absent or null. Transaction is the normalized record whose fields map 1:1 to
// the columns of the destination table.
package records

import (
	"time"

	"github.com/shopspring/decimal"
)

// Raw is one source object keyed by canonical field name. Values are the
// decoded JSON values (string, json.Number, bool, nil, map, slice) until the
// coerce step replaces them with typed values.
type Raw map[string]any

// Missing reports whether field is absent or explicitly null.
func (r Raw) Missing(field string) bool {
	v, ok := r[field]
	return !ok || v == nil
}

// Clone returns a shallow copy of r.
func (r Raw) Clone() Raw {
	out := make(Raw, len(r))
	for k, v := range r {
		out[k] = v
	}
	return out
}

// Transaction is a normalized transaction. Pointer and Null* fields are nil /
// invalid when the source value was absent or could not be coerced.
type Transaction struct {
	TransactionID   string
	UserID          *int64
	ProductID       string
	ProductCategory *string
	Quantity        *int64
	PricePerUnit    decimal.NullDecimal
	PaymentMethod   *string
	TransactionDate *time.Time
	ShippingCountry *string
	TotalPrice      decimal.NullDecimal
}

// Values returns the record's fields in destination column order. nil marks
// SQL NULL; decimals are returned as decimal.Decimal and timestamps as
// time.Time so backends can choose their own wire encoding.
func (t Transaction) Values() []any {
	return []any{
		t.TransactionID,
		int64OrNil(t.UserID),
		t.ProductID,
		stringOrNil(t.ProductCategory),
		int64OrNil(t.Quantity),
		decimalOrNil(t.PricePerUnit),
		stringOrNil(t.PaymentMethod),
		timeOrNil(t.TransactionDate),
		stringOrNil(t.ShippingCountry),
		decimalOrNil(t.TotalPrice),
	}
}

func int64OrNil(p *int64) any {
	if p == nil {
		return nil
	}
	return *p
}

func stringOrNil(p *string) any {
	if p == nil {
		return nil
	}
	return *p
}

func timeOrNil(p *time.Time) any {
	if p == nil {
		return nil
	}
	return *p
}

func decimalOrNil(d decimal.NullDecimal) any {
	if !d.Valid {
		return nil
	}
	return d.Decimal
}
