// Package builtin contains the reusable steps the normalizer chains together.
//
// Every step works on a batch of records.Raw in place and records what it did
// in a *Report. Steps never fail: a value that cannot be repaired is nulled
// and reported as an Anomaly.
package builtin

import "fmt"

// Anomaly is one per-field coercion problem. Row is 1-based batch position.
type Anomaly struct {
	Row    int
	Field  string
	Value  any
	Reason string
}

func (a Anomaly) String() string {
	return fmt.Sprintf("row %d: %s=%v: %s", a.Row, a.Field, a.Value, a.Reason)
}

// Report accumulates what the steps did to a batch.
type Report struct {
	Anomalies []Anomaly

	// Filled counts repaired values per field.
	Filled map[string]int

	// Dropped counts removed fields (deprecated columns) per field name.
	Dropped map[string]int

	// Collapsed counts records removed by de-duplication.
	Collapsed int
}

func (r *Report) anomaly(row int, field string, v any, reason string) {
	if r == nil {
		return
	}
	r.Anomalies = append(r.Anomalies, Anomaly{Row: row, Field: field, Value: v, Reason: reason})
}

func (r *Report) filled(field string) {
	if r == nil {
		return
	}
	if r.Filled == nil {
		r.Filled = map[string]int{}
	}
	r.Filled[field]++
}

func (r *Report) dropped(field string) {
	if r == nil {
		return
	}
	if r.Dropped == nil {
		r.Dropped = map[string]int{}
	}
	r.Dropped[field]++
}
