package builtin

import (
	"strconv"
	"strings"

	"txetl/internal/records"
)

// FillMissing repairs missing identifiers with a per-batch counter.
//
// For each field independently, the k-th record (in batch order) whose value
// is missing receives the string form of k, starting at 1. The substitution is
// positional: it depends only on where the gaps are in the batch, not on any
// record content, so the same input order always yields the same values.
// This differs from a row-position fill: gaps at rows 2 and 4 receive "1" and
// "2", not "2" and "4".
type FillMissing struct {
	Fields []string

	// BlankIsMissing also treats empty or whitespace-only strings as missing.
	BlankIsMissing bool
}

// Apply implements the step.
func (f FillMissing) Apply(in []records.Raw, rep *Report) []records.Raw {
	for _, field := range f.Fields {
		next := 1
		for _, rec := range in {
			if !f.missing(rec, field) {
				continue
			}
			rec[field] = strconv.Itoa(next)
			next++
			rep.filled(field)
		}
	}
	return in
}

func (f FillMissing) missing(rec records.Raw, field string) bool {
	if rec.Missing(field) {
		return true
	}
	if !f.BlankIsMissing {
		return false
	}
	s, ok := rec[field].(string)
	return ok && strings.TrimSpace(s) == ""
}
