package builtin

import "txetl/internal/records"

// DropFields removes the named fields from every record. Absent fields are
// not an error.
type DropFields struct {
	Fields []string
}

// Apply implements the step.
func (d DropFields) Apply(in []records.Raw, rep *Report) []records.Raw {
	for _, rec := range in {
		for _, f := range d.Fields {
			if _, ok := rec[f]; ok {
				delete(rec, f)
				rep.dropped(f)
			}
		}
	}
	return in
}
