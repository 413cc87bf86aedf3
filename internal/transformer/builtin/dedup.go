package builtin

import (
	"fmt"
	"sort"
	"strings"

	"txetl/internal/records"
)

// Dedup policies.
const (
	KeepFirst    = "keep-first"
	KeepLast     = "keep-last"
	MostComplete = "most-complete"
)

// DeDup collapses records sharing the same business key within one batch.
//
// Policy picks the winner among duplicates: KeepFirst, KeepLast (default) or
// MostComplete (most non-null fields, ties go to the later record). Winners
// keep their original relative order. Records whose key cannot be built
// (missing key field) are passed through after the winners.
//
// The destination's primary key remains the backstop; DeDup only exists so a
// batch with repeated keys can still be loaded in one upsert.
type DeDup struct {
	Keys   []string
	Policy string
}

// Apply implements the step.
func (d DeDup) Apply(in []records.Raw, rep *Report) []records.Raw {
	if len(in) == 0 || len(d.Keys) == 0 {
		return in
	}

	policy := strings.ToLower(strings.TrimSpace(d.Policy))
	if policy == "" {
		policy = KeepLast
	}

	type slot struct {
		index int
		score int
	}
	winners := make(map[string]slot, len(in))
	var passthrough []int

	for i, r := range in {
		key, ok := d.keyOf(r)
		if !ok {
			passthrough = append(passthrough, i)
			continue
		}
		prev, exists := winners[key]
		switch policy {
		case KeepFirst:
			if !exists {
				winners[key] = slot{index: i}
			}
		case MostComplete:
			s := slot{index: i, score: completeness(r)}
			if !exists || s.score >= prev.score {
				winners[key] = s
			}
		default:
			winners[key] = slot{index: i}
		}
	}

	idx := make([]int, 0, len(winners)+len(passthrough))
	for _, s := range winners {
		idx = append(idx, s.index)
	}
	sort.Ints(idx)
	idx = append(idx, passthrough...)

	out := make([]records.Raw, 0, len(idx))
	for _, i := range idx {
		out = append(out, in[i])
	}
	if rep != nil {
		rep.Collapsed += len(in) - len(out)
	}
	return out
}

func (d DeDup) keyOf(r records.Raw) (string, bool) {
	var b strings.Builder
	for i, k := range d.Keys {
		v, ok := r[k]
		if !ok || v == nil {
			return "", false
		}
		if i > 0 {
			b.WriteByte('\x1f')
		}
		if s, isStr := v.(string); isStr {
			b.WriteString(s)
		} else {
			b.WriteString(fmt.Sprint(v))
		}
	}
	return b.String(), true
}

func completeness(r records.Raw) int {
	n := 0
	for _, v := range r {
		if v == nil {
			continue
		}
		if s, ok := v.(string); ok && s == "" {
			continue
		}
		n++
	}
	return n
}
