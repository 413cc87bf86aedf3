package schema

import (
	"encoding/binary"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/zeebo/xxh3"

	"txetl/internal/records"
)

// maxReported bounds how many problems Validate spells out in its error.
const maxReported = 5

// Validate checks a normalized batch against d before it is written:
//
//   - the primary key is non-empty and unique within the batch,
//   - non-nullable columns are non-null,
//   - decimal values fit the column's precision/scale.
//
// The returned error wraps ErrInvalidBatch and lists the first few problems.
func (d Definition) Validate(batch []records.Transaction) error {
	keyIdx := d.Index(d.Key().Name)
	seen := make(map[string]int, len(batch))

	var problems []string
	total := 0
	report := func(format string, a ...any) {
		total++
		if len(problems) < maxReported {
			problems = append(problems, fmt.Sprintf(format, a...))
		}
	}

	for i, rec := range batch {
		row := rec.Values()
		if len(row) != len(d.columns) {
			report("row %d: %d values for %d columns", i+1, len(row), len(d.columns))
			continue
		}
		for j, c := range d.columns {
			v := row[j]
			if v == nil {
				if !c.Nullable || c.PrimaryKey {
					report("row %d: %s must not be null", i+1, c.Name)
				}
				continue
			}
			if c.Type == Decimal && c.Precision > 0 {
				if dv, ok := v.(decimal.Decimal); ok && !fits(dv, c.Precision, c.Scale) {
					report("row %d: %s=%s overflows NUMERIC(%d,%d)", i+1, c.Name, dv.String(), c.Precision, c.Scale)
				}
			}
		}

		key, _ := row[keyIdx].(string)
		if strings.TrimSpace(key) == "" {
			report("row %d: %s must not be empty", i+1, d.columns[keyIdx].Name)
			continue
		}
		if first, dup := seen[key]; dup {
			report("row %d: duplicate %s %q (first seen at row %d)", i+1, d.columns[keyIdx].Name, key, first)
			continue
		}
		seen[key] = i + 1
	}

	if total == 0 {
		return nil
	}
	msg := strings.Join(problems, "; ")
	if total > len(problems) {
		msg += fmt.Sprintf("; and %d more", total-len(problems))
	}
	return fmt.Errorf("%w: %s", ErrInvalidBatch, msg)
}

// fits reports whether v, rounded to scale, has at most precision-scale
// integer digits.
func fits(v decimal.Decimal, precision, scale int) bool {
	limit := decimal.New(1, int32(precision-scale))
	return v.Round(int32(scale)).Abs().LessThan(limit)
}

// Fingerprint returns a stable 64-bit digest of the batch contents in order.
// Two runs that load identical data produce the same fingerprint, which makes
// re-runs easy to spot in the logs.
func Fingerprint(batch []records.Transaction) uint64 {
	h := xxh3.New()
	var buf [8]byte
	for _, rec := range batch {
		for _, v := range rec.Values() {
			switch t := v.(type) {
			case nil:
				_, _ = h.Write([]byte{0})
			case string:
				_, _ = h.WriteString(t)
			case int64:
				binary.LittleEndian.PutUint64(buf[:], uint64(t))
				_, _ = h.Write(buf[:])
			case decimal.Decimal:
				_, _ = h.WriteString(t.String())
			case time.Time:
				binary.LittleEndian.PutUint64(buf[:], uint64(t.UnixNano()))
				_, _ = h.Write(buf[:])
			default:
				_, _ = h.WriteString(fmt.Sprint(t))
			}
			_, _ = h.Write([]byte{0x1f})
		}
		_, _ = h.Write([]byte{0x1e})
	}
	return h.Sum64()
}
