package builtin

import (
	"encoding/json"
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"txetl/internal/records"
	"txetl/internal/schema"
)

// DefaultLayouts are the timestamp layouts Coerce tries, in order, when
// Layouts is empty.
var DefaultLayouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02 15:04:05",
	"2006-01-02T15:04:05",
	"2006-01-02",
	"1/2/2006 15:04:05",
	"1/2/2006",
	"02.01.2006",
}

// Coerce converts decoded JSON values into the Go types of their target
// column:
//
//	Text      -> string
//	Integer   -> int64 (32-bit range)
//	Decimal   -> decimal.Decimal
//	Timestamp -> time.Time (UTC)
//
// Null and absent values are left alone. A value that cannot be converted is
// replaced by nil and reported as an anomaly; the record is kept.
type Coerce struct {
	Types   map[string]schema.Type
	Layouts []string
}

// Apply implements the step.
func (c Coerce) Apply(in []records.Raw, rep *Report) []records.Raw {
	if len(c.Types) == 0 {
		return in
	}
	layouts := c.Layouts
	if len(layouts) == 0 {
		layouts = DefaultLayouts
	}
	fields := make([]string, 0, len(c.Types))
	for f := range c.Types {
		fields = append(fields, f)
	}
	sort.Strings(fields)

	for i, r := range in {
		for _, field := range fields {
			typ := c.Types[field]
			v, ok := r[field]
			if !ok || v == nil {
				continue
			}
			out, err := coerceValue(v, typ, layouts)
			if err != nil {
				r[field] = nil
				rep.anomaly(i+1, field, v, err.Error())
				continue
			}
			r[field] = out
		}
	}
	return in
}

func coerceValue(v any, typ schema.Type, layouts []string) (any, error) {
	switch typ {
	case schema.Text:
		return toText(v)
	case schema.Integer:
		return toInt(v)
	case schema.Decimal:
		return toDecimal(v)
	case schema.Timestamp:
		return toTimestamp(v, layouts)
	default:
		return nil, fmt.Errorf("unsupported column type %s", typ)
	}
}

func toText(v any) (any, error) {
	switch t := v.(type) {
	case string:
		return t, nil
	case json.Number:
		return t.String(), nil
	case bool:
		return strconv.FormatBool(t), nil
	case int64:
		return strconv.FormatInt(t, 10), nil
	default:
		return nil, fmt.Errorf("not a text value (%T)", v)
	}
}

func toInt(v any) (any, error) {
	var d decimal.Decimal
	switch t := v.(type) {
	case int64:
		d = decimal.NewFromInt(t)
	case json.Number, string:
		var err error
		d, err = parseDecimal(t)
		if err != nil {
			return nil, err
		}
	default:
		return nil, fmt.Errorf("not an integer (%T)", v)
	}
	if !d.IsInteger() {
		return nil, fmt.Errorf("not an integer")
	}
	bi := d.BigInt()
	if !bi.IsInt64() {
		return nil, fmt.Errorf("integer out of range")
	}
	n := bi.Int64()
	if n < math.MinInt32 || n > math.MaxInt32 {
		return nil, fmt.Errorf("integer out of range")
	}
	return n, nil
}

func toDecimal(v any) (any, error) {
	switch t := v.(type) {
	case decimal.Decimal:
		return t, nil
	case int64:
		return decimal.NewFromInt(t), nil
	case json.Number, string:
		return parseDecimal(t)
	default:
		return nil, fmt.Errorf("not a number (%T)", v)
	}
}

func parseDecimal(v any) (decimal.Decimal, error) {
	var s string
	switch t := v.(type) {
	case json.Number:
		s = t.String()
	case string:
		s = strings.TrimSpace(t)
	}
	if s == "" {
		return decimal.Decimal{}, fmt.Errorf("empty number")
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Decimal{}, fmt.Errorf("not a number")
	}
	return d, nil
}

func toTimestamp(v any, layouts []string) (any, error) {
	switch t := v.(type) {
	case time.Time:
		return t.UTC(), nil
	case string:
		s := strings.TrimSpace(t)
		if s == "" {
			return nil, fmt.Errorf("empty timestamp")
		}
		for _, layout := range layouts {
			if ts, err := time.Parse(layout, s); err == nil {
				return ts.UTC(), nil
			}
		}
		return nil, fmt.Errorf("unrecognized timestamp")
	default:
		return nil, fmt.Errorf("not a timestamp (%T)", v)
	}
}
