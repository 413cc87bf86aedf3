// Package artifact writes the diagnostic CSV files of a run: the raw records
// as fetched and the normalized batch as loaded.
//
// Files are written to a temp file in the target directory and renamed into
// place, so a reader never sees a half-written artifact.
package artifact

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"time"

	"github.com/shopspring/decimal"

	"txetl/internal/records"
	"txetl/internal/schema"
)

// TimestampLayout is how timestamps appear in the transformed artifact.
const TimestampLayout = "2006-01-02 15:04:05"

// WriteRaw writes recs with one column per key. keys fixes the column order;
// when empty, the sorted union of all record keys is used. Absent and null
// values are written as empty cells; nested values as compact JSON.
func WriteRaw(path string, recs []records.Raw, keys []string) error {
	if len(keys) == 0 {
		keys = unionKeys(recs)
	}
	return writeAtomic(path, func(w *csv.Writer) error {
		if err := w.Write(keys); err != nil {
			return err
		}
		row := make([]string, len(keys))
		for _, r := range recs {
			for i, k := range keys {
				row[i] = rawCell(r[k])
			}
			if err := w.Write(row); err != nil {
				return err
			}
		}
		return nil
	})
}

// WriteTransformed writes batch with the columns of def in order. Decimals
// use the column scale; null is an empty cell.
func WriteTransformed(path string, def schema.Definition, batch []records.Transaction) error {
	cols := def.Columns()
	return writeAtomic(path, func(w *csv.Writer) error {
		if err := w.Write(def.Names()); err != nil {
			return err
		}
		row := make([]string, len(cols))
		for _, t := range batch {
			vals := t.Values()
			for i, c := range cols {
				row[i] = typedCell(vals[i], c)
			}
			if err := w.Write(row); err != nil {
				return err
			}
		}
		return nil
	})
}

func writeAtomic(path string, fill func(w *csv.Writer) error) (err error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("artifact: mkdir %s: %w", dir, err)
	}
	f, err := os.CreateTemp(dir, "."+filepath.Base(path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("artifact: create temp: %w", err)
	}
	defer func() {
		if err != nil {
			_ = f.Close()
			_ = os.Remove(f.Name())
		}
	}()

	w := csv.NewWriter(f)
	if err = fill(w); err != nil {
		return fmt.Errorf("artifact: write %s: %w", path, err)
	}
	w.Flush()
	if err = w.Error(); err != nil {
		return fmt.Errorf("artifact: flush %s: %w", path, err)
	}
	if err = f.Close(); err != nil {
		return fmt.Errorf("artifact: close %s: %w", path, err)
	}
	if err = os.Rename(f.Name(), path); err != nil {
		return fmt.Errorf("artifact: rename %s: %w", path, err)
	}
	return nil
}

func unionKeys(recs []records.Raw) []string {
	seen := map[string]struct{}{}
	for _, r := range recs {
		for k := range r {
			seen[k] = struct{}{}
		}
	}
	out := make([]string, 0, len(seen))
	for k := range seen {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

func rawCell(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case json.Number:
		return t.String()
	case bool:
		return strconv.FormatBool(t)
	default:
		b, err := json.Marshal(t)
		if err != nil {
			return fmt.Sprint(t)
		}
		return string(b)
	}
}

func typedCell(v any, c schema.Column) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case int64:
		return strconv.FormatInt(t, 10)
	case decimal.Decimal:
		return t.StringFixed(int32(c.Scale))
	case time.Time:
		return t.UTC().Format(TimestampLayout)
	default:
		return fmt.Sprint(t)
	}
}
