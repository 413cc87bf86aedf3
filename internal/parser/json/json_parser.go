// Package jsonparser decodes a source payload (a JSON array of objects) into
// raw records.
//
// Numbers are kept as json.Number so that monetary values reach the
// normalizer as their exact decimal literal instead of a rounded float64.
// Object keys are canonicalized (see CanonicalName) so that "Transaction ID",
// "transaction-id" and "transaction_id" all land on the same field.
package jsonparser

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"

	"txetl/internal/records"
)

// Decoded is the result of DecodeRecords.
type Decoded struct {
	Records []records.Raw

	// Keys lists every canonical key in first-seen order across the batch.
	// It is used as the column order of the raw CSV artifact.
	Keys []string
}

// DecodeRecords reads a JSON array of objects from r.
//
// The top-level value must be an array and every element must be an object
// (null elements are rejected as well). An empty array yields zero records
// and no error. Trailing data after the array is an error.
func DecodeRecords(r io.Reader) (Decoded, error) {
	dec := json.NewDecoder(r)
	dec.UseNumber()

	var items []json.RawMessage
	if err := dec.Decode(&items); err != nil {
		return Decoded{}, fmt.Errorf("json: decode array: %w", err)
	}
	if items == nil {
		return Decoded{}, fmt.Errorf("json: top-level value is null, want array")
	}
	if dec.More() {
		return Decoded{}, fmt.Errorf("json: unexpected data after top-level array")
	}
	if _, err := dec.Token(); err != io.EOF {
		return Decoded{}, fmt.Errorf("json: unexpected data after top-level array")
	}

	out := Decoded{Records: make([]records.Raw, 0, len(items))}
	seenKeys := map[string]struct{}{}

	for i, item := range items {
		if bytes.Equal(bytes.TrimSpace(item), []byte("null")) {
			return Decoded{}, fmt.Errorf("json: element %d is null, want object", i)
		}
		var obj map[string]any
		od := json.NewDecoder(bytes.NewReader(item))
		od.UseNumber()
		if err := od.Decode(&obj); err != nil {
			return Decoded{}, fmt.Errorf("json: element %d: %w", i, err)
		}

		// Preserve the object's own key order for first-seen bookkeeping.
		keys, err := objectKeys(item)
		if err != nil {
			return Decoded{}, fmt.Errorf("json: element %d: %w", i, err)
		}

		rec := make(records.Raw, len(obj))
		for _, k := range keys {
			name := CanonicalName(k)
			if _, dup := rec[name]; dup {
				continue // first key wins on canonical collision
			}
			rec[name] = obj[k]
			if _, ok := seenKeys[name]; !ok {
				seenKeys[name] = struct{}{}
				out.Keys = append(out.Keys, name)
			}
		}
		out.Records = append(out.Records, rec)
	}
	return out, nil
}

// objectKeys returns the top-level keys of a JSON object in document order.
func objectKeys(obj json.RawMessage) ([]string, error) {
	dec := json.NewDecoder(bytes.NewReader(obj))
	dec.UseNumber()

	tok, err := dec.Token()
	if err != nil {
		return nil, err
	}
	if d, ok := tok.(json.Delim); !ok || d != '{' {
		return nil, fmt.Errorf("want object, got %v", tok)
	}

	var keys []string
	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return nil, err
		}
		k, ok := tok.(string)
		if !ok {
			return nil, fmt.Errorf("want object key, got %v", tok)
		}
		keys = append(keys, k)

		// Skip the value.
		var skip json.RawMessage
		if err := dec.Decode(&skip); err != nil {
			return nil, err
		}
	}
	return keys, nil
}

// CanonicalName converts an arbitrary object key into a lowercase ASCII
// identifier:
//  1. trim and lowercase
//  2. strip accents (NFD → remove Mn → NFC)
//  3. keep [a-z0-9_]; convert space/dash/dot to underscore; drop others
//  4. collapse repeated underscores and trim them from both ends
//
// Keys that reduce to nothing are returned trimmed and lowercased so they
// still round-trip into the raw artifact.
func CanonicalName(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))

	t := transform.Chain(
		norm.NFD,
		runes.Remove(runes.In(unicode.Mn)),
		norm.NFC,
	)
	ascii, _, err := transform.String(t, s)
	if err != nil {
		ascii = s
	}

	var b strings.Builder
	prevUnderscore := false
	for _, r := range ascii {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			b.WriteRune(r)
			prevUnderscore = false
		case r == '_' || r == ' ' || r == '-' || r == '.':
			if !prevUnderscore {
				b.WriteRune('_')
				prevUnderscore = true
			}
		}
	}
	out := strings.Trim(b.String(), "_")
	if out == "" {
		return s
	}
	return out
}
