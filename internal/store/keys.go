package store

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"regexp"
	"strings"
)

// Key is an int64 or a non-empty string.
type Key = any

var identRe = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

func validIdent(name string) error {
	if !identRe.MatchString(name) {
		return fmt.Errorf("%w: %q", ErrInvalidName, name)
	}
	return nil
}

func quoteIdent(s string) string {
	return `"` + strings.ReplaceAll(s, `"`, `""`) + `"`
}

func dataTable(name string) string { return quoteIdent("kv_" + name) }

func indexName(table, index string) string { return quoteIdent("ix_" + table + "_" + index) }

func jsonPath(keyPath string) string { return "$." + keyPath }

// NormalizeKey maps the accepted Go key types onto int64 or string.
func NormalizeKey(k any) (Key, error) {
	switch v := k.(type) {
	case int:
		return int64(v), nil
	case int32:
		return int64(v), nil
	case int64:
		return v, nil
	case uint32:
		return int64(v), nil
	case float64:
		if v != math.Trunc(v) || math.IsInf(v, 0) || math.IsNaN(v) {
			return nil, fmt.Errorf("%w: %v", ErrMalformedKey, v)
		}
		return int64(v), nil
	case json.Number:
		n, err := v.Int64()
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrMalformedKey, v)
		}
		return n, nil
	case string:
		if v == "" {
			return nil, fmt.Errorf("%w: empty string", ErrMalformedKey)
		}
		return v, nil
	case []byte:
		return NormalizeKey(string(v))
	default:
		return nil, fmt.Errorf("%w: unsupported type %T", ErrMalformedKey, k)
	}
}

// encodeRecord marshals a record to a JSON object. []byte and
// json.RawMessage are taken to be encoded JSON already.
func encodeRecord(record any) (json.RawMessage, error) {
	var raw []byte
	switch v := record.(type) {
	case json.RawMessage:
		raw = v
	case []byte:
		raw = v
	default:
		var err error
		if raw, err = json.Marshal(record); err != nil {
			return nil, fmt.Errorf("failed to marshal record: %w", err)
		}
	}
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || raw[0] != '{' {
		return nil, fmt.Errorf("%w: record is not a JSON object", ErrMalformedKey)
	}
	return raw, nil
}

// extractKey reads keyPath from an encoded record. A nil Key without error
// means the field is absent or null.
func extractKey(raw json.RawMessage, keyPath string) (Key, error) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(raw, &fields); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedKey, err)
	}
	field, ok := fields[keyPath]
	if !ok || string(field) == "null" {
		return nil, nil
	}
	dec := json.NewDecoder(bytes.NewReader(field))
	dec.UseNumber()

	var v any
	if err := dec.Decode(&v); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedKey, err)
	}
	return NormalizeKey(v)
}

// scanKey converts a scanned key column back into a Key.
func scanKey(v any) Key {
	switch k := v.(type) {
	case []byte:
		return string(k)
	case int:
		return int64(k)
	default:
		return k
	}
}
