// Package jsonutil tolerates loosely typed JSON produced by language models.
package jsonutil

import (
	"bytes"
	"encoding/json"
	"strconv"
	"strings"
)

// FlexibleString renders a scalar JSON value as text. Models asked for a
// string sometimes return a number or boolean instead. ok is false for
// null, empty input, and whitespace-only strings.
func FlexibleString(raw json.RawMessage) (string, bool) {
	if len(raw) == 0 || string(raw) == "null" {
		return "", false
	}

	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		s = strings.TrimSpace(s)
		return s, s != ""
	}

	var f float64
	if err := json.Unmarshal(raw, &f); err == nil {
		return strconv.FormatFloat(f, 'f', -1, 64), true
	}

	var b bool
	if err := json.Unmarshal(raw, &b); err == nil {
		return strconv.FormatBool(b), true
	}

	// Objects and arrays are kept as compact JSON.
	var buf bytes.Buffer
	if err := json.Compact(&buf, raw); err == nil {
		return buf.String(), true
	}
	return string(raw), true
}

// FlexibleStrings converts a list of loosely typed values, dropping empty ones.
func FlexibleStrings(raw []json.RawMessage) []string {
	out := make([]string, 0, len(raw))
	for _, r := range raw {
		if s, ok := FlexibleString(r); ok {
			out = append(out, s)
		}
	}
	return out
}
