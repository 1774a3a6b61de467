// Package linkage copies a source's designated link field into the
// document's link_reference. The value is trusted as supplied: it is never
// checked against a farmer or factory registry.
package linkage

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/farmer-power/collection-engine/pkg/apperrors"
	"github.com/farmer-power/collection-engine/pkg/models"
)

// MissingWarning is the advisory recorded when the link field is absent or empty.
func MissingWarning(field string) string {
	return fmt.Sprintf("link reference %q missing", field)
}

// Result is the resolved link and the warning to record, if any.
type Result struct {
	LinkReference string
	Warning       string
}

// Resolve reads field from the extraction result first and falls back to the
// payload's top level. Non-string scalars are stringified; objects, arrays
// and blanks count as missing.
func Resolve(field string, extraction *models.ExtractionResult, payload []byte) Result {
	if extraction != nil {
		if s, ok := stringify(extraction.Fields[field]); ok {
			return Result{LinkReference: s}
		}
	}

	if obj, ok := decodeObject(payload); ok {
		if s, ok := stringify(obj[field]); ok {
			return Result{LinkReference: s}
		}
	}

	return Result{Warning: MissingWarning(field)}
}

// Apply resolves the link for src and records it on doc. It returns the
// linkage_missing advisory when no value was found, nil otherwise.
func Apply(doc *models.Document, src models.SourceConfig, extraction *models.ExtractionResult) *models.Advisory {
	res := Resolve(src.LinkField, extraction, doc.RawPayload)
	doc.LinkReference = res.LinkReference
	if res.Warning == "" {
		return nil
	}
	doc.AddWarning(res.Warning)
	return &models.Advisory{Kind: apperrors.KindLinkageMissing, Message: res.Warning}
}

func decodeObject(payload []byte) (map[string]any, bool) {
	if len(payload) == 0 {
		return nil, false
	}
	dec := json.NewDecoder(bytes.NewReader(payload))
	dec.UseNumber()
	var obj map[string]any
	if err := dec.Decode(&obj); err != nil {
		return nil, false
	}
	return obj, true
}

func stringify(v any) (string, bool) {
	var s string
	switch t := v.(type) {
	case string:
		s = t
	case json.Number:
		s = t.String()
	case float64:
		s = strconv.FormatFloat(t, 'f', -1, 64)
	case int:
		s = strconv.Itoa(t)
	case int64:
		s = strconv.FormatInt(t, 10)
	case bool:
		s = strconv.FormatBool(t)
	default:
		return "", false
	}
	s = strings.TrimSpace(s)
	return s, s != ""
}
