package extraction

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/farmer-power/collection-engine/pkg/models"
)

// MissingFieldWarning is recorded for each profile field without a value.
func MissingFieldWarning(field string) string {
	return fmt.Sprintf("field %q not extracted", field)
}

// NormalizeValue converts decoded JSON into the shapes the index store
// round-trips: json.Number becomes float64, containers are walked.
func NormalizeValue(v any) any {
	switch t := v.(type) {
	case json.Number:
		if f, err := t.Float64(); err == nil {
			return f
		}
		return t.String()
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, val := range t {
			out[k] = NormalizeValue(val)
		}
		return out
	case []any:
		out := make([]any, len(t))
		for i, val := range t {
			out[i] = NormalizeValue(val)
		}
		return out
	default:
		return v
	}
}

// lookup resolves a dotted field path ("device.serial") in a decoded object.
func lookup(obj map[string]any, path string) (any, bool) {
	var cur any = obj
	for _, part := range strings.Split(path, ".") {
		m, ok := cur.(map[string]any)
		if !ok {
			return nil, false
		}
		cur, ok = m[part]
		if !ok {
			return nil, false
		}
	}
	return cur, cur != nil
}

// clampConfidence forces a score into [0,1]; NaN becomes 0.
func clampConfidence(c float64) float64 {
	switch {
	case math.IsNaN(c) || c < 0:
		return 0
	case c > 1:
		return 1
	}
	return c
}

// appendUnique appends msgs to dst, skipping blanks and repeats, keeping order.
func appendUnique(dst []string, msgs ...string) []string {
	for _, m := range msgs {
		m = strings.TrimSpace(m)
		if m == "" {
			continue
		}
		dup := false
		for _, existing := range dst {
			if existing == m {
				dup = true
				break
			}
		}
		if !dup {
			dst = append(dst, m)
		}
	}
	return dst
}

// applyRules evaluates the profile's range rules against extracted fields.
// Missing fields are skipped; they already carry a missing-field warning.
func applyRules(fields map[string]any, rules []models.RangeRule) []string {
	var warnings []string
	for _, rule := range rules {
		val, ok := fields[rule.Field]
		if !ok || val == nil {
			continue
		}

		if rule.Min != nil || rule.Max != nil {
			f, numeric := toFloat(val)
			if !numeric {
				warnings = append(warnings, ruleMessage(rule, fmt.Sprintf("field %q is not numeric", rule.Field)))
				continue
			}
			if (rule.Min != nil && f < *rule.Min) || (rule.Max != nil && f > *rule.Max) {
				warnings = append(warnings, ruleMessage(rule,
					fmt.Sprintf("field %q value %s outside %s", rule.Field, formatNumber(f), rangeText(rule))))
				continue
			}
		}

		if len(rule.OneOf) > 0 {
			s := fmt.Sprint(val)
			allowed := false
			for _, opt := range rule.OneOf {
				if opt == s {
					allowed = true
					break
				}
			}
			if !allowed {
				warnings = append(warnings, ruleMessage(rule,
					fmt.Sprintf("field %q value %q not one of [%s]", rule.Field, s, strings.Join(rule.OneOf, ", "))))
			}
		}
	}
	return warnings
}

func ruleMessage(rule models.RangeRule, fallback string) string {
	if rule.Message != "" {
		return rule.Message
	}
	return fallback
}

func rangeText(rule models.RangeRule) string {
	lo, hi := "-inf", "+inf"
	if rule.Min != nil {
		lo = formatNumber(*rule.Min)
	}
	if rule.Max != nil {
		hi = formatNumber(*rule.Max)
	}
	return "[" + lo + ", " + hi + "]"
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(n), 64)
		return f, err == nil
	}
	return 0, false
}

func formatNumber(f float64) string {
	return strconv.FormatFloat(f, 'f', -1, 64)
}

// finalize applies the shared post-processing to a raw result: keep only
// profile fields, warn on missing ones, evaluate rules, clamp confidence.
func finalize(fields map[string]any, warnings []string, passed bool, confidence float64, profile models.ExtractionProfile) *models.ExtractionResult {
	kept := make(map[string]any, len(profile.Fields))
	var missing []string
	for _, name := range profile.Fields {
		val, ok := fields[name]
		if !ok || val == nil {
			missing = append(missing, MissingFieldWarning(name))
			continue
		}
		kept[name] = NormalizeValue(val)
	}

	ruleWarnings := applyRules(kept, profile.Rules)

	out := appendUnique(nil, warnings...)
	out = appendUnique(out, missing...)
	out = appendUnique(out, ruleWarnings...)

	return &models.ExtractionResult{
		Fields:           kept,
		Warnings:         out,
		ValidationPassed: passed && len(missing) == 0 && len(ruleWarnings) == 0,
		Confidence:       clampConfidence(confidence),
		Advisories:       models.SemanticAdvisories(out),
	}
}
