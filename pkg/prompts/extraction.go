package prompts

import (
	"fmt"
	"strconv"
	"strings"
)

// ExtractionContractVersion tags the JSON shape the model is asked to return.
const ExtractionContractVersion = "v1"

// RuleContext describes one reasonableness rule for the prompt.
type RuleContext struct {
	Field string
	Min   *float64
	Max   *float64
	OneOf []string
}

// ExtractionContext is everything the prompt needs about one payload.
type ExtractionContext struct {
	SourceType string
	Fields     []string
	Ruleset    string
	Rules      []RuleContext
	Payload    string
}

// BuildExtractionPrompt creates the user prompt for field extraction. Target
// fields are listed in profile order so the model sees a stable layout.
func BuildExtractionPrompt(c ExtractionContext) string {
	var prompt strings.Builder

	prompt.WriteString("# Field Extraction\n\n")
	prompt.WriteString(fmt.Sprintf("Source type: %s\n", c.SourceType))
	if c.Ruleset != "" {
		prompt.WriteString(fmt.Sprintf("Ruleset: %s\n", c.Ruleset))
	}
	prompt.WriteString("\n")

	prompt.WriteString("## Target Fields\n\n")
	for i, f := range c.Fields {
		prompt.WriteString(fmt.Sprintf("%d. `%s`\n", i+1, f))
	}
	prompt.WriteString("\n")

	if len(c.Rules) > 0 {
		prompt.WriteString("## Reasonableness Rules\n\n")
		prompt.WriteString("Add a warning for every rule a value breaks and set `validation_passed` to false.\n\n")
		for _, r := range c.Rules {
			prompt.WriteString("- " + describeRule(r) + "\n")
		}
		prompt.WriteString("\n")
	}

	prompt.WriteString("## Payload\n\n")
	prompt.WriteString("```json\n")
	prompt.WriteString(c.Payload)
	if !strings.HasSuffix(c.Payload, "\n") {
		prompt.WriteString("\n")
	}
	prompt.WriteString("```\n\n")

	prompt.WriteString("## Output Format\n\n")
	prompt.WriteString("Respond in JSON with:\n")
	prompt.WriteString("- `fields`: object keyed by target field name; omit fields you cannot find\n")
	prompt.WriteString("- `warnings`: array of short strings describing semantic problems (may be empty)\n")
	prompt.WriteString("- `validation_passed`: true when no rule is broken\n")
	prompt.WriteString("- `confidence`: 0.0-1.0 (how sure you are of the extracted values)\n\n")
	prompt.WriteString("Return ONLY the JSON, no additional text.\n")

	return prompt.String()
}

// BuildExtractionSystemMessage returns the system message for extraction.
func BuildExtractionSystemMessage() string {
	return `You extract structured fields from agricultural sensor and quality-control payloads. ` +
		`Never invent values that are not present in the payload. ` +
		`Output contract ` + ExtractionContractVersion + `: a single JSON object with keys fields, warnings, validation_passed, confidence.`
}

func describeRule(r RuleContext) string {
	var parts []string
	switch {
	case r.Min != nil && r.Max != nil:
		parts = append(parts, fmt.Sprintf("between %s and %s", formatFloat(*r.Min), formatFloat(*r.Max)))
	case r.Min != nil:
		parts = append(parts, "at least "+formatFloat(*r.Min))
	case r.Max != nil:
		parts = append(parts, "at most "+formatFloat(*r.Max))
	}
	if len(r.OneOf) > 0 {
		parts = append(parts, "one of "+strings.Join(r.OneOf, ", "))
	}
	if len(parts) == 0 {
		return fmt.Sprintf("`%s` must be present", r.Field)
	}
	return fmt.Sprintf("`%s` must be %s", r.Field, strings.Join(parts, " and "))
}

func formatFloat(f float64) string {
	return strconv.FormatFloat(f, 'f', -1, 64)
}
