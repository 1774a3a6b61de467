package models

import "github.com/farmer-power/collection-engine/pkg/apperrors"

// ExtractionUnavailableWarning is the single warning recorded when the
// extraction capability errors or times out.
const ExtractionUnavailableWarning = "extraction unavailable"

// Advisory is a non-fatal condition reported with an accepted payload. Kind
// lets producers tell the conditions apart without parsing Message.
type Advisory struct {
	Kind    apperrors.Kind `json:"kind"`
	Message string         `json:"message"`
}

// ExtractionResult is the interpreted output of the extraction agent.
type ExtractionResult struct {
	Fields           map[string]any `json:"fields"`
	Warnings         []string       `json:"warnings"`
	ValidationPassed bool           `json:"validation_passed"`
	Confidence       float64        `json:"confidence"`

	// Unavailable is set when the result is the fallback, not a real answer.
	Unavailable bool `json:"-"`
	// Advisories tags each entry of Warnings with its condition kind.
	Advisories []Advisory `json:"-"`
}

// FallbackExtractionResult is the defined result for an unavailable extractor:
// zero confidence, no fields, not passed, one warning.
func FallbackExtractionResult() *ExtractionResult {
	return &ExtractionResult{
		Fields:           map[string]any{},
		Warnings:         []string{ExtractionUnavailableWarning},
		ValidationPassed: false,
		Confidence:       0,
		Unavailable:      true,
		Advisories: []Advisory{
			{Kind: apperrors.KindExtractionUnavailable, Message: ExtractionUnavailableWarning},
		},
	}
}

// SemanticAdvisories tags warnings produced by a successful extraction.
func SemanticAdvisories(warnings []string) []Advisory {
	if len(warnings) == 0 {
		return nil
	}
	out := make([]Advisory, len(warnings))
	for i, w := range warnings {
		out[i] = Advisory{Kind: apperrors.KindSemanticWarning, Message: w}
	}
	return out
}
