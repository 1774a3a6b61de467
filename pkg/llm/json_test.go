package llm

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type gradeReply struct {
	Grade string `json:"grade"`
	Score int    `json:"score"`
}

func TestParseJSONResponse(t *testing.T) {
	tests := []struct {
		name  string
		input string
	}{
		{"bare object", `{"grade":"B","score":78}`},
		{"reasoning block", "<think>the grade {maybe} is B</think>\n{\"grade\":\"B\",\"score\":78}"},
		{"markdown fence", "```json\n{\"grade\": \"B\", \"score\": 78}\n```"},
		{"surrounding prose", `Here you go: {"grade":"B","score":78} Let me know.`},
		{"braces in strings", `{"grade":"B","score":78,"note":"see {appendix}"}`},
		{"stray brace before object", `Result {incomplete: {"grade":"B","score":78}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseJSONResponse[gradeReply](tt.input)
			require.NoError(t, err)
			assert.Equal(t, gradeReply{Grade: "B", Score: 78}, got)
		})
	}
}

func TestParseJSONResponse_NoObject(t *testing.T) {
	for _, input := range []string{"", "no structured output", `{"grade": "B"`, `["B", 78]`} {
		_, err := ParseJSONResponse[gradeReply](input)
		assert.ErrorIs(t, err, errNoJSONObject, "input %q", input)
	}
}

func TestParseJSONResponse_KeepsIntegerNumbers(t *testing.T) {
	got, err := ParseJSONResponse[map[string]any](`{"fields": {"score": 78}, "confidence": 0.9}`)
	require.NoError(t, err)

	fields, ok := got["fields"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, json.Number("78"), fields["score"])
	assert.Equal(t, json.Number("0.9"), got["confidence"])
}
