package repositories

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestFieldContainment(t *testing.T) {
	tests := []struct {
		name  string
		key   string
		value string
		want  []string
	}{
		{"text", "grade", "A", []string{`{"grade":"A"}`}},
		{"integer text", "score", "87", []string{`{"score":"87"}`, `{"score":87}`}},
		{"decimal text", "moisture", "12.5", []string{`{"moisture":"12.5"}`, `{"moisture":12.5}`}},
		{"boolean text", "organic", "true", []string{`{"organic":"true"}`, `{"organic":true}`}},
		{"not a literal", "organic", "True", []string{`{"organic":"True"}`}},
		{"quotes are escaped", "note", `say "hi"`, []string{`{"note":"say \"hi\""}`}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, fieldContainment(tt.key, tt.value))
		})
	}
}
