package llm

import (
	"encoding/json"
	"errors"
	"regexp"
	"strings"
)

// reasoningBlock matches a leading <think>...</think> block some models emit.
var reasoningBlock = regexp.MustCompile(`(?s)^\s*<think>.*?</think>`)

var errNoJSONObject = errors.New("no JSON object in model response")

// ParseJSONResponse decodes the first JSON object in a model reply into T.
// Markdown fences, prose around the object and a leading reasoning block are
// skipped. Numbers decode as json.Number so integer field values keep their form.
func ParseJSONResponse[T any](response string) (T, error) {
	var out T
	text := reasoningBlock.ReplaceAllString(response, "")

	for offset := 0; offset < len(text); {
		i := strings.IndexByte(text[offset:], '{')
		if i < 0 {
			break
		}
		start := offset + i

		dec := json.NewDecoder(strings.NewReader(text[start:]))
		dec.UseNumber()
		var candidate T
		if err := dec.Decode(&candidate); err == nil {
			return candidate, nil
		}
		offset = start + 1
	}
	return out, errNoJSONObject
}
