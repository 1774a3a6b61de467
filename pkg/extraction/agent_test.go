package extraction

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/farmer-power/collection-engine/pkg/llm"
	"github.com/farmer-power/collection-engine/pkg/models"
)

func float(v float64) *float64 { return &v }

func qcProfile() models.ExtractionProfile {
	return models.ExtractionProfile{
		Fields:  []string{"grade", "score"},
		Ruleset: "qc-grading",
		Rules: []models.RangeRule{
			{Field: "score", Min: float(0), Max: float(100)},
			{Field: "grade", OneOf: []string{"A", "B", "C", "D"}},
		},
	}
}

func qcRequest() Request {
	return Request{
		SourceType: "qc-analyzer",
		Payload:    []byte(`{"farmer_id":"WM-4521","factory_id":"F1","grade":"B","score":72}`),
		Profile:    qcProfile(),
		RequestID:  "req-1",
	}
}

func newAdapter(client llm.LLMClient) *AgentAdapter {
	return NewAgentAdapter(client, AgentConfig{
		Timeout: time.Second,
		Breaker: llm.CircuitBreakerConfig{Threshold: 2, ResetAfter: time.Hour},
	}, zap.NewNop())
}

func TestAgentAdapter_Extract(t *testing.T) {
	mock := llm.NewStaticMockLLMClient(`{"fields":{"grade":"B","score":72},"warnings":[],"validation_passed":true,"confidence":0.92}`)
	adapter := newAdapter(mock)

	res := adapter.Extract(context.Background(), qcRequest())

	require.NotNil(t, res)
	assert.False(t, res.Unavailable)
	assert.True(t, res.ValidationPassed)
	assert.InDelta(t, 0.92, res.Confidence, 1e-9)
	assert.Equal(t, map[string]any{"grade": "B", "score": float64(72)}, res.Fields)
	assert.Empty(t, res.Warnings)

	prompt, system := mock.LastPrompt()
	assert.Contains(t, prompt, "qc-grading")
	assert.Contains(t, prompt, `"farmer_id":"WM-4521"`)
	assert.Contains(t, system, "v1")
}

func TestAgentAdapter_PassesRequestID(t *testing.T) {
	var seen string
	mock := llm.NewMockLLMClient()
	mock.GenerateResponseFunc = func(ctx context.Context, _, _ string, _ float64, _ bool) (*llm.GenerateResponseResult, error) {
		seen, _ = llm.RequestIDFromContext(ctx)
		return &llm.GenerateResponseResult{Content: `{"fields":{},"validation_passed":true,"confidence":1}`}, nil
	}

	newAdapter(mock).Extract(context.Background(), qcRequest())
	assert.Equal(t, "req-1", seen)
}

func TestAgentAdapter_Normalizes(t *testing.T) {
	// Unknown fields dropped, missing field warned, confidence clamped,
	// duplicate warnings collapsed, and the rule check overrides the model.
	mock := llm.NewStaticMockLLMClient("Here you go:\n```json\n" +
		`{"fields":{"score":140,"moisture":12},"warnings":["odd reading","odd reading"],"validation_passed":true,"confidence":1.7}` +
		"\n```")

	res := newAdapter(mock).Extract(context.Background(), qcRequest())

	assert.Equal(t, map[string]any{"score": float64(140)}, res.Fields)
	assert.False(t, res.ValidationPassed)
	assert.Equal(t, 1.0, res.Confidence)
	assert.Equal(t, []string{
		"odd reading",
		`field "grade" not extracted`,
		`field "score" value 140 outside [0, 100]`,
	}, res.Warnings)
}

func TestAgentAdapter_LooselyTypedWarnings(t *testing.T) {
	mock := llm.NewStaticMockLLMClient(
		`{"fields":{"grade":"B","score":72},"warnings":["leaf sample small", 3, null, ""],"validation_passed":true,"confidence":0.8}`)

	res := newAdapter(mock).Extract(context.Background(), qcRequest())

	assert.True(t, res.ValidationPassed)
	assert.Equal(t, []string{"leaf sample small", "3"}, res.Warnings)
}

func TestAgentAdapter_FallbackOnError(t *testing.T) {
	tests := []struct {
		name string
		fn   func(ctx context.Context) (*llm.GenerateResponseResult, error)
	}{
		{
			name: "provider error",
			fn: func(context.Context) (*llm.GenerateResponseResult, error) {
				return nil, llm.NewError(llm.ErrorTypeEndpoint, "connection refused", true, errors.New("dial tcp"))
			},
		},
		{
			name: "unparseable",
			fn: func(context.Context) (*llm.GenerateResponseResult, error) {
				return &llm.GenerateResponseResult{Content: "I could not read that"}, nil
			},
		},
		{
			name: "incomplete",
			fn: func(context.Context) (*llm.GenerateResponseResult, error) {
				return &llm.GenerateResponseResult{Content: `{"fields":{"grade":"B"}}`}, nil
			},
		},
		{
			name: "timeout",
			fn: func(ctx context.Context) (*llm.GenerateResponseResult, error) {
				<-ctx.Done()
				return nil, ctx.Err()
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mock := llm.NewMockLLMClient()
			mock.GenerateResponseFunc = func(ctx context.Context, _, _ string, _ float64, _ bool) (*llm.GenerateResponseResult, error) {
				return tt.fn(ctx)
			}
			adapter := NewAgentAdapter(mock, AgentConfig{Timeout: 20 * time.Millisecond}, zap.NewNop())

			res := adapter.Extract(context.Background(), qcRequest())

			assert.Equal(t, models.FallbackExtractionResult(), res)
		})
	}
}

func TestAgentAdapter_CircuitOpensAfterFailures(t *testing.T) {
	mock := llm.NewMockLLMClient()
	mock.GenerateResponseFunc = func(context.Context, string, string, float64, bool) (*llm.GenerateResponseResult, error) {
		return nil, errors.New("502 bad gateway")
	}
	adapter := newAdapter(mock)

	for i := 0; i < 2; i++ {
		assert.True(t, adapter.Extract(context.Background(), qcRequest()).Unavailable)
	}
	assert.Equal(t, llm.CircuitOpen, adapter.BreakerState())

	res := adapter.Extract(context.Background(), qcRequest())
	assert.True(t, res.Unavailable)
	assert.Equal(t, 2, mock.Calls(), "open circuit must not reach the provider")
}
