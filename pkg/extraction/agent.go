package extraction

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/farmer-power/collection-engine/pkg/jsonutil"
	"github.com/farmer-power/collection-engine/pkg/llm"
	"github.com/farmer-power/collection-engine/pkg/logging"
	"github.com/farmer-power/collection-engine/pkg/models"
	"github.com/farmer-power/collection-engine/pkg/prompts"
)

// AgentConfig bounds calls to the language model.
type AgentConfig struct {
	Timeout     time.Duration
	Temperature float64
	Breaker     llm.CircuitBreakerConfig
}

// agentResponse is the v1 wire contract returned by the model.
type agentResponse struct {
	Fields           map[string]any    `json:"fields"`
	Warnings         []json.RawMessage `json:"warnings"`
	ValidationPassed *bool             `json:"validation_passed"`
	Confidence       *float64          `json:"confidence"`
}

var errIncompleteResponse = errors.New("response missing validation_passed or confidence")

// AgentAdapter extracts fields by prompting a language model. Any failure,
// including an open circuit, yields the fallback result.
type AgentAdapter struct {
	client  llm.LLMClient
	breaker *llm.CircuitBreaker
	cfg     AgentConfig
	logger  *zap.Logger
}

// NewAgentAdapter creates an adapter around client.
func NewAgentAdapter(client llm.LLMClient, cfg AgentConfig, logger *zap.Logger) *AgentAdapter {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 20 * time.Second
	}
	if cfg.Breaker.Threshold <= 0 {
		cfg.Breaker = llm.DefaultCircuitBreakerConfig()
	}
	return &AgentAdapter{
		client:  client,
		breaker: llm.NewCircuitBreaker(cfg.Breaker),
		cfg:     cfg,
		logger:  logger.Named("extraction-agent"),
	}
}

// BreakerState exposes the circuit state for health reporting.
func (a *AgentAdapter) BreakerState() llm.CircuitState {
	return a.breaker.State()
}

// Extract implements Extractor.
func (a *AgentAdapter) Extract(ctx context.Context, req Request) *models.ExtractionResult {
	var resp agentResponse
	err := a.breaker.Do(func() error {
		var callErr error
		resp, callErr = a.call(ctx, req)
		return callErr
	})
	if err != nil {
		fields := []zap.Field{
			zap.String("source_type", req.SourceType),
			zap.String("model", a.client.GetModel()),
			zap.Error(err),
		}
		if errors.Is(err, llm.ErrCircuitOpen) {
			a.logger.Debug("Circuit open, using fallback extraction", fields...)
		} else {
			a.logger.Warn("Extraction failed, using fallback", append(fields,
				zap.String("error_type", string(llm.GetErrorType(err))))...)
		}
		return models.FallbackExtractionResult()
	}

	return finalize(resp.Fields, jsonutil.FlexibleStrings(resp.Warnings), *resp.ValidationPassed, *resp.Confidence, req.Profile)
}

func (a *AgentAdapter) call(ctx context.Context, req Request) (agentResponse, error) {
	ctx, cancel := context.WithTimeout(ctx, a.cfg.Timeout)
	defer cancel()
	ctx = llm.WithRequestID(ctx, req.RequestID)

	prompt := prompts.BuildExtractionPrompt(promptContext(req))
	start := time.Now()
	result, err := a.client.GenerateResponse(ctx, prompt, prompts.BuildExtractionSystemMessage(), a.cfg.Temperature, false)
	if err != nil {
		return agentResponse{}, err
	}

	a.logger.Debug("Extraction response received",
		zap.String("source_type", req.SourceType),
		zap.Duration("elapsed", time.Since(start)),
		zap.Int("total_tokens", result.TotalTokens))

	resp, err := llm.ParseJSONResponse[agentResponse](result.Content)
	if err != nil {
		a.logger.Debug("Unparseable extraction response",
			zap.String("preview", logging.PreviewPayload([]byte(result.Content))))
		return agentResponse{}, llm.NewError(llm.ErrorTypeResponse, "unparseable extraction response", false, err)
	}
	if resp.ValidationPassed == nil || resp.Confidence == nil {
		return agentResponse{}, llm.NewError(llm.ErrorTypeResponse, "incomplete extraction response", false, errIncompleteResponse)
	}
	return resp, nil
}

func promptContext(req Request) prompts.ExtractionContext {
	rules := make([]prompts.RuleContext, 0, len(req.Profile.Rules))
	for _, r := range req.Profile.Rules {
		rules = append(rules, prompts.RuleContext{Field: r.Field, Min: r.Min, Max: r.Max, OneOf: r.OneOf})
	}
	return prompts.ExtractionContext{
		SourceType: req.SourceType,
		Fields:     req.Profile.Fields,
		Ruleset:    req.Profile.Ruleset,
		Rules:      rules,
		Payload:    string(req.Payload),
	}
}

var _ Extractor = (*AgentAdapter)(nil)
