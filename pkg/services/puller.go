package services

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/farmer-power/collection-engine/pkg/blobstore"
	"github.com/farmer-power/collection-engine/pkg/config"
	"github.com/farmer-power/collection-engine/pkg/logging"
	"github.com/farmer-power/collection-engine/pkg/models"
	"github.com/farmer-power/collection-engine/pkg/retry"
	"github.com/farmer-power/collection-engine/pkg/sources"
)

const (
	maxPullResponseBytes = 32 << 20
	maxConcurrentPolls   = 4
	pullRetryInitial     = time.Second
	pullRetryMax         = 30 * time.Second
)

// FetchError is a failed poll of a pull source. 429 and 503 responses carry
// the server's Retry-After so the retry waits for it.
type FetchError struct {
	SourceType string
	StatusCode int // 0 for transport errors
	Wait       time.Duration
	Err        error
}

func (e *FetchError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("fetch %s: HTTP %d: %v", e.SourceType, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("fetch %s: %v", e.SourceType, e.Err)
}

func (e *FetchError) Unwrap() error { return e.Err }

// IsRetryable reports whether the fetch may succeed if repeated.
func (e *FetchError) IsRetryable() bool {
	switch {
	case e.StatusCode == 0:
		// Per-request timeouts are retried; the caller's own cancellation is not.
		return !errors.Is(e.Err, context.Canceled)
	case e.StatusCode == http.StatusTooManyRequests, e.StatusCode >= 500:
		return true
	}
	return false
}

// RetryAfter implements retry.DelayHinter.
func (e *FetchError) RetryAfter() time.Duration { return e.Wait }

// PullReport summarizes one poll of one source.
type PullReport struct {
	SourceType string `json:"source_type"`
	Fetched    int    `json:"fetched"`
	Stored     int    `json:"stored"`
	Pending    int    `json:"pending_index"`
	Duplicates int    `json:"duplicates"`
	Rejected   int    `json:"rejected"`
	Failed     int    `json:"failed"`
}

// PullService polls pull-mode sources and feeds each item to the pipeline.
type PullService interface {
	// PollSource fetches src once and ingests every item in the response.
	PollSource(ctx context.Context, src models.SourceConfig) (*PullReport, error)

	// PollDue polls, concurrently, every source whose interval has elapsed.
	PollDue(ctx context.Context) []*PullReport

	// RunScheduler starts a background loop calling PollDue every tick.
	RunScheduler(ctx context.Context)
}

type pullService struct {
	registry *sources.Registry
	ingest   IngestionService
	client   *http.Client
	limiter  *rate.Limiter
	cfg      config.PullConfig
	logger   *zap.Logger

	retryInitial time.Duration
	retryMax     time.Duration

	mu       sync.Mutex
	lastPoll map[string]time.Time
	now      func() time.Time
}

// NewPullService creates the pull scheduler. A nil client uses http.DefaultClient.
func NewPullService(registry *sources.Registry, ingest IngestionService, client *http.Client, cfg config.PullConfig, logger *zap.Logger) PullService {
	if client == nil {
		client = http.DefaultClient
	}
	if cfg.MaxAttempts < 1 {
		cfg.MaxAttempts = 3
	}
	if cfg.Tick <= 0 {
		cfg.Tick = 30 * time.Second
	}
	limit := rate.Inf
	if cfg.RequestsPerSecond > 0 {
		limit = rate.Limit(cfg.RequestsPerSecond)
	}
	return &pullService{
		registry:     registry,
		ingest:       ingest,
		client:       client,
		limiter:      rate.NewLimiter(limit, 1),
		cfg:          cfg,
		logger:       logger.Named("puller"),
		retryInitial: pullRetryInitial,
		retryMax:     pullRetryMax,
		lastPoll:     make(map[string]time.Time),
		now:          time.Now,
	}
}

var _ PullService = (*pullService)(nil)

func (s *pullService) RunScheduler(ctx context.Context) {
	go func() {
		s.logger.Info("Pull scheduler started",
			zap.Duration("tick", s.cfg.Tick),
			zap.Int("sources", len(s.registry.PullSources())))

		s.PollDue(ctx)

		ticker := time.NewTicker(s.cfg.Tick)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				s.logger.Info("Pull scheduler stopped")
				return
			case <-ticker.C:
				s.PollDue(ctx)
			}
		}
	}()
}

func (s *pullService) PollDue(ctx context.Context) []*PullReport {
	now := s.now()
	var due []models.SourceConfig

	s.mu.Lock()
	for _, src := range s.registry.PullSources() {
		last, polled := s.lastPoll[src.SourceType]
		if !polled || now.Sub(last) >= src.Pull.Interval {
			due = append(due, src)
			s.lastPoll[src.SourceType] = now
		}
	}
	s.mu.Unlock()

	reports := make([]*PullReport, len(due))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(maxConcurrentPolls)
	for i, src := range due {
		g.Go(func() error {
			report, err := s.PollSource(gctx, src)
			if err != nil {
				// One failing source must not cancel the others.
				s.logger.Error("Poll failed",
					zap.String("source_type", src.SourceType),
					zap.Error(err))
			}
			reports[i] = report
			return nil
		})
	}
	_ = g.Wait()
	return reports
}

func (s *pullService) PollSource(ctx context.Context, src models.SourceConfig) (*PullReport, error) {
	report := &PullReport{SourceType: src.SourceType}
	if src.Mode != models.SourceModePull || src.Pull == nil {
		return report, fmt.Errorf("source %q is not a pull source", src.SourceType)
	}

	cfg := retry.Attempts(s.cfg.MaxAttempts, s.retryInitial, s.retryMax)
	cfg.OnRetry = func(attempt int, err error, wait time.Duration) {
		s.logger.Warn("Fetch failed, retrying",
			zap.String("source_type", src.SourceType),
			zap.Int("attempt", attempt),
			zap.Duration("wait", wait),
			zap.Error(err))
	}

	body, err := retry.DoIfRetryableWithResult(ctx, cfg, func() ([]byte, error) {
		if err := s.limiter.Wait(ctx); err != nil {
			return nil, retry.Permanent(err)
		}
		return s.fetch(ctx, src)
	})
	if err != nil {
		return report, err
	}

	items, err := splitItems(body, src.Pull.ItemsKey)
	if err != nil {
		s.logger.Warn("Unusable pull response",
			zap.String("source_type", src.SourceType),
			zap.String("preview", logging.PreviewPayload(body)),
			zap.Error(err))
		return report, fmt.Errorf("source %s: %w", src.SourceType, err)
	}
	report.Fetched = len(items)

	pullCtx := models.WithProvenance(ctx, models.Provenance{Channel: models.ChannelPull})
	for _, item := range items {
		if err := ctx.Err(); err != nil {
			return report, err
		}
		res, err := s.ingest.Ingest(pullCtx, IngestRequest{
			SourceType:     src.SourceType,
			Payload:        item,
			IdempotencyKey: PullIdempotencyKey(src.SourceType, item),
		})
		switch {
		case err != nil && IsRejection(err):
			report.Rejected++
			s.logger.Debug("Pulled item rejected",
				zap.String("source_type", src.SourceType),
				zap.Error(err))
		case err != nil:
			report.Failed++
			s.logger.Warn("Pulled item not stored",
				zap.String("source_type", src.SourceType),
				zap.Error(err))
		case res.Status == IngestStatusDuplicate:
			report.Duplicates++
		case res.Status == IngestStatusPendingIndex:
			report.Pending++
		default:
			report.Stored++
		}
	}

	s.logger.Info("Source polled",
		zap.String("source_type", src.SourceType),
		zap.Int("fetched", report.Fetched),
		zap.Int("stored", report.Stored),
		zap.Int("pending_index", report.Pending),
		zap.Int("duplicates", report.Duplicates),
		zap.Int("rejected", report.Rejected),
		zap.Int("failed", report.Failed))
	return report, nil
}

func (s *pullService) fetch(ctx context.Context, src models.SourceConfig) ([]byte, error) {
	if s.cfg.RequestTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.cfg.RequestTimeout)
		defer cancel()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, src.Pull.URL, nil)
	if err != nil {
		return nil, retry.Permanent(fmt.Errorf("build request for %s: %w", src.SourceType, err))
	}
	req.Header.Set("Accept", "application/json")
	for k, v := range src.Pull.Headers {
		req.Header.Set(k, v)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, &FetchError{SourceType: src.SourceType, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		fe := &FetchError{
			SourceType: src.SourceType,
			StatusCode: resp.StatusCode,
			Err:        errors.New(strings.TrimSpace(string(snippet))),
		}
		if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode == http.StatusServiceUnavailable {
			fe.Wait = parseRetryAfter(resp.Header.Get("Retry-After"), s.now())
		}
		return nil, fe
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxPullResponseBytes+1))
	if err != nil {
		return nil, &FetchError{SourceType: src.SourceType, StatusCode: resp.StatusCode, Err: err}
	}
	if len(body) > maxPullResponseBytes {
		return nil, retry.Permanent(fmt.Errorf("source %s: response exceeds %d bytes", src.SourceType, maxPullResponseBytes))
	}
	return body, nil
}

// PullIdempotencyKey derives the key under which a pulled item is ingested,
// so re-fetching an unchanged item never stores it twice.
func PullIdempotencyKey(sourceType string, item []byte) string {
	return "pull:" + sourceType + ":" + blobstore.Checksum(item)
}

// parseRetryAfter accepts delay-seconds or an HTTP date.
func parseRetryAfter(v string, now time.Time) time.Duration {
	v = strings.TrimSpace(v)
	if v == "" {
		return 0
	}
	if secs, err := strconv.Atoi(v); err == nil {
		if secs < 0 {
			return 0
		}
		return time.Duration(secs) * time.Second
	}
	if t, err := http.ParseTime(v); err == nil {
		if d := t.Sub(now); d > 0 {
			return d
		}
	}
	return 0
}

// splitItems cuts a response into item payloads, keeping each item's bytes
// exactly as served. A top-level array yields its elements, an object yields
// itself, and itemsKey selects an array inside a wrapping object.
func splitItems(body []byte, itemsKey string) ([][]byte, error) {
	body = bytes.TrimSpace(body)
	if len(body) == 0 {
		return nil, nil
	}

	if itemsKey != "" {
		var wrapper map[string]json.RawMessage
		if err := json.Unmarshal(body, &wrapper); err != nil {
			return nil, fmt.Errorf("response is not an object: %w", err)
		}
		inner, ok := wrapper[itemsKey]
		if !ok {
			return nil, fmt.Errorf("response has no %q key", itemsKey)
		}
		body = bytes.TrimSpace(inner)
	}

	switch body[0] {
	case '[':
		var raw []json.RawMessage
		if err := json.Unmarshal(body, &raw); err != nil {
			return nil, fmt.Errorf("malformed item array: %w", err)
		}
		items := make([][]byte, 0, len(raw))
		for _, r := range raw {
			items = append(items, []byte(r))
		}
		return items, nil
	case '{':
		if !json.Valid(body) {
			return nil, errors.New("malformed item object")
		}
		return [][]byte{body}, nil
	}
	return nil, errors.New("response is neither an object nor an array")
}
