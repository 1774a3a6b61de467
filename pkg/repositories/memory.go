package repositories

import (
	"bytes"
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/farmer-power/collection-engine/pkg/apperrors"
	"github.com/farmer-power/collection-engine/pkg/models"
)

// In-memory implementations used by service and handler tests. They honour
// the same ordering and error contracts as the PostgreSQL repositories.

// MemoryDocumentRepository is an in-memory DocumentRepository.
type MemoryDocumentRepository struct {
	mu   sync.RWMutex
	docs map[uuid.UUID]*models.Document

	// FailUpserts makes the next N upserts fail.
	FailUpserts int
	upserts     int
}

// NewMemoryDocumentRepository creates an empty repository.
func NewMemoryDocumentRepository() *MemoryDocumentRepository {
	return &MemoryDocumentRepository{docs: make(map[uuid.UUID]*models.Document)}
}

var _ DocumentRepository = (*MemoryDocumentRepository)(nil)

// Upserts reports how many upserts were attempted.
func (m *MemoryDocumentRepository) Upserts() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.upserts
}

func (m *MemoryDocumentRepository) Upsert(ctx context.Context, doc *models.Document) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.upserts++
	if m.FailUpserts > 0 {
		m.FailUpserts--
		return fmt.Errorf("failed to upsert document: connection refused")
	}
	rec := cloneDocument(doc.IndexRecord())
	rec.IndexStatus = models.IndexStatusIndexed
	rec.StoredAt = rec.StoredAt.UTC()
	m.docs[doc.DocumentID] = rec
	return nil
}

func (m *MemoryDocumentRepository) Get(ctx context.Context, id uuid.UUID) (*models.Document, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	doc, ok := m.docs[id]
	if !ok {
		return nil, fmt.Errorf("document %s: %w", id, apperrors.ErrNotFound)
	}
	return cloneDocument(doc), nil
}

func (m *MemoryDocumentRepository) List(ctx context.Context, filter models.DocumentFilter) (*models.DocumentPage, error) {
	m.mu.RLock()
	var matched []*models.Document
	for _, d := range m.docs {
		if filter.LinkReference != "" && d.LinkReference != filter.LinkReference {
			continue
		}
		if filter.SourceType != "" && d.SourceType != filter.SourceType {
			continue
		}
		if filter.From != nil && d.StoredAt.Before(*filter.From) {
			continue
		}
		if filter.To != nil && !d.StoredAt.Before(*filter.To) {
			continue
		}
		matched = append(matched, cloneDocument(d))
	}
	m.mu.RUnlock()

	sortNewestFirst(matched)
	start, end := window(len(matched), filter.Page)
	return &models.DocumentPage{
		Documents: append([]*models.Document{}, matched[start:end]...),
		Total:     len(matched),
		Page:      filter.Page.Page,
		PageSize:  filter.Page.PageSize,
	}, nil
}

// Search treats the query as whitespace-separated terms that must all occur
// in the record's link reference, source type, field values or warnings.
// Score is the number of term occurrences.
func (m *MemoryDocumentRepository) Search(ctx context.Context, req models.SearchRequest) (*models.SearchPage, error) {
	terms := strings.Fields(strings.ToLower(req.Query))

	m.mu.RLock()
	var hits []*models.SearchHit
	for _, d := range m.docs {
		if req.SourceType != "" && d.SourceType != req.SourceType {
			continue
		}
		if !fieldsMatch(d.ExtractedFields, req.Fields) {
			continue
		}
		score, ok := scoreTerms(d, terms)
		if !ok {
			continue
		}
		hits = append(hits, &models.SearchHit{Document: cloneDocument(d), Score: score})
	}
	m.mu.RUnlock()

	sort.Slice(hits, func(i, j int) bool {
		if hits[i].Score != hits[j].Score {
			return hits[i].Score > hits[j].Score
		}
		return newer(hits[i].Document, hits[j].Document)
	})
	start, end := window(len(hits), req.Page)
	return &models.SearchPage{
		Hits:     append([]*models.SearchHit{}, hits[start:end]...),
		Total:    len(hits),
		Page:     req.Page.Page,
		PageSize: req.Page.PageSize,
	}, nil
}

func fieldsMatch(have map[string]any, want map[string]string) bool {
	for k, v := range want {
		got, ok := have[k]
		if !ok || fieldText(got) != v {
			return false
		}
	}
	return true
}

func scoreTerms(d *models.Document, terms []string) (float64, bool) {
	if len(terms) == 0 {
		return 0, true
	}
	parts := []string{d.LinkReference, d.SourceType}
	for _, v := range d.ExtractedFields {
		parts = append(parts, fieldText(v))
	}
	parts = append(parts, d.ValidationWarnings...)
	haystack := strings.ToLower(strings.Join(parts, " "))

	var score float64
	for _, t := range terms {
		n := strings.Count(haystack, t)
		if n == 0 {
			return 0, false
		}
		score += float64(n)
	}
	return score, true
}

// fieldText renders a field value the way PostgreSQL's ->> operator does.
func fieldText(v any) string {
	switch t := v.(type) {
	case string:
		return t
	case float64:
		return fmt.Sprintf("%v", t)
	case nil:
		return ""
	default:
		return fmt.Sprint(t)
	}
}

func newer(a, b *models.Document) bool {
	if !a.StoredAt.Equal(b.StoredAt) {
		return a.StoredAt.After(b.StoredAt)
	}
	return bytes.Compare(a.DocumentID[:], b.DocumentID[:]) > 0
}

func sortNewestFirst(docs []*models.Document) {
	sort.Slice(docs, func(i, j int) bool { return newer(docs[i], docs[j]) })
}

func window(n int, p models.Page) (int, int) {
	start := p.Offset()
	if start > n {
		start = n
	}
	end := start + p.PageSize
	if end > n || p.PageSize <= 0 {
		end = n
	}
	return start, end
}

func cloneDocument(d *models.Document) *models.Document {
	c := *d
	if d.ExtractedFields != nil {
		c.ExtractedFields = make(map[string]any, len(d.ExtractedFields))
		for k, v := range d.ExtractedFields {
			c.ExtractedFields[k] = v
		}
	}
	c.ValidationWarnings = append([]string(nil), d.ValidationWarnings...)
	c.RawPayload = append([]byte(nil), d.RawPayload...)
	return &c
}

// MemoryIdempotencyRepository is an in-memory IdempotencyRepository.
type MemoryIdempotencyRepository struct {
	mu      sync.Mutex
	records map[string]*models.IdempotencyRecord
}

// NewMemoryIdempotencyRepository creates an empty repository.
func NewMemoryIdempotencyRepository() *MemoryIdempotencyRepository {
	return &MemoryIdempotencyRepository{records: make(map[string]*models.IdempotencyRecord)}
}

var _ IdempotencyRepository = (*MemoryIdempotencyRepository)(nil)

func idemKey(sourceType, key string) string { return sourceType + "\x00" + key }

func (m *MemoryIdempotencyRepository) Claim(ctx context.Context, rec *models.IdempotencyRecord) (*models.IdempotencyRecord, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	k := idemKey(rec.SourceType, rec.Key)
	if existing, ok := m.records[k]; ok {
		c := *existing
		return &c, false, nil
	}
	c := *rec
	c.IndexStatus = ""
	c.CreatedAt = time.Now().UTC()
	m.records[k] = &c
	out := c
	return &out, true, nil
}

func (m *MemoryIdempotencyRepository) Complete(ctx context.Context, sourceType, key string, status models.IndexStatus) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if rec, ok := m.records[idemKey(sourceType, key)]; ok && rec.IndexStatus != models.IndexStatusIndexed {
		rec.IndexStatus = status
	}
	return nil
}

func (m *MemoryIdempotencyRepository) Release(ctx context.Context, sourceType, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	k := idemKey(sourceType, key)
	if rec, ok := m.records[k]; ok && rec.IndexStatus == "" {
		delete(m.records, k)
	}
	return nil
}

func (m *MemoryIdempotencyRepository) Takeover(ctx context.Context, sourceType, key string, claimedBefore time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.records[idemKey(sourceType, key)]
	if !ok || rec.IndexStatus != "" || !rec.CreatedAt.Before(claimedBefore) {
		return false, nil
	}
	rec.CreatedAt = time.Now().UTC()
	return true, nil
}

// Record returns a copy of the claim held for key.
func (m *MemoryIdempotencyRepository) Record(sourceType, key string) (*models.IdempotencyRecord, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.records[idemKey(sourceType, key)]
	if !ok {
		return nil, false
	}
	c := *rec
	return &c, true
}

// Put stores rec as is, replacing any claim for the same key.
func (m *MemoryIdempotencyRepository) Put(rec *models.IdempotencyRecord) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c := *rec
	m.records[idemKey(rec.SourceType, rec.Key)] = &c
}

// Len reports how many keys are held.
func (m *MemoryIdempotencyRepository) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.records)
}

// MemoryReconciliationRepository is an in-memory ReconciliationRepository.
// Stats reports pending events from the outbox it is linked to, if any.
type MemoryReconciliationRepository struct {
	mu      sync.Mutex
	entries map[uuid.UUID]*models.ReconciliationEntry
	Outbox  *MemoryOutboxRepository

	// FailEnqueue makes Enqueue fail when set.
	FailEnqueue error
}

// NewMemoryReconciliationRepository creates an empty repository.
func NewMemoryReconciliationRepository() *MemoryReconciliationRepository {
	return &MemoryReconciliationRepository{entries: make(map[uuid.UUID]*models.ReconciliationEntry)}
}

var _ ReconciliationRepository = (*MemoryReconciliationRepository)(nil)

func (m *MemoryReconciliationRepository) Enqueue(ctx context.Context, entry *models.ReconciliationEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.FailEnqueue != nil {
		return m.FailEnqueue
	}
	now := time.Now()
	e := *entry
	e.Status = models.ReconciliationPending
	if e.NextAttemptAt.IsZero() {
		e.NextAttemptAt = now
	}
	if existing, ok := m.entries[e.DocumentID]; ok {
		e.CreatedAt = existing.CreatedAt
		e.Attempts = existing.Attempts
	} else {
		e.CreatedAt = now
	}
	e.UpdatedAt = now
	m.entries[e.DocumentID] = &e
	return nil
}

func (m *MemoryReconciliationRepository) ClaimDue(ctx context.Context, limit int, lease time.Duration) ([]*models.ReconciliationEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := time.Now()
	var due []*models.ReconciliationEntry
	for _, e := range m.entries {
		if e.Status == models.ReconciliationPending && !e.NextAttemptAt.After(now) {
			due = append(due, e)
		}
	}
	sort.Slice(due, func(i, j int) bool { return due[i].NextAttemptAt.Before(due[j].NextAttemptAt) })
	if len(due) > limit {
		due = due[:limit]
	}
	out := make([]*models.ReconciliationEntry, 0, len(due))
	for _, e := range due {
		e.NextAttemptAt = now.Add(lease)
		c := *e
		out = append(out, &c)
	}
	return out, nil
}

func (m *MemoryReconciliationRepository) MarkDone(ctx context.Context, id uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if e, ok := m.entries[id]; ok {
		e.Status = models.ReconciliationDone
		e.LastError = ""
		e.UpdatedAt = time.Now()
	}
	return nil
}

func (m *MemoryReconciliationRepository) MarkFailed(ctx context.Context, id uuid.UUID, lastError string, next time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if e, ok := m.entries[id]; ok {
		e.Attempts++
		e.LastError = lastError
		e.NextAttemptAt = next
		e.UpdatedAt = time.Now()
	}
	return nil
}

func (m *MemoryReconciliationRepository) Stats(ctx context.Context) (*models.ReconciliationStats, error) {
	m.mu.Lock()
	stats := &models.ReconciliationStats{}
	for _, e := range m.entries {
		if e.Status != models.ReconciliationPending {
			continue
		}
		stats.PendingIndex++
		if stats.OldestPending == nil || e.CreatedAt.Before(*stats.OldestPending) {
			t := e.CreatedAt
			stats.OldestPending = &t
		}
	}
	m.mu.Unlock()

	if m.Outbox != nil {
		stats.PendingEvents = m.Outbox.Len()
	}
	return stats, nil
}

// Entry returns a copy of the entry for id.
func (m *MemoryReconciliationRepository) Entry(id uuid.UUID) (*models.ReconciliationEntry, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.entries[id]
	if !ok {
		return nil, false
	}
	c := *e
	return &c, true
}

// MemoryOutboxRepository is an in-memory OutboxRepository.
type MemoryOutboxRepository struct {
	mu     sync.Mutex
	events map[uuid.UUID]*models.OutboxEvent
}

// NewMemoryOutboxRepository creates an empty repository.
func NewMemoryOutboxRepository() *MemoryOutboxRepository {
	return &MemoryOutboxRepository{events: make(map[uuid.UUID]*models.OutboxEvent)}
}

var _ OutboxRepository = (*MemoryOutboxRepository)(nil)

func (m *MemoryOutboxRepository) Add(ctx context.Context, ev *models.OutboxEvent) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.events[ev.EventID]; ok {
		return nil
	}
	c := *ev
	if c.NextAttemptAt.IsZero() {
		c.NextAttemptAt = time.Now()
	}
	c.CreatedAt = time.Now()
	m.events[ev.EventID] = &c
	return nil
}

func (m *MemoryOutboxRepository) ClaimDue(ctx context.Context, limit int, lease time.Duration) ([]*models.OutboxEvent, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := time.Now()
	var due []*models.OutboxEvent
	for _, ev := range m.events {
		if !ev.NextAttemptAt.After(now) {
			due = append(due, ev)
		}
	}
	sort.Slice(due, func(i, j int) bool { return due[i].NextAttemptAt.Before(due[j].NextAttemptAt) })
	if len(due) > limit {
		due = due[:limit]
	}
	out := make([]*models.OutboxEvent, 0, len(due))
	for _, ev := range due {
		ev.NextAttemptAt = now.Add(lease)
		c := *ev
		out = append(out, &c)
	}
	return out, nil
}

func (m *MemoryOutboxRepository) Delete(ctx context.Context, eventID uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.events, eventID)
	return nil
}

func (m *MemoryOutboxRepository) MarkFailed(ctx context.Context, eventID uuid.UUID, lastError string, next time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if ev, ok := m.events[eventID]; ok {
		ev.Attempts++
		ev.NextAttemptAt = next
	}
	return nil
}

// Len reports how many events await delivery.
func (m *MemoryOutboxRepository) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.events)
}
