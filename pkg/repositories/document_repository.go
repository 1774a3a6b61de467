package repositories

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/farmer-power/collection-engine/pkg/apperrors"
	"github.com/farmer-power/collection-engine/pkg/database"
	"github.com/farmer-power/collection-engine/pkg/models"
)

// DocumentRepository is the queryable index store. It never holds raw payloads.
type DocumentRepository interface {
	// Upsert writes the index record keyed by document id. Replaying the same
	// record is a no-op apart from indexed_at.
	Upsert(ctx context.Context, doc *models.Document) error

	// Get returns the index record or an error wrapping apperrors.ErrNotFound.
	Get(ctx context.Context, id uuid.UUID) (*models.Document, error)

	// List returns records ordered by stored_at DESC, document_id DESC.
	List(ctx context.Context, filter models.DocumentFilter) (*models.DocumentPage, error)

	// Search ranks records against a free-text query, constrained by exact filters.
	Search(ctx context.Context, req models.SearchRequest) (*models.SearchPage, error)
}

type documentRepository struct {
	db database.Querier
}

// NewDocumentRepository creates a PostgreSQL-backed DocumentRepository.
func NewDocumentRepository(db database.Querier) DocumentRepository {
	return &documentRepository{db: db}
}

var _ DocumentRepository = (*documentRepository)(nil)

const documentColumns = `document_id, source_type, extracted_fields, link_reference,
	validation_warnings, validation_passed, confidence, stored_at,
	COALESCE(idempotency_key, ''), channel, raw_object_key, raw_sha256, content_type`

func (r *documentRepository) Upsert(ctx context.Context, doc *models.Document) error {
	fields, err := json.Marshal(nonNilFields(doc.ExtractedFields))
	if err != nil {
		return fmt.Errorf("failed to marshal extracted fields: %w", err)
	}
	warnings, err := json.Marshal(nonNilStrings(doc.ValidationWarnings))
	if err != nil {
		return fmt.Errorf("failed to marshal warnings: %w", err)
	}

	var idemKey *string
	if doc.IdempotencyKey != "" {
		idemKey = &doc.IdempotencyKey
	}

	query := `
		INSERT INTO documents (
			document_id, source_type, extracted_fields, link_reference,
			validation_warnings, validation_passed, confidence, stored_at,
			idempotency_key, channel, raw_object_key, raw_sha256, content_type
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
		ON CONFLICT (document_id) DO UPDATE SET
			extracted_fields = EXCLUDED.extracted_fields,
			link_reference = EXCLUDED.link_reference,
			validation_warnings = EXCLUDED.validation_warnings,
			validation_passed = EXCLUDED.validation_passed,
			confidence = EXCLUDED.confidence,
			indexed_at = now()`

	_, err = r.db.Exec(ctx, query,
		doc.DocumentID, doc.SourceType, fields, doc.LinkReference,
		warnings, doc.ValidationPassed, doc.Confidence, doc.StoredAt,
		idemKey, string(doc.Channel), doc.RawObjectKey, doc.RawSHA256, doc.ContentType)
	if err != nil {
		return fmt.Errorf("failed to upsert document: %w", err)
	}
	return nil
}

func (r *documentRepository) Get(ctx context.Context, id uuid.UUID) (*models.Document, error) {
	query := `SELECT ` + documentColumns + ` FROM documents WHERE document_id = $1`

	doc, err := scanDocument(r.db.QueryRow(ctx, query, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("document %s: %w", id, apperrors.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get document: %w", err)
	}
	return doc, nil
}

func (r *documentRepository) List(ctx context.Context, filter models.DocumentFilter) (*models.DocumentPage, error) {
	w := &whereBuilder{}
	if filter.LinkReference != "" {
		w.add("link_reference = %s", filter.LinkReference)
	}
	if filter.SourceType != "" {
		w.add("source_type = %s", filter.SourceType)
	}
	if filter.From != nil {
		w.add("stored_at >= %s", *filter.From)
	}
	if filter.To != nil {
		w.add("stored_at < %s", *filter.To)
	}

	page := filter.Page
	query := fmt.Sprintf(`
		SELECT %s, COUNT(*) OVER()
		FROM documents
		%s
		ORDER BY stored_at DESC, document_id DESC
		LIMIT %s OFFSET %s`,
		documentColumns, w.clause(), w.arg(page.PageSize), w.arg(page.Offset()))

	rows, err := r.db.Query(ctx, query, w.args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list documents: %w", err)
	}
	defer rows.Close()

	out := &models.DocumentPage{Documents: []*models.Document{}, Page: page.Page, PageSize: page.PageSize}
	for rows.Next() {
		var total int
		doc, err := scanDocument(rows, &total)
		if err != nil {
			return nil, fmt.Errorf("failed to scan document: %w", err)
		}
		out.Total = total
		out.Documents = append(out.Documents, doc)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating documents: %w", err)
	}

	if len(out.Documents) == 0 && page.Offset() > 0 {
		// Past the last page: COUNT(*) OVER() has no row to report on.
		total, err := r.count(ctx, w)
		if err != nil {
			return nil, err
		}
		out.Total = total
	}
	return out, nil
}

func (r *documentRepository) count(ctx context.Context, w *whereBuilder) (int, error) {
	var total int
	// Only the filter arguments are needed; LIMIT/OFFSET were appended last.
	args := w.args[:w.filterArgs]
	if err := r.db.QueryRow(ctx, `SELECT COUNT(*) FROM documents `+w.clause(), args...).Scan(&total); err != nil {
		return 0, fmt.Errorf("failed to count documents: %w", err)
	}
	return total, nil
}

func (r *documentRepository) Search(ctx context.Context, req models.SearchRequest) (*models.SearchPage, error) {
	w := &whereBuilder{}
	rank := "0::float8"

	if q := strings.TrimSpace(req.Query); q != "" {
		arg := w.arg(q)
		w.addRaw("search_vector @@ websearch_to_tsquery('simple', " + arg + ")")
		rank = "ts_rank_cd(search_vector, websearch_to_tsquery('simple', " + arg + "))::float8"
	}
	if req.SourceType != "" {
		w.add("source_type = %s", req.SourceType)
	}

	keys := make([]string, 0, len(req.Fields))
	for k := range req.Fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		candidates := fieldContainment(k, req.Fields[k])
		conds := make([]string, len(candidates))
		for i, c := range candidates {
			conds[i] = "extracted_fields @> " + w.arg(c) + "::jsonb"
		}
		w.addRaw("(" + strings.Join(conds, " OR ") + ")")
	}

	page := req.Page
	query := fmt.Sprintf(`
		SELECT %s, %s AS score, COUNT(*) OVER()
		FROM documents
		%s
		ORDER BY score DESC, stored_at DESC, document_id DESC
		LIMIT %s OFFSET %s`,
		documentColumns, rank, w.clause(), w.arg(page.PageSize), w.arg(page.Offset()))

	rows, err := r.db.Query(ctx, query, w.args...)
	if err != nil {
		return nil, fmt.Errorf("failed to search documents: %w", err)
	}
	defer rows.Close()

	out := &models.SearchPage{Hits: []*models.SearchHit{}, Page: page.Page, PageSize: page.PageSize}
	for rows.Next() {
		var (
			score float64
			total int
		)
		doc, err := scanDocument(rows, &score, &total)
		if err != nil {
			return nil, fmt.Errorf("failed to scan search hit: %w", err)
		}
		out.Total = total
		out.Hits = append(out.Hits, &models.SearchHit{Document: doc, Score: score})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating search hits: %w", err)
	}

	if len(out.Hits) == 0 && page.Offset() > 0 {
		total, err := r.count(ctx, w)
		if err != nil {
			return nil, err
		}
		out.Total = total
	}
	return out, nil
}

// fieldContainment renders an exact field filter as jsonb containment
// documents, one per JSON type the text could have been extracted as, so the
// GIN index on extracted_fields serves the filter.
func fieldContainment(key, value string) []string {
	values := []any{value}
	if f, err := strconv.ParseFloat(strings.TrimSpace(value), 64); err == nil && !math.IsInf(f, 0) && !math.IsNaN(f) {
		values = append(values, f)
	}
	if value == "true" || value == "false" {
		values = append(values, value == "true")
	}

	out := make([]string, 0, len(values))
	for _, v := range values {
		// Marshaling strings, finite floats and bools cannot fail.
		doc, _ := json.Marshal(map[string]any{key: v})
		out = append(out, string(doc))
	}
	return out
}

// scanDocument scans documentColumns followed by any extra destinations.
func scanDocument(row pgx.Row, extra ...any) (*models.Document, error) {
	var (
		doc      models.Document
		fields   []byte
		warnings []byte
		channel  string
	)
	dest := []any{
		&doc.DocumentID, &doc.SourceType, &fields, &doc.LinkReference,
		&warnings, &doc.ValidationPassed, &doc.Confidence, &doc.StoredAt,
		&doc.IdempotencyKey, &channel, &doc.RawObjectKey, &doc.RawSHA256, &doc.ContentType,
	}
	if err := row.Scan(append(dest, extra...)...); err != nil {
		return nil, err
	}

	if err := json.Unmarshal(fields, &doc.ExtractedFields); err != nil {
		return nil, fmt.Errorf("failed to unmarshal extracted fields: %w", err)
	}
	if err := json.Unmarshal(warnings, &doc.ValidationWarnings); err != nil {
		return nil, fmt.Errorf("failed to unmarshal warnings: %w", err)
	}
	doc.Channel = models.Channel(channel)
	doc.IndexStatus = models.IndexStatusIndexed
	doc.StoredAt = doc.StoredAt.UTC()
	return &doc, nil
}

// whereBuilder accumulates numbered placeholders and AND-ed conditions.
type whereBuilder struct {
	conds      []string
	args       []any
	filterArgs int
}

func (w *whereBuilder) arg(v any) string {
	w.args = append(w.args, v)
	return fmt.Sprintf("$%d", len(w.args))
}

func (w *whereBuilder) add(format string, v any) {
	w.addRaw(fmt.Sprintf(format, w.arg(v)))
}

func (w *whereBuilder) addRaw(cond string) {
	w.conds = append(w.conds, cond)
	w.filterArgs = len(w.args)
}

func (w *whereBuilder) clause() string {
	if len(w.conds) == 0 {
		return ""
	}
	return "WHERE " + strings.Join(w.conds, " AND ")
}

func nonNilFields(m map[string]any) map[string]any {
	if m == nil {
		return map[string]any{}
	}
	return m
}

func nonNilStrings(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
