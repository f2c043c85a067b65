package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"slices"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/onnwee/subcults-live/internal/directory"
	"github.com/onnwee/subcults-live/internal/tracing"
)

const highlightColumns = `id, stream_id, streamer_id, clip_url, thumbnail, duration, generated_by, tags, created_at`

// HighlightStore implements directory.HighlightStore.
type HighlightStore struct {
	db     *sql.DB
	logger *slog.Logger
}

func scanHighlight(row rowScanner) (*directory.Highlight, error) {
	var (
		h           directory.Highlight
		thumbnail   sql.NullString
		generatedBy string
	)
	err := row.Scan(&h.ID, &h.StreamID, &h.StreamerID, &h.ClipURL, &thumbnail, &h.Duration,
		&generatedBy, pq.Array(&h.Tags), &h.CreatedAt)
	if err != nil {
		return nil, err
	}
	h.Thumbnail = stringPtr(thumbnail)
	h.GeneratedBy = directory.HighlightSource(generatedBy)
	if h.Tags == nil {
		h.Tags = []string{}
	}
	return &h, nil
}

// FindByID retrieves a highlight by id.
func (s *HighlightStore) FindByID(ctx context.Context, id string) (h *directory.Highlight, err error) {
	ctx, endSpan := tracing.StartDBSpan(ctx, "live_highlights", tracing.DBOperationQuery)
	defer func() { endSpan(spanErr(err)) }()

	h, err = scanHighlight(s.db.QueryRowContext(ctx, `SELECT `+highlightColumns+` FROM live_highlights WHERE id = $1`, id))
	if err != nil {
		return nil, notFound(err)
	}
	return h, nil
}

// Create inserts a highlight.
func (s *HighlightStore) Create(ctx context.Context, in *directory.Highlight) (_ *directory.Highlight, err error) {
	ctx, endSpan := tracing.StartDBSpan(ctx, "live_highlights", tracing.DBOperationInsert)
	defer func() { endSpan(err) }()

	h := *in
	h.Tags = nonNil(slices.Clone(in.Tags))
	if h.ID == "" {
		h.ID = uuid.New().String()
	}
	if h.GeneratedBy == "" {
		h.GeneratedBy = directory.GeneratedByAI
	}
	if h.CreatedAt.IsZero() {
		h.CreatedAt = time.Now()
	}

	_, err = s.db.ExecContext(ctx, `INSERT INTO live_highlights (`+highlightColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		h.ID, h.StreamID, h.StreamerID, h.ClipURL, nullString(h.Thumbnail), h.Duration,
		string(h.GeneratedBy), pq.Array(h.Tags), h.CreatedAt)
	if err != nil {
		s.logger.ErrorContext(ctx, "failed to insert highlight", "error", err, "stream_id", h.StreamID)
		return nil, fmt.Errorf("failed to insert highlight: %w", err)
	}
	return &h, nil
}

// Delete removes a highlight and returns the removed record.
func (s *HighlightStore) Delete(ctx context.Context, id string) (h *directory.Highlight, err error) {
	ctx, endSpan := tracing.StartDBSpan(ctx, "live_highlights", tracing.DBOperationDelete)
	defer func() { endSpan(spanErr(err)) }()

	h, err = scanHighlight(s.db.QueryRowContext(ctx,
		`DELETE FROM live_highlights WHERE id = $1 RETURNING `+highlightColumns, id))
	if err != nil {
		return nil, notFound(err)
	}
	return h, nil
}

// Find returns highlights matching filter, newest first.
func (s *HighlightStore) Find(ctx context.Context, filter directory.HighlightFilter) (highlights []*directory.Highlight, err error) {
	ctx, endSpan := tracing.StartDBSpan(ctx, "live_highlights", tracing.DBOperationQuery)
	defer func() { endSpan(err) }()

	query := `SELECT ` + highlightColumns + ` FROM live_highlights`
	var args []any
	if filter.StreamID != "" {
		query += ` WHERE stream_id = $1`
		args = append(args, filter.StreamID)
	}
	query += ` ORDER BY created_at DESC`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query highlights: %w", err)
	}
	defer rows.Close()

	highlights = []*directory.Highlight{}
	for rows.Next() {
		h, err := scanHighlight(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan highlight: %w", err)
		}
		highlights = append(highlights, h)
	}
	return highlights, rows.Err()
}
