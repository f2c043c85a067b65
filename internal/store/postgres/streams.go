package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/onnwee/subcults-live/internal/directory"
	"github.com/onnwee/subcults-live/internal/tracing"
)

const streamColumns = `id, user_id, title, description, category, thumbnail, status, is_active,
	viewers, viewers_count, total_likes, total_comments, started_at, ended_at, created_at`

// StreamStore implements directory.StreamStore.
type StreamStore struct {
	db     *sql.DB
	logger *slog.Logger
}

func scanStream(row rowScanner) (*directory.Stream, error) {
	var (
		st        directory.Stream
		thumbnail sql.NullString
		startedAt sql.NullTime
		endedAt   sql.NullTime
	)
	err := row.Scan(&st.ID, &st.UserID, &st.Title, &st.Description, &st.Category, &thumbnail,
		&st.Status, &st.IsActive, pq.Array(&st.Viewers), &st.ViewersCount, &st.TotalLikes,
		&st.TotalComments, &startedAt, &endedAt, &st.CreatedAt)
	if err != nil {
		return nil, err
	}
	st.Thumbnail = stringPtr(thumbnail)
	st.StartedAt = timePtr(startedAt)
	st.EndedAt = timePtr(endedAt)
	if st.Viewers == nil {
		st.Viewers = []string{}
	}
	return &st, nil
}

// FindByID retrieves a stream by id.
func (s *StreamStore) FindByID(ctx context.Context, id string) (st *directory.Stream, err error) {
	ctx, endSpan := tracing.StartDBSpan(ctx, "live_streams", tracing.DBOperationQuery)
	defer func() { endSpan(spanErr(err)) }()

	st, err = scanStream(s.db.QueryRowContext(ctx, `SELECT `+streamColumns+` FROM live_streams WHERE id = $1`, id))
	if err != nil {
		return nil, notFound(err)
	}
	return st, nil
}

// Create inserts a stream. Defaults mirror a freshly created offline stream.
func (s *StreamStore) Create(ctx context.Context, in *directory.Stream) (_ *directory.Stream, err error) {
	ctx, endSpan := tracing.StartDBSpan(ctx, "live_streams", tracing.DBOperationInsert)
	defer func() { endSpan(err) }()

	st := *in
	st.Viewers = nonNil(slices.Clone(in.Viewers))
	if st.ID == "" {
		st.ID = uuid.New().String()
	}
	if st.Status == "" {
		st.Status = directory.StatusOffline
	}
	if st.Category == "" {
		st.Category = "Gaming"
	}
	if st.CreatedAt.IsZero() {
		st.CreatedAt = time.Now()
	}
	st.ViewersCount = len(st.Viewers)

	_, err = s.db.ExecContext(ctx, `INSERT INTO live_streams (`+streamColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)`,
		st.ID, st.UserID, st.Title, st.Description, st.Category, nullString(st.Thumbnail),
		string(st.Status), st.IsActive, pq.Array(st.Viewers), st.ViewersCount, st.TotalLikes,
		st.TotalComments, nullTime(st.StartedAt), nullTime(st.EndedAt), st.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to insert stream: %w", err)
	}
	return &st, nil
}

// Update applies fn to the locked row and writes the result back.
func (s *StreamStore) Update(ctx context.Context, id string, fn func(*directory.Stream) error) (result *directory.Stream, err error) {
	ctx, endSpan := tracing.StartDBSpan(ctx, "live_streams", tracing.DBOperationUpdate)
	defer func() { endSpan(spanErr(err)) }()

	err = inTx(ctx, s.db, s.logger, func(tx *sql.Tx) error {
		cur, err := scanStream(tx.QueryRowContext(ctx,
			`SELECT `+streamColumns+` FROM live_streams WHERE id = $1 FOR UPDATE`, id))
		if err != nil {
			return notFound(err)
		}

		next := *cur
		next.Viewers = slices.Clone(cur.Viewers)
		if err := fn(&next); err != nil {
			result = cur
			return err
		}
		next.ID = id
		next.Viewers = nonNil(next.Viewers)

		_, err = tx.ExecContext(ctx, `UPDATE live_streams SET
			user_id = $2, title = $3, description = $4, category = $5, thumbnail = $6,
			status = $7, is_active = $8, viewers = $9, viewers_count = $10,
			total_likes = $11, total_comments = $12, started_at = $13, ended_at = $14
			WHERE id = $1`,
			id, next.UserID, next.Title, next.Description, next.Category, nullString(next.Thumbnail),
			string(next.Status), next.IsActive, pq.Array(next.Viewers), next.ViewersCount,
			next.TotalLikes, next.TotalComments, nullTime(next.StartedAt), nullTime(next.EndedAt))
		if err != nil {
			return fmt.Errorf("failed to update stream: %w", err)
		}
		result = &next
		return nil
	})
	if errors.Is(err, directory.ErrNoChange) {
		return result, err
	}
	if err != nil {
		return nil, err
	}
	return result, nil
}

// Delete removes a stream and returns the removed record.
func (s *StreamStore) Delete(ctx context.Context, id string) (st *directory.Stream, err error) {
	ctx, endSpan := tracing.StartDBSpan(ctx, "live_streams", tracing.DBOperationDelete)
	defer func() { endSpan(spanErr(err)) }()

	st, err = scanStream(s.db.QueryRowContext(ctx,
		`DELETE FROM live_streams WHERE id = $1 RETURNING `+streamColumns, id))
	if err != nil {
		return nil, notFound(err)
	}
	return st, nil
}

// Find returns streams matching filter, newest first.
func (s *StreamStore) Find(ctx context.Context, filter directory.StreamFilter) (streams []*directory.Stream, err error) {
	ctx, endSpan := tracing.StartDBSpan(ctx, "live_streams", tracing.DBOperationQuery)
	defer func() { endSpan(err) }()

	var (
		where []string
		args  []any
	)
	if filter.Status != "" {
		args = append(args, string(filter.Status))
		where = append(where, "status = $"+strconv.Itoa(len(args)))
	}
	if filter.UserID != "" {
		args = append(args, filter.UserID)
		where = append(where, "user_id = $"+strconv.Itoa(len(args)))
	}

	query := `SELECT ` + streamColumns + ` FROM live_streams`
	if len(where) > 0 {
		query += ` WHERE ` + strings.Join(where, " AND ")
	}
	query += ` ORDER BY created_at DESC`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query streams: %w", err)
	}
	defer rows.Close()

	streams = []*directory.Stream{}
	for rows.Next() {
		st, err := scanStream(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan stream: %w", err)
		}
		streams = append(streams, st)
	}
	return streams, rows.Err()
}
