package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
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

const messageColumns = `id, stream_id, user_id, message_text, likes, liked_by, replies, ts, is_flagged`

// MessageStore implements directory.MessageStore. Reply threads are stored
// as a JSONB array.
type MessageStore struct {
	db     *sql.DB
	logger *slog.Logger
}

func scanMessage(row rowScanner) (*directory.Message, error) {
	var (
		m       directory.Message
		replies []byte
	)
	err := row.Scan(&m.ID, &m.StreamID, &m.UserID, &m.MessageText, &m.Likes,
		pq.Array(&m.LikedBy), &replies, &m.Timestamp, &m.IsFlagged)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(replies, &m.Replies); err != nil {
		return nil, fmt.Errorf("failed to decode replies of message %s: %w", m.ID, err)
	}
	if m.LikedBy == nil {
		m.LikedBy = []string{}
	}
	if m.Replies == nil {
		m.Replies = []directory.Reply{}
	}
	return &m, nil
}

func encodeReplies(replies []directory.Reply) ([]byte, error) {
	if replies == nil {
		replies = []directory.Reply{}
	}
	data, err := json.Marshal(replies)
	if err != nil {
		return nil, fmt.Errorf("failed to encode replies: %w", err)
	}
	return data, nil
}

// FindByID retrieves a message by id.
func (s *MessageStore) FindByID(ctx context.Context, id string) (m *directory.Message, err error) {
	ctx, endSpan := tracing.StartDBSpan(ctx, "live_messages", tracing.DBOperationQuery)
	defer func() { endSpan(spanErr(err)) }()

	m, err = scanMessage(s.db.QueryRowContext(ctx, `SELECT `+messageColumns+` FROM live_messages WHERE id = $1`, id))
	if err != nil {
		return nil, notFound(err)
	}
	return m, nil
}

// Create inserts a message, assigning an id and timestamp when absent.
func (s *MessageStore) Create(ctx context.Context, in *directory.Message) (_ *directory.Message, err error) {
	ctx, endSpan := tracing.StartDBSpan(ctx, "live_messages", tracing.DBOperationInsert)
	defer func() { endSpan(err) }()

	m := *in
	m.LikedBy = nonNil(slices.Clone(in.LikedBy))
	m.Replies = slices.Clone(in.Replies)
	if m.Replies == nil {
		m.Replies = []directory.Reply{}
	}
	if m.ID == "" {
		m.ID = uuid.New().String()
	}
	if m.Timestamp.IsZero() {
		m.Timestamp = time.Now()
	}

	replies, err := encodeReplies(m.Replies)
	if err != nil {
		return nil, err
	}
	_, err = s.db.ExecContext(ctx, `INSERT INTO live_messages (`+messageColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		m.ID, m.StreamID, m.UserID, m.MessageText, m.Likes, pq.Array(m.LikedBy), replies,
		m.Timestamp, m.IsFlagged)
	if err != nil {
		return nil, fmt.Errorf("failed to insert message: %w", err)
	}
	return &m, nil
}

// Update applies fn to the locked row and writes the result back. Likes and
// replies from concurrent connections are serialized by the row lock.
func (s *MessageStore) Update(ctx context.Context, id string, fn func(*directory.Message) error) (result *directory.Message, err error) {
	ctx, endSpan := tracing.StartDBSpan(ctx, "live_messages", tracing.DBOperationUpdate)
	defer func() { endSpan(spanErr(err)) }()

	err = inTx(ctx, s.db, s.logger, func(tx *sql.Tx) error {
		cur, err := scanMessage(tx.QueryRowContext(ctx,
			`SELECT `+messageColumns+` FROM live_messages WHERE id = $1 FOR UPDATE`, id))
		if err != nil {
			return notFound(err)
		}

		next := *cur
		next.LikedBy = slices.Clone(cur.LikedBy)
		next.Replies = slices.Clone(cur.Replies)
		if err := fn(&next); err != nil {
			result = cur
			return err
		}
		next.ID = id
		next.LikedBy = nonNil(next.LikedBy)

		replies, err := encodeReplies(next.Replies)
		if err != nil {
			return err
		}
		_, err = tx.ExecContext(ctx, `UPDATE live_messages SET
			stream_id = $2, user_id = $3, message_text = $4, likes = $5,
			liked_by = $6, replies = $7, ts = $8, is_flagged = $9
			WHERE id = $1`,
			id, next.StreamID, next.UserID, next.MessageText, next.Likes,
			pq.Array(next.LikedBy), replies, next.Timestamp, next.IsFlagged)
		if err != nil {
			return fmt.Errorf("failed to update message: %w", err)
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

// Delete removes a message and returns the removed record.
func (s *MessageStore) Delete(ctx context.Context, id string) (m *directory.Message, err error) {
	ctx, endSpan := tracing.StartDBSpan(ctx, "live_messages", tracing.DBOperationDelete)
	defer func() { endSpan(spanErr(err)) }()

	m, err = scanMessage(s.db.QueryRowContext(ctx,
		`DELETE FROM live_messages WHERE id = $1 RETURNING `+messageColumns, id))
	if err != nil {
		return nil, notFound(err)
	}
	return m, nil
}

// Find returns messages matching filter in timestamp order.
func (s *MessageStore) Find(ctx context.Context, filter directory.MessageFilter) (messages []*directory.Message, err error) {
	ctx, endSpan := tracing.StartDBSpan(ctx, "live_messages", tracing.DBOperationQuery)
	defer func() { endSpan(err) }()

	var (
		where []string
		args  []any
	)
	if filter.StreamID != "" {
		args = append(args, filter.StreamID)
		where = append(where, "stream_id = $"+strconv.Itoa(len(args)))
	}
	if filter.UserID != "" {
		args = append(args, filter.UserID)
		where = append(where, "user_id = $"+strconv.Itoa(len(args)))
	}

	query := `SELECT ` + messageColumns + ` FROM live_messages`
	if len(where) > 0 {
		query += ` WHERE ` + strings.Join(where, " AND ")
	}
	query += ` ORDER BY ts`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query messages: %w", err)
	}
	defer rows.Close()

	messages = []*directory.Message{}
	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan message: %w", err)
		}
		messages = append(messages, m)
	}
	return messages, rows.Err()
}
