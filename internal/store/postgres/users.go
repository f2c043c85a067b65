package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/onnwee/subcults-live/internal/directory"
	"github.com/onnwee/subcults-live/internal/tracing"
)

const userColumns = `id, username, avatar, bio, followers, following, is_streamer,
	stream_title, stream_category, is_banned, created_at`

// UserStore implements directory.UserStore.
type UserStore struct {
	db     *sql.DB
	logger *slog.Logger
}

func scanUser(row rowScanner) (*directory.User, error) {
	var u directory.User
	err := row.Scan(&u.ID, &u.Username, &u.Avatar, &u.Bio, &u.Followers, &u.Following,
		&u.IsStreamer, &u.StreamTitle, &u.StreamCategory, &u.IsBanned, &u.CreatedAt)
	if err != nil {
		return nil, err
	}
	return &u, nil
}

// FindByID retrieves a user by id.
func (s *UserStore) FindByID(ctx context.Context, id string) (u *directory.User, err error) {
	ctx, endSpan := tracing.StartDBSpan(ctx, "live_users", tracing.DBOperationQuery)
	defer func() { endSpan(spanErr(err)) }()

	u, err = scanUser(s.db.QueryRowContext(ctx, `SELECT `+userColumns+` FROM live_users WHERE id = $1`, id))
	if err != nil {
		return nil, notFound(err)
	}
	return u, nil
}

// Create inserts a user, assigning an id and creation time when absent.
func (s *UserStore) Create(ctx context.Context, in *directory.User) (_ *directory.User, err error) {
	ctx, endSpan := tracing.StartDBSpan(ctx, "live_users", tracing.DBOperationInsert)
	defer func() { endSpan(err) }()

	u := *in
	if u.ID == "" {
		u.ID = uuid.New().String()
	}
	if u.CreatedAt.IsZero() {
		u.CreatedAt = time.Now()
	}

	_, err = s.db.ExecContext(ctx, `INSERT INTO live_users (`+userColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		u.ID, u.Username, u.Avatar, u.Bio, u.Followers, u.Following,
		u.IsStreamer, u.StreamTitle, u.StreamCategory, u.IsBanned, u.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to insert user: %w", err)
	}
	return &u, nil
}

// Update applies fn to the locked row and writes the result back.
func (s *UserStore) Update(ctx context.Context, id string, fn func(*directory.User) error) (result *directory.User, err error) {
	ctx, endSpan := tracing.StartDBSpan(ctx, "live_users", tracing.DBOperationUpdate)
	defer func() { endSpan(spanErr(err)) }()

	err = inTx(ctx, s.db, s.logger, func(tx *sql.Tx) error {
		cur, err := scanUser(tx.QueryRowContext(ctx,
			`SELECT `+userColumns+` FROM live_users WHERE id = $1 FOR UPDATE`, id))
		if err != nil {
			return notFound(err)
		}

		next := *cur
		if err := fn(&next); err != nil {
			result = cur
			return err
		}
		next.ID = id

		_, err = tx.ExecContext(ctx, `UPDATE live_users SET
			username = $2, avatar = $3, bio = $4, followers = $5, following = $6,
			is_streamer = $7, stream_title = $8, stream_category = $9, is_banned = $10
			WHERE id = $1`,
			id, next.Username, next.Avatar, next.Bio, next.Followers, next.Following,
			next.IsStreamer, next.StreamTitle, next.StreamCategory, next.IsBanned)
		if err != nil {
			return fmt.Errorf("failed to update user: %w", err)
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

// Delete removes a user and returns the removed record.
func (s *UserStore) Delete(ctx context.Context, id string) (u *directory.User, err error) {
	ctx, endSpan := tracing.StartDBSpan(ctx, "live_users", tracing.DBOperationDelete)
	defer func() { endSpan(spanErr(err)) }()

	u, err = scanUser(s.db.QueryRowContext(ctx,
		`DELETE FROM live_users WHERE id = $1 RETURNING `+userColumns, id))
	if err != nil {
		return nil, notFound(err)
	}
	return u, nil
}

// Find returns users matching filter, oldest first.
func (s *UserStore) Find(ctx context.Context, filter directory.UserFilter) (users []*directory.User, err error) {
	ctx, endSpan := tracing.StartDBSpan(ctx, "live_users", tracing.DBOperationQuery)
	defer func() { endSpan(err) }()

	query := `SELECT ` + userColumns + ` FROM live_users`
	if filter.StreamersOnly {
		query += ` WHERE is_streamer`
	}
	query += ` ORDER BY created_at`

	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to query users: %w", err)
	}
	defer rows.Close()

	users = []*directory.User{}
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan user: %w", err)
		}
		users = append(users, u)
	}
	return users, rows.Err()
}
