package stream

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/onnwee/subcults-live/internal/directory"
	"github.com/onnwee/subcults-live/internal/live"
	"github.com/onnwee/subcults-live/internal/room"
	"github.com/onnwee/subcults-live/internal/tracing"
)

// StreamerProfileRequest is the getStreamerProfile payload.
type StreamerProfileRequest struct {
	StreamerID string `json:"streamerId"`
}

// ViewerProfileRequest is the getViewerProfile payload.
type ViewerProfileRequest struct {
	ViewerID string `json:"viewerId"`
}

// FollowRequest is the followStreamer payload.
type FollowRequest struct {
	StreamerID string `json:"streamerId"`
	UserID     string `json:"userId"`
}

// StreamerProfile is the full streamer profile returned on request.
type StreamerProfile struct {
	StreamerID     string `json:"streamerId"`
	Username       string `json:"username"`
	Avatar         string `json:"avatar"`
	Bio            string `json:"bio"`
	Followers      int    `json:"followers"`
	Following      int    `json:"following"`
	IsStreamer     bool   `json:"isStreamer"`
	StreamTitle    string `json:"streamTitle"`
	StreamCategory string `json:"streamCategory"`
}

// ViewerProfile is the public profile of any user.
type ViewerProfile struct {
	UserID     string    `json:"userId"`
	Username   string    `json:"username"`
	Avatar     string    `json:"avatar"`
	Bio        string    `json:"bio"`
	Followers  int       `json:"followers"`
	Following  int       `json:"following"`
	JoinedDate time.Time `json:"joinedDate"`
}

// StreamerFollowed announces a streamer's new follower total.
type StreamerFollowed struct {
	StreamerID string `json:"streamerId"`
	Followers  int    `json:"followers"`
}

// StreamerProfile sends the requested streamer's profile to conn only.
func (c *Controller) StreamerProfile(ctx context.Context, conn room.Conn, req StreamerProfileRequest) error {
	if req.StreamerID == "" {
		return live.Validation("streamerId is required")
	}

	u, err := c.users.FindByID(ctx, req.StreamerID)
	if errors.Is(err, directory.ErrNotFound) {
		return live.ErrStreamerNotFound
	}
	if err != nil {
		return live.Internal("Failed to fetch profile", err)
	}

	return conn.Send(live.EventStreamerProfile, StreamerProfile{
		StreamerID:     u.ID,
		Username:       u.Username,
		Avatar:         u.Avatar,
		Bio:            u.Bio,
		Followers:      u.Followers,
		Following:      u.Following,
		IsStreamer:     u.IsStreamer,
		StreamTitle:    u.StreamTitle,
		StreamCategory: u.StreamCategory,
	})
}

// ViewerProfile sends the requested user's profile to conn only.
func (c *Controller) ViewerProfile(ctx context.Context, conn room.Conn, req ViewerProfileRequest) error {
	if req.ViewerID == "" {
		return live.Validation("viewerId is required")
	}

	u, err := c.users.FindByID(ctx, req.ViewerID)
	if errors.Is(err, directory.ErrNotFound) {
		return live.ErrUserNotFound
	}
	if err != nil {
		return live.Internal("Failed to fetch profile", err)
	}

	return conn.Send(live.EventViewerProfile, ViewerProfile{
		UserID:     u.ID,
		Username:   u.Username,
		Avatar:     u.Avatar,
		Bio:        u.Bio,
		Followers:  u.Followers,
		Following:  u.Following,
		JoinedDate: u.CreatedAt,
	})
}

// Follow increments the streamer's follower count and announces the new
// total to every connection.
func (c *Controller) Follow(ctx context.Context, id *live.Identity, req FollowRequest) (err error) {
	ctx, endSpan := tracing.StartSpan(ctx, "stream.follow")
	defer func() { endSpan(err) }()

	if req.StreamerID == "" {
		return live.Validation("streamerId is required")
	}
	followerID := req.UserID
	if followerID == "" {
		followerID = live.UserIDOf(id)
	}

	u, err := c.users.Update(ctx, req.StreamerID, func(u *directory.User) error {
		u.Followers++
		return nil
	})
	if errors.Is(err, directory.ErrNotFound) {
		return live.ErrStreamerNotFound
	}
	if err != nil {
		return live.Internal("Failed to follow", err)
	}

	c.rooms.PublishAll(live.EventStreamerFollowed, StreamerFollowed{
		StreamerID: u.ID,
		Followers:  u.Followers,
	})

	slog.InfoContext(ctx, "streamer followed",
		"streamer_id", u.ID,
		"user_id", followerID,
		"followers", u.Followers,
	)
	return nil
}
