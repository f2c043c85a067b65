// Package stream implements the stream lifecycle (start, video publish, join,
// leave, end) and keeps the durable stream record, the session registry and
// the stream's room in step on every transition.
package stream

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/onnwee/subcults-live/internal/directory"
	"github.com/onnwee/subcults-live/internal/live"
	"github.com/onnwee/subcults-live/internal/room"
	"github.com/onnwee/subcults-live/internal/session"
	"github.com/onnwee/subcults-live/internal/tracing"
	"github.com/onnwee/subcults-live/internal/validate"
)

// EndedMessage is the human-readable text carried by streamEnded.
const EndedMessage = "Stream has ended"

// Rooms is the subset of the room channel the controller publishes through.
type Rooms interface {
	Join(conn room.Conn, name string)
	Leave(conn room.Conn, name string)
	Publish(name, event string, payload any) int
	PublishAll(event string, payload any) int
	Evict(name string) int
}

// Config holds controller policy.
type Config struct {
	// RequireLive rejects joins to streams whose durable status is not live.
	RequireLive bool
}

// StartRequest is the startStream payload.
type StartRequest struct {
	StreamID    string `json:"streamId"`
	UserID      string `json:"userId"`
	Title       string `json:"title,omitempty"`
	Description string `json:"description,omitempty"`
	Category    string `json:"category,omitempty"`
}

// PublishVideoRequest is the publishStreamVideo payload.
type PublishVideoRequest struct {
	StreamID string         `json:"streamId"`
	UserID   string         `json:"userId"`
	VideoURL string         `json:"videoUrl"`
	Metadata map[string]any `json:"metadata,omitempty"`
}

// JoinRequest is the joinStream payload. UserID falls back to the
// connection identity when empty.
type JoinRequest struct {
	StreamID string `json:"streamId"`
	UserID   string `json:"userId"`
}

// LeaveRequest is the leaveStream payload.
type LeaveRequest struct {
	StreamID string `json:"streamId"`
	UserID   string `json:"userId"`
}

// EndRequest is the endStream payload.
type EndRequest struct {
	StreamID string `json:"streamId"`
	UserID   string `json:"userId"`
}

// StreamLive announces a stream going live to every connection.
type StreamLive struct {
	StreamID       string  `json:"streamId"`
	StreamerName   string  `json:"streamerName"`
	StreamerAvatar string  `json:"streamerAvatar"`
	Title          string  `json:"title"`
	Category       string  `json:"category"`
	Thumbnail      *string `json:"thumbnail"`
}

// StreamVideo carries the current video source to a stream's room.
type StreamVideo struct {
	StreamID  string         `json:"streamId"`
	VideoURL  string         `json:"videoUrl"`
	Metadata  map[string]any `json:"metadata"`
	Timestamp int64          `json:"timestamp"`
}

// StreamerCard is the streamer summary sent to a viewer on join.
type StreamerCard struct {
	StreamerID     string `json:"streamerId"`
	StreamerName   string `json:"streamerName"`
	StreamerAvatar string `json:"streamerAvatar"`
	StreamerBio    string `json:"streamerBio"`
	Followers      int    `json:"followers"`
	IsStreamer     bool   `json:"isStreamer"`
}

// ViewerCount is the room-wide counter update.
type ViewerCount struct {
	ViewerCount   int `json:"viewerCount"`
	TotalLikes    int `json:"totalLikes"`
	TotalComments int `json:"totalComments"`
}

// StreamEnded is published to the room when a stream ends. Duration is in
// milliseconds and nil when the start time is unknown.
type StreamEnded struct {
	StreamID      string `json:"streamId"`
	Message       string `json:"message"`
	TotalLikes    int    `json:"totalLikes"`
	TotalComments int    `json:"totalComments"`
	Duration      *int64 `json:"duration"`
}

// JoinResult reports the outcome of a join.
type JoinResult struct {
	// ViewerID is the counted viewer, or "" for an anonymous watcher.
	ViewerID    string
	ViewerCount int
}

// Controller orchestrates stream lifecycle transitions.
type Controller struct {
	streams  directory.StreamStore
	users    directory.UserStore
	registry *session.Registry
	rooms    Rooms
	metrics  *live.Metrics
	cfg      Config
	now      func() time.Time
}

// NewController creates a stream lifecycle controller. metrics may be nil.
func NewController(stores directory.Stores, registry *session.Registry, rooms Rooms, metrics *live.Metrics, cfg Config) *Controller {
	return &Controller{
		streams:  stores.Streams,
		users:    stores.Users,
		registry: registry,
		rooms:    rooms,
		metrics:  metrics,
		cfg:      cfg,
		now:      time.Now,
	}
}

// Start marks the stream live, creates its session and announces it to
// every connection. Starting a stream that is already live replaces the
// session.
func (c *Controller) Start(ctx context.Context, req StartRequest) (err error) {
	ctx, endSpan := tracing.StartSpan(ctx, "stream.start")
	defer func() { endSpan(err) }()

	if req.StreamID == "" {
		return live.Validation("streamId is required")
	}

	unlock := c.registry.Lock(req.StreamID)
	defer unlock()

	now := c.now()
	st, err := c.streams.Update(ctx, req.StreamID, func(s *directory.Stream) error {
		s.Status = directory.StatusLive
		s.IsActive = true
		s.StartedAt = &now
		s.EndedAt = nil
		s.Viewers = nil
		s.ViewersCount = 0
		if req.Title != "" {
			s.Title = req.Title
		}
		if req.Description != "" {
			s.Description = req.Description
		}
		if req.Category != "" {
			s.Category = req.Category
		}
		return nil
	})
	if errors.Is(err, directory.ErrNotFound) {
		return live.ErrStreamNotFound
	}
	if err != nil {
		return live.Internal("Failed to start stream", err)
	}

	streamerID := req.UserID
	if streamerID == "" {
		streamerID = st.UserID
	}
	if replaced := c.registry.RegisterLive(st.ID, streamerID); replaced {
		slog.WarnContext(ctx, "stream started while already live, session replaced",
			"stream_id", st.ID,
			"user_id", streamerID,
		)
	}
	c.metrics.IncStreamStarts()
	c.metrics.SetActiveStreams(c.registry.Count())

	announcement := StreamLive{
		StreamID:  st.ID,
		Title:     st.Title,
		Category:  st.Category,
		Thumbnail: st.Thumbnail,
	}
	if owner := c.lookupUser(ctx, st.UserID); owner != nil {
		announcement.StreamerName = owner.Username
		announcement.StreamerAvatar = owner.Avatar
	}
	c.rooms.PublishAll(live.EventStreamLive, announcement)

	slog.InfoContext(ctx, "stream started",
		"stream_id", st.ID,
		"user_id", streamerID,
	)
	return nil
}

// PublishVideo relays the stream's current video source to its room. A
// metadata thumbnail is persisted before the broadcast.
func (c *Controller) PublishVideo(ctx context.Context, req PublishVideoRequest) (err error) {
	ctx, endSpan := tracing.StartSpan(ctx, "stream.publish_video")
	defer func() { endSpan(err) }()

	if req.StreamID == "" || req.VideoURL == "" {
		return live.Validation("streamId and videoUrl are required")
	}
	videoURL, err := validate.MediaURL(req.VideoURL)
	if err != nil {
		return live.Validation("Invalid videoUrl")
	}
	req.VideoURL = videoURL

	unlock := c.registry.Lock(req.StreamID)
	defer unlock()

	if _, err := c.streams.FindByID(ctx, req.StreamID); err != nil {
		if errors.Is(err, directory.ErrNotFound) {
			return live.ErrStreamNotFound
		}
		return live.Internal("Failed to publish stream video", err)
	}

	if thumb, ok := req.Metadata["thumbnail"].(string); ok && thumb != "" {
		_, err := c.streams.Update(ctx, req.StreamID, func(s *directory.Stream) error {
			if s.Thumbnail != nil && *s.Thumbnail == thumb {
				return directory.ErrNoChange
			}
			s.Thumbnail = &thumb
			return nil
		})
		if err != nil && !errors.Is(err, directory.ErrNoChange) {
			if errors.Is(err, directory.ErrNotFound) {
				return live.ErrStreamNotFound
			}
			return live.Internal("Failed to publish stream video", err)
		}
	}

	c.rooms.Publish(req.StreamID, live.EventStreamVideo, StreamVideo{
		StreamID:  req.StreamID,
		VideoURL:  req.VideoURL,
		Metadata:  req.Metadata,
		Timestamp: c.now().UnixMilli(),
	})
	return nil
}

// Join adds conn to the stream's room and, when a viewer identity is known,
// records the viewer durably and in the session. A viewer already present is
// not counted twice. The joining connection receives the streamer card and
// the room receives the updated counters.
func (c *Controller) Join(ctx context.Context, conn room.Conn, id *live.Identity, req JoinRequest) (res JoinResult, err error) {
	ctx, endSpan := tracing.StartSpan(ctx, "stream.join")
	defer func() { endSpan(err) }()

	if req.StreamID == "" {
		return JoinResult{}, live.Validation("streamId is required")
	}
	viewerID := req.UserID
	if viewerID == "" {
		viewerID = live.UserIDOf(id)
	}

	unlock := c.registry.Lock(req.StreamID)
	defer unlock()

	st, err := c.streams.FindByID(ctx, req.StreamID)
	if errors.Is(err, directory.ErrNotFound) {
		return JoinResult{}, live.ErrStreamNotFound
	}
	if err != nil {
		return JoinResult{}, live.Internal("Failed to join stream", err)
	}
	if c.cfg.RequireLive && st.Status != directory.StatusLive {
		return JoinResult{}, live.ErrStreamNotLive
	}

	if viewerID != "" {
		st, err = c.streams.Update(ctx, req.StreamID, func(s *directory.Stream) error {
			if !s.HasViewer(viewerID) {
				s.Viewers = append(s.Viewers, viewerID)
			} else if s.ViewersCount == len(s.Viewers) {
				return directory.ErrNoChange
			}
			s.ViewersCount = len(s.Viewers)
			return nil
		})
		if errors.Is(err, directory.ErrNotFound) {
			return JoinResult{}, live.ErrStreamNotFound
		}
		if err != nil && !errors.Is(err, directory.ErrNoChange) {
			return JoinResult{}, live.Internal("Failed to join stream", err)
		}
	}

	c.rooms.Join(conn, req.StreamID)
	if viewerID != "" {
		if _, ok := c.registry.AddViewer(req.StreamID, viewerID); !ok {
			slog.DebugContext(ctx, "viewer joined stream without a live session",
				"stream_id", req.StreamID,
				"user_id", viewerID,
			)
		}
	}
	c.metrics.IncStreamJoins()

	if owner := c.lookupUser(ctx, st.UserID); owner != nil {
		card := StreamerCard{
			StreamerID:     owner.ID,
			StreamerName:   owner.Username,
			StreamerAvatar: owner.Avatar,
			StreamerBio:    owner.Bio,
			Followers:      owner.Followers,
			IsStreamer:     owner.IsStreamer,
		}
		if err := conn.Send(live.EventStreamerProfile, card); err != nil {
			slog.WarnContext(ctx, "failed to send streamer profile",
				"error", err,
				"conn_id", conn.ID(),
				"stream_id", req.StreamID,
			)
		}
	}

	c.rooms.Publish(req.StreamID, live.EventViewerCountUpdated, countsOf(st))

	slog.InfoContext(ctx, "viewer joined stream",
		"stream_id", req.StreamID,
		"user_id", viewerID,
		"viewers", st.ViewersCount,
	)
	return JoinResult{ViewerID: viewerID, ViewerCount: st.ViewersCount}, nil
}

// Leave removes conn from the stream's room and the viewer from the durable
// record and the session. Leaving a stream the viewer is not in, or a stream
// that does not exist, is a no-op. conn may be nil when the connection is
// already gone.
func (c *Controller) Leave(ctx context.Context, conn room.Conn, id *live.Identity, req LeaveRequest) (err error) {
	ctx, endSpan := tracing.StartSpan(ctx, "stream.leave")
	defer func() { endSpan(err) }()

	if req.StreamID == "" {
		return live.Validation("streamId is required")
	}
	viewerID := req.UserID
	if viewerID == "" {
		viewerID = live.UserIDOf(id)
	}

	unlock := c.registry.Lock(req.StreamID)
	defer unlock()

	if conn != nil {
		c.rooms.Leave(conn, req.StreamID)
	}
	if viewerID == "" {
		return nil
	}

	st, err := c.streams.Update(ctx, req.StreamID, func(s *directory.Stream) error {
		kept := s.Viewers[:0:0]
		for _, v := range s.Viewers {
			if v != viewerID {
				kept = append(kept, v)
			}
		}
		if len(kept) == len(s.Viewers) && s.ViewersCount == len(s.Viewers) {
			return directory.ErrNoChange
		}
		s.Viewers = kept
		s.ViewersCount = len(kept)
		return nil
	})
	c.registry.RemoveViewer(req.StreamID, viewerID)

	switch {
	case errors.Is(err, directory.ErrNotFound):
		slog.InfoContext(ctx, "leave for unknown stream ignored",
			"stream_id", req.StreamID,
			"user_id", viewerID,
		)
		return nil
	case errors.Is(err, directory.ErrNoChange):
		return nil
	case err != nil:
		return live.Internal("Failed to leave stream", err)
	}
	c.metrics.IncStreamLeaves()

	c.rooms.Publish(req.StreamID, live.EventViewerCountUpdated, countsOf(st))

	slog.InfoContext(ctx, "viewer left stream",
		"stream_id", req.StreamID,
		"user_id", viewerID,
		"viewers", st.ViewersCount,
	)
	return nil
}

// End marks the stream offline, destroys its session, tells the room and
// then removes every member from it.
func (c *Controller) End(ctx context.Context, req EndRequest) (err error) {
	ctx, endSpan := tracing.StartSpan(ctx, "stream.end")
	defer func() { endSpan(err) }()

	if req.StreamID == "" {
		return live.Validation("streamId is required")
	}

	unlock := c.registry.Lock(req.StreamID)
	defer unlock()

	now := c.now()
	st, err := c.streams.Update(ctx, req.StreamID, func(s *directory.Stream) error {
		markOffline(s, now)
		return nil
	})
	if errors.Is(err, directory.ErrNotFound) {
		return live.ErrStreamNotFound
	}
	if err != nil {
		return live.Internal("Failed to end stream", err)
	}

	c.registry.EndLive(st.ID)
	c.metrics.IncStreamEnds()
	c.metrics.SetActiveStreams(c.registry.Count())

	c.rooms.Publish(st.ID, live.EventStreamEnded, StreamEnded{
		StreamID:      st.ID,
		Message:       EndedMessage,
		TotalLikes:    st.TotalLikes,
		TotalComments: st.TotalComments,
		Duration:      durationMillis(st.StartedAt, st.EndedAt),
	})
	evicted := c.rooms.Evict(st.ID)

	slog.InfoContext(ctx, "stream ended",
		"stream_id", st.ID,
		"evicted", evicted,
	)
	return nil
}

// ReconcileOrphans marks every durable live stream that has no session in
// this process as offline. It runs at boot, before connections are accepted.
func (c *Controller) ReconcileOrphans(ctx context.Context) (int, error) {
	streams, err := c.streams.Find(ctx, directory.StreamFilter{Status: directory.StatusLive})
	if err != nil {
		return 0, err
	}

	reconciled := 0
	for _, st := range streams {
		if c.registry.IsLive(st.ID) {
			continue
		}
		unlock := c.registry.Lock(st.ID)
		now := c.now()
		_, err := c.streams.Update(ctx, st.ID, func(s *directory.Stream) error {
			if s.Status != directory.StatusLive {
				return directory.ErrNoChange
			}
			markOffline(s, now)
			return nil
		})
		unlock()
		if err != nil && !errors.Is(err, directory.ErrNoChange) && !errors.Is(err, directory.ErrNotFound) {
			return reconciled, err
		}
		if err == nil {
			reconciled++
			slog.WarnContext(ctx, "orphaned live stream marked offline", "stream_id", st.ID)
		}
	}
	return reconciled, nil
}

func (c *Controller) lookupUser(ctx context.Context, userID string) *directory.User {
	if userID == "" {
		return nil
	}
	u, err := c.users.FindByID(ctx, userID)
	if err != nil {
		slog.WarnContext(ctx, "failed to load stream owner",
			"error", err,
			"user_id", userID,
		)
		return nil
	}
	return u
}

func markOffline(s *directory.Stream, now time.Time) {
	s.Status = directory.StatusOffline
	s.IsActive = false
	s.EndedAt = &now
	s.Viewers = nil
	s.ViewersCount = 0
}

func countsOf(st *directory.Stream) ViewerCount {
	return ViewerCount{
		ViewerCount:   st.ViewersCount,
		TotalLikes:    st.TotalLikes,
		TotalComments: st.TotalComments,
	}
}

// durationMillis returns ended-started in milliseconds, or nil when either
// end is unknown or the result would be negative.
func durationMillis(started, ended *time.Time) *int64 {
	if started == nil || ended == nil || ended.Before(*started) {
		return nil
	}
	ms := ended.Sub(*started).Milliseconds()
	return &ms
}
