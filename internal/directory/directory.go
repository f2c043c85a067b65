// Package directory defines the durable records the session layer reads and
// writes (users, streams, messages, highlights) and the store interfaces used
// to reach them. Implementations live here (in-memory) and in store/postgres.
package directory

import (
	"context"
	"errors"
	"slices"
	"time"
)

// Common errors for directory operations.
var (
	// ErrNotFound is returned when an id does not resolve to a record.
	ErrNotFound = errors.New("record not found")

	// ErrNoChange may be returned by an Update mutator to abort the write.
	// The store then returns the current record together with ErrNoChange.
	ErrNoChange = errors.New("no change")
)

// StreamStatus is the durable lifecycle state of a stream.
type StreamStatus string

const (
	StatusOffline StreamStatus = "offline"
	StatusLive    StreamStatus = "live"
)

// User is a platform account. Only the fields the session layer uses are modeled.
type User struct {
	ID             string    `json:"id"`
	Username       string    `json:"username"`
	Avatar         string    `json:"avatar"`
	Bio            string    `json:"bio"`
	Followers      int       `json:"followers"`
	Following      int       `json:"following"`
	IsStreamer     bool      `json:"is_streamer"`
	StreamTitle    string    `json:"stream_title"`
	StreamCategory string    `json:"stream_category"`
	IsBanned       bool      `json:"is_banned"`
	CreatedAt      time.Time `json:"created_at"`
}

// Stream is the durable stream record. ViewersCount must equal len(Viewers)
// after every mutation performed by this system.
type Stream struct {
	ID            string       `json:"id"`
	UserID        string       `json:"user_id"`
	Title         string       `json:"title"`
	Description   string       `json:"description"`
	Category      string       `json:"category"`
	Thumbnail     *string      `json:"thumbnail,omitempty"`
	Status        StreamStatus `json:"status"`
	IsActive      bool         `json:"is_active"`
	Viewers       []string     `json:"viewers"`
	ViewersCount  int          `json:"viewers_count"`
	TotalLikes    int          `json:"total_likes"`
	TotalComments int          `json:"total_comments"`
	StartedAt     *time.Time   `json:"started_at,omitempty"`
	EndedAt       *time.Time   `json:"ended_at,omitempty"`
	CreatedAt     time.Time    `json:"created_at"`
}

// HasViewer reports whether userID is in the durable viewer list.
func (s *Stream) HasViewer(userID string) bool {
	return slices.Contains(s.Viewers, userID)
}

// Reply is one entry in a message's append-only reply thread.
type Reply struct {
	UserID    string    `json:"userId"`
	Text      string    `json:"text"`
	Timestamp time.Time `json:"timestamp"`
}

// Message is a chat message posted in a stream.
type Message struct {
	ID          string    `json:"id"`
	StreamID    string    `json:"stream_id"`
	UserID      string    `json:"user_id"`
	MessageText string    `json:"message_text"`
	Likes       int       `json:"likes"`
	LikedBy     []string  `json:"liked_by"`
	Replies     []Reply   `json:"replies"`
	Timestamp   time.Time `json:"timestamp"`
	IsFlagged   bool      `json:"is_flagged"`
}

// HighlightSource records who produced a highlight clip.
type HighlightSource string

const (
	GeneratedByAI     HighlightSource = "ai"
	GeneratedByManual HighlightSource = "manual"
)

// Valid reports whether s is a known highlight source.
func (s HighlightSource) Valid() bool {
	return s == GeneratedByAI || s == GeneratedByManual
}

// Highlight is a saved clip from a stream.
type Highlight struct {
	ID          string          `json:"id"`
	StreamID    string          `json:"stream_id"`
	StreamerID  string          `json:"streamer_id"`
	ClipURL     string          `json:"clip_url"`
	Thumbnail   *string         `json:"thumbnail,omitempty"`
	Duration    float64         `json:"duration"`
	GeneratedBy HighlightSource `json:"generated_by"`
	Tags        []string        `json:"tags"`
	CreatedAt   time.Time       `json:"created_at"`
}

// StreamFilter selects streams in StreamStore.Find. Zero fields match everything.
type StreamFilter struct {
	Status StreamStatus
	UserID string
}

// MessageFilter selects messages in MessageStore.Find.
type MessageFilter struct {
	StreamID string
	UserID   string
}

// UserFilter selects users in UserStore.Find.
type UserFilter struct {
	StreamersOnly bool
}

// HighlightFilter selects highlights in HighlightStore.Find.
type HighlightFilter struct {
	StreamID string
}

// UserStore is the durable user collection.
type UserStore interface {
	FindByID(ctx context.Context, id string) (*User, error)
	Create(ctx context.Context, u *User) (*User, error)
	// Update applies fn to the current record and persists the result as one
	// single-document write. Concurrent updates of the same id are serialized.
	Update(ctx context.Context, id string, fn func(*User) error) (*User, error)
	Delete(ctx context.Context, id string) (*User, error)
	Find(ctx context.Context, filter UserFilter) ([]*User, error)
}

// StreamStore is the durable stream collection.
type StreamStore interface {
	FindByID(ctx context.Context, id string) (*Stream, error)
	Create(ctx context.Context, s *Stream) (*Stream, error)
	Update(ctx context.Context, id string, fn func(*Stream) error) (*Stream, error)
	Delete(ctx context.Context, id string) (*Stream, error)
	Find(ctx context.Context, filter StreamFilter) ([]*Stream, error)
}

// MessageStore is the durable chat message collection.
type MessageStore interface {
	FindByID(ctx context.Context, id string) (*Message, error)
	Create(ctx context.Context, m *Message) (*Message, error)
	Update(ctx context.Context, id string, fn func(*Message) error) (*Message, error)
	Delete(ctx context.Context, id string) (*Message, error)
	Find(ctx context.Context, filter MessageFilter) ([]*Message, error)
}

// HighlightStore is the durable highlight collection.
type HighlightStore interface {
	FindByID(ctx context.Context, id string) (*Highlight, error)
	Create(ctx context.Context, h *Highlight) (*Highlight, error)
	Delete(ctx context.Context, id string) (*Highlight, error)
	Find(ctx context.Context, filter HighlightFilter) ([]*Highlight, error)
}

// Stores bundles the four collections.
type Stores struct {
	Users      UserStore
	Streams    StreamStore
	Messages   MessageStore
	Highlights HighlightStore
}
