package api

import (
	"net/http"
	"time"

	"github.com/onnwee/subcults-live/internal/middleware"
	"github.com/onnwee/subcults-live/internal/session"
)

// SessionSource exposes live session snapshots.
type SessionSource interface {
	Snapshot(streamID string) (session.Snapshot, bool)
}

// RoomCounter counts connections subscribed to a room.
type RoomCounter interface {
	Members(room string) int
}

// SessionHandlers serves read-only views of the session registry.
type SessionHandlers struct {
	sessions SessionSource
	rooms    RoomCounter
}

// NewSessionHandlers creates session handlers. rooms may be nil.
func NewSessionHandlers(sessions SessionSource, rooms RoomCounter) *SessionHandlers {
	return &SessionHandlers{sessions: sessions, rooms: rooms}
}

// SessionResponse is the body of GET /streams/{id}/session.
type SessionResponse struct {
	StreamID    string    `json:"stream_id"`
	StreamerID  string    `json:"streamer_id"`
	StartedAt   time.Time `json:"started_at"`
	ViewerCount int       `json:"viewer_count"`
	Viewers     []string  `json:"viewers"`
	RoomMembers int       `json:"room_members"`
}

// GetSession handles GET /streams/{id}/session.
// Returns 404 when the stream has no live session in this process.
func (h *SessionHandlers) GetSession(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		ctx := middleware.SetErrorCode(r.Context(), ErrCodeBadRequest)
		WriteError(w, ctx, http.StatusMethodNotAllowed, ErrCodeBadRequest, "Method not allowed")
		return
	}

	streamID := r.PathValue("id")
	if streamID == "" {
		ctx := middleware.SetErrorCode(r.Context(), ErrCodeValidation)
		WriteError(w, ctx, http.StatusBadRequest, ErrCodeValidation, "Stream id is required")
		return
	}

	snap, ok := h.sessions.Snapshot(streamID)
	if !ok {
		ctx := middleware.SetErrorCode(r.Context(), ErrCodeStreamNotLive)
		WriteError(w, ctx, http.StatusNotFound, ErrCodeStreamNotLive, "Stream is not live")
		return
	}

	resp := SessionResponse{
		StreamID:    snap.StreamID,
		StreamerID:  snap.StreamerID,
		StartedAt:   snap.StartedAt,
		ViewerCount: len(snap.Viewers),
		Viewers:     snap.Viewers,
	}
	if h.rooms != nil {
		resp.RoomMembers = h.rooms.Members(streamID)
	}

	writeJSON(w, r.Context(), http.StatusOK, resp)
}
