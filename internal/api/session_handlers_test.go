package api

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/onnwee/subcults-live/internal/session"
)

type roomCounts map[string]int

func (r roomCounts) Members(room string) int { return r[room] }

func newSessionMux(h *SessionHandlers) *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/streams/{id}/session", h.GetSession)
	return mux
}

func TestGetSession_Live(t *testing.T) {
	registry := session.NewRegistry()
	registry.RegisterLive("s1", "streamer")
	registry.AddViewer("s1", "bob")
	registry.AddViewer("s1", "alice")

	mux := newSessionMux(NewSessionHandlers(registry, roomCounts{"s1": 4}))

	w := httptest.NewRecorder()
	mux.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/streams/s1/session", nil))

	require.Equal(t, http.StatusOK, w.Code)

	var resp SessionResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "s1", resp.StreamID)
	assert.Equal(t, "streamer", resp.StreamerID)
	assert.Equal(t, 2, resp.ViewerCount)
	assert.Equal(t, []string{"alice", "bob"}, resp.Viewers)
	assert.Equal(t, 4, resp.RoomMembers)
	assert.False(t, resp.StartedAt.IsZero())
}

func TestGetSession_NotLive(t *testing.T) {
	registry := session.NewRegistry()
	registry.RegisterLive("s1", "streamer")
	registry.EndLive("s1")

	mux := newSessionMux(NewSessionHandlers(registry, nil))

	w := httptest.NewRecorder()
	mux.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/streams/s1/session", nil))

	require.Equal(t, http.StatusNotFound, w.Code)
	var resp ErrorResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, ErrCodeStreamNotLive, resp.Error.Code)
}

func TestGetSession_NoRoomCounter(t *testing.T) {
	registry := session.NewRegistry()
	registry.RegisterLive("s2", "streamer")

	mux := newSessionMux(NewSessionHandlers(registry, nil))

	w := httptest.NewRecorder()
	mux.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/streams/s2/session", nil))

	require.Equal(t, http.StatusOK, w.Code)
	var resp SessionResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, 0, resp.ViewerCount)
	assert.Empty(t, resp.Viewers)
	assert.Zero(t, resp.RoomMembers)
}

func TestGetSession_MethodNotAllowed(t *testing.T) {
	mux := newSessionMux(NewSessionHandlers(session.NewRegistry(), nil))

	w := httptest.NewRecorder()
	mux.ServeHTTP(w, httptest.NewRequest(http.MethodDelete, "/streams/s1/session", nil))

	assert.Equal(t, http.StatusMethodNotAllowed, w.Code)
}
