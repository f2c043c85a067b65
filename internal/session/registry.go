// Package session tracks which streams are live in this process and who is
// watching them. The registry is the in-memory source of truth for liveness;
// durable stream records remain the recovery source across restarts.
package session

import (
	"sort"
	"sync"
	"time"
)

// Session is the in-memory record of a currently-live stream.
type Session struct {
	StreamID   string
	StreamerID string
	StartedAt  time.Time
	viewers    map[string]struct{}
}

// Snapshot is a point-in-time copy of a Session.
type Snapshot struct {
	StreamID   string    `json:"stream_id"`
	StreamerID string    `json:"streamer_id"`
	StartedAt  time.Time `json:"started_at"`
	Viewers    []string  `json:"viewers"`
}

// keyLock is a reference-counted mutex for one stream id.
type keyLock struct {
	mu   sync.Mutex
	refs int
}

// Registry is the process-wide set of live sessions.
// Thread-safe. Callers that must keep a durable update and the registry
// mutation for one stream in step take Lock(streamID) around both.
type Registry struct {
	mu       sync.RWMutex
	sessions map[string]*Session

	locksMu sync.Mutex
	locks   map[string]*keyLock

	now func() time.Time
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		sessions: make(map[string]*Session),
		locks:    make(map[string]*keyLock),
		now:      time.Now,
	}
}

// Lock acquires the critical section for streamID and returns its release
// function. Different stream ids never block each other.
func (r *Registry) Lock(streamID string) (unlock func()) {
	r.locksMu.Lock()
	l, ok := r.locks[streamID]
	if !ok {
		l = &keyLock{}
		r.locks[streamID] = l
	}
	l.refs++
	r.locksMu.Unlock()

	l.mu.Lock()

	return func() {
		l.mu.Unlock()

		r.locksMu.Lock()
		l.refs--
		if l.refs == 0 {
			delete(r.locks, streamID)
		}
		r.locksMu.Unlock()
	}
}

// RegisterLive creates the session for streamID. An existing session is
// replaced (last start wins); replaced reports whether that happened.
func (r *Registry) RegisterLive(streamID, streamerID string) (replaced bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	_, replaced = r.sessions[streamID]
	r.sessions[streamID] = &Session{
		StreamID:   streamID,
		StreamerID: streamerID,
		StartedAt:  r.now(),
		viewers:    make(map[string]struct{}),
	}
	return replaced
}

// AddViewer adds viewerID to the stream's viewer set and returns the current
// count. Adding a present viewer does not change the count. live is false
// when the stream has no session, in which case nothing is recorded.
func (r *Registry) AddViewer(streamID, viewerID string) (count int, live bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	s, ok := r.sessions[streamID]
	if !ok {
		return 0, false
	}
	s.viewers[viewerID] = struct{}{}
	return len(s.viewers), true
}

// RemoveViewer removes viewerID and returns the current count. Removing an
// absent viewer is a no-op.
func (r *Registry) RemoveViewer(streamID, viewerID string) (count int, live bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	s, ok := r.sessions[streamID]
	if !ok {
		return 0, false
	}
	delete(s.viewers, viewerID)
	return len(s.viewers), true
}

// EndLive destroys the session for streamID. It reports whether one existed.
func (r *Registry) EndLive(streamID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	_, ok := r.sessions[streamID]
	delete(r.sessions, streamID)
	return ok
}

// IsLive reports whether streamID has a session.
func (r *Registry) IsLive(streamID string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	_, ok := r.sessions[streamID]
	return ok
}

// ViewerCount returns the number of viewers of a live stream, or 0.
func (r *Registry) ViewerCount(streamID string) int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if s, ok := r.sessions[streamID]; ok {
		return len(s.viewers)
	}
	return 0
}

// Snapshot returns a copy of the session for streamID.
func (r *Registry) Snapshot(streamID string) (Snapshot, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	s, ok := r.sessions[streamID]
	if !ok {
		return Snapshot{}, false
	}
	viewers := make([]string, 0, len(s.viewers))
	for v := range s.viewers {
		viewers = append(viewers, v)
	}
	sort.Strings(viewers)
	return Snapshot{
		StreamID:   s.StreamID,
		StreamerID: s.StreamerID,
		StartedAt:  s.StartedAt,
		Viewers:    viewers,
	}, true
}

// LiveStreams returns the ids of all live streams, sorted.
func (r *Registry) LiveStreams() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	ids := make([]string, 0, len(r.sessions))
	for id := range r.sessions {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Count returns the number of live sessions.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return len(r.sessions)
}
