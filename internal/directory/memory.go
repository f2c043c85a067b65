package directory

import (
	"context"
	"errors"
	"slices"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// InMemoryUserStore is an in-memory implementation of UserStore.
// Thread-safe via RWMutex.
type InMemoryUserStore struct {
	mu    sync.RWMutex
	users map[string]*User
}

// NewInMemoryUserStore creates a new in-memory user store.
func NewInMemoryUserStore() *InMemoryUserStore {
	return &InMemoryUserStore{users: make(map[string]*User)}
}

func cloneUser(u *User) *User {
	c := *u
	return &c
}

// FindByID retrieves a user by id.
func (s *InMemoryUserStore) FindByID(_ context.Context, id string) (*User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	u, ok := s.users[id]
	if !ok {
		return nil, ErrNotFound
	}
	return cloneUser(u), nil
}

// Create stores a new user, assigning an id and creation time when absent.
func (s *InMemoryUserStore) Create(_ context.Context, u *User) (*User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	c := cloneUser(u)
	if c.ID == "" {
		c.ID = uuid.New().String()
	}
	if c.CreatedAt.IsZero() {
		c.CreatedAt = time.Now()
	}
	s.users[c.ID] = c
	return cloneUser(c), nil
}

// Update applies fn to the stored user under the write lock.
func (s *InMemoryUserStore) Update(_ context.Context, id string, fn func(*User) error) (*User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	u, ok := s.users[id]
	if !ok {
		return nil, ErrNotFound
	}
	next := cloneUser(u)
	if err := fn(next); err != nil {
		if errors.Is(err, ErrNoChange) {
			return cloneUser(u), err
		}
		return nil, err
	}
	next.ID = id
	s.users[id] = next
	return cloneUser(next), nil
}

// Delete removes a user and returns the removed record.
func (s *InMemoryUserStore) Delete(_ context.Context, id string) (*User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	u, ok := s.users[id]
	if !ok {
		return nil, ErrNotFound
	}
	delete(s.users, id)
	return u, nil
}

// Find returns users matching filter, oldest first.
func (s *InMemoryUserStore) Find(_ context.Context, filter UserFilter) ([]*User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := []*User{}
	for _, u := range s.users {
		if filter.StreamersOnly && !u.IsStreamer {
			continue
		}
		result = append(result, cloneUser(u))
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].CreatedAt.Before(result[j].CreatedAt)
	})
	return result, nil
}

// InMemoryStreamStore is an in-memory implementation of StreamStore.
// Thread-safe via RWMutex.
type InMemoryStreamStore struct {
	mu      sync.RWMutex
	streams map[string]*Stream
}

// NewInMemoryStreamStore creates a new in-memory stream store.
func NewInMemoryStreamStore() *InMemoryStreamStore {
	return &InMemoryStreamStore{streams: make(map[string]*Stream)}
}

func cloneStream(st *Stream) *Stream {
	c := *st
	c.Viewers = slices.Clone(st.Viewers)
	if st.Thumbnail != nil {
		t := *st.Thumbnail
		c.Thumbnail = &t
	}
	if st.StartedAt != nil {
		t := *st.StartedAt
		c.StartedAt = &t
	}
	if st.EndedAt != nil {
		t := *st.EndedAt
		c.EndedAt = &t
	}
	return &c
}

// FindByID retrieves a stream by id.
func (s *InMemoryStreamStore) FindByID(_ context.Context, id string) (*Stream, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	st, ok := s.streams[id]
	if !ok {
		return nil, ErrNotFound
	}
	return cloneStream(st), nil
}

// Create stores a new stream. Defaults mirror a freshly created offline stream.
func (s *InMemoryStreamStore) Create(_ context.Context, st *Stream) (*Stream, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	c := cloneStream(st)
	if c.ID == "" {
		c.ID = uuid.New().String()
	}
	if c.Status == "" {
		c.Status = StatusOffline
	}
	if c.Category == "" {
		c.Category = "Gaming"
	}
	if c.CreatedAt.IsZero() {
		c.CreatedAt = time.Now()
	}
	c.ViewersCount = len(c.Viewers)
	s.streams[c.ID] = c
	return cloneStream(c), nil
}

// Update applies fn to the stored stream under the write lock.
func (s *InMemoryStreamStore) Update(_ context.Context, id string, fn func(*Stream) error) (*Stream, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	st, ok := s.streams[id]
	if !ok {
		return nil, ErrNotFound
	}
	next := cloneStream(st)
	if err := fn(next); err != nil {
		if errors.Is(err, ErrNoChange) {
			return cloneStream(st), err
		}
		return nil, err
	}
	next.ID = id
	s.streams[id] = next
	return cloneStream(next), nil
}

// Delete removes a stream and returns the removed record.
func (s *InMemoryStreamStore) Delete(_ context.Context, id string) (*Stream, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	st, ok := s.streams[id]
	if !ok {
		return nil, ErrNotFound
	}
	delete(s.streams, id)
	return st, nil
}

// Find returns streams matching filter, newest first.
func (s *InMemoryStreamStore) Find(_ context.Context, filter StreamFilter) ([]*Stream, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := []*Stream{}
	for _, st := range s.streams {
		if filter.Status != "" && st.Status != filter.Status {
			continue
		}
		if filter.UserID != "" && st.UserID != filter.UserID {
			continue
		}
		result = append(result, cloneStream(st))
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].CreatedAt.After(result[j].CreatedAt)
	})
	return result, nil
}

// InMemoryMessageStore is an in-memory implementation of MessageStore.
// Thread-safe via RWMutex.
type InMemoryMessageStore struct {
	mu       sync.RWMutex
	messages map[string]*Message
}

// NewInMemoryMessageStore creates a new in-memory message store.
func NewInMemoryMessageStore() *InMemoryMessageStore {
	return &InMemoryMessageStore{messages: make(map[string]*Message)}
}

func cloneMessage(m *Message) *Message {
	c := *m
	c.LikedBy = slices.Clone(m.LikedBy)
	c.Replies = slices.Clone(m.Replies)
	return &c
}

// FindByID retrieves a message by id.
func (s *InMemoryMessageStore) FindByID(_ context.Context, id string) (*Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	m, ok := s.messages[id]
	if !ok {
		return nil, ErrNotFound
	}
	return cloneMessage(m), nil
}

// Create stores a new message, assigning an id and timestamp when absent.
func (s *InMemoryMessageStore) Create(_ context.Context, m *Message) (*Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	c := cloneMessage(m)
	if c.ID == "" {
		c.ID = uuid.New().String()
	}
	if c.Timestamp.IsZero() {
		c.Timestamp = time.Now()
	}
	s.messages[c.ID] = c
	return cloneMessage(c), nil
}

// Update applies fn to the stored message under the write lock.
func (s *InMemoryMessageStore) Update(_ context.Context, id string, fn func(*Message) error) (*Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	m, ok := s.messages[id]
	if !ok {
		return nil, ErrNotFound
	}
	next := cloneMessage(m)
	if err := fn(next); err != nil {
		if errors.Is(err, ErrNoChange) {
			return cloneMessage(m), err
		}
		return nil, err
	}
	next.ID = id
	s.messages[id] = next
	return cloneMessage(next), nil
}

// Delete removes a message and returns the removed record.
func (s *InMemoryMessageStore) Delete(_ context.Context, id string) (*Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	m, ok := s.messages[id]
	if !ok {
		return nil, ErrNotFound
	}
	delete(s.messages, id)
	return m, nil
}

// Find returns messages matching filter in timestamp order.
func (s *InMemoryMessageStore) Find(_ context.Context, filter MessageFilter) ([]*Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := []*Message{}
	for _, m := range s.messages {
		if filter.StreamID != "" && m.StreamID != filter.StreamID {
			continue
		}
		if filter.UserID != "" && m.UserID != filter.UserID {
			continue
		}
		result = append(result, cloneMessage(m))
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].Timestamp.Before(result[j].Timestamp)
	})
	return result, nil
}

// InMemoryHighlightStore is an in-memory implementation of HighlightStore.
// Thread-safe via RWMutex.
type InMemoryHighlightStore struct {
	mu         sync.RWMutex
	highlights map[string]*Highlight
}

// NewInMemoryHighlightStore creates a new in-memory highlight store.
func NewInMemoryHighlightStore() *InMemoryHighlightStore {
	return &InMemoryHighlightStore{highlights: make(map[string]*Highlight)}
}

func cloneHighlight(h *Highlight) *Highlight {
	c := *h
	c.Tags = slices.Clone(h.Tags)
	if h.Thumbnail != nil {
		t := *h.Thumbnail
		c.Thumbnail = &t
	}
	return &c
}

// FindByID retrieves a highlight by id.
func (s *InMemoryHighlightStore) FindByID(_ context.Context, id string) (*Highlight, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	h, ok := s.highlights[id]
	if !ok {
		return nil, ErrNotFound
	}
	return cloneHighlight(h), nil
}

// Create stores a new highlight.
func (s *InMemoryHighlightStore) Create(_ context.Context, h *Highlight) (*Highlight, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	c := cloneHighlight(h)
	if c.ID == "" {
		c.ID = uuid.New().String()
	}
	if c.GeneratedBy == "" {
		c.GeneratedBy = GeneratedByAI
	}
	if c.CreatedAt.IsZero() {
		c.CreatedAt = time.Now()
	}
	s.highlights[c.ID] = c
	return cloneHighlight(c), nil
}

// Delete removes a highlight and returns the removed record.
func (s *InMemoryHighlightStore) Delete(_ context.Context, id string) (*Highlight, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	h, ok := s.highlights[id]
	if !ok {
		return nil, ErrNotFound
	}
	delete(s.highlights, id)
	return h, nil
}

// Find returns highlights matching filter, newest first.
func (s *InMemoryHighlightStore) Find(_ context.Context, filter HighlightFilter) ([]*Highlight, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := []*Highlight{}
	for _, h := range s.highlights {
		if filter.StreamID != "" && h.StreamID != filter.StreamID {
			continue
		}
		result = append(result, cloneHighlight(h))
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].CreatedAt.After(result[j].CreatedAt)
	})
	return result, nil
}

// NewInMemoryStores returns a Stores backed entirely by memory.
func NewInMemoryStores() Stores {
	return Stores{
		Users:      NewInMemoryUserStore(),
		Streams:    NewInMemoryStreamStore(),
		Messages:   NewInMemoryMessageStore(),
		Highlights: NewInMemoryHighlightStore(),
	}
}
