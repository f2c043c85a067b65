// Package room provides named-group multicast over realtime connections.
// A connection joins rooms; publishing to a room reaches exactly the
// connections joined to it at the time of publish.
package room

import (
	"log/slog"
	"sort"
	"sync"
)

// Conn is one realtime connection as seen by the channel.
// Send must not block; it queues the event for delivery in call order.
type Conn interface {
	ID() string
	Send(event string, payload any) error
}

// members is one room. mu serializes publishes and membership changes so
// every member observes the room's events in the same order.
type members struct {
	mu    sync.Mutex
	conns map[string]Conn
}

// Channel manages room membership and delivery.
//
// Lock order: Channel.mu before members.mu.
type Channel struct {
	mu          sync.RWMutex
	rooms       map[string]*members            // room -> members
	memberships map[string]map[string]struct{} // connID -> rooms
	conns       map[string]Conn                // every connected connection

	allMu sync.Mutex // serializes PublishAll

	onDrop func(connID, event string, err error)
}

// NewChannel creates an empty channel.
func NewChannel() *Channel {
	return &Channel{
		rooms:       make(map[string]*members),
		memberships: make(map[string]map[string]struct{}),
		conns:       make(map[string]Conn),
	}
}

// OnDrop registers a callback invoked when a delivery fails.
// It must be set before the channel is used.
func (c *Channel) OnDrop(fn func(connID, event string, err error)) {
	c.onDrop = fn
}

// Connect registers conn for PublishAll delivery.
func (c *Channel) Connect(conn Conn) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.conns[conn.ID()] = conn
}

// Disconnect unregisters conn and removes it from every room.
// It returns the rooms conn was in.
func (c *Channel) Disconnect(conn Conn) []string {
	c.mu.Lock()
	defer c.mu.Unlock()

	delete(c.conns, conn.ID())
	return c.leaveAllLocked(conn.ID())
}

// Join adds conn to room. Joining twice is a no-op.
func (c *Channel) Join(conn Conn, room string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	m, ok := c.rooms[room]
	if !ok {
		m = &members{conns: make(map[string]Conn)}
		c.rooms[room] = m
	}
	m.mu.Lock()
	m.conns[conn.ID()] = conn
	m.mu.Unlock()

	rooms, ok := c.memberships[conn.ID()]
	if !ok {
		rooms = make(map[string]struct{})
		c.memberships[conn.ID()] = rooms
	}
	rooms[room] = struct{}{}
}

// Leave removes conn from room. Leaving a room not joined is a no-op.
func (c *Channel) Leave(conn Conn, room string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.leaveLocked(conn.ID(), room)
}

// LeaveAll removes conn from every room and returns the rooms it left.
func (c *Channel) LeaveAll(conn Conn) []string {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.leaveAllLocked(conn.ID())
}

func (c *Channel) leaveAllLocked(connID string) []string {
	rooms := make([]string, 0, len(c.memberships[connID]))
	for room := range c.memberships[connID] {
		rooms = append(rooms, room)
	}
	for _, room := range rooms {
		c.leaveLocked(connID, room)
	}
	sort.Strings(rooms)
	return rooms
}

func (c *Channel) leaveLocked(connID, room string) {
	if m, ok := c.rooms[room]; ok {
		m.mu.Lock()
		delete(m.conns, connID)
		empty := len(m.conns) == 0
		m.mu.Unlock()
		if empty {
			delete(c.rooms, room)
		}
	}
	if rooms, ok := c.memberships[connID]; ok {
		delete(rooms, room)
		if len(rooms) == 0 {
			delete(c.memberships, connID)
		}
	}
}

// Evict removes every member from room and returns how many were removed.
func (c *Channel) Evict(room string) int {
	c.mu.Lock()
	defer c.mu.Unlock()

	m, ok := c.rooms[room]
	if !ok {
		return 0
	}
	m.mu.Lock()
	ids := make([]string, 0, len(m.conns))
	for id := range m.conns {
		ids = append(ids, id)
	}
	m.mu.Unlock()

	for _, id := range ids {
		c.leaveLocked(id, room)
	}
	return len(ids)
}

// Publish delivers event to every connection currently in room and returns
// the number of connections it was queued for. Publishes to one room are
// delivered to all of its members in the same order.
func (c *Channel) Publish(room, event string, payload any) int {
	c.mu.RLock()
	m, ok := c.rooms[room]
	if !ok {
		c.mu.RUnlock()
		return 0
	}
	m.mu.Lock()
	c.mu.RUnlock()
	defer m.mu.Unlock()

	delivered := 0
	for _, conn := range m.conns {
		if c.deliver(conn, event, payload) {
			delivered++
		}
	}
	return delivered
}

// PublishAll delivers event to every connected connection regardless of room.
func (c *Channel) PublishAll(event string, payload any) int {
	c.allMu.Lock()
	defer c.allMu.Unlock()

	c.mu.RLock()
	conns := make([]Conn, 0, len(c.conns))
	for _, conn := range c.conns {
		conns = append(conns, conn)
	}
	c.mu.RUnlock()

	delivered := 0
	for _, conn := range conns {
		if c.deliver(conn, event, payload) {
			delivered++
		}
	}
	return delivered
}

func (c *Channel) deliver(conn Conn, event string, payload any) bool {
	if err := conn.Send(event, payload); err != nil {
		slog.Warn("failed to queue event for connection",
			"error", err,
			"conn_id", conn.ID(),
			"event", event,
		)
		if c.onDrop != nil {
			c.onDrop(conn.ID(), event, err)
		}
		return false
	}
	return true
}

// Members returns the number of connections in room.
func (c *Channel) Members(room string) int {
	c.mu.RLock()
	defer c.mu.RUnlock()

	m, ok := c.rooms[room]
	if !ok {
		return 0
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.conns)
}

// Rooms returns the rooms conn has joined, sorted.
func (c *Channel) Rooms(conn Conn) []string {
	c.mu.RLock()
	defer c.mu.RUnlock()

	rooms := make([]string, 0, len(c.memberships[conn.ID()]))
	for room := range c.memberships[conn.ID()] {
		rooms = append(rooms, room)
	}
	sort.Strings(rooms)
	return rooms
}

// ConnectionCount returns the number of connected connections.
func (c *Channel) ConnectionCount() int {
	c.mu.RLock()
	defer c.mu.RUnlock()

	return len(c.conns)
}
