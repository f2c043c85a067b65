package gateway

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/onnwee/subcults-live/internal/live"
)

const (
	sendBufferSize = 256
	pongWait       = 60 * time.Second
	pingPeriod     = 54 * time.Second
	writeWait      = 10 * time.Second
	maxFrameSize   = 64 * 1024
)

// Connection errors returned by Send.
var (
	ErrConnClosed     = errors.New("connection closed")
	ErrSendBufferFull = errors.New("send buffer full")
)

// Conn is one client connection. Inbound events are handled one at a time
// on the read goroutine; outbound events are queued and written by the
// write goroutine in Send order.
type Conn struct {
	id       string
	ws       *websocket.Conn
	codec    Codec
	identity *live.Identity

	sendCh chan []byte
	mu     sync.Mutex
	closed bool

	// joined maps stream id to the viewer ids counted by this connection.
	// An anonymous watcher has an empty set. Only touched from the read
	// goroutine.
	joined map[string]map[string]struct{}
}

func newConn(ws *websocket.Conn, codec Codec, identity *live.Identity) *Conn {
	return &Conn{
		id:       uuid.New().String(),
		ws:       ws,
		codec:    codec,
		identity: identity,
		sendCh:   make(chan []byte, sendBufferSize),
		joined:   make(map[string]map[string]struct{}),
	}
}

// ID returns the connection id.
func (c *Conn) ID() string { return c.id }

// Identity returns the resolved caller, or nil for an anonymous connection.
func (c *Conn) Identity() *live.Identity { return c.identity }

// Send encodes and queues an event. It never blocks.
func (c *Conn) Send(event string, payload any) error {
	frame, err := c.codec.Encode(event, payload)
	if err != nil {
		return fmt.Errorf("encode %s: %w", event, err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return ErrConnClosed
	}
	select {
	case c.sendCh <- frame:
		return nil
	default:
		return ErrSendBufferFull
	}
}

// SendError sends the error envelope for err to this connection only.
func (c *Conn) SendError(err error) error {
	return c.Send(live.EventErrorMessage, live.PublicMessage(err))
}

func (c *Conn) trackJoin(streamID, viewerID string) {
	viewers, ok := c.joined[streamID]
	if !ok {
		viewers = make(map[string]struct{})
		c.joined[streamID] = viewers
	}
	if viewerID != "" {
		viewers[viewerID] = struct{}{}
	}
}

// trackLeave forgets viewerID on streamID, or the whole stream when
// viewerID is empty or was the last viewer.
func (c *Conn) trackLeave(streamID, viewerID string) {
	viewers, ok := c.joined[streamID]
	if !ok {
		return
	}
	if viewerID != "" {
		delete(viewers, viewerID)
		if len(viewers) > 0 {
			return
		}
	}
	delete(c.joined, streamID)
}

// viewersOf returns the viewer ids counted on streamID, sorted.
func (c *Conn) viewersOf(streamID string) []string {
	viewers := make([]string, 0, len(c.joined[streamID]))
	for v := range c.joined[streamID] {
		viewers = append(viewers, v)
	}
	slices.Sort(viewers)
	return viewers
}

// joinedStreams returns the streams this connection joined, sorted.
func (c *Conn) joinedStreams() []string {
	streams := make([]string, 0, len(c.joined))
	for id := range c.joined {
		streams = append(streams, id)
	}
	slices.Sort(streams)
	return streams
}

// close stops queueing and closes the socket. Safe to call more than once.
func (c *Conn) close() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return
	}
	c.closed = true
	close(c.sendCh)
	if c.ws != nil {
		_ = c.ws.Close()
	}
}

// readPump reads frames until the peer goes away or ctx is done, passing
// each frame to handle before reading the next one.
func (c *Conn) readPump(ctx context.Context, handle func(frame []byte)) error {
	c.ws.SetReadLimit(maxFrameSize)
	_ = c.ws.SetReadDeadline(time.Now().Add(pongWait))
	c.ws.SetPongHandler(func(string) error {
		return c.ws.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		_, frame, err := c.ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseNoStatusReceived) {
				return fmt.Errorf("read error: %w", err)
			}
			return nil
		}
		handle(frame)
	}
}

// writePump writes queued frames and keepalive pings until the queue is
// closed or a write fails.
func (c *Conn) writePump(ctx context.Context) error {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case frame, ok := <-c.sendCh:
			_ = c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.ws.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
				return nil
			}
			if err := c.ws.WriteMessage(c.codec.FrameType(), frame); err != nil {
				return fmt.Errorf("write error: %w", err)
			}

		case <-ticker.C:
			_ = c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				return fmt.Errorf("ping error: %w", err)
			}
		}
	}
}
