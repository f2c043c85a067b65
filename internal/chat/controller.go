// Package chat implements stream chat and engagement: messages, likes,
// replies, edits, deletes and highlight clips. Every mutation is persisted
// before it is broadcast to the stream's room.
package chat

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"time"

	"github.com/onnwee/subcults-live/internal/directory"
	"github.com/onnwee/subcults-live/internal/live"
	"github.com/onnwee/subcults-live/internal/room"
	"github.com/onnwee/subcults-live/internal/tracing"
	"github.com/onnwee/subcults-live/internal/validate"
)

// Publisher delivers an event to every member of a room.
type Publisher interface {
	Publish(name, event string, payload any) int
}

// Locker serializes mutations per stream id.
type Locker interface {
	Lock(streamID string) (unlock func())
}

// errStreamMismatch aborts an update when a message belongs to another stream.
var errStreamMismatch = errors.New("message belongs to another stream")

// SendRequest is the sendMessage payload.
type SendRequest struct {
	StreamID    string `json:"streamId"`
	UserID      string `json:"userId"`
	MessageText string `json:"messageText"`
}

// LikeRequest is the likeMessage payload.
type LikeRequest struct {
	MessageID string `json:"messageId"`
	StreamID  string `json:"streamId"`
	UserID    string `json:"userId"`
}

// ReplyRequest is the replyToMessage payload. Username and UserAvatar are
// display hints; the stored user is used when they are absent.
type ReplyRequest struct {
	MessageID  string `json:"messageId"`
	StreamID   string `json:"streamId"`
	UserID     string `json:"userId"`
	Username   string `json:"username,omitempty"`
	UserAvatar string `json:"userAvatar,omitempty"`
	ReplyText  string `json:"replyText"`
}

// UpdateRequest is the room-scoped updateMessage payload.
type UpdateRequest struct {
	MessageID   string `json:"messageId"`
	StreamID    string `json:"streamId"`
	MessageText string `json:"messageText"`
}

// LegacyUpdateRequest is the direct-chat updateMessage payload. The room is
// taken from the stored message.
type LegacyUpdateRequest struct {
	ID          string `json:"id"`
	MessageText string `json:"messageText"`
}

// DeleteRequest is the room-scoped deleteMessage payload.
type DeleteRequest struct {
	MessageID string `json:"messageId"`
	StreamID  string `json:"streamId"`
}

// LegacyDeleteRequest is the direct-chat deleteMessage payload.
type LegacyDeleteRequest struct {
	ID string `json:"id"`
}

// HighlightRequest is the saveHighlight payload.
type HighlightRequest struct {
	StreamID    string                    `json:"streamId"`
	StreamerID  string                    `json:"streamerId"`
	ClipURL     string                    `json:"clipUrl"`
	Thumbnail   *string                   `json:"thumbnail,omitempty"`
	Duration    float64                   `json:"duration,omitempty"`
	Tags        []string                  `json:"tags,omitempty"`
	GeneratedBy directory.HighlightSource `json:"generatedBy,omitempty"`
}

// NewMessage is broadcast when a message is posted.
type NewMessage struct {
	ID          string            `json:"_id"`
	StreamID    string            `json:"streamId"`
	UserID      string            `json:"userId"`
	Username    string            `json:"username"`
	UserAvatar  string            `json:"userAvatar"`
	MessageText string            `json:"messageText"`
	Likes       int               `json:"likes"`
	Replies     []directory.Reply `json:"replies"`
	Timestamp   time.Time         `json:"timestamp"`
}

// MessageLiked carries a message's new like total.
type MessageLiked struct {
	MessageID string `json:"messageId"`
	Likes     int    `json:"likes"`
}

// ReplyView is one reply as shown to the room.
type ReplyView struct {
	UserID     string    `json:"userId"`
	Username   string    `json:"username"`
	UserAvatar string    `json:"userAvatar"`
	Text       string    `json:"text"`
	Timestamp  time.Time `json:"timestamp"`
}

// MessageReply is broadcast when a reply is appended.
type MessageReply struct {
	MessageID string    `json:"messageId"`
	Reply     ReplyView `json:"reply"`
}

// MessageUpdated is broadcast after a room-scoped edit.
type MessageUpdated struct {
	MessageID   string `json:"messageId"`
	MessageText string `json:"messageText"`
}

// LegacyMessageUpdated is broadcast after a direct-chat edit.
type LegacyMessageUpdated struct {
	ID          string `json:"_id"`
	MessageText string `json:"messageText"`
}

// MessageDeleted is broadcast after a room-scoped delete.
type MessageDeleted struct {
	MessageID string `json:"messageId"`
}

// LegacyMessageDeleted is broadcast after a direct-chat delete.
type LegacyMessageDeleted struct {
	ID string `json:"_id"`
}

// HighlightSaved is broadcast when a highlight clip is stored.
type HighlightSaved struct {
	HighlightID string    `json:"highlightId"`
	ClipURL     string    `json:"clipUrl"`
	Thumbnail   *string   `json:"thumbnail"`
	Duration    float64   `json:"duration"`
	CreatedAt   time.Time `json:"createdAt"`
}

// HighlightAck acknowledges a saved highlight to its sender.
type HighlightAck struct {
	HighlightID string `json:"highlightId"`
}

// Controller handles chat and engagement events.
type Controller struct {
	messages   directory.MessageStore
	streams    directory.StreamStore
	users      directory.UserStore
	highlights directory.HighlightStore
	locks      Locker
	rooms      Publisher
	metrics    *live.Metrics
	now        func() time.Time
}

// NewController creates a chat controller. locks is normally the session
// registry so chat and lifecycle mutations on one stream are serialized
// together. metrics may be nil.
func NewController(stores directory.Stores, locks Locker, rooms Publisher, metrics *live.Metrics) *Controller {
	return &Controller{
		messages:   stores.Messages,
		streams:    stores.Streams,
		users:      stores.Users,
		highlights: stores.Highlights,
		locks:      locks,
		rooms:      rooms,
		metrics:    metrics,
		now:        time.Now,
	}
}

// Send stores a chat message, bumps the stream's comment total and
// broadcasts newMessage. UserID falls back to the connection identity.
func (c *Controller) Send(ctx context.Context, id *live.Identity, req SendRequest) (msg *directory.Message, err error) {
	ctx, endSpan := tracing.StartSpan(ctx, "chat.send")
	defer func() { endSpan(err) }()

	if req.UserID == "" {
		req.UserID = live.UserIDOf(id)
	}
	if req.StreamID == "" || req.UserID == "" || req.MessageText == "" {
		return nil, live.Validation("All fields are required")
	}
	if err := checkText(req.MessageText); err != nil {
		return nil, err
	}

	unlock := c.locks.Lock(req.StreamID)
	defer unlock()

	if _, err := c.streams.FindByID(ctx, req.StreamID); err != nil {
		if errors.Is(err, directory.ErrNotFound) {
			return nil, live.ErrStreamNotFound
		}
		return nil, live.Internal(live.GenericInternalMessage, err)
	}
	user, err := c.users.FindByID(ctx, req.UserID)
	if errors.Is(err, directory.ErrNotFound) {
		return nil, live.ErrUserNotFound
	}
	if err != nil {
		return nil, live.Internal(live.GenericInternalMessage, err)
	}

	msg, err = c.messages.Create(ctx, &directory.Message{
		StreamID:    req.StreamID,
		UserID:      req.UserID,
		MessageText: req.MessageText,
		Timestamp:   c.now(),
	})
	if err != nil {
		return nil, live.Internal(live.GenericInternalMessage, err)
	}

	// The message is already stored. A failed counter bump is logged only.
	if _, err := c.streams.Update(ctx, req.StreamID, func(s *directory.Stream) error {
		s.TotalComments++
		return nil
	}); err != nil {
		slog.WarnContext(ctx, "failed to increment stream comment total",
			"error", err,
			"stream_id", req.StreamID,
			"message_id", msg.ID,
		)
	}
	c.metrics.IncChatMessages()

	c.rooms.Publish(req.StreamID, live.EventNewMessage, NewMessage{
		ID:          msg.ID,
		StreamID:    msg.StreamID,
		UserID:      msg.UserID,
		Username:    user.Username,
		UserAvatar:  user.Avatar,
		MessageText: msg.MessageText,
		Likes:       0,
		Replies:     []directory.Reply{},
		Timestamp:   msg.Timestamp,
	})
	return msg, nil
}

// Like records userID's like on a message. A second like by the same user
// changes nothing and broadcasts nothing.
func (c *Controller) Like(ctx context.Context, id *live.Identity, req LikeRequest) (err error) {
	ctx, endSpan := tracing.StartSpan(ctx, "chat.like")
	defer func() { endSpan(err) }()

	if req.UserID == "" {
		req.UserID = live.UserIDOf(id)
	}
	if req.MessageID == "" || req.StreamID == "" || req.UserID == "" {
		return live.Validation("messageId, streamId and userId are required")
	}

	unlock := c.locks.Lock(req.StreamID)
	defer unlock()

	msg, err := c.messages.Update(ctx, req.MessageID, func(m *directory.Message) error {
		if m.StreamID != req.StreamID {
			return errStreamMismatch
		}
		if slices.Contains(m.LikedBy, req.UserID) {
			return directory.ErrNoChange
		}
		m.LikedBy = append(m.LikedBy, req.UserID)
		m.Likes++
		return nil
	})
	switch {
	case errors.Is(err, directory.ErrNoChange):
		return nil
	case errors.Is(err, directory.ErrNotFound), errors.Is(err, errStreamMismatch):
		return live.ErrMessageNotFound
	case err != nil:
		return live.Internal("Failed to like message", err)
	}

	if _, err := c.streams.Update(ctx, req.StreamID, func(s *directory.Stream) error {
		s.TotalLikes++
		return nil
	}); err != nil {
		slog.WarnContext(ctx, "failed to increment stream like total",
			"error", err,
			"stream_id", req.StreamID,
			"message_id", req.MessageID,
		)
	}

	c.rooms.Publish(req.StreamID, live.EventMessageLiked, MessageLiked{
		MessageID: msg.ID,
		Likes:     msg.Likes,
	})
	return nil
}

// Reply appends a reply to a message and broadcasts it.
func (c *Controller) Reply(ctx context.Context, id *live.Identity, req ReplyRequest) (err error) {
	ctx, endSpan := tracing.StartSpan(ctx, "chat.reply")
	defer func() { endSpan(err) }()

	if req.UserID == "" {
		req.UserID = live.UserIDOf(id)
	}
	if req.MessageID == "" || req.StreamID == "" || req.UserID == "" || req.ReplyText == "" {
		return live.Validation("messageId, streamId, userId and replyText are required")
	}
	if err := checkText(req.ReplyText); err != nil {
		return err
	}

	unlock := c.locks.Lock(req.StreamID)
	defer unlock()

	reply := directory.Reply{
		UserID:    req.UserID,
		Text:      req.ReplyText,
		Timestamp: c.now(),
	}
	_, err = c.messages.Update(ctx, req.MessageID, func(m *directory.Message) error {
		if m.StreamID != req.StreamID {
			return errStreamMismatch
		}
		m.Replies = append(m.Replies, reply)
		return nil
	})
	if errors.Is(err, directory.ErrNotFound) || errors.Is(err, errStreamMismatch) {
		return live.ErrMessageNotFound
	}
	if err != nil {
		return live.Internal("Failed to reply", err)
	}

	view := ReplyView{
		UserID:     reply.UserID,
		Username:   req.Username,
		UserAvatar: req.UserAvatar,
		Text:       reply.Text,
		Timestamp:  reply.Timestamp,
	}
	if view.Username == "" {
		if u, err := c.users.FindByID(ctx, req.UserID); err == nil {
			view.Username = u.Username
			if view.UserAvatar == "" {
				view.UserAvatar = u.Avatar
			}
		}
	}

	c.rooms.Publish(req.StreamID, live.EventMessageReply, MessageReply{
		MessageID: req.MessageID,
		Reply:     view,
	})
	return nil
}

// Update replaces a message's text within a stream's room.
func (c *Controller) Update(ctx context.Context, req UpdateRequest) (err error) {
	ctx, endSpan := tracing.StartSpan(ctx, "chat.update")
	defer func() { endSpan(err) }()

	if req.MessageID == "" || req.StreamID == "" || req.MessageText == "" {
		return live.Validation("messageId, streamId and messageText are required")
	}
	if err := checkText(req.MessageText); err != nil {
		return err
	}

	unlock := c.locks.Lock(req.StreamID)
	defer unlock()

	msg, err := c.replaceText(ctx, req.MessageID, req.StreamID, req.MessageText)
	if err != nil {
		return err
	}

	c.rooms.Publish(req.StreamID, live.EventMessageUpdated, MessageUpdated{
		MessageID:   msg.ID,
		MessageText: msg.MessageText,
	})
	return nil
}

// UpdateLegacy replaces a message's text, broadcasting to the room of the
// stream the message belongs to.
func (c *Controller) UpdateLegacy(ctx context.Context, req LegacyUpdateRequest) (err error) {
	ctx, endSpan := tracing.StartSpan(ctx, "chat.update_legacy")
	defer func() { endSpan(err) }()

	if req.ID == "" || req.MessageText == "" {
		return live.Validation("ID and message text are required")
	}
	if err := checkText(req.MessageText); err != nil {
		return err
	}

	streamID, err := c.streamOf(ctx, req.ID)
	if err != nil {
		return err
	}

	unlock := c.locks.Lock(streamID)
	defer unlock()

	msg, err := c.replaceText(ctx, req.ID, streamID, req.MessageText)
	if err != nil {
		return err
	}

	c.rooms.Publish(streamID, live.EventMessageUpdated, LegacyMessageUpdated{
		ID:          msg.ID,
		MessageText: msg.MessageText,
	})
	return nil
}

func (c *Controller) replaceText(ctx context.Context, messageID, streamID, text string) (*directory.Message, error) {
	msg, err := c.messages.Update(ctx, messageID, func(m *directory.Message) error {
		if m.StreamID != streamID {
			return errStreamMismatch
		}
		m.MessageText = text
		return nil
	})
	if errors.Is(err, directory.ErrNotFound) || errors.Is(err, errStreamMismatch) {
		return nil, live.ErrMessageNotFound
	}
	if err != nil {
		return nil, live.Internal("Failed to update message", err)
	}
	return msg, nil
}

// Delete removes a message from a stream and broadcasts its id.
func (c *Controller) Delete(ctx context.Context, req DeleteRequest) (err error) {
	ctx, endSpan := tracing.StartSpan(ctx, "chat.delete")
	defer func() { endSpan(err) }()

	if req.MessageID == "" || req.StreamID == "" {
		return live.Validation("messageId and streamId are required")
	}

	unlock := c.locks.Lock(req.StreamID)
	defer unlock()

	if err := c.remove(ctx, req.MessageID, req.StreamID); err != nil {
		return err
	}

	c.rooms.Publish(req.StreamID, live.EventMessageDeleted, MessageDeleted{MessageID: req.MessageID})
	return nil
}

// DeleteLegacy removes a message, broadcasting to the room of the stream it
// belonged to.
func (c *Controller) DeleteLegacy(ctx context.Context, req LegacyDeleteRequest) (err error) {
	ctx, endSpan := tracing.StartSpan(ctx, "chat.delete_legacy")
	defer func() { endSpan(err) }()

	if req.ID == "" {
		return live.Validation("ID is required")
	}

	streamID, err := c.streamOf(ctx, req.ID)
	if err != nil {
		return err
	}

	unlock := c.locks.Lock(streamID)
	defer unlock()

	if err := c.remove(ctx, req.ID, streamID); err != nil {
		return err
	}

	c.rooms.Publish(streamID, live.EventMessageDeleted, LegacyMessageDeleted{ID: req.ID})
	return nil
}

func (c *Controller) remove(ctx context.Context, messageID, streamID string) error {
	msg, err := c.messages.FindByID(ctx, messageID)
	if errors.Is(err, directory.ErrNotFound) {
		return live.ErrMessageNotFound
	}
	if err != nil {
		return live.Internal("Failed to delete message", err)
	}
	if msg.StreamID != streamID {
		return live.ErrMessageNotFound
	}

	if _, err := c.messages.Delete(ctx, messageID); err != nil {
		if errors.Is(err, directory.ErrNotFound) {
			return live.ErrMessageNotFound
		}
		return live.Internal("Failed to delete message", err)
	}
	return nil
}

func (c *Controller) streamOf(ctx context.Context, messageID string) (string, error) {
	msg, err := c.messages.FindByID(ctx, messageID)
	if errors.Is(err, directory.ErrNotFound) {
		return "", live.ErrMessageNotFound
	}
	if err != nil {
		return "", live.Internal(live.GenericInternalMessage, err)
	}
	return msg.StreamID, nil
}

// SaveHighlight stores a highlight clip, broadcasts highlightSaved to the
// stream's room and acknowledges the sender with highlightAck.
func (c *Controller) SaveHighlight(ctx context.Context, conn room.Conn, req HighlightRequest) (h *directory.Highlight, err error) {
	ctx, endSpan := tracing.StartSpan(ctx, "chat.save_highlight")
	defer func() { endSpan(err) }()

	if req.StreamID == "" || req.StreamerID == "" || req.ClipURL == "" {
		return nil, live.Validation("streamId, streamerId and clipUrl required")
	}
	clipURL, err := validate.MediaURL(req.ClipURL)
	if err != nil {
		return nil, live.Validation("Invalid clipUrl")
	}
	req.ClipURL = clipURL
	if req.GeneratedBy == "" {
		req.GeneratedBy = directory.GeneratedByAI
	}
	if !req.GeneratedBy.Valid() {
		return nil, live.Validation("generatedBy must be ai or manual")
	}

	unlock := c.locks.Lock(req.StreamID)
	defer unlock()

	if _, err := c.streams.FindByID(ctx, req.StreamID); err != nil {
		if errors.Is(err, directory.ErrNotFound) {
			return nil, live.ErrStreamNotFound
		}
		return nil, live.Internal("Failed to save highlight", err)
	}

	h, err = c.highlights.Create(ctx, &directory.Highlight{
		StreamID:    req.StreamID,
		StreamerID:  req.StreamerID,
		ClipURL:     req.ClipURL,
		Thumbnail:   req.Thumbnail,
		Duration:    req.Duration,
		GeneratedBy: req.GeneratedBy,
		Tags:        req.Tags,
		CreatedAt:   c.now(),
	})
	if err != nil {
		return nil, live.Internal("Failed to save highlight", err)
	}

	c.rooms.Publish(req.StreamID, live.EventHighlightSaved, HighlightSaved{
		HighlightID: h.ID,
		ClipURL:     h.ClipURL,
		Thumbnail:   h.Thumbnail,
		Duration:    h.Duration,
		CreatedAt:   h.CreatedAt,
	})
	if conn != nil {
		if err := conn.Send(live.EventHighlightAck, HighlightAck{HighlightID: h.ID}); err != nil {
			slog.WarnContext(ctx, "failed to acknowledge highlight",
				"error", err,
				"conn_id", conn.ID(),
				"highlight_id", h.ID,
			)
		}
	}

	slog.InfoContext(ctx, "highlight saved",
		"stream_id", h.StreamID,
		"highlight_id", h.ID,
		"generated_by", h.GeneratedBy,
	)
	return h, nil
}

func checkText(text string) error {
	if _, err := validate.ChatText(text); err != nil {
		if errors.Is(err, validate.ErrStringTooLong) {
			return live.Validation(fmt.Sprintf("Message must be at most %d characters", validate.MaxChatTextLength))
		}
		return live.Validation("Message contains invalid characters")
	}
	return nil
}
