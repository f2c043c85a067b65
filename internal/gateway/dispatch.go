package gateway

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/onnwee/subcults-live/internal/chat"
	"github.com/onnwee/subcults-live/internal/stream"
)

// Dispatcher routes decoded inbound events to the controllers.
type Dispatcher struct {
	streams *stream.Controller
	chat    *chat.Controller
}

// NewDispatcher creates a dispatcher over the two controllers.
func NewDispatcher(streams *stream.Controller, chat *chat.Controller) *Dispatcher {
	return &Dispatcher{streams: streams, chat: chat}
}

// Dispatch runs msg on behalf of conn. The returned error is meant for
// conn only and is never broadcast.
func (d *Dispatcher) Dispatch(ctx context.Context, conn *Conn, msg Inbound) error {
	id := conn.Identity()

	switch m := msg.(type) {
	case StartStream:
		return d.streams.Start(ctx, stream.StartRequest(m))
	case PublishStreamVideo:
		return d.streams.PublishVideo(ctx, stream.PublishVideoRequest(m))
	case JoinStream:
		res, err := d.streams.Join(ctx, conn, id, stream.JoinRequest(m))
		if err != nil {
			return err
		}
		conn.trackJoin(m.StreamID, res.ViewerID)
		return nil
	case LeaveStream:
		if m.UserID == "" {
			return d.leaveStream(ctx, conn, m.StreamID)
		}
		if err := d.streams.Leave(ctx, conn, id, stream.LeaveRequest(m)); err != nil {
			return err
		}
		conn.trackLeave(m.StreamID, m.UserID)
		return nil
	case EndStream:
		return d.streams.End(ctx, stream.EndRequest(m))
	case SendMessage:
		_, err := d.chat.Send(ctx, id, chat.SendRequest(m))
		return err
	case LikeMessage:
		return d.chat.Like(ctx, id, chat.LikeRequest(m))
	case ReplyToMessage:
		return d.chat.Reply(ctx, id, chat.ReplyRequest(m))
	case UpdateMessage:
		return d.chat.Update(ctx, chat.UpdateRequest(m))
	case UpdateMessageLegacy:
		return d.chat.UpdateLegacy(ctx, chat.LegacyUpdateRequest(m))
	case DeleteMessage:
		return d.chat.Delete(ctx, chat.DeleteRequest(m))
	case DeleteMessageLegacy:
		return d.chat.DeleteLegacy(ctx, chat.LegacyDeleteRequest(m))
	case SaveHighlight:
		_, err := d.chat.SaveHighlight(ctx, conn, chat.HighlightRequest(m))
		return err
	case GetStreamerProfile:
		return d.streams.StreamerProfile(ctx, conn, stream.StreamerProfileRequest(m))
	case GetViewerProfile:
		return d.streams.ViewerProfile(ctx, conn, stream.ViewerProfileRequest(m))
	case FollowStreamer:
		return d.streams.Follow(ctx, id, stream.FollowRequest(m))
	default:
		return fmt.Errorf("unhandled inbound event %T", msg)
	}
}

// Disconnect runs the leave path for every viewer conn counted on every
// stream it joined, exactly as an explicit leaveStream would. Failures are
// logged only.
func (d *Dispatcher) Disconnect(ctx context.Context, conn *Conn) {
	for _, streamID := range conn.joinedStreams() {
		if err := d.leaveStream(ctx, conn, streamID); err != nil {
			slog.WarnContext(ctx, "failed to leave stream on disconnect",
				"error", err,
				"conn_id", conn.ID(),
				"stream_id", streamID,
			)
		}
		conn.trackLeave(streamID, "")
	}
}

// leaveStream removes every viewer conn counted on streamID. With none
// counted the connection identity is used. All viewers are attempted; the
// first failure is returned and the failed viewer stays tracked.
func (d *Dispatcher) leaveStream(ctx context.Context, conn *Conn, streamID string) error {
	viewers := conn.viewersOf(streamID)
	if len(viewers) == 0 {
		if err := d.streams.Leave(ctx, conn, conn.Identity(), stream.LeaveRequest{StreamID: streamID}); err != nil {
			return err
		}
		conn.trackLeave(streamID, "")
		return nil
	}

	var firstErr error
	for _, viewerID := range viewers {
		err := d.streams.Leave(ctx, conn, conn.Identity(), stream.LeaveRequest{StreamID: streamID, UserID: viewerID})
		if err != nil {
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		conn.trackLeave(streamID, viewerID)
	}
	return firstErr
}
