package gateway

import (
	"github.com/onnwee/subcults-live/internal/chat"
	"github.com/onnwee/subcults-live/internal/live"
	"github.com/onnwee/subcults-live/internal/stream"
)

// Inbound event names.
const (
	EventStartStream        = "startStream"
	EventPublishStreamVideo = "publishStreamVideo"
	EventJoinStream         = "joinStream"
	EventLeaveStream        = "leaveStream"
	EventEndStream          = "endStream"
	EventSendMessage        = "sendMessage"
	EventLikeMessage        = "likeMessage"
	EventReplyToMessage     = "replyToMessage"
	EventUpdateMessage      = "updateMessage"
	EventDeleteMessage      = "deleteMessage"
	EventSaveHighlight      = "saveHighlight"
	EventGetStreamerProfile = "getStreamerProfile"
	EventGetViewerProfile   = "getViewerProfile"
	EventFollowStreamer     = "followStreamer"
)

// Inbound is one decoded client event. The concrete type identifies the
// event and carries its payload.
type Inbound interface {
	Event() string
}

type (
	StartStream         stream.StartRequest
	PublishStreamVideo  stream.PublishVideoRequest
	JoinStream          stream.JoinRequest
	LeaveStream         stream.LeaveRequest
	EndStream           stream.EndRequest
	SendMessage         chat.SendRequest
	LikeMessage         chat.LikeRequest
	ReplyToMessage      chat.ReplyRequest
	UpdateMessage       chat.UpdateRequest
	UpdateMessageLegacy chat.LegacyUpdateRequest
	DeleteMessage       chat.DeleteRequest
	DeleteMessageLegacy chat.LegacyDeleteRequest
	SaveHighlight       chat.HighlightRequest
	GetStreamerProfile  stream.StreamerProfileRequest
	GetViewerProfile    stream.ViewerProfileRequest
	FollowStreamer      stream.FollowRequest
)

func (StartStream) Event() string         { return EventStartStream }
func (PublishStreamVideo) Event() string  { return EventPublishStreamVideo }
func (JoinStream) Event() string          { return EventJoinStream }
func (LeaveStream) Event() string         { return EventLeaveStream }
func (EndStream) Event() string           { return EventEndStream }
func (SendMessage) Event() string         { return EventSendMessage }
func (LikeMessage) Event() string         { return EventLikeMessage }
func (ReplyToMessage) Event() string      { return EventReplyToMessage }
func (UpdateMessage) Event() string       { return EventUpdateMessage }
func (UpdateMessageLegacy) Event() string { return EventUpdateMessage }
func (DeleteMessage) Event() string       { return EventDeleteMessage }
func (DeleteMessageLegacy) Event() string { return EventDeleteMessage }
func (SaveHighlight) Event() string       { return EventSaveHighlight }
func (GetStreamerProfile) Event() string  { return EventGetStreamerProfile }
func (GetViewerProfile) Event() string    { return EventGetViewerProfile }
func (FollowStreamer) Event() string      { return EventFollowStreamer }

// messageRef probes update/delete payloads for the room-scoped or legacy shape.
type messageRef struct {
	MessageID   string `json:"messageId"`
	StreamID    string `json:"streamId"`
	ID          string `json:"id"`
	MessageText string `json:"messageText"`
}

func (m messageRef) legacy() bool {
	return m.MessageID == "" && m.ID != ""
}

// Decode parses one frame into a typed inbound event.
func Decode(codec Codec, frame []byte) (Inbound, error) {
	event, raw, err := codec.Decode(frame)
	if err != nil {
		return nil, live.Validation("Invalid message")
	}

	var msg Inbound
	switch event {
	case EventStartStream:
		var v StartStream
		err = codec.Unmarshal(raw, &v)
		msg = v
	case EventPublishStreamVideo:
		var v PublishStreamVideo
		err = codec.Unmarshal(raw, &v)
		msg = v
	case EventJoinStream:
		var v JoinStream
		var streamID string
		if codec.Unmarshal(raw, &streamID) == nil {
			v.StreamID = streamID
		} else {
			err = codec.Unmarshal(raw, &v)
		}
		msg = v
	case EventLeaveStream:
		var v LeaveStream
		err = codec.Unmarshal(raw, &v)
		msg = v
	case EventEndStream:
		var v EndStream
		err = codec.Unmarshal(raw, &v)
		msg = v
	case EventSendMessage:
		var v SendMessage
		err = codec.Unmarshal(raw, &v)
		msg = v
	case EventLikeMessage:
		var v LikeMessage
		err = codec.Unmarshal(raw, &v)
		msg = v
	case EventReplyToMessage:
		var v ReplyToMessage
		err = codec.Unmarshal(raw, &v)
		msg = v
	case EventUpdateMessage:
		var ref messageRef
		err = codec.Unmarshal(raw, &ref)
		if ref.legacy() {
			msg = UpdateMessageLegacy{ID: ref.ID, MessageText: ref.MessageText}
		} else {
			msg = UpdateMessage{MessageID: ref.MessageID, StreamID: ref.StreamID, MessageText: ref.MessageText}
		}
	case EventDeleteMessage:
		var ref messageRef
		err = codec.Unmarshal(raw, &ref)
		if ref.legacy() {
			msg = DeleteMessageLegacy{ID: ref.ID}
		} else {
			msg = DeleteMessage{MessageID: ref.MessageID, StreamID: ref.StreamID}
		}
	case EventSaveHighlight:
		var v SaveHighlight
		err = codec.Unmarshal(raw, &v)
		msg = v
	case EventGetStreamerProfile:
		var v GetStreamerProfile
		err = codec.Unmarshal(raw, &v)
		msg = v
	case EventGetViewerProfile:
		var v GetViewerProfile
		err = codec.Unmarshal(raw, &v)
		msg = v
	case EventFollowStreamer:
		var v FollowStreamer
		err = codec.Unmarshal(raw, &v)
		msg = v
	default:
		return nil, live.Validation("Unknown event: " + event)
	}
	if err != nil {
		return nil, live.Validation("Invalid payload for " + event)
	}
	return msg, nil
}
