package live

// Outbound event names.
const (
	EventStreamLive         = "streamLive"
	EventStreamVideo        = "streamVideo"
	EventStreamerProfile    = "streamerProfile"
	EventViewerProfile      = "viewerProfile"
	EventViewerCountUpdated = "viewerCountUpdated"
	EventStreamEnded        = "streamEnded"
	EventStreamerFollowed   = "streamerFollowed"
	EventNewMessage         = "newMessage"
	EventMessageLiked       = "messageLiked"
	EventMessageReply       = "messageReply"
	EventMessageUpdated     = "messageUpdated"
	EventMessageDeleted     = "messageDeleted"
	EventHighlightSaved     = "highlightSaved"
	EventHighlightAck       = "highlightAck"
	EventErrorMessage       = "errorMessage"
)
