package chat

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/onnwee/subcults-live/internal/directory"
	"github.com/onnwee/subcults-live/internal/live"
	"github.com/onnwee/subcults-live/internal/room"
	"github.com/onnwee/subcults-live/internal/room/roomtest"
	"github.com/onnwee/subcults-live/internal/session"
	"github.com/onnwee/subcults-live/internal/validate"
)

type fixture struct {
	stores directory.Stores
	rooms  *room.Channel
	ctrl   *Controller
	clock  time.Time
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	ctx := context.Background()

	f := &fixture{
		stores: directory.NewInMemoryStores(),
		rooms:  room.NewChannel(),
		clock:  time.Date(2026, 3, 1, 20, 0, 0, 0, time.UTC),
	}
	f.ctrl = NewController(f.stores, session.NewRegistry(), f.rooms, nil)
	f.ctrl.now = func() time.Time { return f.clock }

	for _, u := range []*directory.User{
		{ID: "streamer", Username: "neon", IsStreamer: true},
		{ID: "alice", Username: "alice", Avatar: "alice.png"},
		{ID: "bob", Username: "bob"},
	} {
		if _, err := f.stores.Users.Create(ctx, u); err != nil {
			t.Fatalf("create user: %v", err)
		}
	}
	for _, id := range []string{"s1", "s2"} {
		if _, err := f.stores.Streams.Create(ctx, &directory.Stream{ID: id, UserID: "streamer", Status: directory.StatusLive}); err != nil {
			t.Fatalf("create stream: %v", err)
		}
	}
	return f
}

func (f *fixture) member(id, streamID string) *roomtest.Recorder {
	conn := roomtest.NewRecorder(id)
	f.rooms.Connect(conn)
	f.rooms.Join(conn, streamID)
	return conn
}

func (f *fixture) send(t *testing.T, streamID, userID, text string) *directory.Message {
	t.Helper()
	msg, err := f.ctrl.Send(context.Background(), nil, SendRequest{StreamID: streamID, UserID: userID, MessageText: text})
	if err != nil {
		t.Fatalf("Send() error = %v", err)
	}
	return msg
}

func (f *fixture) message(t *testing.T, id string) *directory.Message {
	t.Helper()
	m, err := f.stores.Messages.FindByID(context.Background(), id)
	if err != nil {
		t.Fatalf("FindByID(%s): %v", id, err)
	}
	return m
}

func TestController_SendBroadcastsToRoom(t *testing.T) {
	f := newFixture(t)
	viewer := f.member("v", "s1")

	msg := f.send(t, "s1", "alice", "hello")

	ev, ok := viewer.Last(live.EventNewMessage)
	if !ok {
		t.Fatal("room should receive newMessage")
	}
	got := ev.Payload.(NewMessage)
	if got.ID != msg.ID || got.Username != "alice" || got.UserAvatar != "alice.png" || got.MessageText != "hello" {
		t.Errorf("newMessage = %+v", got)
	}
	if got.Likes != 0 || got.Replies == nil || len(got.Replies) != 0 {
		t.Errorf("newMessage should carry likes 0 and empty replies, got %d / %v", got.Likes, got.Replies)
	}

	st, _ := f.stores.Streams.FindByID(context.Background(), "s1")
	if st.TotalComments != 1 {
		t.Errorf("TotalComments = %d, want 1", st.TotalComments)
	}
}

func TestController_SendValidation(t *testing.T) {
	f := newFixture(t)
	viewer := f.member("v", "s1")

	tests := []struct {
		name string
		req  SendRequest
		want error
		kind live.Kind
	}{
		{name: "empty text", req: SendRequest{StreamID: "s1", UserID: "alice"}, kind: live.KindValidation},
		{name: "missing stream id", req: SendRequest{UserID: "alice", MessageText: "hi"}, kind: live.KindValidation},
		{name: "missing user", req: SendRequest{StreamID: "s1", MessageText: "hi"}, kind: live.KindValidation},
		{name: "unknown stream", req: SendRequest{StreamID: "nope", UserID: "alice", MessageText: "hi"}, want: live.ErrStreamNotFound, kind: live.KindNotFound},
		{name: "unknown user", req: SendRequest{StreamID: "s1", UserID: "ghost", MessageText: "hi"}, want: live.ErrUserNotFound, kind: live.KindNotFound},
		{name: "text too long", req: SendRequest{StreamID: "s1", UserID: "alice", MessageText: strings.Repeat("a", validate.MaxChatTextLength+1)}, kind: live.KindValidation},
		{name: "control characters", req: SendRequest{StreamID: "s1", UserID: "alice", MessageText: "hi\x00"}, kind: live.KindValidation},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.ctrl.Send(context.Background(), nil, tt.req)
			if got := live.KindOf(err); err == nil || got != tt.kind {
				t.Fatalf("Send() error = %v (kind %v), want kind %v", err, got, tt.kind)
			}
			if tt.want != nil && !errors.Is(err, tt.want) {
				t.Errorf("Send() error = %v, want %v", err, tt.want)
			}
		})
	}

	if msg := live.PublicMessage(func() error {
		_, err := f.ctrl.Send(context.Background(), nil, SendRequest{StreamID: "s1", UserID: "alice"})
		return err
	}()); msg != "All fields are required" {
		t.Errorf("PublicMessage() = %q", msg)
	}

	if len(viewer.Events()) != 0 {
		t.Errorf("rejected sends broadcast %v", viewer.Events())
	}
	if list, _ := f.stores.Messages.Find(context.Background(), directory.MessageFilter{}); len(list) != 0 {
		t.Errorf("rejected sends persisted %d messages", len(list))
	}
}

func TestController_SendUsesConnectionIdentity(t *testing.T) {
	f := newFixture(t)
	msg, err := f.ctrl.Send(context.Background(), &live.Identity{UserID: "bob"}, SendRequest{StreamID: "s1", MessageText: "yo"})
	if err != nil {
		t.Fatalf("Send() error = %v", err)
	}
	if msg.UserID != "bob" {
		t.Errorf("UserID = %q, want bob", msg.UserID)
	}
}

func TestController_BroadcastIsolation(t *testing.T) {
	f := newFixture(t)
	inS1 := f.member("a", "s1")
	inS2 := f.member("b", "s2")

	f.send(t, "s1", "alice", "only for s1")

	if len(inS1.Named(live.EventNewMessage)) != 1 {
		t.Error("s1 member should receive the message")
	}
	if len(inS2.Events()) != 0 {
		t.Errorf("s2 member received %v", inS2.Events())
	}
}

func TestController_LikeIsOncePerUser(t *testing.T) {
	f := newFixture(t)
	viewer := f.member("v", "s1")
	msg := f.send(t, "s1", "alice", "like me")
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		if err := f.ctrl.Like(ctx, nil, LikeRequest{MessageID: msg.ID, StreamID: "s1", UserID: "bob"}); err != nil {
			t.Fatalf("Like() #%d error = %v", i+1, err)
		}
	}

	stored := f.message(t, msg.ID)
	if stored.Likes != 1 {
		t.Errorf("Likes = %d, want 1", stored.Likes)
	}
	if len(stored.LikedBy) != 1 || stored.LikedBy[0] != "bob" {
		t.Errorf("LikedBy = %v, want [bob]", stored.LikedBy)
	}

	liked := viewer.Named(live.EventMessageLiked)
	if len(liked) != 1 {
		t.Fatalf("messageLiked broadcast %d times, want 1", len(liked))
	}
	if got := liked[0].Payload.(MessageLiked); got.Likes != 1 || got.MessageID != msg.ID {
		t.Errorf("messageLiked = %+v", got)
	}

	st, _ := f.stores.Streams.FindByID(ctx, "s1")
	if st.TotalLikes != 1 {
		t.Errorf("stream TotalLikes = %d, want 1", st.TotalLikes)
	}
}

func TestController_LikeErrors(t *testing.T) {
	f := newFixture(t)
	msg := f.send(t, "s1", "alice", "hi")
	ctx := context.Background()

	if err := f.ctrl.Like(ctx, nil, LikeRequest{MessageID: "missing", StreamID: "s1", UserID: "bob"}); !errors.Is(err, live.ErrMessageNotFound) {
		t.Errorf("unknown message: error = %v, want ErrMessageNotFound", err)
	}
	if err := f.ctrl.Like(ctx, nil, LikeRequest{MessageID: msg.ID, StreamID: "s2", UserID: "bob"}); !errors.Is(err, live.ErrMessageNotFound) {
		t.Errorf("wrong stream: error = %v, want ErrMessageNotFound", err)
	}
	if err := f.ctrl.Like(ctx, nil, LikeRequest{MessageID: msg.ID, StreamID: "s1"}); live.KindOf(err) != live.KindValidation {
		t.Errorf("anonymous like: kind = %v, want validation", live.KindOf(err))
	}
	if got := f.message(t, msg.ID).Likes; got != 0 {
		t.Errorf("Likes = %d after rejected likes, want 0", got)
	}
}

func TestController_RepliesAppendInOrder(t *testing.T) {
	f := newFixture(t)
	viewer := f.member("v", "s1")
	msg := f.send(t, "s1", "alice", "thread")
	ctx := context.Background()

	const n = 5
	for i := 0; i < n; i++ {
		f.clock = f.clock.Add(time.Second)
		err := f.ctrl.Reply(ctx, nil, ReplyRequest{
			MessageID: msg.ID,
			StreamID:  "s1",
			UserID:    "bob",
			ReplyText: fmt.Sprintf("reply %d", i),
		})
		if err != nil {
			t.Fatalf("Reply() #%d error = %v", i, err)
		}
	}

	stored := f.message(t, msg.ID)
	if len(stored.Replies) != n {
		t.Fatalf("len(Replies) = %d, want %d", len(stored.Replies), n)
	}
	for i, r := range stored.Replies {
		if r.Text != fmt.Sprintf("reply %d", i) || r.UserID != "bob" {
			t.Errorf("Replies[%d] = %+v", i, r)
		}
	}

	events := viewer.Named(live.EventMessageReply)
	if len(events) != n {
		t.Fatalf("messageReply broadcast %d times, want %d", len(events), n)
	}
	first := events[0].Payload.(MessageReply)
	if first.Reply.Username != "bob" || first.Reply.Text != "reply 0" {
		t.Errorf("first messageReply = %+v", first)
	}
}

func TestController_ReplyUnknownMessage(t *testing.T) {
	f := newFixture(t)
	err := f.ctrl.Reply(context.Background(), nil, ReplyRequest{MessageID: "missing", StreamID: "s1", UserID: "bob", ReplyText: "?"})
	if !errors.Is(err, live.ErrMessageNotFound) {
		t.Errorf("Reply() error = %v, want ErrMessageNotFound", err)
	}
}

func TestController_UpdateAndDelete(t *testing.T) {
	f := newFixture(t)
	viewer := f.member("v", "s1")
	msg := f.send(t, "s1", "alice", "typo")
	ctx := context.Background()

	if err := f.ctrl.Update(ctx, UpdateRequest{MessageID: msg.ID, StreamID: "s1", MessageText: "fixed"}); err != nil {
		t.Fatalf("Update() error = %v", err)
	}
	if got := f.message(t, msg.ID).MessageText; got != "fixed" {
		t.Errorf("MessageText = %q, want fixed", got)
	}
	ev, _ := viewer.Last(live.EventMessageUpdated)
	if got := ev.Payload.(MessageUpdated); got.MessageID != msg.ID || got.MessageText != "fixed" {
		t.Errorf("messageUpdated = %+v", got)
	}

	if err := f.ctrl.Delete(ctx, DeleteRequest{MessageID: msg.ID, StreamID: "s1"}); err != nil {
		t.Fatalf("Delete() error = %v", err)
	}
	if _, err := f.stores.Messages.FindByID(ctx, msg.ID); !errors.Is(err, directory.ErrNotFound) {
		t.Errorf("message still stored after delete: %v", err)
	}
	ev, _ = viewer.Last(live.EventMessageDeleted)
	if got := ev.Payload.(MessageDeleted); got.MessageID != msg.ID {
		t.Errorf("messageDeleted = %+v", got)
	}

	if err := f.ctrl.Delete(ctx, DeleteRequest{MessageID: msg.ID, StreamID: "s1"}); !errors.Is(err, live.ErrMessageNotFound) {
		t.Errorf("second Delete() error = %v, want ErrMessageNotFound", err)
	}
}

func TestController_UpdateRejectsOtherStream(t *testing.T) {
	f := newFixture(t)
	other := f.member("o", "s2")
	msg := f.send(t, "s1", "alice", "mine")

	err := f.ctrl.Update(context.Background(), UpdateRequest{MessageID: msg.ID, StreamID: "s2", MessageText: "hijack"})
	if !errors.Is(err, live.ErrMessageNotFound) {
		t.Errorf("Update() error = %v, want ErrMessageNotFound", err)
	}
	if got := f.message(t, msg.ID).MessageText; got != "mine" {
		t.Errorf("MessageText = %q, want unchanged", got)
	}
	if err := f.ctrl.Delete(context.Background(), DeleteRequest{MessageID: msg.ID, StreamID: "s2"}); !errors.Is(err, live.ErrMessageNotFound) {
		t.Errorf("Delete() error = %v, want ErrMessageNotFound", err)
	}
	if len(other.Events()) != 0 {
		t.Errorf("s2 member received %v", other.Events())
	}
}

func TestController_LegacyVariantsUseMessageRoom(t *testing.T) {
	f := newFixture(t)
	viewer := f.member("v", "s1")
	msg := f.send(t, "s1", "alice", "old")
	ctx := context.Background()

	if err := f.ctrl.UpdateLegacy(ctx, LegacyUpdateRequest{ID: msg.ID, MessageText: "new"}); err != nil {
		t.Fatalf("UpdateLegacy() error = %v", err)
	}
	ev, ok := viewer.Last(live.EventMessageUpdated)
	if !ok {
		t.Fatal("room should receive messageUpdated")
	}
	if got := ev.Payload.(LegacyMessageUpdated); got.ID != msg.ID || got.MessageText != "new" {
		t.Errorf("messageUpdated = %+v", got)
	}

	if err := f.ctrl.DeleteLegacy(ctx, LegacyDeleteRequest{ID: msg.ID}); err != nil {
		t.Fatalf("DeleteLegacy() error = %v", err)
	}
	ev, _ = viewer.Last(live.EventMessageDeleted)
	if got := ev.Payload.(LegacyMessageDeleted); got.ID != msg.ID {
		t.Errorf("messageDeleted = %+v", got)
	}

	tests := []struct {
		name string
		err  error
		kind live.Kind
	}{
		{name: "update without id", err: f.ctrl.UpdateLegacy(ctx, LegacyUpdateRequest{MessageText: "x"}), kind: live.KindValidation},
		{name: "update unknown", err: f.ctrl.UpdateLegacy(ctx, LegacyUpdateRequest{ID: "gone", MessageText: "x"}), kind: live.KindNotFound},
		{name: "delete without id", err: f.ctrl.DeleteLegacy(ctx, LegacyDeleteRequest{}), kind: live.KindValidation},
		{name: "delete unknown", err: f.ctrl.DeleteLegacy(ctx, LegacyDeleteRequest{ID: msg.ID}), kind: live.KindNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.err == nil || live.KindOf(tt.err) != tt.kind {
				t.Errorf("error = %v, want kind %v", tt.err, tt.kind)
			}
		})
	}
}

func TestController_SaveHighlight(t *testing.T) {
	f := newFixture(t)
	viewer := f.member("v", "s1")
	sender := f.member("streamer-conn", "s1")
	thumb := "https://cdn.example/clip.jpg"

	h, err := f.ctrl.SaveHighlight(context.Background(), sender, HighlightRequest{
		StreamID:   "s1",
		StreamerID: "streamer",
		ClipURL:    "https://cdn.example/clip.mp4",
		Thumbnail:  &thumb,
		Duration:   12.5,
		Tags:       []string{"drop"},
	})
	if err != nil {
		t.Fatalf("SaveHighlight() error = %v", err)
	}
	if h.GeneratedBy != directory.GeneratedByAI {
		t.Errorf("GeneratedBy = %q, want ai", h.GeneratedBy)
	}

	ev, ok := viewer.Last(live.EventHighlightSaved)
	if !ok {
		t.Fatal("room should receive highlightSaved")
	}
	if got := ev.Payload.(HighlightSaved); got.HighlightID != h.ID || got.Duration != 12.5 || got.Thumbnail == nil {
		t.Errorf("highlightSaved = %+v", got)
	}

	if _, ok := viewer.Last(live.EventHighlightAck); ok {
		t.Error("highlightAck must go to the sender only")
	}
	ack, ok := sender.Last(live.EventHighlightAck)
	if !ok || ack.Payload.(HighlightAck).HighlightID != h.ID {
		t.Errorf("sender ack = %+v, %v", ack, ok)
	}
}

func TestController_SaveHighlightValidation(t *testing.T) {
	f := newFixture(t)
	viewer := f.member("v", "s1")
	ctx := context.Background()

	tests := []struct {
		name string
		req  HighlightRequest
		kind live.Kind
	}{
		{name: "missing clip", req: HighlightRequest{StreamID: "s1", StreamerID: "streamer"}, kind: live.KindValidation},
		{name: "bad source", req: HighlightRequest{StreamID: "s1", StreamerID: "streamer", ClipURL: "https://clips.example/1.mp4", GeneratedBy: "robot"}, kind: live.KindValidation},
		{name: "script clip url", req: HighlightRequest{StreamID: "s1", StreamerID: "streamer", ClipURL: "javascript:alert(1)"}, kind: live.KindValidation},
		{name: "relative clip url", req: HighlightRequest{StreamID: "s1", StreamerID: "streamer", ClipURL: "clip.mp4"}, kind: live.KindValidation},
		{name: "unknown stream", req: HighlightRequest{StreamID: "nope", StreamerID: "streamer", ClipURL: "https://clips.example/1.mp4"}, kind: live.KindNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.ctrl.SaveHighlight(ctx, viewer, tt.req)
			if err == nil || live.KindOf(err) != tt.kind {
				t.Errorf("error = %v, want kind %v", err, tt.kind)
			}
		})
	}
	if len(viewer.Events()) != 0 {
		t.Errorf("rejected highlights broadcast %v", viewer.Events())
	}
}

type failingMessages struct {
	directory.MessageStore
}

func (failingMessages) Create(context.Context, *directory.Message) (*directory.Message, error) {
	return nil, errors.New("disk full")
}

func TestController_SendPersistenceFailureHidesDetail(t *testing.T) {
	f := newFixture(t)
	viewer := f.member("v", "s1")

	stores := f.stores
	stores.Messages = failingMessages{MessageStore: f.stores.Messages}
	ctrl := NewController(stores, session.NewRegistry(), f.rooms, nil)

	_, err := ctrl.Send(context.Background(), nil, SendRequest{StreamID: "s1", UserID: "alice", MessageText: "hi"})
	if live.KindOf(err) != live.KindInternal {
		t.Fatalf("kind = %v, want internal", live.KindOf(err))
	}
	if got := live.PublicMessage(err); got != live.GenericInternalMessage {
		t.Errorf("PublicMessage() = %q, want generic", got)
	}
	if len(viewer.Events()) != 0 {
		t.Error("failed persistence must not broadcast")
	}
	st, _ := f.stores.Streams.FindByID(context.Background(), "s1")
	if st.TotalComments != 0 {
		t.Errorf("TotalComments = %d, want 0", st.TotalComments)
	}
}
