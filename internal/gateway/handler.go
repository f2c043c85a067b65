package gateway

import (
	"context"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"go.opentelemetry.io/otel/attribute"

	"github.com/onnwee/subcults-live/internal/live"
	"github.com/onnwee/subcults-live/internal/middleware"
	"github.com/onnwee/subcults-live/internal/room"
	"github.com/onnwee/subcults-live/internal/tracing"
)

// ThrottledMessage is sent when a connection exceeds its event rate.
const ThrottledMessage = "Too many requests, slow down"

const defaultCleanupTimeout = 10 * time.Second

// IdentityResolver turns a connection credential into an identity. It never
// fails; nil means anonymous.
type IdentityResolver interface {
	Resolve(ctx context.Context, credential string) *live.Identity
}

// Options configures a Handler.
type Options struct {
	// CheckOrigin validates the Origin header on upgrade. Nil allows all.
	CheckOrigin func(r *http.Request) bool
	// Limiter throttles inbound events per identity. Nil disables throttling.
	Limiter middleware.RateLimitStore
	// EventLimit is the per-identity inbound event budget.
	EventLimit middleware.RateLimitConfig
	// LimitMetrics records throttling decisions. May be nil.
	LimitMetrics *middleware.Metrics
	// CleanupTimeout bounds the leave-all work done on disconnect.
	CleanupTimeout time.Duration
}

// Handler upgrades HTTP requests to realtime connections and serves them.
type Handler struct {
	dispatcher *Dispatcher
	rooms      *room.Channel
	resolver   IdentityResolver
	codecs     *Codecs
	metrics    *live.Metrics
	upgrader   websocket.Upgrader
	opts       Options
}

// NewHandler creates the gateway handler. resolver and metrics may be nil.
func NewHandler(dispatcher *Dispatcher, rooms *room.Channel, resolver IdentityResolver, codecs *Codecs, metrics *live.Metrics, opts Options) *Handler {
	if opts.CleanupTimeout <= 0 {
		opts.CleanupTimeout = defaultCleanupTimeout
	}
	checkOrigin := opts.CheckOrigin
	if checkOrigin == nil {
		checkOrigin = func(*http.Request) bool { return true }
	}
	return &Handler{
		dispatcher: dispatcher,
		rooms:      rooms,
		resolver:   resolver,
		codecs:     codecs,
		metrics:    metrics,
		opts:       opts,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			Subprotocols:    codecs.Subprotocols(),
			CheckOrigin:     checkOrigin,
		},
	}
}

// ServeHTTP handles GET /ws.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var identity *live.Identity
	if h.resolver != nil {
		identity = h.resolver.Resolve(ctx, credentialFrom(r))
	}
	if userID := live.UserIDOf(identity); userID != "" {
		ctx = middleware.SetUserID(ctx, userID)
		*r = *r.WithContext(ctx)
	}

	ws, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.ErrorContext(ctx, "failed to upgrade websocket connection", "error", err)
		return
	}

	conn := newConn(ws, h.codecs.For(ws.Subprotocol()), identity)
	h.rooms.Connect(conn)
	h.metrics.IncConnections()

	requestID := middleware.GetRequestID(ctx)
	slog.InfoContext(ctx, "client connected",
		"conn_id", conn.ID(),
		"user_id", live.UserIDOf(identity),
		"codec", conn.codec.Name(),
		"request_id", requestID,
	)

	ctx, cancel := context.WithCancel(ctx)
	writeDone := make(chan struct{})
	go func() {
		defer close(writeDone)
		if err := conn.writePump(ctx); err != nil && ctx.Err() == nil {
			slog.WarnContext(ctx, "websocket write failed", "error", err, "conn_id", conn.ID())
		}
		conn.close()
	}()

	if err := conn.readPump(ctx, func(frame []byte) { h.handle(ctx, conn, frame) }); err != nil {
		slog.WarnContext(ctx, "websocket connection closed unexpectedly", "error", err, "conn_id", conn.ID())
	}

	cleanupCtx, cleanupCancel := context.WithTimeout(context.WithoutCancel(ctx), h.opts.CleanupTimeout)
	h.dispatcher.Disconnect(cleanupCtx, conn)
	cleanupCancel()
	h.rooms.Disconnect(conn)

	conn.close()
	cancel()
	<-writeDone
	h.metrics.DecConnections()

	slog.InfoContext(ctx, "client disconnected",
		"conn_id", conn.ID(),
		"request_id", requestID,
	)
}

// handle decodes and dispatches one frame. Any failure goes back to conn
// as an error envelope.
func (h *Handler) handle(ctx context.Context, conn *Conn, frame []byte) {
	start := time.Now()
	event := "unknown"

	err := func() error {
		msg, err := Decode(conn.codec, frame)
		if err != nil {
			return err
		}
		event = msg.Event()

		ctx, endSpan := tracing.StartEventSpan(ctx, event, conn.ID())
		defer func() { endSpan(err) }()
		if userID := live.UserIDOf(conn.Identity()); userID != "" {
			tracing.SetAttributes(ctx, attribute.String("live.user_id", userID))
		}

		if !h.allow(ctx, conn) {
			err = live.Validation(ThrottledMessage)
			return err
		}
		err = h.dispatcher.Dispatch(ctx, conn, msg)
		return err
	}()
	h.metrics.ObserveEvent(event, time.Since(start), err)

	if err == nil {
		return
	}
	if live.KindOf(err) == live.KindInternal {
		slog.ErrorContext(ctx, "event handling failed",
			"error", err,
			"conn_id", conn.ID(),
			"event", event,
		)
	} else {
		slog.DebugContext(ctx, "event rejected",
			"error", err,
			"conn_id", conn.ID(),
			"event", event,
		)
	}
	if sendErr := conn.SendError(err); sendErr != nil {
		slog.WarnContext(ctx, "failed to send error envelope", "error", sendErr, "conn_id", conn.ID())
	}
}

func (h *Handler) allow(ctx context.Context, conn *Conn) bool {
	if h.opts.Limiter == nil {
		return true
	}
	key := middleware.EventKey(live.UserIDOf(conn.Identity()), conn.ID())
	allowed, _ := h.opts.Limiter.Allow(ctx, middleware.ScopeEvents+":"+key, h.opts.EventLimit)
	h.opts.LimitMetrics.ObserveRateLimit(middleware.ScopeEvents, middleware.KeyType(key), allowed)
	return allowed
}

// credentialFrom reads the bearer token from the token query parameter or
// the Authorization header. Browsers cannot set headers on WebSocket
// upgrades, so the query parameter is checked first.
func credentialFrom(r *http.Request) string {
	if token := r.URL.Query().Get("token"); token != "" {
		return token
	}
	if auth := r.Header.Get("Authorization"); strings.HasPrefix(auth, "Bearer ") {
		return strings.TrimPrefix(auth, "Bearer ")
	}
	return ""
}
