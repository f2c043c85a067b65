package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"

	"github.com/onnwee/subcults-live/internal/api"
	"github.com/onnwee/subcults-live/internal/auth"
	"github.com/onnwee/subcults-live/internal/chat"
	"github.com/onnwee/subcults-live/internal/config"
	"github.com/onnwee/subcults-live/internal/directory"
	"github.com/onnwee/subcults-live/internal/gateway"
	"github.com/onnwee/subcults-live/internal/health"
	"github.com/onnwee/subcults-live/internal/live"
	"github.com/onnwee/subcults-live/internal/middleware"
	"github.com/onnwee/subcults-live/internal/room"
	"github.com/onnwee/subcults-live/internal/session"
	"github.com/onnwee/subcults-live/internal/store/postgres"
	"github.com/onnwee/subcults-live/internal/stream"
)

const (
	serviceName    = "subcults-live"
	serviceVersion = "0.1.0"

	limiterCleanupInterval = time.Minute
)

// server holds the wired components of one process.
type server struct {
	cfg      *config.Config
	handler  http.Handler
	inflight *middleware.InFlight
	gateway  *gateway.Handler
	registry *session.Registry
	rooms    *room.Channel
	streams  *stream.Controller

	closers []func() error
}

// newServer wires stores, controllers, the gateway and the HTTP surface.
// If stores.Users is nil, stores are selected from cfg.DatabaseURL.
func newServer(ctx context.Context, cfg *config.Config, logger *slog.Logger, stores directory.Stores) (*server, error) {
	s := &server{cfg: cfg}
	var checkers []api.NamedChecker

	if stores.Users == nil {
		if cfg.DatabaseURL != "" {
			db, err := postgres.Open(ctx, cfg.DatabaseURL)
			if err != nil {
				return nil, err
			}
			s.closers = append(s.closers, db.Close)
			if err := postgres.Migrate(ctx, db); err != nil {
				s.Close()
				return nil, err
			}
			stores = postgres.NewStores(db, logger)
			checkers = append(checkers, health.NewDBChecker(db))
			logger.Info("using postgres stores")
		} else {
			stores = directory.NewInMemoryStores()
			logger.Warn("DATABASE_URL not set, using in-memory stores")
		}
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	liveMetrics := live.NewMetrics()
	httpMetrics := middleware.NewMetrics()
	if err := liveMetrics.Register(reg); err != nil {
		s.Close()
		return nil, fmt.Errorf("failed to register live metrics: %w", err)
	}
	if err := httpMetrics.Register(reg); err != nil {
		s.Close()
		return nil, fmt.Errorf("failed to register http metrics: %w", err)
	}

	var limiter middleware.RateLimitStore
	if cfg.RedisURL != "" {
		opts, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			s.Close()
			return nil, fmt.Errorf("invalid redis url: %w", err)
		}
		client := redis.NewClient(opts)
		s.closers = append(s.closers, client.Close)
		limiter = middleware.NewRedisRateLimitStore(client, httpMetrics)
		checkers = append(checkers, health.NewRedisChecker(client))
		logger.Info("using redis rate limiting")
	} else {
		memLimiter := middleware.NewInMemoryRateLimitStore()
		go sweepLimiter(ctx, memLimiter)
		limiter = memLimiter
	}

	s.registry = session.NewRegistry()
	s.rooms = room.NewChannel()
	s.rooms.OnDrop(func(connID, event string, err error) {
		liveMetrics.IncDroppedMessages()
		logger.Warn("dropped outbound message", "conn_id", connID, "event", event, "error", err)
	})

	s.streams = stream.NewController(stores, s.registry, s.rooms, liveMetrics, stream.Config{RequireLive: cfg.RequireLive})
	chats := chat.NewController(stores, s.registry, s.rooms, liveMetrics)

	if n, err := s.streams.ReconcileOrphans(ctx); err != nil {
		logger.Warn("failed to reconcile orphaned live streams", "error", err)
	} else if n > 0 {
		logger.Info("reconciled orphaned live streams", "count", n)
	}

	codecs, err := gateway.NewCodecs()
	if err != nil {
		s.Close()
		return nil, err
	}
	tokens := auth.NewJWTService(cfg.JWTSecret, cfg.JWTPreviousSecret)
	s.gateway = gateway.NewHandler(
		gateway.NewDispatcher(s.streams, chats),
		s.rooms,
		auth.NewResolver(tokens, stores.Users),
		codecs,
		liveMetrics,
		gateway.Options{
			CheckOrigin: middleware.OriginChecker(cfg.AllowedOrigins),
			Limiter:     limiter,
			EventLimit: middleware.RateLimitConfig{
				RequestsPerWindow: cfg.EventRateLimit,
				WindowDuration:    cfg.EventRateWindow,
			},
			LimitMetrics: httpMetrics,
		},
	)

	healthHandlers := api.NewHealthHandlers(api.HealthHandlersConfig{
		Checkers:       checkers,
		Connections:    s.rooms,
		Sessions:       s.registry,
		MetricsEnabled: true,
	})
	sessionHandlers := api.NewSessionHandlers(s.registry, s.rooms)

	mux := http.NewServeMux()
	mux.Handle("/ws", s.gateway)
	mux.HandleFunc("/health", healthHandlers.Health)
	mux.HandleFunc("/ready", healthHandlers.Ready)
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg}))
	mux.HandleFunc("/streams/{id}/session", sessionHandlers.GetSession)
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/" {
			ctx := middleware.SetErrorCode(r.Context(), api.ErrCodeNotFound)
			api.WriteError(w, ctx, http.StatusNotFound, api.ErrCodeNotFound, "The requested resource was not found")
			return
		}
		w.Header().Set("Content-Type", "application/json")
		if _, err := fmt.Fprintf(w, `{"service":%q,"version":%q}`, serviceName, serviceVersion); err != nil {
			slog.Error("failed to write response", "error", err)
		}
	})

	// Outermost first: InFlight -> RequestID -> Tracing -> Logging -> HTTPMetrics -> CORS -> Profiling -> RateLimiter
	var handler http.Handler = mux
	handler = middleware.RateLimiter(limiter, middleware.DefaultHTTPLimit(), middleware.IPKeyFunc(), httpMetrics)(handler)
	handler = middleware.Profiling(cfg.ProfilingEnabled, cfg.Env)(handler)
	handler = middleware.CORS(middleware.DefaultCORSConfig(cfg.AllowedOrigins))(handler)
	handler = middleware.HTTPMetrics(httpMetrics)(handler)
	handler = middleware.Logging(logger)(handler)
	handler = middleware.Tracing(serviceName)(handler)
	handler = middleware.RequestID(handler)
	s.inflight = &middleware.InFlight{}
	s.handler = s.inflight.Track(handler)

	return s, nil
}

// Close releases the database and Redis connections.
func (s *server) Close() error {
	var errs []error
	for i := len(s.closers) - 1; i >= 0; i-- {
		if err := s.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	s.closers = nil
	return errors.Join(errs...)
}

// sweepLimiter drops expired in-memory buckets until ctx is done.
func sweepLimiter(ctx context.Context, store *middleware.InMemoryRateLimitStore) {
	ticker := time.NewTicker(limiterCleanupInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			store.Cleanup()
		}
	}
}
