// Package dashboard serves the JSON API operators use to manage notification settings from the
// browser, plus health, metrics and a websocket feed of watcher events.
package dashboard

import (
	"bufio"
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"rpan_bot/internal/events"
	"rpan_bot/internal/index"
	"rpan_bot/internal/model"
	"rpan_bot/internal/settings"
	"rpan_bot/internal/telemetry"
)

// CorrelationHeader carries the request correlation id in both directions.
const CorrelationHeader = "X-Correlation-ID"

// Provisioner creates the webhook of a new setting. The Discord bot implements it.
type Provisioner interface {
	SetupNotifications(ctx context.Context, guildID, channelID, username string, isDev bool) (model.NotificationSetting, error)
}

// Deps are the collaborators of a Server.
type Deps struct {
	Settings    *settings.Service
	Index       *index.Index
	Provisioner Provisioner
	Bus         *events.Bus
	// Token guards /api. An empty token leaves the API routes unregistered.
	Token string
}

// Server is the dashboard HTTP server.
type Server struct {
	settings    *settings.Service
	index       *index.Index
	provisioner Provisioner
	bus         *events.Bus
	token       string
	log         *slog.Logger
	validate    *validator.Validate
	upgrader    websocket.Upgrader
}

// New creates a Server.
func New(deps Deps, log *slog.Logger) *Server {
	return &Server{
		settings:    deps.Settings,
		index:       deps.Index,
		provisioner: deps.Provisioner,
		bus:         deps.Bus,
		token:       deps.Token,
		log:         log,
		validate:    validator.New(validator.WithRequiredStructEnabled()),
		upgrader:    websocket.Upgrader{ReadBufferSize: 1024, WriteBufferSize: 4096},
	}
}

// Handler returns the routed handler wrapped in the correlation middleware.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", s.handleHealthz)
	mux.Handle("GET /metrics", promhttp.Handler())

	if s.token != "" {
		api := http.NewServeMux()
		api.HandleFunc("GET /api/guilds/{guild}/settings", s.handleListSettings)
		api.HandleFunc("POST /api/guilds/{guild}/settings", s.handleCreateSetting)
		api.HandleFunc("GET /api/guilds/{guild}/settings/{channel}", s.handleGetSetting)
		api.HandleFunc("PUT /api/guilds/{guild}/settings/{channel}", s.handleUpdateSetting)
		api.HandleFunc("DELETE /api/guilds/{guild}/settings/{channel}", s.handleDeleteSetting)
		api.HandleFunc("GET /api/guilds/{guild}/prefixes", s.handleGetPrefixes)
		api.HandleFunc("PUT /api/guilds/{guild}/prefixes", s.handlePutPrefixes)
		api.HandleFunc("DELETE /api/guilds/{guild}/prefixes", s.handleDeletePrefixes)
		api.HandleFunc("GET /api/events", s.handleEvents)
		mux.Handle("/api/", s.requireToken(api))
	} else {
		s.log.Warn("dashboard token not set, API routes disabled")
	}

	return s.correlate(mux)
}

// Run serves on addr until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			s.log.Error("dashboard shutdown", "error", err)
		}
	}()

	s.log.Info("dashboard listening", "addr", addr)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("dashboard: %w", err)
	}
	return nil
}

func (s *Server) handleHealthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) requireToken(next http.Handler) http.Handler {
	want := []byte("Bearer " + s.token)
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got := []byte(r.Header.Get("Authorization"))
		if subtle.ConstantTimeCompare(got, want) != 1 {
			writeError(w, http.StatusUnauthorized, "unauthorized")
			return
		}
		next.ServeHTTP(w, r)
	})
}

type loggerKey struct{}

// logger returns the request scoped logger set by the correlation middleware.
func (s *Server) logger(ctx context.Context) *slog.Logger {
	if l, ok := ctx.Value(loggerKey{}).(*slog.Logger); ok {
		return l
	}
	return s.log
}

// correlate reuses or assigns a correlation id, traces the request and logs its outcome.
func (s *Server) correlate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		corr := r.Header.Get(CorrelationHeader)
		if corr == "" {
			corr = uuid.New().String()
		}
		w.Header().Set(CorrelationHeader, corr)

		log := s.log.With("correlation_id", corr)
		ctx := context.WithValue(r.Context(), loggerKey{}, log)
		ctx, span := telemetry.StartSpan(ctx, "http "+r.Method,
			attribute.String("http.method", r.Method),
			attribute.String("http.path", r.URL.Path),
			attribute.String("correlation_id", corr),
		)
		defer span.End()

		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r.WithContext(ctx))

		span.SetAttributes(attribute.Int("http.status_code", rec.status))
		if rec.status >= 500 {
			span.SetStatus(codes.Error, http.StatusText(rec.status))
		}
		log.Debug("request", "method", r.Method, "path", r.URL.Path, "status", rec.status, "duration", time.Since(start))
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

// Hijack lets the websocket upgrader take over the connection.
func (r *statusRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	h, ok := r.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, errors.New("response writer does not support hijacking")
	}
	r.status = http.StatusSwitchingProtocols
	return h.Hijack()
}

func (r *statusRecorder) Flush() {
	if f, ok := r.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}
