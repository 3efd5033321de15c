// Package http is the public HTTP facade of the gateway: pairing-code
// routes, status and health probes, the lifecycle event stream and the
// static web UI.
package http

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/nextlevelbuilder/pairgate/internal/bus"
	"github.com/nextlevelbuilder/pairgate/internal/cache"
	"github.com/nextlevelbuilder/pairgate/internal/clock"
	"github.com/nextlevelbuilder/pairgate/internal/gateway"
	"github.com/nextlevelbuilder/pairgate/internal/session"
	"github.com/nextlevelbuilder/pairgate/internal/throttle"
	"github.com/nextlevelbuilder/pairgate/pkg/protocol"
)

const maxBodySize = 1 << 20 // 1 MB

// Pairing is the part of the session coordinator the facade drives.
type Pairing interface {
	BeginPairing(ctx context.Context, phone string) (session.PairingResult, error)
	Status() session.Status
}

// Options wires the facade to the rest of the gateway.
type Options struct {
	Pairing  Pairing
	Cache    cache.Store
	Throttle *throttle.Guard
	Bus      *bus.MessageBus      // optional; feeds GET /events
	Limiter  *gateway.ClientLimiter // optional
	Clock    clock.Clock

	TrustProxy    bool
	Environment   string
	Development   bool // error responses carry details
	Version       string
	StaticDir     string // overrides the embedded UI when set
	BotName       string
	CommandPrefix string
	Started       time.Time
}

// Server routes the facade.
type Server struct {
	opts   Options
	clock  clock.Clock
	events *EventStream
	mux    *http.ServeMux
}

// New builds the facade.
func New(opts Options) *Server {
	if opts.Throttle == nil {
		opts.Throttle = throttle.New(throttle.DefaultCooldown)
	}
	if opts.BotName == "" {
		opts.BotName = "Pairgate Bot"
	}
	if opts.CommandPrefix == "" {
		opts.CommandPrefix = "!"
	}
	s := &Server{opts: opts, clock: clock.Or(opts.Clock), mux: http.NewServeMux()}
	if s.opts.Started.IsZero() {
		s.opts.Started = s.clock.Now()
	}
	s.events = NewEventStream(10 * time.Minute)
	if opts.Bus != nil {
		opts.Bus.Subscribe("http.events", s.events.Publish)
	}
	s.routes()
	return s
}

func (s *Server) routes() {
	s.mux.HandleFunc("POST /generate-pairing-code", s.handleGenerate)
	s.mux.HandleFunc("GET /pairing-code/{phoneNumber}", s.handleLookup)
	s.mux.HandleFunc("GET /bot-status", s.handleBotStatus)
	s.mux.HandleFunc("GET /health", s.handleHealth)
	s.mux.HandleFunc("GET /bot-qr", s.handleBotQR)
	s.mux.Handle("GET /events", s.events)
	s.mux.Handle("GET /", s.staticHandler())
	s.mux.HandleFunc("/", s.handleNotFound)
}

// Handler returns the routed facade with its middleware chain.
func (s *Server) Handler() http.Handler {
	var h http.Handler = s.mux
	h = s.rateLimit(h)
	h = s.recoverer(h)
	h = logRequests(h)
	return h
}

// Close ends open event streams.
func (s *Server) Close(ctx context.Context) error {
	if s.opts.Bus != nil {
		s.opts.Bus.Unsubscribe("http.events")
	}
	return s.events.Shutdown(ctx)
}

func (s *Server) handleNotFound(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusNotFound, apiResponse{Error: "route not found"})
}

func (s *Server) uptime() time.Duration {
	return s.clock.Now().Sub(s.opts.Started)
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func (r *statusRecorder) Unwrap() http.ResponseWriter { return r.ResponseWriter }

// Flush keeps the event stream working through the logging middleware.
func (r *statusRecorder) Flush() {
	http.NewResponseController(r.ResponseWriter).Flush()
}

func logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		slog.Debug("http request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", rec.status,
			"duration", time.Since(start),
		)
	})
}

// recoverer turns handler panics into the generic 500 body.
func (s *Server) recoverer(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if v := recover(); v != nil {
				if v == http.ErrAbortHandler {
					panic(v)
				}
				slog.Error("http handler panic", "path", r.URL.Path, "panic", v)
				s.writeError(w, http.StatusInternalServerError, protocol.ErrInternal, "internal server error", panicError{v})
			}
		}()
		next.ServeHTTP(w, r)
	})
}

func (s *Server) rateLimit(next http.Handler) http.Handler {
	rl := s.opts.Limiter
	if rl == nil || !rl.Enabled() {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/health" {
			next.ServeHTTP(w, r)
			return
		}
		if !rl.Allow(gateway.ClientIP(r, s.opts.TrustProxy)) {
			w.Header().Set("Retry-After", "60")
			s.writeError(w, http.StatusTooManyRequests, protocol.ErrRateLimited, "too many requests, slow down", nil)
			return
		}
		next.ServeHTTP(w, r)
	})
}
