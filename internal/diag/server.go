// Package diag serves engine diagnostics over HTTP: health, the latest
// engine snapshot, recent bus events, prometheus metrics and a websocket
// stream of both.
//
// The engine is single-threaded, so the server never calls into it. The
// host hands over snapshots and bus records with Publish from the engine's
// own loop; handlers only read what was published.
package diag

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"slices"
	"strconv"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/gorilla/websocket"
	"github.com/oklog/ulid/v2"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rotisserie/eris"
	"github.com/rs/zerolog"

	"geoframe/internal/bus"
	"geoframe/internal/logging"
)

const (
	DefaultEventBacklog = 200

	writeWait    = 5 * time.Second
	pongWait     = 60 * time.Second
	pingPeriod   = pongWait * 9 / 10
	clientBuffer = 64
)

type Options struct {
	Addr           string
	AllowedOrigins []string
	// EventBacklog bounds the events kept for /events.
	EventBacklog int
	Logger       *zerolog.Logger
}

// Event is the wire form of a bus record.
type Event struct {
	ID        string          `json:"id"`
	Name      string          `json:"name"`
	Timestamp time.Time       `json:"timestamp"`
	Payload   json.RawMessage `json:"payload,omitempty"`
}

type envelope struct {
	Type  string          `json:"type"`
	Event *Event          `json:"event,omitempty"`
	Stats json.RawMessage `json:"stats,omitempty"`
}

type Server struct {
	opts     Options
	log      zerolog.Logger
	router   chi.Router
	upgrader websocket.Upgrader

	mu      sync.Mutex
	stats   []byte
	events  []Event
	lastID  ulid.ULID
	clients map[*client]struct{}
}

func New(opts Options) *Server {
	if opts.EventBacklog <= 0 {
		opts.EventBacklog = DefaultEventBacklog
	}
	s := &Server{
		opts:    opts,
		log:     logging.Component(opts.Logger, "diag"),
		clients: make(map[*client]struct{}),
	}
	s.upgrader = websocket.Upgrader{CheckOrigin: s.originAllowed}
	s.router = s.routes()
	return s
}

func (s *Server) routes() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	if len(s.opts.AllowedOrigins) > 0 {
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins: s.opts.AllowedOrigins,
			AllowedMethods: []string{http.MethodGet, http.MethodOptions},
			AllowedHeaders: []string{"Accept", "Content-Type"},
			MaxAge:         300,
		}))
	}

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})
	r.Get("/stats", s.handleStats)
	r.Get("/events", s.handleEvents)
	r.Get("/events/ws", s.handleStream)
	r.Get("/metrics", promhttp.Handler().ServeHTTP)
	return r
}

// Handler returns the router, for tests and embedding.
func (s *Server) Handler() http.Handler { return s.router }

func (s *Server) originAllowed(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	for _, o := range s.opts.AllowedOrigins {
		if o == "*" || o == origin {
			return true
		}
	}
	// Same host is always fine.
	return origin == "http://"+r.Host || origin == "https://"+r.Host
}

// Publish stores stats as the current snapshot and appends the records
// not seen before, then pushes both to stream clients. Records must be
// oldest first, as bus.History returns them.
func (s *Server) Publish(stats any, records []bus.Record) {
	var data []byte
	if stats != nil {
		var err error
		if data, err = json.Marshal(stats); err != nil {
			s.log.Warn().Err(err).Msg("snapshot not serialisable")
			data = nil
		}
	}

	s.mu.Lock()
	var fresh []Event
	for _, rec := range records {
		if rec.ID.Compare(s.lastID) <= 0 {
			continue
		}
		s.lastID = rec.ID
		fresh = append(fresh, toEvent(rec))
	}
	s.events = append(s.events, fresh...)
	if over := len(s.events) - s.opts.EventBacklog; over > 0 {
		s.events = slices.Delete(s.events, 0, over)
	}
	if data != nil {
		s.stats = data
	}
	s.mu.Unlock()

	for i := range fresh {
		s.broadcast(envelope{Type: "event", Event: &fresh[i]})
	}
	if data != nil {
		s.broadcast(envelope{Type: "stats", Stats: data})
	}
}

func toEvent(rec bus.Record) Event {
	ev := Event{ID: rec.ID.String(), Name: rec.Name, Timestamp: rec.Timestamp}
	if rec.Payload == nil {
		return ev
	}
	p, err := json.Marshal(rec.Payload)
	if err != nil {
		p, _ = json.Marshal(fmt.Sprint(rec.Payload))
	}
	ev.Payload = p
	return ev
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	data := s.stats
	s.mu.Unlock()
	if data == nil {
		writeJSONError(w, http.StatusServiceUnavailable, "no snapshot published yet")
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.Write(data)
}

func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	n := 0
	if v := r.URL.Query().Get("n"); v != "" {
		parsed, err := strconv.Atoi(v)
		if err != nil || parsed < 0 {
			writeJSONError(w, http.StatusBadRequest, "n must be a non-negative integer")
			return
		}
		n = parsed
	}
	name := r.URL.Query().Get("name")

	s.mu.Lock()
	out := make([]Event, 0, len(s.events))
	for _, ev := range s.events {
		if name == "" || ev.Name == name {
			out = append(out, ev)
		}
	}
	s.mu.Unlock()
	if n > 0 && n < len(out) {
		out = out[len(out)-n:]
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(map[string]any{"events": out}); err != nil {
		s.log.Warn().Err(err).Msg("encode events")
	}
}

func writeJSONError(w http.ResponseWriter, code int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": msg})
}

// Clients returns the number of connected stream clients.
func (s *Server) Clients() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.clients)
}

// ListenAndServe serves on opts.Addr until ctx is cancelled.
func (s *Server) ListenAndServe(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.opts.Addr,
		Handler:           s.router,
		ReadHeaderTimeout: 5 * time.Second,
	}
	errc := make(chan error, 1)
	go func() { errc <- srv.ListenAndServe() }()
	s.log.Info().Str("addr", s.opts.Addr).Msg("diagnostics listening")

	select {
	case err := <-errc:
		if eris.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("failed to serve diagnostics: %w", err)
	case <-ctx.Done():
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	s.closeClients()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("failed to shut down diagnostics: %w", err)
	}
	return nil
}
