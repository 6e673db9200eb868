// Package server exposes the inbound OneBot receive endpoint, the content
// event source, health and metrics over HTTP.
package server

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/mux"

	"qqbridge/internal/domain"
	"qqbridge/internal/metrics"
	"qqbridge/internal/onebot"
)

const maxBodyBytes = 1 << 20

// Dispatcher handles one normalized inbound message.
type Dispatcher interface {
	Dispatch(ctx context.Context, msg domain.InboundMessage) domain.Result
}

// Publisher accepts content events for the notification worker.
type Publisher interface {
	Publish(ev domain.ContentEvent)
}

// Config configures the HTTP server.
type Config struct {
	Host        string
	Port        int
	ReceivePath string
	EventsPath  string
	MetricsPath string
	AccessToken string // empty disables authentication
	Dispatcher  Dispatcher
	Events      Publisher
	Logger      *slog.Logger
}

// Server is the inbound HTTP surface of the bridge.
type Server struct {
	cfg    Config
	router *mux.Router
	logger *slog.Logger
	server *http.Server
}

func New(cfg Config) *Server {
	if cfg.ReceivePath == "" {
		cfg.ReceivePath = "/qqpush/v1/receive"
	}
	if cfg.EventsPath == "" {
		cfg.EventsPath = "/qqpush/v1/events"
	}
	if cfg.MetricsPath == "" {
		cfg.MetricsPath = "/metrics"
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	s := &Server{cfg: cfg, logger: cfg.Logger}
	s.router = s.routes()
	return s
}

func (s *Server) routes() *mux.Router {
	r := mux.NewRouter()
	r.Use(instrument)

	r.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)
	r.Handle(s.cfg.MetricsPath, metrics.Handler()).Methods(http.MethodGet)

	r.Handle(s.cfg.ReceivePath, s.authorize(http.HandlerFunc(s.handleReceive))).Methods(http.MethodPost)
	if s.cfg.Events != nil {
		r.Handle(s.cfg.EventsPath, s.authorize(http.HandlerFunc(s.handleEvent))).Methods(http.MethodPost)
	}
	r.MethodNotAllowedHandler = http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusMethodNotAllowed, errorBody("method_not_allowed"))
	})
	return r
}

// Handler returns the routed handler, for tests and embedding.
func (s *Server) Handler() http.Handler { return s.router }

// Start serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Start(ctx context.Context) error {
	addr := net.JoinHostPort(s.cfg.Host, strconv.Itoa(s.cfg.Port))
	s.server = &http.Server{
		Addr:              addr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	s.logger.Info("http server starting", "addr", addr, "receive", s.cfg.ReceivePath, "events", s.cfg.EventsPath)

	errCh := make(chan error, 1)
	go func() {
		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		s.logger.Info("http server shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return s.server.Shutdown(shutdownCtx)
	case err := <-errCh:
		return fmt.Errorf("http server: %w", err)
	}
}

// authorize enforces "Authorization: Bearer <token>" when a token is set.
func (s *Server) authorize(next http.Handler) http.Handler {
	if s.cfg.AccessToken == "" {
		return next
	}
	want := []byte("Bearer " + s.cfg.AccessToken)
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got := []byte(strings.TrimSpace(r.Header.Get("Authorization")))
		if subtle.ConstantTimeCompare(got, want) != 1 {
			s.logger.Warn("rejected unauthorized request", "path", r.URL.Path, "remote", r.RemoteAddr)
			writeJSON(w, http.StatusUnauthorized, errorBody("unauthorized"))
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleReceive(w http.ResponseWriter, r *http.Request) {
	var ev onebot.Event
	if err := decodeBody(r, &ev); err != nil {
		s.logger.Debug("invalid receive payload", "error", err)
		writeJSON(w, http.StatusBadRequest, errorBody("invalid_json"))
		return
	}

	msg := ev.Normalize()
	res := s.cfg.Dispatcher.Dispatch(r.Context(), msg)
	s.logger.Debug("inbound message handled",
		"group_id", msg.GroupID, "qq_id", msg.SenderID, "status", res.Status, "reason", res.Reason)
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) handleEvent(w http.ResponseWriter, r *http.Request) {
	var ev domain.ContentEvent
	if err := decodeBody(r, &ev); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody("invalid_json"))
		return
	}
	switch ev.Type {
	case domain.EventPostTransition:
	case domain.EventComment:
		if ev.Comment == nil {
			writeJSON(w, http.StatusBadRequest, errorBody("missing_comment"))
			return
		}
	default:
		writeJSON(w, http.StatusBadRequest, errorBody("unknown_event_type"))
		return
	}

	s.cfg.Events.Publish(ev)
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "accepted"})
}

func decodeBody(r *http.Request, v any) error {
	defer r.Body.Close()
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		return err
	}
	return json.Unmarshal(body, v)
}

func errorBody(reason string) map[string]string {
	return map[string]string{"status": string(domain.StatusError), "reason": reason}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
