// Package httpserver exposes the revalidation worker over HTTP: a health
// check and an endpoint that enqueues revalidation requests the way the
// server unit does.
package httpserver

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/hashicorp/go-hclog"

	"github.com/ILLUVRSE/sitedeploy/deployer/internal/revalidation"
)

type pinger interface {
	Ping(ctx context.Context) error
}

type Config struct {
	// Token, when set, is required as a bearer token on write routes.
	Token  string
	Logger hclog.Logger
}

type Server struct {
	cfg    Config
	queue  revalidation.Queue
	logger hclog.Logger
}

func New(cfg Config, queue revalidation.Queue) *Server {
	logger := cfg.Logger
	if logger == nil {
		logger = hclog.NewNullLogger()
	}
	return &Server{cfg: cfg, queue: queue, logger: logger.Named("http")}
}

func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(30 * time.Second))

	r.Get("/health", s.handleHealth)
	r.Group(func(r chi.Router) {
		r.Use(s.writeAuth)
		r.Post("/revalidate", s.handleRevalidate)
	})
	return r
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()
	status := map[string]interface{}{
		"ok":   true,
		"time": time.Now().UTC(),
	}
	if p, ok := s.queue.(pinger); ok {
		if err := p.Ping(ctx); err != nil {
			status["ok"] = false
			status["queue"] = err.Error()
			respondJSON(w, http.StatusServiceUnavailable, status)
			return
		}
	}
	respondJSON(w, http.StatusOK, status)
}

type revalidateRequest struct {
	Key         string `json:"key"`
	Host        string `json:"host"`
	GroupingKey string `json:"groupingKey,omitempty"`
}

func (s *Server) handleRevalidate(w http.ResponseWriter, r *http.Request) {
	var req revalidateRequest
	if err := decodeJSON(w, r, &req); err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	msg := revalidation.Message{Key: req.Key, Host: req.Host, GroupingKey: req.GroupingKey}
	if err := msg.Validate(); err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := s.queue.Send(r.Context(), msg); err != nil {
		status := http.StatusBadGateway
		if errors.Is(err, revalidation.ErrClosed) {
			status = http.StatusServiceUnavailable
		}
		s.logger.Warn("enqueue revalidation", "key", msg.Key, "error", err)
		respondError(w, status, "enqueue failed")
		return
	}
	respondJSON(w, http.StatusAccepted, map[string]string{"key": msg.Key, "group": msg.Group()})
}

func (s *Server) writeAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.cfg.Token == "" {
			next.ServeHTTP(w, r)
			return
		}
		token, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
		if !ok || subtle.ConstantTimeCompare([]byte(token), []byte(s.cfg.Token)) != 1 {
			respondError(w, http.StatusUnauthorized, "bearer token required")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func decodeJSON(w http.ResponseWriter, r *http.Request, v interface{}) error {
	defer r.Body.Close()
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20))
	dec.DisallowUnknownFields()
	return dec.Decode(v)
}

func respondJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func respondError(w http.ResponseWriter, status int, msg string) {
	respondJSON(w, status, map[string]string{"error": msg})
}
