package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/mbertolini/voicetwin/internal/config"
	"github.com/mbertolini/voicetwin/internal/observability"
	"github.com/mbertolini/voicetwin/internal/provision"
)

// Provisioner is the room/token backend the HTTP surface delegates to.
// Satisfied by *provision.Provisioner and by test fakes.
type Provisioner interface {
	Provision(ctx context.Context, participant string) (provision.Grant, error)
	ListRooms(ctx context.Context) ([]provision.RoomInfo, error)
}

type Server struct {
	cfg         config.Settings
	provisioner Provisioner
	metrics     *observability.Metrics
}

func New(cfg config.Settings, provisioner Provisioner, metrics *observability.Metrics) *Server {
	return &Server{cfg: cfg, provisioner: provisioner, metrics: metrics}
}

func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(allowAllCORS)

	r.Get("/", s.handleRoot)
	r.Get("/health", s.handleHealth)
	r.Get("/metrics", func(w http.ResponseWriter, r *http.Request) {
		observability.MetricsHandler().ServeHTTP(w, r)
	})

	r.Get("/api/get-token", s.handleGetToken)
	r.Get("/api/rooms", s.handleListRooms)

	return r
}

func (s *Server) handleRoot(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, map[string]any{
		"service": "voicetwin",
		"version": "0.1.0",
		"status":  "ready",
		"endpoints": map[string]string{
			"token": "/api/get-token?participant=<name>",
			"rooms": "/api/rooms",
		},
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, map[string]any{
		"status":           "healthy",
		"livekit_ready":    s.cfg.RequireLiveKit() == nil,
		"tracing_enabled":  s.cfg.Langfuse.Enabled(),
		"voice_configured": s.cfg.Resemble.VoiceUUID != "",
	})
}

func (s *Server) handleGetToken(w http.ResponseWriter, r *http.Request) {
	participant := strings.TrimSpace(r.URL.Query().Get("participant"))
	if participant == "" {
		s.metrics.TokenRequests.WithLabelValues("bad_request").Inc()
		respondError(w, http.StatusBadRequest, "missing_participant", "query parameter participant is required")
		return
	}

	grant, err := s.provisioner.Provision(r.Context(), participant)
	if err != nil {
		if errors.Is(err, config.ErrNotConfigured) {
			s.metrics.TokenRequests.WithLabelValues("not_configured").Inc()
			respondError(w, http.StatusInternalServerError, "not_configured", "LiveKit credentials not configured")
			return
		}
		s.metrics.TokenRequests.WithLabelValues("error").Inc()
		respondError(w, http.StatusInternalServerError, "provision_failed", err.Error())
		return
	}

	s.metrics.TokenRequests.WithLabelValues("ok").Inc()
	respondJSON(w, http.StatusOK, grant)
}

func (s *Server) handleListRooms(w http.ResponseWriter, r *http.Request) {
	rooms, err := s.provisioner.ListRooms(r.Context())
	if err != nil {
		if errors.Is(err, config.ErrNotConfigured) {
			respondError(w, http.StatusInternalServerError, "not_configured", "LiveKit credentials not configured")
			return
		}
		respondError(w, http.StatusInternalServerError, "list_failed", err.Error())
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"rooms": rooms,
		"total": len(rooms),
	})
}

// allowAllCORS mirrors the open development posture of the token endpoint:
// any origin may request credentials for its own room.
func allowAllCORS(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

type errorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

func respondJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func respondError(w http.ResponseWriter, status int, code, message string) {
	respondJSON(w, status, errorResponse{Error: message, Code: code})
}
