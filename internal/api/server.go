// Package api implements the admin HTTP surface: health and fleet/queue
// statistics for operators and load balancers, separate from the
// WebSocket surface in internal/connsup. Uses a plain ServeMux with
// CORS and JSON middleware applied uniformly to every route.
package api

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"pairbridge/internal/fleet"
	"pairbridge/internal/queue"
	"pairbridge/internal/socketreg"
	"pairbridge/pkg/interfaces"
	"pairbridge/pkg/types"
)

// Server is the admin HTTP surface. No business logic lives here: only
// HTTP handling and JSON serialization over the real-time core's
// collaborators.
type Server struct {
	ss     interfaces.SharedStore
	fc     *fleet.Coordinator
	sr     *socketreg.Registry
	qm     *queue.Manager
	router *http.ServeMux
}

// NewServer wires a Server and sets up its routes.
func NewServer(ss interfaces.SharedStore, fc *fleet.Coordinator, sr *socketreg.Registry, qm *queue.Manager) *Server {
	s := &Server{ss: ss, fc: fc, sr: sr, qm: qm, router: http.NewServeMux()}
	s.setupRoutes()
	return s
}

// setupRoutes applies CORS and JSON middleware to every route.
func (s *Server) setupRoutes() {
	s.router.Handle("/health", s.corsMiddleware(s.jsonMiddleware(http.HandlerFunc(s.healthCheck))))
	s.router.Handle("/api/stats", s.corsMiddleware(s.jsonMiddleware(http.HandlerFunc(s.stats))))
	s.router.Handle("/api/instances", s.corsMiddleware(s.jsonMiddleware(http.HandlerFunc(s.instances))))
	s.router.Handle("/api/presence", s.corsMiddleware(s.jsonMiddleware(http.HandlerFunc(s.presence))))
}

// ServeHTTP lets Server plug directly into an http.Server.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// HealthResponse reports whether the Shared Store is reachable and this
// instance is accepting new connections.
type HealthResponse struct {
	Status      string `json:"status"`
	Timestamp   time.Time `json:"timestamp"`
	Store       string `json:"store"`
	AcceptingConnections bool `json:"accepting_connections"`
}

// StatsResponse is the per-instance snapshot an operator dashboard polls.
type StatsResponse struct {
	ActiveConnections int         `json:"active_connections"`
	QueueSizes        map[string]int `json:"queue_sizes"`
}

// InstancesResponse lists every healthy instance in the fleet.
type InstancesResponse struct {
	Instances []*types.InstanceRecord `json:"instances"`
}

// PresenceResponse answers whether a user is online anywhere in the fleet
// and, if so, which instances currently hold one of their sockets.
type PresenceResponse struct {
	UserID    string   `json:"user_id"`
	Online    bool     `json:"online"`
	Instances []string `json:"instances"`
}

type ErrorResponse struct {
	Error   string `json:"error"`
	Code    int    `json:"code"`
	Message string `json:"message"`
}

var allModalities = []types.Modality{types.ModalityVideo, types.ModalityAudio, types.ModalityText}

// healthCheck probes the Shared Store with a throwaway round-trip and
// reports this instance's admission state.
func (s *Server) healthCheck(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	status := "healthy"
	storeStatus := "healthy"
	if err := s.ss.Set(ctx, "health:ping", "1", time.Second); err != nil {
		status = "unhealthy"
		storeStatus = "unreachable: " + err.Error()
	}

	accepting := true
	if s.fc != nil {
		accepting = s.fc.ShouldAccept()
	}

	resp := HealthResponse{
		Status:               status,
		Timestamp:             time.Now(),
		Store:                storeStatus,
		AcceptingConnections: accepting,
	}
	if status != "healthy" {
		w.WriteHeader(http.StatusServiceUnavailable)
	}
	json.NewEncoder(w).Encode(resp)
}

// stats reports this instance's current load: active sockets and the size
// of each modality's waiting queue.
func (s *Server) stats(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	queueSizes := make(map[string]int, len(allModalities))
	for _, modality := range allModalities {
		size, err := s.qm.QueueSize(ctx, modality)
		if err != nil {
			s.sendError(w, "failed to read queue size", http.StatusInternalServerError)
			return
		}
		queueSizes[string(modality)] = size
	}

	json.NewEncoder(w).Encode(StatsResponse{
		ActiveConnections: s.sr.ConnectionCount(),
		QueueSizes:        queueSizes,
	})
}

// instances reports every healthy instance in the cluster, for an
// operator's view of the whole fleet rather than just this process.
func (s *Server) instances(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	if s.fc == nil {
		json.NewEncoder(w).Encode(InstancesResponse{Instances: nil})
		return
	}
	records, err := s.fc.GetHealthyInstances(ctx)
	if err != nil {
		s.sendError(w, "failed to list instances", http.StatusInternalServerError)
		return
	}
	json.NewEncoder(w).Encode(InstancesResponse{Instances: records})
}

// presence reports whether ?user_id= is online anywhere in the fleet, not
// just on this instance, the way an operator dashboard or abuse-review
// tool would check before acting on a user.
func (s *Server) presence(w http.ResponseWriter, r *http.Request) {
	userID := r.URL.Query().Get("user_id")
	if userID == "" {
		s.sendError(w, "user_id is required", http.StatusBadRequest)
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	instances, err := s.sr.OnlineInstances(ctx, userID)
	if err != nil {
		s.sendError(w, "failed to check presence", http.StatusInternalServerError)
		return
	}

	json.NewEncoder(w).Encode(PresenceResponse{
		UserID:    userID,
		Online:    len(instances) > 0,
		Instances: instances,
	})
}

func (s *Server) sendError(w http.ResponseWriter, message string, code int) {
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(ErrorResponse{
		Error:   http.StatusText(code),
		Code:    code,
		Message: message,
	})
}

// corsMiddleware allows any origin; a production deployment would front
// this with a restrictive reverse proxy instead.
func (s *Server) corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
		w.Header().Set("Access-Control-Max-Age", "86400")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) jsonMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		next.ServeHTTP(w, r)
	})
}
