// Package agent is the Agent process's HTTP surface (spec.md §6 "Agent
// HTTP", prefix `/agent/v1`): share browsing/streaming/download and the
// chunked inbox upload pipeline, wiring internal/fileshare and
// internal/inbox onto a gorilla/mux router, grounded on the teacher's
// internal/api/server.go router idiom (same shape as
// internal/httpapi/coordinator.Server).
package agent

import (
	"net/http"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/lanshare/lanshare/internal/agentdb"
	"github.com/lanshare/lanshare/internal/inbox"
	"github.com/lanshare/lanshare/internal/ticket"
)

// Server holds every dependency the agent's handlers close over.
type Server struct {
	shares  *agentdb.DB
	inbox   *inbox.Inbox
	issuer  *ticket.Issuer
	metrics *Metrics
}

// Deps bundles the constructor arguments for New.
type Deps struct {
	Shares *agentdb.DB
	Inbox  *inbox.Inbox
	Issuer *ticket.Issuer
}

// New constructs a Server bound to deps.
func New(deps Deps) *Server {
	return &Server{
		shares:  deps.Shares,
		inbox:   deps.Inbox,
		issuer:  deps.Issuer,
		metrics: NewMetrics(),
	}
}

// corsMiddleware mirrors internal/httpapi/coordinator's open, credential-
// less CORS policy.
func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, x-chunk-offset, x-chunk-last")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// Router builds the full mux.Router for the agent's HTTP API.
func (s *Server) Router() *mux.Router {
	r := mux.NewRouter()
	r.Use(corsMiddleware)
	r.Use(s.metrics.instrument)

	r.HandleFunc("/", s.handleRoot).Methods(http.MethodGet)
	r.Handle("/metrics", promhttp.HandlerFor(s.metrics.Registry, promhttp.HandlerOpts{})).Methods(http.MethodGet)

	shares := r.PathPrefix("/agent/v1/shares").Subrouter()
	shares.HandleFunc("/{share_id}/list", s.handleList).Methods(http.MethodGet)
	shares.HandleFunc("/{share_id}/search", s.handleSearch).Methods(http.MethodGet)
	shares.HandleFunc("/{share_id}/stream", s.handleStream).Methods(http.MethodGet)
	shares.HandleFunc("/{share_id}/download", s.handleDownload).Methods(http.MethodGet)

	transfers := r.PathPrefix("/agent/v1/inbox/transfers").Subrouter()
	transfers.HandleFunc("/{tid}/status", s.handleInboxStatus).Methods(http.MethodGet)
	transfers.HandleFunc("/{tid}/pause", s.handleInboxPause).Methods(http.MethodPost)
	transfers.HandleFunc("/{tid}/resume", s.handleInboxResume).Methods(http.MethodPost)
	transfers.HandleFunc("/{tid}/chunk", s.handleInboxChunk).Methods(http.MethodPost)
	transfers.HandleFunc("/{tid}/commit", s.handleInboxCommit).Methods(http.MethodPost)
	transfers.HandleFunc("/{tid}/finalize", s.handleInboxFinalize).Methods(http.MethodPost)

	return r
}

// handleRoot mirrors the coordinator's discovery signature so a prober
// pointed at an agent's base_url by mistake gets a distinguishable body.
func (s *Server) handleRoot(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"service": "agent", "status": "ok"})
}

func muxVar(r *http.Request, name string) string {
	return mux.Vars(r)[name]
}
