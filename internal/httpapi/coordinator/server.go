// Package coordinator is the Coordinator process's HTTP surface
// (spec.md §6 "Coordinator HTTP"), wiring every coordinator-side
// component (C1 ticket issuer, C2 ACL engine, C4 event broker, C5
// transfer orchestrator, C6 search engine, C8 pairing) onto a
// gorilla/mux router, grounded on the teacher's
// internal/api/server.go router/CORS idiom.
package coordinator

import (
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/lanshare/lanshare/internal/acl"
	"github.com/lanshare/lanshare/internal/agentclient"
	"github.com/lanshare/lanshare/internal/coordinatordb"
	"github.com/lanshare/lanshare/internal/discovery"
	"github.com/lanshare/lanshare/internal/events"
	"github.com/lanshare/lanshare/internal/search"
	"github.com/lanshare/lanshare/internal/ticket"
	"github.com/lanshare/lanshare/internal/transfer"
)

// Server holds every dependency the coordinator's handlers close over.
type Server struct {
	db           *coordinatordb.DB
	acl          *acl.Engine
	issuer       *ticket.Issuer
	broker       *events.Broker
	orchestrator *transfer.Orchestrator
	search       *search.Engine
	pairing      *discovery.Pairing
	agent        *agentclient.Client
	agentSecret  string

	accessTokenTTL time.Duration
	eventsWSTTL    time.Duration
	metrics        *Metrics
}

// Deps bundles the constructor arguments for New, one field per wired
// component.
type Deps struct {
	DB           *coordinatordb.DB
	ACL          *acl.Engine
	Issuer       *ticket.Issuer
	Broker       *events.Broker
	Orchestrator *transfer.Orchestrator
	Search       *search.Engine
	Pairing      *discovery.Pairing
	Agent        *agentclient.Client
	AgentSecret  string

	AccessTokenTTL time.Duration
	EventsWSTTL    time.Duration
}

// New constructs a Server bound to deps.
func New(deps Deps) *Server {
	if deps.AccessTokenTTL <= 0 {
		deps.AccessTokenTTL = ticket.TTLClientAccess
	}
	if deps.EventsWSTTL <= 0 {
		deps.EventsWSTTL = ticket.TTLEventsWS
	}
	if deps.Agent == nil {
		deps.Agent = agentclient.New(nil)
	}
	return &Server{
		db:             deps.DB,
		acl:            deps.ACL,
		issuer:         deps.Issuer,
		broker:         deps.Broker,
		orchestrator:   deps.Orchestrator,
		search:         deps.Search,
		pairing:        deps.Pairing,
		agent:          deps.Agent,
		agentSecret:    deps.AgentSecret,
		accessTokenTTL: deps.AccessTokenTTL,
		eventsWSTTL:    deps.EventsWSTTL,
		metrics:        NewMetrics(),
	}
}

// corsMiddleware mirrors the teacher's server.go CORS handling: an
// open, credential-less policy appropriate for a LAN-local control
// plane with no browser cookie auth.
func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization, x-agent-secret, x-agent-device-id")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// Router builds the full mux.Router for the coordinator's HTTP API.
func (s *Server) Router() *mux.Router {
	r := mux.NewRouter()
	r.Use(corsMiddleware)
	r.Use(s.metrics.instrument)

	r.HandleFunc("/", s.handleRoot).Methods(http.MethodGet)
	r.Handle("/metrics", promhttp.HandlerFor(s.metrics.Registry, promhttp.HandlerOpts{})).Methods(http.MethodGet)

	api := r.PathPrefix("/api/v1").Subrouter()
	api.HandleFunc("/pairing/start", s.handlePairingStart).Methods(http.MethodPost)
	api.HandleFunc("/pairing/confirm", s.authRequired(s.handlePairingConfirm)).Methods(http.MethodPost)
	api.HandleFunc("/auth/token", s.handleAuthToken).Methods(http.MethodPost)
	api.HandleFunc("/auth/me", s.authRequired(s.handleAuthMe)).Methods(http.MethodGet)

	api.HandleFunc("/catalog/devices", s.authRequired(s.handleListDevices)).Methods(http.MethodGet)
	api.HandleFunc("/catalog/devices/{id}/visibility", s.authRequired(s.handleSetVisibility)).Methods(http.MethodPost)
	api.HandleFunc("/catalog/shares", s.authRequired(s.handleListShares)).Methods(http.MethodGet)

	api.HandleFunc("/files/list", s.authRequired(s.handleFilesList)).Methods(http.MethodGet)
	api.HandleFunc("/files/search", s.authRequired(s.handleFilesSearch)).Methods(http.MethodGet)

	api.HandleFunc("/transfers", s.authRequired(s.handleCreateTransfer)).Methods(http.MethodPost)
	api.HandleFunc("/transfers", s.authRequired(s.handleListTransfers)).Methods(http.MethodGet)
	api.HandleFunc("/transfers/history/clear", s.authRequired(s.handleClearHistory)).Methods(http.MethodPost)
	api.HandleFunc("/transfers/pending/cancel", s.authRequired(s.handleCancelPending)).Methods(http.MethodPost)
	api.HandleFunc("/transfers/{id}", s.authRequired(s.handleGetTransfer)).Methods(http.MethodGet)
	api.HandleFunc("/transfers/{id}/approve", s.authRequired(s.handleApproveTransfer)).Methods(http.MethodPost)
	api.HandleFunc("/transfers/{id}/reject", s.authRequired(s.handleRejectTransfer)).Methods(http.MethodPost)
	api.HandleFunc("/transfers/{id}/passcode/open", s.authRequired(s.handleOpenPasscode)).Methods(http.MethodPost)

	api.HandleFunc("/events/token", s.authRequired(s.handleEventsToken)).Methods(http.MethodGet)
	api.HandleFunc("/events/ws", s.handleEventsWS)

	internal := api.PathPrefix("/internal").Subrouter()
	internal.HandleFunc("/agents/register", s.agentSecretRequired(s.handleAgentRegister)).Methods(http.MethodPost)
	internal.HandleFunc("/agents/{device_id}/heartbeat", s.agentSecretRequired(s.handleAgentHeartbeat)).Methods(http.MethodPost)
	internal.HandleFunc("/transfers/{tid}/items/{iid}/state", s.agentSecretRequired(s.handleInternalItemState)).Methods(http.MethodPost)
	internal.HandleFunc("/transfers/{tid}/items/{iid}", s.agentDeviceIDRequired(s.handleInternalItemManifest)).Methods(http.MethodGet)

	return r
}

// handleRoot is the discovery signature every internal/discovery.Prober
// probe recognizes, per spec.md §6.
func (s *Server) handleRoot(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"service": "coordinator", "status": "ok"})
}

// NewAgentSearchClient builds the agentclient.Client the search engine
// fans out through, exposed here so cmd/coordinator can wire it without
// importing internal/agentclient directly into more than one place.
func NewAgentSearchClient() search.AgentClient {
	return agentclient.New(agentclient.NewTransport())
}
