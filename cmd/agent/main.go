// Command agent runs the Agent process: the data-plane HTTP API of
// SPEC_FULL.md §8, serving files out of its local shares and staging
// inbound transfers, while keeping the coordinator informed of its
// liveness via a one-time registration followed by periodic heartbeats.
package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/lanshare/lanshare/internal/agentdb"
	"github.com/lanshare/lanshare/internal/coordclient"
	"github.com/lanshare/lanshare/internal/config"
	agenthttp "github.com/lanshare/lanshare/internal/httpapi/agent"
	"github.com/lanshare/lanshare/internal/inbox"
	"github.com/lanshare/lanshare/internal/model"
	"github.com/lanshare/lanshare/internal/ticket"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := config.LoadAgentConfig(os.Getenv("AGENT_CONFIG_FILE"))
	if err != nil {
		log.Fatalf("agent: config: %v", err)
	}

	db, err := agentdb.Open(ctx, cfg.StateDatabaseURL)
	if err != nil {
		log.Fatalf("agent: open database: %v", err)
	}
	defer db.Close()

	if cfg.DefaultShareID != "" {
		if _, err := db.UpsertLocalShare(ctx, model.Share{
			ID:        cfg.DefaultShareID,
			Name:      cfg.DefaultShareName,
			RootPath:  cfg.DefaultShareRoot,
			CreatedAt: time.Now(),
		}); err != nil {
			log.Fatalf("agent: seed default share: %v", err)
		}
	}

	coord := coordclient.New(coordclient.NewTransport(), cfg.CoordinatorURL, cfg.CoordinatorAgentSecret, cfg.AgentDeviceID)
	issuer := ticket.NewIssuer(cfg.CoordinatorSecretKey)
	ib := inbox.New(db, db, coord, issuer, cfg.InboxDir, cfg.UploadChunkMaxBytes)

	srv := agenthttp.New(agenthttp.Deps{Shares: db, Inbox: ib, Issuer: issuer})

	go registerAndHeartbeat(ctx, coord, db, cfg)

	httpServer := &http.Server{
		Addr:    cfg.ListenAddr,
		Handler: srv.Router(),
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = httpServer.Shutdown(shutdownCtx)
	}()

	log.Printf("agent: listening on %s", cfg.ListenAddr)
	if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		log.Fatalf("agent: serve: %v", err)
	}
}

// registerAndHeartbeat announces this agent's shares to the coordinator
// once, then pushes a liveness heartbeat every
// cfg.HeartbeatIntervalSec until ctx is done, logging but otherwise
// ignoring coordinator unreachability (the coordinator already treats a
// stale heartbeat as offline).
func registerAndHeartbeat(ctx context.Context, coord *coordclient.Client, db *agentdb.DB, cfg *config.AgentConfig) {
	shares, err := db.ListLocalShares(ctx)
	if err != nil {
		log.Printf("agent: list local shares for registration: %v", err)
		return
	}
	regShares := make([]coordclient.RegisterShare, 0, len(shares))
	for _, s := range shares {
		shareID := s.ID
		regShares = append(regShares, coordclient.RegisterShare{
			ShareID:  &shareID,
			Name:     s.Name,
			RootPath: s.RootPath,
			ReadOnly: s.ReadOnly,
		})
	}

	deviceID, _, err := coord.Register(ctx, cfg.AgentDeviceID, cfg.OwnerPrincipalID, cfg.AgentName, cfg.PublicBaseURL, true, regShares)
	if err != nil {
		log.Printf("agent: registration failed, continuing with heartbeats only: %v", err)
		deviceID = cfg.AgentDeviceID
	}

	interval := time.Duration(cfg.HeartbeatIntervalSec) * time.Second
	if interval <= 0 {
		interval = 30 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			coord.Heartbeat(context.Background(), deviceID, false)
			return
		case <-ticker.C:
			coord.Heartbeat(ctx, deviceID, true)
		}
	}
}
