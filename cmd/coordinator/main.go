// Command coordinator runs the Coordinator process: the control-plane
// HTTP API of SPEC_FULL.md §8, wiring every coordinator-side component
// onto internal/httpapi/coordinator.Server.
package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/lanshare/lanshare/internal/acl"
	"github.com/lanshare/lanshare/internal/agentclient"
	"github.com/lanshare/lanshare/internal/config"
	"github.com/lanshare/lanshare/internal/coordinatordb"
	"github.com/lanshare/lanshare/internal/discovery"
	"github.com/lanshare/lanshare/internal/events"
	coordinatorhttp "github.com/lanshare/lanshare/internal/httpapi/coordinator"
	"github.com/lanshare/lanshare/internal/search"
	"github.com/lanshare/lanshare/internal/ticket"
	"github.com/lanshare/lanshare/internal/transfer"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := config.LoadCoordinatorConfig(os.Getenv("COORDINATOR_CONFIG_FILE"))
	if err != nil {
		log.Fatalf("coordinator: config: %v", err)
	}

	db, err := coordinatordb.Open(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("coordinator: open database: %v", err)
	}
	defer db.Close()

	aclEngine := acl.New(db)
	issuer := ticket.NewIssuer(cfg.SecretKey)
	broker := events.NewBroker()
	orchestrator := transfer.New(db, aclEngine, issuer, broker, cfg.PasscodeWindowSeconds)
	agentClient := agentclient.New(agentclient.NewTransport())
	searchEngine := search.New(db, aclEngine, issuer, agentClient)
	pairing := discovery.NewPairing(db, aclEngine, issuer, time.Duration(cfg.PairingCodeTTLSeconds)*time.Second)

	srv := coordinatorhttp.New(coordinatorhttp.Deps{
		DB:             db,
		ACL:            aclEngine,
		Issuer:         issuer,
		Broker:         broker,
		Orchestrator:   orchestrator,
		Search:         searchEngine,
		Pairing:        pairing,
		Agent:          agentClient,
		AgentSecret:    cfg.AgentSharedSecret,
		AccessTokenTTL: time.Duration(cfg.AccessTokenTTLSeconds) * time.Second,
		EventsWSTTL:    time.Duration(cfg.EventsWSTokenTTLSeconds) * time.Second,
	})

	httpServer := &http.Server{
		Addr:    cfg.ListenAddr,
		Handler: srv.Router(),
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		broker.CloseAll(1001, "coordinator shutting down")
		_ = httpServer.Shutdown(shutdownCtx)
	}()

	log.Printf("coordinator: listening on %s", cfg.ListenAddr)
	if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		log.Fatalf("coordinator: serve: %v", err)
	}
}
