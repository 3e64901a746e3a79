// Command launcher is the desktop entry point: it bootstraps the shared
// settings file, starts the Coordinator/Agent/Web binaries as supervised
// subprocesses, and opens a browser once the Coordinator answers
// healthy, per SPEC_FULL.md §6.8.
package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/lanshare/lanshare/internal/config"
	"github.com/lanshare/lanshare/internal/launcher"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := config.LoadLauncherConfig(os.Getenv("LAUNCHER_CONFIG_FILE"))
	if err != nil {
		log.Fatalf("launcher: config: %v", err)
	}

	if err := launcher.BootstrapSettings(cfg); err != nil {
		log.Fatalf("launcher: bootstrap settings: %v", err)
	}

	binDir := filepath.Dir(os.Args[0])
	supervisor := launcher.NewSupervisor(
		launcher.Process{Name: "coordinator", Path: filepath.Join(binDir, "coordinator"), Args: nil},
		launcher.Process{Name: "agent", Path: filepath.Join(binDir, "agent"), Args: nil},
		launcher.Process{Name: "web", Path: filepath.Join(binDir, "web"), Args: nil},
	)

	if cfg.OpenBrowser {
		go launcher.WaitHealthyThenOpenBrowser(ctx, dialableURL(cfg.CoordinatorListen), dialableURL(cfg.WebListen))
	}

	log.Printf("launcher: supervising coordinator(%s) agent(%s) web(%s)", cfg.CoordinatorListen, cfg.AgentListen, cfg.WebListen)
	supervisor.Run(ctx)
	log.Printf("launcher: shut down")
}

// dialableURL turns a listen address like ":8080" (bind-all-interfaces
// form, unusable as a client dial target on some platforms) into
// "http://localhost:8080".
func dialableURL(listenAddr string) string {
	if len(listenAddr) > 0 && listenAddr[0] == ':' {
		return "http://localhost" + listenAddr
	}
	return "http://" + listenAddr
}
