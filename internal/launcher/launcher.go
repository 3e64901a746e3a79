// Package launcher bootstraps a shared settings file, supervises the
// Coordinator/Agent/Web subprocesses, and opens a browser once the
// Coordinator answers healthy, per SPEC_FULL.md §6.8, grounded on the
// teacher's subprocess-free main.go idiom generalized to a 3-process
// supervisor and on _examples/original_source/app.py's browser-auto-open
// timer.
package launcher

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/exec"
	"time"

	"github.com/joho/godotenv"

	"github.com/lanshare/lanshare/internal/config"
	"github.com/lanshare/lanshare/internal/discovery"
)

// defaultSettings seeds a freshly created settings file with the
// minimum secrets every service needs, matching internal/config's
// placeholder-rejection contract (ALLOW_INSECURE_DEFAULTS must be set,
// or the operator must edit these before first real run).
var defaultSettings = map[string]string{
	"COORDINATOR_SECRET_KEY":          "replace-with-secure-key",
	"COORDINATOR_AGENT_SHARED_SECRET": "replace-agent-secret",
}

// BootstrapSettings ensures a settings file exists at cfg.SettingsPath,
// writing defaultSettings if absent, then loads it into the process
// environment so child processes (and this process's own config
// loaders) observe it.
func BootstrapSettings(cfg *config.LauncherConfig) error {
	if _, err := os.Stat(cfg.SettingsPath); os.IsNotExist(err) {
		if err := os.MkdirAll(parentDir(cfg.SettingsPath), 0o755); err != nil {
			return fmt.Errorf("create settings directory: %w", err)
		}
		if err := godotenv.Write(defaultSettings, cfg.SettingsPath); err != nil {
			return fmt.Errorf("write default settings: %w", err)
		}
	} else if err != nil {
		return fmt.Errorf("stat settings file: %w", err)
	}
	if err := godotenv.Load(cfg.SettingsPath); err != nil {
		return fmt.Errorf("load settings file: %w", err)
	}
	return nil
}

func parentDir(path string) string {
	for i := len(path) - 1; i >= 0; i-- {
		if path[i] == '/' {
			return path[:i]
		}
	}
	return "."
}

// Process describes one supervised subprocess binary.
type Process struct {
	Name string
	Path string
	Args []string
}

// Supervisor restarts each configured Process whenever it exits, until
// its context is cancelled.
type Supervisor struct {
	processes []Process
}

func NewSupervisor(processes ...Process) *Supervisor {
	return &Supervisor{processes: processes}
}

// Run launches every process and restarts it on unexpected exit with a
// short backoff, returning once ctx is cancelled and every child has
// been signalled to stop.
func (s *Supervisor) Run(ctx context.Context) {
	done := make(chan struct{}, len(s.processes))
	for _, p := range s.processes {
		p := p
		go func() {
			s.supervise(ctx, p)
			done <- struct{}{}
		}()
	}
	<-ctx.Done()
	for range s.processes {
		<-done
	}
}

func (s *Supervisor) supervise(ctx context.Context, p Process) {
	backoff := time.Second
	for {
		if ctx.Err() != nil {
			return
		}
		cmd := exec.CommandContext(ctx, p.Path, p.Args...)
		cmd.Stdout = os.Stdout
		cmd.Stderr = os.Stderr
		cmd.Env = os.Environ()
		log.Printf("launcher: starting %s", p.Name)
		if err := cmd.Run(); err != nil && ctx.Err() == nil {
			log.Printf("launcher: %s exited: %v, restarting in %s", p.Name, err, backoff)
		}
		if ctx.Err() != nil {
			return
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(backoff):
		}
		if backoff < 15*time.Second {
			backoff *= 2
		}
	}
}

// WaitHealthyThenOpenBrowser polls coordinatorURL with a
// discovery.Prober until it answers as a live coordinator (or ctx is
// done), then best-effort opens a browser at webURL.
func WaitHealthyThenOpenBrowser(ctx context.Context, coordinatorURL, webURL string) {
	client := &http.Client{Timeout: 2 * time.Second}
	prober := discovery.NewProber(client)
	ticker := time.NewTicker(500 * time.Millisecond)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			live := prober.Discover(ctx, discovery.DiscoverOptions{
				SeedHints:  []string{coordinatorURL},
				MaxResults: 1,
				CacheTTL:   time.Millisecond,
			})
			if len(live) > 0 {
				if err := OpenBrowser(webURL); err != nil {
					log.Printf("launcher: failed to open browser: %v", err)
				}
				return
			}
		}
	}
}
