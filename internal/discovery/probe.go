package discovery

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"
)

const (
	defaultProbeTimeout   = 180 * time.Millisecond
	seedProbeTimeoutScale = 1.1
	maxSeedProbeTimeout   = 350 * time.Millisecond
	minSeedProbeTimeout   = 80 * time.Millisecond
	defaultMaxWorkers     = 48
	defaultMaxResults     = 8
	defaultCacheTTL       = 6 * time.Second
)

// Prober probes candidate base URLs for a live coordinator (GET / with a
// JSON body whose "service" field equals "coordinator"), per spec.md
// §4.8, grounded on _examples/original_source/shared/networking.py's
// _coordinator_probe/_probe_coordinator_urls/discover_coordinators.
type Prober struct {
	client *http.Client

	mu       sync.Mutex
	cacheAt  time.Time
	cacheKey string
	cached   []string
}

// NewProber constructs a Prober using client for outbound probes.
// client should be the process-wide pooled HTTP client (SPEC_FULL.md §7).
func NewProber(client *http.Client) *Prober {
	return &Prober{client: client}
}

type coordinatorIdentity struct {
	Service string `json:"service"`
}

// probeOne issues GET url and reports whether it answered as a
// coordinator within timeout.
func (p *Prober) probeOne(ctx context.Context, url string, timeout time.Duration) bool {
	reqCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	req, err := http.NewRequestWithContext(reqCtx, http.MethodGet, url, nil)
	if err != nil {
		return false
	}
	req.Header.Set("Accept", "application/json")
	resp, err := p.client.Do(req)
	if err != nil {
		return false
	}
	defer resp.Body.Close()

	var identity coordinatorIdentity
	if err := json.NewDecoder(resp.Body).Decode(&identity); err != nil {
		return false
	}
	return strings.EqualFold(strings.TrimSpace(identity.Service), "coordinator")
}

// probeMany probes every candidate concurrently (bounded by a weighted
// semaphore, the same fan-out shape internal/search's Run uses),
// returning the distinct live URLs found, capped at maxResults.
func (p *Prober) probeMany(ctx context.Context, candidates []string, timeout time.Duration, maxWorkers, maxResults int, seen map[string]bool) []string {
	if len(candidates) == 0 || maxResults <= 0 {
		return nil
	}
	sem := semaphore.NewWeighted(int64(maxWorkers))
	var mu sync.Mutex
	var discovered []string

	g, gctx := errgroup.WithContext(ctx)
	for _, candidate := range candidates {
		candidate := candidate
		g.Go(func() error {
			if err := sem.Acquire(gctx, 1); err != nil {
				return nil
			}
			defer sem.Release(1)

			mu.Lock()
			full := len(discovered) >= maxResults
			mu.Unlock()
			if full {
				return nil
			}

			if !p.probeOne(gctx, candidate, timeout) {
				return nil
			}
			trimmed := strings.TrimRight(candidate, "/")

			mu.Lock()
			defer mu.Unlock()
			if seen[trimmed] || len(discovered) >= maxResults {
				return nil
			}
			seen[trimmed] = true
			discovered = append(discovered, trimmed)
			return nil
		})
	}
	_ = g.Wait()
	return discovered
}

// DiscoverOptions tunes Discover; zero values fall back to the defaults
// drawn from spec.md §4.8.
type DiscoverOptions struct {
	Port       int
	Timeout    time.Duration
	MaxWorkers int
	MaxResults int
	CacheTTL   time.Duration
	SeedHints  []string
}

// Discover returns the base URLs of every coordinator found reachable on
// the LAN: first by probing the ranked seed list (explicit hints, local
// addresses, localhost), then — if still short of MaxResults — by
// sweeping the local /24 subnets. Results are cached for CacheTTL, keyed
// by the remaining options; SeedHints and CacheTTL are not part of the key.
func (p *Prober) Discover(ctx context.Context, opts DiscoverOptions) []string {
	if opts.Port <= 0 {
		opts.Port = 7000
	}
	if opts.Timeout <= 0 {
		opts.Timeout = defaultProbeTimeout
	}
	if opts.MaxWorkers <= 0 {
		opts.MaxWorkers = defaultMaxWorkers
	}
	if opts.MaxResults <= 0 {
		opts.MaxResults = defaultMaxResults
	}
	if opts.CacheTTL <= 0 {
		opts.CacheTTL = defaultCacheTTL
	}

	key := cacheKeyFor(opts)
	if cached, ok := p.cacheLookup(key, opts.CacheTTL); ok {
		return cached
	}

	seen := map[string]bool{}
	var discovered []string

	seedURLs := CoordinatorSeedURLs(opts.SeedHints, opts.Port)
	seedProbeURLs := make([]string, len(seedURLs))
	for i, u := range seedURLs {
		seedProbeURLs[i] = strings.TrimRight(u, "/") + "/"
	}
	seedTimeout := time.Duration(float64(opts.Timeout) * seedProbeTimeoutScale)
	if seedTimeout > maxSeedProbeTimeout {
		seedTimeout = maxSeedProbeTimeout
	}
	if seedTimeout < minSeedProbeTimeout {
		seedTimeout = minSeedProbeTimeout
	}
	seedWorkers := opts.MaxWorkers
	if seedWorkers > 24 {
		seedWorkers = 24
	}
	discovered = append(discovered, p.probeMany(ctx, seedProbeURLs, seedTimeout, seedWorkers, opts.MaxResults, seen)...)

	if len(discovered) < opts.MaxResults {
		knownHosts := map[string]bool{}
		for _, u := range append(append([]string{}, discovered...), seedURLs...) {
			knownHosts[hostOf(u)] = true
		}
		var scanURLs []string
		for _, host := range SubnetSweepHosts() {
			if knownHosts[host] {
				continue
			}
			scanURLs = append(scanURLs, "http://"+host+":"+intToStr(opts.Port)+"/")
		}
		remaining := opts.MaxResults - len(discovered)
		discovered = append(discovered, p.probeMany(ctx, scanURLs, opts.Timeout, opts.MaxWorkers, remaining, seen)...)
	}

	ranked := rankedByHost(discovered)
	if len(ranked) > opts.MaxResults {
		ranked = ranked[:opts.MaxResults]
	}
	p.cacheStore(key, ranked)
	return ranked
}

func cacheKeyFor(opts DiscoverOptions) string {
	return intToStr(opts.Port) + "|" + opts.Timeout.String() + "|" + intToStr(opts.MaxWorkers) + "|" + intToStr(opts.MaxResults)
}

func (p *Prober) cacheLookup(key string, ttl time.Duration) ([]string, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.cacheKey != key || p.cached == nil {
		return nil, false
	}
	if time.Since(p.cacheAt) >= ttl {
		return nil, false
	}
	out := make([]string, len(p.cached))
	copy(out, p.cached)
	return out, true
}

func (p *Prober) cacheStore(key string, urls []string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.cacheKey = key
	p.cacheAt = time.Now()
	p.cached = append([]string{}, urls...)
}
