// Package search implements federated search (C6): a bounded worker-pool
// fan-out across agent shares under a global deadline, grounded on
// _examples/original_source/coordinator/routers/files.py. The original's
// ThreadPoolExecutor fan-out is translated to golang.org/x/sync/errgroup
// with a golang.org/x/sync/semaphore.Weighted bounding concurrent outbound
// agent calls, following the teacher's internal/ghostpool "bounded pool
// with acquire/release" shape.
package search

import (
	"context"
	"sort"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"github.com/lanshare/lanshare/internal/acl"
	"github.com/lanshare/lanshare/internal/model"
	"github.com/lanshare/lanshare/internal/permissions"
	"github.com/lanshare/lanshare/internal/ticket"
)

const (
	MaxShares          = 200
	MaxResultsPerShare = 1000
	MaxResultsTotal    = 5000
	MinTimeoutBudgetMS = 500
	MaxTimeoutBudgetMS = 20000

	maxConcurrentAgentCalls int64 = 16
	agentCallTimeout        = 12 * time.Second
)

// AgentClient is the outbound surface used to reach a single agent,
// implemented by internal/agentclient against the real HTTP API and
// stubbed in tests.
type AgentClient interface {
	Search(ctx context.Context, baseURL, shareID, readTicket, query string, recursive bool, maxResults int) ([]AgentItem, error)
}

// AgentItem is one file/directory entry as reported by an agent's
// /search endpoint, before coordinator-side annotation.
type AgentItem struct {
	Path  string
	IsDir bool
	Size  int64
	MIME  string
}

// ResultItem is a single merged, annotated search hit.
type ResultItem struct {
	Path        string
	IsDir       bool
	Size        int64
	MIME        string
	DeviceID    string
	ShareID     string
	ShareName   string
	DeviceName  string
	StreamURL   string
	DownloadURL string
}

// AccessDescriptor is emitted per-share in compact mode instead of
// per-item stream/download URLs, per spec.md §4.6 item 4.
type AccessDescriptor struct {
	DeviceID      string
	ShareID       string
	AgentBaseURL  string
	Ticket        string
	Permissions   []string
	CanDownload   bool
	ExpiresInSecs int
}

// ShareError records a per-share failure without failing the whole
// search, per spec.md §4.6 step 3.
type ShareError struct {
	DeviceID string
	ShareID  string
	Error    string
}

// Request is one federated-search call.
type Request struct {
	PrincipalID      string
	Query            string
	BasePath         string
	Recursive        bool
	MaxShares        int
	MaxResultsPerShare int
	MaxResultsTotal  int
	TimeoutBudgetMS  int
	Compact          bool
}

// Result is the merged outcome of a federated search.
type Result struct {
	Items     []ResultItem
	AccessMap []AccessDescriptor
	Errors    []ShareError
	Truncated bool
}

// Store is the coordinatordb surface the search engine depends on.
type Store interface {
	ListShares(ctx context.Context) ([]model.Share, error)
	GetAgentDevice(ctx context.Context, id string) (model.AgentDevice, error)
}

// Engine runs federated search over every online, readable share.
type Engine struct {
	store  Store
	acl    *acl.Engine
	issuer *ticket.Issuer
	client AgentClient
}

func New(store Store, aclEngine *acl.Engine, issuer *ticket.Issuer, client AgentClient) *Engine {
	return &Engine{store: store, acl: aclEngine, issuer: issuer, client: client}
}

func clampRequest(req Request) Request {
	if req.MaxShares <= 0 || req.MaxShares > MaxShares {
		req.MaxShares = MaxShares
	}
	if req.MaxResultsPerShare <= 0 || req.MaxResultsPerShare > MaxResultsPerShare {
		req.MaxResultsPerShare = MaxResultsPerShare
	}
	if req.MaxResultsTotal <= 0 || req.MaxResultsTotal > MaxResultsTotal {
		req.MaxResultsTotal = MaxResultsTotal
	}
	if req.TimeoutBudgetMS < MinTimeoutBudgetMS {
		req.TimeoutBudgetMS = MinTimeoutBudgetMS
	}
	if req.TimeoutBudgetMS > MaxTimeoutBudgetMS {
		req.TimeoutBudgetMS = MaxTimeoutBudgetMS
	}
	return req
}

type candidateShare struct {
	device model.AgentDevice
	share  model.Share
}

// eligibleShares implements step 1: enumerate every share visible to the
// caller that is online and grants read, capped at max_shares.
func (e *Engine) eligibleShares(ctx context.Context, req Request, now time.Time) ([]candidateShare, error) {
	all, err := e.store.ListShares(ctx)
	if err != nil {
		return nil, err
	}
	var out []candidateShare
	deviceCache := make(map[string]model.AgentDevice)
	for _, s := range all {
		dev, ok := deviceCache[s.AgentDeviceID]
		if !ok {
			dev, err = e.store.GetAgentDevice(ctx, s.AgentDeviceID)
			if err != nil {
				continue
			}
			deviceCache[s.AgentDeviceID] = dev
		}
		if !dev.IsOnline(now) {
			continue
		}
		perms, err := e.acl.PermissionsForShare(ctx, req.PrincipalID, s)
		if err != nil {
			continue
		}
		if !perms.Has(permissions.Read) {
			continue
		}
		out = append(out, candidateShare{device: dev, share: s})
		if len(out) >= req.MaxShares {
			break
		}
	}
	return out, nil
}

type shareOutcome struct {
	share   candidateShare
	items   []AgentItem
	perms   permissions.Set
	ticket  string
	err     error
}

// Run executes steps 1-5 of spec.md §4.6.
func (e *Engine) Run(ctx context.Context, req Request) (Result, error) {
	req = clampRequest(req)
	now := time.Now()

	candidates, err := e.eligibleShares(ctx, req, now)
	if err != nil {
		return Result{}, err
	}

	deadline := time.Duration(req.TimeoutBudgetMS) * time.Millisecond
	fanoutCtx, cancel := context.WithTimeout(ctx, deadline)
	defer cancel()

	grp, grpCtx := errgroup.WithContext(fanoutCtx)
	sem := semaphore.NewWeighted(maxConcurrentAgentCalls)
	outcomes := make([]shareOutcome, len(candidates))

	for i, cand := range candidates {
		i, cand := i, cand
		grp.Go(func() error {
			if err := sem.Acquire(grpCtx, 1); err != nil {
				outcomes[i] = shareOutcome{share: cand, err: err}
				return nil // per-share failure, not fatal to the group
			}
			defer sem.Release(1)

			perms, err := e.acl.PermissionsForShare(grpCtx, req.PrincipalID, cand.share)
			if err != nil {
				outcomes[i] = shareOutcome{share: cand, err: err}
				return nil
			}

			tok, err := e.issuer.Issue(ticket.Claims{
				Kind:        ticket.KindReadTicket,
				PrincipalID: req.PrincipalID,
				ShareID:     cand.share.ID,
				Permissions: perms.Sorted(),
			}, ticket.TTLFor(ticket.KindReadTicket), now)
			if err != nil {
				outcomes[i] = shareOutcome{share: cand, err: err}
				return nil
			}

			callCtx, callCancel := context.WithTimeout(grpCtx, agentCallTimeout)
			defer callCancel()
			items, err := e.client.Search(callCtx, cand.device.BaseURL, cand.share.ID, tok, req.Query, req.Recursive, req.MaxResultsPerShare)
			outcomes[i] = shareOutcome{share: cand, items: items, perms: perms, ticket: tok, err: err}
			return nil
		})
	}
	_ = grp.Wait()

	truncated := fanoutCtx.Err() != nil

	var result Result
	for _, oc := range outcomes {
		if oc.share.share.ID == "" {
			continue // slot never assigned (shouldn't happen, defensive)
		}
		if oc.err != nil {
			result.Errors = append(result.Errors, ShareError{
				DeviceID: oc.share.device.ID,
				ShareID:  oc.share.share.ID,
				Error:    oc.err.Error(),
			})
			continue
		}
		if req.Compact {
			result.AccessMap = append(result.AccessMap, AccessDescriptor{
				DeviceID:      oc.share.device.ID,
				ShareID:       oc.share.share.ID,
				AgentBaseURL:  oc.share.device.BaseURL,
				Ticket:        oc.ticket,
				Permissions:   oc.perms.Sorted(),
				CanDownload:   oc.perms.Has(permissions.Download),
				ExpiresInSecs: int(ticket.TTLFor(ticket.KindReadTicket).Seconds()),
			})
		}
		for _, item := range oc.items {
			ri := ResultItem{
				Path:       item.Path,
				IsDir:      item.IsDir,
				Size:       item.Size,
				MIME:       item.MIME,
				DeviceID:   oc.share.device.ID,
				ShareID:    oc.share.share.ID,
				ShareName:  oc.share.share.Name,
				DeviceName: oc.share.device.Name,
			}
			if !req.Compact {
				ri.StreamURL = streamURL(oc.share.device.BaseURL, oc.share.share.ID, item.Path, oc.ticket)
				if oc.perms.Has(permissions.Download) {
					ri.DownloadURL = downloadURL(oc.share.device.BaseURL, oc.share.share.ID, item.Path, oc.ticket)
				}
			}
			result.Items = append(result.Items, ri)
		}
	}

	sort.Slice(result.Items, func(i, j int) bool {
		a, b := result.Items[i], result.Items[j]
		if a.IsDir != b.IsDir {
			return a.IsDir // dirs first
		}
		return strings.ToLower(a.Path) < strings.ToLower(b.Path)
	})
	if len(result.Items) > req.MaxResultsTotal {
		result.Items = result.Items[:req.MaxResultsTotal]
		truncated = true
	}
	result.Truncated = truncated
	return result, nil
}

func streamURL(baseURL, shareID, path, tok string) string {
	return baseURL + "/agent/v1/shares/" + shareID + "/stream?path=" + pathEscape(path) + "&ticket=" + tok
}

func downloadURL(baseURL, shareID, path, tok string) string {
	return baseURL + "/agent/v1/shares/" + shareID + "/download?path=" + pathEscape(path) + "&ticket=" + tok
}

func pathEscape(p string) string {
	return strings.ReplaceAll(strings.ReplaceAll(p, "%", "%25"), " ", "%20")
}
