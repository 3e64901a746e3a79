// Package agentclient is the Coordinator's outbound client to a single
// Agent's public API: federated search fan-out (implementing
// internal/search.AgentClient) plus standalone helpers for the internal
// registration/heartbeat calls; no binary in this repository calls those
// helpers (cmd/agent registers through internal/coordclient). Grounded on
// _examples/original_source/agent/routers/shares.py (the endpoints
// called) and coordinator_sync.py (the registration/heartbeat shapes,
// mirrored from the agent's perspective).
package agentclient

import (
	"context"
	"encoding/json"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/lanshare/lanshare/internal/search"
)

// NewTransport builds the process-wide pooled transport shared by every
// outbound client, per spec.md §5 (max 120 conns, 60 keep-alive, ~25 s
// keep-alive expiry).
func NewTransport() *http.Transport {
	return &http.Transport{
		MaxIdleConns:        120,
		MaxIdleConnsPerHost: 60,
		IdleConnTimeout:     25 * time.Second,
	}
}

// Client reaches agents over their public HTTP API.
type Client struct {
	httpClient *http.Client
}

// New constructs a Client. transport may be nil, in which case
// NewTransport's defaults are used.
func New(transport *http.Transport) *Client {
	if transport == nil {
		transport = NewTransport()
	}
	return &Client{httpClient: &http.Client{Transport: transport}}
}

type searchResponse struct {
	Items []struct {
		Path  string `json:"path"`
		IsDir bool   `json:"is_dir"`
		Size  int64  `json:"size"`
		MIME  string `json:"mime"`
	} `json:"items"`
}

// Search calls GET {baseURL}/agent/v1/shares/{shareID}/search, satisfying
// internal/search.AgentClient.
func (c *Client) Search(ctx context.Context, baseURL, shareID, readTicket, query string, recursive bool, maxResults int) ([]search.AgentItem, error) {
	endpoint := strings.TrimRight(baseURL, "/") + "/agent/v1/shares/" + shareID + "/search"
	q := url.Values{}
	q.Set("q", query)
	q.Set("recursive", strconv.FormatBool(recursive))
	q.Set("max_results", strconv.Itoa(maxResults))
	q.Set("ticket", readTicket)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint+"?"+q.Encode(), nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return nil, &StatusError{URL: endpoint, StatusCode: resp.StatusCode}
	}

	var body searchResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, err
	}
	items := make([]search.AgentItem, 0, len(body.Items))
	for _, it := range body.Items {
		items = append(items, search.AgentItem{Path: it.Path, IsDir: it.IsDir, Size: it.Size, MIME: it.MIME})
	}
	return items, nil
}

// ListItem is one entry returned by an agent's /shares/{id}/list endpoint.
type ListItem struct {
	Path  string `json:"path"`
	IsDir bool   `json:"is_dir"`
	Size  int64  `json:"size"`
	MIME  string `json:"mime"`
}

type listResponse struct {
	Items []ListItem `json:"items"`
}

// List calls GET {baseURL}/agent/v1/shares/{shareID}/list, used by the
// coordinator's single-share files/list proxy.
func (c *Client) List(ctx context.Context, baseURL, shareID, readTicket, path string) ([]ListItem, error) {
	endpoint := strings.TrimRight(baseURL, "/") + "/agent/v1/shares/" + shareID + "/list"
	q := url.Values{}
	q.Set("path", path)
	q.Set("ticket", readTicket)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint+"?"+q.Encode(), nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return nil, &StatusError{URL: endpoint, StatusCode: resp.StatusCode}
	}

	var body listResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, err
	}
	return body.Items, nil
}

// StatusError reports a non-2xx HTTP response from an agent call.
type StatusError struct {
	URL        string
	StatusCode int
}

func (e *StatusError) Error() string {
	return "agent request to " + e.URL + " failed with status " + strconv.Itoa(e.StatusCode)
}

// RegisterRequest is the body POSTed to the coordinator's internal agent
// registration endpoint.
type RegisterRequest struct {
	AgentDeviceID     string          `json:"agent_device_id"`
	OwnerPrincipalID  string          `json:"owner_principal_id"`
	Name              string          `json:"name"`
	BaseURL           string          `json:"base_url"`
	Visible           bool            `json:"visible"`
	Shares            []RegisterShare `json:"shares"`
}

// RegisterShare is one local share advertised at registration time.
type RegisterShare struct {
	ID       string `json:"share_id"`
	Name     string `json:"name"`
	ReadOnly bool   `json:"read_only"`
}

// Register posts this agent's identity and share list to its
// coordinator, authenticating with the shared agent secret, mirroring
// the original's register_agent (errors are returned, not swallowed; the
// call itself makes a single attempt).
func Register(ctx context.Context, client *http.Client, coordinatorURL, agentSecret string, req RegisterRequest) error {
	body, err := json.Marshal(req)
	if err != nil {
		return err
	}
	endpoint := strings.TrimRight(coordinatorURL, "/") + "/api/v1/internal/agents/register"
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(string(body)))
	if err != nil {
		return err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("x-agent-secret", agentSecret)

	resp, err := client.Do(httpReq)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return &StatusError{URL: endpoint, StatusCode: resp.StatusCode}
	}
	return nil
}

// Heartbeat posts an online=true heartbeat for agentDeviceID, mirroring
// the original's heartbeat(); errors are returned to the caller.
func Heartbeat(ctx context.Context, client *http.Client, coordinatorURL, agentSecret, agentDeviceID string) error {
	endpoint := strings.TrimRight(coordinatorURL, "/") + "/api/v1/internal/agents/" + agentDeviceID + "/heartbeat"
	body := strings.NewReader(`{"online":true}`)
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, body)
	if err != nil {
		return err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("x-agent-secret", agentSecret)

	resp, err := client.Do(httpReq)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return &StatusError{URL: endpoint, StatusCode: resp.StatusCode}
	}
	return nil
}
