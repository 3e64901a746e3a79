// Package coordclient is the Agent process's outbound client to the
// Coordinator's internal API: manifest lookups and transfer item state
// pushes, implementing internal/inbox.CoordinatorClient. Grounded on
// _examples/original_source/agent/services/coordinator_sync.py.
package coordclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/lanshare/lanshare/internal/inbox"
	"github.com/lanshare/lanshare/internal/model"
)

const (
	manifestRequestTimeout = 8 * time.Second
	stateRequestTimeout    = 8 * time.Second
)

// NewTransport builds the process-wide pooled transport shared by every
// outbound client, per spec.md §5's "HTTP clients ... process-wide with
// bounded connection pools (max 120 conns, 60 keep-alive, ~25 s keep-
// alive expiry)".
func NewTransport() *http.Transport {
	return &http.Transport{
		MaxIdleConns:        120,
		MaxIdleConnsPerHost: 60,
		IdleConnTimeout:     25 * time.Second,
	}
}

// Client reaches a single Coordinator over its internal agent API,
// authenticating with the shared agent secret header rather than a
// capability ticket (the original's x-agent-secret/x-agent-device-id).
type Client struct {
	httpClient     *http.Client
	coordinatorURL string
	agentSecret    string
	agentDeviceID  string
}

// New constructs a Client. transport may be nil, in which case
// NewTransport's defaults are used.
func New(transport *http.Transport, coordinatorURL, agentSecret, agentDeviceID string) *Client {
	if transport == nil {
		transport = NewTransport()
	}
	return &Client{
		httpClient:     &http.Client{Transport: transport},
		coordinatorURL: strings.TrimRight(coordinatorURL, "/"),
		agentSecret:    agentSecret,
		agentDeviceID:  agentDeviceID,
	}
}

type manifestResponse struct {
	ReceiverShareID string `json:"receiver_share_id"`
	Filename        string `json:"filename"`
	Size            int64  `json:"size"`
	SHA256          string `json:"sha256"`
}

// FetchTransferItemManifest fetches the manifest the coordinator holds
// for a transfer item. A coordinator 404 (or any transport failure, per
// the original's try/except-then-empty-dict behavior) yields
// (Manifest{}, false, nil) rather than an error, matching the original's
// "best effort, caller decides" contract.
func (c *Client) FetchTransferItemManifest(ctx context.Context, transferID, itemID string) (inbox.Manifest, bool, error) {
	url := c.coordinatorURL + "/api/v1/internal/transfers/" + transferID + "/items/" + itemID
	reqCtx, cancel := context.WithTimeout(ctx, manifestRequestTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, http.MethodGet, url, nil)
	if err != nil {
		return inbox.Manifest{}, false, nil
	}
	req.Header.Set("x-agent-secret", c.agentSecret)
	req.Header.Set("x-agent-device-id", c.agentDeviceID)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return inbox.Manifest{}, false, nil
	}
	defer resp.Body.Close()
	if resp.StatusCode == http.StatusNotFound {
		return inbox.Manifest{}, false, nil
	}
	if resp.StatusCode >= 300 {
		return inbox.Manifest{}, false, nil
	}

	var body manifestResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return inbox.Manifest{}, false, nil
	}
	return inbox.Manifest{
		ReceiverShareID: body.ReceiverShareID,
		Filename:        body.Filename,
		Size:            body.Size,
		SHA256:          body.SHA256,
	}, true, nil
}

// RegisterShare describes one locally-served share to announce on
// registration, mirroring the coordinator's agentRegisterShareBody.
type RegisterShare struct {
	ShareID  *string `json:"share_id,omitempty"`
	Name     string  `json:"name"`
	RootPath string  `json:"root_path"`
	ReadOnly bool    `json:"read_only"`
}

type registerResponse struct {
	AgentDeviceID string   `json:"agent_device_id"`
	ShareIDs      []string `json:"share_ids"`
}

// Register announces this agent and its shares to the coordinator,
// returning the (possibly coordinator-assigned) device ID and the
// resolved share IDs. Mirrors _examples/original_source's agent
// startup registration call against POST /api/v1/internal/agents/register.
func (c *Client) Register(ctx context.Context, deviceID, ownerPrincipalID, name, baseURL string, visible bool, shares []RegisterShare) (string, []string, error) {
	url := c.coordinatorURL + "/api/v1/internal/agents/register"
	reqCtx, cancel := context.WithTimeout(ctx, manifestRequestTimeout)
	defer cancel()

	payload := map[string]any{
		"owner_principal_id": ownerPrincipalID,
		"name":               name,
		"base_url":           baseURL,
		"visible":            visible,
		"shares":             shares,
	}
	if deviceID != "" {
		payload["agent_device_id"] = deviceID
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return "", nil, err
	}

	req, err := http.NewRequestWithContext(reqCtx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return "", nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("x-agent-secret", c.agentSecret)
	req.Header.Set("x-agent-device-id", c.agentDeviceID)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return "", nil, fmt.Errorf("coordinator register: status %d", resp.StatusCode)
	}

	var out registerResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", nil, err
	}
	return out.AgentDeviceID, out.ShareIDs, nil
}

// Heartbeat refreshes this device's liveness window on the coordinator,
// best-effort: transport failures are swallowed, matching
// NotifyTransferItemState's fire-and-forget contract.
func (c *Client) Heartbeat(ctx context.Context, deviceID string, online bool) {
	url := c.coordinatorURL + "/api/v1/internal/agents/" + deviceID + "/heartbeat"
	reqCtx, cancel := context.WithTimeout(ctx, stateRequestTimeout)
	defer cancel()

	body, err := json.Marshal(map[string]bool{"online": online})
	if err != nil {
		return
	}
	req, err := http.NewRequestWithContext(reqCtx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("x-agent-secret", c.agentSecret)
	req.Header.Set("x-agent-device-id", c.agentDeviceID)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return
	}
	resp.Body.Close()
}

// NotifyTransferItemState pushes a state change to the coordinator,
// best-effort: failures are swallowed, matching the original's
// notify_transfer_item_state (logged and ignored, never raised).
func (c *Client) NotifyTransferItemState(ctx context.Context, transferID, itemID string, state model.InboxItemState) {
	url := c.coordinatorURL + "/api/v1/internal/transfers/" + transferID + "/items/" + itemID + "/state"
	reqCtx, cancel := context.WithTimeout(ctx, stateRequestTimeout)
	defer cancel()

	body, err := json.Marshal(map[string]string{"state": string(state)})
	if err != nil {
		return
	}
	req, err := http.NewRequestWithContext(reqCtx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("x-agent-secret", c.agentSecret)
	req.Header.Set("x-agent-device-id", c.agentDeviceID)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return
	}
	resp.Body.Close()
}
