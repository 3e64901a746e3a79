// Package tests exercises the Coordinator and Agent HTTP surfaces
// together in-process: bootstrap a principal, register an agent and its
// share, list files through the coordinator's proxy, then fetch the
// file straight from the agent using the coordinator-minted read
// ticket — the same request shape a client performs per SPEC_FULL.md §6.8
// (pairing) and §8 (files.list/agent proxy).
package tests

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/lanshare/lanshare/internal/acl"
	"github.com/lanshare/lanshare/internal/agentclient"
	"github.com/lanshare/lanshare/internal/agentdb"
	"github.com/lanshare/lanshare/internal/coordinatordb"
	"github.com/lanshare/lanshare/internal/discovery"
	"github.com/lanshare/lanshare/internal/events"
	agenthttp "github.com/lanshare/lanshare/internal/httpapi/agent"
	coordinatorhttp "github.com/lanshare/lanshare/internal/httpapi/coordinator"
	"github.com/lanshare/lanshare/internal/inbox"
	"github.com/lanshare/lanshare/internal/model"
	"github.com/lanshare/lanshare/internal/search"
	"github.com/lanshare/lanshare/internal/ticket"
	"github.com/lanshare/lanshare/internal/transfer"
)

const agentSharedSecret = "e2e-agent-secret"

// noopCoordClient satisfies internal/inbox.CoordinatorClient; the happy
// path below never stages an inbound transfer, so every method is
// unreachable and just needs to exist to construct inbox.New.
type noopCoordClient struct{}

func (noopCoordClient) FetchTransferItemManifest(ctx context.Context, transferID, itemID string) (inbox.Manifest, bool, error) {
	return inbox.Manifest{}, false, nil
}

func (noopCoordClient) NotifyTransferItemState(ctx context.Context, transferID, itemID string, state model.InboxItemState) {
}

// newAgentServer starts an in-process agent with a populated file but no
// share registered yet — the coordinator assigns the share ID on
// registration, so the caller must register the local share with that
// ID afterward via db.UpsertLocalShare.
func newAgentServer(t *testing.T) (*httptest.Server, *agentdb.DB, string) {
	t.Helper()
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "report.txt"), []byte("quarterly numbers"), 0o644))

	db, err := agentdb.Open(context.Background(), ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	issuer := ticket.NewIssuer("coordinator-secret")
	ib := inbox.New(db, db, noopCoordClient{}, issuer, filepath.Join(dir, ".inbox"), 0)
	srv := agenthttp.New(agenthttp.Deps{Shares: db, Inbox: ib, Issuer: issuer})
	ts := httptest.NewServer(srv.Router())
	t.Cleanup(ts.Close)
	return ts, db, dir
}

func newCoordinatorServer(t *testing.T) *httptest.Server {
	t.Helper()
	db, err := coordinatordb.Open(context.Background(), ":memory:")
	require.NoError(t, err)
	t.Cleanup(db.Close)

	aclEngine := acl.New(db)
	issuer := ticket.NewIssuer("coordinator-secret")
	broker := events.NewBroker()
	orchestrator := transfer.New(db, aclEngine, issuer, broker, 120)
	agentClient := agentclient.New(agentclient.NewTransport())
	searchEngine := search.New(db, aclEngine, issuer, agentClient)
	pairing := discovery.NewPairing(db, aclEngine, issuer, 10*time.Minute)

	srv := coordinatorhttp.New(coordinatorhttp.Deps{
		DB:           db,
		ACL:          aclEngine,
		Issuer:       issuer,
		Broker:       broker,
		Orchestrator: orchestrator,
		Search:       searchEngine,
		Pairing:      pairing,
		Agent:        agentClient,
		AgentSecret:  agentSharedSecret,
	})
	ts := httptest.NewServer(srv.Router())
	t.Cleanup(ts.Close)
	return ts
}

func mustJSON(t *testing.T, v any) []byte {
	t.Helper()
	b, err := json.Marshal(v)
	require.NoError(t, err)
	return b
}

func doRequest(t *testing.T, method, url, bearer, agentSecret string, body any) *http.Response {
	t.Helper()
	var req *http.Request
	var err error
	if body != nil {
		req, err = http.NewRequest(method, url, bytes.NewReader(mustJSON(t, body)))
		req.Header.Set("Content-Type", "application/json")
	} else {
		req, err = http.NewRequest(method, url, nil)
	}
	require.NoError(t, err)
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}
	if agentSecret != "" {
		req.Header.Set("x-agent-secret", agentSecret)
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	return resp
}

func decodeBody(t *testing.T, resp *http.Response, out any) {
	t.Helper()
	defer resp.Body.Close()
	require.NoError(t, json.NewDecoder(resp.Body).Decode(out))
}

// TestCoordinatorAgentHappyPath bootstraps the first principal,
// registers an agent device with one share against the coordinator, then
// lists and downloads that share's file through the coordinator's
// files.list proxy followed by a direct agent fetch of the returned
// download_url — the full read path SPEC_FULL.md §6.8/§8 describe.
func TestCoordinatorAgentHappyPath(t *testing.T) {
	agentTS, agentDB, agentDir := newAgentServer(t)
	coordTS := newCoordinatorServer(t)

	var bootstrap struct {
		Bootstrap   bool   `json:"bootstrap"`
		PrincipalID string `json:"principal_id"`
		AccessToken string `json:"access_token"`
	}
	resp := doRequest(t, http.MethodPost, coordTS.URL+"/api/v1/pairing/start", "", "", map[string]string{
		"display_name": "Alice",
		"device_name":  "alice-laptop",
		"platform":     "linux",
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	decodeBody(t, resp, &bootstrap)
	require.True(t, bootstrap.Bootstrap)
	require.NotEmpty(t, bootstrap.AccessToken)

	var registered struct {
		AgentDeviceID string   `json:"agent_device_id"`
		ShareIDs      []string `json:"share_ids"`
	}
	resp = doRequest(t, http.MethodPost, coordTS.URL+"/api/v1/internal/agents/register", "", agentSharedSecret, map[string]any{
		"owner_principal_id": bootstrap.PrincipalID,
		"name":               "home-desktop",
		"base_url":           agentTS.URL,
		"visible":            true,
		"shares": []map[string]any{
			{"name": "Documents", "root_path": "/", "read_only": true},
		},
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	decodeBody(t, resp, &registered)
	require.Len(t, registered.ShareIDs, 1)

	_, err := agentDB.UpsertLocalShare(context.Background(), model.Share{
		ID:       registered.ShareIDs[0],
		Name:     "Documents",
		RootPath: agentDir,
	})
	require.NoError(t, err)

	hbResp := doRequest(t, http.MethodPost, coordTS.URL+"/api/v1/internal/agents/"+registered.AgentDeviceID+"/heartbeat", "", agentSharedSecret, map[string]bool{"online": true})
	require.Equal(t, http.StatusOK, hbResp.StatusCode)
	hbResp.Body.Close()

	type listedItem struct {
		Path        string `json:"path"`
		IsDir       bool   `json:"is_dir"`
		DownloadURL string `json:"download_url"`
	}
	var listing struct {
		Items []listedItem `json:"items"`
	}
	listURL := coordTS.URL + "/api/v1/files/list?device_id=" + registered.AgentDeviceID + "&share_id=" + registered.ShareIDs[0]
	resp = doRequest(t, http.MethodGet, listURL, bootstrap.AccessToken, "", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	decodeBody(t, resp, &listing)

	var fileEntry *listedItem
	for i := range listing.Items {
		if listing.Items[i].Path == "report.txt" {
			fileEntry = &listing.Items[i]
		}
	}
	require.NotNil(t, fileEntry, "expected report.txt in listing")
	require.NotEmpty(t, fileEntry.DownloadURL)

	downloadResp, err := http.Get(fileEntry.DownloadURL)
	require.NoError(t, err)
	defer downloadResp.Body.Close()
	require.Equal(t, http.StatusOK, downloadResp.StatusCode)
	var buf [64]byte
	n, _ := downloadResp.Body.Read(buf[:])
	require.Equal(t, "quarterly numbers", string(buf[:n]))
}
