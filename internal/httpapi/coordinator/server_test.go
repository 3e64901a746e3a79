package coordinator

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/lanshare/lanshare/internal/acl"
	"github.com/lanshare/lanshare/internal/agentclient"
	"github.com/lanshare/lanshare/internal/coordinatordb"
	"github.com/lanshare/lanshare/internal/discovery"
	"github.com/lanshare/lanshare/internal/events"
	"github.com/lanshare/lanshare/internal/search"
	"github.com/lanshare/lanshare/internal/ticket"
	"github.com/lanshare/lanshare/internal/transfer"
)

func newTestServer(t *testing.T) (*Server, *coordinatordb.DB) {
	t.Helper()
	db, err := coordinatordb.Open(context.Background(), ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	aclEngine := acl.New(db)
	issuer := ticket.NewIssuer("test-secret")
	broker := events.NewBroker()
	orchestrator := transfer.New(db, aclEngine, issuer, broker, 0)
	searchEngine := search.New(db, aclEngine, issuer, agentclient.New(nil))
	pairing := discovery.NewPairing(db, aclEngine, issuer, 0)

	srv := New(Deps{
		DB:           db,
		ACL:          aclEngine,
		Issuer:       issuer,
		Broker:       broker,
		Orchestrator: orchestrator,
		Search:       searchEngine,
		Pairing:      pairing,
		AgentSecret:  "agent-secret",
	})
	return srv, db
}

func doJSON(t *testing.T, router http.Handler, method, path, token string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func TestRootReturnsDiscoverySignature(t *testing.T) {
	srv, _ := newTestServer(t)
	rec := doJSON(t, srv.Router(), http.MethodGet, "/", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var body map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Equal(t, "coordinator", body["service"])
	require.Equal(t, "ok", body["status"])
}

func TestPairingBootstrapAndAuthTokenRoundTrip(t *testing.T) {
	srv, _ := newTestServer(t)
	router := srv.Router()

	rec := doJSON(t, router, http.MethodPost, "/api/v1/pairing/start", "", map[string]any{
		"display_name": "Ada",
		"device_name":  "Laptop",
		"platform":     "linux",
	})
	require.Equal(t, http.StatusOK, rec.Code)
	var start map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &start))
	require.Equal(t, true, start["bootstrap"])
	principalID := start["principal_id"].(string)
	clientDeviceID := start["client_device_id"].(string)
	deviceSecret := start["device_secret"].(string)
	require.NotEmpty(t, start["access_token"])

	rec = doJSON(t, router, http.MethodPost, "/api/v1/auth/token", "", map[string]any{
		"principal_id":     principalID,
		"client_device_id": clientDeviceID,
		"device_secret":    deviceSecret,
	})
	require.Equal(t, http.StatusOK, rec.Code)
	var tokenResp map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &tokenResp))
	accessToken := tokenResp["access_token"].(string)
	require.NotEmpty(t, accessToken)

	rec = doJSON(t, router, http.MethodGet, "/api/v1/auth/me", accessToken, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var me map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &me))
	principal := me["principal"].(map[string]any)
	require.Equal(t, principalID, principal["id"])
}

func TestAuthTokenRejectsWrongSecret(t *testing.T) {
	srv, _ := newTestServer(t)
	router := srv.Router()

	rec := doJSON(t, router, http.MethodPost, "/api/v1/pairing/start", "", map[string]any{
		"display_name": "Ada",
		"device_name":  "Laptop",
		"platform":     "linux",
	})
	var start map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &start))

	rec = doJSON(t, router, http.MethodPost, "/api/v1/auth/token", "", map[string]any{
		"principal_id":     start["principal_id"],
		"client_device_id": start["client_device_id"],
		"device_secret":    "wrong-secret",
	})
	require.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestAuthRequiredRejectsMissingBearer(t *testing.T) {
	srv, _ := newTestServer(t)
	rec := doJSON(t, srv.Router(), http.MethodGet, "/api/v1/auth/me", "", nil)
	require.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestAgentRegisterRequiresAgentSecret(t *testing.T) {
	srv, _ := newTestServer(t)
	router := srv.Router()

	req := httptest.NewRequest(http.MethodPost, "/api/v1/internal/agents/register", bytes.NewBufferString(`{}`))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	require.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestAgentRegisterAndListDevices(t *testing.T) {
	srv, _ := newTestServer(t)
	router := srv.Router()

	startRec := doJSON(t, router, http.MethodPost, "/api/v1/pairing/start", "", map[string]any{
		"display_name": "Ada",
		"device_name":  "Laptop",
		"platform":     "linux",
	})
	var start map[string]any
	require.NoError(t, json.Unmarshal(startRec.Body.Bytes(), &start))
	accessToken := start["access_token"].(string)
	principalID := start["principal_id"].(string)

	body, _ := json.Marshal(map[string]any{
		"owner_principal_id": principalID,
		"name":                "Ada's Desktop",
		"base_url":            "http://192.168.1.5:8765/",
		"visible":             true,
		"shares": []map[string]any{
			{"name": "Photos", "root_path": "/srv/photos", "read_only": true},
		},
	})
	req := httptest.NewRequest(http.MethodPost, "/api/v1/internal/agents/register", bytes.NewReader(body))
	req.Header.Set("x-agent-secret", "agent-secret")
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)
	var registerResp map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &registerResp))
	require.NotEmpty(t, registerResp["agent_device_id"])

	rec = doJSON(t, router, http.MethodGet, "/api/v1/catalog/devices", accessToken, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var devicesResp map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &devicesResp))
	devices := devicesResp["devices"].([]any)
	require.Len(t, devices, 1)
	device := devices[0].(map[string]any)
	require.Equal(t, true, device["owner"])

	rec = doJSON(t, router, http.MethodGet, "/api/v1/catalog/shares", accessToken, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var sharesResp map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &sharesResp))
	shares := sharesResp["shares"].([]any)
	require.Len(t, shares, 1)
}
