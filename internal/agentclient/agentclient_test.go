package agentclient

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSearchDecodesAgentResponse(t *testing.T) {
	var gotQuery string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotQuery = r.URL.Query().Get("q")
		assert.Equal(t, "tok-123", r.URL.Query().Get("ticket"))
		_ = json.NewEncoder(w).Encode(map[string]any{
			"items": []map[string]any{
				{"path": "docs/report.pdf", "is_dir": false, "size": 2048, "mime": "application/pdf"},
				{"path": "docs", "is_dir": true, "size": 0, "mime": ""},
			},
		})
	}))
	defer srv.Close()

	c := New(nil)
	items, err := c.Search(context.Background(), srv.URL, "share-1", "tok-123", "report", true, 50)
	require.NoError(t, err)
	require.Len(t, items, 2)
	assert.Equal(t, "docs/report.pdf", items[0].Path)
	assert.Equal(t, "report", gotQuery)
}

func TestSearchReturnsStatusErrorOnNon2xx(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	}))
	defer srv.Close()

	c := New(nil)
	_, err := c.Search(context.Background(), srv.URL, "share-1", "tok", "q", false, 10)
	require.Error(t, err)
	var statusErr *StatusError
	require.ErrorAs(t, err, &statusErr)
	assert.Equal(t, http.StatusForbidden, statusErr.StatusCode)
}

func TestRegisterPostsAgentSecretHeader(t *testing.T) {
	var gotSecret string
	var gotBody RegisterRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotSecret = r.Header.Get("x-agent-secret")
		_ = json.NewDecoder(r.Body).Decode(&gotBody)
	}))
	defer srv.Close()

	err := Register(context.Background(), &http.Client{}, srv.URL, "secret-abc", RegisterRequest{
		AgentDeviceID:    "agent-1",
		OwnerPrincipalID: "p1",
		Name:             "my-agent",
		BaseURL:          "http://192.168.1.5:7100",
		Visible:          true,
		Shares:           []RegisterShare{{ID: "s1", Name: "Documents"}},
	})
	require.NoError(t, err)
	assert.Equal(t, "secret-abc", gotSecret)
	assert.Equal(t, "agent-1", gotBody.AgentDeviceID)
	require.Len(t, gotBody.Shares, 1)
}

func TestHeartbeatReturnsErrorOnFailureStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	err := Heartbeat(context.Background(), &http.Client{}, srv.URL, "secret-abc", "agent-1")
	require.Error(t, err)
}
