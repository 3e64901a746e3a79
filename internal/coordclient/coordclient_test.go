package coordclient

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lanshare/lanshare/internal/model"
)

func TestFetchTransferItemManifestDecodesSuccessResponse(t *testing.T) {
	var gotSecret, gotDevice string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotSecret = r.Header.Get("x-agent-secret")
		gotDevice = r.Header.Get("x-agent-device-id")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"receiver_share_id": "share-1",
			"filename":          "report.pdf",
			"size":              1024,
			"sha256":            "abc123",
		})
	}))
	defer srv.Close()

	c := New(nil, srv.URL, "shared-secret", "agent-1")
	manifest, ok, err := c.FetchTransferItemManifest(context.Background(), "t1", "item1")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "share-1", manifest.ReceiverShareID)
	assert.Equal(t, "report.pdf", manifest.Filename)
	assert.Equal(t, int64(1024), manifest.Size)
	assert.Equal(t, "shared-secret", gotSecret)
	assert.Equal(t, "agent-1", gotDevice)
}

func TestFetchTransferItemManifestReturnsNotOkOn404(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	c := New(nil, srv.URL, "shared-secret", "agent-1")
	_, ok, err := c.FetchTransferItemManifest(context.Background(), "t1", "item1")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestFetchTransferItemManifestSwallowsTransportFailure(t *testing.T) {
	c := New(nil, "http://127.0.0.1:1", "shared-secret", "agent-1")
	_, ok, err := c.FetchTransferItemManifest(context.Background(), "t1", "item1")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestNotifyTransferItemStatePostsStateAndIgnoresFailure(t *testing.T) {
	var gotBody map[string]string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewDecoder(r.Body).Decode(&gotBody)
	}))
	defer srv.Close()

	c := New(nil, srv.URL, "shared-secret", "agent-1")
	c.NotifyTransferItemState(context.Background(), "t1", "item1", model.InboxCommitted)
	assert.Equal(t, "committed", gotBody["state"])

	unreachable := New(nil, "http://127.0.0.1:1", "shared-secret", "agent-1")
	unreachable.NotifyTransferItemState(context.Background(), "t1", "item1", model.InboxCommitted)
}
