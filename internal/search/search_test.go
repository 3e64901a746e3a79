package search

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lanshare/lanshare/internal/acl"
	"github.com/lanshare/lanshare/internal/coordinatordb"
	"github.com/lanshare/lanshare/internal/model"
	"github.com/lanshare/lanshare/internal/permissions"
	"github.com/lanshare/lanshare/internal/ticket"
)

type fakeStore struct {
	devices map[string]model.AgentDevice
	shares  []model.Share
	grants  map[string]map[string]model.AclGrant
}

func newFakeStore() *fakeStore {
	return &fakeStore{devices: map[string]model.AgentDevice{}, grants: map[string]map[string]model.AclGrant{}}
}

func (f *fakeStore) ListShares(ctx context.Context) ([]model.Share, error) { return f.shares, nil }

func (f *fakeStore) GetAgentDevice(ctx context.Context, id string) (model.AgentDevice, error) {
	d, ok := f.devices[id]
	if !ok {
		return model.AgentDevice{}, coordinatordb.ErrNotFound
	}
	return d, nil
}

func (f *fakeStore) GetAclGrant(ctx context.Context, principalID, shareID string) (model.AclGrant, error) {
	if m, ok := f.grants[principalID]; ok {
		if g, ok := m[shareID]; ok {
			return g, nil
		}
	}
	return model.AclGrant{}, coordinatordb.ErrNotFound
}

func (f *fakeStore) ListAclGrantsForShares(ctx context.Context, principalID string, shareIDs []string) (map[string]model.AclGrant, error) {
	out := map[string]model.AclGrant{}
	m := f.grants[principalID]
	for _, id := range shareIDs {
		if g, ok := m[id]; ok {
			out[id] = g
		}
	}
	return out, nil
}

func (f *fakeStore) UpsertAclGrant(ctx context.Context, g model.AclGrant) (model.AclGrant, error) {
	if f.grants[g.PrincipalID] == nil {
		f.grants[g.PrincipalID] = map[string]model.AclGrant{}
	}
	f.grants[g.PrincipalID][g.ShareID] = g
	return g, nil
}

func (f *fakeStore) ListActivePrincipals(ctx context.Context) ([]model.Principal, error) { return nil, nil }

func (f *fakeStore) ListSharesByDevice(ctx context.Context, agentDeviceID string) ([]model.Share, error) {
	var out []model.Share
	for _, s := range f.shares {
		if s.AgentDeviceID == agentDeviceID {
			out = append(out, s)
		}
	}
	return out, nil
}

// fakeAgentClient simulates each configured share's agent, optionally
// hanging past the caller's deadline to exercise the timeout path.
type fakeAgentClient struct {
	hangShares map[string]bool
	itemsByShare map[string][]AgentItem
}

func (c *fakeAgentClient) Search(ctx context.Context, baseURL, shareID, readTicket, query string, recursive bool, maxResults int) ([]AgentItem, error) {
	if c.hangShares[shareID] {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	return c.itemsByShare[shareID], nil
}

func onlineDevice(id, owner string) model.AgentDevice {
	now := time.Now()
	return model.AgentDevice{ID: id, OwnerPrincipalID: owner, Name: id, BaseURL: "http://" + id, Visibility: true, OnlineState: true, LastSeen: &now}
}

func TestFederatedSearchMergesAndSortsResults(t *testing.T) {
	f := newFakeStore()
	f.devices["ag1"] = onlineDevice("ag1", "alice")
	f.devices["ag2"] = onlineDevice("ag2", "alice")
	shareA := model.Share{ID: "a", AgentDeviceID: "ag1", Name: "shareA"}
	shareB := model.Share{ID: "b", AgentDeviceID: "ag2", Name: "shareB"}
	f.shares = []model.Share{shareA, shareB}
	f.grants["bob"] = map[string]model.AclGrant{
		"a": {PrincipalID: "bob", ShareID: "a", PermissionsRaw: permissions.Encode(permissions.NewSet(permissions.Read))},
		"b": {PrincipalID: "bob", ShareID: "b", PermissionsRaw: permissions.Encode(permissions.NewSet(permissions.Read, permissions.Download))},
	}

	client := &fakeAgentClient{itemsByShare: map[string][]AgentItem{
		"a": {{Path: "zebra.txt"}, {Path: "apple.txt"}},
		"b": {{Path: "docs", IsDir: true}},
	}}
	e := New(f, acl.New(f), ticket.NewIssuer("s"), client)

	result, err := e.Run(context.Background(), Request{PrincipalID: "bob", Query: "x", TimeoutBudgetMS: 2000})
	require.NoError(t, err)
	require.Len(t, result.Items, 3)
	assert.True(t, result.Items[0].IsDir) // dirs first
	assert.Equal(t, "apple.txt", result.Items[1].Path)
	assert.Equal(t, "zebra.txt", result.Items[2].Path)
	assert.Empty(t, result.Errors)
	assert.False(t, result.Truncated)

	for _, it := range result.Items {
		if it.ShareID == "b" {
			assert.NotEmpty(t, it.DownloadURL)
		}
		if it.ShareID == "a" {
			assert.Empty(t, it.DownloadURL) // no download permission on share a
		}
	}
}

func TestFederatedSearchSkipsOfflineAndUnreadableShares(t *testing.T) {
	f := newFakeStore()
	offline := model.AgentDevice{ID: "ag1", OwnerPrincipalID: "alice", BaseURL: "http://ag1", OnlineState: false}
	f.devices["ag1"] = offline
	f.devices["ag2"] = onlineDevice("ag2", "alice")
	f.shares = []model.Share{
		{ID: "offline-share", AgentDeviceID: "ag1"},
		{ID: "no-read-share", AgentDeviceID: "ag2"},
	}
	// bob has no grant at all on either share, and ag1 is offline regardless.
	client := &fakeAgentClient{itemsByShare: map[string][]AgentItem{
		"offline-share": {{Path: "should-not-appear.txt"}},
		"no-read-share": {{Path: "should-not-appear-either.txt"}},
	}}
	e := New(f, acl.New(f), ticket.NewIssuer("s"), client)

	result, err := e.Run(context.Background(), Request{PrincipalID: "bob", Query: "x", TimeoutBudgetMS: 2000})
	require.NoError(t, err)
	assert.Empty(t, result.Items)
}

func TestFederatedSearchTimeoutMarksTruncated(t *testing.T) {
	f := newFakeStore()
	f.devices["ag1"] = onlineDevice("ag1", "alice")
	f.devices["ag2"] = onlineDevice("ag2", "alice")
	f.devices["ag3"] = onlineDevice("ag3", "alice")
	f.shares = []model.Share{
		{ID: "fast1", AgentDeviceID: "ag1"},
		{ID: "fast2", AgentDeviceID: "ag2"},
		{ID: "hung", AgentDeviceID: "ag3"},
	}
	for _, sid := range []string{"fast1", "fast2", "hung"} {
		f.grants["bob"] = mergeGrant(f.grants["bob"], sid)
	}

	client := &fakeAgentClient{
		hangShares:   map[string]bool{"hung": true},
		itemsByShare: map[string][]AgentItem{"fast1": {{Path: "one.txt"}}, "fast2": {{Path: "two.txt"}}},
	}
	e := New(f, acl.New(f), ticket.NewIssuer("s"), client)

	start := time.Now()
	result, err := e.Run(context.Background(), Request{PrincipalID: "bob", Query: "x", TimeoutBudgetMS: 500})
	elapsed := time.Since(start)
	require.NoError(t, err)
	assert.True(t, result.Truncated)
	assert.Len(t, result.Items, 2)
	assert.Less(t, elapsed, 2*time.Second)
}

func mergeGrant(m map[string]model.AclGrant, shareID string) map[string]model.AclGrant {
	if m == nil {
		m = map[string]model.AclGrant{}
	}
	m[shareID] = model.AclGrant{ShareID: shareID, PermissionsRaw: permissions.Encode(permissions.NewSet(permissions.Read))}
	return m
}

func TestClampRequestAppliesCapsAndBounds(t *testing.T) {
	req := clampRequest(Request{MaxShares: 10000, MaxResultsPerShare: -1, MaxResultsTotal: 0, TimeoutBudgetMS: 100000})
	assert.Equal(t, MaxShares, req.MaxShares)
	assert.Equal(t, MaxResultsPerShare, req.MaxResultsPerShare)
	assert.Equal(t, MaxResultsTotal, req.MaxResultsTotal)
	assert.Equal(t, MaxTimeoutBudgetMS, req.TimeoutBudgetMS)
}
