package acl

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lanshare/lanshare/internal/apierr"
	"github.com/lanshare/lanshare/internal/coordinatordb"
	"github.com/lanshare/lanshare/internal/model"
	"github.com/lanshare/lanshare/internal/permissions"
)

// fakeStore is an in-memory stand-in for coordinatordb.DB, exercising the
// engine's logic without a real SQLite connection.
type fakeStore struct {
	devices    map[string]model.AgentDevice
	shares     map[string]model.Share
	grants     map[string]map[string]model.AclGrant // principalID -> shareID -> grant
	principals []model.Principal
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		devices: map[string]model.AgentDevice{},
		shares:  map[string]model.Share{},
		grants:  map[string]map[string]model.AclGrant{},
	}
}

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

func (f *fakeStore) ListActivePrincipals(ctx context.Context) ([]model.Principal, error) {
	return f.principals, nil
}

func (f *fakeStore) ListSharesByDevice(ctx context.Context, agentDeviceID string) ([]model.Share, error) {
	var out []model.Share
	for _, s := range f.shares {
		if s.AgentDeviceID == agentDeviceID {
			out = append(out, s)
		}
	}
	return out, nil
}

func (f *fakeStore) ListShares(ctx context.Context) ([]model.Share, error) {
	var out []model.Share
	for _, s := range f.shares {
		out = append(out, s)
	}
	return out, nil
}

func TestPermissionsForShareOwnerBypass(t *testing.T) {
	f := newFakeStore()
	f.devices["dev1"] = model.AgentDevice{ID: "dev1", OwnerPrincipalID: "owner"}
	share := model.Share{ID: "share1", AgentDeviceID: "dev1"}
	e := New(f)

	perms, err := e.PermissionsForShare(context.Background(), "owner", share)
	require.NoError(t, err)
	assert.Equal(t, permissions.OwnerSet(), perms)
}

func TestPermissionsForShareNoGrantIsEmpty(t *testing.T) {
	f := newFakeStore()
	f.devices["dev1"] = model.AgentDevice{ID: "dev1", OwnerPrincipalID: "owner"}
	share := model.Share{ID: "share1", AgentDeviceID: "dev1"}
	e := New(f)

	perms, err := e.PermissionsForShare(context.Background(), "stranger", share)
	require.NoError(t, err)
	assert.Empty(t, perms)
}

func TestPermissionsForShareExplicitGrant(t *testing.T) {
	f := newFakeStore()
	f.devices["dev1"] = model.AgentDevice{ID: "dev1", OwnerPrincipalID: "owner"}
	share := model.Share{ID: "share1", AgentDeviceID: "dev1"}
	_, err := f.UpsertAclGrant(context.Background(), model.AclGrant{
		PrincipalID:    "friend",
		ShareID:        "share1",
		PermissionsRaw: permissions.Encode(permissions.NewSet(permissions.Read)),
	})
	require.NoError(t, err)
	e := New(f)

	perms, err := e.PermissionsForShare(context.Background(), "friend", share)
	require.NoError(t, err)
	assert.True(t, perms.Has(permissions.Read))
	assert.False(t, perms.Has(permissions.Download))
}

func TestRequirePermissionDenied(t *testing.T) {
	f := newFakeStore()
	f.devices["dev1"] = model.AgentDevice{ID: "dev1", OwnerPrincipalID: "owner"}
	share := model.Share{ID: "share1", AgentDeviceID: "dev1"}
	e := New(f)

	_, err := e.RequirePermission(context.Background(), "stranger", share, permissions.Read)
	require.Error(t, err)
	apiErr, ok := apierr.As(err)
	require.True(t, ok)
	assert.Equal(t, apierr.Forbidden, apiErr.Kind)
}

func TestPermissionsForSharesBatched(t *testing.T) {
	f := newFakeStore()
	f.devices["dev1"] = model.AgentDevice{ID: "dev1", OwnerPrincipalID: "owner"}
	shareA := model.Share{ID: "a", AgentDeviceID: "dev1"}
	shareB := model.Share{ID: "b", AgentDeviceID: "dev1"}
	_, err := f.UpsertAclGrant(context.Background(), model.AclGrant{
		PrincipalID:    "friend",
		ShareID:        "b",
		PermissionsRaw: permissions.Encode(permissions.NewSet(permissions.Read)),
	})
	require.NoError(t, err)
	e := New(f)

	result, err := e.PermissionsForShares(context.Background(), "friend", []model.Share{shareA, shareB})
	require.NoError(t, err)
	assert.Empty(t, result["a"])
	assert.True(t, result["b"].Has(permissions.Read))
}

func TestEnsureDefaultGrantsForShareSkipsOwnerAndExisting(t *testing.T) {
	f := newFakeStore()
	f.devices["dev1"] = model.AgentDevice{ID: "dev1", OwnerPrincipalID: "owner"}
	share := model.Share{ID: "share1", AgentDeviceID: "dev1"}
	f.principals = []model.Principal{
		{ID: "owner", Status: model.PrincipalActive},
		{ID: "friend", Status: model.PrincipalActive},
		{ID: "already", Status: model.PrincipalActive},
	}
	_, err := f.UpsertAclGrant(context.Background(), model.AclGrant{
		PrincipalID:    "already",
		ShareID:        "share1",
		PermissionsRaw: permissions.Encode(permissions.NewSet(permissions.ManageShare)),
	})
	require.NoError(t, err)
	e := New(f)

	require.NoError(t, e.EnsureDefaultGrantsForShare(context.Background(), share, "owner"))

	assert.Empty(t, f.grants["owner"])
	require.Contains(t, f.grants, "friend")
	assert.Equal(t, permissions.Encode(permissions.DefaultSet()), f.grants["friend"]["share1"].PermissionsRaw)
	assert.Equal(t, permissions.Encode(permissions.NewSet(permissions.ManageShare)), f.grants["already"]["share1"].PermissionsRaw)
}

func TestEnsureDefaultGrantsForPrincipalSkipsOwnedShares(t *testing.T) {
	f := newFakeStore()
	f.devices["dev1"] = model.AgentDevice{ID: "dev1", OwnerPrincipalID: "newcomer"}
	f.devices["dev2"] = model.AgentDevice{ID: "dev2", OwnerPrincipalID: "other"}
	f.shares["share1"] = model.Share{ID: "share1", AgentDeviceID: "dev1"}
	f.shares["share2"] = model.Share{ID: "share2", AgentDeviceID: "dev2"}
	e := New(f)

	require.NoError(t, e.EnsureDefaultGrantsForPrincipal(context.Background(), "newcomer"))

	assert.NotContains(t, f.grants["newcomer"], "share1")
	require.Contains(t, f.grants["newcomer"], "share2")
	assert.Equal(t, permissions.Encode(permissions.DefaultSet()), f.grants["newcomer"]["share2"].PermissionsRaw)
}

func TestGrantPermissionsPreservesCreatedAt(t *testing.T) {
	f := newFakeStore()
	f.devices["dev1"] = model.AgentDevice{ID: "dev1", OwnerPrincipalID: "owner"}
	e := New(f)
	first, err := e.GrantPermissions(context.Background(), "friend", "share1", permissions.NewSet(permissions.Read))
	require.NoError(t, err)

	time.Sleep(time.Millisecond)
	second, err := e.GrantPermissions(context.Background(), "friend", "share1", permissions.NewSet(permissions.Read, permissions.Download))
	require.NoError(t, err)

	assert.Equal(t, first.CreatedAt, second.CreatedAt)
	assert.True(t, second.UpdatedAt.After(first.UpdatedAt) || second.UpdatedAt.Equal(first.UpdatedAt))
}
