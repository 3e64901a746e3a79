// Package acl implements the ACL engine (C2): owner-bypass-first
// permission resolution over the coordinator's acl_grants table, plus
// default-grant materialization on principal bootstrap and share
// creation.
package acl

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/lanshare/lanshare/internal/apierr"
	"github.com/lanshare/lanshare/internal/coordinatordb"
	"github.com/lanshare/lanshare/internal/model"
	"github.com/lanshare/lanshare/internal/permissions"
)

// Store is the subset of coordinatordb.DB the engine depends on.
type Store interface {
	GetAgentDevice(ctx context.Context, id string) (model.AgentDevice, error)
	GetAclGrant(ctx context.Context, principalID, shareID string) (model.AclGrant, error)
	ListAclGrantsForShares(ctx context.Context, principalID string, shareIDs []string) (map[string]model.AclGrant, error)
	UpsertAclGrant(ctx context.Context, g model.AclGrant) (model.AclGrant, error)
	ListActivePrincipals(ctx context.Context) ([]model.Principal, error)
	ListSharesByDevice(ctx context.Context, agentDeviceID string) ([]model.Share, error)
	ListShares(ctx context.Context) ([]model.Share, error)
}

// Engine resolves and materializes permissions, grounded on the original
// acl.py service module.
type Engine struct {
	store Store
}

func New(store Store) *Engine {
	return &Engine{store: store}
}

// PermissionsForShare resolves principalID's permission set on share,
// applying owner bypass before falling back to an explicit grant (or the
// empty set if none exists), per spec.md §4.2.
func (e *Engine) PermissionsForShare(ctx context.Context, principalID string, share model.Share) (permissions.Set, error) {
	owner, err := e.ownerOf(ctx, share)
	if err != nil {
		return nil, err
	}
	if owner == principalID {
		return permissions.OwnerSet(), nil
	}
	grant, err := e.store.GetAclGrant(ctx, principalID, share.ID)
	if err != nil {
		if err == coordinatordb.ErrNotFound {
			return permissions.Set{}, nil
		}
		return nil, err
	}
	return permissions.Decode(grant.PermissionsRaw), nil
}

// PermissionsForShares batch-resolves principalID's permission set across
// many shares in one round trip, mirroring get_permissions_for_shares.
func (e *Engine) PermissionsForShares(ctx context.Context, principalID string, shares []model.Share) (map[string]permissions.Set, error) {
	result := make(map[string]permissions.Set, len(shares))
	if len(shares) == 0 {
		return result, nil
	}

	ownerByShare := make(map[string]string, len(shares))
	deviceCache := make(map[string]string)
	var nonOwnedIDs []string
	for _, s := range shares {
		owner, ok := deviceCache[s.AgentDeviceID]
		if !ok {
			dev, err := e.store.GetAgentDevice(ctx, s.AgentDeviceID)
			if err != nil {
				return nil, err
			}
			owner = dev.OwnerPrincipalID
			deviceCache[s.AgentDeviceID] = owner
		}
		ownerByShare[s.ID] = owner
		if owner != principalID {
			nonOwnedIDs = append(nonOwnedIDs, s.ID)
		}
	}

	grantMap, err := e.store.ListAclGrantsForShares(ctx, principalID, nonOwnedIDs)
	if err != nil {
		return nil, err
	}

	for _, s := range shares {
		if ownerByShare[s.ID] == principalID {
			result[s.ID] = permissions.OwnerSet()
			continue
		}
		if g, ok := grantMap[s.ID]; ok {
			result[s.ID] = permissions.Decode(g.PermissionsRaw)
		} else {
			result[s.ID] = permissions.Set{}
		}
	}
	return result, nil
}

// RequirePermission resolves principalID's permissions on share and
// returns an apierr PermissionDenied if perm is absent, mirroring
// require_permission's 403 HTTPException.
func (e *Engine) RequirePermission(ctx context.Context, principalID string, share model.Share, perm permissions.Permission) (permissions.Set, error) {
	perms, err := e.PermissionsForShare(ctx, principalID, share)
	if err != nil {
		return nil, err
	}
	if !perms.Has(perm) {
		return nil, apierr.New(apierr.Forbidden, "permission denied")
	}
	return perms, nil
}

// GrantPermissions upserts principalID's explicit grant on shareID,
// overwriting any prior explicit set, mirroring grant_permissions.
func (e *Engine) GrantPermissions(ctx context.Context, principalID, shareID string, perms permissions.Set) (model.AclGrant, error) {
	now := time.Now()
	existing, err := e.store.GetAclGrant(ctx, principalID, shareID)
	createdAt := now
	if err == nil {
		createdAt = existing.CreatedAt
	} else if err != coordinatordb.ErrNotFound {
		return model.AclGrant{}, err
	}
	return e.store.UpsertAclGrant(ctx, model.AclGrant{
		ID:             uuid.NewString(),
		PrincipalID:    principalID,
		ShareID:        shareID,
		PermissionsRaw: permissions.Encode(perms),
		CreatedAt:      createdAt,
		UpdatedAt:      now,
	})
}

// EnsureDefaultGrantsForShare materializes a DefaultSet grant for every
// active principal other than the owner that doesn't already have an
// explicit grant on share, mirroring ensure_default_grants_for_share.
func (e *Engine) EnsureDefaultGrantsForShare(ctx context.Context, share model.Share, ownerPrincipalID string) error {
	principals, err := e.store.ListActivePrincipals(ctx)
	if err != nil {
		return err
	}
	now := time.Now()
	for _, p := range principals {
		if p.ID == ownerPrincipalID {
			continue
		}
		if _, err := e.store.GetAclGrant(ctx, p.ID, share.ID); err == nil {
			continue
		} else if err != coordinatordb.ErrNotFound {
			return err
		}
		if _, err := e.store.UpsertAclGrant(ctx, model.AclGrant{
			ID:             uuid.NewString(),
			PrincipalID:    p.ID,
			ShareID:        share.ID,
			PermissionsRaw: permissions.Encode(permissions.DefaultSet()),
			CreatedAt:      now,
			UpdatedAt:      now,
		}); err != nil {
			return err
		}
	}
	return nil
}

// EnsureDefaultGrantsForPrincipal materializes a DefaultSet grant for
// principalID on every share it doesn't own and doesn't already have an
// explicit grant on, mirroring ensure_default_grants_for_principal — run
// once when a new Principal is bootstrapped.
func (e *Engine) EnsureDefaultGrantsForPrincipal(ctx context.Context, principalID string) error {
	shares, err := e.store.ListShares(ctx)
	if err != nil {
		return err
	}
	now := time.Now()
	deviceCache := make(map[string]string)
	for _, s := range shares {
		owner, ok := deviceCache[s.AgentDeviceID]
		if !ok {
			dev, err := e.store.GetAgentDevice(ctx, s.AgentDeviceID)
			if err != nil {
				return err
			}
			owner = dev.OwnerPrincipalID
			deviceCache[s.AgentDeviceID] = owner
		}
		if owner == principalID {
			continue
		}
		if _, err := e.store.GetAclGrant(ctx, principalID, s.ID); err == nil {
			continue
		} else if err != coordinatordb.ErrNotFound {
			return err
		}
		if _, err := e.store.UpsertAclGrant(ctx, model.AclGrant{
			ID:             uuid.NewString(),
			PrincipalID:    principalID,
			ShareID:        s.ID,
			PermissionsRaw: permissions.Encode(permissions.DefaultSet()),
			CreatedAt:      now,
			UpdatedAt:      now,
		}); err != nil {
			return err
		}
	}
	return nil
}

func (e *Engine) ownerOf(ctx context.Context, share model.Share) (string, error) {
	dev, err := e.store.GetAgentDevice(ctx, share.AgentDeviceID)
	if err != nil {
		return "", err
	}
	return dev.OwnerPrincipalID, nil
}
