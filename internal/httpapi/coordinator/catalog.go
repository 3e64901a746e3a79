package coordinator

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/lanshare/lanshare/internal/apierr"
	"github.com/lanshare/lanshare/internal/coordinatordb"
	"github.com/lanshare/lanshare/internal/model"
)

type deviceView struct {
	ID         string  `json:"id"`
	Name       string  `json:"name"`
	BaseURL    string  `json:"base_url"`
	Visibility bool    `json:"visibility"`
	Online     bool    `json:"online"`
	LastSeen   *string `json:"last_seen,omitempty"`
	Owner      bool    `json:"owner"`
}

// handleListDevices lists agent devices visible to the caller: every
// device the caller owns, plus every device with visibility=true,
// mirroring catalog.py's list_devices filter.
func (s *Server) handleListDevices(w http.ResponseWriter, r *http.Request) {
	c, _ := callerFrom(r.Context())
	devices, err := s.db.ListAgentDevices(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	now := time.Now()
	out := make([]deviceView, 0, len(devices))
	for _, d := range devices {
		owner := d.OwnerPrincipalID == c.PrincipalID
		if !d.Visibility && !owner {
			continue
		}
		out = append(out, deviceView{
			ID:         d.ID,
			Name:       d.Name,
			BaseURL:    d.BaseURL,
			Visibility: d.Visibility,
			Online:     d.IsOnline(now),
			LastSeen:   formatOptionalTime(d.LastSeen),
			Owner:      owner,
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{"devices": out})
}

type visibilityBody struct {
	Visible bool `json:"visible"`
}

// handleSetVisibility toggles an agent device's catalog visibility;
// owner-only, per catalog.py's set_visibility.
func (s *Server) handleSetVisibility(w http.ResponseWriter, r *http.Request) {
	c, _ := callerFrom(r.Context())
	deviceID := muxVar(r, "id")

	dev, err := s.db.GetAgentDevice(r.Context(), deviceID)
	if errors.Is(err, coordinatordb.ErrNotFound) {
		writeError(w, apierr.New(apierr.NotFound, "device not found"))
		return
	}
	if err != nil {
		writeError(w, err)
		return
	}
	if dev.OwnerPrincipalID != c.PrincipalID {
		writeError(w, apierr.New(apierr.Forbidden, "not the device owner"))
		return
	}

	var body visibilityBody
	if err := decodeJSON(r, &body); err != nil {
		writeError(w, err)
		return
	}
	if err := s.db.SetAgentDeviceVisibility(r.Context(), deviceID, body.Visible); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"id": deviceID, "visible": body.Visible})
}

type shareView struct {
	ID            string   `json:"id"`
	AgentDeviceID string   `json:"agent_device_id"`
	Name          string   `json:"name"`
	ReadOnly      bool     `json:"read_only"`
	Permissions   []string `json:"permissions"`
}

// handleListShares lists every share the caller has at least one
// permission on (owned or explicitly granted), further filtered to
// devices visible to the caller, mirroring catalog.py's list_shares.
func (s *Server) handleListShares(w http.ResponseWriter, r *http.Request) {
	c, _ := callerFrom(r.Context())
	ctx := r.Context()

	devices, err := s.db.ListAgentDevices(ctx)
	if err != nil {
		writeError(w, err)
		return
	}
	visibleDevices := make(map[string]bool, len(devices))
	for _, d := range devices {
		if d.Visibility || d.OwnerPrincipalID == c.PrincipalID {
			visibleDevices[d.ID] = true
		}
	}

	shares, err := s.db.ListShares(ctx)
	if err != nil {
		writeError(w, err)
		return
	}
	var candidates []model.Share
	for _, sh := range shares {
		if visibleDevices[sh.AgentDeviceID] {
			candidates = append(candidates, sh)
		}
	}

	permsByShare, err := s.acl.PermissionsForShares(ctx, c.PrincipalID, candidates)
	if err != nil {
		writeError(w, err)
		return
	}

	out := make([]shareView, 0, len(candidates))
	for _, sh := range candidates {
		perms := permsByShare[sh.ID]
		if len(perms) == 0 {
			continue
		}
		out = append(out, shareView{
			ID:            sh.ID,
			AgentDeviceID: sh.AgentDeviceID,
			Name:          sh.Name,
			ReadOnly:      sh.ReadOnly,
			Permissions:   perms.Sorted(),
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{"shares": out})
}

type agentRegisterShareBody struct {
	ShareID  *string `json:"share_id,omitempty"`
	Name     string  `json:"name"`
	RootPath string  `json:"root_path"`
	ReadOnly bool    `json:"read_only"`
}

type agentRegisterBody struct {
	AgentDeviceID   *string                  `json:"agent_device_id,omitempty"`
	OwnerPrincipalID string                  `json:"owner_principal_id"`
	Name            string                   `json:"name"`
	BaseURL         string                   `json:"base_url"`
	Visible         bool                     `json:"visible"`
	Shares          []agentRegisterShareBody `json:"shares"`
}

// handleAgentRegister upserts an AgentDevice and its shares, creating
// default grants for brand-new shares, mirroring catalog.py's
// register_agent. Gated on agentSecretRequired.
func (s *Server) handleAgentRegister(w http.ResponseWriter, r *http.Request) {
	var body agentRegisterBody
	if err := decodeJSON(r, &body); err != nil {
		writeError(w, err)
		return
	}
	ctx := r.Context()
	now := time.Now()

	dev := model.AgentDevice{
		OwnerPrincipalID: body.OwnerPrincipalID,
		Name:             body.Name,
		BaseURL:          strings.TrimSuffix(body.BaseURL, "/"),
		Visibility:       body.Visible,
		OnlineState:      true,
		LastSeen:         &now,
	}
	if body.AgentDeviceID != nil {
		dev.ID = *body.AgentDeviceID
	}
	dev, err := s.db.UpsertAgentDevice(ctx, dev)
	if err != nil {
		writeError(w, err)
		return
	}

	shareIDs := make([]string, 0, len(body.Shares))
	for _, sb := range body.Shares {
		if sb.ShareID != nil {
			if existing, err := s.db.GetShare(ctx, *sb.ShareID); err == nil && existing.AgentDeviceID == dev.ID {
				existing.Name = sb.Name
				existing.RootPath = sb.RootPath
				existing.ReadOnly = sb.ReadOnly
				if err := s.db.UpdateShare(ctx, existing); err != nil {
					writeError(w, err)
					return
				}
				shareIDs = append(shareIDs, existing.ID)
				continue
			}
		}
		created, err := s.db.CreateShare(ctx, model.Share{
			AgentDeviceID: dev.ID,
			Name:          sb.Name,
			RootPath:      sb.RootPath,
			ReadOnly:      sb.ReadOnly,
			CreatedAt:     now,
		})
		if err != nil {
			writeError(w, err)
			return
		}
		if err := s.acl.EnsureDefaultGrantsForShare(ctx, created, dev.OwnerPrincipalID); err != nil {
			writeError(w, err)
			return
		}
		shareIDs = append(shareIDs, created.ID)
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"agent_device_id": dev.ID,
		"share_ids":       shareIDs,
	})
}

type agentHeartbeatBody struct {
	Online bool `json:"online"`
}

// handleAgentHeartbeat refreshes an agent device's liveness window.
func (s *Server) handleAgentHeartbeat(w http.ResponseWriter, r *http.Request) {
	deviceID := muxVar(r, "device_id")
	var body agentHeartbeatBody
	if err := decodeJSON(r, &body); err != nil {
		writeError(w, err)
		return
	}
	if err := s.db.HeartbeatAgentDevice(r.Context(), deviceID, body.Online, time.Now()); err != nil {
		if errors.Is(err, coordinatordb.ErrNotFound) {
			writeError(w, apierr.New(apierr.NotFound, "device not found"))
			return
		}
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

func formatOptionalTime(t *time.Time) *string {
	if t == nil {
		return nil
	}
	s := t.UTC().Format(time.RFC3339)
	return &s
}
