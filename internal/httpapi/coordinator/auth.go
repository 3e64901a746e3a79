package coordinator

import (
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/mux"

	"github.com/lanshare/lanshare/internal/apierr"
	"github.com/lanshare/lanshare/internal/discovery"
	"github.com/lanshare/lanshare/internal/model"
	"github.com/lanshare/lanshare/internal/ticket"
)

// authRequired verifies a client_access bearer token and attaches the
// resolved caller to the request context, per spec.md §4.1.
func (s *Server) authRequired(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		header := r.Header.Get("Authorization")
		const prefix = "Bearer "
		if !strings.HasPrefix(header, prefix) {
			writeError(w, apierr.New(apierr.AuthMissing, "missing bearer token"))
			return
		}
		tok := strings.TrimPrefix(header, prefix)
		claims, err := s.issuer.Verify(tok, ticket.KindClientAccess, time.Now(), nil)
		if err != nil {
			writeError(w, apierr.Wrap(apierr.AuthInvalid, "invalid access token", err))
			return
		}
		ctx := withCaller(r.Context(), caller{PrincipalID: claims.PrincipalID, ClientDeviceID: claims.ClientDeviceID})
		next(w, r.WithContext(ctx))
	}
}

// agentSecretRequired gates the internal agent-facing routes on the
// shared secret header, mirroring catalog.py's _require_agent_secret.
func (s *Server) agentSecretRequired(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("x-agent-secret") != s.agentSecret {
			writeError(w, apierr.New(apierr.AuthInvalid, "invalid agent secret"))
			return
		}
		next(w, r)
	}
}

// agentDeviceIDRequired additionally requires x-agent-device-id, used by
// the item-manifest route whose handler binds the claimed device id
// against the transfer's receiver_device_id.
func (s *Server) agentDeviceIDRequired(next http.HandlerFunc) http.HandlerFunc {
	return s.agentSecretRequired(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("x-agent-device-id") == "" {
			writeError(w, apierr.New(apierr.AuthMissing, "missing x-agent-device-id"))
			return
		}
		next(w, r)
	})
}

type pairingStartBody struct {
	DisplayName string  `json:"display_name"`
	DeviceName  string  `json:"device_name"`
	Platform    string  `json:"platform"`
	PublicKey   *string `json:"public_key,omitempty"`
}

func (s *Server) handlePairingStart(w http.ResponseWriter, r *http.Request) {
	var body pairingStartBody
	if err := decodeJSON(r, &body); err != nil {
		writeError(w, err)
		return
	}
	result, err := s.pairing.Start(r.Context(), discovery.StartRequest{
		DisplayName: body.DisplayName,
		DeviceName:  body.DeviceName,
		Platform:    body.Platform,
		PublicKey:   body.PublicKey,
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, pairingResultPayload(result))
}

type pairingConfirmBody struct {
	PendingPairingID string `json:"pending_pairing_id"`
	PairingCode      string `json:"pairing_code"`
}

func (s *Server) handlePairingConfirm(w http.ResponseWriter, r *http.Request) {
	c, _ := callerFrom(r.Context())
	var body pairingConfirmBody
	if err := decodeJSON(r, &body); err != nil {
		writeError(w, err)
		return
	}
	result, err := s.pairing.Confirm(r.Context(), c.PrincipalID, discovery.ConfirmRequest{
		PendingPairingID: body.PendingPairingID,
		PairingCode:      body.PairingCode,
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, pairingResultPayload(result))
}

func pairingResultPayload(result discovery.StartResult) map[string]any {
	if result.Bootstrap || result.AccessToken != "" {
		return map[string]any{
			"bootstrap":        result.Bootstrap,
			"principal_id":     result.PrincipalID,
			"client_device_id": result.ClientDeviceID,
			"access_token":     result.AccessToken,
			"device_secret":    result.DeviceSecret,
		}
	}
	return map[string]any{
		"bootstrap":          false,
		"pending_pairing_id": result.PendingPairingID,
		"pairing_code":       result.PairingCode,
		"expires_at":         result.ExpiresAt,
	}
}

type authTokenBody struct {
	PrincipalID    string `json:"principal_id"`
	ClientDeviceID string `json:"client_device_id"`
	DeviceSecret   string `json:"device_secret"`
}

// handleAuthToken exchanges (principal_id, client_device_id,
// device_secret) for a client_access token, per
// _examples/original_source/coordinator/routers/auth.py.
func (s *Server) handleAuthToken(w http.ResponseWriter, r *http.Request) {
	var body authTokenBody
	if err := decodeJSON(r, &body); err != nil {
		writeError(w, err)
		return
	}
	ctx := r.Context()
	principal, err := s.db.GetPrincipal(ctx, body.PrincipalID)
	if err != nil || principal.Status != model.PrincipalActive {
		writeError(w, apierr.New(apierr.AuthInvalid, "invalid principal or device"))
		return
	}
	device, err := s.db.GetClientDevice(ctx, body.ClientDeviceID)
	if err != nil || device.Status != model.PrincipalActive || device.PrincipalID != principal.ID {
		writeError(w, apierr.New(apierr.AuthInvalid, "invalid principal or device"))
		return
	}
	if !discovery.VerifySecret(device.DeviceSecretHash, body.DeviceSecret) {
		writeError(w, apierr.New(apierr.AuthInvalid, "invalid device credentials"))
		return
	}

	now := time.Now()
	_ = s.db.TouchClientDevice(ctx, device.ID, now)

	tok, err := s.issuer.Issue(ticket.Claims{
		Kind:           ticket.KindClientAccess,
		PrincipalID:    principal.ID,
		ClientDeviceID: device.ID,
	}, s.accessTokenTTL, now)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"access_token":     tok,
		"expires_in":       int(s.accessTokenTTL.Seconds()),
		"principal_id":     principal.ID,
		"client_device_id": device.ID,
	})
}

func (s *Server) handleAuthMe(w http.ResponseWriter, r *http.Request) {
	c, _ := callerFrom(r.Context())
	ctx := r.Context()
	principal, err := s.db.GetPrincipal(ctx, c.PrincipalID)
	if err != nil {
		writeError(w, apierr.New(apierr.AuthInvalid, "unknown caller"))
		return
	}
	device, err := s.db.GetClientDevice(ctx, c.ClientDeviceID)
	if err != nil {
		writeError(w, apierr.New(apierr.AuthInvalid, "unknown caller"))
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"principal": map[string]any{
			"id":           principal.ID,
			"display_name": principal.DisplayName,
			"status":       principal.Status,
		},
		"client_device": map[string]any{
			"id":        device.ID,
			"name":      device.Name,
			"platform":  device.Platform,
			"status":    device.Status,
			"last_seen": device.LastSeen,
		},
	})
}

// muxVar is a thin wrapper so handler files don't import gorilla/mux
// directly for the common "path variable" case.
func muxVar(r *http.Request, name string) string {
	return mux.Vars(r)[name]
}
