package coordinator

import (
	"net/http"

	"github.com/lanshare/lanshare/internal/model"
)

type itemStateBody struct {
	State string `json:"state"`
}

// handleInternalItemState accepts an agent's push of a transfer item's
// new state, values shared verbatim between model.InboxItemState (the
// agent's local name) and model.ItemState (the coordinator's), per
// coordclient.NotifyTransferItemState.
func (s *Server) handleInternalItemState(w http.ResponseWriter, r *http.Request) {
	var body itemStateBody
	if err := decodeJSON(r, &body); err != nil {
		writeError(w, err)
		return
	}
	itemID := muxVar(r, "iid")
	if err := s.orchestrator.UpdateItemState(r.Context(), itemID, model.ItemState(body.State)); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

// handleInternalItemManifest returns the manifest an agent needs to
// stage an incoming item, field names matching coordclient's
// manifestResponse exactly. Gated on agentDeviceIDRequired, which binds
// the caller's x-agent-device-id against the item's receiver device.
func (s *Server) handleInternalItemManifest(w http.ResponseWriter, r *http.Request) {
	callerDeviceID := r.Header.Get("x-agent-device-id")
	itemID := muxVar(r, "iid")
	manifest, err := s.orchestrator.GetItemManifest(r.Context(), callerDeviceID, itemID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"receiver_share_id": manifest.ReceiverShareID,
		"filename":          manifest.Filename,
		"size":              manifest.Size,
		"sha256":            manifest.SHA256,
	})
}
