package coordinator

import (
	"net/http"

	"github.com/lanshare/lanshare/internal/apierr"
	"github.com/lanshare/lanshare/internal/model"
	"github.com/lanshare/lanshare/internal/transfer"
)

type newItemBody struct {
	Filename string `json:"filename"`
	Size     int64  `json:"size"`
	SHA256   string `json:"sha256"`
	MimeType string `json:"mime_type"`
}

type createTransferBody struct {
	ReceiverDeviceID string        `json:"receiver_device_id"`
	ReceiverShareID  string        `json:"receiver_share_id"`
	Items            []newItemBody `json:"items"`
}

func (s *Server) handleCreateTransfer(w http.ResponseWriter, r *http.Request) {
	c, _ := callerFrom(r.Context())
	var body createTransferBody
	if err := decodeJSON(r, &body); err != nil {
		writeError(w, err)
		return
	}
	items := make([]transfer.NewItem, 0, len(body.Items))
	for _, it := range body.Items {
		items = append(items, transfer.NewItem{Filename: it.Filename, Size: it.Size, SHA256: it.SHA256, MimeType: it.MimeType})
	}
	tr, trItems, err := s.orchestrator.Create(r.Context(), c.PrincipalID, c.ClientDeviceID, body.ReceiverDeviceID, body.ReceiverShareID, items)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, transferView(tr, trItems))
}

func (s *Server) handleListTransfers(w http.ResponseWriter, r *http.Request) {
	c, _ := callerFrom(r.Context())
	role := transfer.Role(r.URL.Query().Get("role"))
	if role == "" {
		role = transfer.RoleAll
	}
	list, err := s.orchestrator.List(r.Context(), c.PrincipalID, role)
	if err != nil {
		writeError(w, err)
		return
	}
	out := make([]map[string]any, 0, len(list))
	for _, tr := range list {
		out = append(out, transferView(tr, nil))
	}
	writeJSON(w, http.StatusOK, map[string]any{"transfers": out})
}

func (s *Server) handleClearHistory(w http.ResponseWriter, r *http.Request) {
	c, _ := callerFrom(r.Context())
	if err := s.orchestrator.ClearHistory(r.Context(), c.PrincipalID); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

func (s *Server) handleCancelPending(w http.ResponseWriter, r *http.Request) {
	c, _ := callerFrom(r.Context())
	if err := s.orchestrator.CancelPending(r.Context(), c.PrincipalID); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

// loadVisibleTransfer fetches transferID and enforces that the caller is
// either the sender or the receiver device's owner, mirroring
// transfers.py's _load_visible_transfer. The Orchestrator's own
// GetTransferRequest is an unauthorized read-through, so this check lives
// at the handler layer.
func (s *Server) loadVisibleTransfer(r *http.Request, principalID, transferID string) (model.TransferRequest, error) {
	tr, err := s.orchestrator.GetTransferRequest(r.Context(), transferID)
	if err != nil {
		return model.TransferRequest{}, err
	}
	if tr.SenderPrincipalID == principalID {
		return tr, nil
	}
	device, err := s.db.GetAgentDevice(r.Context(), tr.ReceiverDeviceID)
	if err != nil {
		return model.TransferRequest{}, err
	}
	if device.OwnerPrincipalID == principalID {
		return tr, nil
	}
	return model.TransferRequest{}, apierr.New(apierr.NotFound, "transfer not found")
}

func (s *Server) handleGetTransfer(w http.ResponseWriter, r *http.Request) {
	c, _ := callerFrom(r.Context())
	tr, err := s.loadVisibleTransfer(r, c.PrincipalID, muxVar(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	items, err := s.orchestrator.ListItems(r.Context(), tr.ID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, transferView(tr, items))
}

type approveBody struct {
	Passcode string                      `json:"passcode"`
	Prefs    *model.ApprovalPreferences `json:"approval_preferences,omitempty"`
}

func (s *Server) handleApproveTransfer(w http.ResponseWriter, r *http.Request) {
	c, _ := callerFrom(r.Context())
	var body approveBody
	if err := decodeJSON(r, &body); err != nil {
		writeError(w, err)
		return
	}
	if err := s.orchestrator.Approve(r.Context(), c.PrincipalID, muxVar(r, "id"), body.Passcode, body.Prefs); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

func (s *Server) handleRejectTransfer(w http.ResponseWriter, r *http.Request) {
	c, _ := callerFrom(r.Context())
	if err := s.orchestrator.Reject(r.Context(), c.PrincipalID, muxVar(r, "id")); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

type openPasscodeBody struct {
	Passcode string `json:"passcode"`
}

func (s *Server) handleOpenPasscode(w http.ResponseWriter, r *http.Request) {
	c, _ := callerFrom(r.Context())
	var body openPasscodeBody
	if err := decodeJSON(r, &body); err != nil {
		writeError(w, err)
		return
	}
	tok, err := s.orchestrator.OpenPasscode(r.Context(), c.PrincipalID, muxVar(r, "id"), body.Passcode)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"transfer_upload_ticket": tok})
}

func transferView(tr model.TransferRequest, items []model.TransferItem) map[string]any {
	view := map[string]any{
		"id":                 tr.ID,
		"sender_principal_id": tr.SenderPrincipalID,
		"receiver_device_id": tr.ReceiverDeviceID,
		"receiver_share_id":  tr.ReceiverShareID,
		"state":              tr.State,
		"created_at":         tr.CreatedAt,
		"expires_at":         tr.ExpiresAt,
	}
	if items != nil {
		itemViews := make([]map[string]any, 0, len(items))
		for _, it := range items {
			itemViews = append(itemViews, map[string]any{
				"id":        it.ID,
				"filename":  it.Filename,
				"size":      it.Size,
				"sha256":    it.SHA256,
				"mime_type": it.MimeType,
				"state":     it.State,
			})
		}
		view["items"] = itemViews
	}
	return view
}
