package agent

import (
	"net/http"
	"strconv"

	"github.com/lanshare/lanshare/internal/apierr"
	"github.com/lanshare/lanshare/internal/inbox"
)

// handleInboxStatus serves GET /agent/v1/inbox/transfers/{tid}/status,
// grounded on inbox.py's transfer_status.
func (s *Server) handleInboxStatus(w http.ResponseWriter, r *http.Request) {
	transferID := muxVar(r, "tid")
	q := r.URL.Query()
	shareID := q.Get("share_id")
	items, err := s.inbox.Status(r.Context(), transferID, shareID, q.Get("ticket"))
	if err != nil {
		writeError(w, err)
		return
	}
	out := make([]map[string]any, 0, len(items))
	for _, it := range items {
		out = append(out, map[string]any{
			"item_id":       it.ItemID,
			"filename":      it.Filename,
			"expected_size": it.ExpectedSize,
			"received_size": it.ReceivedSize,
			"state":         it.State,
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{"transfer_id": transferID, "items": out})
}

// handleInboxPause serves POST /agent/v1/inbox/transfers/{tid}/pause,
// grounded on inbox.py's pause_transfer.
func (s *Server) handleInboxPause(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	if err := s.inbox.Pause(r.Context(), muxVar(r, "tid"), q.Get("share_id"), q.Get("ticket")); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

// handleInboxResume serves POST /agent/v1/inbox/transfers/{tid}/resume,
// grounded on inbox.py's resume_transfer.
func (s *Server) handleInboxResume(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	if err := s.inbox.Resume(r.Context(), muxVar(r, "tid"), q.Get("share_id"), q.Get("ticket")); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

// handleInboxChunk serves POST /agent/v1/inbox/transfers/{tid}/chunk,
// grounded on inbox.py's upload_chunk: metadata travels in the query
// string, x-chunk-offset/x-chunk-last in headers, and the body streams
// straight through to internal/inbox.UploadChunk.
func (s *Server) handleInboxChunk(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	size, err := strconv.ParseInt(q.Get("size"), 10, 64)
	if err != nil || size < 0 {
		writeError(w, apierr.New(apierr.Conflict, "invalid size"))
		return
	}
	offset, err := strconv.ParseInt(r.Header.Get("x-chunk-offset"), 10, 64)
	if err != nil {
		offset = 0
	}
	contentLength := int64(-1)
	if r.ContentLength >= 0 {
		contentLength = r.ContentLength
	}

	result, err := s.inbox.UploadChunk(r.Context(), inbox.ChunkRequest{
		TransferID:    muxVar(r, "tid"),
		ShareID:       q.Get("share_id"),
		ItemID:        q.Get("item_id"),
		Filename:      q.Get("filename"),
		Size:          size,
		SHA256:        q.Get("sha256"),
		Ticket:        q.Get("ticket"),
		Offset:        offset,
		Last:          r.Header.Get("x-chunk-last") == "1",
		ContentLength: contentLength,
		Body:          r.Body,
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"item_id":       result.ItemID,
		"received_size": result.ReceivedSize,
		"expected_size": result.ExpectedSize,
		"state":         result.State,
	})
}

// handleInboxCommit serves POST /agent/v1/inbox/transfers/{tid}/commit,
// grounded on inbox.py's commit_transfer_item.
func (s *Server) handleInboxCommit(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	result, err := s.inbox.Commit(r.Context(), muxVar(r, "tid"), q.Get("share_id"), q.Get("item_id"), q.Get("ticket"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"item_id":    result.ItemID,
		"state":      result.State,
		"inbox_path": result.InboxPath,
	})
}

type finalizeBody struct {
	ItemID           string `json:"item_id"`
	DestinationPath  string `json:"destination_path"`
	KeepOriginalName *bool  `json:"keep_original_name"`
}

// handleInboxFinalize serves POST /agent/v1/inbox/transfers/{tid}/finalize,
// grounded on inbox.py's finalize_transfer_item (keep_original_name
// defaults true, matching the original's pydantic default).
func (s *Server) handleInboxFinalize(w http.ResponseWriter, r *http.Request) {
	var body finalizeBody
	if err := decodeJSON(r, &body); err != nil {
		writeError(w, err)
		return
	}
	keepOriginalName := true
	if body.KeepOriginalName != nil {
		keepOriginalName = *body.KeepOriginalName
	}
	q := r.URL.Query()
	result, err := s.inbox.Finalize(r.Context(), inbox.FinalizeRequest{
		TransferID:       muxVar(r, "tid"),
		ShareID:          q.Get("share_id"),
		ItemID:           body.ItemID,
		Ticket:           q.Get("ticket"),
		DestinationPath:  body.DestinationPath,
		KeepOriginalName: keepOriginalName,
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"item_id":    result.ItemID,
		"state":      result.State,
		"final_path": result.FinalPath,
	})
}
