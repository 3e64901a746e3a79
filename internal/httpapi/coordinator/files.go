package coordinator

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/lanshare/lanshare/internal/apierr"
	"github.com/lanshare/lanshare/internal/coordinatordb"
	"github.com/lanshare/lanshare/internal/model"
	"github.com/lanshare/lanshare/internal/permissions"
	"github.com/lanshare/lanshare/internal/search"
	"github.com/lanshare/lanshare/internal/ticket"
)

// resolveOnlineVisibleShare loads the (share, device) pair named by
// deviceID/shareID, enforcing the same not-found/visibility/online
// checks as files.py's list_files and search_files before any single-
// share proxy call.
func (s *Server) resolveOnlineVisibleShare(w http.ResponseWriter, r *http.Request, principalID, deviceID, shareID string) (model.Share, model.AgentDevice, bool) {
	ctx := r.Context()
	share, err := s.db.GetShare(ctx, shareID)
	if errors.Is(err, coordinatordb.ErrNotFound) {
		writeError(w, apierr.New(apierr.NotFound, "share not found"))
		return model.Share{}, model.AgentDevice{}, false
	}
	if err != nil {
		writeError(w, err)
		return model.Share{}, model.AgentDevice{}, false
	}
	if share.AgentDeviceID != deviceID {
		writeError(w, apierr.New(apierr.Conflict, "share does not belong to device"))
		return model.Share{}, model.AgentDevice{}, false
	}
	device, err := s.db.GetAgentDevice(ctx, deviceID)
	if errors.Is(err, coordinatordb.ErrNotFound) {
		writeError(w, apierr.New(apierr.NotFound, "device not found"))
		return model.Share{}, model.AgentDevice{}, false
	}
	if err != nil {
		writeError(w, err)
		return model.Share{}, model.AgentDevice{}, false
	}
	if !device.Visibility && device.OwnerPrincipalID != principalID {
		writeError(w, apierr.New(apierr.NotFound, "device not found"))
		return model.Share{}, model.AgentDevice{}, false
	}
	if !device.IsOnline(time.Now()) {
		writeError(w, apierr.New(apierr.Unavailable, "device is offline"))
		return model.Share{}, model.AgentDevice{}, false
	}
	return share, device, true
}

// handleFilesList proxies to a single agent's share listing, annotating
// each file entry with stream/download URLs, per files.py's list_files.
func (s *Server) handleFilesList(w http.ResponseWriter, r *http.Request) {
	c, _ := callerFrom(r.Context())
	q := r.URL.Query()
	deviceID, shareID, path := q.Get("device_id"), q.Get("share_id"), q.Get("path")
	if deviceID == "" || shareID == "" {
		writeError(w, apierr.New(apierr.Conflict, "device_id and share_id are required"))
		return
	}

	share, device, ok := s.resolveOnlineVisibleShare(w, r, c.PrincipalID, deviceID, shareID)
	if !ok {
		return
	}

	perms, err := s.acl.RequirePermission(r.Context(), c.PrincipalID, share, permissions.Read)
	if err != nil {
		writeError(w, err)
		return
	}
	now := time.Now()
	tok, err := s.issuer.Issue(ticket.Claims{
		Kind:        ticket.KindReadTicket,
		PrincipalID: c.PrincipalID,
		ShareID:     share.ID,
		Permissions: perms.Sorted(),
	}, ticket.TTLFor(ticket.KindReadTicket), now)
	if err != nil {
		writeError(w, err)
		return
	}

	items, err := s.agent.List(r.Context(), device.BaseURL, share.ID, tok, path)
	if err != nil {
		writeError(w, apierr.Wrap(apierr.UpstreamFailure, "agent list failed", err))
		return
	}

	out := make([]listedItem, 0, len(items))
	for _, it := range items {
		li := listedItem{Path: it.Path, IsDir: it.IsDir, Size: it.Size, MIME: it.MIME}
		if !li.IsDir {
			li.StreamURL = agentStreamURL(device.BaseURL, share.ID, li.Path, tok)
			if perms.Has(permissions.Download) {
				li.DownloadURL = agentDownloadURL(device.BaseURL, share.ID, li.Path, tok)
			}
		}
		out = append(out, li)
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"items":       out,
		"device_id":   device.ID,
		"share_id":    share.ID,
		"permissions": perms.Sorted(),
	})
}

type listedItem struct {
	Path        string `json:"path"`
	IsDir       bool   `json:"is_dir"`
	Size        int64  `json:"size"`
	MIME        string `json:"mime"`
	StreamURL   string `json:"stream_url,omitempty"`
	DownloadURL string `json:"download_url,omitempty"`
}

func agentStreamURL(baseURL, shareID, path, tok string) string {
	return trimSlash(baseURL) + "/agent/v1/shares/" + shareID + "/stream?path=" + urlEscape(path) + "&ticket=" + urlEscape(tok)
}

func agentDownloadURL(baseURL, shareID, path, tok string) string {
	return trimSlash(baseURL) + "/agent/v1/shares/" + shareID + "/download?path=" + urlEscape(path) + "&ticket=" + urlEscape(tok)
}

// handleFilesSearch branches between a single-share proxy (device_id and
// share_id both supplied) and a federated fan-out, per files.py's
// search_files.
func (s *Server) handleFilesSearch(w http.ResponseWriter, r *http.Request) {
	c, _ := callerFrom(r.Context())
	q := r.URL.Query()
	query := q.Get("q")
	if query == "" {
		writeError(w, apierr.New(apierr.Conflict, "q is required"))
		return
	}
	recursive := q.Get("recursive") != "false"
	deviceID, shareID := q.Get("device_id"), q.Get("share_id")

	if deviceID != "" && shareID != "" {
		s.handleSingleShareSearch(w, r, c.PrincipalID, deviceID, shareID, query, recursive)
		return
	}

	req := search.Request{
		PrincipalID:        c.PrincipalID,
		Query:              query,
		BasePath:           q.Get("path"),
		Recursive:          recursive,
		MaxShares:          atoiDefault(q.Get("max_shares"), 30),
		MaxResultsPerShare: atoiDefault(q.Get("max_results_per_share"), 200),
		MaxResultsTotal:    atoiDefault(q.Get("max_results_total"), 800),
		TimeoutBudgetMS:    atoiDefault(q.Get("timeout_budget_ms"), 6000),
		Compact:            q.Get("compact") == "true",
	}
	result, err := s.search.Run(r.Context(), req)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"items":      result.Items,
		"access_map": result.AccessMap,
		"errors":     result.Errors,
		"truncated":  result.Truncated,
	})
}

func (s *Server) handleSingleShareSearch(w http.ResponseWriter, r *http.Request, principalID, deviceID, shareID, query string, recursive bool) {
	share, device, ok := s.resolveOnlineVisibleShare(w, r, principalID, deviceID, shareID)
	if !ok {
		return
	}
	perms, err := s.acl.RequirePermission(r.Context(), principalID, share, permissions.Read)
	if err != nil {
		writeError(w, err)
		return
	}
	now := time.Now()
	tok, err := s.issuer.Issue(ticket.Claims{
		Kind:        ticket.KindReadTicket,
		PrincipalID: principalID,
		ShareID:     share.ID,
		Permissions: perms.Sorted(),
	}, ticket.TTLFor(ticket.KindReadTicket), now)
	if err != nil {
		writeError(w, err)
		return
	}

	maxResults := atoiDefault(r.URL.Query().Get("max_results_per_share"), 200)
	if total := atoiDefault(r.URL.Query().Get("max_results_total"), 800); total < maxResults {
		maxResults = total
	}
	items, err := s.agent.Search(r.Context(), device.BaseURL, share.ID, tok, query, recursive, maxResults)
	if err != nil {
		writeError(w, apierr.Wrap(apierr.UpstreamFailure, "agent search failed", err))
		return
	}

	out := make([]listedItem, 0, len(items))
	for _, it := range items {
		li := listedItem{Path: it.Path, IsDir: it.IsDir, Size: it.Size, MIME: it.MIME}
		if !li.IsDir {
			li.StreamURL = agentStreamURL(device.BaseURL, share.ID, li.Path, tok)
			if perms.Has(permissions.Download) {
				li.DownloadURL = agentDownloadURL(device.BaseURL, share.ID, li.Path, tok)
			}
		}
		out = append(out, li)
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"items":       out,
		"device_id":   device.ID,
		"share_id":    share.ID,
		"permissions": perms.Sorted(),
	})
}

func atoiDefault(s string, def int) int {
	if s == "" {
		return def
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return def
	}
	return n
}

func trimSlash(s string) string {
	for len(s) > 0 && s[len(s)-1] == '/' {
		s = s[:len(s)-1]
	}
	return s
}

func urlEscape(p string) string {
	var out []byte
	for i := 0; i < len(p); i++ {
		switch c := p[i]; {
		case c == '%':
			out = append(out, '%', '2', '5')
		case c == ' ':
			out = append(out, '%', '2', '0')
		default:
			out = append(out, c)
		}
	}
	return string(out)
}
