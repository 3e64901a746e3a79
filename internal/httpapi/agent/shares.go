package agent

import (
	"errors"
	"net/http"
	"os"
	"strconv"
	"time"

	"github.com/lanshare/lanshare/internal/agentdb"
	"github.com/lanshare/lanshare/internal/apierr"
	"github.com/lanshare/lanshare/internal/fileshare"
	"github.com/lanshare/lanshare/internal/model"
	"github.com/lanshare/lanshare/internal/ticket"
)

// verifyReadTicket enforces spec.md §8 invariant 4: the ticket must be a
// read_ticket (or internal_agent) bound to shareID and must carry the
// required permission, grounded on
// _examples/original_source/agent/security.py's verify_read_ticket.
func (s *Server) verifyReadTicket(tok, shareID, permission string) error {
	bind := func(c ticket.Claims) bool {
		if c.ShareID != shareID {
			return false
		}
		for _, p := range c.Permissions {
			if p == permission {
				return true
			}
		}
		return false
	}
	if _, err := s.issuer.Verify(tok, ticket.KindReadTicket, time.Now(), bind); err == nil {
		return nil
	}
	if _, err := s.issuer.Verify(tok, ticket.KindInternalAgent, time.Now(), bind); err == nil {
		return nil
	}
	return apierr.New(apierr.AuthInvalid, "invalid read ticket")
}

// loadShareRoot resolves share_id to its LocalShare record and confirms
// its root directory still exists, per shares.py's _get_share/_share_root.
func (s *Server) loadShareRoot(w http.ResponseWriter, r *http.Request, shareID string) (model.Share, bool) {
	share, err := s.shares.GetLocalShare(r.Context(), shareID)
	if errors.Is(err, agentdb.ErrNotFound) {
		writeError(w, apierr.New(apierr.NotFound, "share not found"))
		return model.Share{}, false
	}
	if err != nil {
		writeError(w, err)
		return model.Share{}, false
	}
	info, err := os.Stat(share.RootPath)
	if err != nil || !info.IsDir() {
		writeError(w, apierr.New(apierr.NotFound, "share root unavailable"))
		return model.Share{}, false
	}
	return share, true
}

func entryView(e fileshare.Entry) map[string]any {
	return map[string]any{
		"name":        e.Name,
		"is_dir":      e.IsDir,
		"path":        e.Path,
		"parent_path": e.ParentPath,
		"type":        e.Type,
	}
}

// handleList serves GET /agent/v1/shares/{share_id}/list, grounded on
// shares.py's list_share_files.
func (s *Server) handleList(w http.ResponseWriter, r *http.Request) {
	shareID := muxVar(r, "share_id")
	q := r.URL.Query()
	if err := s.verifyReadTicket(q.Get("ticket"), shareID, "read"); err != nil {
		writeError(w, err)
		return
	}
	share, ok := s.loadShareRoot(w, r, shareID)
	if !ok {
		return
	}
	target, err := fileshare.ResolveRequestedPath(share.RootPath, q.Get("path"))
	if err != nil {
		writeError(w, apierr.Wrap(apierr.Forbidden, "invalid path", err))
		return
	}
	maxResults := atoiDefault(q.Get("max_results"), fileshare.ListDefaultMaxEntries)
	listing, err := fileshare.ListDirectory(share.RootPath, target, maxResults)
	if err != nil {
		writeError(w, apierr.Wrap(apierr.NotFound, "directory not found", err))
		return
	}
	items := make([]map[string]any, 0, len(listing.Items))
	for _, it := range listing.Items {
		items = append(items, entryView(it))
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"current_path": listing.CurrentPath,
		"parent_path":  listing.ParentPath,
		"items":        items,
		"truncated":    listing.Truncated,
		"limit":        listing.Limit,
	})
}

// handleSearch serves GET /agent/v1/shares/{share_id}/search, grounded on
// shares.py's search_share_files.
func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request) {
	shareID := muxVar(r, "share_id")
	q := r.URL.Query()
	query := q.Get("q")
	if query == "" {
		writeError(w, apierr.New(apierr.Conflict, "q is required"))
		return
	}
	if err := s.verifyReadTicket(q.Get("ticket"), shareID, "read"); err != nil {
		writeError(w, err)
		return
	}
	share, ok := s.loadShareRoot(w, r, shareID)
	if !ok {
		return
	}
	target, err := fileshare.ResolveRequestedPath(share.RootPath, q.Get("path"))
	if err != nil {
		writeError(w, apierr.Wrap(apierr.Forbidden, "invalid path", err))
		return
	}
	recursive := q.Get("recursive") != "false"
	maxResults := atoiDefault(q.Get("max_results"), fileshare.SearchDefaultMax)
	result, err := fileshare.SearchEntries(share.RootPath, target, query, recursive, maxResults)
	if err != nil {
		writeError(w, apierr.Wrap(apierr.NotFound, "directory not found", err))
		return
	}
	items := make([]map[string]any, 0, len(result.Items))
	for _, it := range result.Items {
		items = append(items, entryView(it))
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"query":     result.Query,
		"base_path": result.BasePath,
		"recursive": result.Recursive,
		"items":     items,
		"truncated": result.Truncated,
	})
}

// resolveServableFile resolves share_id/path to an existing regular
// file, used by both handleStream and handleDownload.
func (s *Server) resolveServableFile(w http.ResponseWriter, r *http.Request, shareID, permission string) (string, string, bool) {
	q := r.URL.Query()
	if err := s.verifyReadTicket(q.Get("ticket"), shareID, permission); err != nil {
		writeError(w, err)
		return "", "", false
	}
	share, ok := s.loadShareRoot(w, r, shareID)
	if !ok {
		return "", "", false
	}
	target, err := fileshare.ResolveRequestedPath(share.RootPath, q.Get("path"))
	if err != nil {
		writeError(w, apierr.Wrap(apierr.Forbidden, "invalid path", err))
		return "", "", false
	}
	info, err := os.Stat(target)
	if err != nil || info.IsDir() {
		writeError(w, apierr.New(apierr.NotFound, "file not found"))
		return "", "", false
	}
	return target, fileshare.GuessMIMEType(target, ""), true
}

// handleStream serves GET /agent/v1/shares/{share_id}/stream, grounded on
// shares.py's stream_share_file. Range/conditional semantics are
// delegated to net/http.ServeContent, the standard library's dedicated
// tool for this and the one the corpus never reimplements.
func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	path, mimeType, ok := s.resolveServableFile(w, r, muxVar(r, "share_id"), "read")
	if !ok {
		return
	}
	f, err := os.Open(path)
	if err != nil {
		writeError(w, apierr.Wrap(apierr.NotFound, "file not found", err))
		return
	}
	defer f.Close()
	info, err := f.Stat()
	if err != nil {
		writeError(w, err)
		return
	}
	w.Header().Set("Content-Type", mimeType)
	http.ServeContent(w, r, info.Name(), info.ModTime(), f)
}

// handleDownload serves GET /agent/v1/shares/{share_id}/download,
// grounded on shares.py's download_share_file (attachment disposition,
// requires the download permission rather than read).
func (s *Server) handleDownload(w http.ResponseWriter, r *http.Request) {
	path, mimeType, ok := s.resolveServableFile(w, r, muxVar(r, "share_id"), "download")
	if !ok {
		return
	}
	f, err := os.Open(path)
	if err != nil {
		writeError(w, apierr.Wrap(apierr.NotFound, "file not found", err))
		return
	}
	defer f.Close()
	info, err := f.Stat()
	if err != nil {
		writeError(w, err)
		return
	}
	w.Header().Set("Content-Type", mimeType)
	w.Header().Set("Content-Disposition", `attachment; filename="`+info.Name()+`"`)
	http.ServeContent(w, r, info.Name(), info.ModTime(), f)
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
