package agent

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/lanshare/lanshare/internal/apierr"
)

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

// writeError maps err to its HTTP status via apierr, mirroring
// internal/httpapi/coordinator's respond.go convention.
func writeError(w http.ResponseWriter, err error) {
	var apiErr *apierr.Error
	if errors.As(err, &apiErr) {
		writeJSON(w, apiErr.Status(), map[string]string{"error": apiErr.Message, "kind": string(apiErr.Kind)})
		return
	}
	writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal error"})
}

func decodeJSON(r *http.Request, out any) error {
	if r.Body == nil {
		return apierr.New(apierr.Conflict, "missing request body")
	}
	defer r.Body.Close()
	if err := json.NewDecoder(r.Body).Decode(out); err != nil {
		return apierr.Wrap(apierr.Conflict, "invalid request body", err)
	}
	return nil
}
