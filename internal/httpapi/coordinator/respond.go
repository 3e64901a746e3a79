package coordinator

import (
	"context"
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

// writeError maps err to its HTTP status via apierr, falling back to 500
// for anything not already typed, mirroring the teacher's
// http.Error(w, err.Error(), ...) convention but status-aware.
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

type callerContextKey struct{}

// caller is the authenticated identity attached to a request's context
// by authRequired.
type caller struct {
	PrincipalID    string
	ClientDeviceID string
}

func withCaller(ctx context.Context, c caller) context.Context {
	return context.WithValue(ctx, callerContextKey{}, c)
}

func callerFrom(ctx context.Context) (caller, bool) {
	c, ok := ctx.Value(callerContextKey{}).(caller)
	return c, ok
}
