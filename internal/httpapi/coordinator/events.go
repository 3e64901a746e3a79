package coordinator

import (
	"net/http"
	"time"

	"github.com/lanshare/lanshare/internal/events"
	"github.com/lanshare/lanshare/internal/ticket"
)

// handleEventsToken issues a short-lived events_ws ticket the caller
// presents as the `auth.<token>` WebSocket subprotocol, per spec.md §6.
func (s *Server) handleEventsToken(w http.ResponseWriter, r *http.Request) {
	c, _ := callerFrom(r.Context())
	now := time.Now()
	tok, err := s.issuer.Issue(ticket.Claims{
		Kind:        ticket.KindEventsWS,
		PrincipalID: c.PrincipalID,
	}, s.eventsWSTTL, now)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"token":      tok,
		"expires_in": int(s.eventsWSTTL.Seconds()),
	})
}

// handleEventsWS upgrades the connection and registers it with the
// broker under the principal bound to the presented events_ws ticket.
// Unlike every other coordinator route, authentication here is not
// authRequired middleware: the token travels in the subprotocol, not an
// Authorization header, so events.ServeWS verifies it directly.
func (s *Server) handleEventsWS(w http.ResponseWriter, r *http.Request) {
	events.ServeWS(s.broker, w, r, func(token string) (string, error) {
		claims, err := s.issuer.Verify(token, ticket.KindEventsWS, time.Now(), nil)
		if err != nil {
			return "", err
		}
		return claims.PrincipalID, nil
	})
}
