// Package ticket issues and verifies the HMAC-signed capability tickets of
// spec.md §4.1 / §6 "Token format". Mechanics are grounded on the
// teacher's internal/security/token_broker.go (base64.RawURLEncoding
// token shape, HMAC-SHA256, constant-time compare); the per-kind claim
// shapes replace the teacher's single fixed TokenClaims struct, mirroring
// _examples/original_source/shared/security.py's dict-based payloads.
package ticket

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
	"sort"
	"time"
)

// Kind identifies which of the five capability shapes a ticket carries.
type Kind string

const (
	KindClientAccess         Kind = "client_access"
	KindEventsWS             Kind = "events_ws"
	KindReadTicket           Kind = "read_ticket"
	KindTransferUploadTicket Kind = "transfer_upload_ticket"
	KindInternalAgent        Kind = "internal_agent"
)

// Default TTLs per spec.md §4.1.
const (
	TTLClientAccess         = 3600 * time.Second
	TTLEventsWS             = 90 * time.Second
	TTLReadTicket           = 1800 * time.Second
	TTLTransferUploadTicket = 1800 * time.Second
	TTLInternalAgent        = 60 * time.Second
)

// ErrTicket is the single failure kind spec.md prescribes ("TokenError"),
// returned for every decode/verify failure.
var ErrTicket = errors.New("TicketError")

// Claims is the body encoded into every ticket. Fields are omitempty so a
// given Kind only serializes the claims it actually carries; canonical
// JSON (sorted keys) is produced by marshalCanonical below regardless of
// struct field order, matching spec.md §6's "sorted keys, no spaces".
type Claims struct {
	Kind              Kind     `json:"kind"`
	PrincipalID       string   `json:"principal_id,omitempty"`
	ClientDeviceID    string   `json:"client_device_id,omitempty"`
	ShareID           string   `json:"share_id,omitempty"`
	Permissions       []string `json:"permissions,omitempty"`
	TransferID        string   `json:"transfer_id,omitempty"`
	ReceiverDeviceID  string   `json:"receiver_device_id,omitempty"`
	ReceiverShareID   string   `json:"receiver_share_id,omitempty"`
	Exp               int64    `json:"exp"`
}

// Issuer signs and verifies tickets with a single shared secret.
type Issuer struct {
	secret []byte
}

// NewIssuer constructs an Issuer bound to secret. secret must not be empty;
// callers enforce that via internal/config's secure-value check.
func NewIssuer(secret string) *Issuer {
	return &Issuer{secret: []byte(secret)}
}

// Issue signs claims, stamping Exp = now+ttl, and returns the token string.
func (iss *Issuer) Issue(claims Claims, ttl time.Duration, now time.Time) (string, error) {
	claims.Exp = now.Add(ttl).Unix()
	body, err := marshalCanonical(claims)
	if err != nil {
		return "", err
	}
	sig := iss.sign(body)
	return base64.RawURLEncoding.EncodeToString(body) + "." + base64.RawURLEncoding.EncodeToString(sig), nil
}

// Decode verifies the signature and expiry and returns the claims. It does
// not check Kind or resource binding — callers do that via Verify.
func (iss *Issuer) Decode(token string, now time.Time) (Claims, error) {
	var claims Claims
	dot := -1
	for i := len(token) - 1; i >= 0; i-- {
		if token[i] == '.' {
			dot = i
			break
		}
	}
	if dot < 0 {
		return claims, ErrTicket
	}
	bodyB64, sigB64 := token[:dot], token[dot+1:]

	body, err := base64.RawURLEncoding.DecodeString(bodyB64)
	if err != nil {
		return claims, ErrTicket
	}
	sig, err := base64.RawURLEncoding.DecodeString(sigB64)
	if err != nil {
		return claims, ErrTicket
	}
	if !hmac.Equal(sig, iss.sign(body)) {
		return claims, ErrTicket
	}
	var raw map[string]any
	if err := json.Unmarshal(body, &raw); err != nil {
		return claims, ErrTicket
	}
	if err := json.Unmarshal(body, &claims); err != nil {
		return claims, ErrTicket
	}
	expVal, ok := raw["exp"]
	if !ok {
		return claims, ErrTicket
	}
	expFloat, ok := expVal.(float64)
	if !ok || expFloat != float64(int64(expFloat)) {
		return claims, ErrTicket
	}
	if claims.Exp < now.Unix() {
		return claims, ErrTicket
	}
	return claims, nil
}

// Verify decodes the token, checks it is of kind `want`, and runs bind to
// confirm the claims match the call's resource context (share id,
// transfer id, ...). bind returning false is treated as ErrTicket, per
// spec.md §4.1: "the verifier additionally enforces the expected kind and
// that bound identifiers match the call context".
func (iss *Issuer) Verify(token string, want Kind, now time.Time, bind func(Claims) bool) (Claims, error) {
	claims, err := iss.Decode(token, now)
	if err != nil {
		return Claims{}, err
	}
	if claims.Kind != want {
		return Claims{}, ErrTicket
	}
	if bind != nil && !bind(claims) {
		return Claims{}, ErrTicket
	}
	return claims, nil
}

func (iss *Issuer) sign(body []byte) []byte {
	mac := hmac.New(sha256.New, iss.secret)
	mac.Write(body)
	return mac.Sum(nil)
}

// marshalCanonical re-encodes claims through a sorted map so the signed
// body has deterministic key order regardless of struct definition order,
// matching spec.md §6's canonical-JSON requirement exactly (sorted keys,
// no spaces) rather than relying on Go's struct-field marshal order.
func marshalCanonical(claims Claims) ([]byte, error) {
	tmp, err := json.Marshal(claims)
	if err != nil {
		return nil, err
	}
	var asMap map[string]any
	if err := json.Unmarshal(tmp, &asMap); err != nil {
		return nil, err
	}
	keys := make([]string, 0, len(asMap))
	for k := range asMap {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var buf []byte
	buf = append(buf, '{')
	for i, k := range keys {
		if i > 0 {
			buf = append(buf, ',')
		}
		kb, _ := json.Marshal(k)
		buf = append(buf, kb...)
		buf = append(buf, ':')
		vb, err := json.Marshal(asMap[k])
		if err != nil {
			return nil, err
		}
		buf = append(buf, vb...)
	}
	buf = append(buf, '}')
	return buf, nil
}

// TTLFor returns the default TTL for a ticket Kind.
func TTLFor(k Kind) time.Duration {
	switch k {
	case KindClientAccess:
		return TTLClientAccess
	case KindEventsWS:
		return TTLEventsWS
	case KindReadTicket:
		return TTLReadTicket
	case KindTransferUploadTicket:
		return TTLTransferUploadTicket
	case KindInternalAgent:
		return TTLInternalAgent
	default:
		return 0
	}
}
