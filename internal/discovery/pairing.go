package discovery

import (
	"context"
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"fmt"
	"math/big"
	"sync"
	"time"

	"golang.org/x/crypto/argon2"

	"github.com/lanshare/lanshare/internal/acl"
	"github.com/lanshare/lanshare/internal/apierr"
	"github.com/lanshare/lanshare/internal/coordinatordb"
	"github.com/lanshare/lanshare/internal/model"
	"github.com/lanshare/lanshare/internal/passcode"
	"github.com/lanshare/lanshare/internal/ticket"
)

// DefaultPairingCodeTTL is the PairingSession lifetime, per spec.md §4.8.
const DefaultPairingCodeTTL = 600 * time.Second

const maxPairingAttempts = 5

// Pairing implements the coordinator side of the two-step pairing
// protocol: a fast bootstrap path for the very first principal, and a
// PairingSession/confirm path for every principal after that. Grounded
// on _examples/original_source/coordinator/routers/pairing.py.
type Pairing struct {
	db     *coordinatordb.DB
	acl    *acl.Engine
	issuer *ticket.Issuer
	ttl    time.Duration

	mu       sync.Mutex
	attempts map[string]*lockoutState
}

type lockoutState struct {
	failureCount int
	lockedUntil  *time.Time
}

// NewPairing constructs a Pairing service. ttl <= 0 falls back to
// DefaultPairingCodeTTL.
func NewPairing(db *coordinatordb.DB, aclEngine *acl.Engine, issuer *ticket.Issuer, ttl time.Duration) *Pairing {
	if ttl <= 0 {
		ttl = DefaultPairingCodeTTL
	}
	return &Pairing{db: db, acl: aclEngine, issuer: issuer, ttl: ttl, attempts: map[string]*lockoutState{}}
}

// StartRequest is the body of POST /api/v1/pairing/start.
type StartRequest struct {
	DisplayName string
	DeviceName  string
	Platform    string
	PublicKey   *string
}

// StartResult is the response of either the bootstrap fast path or the
// PairingSession creation path; only the fields relevant to Bootstrap
// are populated.
type StartResult struct {
	Bootstrap        bool
	PrincipalID      string
	ClientDeviceID   string
	AccessToken      string
	DeviceSecret     string
	PendingPairingID string
	PairingCode      string
	ExpiresAt        time.Time
}

// Start bootstraps the first principal on a coordinator directly, or
// creates a pending PairingSession for every subsequent device.
func (p *Pairing) Start(ctx context.Context, req StartRequest) (StartResult, error) {
	now := time.Now()
	count, err := p.db.CountPrincipals(ctx)
	if err != nil {
		return StartResult{}, err
	}
	if count == 0 {
		return p.bootstrap(ctx, req, now)
	}

	code, err := randomPairingCode()
	if err != nil {
		return StartResult{}, err
	}
	session, err := p.db.CreatePairingSession(ctx, model.PairingSession{
		Code:       code,
		DeviceName: req.DeviceName,
		Platform:   req.Platform,
		PublicKey:  req.PublicKey,
		Status:     model.PairingPending,
		CreatedAt:  now,
		ExpiresAt:  now.Add(p.ttl),
	})
	if err != nil {
		return StartResult{}, err
	}
	return StartResult{
		Bootstrap:        false,
		PendingPairingID: session.ID,
		PairingCode:      session.Code,
		ExpiresAt:        session.ExpiresAt,
	}, nil
}

func (p *Pairing) bootstrap(ctx context.Context, req StartRequest, now time.Time) (StartResult, error) {
	principal, err := p.db.CreatePrincipal(ctx, model.Principal{
		DisplayName: req.DisplayName,
		Status:      model.PrincipalActive,
		PublicKey:   req.PublicKey,
		CreatedAt:   now,
		UpdatedAt:   now,
	})
	if err != nil {
		return StartResult{}, err
	}

	deviceSecret, err := generateDeviceSecret()
	if err != nil {
		return StartResult{}, err
	}
	device, err := p.db.CreateClientDevice(ctx, model.ClientDevice{
		PrincipalID:      principal.ID,
		Name:             req.DeviceName,
		Platform:         req.Platform,
		DeviceSecretHash: hashSecret(deviceSecret),
		Status:           model.PrincipalActive,
		LastSeen:         &now,
		CreatedAt:        now,
	})
	if err != nil {
		return StartResult{}, err
	}
	if err := p.acl.EnsureDefaultGrantsForPrincipal(ctx, principal.ID); err != nil {
		return StartResult{}, err
	}

	accessToken, err := p.issuer.Issue(ticket.Claims{
		Kind:           ticket.KindClientAccess,
		PrincipalID:    principal.ID,
		ClientDeviceID: device.ID,
	}, ticket.TTLClientAccess, now)
	if err != nil {
		return StartResult{}, err
	}
	return StartResult{
		Bootstrap:      true,
		PrincipalID:    principal.ID,
		ClientDeviceID: device.ID,
		AccessToken:    accessToken,
		DeviceSecret:   deviceSecret,
	}, nil
}

// ConfirmRequest is the body of POST /api/v1/pairing/confirm, called by an
// already-authenticated principal holding the pairing code shown on the
// new device.
type ConfirmRequest struct {
	PendingPairingID string
	PairingCode      string
}

// Confirm validates the pairing code against the PairingSession named by
// req, enforcing the shared exponential lockout, and mints a new
// ClientDevice under confirmingPrincipalID on success.
func (p *Pairing) Confirm(ctx context.Context, confirmingPrincipalID string, req ConfirmRequest) (StartResult, error) {
	now := time.Now()
	session, err := p.db.GetPairingSession(ctx, req.PendingPairingID)
	if errors.Is(err, coordinatordb.ErrNotFound) || (err == nil && session.Status != model.PairingPending) {
		return StartResult{}, apierr.New(apierr.NotFound, "pairing session not found")
	}
	if err != nil {
		return StartResult{}, err
	}

	if err := p.checkLock(session.ID, now); err != nil {
		return StartResult{}, err
	}
	if !constantTimeEqual(session.Code, req.PairingCode) {
		p.recordFailure(session.ID, now)
		return StartResult{}, apierr.New(apierr.AuthInvalid, "invalid pairing code")
	}
	if now.After(session.ExpiresAt) {
		_ = p.db.ExpirePairingSession(ctx, session.ID)
		p.clearAttempts(session.ID)
		return StartResult{}, apierr.New(apierr.Gone, "pairing session expired")
	}

	deviceSecret, err := generateDeviceSecret()
	if err != nil {
		return StartResult{}, err
	}
	device, err := p.db.CreateClientDevice(ctx, model.ClientDevice{
		PrincipalID:      confirmingPrincipalID,
		Name:             session.DeviceName,
		Platform:         session.Platform,
		DeviceSecretHash: hashSecret(deviceSecret),
		Status:           model.PrincipalActive,
		LastSeen:         &now,
		CreatedAt:        now,
	})
	if err != nil {
		return StartResult{}, err
	}
	if err := p.db.ConfirmPairingSession(ctx, session.ID, confirmingPrincipalID, device.ID); err != nil {
		return StartResult{}, err
	}
	p.clearAttempts(session.ID)

	accessToken, err := p.issuer.Issue(ticket.Claims{
		Kind:           ticket.KindClientAccess,
		PrincipalID:    confirmingPrincipalID,
		ClientDeviceID: device.ID,
	}, ticket.TTLClientAccess, now)
	if err != nil {
		return StartResult{}, err
	}
	return StartResult{
		Bootstrap:      false,
		PrincipalID:    confirmingPrincipalID,
		ClientDeviceID: device.ID,
		AccessToken:    accessToken,
		DeviceSecret:   deviceSecret,
	}, nil
}

func (p *Pairing) checkLock(sessionID string, now time.Time) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	state := p.attempts[sessionID]
	if state == nil || state.lockedUntil == nil {
		return nil
	}
	if now.Before(*state.lockedUntil) {
		return apierr.New(apierr.RateLimited, "pairing temporarily locked")
	}
	state.lockedUntil = nil
	state.failureCount = 0
	return nil
}

func (p *Pairing) recordFailure(sessionID string, now time.Time) {
	p.mu.Lock()
	defer p.mu.Unlock()
	state := p.attempts[sessionID]
	if state == nil {
		state = &lockoutState{}
		p.attempts[sessionID] = state
	}
	state.failureCount++
	if state.failureCount >= maxPairingAttempts {
		until := now.Add(passcode.LockoutDuration(state.failureCount))
		state.lockedUntil = &until
	}
}

func (p *Pairing) clearAttempts(sessionID string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.attempts, sessionID)
}

func randomPairingCode() (string, error) {
	n, err := rand.Int(rand.Reader, big.NewInt(1_000_000))
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%06d", n.Int64()), nil
}

func generateDeviceSecret() (string, error) {
	raw := make([]byte, 32)
	if _, err := rand.Read(raw); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(raw), nil
}

const (
	deviceSecretArgonTime    = 1
	deviceSecretArgonMemory  = 64 * 1024
	deviceSecretArgonThreads = 4
	deviceSecretArgonKeyLen  = 32
	deviceSecretSaltLen      = 16
)

// hashSecret argon2id-hashes an arbitrary-length device secret, the same
// algorithm internal/passcode uses for four-digit codes (grounded on the
// original's argon2.PasswordHasher), self-describing as "salt$hash".
func hashSecret(secret string) string {
	salt := make([]byte, deviceSecretSaltLen)
	_, _ = rand.Read(salt)
	sum := argon2.IDKey([]byte(secret), salt, deviceSecretArgonTime, deviceSecretArgonMemory, deviceSecretArgonThreads, deviceSecretArgonKeyLen)
	return base64.RawStdEncoding.EncodeToString(salt) + "$" + base64.RawStdEncoding.EncodeToString(sum)
}

// VerifySecret checks candidate against a hash produced by hashSecret,
// exported for internal/httpapi/coordinator's auth/token handler, which
// performs the same device-secret check outside the pairing flow.
func VerifySecret(hash, candidate string) bool {
	return verifySecret(hash, candidate)
}

// verifySecret checks candidate against a hash produced by hashSecret.
func verifySecret(hash, candidate string) bool {
	sep := -1
	for i := 0; i < len(hash); i++ {
		if hash[i] == '$' {
			sep = i
			break
		}
	}
	if sep < 0 {
		return false
	}
	salt, err := base64.RawStdEncoding.DecodeString(hash[:sep])
	if err != nil {
		return false
	}
	want, err := base64.RawStdEncoding.DecodeString(hash[sep+1:])
	if err != nil {
		return false
	}
	got := argon2.IDKey([]byte(candidate), salt, deviceSecretArgonTime, deviceSecretArgonMemory, deviceSecretArgonThreads, deviceSecretArgonKeyLen)
	return subtle.ConstantTimeCompare(got, want) == 1
}

func constantTimeEqual(a, b string) bool {
	if len(a) != len(b) {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}
