// Package passcode implements the Argon2id-hashed 4-digit sender passcode
// gate (C3) and the shared exponential-lockout formula it has in common
// with the pairing-code path, grounded on
// _examples/original_source/coordinator/services/passcode.py.
package passcode

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"regexp"
	"time"

	"golang.org/x/crypto/argon2"
)

// DefaultWindowSeconds is the passcode window lifetime, per spec.md §4.3.
const DefaultWindowSeconds = 300

var fourDigits = regexp.MustCompile(`^\d{4}$`)

// Errors surfaced by Verify; callers map these to apierr kinds.
var (
	ErrInvalidFormat = errors.New("passcode must be exactly four digits")
	ErrExpired       = errors.New("expired")
	ErrLocked        = errors.New("locked")
	ErrInvalid       = errors.New("invalid")
)

const (
	argonTime    = 1
	argonMemory  = 64 * 1024
	argonThreads = 4
	argonKeyLen  = 32
	saltLen      = 16
)

// Hash returns a self-describing Argon2id hash string "salt$hash", both
// base64-encoded, for storage in PasscodeWindow.PasscodeHash.
func Hash(code string) (string, error) {
	if !fourDigits.MatchString(code) {
		return "", ErrInvalidFormat
	}
	salt := make([]byte, saltLen)
	if _, err := rand.Read(salt); err != nil {
		return "", err
	}
	sum := argon2.IDKey([]byte(code), salt, argonTime, argonMemory, argonThreads, argonKeyLen)
	return base64.RawStdEncoding.EncodeToString(salt) + "$" + base64.RawStdEncoding.EncodeToString(sum), nil
}

// Matches verifies code against a stored hash in constant time.
func Matches(code, hash string) bool {
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
	got := argon2.IDKey([]byte(code), salt, argonTime, argonMemory, argonThreads, argonKeyLen)
	return subtle.ConstantTimeCompare(got, want) == 1
}

// LockoutDuration implements the shared exponential-lockout formula:
// lock_seconds = min(300, 2^min(failure_count,8)), used identically by
// PasscodeWindow verification and the in-memory pairing-code path.
func LockoutDuration(failureCount int) time.Duration {
	exp := failureCount
	if exp > 8 {
		exp = 8
	}
	seconds := 1 << uint(exp)
	if seconds > 300 {
		seconds = 300
	}
	return time.Duration(seconds) * time.Second
}

// ValidFormat reports whether code is exactly four decimal digits.
func ValidFormat(code string) bool {
	return fourDigits.MatchString(code)
}

// Window is the in-memory representation used by both the persisted
// PasscodeWindow verification (internal/transfer) and the pairing-code
// path (internal/discovery), which shares the same attempt/lockout shape
// but keeps no database row, per spec.md §4.3 "in process-local memory".
type Window struct {
	AttemptsLeft int
	FailureCount int
	LockedUntil  *time.Time
	ExpiresAt    time.Time
}

// NewWindow starts a fresh window with attempts_left=5, failure_count=0.
func NewWindow(now time.Time, windowSeconds int) Window {
	if windowSeconds <= 0 {
		windowSeconds = DefaultWindowSeconds
	}
	return Window{
		AttemptsLeft: 5,
		FailureCount: 0,
		ExpiresAt:    now.Add(time.Duration(windowSeconds) * time.Second),
	}
}

// Verify applies spec.md §4.3's verification algorithm in place and
// returns nil on success or one of the sentinel errors above.
func (w *Window) Verify(now time.Time, codeHash, code string) error {
	if now.After(w.ExpiresAt) {
		return ErrExpired
	}
	if w.LockedUntil != nil && now.Before(*w.LockedUntil) {
		return ErrLocked
	}
	if Matches(code, codeHash) {
		w.AttemptsLeft = 5
		w.LockedUntil = nil
		return nil
	}
	w.FailureCount++
	w.AttemptsLeft--
	if w.AttemptsLeft <= 0 {
		until := now.Add(LockoutDuration(w.FailureCount))
		w.LockedUntil = &until
		w.AttemptsLeft = 5
	}
	return ErrInvalid
}
