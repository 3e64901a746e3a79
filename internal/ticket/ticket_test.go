package ticket

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIssueDecodeRoundTrip(t *testing.T) {
	iss := NewIssuer("super-secret")
	now := time.Now()

	token, err := iss.Issue(Claims{
		Kind:        KindReadTicket,
		PrincipalID: "p1",
		ShareID:     "s1",
		Permissions: []string{"read", "download"},
	}, TTLReadTicket, now)
	require.NoError(t, err)

	claims, err := iss.Decode(token, now.Add(time.Second))
	require.NoError(t, err)
	assert.Equal(t, "p1", claims.PrincipalID)
	assert.Equal(t, "s1", claims.ShareID)
	assert.ElementsMatch(t, []string{"read", "download"}, claims.Permissions)
}

func TestDecodeRejectsTamperedBody(t *testing.T) {
	iss := NewIssuer("super-secret")
	now := time.Now()
	token, err := iss.Issue(Claims{Kind: KindClientAccess, PrincipalID: "p1"}, TTLClientAccess, now)
	require.NoError(t, err)

	tampered := token[:len(token)-2] + "zz"
	_, err = iss.Decode(tampered, now)
	assert.ErrorIs(t, err, ErrTicket)
}

func TestDecodeRejectsWrongSecret(t *testing.T) {
	a := NewIssuer("secret-a")
	b := NewIssuer("secret-b")
	now := time.Now()
	token, err := a.Issue(Claims{Kind: KindClientAccess, PrincipalID: "p1"}, TTLClientAccess, now)
	require.NoError(t, err)

	_, err = b.Decode(token, now)
	assert.ErrorIs(t, err, ErrTicket)
}

func TestDecodeRejectsExpired(t *testing.T) {
	iss := NewIssuer("super-secret")
	now := time.Now()
	token, err := iss.Issue(Claims{Kind: KindEventsWS, PrincipalID: "p1"}, TTLEventsWS, now)
	require.NoError(t, err)

	_, err = iss.Decode(token, now.Add(TTLEventsWS+time.Second))
	assert.ErrorIs(t, err, ErrTicket)
}

func TestVerifyEnforcesKindAndBinding(t *testing.T) {
	iss := NewIssuer("super-secret")
	now := time.Now()
	token, err := iss.Issue(Claims{
		Kind:    KindReadTicket,
		ShareID: "share-1",
		Permissions: []string{"read"},
	}, TTLReadTicket, now)
	require.NoError(t, err)

	_, err = iss.Verify(token, KindTransferUploadTicket, now, nil)
	assert.ErrorIs(t, err, ErrTicket, "wrong kind must fail")

	_, err = iss.Verify(token, KindReadTicket, now, func(c Claims) bool {
		return c.ShareID == "share-2"
	})
	assert.ErrorIs(t, err, ErrTicket, "wrong binding must fail")

	claims, err := iss.Verify(token, KindReadTicket, now, func(c Claims) bool {
		return c.ShareID == "share-1"
	})
	require.NoError(t, err)
	assert.Equal(t, "share-1", claims.ShareID)
}

func TestDecodeRejectsMalformedToken(t *testing.T) {
	iss := NewIssuer("super-secret")
	now := time.Now()
	_, err := iss.Decode("not-a-valid-token", now)
	assert.ErrorIs(t, err, ErrTicket)
}
