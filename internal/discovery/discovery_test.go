package discovery

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lanshare/lanshare/internal/acl"
	"github.com/lanshare/lanshare/internal/coordinatordb"
	"github.com/lanshare/lanshare/internal/ticket"
)

func TestRankPrefersHomeLANRanges(t *testing.T) {
	assert.Less(t, rank("192.168.1.5"), rank("10.0.0.5"))
	assert.Less(t, rank("10.0.0.5"), rank("172.16.0.5"))
	assert.Less(t, rank("172.16.0.5"), rank("8.8.8.8"))
	assert.Less(t, rank("8.8.8.8"), rank("127.0.0.1"))
}

func TestNormalizeBaseURLDefaultsSchemeAndPort(t *testing.T) {
	assert.Equal(t, "http://192.168.1.10:7000", NormalizeBaseURL("192.168.1.10", 7000))
	assert.Equal(t, "https://host:9", NormalizeBaseURL("https://host:9/", 7000))
	assert.Equal(t, "", NormalizeBaseURL("   ", 7000))
}

func TestCoordinatorSeedURLsDedupesAndRanks(t *testing.T) {
	seeds := CoordinatorSeedURLs([]string{"192.168.50.1:7000", "192.168.50.1"}, 7000)
	require.NotEmpty(t, seeds)
	assert.Equal(t, "http://192.168.50.1:7000", seeds[0])
	seen := map[string]bool{}
	for _, s := range seeds {
		assert.False(t, seen[s], "seed URLs must be deduplicated, got duplicate %s", s)
		seen[s] = true
	}
}

func TestSubnetSweepHostsExcludesNetworkAndBroadcast(t *testing.T) {
	hosts := SubnetSweepHosts()
	for _, h := range hosts {
		assert.NotEmpty(t, h)
		assert.False(t, strings.HasSuffix(h, ".0"), "network address %s must be excluded", h)
		assert.False(t, strings.HasSuffix(h, ".255"), "broadcast address %s must be excluded", h)
	}
}

func coordinatorHandler(service string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]string{"service": service})
	}
}

func TestProberDiscoversLiveCoordinatorAmongSeeds(t *testing.T) {
	coordinatorSrv := httptest.NewServer(coordinatorHandler("coordinator"))
	defer coordinatorSrv.Close()
	notCoordinatorSrv := httptest.NewServer(coordinatorHandler("agent"))
	defer notCoordinatorSrv.Close()

	p := NewProber(&http.Client{Timeout: 2 * time.Second})
	found := p.probeMany(context.Background(), []string{coordinatorSrv.URL + "/", notCoordinatorSrv.URL + "/"}, time.Second, 4, 8, map[string]bool{})
	require.Len(t, found, 1)
	assert.Equal(t, coordinatorSrv.URL, found[0])
}

func TestProberCachesResultsWithinTTL(t *testing.T) {
	calls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		_ = json.NewEncoder(w).Encode(map[string]string{"service": "coordinator"})
	}))
	defer srv.Close()

	p := NewProber(&http.Client{Timeout: 2 * time.Second})
	opts := DiscoverOptions{Port: 7000, SeedHints: []string{srv.URL}, MaxResults: 1, CacheTTL: time.Minute}
	first := p.Discover(context.Background(), opts)
	require.Len(t, first, 1)
	callsAfterFirst := calls

	second := p.Discover(context.Background(), opts)
	assert.Equal(t, first, second)
	assert.Equal(t, callsAfterFirst, calls, "second Discover within TTL must hit the cache, not probe again")
}

func TestPairingBootstrapsFirstPrincipalThenRequiresPairingSession(t *testing.T) {
	p, db := newTestPairing(t)

	first, err := p.Start(context.Background(), StartRequest{DisplayName: "Alice", DeviceName: "laptop", Platform: "linux"})
	require.NoError(t, err)
	assert.True(t, first.Bootstrap)
	assert.NotEmpty(t, first.PrincipalID)
	assert.NotEmpty(t, first.AccessToken)
	assert.NotEmpty(t, first.DeviceSecret)

	count, err := db.CountPrincipals(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, count)

	second, err := p.Start(context.Background(), StartRequest{DisplayName: "Bob", DeviceName: "phone", Platform: "android"})
	require.NoError(t, err)
	assert.False(t, second.Bootstrap)
	assert.NotEmpty(t, second.PendingPairingID)
	assert.Len(t, second.PairingCode, 6)
}

func TestPairingConfirmRejectsWrongCodeThenLocksAfterMaxAttempts(t *testing.T) {
	p, _ := newTestPairing(t)
	_, err := p.Start(context.Background(), StartRequest{DisplayName: "Alice", DeviceName: "laptop", Platform: "linux"})
	require.NoError(t, err)
	started, err := p.Start(context.Background(), StartRequest{DisplayName: "Bob", DeviceName: "phone", Platform: "android"})
	require.NoError(t, err)

	for i := 0; i < maxPairingAttempts-1; i++ {
		_, err := p.Confirm(context.Background(), "principal-x", ConfirmRequest{PendingPairingID: started.PendingPairingID, PairingCode: "000000"})
		require.Error(t, err)
	}
	_, err = p.Confirm(context.Background(), "principal-x", ConfirmRequest{PendingPairingID: started.PendingPairingID, PairingCode: "000000"})
	require.Error(t, err)

	_, err = p.Confirm(context.Background(), "principal-x", ConfirmRequest{PendingPairingID: started.PendingPairingID, PairingCode: started.PairingCode})
	require.Error(t, err, "session should now be locked regardless of a correct code")
}

func TestPairingConfirmSucceedsWithCorrectCode(t *testing.T) {
	p, _ := newTestPairing(t)
	bootstrap, err := p.Start(context.Background(), StartRequest{DisplayName: "Alice", DeviceName: "laptop", Platform: "linux"})
	require.NoError(t, err)
	started, err := p.Start(context.Background(), StartRequest{DisplayName: "Bob", DeviceName: "phone", Platform: "android"})
	require.NoError(t, err)

	result, err := p.Confirm(context.Background(), bootstrap.PrincipalID, ConfirmRequest{PendingPairingID: started.PendingPairingID, PairingCode: started.PairingCode})
	require.NoError(t, err)
	assert.Equal(t, bootstrap.PrincipalID, result.PrincipalID)
	assert.NotEmpty(t, result.ClientDeviceID)
	assert.NotEmpty(t, result.DeviceSecret)
}

func TestHashSecretRoundTrips(t *testing.T) {
	hash := hashSecret("a-device-secret")
	assert.True(t, verifySecret(hash, "a-device-secret"))
	assert.False(t, verifySecret(hash, "wrong-secret"))
}

func newTestPairing(t *testing.T) (*Pairing, *coordinatordb.DB) {
	t.Helper()
	db, err := coordinatordb.Open(context.Background(), ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	aclEngine := acl.New(db)
	issuer := ticket.NewIssuer("test-secret-key")
	return NewPairing(db, aclEngine, issuer, 2*time.Second), db
}
