package services

import (
	"encoding/base64"
	"encoding/json"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/require"
)

type tempTokenFixture struct {
	svc    *TempTokenService
	ledger *IPLedger
	bans   *recordingBanner
	clock  *fakeClock
}

func newTempTokenFixture(t *testing.T) *tempTokenFixture {
	t.Helper()
	clock := newFakeClock(time.Date(2026, 5, 10, 9, 0, 0, 0, time.Local))
	bans := newRecordingBanner()
	ledger := NewIPLedger(filepath.Join(t.TempDir(), "temp-jwt.json"), 10*time.Minute, 20, bans)
	svc := NewTempTokenService(ledger, bans, "test-salt")
	svc.SetClock(clock.Now)
	return &tempTokenFixture{svc: svc, ledger: ledger, bans: bans, clock: clock}
}

func TestTempToken_RoundTrip(t *testing.T) {
	f := newTempTokenFixture(t)

	token, err := f.svc.Issue("1.2.3.4", "mfa", "")
	require.NoError(t, err)
	require.Len(t, strings.Split(token, "."), 3)

	f.clock.Advance(299 * time.Second)
	claims, err := f.svc.Validate("1.2.3.4", token)
	require.NoError(t, err)
	require.Equal(t, "mfa", claims.Scene)
	require.Empty(t, claims.Username)
}

func TestTempToken_WireFormat(t *testing.T) {
	f := newTempTokenFixture(t)

	token, err := f.svc.Issue("1.2.3.4", "ACCOUNT", "alice")
	require.NoError(t, err)

	parts := strings.Split(token, ".")
	require.Len(t, parts, 3)
	for _, p := range parts {
		require.NotContains(t, p, "=", "segments must be unpadded")
	}

	header, err := base64.RawURLEncoding.DecodeString(parts[0])
	require.NoError(t, err)
	require.JSONEq(t, `{"alg":"HS256","typ":"JWT"}`, string(header))

	payload, err := base64.RawURLEncoding.DecodeString(parts[1])
	require.NoError(t, err)
	var claims map[string]interface{}
	require.NoError(t, json.Unmarshal(payload, &claims))
	require.Equal(t, "1.2.3.4", claims["ip"])
	require.Equal(t, "account", claims["scene"])
	require.Equal(t, "alice", claims["username"])
	require.Equal(t, float64(300), claims["exp"].(float64)-claims["iat"].(float64))
}

func TestTempToken_Expiry(t *testing.T) {
	f := newTempTokenFixture(t)

	token, err := f.svc.Issue("1.2.3.4", "mfa", "")
	require.NoError(t, err)

	f.clock.Advance(301 * time.Second)
	_, err = f.svc.Validate("1.2.3.4", token)
	require.ErrorIs(t, err, ErrTempTokenExpired)
	require.Equal(t, "expired", ReasonOf(err))
}

func TestTempToken_IPBinding(t *testing.T) {
	f := newTempTokenFixture(t)

	token, err := f.svc.Issue("1.2.3.4", "mfa", "")
	require.NoError(t, err)

	_, err = f.svc.Validate("5.6.7.8", token)
	require.Equal(t, "ip", ReasonOf(err))
}

func TestTempToken_DailyKeyRotation(t *testing.T) {
	f := newTempTokenFixture(t)
	f.clock.Set(time.Date(2026, 5, 10, 23, 59, 0, 0, time.Local))

	yesterday, err := f.svc.Issue("1.2.3.4", "robots", "")
	require.NoError(t, err)

	f.clock.Set(time.Date(2026, 5, 11, 0, 1, 0, 0, time.Local))
	today, err := f.svc.Issue("1.2.3.4", "robots", "")
	require.NoError(t, err)

	require.NotEqual(t,
		strings.Split(yesterday, ".")[2],
		strings.Split(today, ".")[2])

	_, err = f.svc.Validate("1.2.3.4", yesterday)
	require.Equal(t, "signature", ReasonOf(err))

	// Even with exp pushed forward, yesterday's key cannot sign for today.
	forged := jwt.NewWithClaims(jwt.SigningMethodHS256, &TempTokenClaims{
		IP:        "1.2.3.4",
		Scene:     "robots",
		IssuedAt:  f.clock.Now().Unix(),
		ExpiresAt: f.clock.Now().Add(time.Hour).Unix(),
	})
	signed, err := forged.SignedString(deriveDailyKey("20260510", f.svc.hostname, f.svc.salt))
	require.NoError(t, err)
	_, err = f.svc.Validate("1.2.3.4", signed)
	require.Equal(t, "signature", ReasonOf(err))
}

func TestTempToken_InvalidSceneLooksLikeLimit(t *testing.T) {
	f := newTempTokenFixture(t)

	_, err := f.svc.Issue("1.2.3.4", "admin", "")
	require.ErrorIs(t, err, ErrTempTokenLimited)

	_, ok, err := f.ledger.Get("1.2.3.4")
	require.NoError(t, err)
	require.False(t, ok, "invalid scene must not touch the ledger")
}

func TestTempToken_FormatAndSignature(t *testing.T) {
	f := newTempTokenFixture(t)

	for _, bad := range []string{"", "abc", "a.b", "a.b.c.d"} {
		_, err := f.svc.Validate("1.2.3.4", bad)
		require.Equal(t, "format", ReasonOf(err), "token %q", bad)
	}

	// three segments are enough to reach the signature check
	for _, forged := range []string{"!!.??.##", "e30.e30.c2ln"} {
		_, err := f.svc.Validate("1.2.3.4", forged)
		require.Equal(t, "signature", ReasonOf(err), "token %q", forged)
	}

	token, err := f.svc.Issue("1.2.3.4", "mfa", "")
	require.NoError(t, err)
	parts := strings.Split(token, ".")
	tampered := parts[0] + "." + parts[1] + "." + base64.RawURLEncoding.EncodeToString([]byte("not-the-signature-of-this-token!"))
	_, err = f.svc.Validate("1.2.3.4", tampered)
	require.Equal(t, "signature", ReasonOf(err))

	none := base64.RawURLEncoding.EncodeToString([]byte(`{"alg":"none","typ":"JWT"}`)) + "." + parts[1] + "."
	_, err = f.svc.Validate("1.2.3.4", none)
	require.Equal(t, "signature", ReasonOf(err))

	// correctly signed garbage is a format problem, not a forgery
	key := f.svc.dailyKey(f.clock.Now())
	garbage := base64.RawURLEncoding.EncodeToString([]byte(`{"alg":"HS256","typ":"JWT"}`)) + "." +
		base64.RawURLEncoding.EncodeToString([]byte("not json"))
	sig, err := jwt.SigningMethodHS256.Sign(garbage, key)
	require.NoError(t, err)
	_, err = f.svc.Validate("1.2.3.4", garbage+"."+base64.RawURLEncoding.EncodeToString(sig))
	require.Equal(t, "format", ReasonOf(err))
}

func TestTempToken_MissingScene(t *testing.T) {
	f := newTempTokenFixture(t)
	now := f.clock.Now()
	tok := jwt.NewWithClaims(jwt.SigningMethodHS256, &TempTokenClaims{
		IP:        "1.2.3.4",
		IssuedAt:  now.Unix(),
		ExpiresAt: now.Add(time.Minute).Unix(),
	})
	signed, err := tok.SignedString(f.svc.dailyKey(now))
	require.NoError(t, err)

	_, err = f.svc.Validate("1.2.3.4", signed)
	require.Equal(t, "scene", ReasonOf(err))
}

func TestTempToken_IssueBansAfterLimit(t *testing.T) {
	f := newTempTokenFixture(t)

	for i := 0; i < 20; i++ {
		_, err := f.svc.Issue("6.6.6.6", "robots", "")
		require.NoError(t, err, "attempt %d", i+1)
	}

	_, err := f.svc.Issue("6.6.6.6", "robots", "")
	require.ErrorIs(t, err, ErrTempTokenBanned)

	status, _ := f.bans.IsBanned("6.6.6.6")
	require.True(t, status.Banned)
	_, ok, err := f.ledger.Get("6.6.6.6")
	require.NoError(t, err)
	require.False(t, ok)

	// Banned IPs are refused before the ledger is consulted.
	_, err = f.svc.Issue("6.6.6.6", "robots", "")
	require.ErrorIs(t, err, ErrTempTokenBanned)
}

func TestTempToken_ValidationIsRateLimited(t *testing.T) {
	f := newTempTokenFixture(t)

	token, err := f.svc.Issue("7.7.7.7", "account", "bob")
	require.NoError(t, err)

	// One attempt was spent on issue; 19 more validations are allowed.
	for i := 0; i < 19; i++ {
		claims, err := f.svc.Validate("7.7.7.7", token)
		require.NoError(t, err, "validation %d", i+1)
		require.Equal(t, "bob", claims.Username)
	}

	_, err = f.svc.Validate("7.7.7.7", token)
	require.Equal(t, "banned", ReasonOf(err))
	status, _ := f.bans.IsBanned("7.7.7.7")
	require.True(t, status.Banned)
}

func TestTempToken_FailedValidationDoesNotCount(t *testing.T) {
	f := newTempTokenFixture(t)

	for i := 0; i < 50; i++ {
		_, err := f.svc.Validate("8.8.8.8", "a.b.c")
		require.Error(t, err)
	}
	_, ok, err := f.ledger.Get("8.8.8.8")
	require.NoError(t, err)
	require.False(t, ok)
}
