package services

import (
	"crypto/sha256"
	"encoding/base64"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/defeatedperson/ykc/pkg/logger"
	"github.com/golang-jwt/jwt/v5"
)

// Scenes a temporary token can be scoped to.
const (
	SceneAccount = "account"
	SceneMFA     = "mfa"
	SceneRobots  = "robots"
)

const TempTokenTTL = 300 * time.Second

var tempTokenScenes = map[string]bool{
	SceneAccount: true,
	SceneMFA:     true,
	SceneRobots:  true,
}

// BanChecker reports whether an IP is currently banned.
type BanChecker interface {
	IsBanned(ip string) (BanStatus, error)
}

// TempTokenClaims is the payload of a temporary token.
type TempTokenClaims struct {
	IP        string `json:"ip"`
	Scene     string `json:"scene"`
	IssuedAt  int64  `json:"iat"`
	ExpiresAt int64  `json:"exp"`
	Username  string `json:"username,omitempty"`
}

// jwt.Claims implementation. Validation is done by hand in Validate so that
// each failure maps to its own reason.
func (c *TempTokenClaims) GetExpirationTime() (*jwt.NumericDate, error) {
	return jwt.NewNumericDate(time.Unix(c.ExpiresAt, 0)), nil
}
func (c *TempTokenClaims) GetIssuedAt() (*jwt.NumericDate, error) {
	return jwt.NewNumericDate(time.Unix(c.IssuedAt, 0)), nil
}
func (c *TempTokenClaims) GetNotBefore() (*jwt.NumericDate, error) { return nil, nil }
func (c *TempTokenClaims) GetIssuer() (string, error)              { return "", nil }
func (c *TempTokenClaims) GetSubject() (string, error)             { return c.Username, nil }
func (c *TempTokenClaims) GetAudience() (jwt.ClaimStrings, error)  { return nil, nil }

// TempTokenService issues and checks short-lived, IP-bound tokens that gate
// sensitive actions. Tokens are signed with a key derived from the current
// date, so every token dies at midnight at the latest.
type TempTokenService struct {
	ledger   *IPLedger
	bans     BanChecker
	hostname string
	salt     string
	ttl      time.Duration
	now      func() time.Time

	keyMu   sync.Mutex
	keyDate string
	key     []byte
}

func NewTempTokenService(ledger *IPLedger, bans BanChecker, salt string) *TempTokenService {
	host, err := os.Hostname()
	if err != nil {
		host = "localhost"
	}
	return &TempTokenService{
		ledger:   ledger,
		bans:     bans,
		hostname: host,
		salt:     salt,
		ttl:      TempTokenTTL,
		now:      time.Now,
	}
}

// SetClock replaces the time source of the service and its ledger.
func (s *TempTokenService) SetClock(now func() time.Time) {
	s.now = now
	s.ledger.SetClock(now)
}

// Issue signs a token for ip scoped to scene. Unknown scenes are rejected
// with the same error as throttled callers.
func (s *TempTokenService) Issue(ip, scene, username string) (string, error) {
	scene = strings.ToLower(strings.TrimSpace(scene))
	if !tempTokenScenes[scene] {
		return "", ErrTempTokenLimited
	}

	status, err := s.bans.IsBanned(ip)
	if err != nil {
		return "", err
	}
	if status.Banned {
		return "", ErrTempTokenBanned
	}

	rec, err := s.ledger.RecordAttempt(ip)
	if err != nil {
		return "", err
	}
	if s.ledger.IsOverLimit(rec) {
		if err := s.ledger.BanAndClear(ip); err != nil {
			return "", err
		}
		return "", ErrTempTokenBanned
	}

	now := s.now()
	claims := &TempTokenClaims{
		IP:        ip,
		Scene:     scene,
		IssuedAt:  now.Unix(),
		ExpiresAt: now.Add(s.ttl).Unix(),
		Username:  username,
	}

	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.dailyKey(now))
	if err != nil {
		logger.Error().Err(err).Msg("failed to sign temporary token")
		return "", ErrSystem
	}
	return token, nil
}

// Validate checks token for ip. Rejections are reported in a fixed order:
// format, signature, expired, ip, scene. A structurally valid token still
// counts as an attempt against the ledger and may trigger a ban.
func (s *TempTokenService) Validate(ip, token string) (*TempTokenClaims, error) {
	if strings.Count(token, ".") != 2 {
		return nil, ErrTempTokenFormat
	}

	now := s.now()
	key := s.dailyKey(now)

	// The signature is checked before the payload is decoded, so a forged
	// token never reaches the claims parser.
	if !signatureMatches(token, key) {
		return nil, ErrTempTokenSignature
	}

	claims := &TempTokenClaims{}
	_, err := jwt.NewParser(
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithoutClaimsValidation(),
	).ParseWithClaims(token, claims, func(t *jwt.Token) (interface{}, error) {
		return key, nil
	})
	if err != nil {
		return nil, ErrTempTokenFormat
	}

	if claims.ExpiresAt == 0 || now.Unix() > claims.ExpiresAt {
		return nil, ErrTempTokenExpired
	}
	if claims.IP != ip {
		return nil, ErrTempTokenIP
	}
	if claims.Scene == "" {
		return nil, ErrTempTokenScene
	}

	status, err := s.bans.IsBanned(ip)
	if err != nil {
		return nil, err
	}
	if status.Banned {
		return nil, ErrTempTokenBanned
	}

	rec, err := s.ledger.RecordAttempt(ip)
	if err != nil {
		return nil, err
	}
	if s.ledger.IsOverLimit(rec) {
		if err := s.ledger.BanAndClear(ip); err != nil {
			return nil, err
		}
		return nil, ErrTempTokenBanned
	}

	return claims, nil
}

// signatureMatches recomputes the HS256 signature over the first two
// segments of token.
func signatureMatches(token string, key []byte) bool {
	parts := strings.Split(token, ".")
	if len(parts) != 3 {
		return false
	}
	sig, err := base64.RawURLEncoding.DecodeString(parts[2])
	if err != nil {
		return false
	}
	return jwt.SigningMethodHS256.Verify(parts[0]+"."+parts[1], sig, key) == nil
}

// dailyKey returns the signing key for the calendar date of now. Only the
// current day's key is kept.
func (s *TempTokenService) dailyKey(now time.Time) []byte {
	date := now.Format("20060102")

	s.keyMu.Lock()
	defer s.keyMu.Unlock()

	if s.keyDate == date {
		return s.key
	}
	s.key = deriveDailyKey(date, s.hostname, s.salt)
	s.keyDate = date
	return s.key
}

func deriveDailyKey(date, hostname, salt string) []byte {
	sum := sha256.Sum256([]byte(date + hostname + salt))
	return []byte(base64.StdEncoding.EncodeToString(sum[:]))
}

