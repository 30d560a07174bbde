package services

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/defeatedperson/ykc/internal/config"
	"github.com/defeatedperson/ykc/internal/models"
	"github.com/defeatedperson/ykc/pkg/logger"
	"gorm.io/gorm"
)

const (
	defaultTokenLength    = 32
	tokenGenerateAttempts = 10
	// width of the %08x unix-time suffix used by the fallback generator
	tokenTimestampWidth = 8
)

// FileResolver maps a user-relative path to a safe absolute path.
type FileResolver interface {
	ResolveAndValidateFile(userID uint, relPath string) (string, error)
}

// DownloadTokenService manages opaque, usage-budgeted download tokens.
// Expiry is lazy: rows are flipped inactive when they are looked at, and
// CleanupExpired sweeps whatever nobody looked at.
type DownloadTokenService struct {
	db             *gorm.DB
	files          FileResolver
	tokenLength    int
	defaultMaxUses int
	defaultExpiry  time.Duration
	retention      time.Duration
	now            func() time.Time
	random         io.Reader
}

func NewDownloadTokenService(db *gorm.DB, files FileResolver, cfg *config.DownloadConfig) *DownloadTokenService {
	length := cfg.TokenLength
	if length < 16 || length%2 != 0 || length > 64 {
		length = defaultTokenLength
	}
	maxUses := cfg.TokenMaxUses
	if maxUses <= 0 {
		maxUses = 5
	}
	expiry := cfg.TokenExpiryHours
	if expiry <= 0 {
		expiry = 12
	}
	retention := cfg.RetentionDays
	if retention <= 0 {
		retention = 30
	}

	return &DownloadTokenService{
		db:             db,
		files:          files,
		tokenLength:    length,
		defaultMaxUses: maxUses,
		defaultExpiry:  time.Duration(expiry) * time.Hour,
		retention:      time.Duration(retention) * 24 * time.Hour,
		now:            time.Now,
		random:         rand.Reader,
	}
}

// SetClock replaces the time source.
func (s *DownloadTokenService) SetClock(now func() time.Time) {
	s.now = now
}

// SetRandom replaces the entropy source used for token values.
func (s *DownloadTokenService) SetRandom(r io.Reader) {
	s.random = r
}

// Times are stored in UTC at second precision so that SQL comparisons
// behave the same on every driver.
func (s *DownloadTokenService) clock() time.Time {
	return s.now().UTC().Truncate(time.Second)
}

type GenerateTokenRequest struct {
	ShareCode   string
	UserID      uint
	FilePath    string
	FileName    string
	MaxUses     int // 0 uses the configured default
	ExpiryHours int // 0 uses the configured default
}

type GeneratedToken struct {
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expires_at"`
	MaxUses   int       `json:"max_uses"`
}

type TokenVerification struct {
	Token            *models.DownloadToken `json:"token_info"`
	RemainingUses    int                   `json:"remaining_uses"`
	ExpiresInSeconds int64                 `json:"expires_in_seconds"`
}

type TokenCleanupResult struct {
	Deactivated int64 `json:"deactivated"`
	Deleted     int64 `json:"deleted"`
}

type TokenStatistics struct {
	ActiveTokens    int64 `json:"active_tokens"`
	ExpiredTokens   int64 `json:"expired_tokens"`
	ExhaustedTokens int64 `json:"exhausted_tokens"`
	TodayGenerated  int64 `json:"today_generated"`
	TodayUsed       int64 `json:"today_used"`
}

// Generate issues a token bound to one file of one share.
func (s *DownloadTokenService) Generate(req *GenerateTokenRequest) (*GeneratedToken, error) {
	if req.ShareCode == "" || req.UserID == 0 || req.FilePath == "" || req.FileName == "" {
		return nil, ErrInvalidParameters
	}

	maxUses := req.MaxUses
	if maxUses <= 0 {
		maxUses = s.defaultMaxUses
	}
	expiry := s.defaultExpiry
	if req.ExpiryHours > 0 {
		expiry = time.Duration(req.ExpiryHours) * time.Hour
	}

	// The caller validated the share already; the path is checked again here
	// because the token outlives that check.
	if _, err := s.files.ResolveAndValidateFile(req.UserID, req.FilePath); err != nil {
		logger.Warn().Str("reason", ReasonOf(err)).Uint("user_id", req.UserID).Msg("download token refused for invalid path")
		return nil, ErrInvalidFilePath
	}

	if _, err := s.CleanupForShare(req.ShareCode); err != nil {
		logger.Warn().Err(err).Str("share_code", req.ShareCode).Msg("share token cleanup failed")
	}

	token, err := s.uniqueToken()
	if err != nil {
		return nil, err
	}

	now := s.clock()
	row := models.DownloadToken{
		Token:       token,
		ShareCode:   req.ShareCode,
		UserID:      req.UserID,
		FilePath:    req.FilePath,
		FileName:    req.FileName,
		CreatedTime: now,
		ExpiresAt:   now.Add(expiry),
		MaxUses:     maxUses,
		UsedCount:   0,
		IsActive:    true,
	}
	if err := s.db.Create(&row).Error; err != nil {
		logger.Error().Err(err).Msg("failed to store download token")
		return nil, ErrDatabase
	}

	return &GeneratedToken{Token: row.Token, ExpiresAt: row.ExpiresAt, MaxUses: row.MaxUses}, nil
}

// Verify reports whether token may still be redeemed. It never spends a use,
// but it does deactivate tokens it finds expired or exhausted.
func (s *DownloadTokenService) Verify(token string) (*TokenVerification, error) {
	if !s.validFormat(token) {
		return nil, ErrInvalidTokenFormat
	}

	var row models.DownloadToken
	err := s.db.Where("token = ?", token).First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrTokenNotFound
	}
	if err != nil {
		logger.Error().Err(err).Msg("download token lookup failed")
		return nil, ErrDatabase
	}

	now := s.clock()
	if !row.IsActive {
		return nil, inactiveReason(&row, now)
	}

	if now.After(row.ExpiresAt) {
		s.deactivate(row.ID)
		return nil, ErrTokenExpired
	}
	if row.UsedCount >= row.MaxUses {
		s.deactivate(row.ID)
		return nil, ErrTokenExhausted
	}

	return s.verification(&row, now), nil
}

// Consume verifies token and spends one use in a single transaction. The
// increment is a compare-and-swap on used_count, so concurrent redemptions
// can never exceed max_uses. The token is deactivated in the same
// transaction when its last use is spent.
func (s *DownloadTokenService) Consume(token string) (*TokenVerification, error) {
	verified, err := s.Verify(token)
	if err != nil {
		return nil, err
	}

	now := s.clock()
	var row models.DownloadToken
	lost := false

	err = s.db.Transaction(func(tx *gorm.DB) error {
		result := tx.Model(&models.DownloadToken{}).
			Where("id = ? AND is_active = ? AND used_count < max_uses AND expires_at >= ?", verified.Token.ID, true, now).
			Update("used_count", gorm.Expr("used_count + 1"))
		if result.Error != nil {
			return result.Error
		}
		if result.RowsAffected == 0 {
			lost = true
			return nil
		}

		if err := tx.Model(&models.DownloadToken{}).
			Where("id = ? AND used_count >= max_uses", verified.Token.ID).
			Update("is_active", false).Error; err != nil {
			return err
		}

		return tx.First(&row, verified.Token.ID).Error
	})
	if err != nil {
		logger.Error().Err(err).Msg("failed to consume download token")
		return nil, ErrDatabase
	}

	if lost {
		// Another request spent the last use or the token just expired;
		// re-verify to report which.
		if _, err := s.Verify(token); err != nil {
			return nil, err
		}
		return nil, ErrTokenExhausted
	}

	return s.verification(&row, now), nil
}

// Revoke deactivates an active token.
func (s *DownloadTokenService) Revoke(token string) error {
	if !s.validFormat(token) {
		return ErrInvalidTokenFormat
	}
	result := s.db.Model(&models.DownloadToken{}).
		Where("token = ? AND is_active = ?", token, true).
		Update("is_active", false)
	if result.Error != nil {
		logger.Error().Err(result.Error).Msg("failed to revoke download token")
		return ErrDatabase
	}
	if result.RowsAffected == 0 {
		return ErrTokenNotFound
	}
	return nil
}

// RevokeInShare deactivates token only if it was issued for shareCode.
func (s *DownloadTokenService) RevokeInShare(shareCode, token string) error {
	if !s.validFormat(token) {
		return ErrInvalidTokenFormat
	}
	result := s.db.Model(&models.DownloadToken{}).
		Where("token = ? AND share_code = ? AND is_active = ?", token, shareCode, true).
		Update("is_active", false)
	if result.Error != nil {
		logger.Error().Err(result.Error).Msg("failed to revoke download token")
		return ErrDatabase
	}
	if result.RowsAffected == 0 {
		return ErrTokenNotFound
	}
	return nil
}

// RevokeForShare deactivates every active token of a share.
func (s *DownloadTokenService) RevokeForShare(shareCode string) (int64, error) {
	result := s.db.Model(&models.DownloadToken{}).
		Where("share_code = ? AND is_active = ?", shareCode, true).
		Update("is_active", false)
	if result.Error != nil {
		logger.Error().Err(result.Error).Str("share_code", shareCode).Msg("failed to revoke share tokens")
		return 0, ErrDatabase
	}
	return result.RowsAffected, nil
}

// ListForShare returns a share's tokens, newest first.
func (s *DownloadTokenService) ListForShare(shareCode string, includeInactive bool) ([]models.DownloadToken, error) {
	query := s.db.Where("share_code = ?", shareCode)
	if !includeInactive {
		query = query.Where("is_active = ?", true)
	}

	var tokens []models.DownloadToken
	if err := query.Order("created_time DESC, id DESC").Find(&tokens).Error; err != nil {
		logger.Error().Err(err).Str("share_code", shareCode).Msg("failed to list share tokens")
		return nil, ErrDatabase
	}
	return tokens, nil
}

// CleanupExpired deactivates expired tokens and deletes rows older than the
// retention period regardless of state.
func (s *DownloadTokenService) CleanupExpired() (*TokenCleanupResult, error) {
	now := s.clock()

	deactivated := s.db.Model(&models.DownloadToken{}).
		Where("is_active = ? AND expires_at < ?", true, now).
		Update("is_active", false)
	if deactivated.Error != nil {
		logger.Error().Err(deactivated.Error).Msg("failed to deactivate expired tokens")
		return nil, ErrDatabase
	}

	deleted := s.db.Where("created_time < ?", now.Add(-s.retention)).Delete(&models.DownloadToken{})
	if deleted.Error != nil {
		logger.Error().Err(deleted.Error).Msg("failed to delete old tokens")
		return nil, ErrDatabase
	}

	return &TokenCleanupResult{Deactivated: deactivated.RowsAffected, Deleted: deleted.RowsAffected}, nil
}

// CleanupForShare deactivates the expired tokens of one share.
func (s *DownloadTokenService) CleanupForShare(shareCode string) (int64, error) {
	result := s.db.Model(&models.DownloadToken{}).
		Where("share_code = ? AND is_active = ? AND expires_at < ?", shareCode, true, s.clock()).
		Update("is_active", false)
	if result.Error != nil {
		return 0, ErrDatabase
	}
	return result.RowsAffected, nil
}

// Statistics surfaces rows that are still flagged active but already
// expired or exhausted, pending lazy cleanup.
func (s *DownloadTokenService) Statistics() (*TokenStatistics, error) {
	now := s.clock()
	local := s.now()
	startOfDay := time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, local.Location()).UTC()

	var stats TokenStatistics
	counts := []struct {
		dst   *int64
		query string
		args  []interface{}
	}{
		{&stats.ActiveTokens, "is_active = ?", []interface{}{true}},
		{&stats.ExpiredTokens, "is_active = ? AND expires_at < ?", []interface{}{true, now}},
		{&stats.ExhaustedTokens, "is_active = ? AND used_count >= max_uses", []interface{}{true}},
		{&stats.TodayGenerated, "created_time >= ?", []interface{}{startOfDay}},
		{&stats.TodayUsed, "used_count > 0 AND created_time >= ?", []interface{}{startOfDay}},
	}
	for _, c := range counts {
		if err := s.db.Model(&models.DownloadToken{}).Where(c.query, c.args...).Count(c.dst).Error; err != nil {
			logger.Error().Err(err).Msg("failed to compute token statistics")
			return nil, ErrDatabase
		}
	}
	return &stats, nil
}

func (s *DownloadTokenService) verification(row *models.DownloadToken, now time.Time) *TokenVerification {
	expiresIn := int64(row.ExpiresAt.Sub(now) / time.Second)
	if expiresIn < 0 {
		expiresIn = 0
	}
	return &TokenVerification{
		Token:            row,
		RemainingUses:    row.RemainingUses(),
		ExpiresInSeconds: expiresIn,
	}
}

func (s *DownloadTokenService) deactivate(id uint) {
	if err := s.db.Model(&models.DownloadToken{}).Where("id = ?", id).Update("is_active", false).Error; err != nil {
		logger.Warn().Err(err).Uint("token_id", id).Msg("failed to deactivate download token")
	}
}

// inactiveReason explains why a deactivated row can no longer be used.
// Revoked rows are reported as not found.
func inactiveReason(row *models.DownloadToken, now time.Time) error {
	switch {
	case row.UsedCount >= row.MaxUses:
		return ErrTokenExhausted
	case now.After(row.ExpiresAt):
		return ErrTokenExpired
	default:
		return ErrTokenNotFound
	}
}

func (s *DownloadTokenService) validFormat(token string) bool {
	if len(token) != s.tokenLength {
		return false
	}
	for i := 0; i < len(token); i++ {
		c := token[i]
		if !(c >= '0' && c <= '9' || c >= 'a' && c <= 'f') {
			return false
		}
	}
	return true
}

func (s *DownloadTokenService) randomHex(chars int) (string, error) {
	buf := make([]byte, chars/2)
	if _, err := io.ReadFull(s.random, buf); err != nil {
		return "", err
	}
	return hex.EncodeToString(buf), nil
}

func (s *DownloadTokenService) tokenExists(token string) (bool, error) {
	var count int64
	if err := s.db.Model(&models.DownloadToken{}).Where("token = ?", token).Count(&count).Error; err != nil {
		return false, err
	}
	return count > 0, nil
}

// uniqueToken draws random tokens until one is unused. After
// tokenGenerateAttempts collisions it switches to a random prefix plus a
// hex timestamp, stepping the timestamp until the value is free.
func (s *DownloadTokenService) uniqueToken() (string, error) {
	for i := 0; i < tokenGenerateAttempts; i++ {
		token, err := s.randomHex(s.tokenLength)
		if err != nil {
			logger.Error().Err(err).Msg("random source failed")
			return "", ErrSystem
		}
		exists, err := s.tokenExists(token)
		if err != nil {
			logger.Error().Err(err).Msg("token collision check failed")
			return "", ErrDatabase
		}
		if !exists {
			return token, nil
		}
	}

	prefix, err := s.randomHex(s.tokenLength - tokenTimestampWidth)
	if err != nil {
		logger.Error().Err(err).Msg("random source failed")
		return "", ErrSystem
	}
	stamp := uint32(s.now().Unix())
	for i := 0; i < 1000; i++ {
		token := prefix + fmt.Sprintf("%08x", stamp+uint32(i))
		exists, err := s.tokenExists(token)
		if err != nil {
			return "", ErrDatabase
		}
		if !exists {
			return token, nil
		}
	}
	return "", ErrSystem
}
