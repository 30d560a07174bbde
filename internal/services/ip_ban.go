package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/defeatedperson/ykc/internal/models"
	"github.com/defeatedperson/ykc/pkg/logger"
	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const banKeyPrefix = "ykc:ban:"

// BanStatus reports whether an IP is blocked and until when. Until is nil
// for permanent bans.
type BanStatus struct {
	Banned bool       `json:"banned"`
	Until  *time.Time `json:"until,omitempty"`
}

// IPBanService is the ban list backing both the ephemeral token ledger and
// session verification. The database is authoritative; Redis, when present,
// mirrors active bans for a cheaper lookup.
type IPBanService struct {
	db       *gorm.DB
	rdb      *redis.Client
	duration time.Duration
	now      func() time.Time
}

// NewIPBanService creates a ban list. banHours <= 0 makes bans permanent.
// rdb may be nil.
func NewIPBanService(db *gorm.DB, banHours int, rdb *redis.Client) *IPBanService {
	var d time.Duration
	if banHours > 0 {
		d = time.Duration(banHours) * time.Hour
	}
	return &IPBanService{db: db, rdb: rdb, duration: d, now: time.Now}
}

// SetClock replaces the time source.
func (s *IPBanService) SetClock(now func() time.Time) {
	s.now = now
}

func (s *IPBanService) IsBanned(ip string) (BanStatus, error) {
	if ip == "" {
		return BanStatus{}, nil
	}

	if s.rdb != nil {
		if status, ok := s.lookupRedis(ip); ok {
			return status, nil
		}
	}

	var ban models.BannedIP
	err := s.db.Where("ip = ?", ip).First(&ban).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return BanStatus{}, nil
	}
	if err != nil {
		logger.Error().Err(err).Str("ip", ip).Msg("ban lookup failed")
		return BanStatus{}, ErrDatabase
	}

	if !ban.ActiveAt(s.now()) {
		// Expired bans are removed on first sight.
		if err := s.db.Delete(&ban).Error; err != nil {
			logger.Warn().Err(err).Str("ip", ip).Msg("failed to remove expired ban")
		}
		return BanStatus{}, nil
	}

	return BanStatus{Banned: true, Until: ban.ExpiresAt}, nil
}

// Ban blocks ip for the configured duration. Banning an already banned IP
// restarts its ban period.
func (s *IPBanService) Ban(ip, reason string) error {
	if ip == "" {
		return ErrInvalidParameters
	}

	ban := models.BannedIP{IP: ip, Reason: reason}
	if s.duration > 0 {
		until := s.now().Add(s.duration)
		ban.ExpiresAt = &until
	}

	err := s.db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "ip"}},
		DoUpdates: clause.AssignmentColumns([]string{"reason", "expires_at", "updated_at"}),
	}).Create(&ban).Error
	if err != nil {
		logger.Error().Err(err).Str("ip", ip).Msg("failed to store ban")
		return ErrDatabase
	}

	if s.rdb != nil {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		if err := s.rdb.Set(ctx, banKeyPrefix+ip, reason, s.duration).Err(); err != nil {
			logger.Warn().Err(err).Str("ip", ip).Msg("failed to mirror ban to redis")
		}
	}

	logger.Warn().Str("ip", ip).Str("reason", reason).Msg("ip banned")
	LogWarning("security", "ip_ban", fmt.Sprintf("IP %s banned: %s", ip, reason), nil, ip, "", map[string]interface{}{
		"expires_at": ban.ExpiresAt,
	})
	return nil
}

// Unban lifts a ban. It reports whether a ban existed.
func (s *IPBanService) Unban(ip string) (bool, error) {
	result := s.db.Where("ip = ?", ip).Delete(&models.BannedIP{})
	if result.Error != nil {
		logger.Error().Err(result.Error).Str("ip", ip).Msg("failed to remove ban")
		return false, ErrDatabase
	}

	if s.rdb != nil {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		if err := s.rdb.Del(ctx, banKeyPrefix+ip).Err(); err != nil {
			logger.Warn().Err(err).Str("ip", ip).Msg("failed to remove redis ban mirror")
		}
	}

	if result.RowsAffected > 0 {
		LogInfo("security", "ip_unban", fmt.Sprintf("IP %s unbanned", ip), nil, ip, "", nil)
	}
	return result.RowsAffected > 0, nil
}

// List returns current bans, newest first. Expired rows are skipped.
func (s *IPBanService) List() ([]models.BannedIP, error) {
	var bans []models.BannedIP
	if err := s.db.Where("expires_at IS NULL OR expires_at > ?", s.now()).
		Order("created_at DESC").Find(&bans).Error; err != nil {
		logger.Error().Err(err).Msg("failed to list bans")
		return nil, ErrDatabase
	}
	return bans, nil
}

func (s *IPBanService) lookupRedis(ip string) (BanStatus, bool) {
	ctx, cancel := context.WithTimeout(context.Background(), 500*time.Millisecond)
	defer cancel()

	ttl, err := s.rdb.TTL(ctx, banKeyPrefix+ip).Result()
	if err != nil {
		return BanStatus{}, false
	}
	// go-redis reports -1 for keys without expiry and -2 for missing keys.
	if ttl == -1 {
		return BanStatus{Banned: true}, true
	}
	if ttl <= 0 {
		return BanStatus{}, false
	}
	until := s.now().Add(ttl)
	return BanStatus{Banned: true, Until: &until}, true
}
