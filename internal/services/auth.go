package services

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/defeatedperson/ykc/internal/config"
	"github.com/defeatedperson/ykc/internal/models"
	"github.com/defeatedperson/ykc/internal/utils"
	"github.com/defeatedperson/ykc/pkg/logger"
	"gorm.io/gorm"
)

const defaultRefreshHours = 720

type AuthService struct {
	db        *gorm.DB
	jwtConfig *config.JWTConfig
	configSvc *SystemConfigService
	mfa       *MFAService
}

func NewAuthService(db *gorm.DB, jwtCfg *config.JWTConfig) *AuthService {
	return &AuthService{
		db:        db,
		jwtConfig: jwtCfg,
		configSvc: NewSystemConfigService(db),
		mfa:       NewMFAService(db, defaultMFAIssuer),
	}
}

// MFA returns the second factor service consulted at login.
func (s *AuthService) MFA() *MFAService { return s.mfa }

// SetMFAIssuer names the service in authenticator apps.
func (s *AuthService) SetMFAIssuer(issuer string) {
	if issuer != "" {
		s.mfa.issuer = issuer
	}
}

type LoginRequest struct {
	Username string `json:"username" binding:"required"`
	Password string `json:"password" binding:"required"`
	MFACode  string `json:"mfa_code"`
}

type LoginResult struct {
	AccessToken     string       `json:"token"`
	AccessExpireAt  time.Time    `json:"expire_at"`
	RefreshToken    string       `json:"refresh_token"`
	RefreshExpireAt time.Time    `json:"refresh_expire_at"`
	User            *models.User `json:"user"`
}

type RefreshResult struct {
	AccessToken     string    `json:"token"`
	AccessExpireAt  time.Time `json:"expire_at"`
	RefreshToken    string    `json:"refresh_token"`
	RefreshExpireAt time.Time `json:"refresh_expire_at"`
}

// Login authenticates a user and returns a session token pair
func (s *AuthService) Login(req *LoginRequest, clientIP, userAgent string) (*LoginResult, error) {
	var user models.User
	err := s.db.Where("username = ?", req.Username).First(&user).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrInvalidCredentials
	}
	if err != nil {
		logger.Error().Err(err).Str("username", req.Username).Msg("user lookup failed")
		return nil, ErrDatabase
	}

	if !utils.CheckPassword(req.Password, user.Password) {
		LogWarning("auth", "login_failed", fmt.Sprintf("failed login for %s", req.Username), nil, clientIP, userAgent, nil)
		return nil, ErrInvalidCredentials
	}
	if !user.IsActive {
		return nil, ErrUserDisabled
	}
	if err := s.mfa.Verify(&user, req.MFACode); err != nil {
		if errors.Is(err, ErrInvalidMFACode) {
			LogWarning("auth", "login_mfa_failed", fmt.Sprintf("invalid second factor for %s", user.Username), &user.ID, clientIP, userAgent, nil)
		}
		return nil, err
	}

	accessHours := s.getAccessTokenExpireHours()
	token, err := utils.GenerateToken(user.ID, user.Username, user.Role, accessHours)
	if err != nil {
		logger.Error().Err(err).Msg("failed to sign session token")
		return nil, ErrSystem
	}

	refresh, err := s.issueRefreshToken(s.db, user.ID, clientIP, userAgent)
	if err != nil {
		return nil, err
	}

	now := time.Now()
	if err := s.db.Model(&user).UpdateColumn("last_login", now).Error; err != nil {
		logger.Warn().Err(err).Uint("user_id", user.ID).Msg("failed to record last login")
	}
	user.LastLogin = &now

	LogInfo("auth", "login", fmt.Sprintf("%s logged in", user.Username), &user.ID, clientIP, userAgent, nil)

	return &LoginResult{
		AccessToken:     token,
		AccessExpireAt:  now.Add(time.Duration(accessHours) * time.Hour),
		RefreshToken:    refresh.plain,
		RefreshExpireAt: refresh.record.ExpiresAt,
		User:            &user,
	}, nil
}

// Refresh rotates a refresh token. The presented token is revoked and linked
// to its replacement.
func (s *AuthService) Refresh(refreshToken string, clientIP, userAgent string) (*RefreshResult, error) {
	if refreshToken == "" {
		return nil, ErrUnauthorized
	}

	var stored models.RefreshToken
	err := s.db.Where("token_hash = ?", hashRefreshToken(refreshToken)).First(&stored).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrUnauthorized
	}
	if err != nil {
		logger.Error().Err(err).Msg("refresh token lookup failed")
		return nil, ErrDatabase
	}

	if stored.RevokedAt != nil || time.Now().After(stored.ExpiresAt) {
		return nil, ErrUnauthorized
	}

	user, err := s.GetUserByID(stored.UserID)
	if err != nil {
		return nil, err
	}
	if !user.IsActive {
		return nil, ErrUserDisabled
	}

	accessHours := s.getAccessTokenExpireHours()
	newAccessToken, err := utils.GenerateToken(user.ID, user.Username, user.Role, accessHours)
	if err != nil {
		logger.Error().Err(err).Msg("failed to sign session token")
		return nil, ErrSystem
	}

	var refresh *issuedRefresh
	now := time.Now()
	err = s.db.Transaction(func(tx *gorm.DB) error {
		var err error
		refresh, err = s.issueRefreshToken(tx, user.ID, clientIP, userAgent)
		if err != nil {
			return err
		}
		return tx.Model(&stored).Updates(map[string]interface{}{
			"revoked_at":           now,
			"replaced_by_token_id": refresh.record.ID,
		}).Error
	})
	if err != nil {
		logger.Error().Err(err).Uint("user_id", user.ID).Msg("failed to rotate refresh token")
		return nil, ErrDatabase
	}

	return &RefreshResult{
		AccessToken:     newAccessToken,
		AccessExpireAt:  now.Add(time.Duration(accessHours) * time.Hour),
		RefreshToken:    refresh.plain,
		RefreshExpireAt: refresh.record.ExpiresAt,
	}, nil
}

func (s *AuthService) RevokeRefreshToken(refreshToken string) error {
	if refreshToken == "" {
		return nil
	}

	if err := s.db.Model(&models.RefreshToken{}).
		Where("token_hash = ? AND revoked_at IS NULL", hashRefreshToken(refreshToken)).
		Update("revoked_at", time.Now()).Error; err != nil {
		logger.Error().Err(err).Msg("failed to revoke refresh token")
		return ErrDatabase
	}
	return nil
}

type issuedRefresh struct {
	plain  string
	record models.RefreshToken
}

func (s *AuthService) issueRefreshToken(db *gorm.DB, userID uint, clientIP, userAgent string) (*issuedRefresh, error) {
	plain, hash, err := generateRefreshToken()
	if err != nil {
		logger.Error().Err(err).Msg("failed to generate refresh token")
		return nil, ErrSystem
	}

	record := models.RefreshToken{
		UserID:      userID,
		TokenHash:   hash,
		ExpiresAt:   time.Now().Add(time.Duration(s.getRefreshTokenExpireHours()) * time.Hour),
		CreatedByIP: clientIP,
		UserAgent:   userAgent,
	}
	if err := db.Create(&record).Error; err != nil {
		logger.Error().Err(err).Uint("user_id", userID).Msg("failed to store refresh token")
		return nil, ErrDatabase
	}
	return &issuedRefresh{plain: plain, record: record}, nil
}

func (s *AuthService) getAccessTokenExpireHours() int {
	return s.configSvc.GetInt("auth_access_token_expire_hours", s.jwtConfig.ExpireHour)
}

func (s *AuthService) getRefreshTokenExpireHours() int {
	return s.configSvc.GetInt("auth_refresh_token_expire_hours", defaultRefreshHours)
}

func generateRefreshToken() (token string, tokenHash string, err error) {
	randomBytes := make([]byte, 32)
	if _, err = rand.Read(randomBytes); err != nil {
		return "", "", err
	}
	token = hex.EncodeToString(randomBytes)
	tokenHash = hashRefreshToken(token)
	return token, tokenHash, nil
}

func hashRefreshToken(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}

// GetUserByID retrieves a user by ID
func (s *AuthService) GetUserByID(id uint) (*models.User, error) {
	var user models.User
	err := s.db.First(&user, id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrUserNotFound
	}
	if err != nil {
		logger.Error().Err(err).Uint("user_id", id).Msg("user lookup failed")
		return nil, ErrDatabase
	}
	return &user, nil
}

// CreateAdminIfNotExists creates default admin user if not exists
func (s *AuthService) CreateAdminIfNotExists() error {
	var count int64
	if err := s.db.Model(&models.User{}).Where("role = ?", "admin").Count(&count).Error; err != nil {
		return err
	}
	if count > 0 {
		return nil
	}

	hashedPassword, err := utils.HashPassword("admin")
	if err != nil {
		return err
	}

	admin := models.User{
		Username: "admin",
		Password: hashedPassword,
		Nickname: "Administrator",
		Role:     "admin",
		IsActive: true,
	}
	if err := s.db.Create(&admin).Error; err != nil {
		return err
	}
	logger.Warn().Msg("created default admin account admin/admin, change its password")
	return nil
}

type ChangePasswordRequest struct {
	OldPassword string `json:"old_password" binding:"required"`
	NewPassword string `json:"new_password" binding:"required,min=6"`
}

func (s *AuthService) ChangePassword(userID uint, req *ChangePasswordRequest) error {
	user, err := s.GetUserByID(userID)
	if err != nil {
		return err
	}

	if !utils.CheckPassword(req.OldPassword, user.Password) {
		return ErrIncorrectPassword
	}

	hashedPassword, err := utils.HashPassword(req.NewPassword)
	if err != nil {
		return ErrSystem
	}

	err = s.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Model(user).Update("password", hashedPassword).Error; err != nil {
			return err
		}
		// Existing refresh tokens die with the old password.
		return revokeRefreshTokens(tx, user.ID, time.Now())
	})
	if err != nil {
		logger.Error().Err(err).Uint("user_id", userID).Msg("failed to change password")
		return ErrDatabase
	}
	return nil
}

type CreateUserRequest struct {
	Username     string `json:"username" binding:"required,min=3,max=100"`
	Password     string `json:"password" binding:"required,min=6"`
	Email        string `json:"email"`
	Nickname     string `json:"nickname"`
	Role         string `json:"role"`
	StorageLimit int64  `json:"storage_limit"`
}

func (s *AuthService) CreateUser(req *CreateUserRequest) (*models.User, error) {
	username := strings.TrimSpace(req.Username)
	if username == "" || req.StorageLimit < models.StorageLimitUnlimited {
		return nil, ErrInvalidParameters
	}
	role := req.Role
	if role == "" {
		role = "user"
	}
	if role != "user" && role != "admin" {
		return nil, ErrInvalidParameters
	}

	var count int64
	if err := s.db.Model(&models.User{}).Where("username = ?", username).Count(&count).Error; err != nil {
		return nil, ErrDatabase
	}
	if count > 0 {
		return nil, ErrUserExists
	}

	hashedPassword, err := utils.HashPassword(req.Password)
	if err != nil {
		return nil, ErrSystem
	}

	user := &models.User{
		Username:     username,
		Password:     hashedPassword,
		Email:        req.Email,
		Nickname:     req.Nickname,
		Role:         role,
		IsActive:     true,
		StorageLimit: req.StorageLimit,
	}
	if err := s.db.Create(user).Error; err != nil {
		logger.Error().Err(err).Str("username", username).Msg("failed to create user")
		return nil, ErrDatabase
	}
	return user, nil
}

type UserListResponse struct {
	Total    int64         `json:"total"`
	Page     int           `json:"page"`
	PageSize int           `json:"page_size"`
	Items    []models.User `json:"items"`
}

func (s *AuthService) ListUsers(req *PageRequest) (*UserListResponse, error) {
	req.normalize()

	query := s.db.Model(&models.User{})
	if req.Keyword != "" {
		like := "%" + req.Keyword + "%"
		query = query.Where("username LIKE ? OR nickname LIKE ? OR email LIKE ?", like, like, like)
	}

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, ErrDatabase
	}

	var users []models.User
	if err := query.Order("id").Offset((req.Page - 1) * req.PageSize).Limit(req.PageSize).Find(&users).Error; err != nil {
		return nil, ErrDatabase
	}

	return &UserListResponse{Total: total, Page: req.Page, PageSize: req.PageSize, Items: users}, nil
}

// SetStorageLimit stores a per-user quota in bytes. 0 falls back to the
// configured default and -1 removes the limit.
func (s *AuthService) SetStorageLimit(userID uint, limit int64) error {
	if limit < models.StorageLimitUnlimited {
		return ErrInvalidParameters
	}
	return s.updateUserColumn(userID, "storage_limit", limit)
}

func (s *AuthService) SetActive(userID uint, active bool) error {
	return s.updateUserColumn(userID, "is_active", active)
}

func (s *AuthService) updateUserColumn(userID uint, column string, value interface{}) error {
	result := s.db.Model(&models.User{}).Where("id = ?", userID).Update(column, value)
	if result.Error != nil {
		logger.Error().Err(result.Error).Uint("user_id", userID).Str("column", column).Msg("failed to update user")
		return ErrDatabase
	}
	if result.RowsAffected == 0 {
		return ErrUserNotFound
	}
	return nil
}

// manageableUser loads a user an administrator may delete or reset. Admin
// accounts are excluded.
func (s *AuthService) manageableUser(userID uint) (*models.User, error) {
	user, err := s.GetUserByID(userID)
	if err != nil {
		return nil, err
	}
	if user.IsAdmin() {
		return nil, ErrAdminProtected
	}
	return user, nil
}

// DeleteUser removes a regular account. Its refresh tokens are revoked, its
// shares and shareable files are dropped and every download token issued
// for them is deactivated. Files in the user's storage root stay on disk.
func (s *AuthService) DeleteUser(userID uint) (*models.User, error) {
	user, err := s.manageableUser(userID)
	if err != nil {
		return nil, err
	}

	now := time.Now()
	err = s.db.Transaction(func(tx *gorm.DB) error {
		if err := revokeRefreshTokens(tx, userID, now); err != nil {
			return err
		}

		var codes []string
		if err := tx.Model(&models.Share{}).Where("user_id = ?", userID).Pluck("share_code", &codes).Error; err != nil {
			return err
		}
		tokens := tx.Model(&models.DownloadToken{}).Where("is_active = ?", true)
		if len(codes) > 0 {
			tokens = tokens.Where("user_id = ? OR share_code IN ?", userID, codes)
		} else {
			tokens = tokens.Where("user_id = ?", userID)
		}
		if err := tokens.Update("is_active", false).Error; err != nil {
			return err
		}

		if err := tx.Where("user_id = ?", userID).Delete(&models.Share{}).Error; err != nil {
			return err
		}
		if err := tx.Where("user_id = ?", userID).Delete(&models.ShareFile{}).Error; err != nil {
			return err
		}
		return tx.Unscoped().Delete(&models.User{}, userID).Error
	})
	if err != nil {
		logger.Error().Err(err).Uint("user_id", userID).Msg("failed to delete user")
		return nil, ErrDatabase
	}
	return user, nil
}

type ResetPasswordRequest struct {
	NewPassword string `json:"new_password" binding:"required,min=6"`
}

// ResetPassword sets a regular user's password without the old one and
// signs the user out everywhere.
func (s *AuthService) ResetPassword(userID uint, newPassword string) (*models.User, error) {
	user, err := s.manageableUser(userID)
	if err != nil {
		return nil, err
	}
	if len(newPassword) < 6 {
		return nil, ErrInvalidParameters
	}

	hashedPassword, err := utils.HashPassword(newPassword)
	if err != nil {
		return nil, ErrSystem
	}

	err = s.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Model(user).Update("password", hashedPassword).Error; err != nil {
			return err
		}
		return revokeRefreshTokens(tx, userID, time.Now())
	})
	if err != nil {
		logger.Error().Err(err).Uint("user_id", userID).Msg("failed to reset password")
		return nil, ErrDatabase
	}
	return user, nil
}

// UserStatistics counts regular (non-admin) accounts.
type UserStatistics struct {
	TotalUsers      int64 `json:"total_users"`
	ActiveUsers     int64 `json:"active_users"`
	DisabledUsers   int64 `json:"disabled_users"`
	MFAEnabledUsers int64 `json:"mfa_enabled_users"`
	UsersWithEmail  int64 `json:"users_with_email"`
}

func (s *AuthService) UserStatistics() (*UserStatistics, error) {
	count := func(query string, args ...interface{}) (int64, error) {
		var n int64
		q := s.db.Model(&models.User{}).Where("role <> ?", "admin")
		if query != "" {
			q = q.Where(query, args...)
		}
		err := q.Count(&n).Error
		return n, err
	}

	var stats UserStatistics
	var err error
	if stats.TotalUsers, err = count(""); err != nil {
		return nil, ErrDatabase
	}
	if stats.ActiveUsers, err = count("is_active = ?", true); err != nil {
		return nil, ErrDatabase
	}
	stats.DisabledUsers = stats.TotalUsers - stats.ActiveUsers
	if stats.MFAEnabledUsers, err = count("mfa_enabled = ?", true); err != nil {
		return nil, ErrDatabase
	}
	if stats.UsersWithEmail, err = count("email IS NOT NULL AND email <> ''"); err != nil {
		return nil, ErrDatabase
	}
	return &stats, nil
}

func revokeRefreshTokens(tx *gorm.DB, userID uint, at time.Time) error {
	return tx.Model(&models.RefreshToken{}).
		Where("user_id = ? AND revoked_at IS NULL", userID).
		Update("revoked_at", at).Error
}
