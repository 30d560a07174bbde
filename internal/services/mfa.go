package services

import (
	"errors"
	"strings"
	"time"

	"github.com/defeatedperson/ykc/internal/models"
	"github.com/defeatedperson/ykc/pkg/logger"
	"github.com/pquerna/otp"
	"github.com/pquerna/otp/totp"
	"gorm.io/gorm"
)

const defaultMFAIssuer = "ykc"

// MFAService manages TOTP second factors. Enrollment stores a secret that
// only takes effect once a code generated from it has been confirmed.
type MFAService struct {
	db     *gorm.DB
	issuer string
	now    func() time.Time
}

func NewMFAService(db *gorm.DB, issuer string) *MFAService {
	if issuer == "" {
		issuer = defaultMFAIssuer
	}
	return &MFAService{db: db, issuer: issuer, now: time.Now}
}

// SetClock replaces the time source used to check codes.
func (s *MFAService) SetClock(now func() time.Time) {
	s.now = now
}

type MFAEnrollment struct {
	Secret     string `json:"secret"`
	OTPAuthURL string `json:"otpauth_url"`
}

type MFAStatus struct {
	Enabled  bool `json:"enabled"`
	Enrolled bool `json:"enrolled"`
}

// Status reports whether the user has a pending or active second factor.
func (s *MFAService) Status(userID uint) (*MFAStatus, error) {
	user, err := s.user(userID)
	if err != nil {
		return nil, err
	}
	return &MFAStatus{Enabled: user.MFAEnabled, Enrolled: user.MFASecret != ""}, nil
}

// Enroll generates a fresh secret for the user. Calling it again before
// confirmation replaces the pending secret.
func (s *MFAService) Enroll(userID uint) (*MFAEnrollment, error) {
	user, err := s.user(userID)
	if err != nil {
		return nil, err
	}
	if user.MFAEnabled {
		return nil, ErrMFAAlreadyEnabled
	}

	key, err := totp.Generate(totp.GenerateOpts{
		Issuer:      s.issuer,
		AccountName: user.Username,
	})
	if err != nil {
		logger.Error().Err(err).Uint("user_id", userID).Msg("failed to generate totp secret")
		return nil, ErrSystem
	}

	if err := s.update(userID, map[string]interface{}{"mfa_secret": key.Secret()}); err != nil {
		return nil, err
	}
	return &MFAEnrollment{Secret: key.Secret(), OTPAuthURL: key.URL()}, nil
}

// Confirm turns the pending secret on after checking a code generated from it.
func (s *MFAService) Confirm(userID uint, code string) error {
	user, err := s.user(userID)
	if err != nil {
		return err
	}
	if user.MFAEnabled {
		return ErrMFAAlreadyEnabled
	}
	if user.MFASecret == "" {
		return ErrMFANotEnrolled
	}
	if !s.check(code, user.MFASecret) {
		return ErrInvalidMFACode
	}
	return s.update(userID, map[string]interface{}{"mfa_enabled": true})
}

// Disable removes the user's own second factor. A current code is required.
func (s *MFAService) Disable(userID uint, code string) error {
	user, err := s.user(userID)
	if err != nil {
		return err
	}
	if !user.MFAEnabled {
		return ErrMFANotEnabled
	}
	if !s.check(code, user.MFASecret) {
		return ErrInvalidMFACode
	}
	return s.clear(userID)
}

// AdminDisable removes a regular user's second factor without a code, for
// users who lost their device. It reports false when nothing was enabled.
func (s *MFAService) AdminDisable(userID uint) (bool, error) {
	user, err := s.user(userID)
	if err != nil {
		return false, err
	}
	if user.IsAdmin() {
		return false, ErrAdminProtected
	}
	if !user.MFAEnabled && user.MFASecret == "" {
		return false, nil
	}
	if err := s.clear(userID); err != nil {
		return false, err
	}
	return true, nil
}

// Verify checks the second factor presented at login. Users without MFA
// pass unconditionally.
func (s *MFAService) Verify(user *models.User, code string) error {
	if !user.MFAEnabled {
		return nil
	}
	if strings.TrimSpace(code) == "" {
		return ErrMFARequired
	}
	if !s.check(code, user.MFASecret) {
		return ErrInvalidMFACode
	}
	return nil
}

func (s *MFAService) check(code, secret string) bool {
	code = strings.TrimSpace(code)
	if code == "" || secret == "" {
		return false
	}
	ok, err := totp.ValidateCustom(code, secret, s.now().UTC(), totp.ValidateOpts{
		Period:    30,
		Skew:      1,
		Digits:    otp.DigitsSix,
		Algorithm: otp.AlgorithmSHA1,
	})
	return err == nil && ok
}

func (s *MFAService) clear(userID uint) error {
	return s.update(userID, map[string]interface{}{"mfa_enabled": false, "mfa_secret": ""})
}

func (s *MFAService) user(userID uint) (*models.User, error) {
	var user models.User
	err := s.db.First(&user, userID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrUserNotFound
	}
	if err != nil {
		logger.Error().Err(err).Uint("user_id", userID).Msg("user lookup failed")
		return nil, ErrDatabase
	}
	return &user, nil
}

func (s *MFAService) update(userID uint, values map[string]interface{}) error {
	if err := s.db.Model(&models.User{}).Where("id = ?", userID).Updates(values).Error; err != nil {
		logger.Error().Err(err).Uint("user_id", userID).Msg("failed to update two-factor settings")
		return ErrDatabase
	}
	return nil
}
