package services

import (
	"errors"

	"github.com/defeatedperson/ykc/internal/utils"
)

// SessionInfo identifies the caller behind a session token.
type SessionInfo struct {
	UserID   uint   `json:"user_id"`
	Username string `json:"username"`
	Role     string `json:"role"`
	IsAdmin  bool   `json:"is_admin"`
}

// SessionVerifier turns a bearer token into a caller identity. The token alone
// is not enough: the account must still exist and be enabled, and the
// caller's IP must not be banned.
type SessionVerifier struct {
	auth *AuthService
	bans BanChecker
}

func NewSessionVerifier(auth *AuthService, bans BanChecker) *SessionVerifier {
	return &SessionVerifier{auth: auth, bans: bans}
}

func (v *SessionVerifier) VerifySession(token, ip string) (*SessionInfo, error) {
	if token == "" {
		return nil, ErrUnauthorized
	}

	status, err := v.bans.IsBanned(ip)
	if err != nil {
		return nil, err
	}
	if status.Banned {
		return nil, ErrIPBanned
	}

	claims, err := utils.ParseToken(token)
	if err != nil {
		return nil, ErrUnauthorized
	}

	user, err := v.auth.GetUserByID(claims.UserID)
	if err != nil {
		if errors.Is(err, ErrUserNotFound) {
			return nil, ErrUnauthorized
		}
		return nil, err
	}
	if !user.IsActive {
		return nil, ErrUserDisabled
	}

	return &SessionInfo{
		UserID:   user.ID,
		Username: user.Username,
		Role:     user.Role,
		IsAdmin:  user.IsAdmin(),
	}, nil
}
