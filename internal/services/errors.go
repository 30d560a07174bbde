package services

import (
	"errors"
	"net/http"
)

// ServiceError is a domain rejection with a stable reason code. Handlers pass
// it to response.Error which renders the reason and status.
type ServiceError struct {
	reason  string
	message string
	status  int
}

func NewServiceError(status int, reason, message string) *ServiceError {
	return &ServiceError{reason: reason, message: message, status: status}
}

func (e *ServiceError) Error() string  { return e.message }
func (e *ServiceError) Reason() string { return e.reason }
func (e *ServiceError) Status() int    { return e.status }

// Is matches on reason so that errors.Is works against the sentinels below
// even when a copy with a different message was returned.
func (e *ServiceError) Is(target error) bool {
	t, ok := target.(*ServiceError)
	return ok && t.reason == e.reason
}

// Reason codes shared by the download, share and file services.
var (
	ErrInvalidParameters = NewServiceError(http.StatusBadRequest, "invalid_parameters", "missing required parameters")
	ErrInvalidFilePath   = NewServiceError(http.StatusBadRequest, "invalid_file_path", "file path is not valid")
	ErrDatabase          = NewServiceError(http.StatusInternalServerError, "database_error", "database error")
	ErrSystem            = NewServiceError(http.StatusInternalServerError, "system_error", "internal error")

	ErrInvalidTokenFormat = NewServiceError(http.StatusBadRequest, "invalid_token_format", "invalid token format")
	ErrTokenNotFound      = NewServiceError(http.StatusNotFound, "token_not_found", "token not found")
	ErrTokenExpired       = NewServiceError(http.StatusGone, "token_expired", "token has expired")
	ErrTokenExhausted     = NewServiceError(http.StatusGone, "token_exhausted", "token usage limit reached")

	ErrInvalidShareCode  = NewServiceError(http.StatusBadRequest, "invalid_share_code", "invalid share code")
	ErrShareNotFound     = NewServiceError(http.StatusNotFound, "share_not_found", "share not found")
	ErrPasswordRequired  = NewServiceError(http.StatusUnauthorized, "password_required", "password required")
	ErrPasswordIncorrect = NewServiceError(http.StatusForbidden, "password_incorrect", "password incorrect")
	ErrFileError         = NewServiceError(http.StatusNotFound, "file_error", "shared file is unavailable")
	ErrFilePathMismatch  = NewServiceError(http.StatusForbidden, "file_path_mismatch", "file does not belong to this share")
	ErrFileTooLarge      = NewServiceError(http.StatusRequestEntityTooLarge, "file_too_large", "file exceeds the download size limit")
	ErrSharedFileExists  = NewServiceError(http.StatusConflict, "file_already_added", "file already added")
	ErrSharedFileMissing = NewServiceError(http.StatusNotFound, "file_not_found", "shared file not found")
	ErrShareCodeExhaust  = NewServiceError(http.StatusInternalServerError, "share_code_generation_failed", "could not allocate a share code")
	ErrInvalidShareName  = NewServiceError(http.StatusBadRequest, "invalid_share_name", "share name must be 1-8 letters, digits or CJK characters")
	ErrInvalidSharePass  = NewServiceError(http.StatusBadRequest, "invalid_share_password", "share password may hold up to 20 letters, digits or symbols")
	ErrInvalidExtension  = NewServiceError(http.StatusBadRequest, "invalid_extension", "extension data is not valid")
	ErrNoUpdates         = NewServiceError(http.StatusBadRequest, "no_updates", "nothing to update")

	ErrUserDirNotExists   = NewServiceError(http.StatusNotFound, "user_dir_not_exists", "user directory does not exist")
	ErrInvalidPath        = NewServiceError(http.StatusBadRequest, "invalid_path", "invalid path")
	ErrFileNotExists      = NewServiceError(http.StatusNotFound, "file_not_exists", "file does not exist")
	ErrNotAFile           = NewServiceError(http.StatusBadRequest, "not_a_file", "path is not a file")
	ErrFileNotReadable    = NewServiceError(http.StatusForbidden, "file_not_readable", "file is not readable")
	ErrInvalidFilename    = NewServiceError(http.StatusBadRequest, "invalid_filename", "invalid file name")
	ErrDangerousExtension = NewServiceError(http.StatusBadRequest, "dangerous_extension", "file type is not allowed")
	ErrForbiddenExtension = NewServiceError(http.StatusBadRequest, "forbidden_extension", "file extension is not permitted")
	ErrFilenameTooLong    = NewServiceError(http.StatusBadRequest, "filename_too_long", "file name is too long")
	ErrFileExists         = NewServiceError(http.StatusConflict, "file_exists", "a file with this name already exists")
	ErrQuotaExceeded      = NewServiceError(http.StatusInsufficientStorage, "storage_limit_exceeded", "storage quota exceeded")
	ErrUploadTooLarge     = NewServiceError(http.StatusRequestEntityTooLarge, "upload_too_large", "upload exceeds the size limit")

	ErrUnauthorized       = NewServiceError(http.StatusUnauthorized, "unauthorized", "authentication required")
	ErrInvalidCredentials = NewServiceError(http.StatusUnauthorized, "invalid_credentials", "invalid username or password")
	ErrUserDisabled       = NewServiceError(http.StatusForbidden, "user_disabled", "user is disabled")
	ErrUserNotFound       = NewServiceError(http.StatusNotFound, "user_not_found", "user not found")
	ErrUserExists         = NewServiceError(http.StatusConflict, "user_exists", "username already taken")
	ErrIncorrectPassword  = NewServiceError(http.StatusBadRequest, "incorrect_password", "incorrect old password")
	ErrIPBanned           = NewServiceError(http.StatusForbidden, "ip_banned", "access denied")
	ErrBanNotFound        = NewServiceError(http.StatusNotFound, "ban_not_found", "ip is not banned")
	ErrAdminProtected     = NewServiceError(http.StatusForbidden, "admin_protected", "administrator accounts cannot be managed here")

	ErrMFARequired       = NewServiceError(http.StatusUnauthorized, "mfa_required", "second factor required")
	ErrInvalidMFACode    = NewServiceError(http.StatusUnauthorized, "invalid_mfa_code", "invalid verification code")
	ErrMFAAlreadyEnabled = NewServiceError(http.StatusConflict, "mfa_already_enabled", "two-factor authentication is already enabled")
	ErrMFANotEnrolled    = NewServiceError(http.StatusBadRequest, "mfa_not_enrolled", "two-factor setup has not been started")
	ErrMFANotEnabled     = NewServiceError(http.StatusBadRequest, "mfa_not_enabled", "two-factor authentication is not enabled")
)

// Ephemeral token rejections. Handlers collapse these into one generic
// response so clients cannot tell a throttled caller from a bad token.
var (
	ErrTempTokenFormat    = NewServiceError(http.StatusUnauthorized, "format", "invalid or rejected token")
	ErrTempTokenSignature = NewServiceError(http.StatusUnauthorized, "signature", "invalid or rejected token")
	ErrTempTokenExpired   = NewServiceError(http.StatusUnauthorized, "expired", "invalid or rejected token")
	ErrTempTokenIP        = NewServiceError(http.StatusUnauthorized, "ip", "invalid or rejected token")
	ErrTempTokenScene     = NewServiceError(http.StatusUnauthorized, "scene", "invalid or rejected token")
	ErrTempTokenLimited   = NewServiceError(http.StatusUnauthorized, "limit", "invalid or rejected token")
	ErrTempTokenBanned    = NewServiceError(http.StatusUnauthorized, "banned", "invalid or rejected token")
)

// ReasonOf returns the reason code carried by err, or system_error.
func ReasonOf(err error) string {
	var se *ServiceError
	if errors.As(err, &se) {
		return se.reason
	}
	return ErrSystem.reason
}

var tempTokenRejections = []error{
	ErrTempTokenFormat, ErrTempTokenSignature, ErrTempTokenExpired, ErrTempTokenIP,
	ErrTempTokenScene, ErrTempTokenLimited, ErrTempTokenBanned,
}

// IsTempTokenRejection reports whether err is one of the ephemeral token
// rejections above.
func IsTempTokenRejection(err error) bool {
	for _, target := range tempTokenRejections {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}
