package services

import (
	"crypto/rand"
	"encoding/json"
	"errors"
	"io"
	"net/url"
	"os"
	"path"
	"regexp"
	"strings"
	"time"
	"unicode"
	"unicode/utf8"

	"github.com/defeatedperson/ykc/internal/models"
	"github.com/defeatedperson/ykc/internal/utils"
	"github.com/defeatedperson/ykc/pkg/logger"
	"gorm.io/gorm"
)

const (
	ShareCodeLength        = 8
	shareCodeAlphabet      = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"
	shareCodeAttempts      = 100
	maxShareNameRunes      = 8
	maxSharePasswordLength = 20
	maxExtensionLength     = 300
	maxButtonNameLength    = 20
)

var (
	sharePasswordPattern   = regexp.MustCompile(`^[a-zA-Z0-9!@#$%^&*()_+\-=\[\]{};:,.<>?]+$`)
	extensionDangerPattern = regexp.MustCompile(`(?i)<script|javascript:|on\w+\s*=|eval\(|expression\(`)
)

// ShareTokenStore is the view of download tokens a share needs: revoking
// them when the share goes away or changes file, and listing them for
// statistics.
type ShareTokenStore interface {
	RevokeForShare(shareCode string) (int64, error)
	ListForShare(shareCode string, includeInactive bool) ([]models.DownloadToken, error)
}

// ShareService manages shareable files, their public links and link access.
type ShareService struct {
	db     *gorm.DB
	files  FileResolver
	tokens ShareTokenStore
	random io.Reader
}

func NewShareService(db *gorm.DB, files FileResolver, tokens ShareTokenStore) *ShareService {
	return &ShareService{db: db, files: files, tokens: tokens, random: rand.Reader}
}

// SetRandom replaces the entropy source used for share codes.
func (s *ShareService) SetRandom(r io.Reader) {
	s.random = r
}

// ValidShareCode reports whether code has the shape of a share code.
func ValidShareCode(code string) bool {
	if len(code) != ShareCodeLength {
		return false
	}
	for i := 0; i < len(code); i++ {
		if !strings.ContainsRune(shareCodeAlphabet, rune(code[i])) {
			return false
		}
	}
	return true
}

func ValidateShareName(name string) error {
	if name == "" || utf8.RuneCountInString(name) > maxShareNameRunes {
		return ErrInvalidShareName
	}
	for _, r := range name {
		if r < utf8.RuneSelf {
			if !(r >= 'a' && r <= 'z' || r >= 'A' && r <= 'Z' || r >= '0' && r <= '9') {
				return ErrInvalidShareName
			}
			continue
		}
		if !unicode.Is(unicode.Han, r) {
			return ErrInvalidShareName
		}
	}
	return nil
}

// ValidateSharePassword accepts the empty string, meaning no password.
func ValidateSharePassword(password string) error {
	if password == "" {
		return nil
	}
	if len(password) > maxSharePasswordLength || !sharePasswordPattern.MatchString(password) {
		return ErrInvalidSharePass
	}
	return nil
}

// NormalizeExtension validates the free-form JSON attached to a share. The
// keys btn, url and image drive the download page button.
func NormalizeExtension(ext string) (string, error) {
	ext = strings.TrimSpace(ext)
	if ext == "" {
		ext = "{}"
	}
	if len(ext) > maxExtensionLength {
		return "", ErrInvalidExtension
	}

	var decoded map[string]interface{}
	if err := json.Unmarshal([]byte(ext), &decoded); err != nil {
		return "", ErrInvalidExtension
	}
	if extensionDangerPattern.MatchString(ext) {
		return "", ErrInvalidExtension
	}

	if btn, ok := decoded["btn"]; ok {
		name, isString := btn.(string)
		if !isString || len(name) > maxButtonNameLength {
			return "", ErrInvalidExtension
		}
	}
	for _, key := range []string{"url", "image"} {
		v, ok := decoded[key]
		if !ok || v == nil || v == "" {
			continue
		}
		raw, isString := v.(string)
		if !isString || !validURL(raw) {
			return "", ErrInvalidExtension
		}
	}
	return ext, nil
}

func validURL(raw string) bool {
	u, err := url.Parse(raw)
	return err == nil && u.Scheme != "" && u.Host != ""
}

// validateSharePath rejects relative paths that could not name a file below
// the user's root.
func validateSharePath(p string) error {
	if p == "" || strings.Contains(p, "..") || strings.HasPrefix(p, "/") || strings.HasPrefix(p, "\\") ||
		strings.ContainsAny(p, "<>:\"|?*\x00") {
		return ErrInvalidPath
	}
	return nil
}

// AddFilesResult reports per path what AddFiles did.
type AddFilesResult struct {
	Added   []models.ShareFile `json:"added"`
	Skipped []string           `json:"skipped"`
	Errors  []PathError        `json:"errors"`
}

type PathError struct {
	Path   string `json:"path"`
	Reason string `json:"reason"`
}

// AddFiles registers files of the user's storage as shareable. Paths that
// are already registered are skipped; invalid ones are reported without
// aborting the rest.
func (s *ShareService) AddFiles(userID uint, paths []string) (*AddFilesResult, error) {
	if len(paths) == 0 {
		return nil, ErrInvalidParameters
	}

	result := &AddFilesResult{Added: []models.ShareFile{}, Skipped: []string{}, Errors: []PathError{}}
	for _, p := range paths {
		p = strings.TrimSpace(p)
		file, err := s.addFile(userID, p)
		switch {
		case errors.Is(err, ErrSharedFileExists):
			result.Skipped = append(result.Skipped, p)
		case errors.Is(err, ErrDatabase):
			return nil, err
		case err != nil:
			result.Errors = append(result.Errors, PathError{Path: p, Reason: ReasonOf(err)})
		default:
			result.Added = append(result.Added, *file)
		}
	}
	return result, nil
}

func (s *ShareService) addFile(userID uint, p string) (*models.ShareFile, error) {
	if err := validateSharePath(p); err != nil {
		return nil, err
	}
	full, err := s.files.ResolveAndValidateFile(userID, p)
	if err != nil {
		return nil, err
	}

	var count int64
	if err := s.db.Model(&models.ShareFile{}).Where("user_id = ? AND file_path = ?", userID, p).Count(&count).Error; err != nil {
		logger.Error().Err(err).Msg("share file lookup failed")
		return nil, ErrDatabase
	}
	if count > 0 {
		return nil, ErrSharedFileExists
	}

	info, err := os.Stat(full)
	if err != nil {
		return nil, ErrFileNotReadable
	}

	name := path.Base(strings.ReplaceAll(p, "\\", "/"))
	file := models.ShareFile{
		UserID:   userID,
		FilePath: p,
		FileName: name,
		FileSize: info.Size(),
		FileType: FileTypeOf(name),
	}
	if err := s.db.Create(&file).Error; err != nil {
		logger.Error().Err(err).Msg("failed to add share file")
		return nil, ErrDatabase
	}
	return &file, nil
}

type PageRequest struct {
	Page     int    `form:"page"`
	PageSize int    `form:"page_size"`
	Keyword  string `form:"keyword"`
}

func (r *PageRequest) normalize() {
	if r.Page < 1 {
		r.Page = 1
	}
	if r.PageSize < 1 || r.PageSize > 100 {
		r.PageSize = 20
	}
	r.Keyword = strings.TrimSpace(r.Keyword)
}

func (r *PageRequest) offset() int { return (r.Page - 1) * r.PageSize }

type ShareFileListResponse struct {
	Total    int64              `json:"total"`
	Page     int                `json:"page"`
	PageSize int                `json:"page_size"`
	Items    []models.ShareFile `json:"items"`
}

type ShareListResponse struct {
	Total    int64          `json:"total"`
	Page     int            `json:"page"`
	PageSize int            `json:"page_size"`
	Keyword  string         `json:"keyword,omitempty"`
	Items    []models.Share `json:"items"`
}

// ListFiles lists a user's shareable files. userID 0 lists every user's.
func (s *ShareService) ListFiles(userID uint, req *PageRequest) (*ShareFileListResponse, error) {
	req.normalize()

	query := s.db.Model(&models.ShareFile{})
	if userID != 0 {
		query = query.Where("user_id = ?", userID)
	}
	if req.Keyword != "" {
		query = query.Where("file_name LIKE ?", "%"+req.Keyword+"%")
	}

	var total int64
	if err := query.Count(&total).Error; err != nil {
		logger.Error().Err(err).Msg("failed to count share files")
		return nil, ErrDatabase
	}

	var files []models.ShareFile
	if err := query.Order("created_at DESC, id DESC").Offset(req.offset()).Limit(req.PageSize).Find(&files).Error; err != nil {
		logger.Error().Err(err).Msg("failed to list share files")
		return nil, ErrDatabase
	}

	return &ShareFileListResponse{Total: total, Page: req.Page, PageSize: req.PageSize, Items: files}, nil
}

// RemoveFile unregisters a shareable file together with all of its shares.
// The file on disk is left alone.
func (s *ShareService) RemoveFile(userID, fileID uint) error {
	var codes []string
	err := s.db.Transaction(func(tx *gorm.DB) error {
		var file models.ShareFile
		if err := tx.Where("id = ? AND user_id = ?", fileID, userID).First(&file).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrSharedFileMissing
			}
			return err
		}
		if err := tx.Model(&models.Share{}).Where("file_id = ?", file.ID).Pluck("share_code", &codes).Error; err != nil {
			return err
		}
		if err := tx.Where("file_id = ?", file.ID).Delete(&models.Share{}).Error; err != nil {
			return err
		}
		return tx.Delete(&file).Error
	})
	if err != nil {
		if errors.Is(err, ErrSharedFileMissing) {
			return err
		}
		logger.Error().Err(err).Uint("file_id", fileID).Msg("failed to remove share file")
		return ErrDatabase
	}

	s.revokeTokens(codes...)
	return nil
}

type CreateShareRequest struct {
	FileID    uint   `json:"file_id" binding:"required"`
	ShareName string `json:"share_name" binding:"required"`
	Password  string `json:"access_password"`
	Extension string `json:"extension"`
}

// CreateShare publishes one of the user's shareable files under a fresh code.
func (s *ShareService) CreateShare(userID uint, req *CreateShareRequest) (*models.Share, error) {
	if err := ValidateShareName(req.ShareName); err != nil {
		return nil, err
	}
	if err := ValidateSharePassword(req.Password); err != nil {
		return nil, err
	}
	extension, err := NormalizeExtension(req.Extension)
	if err != nil {
		return nil, err
	}

	var file models.ShareFile
	if err := s.db.Where("id = ? AND user_id = ?", req.FileID, userID).First(&file).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrSharedFileMissing
		}
		logger.Error().Err(err).Msg("share file lookup failed")
		return nil, ErrDatabase
	}

	hash := ""
	if req.Password != "" {
		if hash, err = utils.HashPassword(req.Password); err != nil {
			return nil, ErrSystem
		}
	}

	code, err := s.uniqueShareCode()
	if err != nil {
		return nil, err
	}

	share := models.Share{
		UserID:         userID,
		FileID:         file.ID,
		ShareName:      req.ShareName,
		ShareCode:      code,
		AccessPassword: hash,
		Extension:      extension,
	}
	err = s.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(&share).Error; err != nil {
			return err
		}
		return tx.Model(&models.ShareFile{}).Where("id = ?", file.ID).Update("has_share", true).Error
	})
	if err != nil {
		logger.Error().Err(err).Msg("failed to create share")
		return nil, ErrDatabase
	}

	share.File = &file
	share.File.HasShare = true
	return &share, nil
}

// ListShares lists shares newest first, optionally filtered by name.
// userID 0 lists every user's shares.
func (s *ShareService) ListShares(userID uint, req *PageRequest) (*ShareListResponse, error) {
	req.normalize()

	query := s.db.Model(&models.Share{})
	if userID != 0 {
		query = query.Where("user_id = ?", userID)
	}
	if req.Keyword != "" {
		query = query.Where("share_name LIKE ?", "%"+req.Keyword+"%")
	}

	var total int64
	if err := query.Count(&total).Error; err != nil {
		logger.Error().Err(err).Msg("failed to count shares")
		return nil, ErrDatabase
	}

	var shares []models.Share
	if err := query.Preload("File").Order("created_at DESC, id DESC").
		Offset(req.offset()).Limit(req.PageSize).Find(&shares).Error; err != nil {
		logger.Error().Err(err).Msg("failed to list shares")
		return nil, ErrDatabase
	}

	return &ShareListResponse{
		Total:    total,
		Page:     req.Page,
		PageSize: req.PageSize,
		Keyword:  req.Keyword,
		Items:    shares,
	}, nil
}

// UpdateShareRequest fields left nil are not touched. An empty Password
// removes the password.
type UpdateShareRequest struct {
	ShareName *string `json:"share_name"`
	Password  *string `json:"access_password"`
	Extension *string `json:"extension"`
	FileID    *uint   `json:"file_id"`
}

func (s *ShareService) UpdateShare(userID, shareID uint, req *UpdateShareRequest) (*models.Share, error) {
	share, err := s.ownedShare(userID, shareID)
	if err != nil {
		return nil, err
	}

	updates := map[string]interface{}{}
	if req.ShareName != nil {
		if err := ValidateShareName(*req.ShareName); err != nil {
			return nil, err
		}
		updates["share_name"] = *req.ShareName
	}
	if req.Password != nil {
		if err := ValidateSharePassword(*req.Password); err != nil {
			return nil, err
		}
		hash := ""
		if *req.Password != "" {
			if hash, err = utils.HashPassword(*req.Password); err != nil {
				return nil, ErrSystem
			}
		}
		updates["access_password"] = hash
	}
	if req.Extension != nil {
		ext, err := NormalizeExtension(*req.Extension)
		if err != nil {
			return nil, err
		}
		updates["extension"] = ext
	}

	oldFileID := share.FileID
	fileChanged := false
	if req.FileID != nil && *req.FileID > 0 && *req.FileID != share.FileID {
		var count int64
		if err := s.db.Model(&models.ShareFile{}).Where("id = ? AND user_id = ?", *req.FileID, userID).Count(&count).Error; err != nil {
			return nil, ErrDatabase
		}
		if count == 0 {
			return nil, ErrSharedFileMissing
		}
		updates["file_id"] = *req.FileID
		fileChanged = true
	}

	if len(updates) == 0 {
		return nil, ErrNoUpdates
	}

	err = s.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Model(share).Updates(updates).Error; err != nil {
			return err
		}
		if !fileChanged {
			return nil
		}
		if err := tx.Model(&models.ShareFile{}).Where("id = ?", *req.FileID).Update("has_share", true).Error; err != nil {
			return err
		}
		return syncHasShare(tx, oldFileID)
	})
	if err != nil {
		logger.Error().Err(err).Uint("share_id", shareID).Msg("failed to update share")
		return nil, ErrDatabase
	}

	// Tokens are bound to a file path; a share pointing elsewhere must not
	// keep serving the old file.
	if fileChanged {
		s.revokeTokens(share.ShareCode)
	}

	return s.ownedShare(userID, shareID)
}

// DeleteShare removes a share and revokes its outstanding download tokens.
func (s *ShareService) DeleteShare(userID, shareID uint) error {
	share, err := s.ownedShare(userID, shareID)
	if err != nil {
		return err
	}
	return s.deleteShare(share)
}

// AdminDeleteShare removes any user's share.
func (s *ShareService) AdminDeleteShare(shareID uint) error {
	var share models.Share
	if err := s.db.First(&share, shareID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ErrShareNotFound
		}
		return ErrDatabase
	}
	return s.deleteShare(&share)
}

// GetShare returns one of the user's shares with its file.
func (s *ShareService) GetShare(userID, shareID uint) (*models.Share, error) {
	return s.ownedShare(userID, shareID)
}

func (s *ShareService) deleteShare(share *models.Share) error {
	err := s.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Delete(share).Error; err != nil {
			return err
		}
		return syncHasShare(tx, share.FileID)
	})
	if err != nil {
		logger.Error().Err(err).Uint("share_id", share.ID).Msg("failed to delete share")
		return ErrDatabase
	}
	s.revokeTokens(share.ShareCode)
	return nil
}

// ShareStatistics summarizes traffic on one share.
type ShareStatistics struct {
	ShareID         uint   `json:"share_id"`
	ShareCode       string `json:"share_code"`
	ViewCount       int64  `json:"view_count"`
	DownloadCount   int64  `json:"download_count"`
	CreatedTime     string `json:"created_time"`
	ActiveTokens    int    `json:"active_tokens"`
	TotalTokens     int    `json:"total_tokens"`
	TokenDownloads  int    `json:"token_downloads"`
	RemainingTokens int    `json:"remaining_token_uses"`
}

// Statistics reports counters and download token usage of one of the user's
// shares. Tokens already removed by retention cleanup are not counted.
func (s *ShareService) Statistics(userID, shareID uint) (*ShareStatistics, error) {
	share, err := s.ownedShare(userID, shareID)
	if err != nil {
		return nil, err
	}

	stats := &ShareStatistics{
		ShareID:       share.ID,
		ShareCode:     share.ShareCode,
		ViewCount:     share.ViewCount,
		DownloadCount: share.DownloadCount,
		CreatedTime:   share.CreatedAt.Format("2006-01-02 15:04:05"),
	}
	if s.tokens == nil {
		return stats, nil
	}

	tokens, err := s.tokens.ListForShare(share.ShareCode, true)
	if err != nil {
		return nil, err
	}
	now := time.Now()
	stats.TotalTokens = len(tokens)
	for i := range tokens {
		stats.TokenDownloads += tokens[i].UsedCount
		// expiry is applied lazily, so an active row may already be dead
		if tokens[i].IsActive && now.Before(tokens[i].ExpiresAt) {
			stats.ActiveTokens++
			stats.RemainingTokens += tokens[i].RemainingUses()
		}
	}
	return stats, nil
}

// syncHasShare clears has_share on a file left without shares.
func syncHasShare(tx *gorm.DB, fileID uint) error {
	var remaining int64
	if err := tx.Model(&models.Share{}).Where("file_id = ?", fileID).Count(&remaining).Error; err != nil {
		return err
	}
	if remaining > 0 {
		return nil
	}
	return tx.Model(&models.ShareFile{}).Where("id = ?", fileID).Update("has_share", false).Error
}

func (s *ShareService) ownedShare(userID, shareID uint) (*models.Share, error) {
	var share models.Share
	err := s.db.Preload("File").Where("id = ? AND user_id = ?", shareID, userID).First(&share).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrShareNotFound
	}
	if err != nil {
		logger.Error().Err(err).Msg("share lookup failed")
		return nil, ErrDatabase
	}
	return &share, nil
}

func (s *ShareService) revokeTokens(codes ...string) {
	if s.tokens == nil {
		return
	}
	for _, code := range codes {
		if _, err := s.tokens.RevokeForShare(code); err != nil {
			logger.Warn().Err(err).Str("share_code", code).Msg("failed to revoke share tokens")
		}
	}
}

// ShareAccess is what a visitor learns about a share once access is granted.
// The owner, path and absolute path stay server side.
type ShareAccess struct {
	ShareID       uint                   `json:"share_id"`
	ShareName     string                 `json:"share_name"`
	ShareCode     string                 `json:"share_code"`
	FileName      string                 `json:"file_name"`
	FileSize      int64                  `json:"file_size"`
	FileType      string                 `json:"file_type"`
	CreatedTime   string                 `json:"created_time"`
	ViewCount     int64                  `json:"view_count"`
	DownloadCount int64                  `json:"download_count"`
	HasPassword   bool                   `json:"has_password"`
	ExtensionData map[string]interface{} `json:"extension_data"`

	UserID   uint   `json:"-"`
	FilePath string `json:"-"`
	FullPath string `json:"-"`
}

// ValidateShareAccess checks code and password and that the shared file is
// still servable. When a password is needed but missing, a summary of the
// share is returned together with ErrPasswordRequired.
func (s *ShareService) ValidateShareAccess(code, password string) (*ShareAccess, error) {
	share, err := s.lookupShare(code)
	if err != nil {
		return nil, err
	}
	access := newShareAccess(share)

	if share.HasPassword() {
		if password == "" {
			return access.summary(), ErrPasswordRequired
		}
		if !utils.CheckPassword(password, share.AccessPassword) {
			return nil, ErrPasswordIncorrect
		}
	}

	full, err := s.files.ResolveAndValidateFile(share.File.UserID, share.File.FilePath)
	if err != nil {
		logger.Warn().Str("share_code", code).Str("reason", ReasonOf(err)).Msg("shared file unavailable")
		return nil, ErrFileError
	}
	access.FullPath = full
	return access, nil
}

// CheckShareExists returns the public summary of a share without any
// password check.
func (s *ShareService) CheckShareExists(code string) (*ShareAccess, error) {
	share, err := s.lookupShare(code)
	if err != nil {
		return nil, err
	}
	return newShareAccess(share).summary(), nil
}

func (s *ShareService) lookupShare(code string) (*models.Share, error) {
	if !ValidShareCode(code) {
		return nil, ErrInvalidShareCode
	}
	var share models.Share
	err := s.db.Joins("File").Where("shares.share_code = ?", code).First(&share).Error
	if errors.Is(err, gorm.ErrRecordNotFound) || (err == nil && share.File == nil) {
		return nil, ErrShareNotFound
	}
	if err != nil {
		logger.Error().Err(err).Str("share_code", code).Msg("share lookup failed")
		return nil, ErrDatabase
	}
	return &share, nil
}

func newShareAccess(share *models.Share) *ShareAccess {
	extension := map[string]interface{}{}
	if share.Extension != "" {
		if err := json.Unmarshal([]byte(share.Extension), &extension); err != nil {
			extension = map[string]interface{}{}
		}
	}
	return &ShareAccess{
		ShareID:       share.ID,
		ShareName:     share.ShareName,
		ShareCode:     share.ShareCode,
		FileName:      share.File.FileName,
		FileSize:      share.File.FileSize,
		FileType:      share.File.FileType,
		CreatedTime:   share.CreatedAt.Format("2006-01-02 15:04:05"),
		ViewCount:     share.ViewCount,
		DownloadCount: share.DownloadCount,
		HasPassword:   share.HasPassword(),
		ExtensionData: extension,
		UserID:        share.File.UserID,
		FilePath:      share.File.FilePath,
	}
}

// summary is the subset shown before the password has been checked.
func (a *ShareAccess) summary() *ShareAccess {
	return &ShareAccess{
		ShareName:   a.ShareName,
		ShareCode:   a.ShareCode,
		FileName:    a.FileName,
		FileSize:    a.FileSize,
		FileType:    a.FileType,
		CreatedTime: a.CreatedTime,
		HasPassword: a.HasPassword,
	}
}

// IncrementViewCount bumps the view counter. Failures are logged only.
func (s *ShareService) IncrementViewCount(code string) {
	s.increment(code, "view_count")
}

// IncrementDownloadCount bumps the download counter. Failures are logged only.
func (s *ShareService) IncrementDownloadCount(code string) {
	s.increment(code, "download_count")
}

func (s *ShareService) increment(code, column string) {
	if !ValidShareCode(code) {
		return
	}
	err := s.db.Model(&models.Share{}).Where("share_code = ?", code).
		UpdateColumn(column, gorm.Expr(column+" + 1")).Error
	if err != nil {
		logger.Warn().Err(err).Str("share_code", code).Str("counter", column).Msg("failed to update share counter")
	}
}

func (s *ShareService) uniqueShareCode() (string, error) {
	for i := 0; i < shareCodeAttempts; i++ {
		code, err := s.randomCode()
		if err != nil {
			logger.Error().Err(err).Msg("random source failed")
			return "", ErrSystem
		}
		var count int64
		if err := s.db.Model(&models.Share{}).Where("share_code = ?", code).Count(&count).Error; err != nil {
			return "", ErrDatabase
		}
		if count == 0 {
			return code, nil
		}
	}
	return "", ErrShareCodeExhaust
}

func (s *ShareService) randomCode() (string, error) {
	// Bytes >= 248 are dropped so every symbol is equally likely.
	const limit = 256 - 256%len(shareCodeAlphabet)

	out := make([]byte, 0, ShareCodeLength)
	buf := make([]byte, ShareCodeLength)
	for len(out) < ShareCodeLength {
		if _, err := io.ReadFull(s.random, buf); err != nil {
			return "", err
		}
		for _, b := range buf {
			if int(b) >= limit {
				continue
			}
			out = append(out, shareCodeAlphabet[int(b)%len(shareCodeAlphabet)])
			if len(out) == ShareCodeLength {
				break
			}
		}
	}
	return string(out), nil
}
