package services

import (
	"errors"
	"io"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/defeatedperson/ykc/internal/config"
	"github.com/defeatedperson/ykc/internal/fsutil"
	"github.com/defeatedperson/ykc/internal/models"
	"github.com/defeatedperson/ykc/pkg/logger"
	"gorm.io/gorm"
)

const maxFilenameLength = 255

// Uploadable extensions. Anything listed in dangerousExtensions is refused
// even if it appears here.
var allowedExtensions = toSet(
	"jpg", "jpeg", "png", "gif", "webp", "bmp", "svg", "ico",
	"pdf", "doc", "docx", "xls", "xlsx", "ppt", "pptx",
	"txt", "md", "rtf", "csv",
	"zip", "rar", "7z", "tar", "gz", "bz2",
	"mp4", "avi", "mov", "mkv", "wmv", "flv", "webm", "m4v",
	"mp3", "wav", "flac", "aac", "ogg", "m4a",
	"html", "css", "java", "cpp", "c", "cs", "go", "rs",
)

var dangerousExtensions = toSet(
	"php", "php3", "php4", "php5", "phtml", "phps",
	"asp", "aspx", "jsp", "js", "vbs", "wsf",
	"exe", "bat", "cmd", "com", "scr", "msi",
	"sh", "bash", "csh", "ksh", "pl", "py",
	"htaccess", "htpasswd", "ini", "conf",
)

var fileTypes = map[string]string{
	"jpg": "image", "jpeg": "image", "png": "image", "gif": "image", "webp": "image",
	"mp4": "video", "avi": "video", "mkv": "video", "mov": "video", "wmv": "video",
	"mp3": "audio", "wav": "audio", "flac": "audio", "aac": "audio", "m4a": "audio",
	"pdf": "document", "doc": "document", "docx": "document", "xls": "document", "xlsx": "document",
	"txt": "text", "md": "text", "log": "text",
	"zip": "archive", "rar": "archive", "7z": "archive", "tar": "archive",
}

func toSet(values ...string) map[string]bool {
	m := make(map[string]bool, len(values))
	for _, v := range values {
		m[v] = true
	}
	return m
}

func fileExtension(name string) string {
	return strings.TrimPrefix(strings.ToLower(filepath.Ext(name)), ".")
}

// FileTypeOf classifies a file name into a coarse display category.
func FileTypeOf(name string) string {
	if t, ok := fileTypes[fileExtension(name)]; ok {
		return t
	}
	return "other"
}

// FileService owns the per-user storage roots under the data directory.
type FileService struct {
	db           *gorm.DB
	dataRoot     string
	defaultQuota int64
	maxUpload    int64
}

func NewFileService(db *gorm.DB, cfg *config.StorageConfig) *FileService {
	return &FileService{
		db:           db,
		dataRoot:     cfg.DataRoot,
		defaultQuota: cfg.DefaultQuotaMB * 1024 * 1024,
		maxUpload:    cfg.MaxUploadMB * 1024 * 1024,
	}
}

func (s *FileService) UserRoot(userID uint) string {
	return fsutil.UserRoot(s.dataRoot, userID)
}

// EnsureUserRoot creates the user's storage directory if needed.
func (s *FileService) EnsureUserRoot(userID uint) error {
	if err := os.MkdirAll(s.UserRoot(userID), 0755); err != nil {
		logger.Error().Err(err).Uint("user_id", userID).Msg("failed to create user directory")
		return ErrSystem
	}
	return nil
}

// ResolveAndValidateFile maps relPath inside the user's root to an absolute
// path of an existing, readable regular file.
func (s *FileService) ResolveAndValidateFile(userID uint, relPath string) (string, error) {
	root := s.UserRoot(userID)
	if st, err := os.Stat(root); err != nil || !st.IsDir() {
		return "", ErrUserDirNotExists
	}

	full, err := fsutil.ResolveWithinRoot(root, relPath)
	if err != nil {
		return "", ErrInvalidPath
	}

	info, err := os.Stat(full)
	if errors.Is(err, os.ErrNotExist) {
		return "", ErrFileNotExists
	}
	if err != nil {
		return "", ErrFileNotReadable
	}
	if !info.Mode().IsRegular() {
		return "", ErrNotAFile
	}

	f, err := os.Open(full)
	if err != nil {
		return "", ErrFileNotReadable
	}
	f.Close()

	return full, nil
}

// StorageLimit returns the user's quota in bytes, or models.StorageLimitUnlimited.
func (s *FileService) StorageLimit(userID uint) (int64, error) {
	var user models.User
	if err := s.db.Select("id", "storage_limit").First(&user, userID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return 0, ErrUserNotFound
		}
		logger.Error().Err(err).Uint("user_id", userID).Msg("failed to load storage limit")
		return 0, ErrDatabase
	}
	switch {
	case user.StorageLimit == models.StorageLimitDefault:
		return s.defaultQuota, nil
	case user.StorageLimit < 0:
		return models.StorageLimitUnlimited, nil
	default:
		return user.StorageLimit, nil
	}
}

// Usage is the total size of the user's files.
func (s *FileService) Usage(userID uint) (int64, error) {
	used, err := fsutil.DirSize(s.UserRoot(userID))
	if err != nil {
		logger.Error().Err(err).Uint("user_id", userID).Msg("failed to measure storage usage")
		return 0, ErrSystem
	}
	return used, nil
}

type QuotaInfo struct {
	Used         int64   `json:"used_space"`
	Limit        int64   `json:"storage_limit"`
	Unlimited    bool    `json:"is_unlimited"`
	Available    *int64  `json:"available_space"`
	UsagePercent float64 `json:"storage_usage_percentage"`
	MaxUpload    int64   `json:"max_upload_size"`
}

func (s *FileService) Quota(userID uint) (*QuotaInfo, error) {
	limit, err := s.StorageLimit(userID)
	if err != nil {
		return nil, err
	}
	used, err := s.Usage(userID)
	if err != nil {
		return nil, err
	}

	info := &QuotaInfo{Used: used, Limit: limit, MaxUpload: s.maxUpload}
	if limit == models.StorageLimitUnlimited {
		info.Unlimited = true
		return info, nil
	}

	available := limit - used
	if available < 0 {
		available = 0
	}
	info.Available = &available
	if limit > 0 {
		info.UsagePercent = float64(int64(float64(used)/float64(limit)*10000)) / 100
	}
	return info, nil
}

type UploadedFile struct {
	Name      string    `json:"name"`
	Path      string    `json:"path"`
	Size      int64     `json:"size"`
	Extension string    `json:"extension"`
	Uploaded  time.Time `json:"uploaded_time"`
}

// ValidateFilename checks an upload name against the extension policy.
func ValidateFilename(name string) error {
	if name == "" || name == "." || name == ".." || strings.ContainsAny(name, "/\\\x00") || !utf8.ValidString(name) {
		return ErrInvalidFilename
	}
	if len(name) > maxFilenameLength {
		return ErrFilenameTooLong
	}
	ext := fileExtension(name)
	if dangerousExtensions[ext] {
		return ErrDangerousExtension
	}
	if !allowedExtensions[ext] {
		return ErrForbiddenExtension
	}
	return nil
}

// Upload stores r as dir/name in the user's root. size is the declared
// length; the copy is cut off if the body turns out larger.
func (s *FileService) Upload(userID uint, dir, name string, r io.Reader, size int64) (*UploadedFile, error) {
	if err := ValidateFilename(name); err != nil {
		return nil, err
	}
	if size < 0 {
		return nil, ErrInvalidParameters
	}
	if s.maxUpload > 0 && size > s.maxUpload {
		return nil, ErrUploadTooLarge
	}

	if err := s.checkQuota(userID, size); err != nil {
		return nil, err
	}

	if err := s.EnsureUserRoot(userID); err != nil {
		return nil, err
	}
	root := s.UserRoot(userID)

	targetDir, err := fsutil.ResolveWithinRoot(root, dir)
	if err != nil {
		return nil, ErrInvalidPath
	}
	if err := os.MkdirAll(targetDir, 0755); err != nil {
		logger.Error().Err(err).Msg("failed to create upload directory")
		return nil, ErrSystem
	}

	target := filepath.Join(targetDir, name)
	f, err := os.OpenFile(target, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0644)
	if errors.Is(err, os.ErrExist) {
		return nil, ErrFileExists
	}
	if err != nil {
		logger.Error().Err(err).Msg("failed to create upload target")
		return nil, ErrSystem
	}

	written, err := io.Copy(f, io.LimitReader(r, size+1))
	closeErr := f.Close()
	if err == nil {
		err = closeErr
	}
	if err != nil || written != size {
		os.Remove(target)
		if err != nil {
			logger.Error().Err(err).Msg("upload write failed")
			return nil, ErrSystem
		}
		return nil, ErrInvalidParameters
	}

	rel, err := fsutil.RelativeTo(root, target)
	if err != nil {
		rel = path.Join(strings.Trim(filepath.ToSlash(dir), "/"), name)
	}

	return &UploadedFile{
		Name:      name,
		Path:      rel,
		Size:      written,
		Extension: fileExtension(name),
		Uploaded:  time.Now(),
	}, nil
}

func (s *FileService) checkQuota(userID uint, size int64) error {
	limit, err := s.StorageLimit(userID)
	if err != nil {
		return err
	}
	if limit == models.StorageLimitUnlimited {
		return nil
	}
	used, err := s.Usage(userID)
	if err != nil {
		return err
	}
	if used+size > limit {
		return ErrQuotaExceeded
	}
	return nil
}
