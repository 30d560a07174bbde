package services

import (
	"os"
	"path"
	"strings"

	"github.com/defeatedperson/ykc/internal/config"
	"github.com/defeatedperson/ykc/pkg/logger"
)

// DownloadService ties share access, download tokens and the file resolver
// together for the public download flow.
type DownloadService struct {
	shares  *ShareService
	tokens  *DownloadTokenService
	files   FileResolver
	maxSize int64
}

func NewDownloadService(shares *ShareService, tokens *DownloadTokenService, files FileResolver, cfg *config.DownloadConfig) *DownloadService {
	maxSize := cfg.MaxSizeMB
	if maxSize <= 0 {
		maxSize = 1024
	}
	return &DownloadService{
		shares:  shares,
		tokens:  tokens,
		files:   files,
		maxSize: maxSize * 1024 * 1024,
	}
}

type IssuedDownload struct {
	*GeneratedToken
	FileName string `json:"file_name"`
	FileSize int64  `json:"file_size"`
}

// IssueForShare checks access to the share and hands out a download token
// for its file. filePath, when given, must name the shared file.
func (s *DownloadService) IssueForShare(code, password, filePath string) (*IssuedDownload, error) {
	access, err := s.shares.ValidateShareAccess(code, password)
	if err != nil {
		return nil, err
	}

	if filePath != "" && normalizeRelPath(filePath) != normalizeRelPath(access.FilePath) {
		return nil, ErrFilePathMismatch
	}

	token, err := s.tokens.Generate(&GenerateTokenRequest{
		ShareCode: access.ShareCode,
		UserID:    access.UserID,
		FilePath:  access.FilePath,
		FileName:  access.FileName,
	})
	if err != nil {
		return nil, err
	}

	return &IssuedDownload{GeneratedToken: token, FileName: access.FileName, FileSize: access.FileSize}, nil
}

// Redemption is a token that has been charged and the file it unlocks.
type Redemption struct {
	Path          string
	FileName      string
	Size          int64
	RemainingUses int
}

// Redeem spends one use of token and returns the file to stream. The use is
// charged before any byte is sent, so an interrupted transfer is not refunded.
func (s *DownloadService) Redeem(token string) (*Redemption, error) {
	verified, err := s.tokens.Verify(token)
	if err != nil {
		return nil, err
	}
	row := verified.Token

	full, err := s.files.ResolveAndValidateFile(row.UserID, row.FilePath)
	if err != nil {
		logger.Warn().Str("share_code", row.ShareCode).Str("reason", ReasonOf(err)).Msg("token file unavailable")
		return nil, ErrFileError
	}
	info, err := os.Stat(full)
	if err != nil {
		return nil, ErrFileError
	}
	if info.Size() > s.maxSize {
		return nil, ErrFileTooLarge
	}

	consumed, err := s.tokens.Consume(token)
	if err != nil {
		return nil, err
	}

	s.shares.IncrementDownloadCount(row.ShareCode)

	return &Redemption{
		Path:          full,
		FileName:      row.FileName,
		Size:          info.Size(),
		RemainingUses: consumed.RemainingUses,
	}, nil
}

func normalizeRelPath(p string) string {
	return strings.TrimPrefix(path.Clean("/"+strings.ReplaceAll(p, "\\", "/")), "/")
}
