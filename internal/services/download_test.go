package services

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/defeatedperson/ykc/internal/config"
	"github.com/defeatedperson/ykc/internal/models"
	"github.com/defeatedperson/ykc/internal/transfer"
	"github.com/stretchr/testify/require"
)

type downloadFixture struct {
	*shareFixture
	downloads *DownloadService
	clock     *fakeClock
	content   []byte
}

func newDownloadFixture(t *testing.T, maxSizeMB int64) *downloadFixture {
	t.Helper()
	f := newShareFixture(t)
	clock := newFakeClock(time.Date(2026, 5, 10, 9, 0, 0, 0, time.Local))
	f.tokens.SetClock(clock.Now)

	files := NewFileService(f.db, &config.StorageConfig{DataRoot: f.dataDir})
	downloads := NewDownloadService(f.shares, f.tokens, files, &config.DownloadConfig{MaxSizeMB: maxSizeMB})

	file := f.addFile(t, "2024/report.pdf")
	insertShare(t, f.db, file, "abc12345", "")

	return &downloadFixture{
		shareFixture: f,
		downloads:    downloads,
		clock:        clock,
		content:      []byte("%PDF-1.4 quarterly numbers"),
	}
}

func TestDownload_EndToEnd(t *testing.T) {
	f := newDownloadFixture(t, 0)

	access, err := f.shares.ValidateShareAccess("abc12345", "")
	require.NoError(t, err)
	require.Equal(t, uint(7), access.UserID)

	tok, err := f.tokens.Generate(&GenerateTokenRequest{
		ShareCode: "abc12345",
		UserID:    7,
		FilePath:  "2024/report.pdf",
		FileName:  "report.pdf",
	})
	require.NoError(t, err)
	require.Regexp(t, hexToken, tok.Token)
	require.Equal(t, 5, tok.MaxUses)
	require.True(t, tok.ExpiresAt.Equal(f.clock.Now().Add(12*time.Hour)))

	redeemed, err := f.downloads.Redeem(tok.Token)
	require.NoError(t, err)
	require.Equal(t, "report.pdf", redeemed.FileName)
	require.Equal(t, 4, redeemed.RemainingUses)

	w := httptest.NewRecorder()
	require.NoError(t, transfer.Serve(w, redeemed.Path, redeemed.FileName, true, ""))
	require.Equal(t, http.StatusOK, w.Code)
	require.Equal(t, f.content, w.Body.Bytes())

	var row models.DownloadToken
	require.NoError(t, f.db.Where("token = ?", tok.Token).First(&row).Error)
	require.Equal(t, 1, row.UsedCount)
	require.True(t, row.IsActive)

	var share models.Share
	require.NoError(t, f.db.Where("share_code = ?", "abc12345").First(&share).Error)
	require.Equal(t, int64(1), share.DownloadCount)
}

func TestDownload_IssueForShare(t *testing.T) {
	f := newDownloadFixture(t, 0)

	issued, err := f.downloads.IssueForShare("abc12345", "", "")
	require.NoError(t, err)
	require.Equal(t, "report.pdf", issued.FileName)
	require.Equal(t, int64(len(f.content)), issued.FileSize)

	_, err = f.downloads.IssueForShare("abc12345", "", "/2024/./report.pdf")
	require.NoError(t, err)

	_, err = f.downloads.IssueForShare("abc12345", "", "2024/notes.txt")
	require.ErrorIs(t, err, ErrFilePathMismatch)

	_, err = f.downloads.IssueForShare("zzzzzzzz", "", "")
	require.ErrorIs(t, err, ErrShareNotFound)
}

func TestDownload_IssueForProtectedShare(t *testing.T) {
	f := newDownloadFixture(t, 0)
	file := f.addFile(t, "2024/notes.txt")
	share, err := f.shares.CreateShare(7, &CreateShareRequest{FileID: file.ID, ShareName: "notes", Password: "letmein"})
	require.NoError(t, err)

	_, err = f.downloads.IssueForShare(share.ShareCode, "", "")
	require.ErrorIs(t, err, ErrPasswordRequired)

	_, err = f.downloads.IssueForShare(share.ShareCode, "nope", "")
	require.ErrorIs(t, err, ErrPasswordIncorrect)

	issued, err := f.downloads.IssueForShare(share.ShareCode, "letmein", "")
	require.NoError(t, err)
	require.Equal(t, "notes.txt", issued.FileName)
}

func TestDownload_RedeemFailures(t *testing.T) {
	f := newDownloadFixture(t, 0)

	_, err := f.downloads.Redeem("short")
	require.ErrorIs(t, err, ErrInvalidTokenFormat)

	issued, err := f.downloads.IssueForShare("abc12345", "", "")
	require.NoError(t, err)

	require.NoError(t, removeUserFile(f.dataDir, 7, "2024/report.pdf"))
	_, err = f.downloads.Redeem(issued.Token)
	require.ErrorIs(t, err, ErrFileError)

	// A failed redemption does not spend a use.
	var row models.DownloadToken
	require.NoError(t, f.db.Where("token = ?", issued.Token).First(&row).Error)
	require.Zero(t, row.UsedCount)
}

func TestDownload_RedeemTooLarge(t *testing.T) {
	f := newDownloadFixture(t, 1)
	writeUserFile(t, f.dataDir, 7, "2024/report.pdf", make([]byte, 1024*1024+1))

	issued, err := f.downloads.IssueForShare("abc12345", "", "")
	require.NoError(t, err)

	_, err = f.downloads.Redeem(issued.Token)
	require.ErrorIs(t, err, ErrFileTooLarge)
}
