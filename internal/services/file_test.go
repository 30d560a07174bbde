package services

import (
	"bytes"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"

	"github.com/defeatedperson/ykc/internal/config"
	"github.com/defeatedperson/ykc/internal/models"
	"github.com/stretchr/testify/require"
)

func newFileFixture(t *testing.T) (*FileService, string, *models.User) {
	t.Helper()
	db := newTestDB(t)
	dataDir := t.TempDir()
	user := &models.User{Username: "alice", Password: "x", Role: "user", IsActive: true}
	require.NoError(t, db.Create(user).Error)
	svc := NewFileService(db, &config.StorageConfig{DataRoot: dataDir, DefaultQuotaMB: 1, MaxUploadMB: 1})
	return svc, dataDir, user
}

func TestResolveAndValidateFile_Reasons(t *testing.T) {
	svc, dataDir, _ := newFileFixture(t)

	_, err := svc.ResolveAndValidateFile(7, "a.txt")
	require.ErrorIs(t, err, ErrUserDirNotExists)

	writeUserFile(t, dataDir, 7, "docs/a.txt", []byte("hello"))

	full, err := svc.ResolveAndValidateFile(7, "docs/a.txt")
	require.NoError(t, err)
	require.Equal(t, filepath.Join(dataDir, "7", "docs", "a.txt"), full)

	_, err = svc.ResolveAndValidateFile(7, "/docs/a.txt")
	require.NoError(t, err, "leading slash is relative to the user root")

	_, err = svc.ResolveAndValidateFile(7, "../8/a.txt")
	require.ErrorIs(t, err, ErrInvalidPath)

	_, err = svc.ResolveAndValidateFile(7, "docs/missing.txt")
	require.ErrorIs(t, err, ErrFileNotExists)

	_, err = svc.ResolveAndValidateFile(7, "docs")
	require.ErrorIs(t, err, ErrNotAFile)

	if runtime.GOOS != "windows" && os.Getuid() != 0 {
		locked := writeUserFile(t, dataDir, 7, "docs/locked.txt", []byte("x"))
		require.NoError(t, os.Chmod(locked, 0))
		_, err = svc.ResolveAndValidateFile(7, "docs/locked.txt")
		require.ErrorIs(t, err, ErrFileNotReadable)
	}
}

func TestResolveAndValidateFile_RejectsSymlinkEscape(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("symlinks need privileges on windows")
	}
	svc, dataDir, _ := newFileFixture(t)
	outside := writeUserFile(t, dataDir, 8, "secret.txt", []byte("secret"))
	writeUserFile(t, dataDir, 7, "keep.txt", []byte("x"))
	require.NoError(t, os.Symlink(outside, filepath.Join(dataDir, "7", "link.txt")))

	_, err := svc.ResolveAndValidateFile(7, "link.txt")
	require.ErrorIs(t, err, ErrInvalidPath)
}

func TestValidateFilename(t *testing.T) {
	cases := map[string]error{
		"report.pdf": nil,
		"photo.JPG":  nil,
		"shell.php":  ErrDangerousExtension,
		"script.js":  ErrDangerousExtension,
		"tool.py":    ErrDangerousExtension,
		"binary.exe": ErrDangerousExtension,
		"data.xyz":   ErrForbiddenExtension,
		"noext":      ErrForbiddenExtension,
		"":           ErrInvalidFilename,
		"a/b.txt":    ErrInvalidFilename,
		"..":         ErrInvalidFilename,
	}
	cases[strings.Repeat("a", 252)+".txt"] = ErrFilenameTooLong

	for name, want := range cases {
		err := ValidateFilename(name)
		if want == nil {
			require.NoError(t, err, name)
			continue
		}
		require.ErrorIs(t, err, want, name)
	}
}

func TestFileTypeOf(t *testing.T) {
	require.Equal(t, "image", FileTypeOf("a.PNG"))
	require.Equal(t, "video", FileTypeOf("a.mkv"))
	require.Equal(t, "audio", FileTypeOf("a.flac"))
	require.Equal(t, "document", FileTypeOf("report.pdf"))
	require.Equal(t, "text", FileTypeOf("server.log"))
	require.Equal(t, "archive", FileTypeOf("a.7z"))
	require.Equal(t, "other", FileTypeOf("a.bmp"))
	require.Equal(t, "other", FileTypeOf("README"))
}

func TestUpload(t *testing.T) {
	svc, dataDir, user := newFileFixture(t)

	content := []byte("hello world")
	up, err := svc.Upload(user.ID, "notes", "hello.txt", bytes.NewReader(content), int64(len(content)))
	require.NoError(t, err)
	require.Equal(t, "notes/hello.txt", up.Path)
	require.Equal(t, int64(len(content)), up.Size)
	require.Equal(t, "txt", up.Extension)

	got, err := os.ReadFile(filepath.Join(svc.UserRoot(user.ID), "notes", "hello.txt"))
	require.NoError(t, err)
	require.Equal(t, content, got)

	_, err = svc.Upload(user.ID, "notes", "hello.txt", bytes.NewReader(content), int64(len(content)))
	require.ErrorIs(t, err, ErrFileExists)

	_, err = svc.Upload(user.ID, "../escape", "x.txt", bytes.NewReader(content), int64(len(content)))
	require.ErrorIs(t, err, ErrInvalidPath)
	_, err = os.Stat(filepath.Join(dataDir, "escape"))
	require.True(t, os.IsNotExist(err))

	_, err = svc.Upload(user.ID, "", "evil.php", bytes.NewReader(content), int64(len(content)))
	require.ErrorIs(t, err, ErrDangerousExtension)

	// Declared size must match the body.
	_, err = svc.Upload(user.ID, "", "short.txt", bytes.NewReader(content), 100)
	require.ErrorIs(t, err, ErrInvalidParameters)
	_, err = os.Stat(filepath.Join(svc.UserRoot(user.ID), "short.txt"))
	require.True(t, os.IsNotExist(err))
}

func TestUpload_Limits(t *testing.T) {
	svc, _, user := newFileFixture(t)

	big := int64(1024*1024 + 1)
	_, err := svc.Upload(user.ID, "", "big.zip", bytes.NewReader(make([]byte, big)), big)
	require.ErrorIs(t, err, ErrUploadTooLarge)

	half := int64(600 * 1024)
	_, err = svc.Upload(user.ID, "", "a.zip", bytes.NewReader(make([]byte, half)), half)
	require.NoError(t, err)
	_, err = svc.Upload(user.ID, "", "b.zip", bytes.NewReader(make([]byte, half)), half)
	require.ErrorIs(t, err, ErrQuotaExceeded)
	require.Equal(t, 507, ErrQuotaExceeded.Status())
}

func TestQuota(t *testing.T) {
	svc, dataDir, user := newFileFixture(t)
	writeUserFile(t, dataDir, user.ID, "a.bin", make([]byte, 512*1024))

	q, err := svc.Quota(user.ID)
	require.NoError(t, err)
	require.Equal(t, int64(512*1024), q.Used)
	require.Equal(t, int64(1024*1024), q.Limit)
	require.False(t, q.Unlimited)
	require.NotNil(t, q.Available)
	require.Equal(t, int64(512*1024), *q.Available)
	require.InDelta(t, 50.0, q.UsagePercent, 0.001)

	require.NoError(t, svc.db.Model(user).Update("storage_limit", models.StorageLimitUnlimited).Error)
	q, err = svc.Quota(user.ID)
	require.NoError(t, err)
	require.True(t, q.Unlimited)
	require.Nil(t, q.Available)

	_, err = svc.Quota(999)
	require.ErrorIs(t, err, ErrUserNotFound)
}
