package services

import (
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/defeatedperson/ykc/internal/config"
	"github.com/defeatedperson/ykc/internal/models"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := models.Open(&config.DatabaseConfig{
		Driver: "sqlite",
		DSN:    filepath.Join(t.TempDir(), "test.db") + "?_busy_timeout=5000",
	}, logger.Silent)
	require.NoError(t, err)
	require.NoError(t, models.Migrate(db))

	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { sqlDB.Close() })

	InitSystemLogger(db)
	t.Cleanup(func() { InitSystemLogger(nil) })
	return db
}

// fakeClock is a settable time source safe for concurrent reads.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock(t time.Time) *fakeClock { return &fakeClock{now: t} }

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func (c *fakeClock) Set(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = t
}

// recordingBanner is an in-memory ban list.
type recordingBanner struct {
	mu     sync.Mutex
	banned map[string]string
}

func newRecordingBanner() *recordingBanner {
	return &recordingBanner{banned: map[string]string{}}
}

func (b *recordingBanner) Ban(ip, reason string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.banned[ip] = reason
	return nil
}

func (b *recordingBanner) IsBanned(ip string) (BanStatus, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	_, ok := b.banned[ip]
	return BanStatus{Banned: ok}, nil
}
