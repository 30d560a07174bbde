package services

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func newTestLedger(t *testing.T, clock *fakeClock, banner Banner) *IPLedger {
	t.Helper()
	l := NewIPLedger(filepath.Join(t.TempDir(), "data", "temp-jwt.json"), 10*time.Minute, 20, banner)
	l.SetClock(clock.Now)
	return l
}

func TestIPLedger_RecordAttemptIncrements(t *testing.T) {
	clock := newFakeClock(time.Unix(1_700_000_000, 0))
	l := newTestLedger(t, clock, newRecordingBanner())

	rec, err := l.RecordAttempt("1.2.3.4")
	require.NoError(t, err)
	require.Equal(t, 1, rec.Count)
	require.Equal(t, clock.Now().Unix(), rec.First)

	clock.Advance(time.Minute)
	rec, err = l.RecordAttempt("1.2.3.4")
	require.NoError(t, err)
	require.Equal(t, 2, rec.Count)
	require.Equal(t, int64(1_700_000_000), rec.First, "window start must not move")
}

func TestIPLedger_WindowReset(t *testing.T) {
	clock := newFakeClock(time.Unix(1_700_000_000, 0))
	l := newTestLedger(t, clock, newRecordingBanner())

	for i := 0; i < 5; i++ {
		_, err := l.RecordAttempt("1.2.3.4")
		require.NoError(t, err)
	}

	// first = now - WINDOW - 1
	clock.Advance(10*time.Minute + time.Second)
	rec, err := l.RecordAttempt("1.2.3.4")
	require.NoError(t, err)
	require.Equal(t, 1, rec.Count)
	require.Equal(t, clock.Now().Unix(), rec.First)
}

func TestIPLedger_WindowBoundaryInclusive(t *testing.T) {
	clock := newFakeClock(time.Unix(1_700_000_000, 0))
	l := newTestLedger(t, clock, newRecordingBanner())

	_, err := l.RecordAttempt("1.2.3.4")
	require.NoError(t, err)

	clock.Advance(10 * time.Minute)
	rec, err := l.RecordAttempt("1.2.3.4")
	require.NoError(t, err)
	require.Equal(t, 2, rec.Count, "exactly WINDOW seconds is still inside the window")
}

func TestIPLedger_BanThreshold(t *testing.T) {
	clock := newFakeClock(time.Unix(1_700_000_000, 0))
	banner := newRecordingBanner()
	l := newTestLedger(t, clock, banner)

	for i := 1; i <= 20; i++ {
		rec, err := l.RecordAttempt("9.9.9.9")
		require.NoError(t, err)
		require.False(t, l.IsOverLimit(rec), "attempt %d must be allowed", i)
	}

	rec, err := l.RecordAttempt("9.9.9.9")
	require.NoError(t, err)
	require.True(t, l.IsOverLimit(rec))

	require.NoError(t, l.BanAndClear("9.9.9.9"))
	status, _ := banner.IsBanned("9.9.9.9")
	require.True(t, status.Banned)

	_, ok, err := l.Get("9.9.9.9")
	require.NoError(t, err)
	require.False(t, ok, "record must be removed after ban")
}

func TestIPLedger_Clear(t *testing.T) {
	clock := newFakeClock(time.Unix(1_700_000_000, 0))
	l := newTestLedger(t, clock, newRecordingBanner())

	existed, err := l.Clear("1.1.1.1")
	require.NoError(t, err)
	require.False(t, existed)

	_, err = l.RecordAttempt("1.1.1.1")
	require.NoError(t, err)

	existed, err = l.Clear("1.1.1.1")
	require.NoError(t, err)
	require.True(t, existed)

	_, ok, err := l.Get("1.1.1.1")
	require.NoError(t, err)
	require.False(t, ok)
}

func TestIPLedger_PassiveExpiryOnLoad(t *testing.T) {
	clock := newFakeClock(time.Unix(1_700_000_000, 0))
	l := newTestLedger(t, clock, newRecordingBanner())

	_, err := l.RecordAttempt("1.1.1.1")
	require.NoError(t, err)
	clock.Advance(5 * time.Minute)
	_, err = l.RecordAttempt("2.2.2.2")
	require.NoError(t, err)

	clock.Advance(6 * time.Minute)
	snap, err := l.Snapshot()
	require.NoError(t, err)
	require.NotContains(t, snap, "1.1.1.1")
	require.Contains(t, snap, "2.2.2.2")
}

func TestIPLedger_FileFormat(t *testing.T) {
	clock := newFakeClock(time.Unix(1_700_000_000, 0))
	l := newTestLedger(t, clock, newRecordingBanner())

	_, err := l.RecordAttempt("1.2.3.4")
	require.NoError(t, err)

	data, err := os.ReadFile(l.path)
	require.NoError(t, err)
	require.JSONEq(t, `{"ip_logs":{"1.2.3.4":{"count":1,"first":1700000000}}}`, string(data))
}

func TestIPLedger_CorruptFileStartsEmpty(t *testing.T) {
	clock := newFakeClock(time.Unix(1_700_000_000, 0))
	l := newTestLedger(t, clock, newRecordingBanner())

	require.NoError(t, os.MkdirAll(filepath.Dir(l.path), 0755))
	require.NoError(t, os.WriteFile(l.path, []byte("{not json"), 0644))

	rec, err := l.RecordAttempt("1.2.3.4")
	require.NoError(t, err)
	require.Equal(t, 1, rec.Count)
}

func TestIPLedger_PersistsAcrossInstances(t *testing.T) {
	clock := newFakeClock(time.Unix(1_700_000_000, 0))
	path := filepath.Join(t.TempDir(), "ledger.json")

	first := NewIPLedger(path, 10*time.Minute, 20, newRecordingBanner())
	first.SetClock(clock.Now)
	_, err := first.RecordAttempt("1.2.3.4")
	require.NoError(t, err)

	second := NewIPLedger(path, 10*time.Minute, 20, newRecordingBanner())
	second.SetClock(clock.Now)
	rec, err := second.RecordAttempt("1.2.3.4")
	require.NoError(t, err)
	require.Equal(t, 2, rec.Count)
}
