package services

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/defeatedperson/ykc/pkg/logger"
)

// IPRecord counts verification attempts of one IP inside the current window.
type IPRecord struct {
	Count int   `json:"count"`
	First int64 `json:"first"` // unix seconds when the window opened
}

type ledgerDocument struct {
	IPLogs map[string]IPRecord `json:"ip_logs"`
}

// Banner is the ban list collaborator the ledger escalates to.
type Banner interface {
	Ban(ip, reason string) error
}

// IPLedger throttles ephemeral token traffic per IP. State is one JSON file
// rewritten in full on every mutation; records whose window elapsed are
// dropped whenever the file is loaded.
type IPLedger struct {
	path   string
	window time.Duration
	limit  int
	banner Banner
	now    func() time.Time
	mu     sync.Mutex
}

func NewIPLedger(path string, window time.Duration, limit int, banner Banner) *IPLedger {
	return &IPLedger{
		path:   path,
		window: window,
		limit:  limit,
		banner: banner,
		now:    time.Now,
	}
}

// SetClock replaces the time source.
func (l *IPLedger) SetClock(now func() time.Time) {
	l.now = now
}

func (l *IPLedger) Limit() int { return l.limit }

// RecordAttempt counts one attempt for ip, opening a fresh window when the
// previous one has elapsed, and persists the ledger.
func (l *IPLedger) RecordAttempt(ip string) (IPRecord, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	doc, err := l.load()
	if err != nil {
		return IPRecord{}, err
	}

	now := l.now().Unix()
	rec, ok := doc.IPLogs[ip]
	if !ok || now-rec.First > int64(l.window/time.Second) {
		rec = IPRecord{Count: 0, First: now}
	}
	rec.Count++
	doc.IPLogs[ip] = rec

	if err := l.save(doc); err != nil {
		return IPRecord{}, err
	}
	return rec, nil
}

func (l *IPLedger) IsOverLimit(rec IPRecord) bool {
	return rec.Count > l.limit
}

// BanAndClear bans ip and then forgets its counter. The ban is what matters,
// so a failure to rewrite the ledger afterwards is only logged.
func (l *IPLedger) BanAndClear(ip string) error {
	if err := l.banner.Ban(ip, "too many temporary token attempts"); err != nil {
		return err
	}
	if _, err := l.Clear(ip); err != nil {
		logger.Warn().Err(err).Str("ip", ip).Msg("failed to clear ledger record after ban")
	}
	return nil
}

// Clear removes the record for ip and reports whether one existed.
func (l *IPLedger) Clear(ip string) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	doc, err := l.load()
	if err != nil {
		return false, err
	}
	if _, ok := doc.IPLogs[ip]; !ok {
		return false, nil
	}
	delete(doc.IPLogs, ip)
	if err := l.save(doc); err != nil {
		return false, err
	}
	return true, nil
}

// Get returns the live record for ip.
func (l *IPLedger) Get(ip string) (IPRecord, bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	doc, err := l.load()
	if err != nil {
		return IPRecord{}, false, err
	}
	rec, ok := doc.IPLogs[ip]
	return rec, ok, nil
}

// Snapshot returns every live record.
func (l *IPLedger) Snapshot() (map[string]IPRecord, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	doc, err := l.load()
	if err != nil {
		return nil, err
	}
	return doc.IPLogs, nil
}

func (l *IPLedger) load() (*ledgerDocument, error) {
	doc := &ledgerDocument{IPLogs: map[string]IPRecord{}}

	data, err := os.ReadFile(l.path)
	if errors.Is(err, os.ErrNotExist) {
		return doc, nil
	}
	if err != nil {
		logger.Error().Err(err).Msg("failed to read ip ledger")
		return nil, ErrSystem
	}

	if len(data) > 0 {
		if err := json.Unmarshal(data, doc); err != nil {
			// A corrupt ledger only loses counters; start over rather than lock everyone out.
			logger.Warn().Err(err).Msg("ip ledger is corrupt, starting empty")
			doc = &ledgerDocument{}
		}
	}
	if doc.IPLogs == nil {
		doc.IPLogs = map[string]IPRecord{}
	}

	now := l.now().Unix()
	windowSecs := int64(l.window / time.Second)
	for ip, rec := range doc.IPLogs {
		if now-rec.First > windowSecs {
			delete(doc.IPLogs, ip)
		}
	}
	return doc, nil
}

func (l *IPLedger) save(doc *ledgerDocument) error {
	data, err := json.Marshal(doc)
	if err != nil {
		return ErrSystem
	}

	dir := filepath.Dir(l.path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		logger.Error().Err(err).Msg("failed to create ip ledger directory")
		return ErrSystem
	}

	tmp, err := os.CreateTemp(dir, ".ledger-*")
	if err != nil {
		logger.Error().Err(err).Msg("failed to write ip ledger")
		return ErrSystem
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		logger.Error().Err(err).Msg("failed to write ip ledger")
		return ErrSystem
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return ErrSystem
	}
	if err := os.Rename(tmpName, l.path); err != nil {
		os.Remove(tmpName)
		logger.Error().Err(err).Msg("failed to replace ip ledger")
		return ErrSystem
	}
	return nil
}
