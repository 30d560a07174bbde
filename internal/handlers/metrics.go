package handlers

import (
	"fmt"
	"runtime"
	"strings"
	"time"

	"github.com/defeatedperson/ykc/internal/models"
	"github.com/defeatedperson/ykc/internal/services"
	"github.com/gin-gonic/gin"
	"gorm.io/gorm"
)

var startTime = time.Now()

type MetricsHandler struct {
	db     *gorm.DB
	tokens *services.DownloadTokenService
	queue  services.TaskQueue
}

func NewMetricsHandler(db *gorm.DB, tokens *services.DownloadTokenService, queue services.TaskQueue) *MetricsHandler {
	return &MetricsHandler{db: db, tokens: tokens, queue: queue}
}

// Metrics returns Prometheus-compatible text format metrics.
func (h *MetricsHandler) Metrics(c *gin.Context) {
	var b strings.Builder

	// -- Runtime metrics --
	var m runtime.MemStats
	runtime.ReadMemStats(&m)

	writeGauge(&b, "ykc_uptime_seconds", "Time since server start in seconds", time.Since(startTime).Seconds())
	writeGauge(&b, "ykc_goroutines", "Number of active goroutines", float64(runtime.NumGoroutine()))
	writeGauge(&b, "ykc_memory_alloc_bytes", "Current heap allocation in bytes", float64(m.Alloc))
	writeGauge(&b, "ykc_gc_runs_total", "Total number of GC runs", float64(m.NumGC))

	// -- Database metrics --
	if sqlDB, err := h.db.DB(); err == nil {
		stats := sqlDB.Stats()
		writeGauge(&b, "ykc_db_open_connections", "Number of open DB connections", float64(stats.OpenConnections))
		writeGauge(&b, "ykc_db_in_use_connections", "Number of in-use DB connections", float64(stats.InUse))
	}

	queueAsync := 0.0
	if h.queue != nil && h.queue.IsAsync() {
		queueAsync = 1.0
	}
	writeGauge(&b, "ykc_queue_async_enabled", "Whether async queue (Redis) is enabled (1=yes, 0=no)", queueAsync)

	// -- Download tokens --
	if stats, err := h.tokens.Statistics(); err == nil {
		writeGauge(&b, "ykc_download_tokens_active", "Download tokens usable right now", float64(stats.ActiveTokens))
		writeGauge(&b, "ykc_download_tokens_expired", "Expired tokens still flagged active", float64(stats.ExpiredTokens))
		writeGauge(&b, "ykc_download_tokens_exhausted", "Exhausted tokens still flagged active", float64(stats.ExhaustedTokens))
		writeGauge(&b, "ykc_download_tokens_generated_today", "Download tokens generated today", float64(stats.TodayGenerated))
		writeGauge(&b, "ykc_download_tokens_used_today", "Download tokens used today", float64(stats.TodayUsed))
	}

	// -- Shares, bans and users --
	var shareCount, fileCount, banCount, userCount int64
	h.db.Model(&models.Share{}).Count(&shareCount)
	h.db.Model(&models.ShareFile{}).Count(&fileCount)
	h.db.Model(&models.BannedIP{}).Count(&banCount)
	h.db.Model(&models.User{}).Where("is_active = ?", true).Count(&userCount)

	writeGauge(&b, "ykc_shares_total", "Number of published shares", float64(shareCount))
	writeGauge(&b, "ykc_share_files_total", "Number of registered shareable files", float64(fileCount))
	writeGauge(&b, "ykc_banned_ips", "Number of ban list entries", float64(banCount))
	writeGauge(&b, "ykc_users_active", "Number of active users", float64(userCount))

	c.Data(200, "text/plain; version=0.0.4; charset=utf-8", []byte(b.String()))
}

func writeGauge(b *strings.Builder, name, help string, value float64) {
	fmt.Fprintf(b, "# HELP %s %s\n", name, help)
	fmt.Fprintf(b, "# TYPE %s gauge\n", name)
	fmt.Fprintf(b, "%s %g\n\n", name, value)
}
