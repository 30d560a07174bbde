package handlers

import (
	"github.com/defeatedperson/ykc/internal/services"
	"github.com/defeatedperson/ykc/pkg/response"
	"github.com/gin-gonic/gin"
)

// AdminHandler groups the security operator endpoints: download token
// housekeeping, the ban list and the ephemeral token ledger.
type AdminHandler struct {
	tokens      *services.DownloadTokenService
	bans        *services.IPBanService
	ledger      *services.IPLedger
	maintenance *services.MaintenanceService
	queue       services.TaskQueue
}

type AdminDeps struct {
	Tokens      *services.DownloadTokenService
	Bans        *services.IPBanService
	Ledger      *services.IPLedger
	Maintenance *services.MaintenanceService
	Queue       services.TaskQueue
}

func NewAdminHandler(deps AdminDeps) *AdminHandler {
	return &AdminHandler{
		tokens:      deps.Tokens,
		bans:        deps.Bans,
		ledger:      deps.Ledger,
		maintenance: deps.Maintenance,
		queue:       deps.Queue,
	}
}

func (h *AdminHandler) TokenStats(c *gin.Context) {
	stats, err := h.tokens.Statistics()
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, stats)
}

// CleanupTokens runs token cleanup inline, or hands it to the worker when
// the queue is Redis backed.
func (h *AdminHandler) CleanupTokens(c *gin.Context) {
	if h.maintenance != nil && h.queue != nil && h.queue.IsAsync() {
		if err := h.maintenance.Trigger(services.TaskTypeTokenCleanup, "admin"); err != nil {
			response.Error(c, err)
			return
		}
		response.Success(c, gin.H{"queued": true})
		return
	}

	result, err := h.tokens.CleanupExpired()
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, result)
}

func (h *AdminHandler) RevokeToken(c *gin.Context) {
	if err := h.tokens.Revoke(c.Param("token")); err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, gin.H{"message": "token revoked"})
}

func (h *AdminHandler) ListBans(c *gin.Context) {
	bans, err := h.bans.List()
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, bans)
}

type banRequest struct {
	IP     string `json:"ip" binding:"required,ip"`
	Reason string `json:"reason"`
}

func (h *AdminHandler) Ban(c *gin.Context) {
	var req banRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, err.Error())
		return
	}
	if req.Reason == "" {
		req.Reason = "manual"
	}

	if err := h.bans.Ban(req.IP, req.Reason); err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, gin.H{"ip": req.IP, "reason": req.Reason})
}

func (h *AdminHandler) Unban(c *gin.Context) {
	removed, err := h.bans.Unban(c.Param("ip"))
	if err != nil {
		response.Error(c, err)
		return
	}
	if !removed {
		response.Error(c, services.ErrBanNotFound)
		return
	}
	response.Success(c, gin.H{"message": "ip unbanned"})
}

// LedgerEntry shows the current window of an IP. Unknown IPs report a zero
// count.
func (h *AdminHandler) LedgerEntry(c *gin.Context) {
	ip := c.Param("ip")
	rec, found, err := h.ledger.Get(ip)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, gin.H{
		"ip":    ip,
		"found": found,
		"count": rec.Count,
		"first": rec.First,
		"limit": h.ledger.Limit(),
	})
}

func (h *AdminHandler) ClearLedger(c *gin.Context) {
	cleared, err := h.ledger.Clear(c.Param("ip"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, gin.H{"cleared": cleared})
}
