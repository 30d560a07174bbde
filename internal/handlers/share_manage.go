package handlers

import (
	"strconv"

	"github.com/defeatedperson/ykc/internal/middleware"
	"github.com/defeatedperson/ykc/internal/services"
	"github.com/defeatedperson/ykc/pkg/response"
	"github.com/gin-gonic/gin"
)

// ShareManageHandler is the owner side of sharing: registering files,
// publishing shares and managing the download tokens of a share.
type ShareManageHandler struct {
	shares *services.ShareService
	tokens *services.DownloadTokenService
}

func NewShareManageHandler(shares *services.ShareService, tokens *services.DownloadTokenService) *ShareManageHandler {
	return &ShareManageHandler{shares: shares, tokens: tokens}
}

type addShareFilesRequest struct {
	Paths []string `json:"paths" binding:"required"`
}

func (h *ShareManageHandler) AddFiles(c *gin.Context) {
	var req addShareFilesRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, err.Error())
		return
	}

	result, err := h.shares.AddFiles(middleware.GetUserID(c), req.Paths)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, result)
}

// ListFiles lists the caller's shareable files. Admins may pass all=true.
func (h *ShareManageHandler) ListFiles(c *gin.Context) {
	var req services.PageRequest
	if err := c.ShouldBindQuery(&req); err != nil {
		response.BadRequest(c, err.Error())
		return
	}

	userID := middleware.GetUserID(c)
	if middleware.IsAdmin(c) && c.Query("all") == "true" {
		userID = 0
	}

	resp, err := h.shares.ListFiles(userID, &req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, resp)
}

func (h *ShareManageHandler) RemoveFile(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}

	if err := h.shares.RemoveFile(middleware.GetUserID(c), id); err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, gin.H{"message": "file removed"})
}

func (h *ShareManageHandler) CreateShare(c *gin.Context) {
	var req services.CreateShareRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, err.Error())
		return
	}

	share, err := h.shares.CreateShare(middleware.GetUserID(c), &req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, share)
}

func (h *ShareManageHandler) ListShares(c *gin.Context) {
	var req services.PageRequest
	if err := c.ShouldBindQuery(&req); err != nil {
		response.BadRequest(c, err.Error())
		return
	}

	resp, err := h.shares.ListShares(middleware.GetUserID(c), &req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, resp)
}

func (h *ShareManageHandler) UpdateShare(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}

	var req services.UpdateShareRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, err.Error())
		return
	}

	share, err := h.shares.UpdateShare(middleware.GetUserID(c), id, &req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, share)
}

// DeleteShare removes a share. Admins can delete any user's share.
func (h *ShareManageHandler) DeleteShare(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}

	var err error
	if middleware.IsAdmin(c) {
		err = h.shares.AdminDeleteShare(id)
	} else {
		err = h.shares.DeleteShare(middleware.GetUserID(c), id)
	}
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, gin.H{"message": "share deleted"})
}

// ListTokens lists the download tokens issued for one of the caller's shares.
// GET /api/shares/:id/tokens?include_inactive=
func (h *ShareManageHandler) ListTokens(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}

	share, err := h.shares.GetShare(middleware.GetUserID(c), id)
	if err != nil {
		response.Error(c, err)
		return
	}

	includeInactive, _ := strconv.ParseBool(c.Query("include_inactive"))
	tokens, err := h.tokens.ListForShare(share.ShareCode, includeInactive)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, gin.H{"share_code": share.ShareCode, "items": tokens})
}

// RevokeToken deactivates one token of one of the caller's shares.
// DELETE /api/shares/:id/tokens/:token
func (h *ShareManageHandler) RevokeToken(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}

	share, err := h.shares.GetShare(middleware.GetUserID(c), id)
	if err != nil {
		response.Error(c, err)
		return
	}

	if err := h.tokens.RevokeInShare(share.ShareCode, c.Param("token")); err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, gin.H{"message": "token revoked"})
}

// Statistics reports view, download and token counts for one of the
// caller's shares.
// GET /api/shares/:id/statistics
func (h *ShareManageHandler) Statistics(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}

	stats, err := h.shares.Statistics(middleware.GetUserID(c), id)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, stats)
}

// pathID parses the :id parameter, rendering invalid_parameters on failure.
func pathID(c *gin.Context) (uint, bool) {
	id, err := strconv.ParseUint(c.Param("id"), 10, 64)
	if err != nil || id == 0 {
		response.Error(c, services.ErrInvalidParameters)
		return 0, false
	}
	return uint(id), true
}
