package handlers

import (
	"github.com/defeatedperson/ykc/internal/middleware"
	"github.com/defeatedperson/ykc/internal/services"
	"github.com/defeatedperson/ykc/pkg/response"
	"github.com/gin-gonic/gin"
)

// MFAHandler lets a user manage their own TOTP second factor. Changes are
// guarded by an mfa scene token in the routes.
type MFAHandler struct {
	mfa *services.MFAService
}

func NewMFAHandler(mfa *services.MFAService) *MFAHandler {
	return &MFAHandler{mfa: mfa}
}

type mfaCodeRequest struct {
	Code string `json:"code" binding:"required"`
}

// Status GET /api/auth/mfa
func (h *MFAHandler) Status(c *gin.Context) {
	status, err := h.mfa.Status(middleware.GetUserID(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, status)
}

// Setup starts enrollment and returns the secret and otpauth URL to scan.
// POST /api/auth/mfa/setup
func (h *MFAHandler) Setup(c *gin.Context) {
	enrollment, err := h.mfa.Enroll(middleware.GetUserID(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, enrollment)
}

// Confirm POST /api/auth/mfa/confirm
func (h *MFAHandler) Confirm(c *gin.Context) {
	var req mfaCodeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, err.Error())
		return
	}

	userID := middleware.GetUserID(c)
	if err := h.mfa.Confirm(userID, req.Code); err != nil {
		response.Error(c, err)
		return
	}

	services.LogInfo("auth", "mfa_enable", middleware.GetUsername(c)+" enabled two-factor authentication",
		&userID, c.ClientIP(), c.Request.UserAgent(), nil)
	response.Success(c, gin.H{"enabled": true})
}

// Disable POST /api/auth/mfa/disable
func (h *MFAHandler) Disable(c *gin.Context) {
	var req mfaCodeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, err.Error())
		return
	}

	userID := middleware.GetUserID(c)
	if err := h.mfa.Disable(userID, req.Code); err != nil {
		response.Error(c, err)
		return
	}

	services.LogInfo("auth", "mfa_disable", middleware.GetUsername(c)+" disabled two-factor authentication",
		&userID, c.ClientIP(), c.Request.UserAgent(), nil)
	response.Success(c, gin.H{"enabled": false})
}
