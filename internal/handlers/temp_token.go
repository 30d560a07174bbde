package handlers

import (
	"strings"

	"github.com/defeatedperson/ykc/internal/middleware"
	"github.com/defeatedperson/ykc/internal/services"
	"github.com/defeatedperson/ykc/pkg/response"
	"github.com/gin-gonic/gin"
)

type TempTokenHandler struct {
	tempTokens *services.TempTokenService
}

func NewTempTokenHandler(tempTokens *services.TempTokenService) *TempTokenHandler {
	return &TempTokenHandler{tempTokens: tempTokens}
}

type issueTempTokenRequest struct {
	Scene string `json:"scene" binding:"required"`
}

type validateTempTokenRequest struct {
	Token string `json:"token"`
}

// Issue hands out a scoped token for the caller's IP. Only the robots scene
// is available without a session; account and mfa tokens carry the session
// username.
// POST /api/temp-token
func (h *TempTokenHandler) Issue(c *gin.Context) {
	var req issueTempTokenRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, err.Error())
		return
	}

	scene := strings.ToLower(strings.TrimSpace(req.Scene))
	username := ""
	if scene != services.SceneRobots {
		if middleware.GetUserID(c) == 0 {
			response.Error(c, services.ErrUnauthorized)
			return
		}
		username = middleware.GetUsername(c)
	}

	token, err := h.tempTokens.Issue(c.ClientIP(), scene, username)
	if err != nil {
		h.reject(c, err)
		return
	}

	response.Success(c, gin.H{
		"token":      token,
		"scene":      scene,
		"expires_in": int(services.TempTokenTTL.Seconds()),
	})
}

// Validate checks a token for the caller's IP.
// POST /api/temp-token/validate
func (h *TempTokenHandler) Validate(c *gin.Context) {
	var req validateTempTokenRequest
	_ = c.ShouldBindJSON(&req)
	if req.Token == "" {
		req.Token = c.GetHeader(middleware.TempTokenHeader)
	}

	claims, err := h.tempTokens.Validate(c.ClientIP(), req.Token)
	if err != nil {
		h.reject(c, err)
		return
	}

	response.Success(c, gin.H{
		"valid":      true,
		"scene":      claims.Scene,
		"username":   claims.Username,
		"expires_at": claims.ExpiresAt,
	})
}

func (h *TempTokenHandler) reject(c *gin.Context, err error) {
	if services.IsTempTokenRejection(err) {
		middleware.RejectTempToken(c)
		return
	}
	response.Error(c, err)
}
