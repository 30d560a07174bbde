package handlers

import (
	"strconv"

	"github.com/defeatedperson/ykc/internal/middleware"
	"github.com/defeatedperson/ykc/internal/services"
	"github.com/defeatedperson/ykc/pkg/response"
	"github.com/gin-gonic/gin"
)

type UserHandler struct {
	authService *services.AuthService
}

func NewUserHandler(authService *services.AuthService) *UserHandler {
	return &UserHandler{authService: authService}
}

func (h *UserHandler) List(c *gin.Context) {
	var req services.PageRequest
	if err := c.ShouldBindQuery(&req); err != nil {
		response.BadRequest(c, err.Error())
		return
	}

	resp, err := h.authService.ListUsers(&req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, resp)
}

func (h *UserHandler) Create(c *gin.Context) {
	var req services.CreateUserRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, err.Error())
		return
	}

	user, err := h.authService.CreateUser(&req)
	if err != nil {
		response.Error(c, err)
		return
	}

	adminID := middleware.GetUserID(c)
	services.LogInfo("user", "create", "created user "+user.Username, &adminID, c.ClientIP(), c.Request.UserAgent(), nil)
	response.Created(c, user)
}

type updateUserRequest struct {
	IsActive     *bool  `json:"is_active"`
	StorageLimit *int64 `json:"storage_limit"`
}

// Update toggles activation and sets the storage quota. An admin cannot
// disable their own account.
func (h *UserHandler) Update(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}

	var req updateUserRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, err.Error())
		return
	}
	if req.IsActive == nil && req.StorageLimit == nil {
		response.Error(c, services.ErrNoUpdates)
		return
	}
	if req.IsActive != nil && !*req.IsActive && id == middleware.GetUserID(c) {
		response.BadRequest(c, "cannot disable your own account")
		return
	}

	if req.StorageLimit != nil {
		if err := h.authService.SetStorageLimit(id, *req.StorageLimit); err != nil {
			response.Error(c, err)
			return
		}
	}
	if req.IsActive != nil {
		if err := h.authService.SetActive(id, *req.IsActive); err != nil {
			response.Error(c, err)
			return
		}
	}

	user, err := h.authService.GetUserByID(id)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, user)
}

// Delete removes a regular user together with their shares and tokens.
// DELETE /api/admin/users/:id
func (h *UserHandler) Delete(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}

	user, err := h.authService.DeleteUser(id)
	if err != nil {
		response.Error(c, err)
		return
	}

	adminID := middleware.GetUserID(c)
	services.LogWarning("user", "delete", "deleted user "+user.Username, &adminID, c.ClientIP(), c.Request.UserAgent(),
		map[string]interface{}{"user_id": strconv.FormatUint(uint64(id), 10)})
	response.Success(c, gin.H{"deleted_user": user.Username})
}

// ResetPassword sets a regular user's password without the old one.
// POST /api/admin/users/:id/reset-password
func (h *UserHandler) ResetPassword(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}

	var req services.ResetPasswordRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, err.Error())
		return
	}

	user, err := h.authService.ResetPassword(id, req.NewPassword)
	if err != nil {
		response.Error(c, err)
		return
	}

	adminID := middleware.GetUserID(c)
	services.LogInfo("user", "reset_password", "reset password of "+user.Username, &adminID, c.ClientIP(), c.Request.UserAgent(), nil)
	response.Success(c, gin.H{"username": user.Username})
}

// DisableMFA turns off a regular user's second factor.
// DELETE /api/admin/users/:id/mfa
func (h *UserHandler) DisableMFA(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}

	changed, err := h.authService.MFA().AdminDisable(id)
	if err != nil {
		response.Error(c, err)
		return
	}

	if changed {
		adminID := middleware.GetUserID(c)
		services.LogInfo("user", "disable_mfa", "disabled two-factor authentication of user "+strconv.FormatUint(uint64(id), 10),
			&adminID, c.ClientIP(), c.Request.UserAgent(), nil)
	}
	response.Success(c, gin.H{"mfa_enabled": false, "changed": changed})
}

// Statistics GET /api/admin/users/statistics
func (h *UserHandler) Statistics(c *gin.Context) {
	stats, err := h.authService.UserStatistics()
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, stats)
}
