package handlers

import (
	"github.com/defeatedperson/ykc/internal/middleware"
	"github.com/defeatedperson/ykc/internal/services"
	"github.com/defeatedperson/ykc/pkg/response"
	"github.com/gin-gonic/gin"
)

type SystemConfigHandler struct {
	configService *services.SystemConfigService
}

func NewSystemConfigHandler(configService *services.SystemConfigService) *SystemConfigHandler {
	return &SystemConfigHandler{configService: configService}
}

// GetGroup lists the settings of one group (auth, system).
// GET /api/admin/config/:group
func (h *SystemConfigHandler) GetGroup(c *gin.Context) {
	configs, err := h.configService.GetByGroup(c.Param("group"))
	if err != nil {
		response.Error(c, services.ErrDatabase)
		return
	}
	response.Success(c, configs)
}

// UpdateGroup sets values of existing keys in a group.
// PUT /api/admin/config/:group
func (h *SystemConfigHandler) UpdateGroup(c *gin.Context) {
	var values map[string]string
	if err := c.ShouldBindJSON(&values); err != nil {
		response.BadRequest(c, err.Error())
		return
	}

	group := c.Param("group")
	if err := h.configService.UpdateGroup(group, values); err != nil {
		response.Error(c, err)
		return
	}

	userID := middleware.GetUserID(c)
	services.LogInfo("config", "update", "updated "+group+" settings", &userID, c.ClientIP(), c.Request.UserAgent(), values)

	configs, err := h.configService.GetByGroup(group)
	if err != nil {
		response.Error(c, services.ErrDatabase)
		return
	}
	response.Success(c, configs)
}
