package handlers

import (
	"github.com/defeatedperson/ykc/internal/middleware"
	"github.com/defeatedperson/ykc/internal/services"
	"github.com/defeatedperson/ykc/pkg/response"
	"github.com/gin-gonic/gin"
)

type FileHandler struct {
	files *services.FileService
}

func NewFileHandler(files *services.FileService) *FileHandler {
	return &FileHandler{files: files}
}

// Upload stores a multipart "file" under the optional "dir" form field.
// POST /api/files/upload
func (h *FileHandler) Upload(c *gin.Context) {
	header, err := c.FormFile("file")
	if err != nil {
		response.Error(c, services.ErrInvalidParameters)
		return
	}

	src, err := header.Open()
	if err != nil {
		response.Error(c, services.ErrInvalidParameters)
		return
	}
	defer src.Close()

	uploaded, err := h.files.Upload(middleware.GetUserID(c), c.PostForm("dir"), header.Filename, src, header.Size)
	if err != nil {
		response.Error(c, err)
		return
	}

	response.Created(c, uploaded)
}

// Quota reports storage usage of the caller.
// GET /api/files/quota
func (h *FileHandler) Quota(c *gin.Context) {
	quota, err := h.files.Quota(middleware.GetUserID(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, quota)
}
