package handlers

import (
	"path/filepath"
	"strconv"

	"github.com/defeatedperson/ykc/internal/middleware"
	"github.com/defeatedperson/ykc/internal/services"
	"github.com/defeatedperson/ykc/internal/transfer"
	"github.com/defeatedperson/ykc/pkg/logger"
	"github.com/defeatedperson/ykc/pkg/response"
	"github.com/gin-gonic/gin"
)

// DownloadHandler streams files, either against a download token or for the
// logged-in owner.
type DownloadHandler struct {
	downloads *services.DownloadService
	files     *services.FileService
}

func NewDownloadHandler(downloads *services.DownloadService, files *services.FileService) *DownloadHandler {
	return &DownloadHandler{downloads: downloads, files: files}
}

// ByToken redeems a download token and streams its file.
// GET /api/download/:token
func (h *DownloadHandler) ByToken(c *gin.Context) {
	redemption, err := h.downloads.Redeem(c.Param("token"))
	if err != nil {
		response.Error(c, err)
		return
	}

	h.serve(c, redemption.Path, redemption.FileName, forceDownload(c, true))
}

// OwnFile streams a file from the caller's storage.
// GET /api/files/download?path=&force_download=
func (h *DownloadHandler) OwnFile(c *gin.Context) {
	rel := c.Query("path")
	if rel == "" {
		response.Error(c, services.ErrInvalidParameters)
		return
	}

	full, err := h.files.ResolveAndValidateFile(middleware.GetUserID(c), rel)
	if err != nil {
		response.Error(c, err)
		return
	}

	h.serve(c, full, filepath.Base(full), forceDownload(c, true))
}

func (h *DownloadHandler) serve(c *gin.Context, path, name string, force bool) {
	if err := transfer.Serve(c.Writer, path, name, force, c.GetHeader("Range")); err != nil {
		// Nothing has been written yet; drop any file headers before the JSON error.
		header := c.Writer.Header()
		for _, key := range transfer.FileHeaders {
			header.Del(key)
		}
		logger.Warn().Err(err).Str("file", name).Msg("failed to open file for transfer")
		response.Error(c, services.ErrFileError)
	}
}

func forceDownload(c *gin.Context, def bool) bool {
	raw := c.Query("force_download")
	if raw == "" {
		return def
	}
	v, err := strconv.ParseBool(raw)
	if err != nil {
		return def
	}
	return v
}
