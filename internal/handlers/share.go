package handlers

import (
	"errors"
	"io"
	"net/http"

	"github.com/defeatedperson/ykc/internal/middleware"
	"github.com/defeatedperson/ykc/internal/services"
	"github.com/defeatedperson/ykc/pkg/response"
	"github.com/gin-gonic/gin"
)

// ShareHandler serves the public side of a share: its summary and the
// exchange of code and password for a download token.
type ShareHandler struct {
	shares    *services.ShareService
	downloads *services.DownloadService
}

func NewShareHandler(shares *services.ShareService, downloads *services.DownloadService) *ShareHandler {
	return &ShareHandler{shares: shares, downloads: downloads}
}

type issueDownloadRequest struct {
	Password string `json:"password"`
	FilePath string `json:"file_path"`
}

// Info returns a share's details once access is granted and counts the view.
// When a password is needed but missing, the summary is sent along with the
// password_required rejection so the client can render a prompt.
// GET /api/share/:code
func (h *ShareHandler) Info(c *gin.Context) {
	code := c.Param("code")
	access, err := h.shares.ValidateShareAccess(code, c.GetHeader(middleware.SharePasswordHeader))
	if errors.Is(err, services.ErrPasswordRequired) {
		c.JSON(http.StatusUnauthorized, response.Response{
			Code:    http.StatusUnauthorized,
			Message: err.Error(),
			Reason:  services.ReasonOf(err),
			Data:    access,
		})
		return
	}
	if err != nil {
		response.Error(c, err)
		return
	}

	h.shares.IncrementViewCount(code)
	access.ViewCount++

	response.Success(c, access)
}

// Exists reports the public summary of a share without a password check and
// without counting a view.
// GET /api/share/:code/exists
func (h *ShareHandler) Exists(c *gin.Context) {
	summary, err := h.shares.CheckShareExists(c.Param("code"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, summary)
}

// IssueToken validates the share password and returns a download token.
// POST /api/share/:code/token
func (h *ShareHandler) IssueToken(c *gin.Context) {
	var req issueDownloadRequest
	if err := c.ShouldBindJSON(&req); err != nil && !errors.Is(err, io.EOF) {
		response.BadRequest(c, err.Error())
		return
	}

	issued, err := h.downloads.IssueForShare(c.Param("code"), req.Password, req.FilePath)
	if err != nil {
		response.Error(c, err)
		return
	}

	response.Success(c, gin.H{
		"token":        issued.Token,
		"expires_at":   issued.ExpiresAt,
		"max_uses":     issued.MaxUses,
		"file_name":    issued.FileName,
		"file_size":    issued.FileSize,
		"download_url": "/api/download/" + issued.Token,
	})
}
