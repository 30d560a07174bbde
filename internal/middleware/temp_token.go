package middleware

import (
	"net/http"

	"github.com/defeatedperson/ykc/internal/services"
	"github.com/defeatedperson/ykc/pkg/logger"
	"github.com/defeatedperson/ykc/pkg/response"
	"github.com/gin-gonic/gin"
)

const (
	TempTokenHeader        = "X-Temp-Token"
	ContextTempTokenClaims = "temp_token_claims"
)

// TempTokenValidator checks a scoped ephemeral token presented from ip.
type TempTokenValidator interface {
	Validate(ip, token string) (*services.TempTokenClaims, error)
}

// RequireSceneToken guards an action with an ephemeral token of the given
// scene. When the token names a user it must match the session user. Every
// rejection renders the same response.
func RequireSceneToken(scene string, validator TempTokenValidator) gin.HandlerFunc {
	return func(c *gin.Context) {
		claims, err := validator.Validate(c.ClientIP(), c.GetHeader(TempTokenHeader))
		if err == nil && claims.Scene != scene {
			err = services.ErrTempTokenScene
		}
		if err == nil && claims.Username != "" && claims.Username != GetUsername(c) {
			err = services.ErrTempTokenScene
		}
		if err != nil {
			logger.Debug().Str("ip", c.ClientIP()).Str("scene", scene).
				Str("reason", services.ReasonOf(err)).Msg("temporary token rejected")
			RejectTempToken(c)
			c.Abort()
			return
		}

		c.Set(ContextTempTokenClaims, claims)
		c.Next()
	}
}

// RejectTempToken writes the single response used for every ephemeral token
// failure, including throttling and bans.
func RejectTempToken(c *gin.Context) {
	response.Fail(c, http.StatusUnauthorized, "invalid_temp_token", "invalid or rejected token")
}
