package middleware

import (
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
)

// SharePasswordHeader carries a share's access password on GET requests so it
// stays out of URLs and request logs.
const SharePasswordHeader = "X-Share-Password"

// CORS returns a CORS middleware. Range and the download headers are exposed
// so browser clients can resume transfers.
func CORS() gin.HandlerFunc {
	return cors.New(cors.Config{
		AllowOrigins:     []string{"*"},
		AllowMethods:     []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Accept", "Authorization", "X-Requested-With", TempTokenHeader, SharePasswordHeader, "Range"},
		ExposeHeaders:    []string{"Content-Length", "Content-Range", "Content-Disposition", "Accept-Ranges", "X-Request-ID"},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	})
}
