package server

import (
	"crypto/subtle"
	"log"
	"net/http"
	"os"

	"github.com/gin-gonic/gin"
)

// dashboardTokenHeader is the single shared-secret header this read-only,
// single-operator dashboard checks. There's no multi-user or session
// concept here to justify a Bearer-scheme Authorization header, so it
// isn't one.
const dashboardTokenHeader = "X-Kangaroo-Token"

// AuthMiddleware checks every dashboard request against
// KANGAROO_DASHBOARD_TOKEN. An unset token runs the dashboard open, the
// expected posture on a private operator network — spec §1 already
// excludes control-channel auth from scope, and this HTTP surface is
// strictly less sensitive (read-only status, no worker commands).
func AuthMiddleware() gin.HandlerFunc {
	token := os.Getenv("KANGAROO_DASHBOARD_TOKEN")
	if token == "" {
		log.Println("server: KANGAROO_DASHBOARD_TOKEN not set, dashboard running without authentication")
		return func(c *gin.Context) { c.Next() }
	}

	return func(c *gin.Context) {
		if subtle.ConstantTimeCompare([]byte(c.GetHeader(dashboardTokenHeader)), []byte(token)) != 1 {
			c.AbortWithStatus(http.StatusForbidden)
			return
		}
		c.Next()
	}
}
