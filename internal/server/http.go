package server

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// SetupRouter builds the optional HTTP dashboard: /status, /stats, and a
// /collisions websocket stream, fronted by the rate limiter and auth
// middleware. The websocket carries the periodic stats snapshots the
// server broadcasts; individual collision events are not pushed on it.
func SetupRouter(s *Server, hub *Hub) *gin.Engine {
	r := gin.Default()

	limiter := NewRateLimiter(120, 20)
	r.Use(limiter.Middleware())

	protected := r.Group("/")
	protected.Use(AuthMiddleware())

	protected.GET("/status", s.handleStatus)
	protected.GET("/stats", s.handleStats)
	protected.GET("/collisions", hub.Subscribe)

	return r
}

func (s *Server) handleStatus(c *gin.Context) {
	s.mu.Lock()
	workers := len(s.conns)
	found := s.foundKey
	s.mu.Unlock()

	resp := gin.H{
		"workers": workers,
		"found":   found != nil,
	}
	if found != nil {
		resp["key"] = found.String()
	}
	c.JSON(http.StatusOK, resp)
}

func (s *Server) handleStats(c *gin.Context) {
	stats := s.store.Snapshot()
	c.JSON(http.StatusOK, gin.H{
		"addOK":               stats.AddOK,
		"trueDuplicates":      stats.TrueDuplicates,
		"sameHerdCollisions":  stats.SameHerdCollisions,
		"crossHerdCollisions": stats.CrossHerdCollisions,
		"tameEntries":         stats.TameEntries,
		"wildEntries":         stats.WildEntries,
	})
}
