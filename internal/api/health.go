package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

func (s *Server) health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":          "ok",
		"queuePaused":     s.queue.IsPaused(),
		"processesActive": s.registry.HasRunning(),
		"sessionsActive":  s.sessions.HasActive(),
	})
}
