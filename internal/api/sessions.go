package api

import (
	"net/http"

	"github.com/gin-gonic/gin"

	apierrors "github.com/kdlabs/queuecore/internal/common/errors"
	v1 "github.com/kdlabs/queuecore/pkg/api/v1"
)

func (s *Server) startSession(c *gin.Context) {
	var opts v1.StartSessionOptions
	if err := c.ShouldBindJSON(&opts); err != nil {
		c.Error(apierrors.BadRequest(err.Error()))
		return
	}
	id, err := s.sessions.Start(c.Request.Context(), opts)
	if err != nil {
		c.Error(apierrors.ValidationError("session", err.Error()))
		return
	}
	c.JSON(http.StatusCreated, gin.H{"id": id})
}

func (s *Server) endSession(c *gin.Context) {
	id := c.Param("id")
	if err := s.sessions.End(id); err != nil {
		c.Error(apierrors.NotFound("session", id))
		return
	}
	c.Status(http.StatusNoContent)
}

func (s *Server) deleteSession(c *gin.Context) {
	id := c.Param("id")
	s.sessions.Remove(id)
	c.Status(http.StatusNoContent)
}

type renameSessionRequest struct {
	Name string `json:"name"`
}

func (s *Server) renameSession(c *gin.Context) {
	id := c.Param("id")
	var req renameSessionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.Error(apierrors.BadRequest(err.Error()))
		return
	}
	if err := s.sessions.Rename(id, req.Name); err != nil {
		c.Error(apierrors.NotFound("session", id))
		return
	}
	c.Status(http.StatusNoContent)
}

func (s *Server) listSessions(c *gin.Context) {
	c.JSON(http.StatusOK, s.sessions.All())
}
