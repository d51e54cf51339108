package api

import (
	"net/http"

	"github.com/gin-gonic/gin"

	apierrors "github.com/kdlabs/queuecore/internal/common/errors"
)

func (s *Server) listProcesses(c *gin.Context) {
	c.JSON(http.StatusOK, s.registry.All())
}

func (s *Server) getProcess(c *gin.Context) {
	id := c.Param("id")
	process, ok := s.registry.Get(id)
	if !ok {
		c.Error(apierrors.NotFound("process", id))
		return
	}
	c.JSON(http.StatusOK, process)
}

func (s *Server) deleteProcess(c *gin.Context) {
	id := c.Param("id")
	if _, ok := s.registry.Get(id); !ok {
		c.Error(apierrors.NotFound("process", id))
		return
	}
	s.registry.Remove(id)
	c.Status(http.StatusNoContent)
}

func (s *Server) cancelProcess(c *gin.Context) {
	id := c.Param("id")
	if _, ok := s.registry.Get(id); !ok {
		c.Error(apierrors.NotFound("process", id))
		return
	}
	s.registry.Cancel(id)
	c.Status(http.StatusNoContent)
}

func (s *Server) clearProcesses(c *gin.Context) {
	s.registry.ClearCompleted()
	c.Status(http.StatusNoContent)
}
