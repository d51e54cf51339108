package api

import (
	"net/http"

	"github.com/gin-gonic/gin"

	apierrors "github.com/kdlabs/queuecore/internal/common/errors"
	v1 "github.com/kdlabs/queuecore/pkg/api/v1"
)

func (s *Server) createTask(c *gin.Context) {
	var input v1.TaskInput
	if err := c.ShouldBindJSON(&input); err != nil {
		c.Error(apierrors.BadRequest(err.Error()))
		return
	}
	id, err := s.queue.Enqueue(input)
	if err != nil {
		c.Error(apierrors.ValidationError("task", err.Error()))
		return
	}
	c.JSON(http.StatusCreated, gin.H{"id": id})
}

func (s *Server) createTaskBatch(c *gin.Context) {
	var inputs []v1.TaskInput
	if err := c.ShouldBindJSON(&inputs); err != nil {
		c.Error(apierrors.BadRequest(err.Error()))
		return
	}
	ids, err := s.queue.EnqueueBatch(inputs)
	if err != nil {
		c.Error(apierrors.ValidationError("tasks", err.Error()))
		return
	}
	c.JSON(http.StatusCreated, gin.H{"ids": ids})
}

func (s *Server) cancelTask(c *gin.Context) {
	id := c.Param("id")
	if err := s.queue.Cancel(id); err != nil {
		c.Error(apierrors.NotFound("task", id))
		return
	}
	c.Status(http.StatusNoContent)
}

func (s *Server) moveTaskTop(c *gin.Context) {
	s.moveTask(c, s.queue.MoveToTop)
}

func (s *Server) moveTaskUp(c *gin.Context) {
	s.moveTask(c, s.queue.MoveUp)
}

func (s *Server) moveTaskDown(c *gin.Context) {
	s.moveTask(c, s.queue.MoveDown)
}

func (s *Server) moveTask(c *gin.Context, move func(id string) error) {
	id := c.Param("id")
	if err := move(id); err != nil {
		c.Error(apierrors.NotFound("task", id))
		return
	}
	c.Status(http.StatusNoContent)
}

func (s *Server) pauseQueue(c *gin.Context) {
	s.queue.Pause()
	c.Status(http.StatusNoContent)
}

func (s *Server) resumeQueue(c *gin.Context) {
	s.queue.Resume()
	c.Status(http.StatusNoContent)
}

func (s *Server) clearQueue(c *gin.Context) {
	s.queue.Clear()
	c.Status(http.StatusNoContent)
}

func (s *Server) queueStats(c *gin.Context) {
	c.JSON(http.StatusOK, s.queue.Stats())
}

func (s *Server) listTasks(c *gin.Context) {
	switch c.Query("status") {
	case "running":
		c.JSON(http.StatusOK, s.queue.GetRunning())
	case "history":
		c.JSON(http.StatusOK, s.queue.GetHistory())
	default:
		c.JSON(http.StatusOK, s.queue.GetQueued())
	}
}

func (s *Server) getTask(c *gin.Context) {
	id := c.Param("id")
	task, ok := s.queue.GetTask(id)
	if !ok {
		c.Error(apierrors.NotFound("task", id))
		return
	}
	c.JSON(http.StatusOK, task)
}

func (s *Server) getTaskPosition(c *gin.Context) {
	id := c.Param("id")
	c.JSON(http.StatusOK, gin.H{"position": s.queue.GetPosition(id)})
}
