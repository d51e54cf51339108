// Package api implements the caller-facing HTTP API: task/queue control,
// process and session introspection, and the GET /api/v1/events websocket
// stream that fans out Queue, Process Registry, and Session Manager changes
// to connected dashboards.
package api

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/kdlabs/queuecore/internal/common/logger"
	"github.com/kdlabs/queuecore/internal/queue"
	"github.com/kdlabs/queuecore/internal/registry"
	"github.com/kdlabs/queuecore/internal/session"
)

// Server is the caller-facing HTTP API server.
type Server struct {
	queue    *queue.TaskQueueManager
	registry *registry.AIProcessManager
	sessions *session.Manager

	hub      *Hub
	upgrader websocket.Upgrader

	router *gin.Engine
	logger *logger.Logger
}

// Config holds Server construction options.
type Config struct {
	RequestsPerSecond int
}

// NewServer wires the gin router and websocket hub against the three domain
// managers. Call Run to drive the events hub, and serve Router() with an
// http.Server to handle requests.
func NewServer(cfg Config, q *queue.TaskQueueManager, reg *registry.AIProcessManager, sessions *session.Manager, log *logger.Logger) *Server {
	gin.SetMode(gin.ReleaseMode)

	if cfg.RequestsPerSecond <= 0 {
		cfg.RequestsPerSecond = 100
	}

	s := &Server{
		queue:    q,
		registry: reg,
		sessions: sessions,
		hub:      NewHub(log),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
		router: gin.New(),
		logger: log.WithFields(zap.String("component", "api_server")),
	}

	s.router.Use(Recovery(log), RequestLogger(log), ErrorHandler(log), CORS(), RateLimit(cfg.RequestsPerSecond))
	s.setupRoutes()
	return s
}

// Router returns the underlying HTTP handler, e.g. for http.Server.Handler.
func (s *Server) Router() http.Handler {
	return s.router
}

// Run drives the events hub until ctx is cancelled. The hub must be running
// before any /api/v1/events client connects.
func (s *Server) Run(ctx context.Context) (unsubscribe func()) {
	unsub := wirePublishers(s.hub, s.queue, s.registry, s.sessions)
	go s.hub.Run(ctx)
	return unsub
}

func (s *Server) setupRoutes() {
	s.router.GET("/health", s.health)

	v1 := s.router.Group("/api/v1")
	{
		v1.POST("/tasks", s.createTask)
		v1.POST("/tasks/batch", s.createTaskBatch)
		v1.GET("/tasks", s.listTasks)
		v1.GET("/tasks/:id", s.getTask)
		v1.DELETE("/tasks/:id", s.cancelTask)
		v1.GET("/tasks/:id/position", s.getTaskPosition)
		v1.POST("/tasks/:id/move-top", s.moveTaskTop)
		v1.POST("/tasks/:id/move-up", s.moveTaskUp)
		v1.POST("/tasks/:id/move-down", s.moveTaskDown)

		v1.POST("/queue/pause", s.pauseQueue)
		v1.POST("/queue/resume", s.resumeQueue)
		v1.DELETE("/queue", s.clearQueue)
		v1.GET("/queue/stats", s.queueStats)

		v1.GET("/processes", s.listProcesses)
		v1.GET("/processes/:id", s.getProcess)
		v1.DELETE("/processes/:id", s.deleteProcess)
		v1.POST("/processes/:id/cancel", s.cancelProcess)
		v1.DELETE("/processes", s.clearProcesses)

		v1.POST("/sessions", s.startSession)
		v1.GET("/sessions", s.listSessions)
		v1.PATCH("/sessions/:id", s.renameSession)
		v1.POST("/sessions/:id/end", s.endSession)
		v1.DELETE("/sessions/:id", s.deleteSession)

		v1.GET("/events", s.streamEvents)
	}
}

// streamEvents upgrades the connection and registers it with the hub. The
// endpoint is publish-only: inbound messages are read and discarded purely
// to detect client disconnects.
func (s *Server) streamEvents(c *gin.Context) {
	conn, err := s.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		s.logger.Error("failed to upgrade events connection", zap.Error(err))
		return
	}

	client := newWSClient(conn, s.hub, s.logger)
	s.hub.Register(client)

	go client.writePump()
	go client.readPump()
}
