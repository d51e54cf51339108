package api

import (
	stderrors "errors"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/kdlabs/queuecore/internal/common/errors"
	"github.com/kdlabs/queuecore/internal/common/logger"
)

// requestIDHeader is the header this API echoes back on every response so a
// caller can correlate a request with the structured log line it produced.
const requestIDHeader = "X-Request-ID"

// RequestLogger assigns each request a correlation ID and logs its outcome.
func RequestLogger(log *logger.Logger) gin.HandlerFunc {
	log = log.WithFields(zap.String("component", "http_middleware"))

	return func(c *gin.Context) {
		start := time.Now()

		requestID := uuid.New().String()
		c.Set("request_id", requestID)
		c.Header(requestIDHeader, requestID)

		c.Next()

		log.Info("request completed",
			zap.String("route", c.FullPath()),
			zap.String("method", c.Request.Method),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("duration", time.Since(start)),
			zap.String("request_id", requestID),
		)
	}
}

// ErrorHandler translates the handler's last recorded error into the
// envelope {"error": {"code", "message"}}, using the AppError's own status
// and code when one was raised and falling back to a generic 500 otherwise.
func ErrorHandler(log *logger.Logger) gin.HandlerFunc {
	log = log.WithFields(zap.String("component", "http_middleware"))

	return func(c *gin.Context) {
		c.Next()

		if len(c.Errors) == 0 {
			return
		}

		err := c.Errors.Last().Err

		var appErr *errors.AppError
		if stderrors.As(err, &appErr) {
			log.Error("request error",
				zap.String("code", appErr.Code),
				zap.String("message", appErr.Message),
				zap.Int("status", appErr.HTTPStatus),
				zap.String("request_id", requestIDFrom(c)),
			)
			c.JSON(appErr.HTTPStatus, gin.H{
				"error": gin.H{
					"code":    appErr.Code,
					"message": appErr.Message,
				},
			})
			return
		}

		log.Error("unhandled request error", zap.Error(err), zap.String("request_id", requestIDFrom(c)))
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": gin.H{
				"code":    errors.ErrCodeInternalError,
				"message": "an internal error occurred",
			},
		})
	}
}

// Recovery turns a panic in a downstream handler into a 500 response instead
// of taking down the process: a single bad task payload must not cost every
// other caller their connection.
func Recovery(log *logger.Logger) gin.HandlerFunc {
	log = log.WithFields(zap.String("component", "http_middleware"))

	return func(c *gin.Context) {
		defer func() {
			if r := recover(); r != nil {
				log.Error("panic recovered",
					zap.Any("panic", r),
					zap.String("route", c.FullPath()),
					zap.String("method", c.Request.Method),
					zap.String("request_id", requestIDFrom(c)),
				)
				c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{
					"error": gin.H{
						"code":    errors.ErrCodeInternalError,
						"message": "an internal error occurred",
					},
				})
			}
		}()

		c.Next()
	}
}

// CORS allows any origin to reach this API. queuecore has no notion of
// per-caller identity at the HTTP layer yet; access control is expected to
// sit in front of it (a reverse proxy, a VPN boundary), not in this service.
func CORS() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("Access-Control-Allow-Origin", "*")
		c.Header("Access-Control-Allow-Methods", "GET, POST, PUT, PATCH, DELETE, OPTIONS")
		c.Header("Access-Control-Allow-Headers", "Origin, Content-Type, Accept, Authorization, "+requestIDHeader)
		c.Header("Access-Control-Expose-Headers", requestIDHeader)
		c.Header("Access-Control-Max-Age", "86400")

		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}

		c.Next()
	}
}

// RateLimit throttles the whole API with a single process-wide token
// bucket. queuecore runs as one local process serving one caller (a CLI or
// a single dashboard), so a per-client limiter would track a dimension
// nothing here has; this only needs to stop one runaway poller from
// starving the queue executor's own goroutines of CPU.
func RateLimit(requestsPerSecond int) gin.HandlerFunc {
	log := logger.Default().WithFields(zap.String("component", "http_middleware"))

	var (
		mu       sync.Mutex
		tokens   = float64(requestsPerSecond)
		lastTime = time.Now()
	)

	return func(c *gin.Context) {
		mu.Lock()

		now := time.Now()
		elapsed := now.Sub(lastTime).Seconds()
		lastTime = now

		tokens += elapsed * float64(requestsPerSecond)
		if tokens > float64(requestsPerSecond) {
			tokens = float64(requestsPerSecond)
		}

		if tokens < 1 {
			mu.Unlock()
			log.Warn("rate limit exceeded", zap.String("route", c.FullPath()), zap.Int("limit", requestsPerSecond))
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
				"error": gin.H{
					"code":    "RATE_LIMIT_EXCEEDED",
					"message": "too many requests, please try again later",
				},
			})
			return
		}

		tokens--
		mu.Unlock()

		c.Next()
	}
}

func requestIDFrom(c *gin.Context) string {
	if v, ok := c.Get("request_id"); ok {
		if s, ok := v.(string); ok {
			return s
		}
	}
	return ""
}
