package server

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/rohmanhakim/article-archiver/internal/guard"
	"github.com/rohmanhakim/article-archiver/internal/logger"
)

// requestLogger logs one structured entry per request.
func requestLogger(log logger.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path
		method := c.Request.Method

		c.Next()

		log.Debug("request handled",
			logger.String("method", method),
			logger.String("path", path),
			logger.Int("status", c.Writer.Status()),
			logger.Duration("duration", time.Since(start)),
			logger.String("client_ip", c.ClientIP()),
		)
	}
}

// guardMiddleware performs the general admission check every inbound route
// passes. The start handler performs its own, tighter admission on top.
func (s *Server) guardMiddleware(class guard.OperationClass) gin.HandlerFunc {
	return func(c *gin.Context) {
		if err := s.guard.Admit(c.ClientIP(), class); err != nil {
			s.rejectGuard(c, err)
			c.Abort()
			return
		}
		c.Next()
	}
}

func (s *Server) rejectGuard(c *gin.Context, err error) {
	var guardErr *guard.GuardError
	if errors.As(err, &guardErr) && guardErr.Cause == guard.ErrCauseBanned {
		c.JSON(http.StatusForbidden, rejection{
			Reason:  ReasonBanned,
			Message: "banned until " + guardErr.Until.UTC().Format(time.RFC3339),
		})
		return
	}
	c.JSON(http.StatusTooManyRequests, rejection{
		Reason:  ReasonRateLimited,
		Message: "too many requests, slow down",
	})
}
