/*
Responsibilities
- Expose the session lifecycle over HTTP
- Gate every inbound route through the abuse guard
- Stream session events over SSE
- Serve the administrative token endpoints

The server owns no session state; it routes between the guard, the token
store, the registry, and the orchestrator.
*/
package server

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/rohmanhakim/article-archiver/internal/config"
	"github.com/rohmanhakim/article-archiver/internal/guard"
	"github.com/rohmanhakim/article-archiver/internal/logger"
	"github.com/rohmanhakim/article-archiver/internal/orchestrator"
	"github.com/rohmanhakim/article-archiver/internal/session"
	"github.com/rohmanhakim/article-archiver/internal/token"
)

const (
	defaultHeartbeatInterval = 15 * time.Second
	shutdownTimeout          = 10 * time.Second
)

type Server struct {
	cfg      config.Config
	tokens   *token.Store
	guard    *guard.Guard
	registry *session.Registry
	orch     *orchestrator.Orchestrator
	log      logger.Logger

	heartbeatInterval time.Duration
}

func NewServer(
	cfg config.Config,
	tokens *token.Store,
	abuseGuard *guard.Guard,
	registry *session.Registry,
	orch *orchestrator.Orchestrator,
	log logger.Logger,
) *Server {
	return &Server{
		cfg:               cfg,
		tokens:            tokens,
		guard:             abuseGuard,
		registry:          registry,
		orch:              orch,
		log:               log,
		heartbeatInterval: defaultHeartbeatInterval,
	}
}

// Router builds the gin engine with every route wired.
func (s *Server) Router() *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery(), requestLogger(s.log))

	api := router.Group("/api", s.guardMiddleware(guard.OpControl))
	api.POST("/start", s.handleStart)
	api.GET("/sessions/:id", s.handleSessionStatus)
	api.POST("/sessions/:id/pause", s.handlePause)
	api.POST("/sessions/:id/resume", s.handleResume)
	api.GET("/sessions/:id/events", s.handleEvents)

	admin := api.Group("/admin")
	admin.POST("/tokens", s.handleIssueTokens)
	admin.GET("/tokens", s.handleListTokens)
	admin.GET("/tokens/stats", s.handleTokenStats)

	return router
}

// Run serves until ctx is cancelled, then shuts down gracefully. The
// session reaper and the guard sweeper run for the server's lifetime.
func (s *Server) Run(ctx context.Context) error {
	go s.registry.RunReaper(ctx)
	go s.runGuardSweeper(ctx)

	srv := &http.Server{
		Addr:         s.cfg.ListenAddr(),
		Handler:      s.Router(),
		ReadTimeout:  30 * time.Second,
		IdleTimeout:  60 * time.Second,
		// No WriteTimeout: SSE responses stay open for the session's
		// lifetime.
	}

	errCh := make(chan error, 1)
	go func() {
		s.log.Info("http server listening", logger.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	s.log.Info("http server shutting down")
	return srv.Shutdown(shutdownCtx)
}

func (s *Server) runGuardSweeper(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.GuardIdleTTL())
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			evicted := s.guard.Sweep()
			if evicted > 0 {
				s.log.Debug("guard swept", logger.Int("evicted", evicted))
			}
		case <-ctx.Done():
			return
		}
	}
}
