// Package api serves the operator control surface over HTTP.
package api

import (
	"context"
	"errors"
	"net/http"
	"time"

	"momentum-core/internal/engine"
	"momentum-core/pkg/config"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
)

// Server wires HTTP endpoints around the engine service.
type Server struct {
	Router *gin.Engine
	Svc    engine.Service

	cfg     config.APIConfig
	limiter *ipLimiter
	log     zerolog.Logger
	now     func() time.Time
}

func NewServer(svc engine.Service, cfg config.APIConfig, log zerolog.Logger) *Server {
	r := gin.New()
	s := &Server{
		Router:  r,
		Svc:     svc,
		cfg:     cfg,
		limiter: newIPLimiter(cfg.RateLimit),
		log:     log,
		now:     time.Now,
	}

	// Middleware stack (order matters!)
	r.Use(gin.Recovery())
	r.Use(RequestIDMiddleware())
	r.Use(RequestLogger(log))
	r.Use(RateLimitMiddleware(s.limiter, log))
	r.Use(TimeoutMiddleware(30*time.Second, log))
	r.Use(CORSMiddleware(cfg.AllowedOrigins))

	s.routes()
	return s
}

func (s *Server) routes() {
	s.Router.GET("/health", s.health)
	s.Router.GET("/metrics", gin.WrapH(s.Svc.MetricsHandler()))
	s.Router.GET("/ws", s.websocket)

	api := s.Router.Group("/api")
	{
		api.GET("/status", s.getStatus)
		api.GET("/positions", s.getPositions)
		api.GET("/trades", s.getTrades)
		api.GET("/risk", s.getRisk)
		api.GET("/metrics", s.getMetrics)
		api.GET("/strictness", s.getStrictness)

		api.POST("/auth/token", s.issueToken)

		protected := api.Group("")
		protected.Use(AuthMiddleware(s.cfg.JWTSecret))
		{
			protected.PUT("/strictness", s.updateStrictness)
			protected.PUT("/test-signal", s.updateTestSignal)
			protected.POST("/live/arm", s.armLive)
			protected.POST("/live/disarm", s.disarmLive)
		}
	}
}

func (s *Server) health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// Run serves on addr until ctx is cancelled, then drains in-flight
// requests for up to five seconds.
func (s *Server) Run(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		s.log.Info().Str("addr", addr).Msg("control api listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	s.limiter.stop()
	return srv.Shutdown(shutdownCtx)
}
