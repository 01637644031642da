// Package api exposes the dwell-time tracker over HTTP.
package api

import (
	"context"
	"errors"
	"net"
	"net/http"
	"slices"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-contrib/gzip"
	"github.com/gin-gonic/gin"
	"github.com/goodtune/dwelltime/internal/auth"
	"github.com/goodtune/dwelltime/internal/duration"
	"github.com/rs/zerolog"
)

// Config holds the API server configuration.
type Config struct {
	ListenAddr      string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	RateLimit       int // requests per window, 0 disables
	RateLimitWindow time.Duration
	AllowedOrigins  []string
	OpenIssuance    bool
	Location        *time.Location // applied to end times sent without an offset
	Debug           bool
}

// Server is the HTTP front end of the tracker.
type Server struct {
	config      Config
	tracker     *duration.Tracker
	gate        *auth.Gate
	rateLimiter *RateLimiter
	server      *http.Server
	listener    net.Listener
	router      *gin.Engine
	errCh       chan error
	logger      zerolog.Logger
}

// NewServer creates a new API server.
func NewServer(cfg Config, tracker *duration.Tracker, gate *auth.Gate, logger zerolog.Logger) *Server {
	if cfg.Debug {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}
	if cfg.Location == nil {
		cfg.Location = time.UTC
	}
	if len(cfg.AllowedOrigins) == 0 {
		cfg.AllowedOrigins = []string{"*"}
	}

	s := &Server{
		config:  cfg,
		tracker: tracker,
		gate:    gate,
		router:  gin.New(),
		errCh:   make(chan error, 1),
		logger:  logger.With().Str("component", "api").Logger(),
	}
	if cfg.RateLimit > 0 {
		s.rateLimiter = NewRateLimiter(cfg.RateLimit, cfg.RateLimitWindow)
	}

	s.setupRoutes()

	s.server = &http.Server{
		Addr:         cfg.ListenAddr,
		Handler:      s.router,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  60 * time.Second,
	}

	return s
}

// setupRoutes configures all HTTP routes.
func (s *Server) setupRoutes() {
	s.router.Use(
		gin.CustomRecovery(func(c *gin.Context, err any) {
			s.logger.Error().Interface("panic", err).Str("path", c.Request.URL.Path).Msg("Handler panicked")
			writeMessage(c, http.StatusInternalServerError, "Internal server error")
		}),
		LoggingMiddlewareGin(s.logger),
		cors.New(s.corsConfig()),
		gzip.Gzip(gzip.DefaultCompression, gzip.WithExcludedPaths([]string{"/person-durations/show-labeled-image"})),
	)

	limitIP := RateLimitMiddlewareGin(s.rateLimiter)

	// Public routes
	s.router.GET("/", s.handleRoot)
	if s.config.OpenIssuance {
		s.router.POST("/generate-api-key", limitIP, s.handleGenerateAPIKey)
	}

	// Authenticated routes
	durations := s.router.Group("/person-durations",
		limitIP,
		auth.RequireAPIKeyGin(s.gate),
		RateLimitByKeyGin(s.rateLimiter),
	)
	durations.POST("/", s.handleCreatePersonDuration)
	durations.GET("/", s.handleListPersonDurations)
	durations.POST("/detail", s.handleOpenDetail)
	durations.PATCH("/detail/:track_id", s.handleCloseDetail)
	durations.GET("/:id/details", s.handleListDetails)
	durations.GET("/show-labeled-image", s.handleShowLabeledImage)

	s.router.NoRoute(func(c *gin.Context) {
		writeMessage(c, http.StatusNotFound, "Not found")
	})
}

// corsConfig allows credentials only for an explicit origin list.
func (s *Server) corsConfig() cors.Config {
	cfg := cors.Config{
		AllowMethods: []string{"GET", "POST", "PUT", "PATCH", "DELETE", "HEAD", "OPTIONS"},
		AllowHeaders: []string{"Origin", "Content-Length", "Content-Type", "Authorization", "Accept", "Accept-Encoding"},
		MaxAge:       12 * time.Hour,
	}
	if slices.Contains(s.config.AllowedOrigins, "*") {
		cfg.AllowAllOrigins = true
		return cfg
	}
	cfg.AllowOriginFunc = func(origin string) bool {
		return slices.Contains(s.config.AllowedOrigins, origin)
	}
	cfg.AllowCredentials = true
	return cfg
}

// Handler returns the root HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.router
}

// SetListener makes Start serve on an inherited listener instead of
// binding ListenAddr.
func (s *Server) SetListener(ln net.Listener) {
	s.listener = ln
}

// Start starts the API server in the background. Serve failures are
// reported on Err.
func (s *Server) Start() {
	go func() {
		var err error
		if s.listener != nil {
			s.logger.Info().Str("addr", s.listener.Addr().String()).Msg("Starting API server on inherited listener")
			err = s.server.Serve(s.listener)
		} else {
			s.logger.Info().Str("addr", s.config.ListenAddr).Msg("Starting API server")
			err = s.server.ListenAndServe()
		}
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error().Err(err).Msg("API server failed")
			s.errCh <- err
		}
	}()
}

// Err delivers the error that stopped the server, if any.
func (s *Server) Err() <-chan error {
	return s.errCh
}

// Stop gracefully stops the API server.
func (s *Server) Stop(ctx context.Context) error {
	s.logger.Info().Msg("Stopping API server")
	if s.rateLimiter != nil {
		s.rateLimiter.Stop()
	}
	return s.server.Shutdown(ctx)
}
