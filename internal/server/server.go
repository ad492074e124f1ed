// Package server wires the HTTP surface: static frontend, health endpoint,
// WebSocket stream, and metrics.
package server

import (
	"path/filepath"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/periscopehq/periscope/internal/browser"
	"github.com/periscopehq/periscope/internal/config"
	"github.com/periscopehq/periscope/internal/control"
	"github.com/periscopehq/periscope/internal/logging"
	"github.com/periscopehq/periscope/internal/monitoring"
	"github.com/periscopehq/periscope/internal/publisher"
	"github.com/periscopehq/periscope/internal/session"
	"github.com/periscopehq/periscope/internal/ws"
)

// Server wraps the HTTP server and its dependencies.
type Server struct {
	router    *gin.Engine
	sessions  *session.Manager
	publisher *publisher.Publisher
	logger    *logging.Logger
	config    *config.Config
	metrics   *monitoring.Metrics
}

// New creates a server instance with all components wired.
func New(cfg *config.Config) (*Server, error) {
	var logger *logging.Logger
	if cfg.Logging.Development {
		logger = logging.NewDevelopment()
	} else {
		logger = logging.NewDefault()
	}

	logger.Info("Initializing periscope",
		zap.String("port", cfg.Server.Port),
		zap.Bool("production", cfg.Server.Production),
		zap.Bool("headless", cfg.Browser.Headless),
	)

	metrics := monitoring.NewMetrics()

	driver := browser.NewPlaywrightDriver(browser.Config{
		Headless:       cfg.Browser.Headless,
		ViewportWidth:  cfg.Browser.ViewportWidth,
		ViewportHeight: cfg.Browser.ViewportHeight,
	}, logger)

	sessions := session.NewManager(driver, session.Config{
		ViewportWidth:     cfg.Browser.ViewportWidth,
		ViewportHeight:    cfg.Browser.ViewportHeight,
		DefaultURL:        cfg.Browser.DefaultURL,
		NavTimeout:        cfg.Browser.NavTimeout,
		HealthInterval:    cfg.Session.HealthInterval,
		InitRetryBackoff:  cfg.Session.InitRetryBackoff,
		DisconnectBackoff: cfg.Session.DisconnectBackoff,
		HealthBackoff:     cfg.Session.HealthBackoff,
	}, logger).WithMetrics(metrics)

	ctrl := control.New(sessions, control.Config{
		NavTimeout:     cfg.Browser.NavTimeout,
		ScreenshotPath: cfg.Session.ScreenshotPath,
	}, logger).WithMetrics(metrics)

	pub := publisher.New(ctrl, cfg.Session.PublishInterval, logger).WithMetrics(metrics)
	wsHandler := ws.NewHandler(ctrl, logger).WithMetrics(metrics)

	if cfg.Server.Production {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(monitoring.Middleware(metrics))
	router.Use(cors.New(cors.Config{
		AllowOrigins:     []string{"*"},
		AllowMethods:     []string{"GET", "POST", "OPTIONS"},
		AllowHeaders:     []string{"Content-Type", "Accept", "Origin", "Cache-Control"},
		AllowCredentials: false,
		MaxAge:           12 * time.Hour,
	}))

	router.GET("/", func(c *gin.Context) {
		c.File(filepath.Join(cfg.Server.StaticDir, "index.html"))
	})
	router.Static("/static", cfg.Server.StaticDir)

	router.GET("/health", func(c *gin.Context) {
		ready := sessions.IsReady()
		status := "ok"
		if !ready {
			status = "degraded"
		}
		c.JSON(200, gin.H{
			"status":    status,
			"browser":   ready,
			"timestamp": time.Now().UTC().Format(time.RFC3339),
		})
	})

	router.GET("/stream", wsHandler.HandleConnection)
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	pub.Start()
	logger.Info("Server initialized successfully")

	return &Server{
		router:    router,
		sessions:  sessions,
		publisher: pub,
		logger:    logger,
		config:    cfg,
		metrics:   metrics,
	}, nil
}

// Run starts the HTTP server.
func (s *Server) Run() error {
	addr := s.config.Server.Host + ":" + s.config.Server.Port
	s.logger.Info("Starting HTTP server", zap.String("addr", addr))
	return s.router.Run(addr)
}

// Close gracefully shuts down background tasks and the browser session.
func (s *Server) Close() error {
	s.logger.Info("Shutting down server...")

	s.publisher.Stop()
	s.sessions.Close()

	s.logger.Sync()
	return nil
}
