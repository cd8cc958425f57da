package server

import (
	"context"
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/hashicorp/go-hclog"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/embermedia/ember/internal/config"
	"github.com/embermedia/ember/internal/database"
	"github.com/embermedia/ember/internal/events"
	"github.com/embermedia/ember/internal/logger"
	"github.com/embermedia/ember/internal/modules/playbackmodule"
)

// Server is the assembled HTTP server and its owned subsystems
type Server struct {
	cfg      *config.Config
	log      hclog.Logger
	eventBus events.EventBus
	playback *playbackmodule.Module
	registry *prometheus.Registry

	httpServer *http.Server
}

// New opens the database, wires the modules, and builds the router
func New(cfg *config.Config) (*Server, error) {
	log := hclog.New(&hclog.LoggerOptions{
		Name:  "ember",
		Level: hclog.Info,
	})

	db, err := database.Open(&cfg.Database)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if err := database.Migrate(db); err != nil {
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	eventBus := events.NewEventBus()
	if err := eventBus.Start(context.Background()); err != nil {
		return nil, fmt.Errorf("failed to start event bus: %w", err)
	}

	promRegistry := prometheus.NewRegistry()
	metrics := playbackmodule.NewMetrics(promRegistry)

	playback := playbackmodule.NewModule(db, &cfg.Transcoding, eventBus, metrics, log)
	if err := playback.Migrate(db); err != nil {
		return nil, fmt.Errorf("failed to migrate %s module: %w", playback.ID(), err)
	}
	if err := playback.Init(); err != nil {
		return nil, fmt.Errorf("failed to initialize %s module: %w", playback.ID(), err)
	}

	s := &Server{
		cfg:      cfg,
		log:      log,
		eventBus: eventBus,
		playback: playback,
		registry: promRegistry,
	}

	router := s.setupRouter()
	s.httpServer = &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	return s, nil
}

// Start runs the HTTP server until it fails or is shut down
func (s *Server) Start() error {
	logger.Info("server listening on %s", s.httpServer.Addr)
	_ = s.eventBus.PublishAsync(events.NewSystemEvent(events.EventSystemStarted, "Server Started", "ember is up"))

	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Shutdown stops the HTTP listener, the playback engine, and the event bus
func (s *Server) Shutdown(ctx context.Context) error {
	_ = s.eventBus.PublishAsync(events.NewSystemEvent(events.EventSystemStopped, "Server Stopping", "ember is shutting down"))

	err := s.httpServer.Shutdown(ctx)
	s.playback.Shutdown()
	_ = s.eventBus.Stop(ctx)

	logger.Info("server shut down")
	return err
}

func corsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("Access-Control-Allow-Origin", "*")
		c.Header("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		c.Header("Access-Control-Allow-Headers", "Content-Type, Authorization")

		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}
		c.Next()
	}
}
