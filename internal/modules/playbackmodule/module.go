// Package playbackmodule implements adaptive playback delivery: capability
// negotiation, ABR ladder generation, transcode job lifecycle, and DASH/HLS
// segment orchestration backed by an external transcoder.
package playbackmodule

import (
	"github.com/embermedia/ember/internal/config"
	"github.com/embermedia/ember/internal/database"
	"github.com/embermedia/ember/internal/events"
	"github.com/gin-gonic/gin"
	"github.com/hashicorp/go-hclog"
	"gorm.io/gorm"
)

// Module is the playback module
type Module struct {
	db       *gorm.DB
	manager  *Manager
	eventBus events.EventBus
	logger   hclog.Logger
}

// NewModule creates the playback module
func NewModule(db *gorm.DB, cfg *config.TranscodingConfig, eventBus events.EventBus, metrics *Metrics, logger hclog.Logger) *Module {
	return &Module{
		db:       db,
		manager:  NewManager(db, cfg, eventBus, metrics, logger),
		eventBus: eventBus,
		logger:   logger.Named("playback-module"),
	}
}

// ID returns the module identifier
func (m *Module) ID() string {
	return "playback"
}

// Name returns the human-readable module name
func (m *Module) Name() string {
	return "Playback Module"
}

// Core returns whether this is a core module
func (m *Module) Core() bool {
	return true
}

// Migrate performs database migrations for the module
func (m *Module) Migrate(db *gorm.DB) error {
	return db.AutoMigrate(&database.TranscodeJob{})
}

// Init starts the engine, including startup recovery
func (m *Module) Init() error {
	return m.manager.Initialize()
}

// Shutdown stops background loops and kills live transcodes
func (m *Module) Shutdown() {
	m.manager.Shutdown()
}

// Manager returns the engine manager
func (m *Module) Manager() *Manager {
	return m.manager
}

// RegisterRoutes mounts the module's HTTP API
func (m *Module) RegisterRoutes(router *gin.Engine) {
	h := newAPIHandlers(m.manager, m.eventBus, m.logger)
	h.registerRoutes(router)
}
