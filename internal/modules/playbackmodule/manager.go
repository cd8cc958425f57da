package playbackmodule

import (
	"context"
	"time"

	"github.com/embermedia/ember/internal/config"
	"github.com/embermedia/ember/internal/events"
	"github.com/hashicorp/go-hclog"
	"gorm.io/gorm"
)

const idleReapInterval = time.Minute

// Manager assembles and owns every component of the playback engine
type Manager struct {
	logger hclog.Logger
	db     *gorm.DB
	cfg    *config.TranscodingConfig

	evaluator *CapabilityEvaluator
	resolver  *MediaPartResolver
	decider   *PlaybackDecider
	jobs      *JobManager
	registry  *ProcessRegistry
	locks     *PathLocker
	waiter    *SegmentWaiter
	detector  *HardwareDetector
	builder   *CommandBuilder
	runner    ProcessRunner
	dash      *DashOrchestrator
	hls       *HlsOrchestrator
	metrics   *Metrics

	cancel context.CancelFunc
}

// NewManager wires the engine against the given database and event bus.
// metrics may be nil when no registry is exported.
func NewManager(db *gorm.DB, cfg *config.TranscodingConfig, eventBus events.EventBus, metrics *Metrics, logger hclog.Logger) *Manager {
	log := logger.Named("playback")

	m := &Manager{
		logger:  log,
		db:      db,
		cfg:     cfg,
		metrics: metrics,
	}

	m.evaluator = NewCapabilityEvaluator(log)
	m.resolver = NewMediaPartResolver(db)
	m.decider = NewPlaybackDecider(m.resolver, m.evaluator, cfg.EnableHardwareAccel, cfg.EnableToneMapping, log)
	m.registry = NewProcessRegistry(log)
	m.jobs = NewJobManager(db, m.registry, eventBus, metrics, cfg.MaxConcurrentJobs, log)
	m.locks = NewPathLocker(cfg.LockPoolSize)
	m.waiter = NewSegmentWaiter(cfg.SegmentWaitTimeout, metrics, log)
	m.detector = NewHardwareDetector(cfg.FFmpegPath, log)
	m.builder = NewCommandBuilder(cfg.FFmpegPath, m.detector, log)
	m.runner = NewExecRunner(log)

	core := &orchestratorCore{
		logger:          log,
		resolver:        m.resolver,
		jobs:            m.jobs,
		registry:        m.registry,
		locks:           m.locks,
		gop:             NewFileGopIndex(cfg.GopIndexDir),
		builder:         m.builder,
		runner:          m.runner,
		waiter:          m.waiter,
		transcodingDir:  cfg.TranscodingDir,
		segmentDuration: int(cfg.SegmentDuration.Seconds()),
		enableHardware:  cfg.EnableHardwareAccel,
		enableToneMap:   cfg.EnableToneMapping,
	}
	m.dash = NewDashOrchestrator(core, log)
	m.hls = NewHlsOrchestrator(core, log)

	return m
}

// Initialize reconciles jobs left over from a previous run and starts the
// background evictor and idle reaper. It must run before any ensure call.
func (m *Manager) Initialize() error {
	reconciled := m.jobs.CleanupStaleJobs()

	ctx, cancel := context.WithCancel(context.Background())
	m.cancel = cancel
	go m.registry.RunEvictor(ctx, m.cfg.EvictInterval, m.cfg.RegistryIdleTimeout)
	go m.jobs.RunIdleReaper(ctx, idleReapInterval, m.cfg.JobIdleTimeout)

	m.logger.Info("playback engine initialized",
		"reconciled_jobs", reconciled,
		"max_concurrent", m.cfg.MaxConcurrentJobs,
		"transcoding_dir", m.cfg.TranscodingDir)
	return nil
}

// Shutdown stops the background loops and kills every live process
func (m *Manager) Shutdown() {
	if m.cancel != nil {
		m.cancel()
	}
	m.registry.Shutdown()
	m.logger.Info("playback engine shut down")
}

// SweepOrphans removes unreferenced output directories older than maxAge
func (m *Manager) SweepOrphans(maxAge time.Duration) int {
	return SweepOrphanedOutputs(m.db, m.registry, m.cfg.TranscodingDir, maxAge, m.logger)
}

// Dash returns the DASH orchestrator
func (m *Manager) Dash() *DashOrchestrator { return m.dash }

// Hls returns the HLS orchestrator
func (m *Manager) Hls() *HlsOrchestrator { return m.hls }

// Jobs returns the job lifecycle manager
func (m *Manager) Jobs() *JobManager { return m.jobs }

// Registry returns the process registry
func (m *Manager) Registry() *ProcessRegistry { return m.registry }

// Decider returns the playback decider
func (m *Manager) Decider() *PlaybackDecider { return m.decider }

// Waiter returns the segment waiter
func (m *Manager) Waiter() *SegmentWaiter { return m.waiter }

// Evaluator returns the capability evaluator
func (m *Manager) Evaluator() *CapabilityEvaluator { return m.evaluator }
