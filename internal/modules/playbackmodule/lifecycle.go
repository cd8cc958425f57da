package playbackmodule

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/embermedia/ember/internal/database"
	"github.com/embermedia/ember/internal/events"
	"github.com/google/uuid"
	"github.com/hashicorp/go-hclog"
	"gorm.io/gorm"
)

// JobManager owns the durable transcode job records: the state machine,
// admission control, idle reaping, and startup recovery. The database is
// the single source of truth; the process registry is only a handle cache.
type JobManager struct {
	db       *gorm.DB
	logger   hclog.Logger
	registry *ProcessRegistry
	eventBus events.EventBus
	metrics  *Metrics

	maxConcurrent int
}

// NewJobManager creates a job manager
func NewJobManager(db *gorm.DB, registry *ProcessRegistry, eventBus events.EventBus, metrics *Metrics, maxConcurrent int, logger hclog.Logger) *JobManager {
	if maxConcurrent <= 0 {
		maxConcurrent = 4
	}
	return &JobManager{
		db:            db,
		logger:        logger.Named("job-manager"),
		registry:      registry,
		eventBus:      eventBus,
		metrics:       metrics,
		maxConcurrent: maxConcurrent,
	}
}

// CreateJob persists a new pending job with the caller's encode options
func (m *JobManager) CreateJob(sessionID, mediaPartID, protocol, outputPath string, opts database.EncodeOptions) (*database.TranscodeJob, error) {
	job := &database.TranscodeJob{
		ID:          uuid.New().String(),
		SessionID:   sessionID,
		MediaPartID: mediaPartID,
		Protocol:    protocol,
		OutputPath:  outputPath,
		State:       database.JobStatePending,
		Options:     opts,
		CreatedAt:   time.Now(),
		LastPingAt:  time.Now(),
	}

	if err := m.db.Create(job).Error; err != nil {
		return nil, fmt.Errorf("failed to create transcode job: %w", err)
	}

	m.logger.Info("created transcode job",
		"job_id", job.ID, "part_id", mediaPartID, "protocol", protocol, "output", outputPath)
	m.publish(events.EventJobCreated, job.ID, "job created")
	return job, nil
}

// StartJob transitions a pending job to running, records the process id
// and timestamps, and registers the live handle in the process registry.
// A missing or already-terminal job is a no-op.
func (m *JobManager) StartJob(jobID string, entry *RegistryEntry) error {
	now := time.Now()
	res := m.db.Model(&database.TranscodeJob{}).
		Where("id = ? AND state = ?", jobID, database.JobStatePending).
		Updates(map[string]interface{}{
			"state":        database.JobStateRunning,
			"process_id":   entry.Handle.Pid(),
			"started_at":   &now,
			"last_ping_at": now,
		})
	if res.Error != nil {
		return fmt.Errorf("failed to start job %s: %w", jobID, res.Error)
	}
	if res.RowsAffected == 0 {
		m.logger.Warn("start ignored for missing or non-pending job", "job_id", jobID)
		return nil
	}

	m.registry.Register(entry)
	m.metrics.jobStarted(m.protocolOf(jobID))
	m.publish(events.EventJobStarted, jobID, "transcode running")
	return nil
}

// ReportProgress updates the progress percentage of a running job
func (m *JobManager) ReportProgress(jobID string, progress float64) {
	m.db.Model(&database.TranscodeJob{}).
		Where("id = ? AND state = ?", jobID, database.JobStateRunning).
		Updates(map[string]interface{}{
			"progress":     progress,
			"last_ping_at": time.Now(),
		})
}

// Ping refreshes a running job's heartbeat
func (m *JobManager) Ping(jobID string) {
	m.db.Model(&database.TranscodeJob{}).
		Where("id = ? AND state = ?", jobID, database.JobStateRunning).
		Update("last_ping_at", time.Now())
}

// CompleteJob marks a job completed with full progress
func (m *JobManager) CompleteJob(jobID string) error {
	now := time.Now()
	res := m.db.Model(&database.TranscodeJob{}).
		Where("id = ? AND state IN ?", jobID, []database.JobState{database.JobStatePending, database.JobStateRunning}).
		Updates(map[string]interface{}{
			"state":        database.JobStateCompleted,
			"progress":     100.0,
			"completed_at": &now,
		})
	if res.Error != nil {
		return fmt.Errorf("failed to complete job %s: %w", jobID, res.Error)
	}
	if res.RowsAffected > 0 {
		m.registry.Unregister(jobID)
		m.metrics.jobFinished(string(database.JobStateCompleted))
		m.publish(events.EventJobCompleted, jobID, "transcode completed")
	}
	return nil
}

// CancelJob kills the tracked process (best effort), marks the job
// cancelled, and optionally deletes the output directory
func (m *JobManager) CancelJob(jobID string, deleteSegments bool) error {
	return m.terminate(jobID, database.JobStateCancelled, "cancelled", deleteSegments)
}

// FailJob kills the tracked process and marks the job failed with message
func (m *JobManager) FailJob(jobID, message string) error {
	return m.terminate(jobID, database.JobStateFailed, message, false)
}

func (m *JobManager) terminate(jobID string, state database.JobState, message string, deleteSegments bool) error {
	// Kill first so no process outlives its record. Already-gone errors
	// are swallowed inside the registry.
	m.registry.KillByID(jobID)

	var job database.TranscodeJob
	if err := m.db.Where("id = ?", jobID).First(&job).Error; err != nil {
		// missing job is a no-op, not an error
		return nil
	}

	now := time.Now()
	res := m.db.Model(&database.TranscodeJob{}).
		Where("id = ? AND state IN ?", jobID, []database.JobState{database.JobStatePending, database.JobStateRunning}).
		Updates(map[string]interface{}{
			"state":         state,
			"error_message": message,
			"completed_at":  &now,
		})
	if res.Error != nil {
		return fmt.Errorf("failed to mark job %s %s: %w", jobID, state, res.Error)
	}

	if res.RowsAffected > 0 {
		if job.State == database.JobStateRunning {
			m.metrics.jobFinished(string(state))
		}
		eventType := events.EventJobCancelled
		if state == database.JobStateFailed {
			eventType = events.EventJobFailed
		}
		m.publish(eventType, jobID, message)
		m.logger.Info("job terminated", "job_id", jobID, "state", state, "message", message)
	}

	if deleteSegments && job.OutputPath != "" {
		if err := os.RemoveAll(job.OutputPath); err != nil {
			m.logger.Warn("failed to delete output directory", "job_id", jobID, "path", job.OutputPath, "error", err)
		}
	}
	return nil
}

// CanStartJobs applies admission control for a batch of n jobs against a
// fresh count of running jobs; the registry is deliberately not consulted.
// Multi-process operations must admit their whole batch up front so the
// configured maximum is never overshot mid-fan-out.
func (m *JobManager) CanStartJobs(n int) (bool, error) {
	var running int64
	if err := m.db.Model(&database.TranscodeJob{}).
		Where("state = ?", database.JobStateRunning).
		Count(&running).Error; err != nil {
		return false, fmt.Errorf("failed to count running jobs: %w", err)
	}
	return running+int64(n) <= int64(m.maxConcurrent), nil
}

// CanStartNewJob applies admission control for a single job
func (m *JobManager) CanStartNewJob() (bool, error) {
	return m.CanStartJobs(1)
}

// GetJob returns a job by id
func (m *JobManager) GetJob(jobID string) (*database.TranscodeJob, error) {
	var job database.TranscodeJob
	if err := m.db.Where("id = ?", jobID).First(&job).Error; err != nil {
		return nil, fmt.Errorf("job %s: %w", jobID, ErrNotFound)
	}
	return &job, nil
}

// ListJobs returns jobs, optionally filtered by state, newest first
func (m *JobManager) ListJobs(state database.JobState, limit int) ([]*database.TranscodeJob, error) {
	query := m.db.Order("created_at DESC")
	if state != "" {
		query = query.Where("state = ?", state)
	}
	if limit > 0 {
		query = query.Limit(limit)
	}

	var jobs []*database.TranscodeJob
	if err := query.Find(&jobs).Error; err != nil {
		return nil, fmt.Errorf("failed to list jobs: %w", err)
	}
	return jobs, nil
}

// JobStats summarizes the durable job table
type JobStats struct {
	Pending   int64 `json:"pending"`
	Running   int64 `json:"running"`
	Completed int64 `json:"completed"`
	Cancelled int64 `json:"cancelled"`
	Failed    int64 `json:"failed"`
}

// GetStats counts jobs by state
func (m *JobManager) GetStats() (*JobStats, error) {
	stats := &JobStats{}
	counts := map[database.JobState]*int64{
		database.JobStatePending:   &stats.Pending,
		database.JobStateRunning:   &stats.Running,
		database.JobStateCompleted: &stats.Completed,
		database.JobStateCancelled: &stats.Cancelled,
		database.JobStateFailed:    &stats.Failed,
	}
	for state, dst := range counts {
		if err := m.db.Model(&database.TranscodeJob{}).Where("state = ?", state).Count(dst).Error; err != nil {
			return nil, fmt.Errorf("failed to count %s jobs: %w", state, err)
		}
	}
	return stats, nil
}

// KillIdleJobs cancels every running job whose heartbeat is older than
// timeout, returning how many were reaped. Failures are isolated per job.
func (m *JobManager) KillIdleJobs(timeout time.Duration) int {
	cutoff := time.Now().Add(-timeout)

	var stale []*database.TranscodeJob
	if err := m.db.Where("state = ? AND last_ping_at < ?", database.JobStateRunning, cutoff).
		Find(&stale).Error; err != nil {
		m.logger.Error("failed to scan for idle jobs", "error", err)
		return 0
	}

	reaped := 0
	for _, job := range stale {
		m.logger.Info("reaping idle job",
			"job_id", job.ID, "idle", time.Since(job.LastPingAt))
		if err := m.terminate(job.ID, database.JobStateCancelled,
			fmt.Sprintf("idle timeout after %s without heartbeat", timeout), false); err != nil {
			m.logger.Warn("failed to reap idle job", "job_id", job.ID, "error", err)
			continue
		}
		reaped++
	}
	return reaped
}

// RunIdleReaper periodically reaps idle jobs until ctx is cancelled
func (m *JobManager) RunIdleReaper(ctx context.Context, interval, timeout time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.KillIdleJobs(timeout)
		}
	}
}

// CleanupStaleJobs reconciles jobs orphaned by a prior run. It runs once
// at startup, before any new job is admitted: every pending/running job
// in the table cannot have a live entry in this process's registry, so
// any surviving OS process is killed, the job is failed, and its output
// directory is removed.
func (m *JobManager) CleanupStaleJobs() int {
	var stale []*database.TranscodeJob
	if err := m.db.Where("state IN ?", []database.JobState{database.JobStatePending, database.JobStateRunning}).
		Find(&stale).Error; err != nil {
		m.logger.Error("failed to scan for stale jobs", "error", err)
		return 0
	}

	for _, job := range stale {
		if PidExists(job.ProcessID) {
			m.logger.Warn("killing orphaned transcoder process from previous run",
				"job_id", job.ID, "pid", job.ProcessID)
			if err := KillProcessTree(job.ProcessID); err != nil {
				m.logger.Warn("failed to kill orphaned process", "pid", job.ProcessID, "error", err)
			}
		}

		now := time.Now()
		m.db.Model(&database.TranscodeJob{}).
			Where("id = ?", job.ID).
			Updates(map[string]interface{}{
				"state":         database.JobStateFailed,
				"error_message": "server restarted while job was in flight",
				"completed_at":  &now,
			})

		if job.OutputPath != "" {
			if err := os.RemoveAll(job.OutputPath); err != nil {
				m.logger.Warn("failed to remove stale output directory",
					"job_id", job.ID, "path", job.OutputPath, "error", err)
			}
		}
		m.publish(events.EventJobFailed, job.ID, "failed by startup recovery")
	}

	if len(stale) > 0 {
		m.logger.Info("startup recovery reconciled stale jobs", "count", len(stale))
	}
	return len(stale)
}

func (m *JobManager) protocolOf(jobID string) string {
	var job database.TranscodeJob
	if err := m.db.Select("protocol").Where("id = ?", jobID).First(&job).Error; err != nil {
		return "unknown"
	}
	return job.Protocol
}

func (m *JobManager) publish(eventType events.EventType, jobID, message string) {
	if m.eventBus == nil {
		return
	}
	m.eventBus.PublishAsync(events.NewJobEvent(eventType, jobID, message, nil))
}
