package playbackmodule

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/embermedia/ember/internal/database"
	"github.com/fsnotify/fsnotify"
	"github.com/hashicorp/go-hclog"
	"gorm.io/gorm"
)

const segmentPollInterval = 100 * time.Millisecond

// SegmentWaiter blocks a segment-serving caller briefly while a segment is
// still being produced. Filesystem notifications wake it early; a short
// poll backs them up for filesystems that drop events.
type SegmentWaiter struct {
	logger  hclog.Logger
	timeout time.Duration
	metrics *Metrics
}

// NewSegmentWaiter creates a waiter with the given default timeout
func NewSegmentWaiter(timeout time.Duration, metrics *Metrics, logger hclog.Logger) *SegmentWaiter {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &SegmentWaiter{
		logger:  logger.Named("segment-waiter"),
		timeout: timeout,
		metrics: metrics,
	}
}

// WaitForSegment waits for path to exist. It returns nil as soon as the
// file appears and ErrNotReady on timeout, which callers treat as
// retryable rather than fatal.
func (w *SegmentWaiter) WaitForSegment(ctx context.Context, path string) error {
	if _, err := os.Stat(path); err == nil {
		return nil
	}

	w.metrics.segmentWait()
	w.logger.Debug("waiting for segment", "path", path, "timeout", w.timeout)

	deadline := time.NewTimer(w.timeout)
	defer deadline.Stop()
	ticker := time.NewTicker(segmentPollInterval)
	defer ticker.Stop()

	var events chan fsnotify.Event
	watcher, err := fsnotify.NewWatcher()
	if err == nil {
		defer watcher.Close()
		if watchErr := watcher.Add(filepath.Dir(path)); watchErr == nil {
			events = make(chan fsnotify.Event, 16)
			go func() {
				for ev := range watcher.Events {
					select {
					case events <- ev:
					default:
					}
				}
			}()
		}
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-deadline.C:
			w.metrics.segmentTimeout()
			return fmt.Errorf("segment %s after %s: %w", filepath.Base(path), w.timeout, ErrNotReady)
		case ev := <-events:
			if ev.Name == path && ev.Op.Has(fsnotify.Create|fsnotify.Write) {
				if _, err := os.Stat(path); err == nil {
					return nil
				}
			}
		case <-ticker.C:
			if _, err := os.Stat(path); err == nil {
				return nil
			}
		}
	}
}

// SweepOrphanedOutputs removes output directories that no live job
// references and that have not been touched within maxAge. It walks the
// dash, hls, and seek trees under rootDir; each part directory is judged
// independently so one failure never stops the sweep.
func SweepOrphanedOutputs(db *gorm.DB, registry *ProcessRegistry, rootDir string, maxAge time.Duration, logger hclog.Logger) int {
	cutoff := time.Now().Add(-maxAge)

	var active []database.TranscodeJob
	if err := db.Select("output_path").
		Where("state IN ?", []database.JobState{database.JobStatePending, database.JobStateRunning}).
		Find(&active).Error; err != nil {
		logger.Error("orphan sweep could not list live jobs", "error", err)
		return 0
	}
	livePaths := make(map[string]bool, len(active))
	for _, job := range active {
		livePaths[strings.ToLower(job.OutputPath)] = true
	}

	removed := 0
	for _, tree := range []string{"dash", "dash-seek", "hls", "hls-seek"} {
		treeDir := filepath.Join(rootDir, tree)
		itemDirs, err := os.ReadDir(treeDir)
		if err != nil {
			continue
		}
		for _, itemDir := range itemDirs {
			if !itemDir.IsDir() {
				continue
			}
			partDirs, err := os.ReadDir(filepath.Join(treeDir, itemDir.Name()))
			if err != nil {
				continue
			}
			for _, partDir := range partDirs {
				dir := filepath.Join(treeDir, itemDir.Name(), partDir.Name())
				if livePaths[strings.ToLower(dir)] {
					continue
				}
				if _, registered := registry.GetByPath(dir); registered {
					continue
				}
				info, err := os.Stat(dir)
				if err != nil || info.ModTime().After(cutoff) {
					continue
				}
				if err := os.RemoveAll(dir); err != nil {
					logger.Warn("failed to remove orphaned output", "path", dir, "error", err)
					continue
				}
				logger.Info("removed orphaned output directory", "path", dir)
				removed++
			}
		}
	}
	return removed
}
