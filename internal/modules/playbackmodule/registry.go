package playbackmodule

import (
	"context"
	"os"
	"regexp"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/hashicorp/go-hclog"
)

// killWaitTimeout bounds how long a kill waits for process exit before the
// registry gives up and unregisters anyway
const killWaitTimeout = 5 * time.Second

// RegistryEntry is the live, process-lifetime handle for one job. It is
// owned exclusively by the registry and dies with unregistration; the
// durable job record lives in the database.
type RegistryEntry struct {
	JobID      string
	OutputPath string
	Handle     ProcessHandle
	Cancel     context.CancelFunc

	// SegmentExtension is the on-disk media segment suffix used for
	// progress introspection (".m4s" for dash, ".ts"/".m4s" for hls)
	SegmentExtension string

	mu         sync.Mutex
	lastAccess time.Time
}

func (e *RegistryEntry) touch() {
	e.mu.Lock()
	e.lastAccess = time.Now()
	e.mu.Unlock()
}

// LastAccess returns the time the entry was last looked up
func (e *RegistryEntry) LastAccess() time.Time {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.lastAccess
}

// ProcessRegistry is the in-memory cache of running transcoder processes,
// indexed by job id and (case-insensitively) by output path. It is a
// liveness cache only and never authoritative for job state.
type ProcessRegistry struct {
	logger hclog.Logger

	mu        sync.RWMutex
	byID      map[string]*RegistryEntry
	pathIndex map[string]string // lower(outputPath) -> job id
}

// NewProcessRegistry creates an empty registry
func NewProcessRegistry(logger hclog.Logger) *ProcessRegistry {
	return &ProcessRegistry{
		logger:    logger.Named("process-registry"),
		byID:      make(map[string]*RegistryEntry),
		pathIndex: make(map[string]string),
	}
}

// Register adds an entry. A stale entry already registered at the same
// path is killed first; the per-path lock protocol makes that a bug-guard
// rather than an expected path.
func (r *ProcessRegistry) Register(entry *RegistryEntry) {
	pathKey := strings.ToLower(entry.OutputPath)

	r.mu.Lock()
	staleID, hasStale := r.pathIndex[pathKey]
	r.mu.Unlock()

	if hasStale && staleID != entry.JobID {
		r.logger.Warn("registering over a live entry, killing stale process",
			"path", entry.OutputPath, "stale_job_id", staleID)
		r.KillByID(staleID)
	}

	entry.touch()

	r.mu.Lock()
	r.byID[entry.JobID] = entry
	r.pathIndex[pathKey] = entry.JobID
	r.mu.Unlock()

	r.logger.Info("registered transcode process",
		"job_id", entry.JobID, "pid", entry.Handle.Pid(), "path", entry.OutputPath)
}

// Unregister removes an entry without touching the process
func (r *ProcessRegistry) Unregister(jobID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.unregisterLocked(jobID)
}

func (r *ProcessRegistry) unregisterLocked(jobID string) {
	entry, ok := r.byID[jobID]
	if !ok {
		return
	}
	delete(r.byID, jobID)

	pathKey := strings.ToLower(entry.OutputPath)
	if r.pathIndex[pathKey] == jobID {
		delete(r.pathIndex, pathKey)
	}
}

// GetByID returns the entry for a job id and touches its access time
func (r *ProcessRegistry) GetByID(jobID string) (*RegistryEntry, bool) {
	r.mu.RLock()
	entry, ok := r.byID[jobID]
	r.mu.RUnlock()
	if ok {
		entry.touch()
	}
	return entry, ok
}

// GetByPath returns the entry for an output path and touches its access time
func (r *ProcessRegistry) GetByPath(outputPath string) (*RegistryEntry, bool) {
	r.mu.RLock()
	jobID, ok := r.pathIndex[strings.ToLower(outputPath)]
	var entry *RegistryEntry
	if ok {
		entry, ok = r.byID[jobID]
	}
	r.mu.RUnlock()
	if ok {
		entry.touch()
	}
	return entry, ok
}

// KillByID cancels and kills a job's process, then unregisters it. The
// kill is terminal for the registry even when the OS kill fails.
func (r *ProcessRegistry) KillByID(jobID string) bool {
	r.mu.RLock()
	entry, ok := r.byID[jobID]
	r.mu.RUnlock()
	if !ok {
		return false
	}
	r.kill(entry)
	return true
}

// KillByPathPrefix kills every process registered at or under prefix,
// used for multi-variant outputs where each variant has its own process
func (r *ProcessRegistry) KillByPathPrefix(prefix string) int {
	key := strings.ToLower(prefix)

	r.mu.RLock()
	var matched []*RegistryEntry
	for _, entry := range r.byID {
		if strings.HasPrefix(strings.ToLower(entry.OutputPath), key) {
			matched = append(matched, entry)
		}
	}
	r.mu.RUnlock()

	for _, entry := range matched {
		r.kill(entry)
	}
	return len(matched)
}

// KillByPath kills whatever process is registered at the output path
func (r *ProcessRegistry) KillByPath(outputPath string) bool {
	entry, ok := r.GetByPath(outputPath)
	if !ok {
		return false
	}
	r.kill(entry)
	return true
}

func (r *ProcessRegistry) kill(entry *RegistryEntry) {
	if entry.Cancel != nil {
		entry.Cancel()
	}

	select {
	case <-entry.Handle.Done():
		// already exited
	default:
		if err := entry.Handle.KillTree(); err != nil {
			r.logger.Warn("failed to kill process tree",
				"job_id", entry.JobID, "pid", entry.Handle.Pid(), "error", err)
		}
		if !waitForExit(entry.Handle, killWaitTimeout) {
			r.logger.Warn("process did not exit within kill timeout",
				"job_id", entry.JobID, "pid", entry.Handle.Pid())
		}
	}

	r.mu.Lock()
	r.unregisterLocked(entry.JobID)
	r.mu.Unlock()

	r.logger.Info("killed transcode process", "job_id", entry.JobID, "path", entry.OutputPath)
}

// EvictIdle kills and removes every entry not accessed within timeout,
// returning the number evicted
func (r *ProcessRegistry) EvictIdle(timeout time.Duration) int {
	cutoff := time.Now().Add(-timeout)

	r.mu.RLock()
	var idle []*RegistryEntry
	for _, entry := range r.byID {
		if entry.LastAccess().Before(cutoff) {
			idle = append(idle, entry)
		}
	}
	r.mu.RUnlock()

	for _, entry := range idle {
		r.logger.Info("evicting idle transcode process",
			"job_id", entry.JobID, "idle", time.Since(entry.LastAccess()))
		r.kill(entry)
	}
	return len(idle)
}

// RunEvictor periodically evicts idle entries until ctx is cancelled
func (r *ProcessRegistry) RunEvictor(ctx context.Context, interval, timeout time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.EvictIdle(timeout)
		}
	}
}

// Entries returns a snapshot of all registered entries
func (r *ProcessRegistry) Entries() []*RegistryEntry {
	r.mu.RLock()
	defer r.mu.RUnlock()
	entries := make([]*RegistryEntry, 0, len(r.byID))
	for _, e := range r.byID {
		entries = append(entries, e)
	}
	return entries
}

// Len returns the number of registered entries
func (r *ProcessRegistry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byID)
}

// Shutdown cancels and kills every registered process unconditionally
func (r *ProcessRegistry) Shutdown() {
	for _, entry := range r.Entries() {
		r.kill(entry)
	}
	r.logger.Info("process registry shut down")
}

var segmentNumberRe = regexp.MustCompile(`(\d+)\.[a-z0-9]+$`)

// GetCurrentTranscodingIndex scans the segment files on disk at the path
// registered for outputPath and returns the highest media segment number,
// answering "how far has this transcode progressed" without polling the
// process. Initialization segments are ignored. Returns -1 when nothing
// has been produced yet.
func (r *ProcessRegistry) GetCurrentTranscodingIndex(outputPath string) int {
	ext := ".m4s"
	if entry, ok := r.GetByPath(outputPath); ok && entry.SegmentExtension != "" {
		ext = entry.SegmentExtension
	}
	return highestSegmentNumber(outputPath, ext)
}

func highestSegmentNumber(dir, ext string) int {
	highest := -1

	var walk func(string)
	walk = func(d string) {
		entries, err := os.ReadDir(d)
		if err != nil {
			return
		}
		for _, de := range entries {
			if de.IsDir() {
				walk(d + string(os.PathSeparator) + de.Name())
				continue
			}
			name := de.Name()
			if !strings.HasSuffix(name, ext) {
				continue
			}
			if strings.HasPrefix(name, "init") {
				continue
			}
			m := segmentNumberRe.FindStringSubmatch(name)
			if m == nil {
				continue
			}
			if n, err := strconv.Atoi(m[1]); err == nil && n > highest {
				highest = n
			}
		}
	}
	walk(dir)

	return highest
}
