package playbackmodule

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/embermedia/ember/internal/database"
	"github.com/embermedia/ember/internal/events"
	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/hashicorp/go-hclog"
)

// apiHandlers adapts the engine to the HTTP layer
type apiHandlers struct {
	manager  *Manager
	eventBus events.EventBus
	logger   hclog.Logger
	upgrader websocket.Upgrader
}

func newAPIHandlers(manager *Manager, eventBus events.EventBus, logger hclog.Logger) *apiHandlers {
	return &apiHandlers{
		manager:  manager,
		eventBus: eventBus,
		logger:   logger.Named("api"),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
	}
}

func (h *apiHandlers) registerRoutes(router *gin.Engine) {
	playback := router.Group("/api/playback")
	{
		playback.POST("/decide", h.decidePlayback)

		playback.POST("/dash/:partId", h.ensureDash)
		playback.POST("/dash/:partId/seek", h.ensureDashWithSeek)
		playback.POST("/hls/:partId", h.ensureHls)
		playback.POST("/hls/:partId/seek", h.ensureHlsWithSeek)

		playback.GET("/segments/wait", h.waitForSegment)

		playback.GET("/jobs", h.listJobs)
		playback.GET("/jobs/stats", h.jobStats)
		playback.GET("/jobs/:jobId", h.getJob)
		playback.DELETE("/jobs/:jobId", h.cancelJob)
		playback.POST("/jobs/:jobId/ping", h.pingJob)
		playback.POST("/jobs/:jobId/progress", h.reportProgress)

		playback.GET("/processes", h.listProcesses)
		playback.DELETE("/processes", h.killProcessByPath)

		playback.GET("/events", h.streamEvents)
	}
}

type decideRequest struct {
	MediaPartID  string               `json:"media_part_id" binding:"required"`
	MediaType    string               `json:"media_type"`
	Capabilities PlaybackCapabilities `json:"capabilities" binding:"required"`
}

func (h *apiHandlers) decidePlayback(c *gin.Context) {
	var req decideRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request: " + err.Error()})
		return
	}
	if req.MediaType == "" {
		req.MediaType = "video"
	}

	decision, err := h.manager.Decider().Decide(req.MediaPartID, req.MediaType, &req.Capabilities)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, decision)
}

// sessionIDFrom extracts the owning playback session id; jobs created by
// the request are attributed to it
func sessionIDFrom(c *gin.Context) string {
	if id := c.GetHeader("X-Playback-Session-Id"); id != "" {
		return id
	}
	return c.Query("session_id")
}

func (h *apiHandlers) ensureDash(c *gin.Context) {
	result, err := h.manager.Dash().EnsureDash(c.Request.Context(), c.Param("partId"), sessionIDFrom(c))
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

func (h *apiHandlers) ensureDashWithSeek(c *gin.Context) {
	seekMs, err := strconv.ParseInt(c.Query("seek_ms"), 10, 64)
	if err != nil || seekMs < 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "seek_ms must be a non-negative integer"})
		return
	}

	var startNumber *int
	if raw := c.Query("start_number"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "start_number must be a non-negative integer"})
			return
		}
		startNumber = &n
	}

	result, err := h.manager.Dash().EnsureDashWithSeek(c.Request.Context(), c.Param("partId"), sessionIDFrom(c), seekMs, startNumber)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

type ensureHlsRequest struct {
	Ladder *AbrLadder `json:"ladder"`
}

func (h *apiHandlers) ensureHls(c *gin.Context) {
	var req ensureHlsRequest
	_ = c.ShouldBindJSON(&req)

	result, err := h.manager.Hls().EnsureHls(c.Request.Context(), c.Param("partId"), sessionIDFrom(c), req.Ladder)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

func (h *apiHandlers) ensureHlsWithSeek(c *gin.Context) {
	seekMs, err := strconv.ParseInt(c.Query("seek_ms"), 10, 64)
	if err != nil || seekMs < 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "seek_ms must be a non-negative integer"})
		return
	}

	var req ensureHlsRequest
	_ = c.ShouldBindJSON(&req)

	result, err := h.manager.Hls().EnsureHlsWithSeek(c.Request.Context(), c.Param("partId"), sessionIDFrom(c), seekMs, req.Ladder)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

func (h *apiHandlers) waitForSegment(c *gin.Context) {
	path := c.Query("path")
	if path == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "path is required"})
		return
	}
	if err := h.manager.Waiter().WaitForSegment(c.Request.Context(), path); err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"ready": true, "path": path})
}

func (h *apiHandlers) listJobs(c *gin.Context) {
	limit := 100
	if raw := c.Query("limit"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil && n > 0 {
			limit = n
		}
	}

	jobs, err := h.manager.Jobs().ListJobs(database.JobState(c.Query("state")), limit)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"jobs": jobs, "count": len(jobs)})
}

func (h *apiHandlers) jobStats(c *gin.Context) {
	stats, err := h.manager.Jobs().GetStats()
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"jobs":           stats,
		"live_processes": h.manager.Registry().Len(),
	})
}

func (h *apiHandlers) getJob(c *gin.Context) {
	job, err := h.manager.Jobs().GetJob(c.Param("jobId"))
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, job)
}

func (h *apiHandlers) cancelJob(c *gin.Context) {
	deleteSegments := c.Query("delete_segments") == "true"
	if err := h.manager.Jobs().CancelJob(c.Param("jobId"), deleteSegments); err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"cancelled": true})
}

func (h *apiHandlers) pingJob(c *gin.Context) {
	h.manager.Jobs().Ping(c.Param("jobId"))
	c.JSON(http.StatusOK, gin.H{"ok": true})
}

type progressRequest struct {
	Progress float64 `json:"progress" binding:"min=0,max=100"`
}

func (h *apiHandlers) reportProgress(c *gin.Context) {
	var req progressRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request: " + err.Error()})
		return
	}
	h.manager.Jobs().ReportProgress(c.Param("jobId"), req.Progress)
	c.JSON(http.StatusOK, gin.H{"ok": true})
}

type processInfo struct {
	JobID      string `json:"job_id"`
	OutputPath string `json:"output_path"`
	Pid        int    `json:"pid"`
	LastAccess string `json:"last_access"`
	Segment    int    `json:"current_segment"`
}

func (h *apiHandlers) listProcesses(c *gin.Context) {
	registry := h.manager.Registry()
	entries := registry.Entries()
	infos := make([]processInfo, 0, len(entries))
	for _, entry := range entries {
		infos = append(infos, processInfo{
			JobID:      entry.JobID,
			OutputPath: entry.OutputPath,
			Pid:        entry.Handle.Pid(),
			LastAccess: entry.LastAccess().Format("2006-01-02T15:04:05Z07:00"),
			Segment:    registry.GetCurrentTranscodingIndex(entry.OutputPath),
		})
	}
	c.JSON(http.StatusOK, gin.H{"processes": infos, "count": len(infos)})
}

func (h *apiHandlers) killProcessByPath(c *gin.Context) {
	path := c.Query("path")
	if path == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "path is required"})
		return
	}
	killed := h.manager.Registry().KillByPath(path)
	c.JSON(http.StatusOK, gin.H{"killed": killed})
}

// streamEvents upgrades to a websocket and forwards transcode lifecycle
// events until the client disconnects
func (h *apiHandlers) streamEvents(c *gin.Context) {
	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", "error", err)
		return
	}
	defer conn.Close()

	sub := h.eventBus.Subscribe(
		events.EventJobCreated,
		events.EventJobStarted,
		events.EventJobProgress,
		events.EventJobCompleted,
		events.EventJobCancelled,
		events.EventJobFailed,
	)
	defer h.eventBus.Unsubscribe(sub)

	// reader goroutine just detects disconnect
	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	for {
		select {
		case <-done:
			return
		case <-c.Request.Context().Done():
			return
		case event, ok := <-sub.Events:
			if !ok {
				return
			}
			if err := conn.WriteJSON(event); err != nil {
				return
			}
		}
	}
}

func (h *apiHandlers) respondError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
	case errors.Is(err, ErrNotReady):
		c.Header("Retry-After", "1")
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": err.Error(), "retryable": true})
	case errors.Is(err, ErrTooManyJobs):
		c.JSON(http.StatusTooManyRequests, gin.H{"error": err.Error()})
	default:
		h.logger.Error("request failed", "path", c.FullPath(), "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
	}
}
