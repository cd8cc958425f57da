package playbackmodule

import (
	"context"
	"fmt"

	"github.com/embermedia/ember/internal/database"
	"github.com/hashicorp/go-hclog"
)

// EnsureResult is what an ensure operation hands back to the serving layer
type EnsureResult struct {
	ManifestPath string `json:"manifest_path"`
	OutputDir    string `json:"output_dir"`

	// ActualStartMs is the keyframe-aligned start time actually used for
	// a seek; zero for non-seek requests
	ActualStartMs int64 `json:"actual_start_ms"`
}

// orchestratorCore carries the collaborators both protocol orchestrators
// share and the launch/supervise plumbing around one external process
type orchestratorCore struct {
	logger   hclog.Logger
	resolver *MediaPartResolver
	jobs     *JobManager
	registry *ProcessRegistry
	locks    *PathLocker
	gop      GopIndexReader
	builder  *CommandBuilder
	runner   ProcessRunner
	waiter   *SegmentWaiter

	transcodingDir  string
	segmentDuration int
	enableHardware  bool
	enableToneMap   bool
}

func (c *orchestratorCore) admit() error {
	return c.admitN(1)
}

// admitN admits a whole batch of n processes at once so multi-variant
// operations cannot overshoot the concurrency bound between launches
func (c *orchestratorCore) admitN(n int) error {
	ok, err := c.jobs.CanStartJobs(n)
	if err != nil {
		return err
	}
	if !ok {
		return ErrTooManyJobs
	}
	return nil
}

// snapSeek aligns seekMs to the nearest keyframe at or before it. Without
// a GOP index the raw time is used as-is.
func (c *orchestratorCore) snapSeek(itemID string, partIndex int, seekMs int64) (int64, []int64) {
	times, ok := c.gop.TryRead(itemID, partIndex)
	if !ok || len(times) == 0 {
		c.logger.Debug("no gop index, seeking to raw time", "item_id", itemID, "seek_ms", seekMs)
		return seekMs, nil
	}
	return SnapToKeyframe(times, seekMs), times
}

// launch creates the durable job, starts the external process detached
// from the request, registers it, and supervises exit in the background.
// The caller keeps waiting only for whatever artifacts it needs on disk.
func (c *orchestratorCore) launch(protocol, sessionID, mediaPartID, registryPath, segmentExt string, args []string, opts database.EncodeOptions) (*database.TranscodeJob, error) {
	job, err := c.jobs.CreateJob(sessionID, mediaPartID, protocol, registryPath, opts)
	if err != nil {
		return nil, err
	}

	procCtx, cancel := context.WithCancel(context.Background())
	handle, err := c.runner.Start(procCtx, c.builder.FFmpegPath(), args, "")
	if err != nil {
		cancel()
		_ = c.jobs.FailJob(job.ID, err.Error())
		return nil, fmt.Errorf("failed to launch transcoder: %w", ErrProcessingFailed)
	}

	entry := &RegistryEntry{
		JobID:            job.ID,
		OutputPath:       registryPath,
		Handle:           handle,
		Cancel:           cancel,
		SegmentExtension: segmentExt,
	}
	if err := c.jobs.StartJob(job.ID, entry); err != nil {
		c.registry.KillByID(job.ID)
		return nil, err
	}

	go c.supervise(job.ID, handle)
	return job, nil
}

// supervise settles the job record once its process exits. A process
// killed by cancellation reports an exit error, but the terminal-state
// guard keeps that from reopening an already cancelled job.
func (c *orchestratorCore) supervise(jobID string, handle ProcessHandle) {
	<-handle.Done()
	if err := handle.Err(); err != nil {
		_ = c.jobs.FailJob(jobID, err.Error())
		return
	}
	_ = c.jobs.CompleteJob(jobID)
}

// jobSpec assembles the shared encode parameters for one output rung
func (c *orchestratorCore) jobSpec(resolved *ResolvedPart, variant *AbrVariant, outputDir string, copyVideo, copyAudio bool) JobSpec {
	part := resolved.Part
	return JobSpec{
		InputPath:       part.Path,
		OutputDir:       outputDir,
		SegmentDuration: c.segmentDuration,

		SourceWidth:  part.Width,
		SourceHeight: part.Height,
		Interlaced:   part.Interlaced,
		HDR:          resolved.Properties().IsHDR(),
		Rotation:     part.Rotation,

		TargetWidth:   variant.Width,
		TargetHeight:  variant.Height,
		VideoBitrate:  variant.VideoBitrate,
		AudioBitrate:  variant.AudioBitrate,
		AudioChannels: variant.AudioChannels,

		CopyVideo:        copyVideo,
		CopyAudio:        copyAudio,
		TargetVideoCodec: "h264",
		TargetAudioCodec: "aac",
		ToneMap:          c.enableToneMap,
		HardwareAccel:    c.enableHardware,
	}
}

// encodeOptions records the rung parameters on the durable job
func encodeOptions(variant *AbrVariant, hardware, tonemap bool) database.EncodeOptions {
	return database.EncodeOptions{
		VideoBitrate:     variant.VideoBitrate,
		AudioBitrate:     variant.AudioBitrate,
		Width:            variant.Width,
		Height:           variant.Height,
		AudioChannels:    variant.AudioChannels,
		HardwareAccel:    hardware,
		ToneMapping:      tonemap,
		TargetVideoCodec: "h264",
		TargetAudioCodec: "aac",
	}
}
