package playbackmodule

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/hashicorp/go-hclog"
)

const (
	dashManifestName  = "manifest.mpd"
	hlsMasterName     = "master.m3u8"
	hlsPlaylistName   = "playlist.m3u8"
	dashInitTemplate  = "init-stream$RepresentationID$.m4s"
	dashChunkTemplate = "chunk-stream$RepresentationID$-$Number%05d$.m4s"
)

// JobSpec holds the fully resolved parameters shared by both protocols
type JobSpec struct {
	InputPath       string
	OutputDir       string
	SegmentDuration int

	// StartMs is the keyframe-aligned seek offset; zero means from the top
	StartMs int64
	// StartNumber renumbers the first produced segment so client-side
	// segment arithmetic stays aligned after a seek
	StartNumber int
	// ForcedKeyframes is a comma-separated list of keyframe times in
	// seconds, relative to StartMs
	ForcedKeyframes string

	SourceWidth  int
	SourceHeight int
	Interlaced   bool
	HDR          bool
	Rotation     int

	TargetWidth      int
	TargetHeight     int
	VideoBitrate     int64
	AudioBitrate     int64
	AudioChannels    int
	AudioStreamIndex int

	CopyVideo        bool
	CopyAudio        bool
	TargetVideoCodec string
	TargetAudioCodec string
	ToneMap          bool
	HardwareAccel    bool
}

// DashJobSpec resolves one DASH invocation covering all adaptation sets
type DashJobSpec struct {
	JobSpec
}

// HlsJobSpec resolves one HLS variant invocation
type HlsJobSpec struct {
	JobSpec

	// VariantID names the variant subdirectory under OutputDir
	VariantID string
}

// CommandBuilder turns job specs into external transcoder invocations
type CommandBuilder struct {
	logger     hclog.Logger
	ffmpegPath string
	detector   *HardwareDetector
}

// NewCommandBuilder creates a builder using the given binary and detector
func NewCommandBuilder(ffmpegPath string, detector *HardwareDetector, logger hclog.Logger) *CommandBuilder {
	return &CommandBuilder{
		logger:     logger.Named("command-builder"),
		ffmpegPath: ffmpegPath,
		detector:   detector,
	}
}

// FFmpegPath returns the transcoder binary path
func (b *CommandBuilder) FFmpegPath() string {
	return b.ffmpegPath
}

// BuildDash produces the argument list for one DASH transcode. The
// per-adaptation-set subdirectories are created up front; the dash muxer
// will not create them itself.
func (b *CommandBuilder) BuildDash(ctx context.Context, spec *DashJobSpec) ([]string, error) {
	if err := os.MkdirAll(spec.OutputDir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create output directory: %w", err)
	}
	for _, sub := range []string{"0", "1"} {
		if err := os.MkdirAll(filepath.Join(spec.OutputDir, sub), 0o755); err != nil {
			return nil, fmt.Errorf("failed to create adaptation set directory %s: %w", sub, err)
		}
	}

	args, err := b.inputAndStreamArgs(ctx, &spec.JobSpec)
	if err != nil {
		return nil, err
	}

	args = append(args,
		"-f", "dash",
		"-seg_duration", fmt.Sprintf("%d", spec.SegmentDuration),
		"-use_template", "1",
		"-use_timeline", "0",
		"-init_seg_name", dashInitTemplate,
		"-media_seg_name", dashChunkTemplate,
		"-dash_segment_type", "mp4",
		"-adaptation_sets", "id=0,streams=v id=1,streams=a",
	)
	if spec.StartNumber > 0 {
		args = append(args, "-start_number", fmt.Sprintf("%d", spec.StartNumber))
	}
	args = append(args, filepath.Join(spec.OutputDir, dashManifestName))

	return args, nil
}

// BuildHlsVariant produces the argument list for one HLS variant. Segments
// are fragmented mp4 written into the variant's own subdirectory.
func (b *CommandBuilder) BuildHlsVariant(ctx context.Context, spec *HlsJobSpec) ([]string, error) {
	variantDir := filepath.Join(spec.OutputDir, spec.VariantID)
	if err := os.MkdirAll(variantDir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create variant directory: %w", err)
	}

	args, err := b.inputAndStreamArgs(ctx, &spec.JobSpec)
	if err != nil {
		return nil, err
	}

	args = append(args,
		"-f", "hls",
		"-hls_time", fmt.Sprintf("%d", spec.SegmentDuration),
		"-hls_playlist_type", "event",
		"-hls_segment_type", "fmp4",
		"-hls_fmp4_init_filename", "init.mp4",
		"-hls_segment_filename", filepath.Join(variantDir, "chunk-%05d.m4s"),
		filepath.Join(variantDir, hlsPlaylistName),
	)

	return args, nil
}

// inputAndStreamArgs builds everything up to and including the per-stream
// codec arguments, shared by both muxers
func (b *CommandBuilder) inputAndStreamArgs(ctx context.Context, spec *JobSpec) ([]string, error) {
	if spec.InputPath == "" {
		return nil, fmt.Errorf("job spec has no input path: %w", ErrProcessingFailed)
	}

	// copy streams never touch a decoder, so hardware only matters when
	// the video is re-encoded
	accel := b.detector.Best(ctx, spec.HardwareAccel && !spec.CopyVideo, spec.TargetVideoCodec)

	var chain *FilterChain
	if !spec.CopyVideo {
		chain, accel = ResolveFilterChain(FilterSpec{
			SourceWidth:  spec.SourceWidth,
			SourceHeight: spec.SourceHeight,
			TargetWidth:  spec.TargetWidth,
			TargetHeight: spec.TargetHeight,
			Interlaced:   spec.Interlaced,
			HDR:          spec.HDR,
			ToneMap:      spec.ToneMap,
			Rotation:     spec.Rotation,
		}, accel, b.logger)
	}

	args := []string{"-nostats", "-hide_banner", "-loglevel", "warning"}
	args = append(args, accel.InitFlags...)
	if !spec.CopyVideo {
		args = append(args, accel.DecodeFlags...)
	}

	if spec.StartMs > 0 {
		args = append(args, "-ss", fmt.Sprintf("%.3f", float64(spec.StartMs)/1000.0))
	}
	args = append(args, "-i", spec.InputPath)

	args = append(args, "-map", "0:v:0")
	args = append(args, "-map", fmt.Sprintf("0:a:%d", spec.AudioStreamIndex))

	args = append(args, b.videoArgs(spec, accel, chain)...)
	args = append(args, b.audioArgs(spec)...)

	return args, nil
}

func (b *CommandBuilder) videoArgs(spec *JobSpec, accel *AccelConfig, chain *FilterChain) []string {
	if spec.CopyVideo {
		return []string{"-c:v", "copy"}
	}

	args := []string{"-c:v", accel.VideoEncoder}
	args = append(args, accel.EncodeFlags...)

	if chain != nil && !chain.Empty() {
		args = append(args, "-vf", chain.String())
	}

	if spec.VideoBitrate > 0 {
		args = append(args,
			"-b:v", fmt.Sprintf("%d", spec.VideoBitrate),
			"-maxrate", fmt.Sprintf("%d", spec.VideoBitrate*3/2),
			"-bufsize", fmt.Sprintf("%d", spec.VideoBitrate*2),
		)
	}

	if spec.ForcedKeyframes != "" {
		args = append(args, "-force_key_frames", spec.ForcedKeyframes)
		if accel.Accelerator == AccelCUDA {
			args = append(args, "-forced-idr", "1")
		}
	} else if spec.SegmentDuration > 0 {
		// without a GOP index, force keyframes on segment boundaries
		args = append(args, "-force_key_frames", fmt.Sprintf("expr:gte(t,n_forced*%d)", spec.SegmentDuration))
	}

	return args
}

func (b *CommandBuilder) audioArgs(spec *JobSpec) []string {
	if spec.CopyAudio {
		return []string{"-c:a", "copy"}
	}

	codec := spec.TargetAudioCodec
	if codec == "" {
		codec = "aac"
	}
	args := []string{"-c:a", codec}
	if spec.AudioChannels > 0 {
		args = append(args, "-ac", fmt.Sprintf("%d", spec.AudioChannels))
	}
	if spec.AudioBitrate > 0 {
		args = append(args, "-b:a", fmt.Sprintf("%d", spec.AudioBitrate))
	}
	return args
}

// CanCopyVideo reports whether the source video stream may be passed
// through untouched for the source-quality rung
func CanCopyVideo(props *MediaProperties, caps *PlaybackCapabilities, evaluator *CapabilityEvaluator, mediaType string, isSourceRung bool) bool {
	if !isSourceRung || props == nil || caps == nil {
		return false
	}
	return evaluator.SupportsVideoCodec(caps, mediaType, props.Container, props.VideoCodec) && !props.IsHDR()
}

// CanCopyAudio reports whether the source audio stream may be passed
// through untouched
func CanCopyAudio(props *MediaProperties, caps *PlaybackCapabilities, evaluator *CapabilityEvaluator, mediaType string, isSourceRung bool) bool {
	if !isSourceRung || props == nil || caps == nil {
		return false
	}
	return evaluator.SupportsAudioCodec(caps, mediaType, props.Container, props.AudioCodec)
}
