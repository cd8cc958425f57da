package playbackmodule

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testBuilder(t *testing.T) *CommandBuilder {
	t.Helper()
	return NewCommandBuilder("ffmpeg", NewHardwareDetector("ffmpeg", nullLogger()), nullLogger())
}

func baseSpec(t *testing.T) JobSpec {
	t.Helper()
	return JobSpec{
		InputPath:       "/media/movie.mkv",
		OutputDir:       t.TempDir(),
		SegmentDuration: 4,
		SourceWidth:     1920,
		SourceHeight:    1080,
		TargetWidth:     1280,
		TargetHeight:    720,
		VideoBitrate:    3_000_000,
		AudioBitrate:    128_000,
		AudioChannels:   2,
	}
}

func TestBuildDashCommand(t *testing.T) {
	builder := testBuilder(t)
	spec := &DashJobSpec{JobSpec: baseSpec(t)}

	args, err := builder.BuildDash(context.Background(), spec)
	require.NoError(t, err)

	assert.True(t, argsContainPair(args, "-i", "/media/movie.mkv"))
	assert.True(t, argsContainPair(args, "-f", "dash"))
	assert.True(t, argsContainPair(args, "-seg_duration", "4"))
	assert.True(t, argsContainPair(args, "-init_seg_name", "init-stream$RepresentationID$.m4s"))
	assert.True(t, argsContainPair(args, "-media_seg_name", "chunk-stream$RepresentationID$-$Number%05d$.m4s"))
	assert.True(t, argsContainPair(args, "-adaptation_sets", "id=0,streams=v id=1,streams=a"))
	assert.True(t, argsContainPair(args, "-c:v", "libx264"))
	assert.True(t, argsContainPair(args, "-b:v", "3000000"))
	assert.True(t, argsContainPair(args, "-c:a", "aac"))
	assert.True(t, argsContainPair(args, "-ac", "2"))
	assert.Equal(t, filepath.Join(spec.OutputDir, "manifest.mpd"), args[len(args)-1])

	// not a seek, so no seeking or renumbering flags
	assert.NotContains(t, args, "-ss")
	assert.NotContains(t, args, "-start_number")

	// adaptation set subdirectories are created up front
	assert.DirExists(t, filepath.Join(spec.OutputDir, "0"))
	assert.DirExists(t, filepath.Join(spec.OutputDir, "1"))
}

func TestBuildDashSeekCommand(t *testing.T) {
	builder := testBuilder(t)
	spec := &DashJobSpec{JobSpec: baseSpec(t)}
	spec.StartMs = 12000
	spec.StartNumber = 3
	spec.ForcedKeyframes = "0.000,4.000"

	args, err := builder.BuildDash(context.Background(), spec)
	require.NoError(t, err)

	assert.True(t, argsContainPair(args, "-ss", "12.000"))
	assert.True(t, argsContainPair(args, "-start_number", "3"))
	assert.True(t, argsContainPair(args, "-force_key_frames", "0.000,4.000"))

	// -ss must precede -i for input seeking
	var ssIdx, inIdx int
	for i, a := range args {
		switch a {
		case "-ss":
			ssIdx = i
		case "-i":
			inIdx = i
		}
	}
	assert.Less(t, ssIdx, inIdx)
}

func TestBuildDashDefaultsKeyframesToSegmentBoundaries(t *testing.T) {
	builder := testBuilder(t)
	spec := &DashJobSpec{JobSpec: baseSpec(t)}

	args, err := builder.BuildDash(context.Background(), spec)
	require.NoError(t, err)
	assert.True(t, argsContainPair(args, "-force_key_frames", "expr:gte(t,n_forced*4)"))
}

func TestBuildDashCopyStreams(t *testing.T) {
	builder := testBuilder(t)
	spec := &DashJobSpec{JobSpec: baseSpec(t)}
	spec.CopyVideo = true
	spec.CopyAudio = true

	args, err := builder.BuildDash(context.Background(), spec)
	require.NoError(t, err)

	assert.True(t, argsContainPair(args, "-c:v", "copy"))
	assert.True(t, argsContainPair(args, "-c:a", "copy"))
	assert.NotContains(t, args, "-vf")
	assert.NotContains(t, args, "-b:v")
	assert.NotContains(t, args, "-force_key_frames")
}

func TestBuildDashScalesWhenGeometryDiffers(t *testing.T) {
	builder := testBuilder(t)
	spec := &DashJobSpec{JobSpec: baseSpec(t)}

	args, err := builder.BuildDash(context.Background(), spec)
	require.NoError(t, err)
	assert.True(t, argsContainPair(args, "-vf", "scale=1280:720"))
}

func TestBuildHlsVariantCommand(t *testing.T) {
	builder := testBuilder(t)
	spec := &HlsJobSpec{JobSpec: baseSpec(t), VariantID: "720p"}

	args, err := builder.BuildHlsVariant(context.Background(), spec)
	require.NoError(t, err)

	variantDir := filepath.Join(spec.OutputDir, "720p")
	assert.DirExists(t, variantDir)
	assert.True(t, argsContainPair(args, "-f", "hls"))
	assert.True(t, argsContainPair(args, "-hls_time", "4"))
	assert.True(t, argsContainPair(args, "-hls_segment_type", "fmp4"))
	assert.True(t, argsContainPair(args, "-hls_fmp4_init_filename", "init.mp4"))
	assert.True(t, argsContainPair(args, "-hls_segment_filename", filepath.Join(variantDir, "chunk-%05d.m4s")))
	assert.Equal(t, filepath.Join(variantDir, "playlist.m3u8"), args[len(args)-1])
}

func TestBuildCommandRejectsEmptyInput(t *testing.T) {
	builder := testBuilder(t)
	spec := &DashJobSpec{JobSpec: JobSpec{OutputDir: t.TempDir()}}

	_, err := builder.BuildDash(context.Background(), spec)
	assert.ErrorIs(t, err, ErrProcessingFailed)
}

func TestAudioStreamSelection(t *testing.T) {
	builder := testBuilder(t)
	spec := &DashJobSpec{JobSpec: baseSpec(t)}
	spec.AudioStreamIndex = 2

	args, err := builder.BuildDash(context.Background(), spec)
	require.NoError(t, err)
	assert.True(t, argsContainPair(args, "-map", "0:a:2"))
	assert.True(t, argsContainPair(args, "-map", "0:v:0"))
}
