package playbackmodule

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuildFilterChainSoftware(t *testing.T) {
	sw := softwareConfig("h264")

	t.Run("scale only", func(t *testing.T) {
		chain := BuildFilterChain(FilterSpec{
			SourceWidth: 1920, SourceHeight: 1080,
			TargetWidth: 1280, TargetHeight: 720,
		}, sw)
		assert.Equal(t, "scale=1280:720", chain.String())
	})

	t.Run("no filters when geometry matches", func(t *testing.T) {
		chain := BuildFilterChain(FilterSpec{
			SourceWidth: 1920, SourceHeight: 1080,
			TargetWidth: 1920, TargetHeight: 1080,
		}, sw)
		assert.True(t, chain.Empty())
	})

	t.Run("odd target dimensions are rounded even", func(t *testing.T) {
		chain := BuildFilterChain(FilterSpec{
			SourceWidth: 1920, SourceHeight: 1080,
			TargetWidth: 853, TargetHeight: 479,
		}, sw)
		assert.Equal(t, "scale=854:480", chain.String())
	})

	t.Run("deinterlace precedes scale", func(t *testing.T) {
		chain := BuildFilterChain(FilterSpec{
			SourceWidth: 1920, SourceHeight: 1080,
			TargetWidth: 1280, TargetHeight: 720,
			Interlaced: true,
		}, sw)
		assert.Equal(t, "yadif=0:-1:0,scale=1280:720", chain.String())
	})

	t.Run("tone mapping only applies to hdr sources", func(t *testing.T) {
		hdr := BuildFilterChain(FilterSpec{HDR: true, ToneMap: true}, sw)
		assert.Contains(t, hdr.String(), "tonemap=hable")

		sdr := BuildFilterChain(FilterSpec{HDR: false, ToneMap: true}, sw)
		assert.NotContains(t, sdr.String(), "tonemap")
	})

	t.Run("rotation", func(t *testing.T) {
		assert.Equal(t, "transpose=1", BuildFilterChain(FilterSpec{Rotation: 90}, sw).String())
		assert.Equal(t, "transpose=1,transpose=1", BuildFilterChain(FilterSpec{Rotation: 180}, sw).String())
		assert.Equal(t, "transpose=2", BuildFilterChain(FilterSpec{Rotation: 270}, sw).String())
		assert.Equal(t, "transpose=2", BuildFilterChain(FilterSpec{Rotation: -90}, sw).String())
		assert.True(t, BuildFilterChain(FilterSpec{Rotation: 360}, sw).Empty())
	})
}

func TestBuildFilterChainHardwareBridging(t *testing.T) {
	cuda := accelConfig(AccelCUDA, "h264")

	t.Run("pure scale stays on the device", func(t *testing.T) {
		chain := BuildFilterChain(FilterSpec{
			SourceWidth: 1920, SourceHeight: 1080,
			TargetWidth: 1280, TargetHeight: 720,
		}, cuda)
		assert.Equal(t, "scale_cuda=1280:720:format=nv12", chain.String())
		assert.NoError(t, ValidateFilterChain(chain, cuda))
	})

	t.Run("software filters are bridged with download and upload", func(t *testing.T) {
		chain := BuildFilterChain(FilterSpec{
			SourceWidth: 1920, SourceHeight: 1080,
			TargetWidth: 1280, TargetHeight: 720,
			Interlaced: true,
		}, cuda)
		filters := chain.String()
		assert.True(t, strings.HasPrefix(filters, "hwdownload"))
		assert.Contains(t, filters, "yadif")
		assert.Contains(t, filters, "hwupload_cuda")
		assert.True(t, strings.HasSuffix(filters, "scale_cuda=1280:720:format=nv12"))
		assert.NoError(t, ValidateFilterChain(chain, cuda))
	})
}

func TestValidateFilterChainRecoverableFailure(t *testing.T) {
	// videotoolbox has no bridge filters, so software filters cannot run
	// on its hardware path
	vt := accelConfig(AccelVideoToolbox, "h264")
	chain := BuildFilterChain(FilterSpec{Interlaced: true}, vt)

	err := ValidateFilterChain(chain, vt)
	require.Error(t, err)
	var chainErr *ChainError
	require.ErrorAs(t, err, &chainErr)
	assert.True(t, chainErr.Recoverable)
}

func TestResolveFilterChainFallsBackToSoftware(t *testing.T) {
	vt := accelConfig(AccelVideoToolbox, "h264")

	chain, accel := ResolveFilterChain(FilterSpec{
		SourceWidth: 1920, SourceHeight: 1080,
		TargetWidth: 1280, TargetHeight: 720,
		Interlaced: true,
	}, vt, nullLogger())

	assert.Equal(t, AccelNone, accel.Accelerator, "recoverable failure forces software decode and encode")
	assert.Equal(t, "libx264", accel.VideoEncoder)
	assert.NoError(t, ValidateFilterChain(chain, accel))
	assert.Equal(t, "yadif=0:-1:0,scale=1280:720", chain.String())
}

func TestResolveFilterChainKeepsValidHardwareChain(t *testing.T) {
	cuda := accelConfig(AccelCUDA, "h264")

	chain, accel := ResolveFilterChain(FilterSpec{
		SourceWidth: 1920, SourceHeight: 1080,
		TargetWidth: 1280, TargetHeight: 720,
	}, cuda, nullLogger())

	assert.Equal(t, AccelCUDA, accel.Accelerator)
	assert.Equal(t, "scale_cuda=1280:720:format=nv12", chain.String())
}

func TestSoftwareFallbackPreservesCodec(t *testing.T) {
	assert.Equal(t, "libx265", softwareFallbackFor(accelConfig(AccelCUDA, "hevc")).VideoEncoder)
	assert.Equal(t, "libx264", softwareFallbackFor(accelConfig(AccelQSV, "h264")).VideoEncoder)
}

func TestAccelConfigEncoders(t *testing.T) {
	assert.Equal(t, "h264_nvenc", accelConfig(AccelCUDA, "h264").VideoEncoder)
	assert.Equal(t, "hevc_qsv", accelConfig(AccelQSV, "hevc").VideoEncoder)
	assert.Equal(t, "h264_vaapi", accelConfig(AccelVAAPI, "h264").VideoEncoder)
	assert.Equal(t, "libx264", accelConfig(AccelNone, "h264").VideoEncoder)

	// unknown codecs fall back to h264
	assert.Equal(t, "h264_nvenc", accelConfig(AccelCUDA, "vp9").VideoEncoder)
}
