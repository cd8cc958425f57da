package playbackmodule

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuildLadder1080pUnderCeiling(t *testing.T) {
	ladder := BuildLadder(1920, 1080, 8_000_000, 6_000_000, LadderOptions{IncludeSource: true})

	// 1080 is within 10% of the best preset, so no source rung
	for _, v := range ladder.Variants {
		assert.False(t, v.IsSource)
	}

	require.NotEmpty(t, ladder.Variants)
	top := ladder.Variants[0]
	assert.Equal(t, 1080, top.Height)
	assert.Equal(t, int64(6_000_000-160_000), top.VideoBitrate)

	// every rung respects the ceiling including its audio
	for _, v := range ladder.Variants {
		assert.LessOrEqual(t, v.VideoBitrate+v.AudioBitrate, int64(6_000_000))
	}
}

func TestBuildLadderKeepsPresetsAtOrBelowSource(t *testing.T) {
	ladder := BuildLadder(1280, 720, 4_000_000, 0, LadderOptions{})

	heights := make([]int, 0, len(ladder.Variants))
	for _, v := range ladder.Variants {
		heights = append(heights, v.Height)
	}
	assert.Equal(t, []int{720, 480, 360, 240}, heights)
}

func TestBuildLadderSourceRung(t *testing.T) {
	t.Run("source clearly above best preset gets a rung", func(t *testing.T) {
		ladder := BuildLadder(5120, 2880, 40_000_000, 0, LadderOptions{IncludeSource: true})
		require.NotEmpty(t, ladder.Variants)
		assert.True(t, ladder.Variants[0].IsSource)
		assert.Equal(t, 2880, ladder.Variants[0].Height)
		assert.Equal(t, int64(40_000_000), ladder.Variants[0].VideoBitrate)
	})

	t.Run("source rung bitrate capped by ceiling", func(t *testing.T) {
		ladder := BuildLadder(5120, 2880, 40_000_000, 25_000_000, LadderOptions{IncludeSource: true})
		assert.Equal(t, int64(25_000_000), ladder.Variants[0].VideoBitrate)
	})

	t.Run("unknown source bitrate is estimated", func(t *testing.T) {
		ladder := BuildLadder(5120, 2880, 0, 0, LadderOptions{IncludeSource: true})
		assert.True(t, ladder.Variants[0].IsSource)
		assert.Equal(t, int64(16_000_000), ladder.Variants[0].VideoBitrate)
	})

	t.Run("no source rung without IncludeSource", func(t *testing.T) {
		ladder := BuildLadder(5120, 2880, 40_000_000, 0, LadderOptions{})
		for _, v := range ladder.Variants {
			assert.False(t, v.IsSource)
		}
	})
}

func TestBuildLadderNeverEmpty(t *testing.T) {
	t.Run("ceiling below every preset budget", func(t *testing.T) {
		ladder := BuildLadder(1920, 1080, 8_000_000, 50_000, LadderOptions{})
		require.Len(t, ladder.Variants, 1)
		assert.Equal(t, 240, ladder.Variants[0].Height)
		assert.Equal(t, minFallbackVideoBitrate, ladder.Variants[0].VideoBitrate)
	})

	t.Run("tiny source still gets the smallest preset", func(t *testing.T) {
		ladder := BuildLadder(320, 180, 300_000, 0, LadderOptions{})
		require.NotEmpty(t, ladder.Variants)
		assert.Equal(t, 240, ladder.Variants[0].Height)
	})
}

func TestBuildLadderGeometry(t *testing.T) {
	// 2.39:1 scope aspect must be preserved with even dimensions
	ladder := BuildLadder(3840, 1608, 20_000_000, 0, LadderOptions{})
	for _, v := range ladder.Variants {
		assert.Zero(t, v.Width%2, "width %d for %s must be even", v.Width, v.ID)
		ratio := float64(v.Width) / float64(v.Height)
		assert.InDelta(t, 3840.0/1608.0, ratio, 0.02, "aspect drift on %s", v.ID)
	}
}

func TestScaledWidth(t *testing.T) {
	assert.Equal(t, 1280, scaledWidth(1920, 1080, 720))
	assert.Equal(t, 854, scaledWidth(1921, 1080, 480)) // rounded up to even
	assert.Equal(t, 1280, scaledWidth(0, 0, 720))      // unknown source assumes 16:9
}
