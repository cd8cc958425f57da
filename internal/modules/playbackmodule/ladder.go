package playbackmodule

import "fmt"

// AbrVariant is one rung of the adaptive-bitrate ladder
type AbrVariant struct {
	ID            string `json:"id"`
	Label         string `json:"label"`
	Width         int    `json:"width"`
	Height        int    `json:"height"`
	VideoBitrate  int64  `json:"video_bitrate"`
	AudioBitrate  int64  `json:"audio_bitrate"`
	AudioChannels int    `json:"audio_channels"`

	// IsSource marks the rung that copies the source stream instead of re-encoding
	IsSource bool `json:"is_source"`
}

// AbrLadder is the ordered set of quality variants offered for one part
type AbrLadder struct {
	SourceWidth   int          `json:"source_width"`
	SourceHeight  int          `json:"source_height"`
	SourceBitrate int64        `json:"source_bitrate"`
	MaxBitrate    int64        `json:"max_bitrate"`
	Variants      []AbrVariant `json:"variants"`
}

type ladderPreset struct {
	height       int
	videoBitrate int64
	audioBitrate int64
	channels     int
}

// Canonical quality presets, height-descending
var ladderPresets = []ladderPreset{
	{height: 2160, videoBitrate: 16_000_000, audioBitrate: 192_000, channels: 2},
	{height: 1440, videoBitrate: 10_000_000, audioBitrate: 192_000, channels: 2},
	{height: 1080, videoBitrate: 6_000_000, audioBitrate: 160_000, channels: 2},
	{height: 720, videoBitrate: 3_000_000, audioBitrate: 128_000, channels: 2},
	{height: 480, videoBitrate: 1_500_000, audioBitrate: 128_000, channels: 2},
	{height: 360, videoBitrate: 800_000, audioBitrate: 96_000, channels: 2},
	{height: 240, videoBitrate: 400_000, audioBitrate: 64_000, channels: 2},
}

const (
	minFallbackVideoBitrate int64 = 500_000
	fallbackAudioBitrate    int64 = 64_000

	// A source rung is only worth adding when the source clearly out-resolves
	// the best preset; within 10% it would be a near-duplicate.
	sourceHeightMargin = 1.10
)

// LadderOptions tunes ladder generation
type LadderOptions struct {
	// IncludeSource prepends a stream-copy rung when the source out-resolves the presets
	IncludeSource bool
}

// BuildLadder produces the ABR ladder for a source geometry/bitrate under a
// bitrate ceiling. The returned ladder always has at least one variant.
func BuildLadder(sourceWidth, sourceHeight int, sourceBitrate, maxBitrate int64, opts LadderOptions) *AbrLadder {
	ladder := &AbrLadder{
		SourceWidth:   sourceWidth,
		SourceHeight:  sourceHeight,
		SourceBitrate: sourceBitrate,
		MaxBitrate:    maxBitrate,
	}

	kept := keptPresets(sourceHeight)

	if opts.IncludeSource && len(kept) > 0 {
		top := kept[0]
		if float64(sourceHeight) > float64(top.height)*sourceHeightMargin {
			bitrate := sourceBitrate
			if bitrate <= 0 {
				bitrate = estimateBitrateForHeight(sourceHeight)
			}
			if maxBitrate > 0 && bitrate > maxBitrate {
				bitrate = maxBitrate
			}
			ladder.Variants = append(ladder.Variants, AbrVariant{
				ID:            "source",
				Label:         fmt.Sprintf("%dp (source)", sourceHeight),
				Width:         evenDimension(sourceWidth),
				Height:        sourceHeight,
				VideoBitrate:  bitrate,
				AudioBitrate:  0,
				AudioChannels: 0,
				IsSource:      true,
			})
		}
	}

	for _, preset := range kept {
		videoBitrate := preset.videoBitrate
		if maxBitrate > 0 {
			budget := maxBitrate - preset.audioBitrate
			if budget <= 0 {
				continue
			}
			if videoBitrate > budget {
				videoBitrate = budget
			}
		}

		ladder.Variants = append(ladder.Variants, AbrVariant{
			ID:            fmt.Sprintf("%dp", preset.height),
			Label:         fmt.Sprintf("%dp", preset.height),
			Width:         scaledWidth(sourceWidth, sourceHeight, preset.height),
			Height:        preset.height,
			VideoBitrate:  videoBitrate,
			AudioBitrate:  preset.audioBitrate,
			AudioChannels: preset.channels,
		})
	}

	// Callers must never see an empty ladder
	if len(ladder.Variants) == 0 {
		smallest := ladderPresets[len(ladderPresets)-1]
		ladder.Variants = append(ladder.Variants, AbrVariant{
			ID:            fmt.Sprintf("%dp", smallest.height),
			Label:         fmt.Sprintf("%dp", smallest.height),
			Width:         scaledWidth(sourceWidth, sourceHeight, smallest.height),
			Height:        smallest.height,
			VideoBitrate:  minFallbackVideoBitrate,
			AudioBitrate:  fallbackAudioBitrate,
			AudioChannels: 2,
		})
	}

	return ladder
}

func keptPresets(sourceHeight int) []ladderPreset {
	var kept []ladderPreset
	for _, p := range ladderPresets {
		if p.height <= sourceHeight {
			kept = append(kept, p)
		}
	}
	if len(kept) == 0 {
		kept = append(kept, ladderPresets[len(ladderPresets)-1])
	}
	return kept
}

// scaledWidth derives a variant width preserving source aspect ratio,
// rounded to even (many encoders refuse odd dimensions)
func scaledWidth(sourceWidth, sourceHeight, targetHeight int) int {
	if sourceWidth <= 0 || sourceHeight <= 0 {
		return evenDimension(targetHeight * 16 / 9)
	}
	aspect := float64(sourceWidth) / float64(sourceHeight)
	return evenDimension(int(float64(targetHeight) * aspect))
}

func evenDimension(v int) int {
	if v%2 != 0 {
		v++
	}
	return v
}

func estimateBitrateForHeight(height int) int64 {
	switch {
	case height >= 2160:
		return 16_000_000
	case height >= 1440:
		return 10_000_000
	case height >= 1080:
		return 6_000_000
	case height >= 720:
		return 3_000_000
	case height >= 480:
		return 1_500_000
	default:
		return 800_000
	}
}
