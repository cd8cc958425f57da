package playbackmodule

import (
	"strings"

	"github.com/embermedia/ember/internal/database"
	"github.com/hashicorp/go-hclog"
)

// PlaybackDecision is the negotiated answer for one part and one device
type PlaybackDecision struct {
	ShouldTranscode bool     `json:"should_transcode"`
	Protocol        string   `json:"protocol,omitempty"`
	Reasons         []string `json:"reasons,omitempty"`

	DirectPlayPath string                 `json:"direct_play_path,omitempty"`
	Ladder         *AbrLadder             `json:"ladder,omitempty"`
	Options        database.EncodeOptions `json:"options,omitempty"`
}

// PlaybackDecider negotiates direct play versus transcode for a device's
// declared capabilities
type PlaybackDecider struct {
	logger    hclog.Logger
	resolver  *MediaPartResolver
	evaluator *CapabilityEvaluator

	enableHardware bool
	enableToneMap  bool
}

// NewPlaybackDecider creates a decider
func NewPlaybackDecider(resolver *MediaPartResolver, evaluator *CapabilityEvaluator, enableHardware, enableToneMap bool, logger hclog.Logger) *PlaybackDecider {
	return &PlaybackDecider{
		logger:         logger.Named("decider"),
		resolver:       resolver,
		evaluator:      evaluator,
		enableHardware: enableHardware,
		enableToneMap:  enableToneMap,
	}
}

// Decide evaluates the part against the device capabilities. Direct play
// wins whenever the evaluator finds no objection; otherwise the decision
// carries the transcode protocol, the failure reasons, the ABR ladder
// under the device's bitrate ceiling, and the resolved encode options.
func (d *PlaybackDecider) Decide(mediaPartID, mediaType string, caps *PlaybackCapabilities) (*PlaybackDecision, error) {
	resolved, err := d.resolver.Resolve(mediaPartID)
	if err != nil {
		return nil, err
	}
	props := resolved.Properties()

	report := d.evaluator.CanDirectPlay(props, caps, mediaType)
	if report.OK() {
		d.logger.Debug("direct play approved", "part_id", mediaPartID, "device", caps.Name)
		return &PlaybackDecision{
			ShouldTranscode: false,
			DirectPlayPath:  resolved.Part.Path,
		}, nil
	}

	part := resolved.Part
	includeSource := CanCopyVideo(props, caps, d.evaluator, mediaType, true) &&
		CanCopyAudio(props, caps, d.evaluator, mediaType, true)
	ladder := BuildLadder(part.Width, part.Height, part.Bitrate, caps.MaxStreamingBitrate,
		LadderOptions{IncludeSource: includeSource})

	opts := database.EncodeOptions{
		MaxBitrate:       caps.MaxStreamingBitrate,
		Width:            ladder.Variants[0].Width,
		Height:           ladder.Variants[0].Height,
		VideoBitrate:     ladder.Variants[0].VideoBitrate,
		AudioBitrate:     ladder.Variants[0].AudioBitrate,
		AudioChannels:    ladder.Variants[0].AudioChannels,
		HardwareAccel:    d.enableHardware,
		ToneMapping:      d.enableToneMap && props.IsHDR(),
		TargetVideoCodec: "h264",
		TargetAudioCodec: "aac",
	}
	protocol := "dash"
	if profile := d.evaluator.SelectTranscodingProfile(props, caps, mediaType); profile != nil {
		if profile.VideoCodec != "" {
			opts.TargetVideoCodec = firstListed(profile.VideoCodec)
		}
		if profile.AudioCodec != "" {
			opts.TargetAudioCodec = firstListed(profile.AudioCodec)
		}
		if trimSpaceLower(profile.Protocol) == "hls" {
			protocol = "hls"
		}
	}

	d.logger.Info("transcode required",
		"part_id", mediaPartID, "device", caps.Name, "reasons", report.Descriptions)
	return &PlaybackDecision{
		ShouldTranscode: true,
		Protocol:        protocol,
		Reasons:         report.Descriptions,
		Ladder:          ladder,
		Options:         opts,
	}, nil
}

// firstListed returns the first entry of a comma-separated codec list
func firstListed(list string) string {
	for i := 0; i < len(list); i++ {
		if list[i] == ',' {
			return trimSpaceLower(list[:i])
		}
	}
	return trimSpaceLower(list)
}

func trimSpaceLower(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}
