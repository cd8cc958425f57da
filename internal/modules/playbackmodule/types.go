package playbackmodule

import (
	"strconv"
	"strings"
)

// MediaProperties is an immutable snapshot of one media file's streams,
// produced by the analysis component and stored on the media part.
type MediaProperties struct {
	Container       string  `json:"container"`
	VideoCodec      string  `json:"video_codec"`
	Width           int     `json:"width"`
	Height          int     `json:"height"`
	BitDepth        int     `json:"bit_depth"`
	FrameRate       float64 `json:"frame_rate"`
	DynamicRange    string  `json:"dynamic_range"` // "SDR", "HDR10", "HLG", "DV"
	Interlaced      bool    `json:"interlaced"`
	Rotation        int     `json:"rotation"`
	AudioCodec      string  `json:"audio_codec"`
	AudioChannels   int     `json:"audio_channels"`
	AudioSampleRate int     `json:"audio_sample_rate"`
	Bitrate         int64   `json:"bitrate"`
}

// IsHDR reports whether the video carries a high-dynamic-range transfer
func (m *MediaProperties) IsHDR() bool {
	switch strings.ToUpper(m.DynamicRange) {
	case "HDR", "HDR10", "HDR10+", "HLG", "DV", "DOLBY VISION":
		return true
	}
	return false
}

// PropertyValue looks up a named property for condition evaluation.
// The empty string means the property value is unknown.
func (m *MediaProperties) PropertyValue(name string) string {
	switch name {
	case PropContainer:
		return m.Container
	case PropVideoCodec:
		return m.VideoCodec
	case PropAudioCodec:
		return m.AudioCodec
	case PropWidth:
		return intValue(m.Width)
	case PropHeight:
		return intValue(m.Height)
	case PropBitDepth:
		return intValue(m.BitDepth)
	case PropFrameRate:
		if m.FrameRate == 0 {
			return ""
		}
		return strconv.FormatFloat(m.FrameRate, 'f', -1, 64)
	case PropDynamicRange:
		return m.DynamicRange
	case PropInterlaced:
		return strconv.FormatBool(m.Interlaced)
	case PropAudioChannels:
		return intValue(m.AudioChannels)
	case PropAudioSampleRate:
		return intValue(m.AudioSampleRate)
	case PropBitrate:
		if m.Bitrate == 0 {
			return ""
		}
		return strconv.FormatInt(m.Bitrate, 10)
	}
	return ""
}

func intValue(v int) string {
	if v == 0 {
		return ""
	}
	return strconv.Itoa(v)
}

// Property names usable in profile conditions
const (
	PropContainer       = "Container"
	PropVideoCodec      = "VideoCodec"
	PropAudioCodec      = "AudioCodec"
	PropWidth           = "Width"
	PropHeight          = "Height"
	PropBitDepth        = "BitDepth"
	PropFrameRate       = "FrameRate"
	PropDynamicRange    = "DynamicRange"
	PropInterlaced      = "Interlaced"
	PropAudioChannels   = "AudioChannels"
	PropAudioSampleRate = "AudioSampleRate"
	PropBitrate         = "Bitrate"
)

// ConditionOp is a comparison operator in a profile condition
type ConditionOp string

const (
	OpEqual            ConditionOp = "Equal"
	OpNotEqual         ConditionOp = "NotEqual"
	OpLessThanEqual    ConditionOp = "LessThanEqual"
	OpGreaterThanEqual ConditionOp = "GreaterThanEqual"
	OpEqualsAny        ConditionOp = "EqualsAny"
	OpMatches          ConditionOp = "Matches"
)

// ProfileCondition constrains one media property. The two Required flags
// select whether the condition participates when checking direct play
// versus when checking transcoding suitability.
type ProfileCondition struct {
	Property              string      `json:"property"`
	Condition             ConditionOp `json:"condition"`
	Value                 string      `json:"value"`
	RequiredForDirectPlay bool        `json:"required_for_direct_play"`
	RequiredForTranscode  bool        `json:"required_for_transcode"`
}

// DirectPlayProfile declares container+codec combinations the client plays untouched
type DirectPlayProfile struct {
	Type        string `json:"type"` // media-type scope, e.g. "video"
	Container   string `json:"container"`
	VideoCodecs string `json:"video_codecs"` // comma list, empty = any
	AudioCodecs string `json:"audio_codecs"`
}

// TranscodingProfile declares a target the client accepts when transcoding
type TranscodingProfile struct {
	Type       string             `json:"type"`
	Container  string             `json:"container"`
	Protocol   string             `json:"protocol"` // "dash" or "hls"
	VideoCodec string             `json:"video_codec"`
	AudioCodec string             `json:"audio_codec"`
	Conditions []ProfileCondition `json:"conditions,omitempty"`
}

// CodecProfile constrains a codec the client claims to support
type CodecProfile struct {
	Type       string             `json:"type"`   // "video" or "audio"
	Codecs     string             `json:"codecs"` // comma list, empty = any
	Containers string             `json:"containers"`
	Conditions []ProfileCondition `json:"conditions"`
}

// ContainerProfile constrains a container the client claims to support
type ContainerProfile struct {
	Type       string             `json:"type"`
	Containers string             `json:"containers"`
	Conditions []ProfileCondition `json:"conditions"`
}

// PlaybackCapabilities is the per-client/device playback profile
type PlaybackCapabilities struct {
	Name                string               `json:"name"`
	MaxStreamingBitrate int64                `json:"max_streaming_bitrate"`
	DirectPlayProfiles  []DirectPlayProfile  `json:"direct_play_profiles"`
	TranscodingProfiles []TranscodingProfile `json:"transcoding_profiles"`
	CodecProfiles       []CodecProfile       `json:"codec_profiles"`
	ContainerProfiles   []ContainerProfile   `json:"container_profiles"`
}

// TranscodeReason is a bitset of machine-readable incompatibility causes
type TranscodeReason uint32

const (
	ReasonContainerNotSupported TranscodeReason = 1 << iota
	ReasonVideoCodecNotSupported
	ReasonAudioCodecNotSupported
	ReasonVideoResolutionNotSupported
	ReasonVideoBitDepthNotSupported
	ReasonVideoFramerateNotSupported
	ReasonVideoRangeNotSupported
	ReasonInterlacedVideoNotSupported
	ReasonAudioChannelsNotSupported
	ReasonAudioSampleRateNotSupported
	ReasonBitrateNotSupported
	ReasonUnknownProperty
)

var reasonNames = map[TranscodeReason]string{
	ReasonContainerNotSupported:       "ContainerNotSupported",
	ReasonVideoCodecNotSupported:      "VideoCodecNotSupported",
	ReasonAudioCodecNotSupported:      "AudioCodecNotSupported",
	ReasonVideoResolutionNotSupported: "VideoResolutionNotSupported",
	ReasonVideoBitDepthNotSupported:   "VideoBitDepthNotSupported",
	ReasonVideoFramerateNotSupported:  "VideoFramerateNotSupported",
	ReasonVideoRangeNotSupported:      "VideoRangeNotSupported",
	ReasonInterlacedVideoNotSupported: "InterlacedVideoNotSupported",
	ReasonAudioChannelsNotSupported:   "AudioChannelsNotSupported",
	ReasonAudioSampleRateNotSupported: "AudioSampleRateNotSupported",
	ReasonBitrateNotSupported:         "BitrateNotSupported",
	ReasonUnknownProperty:             "UnknownProperty",
}

// Has reports whether the flag is set
func (r TranscodeReason) Has(flag TranscodeReason) bool {
	return r&flag != 0
}

// String renders the set flags as a comma list
func (r TranscodeReason) String() string {
	if r == 0 {
		return "None"
	}
	var parts []string
	for flag := TranscodeReason(1); flag <= ReasonUnknownProperty; flag <<= 1 {
		if r.Has(flag) {
			parts = append(parts, reasonNames[flag])
		}
	}
	return strings.Join(parts, ",")
}

// reasonForProperty maps a failed condition's property to its reason flag
func reasonForProperty(property string) TranscodeReason {
	switch property {
	case PropContainer:
		return ReasonContainerNotSupported
	case PropVideoCodec:
		return ReasonVideoCodecNotSupported
	case PropAudioCodec:
		return ReasonAudioCodecNotSupported
	case PropWidth, PropHeight:
		return ReasonVideoResolutionNotSupported
	case PropBitDepth:
		return ReasonVideoBitDepthNotSupported
	case PropFrameRate:
		return ReasonVideoFramerateNotSupported
	case PropDynamicRange:
		return ReasonVideoRangeNotSupported
	case PropInterlaced:
		return ReasonInterlacedVideoNotSupported
	case PropAudioChannels:
		return ReasonAudioChannelsNotSupported
	case PropAudioSampleRate:
		return ReasonAudioSampleRateNotSupported
	case PropBitrate:
		return ReasonBitrateNotSupported
	}
	return ReasonUnknownProperty
}
