package playbackmodule

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/hashicorp/go-hclog"
)

// EvalMode selects which "required" flag on a condition participates
type EvalMode int

const (
	EvalDirectPlay EvalMode = iota
	EvalTranscode
)

const matchesTimeout = time.Second

// CompatReport accumulates the outcome of a capability evaluation.
// An empty reason set means the media is compatible.
type CompatReport struct {
	Reasons      TranscodeReason `json:"reasons"`
	Descriptions []string        `json:"descriptions,omitempty"`
}

// OK reports whether no incompatibility was found
func (r *CompatReport) OK() bool {
	return r.Reasons == 0
}

func (r *CompatReport) add(reason TranscodeReason, format string, args ...interface{}) {
	r.Reasons |= reason
	r.Descriptions = append(r.Descriptions, fmt.Sprintf(format, args...))
}

// CapabilityEvaluator decides direct play vs. transcode for a client profile
type CapabilityEvaluator struct {
	logger hclog.Logger
}

// NewCapabilityEvaluator creates a new evaluator
func NewCapabilityEvaluator(logger hclog.Logger) *CapabilityEvaluator {
	return &CapabilityEvaluator{logger: logger.Named("capability-evaluator")}
}

// CanDirectPlay reports whether the client can play the file untouched:
// the media must match a direct-play profile and satisfy every codec and
// container condition required for direct play.
func (e *CapabilityEvaluator) CanDirectPlay(media *MediaProperties, caps *PlaybackCapabilities, mediaType string) *CompatReport {
	report := &CompatReport{}

	if !e.SupportsContainer(caps, mediaType, media.Container) {
		report.add(ReasonContainerNotSupported, "container %q not in any direct-play profile", media.Container)
	}
	if media.VideoCodec != "" && !e.SupportsVideoCodec(caps, mediaType, media.Container, media.VideoCodec) {
		report.add(ReasonVideoCodecNotSupported, "video codec %q not in any direct-play profile", media.VideoCodec)
	}
	if media.AudioCodec != "" && !e.SupportsAudioCodec(caps, mediaType, media.Container, media.AudioCodec) {
		report.add(ReasonAudioCodecNotSupported, "audio codec %q not in any direct-play profile", media.AudioCodec)
	}
	if caps.MaxStreamingBitrate > 0 && media.Bitrate > caps.MaxStreamingBitrate {
		report.add(ReasonBitrateNotSupported, "bitrate %d exceeds client maximum %d", media.Bitrate, caps.MaxStreamingBitrate)
	}

	e.evaluateProfileConditions(media, caps, mediaType, EvalDirectPlay, report)

	if !report.OK() {
		e.logger.Debug("direct play rejected", "reasons", report.Reasons.String())
	}
	return report
}

// EvaluateTranscodeConditions checks codec/container conditions that must
// hold even for transcoded delivery (e.g. a hard resolution ceiling)
func (e *CapabilityEvaluator) EvaluateTranscodeConditions(media *MediaProperties, caps *PlaybackCapabilities, mediaType string) *CompatReport {
	report := &CompatReport{}
	e.evaluateProfileConditions(media, caps, mediaType, EvalTranscode, report)
	return report
}

func (e *CapabilityEvaluator) evaluateProfileConditions(media *MediaProperties, caps *PlaybackCapabilities, mediaType string, mode EvalMode, report *CompatReport) {
	for _, cp := range caps.CodecProfiles {
		if !e.codecProfileApplies(&cp, media) {
			continue
		}
		e.evaluateConditions(cp.Conditions, media, mode, report)
	}
	for _, cp := range caps.ContainerProfiles {
		if !strings.EqualFold(cp.Type, mediaType) && cp.Type != "" {
			continue
		}
		if cp.Containers != "" && !listContains(cp.Containers, media.Container) {
			continue
		}
		e.evaluateConditions(cp.Conditions, media, mode, report)
	}
}

func (e *CapabilityEvaluator) codecProfileApplies(cp *CodecProfile, media *MediaProperties) bool {
	var codec string
	switch strings.ToLower(cp.Type) {
	case "video":
		codec = media.VideoCodec
	case "audio":
		codec = media.AudioCodec
	default:
		return false
	}
	if codec == "" {
		return false
	}
	if cp.Codecs != "" && !listContains(cp.Codecs, codec) {
		return false
	}
	if cp.Containers != "" && !listContains(cp.Containers, media.Container) {
		return false
	}
	return true
}

func (e *CapabilityEvaluator) evaluateConditions(conditions []ProfileCondition, media *MediaProperties, mode EvalMode, report *CompatReport) {
	for _, cond := range conditions {
		switch mode {
		case EvalDirectPlay:
			if !cond.RequiredForDirectPlay {
				continue
			}
		case EvalTranscode:
			if !cond.RequiredForTranscode {
				continue
			}
		}

		if e.conditionSatisfied(&cond, media) {
			continue
		}
		report.add(reasonForProperty(cond.Property), "condition failed: %s %s %q (actual %q)",
			cond.Property, cond.Condition, cond.Value, media.PropertyValue(cond.Property))
	}
}

// conditionSatisfied evaluates one condition. A missing media value passes
// ordering comparisons but fails Equal and EqualsAny.
func (e *CapabilityEvaluator) conditionSatisfied(cond *ProfileCondition, media *MediaProperties) bool {
	actual := media.PropertyValue(cond.Property)

	switch cond.Condition {
	case OpEqual:
		if actual == "" {
			return false
		}
		return strings.EqualFold(actual, cond.Value)

	case OpNotEqual:
		if actual == "" {
			return true
		}
		return !strings.EqualFold(actual, cond.Value)

	case OpEqualsAny:
		if actual == "" {
			return false
		}
		return listContains(cond.Value, actual)

	case OpLessThanEqual:
		if actual == "" {
			return true
		}
		a, errA := strconv.ParseFloat(actual, 64)
		b, errB := strconv.ParseFloat(cond.Value, 64)
		if errA != nil || errB != nil {
			return false
		}
		return a <= b

	case OpGreaterThanEqual:
		if actual == "" {
			return true
		}
		a, errA := strconv.ParseFloat(actual, 64)
		b, errB := strconv.ParseFloat(cond.Value, 64)
		if errA != nil || errB != nil {
			return false
		}
		return a >= b

	case OpMatches:
		if actual == "" {
			return false
		}
		return e.matchWithTimeout(cond.Value, actual)
	}

	e.logger.Warn("unknown condition operator", "op", cond.Condition)
	return false
}

// matchWithTimeout runs a regex match bounded by matchesTimeout; a compile
// error or a timeout both count as no match
func (e *CapabilityEvaluator) matchWithTimeout(pattern, value string) bool {
	done := make(chan bool, 1)
	go func() {
		re, err := regexp.Compile(pattern)
		if err != nil {
			done <- false
			return
		}
		done <- re.MatchString(value)
	}()

	select {
	case matched := <-done:
		return matched
	case <-time.After(matchesTimeout):
		e.logger.Warn("regex condition timed out", "pattern", pattern)
		return false
	}
}

// SupportsContainer checks direct-play profile membership for a container
func (e *CapabilityEvaluator) SupportsContainer(caps *PlaybackCapabilities, mediaType, container string) bool {
	for _, p := range caps.DirectPlayProfiles {
		if p.Type != "" && !strings.EqualFold(p.Type, mediaType) {
			continue
		}
		if p.Container == "" || listContains(p.Container, container) {
			return true
		}
	}
	return false
}

// SupportsVideoCodec checks direct-play profile membership for a video codec
func (e *CapabilityEvaluator) SupportsVideoCodec(caps *PlaybackCapabilities, mediaType, container, codec string) bool {
	for _, p := range caps.DirectPlayProfiles {
		if p.Type != "" && !strings.EqualFold(p.Type, mediaType) {
			continue
		}
		if p.Container != "" && !listContains(p.Container, container) {
			continue
		}
		if p.VideoCodecs == "" || listContains(p.VideoCodecs, codec) {
			return true
		}
	}
	return false
}

// SupportsAudioCodec checks direct-play profile membership for an audio codec
func (e *CapabilityEvaluator) SupportsAudioCodec(caps *PlaybackCapabilities, mediaType, container, codec string) bool {
	for _, p := range caps.DirectPlayProfiles {
		if p.Type != "" && !strings.EqualFold(p.Type, mediaType) {
			continue
		}
		if p.Container != "" && !listContains(p.Container, container) {
			continue
		}
		if p.AudioCodecs == "" || listContains(p.AudioCodecs, codec) {
			return true
		}
	}
	return false
}

// SelectTranscodingProfile returns the first transcoding profile of the
// requested type whose apply-conditions all hold, falling back to the first
// unconditional profile of that type, else nil.
func (e *CapabilityEvaluator) SelectTranscodingProfile(media *MediaProperties, caps *PlaybackCapabilities, mediaType string) *TranscodingProfile {
	var fallback *TranscodingProfile

	for i := range caps.TranscodingProfiles {
		tp := &caps.TranscodingProfiles[i]
		if tp.Type != "" && !strings.EqualFold(tp.Type, mediaType) {
			continue
		}

		if len(tp.Conditions) == 0 {
			if fallback == nil {
				fallback = tp
			}
			continue
		}

		allOK := true
		for _, cond := range tp.Conditions {
			if !e.conditionSatisfied(&cond, media) {
				allOK = false
				break
			}
		}
		if allOK {
			return tp
		}
	}

	return fallback
}

// listContains reports whether a comma-separated list contains the value
func listContains(list, value string) bool {
	for _, item := range strings.Split(list, ",") {
		if strings.EqualFold(strings.TrimSpace(item), value) {
			return true
		}
	}
	return false
}
