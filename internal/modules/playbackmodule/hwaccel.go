package playbackmodule

import (
	"bufio"
	"context"
	"fmt"
	"os/exec"
	"strings"
	"sync"

	"github.com/hashicorp/go-hclog"
)

// Accelerator identifies a hardware acceleration backend
type Accelerator string

const (
	AccelNone         Accelerator = "none"
	AccelCUDA         Accelerator = "cuda"
	AccelQSV          Accelerator = "qsv"
	AccelVAAPI        Accelerator = "vaapi"
	AccelVideoToolbox Accelerator = "videotoolbox"
)

// AccelConfig carries the concrete transcoder arguments for one
// accelerator. Decode and encode stages are selected independently, so a
// command may pair a hardware decoder with a software encoder.
type AccelConfig struct {
	Accelerator Accelerator

	// DecodeFlags go before -i on the command line
	DecodeFlags []string
	// InitFlags initialize the device and go first on the command line
	InitFlags []string

	VideoEncoder string
	EncodeFlags  []string

	// ScaleFilter is a format string taking width and height
	ScaleFilter string
	// UploadFilter moves software frames onto the device before a
	// hardware filter; empty for software
	UploadFilter string
	// DownloadFilter moves frames back to system memory for software
	// filters; empty for software
	DownloadFilter string
}

// IsHardware reports whether the config uses a hardware backend
func (c *AccelConfig) IsHardware() bool {
	return c.Accelerator != AccelNone
}

// accelConfig returns the argument set for one accelerator and target
// video codec. Only h264 and hevc have hardware encoders wired.
func accelConfig(accel Accelerator, videoCodec string) *AccelConfig {
	codec := strings.ToLower(videoCodec)
	if codec != "h264" && codec != "hevc" {
		codec = "h264"
	}

	switch accel {
	case AccelCUDA:
		return &AccelConfig{
			Accelerator:    AccelCUDA,
			DecodeFlags:    []string{"-hwaccel", "cuda", "-hwaccel_output_format", "cuda"},
			VideoEncoder:   codec + "_nvenc",
			EncodeFlags:    []string{"-preset", "p4", "-tune", "ll"},
			ScaleFilter:    "scale_cuda=%d:%d:format=nv12",
			UploadFilter:   "hwupload_cuda",
			DownloadFilter: "hwdownload,format=nv12",
		}
	case AccelQSV:
		return &AccelConfig{
			Accelerator:    AccelQSV,
			DecodeFlags:    []string{"-hwaccel", "qsv", "-hwaccel_output_format", "qsv"},
			VideoEncoder:   codec + "_qsv",
			EncodeFlags:    []string{"-preset", "veryfast"},
			ScaleFilter:    "scale_qsv=%d:%d:format=nv12",
			UploadFilter:   "hwupload=extra_hw_frames=64",
			DownloadFilter: "hwdownload,format=nv12",
		}
	case AccelVAAPI:
		return &AccelConfig{
			Accelerator:    AccelVAAPI,
			InitFlags:      []string{"-init_hw_device", "vaapi=va:/dev/dri/renderD128", "-filter_hw_device", "va"},
			DecodeFlags:    []string{"-hwaccel", "vaapi", "-hwaccel_output_format", "vaapi"},
			VideoEncoder:   codec + "_vaapi",
			ScaleFilter:    "scale_vaapi=%d:%d:format=nv12",
			UploadFilter:   "format=nv12,hwupload",
			DownloadFilter: "hwdownload,format=nv12",
		}
	case AccelVideoToolbox:
		return &AccelConfig{
			Accelerator:  AccelVideoToolbox,
			DecodeFlags:  []string{"-hwaccel", "videotoolbox"},
			VideoEncoder: codec + "_videotoolbox",
			EncodeFlags:  []string{"-realtime", "true"},
			ScaleFilter:  "scale=%d:%d",
		}
	default:
		return softwareConfig(codec)
	}
}

func softwareConfig(codec string) *AccelConfig {
	encoder := "libx264"
	if codec == "hevc" {
		encoder = "libx265"
	}
	return &AccelConfig{
		Accelerator:  AccelNone,
		VideoEncoder: encoder,
		EncodeFlags:  []string{"-preset", "veryfast"},
		ScaleFilter:  "scale=%d:%d",
	}
}

// HardwareDetector probes the transcoder binary for usable accelerators
// once and caches the result for the process lifetime
type HardwareDetector struct {
	logger     hclog.Logger
	ffmpegPath string

	once      sync.Once
	available []Accelerator
}

// NewHardwareDetector creates a detector for the given transcoder binary
func NewHardwareDetector(ffmpegPath string, logger hclog.Logger) *HardwareDetector {
	return &HardwareDetector{
		logger:     logger.Named("hwaccel"),
		ffmpegPath: ffmpegPath,
	}
}

// Available returns the detected accelerators, always ending with AccelNone
func (d *HardwareDetector) Available(ctx context.Context) []Accelerator {
	d.once.Do(func() {
		d.available = d.detect(ctx)
		d.logger.Info("hardware acceleration probe complete", "available", d.available)
	})
	return d.available
}

// Best returns the config for the highest-priority available accelerator
// that supports the target video codec. When hardware acceleration is
// disabled the software config is returned directly.
func (d *HardwareDetector) Best(ctx context.Context, enabled bool, videoCodec string) *AccelConfig {
	if !enabled {
		return softwareConfig(strings.ToLower(videoCodec))
	}

	priority := []Accelerator{AccelCUDA, AccelQSV, AccelVideoToolbox, AccelVAAPI}
	available := d.Available(ctx)
	for _, want := range priority {
		for _, have := range available {
			if have == want {
				return accelConfig(want, videoCodec)
			}
		}
	}
	return softwareConfig(strings.ToLower(videoCodec))
}

func (d *HardwareDetector) detect(ctx context.Context) []Accelerator {
	hwaccels, err := d.probeList(ctx, "-hwaccels")
	if err != nil {
		d.logger.Warn("hwaccel probe failed, using software only", "error", err)
		return []Accelerator{AccelNone}
	}
	encoders, err := d.probeEncoders(ctx)
	if err != nil {
		d.logger.Warn("encoder probe failed, using software only", "error", err)
		return []Accelerator{AccelNone}
	}

	var available []Accelerator
	if hwaccels["cuda"] && encoders["h264_nvenc"] {
		available = append(available, AccelCUDA)
	}
	if hwaccels["qsv"] && encoders["h264_qsv"] {
		available = append(available, AccelQSV)
	}
	if hwaccels["vaapi"] && encoders["h264_vaapi"] {
		available = append(available, AccelVAAPI)
	}
	if hwaccels["videotoolbox"] && encoders["h264_videotoolbox"] {
		available = append(available, AccelVideoToolbox)
	}
	return append(available, AccelNone)
}

func (d *HardwareDetector) probeList(ctx context.Context, flag string) (map[string]bool, error) {
	cmd := exec.CommandContext(ctx, d.ffmpegPath, flag)
	output, err := cmd.Output()
	if err != nil {
		return nil, fmt.Errorf("%s %s: %w", d.ffmpegPath, flag, err)
	}

	result := make(map[string]bool)
	scanner := bufio.NewScanner(strings.NewReader(string(output)))
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line != "" && !strings.HasSuffix(line, ":") {
			result[line] = true
		}
	}
	return result, nil
}

func (d *HardwareDetector) probeEncoders(ctx context.Context) (map[string]bool, error) {
	cmd := exec.CommandContext(ctx, d.ffmpegPath, "-encoders")
	output, err := cmd.Output()
	if err != nil {
		return nil, fmt.Errorf("%s -encoders: %w", d.ffmpegPath, err)
	}

	wanted := []string{
		"h264_nvenc", "hevc_nvenc",
		"h264_qsv", "hevc_qsv",
		"h264_vaapi", "hevc_vaapi",
		"h264_videotoolbox", "hevc_videotoolbox",
	}
	result := make(map[string]bool)
	scanner := bufio.NewScanner(strings.NewReader(string(output)))
	for scanner.Scan() {
		line := scanner.Text()
		for _, name := range wanted {
			if strings.Contains(line, name) {
				result[name] = true
			}
		}
	}
	return result, nil
}
