package playbackmodule

import (
	"fmt"
	"strings"

	"github.com/hashicorp/go-hclog"
)

// FilterSpec describes the picture transformations one output rung needs
type FilterSpec struct {
	SourceWidth  int
	SourceHeight int
	TargetWidth  int
	TargetHeight int

	Interlaced bool
	HDR        bool
	ToneMap    bool
	Rotation   int
}

// FilterChain is a composed -vf argument plus the facts the validator
// needs about how it was built
type FilterChain struct {
	Filters []string

	// usesSoftwareFilters is set when the chain contains filters that
	// only run on system-memory frames
	usesSoftwareFilters bool
	// bridged is set when hardware frames are downloaded around the
	// software filters and re-uploaded after
	bridged bool
}

// Empty reports whether no filtering is needed
func (c *FilterChain) Empty() bool {
	return len(c.Filters) == 0
}

// String renders the chain as a -vf argument value
func (c *FilterChain) String() string {
	return strings.Join(c.Filters, ",")
}

// ChainError is a filter chain validation failure. Recoverable failures
// are fixed by rebuilding the chain with software decode and encode.
type ChainError struct {
	Reason      string
	Recoverable bool
}

func (e *ChainError) Error() string {
	return "invalid filter chain: " + e.Reason
}

// BuildFilterChain composes scale, deinterlace, tone-mapping, and rotation
// filters for the given accelerator. Deinterlace, tone-mapping, and
// rotation only exist as software filters here, so on a hardware path the
// frames are downloaded before them and uploaded again for the hardware
// scaler.
func BuildFilterChain(spec FilterSpec, accel *AccelConfig) *FilterChain {
	chain := &FilterChain{}

	var software []string
	if spec.Interlaced {
		software = append(software, "yadif=0:-1:0")
	}
	if spec.ToneMap && spec.HDR {
		software = append(software,
			"zscale=t=linear:npl=100",
			"tonemap=hable:desat=0",
			"zscale=p=bt709:t=bt709:m=bt709",
			"format=yuv420p")
	}
	if rot := normalizeRotation(spec.Rotation); rot != 0 {
		software = append(software, rotationFilter(rot))
	}

	needScale := spec.TargetWidth > 0 && spec.TargetHeight > 0 &&
		(spec.TargetWidth != spec.SourceWidth || spec.TargetHeight != spec.SourceHeight)

	if len(software) > 0 {
		chain.usesSoftwareFilters = true
		if accel.IsHardware() {
			if accel.DownloadFilter == "" || accel.UploadFilter == "" {
				// no bridge filters for this device; the validator
				// forces the software rebuild
				chain.Filters = software
			} else {
				chain.bridged = true
				chain.Filters = append(chain.Filters, accel.DownloadFilter)
				chain.Filters = append(chain.Filters, software...)
				if needScale {
					chain.Filters = append(chain.Filters, accel.UploadFilter)
				}
			}
		} else {
			chain.Filters = software
		}
	}

	if needScale {
		w, h := evenDimension(spec.TargetWidth), evenDimension(spec.TargetHeight)
		scale := fmt.Sprintf(accel.ScaleFilter, w, h)
		if chain.usesSoftwareFilters && !chain.bridged {
			// frames are in system memory, a device scaler cannot run
			scale = fmt.Sprintf("scale=%d:%d", w, h)
		}
		chain.Filters = append(chain.Filters, scale)
	}

	return chain
}

// ValidateFilterChain checks that the chain can execute on the chosen
// accelerator. Software filters on a hardware path without download and
// upload bridges cannot run and are recoverable by a software rebuild.
func ValidateFilterChain(chain *FilterChain, accel *AccelConfig) error {
	if chain.Empty() {
		return nil
	}
	if accel.IsHardware() && chain.usesSoftwareFilters && !chain.bridged {
		return &ChainError{
			Reason:      fmt.Sprintf("software filters cannot run on %s frames without a memory bridge", accel.Accelerator),
			Recoverable: true,
		}
	}
	return nil
}

// ResolveFilterChain builds and validates a chain for the requested
// accelerator pair, falling back to full software decode and encode when
// the failure is recoverable. The returned config is the one the command
// must actually use.
func ResolveFilterChain(spec FilterSpec, accel *AccelConfig, logger hclog.Logger) (*FilterChain, *AccelConfig) {
	chain := BuildFilterChain(spec, accel)
	err := ValidateFilterChain(chain, accel)
	if err == nil {
		return chain, accel
	}

	var chainErr *ChainError
	if ce, ok := err.(*ChainError); ok {
		chainErr = ce
	}
	if chainErr != nil && chainErr.Recoverable {
		logger.Warn("filter chain invalid for hardware path, falling back to software",
			"accelerator", accel.Accelerator, "reason", chainErr.Reason)
		sw := softwareFallbackFor(accel)
		return BuildFilterChain(spec, sw), sw
	}

	logger.Warn("filter chain failed validation, using as-is", "error", err)
	return chain, accel
}

// softwareFallbackFor maps a hardware config back to the software config
// for the same target codec
func softwareFallbackFor(accel *AccelConfig) *AccelConfig {
	if strings.Contains(accel.VideoEncoder, "hevc") || strings.Contains(accel.VideoEncoder, "265") {
		return softwareConfig("hevc")
	}
	return softwareConfig("h264")
}

// normalizeRotation reduces a rotation in degrees to 0, 90, 180, or 270
func normalizeRotation(deg int) int {
	r := deg % 360
	if r < 0 {
		r += 360
	}
	return r / 90 * 90
}

func rotationFilter(deg int) string {
	switch deg {
	case 90:
		return "transpose=1"
	case 180:
		return "transpose=1,transpose=1"
	case 270:
		return "transpose=2"
	default:
		return ""
	}
}
