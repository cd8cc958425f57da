package playbackmodule

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/hashicorp/go-hclog"
)

// DashOrchestrator produces DASH manifests and segments for media parts
type DashOrchestrator struct {
	*orchestratorCore
}

// NewDashOrchestrator creates a DASH orchestrator over the shared core
func NewDashOrchestrator(core *orchestratorCore, logger hclog.Logger) *DashOrchestrator {
	c := *core
	c.logger = logger.Named("dash")
	return &DashOrchestrator{orchestratorCore: &c}
}

// OutputDir returns the deterministic segment directory for a part
func (o *DashOrchestrator) OutputDir(itemID string, partIndex int) string {
	return filepath.Join(o.transcodingDir, "dash", itemHex(itemID), strconv.Itoa(partIndex))
}

// EnsureDash guarantees a playable DASH manifest for the media part,
// starting a transcode only when the cached one is missing. sessionID is
// the playback session that owns the work and is recorded on the job.
func (o *DashOrchestrator) EnsureDash(ctx context.Context, mediaPartID, sessionID string) (*EnsureResult, error) {
	resolved, err := o.resolver.Resolve(mediaPartID)
	if err != nil {
		return nil, err
	}

	outputDir := o.OutputDir(resolved.Item.ID, resolved.PartIndex)
	manifest := filepath.Join(outputDir, dashManifestName)

	// fast path, no lock needed when the manifest is already cached
	if _, err := os.Stat(manifest); err == nil {
		return &EnsureResult{ManifestPath: manifest, OutputDir: outputDir}, nil
	}

	release, err := o.locks.Acquire(ctx, outputDir)
	if err != nil {
		return nil, err
	}
	defer release()

	// a concurrent request may have produced it while we waited
	if _, err := os.Stat(manifest); err == nil {
		return &EnsureResult{ManifestPath: manifest, OutputDir: outputDir}, nil
	}

	o.registry.KillByPath(outputDir)

	if err := o.admit(); err != nil {
		return nil, err
	}

	variant := o.pickVariant(resolved)
	spec := &DashJobSpec{JobSpec: o.jobSpec(resolved, variant, outputDir, false, false)}

	times, _ := o.gop.TryRead(resolved.Item.ID, resolved.PartIndex)
	spec.ForcedKeyframes = ForcedKeyframeExpr(times, 0)

	return o.run(ctx, resolved, spec, sessionID, outputDir, manifest, 0, variant)
}

// EnsureDashWithSeek regenerates the part's DASH output starting at the
// keyframe at or before seekMs. The same directory as the non-seek path
// is reused so in-flight segment URLs stay valid, but the stale manifest
// and media segments are removed before the new process starts.
func (o *DashOrchestrator) EnsureDashWithSeek(ctx context.Context, mediaPartID, sessionID string, seekMs int64, startNumber *int) (*EnsureResult, error) {
	resolved, err := o.resolver.Resolve(mediaPartID)
	if err != nil {
		return nil, err
	}

	outputDir := o.OutputDir(resolved.Item.ID, resolved.PartIndex)
	manifest := filepath.Join(outputDir, dashManifestName)

	release, err := o.locks.Acquire(ctx, outputDir)
	if err != nil {
		return nil, err
	}
	defer release()

	o.registry.KillByPath(outputDir)

	if err := o.admit(); err != nil {
		return nil, err
	}

	actualStartMs, times := o.snapSeek(resolved.Item.ID, resolved.PartIndex, seekMs)

	if err := removeDashOutputs(outputDir); err != nil {
		return nil, fmt.Errorf("failed to clear previous dash output: %w", err)
	}

	segNumber := StartSegmentNumber(actualStartMs, time.Duration(o.segmentDuration)*time.Second)
	if startNumber != nil {
		segNumber = *startNumber
	}

	variant := o.pickVariant(resolved)
	spec := &DashJobSpec{JobSpec: o.jobSpec(resolved, variant, outputDir, false, false)}
	spec.StartMs = actualStartMs
	spec.StartNumber = segNumber
	spec.ForcedKeyframes = ForcedKeyframeExpr(times, actualStartMs)

	return o.run(ctx, resolved, spec, sessionID, outputDir, manifest, actualStartMs, variant)
}

func (o *DashOrchestrator) run(ctx context.Context, resolved *ResolvedPart, spec *DashJobSpec, sessionID, outputDir, manifest string, actualStartMs int64, variant *AbrVariant) (*EnsureResult, error) {
	args, err := o.builder.BuildDash(ctx, spec)
	if err != nil {
		return nil, err
	}

	job, err := o.launch("dash", sessionID, resolved.Part.ID, outputDir, ".m4s", args, encodeOptions(variant, spec.HardwareAccel, spec.ToneMap))
	if err != nil {
		return nil, err
	}

	// only manifest creation blocks the caller; segments keep appearing
	// after this returns
	if err := o.waiter.WaitForSegment(ctx, manifest); err != nil {
		if entry, ok := o.registry.GetByID(job.ID); ok {
			select {
			case <-entry.Handle.Done():
				return nil, fmt.Errorf("transcoder exited before producing a manifest: %w", ErrProcessingFailed)
			default:
			}
		}
		return nil, err
	}

	o.logger.Info("dash manifest ready",
		"part_id", resolved.Part.ID, "manifest", manifest, "start_ms", actualStartMs)
	return &EnsureResult{ManifestPath: manifest, OutputDir: outputDir, ActualStartMs: actualStartMs}, nil
}

// pickVariant selects the single rendition a DASH invocation produces,
// the highest rung the source supports
func (o *DashOrchestrator) pickVariant(resolved *ResolvedPart) *AbrVariant {
	part := resolved.Part
	ladder := BuildLadder(part.Width, part.Height, part.Bitrate, 0, LadderOptions{})
	return &ladder.Variants[0]
}

// removeDashOutputs deletes the manifest and every media segment while
// leaving the directory structure in place
func removeDashOutputs(outputDir string) error {
	entries, err := os.ReadDir(outputDir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}

	for _, entry := range entries {
		path := filepath.Join(outputDir, entry.Name())
		if entry.IsDir() {
			if err := removeDashOutputs(path); err != nil {
				return err
			}
			continue
		}
		name := entry.Name()
		if name == dashManifestName || strings.HasSuffix(name, ".m4s") {
			if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
				return err
			}
		}
	}
	return nil
}
