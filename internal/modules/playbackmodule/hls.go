package playbackmodule

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/hashicorp/go-hclog"
	"golang.org/x/sync/errgroup"
)

// HlsOrchestrator produces HLS master playlists and per-variant streams
type HlsOrchestrator struct {
	*orchestratorCore
}

// NewHlsOrchestrator creates an HLS orchestrator over the shared core
func NewHlsOrchestrator(core *orchestratorCore, logger hclog.Logger) *HlsOrchestrator {
	c := *core
	c.logger = logger.Named("hls")
	return &HlsOrchestrator{orchestratorCore: &c}
}

// OutputDir returns the deterministic output directory for a part
func (o *HlsOrchestrator) OutputDir(itemID string, partIndex int) string {
	return filepath.Join(o.transcodingDir, "hls", itemHex(itemID), strconv.Itoa(partIndex))
}

// SeekOutputDir buckets seek output by whole seconds of the aligned start
// time so repeated seeks to the same keyframe share a cache entry
func (o *HlsOrchestrator) SeekOutputDir(itemID string, partIndex int, startMs int64) string {
	return filepath.Join(o.transcodingDir, "hls-seek", itemHex(itemID), strconv.Itoa(partIndex),
		strconv.FormatInt(startMs/1000, 10))
}

// EnsureHls guarantees a playable HLS master playlist with every ladder
// variant for the media part. A nil ladder builds the default one from
// the source geometry. sessionID is the playback session that owns the
// work and is recorded on every variant job.
func (o *HlsOrchestrator) EnsureHls(ctx context.Context, mediaPartID, sessionID string, ladder *AbrLadder) (*EnsureResult, error) {
	resolved, err := o.resolver.Resolve(mediaPartID)
	if err != nil {
		return nil, err
	}
	if ladder == nil {
		ladder = o.defaultLadder(resolved)
	}

	outputDir := o.OutputDir(resolved.Item.ID, resolved.PartIndex)

	if master, ok := o.cachedSet(outputDir, ladder); ok {
		return &EnsureResult{ManifestPath: master, OutputDir: outputDir}, nil
	}

	release, err := o.locks.Acquire(ctx, outputDir)
	if err != nil {
		return nil, err
	}
	defer release()

	if master, ok := o.cachedSet(outputDir, ladder); ok {
		return &EnsureResult{ManifestPath: master, OutputDir: outputDir}, nil
	}

	return o.generate(ctx, resolved, ladder, outputDir, 0, sessionID)
}

// EnsureHlsWithSeek regenerates the whole master and variant set in a
// seek-bucketed directory aligned to the keyframe at or before seekMs
func (o *HlsOrchestrator) EnsureHlsWithSeek(ctx context.Context, mediaPartID, sessionID string, seekMs int64, ladder *AbrLadder) (*EnsureResult, error) {
	resolved, err := o.resolver.Resolve(mediaPartID)
	if err != nil {
		return nil, err
	}
	if ladder == nil {
		ladder = o.defaultLadder(resolved)
	}

	actualStartMs, _ := o.snapSeek(resolved.Item.ID, resolved.PartIndex, seekMs)
	outputDir := o.SeekOutputDir(resolved.Item.ID, resolved.PartIndex, actualStartMs)

	if master, ok := o.cachedSet(outputDir, ladder); ok {
		return &EnsureResult{ManifestPath: master, OutputDir: outputDir, ActualStartMs: actualStartMs}, nil
	}

	release, err := o.locks.Acquire(ctx, outputDir)
	if err != nil {
		return nil, err
	}
	defer release()

	if master, ok := o.cachedSet(outputDir, ladder); ok {
		return &EnsureResult{ManifestPath: master, OutputDir: outputDir, ActualStartMs: actualStartMs}, nil
	}

	// a superseded seek may still be writing here; kill it before the
	// bucket is cleared so nothing lands in the fresh output
	o.registry.KillByPathPrefix(outputDir)
	if err := os.RemoveAll(outputDir); err != nil {
		return nil, fmt.Errorf("failed to clear previous seek output: %w", err)
	}

	return o.generate(ctx, resolved, ladder, outputDir, actualStartMs, sessionID)
}

func (o *HlsOrchestrator) generate(ctx context.Context, resolved *ResolvedPart, ladder *AbrLadder, outputDir string, startMs int64, sessionID string) (*EnsureResult, error) {
	o.registry.KillByPathPrefix(outputDir)

	// one process per variant, so the whole ladder must fit the
	// concurrency bound before anything launches
	if err := o.admitN(len(ladder.Variants)); err != nil {
		return nil, err
	}

	times, _ := o.gop.TryRead(resolved.Item.ID, resolved.PartIndex)
	forced := ForcedKeyframeExpr(times, startMs)

	// one process per variant; a single failing variant cancels its
	// siblings so no half-built set is ever published
	group, groupCtx := errgroup.WithContext(ctx)
	for i := range ladder.Variants {
		variant := &ladder.Variants[i]
		group.Go(func() error {
			return o.runVariant(groupCtx, resolved, variant, outputDir, startMs, forced, sessionID)
		})
	}
	if err := group.Wait(); err != nil {
		o.registry.KillByPathPrefix(outputDir)
		return nil, err
	}

	master := filepath.Join(outputDir, hlsMasterName)
	if err := writeMasterPlaylist(master, ladder); err != nil {
		return nil, fmt.Errorf("failed to write master playlist: %w", err)
	}

	o.logger.Info("hls variant set ready",
		"part_id", resolved.Part.ID, "variants", len(ladder.Variants), "master", master, "start_ms", startMs)
	return &EnsureResult{ManifestPath: master, OutputDir: outputDir, ActualStartMs: startMs}, nil
}

func (o *HlsOrchestrator) runVariant(ctx context.Context, resolved *ResolvedPart, variant *AbrVariant, outputDir string, startMs int64, forcedKeyframes, sessionID string) error {
	copyStreams := variant.IsSource
	spec := &HlsJobSpec{
		JobSpec:   o.jobSpec(resolved, variant, outputDir, copyStreams, copyStreams),
		VariantID: variant.ID,
	}
	spec.StartMs = startMs
	spec.ForcedKeyframes = forcedKeyframes

	args, err := o.builder.BuildHlsVariant(ctx, spec)
	if err != nil {
		return err
	}

	variantDir := filepath.Join(outputDir, variant.ID)
	job, err := o.launch("hls", sessionID, resolved.Part.ID, variantDir, ".m4s", args, encodeOptions(variant, spec.HardwareAccel, spec.ToneMap))
	if err != nil {
		return err
	}

	playlist := filepath.Join(variantDir, hlsPlaylistName)
	if err := o.waiter.WaitForSegment(ctx, playlist); err != nil {
		if entry, ok := o.registry.GetByID(job.ID); ok {
			select {
			case <-entry.Handle.Done():
				return fmt.Errorf("variant %s transcoder exited before producing a playlist: %w", variant.ID, ErrProcessingFailed)
			default:
			}
		}
		return err
	}
	return nil
}

// defaultLadder builds the fallback ladder when the caller supplies none.
// Copy rungs require verified client compatibility, so without a device
// profile no source rung is offered; callers wanting one pass a ladder
// built by the decider.
func (o *HlsOrchestrator) defaultLadder(resolved *ResolvedPart) *AbrLadder {
	part := resolved.Part
	return BuildLadder(part.Width, part.Height, part.Bitrate, 0, LadderOptions{})
}

// cachedSet reports whether the master playlist and every variant
// playlist already exist on disk
func (o *HlsOrchestrator) cachedSet(outputDir string, ladder *AbrLadder) (string, bool) {
	master := filepath.Join(outputDir, hlsMasterName)
	if _, err := os.Stat(master); err != nil {
		return "", false
	}
	for _, variant := range ladder.Variants {
		if _, err := os.Stat(filepath.Join(outputDir, variant.ID, hlsPlaylistName)); err != nil {
			return "", false
		}
	}
	return master, true
}

// writeMasterPlaylist emits the master playlist referencing every variant
// sorted by descending bandwidth
func writeMasterPlaylist(path string, ladder *AbrLadder) error {
	variants := make([]AbrVariant, len(ladder.Variants))
	copy(variants, ladder.Variants)
	sort.SliceStable(variants, func(i, j int) bool {
		return variants[i].VideoBitrate+variants[i].AudioBitrate > variants[j].VideoBitrate+variants[j].AudioBitrate
	})

	var b strings.Builder
	b.WriteString("#EXTM3U\n")
	b.WriteString("#EXT-X-VERSION:7\n")
	for _, v := range variants {
		bandwidth := v.VideoBitrate + v.AudioBitrate
		fmt.Fprintf(&b, "#EXT-X-STREAM-INF:BANDWIDTH=%d,RESOLUTION=%dx%d,NAME=\"%s\"\n",
			bandwidth, v.Width, v.Height, v.Label)
		fmt.Fprintf(&b, "%s/%s\n", v.ID, hlsPlaylistName)
	}

	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, []byte(b.String()), 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}
