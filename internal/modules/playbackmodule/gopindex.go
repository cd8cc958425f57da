package playbackmodule

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"
)

// GopIndexReader exposes the keyframe index written by the analysis
// component. The delivery engine only ever reads it.
type GopIndexReader interface {
	// TryRead returns the ordered keyframe presentation times in
	// milliseconds for one media part; ok=false means no index exists.
	TryRead(itemID string, partIndex int) (times []int64, ok bool)
}

// FileGopIndex reads keyframe indexes from {dir}/{itemId:hex}/{partIndex}.json
type FileGopIndex struct {
	dir string
}

// NewFileGopIndex creates a reader rooted at dir
func NewFileGopIndex(dir string) *FileGopIndex {
	return &FileGopIndex{dir: dir}
}

type gopIndexFile struct {
	KeyframesMs []int64 `json:"keyframes_ms"`
}

// TryRead implements GopIndexReader. Any read or parse failure is treated
// as an absent index; callers fall back to raw seek positions.
func (g *FileGopIndex) TryRead(itemID string, partIndex int) ([]int64, bool) {
	path := filepath.Join(g.dir, itemHex(itemID), fmt.Sprintf("%d.json", partIndex))
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, false
	}

	var idx gopIndexFile
	if err := json.Unmarshal(data, &idx); err != nil {
		return nil, false
	}
	if len(idx.KeyframesMs) == 0 {
		return nil, false
	}

	times := idx.KeyframesMs
	if !sort.SliceIsSorted(times, func(i, j int) bool { return times[i] < times[j] }) {
		sort.Slice(times, func(i, j int) bool { return times[i] < times[j] })
	}
	return times, true
}

// SnapToKeyframe returns the nearest keyframe at or before seekMs. A seek
// before the first keyframe snaps to the first; an empty index returns
// seekMs unchanged.
func SnapToKeyframe(times []int64, seekMs int64) int64 {
	if len(times) == 0 {
		return seekMs
	}
	i := sort.Search(len(times), func(i int) bool { return times[i] > seekMs })
	if i == 0 {
		return times[0]
	}
	return times[i-1]
}

// ForcedKeyframeExpr renders keyframe times at or after startMs as the
// comma-separated seconds expression the encoder consumes, relative to
// startMs so segment boundaries line up after a seek.
func ForcedKeyframeExpr(times []int64, startMs int64) string {
	var parts []string
	for _, t := range times {
		if t < startMs {
			continue
		}
		parts = append(parts, fmt.Sprintf("%.3f", float64(t-startMs)/1000.0))
	}
	return strings.Join(parts, ",")
}

// StartSegmentNumber computes the first segment index for a seek so the
// client-side numbering stays aligned with the non-seek timeline
func StartSegmentNumber(startMs int64, segmentDuration time.Duration) int {
	if segmentDuration <= 0 {
		return 0
	}
	return int(startMs / segmentDuration.Milliseconds())
}

// itemHex namespaces cache directories by item identity
func itemHex(itemID string) string {
	return fmt.Sprintf("%x", []byte(itemID))
}
