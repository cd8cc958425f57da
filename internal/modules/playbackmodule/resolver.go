package playbackmodule

import (
	"fmt"

	"github.com/embermedia/ember/internal/database"
	"gorm.io/gorm"
)

// ResolvedPart is a media part joined with its parent item and its ordinal
// position among the item's parts. The ordinal namespaces output
// directories so multi-part items never share a segment cache.
type ResolvedPart struct {
	Part      *database.MediaPart
	Item      *database.MediaItem
	PartIndex int
}

// Properties maps the stored stream metadata into the evaluator's view
func (r *ResolvedPart) Properties() *MediaProperties {
	p := r.Part
	return &MediaProperties{
		Container:       p.Container,
		VideoCodec:      p.VideoCodec,
		AudioCodec:      p.AudioCodec,
		Width:           p.Width,
		Height:          p.Height,
		BitDepth:        p.BitDepth,
		FrameRate:       p.FrameRate,
		DynamicRange:    p.DynamicRange,
		Interlaced:      p.Interlaced,
		AudioChannels:   p.AudioChannels,
		AudioSampleRate: p.AudioSampleRate,
		Bitrate:         p.Bitrate,
	}
}

// MediaPartResolver looks up media parts from the catalog
type MediaPartResolver struct {
	db *gorm.DB
}

// NewMediaPartResolver creates a resolver
func NewMediaPartResolver(db *gorm.DB) *MediaPartResolver {
	return &MediaPartResolver{db: db}
}

// Resolve loads a part, its parent item, and its ordinal among siblings
// ordered by part index. A missing part or item yields ErrNotFound.
func (r *MediaPartResolver) Resolve(mediaPartID string) (*ResolvedPart, error) {
	var part database.MediaPart
	if err := r.db.Where("id = ?", mediaPartID).First(&part).Error; err != nil {
		return nil, fmt.Errorf("media part %s: %w", mediaPartID, ErrNotFound)
	}

	var item database.MediaItem
	if err := r.db.Where("id = ?", part.MediaItemID).First(&item).Error; err != nil {
		return nil, fmt.Errorf("media item %s for part %s: %w", part.MediaItemID, mediaPartID, ErrNotFound)
	}

	var siblings []database.MediaPart
	if err := r.db.Select("id").
		Where("media_item_id = ?", part.MediaItemID).
		Order("part_index ASC, id ASC").
		Find(&siblings).Error; err != nil {
		return nil, fmt.Errorf("failed to list sibling parts: %w", err)
	}

	ordinal := 0
	for i, sibling := range siblings {
		if sibling.ID == part.ID {
			ordinal = i
			break
		}
	}

	return &ResolvedPart{Part: &part, Item: &item, PartIndex: ordinal}, nil
}
