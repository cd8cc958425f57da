package database

import "time"

// MediaItem is one entry in the library catalog (movie, episode, track).
// Catalog management itself lives outside the delivery engine; the engine
// only reads these rows to resolve playback requests.
type MediaItem struct {
	ID        string    `gorm:"primaryKey;type:varchar(64)" json:"id"`
	Title     string    `gorm:"type:varchar(512)" json:"title"`
	MediaType string    `gorm:"type:varchar(32);index" json:"media_type"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// MediaPart is one playable file belonging to an item. Multi-part items
// (e.g. two-disc rips) carry several parts ordered by PartIndex.
type MediaPart struct {
	ID          string    `gorm:"primaryKey;type:varchar(64)" json:"id"`
	MediaItemID string    `gorm:"index;type:varchar(64);not null" json:"media_item_id"`
	PartIndex   int       `gorm:"not null" json:"part_index"`
	Path        string    `gorm:"type:varchar(1024);not null" json:"path"`
	SizeBytes   int64     `json:"size_bytes"`
	DurationMs  int64     `json:"duration_ms"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`

	// Probed stream properties, written by the analysis component
	Container       string  `gorm:"type:varchar(32)" json:"container"`
	VideoCodec      string  `gorm:"type:varchar(32)" json:"video_codec"`
	Width           int     `json:"width"`
	Height          int     `json:"height"`
	BitDepth        int     `json:"bit_depth"`
	FrameRate       float64 `json:"frame_rate"`
	DynamicRange    string  `gorm:"type:varchar(16)" json:"dynamic_range"`
	Interlaced      bool    `json:"interlaced"`
	Rotation        int     `json:"rotation"`
	AudioCodec      string  `gorm:"type:varchar(32)" json:"audio_codec"`
	AudioChannels   int     `json:"audio_channels"`
	AudioSampleRate int     `json:"audio_sample_rate"`
	Bitrate         int64   `json:"bitrate"`
}

// TableName returns the table name for GORM
func (MediaPart) TableName() string {
	return "media_parts"
}
