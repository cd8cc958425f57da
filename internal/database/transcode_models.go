package database

import "time"

// JobState represents the lifecycle state of a transcode job.
// Transitions are monotonic: pending -> running -> completed/cancelled/failed.
type JobState string

const (
	JobStatePending   JobState = "pending"
	JobStateRunning   JobState = "running"
	JobStateCompleted JobState = "completed"
	JobStateCancelled JobState = "cancelled"
	JobStateFailed    JobState = "failed"
)

// Terminal reports whether no further transitions may leave this state
func (s JobState) Terminal() bool {
	switch s {
	case JobStateCompleted, JobStateCancelled, JobStateFailed:
		return true
	}
	return false
}

// EncodeOptions captures the requested encode parameters for one job
type EncodeOptions struct {
	VideoBitrate     int64  `json:"video_bitrate"`
	AudioBitrate     int64  `json:"audio_bitrate"`
	MaxBitrate       int64  `json:"max_bitrate"`
	Width            int    `json:"width"`
	Height           int    `json:"height"`
	AudioChannels    int    `json:"audio_channels"`
	AudioStreamIdx   int    `json:"audio_stream_idx"`
	HardwareAccel    bool   `json:"hardware_accel"`
	ToneMapping      bool   `json:"tone_mapping"`
	TargetVideoCodec string `json:"target_video_codec"`
	TargetAudioCodec string `json:"target_audio_codec"`
}

// TranscodeJob is the durable record of a single transcode attempt.
// The in-memory process registry holds the live handle; this row is the
// single source of truth for admission control and startup recovery.
type TranscodeJob struct {
	ID          string   `gorm:"primaryKey;type:varchar(64)" json:"id"`
	SessionID   string   `gorm:"index;type:varchar(64)" json:"session_id"`
	MediaPartID string   `gorm:"index;type:varchar(64);not null" json:"media_part_id"`
	Protocol    string   `gorm:"type:varchar(16);not null" json:"protocol"`
	OutputPath  string   `gorm:"index;type:varchar(1024);not null" json:"output_path"`
	State       JobState `gorm:"type:varchar(32);not null;index" json:"state"`
	Progress    float64  `json:"progress"`
	ProcessID   int      `json:"process_id"`

	Options EncodeOptions `gorm:"serializer:json" json:"options"`

	ErrorMessage string     `gorm:"type:varchar(1024)" json:"error_message,omitempty"`
	CreatedAt    time.Time  `gorm:"not null;index" json:"created_at"`
	StartedAt    *time.Time `json:"started_at,omitempty"`
	CompletedAt  *time.Time `json:"completed_at,omitempty"`
	LastPingAt   time.Time  `gorm:"index" json:"last_ping_at"`
}

// TableName returns the table name for GORM
func (TranscodeJob) TableName() string {
	return "transcode_jobs"
}
