package events

import "time"

// EventType identifies the kind of event flowing through the bus
type EventType string

const (
	EventSystemStarted EventType = "system.started"
	EventSystemStopped EventType = "system.stopped"

	EventJobCreated   EventType = "transcode.job.created"
	EventJobStarted   EventType = "transcode.job.started"
	EventJobProgress  EventType = "transcode.job.progress"
	EventJobCompleted EventType = "transcode.job.completed"
	EventJobCancelled EventType = "transcode.job.cancelled"
	EventJobFailed    EventType = "transcode.job.failed"
)

// Event is a single notification published on the bus
type Event struct {
	Type      EventType              `json:"type"`
	Title     string                 `json:"title"`
	Message   string                 `json:"message"`
	Data      map[string]interface{} `json:"data,omitempty"`
	Timestamp time.Time              `json:"timestamp"`
}

// NewSystemEvent builds an event with the timestamp set
func NewSystemEvent(eventType EventType, title, message string) Event {
	return Event{
		Type:      eventType,
		Title:     title,
		Message:   message,
		Timestamp: time.Now(),
	}
}

// NewJobEvent builds a transcode job event carrying the job id
func NewJobEvent(eventType EventType, jobID, message string, data map[string]interface{}) Event {
	if data == nil {
		data = make(map[string]interface{})
	}
	data["job_id"] = jobID
	return Event{
		Type:      eventType,
		Title:     string(eventType),
		Message:   message,
		Data:      data,
		Timestamp: time.Now(),
	}
}
