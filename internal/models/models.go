// Package models defines the data structures shared across the pipeline.
package models

import "time"

// UploadStatus tracks the durable-storage lifecycle of an entity.
type UploadStatus string

const (
	UploadPending  UploadStatus = "pending"
	UploadInFlight UploadStatus = "uploading"
	UploadDone     UploadStatus = "uploaded"
	UploadFailed   UploadStatus = "failed"
)

// AudioSegment is a contiguous slice of recorded audio, produced on a fixed
// cadence by the capture manager. Only the capture manager creates segments;
// only the persistence gateway moves UploadStatus forward.
type AudioSegment struct {
	ID             string        `json:"id"`
	SessionID      string        `json:"sessionId"`
	StartTime      time.Time     `json:"startTime"`
	EndTime        time.Time     `json:"endTime"`
	Duration       time.Duration `json:"duration"`
	SizeBytes      int64         `json:"sizeBytes"`
	UploadStatus   UploadStatus  `json:"uploadStatus"`
	StorageLocator string        `json:"storageLocator,omitempty"`
	Data           []byte        `json:"-"`
}

// TranscriptSegment is one utterance. An interim segment is still mutable;
// once finalized only the enrichment fields may change.
type TranscriptSegment struct {
	ID        string    `json:"id"`
	SessionID string    `json:"sessionId"`
	Timestamp time.Time `json:"timestamp"`

	// Absolute wall-clock span of the utterance.
	AbsoluteStart time.Time `json:"absoluteStart"`
	AbsoluteEnd   time.Time `json:"absoluteEnd"`

	// Offsets in milliseconds from recording start. AudioStart <= AudioEnd,
	// and both fall within the span of the correlated audio segment.
	AudioStartMs int64 `json:"audioStart"`
	AudioEndMs   int64 `json:"audioEnd"`

	RawText       string `json:"rawText"`
	OptimizedText string `json:"optimizedText,omitempty"`
	IsInterim     bool   `json:"isInterim"`
	IsOptimized   bool   `json:"isOptimized"`

	// AudioSegmentID correlates this utterance to the audio segment that was
	// active when it was created. Replaying that segment at
	// AbsoluteStart - segment.StartTime reproduces the recognized bytes.
	AudioSegmentID string `json:"audioFileId,omitempty"`

	ContainsSchedule bool `json:"containsSchedule"`
	ContainsTodo     bool `json:"containsTodo"`

	UploadStatus UploadStatus `json:"uploadStatus"`
}

// ItemStatus tracks user confirmation of an extracted item. Promotion past
// pending is an external collaborator decision.
type ItemStatus string

const (
	ItemPending   ItemStatus = "pending"
	ItemConfirmed ItemStatus = "confirmed"
	ItemCancelled ItemStatus = "cancelled"
)

// ScheduleItem is a calendar entry extracted from a cleaned transcript.
type ScheduleItem struct {
	ID          string     `json:"id"`
	SegmentID   string     `json:"segmentId"`
	ExtractedAt time.Time  `json:"extractedAt"`
	Description string     `json:"description"`
	ScheduledAt time.Time  `json:"scheduledAt"`
	SourceText  string     `json:"sourceText,omitempty"`
	Status      ItemStatus `json:"status"`
}

// TodoPriority is the priority band of an extracted to-do.
type TodoPriority string

const (
	PriorityHigh   TodoPriority = "high"
	PriorityMedium TodoPriority = "medium"
	PriorityLow    TodoPriority = "low"
)

// ExtractedTodo is a to-do item extracted from a cleaned transcript.
type ExtractedTodo struct {
	ID          string       `json:"id"`
	SegmentID   string       `json:"segmentId"`
	ExtractedAt time.Time    `json:"extractedAt"`
	Title       string       `json:"title"`
	Description string       `json:"description,omitempty"`
	Deadline    *time.Time   `json:"deadline,omitempty"`
	Priority    TodoPriority `json:"priority"`
	Status      ItemStatus   `json:"status"`
}

// SubsystemState is the health of one pipeline subsystem.
type SubsystemState string

const (
	StateIdle    SubsystemState = "idle"
	StateRunning SubsystemState = "running"
	StatePaused  SubsystemState = "paused"
	StateError   SubsystemState = "error"
)

// ProcessStatus records the health of one subsystem. Each subsystem writes
// its own status only; everything else reads.
type ProcessStatus struct {
	Subsystem string         `json:"subsystem"`
	State     SubsystemState `json:"state"`
	Detail    string         `json:"detail,omitempty"`
	UpdatedAt time.Time      `json:"updatedAt"`
}
