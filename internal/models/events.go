package models

// TranscriptPartialEvent is published while an utterance is still open.
type TranscriptPartialEvent struct {
	EventType string `json:"eventType"`
	SessionID string `json:"sessionId"`
	SegmentID string `json:"segmentId"`
	Text      string `json:"text"`
	Timestamp int64  `json:"timestamp"`
}

// TranscriptFinalEvent is published when an utterance is finalized.
type TranscriptFinalEvent struct {
	EventType      string `json:"eventType"`
	SessionID      string `json:"sessionId"`
	SegmentID      string `json:"segmentId"`
	Text           string `json:"text"`
	AudioSegmentID string `json:"audioSegmentId,omitempty"`
	AudioStartMs   int64  `json:"audioStartMs"`
	AudioEndMs     int64  `json:"audioEndMs"`
	Timestamp      int64  `json:"timestamp"`
}

// EnrichmentEvent is published when a segment finishes an enrichment stage.
type EnrichmentEvent struct {
	EventType string `json:"eventType"`
	SessionID string `json:"sessionId"`
	SegmentID string `json:"segmentId"`
	Stage     string `json:"stage"` // cleanup, schedule, todo
	Succeeded bool   `json:"succeeded"`
	Timestamp int64  `json:"timestamp"`
}
