// Package state provides the process-wide shared state container.
//
// Every pipeline component receives a *Store handle at construction and
// follows a single-writer-per-field discipline: the capture manager creates
// audio segments, the aggregator owns transcript segments, the enrichment
// queues own enrichment fields and extracted items, the persistence gateway
// owns upload statuses. Reads return snapshots and are eventually consistent.
//
// All writes are session-gated: a mutation carrying a session id that no
// longer matches the active session is discarded, so stale results from
// in-flight work of a superseded session never leak into current state.
package state

import (
	"sort"
	"sync"
	"time"

	"voice-dictation-pipeline/internal/models"
)

// Store is the shared mutable state of one pipeline process.
// Safe for concurrent use. No method blocks beyond the internal mutex,
// which is never held across I/O.
type Store struct {
	mu sync.RWMutex

	sessionID      string
	recordingStart time.Time

	audio      map[string]*models.AudioSegment
	audioOrder []string
	windows    []audioWindow

	transcripts     map[string]*models.TranscriptSegment
	transcriptOrder []string

	schedules []models.ScheduleItem
	todos     []models.ExtractedTodo

	statuses map[string]models.ProcessStatus
}

// audioWindow is one segment-recorder capture window. Windows are registered
// when they open, so transcripts can be correlated to the window whose bytes
// are still being recorded.
type audioWindow struct {
	id      string
	startMs int64
}

// New creates an empty store.
func New() *Store {
	return &Store{
		audio:       make(map[string]*models.AudioSegment),
		transcripts: make(map[string]*models.TranscriptSegment),
		statuses:    make(map[string]models.ProcessStatus),
	}
}

// BeginSession activates a new recording session, clearing per-session state.
func (s *Store) BeginSession(sessionID string, recordingStart time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sessionID = sessionID
	s.recordingStart = recordingStart
	s.audio = make(map[string]*models.AudioSegment)
	s.audioOrder = nil
	s.windows = nil
	s.transcripts = make(map[string]*models.TranscriptSegment)
	s.transcriptOrder = nil
	s.schedules = nil
	s.todos = nil
}

// EndSession deactivates the given session. Writes keyed by it are
// discarded from then on. A mismatched id is a no-op.
func (s *Store) EndSession(sessionID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.sessionID == sessionID {
		s.sessionID = ""
	}
}

// SessionID returns the active session id, or "" when idle.
func (s *Store) SessionID() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.sessionID
}

// RecordingStart returns the wall-clock start of the active session.
func (s *Store) RecordingStart() time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.recordingStart
}

// PutAudioSegment records a new audio segment. Returns false if the segment's
// session is no longer active.
func (s *Store) PutAudioSegment(seg models.AudioSegment) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if seg.SessionID != s.sessionID {
		return false
	}
	if _, exists := s.audio[seg.ID]; !exists {
		s.audioOrder = append(s.audioOrder, seg.ID)
	}
	cp := seg
	s.audio[seg.ID] = &cp
	return true
}

// SetAudioUploadStatus moves an audio segment's upload status forward.
func (s *Store) SetAudioUploadStatus(sessionID, segmentID string, status models.UploadStatus, locator string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if sessionID != s.sessionID {
		return false
	}
	seg, ok := s.audio[segmentID]
	if !ok {
		return false
	}
	seg.UploadStatus = status
	if locator != "" {
		seg.StorageLocator = locator
	}
	return true
}

// OpenAudioWindow registers the capture window the segment recorder has just
// started, identified by the segment id it will be cut under. Re-registering
// the same id moves its start offset (an empty window restarting its clock).
func (s *Store) OpenAudioWindow(sessionID, windowID string, startMs int64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if sessionID != s.sessionID {
		return false
	}
	if n := len(s.windows); n > 0 && s.windows[n-1].id == windowID {
		s.windows[n-1].startMs = startMs
		return true
	}
	s.windows = append(s.windows, audioWindow{id: windowID, startMs: startMs})
	return true
}

// AudioWindowAt returns the id of the capture window covering the given
// offset from recording start: the latest window opened at or before it.
func (s *Store) AudioWindowAt(offsetMs int64) (string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for i := len(s.windows) - 1; i >= 0; i-- {
		if s.windows[i].startMs <= offsetMs {
			return s.windows[i].id, true
		}
	}
	return "", false
}

// AudioSegments returns a snapshot of all audio segments in creation order.
func (s *Store) AudioSegments() []models.AudioSegment {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]models.AudioSegment, 0, len(s.audioOrder))
	for _, id := range s.audioOrder {
		out = append(out, *s.audio[id])
	}
	return out
}

// UpsertTranscript inserts or replaces a transcript segment. Returns false
// if the segment's session is no longer active.
func (s *Store) UpsertTranscript(seg models.TranscriptSegment) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if seg.SessionID != s.sessionID {
		return false
	}
	if _, exists := s.transcripts[seg.ID]; !exists {
		s.transcriptOrder = append(s.transcriptOrder, seg.ID)
	}
	cp := seg
	s.transcripts[seg.ID] = &cp
	return true
}

// Transcript returns one transcript segment by id.
func (s *Store) Transcript(segmentID string) (models.TranscriptSegment, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	seg, ok := s.transcripts[segmentID]
	if !ok {
		return models.TranscriptSegment{}, false
	}
	return *seg, true
}

// Transcripts returns a snapshot of all transcript segments in arrival order.
func (s *Store) Transcripts() []models.TranscriptSegment {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]models.TranscriptSegment, 0, len(s.transcriptOrder))
	for _, id := range s.transcriptOrder {
		out = append(out, *s.transcripts[id])
	}
	return out
}

// ApplyCleanup writes enrichment output onto a finalized segment. Only the
// enrichment fields change; raw text and timing stay immutable. Returns
// false for a stale session, an unknown segment, or a still-interim segment.
func (s *Store) ApplyCleanup(sessionID, segmentID, optimizedText string, containsSchedule, containsTodo bool) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if sessionID != s.sessionID {
		return false
	}
	seg, ok := s.transcripts[segmentID]
	if !ok || seg.IsInterim {
		return false
	}
	seg.OptimizedText = optimizedText
	seg.IsOptimized = true
	seg.ContainsSchedule = containsSchedule
	seg.ContainsTodo = containsTodo
	return true
}

// SetTranscriptUploadStatus moves a transcript's upload status forward.
func (s *Store) SetTranscriptUploadStatus(sessionID, segmentID string, status models.UploadStatus) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if sessionID != s.sessionID {
		return false
	}
	seg, ok := s.transcripts[segmentID]
	if !ok {
		return false
	}
	seg.UploadStatus = status
	return true
}

// AddSchedules appends extracted schedule items. Stale sessions are discarded.
func (s *Store) AddSchedules(sessionID string, items []models.ScheduleItem) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if sessionID != s.sessionID {
		return false
	}
	s.schedules = append(s.schedules, items...)
	return true
}

// AddTodos appends extracted to-do items. Stale sessions are discarded.
func (s *Store) AddTodos(sessionID string, items []models.ExtractedTodo) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if sessionID != s.sessionID {
		return false
	}
	s.todos = append(s.todos, items...)
	return true
}

// Schedules returns a snapshot of extracted schedule items.
func (s *Store) Schedules() []models.ScheduleItem {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]models.ScheduleItem, len(s.schedules))
	copy(out, s.schedules)
	return out
}

// Todos returns a snapshot of extracted to-do items.
func (s *Store) Todos() []models.ExtractedTodo {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]models.ExtractedTodo, len(s.todos))
	copy(out, s.todos)
	return out
}

// SetStatus records the health of one subsystem. Each subsystem writes only
// its own entry.
func (s *Store) SetStatus(subsystem string, st models.SubsystemState, detail string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.statuses[subsystem] = models.ProcessStatus{
		Subsystem: subsystem,
		State:     st,
		Detail:    detail,
		UpdatedAt: time.Now(),
	}
}

// Statuses returns a snapshot of all subsystem statuses, sorted by name.
func (s *Store) Statuses() []models.ProcessStatus {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]models.ProcessStatus, 0, len(s.statuses))
	for _, st := range s.statuses {
		out = append(out, st)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Subsystem < out[j].Subsystem })
	return out
}
