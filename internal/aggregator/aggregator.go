// Package aggregator turns the raw recognition event stream into transcript
// segments: interim events update a single provisional segment in place,
// final events freeze it, and multi-sentence finals are split into one
// segment per sentence.
package aggregator

import (
	"context"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"voice-dictation-pipeline/internal/models"
	"voice-dictation-pipeline/internal/observability/logging"
	"voice-dictation-pipeline/internal/observability/metrics"
	"voice-dictation-pipeline/internal/state"
	"voice-dictation-pipeline/internal/transport"
)

// phase tracks the interim state machine. At most one interim segment is
// open at a time.
//
//	empty ──interim──→ open ──interim──→ open (update in place)
//	  │                  │
//	  │                  └──final──→ empty (segment frozen)
//	  └──final──→ empty (segment created and frozen directly)
type phase int

const (
	phaseEmpty phase = iota
	phaseOpen
)

// Aggregator consumes normalized recognition events for one session and
// emits finalized transcript segments on Finals.
type Aggregator struct {
	store   *state.Store
	metrics *metrics.Metrics
	log     zerolog.Logger

	counter uint64

	sessionID      string
	recordingStart time.Time
	phase          phase
	openID         string

	finals  chan models.TranscriptSegment
	updates chan models.TranscriptSegment
}

// New creates an aggregator over the shared state store.
func New(store *state.Store) *Aggregator {
	return &Aggregator{
		store:   store,
		metrics: metrics.DefaultMetrics,
		log:     logging.WithComponent("aggregator"),
		finals:  make(chan models.TranscriptSegment, 64),
		updates: make(chan models.TranscriptSegment, 64),
	}
}

// Begin resets the aggregator for a new session.
func (a *Aggregator) Begin(sessionID string, recordingStart time.Time) {
	a.sessionID = sessionID
	a.recordingStart = recordingStart
	a.phase = phaseEmpty
	a.openID = ""
	a.log = logging.WithSession(sessionID).With().Str("component", "aggregator").Logger()
}

// Finals is the stream of finalized segments, in arrival order.
func (a *Aggregator) Finals() <-chan models.TranscriptSegment { return a.finals }

// Updates streams every segment write, interims included, for observers
// that mirror the live transcript. Best effort: slow consumers lose the
// oldest update, never block the aggregator.
func (a *Aggregator) Updates() <-chan models.TranscriptSegment { return a.updates }

// Run consumes events until ctx is cancelled or the event stream closes,
// then closes Finals.
func (a *Aggregator) Run(ctx context.Context, events <-chan transport.Event) {
	defer close(a.finals)
	defer close(a.updates)
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			a.handle(ev)
		}
	}
}

func (a *Aggregator) handle(ev transport.Event) {
	if strings.TrimSpace(ev.Text) == "" {
		// Backends emit empty flushes at utterance boundaries.
		return
	}
	if ev.IsFinal {
		a.handleFinal(ev)
	} else {
		a.handleInterim(ev)
	}
}

// handleInterim creates the open interim segment on first sight and
// rewrites it in place on every revision after that.
func (a *Aggregator) handleInterim(ev transport.Event) {
	if a.phase == phaseEmpty {
		a.openID = a.nextID()
		a.phase = phaseOpen
		a.metrics.SegmentsInterim.Inc()
	}
	seg := a.segmentFor(a.openID, ev)
	seg.IsInterim = true
	if !a.store.UpsertTranscript(seg) {
		a.log.Debug().Str("segmentId", seg.ID).Msg("Discarded interim for ended session")
		a.phase = phaseEmpty
		a.openID = ""
		return
	}
	a.offerUpdate(seg)
}

// handleFinal freezes the open interim segment, or creates the segment
// outright when the backend skipped interims. Finals carrying several
// sentences are split one segment per sentence with the time range divided
// evenly across them.
func (a *Aggregator) handleFinal(ev transport.Event) {
	id := a.openID
	if a.phase == phaseEmpty {
		id = a.nextID()
	}
	a.phase = phaseEmpty
	a.openID = ""

	sentences := SplitSentences(ev.Text)
	if len(sentences) > 1 {
		a.metrics.SegmentsSplit.Add(float64(len(sentences)))
		a.emitSplit(id, ev, sentences)
		return
	}

	seg := a.segmentFor(id, ev)
	seg.IsInterim = false
	a.emit(seg)
}

// emitSplit divides [StartMs, EndMs] evenly across the sentences. The first
// sentence keeps the open interim's ID so the provisional segment is
// replaced rather than duplicated.
func (a *Aggregator) emitSplit(firstID string, ev transport.Event, sentences []string) {
	span := ev.EndMs - ev.StartMs
	n := int64(len(sentences))
	for i, sentence := range sentences {
		id := firstID
		if i > 0 {
			id = a.nextID()
		}
		part := ev
		part.Text = sentence
		part.StartMs = ev.StartMs + span*int64(i)/n
		part.EndMs = ev.StartMs + span*int64(i+1)/n
		seg := a.segmentFor(id, part)
		seg.IsInterim = false
		a.emit(seg)
	}
}

func (a *Aggregator) emit(seg models.TranscriptSegment) {
	if !a.store.UpsertTranscript(seg) {
		a.log.Debug().Str("segmentId", seg.ID).Msg("Discarded final for ended session")
		return
	}
	a.metrics.SegmentsFinalized.Inc()
	a.log.Debug().
		Str("segmentId", seg.ID).
		Int64("audioStart", seg.AudioStartMs).
		Int64("audioEnd", seg.AudioEndMs).
		Msg("Segment finalized")
	a.offerUpdate(seg)
	a.finals <- seg
}

func (a *Aggregator) offerUpdate(seg models.TranscriptSegment) {
	select {
	case a.updates <- seg:
	default:
		select {
		case <-a.updates:
		default:
		}
		select {
		case a.updates <- seg:
		default:
		}
	}
}

// segmentFor builds a transcript segment from an event, stamping the audio
// segment correlation and absolute wall-clock span. Correlation matches the
// utterance's start offset against the capture window recording at that
// offset, so replaying the correlated segment yields the spoken bytes even
// while the window is still open.
func (a *Aggregator) segmentFor(id string, ev transport.Event) models.TranscriptSegment {
	seg := models.TranscriptSegment{
		ID:            id,
		SessionID:     a.sessionID,
		Timestamp:     time.Now(),
		AudioStartMs:  ev.StartMs,
		AudioEndMs:    ev.EndMs,
		AbsoluteStart: a.recordingStart.Add(time.Duration(ev.StartMs) * time.Millisecond),
		AbsoluteEnd:   a.recordingStart.Add(time.Duration(ev.EndMs) * time.Millisecond),
		RawText:       ev.Text,
		UploadStatus:  models.UploadPending,
	}
	if id, ok := a.store.AudioWindowAt(ev.StartMs); ok {
		seg.AudioSegmentID = id
	}
	return seg
}

func (a *Aggregator) nextID() string {
	n := atomic.AddUint64(&a.counter, 1)
	return fmt.Sprintf("%s-seg-%d", a.sessionID, n)
}

// sentence terminators for both CJK and latin punctuation.
var sentenceEnders = map[rune]bool{
	'。': true, '！': true, '？': true,
	'.': true, '!': true, '?': true,
	'；': true, ';': true,
}

// SplitSentences splits text on sentence-ending punctuation, keeping the
// punctuation with its sentence. Text without terminators comes back whole.
func SplitSentences(text string) []string {
	var out []string
	var cur strings.Builder
	for _, r := range text {
		cur.WriteRune(r)
		if sentenceEnders[r] {
			if s := strings.TrimSpace(cur.String()); s != "" {
				out = append(out, s)
			}
			cur.Reset()
		}
	}
	if s := strings.TrimSpace(cur.String()); s != "" {
		out = append(out, s)
	}
	if len(out) == 0 {
		return []string{strings.TrimSpace(text)}
	}
	return out
}
