// Package mock provides a recognizer strategy for running the pipeline
// without a backend. It simulates realistic streaming behavior: progressive
// interim results while audio arrives, exactly one final per utterance.
package mock

import (
	"context"
	"sync"

	"voice-dictation-pipeline/internal/transport"
)

// Utterance is a scripted utterance with progressive interim texts.
type Utterance struct {
	Interims []string
	Final    string
}

// DefaultUtterances provides sample dictation for simulation.
var DefaultUtterances = []Utterance{
	{
		Interims: []string{"早上", "早上七点"},
		Final:    "早上七点开会",
	},
	{
		Interims: []string{"记得"},
		Final:    "记得买牛奶",
	},
	{
		Interims: []string{"下午", "下午三点"},
		Final:    "下午三点交报告",
	},
	{
		Interims: []string{"明天上午", "明天上午十点"},
		Final:    "明天上午十点和客户通电话",
	},
}

// Adapter implements transport.Recognizer with scripted responses.
// Each received chunk advances the script: interims first, then the final,
// then the next utterance begins.
type Adapter struct {
	results chan transport.Result

	mu         sync.Mutex
	script     []Utterance
	uttIndex   int
	interimIdx int
	chunksSeen int
	elapsedMs  int64
	uttStartMs int64
	stopped    bool
}

// New creates a mock recognizer cycling through DefaultUtterances.
func New() *Adapter {
	return NewScripted(DefaultUtterances)
}

// NewScripted creates a mock recognizer with a custom script.
func NewScripted(script []Utterance) *Adapter {
	return &Adapter{
		script:  script,
		results: make(chan transport.Result, 64),
	}
}

// Results implements transport.Recognizer.
func (a *Adapter) Results() <-chan transport.Result { return a.results }

// Start implements transport.Recognizer.
func (a *Adapter) Start(ctx context.Context) error { return nil }

// Send advances the simulation by one chunk.
func (a *Adapter) Send(ctx context.Context, chunk []byte) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.stopped || len(a.script) == 0 {
		return nil
	}

	a.chunksSeen++
	a.elapsedMs += 50

	utt := a.script[a.uttIndex%len(a.script)]

	if a.interimIdx < len(utt.Interims) {
		a.emit(transport.Result{
			Text:      utt.Interims[a.interimIdx],
			StartMs:   a.uttStartMs,
			EndMs:     a.elapsedMs,
			HasTiming: true,
		})
		a.interimIdx++
		return nil
	}

	// All interims delivered: finalize and move to the next utterance,
	// mimicking silence-based end-of-utterance detection.
	a.emit(transport.Result{
		Text:      utt.Final,
		IsFinal:   true,
		StartMs:   a.uttStartMs,
		EndMs:     a.elapsedMs,
		HasTiming: true,
	})
	a.uttIndex++
	a.interimIdx = 0
	a.uttStartMs = a.elapsedMs
	return nil
}

// Stop flushes a pending final if the stream ended mid-utterance.
func (a *Adapter) Stop() error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.stopped {
		return nil
	}
	a.stopped = true

	if a.interimIdx > 0 && len(a.script) > 0 {
		utt := a.script[a.uttIndex%len(a.script)]
		a.emit(transport.Result{
			Text:      utt.Final,
			IsFinal:   true,
			StartMs:   a.uttStartMs,
			EndMs:     a.elapsedMs,
			HasTiming: true,
		})
	}
	close(a.results)
	return nil
}

func (a *Adapter) emit(res transport.Result) {
	select {
	case a.results <- res:
	default:
	}
}
