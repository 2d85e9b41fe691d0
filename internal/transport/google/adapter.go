// Package google provides a Google Cloud Speech-to-Text recognizer strategy.
package google

import (
	"context"
	"errors"
	"io"
	"sync"

	speech "cloud.google.com/go/speech/apiv1"
	speechpb "google.golang.org/genproto/googleapis/cloud/speech/v1"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"voice-dictation-pipeline/internal/config"
	"voice-dictation-pipeline/internal/transport"
)

// Adapter implements transport.Recognizer using Google Cloud
// Speech-to-Text streaming recognition.
// Requires GOOGLE_APPLICATION_CREDENTIALS to be set.
type Adapter struct {
	cfg    config.TransportConfig
	rateHz int

	client  *speech.Client
	stream  speechpb.Speech_StreamingRecognizeClient
	results chan transport.Result

	mu      sync.Mutex
	stopped bool
}

// New creates a Google recognizer strategy.
func New(ctx context.Context, cfg config.TransportConfig, sampleRateHz int) (*Adapter, error) {
	c, err := speech.NewClient(ctx)
	if err != nil {
		return nil, transport.NewError(transport.ConnectFailed, err)
	}
	return &Adapter{
		cfg:     cfg,
		rateHz:  sampleRateHz,
		client:  c,
		results: make(chan transport.Result, 64),
	}, nil
}

// Results implements transport.Recognizer.
func (a *Adapter) Results() <-chan transport.Result { return a.results }

// Start opens the streaming session and sends the recognition config as the
// first message.
func (a *Adapter) Start(ctx context.Context) error {
	stream, err := a.client.StreamingRecognize(ctx)
	if err != nil {
		return transport.NewError(transport.ConnectFailed, err)
	}
	a.stream = stream

	err = stream.Send(&speechpb.StreamingRecognizeRequest{
		StreamingRequest: &speechpb.StreamingRecognizeRequest_StreamingConfig{
			StreamingConfig: &speechpb.StreamingRecognitionConfig{
				Config: &speechpb.RecognitionConfig{
					Encoding:        speechpb.RecognitionConfig_LINEAR16,
					SampleRateHertz: int32(a.rateHz),
					LanguageCode:    a.cfg.LanguageCode,
				},
				InterimResults: true,
			},
		},
	})
	if err != nil {
		return transport.NewError(transport.ConnectFailed, err)
	}

	go a.listen()
	return nil
}

// Send forwards one PCM chunk to the streaming session.
func (a *Adapter) Send(ctx context.Context, chunk []byte) error {
	return a.stream.Send(&speechpb.StreamingRecognizeRequest{
		StreamingRequest: &speechpb.StreamingRecognizeRequest_AudioContent{
			AudioContent: chunk,
		},
	})
}

// Stop half-closes the stream; the backend flushes remaining results.
func (a *Adapter) Stop() error {
	a.mu.Lock()
	if a.stopped {
		a.mu.Unlock()
		return nil
	}
	a.stopped = true
	a.mu.Unlock()

	if a.stream != nil {
		return a.stream.CloseSend()
	}
	return nil
}

func (a *Adapter) listen() {
	defer close(a.results)

	for {
		resp, err := a.stream.Recv()
		if err != nil {
			a.mu.Lock()
			stopped := a.stopped
			a.mu.Unlock()
			if !stopped && !benignStreamEnd(err) {
				a.results <- transport.Result{
					Err: transport.NewError(transport.Disconnected, err),
				}
			}
			return
		}

		for _, r := range resp.Results {
			if len(r.Alternatives) == 0 {
				continue
			}
			alt := r.Alternatives[0]
			// No usable start timestamp on this API surface; the pump
			// estimates the span from elapsed time.
			a.results <- transport.Result{Text: alt.Transcript, IsFinal: r.IsFinal}
		}
	}
}

// benignStreamEnd reports whether a Recv error is a normal end of the
// streaming session rather than a backend failure.
func benignStreamEnd(err error) bool {
	if errors.Is(err, io.EOF) {
		return true
	}
	switch status.Code(err) {
	case codes.Canceled, codes.DeadlineExceeded:
		return true
	}
	return false
}
