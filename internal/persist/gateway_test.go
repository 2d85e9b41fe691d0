package persist

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"voice-dictation-pipeline/internal/config"
	"voice-dictation-pipeline/internal/models"
	"voice-dictation-pipeline/internal/state"
)

func gatewayFor(baseURL string, store *state.Store) *Gateway {
	return New(config.PersistenceConfig{
		BaseURL:       baseURL,
		Timeout:       time.Second,
		MaxRetries:    3,
		FlushInterval: 10 * time.Millisecond,
	}, store)
}

func audioSegment(id string) models.AudioSegment {
	now := time.Now()
	return models.AudioSegment{
		ID:        id,
		SessionID: "sess-1",
		StartTime: now.Add(-10 * time.Second),
		EndTime:   now,
		Data:      []byte("RIFFfakewav"),
	}
}

func newSessionStore() *state.Store {
	store := state.New()
	store.BeginSession("sess-1", time.Now())
	return store
}

func TestGateway_UploadAudio(t *testing.T) {
	var gotFields map[string]string
	var gotBlob []byte
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/audio" {
			t.Errorf("path %s", r.URL.Path)
		}
		if err := r.ParseMultipartForm(1 << 20); err != nil {
			t.Fatalf("parse multipart: %v", err)
		}
		gotFields = map[string]string{}
		for k, v := range r.MultipartForm.Value {
			gotFields[k] = v[0]
		}
		f, _, err := r.FormFile("file")
		if err != nil {
			t.Fatalf("form file: %v", err)
		}
		gotBlob, _ = io.ReadAll(f)
		json.NewEncoder(w).Encode(map[string]string{"id": "a1", "storageLocator": "/blobs/a1.wav"})
	}))
	defer srv.Close()

	store := newSessionStore()
	seg := audioSegment("sess-1-audio-1")
	store.PutAudioSegment(seg)

	g := gatewayFor(srv.URL, store)
	if err := g.UploadAudio(context.Background(), seg, false); err != nil {
		t.Fatalf("upload: %v", err)
	}

	if string(gotBlob) != "RIFFfakewav" {
		t.Error("blob bytes mangled")
	}
	if gotFields["segmentId"] != seg.ID {
		t.Errorf("segmentId %q", gotFields["segmentId"])
	}
	if gotFields["isFullAudio"] != "false" || gotFields["isSegmentAudio"] != "true" {
		t.Errorf("audio kind flags %v", gotFields)
	}
	if gotFields["startTime"] == "" || gotFields["endTime"] == "" {
		t.Errorf("timestamps missing: %v", gotFields)
	}

	stored := store.AudioSegments()[0]
	if stored.UploadStatus != models.UploadDone || stored.StorageLocator != "/blobs/a1.wav" {
		t.Errorf("status not advanced: %+v", stored)
	}
}

func TestGateway_UploadFullRecordingFlags(t *testing.T) {
	var full, segment string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		r.ParseMultipartForm(1 << 20)
		full = r.FormValue("isFullAudio")
		segment = r.FormValue("isSegmentAudio")
		json.NewEncoder(w).Encode(map[string]string{"id": "a1", "storageLocator": "x"})
	}))
	defer srv.Close()

	store := newSessionStore()
	g := gatewayFor(srv.URL, store)
	g.UploadAudio(context.Background(), audioSegment("sess-1-full"), true)

	if full != "true" || segment != "false" {
		t.Errorf("full recording flags: isFullAudio=%s isSegmentAudio=%s", full, segment)
	}
}

func TestGateway_FailedUploadRetriesThenSucceeds(t *testing.T) {
	var mu sync.Mutex
	attempts := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		attempts++
		n := attempts
		mu.Unlock()
		if n == 1 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		json.NewEncoder(w).Encode(map[string]string{"id": "a1", "storageLocator": "/blobs/a1.wav"})
	}))
	defer srv.Close()

	store := newSessionStore()
	seg := audioSegment("sess-1-audio-1")
	store.PutAudioSegment(seg)
	g := gatewayFor(srv.URL, store)

	var perr *Error
	err := g.UploadAudio(context.Background(), seg, false)
	if !errors.As(err, &perr) || perr.Kind != UploadFailed {
		t.Fatalf("expected UploadFailed, got %v", err)
	}
	if store.AudioSegments()[0].UploadStatus != models.UploadFailed {
		t.Error("status should be failed before retry")
	}
	if g.RetryDepth() != 1 {
		t.Fatalf("retry depth %d", g.RetryDepth())
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go g.Run(ctx)

	deadline := time.Now().Add(2 * time.Second)
	for store.AudioSegments()[0].UploadStatus != models.UploadDone {
		if time.Now().After(deadline) {
			t.Fatalf("retry never succeeded: %+v", store.AudioSegments()[0])
		}
		time.Sleep(5 * time.Millisecond)
	}
	if g.RetryDepth() != 0 {
		t.Errorf("retry queue not drained: %d", g.RetryDepth())
	}
}

func TestGateway_RetriesAreCappedThenDropped(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	store := newSessionStore()
	g := gatewayFor(srv.URL, store)
	g.SaveTranscripts(context.Background(), []models.TranscriptSegment{
		{ID: "seg-1", SessionID: "sess-1", RawText: "x"},
	})
	if g.RetryDepth() != 1 {
		t.Fatalf("retry depth %d", g.RetryDepth())
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go g.Run(ctx)

	deadline := time.Now().Add(2 * time.Second)
	for g.RetryDepth() != 0 {
		if time.Now().After(deadline) {
			t.Fatalf("item never dropped, depth %d", g.RetryDepth())
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestGateway_SaveTranscriptsBatch(t *testing.T) {
	var got []models.TranscriptSegment
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/transcripts/batch" {
			t.Errorf("path %s", r.URL.Path)
		}
		json.NewDecoder(r.Body).Decode(&got)
		json.NewEncoder(w).Encode(map[string]int{"saved": len(got)})
	}))
	defer srv.Close()

	store := newSessionStore()
	segs := []models.TranscriptSegment{
		{ID: "seg-1", SessionID: "sess-1", RawText: "早上七点开会", AudioStartMs: 0, AudioEndMs: 1500},
		{ID: "seg-2", SessionID: "sess-1", RawText: "记得买牛奶", AudioStartMs: 1500, AudioEndMs: 2800},
	}
	for _, s := range segs {
		store.UpsertTranscript(s)
	}

	g := gatewayFor(srv.URL, store)
	if err := g.SaveTranscripts(context.Background(), segs); err != nil {
		t.Fatalf("save: %v", err)
	}
	if len(got) != 2 || got[0].ID != "seg-1" {
		t.Errorf("payload %+v", got)
	}
	for _, s := range store.Transcripts() {
		if s.UploadStatus != models.UploadDone {
			t.Errorf("segment %s status %s", s.ID, s.UploadStatus)
		}
	}
}

func TestGateway_QueryTranscripts(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		if q.Get("startTime") == "" || q.Get("endTime") == "" {
			t.Errorf("range params missing: %v", q)
		}
		if q.Get("audioFileId") != "a1" {
			t.Errorf("audioFileId %q", q.Get("audioFileId"))
		}
		json.NewEncoder(w).Encode([]models.TranscriptSegment{{ID: "seg-1", RawText: "开会"}})
	}))
	defer srv.Close()

	g := gatewayFor(srv.URL, newSessionStore())
	got, err := g.QueryTranscripts(context.Background(), time.Now().Add(-time.Hour), time.Now(), "a1")
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	if len(got) != 1 || got[0].ID != "seg-1" {
		t.Errorf("got %+v", got)
	}
}

func TestGateway_UnreachableQueryIsBenign(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	url := srv.URL
	srv.Close()

	g := gatewayFor(url, newSessionStore())
	got, err := g.QueryTranscripts(context.Background(), time.Now().Add(-time.Hour), time.Now(), "")
	if err != nil {
		t.Fatalf("unreachable backend must degrade silently, got %v", err)
	}
	if len(got) != 0 {
		t.Errorf("expected empty result, got %+v", got)
	}
}

func TestGateway_QueryServerErrorIsReported(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	}))
	defer srv.Close()

	g := gatewayFor(srv.URL, newSessionStore())
	_, err := g.QuerySchedules(context.Background(), time.Now().Add(-time.Hour), time.Now())
	var perr *Error
	if !errors.As(err, &perr) || perr.Kind != QueryUnreachable {
		t.Fatalf("expected QueryUnreachable, got %v", err)
	}
}

func TestGateway_AudioLocator(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/audio/sess-1-audio-1" {
			t.Errorf("path %s", r.URL.Path)
		}
		json.NewEncoder(w).Encode(map[string]string{"id": "sess-1-audio-1", "storageLocator": "/blobs/a1.wav"})
	}))
	defer srv.Close()

	g := gatewayFor(srv.URL, newSessionStore())
	loc, err := g.AudioLocator(context.Background(), "sess-1-audio-1")
	if err != nil {
		t.Fatalf("locator: %v", err)
	}
	if loc != "/blobs/a1.wav" {
		t.Errorf("locator %q", loc)
	}
}

func TestGateway_EmptyBatchesAreNoOps(t *testing.T) {
	called := false
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
	}))
	defer srv.Close()

	g := gatewayFor(srv.URL, newSessionStore())
	if err := g.SaveTranscripts(context.Background(), nil); err != nil {
		t.Errorf("empty transcripts: %v", err)
	}
	if err := g.SaveSchedules(context.Background(), nil); err != nil {
		t.Errorf("empty schedules: %v", err)
	}
	if err := g.SaveTodos(context.Background(), nil); err != nil {
		t.Errorf("empty todos: %v", err)
	}
	if called {
		t.Error("empty batch hit the network")
	}
}
