// Package persist is the retrying upload/query client for durable storage:
// audio blobs, transcript segments and extracted items go out as HTTP
// writes, historical range queries come back in. Write failures feed an
// internal retry queue drained on a fixed timer; query failures against an
// unreachable backend degrade to empty results so transient offline state
// never surfaces as a hard error.
package persist

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"voice-dictation-pipeline/internal/config"
	"voice-dictation-pipeline/internal/models"
	"voice-dictation-pipeline/internal/observability/logging"
	"voice-dictation-pipeline/internal/observability/metrics"
	"voice-dictation-pipeline/internal/state"
)

// ErrorKind classifies persistence failures.
type ErrorKind string

const (
	UploadFailed     ErrorKind = "upload_failed"
	QueryUnreachable ErrorKind = "query_unreachable"
)

// Error is a persistence-level failure.
type Error struct {
	Kind ErrorKind
	Err  error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("persist: %s", e.Kind)
	}
	return fmt.Sprintf("persist: %s: %v", e.Kind, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// Gateway talks to the storage backend.
type Gateway struct {
	cfg     config.PersistenceConfig
	client  *http.Client
	store   *state.Store
	retries *retryQueue
	metrics *metrics.Metrics
	log     zerolog.Logger
}

// New creates a gateway. Run must be started for failed writes to retry.
func New(cfg config.PersistenceConfig, store *state.Store) *Gateway {
	g := &Gateway{
		cfg:     cfg,
		client:  &http.Client{Timeout: cfg.Timeout},
		store:   store,
		metrics: metrics.DefaultMetrics,
		log:     logging.WithComponent("persist"),
	}
	g.retries = newRetryQueue(cfg.MaxRetries)
	return g
}

// Run drains the retry queue on the flush interval until ctx is cancelled.
func (g *Gateway) Run(ctx context.Context) {
	ticker := time.NewTicker(g.cfg.FlushInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			g.sweep(ctx)
		}
	}
}

func (g *Gateway) sweep(ctx context.Context) {
	for _, item := range g.retries.drain() {
		if err := item.attempt(ctx); err != nil {
			g.metrics.UploadRetries.Inc()
			if !g.retries.requeue(item) {
				g.metrics.UploadsDropped.Inc()
				g.log.Error().Str("kind", item.kind).Str("id", item.id).
					Int("attempts", item.attempts+1).
					Msg("Write dropped after exhausting retries")
			}
			continue
		}
		g.log.Info().Str("kind", item.kind).Str("id", item.id).Msg("Retried write succeeded")
	}
}

// RetryDepth reports the number of writes waiting for retry.
func (g *Gateway) RetryDepth() int { return g.retries.len() }

// UploadAudio uploads one audio blob as multipart form data. full marks the
// whole-session recording used for playback, as opposed to a 10s transcription
// segment. Failure moves the segment to failed status and queues a retry.
func (g *Gateway) UploadAudio(ctx context.Context, seg models.AudioSegment, full bool) error {
	g.store.SetAudioUploadStatus(seg.SessionID, seg.ID, models.UploadInFlight, "")

	started := time.Now()
	locator, err := g.postAudio(ctx, seg, full)
	g.metrics.RecordUpload("audio", err, time.Since(started).Seconds())
	if err != nil {
		g.store.SetAudioUploadStatus(seg.SessionID, seg.ID, models.UploadFailed, "")
		g.log.Warn().Err(err).Str("segmentId", seg.ID).Msg("Audio upload failed, queued for retry")
		g.retries.add(retryItem{
			kind: "audio",
			id:   seg.ID,
			attempt: func(ctx context.Context) error {
				locator, err := g.postAudio(ctx, seg, full)
				if err == nil {
					g.store.SetAudioUploadStatus(seg.SessionID, seg.ID, models.UploadDone, locator)
				}
				return err
			},
		})
		return &Error{Kind: UploadFailed, Err: err}
	}

	g.store.SetAudioUploadStatus(seg.SessionID, seg.ID, models.UploadDone, locator)
	return nil
}

func (g *Gateway) postAudio(ctx context.Context, seg models.AudioSegment, full bool) (string, error) {
	body := &bytes.Buffer{}
	writer := multipart.NewWriter(body)

	part, err := writer.CreateFormFile("file", seg.ID+".wav")
	if err != nil {
		return "", fmt.Errorf("create multipart file: %w", err)
	}
	if _, err := part.Write(seg.Data); err != nil {
		return "", fmt.Errorf("write audio data: %w", err)
	}

	fields := map[string]string{
		"startTime":      seg.StartTime.UTC().Format(time.RFC3339Nano),
		"endTime":        seg.EndTime.UTC().Format(time.RFC3339Nano),
		"segmentId":      seg.ID,
		"isFullAudio":    strconv.FormatBool(full),
		"isSegmentAudio": strconv.FormatBool(!full),
	}
	for k, v := range fields {
		if err := writer.WriteField(k, v); err != nil {
			return "", fmt.Errorf("write field %s: %w", k, err)
		}
	}
	if err := writer.Close(); err != nil {
		return "", fmt.Errorf("close multipart writer: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, g.cfg.BaseURL+"/audio", body)
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())

	resp, err := g.client.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= http.StatusBadRequest {
		return "", statusError(resp)
	}

	var payload struct {
		ID             string `json:"id"`
		StorageLocator string `json:"storageLocator"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return "", fmt.Errorf("decode upload response: %w", err)
	}
	return payload.StorageLocator, nil
}

// SaveTranscripts batch-upserts finalized segments. Idempotent on the
// backend by segment ID.
func (g *Gateway) SaveTranscripts(ctx context.Context, segs []models.TranscriptSegment) error {
	if len(segs) == 0 {
		return nil
	}
	err := g.postJSON(ctx, "/transcripts/batch", segs, "transcripts")
	for _, seg := range segs {
		status := models.UploadDone
		if err != nil {
			status = models.UploadFailed
		}
		g.store.SetTranscriptUploadStatus(seg.SessionID, seg.ID, status)
	}
	if err != nil {
		g.retries.add(retryItem{
			kind: "transcripts",
			id:   segs[0].ID,
			attempt: func(ctx context.Context) error {
				err := g.postJSON(ctx, "/transcripts/batch", segs, "transcripts")
				if err == nil {
					for _, seg := range segs {
						g.store.SetTranscriptUploadStatus(seg.SessionID, seg.ID, models.UploadDone)
					}
				}
				return err
			},
		})
		return &Error{Kind: UploadFailed, Err: err}
	}
	return nil
}

// SaveSchedules batch-upserts extracted schedule items.
func (g *Gateway) SaveSchedules(ctx context.Context, items []models.ScheduleItem) error {
	if len(items) == 0 {
		return nil
	}
	return saveItems(g, ctx, "/schedules", "schedules", items, items[0].ID)
}

// SaveTodos batch-upserts extracted to-do items.
func (g *Gateway) SaveTodos(ctx context.Context, items []models.ExtractedTodo) error {
	if len(items) == 0 {
		return nil
	}
	return saveItems(g, ctx, "/todos", "todos", items, items[0].ID)
}

func saveItems[T any](g *Gateway, ctx context.Context, path, kind string, items []T, firstID string) error {
	err := g.postJSON(ctx, path, items, kind)
	if err != nil {
		g.retries.add(retryItem{
			kind: kind,
			id:   firstID,
			attempt: func(ctx context.Context) error {
				return g.postJSON(ctx, path, items, kind)
			},
		})
		return &Error{Kind: UploadFailed, Err: err}
	}
	return nil
}

func (g *Gateway) postJSON(ctx context.Context, path string, payload any, kind string) error {
	buf := &bytes.Buffer{}
	if err := json.NewEncoder(buf).Encode(payload); err != nil {
		return fmt.Errorf("encode %s payload: %w", kind, err)
	}

	started := time.Now()
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, g.cfg.BaseURL+path, buf)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := g.client.Do(req)
	g.metrics.RecordUpload(kind, err, time.Since(started).Seconds())
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= http.StatusBadRequest {
		return statusError(resp)
	}
	io.Copy(io.Discard, resp.Body)
	return nil
}

// QueryTranscripts returns stored segments in [start, end], optionally
// filtered to one audio file. Backend unreachable degrades to empty.
func (g *Gateway) QueryTranscripts(ctx context.Context, start, end time.Time, audioFileID string) ([]models.TranscriptSegment, error) {
	q := rangeQuery(start, end)
	if audioFileID != "" {
		q.Set("audioFileId", audioFileID)
	}
	var out []models.TranscriptSegment
	if err := g.getJSON(ctx, "/transcripts", q, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// QuerySchedules returns stored schedule items in [start, end].
func (g *Gateway) QuerySchedules(ctx context.Context, start, end time.Time) ([]models.ScheduleItem, error) {
	var out []models.ScheduleItem
	if err := g.getJSON(ctx, "/schedules", rangeQuery(start, end), &out); err != nil {
		return nil, err
	}
	return out, nil
}

// QueryAudio returns stored audio segment metadata in [start, end].
func (g *Gateway) QueryAudio(ctx context.Context, start, end time.Time) ([]models.AudioSegment, error) {
	var out []models.AudioSegment
	if err := g.getJSON(ctx, "/audio", rangeQuery(start, end), &out); err != nil {
		return nil, err
	}
	return out, nil
}

// AudioLocator resolves one audio segment ID to its playback locator.
func (g *Gateway) AudioLocator(ctx context.Context, id string) (string, error) {
	var out struct {
		ID             string `json:"id"`
		StorageLocator string `json:"storageLocator"`
	}
	if err := g.getJSON(ctx, "/audio/"+url.PathEscape(id), nil, &out); err != nil {
		return "", err
	}
	return out.StorageLocator, nil
}

// getJSON performs a query. Connectivity failures are benign: the target is
// left untouched (empty) and only a log line records the outage.
func (g *Gateway) getJSON(ctx context.Context, path string, query url.Values, target any) error {
	u := g.cfg.BaseURL + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return err
	}

	resp, err := g.client.Do(req)
	if err != nil {
		g.log.Debug().Err(err).Str("path", path).Msg("Storage backend unreachable, returning empty result")
		return nil
	}
	defer resp.Body.Close()
	if resp.StatusCode >= http.StatusBadRequest {
		return &Error{Kind: QueryUnreachable, Err: statusError(resp)}
	}
	if err := json.NewDecoder(resp.Body).Decode(target); err != nil {
		return fmt.Errorf("decode %s response: %w", path, err)
	}
	return nil
}

func rangeQuery(start, end time.Time) url.Values {
	q := url.Values{}
	q.Set("startTime", start.UTC().Format(time.RFC3339Nano))
	q.Set("endTime", end.UTC().Format(time.RFC3339Nano))
	return q
}

func statusError(resp *http.Response) error {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
	msg := strings.TrimSpace(string(body))
	if msg == "" {
		return fmt.Errorf("status %d", resp.StatusCode)
	}
	return fmt.Errorf("status %d: %s", resp.StatusCode, msg)
}
