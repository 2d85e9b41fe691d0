package enrich

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"voice-dictation-pipeline/internal/config"
)

func textServiceFor(url string, timeout time.Duration) *TextService {
	return NewTextService(config.EnrichmentConfig{
		ServiceEndpoint: url,
		ServiceAPIKey:   "test-key",
		ServiceModel:    "test-model",
		ServiceTimeout:  timeout,
	})
}

func TestTextService_Cleanup(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/chat/completions" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer test-key" {
			t.Errorf("auth header %q", got)
		}

		var payload struct {
			Model    string `json:"model"`
			Messages []struct {
				Role    string `json:"role"`
				Content string `json:"content"`
			} `json:"messages"`
		}
		if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
			t.Fatalf("decode request: %v", err)
		}
		if payload.Model != "test-model" {
			t.Errorf("model %q", payload.Model)
		}
		if len(payload.Messages) != 2 || payload.Messages[1].Content != "早上七点开会" {
			t.Errorf("messages %+v", payload.Messages)
		}

		json.NewEncoder(w).Encode(map[string]any{
			"choices": []map[string]any{
				{"message": map[string]string{"content": " [SCHEDULE: 早上七点开会] \n"}},
			},
		})
	}))
	defer srv.Close()

	svc := textServiceFor(srv.URL, time.Second)
	got, err := svc.Cleanup(context.Background(), "早上七点开会")
	if err != nil {
		t.Fatalf("cleanup: %v", err)
	}
	if got != "[SCHEDULE: 早上七点开会]" {
		t.Errorf("got %q", got)
	}
}

func TestTextService_APIErrorIsServiceFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
		json.NewEncoder(w).Encode(map[string]any{
			"error": map[string]string{"message": "rate limited", "type": "rate_limit"},
		})
	}))
	defer srv.Close()

	svc := textServiceFor(srv.URL, time.Second)
	_, err := svc.Cleanup(context.Background(), "text")
	var eerr *Error
	if !errors.As(err, &eerr) || eerr.Kind != ServiceFailure {
		t.Fatalf("expected ServiceFailure, got %v", err)
	}
}

func TestTextService_TimeoutIsServiceTimeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(200 * time.Millisecond)
	}))
	defer srv.Close()

	svc := textServiceFor(srv.URL, 20*time.Millisecond)
	_, err := svc.Cleanup(context.Background(), "text")
	var eerr *Error
	if !errors.As(err, &eerr) || eerr.Kind != ServiceTimeout {
		t.Fatalf("expected ServiceTimeout, got %v", err)
	}
}

func TestTextService_EmptyCompletionIsFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{"choices": []any{}})
	}))
	defer srv.Close()

	svc := textServiceFor(srv.URL, time.Second)
	_, err := svc.Cleanup(context.Background(), "text")
	var eerr *Error
	if !errors.As(err, &eerr) || eerr.Kind != ServiceFailure {
		t.Fatalf("expected ServiceFailure, got %v", err)
	}
}
