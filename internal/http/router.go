// Package http exposes the pipeline's control and query API.
package http

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"voice-dictation-pipeline/internal/persist"
	"voice-dictation-pipeline/internal/state"
)

// Controller drives the dictation session lifecycle.
type Controller interface {
	StartSession(ctx context.Context) (string, error)
	StopSession(ctx context.Context) error
	Pause() error
	Resume() error
}

// NewRouter constructs the HTTP router. Queries without a time range answer
// from live state; ranged queries go through the persistence gateway.
func NewRouter(store *state.Store, gateway *persist.Gateway, ctrl Controller) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)

	r.Get("/v1/liveness", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	r.Get("/v1/readiness", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ready"))
	})

	r.Route("/v1", func(r chi.Router) {
		r.Get("/status", func(w http.ResponseWriter, _ *http.Request) {
			writeJSON(w, http.StatusOK, store.Statuses())
		})

		r.Get("/transcripts", func(w http.ResponseWriter, req *http.Request) {
			start, end, ranged, err := timeRange(req)
			if err != nil {
				writeError(w, http.StatusBadRequest, err.Error())
				return
			}
			if !ranged {
				writeJSON(w, http.StatusOK, store.Transcripts())
				return
			}
			segs, err := gateway.QueryTranscripts(req.Context(), start, end, req.URL.Query().Get("audioFileId"))
			if err != nil {
				writeError(w, http.StatusBadGateway, err.Error())
				return
			}
			writeJSON(w, http.StatusOK, segs)
		})

		r.Get("/schedules", func(w http.ResponseWriter, req *http.Request) {
			start, end, ranged, err := timeRange(req)
			if err != nil {
				writeError(w, http.StatusBadRequest, err.Error())
				return
			}
			if !ranged {
				writeJSON(w, http.StatusOK, store.Schedules())
				return
			}
			items, err := gateway.QuerySchedules(req.Context(), start, end)
			if err != nil {
				writeError(w, http.StatusBadGateway, err.Error())
				return
			}
			writeJSON(w, http.StatusOK, items)
		})

		r.Get("/todos", func(w http.ResponseWriter, _ *http.Request) {
			writeJSON(w, http.StatusOK, store.Todos())
		})

		r.Get("/audio", func(w http.ResponseWriter, req *http.Request) {
			start, end, ranged, err := timeRange(req)
			if err != nil {
				writeError(w, http.StatusBadRequest, err.Error())
				return
			}
			if !ranged {
				writeJSON(w, http.StatusOK, store.AudioSegments())
				return
			}
			segs, err := gateway.QueryAudio(req.Context(), start, end)
			if err != nil {
				writeError(w, http.StatusBadGateway, err.Error())
				return
			}
			writeJSON(w, http.StatusOK, segs)
		})

		r.Get("/audio/{id}", func(w http.ResponseWriter, req *http.Request) {
			locator, err := gateway.AudioLocator(req.Context(), chi.URLParam(req, "id"))
			if err != nil {
				writeError(w, http.StatusBadGateway, err.Error())
				return
			}
			if locator == "" {
				writeError(w, http.StatusNotFound, "audio segment not found")
				return
			}
			writeJSON(w, http.StatusOK, map[string]string{"storageLocator": locator})
		})

		if ctrl != nil {
			r.Post("/session/start", func(w http.ResponseWriter, req *http.Request) {
				id, err := ctrl.StartSession(req.Context())
				if err != nil {
					writeError(w, http.StatusConflict, err.Error())
					return
				}
				writeJSON(w, http.StatusOK, map[string]string{"sessionId": id})
			})
			r.Post("/session/stop", func(w http.ResponseWriter, req *http.Request) {
				if err := ctrl.StopSession(req.Context()); err != nil {
					writeError(w, http.StatusConflict, err.Error())
					return
				}
				w.WriteHeader(http.StatusNoContent)
			})
			r.Post("/session/pause", func(w http.ResponseWriter, _ *http.Request) {
				if err := ctrl.Pause(); err != nil {
					writeError(w, http.StatusConflict, err.Error())
					return
				}
				w.WriteHeader(http.StatusNoContent)
			})
			r.Post("/session/resume", func(w http.ResponseWriter, _ *http.Request) {
				if err := ctrl.Resume(); err != nil {
					writeError(w, http.StatusConflict, err.Error())
					return
				}
				w.WriteHeader(http.StatusNoContent)
			})
		}
	})

	return r
}

// timeRange parses optional startTime/endTime query parameters. ranged is
// false when neither is present.
func timeRange(req *http.Request) (start, end time.Time, ranged bool, err error) {
	q := req.URL.Query()
	s, e := q.Get("startTime"), q.Get("endTime")
	if s == "" && e == "" {
		return time.Time{}, time.Time{}, false, nil
	}
	if start, err = time.Parse(time.RFC3339, s); err != nil {
		return time.Time{}, time.Time{}, false, err
	}
	if end, err = time.Parse(time.RFC3339, e); err != nil {
		return time.Time{}, time.Time{}, false, err
	}
	return start, end, true, nil
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
