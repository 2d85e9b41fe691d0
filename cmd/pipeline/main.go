package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"

	"voice-dictation-pipeline/internal/capture"
	"voice-dictation-pipeline/internal/config"
	"voice-dictation-pipeline/internal/enrich"
	"voice-dictation-pipeline/internal/events"
	httpapi "voice-dictation-pipeline/internal/http"
	"voice-dictation-pipeline/internal/observability"
	"voice-dictation-pipeline/internal/observability/logging"
	"voice-dictation-pipeline/internal/persist"
	"voice-dictation-pipeline/internal/pipeline"
	"voice-dictation-pipeline/internal/state"
)

func main() {
	// Optional .env for local development; env vars win either way.
	_ = godotenv.Load()

	cfg := config.Load()
	logging.Init(logging.Config{
		Level:  cfg.Observability.LogLevel,
		Format: cfg.Observability.LogFormat,
	})

	log.Info().Str("service", cfg.Service.Name).
		Str("transport", cfg.Transport.Strategy).
		Msg("Starting dictation pipeline")

	store := state.New()
	gateway := persist.New(cfg.Persistence, store)

	publisher := events.New(cfg.Kafka)
	defer publisher.Close()

	var cleaner enrich.TextCleaner = enrich.NewTextService(cfg.Enrichment)
	if cfg.Enrichment.ServiceEndpoint == "" {
		log.Warn().Msg("No text service endpoint configured, cleanup will fall back to raw text")
	}

	extractor := enrich.NewExtractor(cfg.Enrichment, store, gateway, publisher)
	cleanup := enrich.NewCleanup(cfg.Enrichment, cleaner, store, extractor.ScheduleQueue(), extractor.TodoQueue(), publisher)

	// Synthesized input stands in for a microphone; each session gets a
	// fresh source handle.
	newSource := func() capture.Source {
		return capture.NewSynthSource(cfg.Capture.SampleRateHz, 50*time.Millisecond)
	}

	p := pipeline.New(cfg, store, gateway, publisher, cleanup, extractor, newSource)

	ctx, cancel := context.WithCancel(context.Background())
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		p.Run(ctx)
	}()

	obs := observability.NewServer(":" + cfg.Observability.MetricsPort)
	obs.Start()

	api := &http.Server{
		Addr:         ":" + cfg.Service.HTTPPort,
		Handler:      httpapi.NewRouter(store, gateway, p),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	go func() {
		log.Info().Str("addr", api.Addr).Msg("API server listening")
		if err := api.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("API server failed")
		}
	}()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig

	log.Info().Msg("Shutting down")
	cancel()
	wg.Wait()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := api.Shutdown(shutdownCtx); err != nil {
		log.Warn().Err(err).Msg("API server shutdown failed")
	}
	if err := obs.Shutdown(shutdownCtx); err != nil {
		log.Warn().Err(err).Msg("Observability server shutdown failed")
	}
}
