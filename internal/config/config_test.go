package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func clearEnv(t *testing.T) {
	t.Helper()
	vars := []string{
		"PIPELINE_CONFIG_FILE", "SERVICE_NAME", "HTTP_PORT",
		"CAPTURE_SAMPLE_RATE_HZ", "CAPTURE_SEGMENT_CADENCE", "CAPTURE_FRAME_BUFFER_SIZE",
		"TRANSPORT_STRATEGY", "TRANSPORT_ENDPOINT", "TRANSPORT_CHUNK_DURATION",
		"TRANSPORT_MAX_RECONNECTS", "TRANSPORT_BACKOFF_BASE", "TRANSPORT_BACKOFF_CAP",
		"TRANSPORT_HEARTBEAT_INTERVAL", "TRANSPORT_LANGUAGE_CODE",
		"ENRICH_QUEUE_CAPACITY", "ENRICH_BATCH_SIZE", "ENRICH_BATCH_DELAY",
		"ENRICH_SERVICE_TIMEOUT", "ENRICH_SERVICE_ENDPOINT",
		"PERSIST_BASE_URL", "PERSIST_TIMEOUT", "PERSIST_MAX_RETRIES", "PERSIST_FLUSH_INTERVAL",
		"KAFKA_ENABLED", "KAFKA_BROKERS", "KAFKA_PRINCIPAL",
		"LOG_LEVEL", "LOG_FORMAT", "METRICS_PORT",
	}
	for _, v := range vars {
		os.Unsetenv(v)
	}
}

func TestLoad_Defaults(t *testing.T) {
	clearEnv(t)

	cfg := Load()

	if cfg.Capture.SegmentCadence != 10*time.Second {
		t.Errorf("expected default cadence 10s, got %v", cfg.Capture.SegmentCadence)
	}
	if cfg.Capture.SampleRateHz != 16000 {
		t.Errorf("expected default sample rate 16000, got %d", cfg.Capture.SampleRateHz)
	}
	if cfg.Transport.Strategy != "mock" {
		t.Errorf("expected default strategy 'mock', got %s", cfg.Transport.Strategy)
	}
	if cfg.Transport.BackoffBase != time.Second {
		t.Errorf("expected default backoff base 1s, got %v", cfg.Transport.BackoffBase)
	}
	if cfg.Transport.BackoffCap != 10*time.Second {
		t.Errorf("expected default backoff cap 10s, got %v", cfg.Transport.BackoffCap)
	}
	if cfg.Transport.MaxReconnects != 5 {
		t.Errorf("expected default max reconnects 5, got %d", cfg.Transport.MaxReconnects)
	}
	if cfg.Enrichment.QueueCapacity != 100 {
		t.Errorf("expected default queue capacity 100, got %d", cfg.Enrichment.QueueCapacity)
	}
	if cfg.Enrichment.BatchSize != 3 {
		t.Errorf("expected default batch size 3, got %d", cfg.Enrichment.BatchSize)
	}
	if cfg.Enrichment.ServiceTimeout != 15*time.Second {
		t.Errorf("expected default service timeout 15s, got %v", cfg.Enrichment.ServiceTimeout)
	}
	if cfg.Persistence.MaxRetries != 3 {
		t.Errorf("expected default max retries 3, got %d", cfg.Persistence.MaxRetries)
	}
	if cfg.Kafka.Enabled {
		t.Error("expected Kafka disabled by default")
	}
	if cfg.Observability.LogLevel != "info" {
		t.Errorf("expected default log level 'info', got %s", cfg.Observability.LogLevel)
	}
}

func TestLoad_EnvOverrides(t *testing.T) {
	clearEnv(t)
	t.Setenv("TRANSPORT_STRATEGY", "ws")
	t.Setenv("TRANSPORT_ENDPOINT", "ws://asr.internal:9000/stream")
	t.Setenv("CAPTURE_SEGMENT_CADENCE", "5s")
	t.Setenv("ENRICH_BATCH_SIZE", "8")
	t.Setenv("KAFKA_ENABLED", "true")
	t.Setenv("KAFKA_BROKERS", "kafka-1:9092, kafka-2:9092")

	cfg := Load()

	if cfg.Transport.Strategy != "ws" {
		t.Errorf("expected strategy 'ws', got %s", cfg.Transport.Strategy)
	}
	if cfg.Transport.Endpoint != "ws://asr.internal:9000/stream" {
		t.Errorf("unexpected endpoint %s", cfg.Transport.Endpoint)
	}
	if cfg.Capture.SegmentCadence != 5*time.Second {
		t.Errorf("expected cadence 5s, got %v", cfg.Capture.SegmentCadence)
	}
	if cfg.Enrichment.BatchSize != 8 {
		t.Errorf("expected batch size 8, got %d", cfg.Enrichment.BatchSize)
	}
	if !cfg.Kafka.Enabled {
		t.Error("expected Kafka enabled")
	}
	if len(cfg.Kafka.Brokers) != 2 || cfg.Kafka.Brokers[1] != "kafka-2:9092" {
		t.Errorf("unexpected brokers %v", cfg.Kafka.Brokers)
	}
}

func TestLoad_InvalidValues_FallbackToDefaults(t *testing.T) {
	clearEnv(t)
	t.Setenv("CAPTURE_SAMPLE_RATE_HZ", "not-a-number")
	t.Setenv("CAPTURE_SEGMENT_CADENCE", "invalid")
	t.Setenv("ENRICH_BATCH_SIZE", "invalid")
	t.Setenv("KAFKA_ENABLED", "maybe")

	cfg := Load()

	if cfg.Capture.SampleRateHz != 16000 {
		t.Errorf("expected default sample rate on invalid input, got %d", cfg.Capture.SampleRateHz)
	}
	if cfg.Capture.SegmentCadence != 10*time.Second {
		t.Errorf("expected default cadence on invalid input, got %v", cfg.Capture.SegmentCadence)
	}
	if cfg.Enrichment.BatchSize != 3 {
		t.Errorf("expected default batch size on invalid input, got %d", cfg.Enrichment.BatchSize)
	}
	if cfg.Kafka.Enabled {
		t.Error("expected Kafka disabled on invalid input")
	}
}

func TestLoad_FileOverlay_EnvStillWins(t *testing.T) {
	clearEnv(t)

	dir := t.TempDir()
	path := filepath.Join(dir, "pipeline.yaml")
	content := []byte(`
transport:
  strategy: google
  language_code: en-US
enrichment:
  batch_size: 5
`)
	if err := os.WriteFile(path, content, 0o644); err != nil {
		t.Fatalf("write config file: %v", err)
	}

	t.Setenv("PIPELINE_CONFIG_FILE", path)
	t.Setenv("TRANSPORT_STRATEGY", "ws")

	cfg := Load()

	if cfg.Transport.Strategy != "ws" {
		t.Errorf("env should override file, got %s", cfg.Transport.Strategy)
	}
	if cfg.Transport.LanguageCode != "en-US" {
		t.Errorf("expected file value 'en-US', got %s", cfg.Transport.LanguageCode)
	}
	if cfg.Enrichment.BatchSize != 5 {
		t.Errorf("expected file batch size 5, got %d", cfg.Enrichment.BatchSize)
	}
}

func TestLoad_BrokenFile_Ignored(t *testing.T) {
	clearEnv(t)

	dir := t.TempDir()
	path := filepath.Join(dir, "broken.yaml")
	if err := os.WriteFile(path, []byte("{{not yaml"), 0o644); err != nil {
		t.Fatalf("write config file: %v", err)
	}

	t.Setenv("PIPELINE_CONFIG_FILE", path)

	cfg := Load()

	if cfg.Transport.Strategy != "mock" {
		t.Errorf("expected defaults when file is broken, got %s", cfg.Transport.Strategy)
	}
}

func TestKafkaPrincipal_FallsBackToServiceName(t *testing.T) {
	clearEnv(t)
	t.Setenv("SERVICE_NAME", "my-pipeline")

	cfg := Load()

	if cfg.Kafka.Principal != "my-pipeline" {
		t.Errorf("expected Kafka principal to fall back to service name, got %s", cfg.Kafka.Principal)
	}
}

func TestEnvOrDefaultBool(t *testing.T) {
	tests := []struct {
		name     string
		envValue string
		def      bool
		expected bool
	}{
		{"true string", "true", false, true},
		{"false string", "false", true, false},
		{"1", "1", false, true},
		{"0", "0", true, false},
		{"TRUE uppercase", "TRUE", false, true},
		{"invalid", "invalid", true, true},
		{"empty", "", true, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			key := "TEST_BOOL_VAR"
			if tt.envValue != "" {
				t.Setenv(key, tt.envValue)
			} else {
				os.Unsetenv(key)
			}

			got := envOrDefaultBool(key, tt.def)
			if got != tt.expected {
				t.Errorf("envOrDefaultBool(%s, %v) = %v, want %v", tt.envValue, tt.def, got, tt.expected)
			}
		})
	}
}
