// Package config loads pipeline configuration from the environment, with an
// optional YAML file overlay. Environment variables win over file values;
// unparseable values fall back to defaults rather than failing startup.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the complete pipeline configuration.
type Config struct {
	Service       ServiceConfig       `yaml:"service"`
	Capture       CaptureConfig       `yaml:"capture"`
	Transport     TransportConfig     `yaml:"transport"`
	Enrichment    EnrichmentConfig    `yaml:"enrichment"`
	Persistence   PersistenceConfig   `yaml:"persistence"`
	Kafka         KafkaConfig         `yaml:"kafka"`
	Observability ObservabilityConfig `yaml:"observability"`
}

// ServiceConfig identifies the process and its local HTTP surface.
type ServiceConfig struct {
	Name     string `yaml:"name"`
	HTTPPort string `yaml:"http_port"`
}

// CaptureConfig controls the audio capture manager.
type CaptureConfig struct {
	SampleRateHz    int           `yaml:"sample_rate_hz"`
	SegmentCadence  time.Duration `yaml:"segment_cadence"`
	FrameBufferSize int           `yaml:"frame_buffer_size"`
}

// TransportConfig controls the streaming recognition transport.
type TransportConfig struct {
	Strategy          string        `yaml:"strategy"` // ws, google, mock
	Endpoint          string        `yaml:"endpoint"`
	ChunkDuration     time.Duration `yaml:"chunk_duration"`
	MaxReconnects     int           `yaml:"max_reconnects"`
	BackoffBase       time.Duration `yaml:"backoff_base"`
	BackoffCap        time.Duration `yaml:"backoff_cap"`
	HeartbeatInterval time.Duration `yaml:"heartbeat_interval"`
	LanguageCode      string        `yaml:"language_code"`
}

// EnrichmentConfig controls the three enrichment queues and the text service.
type EnrichmentConfig struct {
	QueueCapacity   int           `yaml:"queue_capacity"`
	BatchSize       int           `yaml:"batch_size"`
	BatchDelay      time.Duration `yaml:"batch_delay"`
	ServiceTimeout  time.Duration `yaml:"service_timeout"`
	ServiceEndpoint string        `yaml:"service_endpoint"`
	ServiceAPIKey   string        `yaml:"service_api_key"`
	ServiceModel    string        `yaml:"service_model"`
}

// PersistenceConfig controls the upload/query gateway.
type PersistenceConfig struct {
	BaseURL       string        `yaml:"base_url"`
	Timeout       time.Duration `yaml:"timeout"`
	MaxRetries    int           `yaml:"max_retries"`
	FlushInterval time.Duration `yaml:"flush_interval"`
}

// KafkaConfig controls the optional transcript event fan-out.
type KafkaConfig struct {
	Enabled      bool     `yaml:"enabled"`
	Brokers      []string `yaml:"brokers"`
	TopicPartial string   `yaml:"topic_partial"`
	TopicFinal   string   `yaml:"topic_final"`
	TopicEnrich  string   `yaml:"topic_enrich"`
	Principal    string   `yaml:"principal"`
}

// ObservabilityConfig controls logging and the metrics server.
type ObservabilityConfig struct {
	LogLevel    string `yaml:"log_level"`
	LogFormat   string `yaml:"log_format"` // json, console
	MetricsPort string `yaml:"metrics_port"`
}

// Load builds the configuration. If PIPELINE_CONFIG_FILE points at a YAML
// file its values are applied first, then environment variables override.
func Load() *Config {
	cfg := defaults()

	if path := os.Getenv("PIPELINE_CONFIG_FILE"); path != "" {
		if err := cfg.applyFile(path); err != nil {
			// A broken file never prevents startup; env + defaults still apply.
			fmt.Fprintf(os.Stderr, "config file ignored: %v\n", err)
		}
	}

	cfg.applyEnv()
	return cfg
}

func defaults() *Config {
	return &Config{
		Service: ServiceConfig{
			Name:     "voice-dictation-pipeline",
			HTTPPort: "8080",
		},
		Capture: CaptureConfig{
			SampleRateHz:    16000,
			SegmentCadence:  10 * time.Second,
			FrameBufferSize: 64,
		},
		Transport: TransportConfig{
			Strategy:          "mock",
			Endpoint:          "ws://localhost:8178/asr",
			ChunkDuration:     50 * time.Millisecond,
			MaxReconnects:     5,
			BackoffBase:       time.Second,
			BackoffCap:        10 * time.Second,
			HeartbeatInterval: 15 * time.Second,
			LanguageCode:      "zh-CN",
		},
		Enrichment: EnrichmentConfig{
			QueueCapacity:  100,
			BatchSize:      3,
			BatchDelay:     2 * time.Second,
			ServiceTimeout: 15 * time.Second,
			ServiceModel:   "gpt-4o-mini",
		},
		Persistence: PersistenceConfig{
			BaseURL:       "http://localhost:8840/api",
			Timeout:       10 * time.Second,
			MaxRetries:    3,
			FlushInterval: 30 * time.Second,
		},
		Kafka: KafkaConfig{
			Enabled:      false,
			TopicPartial: "dictation.transcript.partial",
			TopicFinal:   "dictation.transcript.final",
			TopicEnrich:  "dictation.enrichment",
		},
		Observability: ObservabilityConfig{
			LogLevel:    "info",
			LogFormat:   "json",
			MetricsPort: "9090",
		},
	}
}

func (c *Config) applyFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("parse %s: %w", path, err)
	}
	return nil
}

func (c *Config) applyEnv() {
	c.Service.Name = envOrDefault("SERVICE_NAME", c.Service.Name)
	c.Service.HTTPPort = envOrDefault("HTTP_PORT", c.Service.HTTPPort)

	c.Capture.SampleRateHz = envOrDefaultInt("CAPTURE_SAMPLE_RATE_HZ", c.Capture.SampleRateHz)
	c.Capture.SegmentCadence = envOrDefaultDuration("CAPTURE_SEGMENT_CADENCE", c.Capture.SegmentCadence)
	c.Capture.FrameBufferSize = envOrDefaultInt("CAPTURE_FRAME_BUFFER_SIZE", c.Capture.FrameBufferSize)

	c.Transport.Strategy = envOrDefault("TRANSPORT_STRATEGY", c.Transport.Strategy)
	c.Transport.Endpoint = envOrDefault("TRANSPORT_ENDPOINT", c.Transport.Endpoint)
	c.Transport.ChunkDuration = envOrDefaultDuration("TRANSPORT_CHUNK_DURATION", c.Transport.ChunkDuration)
	c.Transport.MaxReconnects = envOrDefaultInt("TRANSPORT_MAX_RECONNECTS", c.Transport.MaxReconnects)
	c.Transport.BackoffBase = envOrDefaultDuration("TRANSPORT_BACKOFF_BASE", c.Transport.BackoffBase)
	c.Transport.BackoffCap = envOrDefaultDuration("TRANSPORT_BACKOFF_CAP", c.Transport.BackoffCap)
	c.Transport.HeartbeatInterval = envOrDefaultDuration("TRANSPORT_HEARTBEAT_INTERVAL", c.Transport.HeartbeatInterval)
	c.Transport.LanguageCode = envOrDefault("TRANSPORT_LANGUAGE_CODE", c.Transport.LanguageCode)

	c.Enrichment.QueueCapacity = envOrDefaultInt("ENRICH_QUEUE_CAPACITY", c.Enrichment.QueueCapacity)
	c.Enrichment.BatchSize = envOrDefaultInt("ENRICH_BATCH_SIZE", c.Enrichment.BatchSize)
	c.Enrichment.BatchDelay = envOrDefaultDuration("ENRICH_BATCH_DELAY", c.Enrichment.BatchDelay)
	c.Enrichment.ServiceTimeout = envOrDefaultDuration("ENRICH_SERVICE_TIMEOUT", c.Enrichment.ServiceTimeout)
	c.Enrichment.ServiceEndpoint = envOrDefault("ENRICH_SERVICE_ENDPOINT", c.Enrichment.ServiceEndpoint)
	c.Enrichment.ServiceAPIKey = envOrDefault("ENRICH_SERVICE_API_KEY", c.Enrichment.ServiceAPIKey)
	c.Enrichment.ServiceModel = envOrDefault("ENRICH_SERVICE_MODEL", c.Enrichment.ServiceModel)

	c.Persistence.BaseURL = envOrDefault("PERSIST_BASE_URL", c.Persistence.BaseURL)
	c.Persistence.Timeout = envOrDefaultDuration("PERSIST_TIMEOUT", c.Persistence.Timeout)
	c.Persistence.MaxRetries = envOrDefaultInt("PERSIST_MAX_RETRIES", c.Persistence.MaxRetries)
	c.Persistence.FlushInterval = envOrDefaultDuration("PERSIST_FLUSH_INTERVAL", c.Persistence.FlushInterval)

	c.Kafka.Enabled = envOrDefaultBool("KAFKA_ENABLED", c.Kafka.Enabled)
	if brokers := os.Getenv("KAFKA_BROKERS"); brokers != "" {
		c.Kafka.Brokers = splitAndTrim(brokers)
	}
	c.Kafka.TopicPartial = envOrDefault("KAFKA_TOPIC_PARTIAL", c.Kafka.TopicPartial)
	c.Kafka.TopicFinal = envOrDefault("KAFKA_TOPIC_FINAL", c.Kafka.TopicFinal)
	c.Kafka.TopicEnrich = envOrDefault("KAFKA_TOPIC_ENRICH", c.Kafka.TopicEnrich)
	c.Kafka.Principal = envOrDefault("KAFKA_PRINCIPAL", c.Service.Name)

	c.Observability.LogLevel = envOrDefault("LOG_LEVEL", c.Observability.LogLevel)
	c.Observability.LogFormat = envOrDefault("LOG_FORMAT", c.Observability.LogFormat)
	c.Observability.MetricsPort = envOrDefault("METRICS_PORT", c.Observability.MetricsPort)
}

func envOrDefault(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func envOrDefaultInt(key string, def int) int {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}

func envOrDefaultBool(key string, def bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(strings.ToLower(v))
	if err != nil {
		return def
	}
	return b
}

func envOrDefaultDuration(key string, def time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return def
	}
	return d
}

func splitAndTrim(s string) []string {
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if t := strings.TrimSpace(p); t != "" {
			out = append(out, t)
		}
	}
	return out
}
