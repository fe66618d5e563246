// Package config provides configuration loading for buildbuddy.
//
// Configuration is layered: built-in defaults, then an optional YAML file,
// then environment variables. See Load for the precedence rules.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// Config holds the complete buildbuddy configuration.
type Config struct {
	Server        ServerConfig        `koanf:"server"`
	Model         ModelConfig         `koanf:"model"`
	Pipeline      PipelineConfig      `koanf:"pipeline"`
	Catalog       CatalogConfig       `koanf:"catalog"`
	Artifacts     ArtifactsConfig     `koanf:"artifacts"`
	Speech        SpeechConfig        `koanf:"speech"`
	Events        EventsConfig        `koanf:"events"`
	Observability ObservabilityConfig `koanf:"observability"`
	Logging       LoggingConfig       `koanf:"logging"`
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Host            string   `koanf:"host"`
	Port            int      `koanf:"http_port"`
	ShutdownTimeout Duration `koanf:"shutdown_timeout"`
	AllowOrigins    []string `koanf:"allow_origins"`
}

// ModelConfig selects and configures the generative-model backend.
type ModelConfig struct {
	// Provider is one of "gemini", "openai" or "none".
	Provider string `koanf:"provider"`
	Name     string `koanf:"name"`
	APIKey   Secret `koanf:"api_key"`

	// Backend is "gemini_api" or "vertex" (gemini provider only).
	Backend  string `koanf:"backend"`
	Project  string `koanf:"project"`
	Location string `koanf:"location"`

	// BaseURL points the openai provider at any compatible endpoint.
	BaseURL string `koanf:"base_url"`

	ImageModel        string  `koanf:"image_model"`
	RequestsPerSecond float64 `koanf:"requests_per_second"`
	Burst             int     `koanf:"burst"`
	MaxOutputTokens   int     `koanf:"max_output_tokens"`
}

// PipelineConfig controls the Build → Critique → Improve → Visualize run.
type PipelineConfig struct {
	// MockMode substitutes deterministic stage output. Never enabled implicitly.
	MockMode       bool              `koanf:"mock_mode"`
	CallTimeout    Duration          `koanf:"call_timeout"`
	RequestTimeout Duration          `koanf:"request_timeout"`
	TopK           int               `koanf:"top_k"`
	Templates      map[string]string `koanf:"templates"`
	// ScrubQueries redacts credentials from queries before any stage sees them.
	ScrubQueries bool `koanf:"scrub_queries"`
}

// CatalogConfig configures the parts retrieval index.
type CatalogConfig struct {
	DataDir   string   `koanf:"data_dir"`
	Seed      bool     `koanf:"seed"`
	CacheSize int      `koanf:"cache_size"`
	CacheTTL  Duration `koanf:"cache_ttl"`
	// Embedder is "hash" (offline feature hashing) or "openai", which uses
	// model.api_key and model.base_url.
	Embedder       string `koanf:"embedder"`
	EmbeddingModel string `koanf:"embedding_model"`
	// RerankPool is how many vector candidates per requested part are
	// re-ordered by term overlap. One or less disables reranking.
	RerankPool int `koanf:"rerank_pool"`
}

// ArtifactsConfig configures the S3-compatible store for rendered images.
// An empty Endpoint keeps images in memory.
type ArtifactsConfig struct {
	Endpoint  string   `koanf:"endpoint"`
	AccessKey Secret   `koanf:"access_key"`
	SecretKey Secret   `koanf:"secret_key"`
	Bucket    string   `koanf:"bucket"`
	UseSSL    bool     `koanf:"use_ssl"`
	URLExpiry Duration `koanf:"url_expiry"`
}

// SpeechConfig configures the ElevenLabs text-to-speech collaborator.
type SpeechConfig struct {
	APIKey  Secret   `koanf:"api_key"`
	BaseURL string   `koanf:"base_url"`
	VoiceID string   `koanf:"voice_id"`
	ModelID string   `koanf:"model_id"`
	Timeout Duration `koanf:"timeout"`
}

// EventsConfig configures stage progress publishing. Empty NATSURL disables it.
type EventsConfig struct {
	NATSURL       string `koanf:"nats_url"`
	SubjectPrefix string `koanf:"subject_prefix"`
}

// ObservabilityConfig holds OpenTelemetry configuration.
type ObservabilityConfig struct {
	EnableTelemetry bool    `koanf:"enable_telemetry"`
	ServiceName     string  `koanf:"service_name"`
	Endpoint        string  `koanf:"endpoint"`
	Protocol        string  `koanf:"protocol"`
	Insecure        bool    `koanf:"insecure"`
	SampleRate      float64 `koanf:"sample_rate"`
}

// LoggingConfig holds the subset of logging settings exposed to operators.
type LoggingConfig struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"`
}

// Default returns a configuration with production defaults.
//
// The model provider defaults to gemini; without credentials the genai client
// fails at startup and the daemon refuses to start unless mock mode is set.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Host:            "0.0.0.0",
			Port:            8000,
			ShutdownTimeout: Duration(10 * time.Second),
			AllowOrigins:    []string{"http://localhost:3000"},
		},
		Model: ModelConfig{
			Provider:          "gemini",
			Name:              "gemini-2.0-flash",
			Backend:           "gemini_api",
			Location:          "us-central1",
			ImageModel:        "imagen-3.0-generate-002",
			RequestsPerSecond: 2,
			Burst:             2,
			MaxOutputTokens:   4096,
		},
		Pipeline: PipelineConfig{
			CallTimeout:    Duration(45 * time.Second),
			RequestTimeout: Duration(3 * time.Minute),
			TopK:           8,
			ScrubQueries:   true,
		},
		Catalog: CatalogConfig{
			Seed:           true,
			CacheSize:      256,
			CacheTTL:       Duration(10 * time.Minute),
			Embedder:       "hash",
			EmbeddingModel: "text-embedding-3-small",
			RerankPool:     3,
		},
		Artifacts: ArtifactsConfig{
			Bucket:    "buildbuddy-renders",
			URLExpiry: Duration(24 * time.Hour),
		},
		Speech: SpeechConfig{
			BaseURL: "https://api.elevenlabs.io",
			VoiceID: "21m00Tcm4TlvDq8ikWAM",
			ModelID: "eleven_monolingual_v1",
			Timeout: Duration(30 * time.Second),
		},
		Events: EventsConfig{
			SubjectPrefix: "buildbuddy.pipeline",
		},
		Observability: ObservabilityConfig{
			ServiceName: "buildbuddy",
			Endpoint:    "localhost:4317",
			Protocol:    "grpc",
			Insecure:    true,
			SampleRate:  1.0,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
	}
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d (must be 1-65535)", c.Server.Port)
	}
	if c.Server.ShutdownTimeout.Duration() <= 0 {
		return errors.New("shutdown timeout must be positive")
	}

	switch strings.ToLower(c.Model.Provider) {
	case "gemini":
		if c.Model.Backend != "gemini_api" && c.Model.Backend != "vertex" {
			return fmt.Errorf("model.backend must be gemini_api or vertex, got %q", c.Model.Backend)
		}
		if c.Model.Backend == "vertex" && c.Model.Project == "" {
			return errors.New("model.project is required for the vertex backend")
		}
	case "openai":
		if !c.Model.APIKey.IsSet() {
			return errors.New("model.api_key is required for the openai provider")
		}
	case "none":
		if !c.Pipeline.MockMode {
			return errors.New("model.provider none requires pipeline.mock_mode")
		}
	default:
		return fmt.Errorf("unknown model.provider %q", c.Model.Provider)
	}
	if c.Model.Name == "" && c.Model.Provider != "none" {
		return errors.New("model.name is required")
	}
	if c.Model.RequestsPerSecond < 0 {
		return fmt.Errorf("model.requests_per_second cannot be negative: %v", c.Model.RequestsPerSecond)
	}
	if c.Model.MaxOutputTokens <= 0 {
		return fmt.Errorf("model.max_output_tokens must be positive, got %d", c.Model.MaxOutputTokens)
	}

	if c.Pipeline.CallTimeout.Duration() <= 0 {
		return errors.New("pipeline.call_timeout must be positive")
	}
	if c.Pipeline.RequestTimeout.Duration() < c.Pipeline.CallTimeout.Duration() {
		return errors.New("pipeline.request_timeout must be at least pipeline.call_timeout")
	}
	if c.Pipeline.TopK <= 0 || c.Pipeline.TopK > 50 {
		return fmt.Errorf("pipeline.top_k must be 1-50, got %d", c.Pipeline.TopK)
	}
	for stage := range c.Pipeline.Templates {
		switch stage {
		case "build", "critique", "improve", "visualize":
		default:
			return fmt.Errorf("pipeline.templates: unknown stage %q", stage)
		}
	}

	if c.Catalog.RerankPool < 0 {
		return fmt.Errorf("catalog.rerank_pool cannot be negative: %d", c.Catalog.RerankPool)
	}
	if c.Catalog.CacheSize < 0 {
		return fmt.Errorf("catalog.cache_size cannot be negative: %d", c.Catalog.CacheSize)
	}
	switch c.Catalog.Embedder {
	case "hash":
	case "openai":
		if !c.Model.APIKey.IsSet() {
			return errors.New("catalog.embedder openai requires model.api_key")
		}
	default:
		return fmt.Errorf("catalog.embedder must be 'hash' or 'openai', got %q", c.Catalog.Embedder)
	}
	if c.Artifacts.Endpoint != "" && c.Artifacts.Bucket == "" {
		return errors.New("artifacts.bucket is required when artifacts.endpoint is set")
	}

	if c.Observability.EnableTelemetry {
		if c.Observability.ServiceName == "" {
			return errors.New("service name required when telemetry is enabled")
		}
		if c.Observability.SampleRate < 0 || c.Observability.SampleRate > 1 {
			return fmt.Errorf("observability.sample_rate must be between 0 and 1, got %f", c.Observability.SampleRate)
		}
	}

	if c.Logging.Format != "json" && c.Logging.Format != "console" {
		return fmt.Errorf("logging.format must be 'json' or 'console', got %q", c.Logging.Format)
	}
	return nil
}
