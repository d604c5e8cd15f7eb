// Package config loads RepoRadar configuration.
//
// Values come from three layers, highest precedence first:
//
//  1. Environment variables (REPORADAR_GITHUB_TOKEN, GITHUB_PAT, QDRANT_URL, ...)
//  2. A YAML file (./reporadar.yaml unless --config says otherwise)
//  3. The defaults returned by Default
package config

import (
	"errors"
	"fmt"
	"time"
)

// Config is the complete RepoRadar configuration.
type Config struct {
	GitHub      GitHubConfig      `koanf:"github"`
	VectorStore VectorStoreConfig `koanf:"vectorstore"`
	Embeddings  EmbeddingsConfig  `koanf:"embeddings"`
	Indexer     IndexerConfig     `koanf:"indexer"`
	Server      ServerConfig      `koanf:"server"`
	Logging     LoggingConfig     `koanf:"logging"`
	Telemetry   TelemetryConfig   `koanf:"telemetry"`
}

// GitHubConfig configures the GitHub API client.
type GitHubConfig struct {
	Token          Secret   `koanf:"token"`
	RequestTimeout Duration `koanf:"request_timeout"`
}

// VectorStoreConfig selects and configures the vector backend.
type VectorStoreConfig struct {
	// Provider is "qdrant" or "chromem".
	Provider   string        `koanf:"provider"`
	Collection string        `koanf:"collection"`
	VectorSize int           `koanf:"vector_size"`
	Qdrant     QdrantConfig  `koanf:"qdrant"`
	Chromem    ChromemConfig `koanf:"chromem"`
}

// QdrantConfig configures the Qdrant gRPC connection.
type QdrantConfig struct {
	// URL, when set, overrides Host/Port/UseTLS (e.g. "https://xyz.cloud.qdrant.io:6334").
	URL            string   `koanf:"url"`
	Host           string   `koanf:"host"`
	Port           int      `koanf:"port"`
	APIKey         Secret   `koanf:"api_key"`
	UseTLS         bool     `koanf:"use_tls"`
	Quantization   bool     `koanf:"quantization"`
	RequestTimeout Duration `koanf:"request_timeout"`
}

// ChromemConfig configures the embedded chromem-go backend.
type ChromemConfig struct {
	// Path enables persistence; empty keeps the database in memory.
	Path     string `koanf:"path"`
	Compress bool   `koanf:"compress"`
}

// EmbeddingsConfig configures the embedding provider.
type EmbeddingsConfig struct {
	// Provider is "fastembed" or "tei".
	Provider  string `koanf:"provider"`
	Model     string `koanf:"model"`
	BaseURL   string `koanf:"base_url"`
	CacheDir  string `koanf:"cache_dir"`
	CacheSize int    `koanf:"cache_size"`
	// Workers bounds concurrent embedding calls. Zero means runtime.NumCPU().
	Workers int `koanf:"workers"`
}

// IndexerConfig configures the indexing pipeline and maintenance jobs.
type IndexerConfig struct {
	StaleDays        int  `koanf:"stale_days"`
	SeedMinStars     int  `koanf:"seed_min_stars"`
	LenientManifests bool `koanf:"lenient_manifests"`
}

// ServerConfig configures the HTTP API.
type ServerConfig struct {
	Host            string   `koanf:"host"`
	Port            int      `koanf:"port"`
	CORSOrigins     []string `koanf:"cors_origins"`
	ShutdownTimeout Duration `koanf:"shutdown_timeout"`
}

// LoggingConfig holds the user-facing logging knobs.
type LoggingConfig struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"`
}

// TelemetryConfig holds the user-facing OpenTelemetry knobs.
type TelemetryConfig struct {
	Enabled     bool   `koanf:"enabled"`
	Endpoint    string `koanf:"endpoint"`
	Insecure    bool   `koanf:"insecure"`
	ServiceName string `koanf:"service_name"`
}

// Default returns the configuration used when nothing is overridden.
func Default() *Config {
	return &Config{
		GitHub: GitHubConfig{
			RequestTimeout: Duration(30 * time.Second),
		},
		VectorStore: VectorStoreConfig{
			Provider:   "qdrant",
			Collection: "repositories",
			VectorSize: 384,
			Qdrant: QdrantConfig{
				Host:           "localhost",
				Port:           6334,
				Quantization:   true,
				RequestTimeout: Duration(30 * time.Second),
			},
		},
		Embeddings: EmbeddingsConfig{
			Provider:  "fastembed",
			Model:     "BAAI/bge-small-en-v1.5",
			BaseURL:   "http://localhost:8080",
			CacheSize: 1024,
		},
		Indexer: IndexerConfig{
			StaleDays:    7,
			SeedMinStars: 50,
		},
		Server: ServerConfig{
			Host:            "0.0.0.0",
			Port:            8000,
			CORSOrigins:     []string{"http://localhost:5173"},
			ShutdownTimeout: Duration(10 * time.Second),
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
		Telemetry: TelemetryConfig{
			Endpoint:    "localhost:4317",
			Insecure:    true,
			ServiceName: "reporadar",
		},
	}
}

// Validate checks value ranges and enumerations.
func (c *Config) Validate() error {
	var errs []error

	switch c.VectorStore.Provider {
	case "qdrant", "chromem":
	default:
		errs = append(errs, fmt.Errorf("vectorstore.provider must be qdrant or chromem, got %q", c.VectorStore.Provider))
	}
	if c.VectorStore.Collection == "" {
		errs = append(errs, errors.New("vectorstore.collection is required"))
	}
	if c.VectorStore.VectorSize <= 0 {
		errs = append(errs, fmt.Errorf("vectorstore.vector_size must be positive, got %d", c.VectorStore.VectorSize))
	}
	if c.VectorStore.Provider == "qdrant" && c.VectorStore.Qdrant.URL == "" {
		if c.VectorStore.Qdrant.Host == "" {
			errs = append(errs, errors.New("vectorstore.qdrant.host is required"))
		}
		if p := c.VectorStore.Qdrant.Port; p <= 0 || p > 65535 {
			errs = append(errs, fmt.Errorf("vectorstore.qdrant.port must be 1-65535, got %d", p))
		}
	}

	switch c.Embeddings.Provider {
	case "fastembed", "tei":
	default:
		errs = append(errs, fmt.Errorf("embeddings.provider must be fastembed or tei, got %q", c.Embeddings.Provider))
	}
	if c.Embeddings.Provider == "tei" && c.Embeddings.BaseURL == "" {
		errs = append(errs, errors.New("embeddings.base_url is required for tei"))
	}
	if c.Embeddings.CacheSize < 0 {
		errs = append(errs, fmt.Errorf("embeddings.cache_size cannot be negative, got %d", c.Embeddings.CacheSize))
	}
	if c.Embeddings.Workers < 0 {
		errs = append(errs, fmt.Errorf("embeddings.workers cannot be negative, got %d", c.Embeddings.Workers))
	}

	if c.Indexer.StaleDays < 0 {
		errs = append(errs, fmt.Errorf("indexer.stale_days cannot be negative, got %d", c.Indexer.StaleDays))
	}
	if c.Indexer.SeedMinStars < 0 {
		errs = append(errs, fmt.Errorf("indexer.seed_min_stars cannot be negative, got %d", c.Indexer.SeedMinStars))
	}

	if p := c.Server.Port; p <= 0 || p > 65535 {
		errs = append(errs, fmt.Errorf("server.port must be 1-65535, got %d", p))
	}

	switch c.Logging.Format {
	case "json", "console":
	default:
		errs = append(errs, fmt.Errorf("logging.format must be json or console, got %q", c.Logging.Format))
	}

	if c.Telemetry.Enabled && c.Telemetry.Endpoint == "" {
		errs = append(errs, errors.New("telemetry.endpoint is required when telemetry is enabled"))
	}

	return errors.Join(errs...)
}
