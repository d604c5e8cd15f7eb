package config

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/rawbytes"
	"github.com/knadh/koanf/v2"
)

const (
	// DefaultPath is used when no --config flag is given. A missing file is not an error.
	DefaultPath = "reporadar.yaml"

	envPrefix         = "REPORADAR_"
	maxConfigFileSize = 1024 * 1024 // 1MB
)

// legacyEnv maps the bare variable names used by existing deployments to config keys.
var legacyEnv = map[string]string{
	"GITHUB_PAT":       "github.token",
	"QDRANT_URL":       "vectorstore.qdrant.url",
	"QDRANT_HOST":      "vectorstore.qdrant.host",
	"QDRANT_PORT":      "vectorstore.qdrant.port",
	"QDRANT_API_KEY":   "vectorstore.qdrant.api_key",
	"EMBEDDING_MODEL":  "embeddings.model",
	"INDEX_STALE_DAYS": "indexer.stale_days",
	"SEED_MIN_STARS":   "indexer.seed_min_stars",
}

// nestedSections lists "section_sub" prefixes that map to a nested table.
var nestedSections = []string{"vectorstore_qdrant", "vectorstore_chromem"}

// Load reads configuration from path (DefaultPath when empty), then applies
// the legacy environment names, then REPORADAR_* variables.
//
// Prefixed variables map to keys by splitting on the first underscore:
//
//	REPORADAR_GITHUB_TOKEN             -> github.token
//	REPORADAR_INDEXER_STALE_DAYS       -> indexer.stale_days
//	REPORADAR_VECTORSTORE_QDRANT_HOST  -> vectorstore.qdrant.host
func Load(path string) (*Config, error) {
	k := koanf.New(".")

	explicit := path != ""
	if path == "" {
		path = DefaultPath
	}

	content, err := readConfigFile(path)
	switch {
	case errors.Is(err, os.ErrNotExist) && !explicit:
		// no file, defaults and env only
	case err != nil:
		return nil, err
	default:
		if err := k.Load(rawbytes.Provider(content), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("failed to load config file %s: %w", path, err)
		}
	}

	if err := k.Load(env.ProviderWithValue("", ".", func(key, value string) (string, interface{}) {
		if mapped, ok := legacyEnv[key]; ok {
			return mapped, value
		}
		return "", nil
	}), nil); err != nil {
		return nil, fmt.Errorf("failed to load legacy environment variables: %w", err)
	}

	if err := k.Load(env.Provider(envPrefix, ".", envKey), nil); err != nil {
		return nil, fmt.Errorf("failed to load environment variables: %w", err)
	}

	cfg := Default()
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	return cfg, nil
}

// envKey turns REPORADAR_SECTION_FIELD_NAME into section.field_name.
func envKey(s string) string {
	lower := strings.ToLower(strings.TrimPrefix(s, envPrefix))

	for _, nested := range nestedSections {
		if strings.HasPrefix(lower, nested+"_") {
			section := strings.Replace(nested, "_", ".", 1)
			return section + "." + strings.TrimPrefix(lower, nested+"_")
		}
	}

	parts := strings.SplitN(lower, "_", 2)
	if len(parts) == 1 {
		return lower
	}
	return parts[0] + "." + parts[1]
}

func readConfigFile(path string) ([]byte, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open config file: %w", err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return nil, fmt.Errorf("failed to stat config file: %w", err)
	}
	if info.IsDir() {
		return nil, fmt.Errorf("config path %s is a directory", path)
	}
	if info.Size() > maxConfigFileSize {
		return nil, fmt.Errorf("config file too large: %d bytes (max %d)", info.Size(), maxConfigFileSize)
	}

	content, err := io.ReadAll(f)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	return content, nil
}
