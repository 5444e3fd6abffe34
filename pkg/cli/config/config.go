package config

import (
	"errors"
	"io/fs"
	"os"
	"time"

	"github.com/m-mizutani/goerr/v2"
	"github.com/pelletier/go-toml/v2"
	domainConfig "github.com/secmon-lab/asclepius/pkg/domain/model/config"
	"github.com/secmon-lab/asclepius/pkg/domain/types"
	"github.com/urfave/cli/v3"
)

// AppConfig represents the RAG tuning file. Every key is optional; missing keys keep defaults.
type AppConfig struct {
	Chunk     ChunkSection     `toml:"chunk"`
	Retrieval RetrievalSection `toml:"retrieval"`
	Session   SessionSection   `toml:"session"`
	Timeout   TimeoutSection   `toml:"timeout"`

	path string
}

// ChunkSection configures document chunking
type ChunkSection struct {
	Size        *int `toml:"size"`
	Overlap     *int `toml:"overlap"`
	Concurrency *int `toml:"concurrency"`
}

// RetrievalSection configures similarity search
type RetrievalSection struct {
	Threshold *float64 `toml:"threshold"`
	TopK      *int     `toml:"top_k"`
	Scope     string   `toml:"scope"`
}

// SessionSection configures agent session lifetimes. Values are Go durations such as "15m".
type SessionSection struct {
	Timeout       string `toml:"timeout"`
	IdleAfter     string `toml:"idle_after"`
	SweepInterval string `toml:"sweep_interval"`
}

// TimeoutSection configures remote call deadlines
type TimeoutSection struct {
	Embedding  string `toml:"embedding"`
	Generation string `toml:"generation"`
	Health     string `toml:"health"`
}

// Flags returns CLI flags for the configuration file
func (a *AppConfig) Flags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:        "config",
			Aliases:     []string{"c"},
			Usage:       "Path to RAG tuning file (TOML). Defaults are used when omitted",
			Sources:     cli.EnvVars("ASCLEPIUS_CONFIG"),
			Destination: &a.path,
		},
	}
}

// Configure loads the file named by --config and returns the resulting domain configuration
func (a *AppConfig) Configure() (*domainConfig.RAGConfig, error) {
	if a.path == "" {
		return domainConfig.DefaultRAGConfig(), nil
	}

	loaded, err := LoadAppConfiguration(a.path)
	if err != nil {
		return nil, err
	}
	return loaded.ToDomainRAGConfig()
}

// LoadAppConfiguration loads the application configuration from a TOML file
func LoadAppConfiguration(path string) (*AppConfig, error) {
	// #nosec G304 - path is expected to be provided by CLI argument
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, goerr.Wrap(ErrConfigNotFound, "config file does not exist", goerr.V(ConfigPathKey, path))
		}
		return nil, goerr.Wrap(err, "failed to read config file", goerr.V(ConfigPathKey, path))
	}

	var config AppConfig
	if err := toml.Unmarshal(data, &config); err != nil {
		return nil, goerr.Wrap(errors.Join(ErrInvalidConfig, err), "failed to parse TOML config", goerr.V(ConfigPathKey, path))
	}
	config.path = path

	if _, err := config.ToDomainRAGConfig(); err != nil {
		return nil, goerr.Wrap(err, "config validation failed", goerr.V(ConfigPathKey, path))
	}

	return &config, nil
}

// Validate checks every value without building the domain configuration
func (a *AppConfig) Validate() error {
	_, err := a.ToDomainRAGConfig()
	return err
}

// ToDomainRAGConfig overlays the file's values on the defaults and validates the result
func (a *AppConfig) ToDomainRAGConfig() (*domainConfig.RAGConfig, error) {
	cfg := domainConfig.DefaultRAGConfig()

	if a.Chunk.Size != nil {
		cfg.ChunkSize = *a.Chunk.Size
	}
	if a.Chunk.Overlap != nil {
		cfg.ChunkOverlap = *a.Chunk.Overlap
	}
	if a.Chunk.Concurrency != nil {
		cfg.EmbedConcurrency = *a.Chunk.Concurrency
	}
	if cfg.ChunkSize < 1 {
		return nil, rangeError("chunk", "size", cfg.ChunkSize)
	}
	if cfg.ChunkOverlap < 0 || cfg.ChunkOverlap >= cfg.ChunkSize {
		return nil, rangeError("chunk", "overlap", cfg.ChunkOverlap)
	}
	if cfg.EmbedConcurrency < 1 {
		return nil, rangeError("chunk", "concurrency", cfg.EmbedConcurrency)
	}

	if a.Retrieval.Threshold != nil {
		cfg.Threshold = *a.Retrieval.Threshold
	}
	if a.Retrieval.TopK != nil {
		cfg.TopK = *a.Retrieval.TopK
	}
	if cfg.Threshold < -1 || cfg.Threshold > 1 {
		return nil, rangeError("retrieval", "threshold", cfg.Threshold)
	}
	if cfg.TopK < 1 || cfg.TopK > domainConfig.MaxTopK {
		return nil, rangeError("retrieval", "top_k", cfg.TopK)
	}
	if a.Retrieval.Scope != "" {
		scope, err := types.ParseOwnerScope(a.Retrieval.Scope)
		if err != nil {
			return nil, goerr.Wrap(ErrInvalidScope, err.Error(),
				goerr.V(SectionKey, "retrieval"), goerr.V(ValueKey, a.Retrieval.Scope))
		}
		cfg.Scope = scope
	}

	durations := []struct {
		section string
		key     string
		value   string
		dst     *time.Duration
	}{
		{"session", "timeout", a.Session.Timeout, &cfg.SessionTimeout},
		{"session", "idle_after", a.Session.IdleAfter, &cfg.IdleAfter},
		{"session", "sweep_interval", a.Session.SweepInterval, &cfg.SweepInterval},
		{"timeout", "embedding", a.Timeout.Embedding, &cfg.EmbeddingTimeout},
		{"timeout", "generation", a.Timeout.Generation, &cfg.GenerationTimeout},
		{"timeout", "health", a.Timeout.Health, &cfg.HealthTimeout},
	}
	for _, d := range durations {
		if d.value == "" {
			continue
		}
		v, err := time.ParseDuration(d.value)
		if err != nil || v <= 0 {
			return nil, goerr.Wrap(ErrInvalidTimeout, "duration must be positive, e.g. \"30s\"",
				goerr.V(SectionKey, d.section), goerr.V(KeyKey, d.key), goerr.V(ValueKey, d.value))
		}
		*d.dst = v
	}

	if cfg.IdleAfter >= cfg.SessionTimeout {
		return nil, goerr.Wrap(ErrInvalidRange, "session idle_after must be shorter than timeout",
			goerr.V("idle_after", cfg.IdleAfter), goerr.V("timeout", cfg.SessionTimeout))
	}

	return cfg, nil
}

func rangeError(section, key string, value any) error {
	return goerr.Wrap(ErrInvalidRange, "configuration value out of range",
		goerr.V(SectionKey, section), goerr.V(KeyKey, key), goerr.V(ValueKey, value))
}
