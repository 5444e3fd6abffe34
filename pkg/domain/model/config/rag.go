package config

import (
	"time"

	"github.com/secmon-lab/asclepius/pkg/domain/types"
)

// Defaults for RAGConfig
const (
	DefaultChunkSize         = 2000
	DefaultChunkOverlap      = 200
	DefaultThreshold         = 0.5
	DefaultTopK              = 5
	MaxTopK                  = 20
	DefaultTemperature       = 0.7
	MaxTemperature           = 2.0
	DefaultSessionTimeout    = time.Hour
	DefaultIdleAfter         = 15 * time.Minute
	DefaultSweepInterval     = 5 * time.Minute
	DefaultEmbeddingTimeout  = 30 * time.Second
	DefaultGenerationTimeout = 60 * time.Second
	DefaultHealthTimeout     = 5 * time.Second
	DefaultEmbedConcurrency  = 4
)

// RAGConfig holds the tuning parameters of chunking, retrieval and agent sessions
type RAGConfig struct {
	ChunkSize    int
	ChunkOverlap int

	Threshold float64
	TopK      int
	Scope     types.OwnerScope

	SessionTimeout time.Duration
	IdleAfter      time.Duration
	SweepInterval  time.Duration

	EmbeddingTimeout  time.Duration
	GenerationTimeout time.Duration
	HealthTimeout     time.Duration

	EmbedConcurrency int
}

// DefaultRAGConfig returns the configuration used when no file is given
func DefaultRAGConfig() *RAGConfig {
	return &RAGConfig{
		ChunkSize:         DefaultChunkSize,
		ChunkOverlap:      DefaultChunkOverlap,
		Threshold:         DefaultThreshold,
		TopK:              DefaultTopK,
		Scope:             types.ScopeShared,
		SessionTimeout:    DefaultSessionTimeout,
		IdleAfter:         DefaultIdleAfter,
		SweepInterval:     DefaultSweepInterval,
		EmbeddingTimeout:  DefaultEmbeddingTimeout,
		GenerationTimeout: DefaultGenerationTimeout,
		HealthTimeout:     DefaultHealthTimeout,
		EmbedConcurrency:  DefaultEmbedConcurrency,
	}
}
