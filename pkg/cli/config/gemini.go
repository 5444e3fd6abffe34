package config

import (
	"context"
	"log/slog"

	"github.com/m-mizutani/goerr/v2"
	"github.com/m-mizutani/gollem/llm/gemini"
	"github.com/secmon-lab/asclepius/pkg/domain/model"
	"github.com/secmon-lab/asclepius/pkg/service/embedding"
	"github.com/urfave/cli/v3"
)

// Gemini holds configuration for the secondary (fallback) embedding provider
type Gemini struct {
	projectID string
	location  string
	dimension int
}

// Flags returns CLI flags for Gemini configuration
func (g *Gemini) Flags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:        "gemini-project",
			Usage:       "Google Cloud project ID for Gemini embeddings (fallback provider, disabled when empty)",
			Category:    "Embedding",
			Sources:     cli.EnvVars("ASCLEPIUS_GEMINI_PROJECT"),
			Destination: &g.projectID,
		},
		&cli.StringFlag{
			Name:        "gemini-location",
			Usage:       "Google Cloud location for Gemini API",
			Value:       "us-central1",
			Category:    "Embedding",
			Sources:     cli.EnvVars("ASCLEPIUS_GEMINI_LOCATION"),
			Destination: &g.location,
		},
		&cli.IntFlag{
			Name:        "gemini-embedding-dimension",
			Usage:       "Output dimension requested from Gemini. Must match the vector store",
			Value:       model.EmbeddingDimension,
			Category:    "Embedding",
			Sources:     cli.EnvVars("ASCLEPIUS_GEMINI_EMBEDDING_DIMENSION"),
			Destination: &g.dimension,
		},
	}
}

// LogValue implements slog.LogValuer
func (g Gemini) LogValue() slog.Value {
	return slog.GroupValue(
		slog.String("project_id", g.projectID),
		slog.String("location", g.location),
		slog.Int("dimension", g.dimension),
	)
}

// Configure creates the Gemini embedding provider from the configured flags.
// Returns nil if projectID is not configured (no fallback provider).
func (g *Gemini) Configure(ctx context.Context) (*embedding.GollemProvider, error) {
	if g.projectID == "" {
		return nil, nil
	}

	client, err := gemini.New(ctx, g.projectID, g.location)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to create Gemini client")
	}

	return embedding.NewGollemProvider(client, "gemini", g.dimension), nil
}
