package config

import (
	"context"
	"log/slog"

	"github.com/m-mizutani/goerr/v2"
	"github.com/secmon-lab/asclepius/pkg/domain/interfaces"
	"github.com/secmon-lab/asclepius/pkg/service/blob"
	"github.com/secmon-lab/asclepius/pkg/utils/logging"
	"github.com/urfave/cli/v3"
)

// Storage holds CLI flags for raw upload storage
type Storage struct {
	bucket string
	prefix string
}

// Flags returns CLI flags for storage configuration
func (s *Storage) Flags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:        "storage-bucket",
			Usage:       "Cloud Storage bucket for raw uploads. In-memory storage is used when empty",
			Category:    "Storage",
			Sources:     cli.EnvVars("ASCLEPIUS_STORAGE_BUCKET"),
			Destination: &s.bucket,
		},
		&cli.StringFlag{
			Name:        "storage-prefix",
			Usage:       "Object name prefix inside the bucket",
			Category:    "Storage",
			Sources:     cli.EnvVars("ASCLEPIUS_STORAGE_PREFIX"),
			Destination: &s.prefix,
		},
	}
}

// LogValue implements slog.LogValuer
func (s Storage) LogValue() slog.Value {
	return slog.GroupValue(
		slog.String("bucket", s.bucket),
		slog.String("prefix", s.prefix),
	)
}

// Configure returns the blob storage and a function releasing it
func (s *Storage) Configure(ctx context.Context) (interfaces.BlobStorage, func(), error) {
	if s.bucket == "" {
		logging.Default().Info("Using in-memory blob storage (development mode)")
		return blob.NewMemory(), func() {}, nil
	}

	var opts []blob.GCSOption
	if s.prefix != "" {
		opts = append(opts, blob.WithPrefix(s.prefix))
	}
	gcs, err := blob.NewGCS(ctx, s.bucket, opts)
	if err != nil {
		return nil, nil, goerr.Wrap(err, "failed to initialize cloud storage", goerr.V("bucket", s.bucket))
	}

	logging.Default().Info("Using Cloud Storage", "bucket", s.bucket)
	closer := func() {
		if err := gcs.Close(); err != nil {
			logging.Default().Error("failed to close cloud storage client", "error", err.Error())
		}
	}
	return gcs, closer, nil
}
