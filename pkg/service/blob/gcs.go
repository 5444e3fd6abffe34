package blob

import (
	"context"
	"errors"
	"io"
	"strings"

	"cloud.google.com/go/storage"
	"github.com/m-mizutani/goerr/v2"
	"github.com/secmon-lab/asclepius/pkg/domain/interfaces"
	"github.com/secmon-lab/asclepius/pkg/utils/safe"
	"google.golang.org/api/option"
)

// GCS stores uploads in a Cloud Storage bucket
type GCS struct {
	client *storage.Client
	bucket string
	prefix string
}

var _ interfaces.BlobStorage = &GCS{}

type GCSOption func(*GCS)

// WithPrefix puts every object under prefix
func WithPrefix(prefix string) GCSOption {
	return func(g *GCS) {
		g.prefix = strings.Trim(prefix, "/")
	}
}

func NewGCS(ctx context.Context, bucket string, opts []GCSOption, clientOpts ...option.ClientOption) (*GCS, error) {
	if bucket == "" {
		return nil, goerr.New("bucket name is required")
	}

	client, err := storage.NewClient(ctx, clientOpts...)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to create storage client", goerr.V("bucket", bucket))
	}

	g := &GCS{client: client, bucket: bucket}
	for _, opt := range opts {
		opt(g)
	}
	return g, nil
}

func (g *GCS) objectName(path string) string {
	if g.prefix == "" {
		return path
	}
	return g.prefix + "/" + path
}

func (g *GCS) Put(ctx context.Context, path string, r io.Reader, contentType string) error {
	if path == "" {
		return goerr.Wrap(errEmptyPath, "failed to put object")
	}
	name := g.objectName(path)

	// Canceling the writer context aborts a partial upload
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	w := g.client.Bucket(g.bucket).Object(name).NewWriter(ctx)
	w.ContentType = contentType

	if _, err := io.Copy(w, r); err != nil {
		cancel()
		return goerr.Wrap(err, "failed to write object", goerr.V("bucket", g.bucket), goerr.V("object", name))
	}
	if err := w.Close(); err != nil {
		return goerr.Wrap(err, "failed to finalize object", goerr.V("bucket", g.bucket), goerr.V("object", name))
	}
	return nil
}

func (g *GCS) Get(ctx context.Context, path string) (io.ReadCloser, error) {
	name := g.objectName(path)
	r, err := g.client.Bucket(g.bucket).Object(name).NewReader(ctx)
	if err != nil {
		if errors.Is(err, storage.ErrObjectNotExist) {
			return nil, goerr.Wrap(ErrNotFound, "object not found", goerr.V("bucket", g.bucket), goerr.V("object", name))
		}
		return nil, goerr.Wrap(err, "failed to open object", goerr.V("bucket", g.bucket), goerr.V("object", name))
	}
	return r, nil
}

func (g *GCS) Delete(ctx context.Context, path string) error {
	name := g.objectName(path)
	if err := g.client.Bucket(g.bucket).Object(name).Delete(ctx); err != nil {
		if errors.Is(err, storage.ErrObjectNotExist) {
			return goerr.Wrap(ErrNotFound, "object not found", goerr.V("bucket", g.bucket), goerr.V("object", name))
		}
		return goerr.Wrap(err, "failed to delete object", goerr.V("bucket", g.bucket), goerr.V("object", name))
	}
	return nil
}

// ReadAll reads a whole object and closes the reader
func ReadAll(ctx context.Context, s interfaces.BlobStorage, path string) ([]byte, error) {
	r, err := s.Get(ctx, path)
	if err != nil {
		return nil, err
	}
	defer safe.Close(ctx, r)

	data, err := io.ReadAll(r)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to read object", goerr.V("path", path))
	}
	return data, nil
}

func (g *GCS) Close() error {
	return g.client.Close()
}
