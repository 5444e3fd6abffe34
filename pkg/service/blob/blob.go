package blob

import (
	"bytes"
	"context"
	"errors"
	"io"
	"sync"

	"github.com/m-mizutani/goerr/v2"
	"github.com/secmon-lab/asclepius/pkg/domain/interfaces"
)

// ErrNotFound is returned when no object exists at the path
var ErrNotFound = interfaces.ErrNotFound

var errEmptyPath = errors.New("blob path is empty")

type object struct {
	data        []byte
	contentType string
}

// Memory keeps uploads in process memory. Used for development and tests.
type Memory struct {
	mu      sync.RWMutex
	objects map[string]object
}

var _ interfaces.BlobStorage = &Memory{}

func NewMemory() *Memory {
	return &Memory{objects: make(map[string]object)}
}

func (m *Memory) Put(ctx context.Context, path string, r io.Reader, contentType string) error {
	if path == "" {
		return goerr.Wrap(errEmptyPath, "failed to put object")
	}
	data, err := io.ReadAll(r)
	if err != nil {
		return goerr.Wrap(err, "failed to read object body", goerr.V("path", path))
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.objects[path] = object{data: data, contentType: contentType}
	return nil
}

func (m *Memory) Get(ctx context.Context, path string) (io.ReadCloser, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	obj, ok := m.objects[path]
	if !ok {
		return nil, goerr.Wrap(ErrNotFound, "object not found", goerr.V("path", path))
	}
	return io.NopCloser(bytes.NewReader(obj.data)), nil
}

func (m *Memory) Delete(ctx context.Context, path string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.objects[path]; !ok {
		return goerr.Wrap(ErrNotFound, "object not found", goerr.V("path", path))
	}
	delete(m.objects, path)
	return nil
}

// ContentType returns the content type an object was stored with
func (m *Memory) ContentType(path string) (string, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	obj, ok := m.objects[path]
	return obj.contentType, ok
}
