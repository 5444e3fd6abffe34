package memory

import (
	"github.com/secmon-lab/asclepius/pkg/domain/interfaces"
)

// ErrNotFound is returned when a record does not exist
var ErrNotFound = interfaces.ErrNotFound

type Memory struct {
	chunk   *chunkRepository
	session *sessionRepository
	job     *jobRepository
}

var _ interfaces.Repository = &Memory{}

func New() *Memory {
	return &Memory{
		chunk:   newChunkRepository(),
		session: newSessionRepository(),
		job:     newJobRepository(),
	}
}

func (m *Memory) Chunk() interfaces.ChunkRepository {
	return m.chunk
}

func (m *Memory) AgentSession() interfaces.AgentSessionRepository {
	return m.session
}

func (m *Memory) Job() interfaces.JobRepository {
	return m.job
}

func (m *Memory) Close() error {
	return nil
}
