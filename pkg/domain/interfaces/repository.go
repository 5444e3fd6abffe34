package interfaces

// Repository defines the interface for data persistence
type Repository interface {
	Chunk() ChunkRepository
	AgentSession() AgentSessionRepository
	Job() JobRepository

	Close() error
}
