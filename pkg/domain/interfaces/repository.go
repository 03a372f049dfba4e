package interfaces

// Repository aggregates the three stores. Each store is exclusively owned by
// its component service; the orchestrator never touches them directly.
type Repository interface {
	Memory() MemoryRepository
	Graph() GraphRepository
	Affection() AffectionRepository
	Close() error
}
