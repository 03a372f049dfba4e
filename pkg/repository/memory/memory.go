package memory

import (
	"github.com/kurame123/Yuki-bot/pkg/domain/interfaces"
)

// Repository is an alias for Memory to match the pattern
type Repository = Memory

// Memory is the in-memory repository backend, used for development and tests
type Memory struct {
	memories  *memoryStore
	graph     *graphStore
	affection *affectionStore
}

var _ interfaces.Repository = &Memory{}

func New() *Memory {
	return &Memory{
		memories:  newMemoryStore(),
		graph:     newGraphStore(),
		affection: newAffectionStore(),
	}
}

func (m *Memory) Memory() interfaces.MemoryRepository {
	return m.memories
}

func (m *Memory) Graph() interfaces.GraphRepository {
	return m.graph
}

func (m *Memory) Affection() interfaces.AffectionRepository {
	return m.affection
}

func (m *Memory) Close() error {
	return nil
}
