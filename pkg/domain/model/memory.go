package model

import (
	"time"

	"github.com/google/uuid"
	"github.com/kurame123/Yuki-bot/pkg/domain/types"
)

// EmbeddingDimension is the dimension of the embedding vector.
// Gemini text-embedding-004 uses 768 dimensions.
const EmbeddingDimension = 768

// MemoryID is a UUID-based identifier for MemoryRecord
type MemoryID string

// NewMemoryID generates a new UUID v4 MemoryID
func NewMemoryID() MemoryID {
	return MemoryID(uuid.New().String())
}

// MemoryRecord is one remembered fact about a conversation, owned by the
// vector store of its scope partition. Records are immutable after write
// except for importance decay applied by garbage collection.
type MemoryRecord struct {
	ID         MemoryID
	Scope      types.Scope
	UserID     types.UserID
	Content    string `masq:"secret"`
	Embedding  []float32
	Importance float64
	CreatedAt  time.Time
}

// Clone returns a deep copy so callers never share the embedding slice with
// store-internal state.
func (m *MemoryRecord) Clone() *MemoryRecord {
	copied := *m
	if m.Embedding != nil {
		copied.Embedding = make([]float32, len(m.Embedding))
		copy(copied.Embedding, m.Embedding)
	}
	return &copied
}

// ScoredMemory is a search result: a record with its similarity to the query
type ScoredMemory struct {
	Record     *MemoryRecord
	Similarity float64
}
