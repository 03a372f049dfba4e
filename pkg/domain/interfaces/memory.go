package interfaces

import (
	"context"

	"github.com/kurame123/Yuki-bot/pkg/domain/model"
	"github.com/kurame123/Yuki-bot/pkg/domain/types"
)

// MemoryRepository stores memory records partitioned by scope. Reads return
// deep copies of durable state only; a record is never observable mid-write.
type MemoryRepository interface {
	// Put stores a record, assigning ID and CreatedAt when empty
	Put(ctx context.Context, rec *model.MemoryRecord) (*model.MemoryRecord, error)

	// Get returns a record by ID, or types.ErrNotFound
	Get(ctx context.Context, scope types.Scope, id model.MemoryID) (*model.MemoryRecord, error)

	// Delete removes a record, or types.ErrNotFound
	Delete(ctx context.Context, scope types.Scope, id model.MemoryID) error

	// List returns records sorted by CreatedAt descending, paginated
	List(ctx context.Context, scope types.Scope, limit, offset int) ([]*model.MemoryRecord, error)

	// Count returns the number of records in the partition
	Count(ctx context.Context, scope types.Scope) (int, error)

	// FindByEmbedding returns up to limit records ordered by cosine
	// similarity descending, ties broken by CreatedAt descending.
	FindByEmbedding(ctx context.Context, scope types.Scope, embedding []float32, limit int) ([]*model.ScoredMemory, error)

	// SetImportance overwrites a record's importance (GC decay path)
	SetImportance(ctx context.Context, scope types.Scope, id model.MemoryID, importance float64) error
}
