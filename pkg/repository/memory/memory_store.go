package memory

import (
	"context"
	"math"
	"sort"
	"sync"
	"time"

	"github.com/kurame123/Yuki-bot/pkg/domain/model"
	"github.com/kurame123/Yuki-bot/pkg/domain/types"
	"github.com/m-mizutani/goerr/v2"
)

type memoryStore struct {
	mu      sync.RWMutex
	entries map[string]map[model.MemoryID]*model.MemoryRecord // keyed by scope.Key()
}

func newMemoryStore() *memoryStore {
	return &memoryStore{
		entries: make(map[string]map[model.MemoryID]*model.MemoryRecord),
	}
}

func (r *memoryStore) Put(ctx context.Context, rec *model.MemoryRecord) (*model.MemoryRecord, error) {
	if err := rec.Scope.Validate(); err != nil {
		return nil, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	key := rec.Scope.Key()
	if _, exists := r.entries[key]; !exists {
		r.entries[key] = make(map[model.MemoryID]*model.MemoryRecord)
	}

	stored := rec.Clone()
	if stored.ID == "" {
		stored.ID = model.NewMemoryID()
	}
	if stored.CreatedAt.IsZero() {
		stored.CreatedAt = time.Now().UTC()
	}

	r.entries[key][stored.ID] = stored
	return stored.Clone(), nil
}

func (r *memoryStore) Get(ctx context.Context, scope types.Scope, id model.MemoryID) (*model.MemoryRecord, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	rec, exists := r.entries[scope.Key()][id]
	if !exists {
		return nil, goerr.Wrap(types.ErrNotFound, "memory not found", goerr.V("memoryID", id))
	}
	return rec.Clone(), nil
}

func (r *memoryStore) Delete(ctx context.Context, scope types.Scope, id model.MemoryID) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	bucket := r.entries[scope.Key()]
	if _, exists := bucket[id]; !exists {
		return goerr.Wrap(types.ErrNotFound, "memory not found", goerr.V("memoryID", id))
	}
	delete(bucket, id)
	return nil
}

func (r *memoryStore) List(ctx context.Context, scope types.Scope, limit, offset int) ([]*model.MemoryRecord, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	bucket := r.entries[scope.Key()]
	all := make([]*model.MemoryRecord, 0, len(bucket))
	for _, rec := range bucket {
		all = append(all, rec.Clone())
	}

	sort.Slice(all, func(i, j int) bool {
		return all[i].CreatedAt.After(all[j].CreatedAt)
	})

	if offset >= len(all) {
		return []*model.MemoryRecord{}, nil
	}
	all = all[offset:]
	if limit > 0 && limit < len(all) {
		all = all[:limit]
	}
	return all, nil
}

func (r *memoryStore) Count(ctx context.Context, scope types.Scope) (int, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.entries[scope.Key()]), nil
}

func (r *memoryStore) FindByEmbedding(ctx context.Context, scope types.Scope, embedding []float32, limit int) ([]*model.ScoredMemory, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	bucket := r.entries[scope.Key()]
	candidates := make([]*model.ScoredMemory, 0, len(bucket))
	for _, rec := range bucket {
		if len(rec.Embedding) == 0 {
			continue
		}
		candidates = append(candidates, &model.ScoredMemory{
			Record:     rec.Clone(),
			Similarity: cosineSimilarity(embedding, rec.Embedding),
		})
	}

	sort.Slice(candidates, func(i, j int) bool {
		if candidates[i].Similarity != candidates[j].Similarity {
			return candidates[i].Similarity > candidates[j].Similarity
		}
		return candidates[i].Record.CreatedAt.After(candidates[j].Record.CreatedAt)
	})

	if limit > 0 && limit < len(candidates) {
		candidates = candidates[:limit]
	}
	return candidates, nil
}

func (r *memoryStore) SetImportance(ctx context.Context, scope types.Scope, id model.MemoryID, importance float64) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	rec, exists := r.entries[scope.Key()][id]
	if !exists {
		return goerr.Wrap(types.ErrNotFound, "memory not found", goerr.V("memoryID", id))
	}
	rec.Importance = importance
	return nil
}

func cosineSimilarity(a, b []float32) float64 {
	if len(a) != len(b) {
		return 0
	}

	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}

	denom := math.Sqrt(normA) * math.Sqrt(normB)
	if denom == 0 {
		return 0
	}
	return dot / denom
}
