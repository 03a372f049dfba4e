package memsvc

import (
	"context"
	"math"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/kurame123/Yuki-bot/pkg/domain/interfaces"
	"github.com/kurame123/Yuki-bot/pkg/domain/model"
	"github.com/kurame123/Yuki-bot/pkg/domain/model/config"
	"github.com/kurame123/Yuki-bot/pkg/domain/types"
	"github.com/kurame123/Yuki-bot/pkg/utils/logging"
	"github.com/m-mizutani/goerr/v2"
	"github.com/m-mizutani/gollem"
)

// Service is the vector memory store: it owns embedding generation,
// capacity-bounded inserts and similarity search over scope partitions.
// Mutations on one partition are serialized; searches never block on the
// embedding backend once the query vector is in hand.
type Service struct {
	repo interfaces.MemoryRepository
	llm  gollem.LLMClient
	cfg  config.MemoryConfig

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func New(repo interfaces.MemoryRepository, llm gollem.LLMClient, persona *config.Persona) (*Service, error) {
	if repo == nil {
		return nil, goerr.New("memory repository is required")
	}
	if llm == nil {
		return nil, goerr.New("LLM client is required")
	}

	return &Service{
		repo:  repo,
		llm:   llm,
		cfg:   persona.Memory,
		locks: make(map[string]*sync.Mutex),
	}, nil
}

// partitionLock returns the single-writer lock for a scope partition
func (s *Service) partitionLock(scope types.Scope) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := scope.Key()
	if lock, ok := s.locks[key]; ok {
		return lock
	}
	lock := &sync.Mutex{}
	s.locks[key] = lock
	return lock
}

// embedTimeout bounds one embedding call; hitting it is a recoverable
// degrade, not a turn failure.
const embedTimeout = 15 * time.Second

// Embed generates an embedding vector for the given text. Backend failures
// and timeouts surface as types.ErrCollaboratorUnavailable so callers can
// degrade instead of failing the whole turn.
func (s *Service) Embed(ctx context.Context, text string) ([]float32, error) {
	ctx, cancel := context.WithTimeout(ctx, embedTimeout)
	defer cancel()

	embeddings, err := s.llm.GenerateEmbedding(ctx, model.EmbeddingDimension, []string{text})
	if err != nil {
		return nil, goerr.Wrap(types.ErrCollaboratorUnavailable, "embedding backend failed",
			goerr.V("cause", err.Error()))
	}
	if len(embeddings) == 0 {
		return nil, goerr.Wrap(types.ErrCollaboratorUnavailable, "embedding backend returned no vector")
	}

	result := make([]float32, len(embeddings[0]))
	for i, v := range embeddings[0] {
		result[i] = float32(v)
	}
	return result, nil
}

// Insert embeds the content and stores it in the scope partition. When the
// partition is at capacity the lowest-importance record (oldest on ties)
// is evicted first, so the partition size never exceeds the configured
// capacity. Nothing is written if embedding fails.
func (s *Service) Insert(ctx context.Context, scope types.Scope, userID types.UserID, content string) (*model.MemoryRecord, error) {
	content = strings.TrimSpace(content)
	if content == "" {
		return nil, goerr.New("memory content is empty")
	}

	embedding, err := s.Embed(ctx, content)
	if err != nil {
		return nil, err
	}

	lock := s.partitionLock(scope)
	lock.Lock()
	defer lock.Unlock()

	count, err := s.repo.Count(ctx, scope)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to count memories")
	}
	for count >= s.cfg.Capacity {
		if err := s.evictOne(ctx, scope); err != nil {
			return nil, err
		}
		count--
	}

	rec := &model.MemoryRecord{
		Scope:      scope,
		UserID:     userID,
		Content:    content,
		Embedding:  embedding,
		Importance: writeImportance(content),
	}
	stored, err := s.repo.Put(ctx, rec)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to store memory")
	}
	return stored, nil
}

// evictOne removes the lowest-importance record, oldest on ties
func (s *Service) evictOne(ctx context.Context, scope types.Scope) error {
	all, err := s.repo.List(ctx, scope, 0, 0)
	if err != nil {
		return goerr.Wrap(err, "failed to list memories for eviction")
	}
	if len(all) == 0 {
		return nil
	}

	victim := all[0]
	for _, rec := range all[1:] {
		if rec.Importance < victim.Importance ||
			(rec.Importance == victim.Importance && rec.CreatedAt.Before(victim.CreatedAt)) {
			victim = rec
		}
	}

	if err := s.repo.Delete(ctx, scope, victim.ID); err != nil {
		return goerr.Wrap(err, "failed to evict memory", goerr.V("memoryID", victim.ID))
	}
	logging.From(ctx).Debug("evicted memory at capacity",
		"scope", scope.Key(), "memory_id", victim.ID, "importance", victim.Importance)
	return nil
}

// Search embeds the query and returns up to limit records above the
// similarity floor, most similar first.
func (s *Service) Search(ctx context.Context, scope types.Scope, query string, limit int) ([]*model.ScoredMemory, error) {
	embedding, err := s.Embed(ctx, query)
	if err != nil {
		return nil, err
	}
	return s.SearchByEmbedding(ctx, scope, embedding, limit)
}

// SearchByEmbedding runs similarity search with an already-computed query
// vector, filtering results below the configured similarity floor.
func (s *Service) SearchByEmbedding(ctx context.Context, scope types.Scope, embedding []float32, limit int) ([]*model.ScoredMemory, error) {
	if limit <= 0 {
		limit = s.cfg.SearchLimit
	}

	scored, err := s.repo.FindByEmbedding(ctx, scope, embedding, limit)
	if err != nil {
		return nil, goerr.Wrap(err, "similarity search failed")
	}

	results := make([]*model.ScoredMemory, 0, len(scored))
	for _, sm := range scored {
		if sm.Similarity < s.cfg.MinSimilarity {
			continue
		}
		results = append(results, sm)
	}
	return results, nil
}

// List returns the partition's records newest first, for admin browsing
func (s *Service) List(ctx context.Context, scope types.Scope, limit, offset int) ([]*model.MemoryRecord, error) {
	return s.repo.List(ctx, scope, limit, offset)
}

// writeImportance assigns an initial importance from surface features of
// the content. Longer, more specific messages start higher; everything
// starts in (0, 1] and decays from there during garbage collection.
func writeImportance(content string) float64 {
	importance := 0.5
	length := len([]rune(content))
	if length > 20 {
		importance += 0.1
	}
	if length > 60 {
		importance += 0.1
	}
	if strings.ContainsAny(content, "?？") {
		importance += 0.05
	}
	return math.Min(importance, 1.0)
}

func cosineSimilarity(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}

// gcSort orders records oldest first for retention and summarization
func gcSort(records []*model.MemoryRecord) {
	sort.Slice(records, func(i, j int) bool {
		return records[i].CreatedAt.Before(records[j].CreatedAt)
	})
}
