package memory

import (
	"context"
	"sync"
	"time"

	"github.com/kurame123/Yuki-bot/pkg/domain/model"
	"github.com/kurame123/Yuki-bot/pkg/domain/types"
	"github.com/m-mizutani/goerr/v2"
)

type graphPartition struct {
	entities  map[model.EntityID]*model.Entity
	relations map[model.RelationID]*model.Relation
}

type graphStore struct {
	mu         sync.RWMutex
	partitions map[string]*graphPartition // keyed by scope.Key()
}

func newGraphStore() *graphStore {
	return &graphStore{
		partitions: make(map[string]*graphPartition),
	}
}

func (r *graphStore) partition(scope types.Scope) *graphPartition {
	key := scope.Key()
	p, exists := r.partitions[key]
	if !exists {
		p = &graphPartition{
			entities:  make(map[model.EntityID]*model.Entity),
			relations: make(map[model.RelationID]*model.Relation),
		}
		r.partitions[key] = p
	}
	return p
}

func copyEntity(e *model.Entity) *model.Entity {
	copied := *e
	if e.Attrs != nil {
		copied.Attrs = make(map[string]string, len(e.Attrs))
		for k, v := range e.Attrs {
			copied.Attrs[k] = v
		}
	}
	copied.Aliases = append([]string(nil), e.Aliases...)
	copied.Provenance = append([]model.MemoryID(nil), e.Provenance...)
	return &copied
}

func copyRelation(rel *model.Relation) *model.Relation {
	copied := *rel
	copied.Provenance = append([]model.MemoryID(nil), rel.Provenance...)
	return &copied
}

func (r *graphStore) GetEntity(ctx context.Context, scope types.Scope, id model.EntityID) (*model.Entity, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	p, exists := r.partitions[scope.Key()]
	if !exists {
		return nil, goerr.Wrap(types.ErrNotFound, "entity not found", goerr.V("entityID", id))
	}
	e, exists := p.entities[id]
	if !exists {
		return nil, goerr.Wrap(types.ErrNotFound, "entity not found", goerr.V("entityID", id))
	}
	return copyEntity(e), nil
}

func (r *graphStore) FindEntityByNormName(ctx context.Context, scope types.Scope, normName, typ string) (*model.Entity, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	p, exists := r.partitions[scope.Key()]
	if exists {
		for _, e := range p.entities {
			if e.NormName != normName {
				continue
			}
			if typ != "" && e.Type != typ {
				continue
			}
			return copyEntity(e), nil
		}
	}
	return nil, goerr.Wrap(types.ErrNotFound, "entity not found", goerr.V("normName", normName))
}

func (r *graphStore) ListEntities(ctx context.Context, scope types.Scope) ([]*model.Entity, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	p, exists := r.partitions[scope.Key()]
	if !exists {
		return []*model.Entity{}, nil
	}
	result := make([]*model.Entity, 0, len(p.entities))
	for _, e := range p.entities {
		result = append(result, copyEntity(e))
	}
	return result, nil
}

func (r *graphStore) PutEntity(ctx context.Context, e *model.Entity) (*model.Entity, error) {
	if err := e.Scope.Validate(); err != nil {
		return nil, err
	}
	if e.Name == "" {
		return nil, goerr.New("entity name is required")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	p := r.partition(e.Scope)

	stored := copyEntity(e)
	now := time.Now().UTC()
	if stored.ID == "" {
		stored.ID = model.NewEntityID()
		stored.CreatedAt = now
	}
	if stored.NormName == "" {
		stored.NormName = model.NormalizeEntityName(stored.Name)
	}
	stored.UpdatedAt = now

	p.entities[stored.ID] = stored
	return copyEntity(stored), nil
}

func (r *graphStore) DeleteEntity(ctx context.Context, scope types.Scope, id model.EntityID) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	p, exists := r.partitions[scope.Key()]
	if !exists {
		return goerr.Wrap(types.ErrNotFound, "entity not found", goerr.V("entityID", id))
	}
	if _, exists := p.entities[id]; !exists {
		return goerr.Wrap(types.ErrNotFound, "entity not found", goerr.V("entityID", id))
	}

	delete(p.entities, id)

	// Cascade: a relation must never dangle
	for rid, rel := range p.relations {
		if rel.SubjectID == id || rel.ObjectID == id {
			delete(p.relations, rid)
		}
	}
	return nil
}

func (r *graphStore) ListRelations(ctx context.Context, scope types.Scope) ([]*model.Relation, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	p, exists := r.partitions[scope.Key()]
	if !exists {
		return []*model.Relation{}, nil
	}
	result := make([]*model.Relation, 0, len(p.relations))
	for _, rel := range p.relations {
		result = append(result, copyRelation(rel))
	}
	return result, nil
}

func (r *graphStore) FindRelation(ctx context.Context, scope types.Scope, subject model.EntityID, predicate string, object model.EntityID) (*model.Relation, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	p, exists := r.partitions[scope.Key()]
	if exists {
		for _, rel := range p.relations {
			if rel.SubjectID == subject && rel.Predicate == predicate && rel.ObjectID == object {
				return copyRelation(rel), nil
			}
		}
	}
	return nil, goerr.Wrap(types.ErrNotFound, "relation not found",
		goerr.V("subject", subject), goerr.V("predicate", predicate), goerr.V("object", object))
}

func (r *graphStore) PutRelation(ctx context.Context, rel *model.Relation) (*model.Relation, error) {
	if err := rel.Scope.Validate(); err != nil {
		return nil, err
	}
	if rel.Predicate == "" {
		return nil, goerr.New("relation predicate is required")
	}
	if rel.Confidence < 0 || rel.Confidence > 1 {
		return nil, goerr.New("relation confidence out of range", goerr.V("confidence", rel.Confidence))
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	p := r.partition(rel.Scope)
	if _, exists := p.entities[rel.SubjectID]; !exists {
		return nil, goerr.Wrap(types.ErrNotFound, "relation subject does not exist", goerr.V("entityID", rel.SubjectID))
	}
	if _, exists := p.entities[rel.ObjectID]; !exists {
		return nil, goerr.Wrap(types.ErrNotFound, "relation object does not exist", goerr.V("entityID", rel.ObjectID))
	}

	stored := copyRelation(rel)
	now := time.Now().UTC()
	if stored.ID == "" {
		stored.ID = model.NewRelationID()
		stored.CreatedAt = now
	}
	stored.UpdatedAt = now

	p.relations[stored.ID] = stored
	return copyRelation(stored), nil
}

func (r *graphStore) DeleteRelation(ctx context.Context, scope types.Scope, id model.RelationID) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	p, exists := r.partitions[scope.Key()]
	if !exists {
		return goerr.Wrap(types.ErrNotFound, "relation not found", goerr.V("relationID", id))
	}
	if _, exists := p.relations[id]; !exists {
		return goerr.Wrap(types.ErrNotFound, "relation not found", goerr.V("relationID", id))
	}
	delete(p.relations, id)
	return nil
}

func (r *graphStore) RelationsByEntity(ctx context.Context, scope types.Scope, id model.EntityID) ([]*model.Relation, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	p, exists := r.partitions[scope.Key()]
	if !exists {
		return []*model.Relation{}, nil
	}
	var result []*model.Relation
	for _, rel := range p.relations {
		if rel.SubjectID == id || rel.ObjectID == id {
			result = append(result, copyRelation(rel))
		}
	}
	return result, nil
}
