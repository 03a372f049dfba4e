package interfaces

import (
	"context"

	"github.com/kurame123/Yuki-bot/pkg/domain/model"
	"github.com/kurame123/Yuki-bot/pkg/domain/types"
)

// GraphRepository stores entities and relations partitioned by scope.
// Mutation happens only through the graph engine's ingest/cleanup paths,
// which are serialized per partition by the engine itself.
type GraphRepository interface {
	// GetEntity returns an entity by ID, or types.ErrNotFound
	GetEntity(ctx context.Context, scope types.Scope, id model.EntityID) (*model.Entity, error)

	// FindEntityByNormName returns the entity with the given normalized
	// name (and type when typ is non-empty), or types.ErrNotFound.
	FindEntityByNormName(ctx context.Context, scope types.Scope, normName, typ string) (*model.Entity, error)

	// ListEntities returns all entities in the partition
	ListEntities(ctx context.Context, scope types.Scope) ([]*model.Entity, error)

	// PutEntity upserts an entity by ID, assigning ID/CreatedAt when empty
	PutEntity(ctx context.Context, e *model.Entity) (*model.Entity, error)

	// DeleteEntity removes an entity and all relations referencing it
	DeleteEntity(ctx context.Context, scope types.Scope, id model.EntityID) error

	// ListRelations returns all relations in the partition
	ListRelations(ctx context.Context, scope types.Scope) ([]*model.Relation, error)

	// FindRelation returns the relation with the exact
	// (subject, predicate, object) triple, or types.ErrNotFound.
	FindRelation(ctx context.Context, scope types.Scope, subject model.EntityID, predicate string, object model.EntityID) (*model.Relation, error)

	// PutRelation upserts a relation by ID. Both endpoints must exist in
	// the same partition.
	PutRelation(ctx context.Context, r *model.Relation) (*model.Relation, error)

	// DeleteRelation removes a relation, or types.ErrNotFound
	DeleteRelation(ctx context.Context, scope types.Scope, id model.RelationID) error

	// RelationsByEntity returns relations with the entity on either end
	RelationsByEntity(ctx context.Context, scope types.Scope, id model.EntityID) ([]*model.Relation, error)
}
