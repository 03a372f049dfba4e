package firestore

import (
	"context"
	"time"

	"cloud.google.com/go/firestore"
	"github.com/kurame123/Yuki-bot/pkg/domain/model"
	"github.com/kurame123/Yuki-bot/pkg/domain/types"
	"github.com/m-mizutani/goerr/v2"
	"google.golang.org/api/iterator"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

type entityDoc struct {
	ID         model.EntityID    `firestore:"ID"`
	ScopeKind  string            `firestore:"ScopeKind"`
	ScopeID    string            `firestore:"ScopeID"`
	Name       string            `firestore:"Name"`
	NormName   string            `firestore:"NormName"`
	Type       string            `firestore:"Type"`
	Attrs      map[string]string `firestore:"Attrs,omitempty"`
	Aliases    []string          `firestore:"Aliases,omitempty"`
	Provenance []string          `firestore:"Provenance,omitempty"`
	CreatedAt  time.Time         `firestore:"CreatedAt"`
	UpdatedAt  time.Time         `firestore:"UpdatedAt"`
}

type relationDoc struct {
	ID         model.RelationID `firestore:"ID"`
	ScopeKind  string           `firestore:"ScopeKind"`
	ScopeID    string           `firestore:"ScopeID"`
	SubjectID  model.EntityID   `firestore:"SubjectID"`
	Predicate  string           `firestore:"Predicate"`
	ObjectID   model.EntityID   `firestore:"ObjectID"`
	Confidence float64          `firestore:"Confidence"`
	TimeRef    string           `firestore:"TimeRef,omitempty"`
	Provenance []string         `firestore:"Provenance,omitempty"`
	ReviewedAt time.Time        `firestore:"ReviewedAt"`
	CreatedAt  time.Time        `firestore:"CreatedAt"`
	UpdatedAt  time.Time        `firestore:"UpdatedAt"`
}

func toEntityDoc(e *model.Entity) *entityDoc {
	prov := make([]string, len(e.Provenance))
	for i, p := range e.Provenance {
		prov[i] = string(p)
	}
	return &entityDoc{
		ID:         e.ID,
		ScopeKind:  string(e.Scope.Kind),
		ScopeID:    e.Scope.ID,
		Name:       e.Name,
		NormName:   e.NormName,
		Type:       e.Type,
		Attrs:      e.Attrs,
		Aliases:    e.Aliases,
		Provenance: prov,
		CreatedAt:  e.CreatedAt,
		UpdatedAt:  e.UpdatedAt,
	}
}

func fromEntityDoc(d *entityDoc) *model.Entity {
	prov := make([]model.MemoryID, len(d.Provenance))
	for i, p := range d.Provenance {
		prov[i] = model.MemoryID(p)
	}
	return &model.Entity{
		ID:         d.ID,
		Scope:      types.Scope{Kind: types.ScopeKind(d.ScopeKind), ID: d.ScopeID},
		Name:       d.Name,
		NormName:   d.NormName,
		Type:       d.Type,
		Attrs:      d.Attrs,
		Aliases:    d.Aliases,
		Provenance: prov,
		CreatedAt:  d.CreatedAt,
		UpdatedAt:  d.UpdatedAt,
	}
}

func toRelationDoc(rel *model.Relation) *relationDoc {
	prov := make([]string, len(rel.Provenance))
	for i, p := range rel.Provenance {
		prov[i] = string(p)
	}
	return &relationDoc{
		ID:         rel.ID,
		ScopeKind:  string(rel.Scope.Kind),
		ScopeID:    rel.Scope.ID,
		SubjectID:  rel.SubjectID,
		Predicate:  rel.Predicate,
		ObjectID:   rel.ObjectID,
		Confidence: rel.Confidence,
		TimeRef:    rel.TimeRef,
		Provenance: prov,
		ReviewedAt: rel.ReviewedAt,
		CreatedAt:  rel.CreatedAt,
		UpdatedAt:  rel.UpdatedAt,
	}
}

func fromRelationDoc(d *relationDoc) *model.Relation {
	prov := make([]model.MemoryID, len(d.Provenance))
	for i, p := range d.Provenance {
		prov[i] = model.MemoryID(p)
	}
	return &model.Relation{
		ID:         d.ID,
		Scope:      types.Scope{Kind: types.ScopeKind(d.ScopeKind), ID: d.ScopeID},
		SubjectID:  d.SubjectID,
		Predicate:  d.Predicate,
		ObjectID:   d.ObjectID,
		Confidence: d.Confidence,
		TimeRef:    d.TimeRef,
		Provenance: prov,
		ReviewedAt: d.ReviewedAt,
		CreatedAt:  d.CreatedAt,
		UpdatedAt:  d.UpdatedAt,
	}
}

type graphRepository struct {
	client *firestore.Client
}

func newGraphRepository(client *firestore.Client) *graphRepository {
	return &graphRepository{client: client}
}

func (r *graphRepository) entitiesCollection(scope types.Scope) *firestore.CollectionRef {
	return r.client.Collection("scopes").Doc(scope.Key()).Collection("entities")
}

func (r *graphRepository) relationsCollection(scope types.Scope) *firestore.CollectionRef {
	return r.client.Collection("scopes").Doc(scope.Key()).Collection("relations")
}

func (r *graphRepository) GetEntity(ctx context.Context, scope types.Scope, id model.EntityID) (*model.Entity, error) {
	doc, err := r.entitiesCollection(scope).Doc(string(id)).Get(ctx)
	if err != nil {
		if status.Code(err) == codes.NotFound {
			return nil, goerr.Wrap(types.ErrNotFound, "entity not found", goerr.V("entityID", id))
		}
		return nil, goerr.Wrap(err, "failed to get entity", goerr.V("entityID", id))
	}

	var d entityDoc
	if err := doc.DataTo(&d); err != nil {
		return nil, goerr.Wrap(err, "failed to unmarshal entity", goerr.V("entityID", id))
	}
	return fromEntityDoc(&d), nil
}

func (r *graphRepository) FindEntityByNormName(ctx context.Context, scope types.Scope, normName, typ string) (*model.Entity, error) {
	q := r.entitiesCollection(scope).Where("NormName", "==", normName)
	if typ != "" {
		q = q.Where("Type", "==", typ)
	}

	iter := q.Limit(1).Documents(ctx)
	defer iter.Stop()

	doc, err := iter.Next()
	if err == iterator.Done {
		return nil, goerr.Wrap(types.ErrNotFound, "entity not found", goerr.V("normName", normName))
	}
	if err != nil {
		return nil, goerr.Wrap(err, "failed to query entity by name", goerr.V("normName", normName))
	}

	var d entityDoc
	if err := doc.DataTo(&d); err != nil {
		return nil, goerr.Wrap(err, "failed to unmarshal entity")
	}
	return fromEntityDoc(&d), nil
}

func (r *graphRepository) ListEntities(ctx context.Context, scope types.Scope) ([]*model.Entity, error) {
	iter := r.entitiesCollection(scope).Documents(ctx)
	defer iter.Stop()

	entities := make([]*model.Entity, 0)
	for {
		doc, err := iter.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, goerr.Wrap(err, "failed to iterate entities")
		}

		var d entityDoc
		if err := doc.DataTo(&d); err != nil {
			return nil, goerr.Wrap(err, "failed to unmarshal entity")
		}
		entities = append(entities, fromEntityDoc(&d))
	}
	return entities, nil
}

func (r *graphRepository) PutEntity(ctx context.Context, e *model.Entity) (*model.Entity, error) {
	if err := e.Scope.Validate(); err != nil {
		return nil, err
	}
	if e.Name == "" {
		return nil, goerr.New("entity name is required")
	}

	stored := *e
	now := time.Now().UTC()
	if stored.ID == "" {
		stored.ID = model.NewEntityID()
		stored.CreatedAt = now
	}
	if stored.NormName == "" {
		stored.NormName = model.NormalizeEntityName(stored.Name)
	}
	stored.UpdatedAt = now

	docRef := r.entitiesCollection(stored.Scope).Doc(string(stored.ID))
	if _, err := docRef.Set(ctx, toEntityDoc(&stored)); err != nil {
		return nil, goerr.Wrap(err, "failed to put entity", goerr.V("entityID", stored.ID))
	}
	return &stored, nil
}

// DeleteEntity removes the entity and every relation referencing it in one
// transaction so readers never observe a dangling edge.
func (r *graphRepository) DeleteEntity(ctx context.Context, scope types.Scope, id model.EntityID) error {
	entityRef := r.entitiesCollection(scope).Doc(string(id))

	err := r.client.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		if _, err := tx.Get(entityRef); err != nil {
			if status.Code(err) == codes.NotFound {
				return goerr.Wrap(types.ErrNotFound, "entity not found", goerr.V("entityID", id))
			}
			return goerr.Wrap(err, "failed to get entity")
		}

		var refs []*firestore.DocumentRef
		for _, field := range []string{"SubjectID", "ObjectID"} {
			docs, err := tx.Documents(r.relationsCollection(scope).Where(field, "==", string(id))).GetAll()
			if err != nil {
				return goerr.Wrap(err, "failed to query relations for entity", goerr.V("field", field))
			}
			for _, doc := range docs {
				refs = append(refs, doc.Ref)
			}
		}

		for _, ref := range refs {
			if err := tx.Delete(ref); err != nil {
				return goerr.Wrap(err, "failed to delete relation")
			}
		}
		return tx.Delete(entityRef)
	})
	if err != nil {
		return err
	}
	return nil
}

func (r *graphRepository) ListRelations(ctx context.Context, scope types.Scope) ([]*model.Relation, error) {
	iter := r.relationsCollection(scope).Documents(ctx)
	defer iter.Stop()

	relations := make([]*model.Relation, 0)
	for {
		doc, err := iter.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, goerr.Wrap(err, "failed to iterate relations")
		}

		var d relationDoc
		if err := doc.DataTo(&d); err != nil {
			return nil, goerr.Wrap(err, "failed to unmarshal relation")
		}
		relations = append(relations, fromRelationDoc(&d))
	}
	return relations, nil
}

func (r *graphRepository) FindRelation(ctx context.Context, scope types.Scope, subject model.EntityID, predicate string, object model.EntityID) (*model.Relation, error) {
	iter := r.relationsCollection(scope).
		Where("SubjectID", "==", string(subject)).
		Where("Predicate", "==", predicate).
		Where("ObjectID", "==", string(object)).
		Limit(1).Documents(ctx)
	defer iter.Stop()

	doc, err := iter.Next()
	if err == iterator.Done {
		return nil, goerr.Wrap(types.ErrNotFound, "relation not found",
			goerr.V("subject", subject), goerr.V("predicate", predicate), goerr.V("object", object))
	}
	if err != nil {
		return nil, goerr.Wrap(err, "failed to query relation")
	}

	var d relationDoc
	if err := doc.DataTo(&d); err != nil {
		return nil, goerr.Wrap(err, "failed to unmarshal relation")
	}
	return fromRelationDoc(&d), nil
}

// PutRelation upserts a relation. Both endpoints are checked inside a
// transaction so the write never creates a dangling reference.
func (r *graphRepository) PutRelation(ctx context.Context, rel *model.Relation) (*model.Relation, error) {
	if err := rel.Scope.Validate(); err != nil {
		return nil, err
	}
	if rel.Predicate == "" {
		return nil, goerr.New("relation predicate is required")
	}
	if rel.Confidence < 0 || rel.Confidence > 1 {
		return nil, goerr.New("relation confidence out of range", goerr.V("confidence", rel.Confidence))
	}

	stored := *rel
	now := time.Now().UTC()
	if stored.ID == "" {
		stored.ID = model.NewRelationID()
		stored.CreatedAt = now
	}
	stored.UpdatedAt = now

	relRef := r.relationsCollection(stored.Scope).Doc(string(stored.ID))
	subjRef := r.entitiesCollection(stored.Scope).Doc(string(stored.SubjectID))
	objRef := r.entitiesCollection(stored.Scope).Doc(string(stored.ObjectID))

	err := r.client.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		if _, err := tx.Get(subjRef); err != nil {
			if status.Code(err) == codes.NotFound {
				return goerr.Wrap(types.ErrNotFound, "relation subject does not exist", goerr.V("entityID", stored.SubjectID))
			}
			return goerr.Wrap(err, "failed to get relation subject")
		}
		if _, err := tx.Get(objRef); err != nil {
			if status.Code(err) == codes.NotFound {
				return goerr.Wrap(types.ErrNotFound, "relation object does not exist", goerr.V("entityID", stored.ObjectID))
			}
			return goerr.Wrap(err, "failed to get relation object")
		}
		return tx.Set(relRef, toRelationDoc(&stored))
	})
	if err != nil {
		return nil, err
	}
	return &stored, nil
}

func (r *graphRepository) DeleteRelation(ctx context.Context, scope types.Scope, id model.RelationID) error {
	docRef := r.relationsCollection(scope).Doc(string(id))

	if _, err := docRef.Get(ctx); err != nil {
		if status.Code(err) == codes.NotFound {
			return goerr.Wrap(types.ErrNotFound, "relation not found", goerr.V("relationID", id))
		}
		return goerr.Wrap(err, "failed to get relation", goerr.V("relationID", id))
	}

	if _, err := docRef.Delete(ctx); err != nil {
		return goerr.Wrap(err, "failed to delete relation", goerr.V("relationID", id))
	}
	return nil
}

func (r *graphRepository) RelationsByEntity(ctx context.Context, scope types.Scope, id model.EntityID) ([]*model.Relation, error) {
	seen := make(map[model.RelationID]bool)
	var result []*model.Relation

	for _, field := range []string{"SubjectID", "ObjectID"} {
		iter := r.relationsCollection(scope).Where(field, "==", string(id)).Documents(ctx)

		for {
			doc, err := iter.Next()
			if err == iterator.Done {
				break
			}
			if err != nil {
				iter.Stop()
				return nil, goerr.Wrap(err, "failed to iterate relations", goerr.V("field", field))
			}

			var d relationDoc
			if err := doc.DataTo(&d); err != nil {
				iter.Stop()
				return nil, goerr.Wrap(err, "failed to unmarshal relation")
			}
			if !seen[d.ID] {
				seen[d.ID] = true
				result = append(result, fromRelationDoc(&d))
			}
		}
		iter.Stop()
	}
	return result, nil
}
