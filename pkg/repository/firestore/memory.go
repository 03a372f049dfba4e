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

// memoryDoc is the Firestore document representation of model.MemoryRecord.
// Embedding is stored as firestore.Vector32 for FindNearest vector search.
type memoryDoc struct {
	ID         model.MemoryID     `firestore:"ID"`
	ScopeKind  string             `firestore:"ScopeKind"`
	ScopeID    string             `firestore:"ScopeID"`
	UserID     types.UserID       `firestore:"UserID"`
	Content    string             `firestore:"Content"`
	Embedding  firestore.Vector32 `firestore:"Embedding,omitempty"`
	Importance float64            `firestore:"Importance"`
	CreatedAt  time.Time          `firestore:"CreatedAt"`

	// Distance is populated by FindNearest queries only
	Distance float64 `firestore:"vector_distance,omitempty"`
}

func toMemoryDoc(rec *model.MemoryRecord) *memoryDoc {
	doc := &memoryDoc{
		ID:         rec.ID,
		ScopeKind:  string(rec.Scope.Kind),
		ScopeID:    rec.Scope.ID,
		UserID:     rec.UserID,
		Content:    rec.Content,
		Importance: rec.Importance,
		CreatedAt:  rec.CreatedAt,
	}
	if len(rec.Embedding) > 0 {
		doc.Embedding = firestore.Vector32(rec.Embedding)
	}
	return doc
}

func fromMemoryDoc(d *memoryDoc) *model.MemoryRecord {
	rec := &model.MemoryRecord{
		ID:         d.ID,
		Scope:      types.Scope{Kind: types.ScopeKind(d.ScopeKind), ID: d.ScopeID},
		UserID:     d.UserID,
		Content:    d.Content,
		Importance: d.Importance,
		CreatedAt:  d.CreatedAt,
	}
	if len(d.Embedding) > 0 {
		rec.Embedding = []float32(d.Embedding)
	}
	return rec
}

type memoryRepository struct {
	client *firestore.Client
}

func newMemoryRepository(client *firestore.Client) *memoryRepository {
	return &memoryRepository{client: client}
}

// memoriesCollection returns the subcollection path: scopes/{scopeKey}/memories
func (r *memoryRepository) memoriesCollection(scope types.Scope) *firestore.CollectionRef {
	return r.client.Collection("scopes").Doc(scope.Key()).Collection("memories")
}

func (r *memoryRepository) Put(ctx context.Context, rec *model.MemoryRecord) (*model.MemoryRecord, error) {
	if err := rec.Scope.Validate(); err != nil {
		return nil, err
	}

	stored := rec.Clone()
	if stored.ID == "" {
		stored.ID = model.NewMemoryID()
	}
	if stored.CreatedAt.IsZero() {
		stored.CreatedAt = time.Now().UTC()
	}

	docRef := r.memoriesCollection(stored.Scope).Doc(string(stored.ID))
	if _, err := docRef.Set(ctx, toMemoryDoc(stored)); err != nil {
		return nil, goerr.Wrap(err, "failed to put memory", goerr.V("memoryID", stored.ID))
	}

	return stored, nil
}

func (r *memoryRepository) Get(ctx context.Context, scope types.Scope, id model.MemoryID) (*model.MemoryRecord, error) {
	doc, err := r.memoriesCollection(scope).Doc(string(id)).Get(ctx)
	if err != nil {
		if status.Code(err) == codes.NotFound {
			return nil, goerr.Wrap(types.ErrNotFound, "memory not found", goerr.V("memoryID", id))
		}
		return nil, goerr.Wrap(err, "failed to get memory", goerr.V("memoryID", id))
	}

	var d memoryDoc
	if err := doc.DataTo(&d); err != nil {
		return nil, goerr.Wrap(err, "failed to unmarshal memory", goerr.V("memoryID", id))
	}
	return fromMemoryDoc(&d), nil
}

func (r *memoryRepository) Delete(ctx context.Context, scope types.Scope, id model.MemoryID) error {
	docRef := r.memoriesCollection(scope).Doc(string(id))

	if _, err := docRef.Get(ctx); err != nil {
		if status.Code(err) == codes.NotFound {
			return goerr.Wrap(types.ErrNotFound, "memory not found", goerr.V("memoryID", id))
		}
		return goerr.Wrap(err, "failed to get memory", goerr.V("memoryID", id))
	}

	if _, err := docRef.Delete(ctx); err != nil {
		return goerr.Wrap(err, "failed to delete memory", goerr.V("memoryID", id))
	}
	return nil
}

func (r *memoryRepository) List(ctx context.Context, scope types.Scope, limit, offset int) ([]*model.MemoryRecord, error) {
	q := r.memoriesCollection(scope).OrderBy("CreatedAt", firestore.Desc)
	if offset > 0 {
		q = q.Offset(offset)
	}
	if limit > 0 {
		q = q.Limit(limit)
	}

	iter := q.Documents(ctx)
	defer iter.Stop()

	records := make([]*model.MemoryRecord, 0)
	for {
		doc, err := iter.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, goerr.Wrap(err, "failed to iterate memories")
		}

		var d memoryDoc
		if err := doc.DataTo(&d); err != nil {
			return nil, goerr.Wrap(err, "failed to unmarshal memory")
		}
		records = append(records, fromMemoryDoc(&d))
	}
	return records, nil
}

func (r *memoryRepository) Count(ctx context.Context, scope types.Scope) (int, error) {
	docs, err := r.memoriesCollection(scope).Select().Documents(ctx).GetAll()
	if err != nil {
		return 0, goerr.Wrap(err, "failed to count memories", goerr.V("scope", scope.Key()))
	}
	return len(docs), nil
}

func (r *memoryRepository) FindByEmbedding(ctx context.Context, scope types.Scope, embedding []float32, limit int) ([]*model.ScoredMemory, error) {
	vq := r.memoriesCollection(scope).
		FindNearest("Embedding", firestore.Vector32(embedding), limit, firestore.DistanceMeasureCosine,
			&firestore.FindNearestOptions{DistanceResultField: "vector_distance"})

	iter := vq.Documents(ctx)
	defer iter.Stop()

	results := make([]*model.ScoredMemory, 0, limit)
	for {
		doc, err := iter.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, goerr.Wrap(err, "failed to iterate memory vector search results")
		}

		var d memoryDoc
		if err := doc.DataTo(&d); err != nil {
			return nil, goerr.Wrap(err, "failed to unmarshal memory from vector search")
		}

		// Cosine distance is 1 - cosine similarity
		results = append(results, &model.ScoredMemory{
			Record:     fromMemoryDoc(&d),
			Similarity: 1 - d.Distance,
		})
	}
	return results, nil
}

func (r *memoryRepository) SetImportance(ctx context.Context, scope types.Scope, id model.MemoryID, importance float64) error {
	docRef := r.memoriesCollection(scope).Doc(string(id))
	_, err := docRef.Update(ctx, []firestore.Update{
		{Path: "Importance", Value: importance},
	})
	if err != nil {
		if status.Code(err) == codes.NotFound {
			return goerr.Wrap(types.ErrNotFound, "memory not found", goerr.V("memoryID", id))
		}
		return goerr.Wrap(err, "failed to update memory importance", goerr.V("memoryID", id))
	}
	return nil
}
