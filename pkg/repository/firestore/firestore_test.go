package firestore_test

import (
	"context"
	"errors"
	"os"
	"testing"

	"github.com/google/uuid"
	"github.com/kurame123/Yuki-bot/pkg/domain/model"
	"github.com/kurame123/Yuki-bot/pkg/domain/types"
	"github.com/kurame123/Yuki-bot/pkg/repository/firestore"
	"github.com/m-mizutani/gt"
)

func newFirestoreRepository(t *testing.T) *firestore.Firestore {
	t.Helper()

	projectID := os.Getenv("TEST_FIRESTORE_PROJECT_ID")
	if projectID == "" {
		t.Skip("TEST_FIRESTORE_PROJECT_ID not set")
	}
	databaseID := os.Getenv("TEST_FIRESTORE_DATABASE_ID")

	ctx := context.Background()
	repo, err := firestore.New(ctx, projectID, databaseID)
	gt.NoError(t, err).Required()
	t.Cleanup(func() {
		gt.NoError(t, repo.Close())
	})
	return repo
}

// testScope returns a fresh private scope so repeated runs against the same
// project never observe each other's data.
func testScope(t *testing.T) (types.UserID, types.Scope) {
	t.Helper()
	userID := types.UserID("test-" + uuid.NewString())
	return userID, types.NewPrivateScope(userID)
}

func TestFirestoreMemoryRepository(t *testing.T) {
	repo := newFirestoreRepository(t)
	ctx := context.Background()
	userID, scope := testScope(t)

	stored, err := repo.Memory().Put(ctx, &model.MemoryRecord{
		Scope:      scope,
		UserID:     userID,
		Content:    "今天天气很好",
		Embedding:  []float32{1, 0, 0},
		Importance: 0.5,
	})
	gt.NoError(t, err).Required()
	gt.Value(t, stored.ID).NotEqual(model.MemoryID(""))
	gt.Bool(t, stored.CreatedAt.IsZero()).False()
	t.Cleanup(func() {
		_ = repo.Memory().Delete(ctx, scope, stored.ID)
	})

	got, err := repo.Memory().Get(ctx, scope, stored.ID)
	gt.NoError(t, err).Required()
	gt.Value(t, got.Content).Equal("今天天气很好")
	gt.Array(t, got.Embedding).Length(3)

	count, err := repo.Memory().Count(ctx, scope)
	gt.NoError(t, err).Required()
	gt.Value(t, count).Equal(1)

	listed, err := repo.Memory().List(ctx, scope, 0, 0)
	gt.NoError(t, err).Required()
	gt.Array(t, listed).Length(1)

	gt.NoError(t, repo.Memory().SetImportance(ctx, scope, stored.ID, 0.8))
	got, err = repo.Memory().Get(ctx, scope, stored.ID)
	gt.NoError(t, err).Required()
	gt.Value(t, got.Importance).Equal(0.8)

	hits, err := repo.Memory().FindByEmbedding(ctx, scope, []float32{1, 0, 0}, 5)
	gt.NoError(t, err).Required()
	gt.Array(t, hits).Length(1)
	gt.Value(t, hits[0].Record.ID).Equal(stored.ID)

	gt.NoError(t, repo.Memory().Delete(ctx, scope, stored.ID))
	_, err = repo.Memory().Get(ctx, scope, stored.ID)
	gt.Bool(t, errors.Is(err, types.ErrNotFound)).True()
}

func TestFirestoreGraphRepository(t *testing.T) {
	repo := newFirestoreRepository(t)
	ctx := context.Background()
	_, scope := testScope(t)

	subject, err := repo.Graph().PutEntity(ctx, &model.Entity{
		Scope:    scope,
		Name:     "小明",
		NormName: model.NormalizeEntityName("小明"),
		Type:     "person",
	})
	gt.NoError(t, err).Required()
	object, err := repo.Graph().PutEntity(ctx, &model.Entity{
		Scope:    scope,
		Name:     "拉面",
		NormName: model.NormalizeEntityName("拉面"),
		Type:     "thing",
	})
	gt.NoError(t, err).Required()
	t.Cleanup(func() {
		_ = repo.Graph().DeleteEntity(ctx, scope, subject.ID)
		_ = repo.Graph().DeleteEntity(ctx, scope, object.ID)
	})

	found, err := repo.Graph().FindEntityByNormName(ctx, scope, model.NormalizeEntityName("小明"), "person")
	gt.NoError(t, err).Required()
	gt.Value(t, found.ID).Equal(subject.ID)

	rel, err := repo.Graph().PutRelation(ctx, &model.Relation{
		Scope:      scope,
		SubjectID:  subject.ID,
		Predicate:  "喜欢",
		ObjectID:   object.ID,
		Confidence: 0.6,
	})
	gt.NoError(t, err).Required()

	foundRel, err := repo.Graph().FindRelation(ctx, scope, subject.ID, "喜欢", object.ID)
	gt.NoError(t, err).Required()
	gt.Value(t, foundRel.ID).Equal(rel.ID)

	related, err := repo.Graph().RelationsByEntity(ctx, scope, object.ID)
	gt.NoError(t, err).Required()
	gt.Array(t, related).Length(1)

	// Deleting an endpoint cascades to the relation.
	gt.NoError(t, repo.Graph().DeleteEntity(ctx, scope, subject.ID))
	_, err = repo.Graph().FindRelation(ctx, scope, subject.ID, "喜欢", object.ID)
	gt.Bool(t, errors.Is(err, types.ErrNotFound)).True()
}

func TestFirestoreAffectionRepository(t *testing.T) {
	repo := newFirestoreRepository(t)
	ctx := context.Background()
	userID, scope := testScope(t)

	state := &model.AffectionState{
		UserID: userID,
		Scope:  scope,
		Score:  1.0,
		Level:  -1,
	}

	_, err := repo.Affection().Put(ctx, state, 3)
	gt.Bool(t, errors.Is(err, types.ErrConcurrentUpdateConflict)).True()

	stored, err := repo.Affection().Put(ctx, state, 0)
	gt.NoError(t, err).Required()
	gt.Value(t, stored.Version).Equal(int64(1))
	t.Cleanup(func() {
		_ = repo.Affection().Delete(ctx, userID, scope)
	})

	stored.Score = 2.0
	next, err := repo.Affection().Put(ctx, stored, stored.Version)
	gt.NoError(t, err).Required()
	gt.Value(t, next.Version).Equal(int64(2))

	got, err := repo.Affection().Get(ctx, userID, scope)
	gt.NoError(t, err).Required()
	gt.Value(t, got.Score).Equal(2.0)

	gt.NoError(t, repo.Affection().Delete(ctx, userID, scope))
	_, err = repo.Affection().Get(ctx, userID, scope)
	gt.Bool(t, errors.Is(err, types.ErrNotFound)).True()
}
