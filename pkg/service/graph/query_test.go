package graph_test

import (
	"context"
	"testing"

	"github.com/kurame123/Yuki-bot/pkg/domain/model"
	"github.com/m-mizutani/gt"
)

// seedChain stores the path 小明 -认识-> 小红 -住在-> 上海 and returns the
// entities keyed by name
func seedChain(t *testing.T, f *graphFixture) map[string]*model.Entity {
	t.Helper()
	ctx := context.Background()

	entities := map[string]*model.Entity{}
	for name, typ := range map[string]string{"小明": "person", "小红": "person", "上海": "place"} {
		stored, err := f.repo.PutEntity(ctx, &model.Entity{Scope: f.scope, Name: name, Type: typ})
		gt.NoError(t, err).Required()
		entities[name] = stored
	}
	entities["小明"].Aliases = []string{"明明"}
	stored, err := f.repo.PutEntity(ctx, entities["小明"])
	gt.NoError(t, err).Required()
	entities["小明"] = stored

	for _, edge := range []struct {
		subject, predicate, object string
	}{
		{"小明", "认识", "小红"},
		{"小红", "住在", "上海"},
	} {
		_, err := f.repo.PutRelation(ctx, &model.Relation{
			Scope:      f.scope,
			SubjectID:  entities[edge.subject].ID,
			Predicate:  edge.predicate,
			ObjectID:   entities[edge.object].ID,
			Confidence: 0.6,
		})
		gt.NoError(t, err).Required()
	}
	return entities
}

func TestQuery(t *testing.T) {
	ctx := context.Background()

	t.Run("depth bounds the expansion", func(t *testing.T) {
		f := newGraphFixture(t, &mockLLMClient{})
		seedChain(t, f)

		sub, err := f.svc.Query(ctx, f.scope, "小明", 1)
		gt.NoError(t, err).Required()
		gt.Array(t, sub.Entities).Length(2)
		gt.Array(t, sub.Relations).Length(1)
		gt.Value(t, sub.Relations[0].Predicate).Equal("认识")

		sub, err = f.svc.Query(ctx, f.scope, "小明", 2)
		gt.NoError(t, err).Required()
		gt.Array(t, sub.Entities).Length(3)
		gt.Array(t, sub.Relations).Length(2)
	})

	t.Run("depth zero returns just the anchor", func(t *testing.T) {
		f := newGraphFixture(t, &mockLLMClient{})
		seedChain(t, f)

		sub, err := f.svc.Query(ctx, f.scope, "小明", 0)
		gt.NoError(t, err).Required()
		gt.Array(t, sub.Entities).Length(1)
		gt.Array(t, sub.Relations).Length(0)
	})

	t.Run("aliases anchor the query too", func(t *testing.T) {
		f := newGraphFixture(t, &mockLLMClient{})
		seedChain(t, f)

		sub, err := f.svc.Query(ctx, f.scope, "明明", 1)
		gt.NoError(t, err).Required()
		gt.Array(t, sub.Entities).Length(2)
	})

	t.Run("unknown name yields an empty subgraph", func(t *testing.T) {
		f := newGraphFixture(t, &mockLLMClient{})
		seedChain(t, f)

		sub, err := f.svc.Query(ctx, f.scope, "不认识的人", 2)
		gt.NoError(t, err).Required()
		gt.Array(t, sub.Entities).Length(0)
		gt.Array(t, sub.Relations).Length(0)
	})
}

func TestContextFor(t *testing.T) {
	ctx := context.Background()

	t.Run("anchors on entity names in the text", func(t *testing.T) {
		f := newGraphFixture(t, &mockLLMClient{})
		seedChain(t, f)

		sub, err := f.svc.ContextFor(ctx, f.scope, "最近小明怎么样", nil)
		gt.NoError(t, err).Required()
		gt.Array(t, sub.Entities).Length(3)
		gt.Array(t, sub.Relations).Length(2)
	})

	t.Run("anchors on provenance of retrieved memories", func(t *testing.T) {
		f := newGraphFixture(t, &mockLLMClient{})
		entities := seedChain(t, f)

		memID := model.NewMemoryID()
		entities["上海"].Provenance = []model.MemoryID{memID}
		_, err := f.repo.PutEntity(ctx, entities["上海"])
		gt.NoError(t, err).Required()

		sub, err := f.svc.ContextFor(ctx, f.scope, "那个城市好玩吗", []model.MemoryID{memID})
		gt.NoError(t, err).Required()
		gt.Array(t, sub.Entities).Length(3)
	})

	t.Run("no anchors means no facts", func(t *testing.T) {
		f := newGraphFixture(t, &mockLLMClient{})
		seedChain(t, f)

		sub, err := f.svc.ContextFor(ctx, f.scope, "今天天气真好", nil)
		gt.NoError(t, err).Required()
		gt.Array(t, sub.Entities).Length(0)
	})
}
