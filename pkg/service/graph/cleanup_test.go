package graph_test

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/kurame123/Yuki-bot/pkg/domain/model"
	"github.com/m-mizutani/gollem"
	"github.com/m-mizutani/gt"
)

func TestCleanup(t *testing.T) {
	ctx := context.Background()

	t.Run("low-confidence relations are swept even without a reviewer", func(t *testing.T) {
		f := newGraphFixture(t, &mockLLMClient{
			newSessionFn: func(ctx context.Context, options ...gollem.SessionOption) (gollem.Session, error) {
				return nil, errors.New("backend down")
			},
		})
		entities := seedChain(t, f)

		weak, err := f.repo.PutRelation(ctx, &model.Relation{
			Scope:      f.scope,
			SubjectID:  entities["小明"].ID,
			Predicate:  "去过",
			ObjectID:   entities["上海"].ID,
			Confidence: 0.1,
		})
		gt.NoError(t, err).Required()

		report, err := f.svc.Cleanup(ctx, f.scope)
		gt.NoError(t, err).Required()
		gt.Value(t, report.FloorDeleted).Equal(1)
		gt.Value(t, report.RelationsRemoved).Equal(0)

		remaining, err := f.repo.ListRelations(ctx, f.scope)
		gt.NoError(t, err).Required()
		gt.Array(t, remaining).Length(2)
		for _, rel := range remaining {
			gt.Value(t, rel.ID).NotEqual(weak.ID)
		}
	})

	t.Run("stale relations named by the reviewer are removed", func(t *testing.T) {
		f := newGraphFixture(t, &mockLLMClient{})
		entities := seedChain(t, f)

		stale, err := f.repo.FindRelation(ctx, f.scope, entities["小明"].ID, "认识", entities["小红"].ID)
		gt.NoError(t, err).Required()

		f.setReview(fmt.Sprintf(`{"stale_relations": [%q], "merge_entities": []}`, stale.ID))

		report, err := f.svc.Cleanup(ctx, f.scope)
		gt.NoError(t, err).Required()
		gt.Value(t, report.RelationsRemoved).Equal(1)

		remaining, err := f.repo.ListRelations(ctx, f.scope)
		gt.NoError(t, err).Required()
		gt.Array(t, remaining).Length(1)
		gt.Value(t, remaining[0].Predicate).Equal("住在")
		gt.Bool(t, remaining[0].ReviewedAt.IsZero()).False()
	})

	t.Run("duplicate entities merge without dangling relations", func(t *testing.T) {
		f := newGraphFixture(t, &mockLLMClient{})
		entities := seedChain(t, f)

		dup, err := f.repo.PutEntity(ctx, &model.Entity{
			Scope:      f.scope,
			Name:       "明明同学",
			Type:       "person",
			Provenance: []model.MemoryID{model.NewMemoryID()},
		})
		gt.NoError(t, err).Required()
		_, err = f.repo.PutRelation(ctx, &model.Relation{
			Scope:      f.scope,
			SubjectID:  dup.ID,
			Predicate:  "喜欢",
			ObjectID:   entities["上海"].ID,
			Confidence: 0.6,
		})
		gt.NoError(t, err).Required()

		f.setReview(fmt.Sprintf(`{"stale_relations": [], "merge_entities": [{"keep": %q, "drop": %q}]}`,
			entities["小明"].ID, dup.ID))

		report, err := f.svc.Cleanup(ctx, f.scope)
		gt.NoError(t, err).Required()
		gt.Value(t, report.EntitiesMerged).Equal(1)

		_, err = f.repo.GetEntity(ctx, f.scope, dup.ID)
		gt.Error(t, err)

		keep, err := f.repo.GetEntity(ctx, f.scope, entities["小明"].ID)
		gt.NoError(t, err).Required()
		gt.Bool(t, containsAlias(keep.Aliases, "明明同学")).True()
		gt.Array(t, keep.Provenance).Length(1)

		// the duplicate's relation now hangs off the kept entity
		rels, err := f.repo.RelationsByEntity(ctx, f.scope, keep.ID)
		gt.NoError(t, err).Required()
		gt.Array(t, rels).Length(2)
	})

	t.Run("merging unions relations the survivor already holds", func(t *testing.T) {
		f := newGraphFixture(t, &mockLLMClient{})
		entities := seedChain(t, f)

		dup, err := f.repo.PutEntity(ctx, &model.Entity{
			Scope: f.scope,
			Name:  "明明同学",
			Type:  "person",
		})
		gt.NoError(t, err).Required()

		// both the survivor and the duplicate know 小红, at different confidence
		prov := model.NewMemoryID()
		_, err = f.repo.PutRelation(ctx, &model.Relation{
			Scope:      f.scope,
			SubjectID:  dup.ID,
			Predicate:  "认识",
			ObjectID:   entities["小红"].ID,
			Confidence: 0.9,
			Provenance: []model.MemoryID{prov},
		})
		gt.NoError(t, err).Required()

		f.setReview(fmt.Sprintf(`{"stale_relations": [], "merge_entities": [{"keep": %q, "drop": %q}]}`,
			entities["小明"].ID, dup.ID))

		report, err := f.svc.Cleanup(ctx, f.scope)
		gt.NoError(t, err).Required()
		gt.Value(t, report.EntitiesMerged).Equal(1)

		merged, err := f.repo.FindRelation(ctx, f.scope, entities["小明"].ID, "认识", entities["小红"].ID)
		gt.NoError(t, err).Required()
		gt.Value(t, merged.Confidence).Equal(0.9)
		gt.Array(t, merged.Provenance).Length(1)
		gt.Value(t, merged.Provenance[0]).Equal(prov)

		// one 认识 edge survives, not two
		rels, err := f.repo.RelationsByEntity(ctx, f.scope, entities["小明"].ID)
		gt.NoError(t, err).Required()
		gt.Array(t, rels).Length(1)
	})

	t.Run("invalid reviewer suggestions are ignored", func(t *testing.T) {
		f := newGraphFixture(t, &mockLLMClient{})
		entities := seedChain(t, f)

		// unknown relation ID, cross-type merge, unknown entity ID
		f.setReview(fmt.Sprintf(`{
			"stale_relations": ["rel-unknown"],
			"merge_entities": [
				{"keep": %q, "drop": %q},
				{"keep": %q, "drop": "ent-unknown"}
			]
		}`, entities["小明"].ID, entities["上海"].ID, entities["小红"].ID))

		report, err := f.svc.Cleanup(ctx, f.scope)
		gt.NoError(t, err).Required()
		gt.Value(t, report.RelationsRemoved).Equal(0)
		gt.Value(t, report.EntitiesMerged).Equal(0)

		remaining, err := f.repo.ListEntities(ctx, f.scope)
		gt.NoError(t, err).Required()
		gt.Array(t, remaining).Length(3)
	})
}

func containsAlias(aliases []string, want string) bool {
	for _, alias := range aliases {
		if alias == want {
			return true
		}
	}
	return false
}
