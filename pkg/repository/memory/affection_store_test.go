package memory_test

import (
	"context"
	"errors"
	"testing"

	"github.com/kurame123/Yuki-bot/pkg/domain/model"
	"github.com/kurame123/Yuki-bot/pkg/domain/types"
	"github.com/kurame123/Yuki-bot/pkg/repository/memory"
	"github.com/m-mizutani/gt"
)

func TestAffectionRepository(t *testing.T) {
	ctx := context.Background()
	userID := types.UserID("u1")
	scope := types.NewPrivateScope("u1")

	newState := func(score float64) *model.AffectionState {
		return &model.AffectionState{
			UserID: userID,
			Scope:  scope,
			Score:  score,
			Level:  0,
		}
	}

	t.Run("first write requires expected version zero", func(t *testing.T) {
		repo := memory.New()

		_, err := repo.Affection().Put(ctx, newState(1.0), 3)
		gt.Error(t, err)
		gt.Bool(t, errors.Is(err, types.ErrConcurrentUpdateConflict)).True()

		stored, err := repo.Affection().Put(ctx, newState(1.0), 0)
		gt.NoError(t, err).Required()
		gt.Value(t, stored.Version).Equal(int64(1))
	})

	t.Run("version mismatch is rejected", func(t *testing.T) {
		repo := memory.New()

		stored, err := repo.Affection().Put(ctx, newState(1.0), 0)
		gt.NoError(t, err).Required()

		_, err = repo.Affection().Put(ctx, newState(2.0), stored.Version+1)
		gt.Error(t, err)
		gt.Bool(t, errors.Is(err, types.ErrConcurrentUpdateConflict)).True()

		next, err := repo.Affection().Put(ctx, newState(2.0), stored.Version)
		gt.NoError(t, err).Required()
		gt.Value(t, next.Version).Equal(int64(2))
		gt.Value(t, next.Score).Equal(2.0)
	})

	t.Run("get returns the latest state", func(t *testing.T) {
		repo := memory.New()

		_, err := repo.Affection().Get(ctx, userID, scope)
		gt.Bool(t, errors.Is(err, types.ErrNotFound)).True()

		_, err = repo.Affection().Put(ctx, newState(3.5), 0)
		gt.NoError(t, err).Required()

		got, err := repo.Affection().Get(ctx, userID, scope)
		gt.NoError(t, err).Required()
		gt.Value(t, got.Score).Equal(3.5)
		gt.Bool(t, got.UpdatedAt.IsZero()).False()
	})

	t.Run("states are keyed by user and scope", func(t *testing.T) {
		repo := memory.New()
		group := types.NewGroupScope("g1")

		_, err := repo.Affection().Put(ctx, newState(5.0), 0)
		gt.NoError(t, err).Required()

		_, err = repo.Affection().Get(ctx, userID, group)
		gt.Bool(t, errors.Is(err, types.ErrNotFound)).True()
	})

	t.Run("delete removes the state", func(t *testing.T) {
		repo := memory.New()

		gt.Bool(t, errors.Is(repo.Affection().Delete(ctx, userID, scope), types.ErrNotFound)).True()

		_, err := repo.Affection().Put(ctx, newState(5.0), 0)
		gt.NoError(t, err).Required()

		gt.NoError(t, repo.Affection().Delete(ctx, userID, scope))
		_, err = repo.Affection().Get(ctx, userID, scope)
		gt.Bool(t, errors.Is(err, types.ErrNotFound)).True()
	})
}
