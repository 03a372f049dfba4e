package memory

import (
	"context"
	"sync"
	"time"

	"github.com/kurame123/Yuki-bot/pkg/domain/model"
	"github.com/kurame123/Yuki-bot/pkg/domain/types"
	"github.com/m-mizutani/goerr/v2"
)

type affectionKey struct {
	userID types.UserID
	scope  string
}

type affectionStore struct {
	mu      sync.Mutex
	entries map[affectionKey]*model.AffectionState
}

func newAffectionStore() *affectionStore {
	return &affectionStore{
		entries: make(map[affectionKey]*model.AffectionState),
	}
}

func copyAffection(s *model.AffectionState) *model.AffectionState {
	copied := *s
	return &copied
}

func (r *affectionStore) Get(ctx context.Context, userID types.UserID, scope types.Scope) (*model.AffectionState, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	state, exists := r.entries[affectionKey{userID: userID, scope: scope.Key()}]
	if !exists {
		return nil, goerr.Wrap(types.ErrNotFound, "affection state not found",
			goerr.V("userID", userID), goerr.V("scope", scope.Key()))
	}
	return copyAffection(state), nil
}

func (r *affectionStore) Put(ctx context.Context, state *model.AffectionState, expectedVersion int64) (*model.AffectionState, error) {
	if err := state.UserID.Validate(); err != nil {
		return nil, err
	}
	if err := state.Scope.Validate(); err != nil {
		return nil, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	key := affectionKey{userID: state.UserID, scope: state.Scope.Key()}
	current, exists := r.entries[key]

	switch {
	case !exists && expectedVersion != 0:
		return nil, goerr.Wrap(types.ErrConcurrentUpdateConflict, "state does not exist",
			goerr.V("expected", expectedVersion))
	case exists && current.Version != expectedVersion:
		return nil, goerr.Wrap(types.ErrConcurrentUpdateConflict, "version mismatch",
			goerr.V("expected", expectedVersion), goerr.V("actual", current.Version))
	}

	stored := copyAffection(state)
	stored.Version = expectedVersion + 1
	stored.UpdatedAt = time.Now().UTC()

	r.entries[key] = stored
	return copyAffection(stored), nil
}

func (r *affectionStore) Delete(ctx context.Context, userID types.UserID, scope types.Scope) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	key := affectionKey{userID: userID, scope: scope.Key()}
	if _, exists := r.entries[key]; !exists {
		return goerr.Wrap(types.ErrNotFound, "affection state not found",
			goerr.V("userID", userID), goerr.V("scope", scope.Key()))
	}
	delete(r.entries, key)
	return nil
}
