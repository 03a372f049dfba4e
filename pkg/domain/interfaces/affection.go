package interfaces

import (
	"context"

	"github.com/kurame123/Yuki-bot/pkg/domain/model"
	"github.com/kurame123/Yuki-bot/pkg/domain/types"
)

// AffectionRepository stores one AffectionState per (user, scope) with
// optimistic-concurrency writes.
type AffectionRepository interface {
	// Get returns the state for (user, scope), or types.ErrNotFound
	Get(ctx context.Context, userID types.UserID, scope types.Scope) (*model.AffectionState, error)

	// Put writes the state if the stored version still equals
	// expectedVersion (0 means "must not exist yet"), bumping
	// state.Version by one. A mismatch returns
	// types.ErrConcurrentUpdateConflict and writes nothing.
	Put(ctx context.Context, state *model.AffectionState, expectedVersion int64) (*model.AffectionState, error)

	// Delete removes the state (administrative reset; the next
	// interaction recreates it lazily), or types.ErrNotFound.
	Delete(ctx context.Context, userID types.UserID, scope types.Scope) error
}
