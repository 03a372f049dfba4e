package firestore

import (
	"context"
	"fmt"
	"time"

	"cloud.google.com/go/firestore"
	"github.com/kurame123/Yuki-bot/pkg/domain/model"
	"github.com/kurame123/Yuki-bot/pkg/domain/types"
	"github.com/m-mizutani/goerr/v2"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

type affectionDoc struct {
	UserID       types.UserID `firestore:"UserID"`
	ScopeKind    string       `firestore:"ScopeKind"`
	ScopeID      string       `firestore:"ScopeID"`
	Score        float64      `firestore:"Score"`
	Level        int          `firestore:"Level"`
	Interactions int64        `firestore:"Interactions"`
	Version      int64        `firestore:"Version"`
	UpdatedAt    time.Time    `firestore:"UpdatedAt"`
}

func toAffectionDoc(s *model.AffectionState) *affectionDoc {
	return &affectionDoc{
		UserID:       s.UserID,
		ScopeKind:    string(s.Scope.Kind),
		ScopeID:      s.Scope.ID,
		Score:        s.Score,
		Level:        s.Level,
		Interactions: s.Interactions,
		Version:      s.Version,
		UpdatedAt:    s.UpdatedAt,
	}
}

func fromAffectionDoc(d *affectionDoc) *model.AffectionState {
	return &model.AffectionState{
		UserID:       d.UserID,
		Scope:        types.Scope{Kind: types.ScopeKind(d.ScopeKind), ID: d.ScopeID},
		Score:        d.Score,
		Level:        d.Level,
		Interactions: d.Interactions,
		Version:      d.Version,
		UpdatedAt:    d.UpdatedAt,
	}
}

type affectionRepository struct {
	client *firestore.Client
}

func newAffectionRepository(client *firestore.Client) *affectionRepository {
	return &affectionRepository{client: client}
}

func (r *affectionRepository) docRef(userID types.UserID, scope types.Scope) *firestore.DocumentRef {
	return r.client.Collection("affection").Doc(fmt.Sprintf("%s!%s", scope.Key(), userID))
}

func (r *affectionRepository) Get(ctx context.Context, userID types.UserID, scope types.Scope) (*model.AffectionState, error) {
	doc, err := r.docRef(userID, scope).Get(ctx)
	if err != nil {
		if status.Code(err) == codes.NotFound {
			return nil, goerr.Wrap(types.ErrNotFound, "affection state not found",
				goerr.V("userID", userID), goerr.V("scope", scope.Key()))
		}
		return nil, goerr.Wrap(err, "failed to get affection state", goerr.V("userID", userID))
	}

	var d affectionDoc
	if err := doc.DataTo(&d); err != nil {
		return nil, goerr.Wrap(err, "failed to unmarshal affection state", goerr.V("userID", userID))
	}
	return fromAffectionDoc(&d), nil
}

// Put writes the state in a transaction guarded by the version counter.
// Score and Level land atomically: a crash mid-update never persists one
// without the other.
func (r *affectionRepository) Put(ctx context.Context, state *model.AffectionState, expectedVersion int64) (*model.AffectionState, error) {
	if err := state.UserID.Validate(); err != nil {
		return nil, err
	}
	if err := state.Scope.Validate(); err != nil {
		return nil, err
	}

	docRef := r.docRef(state.UserID, state.Scope)
	stored := *state
	stored.Version = expectedVersion + 1
	stored.UpdatedAt = time.Now().UTC()

	err := r.client.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		doc, err := tx.Get(docRef)
		if err != nil {
			if status.Code(err) != codes.NotFound {
				return goerr.Wrap(err, "failed to get affection state")
			}
			if expectedVersion != 0 {
				return goerr.Wrap(types.ErrConcurrentUpdateConflict, "state does not exist",
					goerr.V("expected", expectedVersion))
			}
			return tx.Set(docRef, toAffectionDoc(&stored))
		}

		var d affectionDoc
		if err := doc.DataTo(&d); err != nil {
			return goerr.Wrap(err, "failed to unmarshal affection state")
		}
		if d.Version != expectedVersion {
			return goerr.Wrap(types.ErrConcurrentUpdateConflict, "version mismatch",
				goerr.V("expected", expectedVersion), goerr.V("actual", d.Version))
		}
		return tx.Set(docRef, toAffectionDoc(&stored))
	})
	if err != nil {
		return nil, err
	}
	return &stored, nil
}

func (r *affectionRepository) Delete(ctx context.Context, userID types.UserID, scope types.Scope) error {
	docRef := r.docRef(userID, scope)

	if _, err := docRef.Get(ctx); err != nil {
		if status.Code(err) == codes.NotFound {
			return goerr.Wrap(types.ErrNotFound, "affection state not found",
				goerr.V("userID", userID), goerr.V("scope", scope.Key()))
		}
		return goerr.Wrap(err, "failed to get affection state", goerr.V("userID", userID))
	}

	if _, err := docRef.Delete(ctx); err != nil {
		return goerr.Wrap(err, "failed to delete affection state", goerr.V("userID", userID))
	}
	return nil
}
