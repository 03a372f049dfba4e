package affection

import (
	"context"
	"errors"
	"strings"

	"github.com/kurame123/Yuki-bot/pkg/domain/interfaces"
	"github.com/kurame123/Yuki-bot/pkg/domain/model"
	"github.com/kurame123/Yuki-bot/pkg/domain/model/config"
	"github.com/kurame123/Yuki-bot/pkg/domain/types"
	"github.com/kurame123/Yuki-bot/pkg/utils/logging"
	"github.com/m-mizutani/goerr/v2"
)

// Service is the affection engine: a deterministic scoring state machine per
// (user, scope). Level is always recomputed from score through the level
// table on every write; writes go through the repository's version counter.
type Service struct {
	repo  interfaces.AffectionRepository
	table *model.LevelTable
	cfg   config.AffectionConfig
}

func New(repo interfaces.AffectionRepository, persona *config.Persona) (*Service, error) {
	if repo == nil {
		return nil, goerr.New("affection repository is required")
	}
	table, err := persona.LevelTable()
	if err != nil {
		return nil, goerr.Wrap(err, "failed to build level table")
	}

	return &Service{
		repo:  repo,
		table: table,
		cfg:   persona.Affection,
	}, nil
}

// Table returns the configured level table
func (s *Service) Table() *model.LevelTable {
	return s.table
}

// Current returns the state for (user, scope), synthesizing the initial
// state (lowest level, zero score) when none exists yet. The synthesized
// state has Version 0 and is not persisted until the first ApplyDelta.
func (s *Service) Current(ctx context.Context, userID types.UserID, scope types.Scope) (*model.AffectionState, error) {
	state, err := s.repo.Get(ctx, userID, scope)
	if err == nil {
		return state, nil
	}
	if !errors.Is(err, types.ErrNotFound) {
		return nil, goerr.Wrap(err, "failed to get affection state")
	}

	score := s.table.ClampScore(0)
	return &model.AffectionState{
		UserID: userID,
		Scope:  scope,
		Score:  score,
		Level:  s.table.LevelFor(score),
	}, nil
}

// ApplyDelta atomically adds delta to the cumulative score and recomputes
// the level. On a lost optimistic race it re-reads and retries up to the
// configured budget, then fails with ErrConcurrentUpdateConflict; the caller
// treats that as a soft error and proceeds with the pre-update state.
func (s *Service) ApplyDelta(ctx context.Context, userID types.UserID, scope types.Scope, delta float64) (*model.AffectionState, error) {
	var lastErr error
	for attempt := 0; attempt < s.cfg.RetryBudget; attempt++ {
		state, err := s.Current(ctx, userID, scope)
		if err != nil {
			return nil, err
		}

		expected := state.Version
		state.Score = s.table.ClampScore(state.Score + delta)
		state.Level = s.table.LevelFor(state.Score)
		state.Interactions++

		updated, err := s.repo.Put(ctx, state, expected)
		if err == nil {
			if attempt > 0 {
				logging.From(ctx).Debug("affection write succeeded after retry",
					"user_id", userID, "scope", scope.Key(), "attempt", attempt)
			}
			return updated, nil
		}
		if !errors.Is(err, types.ErrConcurrentUpdateConflict) {
			return nil, goerr.Wrap(err, "failed to write affection state")
		}
		lastErr = err
	}

	return nil, goerr.Wrap(lastErr, "affection update lost the optimistic race",
		goerr.V("userID", userID), goerr.V("scope", scope.Key()),
		goerr.V("retries", s.cfg.RetryBudget))
}

// Temperature maps the state's level to a generation temperature. Fresh
// users (no state, or score at the bottom of the table) get the default.
func (s *Service) Temperature(ctx context.Context, userID types.UserID, scope types.Scope) (float64, error) {
	state, err := s.Current(ctx, userID, scope)
	if err != nil {
		return s.cfg.DefaultTemperature, err
	}
	if state.Score <= s.table.ClampScore(0) {
		return s.cfg.DefaultTemperature, nil
	}
	return s.table.TemperatureFor(state.Level, s.cfg.DefaultTemperature), nil
}

// Reset removes the state for (user, scope); the next interaction recreates
// it at the initial level. Missing state is not an error.
func (s *Service) Reset(ctx context.Context, userID types.UserID, scope types.Scope) error {
	if err := s.repo.Delete(ctx, userID, scope); err != nil {
		if errors.Is(err, types.ErrNotFound) {
			return nil
		}
		return goerr.Wrap(err, "failed to reset affection state")
	}
	return nil
}

// ScoreInteraction computes the per-turn affection delta from the user's
// message: base drift for any chat, bonuses for effort, questions, positive
// keywords and emoticons, penalties for negative keywords and dismissive
// one-word replies. Growth slows as the score climbs, and the result is
// clamped so one message can never spike the relationship.
func (s *Service) ScoreInteraction(text string, currentScore float64) float64 {
	u := strings.TrimSpace(text)
	length := len([]rune(u))
	lex := s.cfg.Lexicon

	delta := 0.05

	if length > 40 {
		delta += 0.05
	}
	if length > 100 {
		delta += 0.05
	}

	lightHits := 0
	for _, word := range lex.PositiveLight {
		if strings.Contains(u, word) {
			lightHits++
		}
	}
	delta += min(float64(lightHits)*0.05, 0.15)

	for _, word := range lex.PositiveStrong {
		if strings.Contains(u, word) {
			delta += 0.15
			break
		}
	}

	if strings.ContainsAny(u, "?？") {
		delta += 0.05
	}

	for _, pattern := range lex.Emoticons {
		if strings.Contains(u, pattern) {
			delta += 0.05
			break
		}
	}

	for _, word := range lex.NegativeLight {
		if strings.Contains(u, word) {
			delta -= 0.1
			break
		}
	}
	for _, word := range lex.NegativeStrong {
		if strings.Contains(u, word) {
			delta -= 0.3
			break
		}
	}

	if length <= 3 {
		for _, cold := range lex.ColdReplies {
			if u == cold {
				delta -= 0.05
				break
			}
		}
	}

	delta *= growthCoefficient(currentScore)

	bound := s.cfg.MaxDeltaPerTurn
	return max(-bound, min(delta, bound))
}

// growthCoefficient slows score growth in the upper bands: escaping the
// negative levels is easy, reaching the top is very hard.
func growthCoefficient(score float64) float64 {
	switch {
	case score <= 3.0:
		return 1.2
	case score <= 6.0:
		return 1.0
	case score <= 9.0:
		return 0.7
	case score <= 11.0:
		return 0.5
	case score <= 12.5:
		return 0.3
	default:
		return 0.1
	}
}
