package graph

import (
	"context"
	"strings"

	"github.com/kurame123/Yuki-bot/pkg/domain/model"
	"github.com/kurame123/Yuki-bot/pkg/domain/types"
	"github.com/m-mizutani/goerr/v2"
)

// ContextFor collects the subgraph relevant to one chat turn. Anchors are
// entities extracted from any of the given memory records, plus entities
// whose name or alias literally appears in the text; each anchor is expanded
// to the configured query depth.
func (s *Service) ContextFor(ctx context.Context, scope types.Scope, text string, memoryIDs []model.MemoryID) (*model.Subgraph, error) {
	entities, err := s.repo.ListEntities(ctx, scope)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to list entities")
	}

	fromMemory := make(map[model.MemoryID]bool, len(memoryIDs))
	for _, id := range memoryIDs {
		fromMemory[id] = true
	}

	result := &model.Subgraph{}
	seenEntities := make(map[model.EntityID]bool)
	seenRelations := make(map[model.RelationID]bool)

	for _, entity := range entities {
		if !anchorsTurn(entity, text, fromMemory) {
			continue
		}
		sub, err := s.Query(ctx, scope, entity.Name, s.cfg.QueryDepth)
		if err != nil {
			return nil, err
		}
		for _, e := range sub.Entities {
			if !seenEntities[e.ID] {
				seenEntities[e.ID] = true
				result.Entities = append(result.Entities, e)
			}
		}
		for _, r := range sub.Relations {
			if !seenRelations[r.ID] {
				seenRelations[r.ID] = true
				result.Relations = append(result.Relations, r)
			}
		}
	}

	return result, nil
}

func anchorsTurn(entity *model.Entity, text string, fromMemory map[model.MemoryID]bool) bool {
	for _, id := range entity.Provenance {
		if fromMemory[id] {
			return true
		}
	}
	if entity.Name != "" && strings.Contains(text, entity.Name) {
		return true
	}
	for _, alias := range entity.Aliases {
		if alias != "" && strings.Contains(text, alias) {
			return true
		}
	}
	return false
}

// Query returns the subgraph reachable within depth hops from entities
// matching name (normalized name or alias). Depth 0 returns just the
// anchors. An unknown name returns an empty subgraph, not an error.
func (s *Service) Query(ctx context.Context, scope types.Scope, name string, depth int) (*model.Subgraph, error) {
	if depth < 0 {
		depth = 0
	}
	if depth > s.cfg.QueryDepth {
		depth = s.cfg.QueryDepth
	}

	entities, err := s.repo.ListEntities(ctx, scope)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to list entities")
	}

	result := &model.Subgraph{}
	seen := make(map[model.EntityID]bool)
	var frontier []*model.Entity
	for _, entity := range entities {
		if entity.MatchesName(name) {
			frontier = append(frontier, entity)
			seen[entity.ID] = true
		}
	}
	if len(frontier) == 0 {
		return result, nil
	}
	result.Entities = append(result.Entities, frontier...)

	seenRelations := make(map[model.RelationID]bool)
	for hop := 0; hop < depth && len(frontier) > 0; hop++ {
		var next []*model.Entity
		for _, entity := range frontier {
			relations, err := s.repo.RelationsByEntity(ctx, scope, entity.ID)
			if err != nil {
				return nil, goerr.Wrap(err, "failed to expand entity", goerr.V("entityID", entity.ID))
			}
			for _, rel := range relations {
				if seenRelations[rel.ID] {
					continue
				}
				seenRelations[rel.ID] = true
				result.Relations = append(result.Relations, rel)

				for _, id := range []model.EntityID{rel.SubjectID, rel.ObjectID} {
					if seen[id] {
						continue
					}
					seen[id] = true
					neighbor, err := s.repo.GetEntity(ctx, scope, id)
					if err != nil {
						return nil, goerr.Wrap(err, "failed to load neighbor", goerr.V("entityID", id))
					}
					result.Entities = append(result.Entities, neighbor)
					next = append(next, neighbor)
				}
			}
		}
		frontier = next
	}

	return result, nil
}
