package graph

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/kurame123/Yuki-bot/pkg/domain/model"
	"github.com/kurame123/Yuki-bot/pkg/domain/types"
	"github.com/kurame123/Yuki-bot/pkg/utils/logging"
	"github.com/m-mizutani/goerr/v2"
	"github.com/m-mizutani/gollem"
)

// CleanupReport summarizes one maintenance pass over a partition
type CleanupReport struct {
	Reviewed         int `json:"reviewed"`
	RelationsRemoved int `json:"relations_removed"`
	EntitiesMerged   int `json:"entities_merged"`
	FloorDeleted     int `json:"floor_deleted"`
}

type entityMerge struct {
	Keep string `json:"keep"`
	Drop string `json:"drop"`
}

type reviewResponse struct {
	StaleRelations []string      `json:"stale_relations"`
	MergeEntities  []entityMerge `json:"merge_entities"`
}

const reviewSystemPrompt = `You review a stored knowledge graph for maintenance.

## Instructions:

1. stale_relations: list the IDs of relations that are contradictory, self-evident noise, or clearly outdated by a later relation. Be conservative; when in doubt keep the relation.
2. merge_entities: list pairs of entity IDs that clearly refer to the same real-world thing (keep = the better-named one, drop = the duplicate). Only pair entities of the same type.
3. Use only the IDs given in the input. Return empty arrays when nothing needs maintenance.`

// Cleanup sends a batch of the partition's graph to the LLM for review,
// applies the validated suggestions (stale relation removal, duplicate
// entity merges) and finally deletes relations below the confidence floor.
// This is the only path that removes graph data.
func (s *Service) Cleanup(ctx context.Context, scope types.Scope) (*CleanupReport, error) {
	lock := s.partitionLock(scope)
	lock.Lock()
	defer lock.Unlock()

	logger := logging.From(ctx)
	report := &CleanupReport{}

	entities, err := s.repo.ListEntities(ctx, scope)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to list entities")
	}
	relations, err := s.repo.ListRelations(ctx, scope)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to list relations")
	}
	if len(relations) > s.cfg.CleanupBatch {
		relations = relations[:s.cfg.CleanupBatch]
	}
	report.Reviewed = len(relations)

	if len(entities) > 0 && len(relations) > 0 {
		review, err := s.requestReview(ctx, entities, relations)
		if err != nil {
			logger.Warn("graph review skipped", "scope", scope.Key(), "error", err)
		} else {
			if err := s.applyReview(ctx, scope, entities, relations, review, report); err != nil {
				return report, err
			}
		}
	}

	// Confidence floor sweep runs even when the reviewer is unavailable
	remaining, err := s.repo.ListRelations(ctx, scope)
	if err != nil {
		return report, goerr.Wrap(err, "failed to list relations for floor sweep")
	}
	for _, rel := range remaining {
		if rel.Confidence >= s.cfg.ConfidenceFloor {
			continue
		}
		if err := s.repo.DeleteRelation(ctx, scope, rel.ID); err != nil {
			return report, goerr.Wrap(err, "failed to delete low-confidence relation", goerr.V("relationID", rel.ID))
		}
		report.FloorDeleted++
	}

	logger.Info("graph cleanup finished",
		"scope", scope.Key(),
		"reviewed", report.Reviewed,
		"relations_removed", report.RelationsRemoved,
		"entities_merged", report.EntitiesMerged,
		"floor_deleted", report.FloorDeleted)
	return report, nil
}

func (s *Service) requestReview(ctx context.Context, entities []*model.Entity, relations []*model.Relation) (*reviewResponse, error) {
	llmCtx, cancel := context.WithTimeout(ctx, llmTimeout)
	defer cancel()

	session, err := s.llm.NewSession(llmCtx,
		gollem.WithSessionContentType(gollem.ContentTypeJSON),
		gollem.WithSessionResponseSchema(buildReviewSchema()),
		gollem.WithSessionSystemPrompt(reviewSystemPrompt),
	)
	if err != nil {
		return nil, goerr.Wrap(types.ErrCollaboratorUnavailable, "failed to create review session",
			goerr.V("cause", err.Error()))
	}

	resp, err := session.GenerateContent(llmCtx, gollem.Text(buildReviewPrompt(entities, relations)))
	if err != nil {
		return nil, goerr.Wrap(types.ErrCollaboratorUnavailable, "graph review failed",
			goerr.V("cause", err.Error()))
	}
	if len(resp.Texts) == 0 {
		return nil, goerr.Wrap(types.ErrMalformedExtraction, "review returned no text")
	}

	var review reviewResponse
	if err := json.Unmarshal([]byte(resp.Texts[0]), &review); err != nil {
		return nil, goerr.Wrap(types.ErrMalformedExtraction, "failed to parse review response",
			goerr.V("response", resp.Texts[0]))
	}
	return &review, nil
}

// applyReview validates every suggestion against the reviewed batch before
// touching the store; unknown IDs and invalid pairs are dropped one by one.
func (s *Service) applyReview(ctx context.Context, scope types.Scope, entities []*model.Entity, relations []*model.Relation, review *reviewResponse, report *CleanupReport) error {
	logger := logging.From(ctx)

	entityByID := make(map[model.EntityID]*model.Entity, len(entities))
	for _, e := range entities {
		entityByID[e.ID] = e
	}
	relationByID := make(map[model.RelationID]*model.Relation, len(relations))
	for _, r := range relations {
		relationByID[r.ID] = r
	}

	removed := make(map[model.RelationID]bool)
	for _, raw := range review.StaleRelations {
		id := model.RelationID(raw)
		if _, ok := relationByID[id]; !ok {
			logger.Warn("discarded unknown stale relation suggestion",
				"error", types.ErrMalformedExtraction, "relation_id", raw)
			continue
		}
		if removed[id] {
			continue
		}
		if err := s.repo.DeleteRelation(ctx, scope, id); err != nil {
			return goerr.Wrap(err, "failed to delete stale relation", goerr.V("relationID", id))
		}
		removed[id] = true
		report.RelationsRemoved++
	}

	// Surviving reviewed relations get a fresh review timestamp. This runs
	// before the merges so a merge never sees, or clobbers, a stale copy.
	now := time.Now()
	for _, rel := range relations {
		if removed[rel.ID] {
			continue
		}
		rel.ReviewedAt = now
		if _, err := s.repo.PutRelation(ctx, rel); err != nil {
			return goerr.Wrap(err, "failed to mark relation reviewed", goerr.V("relationID", rel.ID))
		}
	}

	merged := make(map[model.EntityID]bool)
	for _, pair := range review.MergeEntities {
		keep, okK := entityByID[model.EntityID(pair.Keep)]
		drop, okD := entityByID[model.EntityID(pair.Drop)]
		if !okK || !okD || keep.ID == drop.ID || keep.Type != drop.Type ||
			merged[keep.ID] || merged[drop.ID] {
			logger.Warn("discarded invalid entity merge suggestion",
				"error", types.ErrMalformedExtraction, "keep", pair.Keep, "drop", pair.Drop)
			continue
		}
		if err := s.mergeEntities(ctx, scope, keep, drop); err != nil {
			return err
		}
		merged[drop.ID] = true
		report.EntitiesMerged++
	}

	return nil
}

// mergeEntities folds drop into keep: aliases and provenance are unioned,
// drop's relations are re-pointed at keep (or unioned into an existing
// identical triple), then drop is removed.
func (s *Service) mergeEntities(ctx context.Context, scope types.Scope, keep, drop *model.Entity) error {
	if !containsString(keep.Aliases, drop.Name) && !keep.MatchesName(drop.Name) {
		keep.Aliases = append(keep.Aliases, drop.Name)
	}
	for _, alias := range drop.Aliases {
		if !containsString(keep.Aliases, alias) && !keep.MatchesName(alias) {
			keep.Aliases = append(keep.Aliases, alias)
		}
	}
	for _, id := range drop.Provenance {
		appendMemoryID(&keep.Provenance, id)
	}
	if _, err := s.repo.PutEntity(ctx, keep); err != nil {
		return goerr.Wrap(err, "failed to update merged entity", goerr.V("entityID", keep.ID))
	}

	relations, err := s.repo.RelationsByEntity(ctx, scope, drop.ID)
	if err != nil {
		return goerr.Wrap(err, "failed to list relations of merged entity", goerr.V("entityID", drop.ID))
	}
	for _, rel := range relations {
		if rel.SubjectID == drop.ID {
			rel.SubjectID = keep.ID
		}
		if rel.ObjectID == drop.ID {
			rel.ObjectID = keep.ID
		}
		if rel.SubjectID == rel.ObjectID {
			continue
		}

		// The survivor may already hold the same triple; union into it
		// instead of storing a duplicate.
		existing, err := s.repo.FindRelation(ctx, scope, rel.SubjectID, rel.Predicate, rel.ObjectID)
		if err != nil && !errors.Is(err, types.ErrNotFound) {
			return goerr.Wrap(err, "failed to check for duplicate relation", goerr.V("relationID", rel.ID))
		}
		if err == nil && existing.ID != rel.ID {
			if rel.Confidence > existing.Confidence {
				existing.Confidence = rel.Confidence
			}
			if existing.TimeRef == "" {
				existing.TimeRef = rel.TimeRef
			}
			for _, id := range rel.Provenance {
				appendMemoryID(&existing.Provenance, id)
			}
			if _, err := s.repo.PutRelation(ctx, existing); err != nil {
				return goerr.Wrap(err, "failed to union duplicate relation", goerr.V("relationID", existing.ID))
			}
			if err := s.repo.DeleteRelation(ctx, scope, rel.ID); err != nil {
				return goerr.Wrap(err, "failed to delete duplicate relation", goerr.V("relationID", rel.ID))
			}
			continue
		}

		if _, err := s.repo.PutRelation(ctx, rel); err != nil {
			return goerr.Wrap(err, "failed to re-point relation", goerr.V("relationID", rel.ID))
		}
	}

	if err := s.repo.DeleteEntity(ctx, scope, drop.ID); err != nil {
		return goerr.Wrap(err, "failed to delete merged entity", goerr.V("entityID", drop.ID))
	}
	return nil
}

func buildReviewPrompt(entities []*model.Entity, relations []*model.Relation) string {
	var sb strings.Builder

	sb.WriteString("## Entities:\n\n")
	for _, e := range entities {
		fmt.Fprintf(&sb, "- id=%s type=%s name=%q", e.ID, e.Type, e.Name)
		if len(e.Aliases) > 0 {
			fmt.Fprintf(&sb, " aliases=%q", e.Aliases)
		}
		sb.WriteString("\n")
	}

	sb.WriteString("\n## Relations:\n\n")
	for _, r := range relations {
		fmt.Fprintf(&sb, "- id=%s subject=%s predicate=%q object=%s confidence=%.2f",
			r.ID, r.SubjectID, r.Predicate, r.ObjectID, r.Confidence)
		if r.TimeRef != "" {
			fmt.Fprintf(&sb, " time=%q", r.TimeRef)
		}
		sb.WriteString("\n")
	}

	return sb.String()
}

func buildReviewSchema() *gollem.Parameter {
	return &gollem.Parameter{
		Title:       "GraphReview",
		Description: "Maintenance suggestions for a stored knowledge graph",
		Type:        gollem.TypeObject,
		Properties: map[string]*gollem.Parameter{
			"stale_relations": {
				Type:        gollem.TypeArray,
				Description: "IDs of relations to remove",
				Required:    true,
				Items: &gollem.Parameter{
					Type: gollem.TypeString,
				},
			},
			"merge_entities": {
				Type:        gollem.TypeArray,
				Description: "Pairs of duplicate entities to merge",
				Required:    true,
				Items: &gollem.Parameter{
					Type: gollem.TypeObject,
					Properties: map[string]*gollem.Parameter{
						"keep": {
							Type:        gollem.TypeString,
							Description: "ID of the entity to keep",
							Required:    true,
						},
						"drop": {
							Type:        gollem.TypeString,
							Description: "ID of the duplicate entity to remove",
							Required:    true,
						},
					},
				},
			},
		},
	}
}
