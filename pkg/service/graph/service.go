package graph

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/kurame123/Yuki-bot/pkg/domain/interfaces"
	"github.com/kurame123/Yuki-bot/pkg/domain/model"
	"github.com/kurame123/Yuki-bot/pkg/domain/model/config"
	"github.com/kurame123/Yuki-bot/pkg/domain/types"
	"github.com/kurame123/Yuki-bot/pkg/utils/logging"
	"github.com/m-mizutani/goerr/v2"
	"github.com/m-mizutani/gollem"
)

// defaultConfidence is assigned to a freshly extracted relation; only the
// cleanup path may lower it afterwards.
const defaultConfidence = 0.6

// llmTimeout bounds one extraction or review call
const llmTimeout = 30 * time.Second

// Service is the knowledge graph engine. It extracts entities and relations
// from memory records through the LLM, merges them into per-scope graphs and
// answers bounded subgraph queries. Ingest and Cleanup on one partition are
// serialized; Query is read-only and never blocks on them beyond the
// repository's own consistency.
type Service struct {
	repo interfaces.GraphRepository
	llm  gollem.LLMClient
	cfg  config.GraphConfig

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func New(repo interfaces.GraphRepository, llm gollem.LLMClient, persona *config.Persona) (*Service, error) {
	if repo == nil {
		return nil, goerr.New("graph repository is required")
	}
	if llm == nil {
		return nil, goerr.New("LLM client is required")
	}

	return &Service{
		repo:  repo,
		llm:   llm,
		cfg:   persona.Graph,
		locks: make(map[string]*sync.Mutex),
	}, nil
}

func (s *Service) partitionLock(scope types.Scope) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := scope.Key()
	if lock, ok := s.locks[key]; ok {
		return lock
	}
	lock := &sync.Mutex{}
	s.locks[key] = lock
	return lock
}

// IngestReport summarizes one extraction pass over a memory record
type IngestReport struct {
	Entities  int `json:"entities"`
	Relations int `json:"relations"`
	Discarded int `json:"discarded"`
}

type extractedEntity struct {
	Name  string `json:"name"`
	Type  string `json:"type"`
	Alias string `json:"alias"`
}

type extractedRelation struct {
	Source   string `json:"source"`
	Target   string `json:"target"`
	Relation string `json:"relation"`
	TimeRef  string `json:"time_ref"`
}

type extractionResponse struct {
	Entities  []extractedEntity   `json:"entities"`
	Relations []extractedRelation `json:"relations"`
}

const extractionSystemPrompt = `You extract a knowledge graph from one chat message.

## Instructions:

1. Identify concrete entities the message mentions: people, places, organizations, things, events, dates.
2. For each entity provide:
   - name: the entity's canonical name as written in the message
   - type: a short lowercase category (person, place, organization, thing, event, time)
   - alias: an alternative name used in the message, or an empty string
3. Identify relations between the extracted entities. For each relation provide:
   - source: the name of the subject entity (must appear in entities)
   - target: the name of the object entity (must appear in entities)
   - relation: a short predicate phrase in the language of the message
   - time_ref: a time expression qualifying the relation, or an empty string
4. Extract only what the message states. Do not invent entities or relations.
5. If the message contains no extractable knowledge, return empty arrays.`

// Ingest extracts entities and relations from a stored memory record and
// merges them into the record's scope partition. The LLM response is
// untrusted: every candidate is validated and malformed ones are dropped
// one by one while the rest of the batch proceeds.
func (s *Service) Ingest(ctx context.Context, rec *model.MemoryRecord) (*IngestReport, error) {
	llmCtx, cancel := context.WithTimeout(ctx, llmTimeout)
	defer cancel()

	session, err := s.llm.NewSession(llmCtx,
		gollem.WithSessionContentType(gollem.ContentTypeJSON),
		gollem.WithSessionResponseSchema(buildExtractionSchema()),
		gollem.WithSessionSystemPrompt(extractionSystemPrompt),
	)
	if err != nil {
		return nil, goerr.Wrap(types.ErrCollaboratorUnavailable, "failed to create extraction session",
			goerr.V("cause", err.Error()))
	}

	resp, err := session.GenerateContent(llmCtx, gollem.Text(rec.Content))
	if err != nil {
		return nil, goerr.Wrap(types.ErrCollaboratorUnavailable, "extraction failed",
			goerr.V("cause", err.Error()))
	}
	if len(resp.Texts) == 0 {
		return nil, goerr.Wrap(types.ErrMalformedExtraction, "extraction returned no text")
	}

	var extraction extractionResponse
	if err := json.Unmarshal([]byte(resp.Texts[0]), &extraction); err != nil {
		return nil, goerr.Wrap(types.ErrMalformedExtraction, "failed to parse extraction response",
			goerr.V("response", resp.Texts[0]))
	}

	lock := s.partitionLock(rec.Scope)
	lock.Lock()
	defer lock.Unlock()

	return s.merge(ctx, rec, &extraction)
}

// merge folds validated extraction candidates into the partition
func (s *Service) merge(ctx context.Context, rec *model.MemoryRecord, extraction *extractionResponse) (*IngestReport, error) {
	logger := logging.From(ctx)
	report := &IngestReport{}

	// byNorm resolves relation endpoints to the entities of this batch
	byNorm := make(map[string]*model.Entity)

	for _, cand := range extraction.Entities {
		name := strings.TrimSpace(cand.Name)
		typ := strings.ToLower(strings.TrimSpace(cand.Type))
		if name == "" || typ == "" {
			logger.Warn("discarded malformed entity candidate",
				"error", types.ErrMalformedExtraction, "name", cand.Name, "type", cand.Type)
			report.Discarded++
			continue
		}

		entity, err := s.mergeEntity(ctx, rec, name, typ, strings.TrimSpace(cand.Alias))
		if err != nil {
			return report, err
		}
		byNorm[entity.NormName] = entity
		report.Entities++
	}

	for _, cand := range extraction.Relations {
		predicate := strings.TrimSpace(cand.Relation)
		subject, okS := s.resolveEndpoint(ctx, rec.Scope, byNorm, cand.Source)
		object, okO := s.resolveEndpoint(ctx, rec.Scope, byNorm, cand.Target)
		if predicate == "" || !okS || !okO || subject.ID == object.ID {
			logger.Warn("discarded malformed relation candidate",
				"error", types.ErrMalformedExtraction,
				"source", cand.Source, "target", cand.Target, "relation", cand.Relation)
			report.Discarded++
			continue
		}

		if err := s.mergeRelation(ctx, rec, subject.ID, predicate, object.ID, strings.TrimSpace(cand.TimeRef)); err != nil {
			return report, err
		}
		report.Relations++
	}

	return report, nil
}

func (s *Service) mergeEntity(ctx context.Context, rec *model.MemoryRecord, name, typ, alias string) (*model.Entity, error) {
	norm := model.NormalizeEntityName(name)

	existing, err := s.repo.FindEntityByNormName(ctx, rec.Scope, norm, typ)
	if err != nil && !errors.Is(err, types.ErrNotFound) {
		return nil, goerr.Wrap(err, "entity lookup failed", goerr.V("name", name))
	}

	if existing == nil {
		entity := &model.Entity{
			Scope:      rec.Scope,
			Name:       name,
			NormName:   norm,
			Type:       typ,
			Provenance: []model.MemoryID{rec.ID},
		}
		if alias != "" {
			entity.Aliases = []string{alias}
		}
		stored, err := s.repo.PutEntity(ctx, entity)
		if err != nil {
			return nil, goerr.Wrap(err, "failed to store entity", goerr.V("name", name))
		}
		return stored, nil
	}

	changed := appendMemoryID(&existing.Provenance, rec.ID)
	if alias != "" && !existing.MatchesName(alias) && !containsString(existing.Aliases, alias) {
		existing.Aliases = append(existing.Aliases, alias)
		changed = true
	}
	if !changed {
		return existing, nil
	}

	stored, err := s.repo.PutEntity(ctx, existing)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to update entity", goerr.V("name", name))
	}
	return stored, nil
}

func (s *Service) mergeRelation(ctx context.Context, rec *model.MemoryRecord, subject model.EntityID, predicate string, object model.EntityID, timeRef string) error {
	existing, err := s.repo.FindRelation(ctx, rec.Scope, subject, predicate, object)
	if err != nil && !errors.Is(err, types.ErrNotFound) {
		return goerr.Wrap(err, "relation lookup failed", goerr.V("predicate", predicate))
	}

	if existing == nil {
		relation := &model.Relation{
			Scope:      rec.Scope,
			SubjectID:  subject,
			Predicate:  predicate,
			ObjectID:   object,
			Confidence: defaultConfidence,
			TimeRef:    timeRef,
			Provenance: []model.MemoryID{rec.ID},
		}
		if _, err := s.repo.PutRelation(ctx, relation); err != nil {
			return goerr.Wrap(err, "failed to store relation", goerr.V("predicate", predicate))
		}
		return nil
	}

	changed := appendMemoryID(&existing.Provenance, rec.ID)
	if existing.Confidence < defaultConfidence {
		existing.Confidence = defaultConfidence
		changed = true
	}
	if timeRef != "" && existing.TimeRef == "" {
		existing.TimeRef = timeRef
		changed = true
	}
	if !changed {
		return nil
	}

	if _, err := s.repo.PutRelation(ctx, existing); err != nil {
		return goerr.Wrap(err, "failed to update relation", goerr.V("predicate", predicate))
	}
	return nil
}

// resolveEndpoint finds a relation endpoint first among the entities of the
// current batch, then in the stored partition.
func (s *Service) resolveEndpoint(ctx context.Context, scope types.Scope, byNorm map[string]*model.Entity, name string) (*model.Entity, bool) {
	norm := model.NormalizeEntityName(strings.TrimSpace(name))
	if norm == "" {
		return nil, false
	}
	if entity, ok := byNorm[norm]; ok {
		return entity, true
	}

	entity, err := s.repo.FindEntityByNormName(ctx, scope, norm, "")
	if err != nil {
		return nil, false
	}
	return entity, true
}

func buildExtractionSchema() *gollem.Parameter {
	return &gollem.Parameter{
		Title:       "KnowledgeExtraction",
		Description: "Entities and relations extracted from one chat message",
		Type:        gollem.TypeObject,
		Properties: map[string]*gollem.Parameter{
			"entities": {
				Type:        gollem.TypeArray,
				Description: "Entities mentioned in the message",
				Required:    true,
				Items: &gollem.Parameter{
					Type: gollem.TypeObject,
					Properties: map[string]*gollem.Parameter{
						"name": {
							Type:        gollem.TypeString,
							Description: "Canonical name of the entity",
							Required:    true,
						},
						"type": {
							Type:        gollem.TypeString,
							Description: "Short lowercase category such as person, place, thing",
							Required:    true,
						},
						"alias": {
							Type:        gollem.TypeString,
							Description: "Alternative name used in the message, empty when none",
							Required:    true,
						},
					},
				},
			},
			"relations": {
				Type:        gollem.TypeArray,
				Description: "Relations between extracted entities",
				Required:    true,
				Items: &gollem.Parameter{
					Type: gollem.TypeObject,
					Properties: map[string]*gollem.Parameter{
						"source": {
							Type:        gollem.TypeString,
							Description: "Name of the subject entity",
							Required:    true,
						},
						"target": {
							Type:        gollem.TypeString,
							Description: "Name of the object entity",
							Required:    true,
						},
						"relation": {
							Type:        gollem.TypeString,
							Description: "Short predicate phrase",
							Required:    true,
						},
						"time_ref": {
							Type:        gollem.TypeString,
							Description: "Time expression qualifying the relation, empty when none",
							Required:    true,
						},
					},
				},
			},
		},
	}
}

func appendMemoryID(ids *[]model.MemoryID, id model.MemoryID) bool {
	for _, existing := range *ids {
		if existing == id {
			return false
		}
	}
	*ids = append(*ids, id)
	return true
}

func containsString(xs []string, x string) bool {
	for _, v := range xs {
		if v == x {
			return true
		}
	}
	return false
}
