package usecase

import (
	"bytes"
	"context"
	_ "embed"
	"errors"
	"fmt"
	"sort"
	"strings"
	"text/template"
	"time"

	"github.com/kurame123/Yuki-bot/pkg/adapter"
	"github.com/kurame123/Yuki-bot/pkg/domain/model"
	"github.com/kurame123/Yuki-bot/pkg/domain/model/config"
	"github.com/kurame123/Yuki-bot/pkg/domain/types"
	"github.com/kurame123/Yuki-bot/pkg/service/affection"
	"github.com/kurame123/Yuki-bot/pkg/service/graph"
	"github.com/kurame123/Yuki-bot/pkg/service/memsvc"
	"github.com/kurame123/Yuki-bot/pkg/service/worker"
	"github.com/kurame123/Yuki-bot/pkg/utils/errutil"
	"github.com/kurame123/Yuki-bot/pkg/utils/logging"
	"github.com/m-mizutani/goerr/v2"
	"google.golang.org/genai"
)

//go:embed prompt/chat_system.md
var chatSystemPromptTmpl string

var chatSystemPrompt = template.Must(template.New("chat_system").Parse(chatSystemPromptTmpl))

// ChatUseCase orchestrates one conversational turn. It holds no mutable
// state and takes no locks; all serialization lives in the services below.
type ChatUseCase struct {
	persona    *config.Persona
	memories   *memsvc.Service
	graphs     *graph.Service
	affections *affection.Service
	gemini     adapter.Gemini
	queue      *worker.Queue
}

func NewChatUseCase(persona *config.Persona, memories *memsvc.Service, graphs *graph.Service, affections *affection.Service, gemini adapter.Gemini, queue *worker.Queue) *ChatUseCase {
	return &ChatUseCase{
		persona:    persona,
		memories:   memories,
		graphs:     graphs,
		affections: affections,
		gemini:     gemini,
		queue:      queue,
	}
}

type promptContext struct {
	BotName   string
	UserName  string
	LevelName string
	Memories  []model.ContextSnippet
	Facts     []string
}

// HandleTurn runs the full turn pipeline: retrieve context, generate the
// reply at the relationship's temperature, then apply the affection delta
// and hand remembering off to the worker queue. When generation fails the
// turn is abandoned whole: no reply, no delta, no post-turn jobs.
func (uc *ChatUseCase) HandleTurn(ctx context.Context, input *model.TurnInput) (*model.TurnResult, error) {
	text := strings.TrimSpace(input.Text)
	if text == "" {
		return nil, goerr.New("turn text is empty")
	}
	if err := input.Scope.Validate(); err != nil {
		return nil, err
	}
	logger := logging.From(ctx)

	// Retrieval degrades instead of failing the turn when the embedding
	// backend is down.
	var hits []*model.ScoredMemory
	embedding, err := uc.memories.Embed(ctx, text)
	if err != nil {
		if !errors.Is(err, types.ErrCollaboratorUnavailable) {
			return nil, err
		}
		errutil.Handle(ctx, err, "memory retrieval degraded")
	} else {
		hits, err = uc.search(ctx, input, embedding)
		if err != nil {
			return nil, err
		}
	}

	hitIDs := make([]model.MemoryID, 0, len(hits))
	for _, hit := range hits {
		hitIDs = append(hitIDs, hit.Record.ID)
	}
	subgraph, err := uc.graphs.ContextFor(ctx, input.Scope, text, hitIDs)
	if err != nil {
		return nil, err
	}

	state, err := uc.affections.Current(ctx, input.UserID, input.Scope)
	if err != nil {
		return nil, err
	}
	temperature, err := uc.affections.Temperature(ctx, input.UserID, input.Scope)
	if err != nil {
		return nil, err
	}

	payload := buildPayload(hits, subgraph, temperature)
	payload.Truncate(uc.persona.Memory.ContextBudget)

	reply, err := uc.generate(ctx, input, state, payload)
	if err != nil {
		return nil, goerr.Wrap(err, "turn abandoned, generation failed",
			goerr.V("scope", input.Scope.Key()), goerr.V("userID", input.UserID))
	}

	// The reply exists; now and only now does the turn leave traces.
	delta := uc.affections.ScoreInteraction(text, state.Score)
	updated, err := uc.affections.ApplyDelta(ctx, input.UserID, input.Scope, delta)
	if err != nil {
		if !errors.Is(err, types.ErrConcurrentUpdateConflict) {
			return nil, err
		}
		errutil.Handle(ctx, err, "affection update abandoned, proceeding with stale state")
		updated = state
	}

	if uc.queue != nil {
		uc.queue.Enqueue(ctx, worker.Job{
			Kind:    worker.KindMemoryInsert,
			Scope:   input.Scope,
			UserID:  input.UserID,
			Content: text,
		})
	}

	result := &model.TurnResult{
		Reply:       reply,
		Temperature: temperature,
		Level:       updated.Level,
		LevelName:   uc.affections.Table().NameFor(updated.Level),
		MemoryHits:  len(hits),
		GraphFacts:  len(payload.Facts),
	}
	logger.Info("turn completed",
		"scope", input.Scope.Key(),
		"user_id", input.UserID,
		"level", result.Level,
		"temperature", result.Temperature,
		"memory_hits", result.MemoryHits,
		"graph_facts", result.GraphFacts)
	return result, nil
}

// search retrieves memories from the turn's partition. When cross-scope
// retrieval is enabled, a group turn also surfaces the speaking user's
// private memories; private turns never see group partitions this way.
func (uc *ChatUseCase) search(ctx context.Context, input *model.TurnInput, embedding []float32) ([]*model.ScoredMemory, error) {
	limit := uc.persona.Memory.SearchLimit
	hits, err := uc.memories.SearchByEmbedding(ctx, input.Scope, embedding, limit)
	if err != nil {
		return nil, err
	}

	if uc.persona.Memory.CrossScope && input.Scope.Kind == types.ScopeGroup {
		private, err := uc.memories.SearchByEmbedding(ctx, types.NewPrivateScope(input.UserID), embedding, limit)
		if err != nil {
			return nil, err
		}
		hits = append(hits, private...)
		sort.SliceStable(hits, func(i, j int) bool {
			return hits[i].Similarity > hits[j].Similarity
		})
		if len(hits) > limit {
			hits = hits[:limit]
		}
	}

	return hits, nil
}

// generateTimeout bounds one reply generation; expiry abandons the turn
const generateTimeout = 30 * time.Second

func (uc *ChatUseCase) generate(ctx context.Context, input *model.TurnInput, state *model.AffectionState, payload *model.ContextPayload) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, generateTimeout)
	defer cancel()

	userName := input.UserName
	if userName == "" {
		userName = string(input.UserID)
	}

	var buf bytes.Buffer
	if err := chatSystemPrompt.Execute(&buf, promptContext{
		BotName:   uc.persona.BotName,
		UserName:  userName,
		LevelName: uc.affections.Table().NameFor(state.Level),
		Memories:  payload.Memories,
		Facts:     payload.Facts,
	}); err != nil {
		return "", goerr.Wrap(err, "failed to render system prompt")
	}

	resp, err := uc.gemini.GenerateContent(ctx,
		[]*genai.Content{genai.NewContentFromText(input.Text, genai.RoleUser)},
		&genai.GenerateContentConfig{
			Temperature:       genai.Ptr(float32(payload.Temperature)),
			SystemInstruction: genai.NewContentFromText(buf.String(), ""),
		})
	if err != nil {
		return "", goerr.Wrap(types.ErrCollaboratorUnavailable, "generation backend failed",
			goerr.V("cause", err.Error()))
	}

	if len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil || len(resp.Candidates[0].Content.Parts) == 0 {
		return "", goerr.New("generation returned no candidates")
	}
	reply := strings.TrimSpace(resp.Candidates[0].Content.Parts[0].Text)
	if reply == "" {
		return "", goerr.New("generation returned empty text")
	}
	return reply, nil
}

// buildPayload renders retrieval results into the bounded prompt context.
// Memory order (similarity descending) is preserved for truncation.
func buildPayload(hits []*model.ScoredMemory, subgraph *model.Subgraph, temperature float64) *model.ContextPayload {
	payload := &model.ContextPayload{Temperature: temperature}

	for _, hit := range hits {
		payload.Memories = append(payload.Memories, model.ContextSnippet{
			Content:    hit.Record.Content,
			Similarity: hit.Similarity,
			CreatedAt:  hit.Record.CreatedAt,
		})
	}

	names := make(map[model.EntityID]string, len(subgraph.Entities))
	for _, entity := range subgraph.Entities {
		names[entity.ID] = entity.Name
	}

	// Facts are ordered newest first so truncation drops the oldest, and
	// ties break on ID to keep the prompt stable across runs.
	relations := make([]*model.Relation, len(subgraph.Relations))
	copy(relations, subgraph.Relations)
	sort.Slice(relations, func(i, j int) bool {
		if !relations[i].UpdatedAt.Equal(relations[j].UpdatedAt) {
			return relations[i].UpdatedAt.After(relations[j].UpdatedAt)
		}
		return relations[i].ID < relations[j].ID
	})
	for _, rel := range relations {
		subject, okS := names[rel.SubjectID]
		object, okO := names[rel.ObjectID]
		if !okS || !okO {
			continue
		}
		fact := fmt.Sprintf("%s %s %s", subject, rel.Predicate, object)
		if rel.TimeRef != "" {
			fact = fmt.Sprintf("%s (%s)", fact, rel.TimeRef)
		}
		payload.Facts = append(payload.Facts, fact)
	}

	return payload
}
