package usecase_test

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/kurame123/Yuki-bot/pkg/domain/interfaces"
	"github.com/kurame123/Yuki-bot/pkg/domain/model"
	"github.com/kurame123/Yuki-bot/pkg/domain/model/config"
	"github.com/kurame123/Yuki-bot/pkg/domain/types"
	"github.com/kurame123/Yuki-bot/pkg/repository/memory"
	"github.com/kurame123/Yuki-bot/pkg/service/affection"
	"github.com/kurame123/Yuki-bot/pkg/service/graph"
	"github.com/kurame123/Yuki-bot/pkg/service/memsvc"
	"github.com/kurame123/Yuki-bot/pkg/service/worker"
	"github.com/kurame123/Yuki-bot/pkg/usecase"
	"github.com/m-mizutani/gollem"
	"github.com/m-mizutani/gt"
	"google.golang.org/genai"
)

// mockLLMSession is a mock gollem Session for testing
type mockLLMSession struct{}

func (s *mockLLMSession) GenerateContent(ctx context.Context, input ...gollem.Input) (*gollem.Response, error) {
	return &gollem.Response{Texts: []string{`{"entities":[],"relations":[]}`}}, nil
}

func (s *mockLLMSession) GenerateStream(ctx context.Context, input ...gollem.Input) (<-chan *gollem.Response, error) {
	return nil, nil
}

func (s *mockLLMSession) Generate(ctx context.Context, input []gollem.Input, opts ...gollem.GenerateOption) (*gollem.Response, error) {
	return s.GenerateContent(ctx, input...)
}

func (s *mockLLMSession) Stream(ctx context.Context, input []gollem.Input, opts ...gollem.GenerateOption) (<-chan *gollem.Response, error) {
	return s.GenerateStream(ctx, input...)
}

func (s *mockLLMSession) History() (*gollem.History, error) {
	return nil, nil
}

func (s *mockLLMSession) AppendHistory(*gollem.History) error {
	return nil
}

func (s *mockLLMSession) CountToken(ctx context.Context, input ...gollem.Input) (int, error) {
	return 0, nil
}

// mockLLMClient embeds text as a bag-of-runes vector for deterministic
// similarity
type mockLLMClient struct {
	embedErr error
}

func (c *mockLLMClient) NewSession(ctx context.Context, options ...gollem.SessionOption) (gollem.Session, error) {
	return &mockLLMSession{}, nil
}

func (c *mockLLMClient) GenerateEmbedding(ctx context.Context, dimension int, input []string) ([][]float64, error) {
	if c.embedErr != nil {
		return nil, c.embedErr
	}
	result := make([][]float64, len(input))
	for i, text := range input {
		vec := make([]float64, dimension)
		for _, r := range text {
			vec[int(r)%dimension]++
		}
		result[i] = vec
	}
	return result, nil
}

// mockGemini records the last generation request and replies with a fixed
// text
type mockGemini struct {
	reply      string
	err        error
	lastConfig *genai.GenerateContentConfig
}

func (m *mockGemini) GenerateContent(ctx context.Context, contents []*genai.Content, config *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error) {
	m.lastConfig = config
	if m.err != nil {
		return nil, m.err
	}
	return &genai.GenerateContentResponse{
		Candidates: []*genai.Candidate{
			{Content: &genai.Content{Parts: []*genai.Part{{Text: m.reply}}}},
		},
	}, nil
}

type chatFixture struct {
	uc         *usecase.UseCases
	repo       interfaces.Repository
	memories   *memsvc.Service
	affections *affection.Service
	queue      *worker.Queue
	gemini     *mockGemini
}

func newChatFixture(t *testing.T, persona *config.Persona, llm *mockLLMClient, gemini *mockGemini) *chatFixture {
	t.Helper()
	repo := memory.New()

	memories, err := memsvc.New(repo.Memory(), llm, persona)
	gt.NoError(t, err).Required()
	graphs, err := graph.New(repo.Graph(), llm, persona)
	gt.NoError(t, err).Required()
	affections, err := affection.New(repo.Affection(), persona)
	gt.NoError(t, err).Required()
	queue, err := worker.New(memories, graphs)
	gt.NoError(t, err).Required()

	uc := usecase.New(persona, memories, graphs, affections, gemini, usecase.WithQueue(queue))
	return &chatFixture{
		uc:         uc,
		repo:       repo,
		memories:   memories,
		affections: affections,
		queue:      queue,
		gemini:     gemini,
	}
}

func TestHandleTurn(t *testing.T) {
	ctx := context.Background()
	userID := types.UserID("u1")
	scope := types.NewPrivateScope("u1")

	t.Run("successful turn replies and leaves traces", func(t *testing.T) {
		f := newChatFixture(t, config.DefaultPersona(), &mockLLMClient{}, &mockGemini{reply: "今天也是晴天哦"})

		_, err := f.memories.Insert(ctx, scope, userID, "今天天气很好")
		gt.NoError(t, err).Required()

		result, err := f.uc.Chat.HandleTurn(ctx, &model.TurnInput{
			Scope:  scope,
			UserID: userID,
			Text:   "天气怎么样",
		})
		gt.NoError(t, err).Required()
		gt.Value(t, result.Reply).Equal("今天也是晴天哦")
		gt.Value(t, result.MemoryHits).Equal(1)
		gt.Value(t, result.Temperature).Equal(0.7)

		// affection moved and the remember job is queued
		state, err := f.affections.Current(ctx, userID, scope)
		gt.NoError(t, err).Required()
		gt.Value(t, state.Version).Equal(int64(1))
		gt.Bool(t, state.Score > 0).True()
		gt.Value(t, f.queue.Pending()).Equal(1)

		// generation ran at the relationship's temperature
		gt.Value(t, f.gemini.lastConfig).NotNil().Required()
		gt.Value(t, *f.gemini.lastConfig.Temperature).Equal(float32(0.7))
	})

	t.Run("generation failure abandons the whole turn", func(t *testing.T) {
		f := newChatFixture(t, config.DefaultPersona(), &mockLLMClient{}, &mockGemini{err: errors.New("backend down")})

		_, err := f.uc.Chat.HandleTurn(ctx, &model.TurnInput{
			Scope:  scope,
			UserID: userID,
			Text:   "你好",
		})
		gt.Error(t, err)
		gt.Bool(t, errors.Is(err, types.ErrCollaboratorUnavailable)).True()

		// no delta, no post-turn jobs
		state, err := f.affections.Current(ctx, userID, scope)
		gt.NoError(t, err).Required()
		gt.Value(t, state.Version).Equal(int64(0))
		gt.Value(t, f.queue.Pending()).Equal(0)
	})

	t.Run("embedding failure degrades retrieval but keeps the turn", func(t *testing.T) {
		llm := &mockLLMClient{embedErr: errors.New("backend down")}
		f := newChatFixture(t, config.DefaultPersona(), llm, &mockGemini{reply: "嗯嗯"})

		result, err := f.uc.Chat.HandleTurn(ctx, &model.TurnInput{
			Scope:  scope,
			UserID: userID,
			Text:   "天气怎么样",
		})
		gt.NoError(t, err).Required()
		gt.Value(t, result.Reply).Equal("嗯嗯")
		gt.Value(t, result.MemoryHits).Equal(0)
	})

	t.Run("empty text is rejected", func(t *testing.T) {
		f := newChatFixture(t, config.DefaultPersona(), &mockLLMClient{}, &mockGemini{reply: "x"})

		_, err := f.uc.Chat.HandleTurn(ctx, &model.TurnInput{
			Scope:  scope,
			UserID: userID,
			Text:   "   ",
		})
		gt.Error(t, err)
	})

	t.Run("group turns may surface private memories when enabled", func(t *testing.T) {
		persona := config.DefaultPersona()
		persona.Memory.CrossScope = true
		f := newChatFixture(t, persona, &mockLLMClient{}, &mockGemini{reply: "记得哦"})

		_, err := f.memories.Insert(ctx, scope, userID, "今天天气很好")
		gt.NoError(t, err).Required()

		result, err := f.uc.Chat.HandleTurn(ctx, &model.TurnInput{
			Scope:  types.NewGroupScope("g1"),
			UserID: userID,
			Text:   "天气怎么样",
		})
		gt.NoError(t, err).Required()
		gt.Value(t, result.MemoryHits).Equal(1)
	})

	t.Run("graph facts enter the prompt newest first", func(t *testing.T) {
		f := newChatFixture(t, config.DefaultPersona(), &mockLLMClient{}, &mockGemini{reply: "是呀"})
		graphRepo := f.repo.Graph()

		subject, err := graphRepo.PutEntity(ctx, &model.Entity{Scope: scope, Name: "小明", Type: "person"})
		gt.NoError(t, err).Required()
		ramen, err := graphRepo.PutEntity(ctx, &model.Entity{Scope: scope, Name: "拉面", Type: "thing"})
		gt.NoError(t, err).Required()
		cilantro, err := graphRepo.PutEntity(ctx, &model.Entity{Scope: scope, Name: "香菜", Type: "thing"})
		gt.NoError(t, err).Required()

		_, err = graphRepo.PutRelation(ctx, &model.Relation{
			Scope: scope, SubjectID: subject.ID, Predicate: "喜欢", ObjectID: ramen.ID, Confidence: 0.6,
		})
		gt.NoError(t, err).Required()
		time.Sleep(2 * time.Millisecond)
		_, err = graphRepo.PutRelation(ctx, &model.Relation{
			Scope: scope, SubjectID: subject.ID, Predicate: "讨厌", ObjectID: cilantro.ID, Confidence: 0.6,
		})
		gt.NoError(t, err).Required()

		result, err := f.uc.Chat.HandleTurn(ctx, &model.TurnInput{
			Scope:  scope,
			UserID: userID,
			Text:   "小明最近怎么样",
		})
		gt.NoError(t, err).Required()
		gt.Value(t, result.GraphFacts).Equal(2)

		prompt := f.gemini.lastConfig.SystemInstruction.Parts[0].Text
		newer := strings.Index(prompt, "小明 讨厌 香菜")
		older := strings.Index(prompt, "小明 喜欢 拉面")
		gt.Bool(t, newer >= 0).True()
		gt.Bool(t, older >= 0).True()
		gt.Bool(t, newer < older).True()
	})

	t.Run("private turns never see group memories", func(t *testing.T) {
		persona := config.DefaultPersona()
		persona.Memory.CrossScope = true
		f := newChatFixture(t, persona, &mockLLMClient{}, &mockGemini{reply: "是吗"})

		group := types.NewGroupScope("g1")
		_, err := f.memories.Insert(ctx, group, userID, "今天天气很好")
		gt.NoError(t, err).Required()

		result, err := f.uc.Chat.HandleTurn(ctx, &model.TurnInput{
			Scope:  scope,
			UserID: userID,
			Text:   "天气怎么样",
		})
		gt.NoError(t, err).Required()
		gt.Value(t, result.MemoryHits).Equal(0)
	})
}
