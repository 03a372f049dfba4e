package memsvc_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/kurame123/Yuki-bot/pkg/domain/model/config"
	"github.com/kurame123/Yuki-bot/pkg/domain/types"
	"github.com/kurame123/Yuki-bot/pkg/repository/memory"
	"github.com/kurame123/Yuki-bot/pkg/service/memsvc"
	"github.com/m-mizutani/gollem"
	"github.com/m-mizutani/gt"
)

// mockLLMSession is a mock gollem Session for testing
type mockLLMSession struct {
	generateContentFn func(ctx context.Context, input ...gollem.Input) (*gollem.Response, error)
}

func (s *mockLLMSession) GenerateContent(ctx context.Context, input ...gollem.Input) (*gollem.Response, error) {
	if s.generateContentFn != nil {
		return s.generateContentFn(ctx, input...)
	}
	return &gollem.Response{Texts: []string{"summary"}}, nil
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

// mockLLMClient embeds text as a bag-of-runes vector so similarity is
// deterministic: texts sharing characters score high, disjoint texts zero.
type mockLLMClient struct {
	embedErr     error
	newSessionFn func(ctx context.Context, options ...gollem.SessionOption) (gollem.Session, error)
}

func (c *mockLLMClient) NewSession(ctx context.Context, options ...gollem.SessionOption) (gollem.Session, error) {
	if c.newSessionFn != nil {
		return c.newSessionFn(ctx, options...)
	}
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

func newMemService(t *testing.T, persona *config.Persona, llm gollem.LLMClient) *memsvc.Service {
	t.Helper()
	svc, err := memsvc.New(memory.New().Memory(), llm, persona)
	gt.NoError(t, err).Required()
	return svc
}

func TestInsertAndSearch(t *testing.T) {
	ctx := context.Background()
	scope := types.NewPrivateScope("u1")
	userID := types.UserID("u1")

	t.Run("inserted memory comes back as the top hit", func(t *testing.T) {
		svc := newMemService(t, config.DefaultPersona(), &mockLLMClient{})

		_, err := svc.Insert(ctx, scope, userID, "今天天气很好")
		gt.NoError(t, err).Required()
		_, err = svc.Insert(ctx, scope, userID, "我在写代码")
		gt.NoError(t, err).Required()

		hits, err := svc.Search(ctx, scope, "天气", 5)
		gt.NoError(t, err).Required()
		gt.Array(t, hits).Length(1).Required()
		gt.Value(t, hits[0].Record.Content).Equal("今天天气很好")
		gt.Bool(t, hits[0].Similarity > 0.3).True()
	})

	t.Run("results below the similarity floor are dropped", func(t *testing.T) {
		persona := config.DefaultPersona()
		persona.Memory.MinSimilarity = 0.9
		svc := newMemService(t, persona, &mockLLMClient{})

		_, err := svc.Insert(ctx, scope, userID, "今天天气很好")
		gt.NoError(t, err).Required()

		hits, err := svc.Search(ctx, scope, "天气", 5)
		gt.NoError(t, err).Required()
		gt.Array(t, hits).Length(0)
	})

	t.Run("insert assigns importance from surface features", func(t *testing.T) {
		svc := newMemService(t, config.DefaultPersona(), &mockLLMClient{})

		short, err := svc.Insert(ctx, scope, userID, "短句")
		gt.NoError(t, err).Required()
		gt.Value(t, short.Importance).Equal(0.5)

		long, err := svc.Insert(ctx, scope, userID, "这是一条相当长的记录内容，讲了今天发生的很多事情")
		gt.NoError(t, err).Required()
		gt.Value(t, long.Importance).Equal(0.6)
	})

	t.Run("empty content is rejected", func(t *testing.T) {
		svc := newMemService(t, config.DefaultPersona(), &mockLLMClient{})
		_, err := svc.Insert(ctx, scope, userID, "   ")
		gt.Error(t, err)
	})

	t.Run("embedding failure leaves the partition unchanged", func(t *testing.T) {
		llm := &mockLLMClient{embedErr: errors.New("backend down")}
		svc := newMemService(t, config.DefaultPersona(), llm)

		_, err := svc.Insert(ctx, scope, userID, "今天天气很好")
		gt.Error(t, err)
		gt.Bool(t, errors.Is(err, types.ErrCollaboratorUnavailable)).True()

		records, err := svc.List(ctx, scope, 0, 0)
		gt.NoError(t, err).Required()
		gt.Array(t, records).Length(0)
	})
}

func TestCapacityEviction(t *testing.T) {
	ctx := context.Background()
	scope := types.NewPrivateScope("u1")
	userID := types.UserID("u1")

	persona := config.DefaultPersona()
	persona.Memory.Capacity = 3
	persona.Memory.MinSimilarity = -1
	svc := newMemService(t, persona, &mockLLMClient{})

	contents := []string{"苹果", "香蕉", "樱桃", "葡萄", "蜜瓜"}
	for _, content := range contents {
		_, err := svc.Insert(ctx, scope, userID, content)
		gt.NoError(t, err).Required()
		time.Sleep(time.Millisecond)
	}

	records, err := svc.List(ctx, scope, 0, 0)
	gt.NoError(t, err).Required()
	gt.Array(t, records).Length(3)

	// equal importance, so the oldest records went first
	survivors := map[string]bool{}
	for _, rec := range records {
		survivors[rec.Content] = true
	}
	gt.Bool(t, survivors["苹果"]).False()
	gt.Bool(t, survivors["香蕉"]).False()
	gt.Bool(t, survivors["蜜瓜"]).True()
}
