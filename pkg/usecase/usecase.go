package usecase

import (
	"github.com/kurame123/Yuki-bot/pkg/adapter"
	"github.com/kurame123/Yuki-bot/pkg/domain/model/config"
	"github.com/kurame123/Yuki-bot/pkg/service/affection"
	"github.com/kurame123/Yuki-bot/pkg/service/graph"
	"github.com/kurame123/Yuki-bot/pkg/service/memsvc"
	"github.com/kurame123/Yuki-bot/pkg/service/worker"
)

type UseCases struct {
	persona *config.Persona
	queue   *worker.Queue

	Chat  *ChatUseCase
	Admin *AdminUseCase
}

type Option func(*UseCases)

// WithQueue attaches the post-turn worker queue. Without it, turns still
// reply but nothing is remembered.
func WithQueue(queue *worker.Queue) Option {
	return func(uc *UseCases) {
		uc.queue = queue
	}
}

func New(persona *config.Persona, memories *memsvc.Service, graphs *graph.Service, affections *affection.Service, gemini adapter.Gemini, opts ...Option) *UseCases {
	uc := &UseCases{
		persona: persona,
	}

	for _, opt := range opts {
		opt(uc)
	}

	uc.Chat = NewChatUseCase(persona, memories, graphs, affections, gemini, uc.queue)
	uc.Admin = NewAdminUseCase(memories, graphs, affections)

	return uc
}
