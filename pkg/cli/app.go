package cli

import (
	"context"

	"github.com/kurame123/Yuki-bot/pkg/cli/config"
	"github.com/kurame123/Yuki-bot/pkg/domain/interfaces"
	"github.com/kurame123/Yuki-bot/pkg/service/affection"
	"github.com/kurame123/Yuki-bot/pkg/service/graph"
	"github.com/kurame123/Yuki-bot/pkg/service/memsvc"
	"github.com/kurame123/Yuki-bot/pkg/service/worker"
	"github.com/kurame123/Yuki-bot/pkg/usecase"
	"github.com/kurame123/Yuki-bot/pkg/utils/safe"
	"github.com/m-mizutani/goerr/v2"
)

// app wires the repository, services, worker queue and use cases for one
// command invocation.
type app struct {
	Repo     interfaces.Repository
	Queue    *worker.Queue
	UseCases *usecase.UseCases
}

func buildApp(ctx context.Context, repoCfg *config.Repository, geminiCfg *config.Gemini, personaCfg *config.Persona, workerOpts ...worker.Option) (*app, error) {
	persona, err := personaCfg.Configure()
	if err != nil {
		return nil, goerr.Wrap(err, "failed to load persona")
	}

	repo, err := repoCfg.Configure(ctx)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to initialize repository")
	}

	llmClient, err := geminiCfg.Configure(ctx)
	if err != nil {
		safe.Close(ctx, repo)
		return nil, err
	}
	generator, err := geminiCfg.ConfigureGenerator(ctx)
	if err != nil {
		safe.Close(ctx, repo)
		return nil, err
	}

	memories, err := memsvc.New(repo.Memory(), llmClient, persona)
	if err != nil {
		safe.Close(ctx, repo)
		return nil, err
	}
	graphs, err := graph.New(repo.Graph(), llmClient, persona)
	if err != nil {
		safe.Close(ctx, repo)
		return nil, err
	}
	affections, err := affection.New(repo.Affection(), persona)
	if err != nil {
		safe.Close(ctx, repo)
		return nil, err
	}

	queue, err := worker.New(memories, graphs, workerOpts...)
	if err != nil {
		safe.Close(ctx, repo)
		return nil, err
	}

	uc := usecase.New(persona, memories, graphs, affections, generator,
		usecase.WithQueue(queue))

	return &app{
		Repo:     repo,
		Queue:    queue,
		UseCases: uc,
	}, nil
}

func (a *app) Close(ctx context.Context) {
	safe.Close(ctx, a.Repo)
}
