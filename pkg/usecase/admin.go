package usecase

import (
	"context"

	"github.com/kurame123/Yuki-bot/pkg/domain/model"
	"github.com/kurame123/Yuki-bot/pkg/domain/types"
	"github.com/kurame123/Yuki-bot/pkg/service/affection"
	"github.com/kurame123/Yuki-bot/pkg/service/graph"
	"github.com/kurame123/Yuki-bot/pkg/service/memsvc"
)

// AdminUseCase exposes the operator surface: inspecting and resetting
// affection state, browsing memories, querying the graph and triggering
// maintenance on demand.
type AdminUseCase struct {
	memories   *memsvc.Service
	graphs     *graph.Service
	affections *affection.Service
}

func NewAdminUseCase(memories *memsvc.Service, graphs *graph.Service, affections *affection.Service) *AdminUseCase {
	return &AdminUseCase{
		memories:   memories,
		graphs:     graphs,
		affections: affections,
	}
}

// AffectionInfo is the operator view of one relationship
type AffectionInfo struct {
	State     *model.AffectionState `json:"state"`
	LevelName string                `json:"level_name"`
}

func (uc *AdminUseCase) GetAffection(ctx context.Context, userID types.UserID, scope types.Scope) (*AffectionInfo, error) {
	state, err := uc.affections.Current(ctx, userID, scope)
	if err != nil {
		return nil, err
	}
	return &AffectionInfo{
		State:     state,
		LevelName: uc.affections.Table().NameFor(state.Level),
	}, nil
}

func (uc *AdminUseCase) ResetAffection(ctx context.Context, userID types.UserID, scope types.Scope) error {
	return uc.affections.Reset(ctx, userID, scope)
}

func (uc *AdminUseCase) ListMemories(ctx context.Context, scope types.Scope, limit, offset int) ([]*model.MemoryRecord, error) {
	return uc.memories.List(ctx, scope, limit, offset)
}

func (uc *AdminUseCase) QueryGraph(ctx context.Context, scope types.Scope, name string, depth int) (*model.Subgraph, error) {
	return uc.graphs.Query(ctx, scope, name, depth)
}

func (uc *AdminUseCase) RunGC(ctx context.Context, scope types.Scope) (*memsvc.GCReport, error) {
	return uc.memories.GarbageCollect(ctx, scope)
}

func (uc *AdminUseCase) RunCleanup(ctx context.Context, scope types.Scope) (*graph.CleanupReport, error) {
	return uc.graphs.Cleanup(ctx, scope)
}
