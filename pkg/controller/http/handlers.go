package http

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/kurame123/Yuki-bot/pkg/domain/model"
	"github.com/kurame123/Yuki-bot/pkg/domain/types"
	"github.com/kurame123/Yuki-bot/pkg/usecase"
	"github.com/kurame123/Yuki-bot/pkg/utils/errutil"
	"github.com/kurame123/Yuki-bot/pkg/utils/safe"
	"github.com/m-mizutani/goerr/v2"
)

// scopeFromQuery parses ?scope=kind:id into a validated Scope
func scopeFromQuery(r *http.Request) (types.Scope, error) {
	raw := r.URL.Query().Get("scope")
	kind, id, ok := splitScopeKey(raw)
	if !ok {
		return types.Scope{}, goerr.New("scope query parameter must be kind:id", goerr.V("scope", raw))
	}

	scope := types.Scope{Kind: types.ScopeKind(kind), ID: id}
	if err := scope.Validate(); err != nil {
		return types.Scope{}, err
	}
	return scope, nil
}

func splitScopeKey(raw string) (kind, id string, ok bool) {
	for i := 0; i < len(raw); i++ {
		if raw[i] == ':' {
			return raw[:i], raw[i+1:], i > 0 && i < len(raw)-1
		}
	}
	return "", "", false
}

func writeJSON(ctx context.Context, w http.ResponseWriter, status int, body any) {
	data, err := json.Marshal(body)
	if err != nil {
		errutil.HandleHTTP(ctx, w, goerr.Wrap(err, "failed to marshal response"), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	safe.Write(ctx, w, data)
}

type chatRequest struct {
	Scope    string `json:"scope"`
	UserID   string `json:"user_id"`
	UserName string `json:"user_name"`
	Text     string `json:"text"`
}

type chatResponse struct {
	Reply       string  `json:"reply"`
	Temperature float64 `json:"temperature"`
	Level       int     `json:"level"`
	LevelName   string  `json:"level_name"`
	MemoryHits  int     `json:"memory_hits"`
	GraphFacts  int     `json:"graph_facts"`
}

func chatHandler(chat *usecase.ChatUseCase) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()

		var req chatRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			errutil.HandleHTTP(ctx, w, goerr.Wrap(err, "invalid chat request body"), http.StatusBadRequest)
			return
		}

		kind, id, ok := splitScopeKey(req.Scope)
		if !ok {
			errutil.HandleHTTP(ctx, w, goerr.New("scope must be kind:id", goerr.V("scope", req.Scope)), http.StatusBadRequest)
			return
		}
		input := &model.TurnInput{
			Scope:    types.Scope{Kind: types.ScopeKind(kind), ID: id},
			UserID:   types.UserID(req.UserID),
			UserName: req.UserName,
			Text:     req.Text,
		}
		if err := input.UserID.Validate(); err != nil {
			errutil.HandleHTTP(ctx, w, err, http.StatusBadRequest)
			return
		}

		result, err := chat.HandleTurn(ctx, input)
		if err != nil {
			status := http.StatusInternalServerError
			if errors.Is(err, types.ErrCollaboratorUnavailable) {
				status = http.StatusServiceUnavailable
			}
			errutil.HandleHTTP(ctx, w, err, status)
			return
		}

		writeJSON(ctx, w, http.StatusOK, chatResponse{
			Reply:       result.Reply,
			Temperature: result.Temperature,
			Level:       result.Level,
			LevelName:   result.LevelName,
			MemoryHits:  result.MemoryHits,
			GraphFacts:  result.GraphFacts,
		})
	}
}

func affectionGetHandler(admin *usecase.AdminUseCase) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()

		scope, err := scopeFromQuery(r)
		if err != nil {
			errutil.HandleHTTP(ctx, w, err, http.StatusBadRequest)
			return
		}
		userID := types.UserID(r.URL.Query().Get("user"))
		if err := userID.Validate(); err != nil {
			errutil.HandleHTTP(ctx, w, err, http.StatusBadRequest)
			return
		}

		info, err := admin.GetAffection(ctx, userID, scope)
		if err != nil {
			errutil.HandleHTTP(ctx, w, err, http.StatusInternalServerError)
			return
		}
		writeJSON(ctx, w, http.StatusOK, info)
	}
}

func affectionResetHandler(admin *usecase.AdminUseCase) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()

		scope, err := scopeFromQuery(r)
		if err != nil {
			errutil.HandleHTTP(ctx, w, err, http.StatusBadRequest)
			return
		}
		userID := types.UserID(r.URL.Query().Get("user"))
		if err := userID.Validate(); err != nil {
			errutil.HandleHTTP(ctx, w, err, http.StatusBadRequest)
			return
		}

		if err := admin.ResetAffection(ctx, userID, scope); err != nil {
			errutil.HandleHTTP(ctx, w, err, http.StatusInternalServerError)
			return
		}
		writeJSON(ctx, w, http.StatusOK, map[string]string{"status": "reset"})
	}
}

type memoryResponse struct {
	ID         string    `json:"id"`
	UserID     string    `json:"user_id"`
	Content    string    `json:"content"`
	Importance float64   `json:"importance"`
	CreatedAt  time.Time `json:"created_at"`
}

func memoriesHandler(admin *usecase.AdminUseCase) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()

		scope, err := scopeFromQuery(r)
		if err != nil {
			errutil.HandleHTTP(ctx, w, err, http.StatusBadRequest)
			return
		}
		limit := queryInt(r, "limit", 50)
		offset := queryInt(r, "offset", 0)

		records, err := admin.ListMemories(ctx, scope, limit, offset)
		if err != nil {
			errutil.HandleHTTP(ctx, w, err, http.StatusInternalServerError)
			return
		}

		// Embeddings are internal; the admin view exposes content only
		resp := make([]memoryResponse, len(records))
		for i, rec := range records {
			resp[i] = memoryResponse{
				ID:         string(rec.ID),
				UserID:     string(rec.UserID),
				Content:    rec.Content,
				Importance: rec.Importance,
				CreatedAt:  rec.CreatedAt,
			}
		}
		writeJSON(ctx, w, http.StatusOK, map[string]any{"memories": resp})
	}
}

func graphHandler(admin *usecase.AdminUseCase) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()

		scope, err := scopeFromQuery(r)
		if err != nil {
			errutil.HandleHTTP(ctx, w, err, http.StatusBadRequest)
			return
		}
		name := r.URL.Query().Get("entity")
		if name == "" {
			errutil.HandleHTTP(ctx, w, goerr.New("entity query parameter is required"), http.StatusBadRequest)
			return
		}
		depth := queryInt(r, "depth", 1)

		subgraph, err := admin.QueryGraph(ctx, scope, name, depth)
		if err != nil {
			errutil.HandleHTTP(ctx, w, err, http.StatusInternalServerError)
			return
		}
		writeJSON(ctx, w, http.StatusOK, subgraph)
	}
}

func gcHandler(admin *usecase.AdminUseCase) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()

		scope, err := scopeFromQuery(r)
		if err != nil {
			errutil.HandleHTTP(ctx, w, err, http.StatusBadRequest)
			return
		}

		report, err := admin.RunGC(ctx, scope)
		if err != nil {
			errutil.HandleHTTP(ctx, w, err, http.StatusInternalServerError)
			return
		}
		writeJSON(ctx, w, http.StatusOK, report)
	}
}

func cleanupHandler(admin *usecase.AdminUseCase) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()

		scope, err := scopeFromQuery(r)
		if err != nil {
			errutil.HandleHTTP(ctx, w, err, http.StatusBadRequest)
			return
		}

		report, err := admin.RunCleanup(ctx, scope)
		if err != nil {
			errutil.HandleHTTP(ctx, w, err, http.StatusInternalServerError)
			return
		}
		writeJSON(ctx, w, http.StatusOK, report)
	}
}

func queryInt(r *http.Request, key string, def int) int {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return def
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return def
	}
	return n
}
