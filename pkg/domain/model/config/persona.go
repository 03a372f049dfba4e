package config

import (
	"github.com/kurame123/Yuki-bot/pkg/domain/model"
	"github.com/m-mizutani/goerr/v2"
)

// Persona is the tuning configuration for the companion core, loaded from a
// TOML file. Every field has a usable default; Validate is called after load.
type Persona struct {
	BotName   string          `toml:"bot_name"`
	Memory    MemoryConfig    `toml:"memory"`
	Graph     GraphConfig     `toml:"graph"`
	Affection AffectionConfig `toml:"affection"`
}

// MemoryConfig tunes the vector memory store
type MemoryConfig struct {
	Capacity            int     `toml:"capacity"`              // max records per partition
	SearchLimit         int     `toml:"search_limit"`          // top-k per turn
	MinSimilarity       float64 `toml:"min_similarity"`        // search threshold
	DuplicateSimilarity float64 `toml:"duplicate_similarity"`  // GC near-duplicate threshold
	RetentionDays       int     `toml:"retention_days"`        // GC horizon
	SummarizeThreshold  int     `toml:"summarize_threshold"`   // GC summarization trigger
	SummarizeRatio      float64 `toml:"summarize_ratio"`       // share of oldest records to condense
	ContextBudget       int     `toml:"context_budget"`        // prompt context chars
	CrossScope          bool    `toml:"cross_scope"`           // allow private memories in group turns
}

// GraphConfig tunes the knowledge graph engine
type GraphConfig struct {
	QueryDepth      int     `toml:"query_depth"`
	ConfidenceFloor float64 `toml:"confidence_floor"`
	CleanupBatch    int     `toml:"cleanup_batch"`
}

// LevelConfig is one affection level row in the TOML file
type LevelConfig struct {
	Level       int      `toml:"level"`
	MinScore    float64  `toml:"min_score"`
	Name        string   `toml:"name"`
	Temperature *float64 `toml:"temperature"`
}

// LexiconConfig is the weighted keyword lexicon for interaction scoring
type LexiconConfig struct {
	PositiveLight  []string `toml:"positive_light"`
	PositiveStrong []string `toml:"positive_strong"`
	NegativeLight  []string `toml:"negative_light"`
	NegativeStrong []string `toml:"negative_strong"`
	Emoticons      []string `toml:"emoticons"`
	ColdReplies    []string `toml:"cold_replies"`
}

// AffectionConfig tunes the affection engine
type AffectionConfig struct {
	Levels             []LevelConfig `toml:"level"`
	MinScore           float64       `toml:"min_score"`
	MaxScore           float64       `toml:"max_score"`
	DefaultTemperature float64       `toml:"default_temperature"`
	MaxDeltaPerTurn    float64       `toml:"max_delta_per_turn"`
	RetryBudget        int           `toml:"retry_budget"`
	Lexicon            LexiconConfig `toml:"lexicon"`
}

// DefaultPersona returns the built-in persona tuning. The affection defaults
// mirror the historical 16-level table; the lexicon carries the stock
// Chinese keyword sets.
func DefaultPersona() *Persona {
	return &Persona{
		BotName: "月代雪",
		Memory: MemoryConfig{
			Capacity:            500,
			SearchLimit:         5,
			MinSimilarity:       0.3,
			DuplicateSimilarity: 0.98,
			RetentionDays:       90,
			SummarizeThreshold:  400,
			SummarizeRatio:      0.2,
			ContextBudget:       2000,
			CrossScope:          false,
		},
		Graph: GraphConfig{
			QueryDepth:      2,
			ConfidenceFloor: 0.2,
			CleanupBatch:    50,
		},
		Affection: AffectionConfig{
			MinScore:           0.0,
			MaxScore:           13.0,
			DefaultTemperature: 0.7,
			MaxDeltaPerTurn:    0.5,
			RetryBudget:        5,
			Lexicon: LexiconConfig{
				PositiveLight: []string{
					"谢谢", "辛苦了", "真好", "可爱", "抱抱", "想你", "喜欢你",
					"厉害", "棒", "好棒", "开心", "高兴", "感谢", "爱你", "么么",
					"亲亲", "摸摸", "贴贴", "蹭蹭", "好喜欢", "超棒",
				},
				PositiveStrong: []string{
					"超喜欢你", "最爱你", "离不开你", "我爱你", "永远喜欢",
					"太爱了", "超级爱", "最喜欢你", "爱死你了",
				},
				NegativeLight: []string{
					"无聊", "烦", "不高兴", "不开心", "累了", "算了", "懒得",
				},
				NegativeStrong: []string{
					"讨厌你", "闭嘴", "滚", "垃圾", "傻逼", "不想理你",
					"烦死了", "去死", "恶心", "讨厌",
				},
				Emoticons: []string{
					"~", "w", "ww", "qwq", "QwQ", "T_T", "TvT", "owo", "OwO",
					"哈哈", "嘿嘿", "嘻嘻", "呜呜", "(*´ω｀*)", "(´・ω・`)",
					"≧▽≦", "^_^", ">_<", "QAQ", "TAT",
				},
				ColdReplies: []string{"嗯", "哦", "行", "好", "？", "?", "。", "...", "……"},
			},
		},
	}
}

// Validate checks ranges and cross-field consistency
func (p *Persona) Validate() error {
	if p.Memory.Capacity <= 0 {
		return goerr.New("memory capacity must be positive", goerr.V("capacity", p.Memory.Capacity))
	}
	if p.Memory.MinSimilarity < -1 || p.Memory.MinSimilarity > 1 {
		return goerr.New("min_similarity must be in [-1, 1]", goerr.V("value", p.Memory.MinSimilarity))
	}
	if p.Memory.DuplicateSimilarity <= p.Memory.MinSimilarity {
		return goerr.New("duplicate_similarity must exceed min_similarity")
	}
	if p.Graph.ConfidenceFloor < 0 || p.Graph.ConfidenceFloor > 1 {
		return goerr.New("confidence_floor must be in [0, 1]", goerr.V("value", p.Graph.ConfidenceFloor))
	}
	if p.Graph.QueryDepth < 1 {
		return goerr.New("query_depth must be at least 1", goerr.V("value", p.Graph.QueryDepth))
	}
	if p.Affection.MaxDeltaPerTurn <= 0 {
		return goerr.New("max_delta_per_turn must be positive")
	}
	if p.Affection.RetryBudget < 1 {
		return goerr.New("retry_budget must be at least 1")
	}
	return nil
}

// LevelTable builds the model.LevelTable from the configured levels, falling
// back to the built-in 16-level table when none are configured.
func (p *Persona) LevelTable() (*model.LevelTable, error) {
	if len(p.Affection.Levels) == 0 {
		return model.DefaultLevelTable(), nil
	}

	entries := make([]model.LevelEntry, 0, len(p.Affection.Levels))
	temps := make(map[int]float64)
	for _, lv := range p.Affection.Levels {
		if lv.Name == "" {
			return nil, goerr.New("level name is required", goerr.V("level", lv.Level))
		}
		entries = append(entries, model.LevelEntry{
			MinScore: lv.MinScore,
			Level:    lv.Level,
			Name:     lv.Name,
		})
		if lv.Temperature != nil {
			temps[lv.Level] = *lv.Temperature
		}
	}
	return model.NewLevelTable(entries, temps, p.Affection.MinScore, p.Affection.MaxScore)
}
