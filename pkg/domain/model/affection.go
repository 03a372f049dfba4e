package model

import (
	"sort"
	"time"

	"github.com/kurame123/Yuki-bot/pkg/domain/types"
	"github.com/m-mizutani/goerr/v2"
)

// AffectionState tracks relationship strength for one (user, scope) pair.
// Level is always derived from Score through the configured LevelTable; the
// two fields are written together, never independently. Version implements
// optimistic concurrency: writers submit the version they read, and the
// repository rejects the write if it no longer matches.
type AffectionState struct {
	UserID       types.UserID
	Scope        types.Scope
	Score        float64
	Level        int
	Interactions int64
	Version      int64
	UpdatedAt    time.Time
}

// LevelEntry is one row of the affection level table
type LevelEntry struct {
	MinScore float64
	Level    int
	Name     string
}

// LevelTable maps a cumulative score to a discrete level and a generation
// temperature. Entries are ordered by MinScore ascending; the level for a
// score is the highest entry whose MinScore does not exceed it. The table is
// fixed at configuration load.
type LevelTable struct {
	entries      []LevelEntry
	temperatures map[int]float64
	minScore     float64
	maxScore     float64
}

// NewLevelTable builds a table from entries and a per-level temperature map.
// Scores are clamped to [minScore, maxScore] by ClampScore.
func NewLevelTable(entries []LevelEntry, temps map[int]float64, minScore, maxScore float64) (*LevelTable, error) {
	if len(entries) == 0 {
		return nil, goerr.New("level table requires at least one entry")
	}
	sorted := make([]LevelEntry, len(entries))
	copy(sorted, entries)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].MinScore < sorted[j].MinScore })

	for i := 1; i < len(sorted); i++ {
		if sorted[i].Level <= sorted[i-1].Level {
			return nil, goerr.New("level table must be strictly increasing",
				goerr.V("level", sorted[i].Level), goerr.V("prev", sorted[i-1].Level))
		}
	}
	if maxScore <= minScore {
		return nil, goerr.New("level table score bounds are inverted",
			goerr.V("min", minScore), goerr.V("max", maxScore))
	}

	tcopy := make(map[int]float64, len(temps))
	for k, v := range temps {
		tcopy[k] = v
	}

	return &LevelTable{
		entries:      sorted,
		temperatures: tcopy,
		minScore:     minScore,
		maxScore:     maxScore,
	}, nil
}

// LevelFor returns the highest level whose MinScore <= score
func (t *LevelTable) LevelFor(score float64) int {
	level := t.entries[0].Level
	for _, e := range t.entries {
		if e.MinScore <= score {
			level = e.Level
		} else {
			break
		}
	}
	return level
}

// NameFor returns the display name of a level, or "unknown"
func (t *LevelTable) NameFor(level int) string {
	for _, e := range t.entries {
		if e.Level == level {
			return e.Name
		}
	}
	return "unknown"
}

// LowestLevel returns the level assigned to a fresh state
func (t *LevelTable) LowestLevel() int {
	return t.entries[0].Level
}

// ClampScore bounds a score to the table's configured range
func (t *LevelTable) ClampScore(score float64) float64 {
	if score < t.minScore {
		return t.minScore
	}
	if score > t.maxScore {
		return t.maxScore
	}
	return score
}

// TemperatureFor returns the configured generation temperature for a level,
// falling back to def when the level has no explicit mapping.
func (t *LevelTable) TemperatureFor(level int, def float64) float64 {
	if temp, ok := t.temperatures[level]; ok {
		return temp
	}
	return def
}

// DefaultLevelTable returns the built-in 16-level table, -2 (讨厌) through
// 13 (永恒), over the score range [0, 13].
func DefaultLevelTable() *LevelTable {
	entries := []LevelEntry{
		{MinScore: 0.0, Level: -2, Name: "讨厌"},
		{MinScore: 1.1, Level: -1, Name: "差劲"},
		{MinScore: 2.1, Level: 0, Name: "不起眼"},
		{MinScore: 3.1, Level: 1, Name: "陌生"},
		{MinScore: 4.1, Level: 2, Name: "一般"},
		{MinScore: 5.1, Level: 3, Name: "稍熟"},
		{MinScore: 6.1, Level: 4, Name: "熟悉"},
		{MinScore: 7.1, Level: 5, Name: "热情"},
		{MinScore: 8.1, Level: 6, Name: "亲密"},
		{MinScore: 9.1, Level: 7, Name: "喜欢"},
		{MinScore: 10.1, Level: 8, Name: "喜欢+"},
		{MinScore: 11.1, Level: 9, Name: "爱慕"},
		{MinScore: 11.6, Level: 10, Name: "深爱"},
		{MinScore: 12.1, Level: 11, Name: "挚爱"},
		{MinScore: 12.6, Level: 12, Name: "命运"},
		{MinScore: 13.0, Level: 13, Name: "永恒"},
	}
	tbl, err := NewLevelTable(entries, nil, 0.0, 13.0)
	if err != nil {
		panic(err) // static table, cannot fail
	}
	return tbl
}
