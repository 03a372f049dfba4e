package model_test

import (
	"testing"

	"github.com/kurame123/Yuki-bot/pkg/domain/model"
	"github.com/m-mizutani/gt"
)

func TestDefaultLevelTable(t *testing.T) {
	table := model.DefaultLevelTable()

	t.Run("score zero maps to the lowest non-negative band", func(t *testing.T) {
		level := table.LevelFor(0)
		gt.Value(t, level).Equal(-2)
		gt.Value(t, table.NameFor(level)).Equal("讨厌")
	})

	t.Run("levels are monotone in score", func(t *testing.T) {
		prev := table.LevelFor(0)
		for score := 0.0; score <= 13.0; score += 0.1 {
			level := table.LevelFor(score)
			gt.Bool(t, level >= prev).True()
			prev = level
		}
	})

	t.Run("top of the table", func(t *testing.T) {
		level := table.LevelFor(13.0)
		gt.Value(t, level).Equal(13)
		gt.Value(t, table.NameFor(level)).Equal("永恒")
	})

	t.Run("band boundaries", func(t *testing.T) {
		gt.Value(t, table.LevelFor(1.0)).Equal(-2)
		gt.Value(t, table.LevelFor(1.1)).Equal(-1)
		gt.Value(t, table.LevelFor(12.9)).Equal(12)
	})

	t.Run("clamp keeps scores inside the configured range", func(t *testing.T) {
		gt.Value(t, table.ClampScore(-5)).Equal(0.0)
		gt.Value(t, table.ClampScore(99)).Equal(13.0)
		gt.Value(t, table.ClampScore(6.2)).Equal(6.2)
	})

	t.Run("unknown level name", func(t *testing.T) {
		gt.Value(t, table.NameFor(999)).Equal("unknown")
	})
}

func TestNewLevelTable(t *testing.T) {
	t.Run("rejects non-increasing levels", func(t *testing.T) {
		_, err := model.NewLevelTable([]model.LevelEntry{
			{MinScore: 0, Level: 1, Name: "a"},
			{MinScore: 1, Level: 1, Name: "b"},
		}, nil, 0, 10)
		gt.Error(t, err)
	})

	t.Run("rejects empty table", func(t *testing.T) {
		_, err := model.NewLevelTable(nil, nil, 0, 10)
		gt.Error(t, err)
	})

	t.Run("temperature falls back to default for unmapped levels", func(t *testing.T) {
		table, err := model.NewLevelTable([]model.LevelEntry{
			{MinScore: 0, Level: 0, Name: "low"},
			{MinScore: 5, Level: 1, Name: "high"},
		}, map[int]float64{1: 0.9}, 0, 10)
		gt.NoError(t, err).Required()

		gt.Value(t, table.TemperatureFor(1, 0.7)).Equal(0.9)
		gt.Value(t, table.TemperatureFor(0, 0.7)).Equal(0.7)
	})
}
