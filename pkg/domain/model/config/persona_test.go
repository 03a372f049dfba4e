package config_test

import (
	"testing"

	"github.com/kurame123/Yuki-bot/pkg/domain/model/config"
	"github.com/m-mizutani/gt"
	"github.com/pelletier/go-toml/v2"
)

func TestDefaultPersona(t *testing.T) {
	persona := config.DefaultPersona()
	gt.NoError(t, persona.Validate())
	gt.Value(t, persona.BotName).Equal("月代雪")

	table, err := persona.LevelTable()
	gt.NoError(t, err).Required()
	gt.Value(t, table.LevelFor(0)).Equal(-2)
	gt.Value(t, table.LevelFor(13)).Equal(13)
}

func TestPersonaValidate(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(p *config.Persona)
	}{
		{"zero capacity", func(p *config.Persona) { p.Memory.Capacity = 0 }},
		{"similarity out of range", func(p *config.Persona) { p.Memory.MinSimilarity = 2 }},
		{"duplicate threshold below search floor", func(p *config.Persona) {
			p.Memory.DuplicateSimilarity = 0.2
			p.Memory.MinSimilarity = 0.3
		}},
		{"confidence floor out of range", func(p *config.Persona) { p.Graph.ConfidenceFloor = 1.5 }},
		{"zero query depth", func(p *config.Persona) { p.Graph.QueryDepth = 0 }},
		{"non-positive delta bound", func(p *config.Persona) { p.Affection.MaxDeltaPerTurn = 0 }},
		{"zero retry budget", func(p *config.Persona) { p.Affection.RetryBudget = 0 }},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			persona := config.DefaultPersona()
			tc.mutate(persona)
			gt.Error(t, persona.Validate())
		})
	}
}

func TestPersonaFromTOML(t *testing.T) {
	t.Run("file layers over the defaults", func(t *testing.T) {
		raw := `
bot_name = "小雪"

[memory]
capacity = 100
cross_scope = true

[affection]
max_delta_per_turn = 0.3
`
		persona := config.DefaultPersona()
		gt.NoError(t, toml.Unmarshal([]byte(raw), persona)).Required()
		gt.NoError(t, persona.Validate())

		gt.Value(t, persona.BotName).Equal("小雪")
		gt.Value(t, persona.Memory.Capacity).Equal(100)
		gt.Bool(t, persona.Memory.CrossScope).True()
		gt.Value(t, persona.Affection.MaxDeltaPerTurn).Equal(0.3)
		// untouched sections keep their defaults
		gt.Value(t, persona.Memory.SearchLimit).Equal(5)
		gt.Value(t, persona.Graph.QueryDepth).Equal(2)
	})

	t.Run("configured levels replace the built-in table", func(t *testing.T) {
		raw := `
[[affection.level]]
level = 0
min_score = 0.0
name = "陌生"

[[affection.level]]
level = 1
min_score = 5.0
name = "朋友"
temperature = 0.9
`
		persona := config.DefaultPersona()
		gt.NoError(t, toml.Unmarshal([]byte(raw), persona)).Required()

		table, err := persona.LevelTable()
		gt.NoError(t, err).Required()
		gt.Value(t, table.LevelFor(1)).Equal(0)
		gt.Value(t, table.LevelFor(6)).Equal(1)
		gt.Value(t, table.NameFor(1)).Equal("朋友")
		gt.Value(t, table.TemperatureFor(1, 0.7)).Equal(0.9)
		gt.Value(t, table.TemperatureFor(0, 0.7)).Equal(0.7)
	})

	t.Run("level without a name is rejected", func(t *testing.T) {
		persona := config.DefaultPersona()
		persona.Affection.Levels = []config.LevelConfig{{Level: 0, MinScore: 0}}
		_, err := persona.LevelTable()
		gt.Error(t, err)
	})
}
