package model_test

import (
	"testing"

	"github.com/kurame123/Yuki-bot/pkg/domain/model"
	"github.com/m-mizutani/gt"
)

func TestContextPayloadTruncate(t *testing.T) {
	build := func() *model.ContextPayload {
		return &model.ContextPayload{
			Memories: []model.ContextSnippet{
				{Content: "aaaaaaaaaa", Similarity: 0.9}, // 10 chars
				{Content: "bbbbbbbbbb", Similarity: 0.7},
				{Content: "cccccccccc", Similarity: 0.5},
			},
			Facts: []string{"dddddddddd", "eeeeeeeeee"},
		}
	}

	t.Run("fits within budget untouched", func(t *testing.T) {
		p := build()
		p.Truncate(100)
		gt.Array(t, p.Memories).Length(3)
		gt.Array(t, p.Facts).Length(2)
	})

	t.Run("drops least similar memories first", func(t *testing.T) {
		p := build()
		p.Truncate(40)
		gt.Array(t, p.Memories).Length(2)
		gt.Value(t, p.Memories[0].Similarity).Equal(0.9)
		gt.Value(t, p.Memories[1].Similarity).Equal(0.7)
		gt.Array(t, p.Facts).Length(2)
	})

	t.Run("drops facts only after all memories", func(t *testing.T) {
		p := build()
		p.Truncate(10)
		gt.Array(t, p.Memories).Length(0)
		gt.Array(t, p.Facts).Length(1)
	})

	t.Run("zero budget disables truncation", func(t *testing.T) {
		p := build()
		p.Truncate(0)
		gt.Array(t, p.Memories).Length(3)
		gt.Array(t, p.Facts).Length(2)
	})

	t.Run("counts runes not bytes", func(t *testing.T) {
		p := &model.ContextPayload{
			Memories: []model.ContextSnippet{{Content: "今天天气很好", Similarity: 0.8}},
		}
		gt.Value(t, p.TotalChars()).Equal(6)
	})
}
