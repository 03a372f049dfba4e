package model

import (
	"time"

	"github.com/kurame123/Yuki-bot/pkg/domain/types"
)

// TurnInput is one inbound conversational turn, with scope and user already
// resolved by the upstream transport layer.
type TurnInput struct {
	Scope    types.Scope
	UserID   types.UserID
	UserName string
	Text     string `masq:"secret"`
}

// TurnResult is the outcome of a completed turn
type TurnResult struct {
	Reply       string `masq:"secret"`
	Temperature float64
	Level       int
	LevelName   string
	MemoryHits  int
	GraphFacts  int
}

// ContextSnippet is one retrieved memory rendered into the prompt context
type ContextSnippet struct {
	Content    string
	Similarity float64
	CreatedAt  time.Time
}

// ContextPayload is the bounded prompt context assembled per turn. Memories
// are kept ordered by similarity descending so truncation can drop the least
// similar first; graph facts are dropped from the tail (oldest last).
type ContextPayload struct {
	Memories    []ContextSnippet
	Facts       []string
	Temperature float64
}

// TotalChars returns the character count of all snippets and facts
func (p *ContextPayload) TotalChars() int {
	total := 0
	for _, m := range p.Memories {
		total += len([]rune(m.Content))
	}
	for _, f := range p.Facts {
		total += len([]rune(f))
	}
	return total
}

// Truncate drops content until the payload fits the character budget:
// least-similar memories go first, then graph facts from the tail. A budget
// of zero or less leaves the payload untouched.
func (p *ContextPayload) Truncate(budget int) {
	if budget <= 0 {
		return
	}
	for p.TotalChars() > budget && len(p.Memories) > 0 {
		p.Memories = p.Memories[:len(p.Memories)-1]
	}
	for p.TotalChars() > budget && len(p.Facts) > 0 {
		p.Facts = p.Facts[:len(p.Facts)-1]
	}
}
