package model

import (
	"strings"
	"time"
	"unicode"

	"github.com/google/uuid"
	"github.com/kurame123/Yuki-bot/pkg/domain/types"
)

// EntityID is a UUID-based identifier for Entity
type EntityID string

// NewEntityID generates a new UUID v4 EntityID
func NewEntityID() EntityID {
	return EntityID(uuid.New().String())
}

// RelationID is a UUID-based identifier for Relation
type RelationID string

// NewRelationID generates a new UUID v4 RelationID
func NewRelationID() RelationID {
	return RelationID(uuid.New().String())
}

// Entity is a node in the per-scope knowledge graph. Provenance lists the
// memory records the entity was extracted from.
type Entity struct {
	ID         EntityID
	Scope      types.Scope
	Name       string
	NormName   string // case- and punctuation-folded Name, used for merge
	Type       string
	Attrs      map[string]string
	Aliases    []string
	Provenance []MemoryID
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// Relation is a directed edge (subject, predicate, object). Confidence stays
// in [0,1]; it only decreases through the graph engine's cleanup pass.
type Relation struct {
	ID         RelationID
	Scope      types.Scope
	SubjectID  EntityID
	Predicate  string
	ObjectID   EntityID
	Confidence float64
	TimeRef    string // relative time mention from the dialogue ("昨天", "上次")
	Provenance []MemoryID
	ReviewedAt time.Time
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// Subgraph is the read-only result of a depth-bounded graph query
type Subgraph struct {
	Entities  []*Entity
	Relations []*Relation
}

// NormalizeEntityName folds an entity name for merge comparison: lower-cased,
// punctuation and whitespace removed. CJK characters pass through unchanged.
func NormalizeEntityName(name string) string {
	var sb strings.Builder
	for _, r := range strings.ToLower(strings.TrimSpace(name)) {
		if unicode.IsPunct(r) || unicode.IsSpace(r) || unicode.IsSymbol(r) {
			continue
		}
		sb.WriteRune(r)
	}
	return sb.String()
}

// MatchesName reports whether the entity's normalized name or any alias
// matches the given name after normalization.
func (e *Entity) MatchesName(name string) bool {
	norm := NormalizeEntityName(name)
	if norm == "" {
		return false
	}
	if e.NormName == norm {
		return true
	}
	for _, a := range e.Aliases {
		if NormalizeEntityName(a) == norm {
			return true
		}
	}
	return false
}
