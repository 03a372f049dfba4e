package types

import (
	"fmt"

	"github.com/m-mizutani/goerr/v2"
)

// ScopeKind distinguishes private chats from group chats. Memories, graph
// facts and affection state never cross this boundary implicitly.
type ScopeKind string

const (
	ScopePrivate ScopeKind = "private"
	ScopeGroup   ScopeKind = "group"
)

// Validate checks if the ScopeKind is a known value
func (k ScopeKind) Validate() error {
	switch k {
	case ScopePrivate, ScopeGroup:
		return nil
	default:
		return goerr.New("invalid scope kind", goerr.V("kind", string(k)))
	}
}

// UserID identifies a chat participant. It is resolved upstream (transport
// adapter + permission layer) and trusted here.
type UserID string

// Validate checks if the UserID is non-empty
func (u UserID) Validate() error {
	if u == "" {
		return goerr.New("user ID is required")
	}
	return nil
}

// Scope is a conversational context partition: one specific private chat or
// one specific group chat.
type Scope struct {
	Kind ScopeKind
	ID   string
}

// NewPrivateScope returns the private scope for a user
func NewPrivateScope(userID UserID) Scope {
	return Scope{Kind: ScopePrivate, ID: string(userID)}
}

// NewGroupScope returns the scope for a group chat
func NewGroupScope(groupID string) Scope {
	return Scope{Kind: ScopeGroup, ID: groupID}
}

// Key returns the partition key used by all stores
func (s Scope) Key() string {
	return fmt.Sprintf("%s:%s", s.Kind, s.ID)
}

func (s Scope) String() string {
	return s.Key()
}

// Validate checks if the Scope is well formed
func (s Scope) Validate() error {
	if err := s.Kind.Validate(); err != nil {
		return err
	}
	if s.ID == "" {
		return goerr.New("scope ID is required", goerr.V("kind", string(s.Kind)))
	}
	return nil
}
