// Package backend defines the interfaces this client expects from its
// backend-as-a-service collaborators: the realtime document store, the
// identity provider, and the push relay. Concrete adapters live in
// subpackages; the chat core depends only on these contracts.
package backend

import (
	"context"

	"cipherchat/models"
)

// Persisted backend layout.
const (
	// CollectionUsers holds one profile document per participant (users/{uid}).
	CollectionUsers = "users"
	// CollectionUserStatus holds presence records (userStatus/{uid}).
	CollectionUserStatus = "userStatus"
	// CollectionTyping holds per-conversation typing flags (typing/{conversationKey}).
	CollectionTyping = "typing"
)

// MessagesCollection returns the message sub-collection path for one
// conversation (chats/{conversationKey}/messages).
func MessagesCollection(conversationKey string) string {
	return "chats/" + conversationKey + "/messages"
}

// Document is one stored record: an ID unique within its collection plus
// schema-less field data.
type Document struct {
	ID   string
	Data map[string]any
}

// Snapshot is a complete point-in-time materialization of a subscribed
// query's result set.
type Snapshot struct {
	Docs []Document
}

// Filter operators supported by Query.
const (
	OpEqual    = "=="
	OpNotEqual = "!="
)

// Filter is one field comparison applied to a query.
type Filter struct {
	Field string
	Op    string
	Value any
}

// Query scopes a subscription to one collection with optional filters,
// single-field ordering, and a result limit.
type Query struct {
	Collection string
	Filters    []Filter
	OrderBy    string
	Desc       bool
	Limit      int
}

// Subscription is an explicit resource handle for one live query feed.
// Close must always be called; the Snapshots channel is closed afterwards.
type Subscription interface {
	// Snapshots delivers the full result set on every backend change.
	Snapshots() <-chan Snapshot
	// Close tears down the feed. Safe to call more than once.
	Close() error
}

// Store is the document store contract: collection-scoped writes with merge
// semantics plus realtime query subscriptions.
type Store interface {
	// Create inserts a document with a store-generated ID and returns it.
	Create(ctx context.Context, collection string, data map[string]any) (string, error)
	// Set writes a document at a known ID. With merge true, absent fields
	// keep their stored values (partial update).
	Set(ctx context.Context, collection, id string, data map[string]any, merge bool) error
	// Subscribe opens a realtime feed for the query. An initial snapshot is
	// delivered before any change notifications.
	Subscribe(ctx context.Context, query Query) (Subscription, error)
}

// Identity is the external auth provider contract.
type Identity interface {
	// Current returns the signed-in participant, or nil.
	Current() *models.Participant
	// Login authenticates an existing account.
	Login(ctx context.Context, email, password string) (models.Participant, error)
	// Register creates a new account and signs it in.
	Register(ctx context.Context, email, password string) (models.Participant, error)
	// SignOut clears the current session.
	SignOut()
	// States emits the participant on sign-in and nil on sign-out.
	States() <-chan *models.Participant
}

// PushRelay is the push-notification relay contract. Failures are logged by
// callers, never fatal.
type PushRelay interface {
	RegisterToken(ctx context.Context, participantID, token, platform string) error
	Send(ctx context.Context, token, title, body string, data map[string]string) error
}
