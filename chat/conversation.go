// Package chat implements the messaging core: conversation key derivation,
// the per-conversation stream aggregator, and the presence/typing
// side-channels. It depends on the backend contracts only, never on a
// concrete store.
package chat

import (
	"errors"
	"strings"
)

// conversationKeySeparator joins the two participant IDs. It is reserved:
// IDs containing it are rejected so two distinct pairs can never derive the
// same key.
const conversationKeySeparator = "_"

var (
	// ErrEmptyParticipantID indicates a missing participant identifier.
	ErrEmptyParticipantID = errors.New("chat: participant id is required")
	// ErrSameParticipant indicates both identifiers are equal.
	ErrSameParticipant = errors.New("chat: participants must be distinct")
	// ErrReservedSeparator indicates an identifier contains the key separator.
	ErrReservedSeparator = errors.New("chat: participant id contains reserved separator")
)

// DeriveConversationKey derives the canonical key addressing the two-party
// message sub-collection. The result is commutative:
// DeriveConversationKey(a, b) == DeriveConversationKey(b, a). The smaller
// identifier under byte order always comes first.
func DeriveConversationKey(a, b string) (string, error) {
	if a == "" || b == "" {
		return "", ErrEmptyParticipantID
	}
	if a == b {
		return "", ErrSameParticipant
	}
	if strings.Contains(a, conversationKeySeparator) || strings.Contains(b, conversationKeySeparator) {
		return "", ErrReservedSeparator
	}

	if a < b {
		return a + conversationKeySeparator + b, nil
	}
	return b + conversationKeySeparator + a, nil
}
