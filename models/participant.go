package models

import "time"

// Participant is an identity issued by the external auth provider.
// Immutable once issued; UID is the opaque unique identifier and Email
// is the human-readable display label.
type Participant struct {
	UID   string `json:"uid"`
	Email string `json:"email"`
}

// Doc returns the document representation stored under users/{uid}.
func (p Participant) Doc() map[string]any {
	return map[string]any{
		"uid":   p.UID,
		"email": p.Email,
	}
}

// ParticipantFromDoc decodes a users collection document. Missing or
// ill-typed fields degrade to zero values.
func ParticipantFromDoc(id string, data map[string]any) Participant {
	p := Participant{
		UID:   docString(data, "uid"),
		Email: docString(data, "email"),
	}
	if p.UID == "" {
		p.UID = id
	}
	return p
}

// PresenceRecord is the online/offline/last-seen state of one participant.
// Last-writer-wins; no ordering guarantee beyond the backend's write order.
type PresenceRecord struct {
	UID      string    `json:"uid"`
	IsOnline bool      `json:"is_online"`
	LastSeen time.Time `json:"last_seen"`
}

// Doc returns the document representation stored under userStatus/{uid}.
func (r PresenceRecord) Doc() map[string]any {
	return map[string]any{
		"isOnline": r.IsOnline,
		"lastSeen": r.LastSeen,
	}
}

// PresenceFromDoc decodes a userStatus document. The document ID is the
// participant UID.
func PresenceFromDoc(id string, data map[string]any) PresenceRecord {
	return PresenceRecord{
		UID:      id,
		IsOnline: docBool(data, "isOnline"),
		LastSeen: docTime(data, "lastSeen"),
	}
}

// Contact pairs a directory entry with its presence state as rendered in
// the roster.
type Contact struct {
	Participant Participant `json:"participant"`
	Online      bool        `json:"online"`
	LastSeen    time.Time   `json:"last_seen"`
}

// TypingFromDoc decodes a typing/{conversationKey} document into a map of
// participant UID to active-composition flag. Non-boolean values are
// ignored.
func TypingFromDoc(data map[string]any) map[string]bool {
	out := make(map[string]bool, len(data))
	for uid, value := range data {
		if flag, ok := value.(bool); ok {
			out[uid] = flag
		}
	}
	return out
}
