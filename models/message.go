package models

import "time"

// Message is a decrypted chat message as consumed by the UI layer. Text and
// ImageURL are mutually exclusive: image messages carry an empty Text.
type Message struct {
	ID        string      `json:"id"`
	Sender    Participant `json:"sender"`
	Text      string      `json:"text,omitempty"`
	ImageURL  string      `json:"image_url,omitempty"`
	CreatedAt time.Time   `json:"created_at"`
	Read      bool        `json:"read"`
}

// IsImage reports whether the message carries an image payload.
func (m Message) IsImage() bool {
	return m.ImageURL != ""
}

// EncryptedMessage is the wire/storage form of Message: Text holds the
// ciphertext produced by the codec. Image URLs are stored as-is.
type EncryptedMessage struct {
	ID        string      `json:"id"`
	Sender    Participant `json:"sender"`
	Text      string      `json:"text,omitempty"`
	ImageURL  string      `json:"image_url,omitempty"`
	CreatedAt time.Time   `json:"created_at"`
	Read      bool        `json:"read"`
}

// Doc returns the document representation stored under
// chats/{conversationKey}/messages/{id}.
func (m EncryptedMessage) Doc() map[string]any {
	doc := map[string]any{
		"_id":       m.ID,
		"createdAt": m.CreatedAt,
		"read":      m.Read,
		"user": map[string]any{
			"_id":  m.Sender.UID,
			"name": m.Sender.Email,
		},
	}
	if m.Text != "" {
		doc["text"] = m.Text
	}
	if m.ImageURL != "" {
		doc["image"] = m.ImageURL
	}
	return doc
}

// EncryptedMessageFromDoc decodes a messages collection document. Malformed
// documents degrade to zero-valued fields so one bad record never aborts a
// whole snapshot.
func EncryptedMessageFromDoc(id string, data map[string]any) EncryptedMessage {
	msg := EncryptedMessage{
		ID:        id,
		Text:      docString(data, "text"),
		ImageURL:  docString(data, "image"),
		CreatedAt: docTime(data, "createdAt"),
		Read:      docBool(data, "read"),
	}
	if msg.ID == "" {
		msg.ID = docString(data, "_id")
	}
	if user, ok := data["user"].(map[string]any); ok {
		msg.Sender = Participant{
			UID:   docString(user, "_id"),
			Email: docString(user, "name"),
		}
	}
	return msg
}
