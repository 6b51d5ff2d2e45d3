package storage

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	"cipherchat/models"
)

// SaveMessages upserts one decrypted snapshot of a conversation. Message IDs
// are client-generated and stable, so replaying a snapshot is idempotent.
func (s *Store) SaveMessages(conversationKey string, messages []models.Message) error {
	if conversationKey == "" {
		return errors.New("conversation_key is required")
	}
	if len(messages) == 0 {
		return nil
	}

	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("begin message upsert: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	stmt, err := tx.Prepare(
		`INSERT OR REPLACE INTO messages (
			message_id,
			conversation_key,
			sender_id,
			sender_email,
			text,
			image_url,
			created_at,
			is_read
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
	)
	if err != nil {
		return fmt.Errorf("prepare message upsert: %w", err)
	}
	defer stmt.Close()

	for _, message := range messages {
		if message.ID == "" {
			continue
		}
		isRead := 0
		if message.Read {
			isRead = 1
		}
		_, err := stmt.Exec(
			message.ID,
			conversationKey,
			message.Sender.UID,
			message.Sender.Email,
			message.Text,
			message.ImageURL,
			message.CreatedAt.UnixMilli(),
			isRead,
		)
		if err != nil {
			return fmt.Errorf("upsert message %q: %w", message.ID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit message upsert: %w", err)
	}

	return nil
}

// ConversationHistory returns cached messages for one conversation, newest
// first, matching the order the live feed presents.
func (s *Store) ConversationHistory(conversationKey string, limit, offset int) ([]models.Message, error) {
	if conversationKey == "" {
		return nil, errors.New("conversation_key is required")
	}
	if limit <= 0 {
		limit = 100
	}
	if offset < 0 {
		offset = 0
	}

	rows, err := s.db.Query(
		`SELECT
			message_id,
			sender_id,
			sender_email,
			text,
			image_url,
			created_at,
			is_read
		FROM messages
		WHERE conversation_key = ?
		ORDER BY created_at DESC, message_id
		LIMIT ? OFFSET ?`,
		conversationKey,
		limit,
		offset,
	)
	if err != nil {
		return nil, fmt.Errorf("get history for conversation %q: %w", conversationKey, err)
	}
	defer rows.Close()

	messages := make([]models.Message, 0)
	for rows.Next() {
		var (
			message   models.Message
			createdAt int64
			isRead    int
		)
		err := rows.Scan(
			&message.ID,
			&message.Sender.UID,
			&message.Sender.Email,
			&message.Text,
			&message.ImageURL,
			&createdAt,
			&isRead,
		)
		if err != nil {
			return nil, fmt.Errorf("scan message row: %w", err)
		}
		message.CreatedAt = time.UnixMilli(createdAt)
		message.Read = isRead == 1
		messages = append(messages, message)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate message rows: %w", err)
	}

	return messages, nil
}

// SaveContacts upserts one merged roster snapshot. Contacts are keyed by
// UID, so replaying a snapshot is idempotent. Entries without a UID are
// skipped.
func (s *Store) SaveContacts(contacts []models.Contact) error {
	if len(contacts) == 0 {
		return nil
	}

	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("begin contact upsert: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	stmt, err := tx.Prepare(
		`INSERT OR REPLACE INTO contacts (uid, email, is_online, last_seen)
		VALUES (?, ?, ?, ?)`,
	)
	if err != nil {
		return fmt.Errorf("prepare contact upsert: %w", err)
	}
	defer stmt.Close()

	for _, contact := range contacts {
		if contact.Participant.UID == "" {
			continue
		}
		isOnline := 0
		if contact.Online {
			isOnline = 1
		}
		var lastSeen sql.NullInt64
		if !contact.LastSeen.IsZero() {
			lastSeen = sql.NullInt64{Int64: contact.LastSeen.UnixMilli(), Valid: true}
		}
		_, err := stmt.Exec(
			contact.Participant.UID,
			contact.Participant.Email,
			isOnline,
			lastSeen,
		)
		if err != nil {
			return fmt.Errorf("upsert contact %q: %w", contact.Participant.UID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit contact upsert: %w", err)
	}

	return nil
}

// ListContacts returns cached roster entries ordered by email.
func (s *Store) ListContacts() ([]models.Contact, error) {
	rows, err := s.db.Query(
		`SELECT uid, email, is_online, last_seen
		FROM contacts
		ORDER BY email, uid`,
	)
	if err != nil {
		return nil, fmt.Errorf("list contacts: %w", err)
	}
	defer rows.Close()

	contacts := make([]models.Contact, 0)
	for rows.Next() {
		var (
			contact  models.Contact
			isOnline int
			lastSeen sql.NullInt64
		)
		if err := rows.Scan(&contact.Participant.UID, &contact.Participant.Email, &isOnline, &lastSeen); err != nil {
			return nil, fmt.Errorf("scan contact row: %w", err)
		}
		contact.Online = isOnline == 1
		if lastSeen.Valid {
			contact.LastSeen = time.UnixMilli(lastSeen.Int64)
		}
		contacts = append(contacts, contact)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate contact rows: %w", err)
	}

	return contacts, nil
}
