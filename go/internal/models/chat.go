package models

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

// ChatChannel identifies who a chat message is visible to.
type ChatChannel string

const (
	ChatChannelParty   ChatChannel = "PARTY"
	ChatChannelDM      ChatChannel = "DM"
	ChatChannelPrivate ChatChannel = "PRIVATE"
	ChatChannelSystem  ChatChannel = "SYSTEM"
)

// ProvisionalIDPrefix namespaces client-generated chat message ids so they can
// never collide with, or be mistaken for, server-assigned ids during
// reconciliation.
const ProvisionalIDPrefix = "tmp-"

// NewProvisionalChatID returns a client-side placeholder id.
func NewProvisionalChatID() string {
	return ProvisionalIDPrefix + uuid.New().String()
}

// IsProvisionalChatID reports whether the id was generated client-side.
func IsProvisionalChatID(id string) bool {
	return strings.HasPrefix(id, ProvisionalIDPrefix)
}

// ChatMessage is one entry of a room's append-only chat log. The id is a
// string rather than a UUID because clients append provisional entries under
// a namespaced placeholder until the server assigns the real id.
type ChatMessage struct {
	ID           string      `json:"id"`
	SenderUserID uuid.UUID   `json:"sender_user_id"`
	EntityID     *uuid.UUID  `json:"entity_id,omitempty"`
	Content      string      `json:"content"`
	Channel      ChatChannel `json:"channel"`
	Recipients   []uuid.UUID `json:"recipients,omitempty"`
	Timestamp    time.Time   `json:"timestamp"`
}

func (m ChatMessage) clone() ChatMessage {
	out := m
	if m.EntityID != nil {
		id := *m.EntityID
		out.EntityID = &id
	}
	out.Recipients = append([]uuid.UUID(nil), m.Recipients...)
	return out
}
