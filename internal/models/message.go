package models

import (
	"time"

	"gorm.io/datatypes"
)

// Message roles.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// ValidRole reports whether role names a known message role.
func ValidRole(role string) bool {
	return role == RoleUser || role == RoleAssistant
}

// Message is one append-only chat message. Messages are ordered by CreatedAt
// ascending within a session and are never updated or deleted.
type Message struct {
	ID string `gorm:"type:text;primaryKey" json:"id"` // UUID assigned by the storage layer.

	SessionID string `gorm:"type:text;not null;index" json:"sessionId"` // Owning chat session.

	Role    string `gorm:"type:text;not null" json:"role"`    // user or assistant.
	Content string `gorm:"type:text;not null" json:"content"` // Message body.

	Usage datatypes.JSON `gorm:"type:jsonb" json:"usage,omitempty"` // Optional upstream token usage payload.

	CreatedAt time.Time `gorm:"not null;index" json:"createdAt"` // Creation timestamp.
}

// TableName sets the relational table name.
func (Message) TableName() string { return "messages" }
