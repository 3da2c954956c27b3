package models

import "time"

// Chat session modes. Mode selects the upstream model used for completions.
const (
	ModeChat = "chat"
	ModeCode = "code"
)

// ValidMode reports whether mode names a known chat session mode.
func ValidMode(mode string) bool {
	return mode == ModeChat || mode == ModeCode
}

// ChatSession represents one conversation. Exactly one of UserID /
// AnonymousSessionID identifies the owner; ownership never changes after
// creation.
type ChatSession struct {
	ID string `gorm:"type:text;primaryKey" json:"id"` // UUID assigned by the storage layer.

	UserID             *string `gorm:"type:text;index" json:"userId"`             // Owning user, nil for anonymous sessions.
	AnonymousSessionID *string `gorm:"type:text;index" json:"anonymousSessionId"` // Client-generated anonymous token.

	Title string `gorm:"type:text;not null" json:"title"`                // Display title.
	Mode  string `gorm:"type:text;not null;default:chat" json:"mode"`    // chat or code.

	CreatedAt time.Time `gorm:"not null;index" json:"createdAt"` // Creation timestamp.
}

// TableName sets the relational table name.
func (ChatSession) TableName() string { return "chat_sessions" }
