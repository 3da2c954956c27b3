package models

import "time"

// APIKey stores a one-way hash of a bearer secret. The raw secret is returned
// to the caller exactly once at creation and never persisted; KeyPrefix is the
// non-secret display fragment.
type APIKey struct {
	ID string `gorm:"type:text;primaryKey" json:"id"` // UUID assigned by the storage layer.

	UserID string `gorm:"type:text;not null;index" json:"userId"` // Owning user.
	Name   string `gorm:"type:text;not null" json:"name"`         // Caller-chosen label.

	KeyHash   string `gorm:"type:text;not null" json:"-"`         // bcrypt hash of the raw secret.
	KeyPrefix string `gorm:"type:text;not null" json:"keyPrefix"` // Display fragment, e.g. "pk_ab12cd34".

	LastUsedAt *time.Time `json:"lastUsedAt"`                // Set on each successful bearer auth.
	CreatedAt  time.Time  `gorm:"not null" json:"createdAt"` // Creation timestamp.
}

// TableName sets the relational table name.
func (APIKey) TableName() string { return "api_keys" }
