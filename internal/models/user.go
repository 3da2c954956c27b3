package models

import "time"

// User represents an end-user account stored by any backend.
type User struct {
	ID string `gorm:"type:text;primaryKey" json:"id"` // UUID assigned by the storage layer.

	Email        string `gorm:"type:text;not null;uniqueIndex" json:"email"` // Unique login email.
	PasswordHash string `gorm:"type:text;not null" json:"-"`                 // bcrypt hash, never serialized.

	IsVerified bool `gorm:"not null;default:false" json:"isVerified"` // Email verification state.

	CreatedAt time.Time `gorm:"not null" json:"createdAt"` // Creation timestamp.
}

// TableName sets the relational table name.
func (User) TableName() string { return "users" }
