package models

import "time"

// EmailVerification stores one hashed OTP issued during signup. At most one
// unused, unexpired verification per user is consulted; IsUsed is a one-way
// flag.
type EmailVerification struct {
	ID string `gorm:"type:text;primaryKey" json:"id"` // UUID assigned by the storage layer.

	UserID string `gorm:"type:text;not null;index" json:"userId"` // Owning user.

	OtpHash   string    `gorm:"type:text;not null" json:"-"`     // bcrypt hash of the OTP digits.
	ExpiresAt time.Time `gorm:"not null;index" json:"expiresAt"` // Hard expiry.
	IsUsed    bool      `gorm:"not null;default:false" json:"isUsed"`

	CreatedAt time.Time `gorm:"not null" json:"createdAt"` // Creation timestamp.
}

// TableName sets the relational table name.
func (EmailVerification) TableName() string { return "email_verifications" }

// Expired reports whether the verification is past its expiry at now.
func (v *EmailVerification) Expired(now time.Time) bool {
	return v != nil && !v.ExpiresAt.After(now)
}
