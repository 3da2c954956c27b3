package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/parleychat/parley/internal/models"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// GormStore persists the chat data model through GORM. The same
// implementation serves PostgreSQL and SQLite; the dialect is fixed when the
// connection is opened.
type GormStore struct {
	db   *gorm.DB
	opts Options
}

// NewGormStore constructs a GormStore over an open connection.
func NewGormStore(conn *gorm.DB, opts Options) *GormStore {
	return &GormStore{db: conn, opts: opts}
}

// GetChatSession returns the session by id.
func (s *GormStore) GetChatSession(ctx context.Context, id string) (*models.ChatSession, error) {
	var session models.ChatSession
	if errFind := s.db.WithContext(ctx).Where("id = ?", id).First(&session).Error; errFind != nil {
		return nil, translateGormError(errFind, "get chat session")
	}
	return &session, nil
}

// ListChatSessions returns sessions for the given owner or anonymous token,
// newest first.
func (s *GormStore) ListChatSessions(ctx context.Context, ownerUserID, anonymousToken string) ([]models.ChatSession, error) {
	query := s.db.WithContext(ctx).Model(&models.ChatSession{})
	if ownerUserID != "" {
		query = query.Where("user_id = ?", ownerUserID)
	} else if anonymousToken != "" {
		query = query.Where("user_id IS NULL AND anonymous_session_id = ?", anonymousToken)
	} else {
		query = query.Where("user_id IS NULL AND (anonymous_session_id IS NULL OR anonymous_session_id = '')")
	}

	var sessions []models.ChatSession
	if errFind := query.Order("created_at DESC").Find(&sessions).Error; errFind != nil {
		return nil, fmt.Errorf("storage: list chat sessions: %w", errFind)
	}
	return sessions, nil
}

// CreateChatSession inserts a new session.
func (s *GormStore) CreateChatSession(ctx context.Context, params CreateChatSessionParams) (*models.ChatSession, error) {
	session := models.ChatSession{
		ID:                 uuid.NewString(),
		UserID:             params.UserID,
		AnonymousSessionID: params.AnonymousSessionID,
		Title:              params.Title,
		Mode:               params.Mode,
		CreatedAt:          time.Now().UTC(),
	}
	if errCreate := s.db.WithContext(ctx).Create(&session).Error; errCreate != nil {
		return nil, fmt.Errorf("storage: create chat session: %w", errCreate)
	}
	return &session, nil
}

// GetMessages returns the session's messages oldest first.
func (s *GormStore) GetMessages(ctx context.Context, sessionID string) ([]models.Message, error) {
	var messages []models.Message
	if errFind := s.db.WithContext(ctx).
		Where("session_id = ?", sessionID).
		Order("created_at ASC").
		Find(&messages).Error; errFind != nil {
		return nil, fmt.Errorf("storage: get messages: %w", errFind)
	}
	return messages, nil
}

// CreateMessage inserts a new message.
func (s *GormStore) CreateMessage(ctx context.Context, params CreateMessageParams) (*models.Message, error) {
	message := models.Message{
		ID:        uuid.NewString(),
		SessionID: params.SessionID,
		Role:      params.Role,
		Content:   params.Content,
		CreatedAt: time.Now().UTC(),
	}
	if len(params.Usage) > 0 {
		message.Usage = datatypes.JSON(params.Usage)
	}
	if errCreate := s.db.WithContext(ctx).Create(&message).Error; errCreate != nil {
		return nil, fmt.Errorf("storage: create message: %w", errCreate)
	}
	return &message, nil
}

// CreateUser inserts a new unverified user. The unique index on email turns
// duplicates into ErrDuplicateEmail.
func (s *GormStore) CreateUser(ctx context.Context, email, passwordHash string) (*models.User, error) {
	user := models.User{
		ID:           uuid.NewString(),
		Email:        email,
		PasswordHash: passwordHash,
		IsVerified:   false,
		CreatedAt:    time.Now().UTC(),
	}
	if errCreate := s.db.WithContext(ctx).Create(&user).Error; errCreate != nil {
		if errors.Is(errCreate, gorm.ErrDuplicatedKey) {
			return nil, ErrDuplicateEmail
		}
		return nil, fmt.Errorf("storage: create user: %w", errCreate)
	}
	return &user, nil
}

// GetUserByEmail returns the user with the given email.
func (s *GormStore) GetUserByEmail(ctx context.Context, email string) (*models.User, error) {
	var user models.User
	if errFind := s.db.WithContext(ctx).Where("email = ?", email).First(&user).Error; errFind != nil {
		return nil, translateGormError(errFind, "get user by email")
	}
	return &user, nil
}

// GetUserByID returns the user by id.
func (s *GormStore) GetUserByID(ctx context.Context, id string) (*models.User, error) {
	var user models.User
	if errFind := s.db.WithContext(ctx).Where("id = ?", id).First(&user).Error; errFind != nil {
		return nil, translateGormError(errFind, "get user by id")
	}
	return &user, nil
}

// MarkUserVerified flips IsVerified to true. Idempotent.
func (s *GormStore) MarkUserVerified(ctx context.Context, id string) error {
	result := s.db.WithContext(ctx).
		Model(&models.User{}).
		Where("id = ?", id).
		Update("is_verified", true)
	if result.Error != nil {
		return fmt.Errorf("storage: mark user verified: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// DeleteUser removes the user and cascades per Options.
func (s *GormStore) DeleteUser(ctx context.Context, id string) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		result := tx.Where("id = ?", id).Delete(&models.User{})
		if result.Error != nil {
			return fmt.Errorf("storage: delete user: %w", result.Error)
		}
		if result.RowsAffected == 0 {
			return ErrNotFound
		}

		if errDelete := tx.Where("user_id = ?", id).Delete(&models.EmailVerification{}).Error; errDelete != nil {
			return fmt.Errorf("storage: delete user verifications: %w", errDelete)
		}

		if !s.opts.PurgeUserData {
			return nil
		}
		if errDelete := tx.Where("user_id = ?", id).Delete(&models.APIKey{}).Error; errDelete != nil {
			return fmt.Errorf("storage: delete user api keys: %w", errDelete)
		}

		var sessionIDs []string
		if errFind := tx.Model(&models.ChatSession{}).
			Where("user_id = ?", id).
			Pluck("id", &sessionIDs).Error; errFind != nil {
			return fmt.Errorf("storage: list user sessions: %w", errFind)
		}
		if len(sessionIDs) > 0 {
			if errDelete := tx.Where("session_id IN ?", sessionIDs).Delete(&models.Message{}).Error; errDelete != nil {
				return fmt.Errorf("storage: delete user messages: %w", errDelete)
			}
			if errDelete := tx.Where("id IN ?", sessionIDs).Delete(&models.ChatSession{}).Error; errDelete != nil {
				return fmt.Errorf("storage: delete user sessions: %w", errDelete)
			}
		}
		return nil
	})
}

// CreateEmailVerification inserts a new unused verification.
func (s *GormStore) CreateEmailVerification(ctx context.Context, userID, otpHash string, expiresAt time.Time) (*models.EmailVerification, error) {
	verification := models.EmailVerification{
		ID:        uuid.NewString(),
		UserID:    userID,
		OtpHash:   otpHash,
		ExpiresAt: expiresAt,
		IsUsed:    false,
		CreatedAt: time.Now().UTC(),
	}
	if errCreate := s.db.WithContext(ctx).Create(&verification).Error; errCreate != nil {
		return nil, fmt.Errorf("storage: create email verification: %w", errCreate)
	}
	return &verification, nil
}

// FindEmailVerification returns the newest unused, unexpired verification for
// the user.
func (s *GormStore) FindEmailVerification(ctx context.Context, userID string) (*models.EmailVerification, error) {
	var verification models.EmailVerification
	if errFind := s.db.WithContext(ctx).
		Where("user_id = ? AND is_used = ? AND expires_at > ?", userID, false, time.Now().UTC()).
		Order("created_at DESC").
		First(&verification).Error; errFind != nil {
		return nil, translateGormError(errFind, "find email verification")
	}
	return &verification, nil
}

// MarkVerificationUsed flips IsUsed to true. Idempotent.
func (s *GormStore) MarkVerificationUsed(ctx context.Context, id string) error {
	result := s.db.WithContext(ctx).
		Model(&models.EmailVerification{}).
		Where("id = ?", id).
		Update("is_used", true)
	if result.Error != nil {
		return fmt.Errorf("storage: mark verification used: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// CreateAPIKey inserts a new key record.
func (s *GormStore) CreateAPIKey(ctx context.Context, params CreateAPIKeyParams) (*models.APIKey, error) {
	key := models.APIKey{
		ID:        uuid.NewString(),
		UserID:    params.UserID,
		Name:      params.Name,
		KeyHash:   params.KeyHash,
		KeyPrefix: params.KeyPrefix,
		CreatedAt: time.Now().UTC(),
	}
	if errCreate := s.db.WithContext(ctx).Create(&key).Error; errCreate != nil {
		return nil, fmt.Errorf("storage: create api key: %w", errCreate)
	}
	return &key, nil
}

// ListAPIKeysByUser returns the user's keys newest first.
func (s *GormStore) ListAPIKeysByUser(ctx context.Context, userID string) ([]models.APIKey, error) {
	var keys []models.APIKey
	if errFind := s.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("created_at DESC").
		Find(&keys).Error; errFind != nil {
		return nil, fmt.Errorf("storage: list api keys: %w", errFind)
	}
	return keys, nil
}

// ListAllAPIKeys returns every stored key.
func (s *GormStore) ListAllAPIKeys(ctx context.Context) ([]models.APIKey, error) {
	var keys []models.APIKey
	if errFind := s.db.WithContext(ctx).Find(&keys).Error; errFind != nil {
		return nil, fmt.Errorf("storage: list all api keys: %w", errFind)
	}
	return keys, nil
}

// DeleteAPIKey removes the key by id.
func (s *GormStore) DeleteAPIKey(ctx context.Context, id string) error {
	result := s.db.WithContext(ctx).Where("id = ?", id).Delete(&models.APIKey{})
	if result.Error != nil {
		return fmt.Errorf("storage: delete api key: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// TouchAPIKeyLastUsed stamps LastUsedAt on the key with the given hash.
func (s *GormStore) TouchAPIKeyLastUsed(ctx context.Context, keyHash string) error {
	if errUpdate := s.db.WithContext(ctx).
		Model(&models.APIKey{}).
		Where("key_hash = ?", keyHash).
		Update("last_used_at", time.Now().UTC()).Error; errUpdate != nil {
		return fmt.Errorf("storage: touch api key: %w", errUpdate)
	}
	return nil
}

// Close closes the underlying sql.DB.
func (s *GormStore) Close(context.Context) error {
	sqlDB, errDB := s.db.DB()
	if errDB != nil {
		return fmt.Errorf("storage: close: %w", errDB)
	}
	return sqlDB.Close()
}

func translateGormError(err error, op string) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return ErrNotFound
	}
	return fmt.Errorf("storage: %s: %w", op, err)
}
