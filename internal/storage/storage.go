package storage

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/parleychat/parley/internal/config"
	"github.com/parleychat/parley/internal/db"
	"github.com/parleychat/parley/internal/models"

	log "github.com/sirupsen/logrus"
)

// Sentinel errors shared by all backends.
var (
	// ErrNotFound indicates the requested record does not exist.
	ErrNotFound = errors.New("storage: not found")
	// ErrDuplicateEmail indicates the email is already registered.
	ErrDuplicateEmail = errors.New("storage: email already registered")
)

// CreateChatSessionParams holds inputs for chat session creation. Exactly one
// of UserID / AnonymousSessionID should be set by the caller; the layer does
// not enforce mutual exclusion.
type CreateChatSessionParams struct {
	Title              string
	Mode               string
	UserID             *string
	AnonymousSessionID *string
}

// CreateMessageParams holds inputs for message creation.
type CreateMessageParams struct {
	SessionID string
	Role      string
	Content   string
	Usage     []byte // Optional upstream usage payload, JSON-encoded.
}

// CreateAPIKeyParams holds inputs for API key creation. KeyHash is the bcrypt
// hash of the raw secret; the raw secret itself never reaches the storage
// layer.
type CreateAPIKeyParams struct {
	UserID    string
	Name      string
	KeyHash   string
	KeyPrefix string
}

// Options tunes backend behavior shared by all implementations.
type Options struct {
	// PurgeUserData extends DeleteUser to also remove the user's API keys,
	// owned chat sessions, and those sessions' messages. When false only the
	// user's email verifications are cascaded.
	PurgeUserData bool
}

// Store is the uniform persistence surface over the chat data model. Every
// operation is logically atomic per call and identical across backends;
// callers never see which backend is active.
type Store interface {
	GetChatSession(ctx context.Context, id string) (*models.ChatSession, error)
	// ListChatSessions returns sessions sorted by CreatedAt descending. When
	// ownerUserID is non-empty only that user's sessions are returned;
	// otherwise ownerless sessions whose anonymous token equals
	// anonymousToken are returned, an empty stored token matching an empty
	// supplied token.
	ListChatSessions(ctx context.Context, ownerUserID, anonymousToken string) ([]models.ChatSession, error)
	CreateChatSession(ctx context.Context, params CreateChatSessionParams) (*models.ChatSession, error)

	// GetMessages returns the session's messages sorted by CreatedAt ascending.
	GetMessages(ctx context.Context, sessionID string) ([]models.Message, error)
	CreateMessage(ctx context.Context, params CreateMessageParams) (*models.Message, error)

	// CreateUser stores a new unverified user. Returns ErrDuplicateEmail when
	// the email is already registered.
	CreateUser(ctx context.Context, email, passwordHash string) (*models.User, error)
	GetUserByEmail(ctx context.Context, email string) (*models.User, error)
	GetUserByID(ctx context.Context, id string) (*models.User, error)
	// MarkUserVerified flips IsVerified to true. Idempotent.
	MarkUserVerified(ctx context.Context, id string) error
	// DeleteUser removes the user and cascades that user's email
	// verifications; see Options.PurgeUserData for the extended cascade.
	DeleteUser(ctx context.Context, id string) error

	CreateEmailVerification(ctx context.Context, userID, otpHash string, expiresAt time.Time) (*models.EmailVerification, error)
	// FindEmailVerification returns the most recently created unused,
	// unexpired verification for the user. Expiry is checked at query time in
	// every backend.
	FindEmailVerification(ctx context.Context, userID string) (*models.EmailVerification, error)
	// MarkVerificationUsed flips IsUsed to true. Idempotent.
	MarkVerificationUsed(ctx context.Context, id string) error

	CreateAPIKey(ctx context.Context, params CreateAPIKeyParams) (*models.APIKey, error)
	// ListAPIKeysByUser returns the user's keys sorted by CreatedAt descending.
	ListAPIKeysByUser(ctx context.Context, userID string) ([]models.APIKey, error)
	// ListAllAPIKeys returns every stored key. Used only for
	// credential-matching scans during bearer authentication.
	ListAllAPIKeys(ctx context.Context) ([]models.APIKey, error)
	DeleteAPIKey(ctx context.Context, id string) error
	// TouchAPIKeyLastUsed stamps LastUsedAt on the key with the given hash.
	// No-op when no key matches.
	TouchAPIKeyLastUsed(ctx context.Context, keyHash string) error

	Close(ctx context.Context) error
}

// Open selects and constructs the process-wide backend. Priority order:
// MongoDB URI, relational DSN, in-memory fallback. The choice is made once at
// startup and never revisited.
func Open(ctx context.Context, cfg config.Config) (Store, error) {
	opts := Options{PurgeUserData: cfg.Auth.PurgeUserData}

	if uri := strings.TrimSpace(cfg.MongoURI); uri != "" {
		store, errMongo := NewMongoStore(ctx, uri, opts)
		if errMongo != nil {
			return nil, errMongo
		}
		log.Info("storage: using mongodb backend")
		return store, nil
	}

	if dsn := strings.TrimSpace(cfg.DatabaseDSN); dsn != "" {
		conn, errOpen := db.Open(dsn)
		if errOpen != nil {
			return nil, errOpen
		}
		if errMigrate := db.Migrate(conn); errMigrate != nil {
			return nil, errMigrate
		}
		log.WithField("dialect", db.DialectName(conn)).Info("storage: using relational backend")
		return NewGormStore(conn, opts), nil
	}

	log.Info("storage: using in-memory backend")
	return NewMemoryStore(opts), nil
}
