package storage

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/parleychat/parley/internal/models"
	"gorm.io/datatypes"
)

type memorySession struct {
	models.ChatSession
	seq uint64
}

type memoryMessage struct {
	models.Message
	seq uint64
}

type memoryVerification struct {
	models.EmailVerification
	seq uint64
}

// MemoryStore keeps all records in process memory. It is the fallback backend
// when no database is configured and the workhorse for tests. All access is
// guarded by one mutex; request handlers run on arbitrary goroutines.
type MemoryStore struct {
	opts Options

	mu            sync.Mutex
	seq           uint64
	users         map[string]models.User
	sessions      map[string]memorySession
	messages      map[string]memoryMessage
	verifications map[string]memoryVerification
	apiKeys       map[string]models.APIKey
}

// NewMemoryStore constructs an empty MemoryStore.
func NewMemoryStore(opts Options) *MemoryStore {
	return &MemoryStore{
		opts:          opts,
		users:         make(map[string]models.User),
		sessions:      make(map[string]memorySession),
		messages:      make(map[string]memoryMessage),
		verifications: make(map[string]memoryVerification),
		apiKeys:       make(map[string]models.APIKey),
	}
}

func (s *MemoryStore) nextSeq() uint64 {
	s.seq++
	return s.seq
}

// GetChatSession returns the session by id.
func (s *MemoryStore) GetChatSession(_ context.Context, id string) (*models.ChatSession, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry, ok := s.sessions[id]
	if !ok {
		return nil, ErrNotFound
	}
	session := entry.ChatSession
	return &session, nil
}

// ListChatSessions returns sessions for the given owner or anonymous token,
// newest first.
func (s *MemoryStore) ListChatSessions(_ context.Context, ownerUserID, anonymousToken string) ([]models.ChatSession, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entries := make([]memorySession, 0, len(s.sessions))
	for _, entry := range s.sessions {
		if ownerUserID != "" {
			if entry.UserID != nil && *entry.UserID == ownerUserID {
				entries = append(entries, entry)
			}
			continue
		}
		if entry.UserID != nil {
			continue
		}
		if derefOrEmpty(entry.AnonymousSessionID) == anonymousToken {
			entries = append(entries, entry)
		}
	}

	// Newest first; sequence breaks same-timestamp ties deterministically.
	sort.Slice(entries, func(i, j int) bool {
		if entries[i].CreatedAt.Equal(entries[j].CreatedAt) {
			return entries[i].seq > entries[j].seq
		}
		return entries[i].CreatedAt.After(entries[j].CreatedAt)
	})

	out := make([]models.ChatSession, 0, len(entries))
	for _, entry := range entries {
		out = append(out, entry.ChatSession)
	}
	return out, nil
}

// CreateChatSession stores a new session with a fresh id and timestamp.
func (s *MemoryStore) CreateChatSession(_ context.Context, params CreateChatSessionParams) (*models.ChatSession, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	session := models.ChatSession{
		ID:                 uuid.NewString(),
		UserID:             copyStringPtr(params.UserID),
		AnonymousSessionID: copyStringPtr(params.AnonymousSessionID),
		Title:              params.Title,
		Mode:               params.Mode,
		CreatedAt:          time.Now().UTC(),
	}
	s.sessions[session.ID] = memorySession{ChatSession: session, seq: s.nextSeq()}
	return &session, nil
}

// GetMessages returns the session's messages oldest first.
func (s *MemoryStore) GetMessages(_ context.Context, sessionID string) ([]models.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entries := make([]memoryMessage, 0)
	for _, entry := range s.messages {
		if entry.SessionID == sessionID {
			entries = append(entries, entry)
		}
	}
	sort.Slice(entries, func(i, j int) bool {
		if entries[i].CreatedAt.Equal(entries[j].CreatedAt) {
			return entries[i].seq < entries[j].seq
		}
		return entries[i].CreatedAt.Before(entries[j].CreatedAt)
	})

	out := make([]models.Message, 0, len(entries))
	for _, entry := range entries {
		out = append(out, entry.Message)
	}
	return out, nil
}

// CreateMessage appends a message to a session.
func (s *MemoryStore) CreateMessage(_ context.Context, params CreateMessageParams) (*models.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

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
	s.messages[message.ID] = memoryMessage{Message: message, seq: s.nextSeq()}
	return &message, nil
}

// CreateUser stores a new unverified user.
func (s *MemoryStore) CreateUser(_ context.Context, email, passwordHash string) (*models.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, user := range s.users {
		if user.Email == email {
			return nil, ErrDuplicateEmail
		}
	}

	user := models.User{
		ID:           uuid.NewString(),
		Email:        email,
		PasswordHash: passwordHash,
		IsVerified:   false,
		CreatedAt:    time.Now().UTC(),
	}
	s.users[user.ID] = user
	return &user, nil
}

// GetUserByEmail returns the user with the given email.
func (s *MemoryStore) GetUserByEmail(_ context.Context, email string) (*models.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, user := range s.users {
		if user.Email == email {
			found := user
			return &found, nil
		}
	}
	return nil, ErrNotFound
}

// GetUserByID returns the user by id.
func (s *MemoryStore) GetUserByID(_ context.Context, id string) (*models.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	user, ok := s.users[id]
	if !ok {
		return nil, ErrNotFound
	}
	return &user, nil
}

// MarkUserVerified flips IsVerified to true. Idempotent.
func (s *MemoryStore) MarkUserVerified(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	user, ok := s.users[id]
	if !ok {
		return ErrNotFound
	}
	user.IsVerified = true
	s.users[id] = user
	return nil
}

// DeleteUser removes the user and cascades per Options.
func (s *MemoryStore) DeleteUser(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.users[id]; !ok {
		return ErrNotFound
	}
	delete(s.users, id)

	for verificationID, verification := range s.verifications {
		if verification.UserID == id {
			delete(s.verifications, verificationID)
		}
	}

	if !s.opts.PurgeUserData {
		return nil
	}
	for keyID, key := range s.apiKeys {
		if key.UserID == id {
			delete(s.apiKeys, keyID)
		}
	}
	for sessionID, session := range s.sessions {
		if session.UserID == nil || *session.UserID != id {
			continue
		}
		delete(s.sessions, sessionID)
		for messageID, message := range s.messages {
			if message.SessionID == sessionID {
				delete(s.messages, messageID)
			}
		}
	}
	return nil
}

// CreateEmailVerification stores a new unused verification.
func (s *MemoryStore) CreateEmailVerification(_ context.Context, userID, otpHash string, expiresAt time.Time) (*models.EmailVerification, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	verification := models.EmailVerification{
		ID:        uuid.NewString(),
		UserID:    userID,
		OtpHash:   otpHash,
		ExpiresAt: expiresAt,
		IsUsed:    false,
		CreatedAt: time.Now().UTC(),
	}
	s.verifications[verification.ID] = memoryVerification{EmailVerification: verification, seq: s.nextSeq()}
	return &verification, nil
}

// FindEmailVerification returns the newest unused, unexpired verification for
// the user.
func (s *MemoryStore) FindEmailVerification(_ context.Context, userID string) (*models.EmailVerification, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now().UTC()
	var best *memoryVerification
	for _, entry := range s.verifications {
		if entry.UserID != userID || entry.IsUsed || entry.Expired(now) {
			continue
		}
		candidate := entry
		if best == nil || candidate.CreatedAt.After(best.CreatedAt) ||
			(candidate.CreatedAt.Equal(best.CreatedAt) && candidate.seq > best.seq) {
			best = &candidate
		}
	}
	if best == nil {
		return nil, ErrNotFound
	}
	verification := best.EmailVerification
	return &verification, nil
}

// MarkVerificationUsed flips IsUsed to true. Idempotent.
func (s *MemoryStore) MarkVerificationUsed(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry, ok := s.verifications[id]
	if !ok {
		return ErrNotFound
	}
	entry.IsUsed = true
	s.verifications[id] = entry
	return nil
}

// CreateAPIKey stores a new key record. Only the hash and prefix are kept.
func (s *MemoryStore) CreateAPIKey(_ context.Context, params CreateAPIKeyParams) (*models.APIKey, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := models.APIKey{
		ID:        uuid.NewString(),
		UserID:    params.UserID,
		Name:      params.Name,
		KeyHash:   params.KeyHash,
		KeyPrefix: params.KeyPrefix,
		CreatedAt: time.Now().UTC(),
	}
	s.apiKeys[key.ID] = key
	return &key, nil
}

// ListAPIKeysByUser returns the user's keys newest first.
func (s *MemoryStore) ListAPIKeysByUser(_ context.Context, userID string) ([]models.APIKey, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]models.APIKey, 0)
	for _, key := range s.apiKeys {
		if key.UserID == userID {
			out = append(out, key)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID > out[j].ID
		}
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out, nil
}

// ListAllAPIKeys returns every stored key.
func (s *MemoryStore) ListAllAPIKeys(_ context.Context) ([]models.APIKey, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]models.APIKey, 0, len(s.apiKeys))
	for _, key := range s.apiKeys {
		out = append(out, key)
	}
	return out, nil
}

// DeleteAPIKey removes the key by id.
func (s *MemoryStore) DeleteAPIKey(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.apiKeys[id]; !ok {
		return ErrNotFound
	}
	delete(s.apiKeys, id)
	return nil
}

// TouchAPIKeyLastUsed stamps LastUsedAt on the key with the given hash.
func (s *MemoryStore) TouchAPIKeyLastUsed(_ context.Context, keyHash string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for id, key := range s.apiKeys {
		if key.KeyHash == keyHash {
			now := time.Now().UTC()
			key.LastUsedAt = &now
			s.apiKeys[id] = key
			return nil
		}
	}
	return nil
}

// Close releases nothing; memory stores have no external resources.
func (s *MemoryStore) Close(context.Context) error { return nil }

func copyStringPtr(p *string) *string {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}

func derefOrEmpty(p *string) string {
	if p == nil {
		return ""
	}
	return *p
}
