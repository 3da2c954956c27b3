package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/parleychat/parley/internal/models"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"gorm.io/datatypes"
)

const mongoDatabaseName = "parley"

// Collection names used by the document backend.
const (
	collUsers         = "users"
	collSessions      = "chatSessions"
	collMessages      = "messages"
	collVerifications = "emailVerifications"
	collAPIKeys       = "apiKeys"
)

// MongoStore persists the chat data model in MongoDB. Object identifiers stay
// internal; every record crossing the Store boundary carries hex string ids.
type MongoStore struct {
	client *mongo.Client
	db     *mongo.Database
	opts   Options
}

type mongoUser struct {
	ID           primitive.ObjectID `bson:"_id,omitempty"`
	Email        string             `bson:"email"`
	PasswordHash string             `bson:"passwordHash"`
	IsVerified   bool               `bson:"isVerified"`
	CreatedAt    time.Time          `bson:"createdAt"`
}

type mongoChatSession struct {
	ID                 primitive.ObjectID  `bson:"_id,omitempty"`
	UserID             *primitive.ObjectID `bson:"userId"`
	AnonymousSessionID *string             `bson:"anonymousSessionId"`
	Title              string              `bson:"title"`
	Mode               string              `bson:"mode"`
	CreatedAt          time.Time           `bson:"createdAt"`
}

type mongoMessage struct {
	ID        primitive.ObjectID `bson:"_id,omitempty"`
	SessionID string             `bson:"sessionId"`
	Role      string             `bson:"role"`
	Content   string             `bson:"content"`
	Usage     []byte             `bson:"usage,omitempty"`
	CreatedAt time.Time          `bson:"createdAt"`
}

type mongoEmailVerification struct {
	ID        primitive.ObjectID `bson:"_id,omitempty"`
	UserID    primitive.ObjectID `bson:"userId"`
	OtpHash   string             `bson:"otpHash"`
	ExpiresAt time.Time          `bson:"expiresAt"`
	IsUsed    bool               `bson:"isUsed"`
	CreatedAt time.Time          `bson:"createdAt"`
}

type mongoAPIKey struct {
	ID         primitive.ObjectID `bson:"_id,omitempty"`
	UserID     primitive.ObjectID `bson:"userId"`
	Name       string             `bson:"name"`
	KeyHash    string             `bson:"keyHash"`
	KeyPrefix  string             `bson:"keyPrefix"`
	LastUsedAt *time.Time         `bson:"lastUsedAt"`
	CreatedAt  time.Time          `bson:"createdAt"`
}

// NewMongoStore connects to MongoDB and ensures the index set.
func NewMongoStore(ctx context.Context, uri string, opts Options) (*MongoStore, error) {
	connectCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	client, errConnect := mongo.Connect(connectCtx, options.Client().ApplyURI(uri))
	if errConnect != nil {
		return nil, fmt.Errorf("storage: mongo connect: %w", errConnect)
	}
	if errPing := client.Ping(connectCtx, nil); errPing != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("storage: mongo ping: %w", errPing)
	}

	store := &MongoStore{
		client: client,
		db:     client.Database(mongoDatabaseName),
		opts:   opts,
	}
	if errIndexes := store.ensureIndexes(connectCtx); errIndexes != nil {
		_ = client.Disconnect(context.Background())
		return nil, errIndexes
	}
	return store, nil
}

func (s *MongoStore) ensureIndexes(ctx context.Context) error {
	indexes := map[string][]mongo.IndexModel{
		collUsers: {
			{Keys: bson.D{{Key: "email", Value: 1}}, Options: options.Index().SetUnique(true)},
		},
		collVerifications: {
			{Keys: bson.D{{Key: "userId", Value: 1}}},
			{Keys: bson.D{{Key: "expiresAt", Value: 1}}, Options: options.Index().SetExpireAfterSeconds(0)},
		},
		collSessions: {
			{Keys: bson.D{{Key: "userId", Value: 1}}},
			{Keys: bson.D{{Key: "anonymousSessionId", Value: 1}}},
			{Keys: bson.D{{Key: "createdAt", Value: -1}}},
		},
		collMessages: {
			{Keys: bson.D{{Key: "sessionId", Value: 1}}},
			{Keys: bson.D{{Key: "createdAt", Value: 1}}},
		},
	}
	for name, specs := range indexes {
		if _, errCreate := s.db.Collection(name).Indexes().CreateMany(ctx, specs); errCreate != nil {
			return fmt.Errorf("storage: mongo indexes for %s: %w", name, errCreate)
		}
	}
	return nil
}

func (d mongoUser) toModel() models.User {
	return models.User{
		ID:           d.ID.Hex(),
		Email:        d.Email,
		PasswordHash: d.PasswordHash,
		IsVerified:   d.IsVerified,
		CreatedAt:    d.CreatedAt,
	}
}

func (d mongoChatSession) toModel() models.ChatSession {
	session := models.ChatSession{
		ID:                 d.ID.Hex(),
		AnonymousSessionID: d.AnonymousSessionID,
		Title:              d.Title,
		Mode:               d.Mode,
		CreatedAt:          d.CreatedAt,
	}
	if d.UserID != nil {
		hex := d.UserID.Hex()
		session.UserID = &hex
	}
	return session
}

func (d mongoMessage) toModel() models.Message {
	message := models.Message{
		ID:        d.ID.Hex(),
		SessionID: d.SessionID,
		Role:      d.Role,
		Content:   d.Content,
		CreatedAt: d.CreatedAt,
	}
	if len(d.Usage) > 0 {
		message.Usage = datatypes.JSON(d.Usage)
	}
	return message
}

func (d mongoEmailVerification) toModel() models.EmailVerification {
	return models.EmailVerification{
		ID:        d.ID.Hex(),
		UserID:    d.UserID.Hex(),
		OtpHash:   d.OtpHash,
		ExpiresAt: d.ExpiresAt,
		IsUsed:    d.IsUsed,
		CreatedAt: d.CreatedAt,
	}
}

func (d mongoAPIKey) toModel() models.APIKey {
	return models.APIKey{
		ID:         d.ID.Hex(),
		UserID:     d.UserID.Hex(),
		Name:       d.Name,
		KeyHash:    d.KeyHash,
		KeyPrefix:  d.KeyPrefix,
		LastUsedAt: d.LastUsedAt,
		CreatedAt:  d.CreatedAt,
	}
}

// GetChatSession returns the session by id.
func (s *MongoStore) GetChatSession(ctx context.Context, id string) (*models.ChatSession, error) {
	oid, errParse := primitive.ObjectIDFromHex(id)
	if errParse != nil {
		return nil, ErrNotFound
	}
	var doc mongoChatSession
	errFind := s.db.Collection(collSessions).FindOne(ctx, bson.M{"_id": oid}).Decode(&doc)
	if errFind != nil {
		return nil, translateMongoError(errFind, "get chat session")
	}
	session := doc.toModel()
	return &session, nil
}

// ListChatSessions returns sessions for the given owner or anonymous token,
// newest first.
func (s *MongoStore) ListChatSessions(ctx context.Context, ownerUserID, anonymousToken string) ([]models.ChatSession, error) {
	var filter bson.M
	if ownerUserID != "" {
		oid, errParse := primitive.ObjectIDFromHex(ownerUserID)
		if errParse != nil {
			return []models.ChatSession{}, nil
		}
		filter = bson.M{"userId": oid}
	} else if anonymousToken != "" {
		filter = bson.M{"userId": nil, "anonymousSessionId": anonymousToken}
	} else {
		filter = bson.M{"userId": nil, "anonymousSessionId": bson.M{"$in": bson.A{nil, ""}}}
	}

	cursor, errFind := s.db.Collection(collSessions).Find(ctx, filter,
		options.Find().SetSort(bson.D{{Key: "createdAt", Value: -1}}))
	if errFind != nil {
		return nil, fmt.Errorf("storage: list chat sessions: %w", errFind)
	}
	var docs []mongoChatSession
	if errAll := cursor.All(ctx, &docs); errAll != nil {
		return nil, fmt.Errorf("storage: list chat sessions: %w", errAll)
	}

	out := make([]models.ChatSession, 0, len(docs))
	for _, doc := range docs {
		out = append(out, doc.toModel())
	}
	return out, nil
}

// CreateChatSession inserts a new session.
func (s *MongoStore) CreateChatSession(ctx context.Context, params CreateChatSessionParams) (*models.ChatSession, error) {
	doc := mongoChatSession{
		ID:                 primitive.NewObjectID(),
		AnonymousSessionID: params.AnonymousSessionID,
		Title:              params.Title,
		Mode:               params.Mode,
		CreatedAt:          time.Now().UTC(),
	}
	if params.UserID != nil {
		oid, errParse := primitive.ObjectIDFromHex(*params.UserID)
		if errParse != nil {
			return nil, fmt.Errorf("storage: create chat session: invalid user id %q", *params.UserID)
		}
		doc.UserID = &oid
	}
	if _, errInsert := s.db.Collection(collSessions).InsertOne(ctx, doc); errInsert != nil {
		return nil, fmt.Errorf("storage: create chat session: %w", errInsert)
	}
	session := doc.toModel()
	return &session, nil
}

// GetMessages returns the session's messages oldest first.
func (s *MongoStore) GetMessages(ctx context.Context, sessionID string) ([]models.Message, error) {
	cursor, errFind := s.db.Collection(collMessages).Find(ctx, bson.M{"sessionId": sessionID},
		options.Find().SetSort(bson.D{{Key: "createdAt", Value: 1}}))
	if errFind != nil {
		return nil, fmt.Errorf("storage: get messages: %w", errFind)
	}
	var docs []mongoMessage
	if errAll := cursor.All(ctx, &docs); errAll != nil {
		return nil, fmt.Errorf("storage: get messages: %w", errAll)
	}

	out := make([]models.Message, 0, len(docs))
	for _, doc := range docs {
		out = append(out, doc.toModel())
	}
	return out, nil
}

// CreateMessage inserts a new message.
func (s *MongoStore) CreateMessage(ctx context.Context, params CreateMessageParams) (*models.Message, error) {
	doc := mongoMessage{
		ID:        primitive.NewObjectID(),
		SessionID: params.SessionID,
		Role:      params.Role,
		Content:   params.Content,
		Usage:     params.Usage,
		CreatedAt: time.Now().UTC(),
	}
	if _, errInsert := s.db.Collection(collMessages).InsertOne(ctx, doc); errInsert != nil {
		return nil, fmt.Errorf("storage: create message: %w", errInsert)
	}
	message := doc.toModel()
	return &message, nil
}

// CreateUser inserts a new unverified user. The unique index on email turns
// duplicates into ErrDuplicateEmail.
func (s *MongoStore) CreateUser(ctx context.Context, email, passwordHash string) (*models.User, error) {
	doc := mongoUser{
		ID:           primitive.NewObjectID(),
		Email:        email,
		PasswordHash: passwordHash,
		IsVerified:   false,
		CreatedAt:    time.Now().UTC(),
	}
	if _, errInsert := s.db.Collection(collUsers).InsertOne(ctx, doc); errInsert != nil {
		if mongo.IsDuplicateKeyError(errInsert) {
			return nil, ErrDuplicateEmail
		}
		return nil, fmt.Errorf("storage: create user: %w", errInsert)
	}
	user := doc.toModel()
	return &user, nil
}

// GetUserByEmail returns the user with the given email.
func (s *MongoStore) GetUserByEmail(ctx context.Context, email string) (*models.User, error) {
	var doc mongoUser
	errFind := s.db.Collection(collUsers).FindOne(ctx, bson.M{"email": email}).Decode(&doc)
	if errFind != nil {
		return nil, translateMongoError(errFind, "get user by email")
	}
	user := doc.toModel()
	return &user, nil
}

// GetUserByID returns the user by id.
func (s *MongoStore) GetUserByID(ctx context.Context, id string) (*models.User, error) {
	oid, errParse := primitive.ObjectIDFromHex(id)
	if errParse != nil {
		return nil, ErrNotFound
	}
	var doc mongoUser
	errFind := s.db.Collection(collUsers).FindOne(ctx, bson.M{"_id": oid}).Decode(&doc)
	if errFind != nil {
		return nil, translateMongoError(errFind, "get user by id")
	}
	user := doc.toModel()
	return &user, nil
}

// MarkUserVerified flips IsVerified to true. Idempotent.
func (s *MongoStore) MarkUserVerified(ctx context.Context, id string) error {
	oid, errParse := primitive.ObjectIDFromHex(id)
	if errParse != nil {
		return ErrNotFound
	}
	result, errUpdate := s.db.Collection(collUsers).UpdateOne(ctx,
		bson.M{"_id": oid}, bson.M{"$set": bson.M{"isVerified": true}})
	if errUpdate != nil {
		return fmt.Errorf("storage: mark user verified: %w", errUpdate)
	}
	if result.MatchedCount == 0 {
		return ErrNotFound
	}
	return nil
}

// DeleteUser removes the user and cascades per Options.
func (s *MongoStore) DeleteUser(ctx context.Context, id string) error {
	oid, errParse := primitive.ObjectIDFromHex(id)
	if errParse != nil {
		return ErrNotFound
	}

	result, errDelete := s.db.Collection(collUsers).DeleteOne(ctx, bson.M{"_id": oid})
	if errDelete != nil {
		return fmt.Errorf("storage: delete user: %w", errDelete)
	}
	if result.DeletedCount == 0 {
		return ErrNotFound
	}

	if _, errDeleteMany := s.db.Collection(collVerifications).DeleteMany(ctx, bson.M{"userId": oid}); errDeleteMany != nil {
		return fmt.Errorf("storage: delete user verifications: %w", errDeleteMany)
	}

	if !s.opts.PurgeUserData {
		return nil
	}
	if _, errDeleteMany := s.db.Collection(collAPIKeys).DeleteMany(ctx, bson.M{"userId": oid}); errDeleteMany != nil {
		return fmt.Errorf("storage: delete user api keys: %w", errDeleteMany)
	}

	cursor, errFind := s.db.Collection(collSessions).Find(ctx, bson.M{"userId": oid})
	if errFind != nil {
		return fmt.Errorf("storage: list user sessions: %w", errFind)
	}
	var sessions []mongoChatSession
	if errAll := cursor.All(ctx, &sessions); errAll != nil {
		return fmt.Errorf("storage: list user sessions: %w", errAll)
	}
	if len(sessions) == 0 {
		return nil
	}

	sessionIDs := make([]string, 0, len(sessions))
	objectIDs := make([]primitive.ObjectID, 0, len(sessions))
	for _, session := range sessions {
		sessionIDs = append(sessionIDs, session.ID.Hex())
		objectIDs = append(objectIDs, session.ID)
	}
	if _, errDeleteMany := s.db.Collection(collMessages).DeleteMany(ctx, bson.M{"sessionId": bson.M{"$in": sessionIDs}}); errDeleteMany != nil {
		return fmt.Errorf("storage: delete user messages: %w", errDeleteMany)
	}
	if _, errDeleteMany := s.db.Collection(collSessions).DeleteMany(ctx, bson.M{"_id": bson.M{"$in": objectIDs}}); errDeleteMany != nil {
		return fmt.Errorf("storage: delete user sessions: %w", errDeleteMany)
	}
	return nil
}

// CreateEmailVerification inserts a new unused verification.
func (s *MongoStore) CreateEmailVerification(ctx context.Context, userID, otpHash string, expiresAt time.Time) (*models.EmailVerification, error) {
	oid, errParse := primitive.ObjectIDFromHex(userID)
	if errParse != nil {
		return nil, fmt.Errorf("storage: create email verification: invalid user id %q", userID)
	}
	doc := mongoEmailVerification{
		ID:        primitive.NewObjectID(),
		UserID:    oid,
		OtpHash:   otpHash,
		ExpiresAt: expiresAt,
		IsUsed:    false,
		CreatedAt: time.Now().UTC(),
	}
	if _, errInsert := s.db.Collection(collVerifications).InsertOne(ctx, doc); errInsert != nil {
		return nil, fmt.Errorf("storage: create email verification: %w", errInsert)
	}
	verification := doc.toModel()
	return &verification, nil
}

// FindEmailVerification returns the newest unused, unexpired verification for
// the user.
func (s *MongoStore) FindEmailVerification(ctx context.Context, userID string) (*models.EmailVerification, error) {
	oid, errParse := primitive.ObjectIDFromHex(userID)
	if errParse != nil {
		return nil, ErrNotFound
	}
	filter := bson.M{
		"userId":    oid,
		"isUsed":    false,
		"expiresAt": bson.M{"$gt": time.Now().UTC()},
	}
	var doc mongoEmailVerification
	errFind := s.db.Collection(collVerifications).
		FindOne(ctx, filter, options.FindOne().SetSort(bson.D{{Key: "createdAt", Value: -1}})).
		Decode(&doc)
	if errFind != nil {
		return nil, translateMongoError(errFind, "find email verification")
	}
	verification := doc.toModel()
	return &verification, nil
}

// MarkVerificationUsed flips IsUsed to true. Idempotent.
func (s *MongoStore) MarkVerificationUsed(ctx context.Context, id string) error {
	oid, errParse := primitive.ObjectIDFromHex(id)
	if errParse != nil {
		return ErrNotFound
	}
	result, errUpdate := s.db.Collection(collVerifications).UpdateOne(ctx,
		bson.M{"_id": oid}, bson.M{"$set": bson.M{"isUsed": true}})
	if errUpdate != nil {
		return fmt.Errorf("storage: mark verification used: %w", errUpdate)
	}
	if result.MatchedCount == 0 {
		return ErrNotFound
	}
	return nil
}

// CreateAPIKey inserts a new key record.
func (s *MongoStore) CreateAPIKey(ctx context.Context, params CreateAPIKeyParams) (*models.APIKey, error) {
	oid, errParse := primitive.ObjectIDFromHex(params.UserID)
	if errParse != nil {
		return nil, fmt.Errorf("storage: create api key: invalid user id %q", params.UserID)
	}
	doc := mongoAPIKey{
		ID:        primitive.NewObjectID(),
		UserID:    oid,
		Name:      params.Name,
		KeyHash:   params.KeyHash,
		KeyPrefix: params.KeyPrefix,
		CreatedAt: time.Now().UTC(),
	}
	if _, errInsert := s.db.Collection(collAPIKeys).InsertOne(ctx, doc); errInsert != nil {
		return nil, fmt.Errorf("storage: create api key: %w", errInsert)
	}
	key := doc.toModel()
	return &key, nil
}

// ListAPIKeysByUser returns the user's keys newest first.
func (s *MongoStore) ListAPIKeysByUser(ctx context.Context, userID string) ([]models.APIKey, error) {
	oid, errParse := primitive.ObjectIDFromHex(userID)
	if errParse != nil {
		return []models.APIKey{}, nil
	}
	cursor, errFind := s.db.Collection(collAPIKeys).Find(ctx, bson.M{"userId": oid},
		options.Find().SetSort(bson.D{{Key: "createdAt", Value: -1}}))
	if errFind != nil {
		return nil, fmt.Errorf("storage: list api keys: %w", errFind)
	}
	var docs []mongoAPIKey
	if errAll := cursor.All(ctx, &docs); errAll != nil {
		return nil, fmt.Errorf("storage: list api keys: %w", errAll)
	}

	out := make([]models.APIKey, 0, len(docs))
	for _, doc := range docs {
		out = append(out, doc.toModel())
	}
	return out, nil
}

// ListAllAPIKeys returns every stored key.
func (s *MongoStore) ListAllAPIKeys(ctx context.Context) ([]models.APIKey, error) {
	cursor, errFind := s.db.Collection(collAPIKeys).Find(ctx, bson.M{})
	if errFind != nil {
		return nil, fmt.Errorf("storage: list all api keys: %w", errFind)
	}
	var docs []mongoAPIKey
	if errAll := cursor.All(ctx, &docs); errAll != nil {
		return nil, fmt.Errorf("storage: list all api keys: %w", errAll)
	}

	out := make([]models.APIKey, 0, len(docs))
	for _, doc := range docs {
		out = append(out, doc.toModel())
	}
	return out, nil
}

// DeleteAPIKey removes the key by id.
func (s *MongoStore) DeleteAPIKey(ctx context.Context, id string) error {
	oid, errParse := primitive.ObjectIDFromHex(id)
	if errParse != nil {
		return ErrNotFound
	}
	result, errDelete := s.db.Collection(collAPIKeys).DeleteOne(ctx, bson.M{"_id": oid})
	if errDelete != nil {
		return fmt.Errorf("storage: delete api key: %w", errDelete)
	}
	if result.DeletedCount == 0 {
		return ErrNotFound
	}
	return nil
}

// TouchAPIKeyLastUsed stamps LastUsedAt on the key with the given hash.
func (s *MongoStore) TouchAPIKeyLastUsed(ctx context.Context, keyHash string) error {
	_, errUpdate := s.db.Collection(collAPIKeys).UpdateOne(ctx,
		bson.M{"keyHash": keyHash}, bson.M{"$set": bson.M{"lastUsedAt": time.Now().UTC()}})
	if errUpdate != nil {
		return fmt.Errorf("storage: touch api key: %w", errUpdate)
	}
	return nil
}

// Close disconnects the client.
func (s *MongoStore) Close(ctx context.Context) error {
	if s.client == nil {
		return nil
	}
	return s.client.Disconnect(ctx)
}

func translateMongoError(err error, op string) error {
	if errors.Is(err, mongo.ErrNoDocuments) {
		return ErrNotFound
	}
	return fmt.Errorf("storage: %s: %w", op, err)
}
