package mongo

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.uber.org/zap"

	"github.com/fenggwsx/SlashHub/internal/config"
	"github.com/fenggwsx/SlashHub/internal/storage"
)

const (
	usersCollection    = "users"
	chatsCollection    = "chats"
	messagesCollection = "messages"

	connectTimeout = 10 * time.Second
)

// Store is a MongoDB implementation of storage.Store.
type Store struct {
	db     *mongo.Database
	logger *zap.Logger
}

type userDoc struct {
	ID         string    `bson:"_id"`
	Username   string    `bson:"username"`
	Password   string    `bson:"password"`
	Status     string    `bson:"status"`
	LastSeenAt time.Time `bson:"last_seen_at"`
	CreatedAt  time.Time `bson:"created_at"`
	UpdatedAt  time.Time `bson:"updated_at"`
}

type chatDoc struct {
	ID            string    `bson:"_id"`
	Type          string    `bson:"type"`
	Name          string    `bson:"name,omitempty"`
	Participants  []string  `bson:"participants"`
	Admins        []string  `bson:"admins"`
	LastMessageID string    `bson:"last_message_id,omitempty"`
	CreatedAt     time.Time `bson:"created_at"`
	UpdatedAt     time.Time `bson:"updated_at"`
}

type messageDoc struct {
	ID             string               `bson:"_id"`
	ChatID         string               `bson:"chat_id"`
	SenderID       string               `bson:"sender_id"`
	Text           string               `bson:"text"`
	Mentions       []storage.Mention    `bson:"mentions"`
	Attachments    []storage.Attachment `bson:"attachments"`
	ReplyTo        string               `bson:"reply_to,omitempty"`
	IsEdited       bool                 `bson:"is_edited"`
	EditHistory    []storage.Edit       `bson:"edit_history"`
	IsDeleted      bool                 `bson:"is_deleted"`
	DeliveryStatus string               `bson:"delivery_status"`
	Reactions      []storage.Reaction   `bson:"reactions"`
	ReadBy         []storage.Receipt    `bson:"read_by"`
	CreatedAt      time.Time            `bson:"created_at"`
	UpdatedAt      time.Time            `bson:"updated_at"`
}

// NewStore connects to MongoDB and pings the server before returning.
func NewStore(ctx context.Context, cfg config.MongoConfig, logger *zap.Logger) (*Store, error) {
	ctx, cancel := context.WithTimeout(ctx, connectTimeout)
	defer cancel()

	client, err := mongo.Connect(ctx, options.Client().ApplyURI(cfg.URI))
	if err != nil {
		return nil, fmt.Errorf("connect mongo: %w", err)
	}
	if err := client.Ping(ctx, nil); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("ping mongo: %w", err)
	}
	return &Store{db: client.Database(cfg.Database), logger: logger}, nil
}

// Close disconnects the client pool.
func (s *Store) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), connectTimeout)
	defer cancel()
	return s.db.Client().Disconnect(ctx)
}

// Migrate ensures the indexes the hub queries rely on.
func (s *Store) Migrate(ctx context.Context) error {
	indexes := map[string][]mongo.IndexModel{
		usersCollection: {
			{Keys: bson.D{{Key: "username", Value: 1}}, Options: options.Index().SetUnique(true)},
		},
		chatsCollection: {
			{Keys: bson.D{{Key: "participants", Value: 1}, {Key: "created_at", Value: 1}}},
		},
		messagesCollection: {
			{Keys: bson.D{{Key: "chat_id", Value: 1}, {Key: "created_at", Value: -1}}},
		},
	}
	for name, models := range indexes {
		if _, err := s.db.Collection(name).Indexes().CreateMany(ctx, models); err != nil {
			return fmt.Errorf("create %s indexes: %w", name, err)
		}
	}
	return nil
}

// CreateUser stores a new user record.
func (s *Store) CreateUser(ctx context.Context, user *storage.User) error {
	if user == nil {
		return errors.New("nil user")
	}
	if user.ID == "" {
		user.ID = uuid.NewString()
	}
	if user.Status == "" {
		user.Status = storage.StatusOffline
	}
	doc := userDoc{
		ID:         user.ID,
		Username:   user.Username,
		Password:   user.Password,
		Status:     user.Status,
		LastSeenAt: user.LastSeenAt,
		CreatedAt:  user.CreatedAt,
		UpdatedAt:  user.UpdatedAt,
	}
	_, err := s.db.Collection(usersCollection).InsertOne(ctx, doc)
	return err
}

// GetUserByUsername retrieves a user by username.
func (s *Store) GetUserByUsername(ctx context.Context, username string) (*storage.User, error) {
	return s.findUser(ctx, bson.M{"username": username})
}

// LoadUser retrieves a user by id.
func (s *Store) LoadUser(ctx context.Context, userID string) (*storage.User, error) {
	return s.findUser(ctx, bson.M{"_id": userID})
}

func (s *Store) findUser(ctx context.Context, filter bson.M) (*storage.User, error) {
	var doc userDoc
	if err := s.db.Collection(usersCollection).FindOne(ctx, filter).Decode(&doc); err != nil {
		return nil, translate(err)
	}
	return &storage.User{
		ID:         doc.ID,
		Username:   doc.Username,
		Password:   doc.Password,
		Status:     doc.Status,
		LastSeenAt: doc.LastSeenAt,
		CreatedAt:  doc.CreatedAt,
		UpdatedAt:  doc.UpdatedAt,
	}, nil
}

// UpdateUserPresence records status and last-seen time.
func (s *Store) UpdateUserPresence(ctx context.Context, userID, status string, lastSeenAt time.Time) error {
	res, err := s.db.Collection(usersCollection).UpdateByID(ctx, userID, bson.M{"$set": bson.M{
		"status":       status,
		"last_seen_at": lastSeenAt,
		"updated_at":   lastSeenAt,
	}})
	if err != nil {
		return err
	}
	if res.MatchedCount == 0 {
		return storage.ErrNotFound
	}
	return nil
}

// CreateChat stores a chat document.
func (s *Store) CreateChat(ctx context.Context, chat *storage.Chat) error {
	if chat == nil {
		return errors.New("nil chat")
	}
	if chat.ID == "" {
		chat.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	if chat.CreatedAt.IsZero() {
		chat.CreatedAt = now
	}
	if chat.UpdatedAt.IsZero() {
		chat.UpdatedAt = now
	}
	doc := chatDoc{
		ID:            chat.ID,
		Type:          chat.Type,
		Name:          chat.Name,
		Participants:  chat.Participants,
		Admins:        chat.Admins,
		LastMessageID: chat.LastMessageID,
		CreatedAt:     chat.CreatedAt,
		UpdatedAt:     chat.UpdatedAt,
	}
	_, err := s.db.Collection(chatsCollection).InsertOne(ctx, doc)
	return err
}

// LoadChat retrieves a chat by id.
func (s *Store) LoadChat(ctx context.Context, chatID string) (*storage.Chat, error) {
	var doc chatDoc
	if err := s.db.Collection(chatsCollection).FindOne(ctx, bson.M{"_id": chatID}).Decode(&doc); err != nil {
		return nil, translate(err)
	}
	return doc.toChat(), nil
}

// LoadChatsForUser lists every chat containing userID, oldest first.
func (s *Store) LoadChatsForUser(ctx context.Context, userID string) ([]storage.ChatMembership, error) {
	opts := options.Find().
		SetSort(bson.D{{Key: "created_at", Value: 1}, {Key: "_id", Value: 1}}).
		SetProjection(bson.M{"participants": 1})
	cursor, err := s.db.Collection(chatsCollection).Find(ctx, bson.M{"participants": userID}, opts)
	if err != nil {
		return nil, err
	}
	defer cursor.Close(ctx)

	var docs []chatDoc
	if err := cursor.All(ctx, &docs); err != nil {
		return nil, err
	}
	out := make([]storage.ChatMembership, 0, len(docs))
	for _, doc := range docs {
		out = append(out, storage.ChatMembership{ChatID: doc.ID, Participants: doc.Participants})
	}
	s.logger.Debug("chats loaded for user", zap.String("user_id", userID), zap.Int("count", len(out)))
	return out, nil
}

// IsParticipant reports whether userID belongs to chatID.
func (s *Store) IsParticipant(ctx context.Context, chatID, userID string) (bool, error) {
	count, err := s.db.Collection(chatsCollection).CountDocuments(ctx, bson.M{"_id": chatID, "participants": userID})
	if err != nil {
		return false, err
	}
	return count > 0, nil
}

// UpdateChatLastMessage points the chat at its newest message.
func (s *Store) UpdateChatLastMessage(ctx context.Context, chatID, messageID string) error {
	res, err := s.db.Collection(chatsCollection).UpdateByID(ctx, chatID, bson.M{"$set": bson.M{
		"last_message_id": messageID,
		"updated_at":      time.Now().UTC(),
	}})
	if err != nil {
		return err
	}
	if res.MatchedCount == 0 {
		return storage.ErrNotFound
	}
	return nil
}

// PersistMessage inserts a new message and assigns its id.
func (s *Store) PersistMessage(ctx context.Context, msg *storage.Message) error {
	if msg == nil {
		return errors.New("nil message")
	}
	msg.ID = uuid.NewString()
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = time.Now()
	}
	msg.CreatedAt = msg.CreatedAt.UTC()
	if msg.UpdatedAt.IsZero() {
		msg.UpdatedAt = msg.CreatedAt
	}
	_, err := s.db.Collection(messagesCollection).InsertOne(ctx, fromMessage(msg))
	return err
}

// LoadMessage retrieves a message by id.
func (s *Store) LoadMessage(ctx context.Context, messageID string) (*storage.Message, error) {
	var doc messageDoc
	if err := s.db.Collection(messagesCollection).FindOne(ctx, bson.M{"_id": messageID}).Decode(&doc); err != nil {
		return nil, translate(err)
	}
	return doc.toMessage(), nil
}

// SaveMessage replaces the stored document of an existing message.
func (s *Store) SaveMessage(ctx context.Context, msg *storage.Message) error {
	if msg == nil {
		return errors.New("nil message")
	}
	if msg.UpdatedAt.IsZero() {
		msg.UpdatedAt = time.Now().UTC()
	}
	res, err := s.db.Collection(messagesCollection).ReplaceOne(ctx, bson.M{"_id": msg.ID}, fromMessage(msg))
	if err != nil {
		return err
	}
	if res.MatchedCount == 0 {
		return storage.ErrNotFound
	}
	return nil
}

// ListMessages returns up to limit messages of chatID created before the
// cursor, in chronological order. A zero cursor means "now".
func (s *Store) ListMessages(ctx context.Context, chatID string, before time.Time, limit int) ([]storage.Message, error) {
	if limit <= 0 {
		return nil, nil
	}
	filter := bson.M{"chat_id": chatID}
	if !before.IsZero() {
		filter["created_at"] = bson.M{"$lt": before}
	}
	opts := options.Find().SetSort(bson.D{{Key: "created_at", Value: -1}}).SetLimit(int64(limit))
	cursor, err := s.db.Collection(messagesCollection).Find(ctx, filter, opts)
	if err != nil {
		return nil, err
	}
	defer cursor.Close(ctx)

	var docs []messageDoc
	if err := cursor.All(ctx, &docs); err != nil {
		return nil, err
	}
	out := make([]storage.Message, len(docs))
	for i, doc := range docs {
		out[len(docs)-1-i] = *doc.toMessage()
	}
	return out, nil
}

func translate(err error) error {
	if errors.Is(err, mongo.ErrNoDocuments) {
		return fmt.Errorf("%w: %v", storage.ErrNotFound, err)
	}
	return err
}

func (d chatDoc) toChat() *storage.Chat {
	return &storage.Chat{
		ID:            d.ID,
		Type:          d.Type,
		Name:          d.Name,
		Participants:  d.Participants,
		Admins:        d.Admins,
		LastMessageID: d.LastMessageID,
		CreatedAt:     d.CreatedAt,
		UpdatedAt:     d.UpdatedAt,
	}
}

func fromMessage(msg *storage.Message) messageDoc {
	return messageDoc{
		ID:             msg.ID,
		ChatID:         msg.ChatID,
		SenderID:       msg.SenderID,
		Text:           msg.Content.Text,
		Mentions:       msg.Content.Mentions,
		Attachments:    msg.Attachments,
		ReplyTo:        msg.ReplyTo,
		IsEdited:       msg.IsEdited,
		EditHistory:    msg.EditHistory,
		IsDeleted:      msg.IsDeleted,
		DeliveryStatus: msg.DeliveryStatus,
		Reactions:      msg.Reactions,
		ReadBy:         msg.ReadBy,
		CreatedAt:      msg.CreatedAt,
		UpdatedAt:      msg.UpdatedAt,
	}
}

func (d messageDoc) toMessage() *storage.Message {
	return &storage.Message{
		ID:             d.ID,
		ChatID:         d.ChatID,
		SenderID:       d.SenderID,
		Content:        storage.Content{Text: d.Text, Mentions: d.Mentions},
		Attachments:    d.Attachments,
		ReplyTo:        d.ReplyTo,
		IsEdited:       d.IsEdited,
		EditHistory:    d.EditHistory,
		IsDeleted:      d.IsDeleted,
		DeliveryStatus: d.DeliveryStatus,
		Reactions:      d.Reactions,
		ReadBy:         d.ReadBy,
		CreatedAt:      d.CreatedAt,
		UpdatedAt:      d.UpdatedAt,
	}
}

var _ storage.Store = (*Store)(nil)
