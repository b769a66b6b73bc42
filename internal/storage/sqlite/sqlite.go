package sqlite

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/fenggwsx/SlashHub/internal/config"
	"github.com/fenggwsx/SlashHub/internal/storage"
)

// Store is a GORM-backed SQLite implementation of storage.Store.
type Store struct {
	db *gorm.DB
}

type userModel struct {
	ID         string `gorm:"primaryKey"`
	Username   string `gorm:"uniqueIndex"`
	Password   string
	Status     string
	LastSeenAt time.Time
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

func (userModel) TableName() string { return "users" }

type chatModel struct {
	ID            string `gorm:"primaryKey"`
	Type          string
	Name          string
	LastMessageID string
	Members       []chatMemberModel `gorm:"foreignKey:ChatID"`
	CreatedAt     time.Time         `gorm:"index"`
	UpdatedAt     time.Time
}

func (chatModel) TableName() string { return "chats" }

type chatMemberModel struct {
	ChatID   string `gorm:"primaryKey"`
	UserID   string `gorm:"primaryKey;index"`
	IsAdmin  bool
	Position int
}

func (chatMemberModel) TableName() string { return "chat_members" }

type messageModel struct {
	ID             string `gorm:"primaryKey"`
	ChatID         string `gorm:"index:idx_messages_chat_created,priority:1"`
	SenderID       string
	Text           string
	Mentions       []storage.Mention    `gorm:"serializer:json"`
	Attachments    []storage.Attachment `gorm:"serializer:json"`
	ReplyTo        string
	IsEdited       bool
	EditHistory    []storage.Edit `gorm:"serializer:json"`
	IsDeleted      bool
	DeliveryStatus string
	Reactions      []storage.Reaction `gorm:"serializer:json"`
	ReadBy         []storage.Receipt  `gorm:"serializer:json"`
	CreatedAt      time.Time          `gorm:"index:idx_messages_chat_created,priority:2"`
	UpdatedAt      time.Time
}

func (messageModel) TableName() string { return "messages" }

// NewStore opens a SQLite database at the provided path.
func NewStore(cfg config.DatabaseConfig) (*Store, error) {
	db, err := gorm.Open(sqlite.Open(cfg.Path), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, err
	}
	return &Store{db: db}, nil
}

// Close releases the underlying database connection.
func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// Migrate applies schema updates.
func (s *Store) Migrate(ctx context.Context) error {
	return s.db.WithContext(ctx).AutoMigrate(&userModel{}, &chatModel{}, &chatMemberModel{}, &messageModel{})
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
	model := userModel{
		ID:         user.ID,
		Username:   user.Username,
		Password:   user.Password,
		Status:     user.Status,
		LastSeenAt: user.LastSeenAt,
		CreatedAt:  user.CreatedAt,
		UpdatedAt:  user.UpdatedAt,
	}
	return s.db.WithContext(ctx).Create(&model).Error
}

// GetUserByUsername retrieves a user by username.
func (s *Store) GetUserByUsername(ctx context.Context, username string) (*storage.User, error) {
	var model userModel
	if err := s.db.WithContext(ctx).Where("username = ?", username).First(&model).Error; err != nil {
		return nil, translate(err)
	}
	return model.toUser(), nil
}

// LoadUser retrieves a user by id.
func (s *Store) LoadUser(ctx context.Context, userID string) (*storage.User, error) {
	var model userModel
	if err := s.db.WithContext(ctx).Where("id = ?", userID).First(&model).Error; err != nil {
		return nil, translate(err)
	}
	return model.toUser(), nil
}

// UpdateUserPresence records status and last-seen time.
func (s *Store) UpdateUserPresence(ctx context.Context, userID, status string, lastSeenAt time.Time) error {
	res := s.db.WithContext(ctx).Model(&userModel{}).Where("id = ?", userID).Updates(map[string]interface{}{
		"status":       status,
		"last_seen_at": lastSeenAt,
		"updated_at":   lastSeenAt,
	})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return storage.ErrNotFound
	}
	return nil
}

// CreateChat stores a chat with its member rows.
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

	admins := make(map[string]struct{}, len(chat.Admins))
	for _, id := range chat.Admins {
		admins[id] = struct{}{}
	}
	model := chatModel{
		ID:            chat.ID,
		Type:          chat.Type,
		Name:          chat.Name,
		LastMessageID: chat.LastMessageID,
		CreatedAt:     chat.CreatedAt,
		UpdatedAt:     chat.UpdatedAt,
	}
	for i, id := range chat.Participants {
		_, admin := admins[id]
		model.Members = append(model.Members, chatMemberModel{ChatID: chat.ID, UserID: id, IsAdmin: admin, Position: i})
	}
	return s.db.WithContext(ctx).Create(&model).Error
}

// LoadChat retrieves a chat by id.
func (s *Store) LoadChat(ctx context.Context, chatID string) (*storage.Chat, error) {
	var model chatModel
	err := s.db.WithContext(ctx).Preload("Members", orderByPosition).Where("id = ?", chatID).First(&model).Error
	if err != nil {
		return nil, translate(err)
	}
	return model.toChat(), nil
}

// LoadChatsForUser lists every chat containing userID, oldest first.
func (s *Store) LoadChatsForUser(ctx context.Context, userID string) ([]storage.ChatMembership, error) {
	var models []chatModel
	err := s.db.WithContext(ctx).
		Joins("JOIN chat_members ON chat_members.chat_id = chats.id AND chat_members.user_id = ?", userID).
		Preload("Members", orderByPosition).
		Order("chats.created_at, chats.id").
		Find(&models).Error
	if err != nil {
		return nil, err
	}
	out := make([]storage.ChatMembership, 0, len(models))
	for _, model := range models {
		chat := model.toChat()
		out = append(out, storage.ChatMembership{ChatID: chat.ID, Participants: chat.Participants})
	}
	return out, nil
}

// IsParticipant reports whether userID belongs to chatID.
func (s *Store) IsParticipant(ctx context.Context, chatID, userID string) (bool, error) {
	var count int64
	err := s.db.WithContext(ctx).Model(&chatMemberModel{}).
		Where("chat_id = ? AND user_id = ?", chatID, userID).
		Count(&count).Error
	if err != nil {
		return false, err
	}
	return count > 0, nil
}

// UpdateChatLastMessage points the chat at its newest message.
func (s *Store) UpdateChatLastMessage(ctx context.Context, chatID, messageID string) error {
	res := s.db.WithContext(ctx).Model(&chatModel{}).Where("id = ?", chatID).Updates(map[string]interface{}{
		"last_message_id": messageID,
		"updated_at":      time.Now().UTC(),
	})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
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
	model := fromMessage(msg)
	return s.db.WithContext(ctx).Create(&model).Error
}

// LoadMessage retrieves a message by id.
func (s *Store) LoadMessage(ctx context.Context, messageID string) (*storage.Message, error) {
	var model messageModel
	if err := s.db.WithContext(ctx).Where("id = ?", messageID).First(&model).Error; err != nil {
		return nil, translate(err)
	}
	return model.toMessage(), nil
}

// SaveMessage overwrites the mutable fields of an existing message.
func (s *Store) SaveMessage(ctx context.Context, msg *storage.Message) error {
	if msg == nil {
		return errors.New("nil message")
	}
	if msg.UpdatedAt.IsZero() {
		msg.UpdatedAt = time.Now().UTC()
	}
	model := fromMessage(msg)
	res := s.db.WithContext(ctx).Model(&messageModel{ID: msg.ID}).
		Select("*").Omit("id", "created_at").
		Updates(&model)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
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
	query := s.db.WithContext(ctx).Where("chat_id = ?", chatID)
	if !before.IsZero() {
		// Timestamps are stored as text, so the cursor must share their UTC offset.
		query = query.Where("created_at < ?", before.UTC())
	}
	var models []messageModel
	if err := query.Order("created_at DESC").Limit(limit).Find(&models).Error; err != nil {
		return nil, err
	}
	out := make([]storage.Message, len(models))
	for i, model := range models {
		out[len(models)-1-i] = *model.toMessage()
	}
	return out, nil
}

func orderByPosition(db *gorm.DB) *gorm.DB {
	return db.Order("position")
}

func translate(err error) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return fmt.Errorf("%w: %v", storage.ErrNotFound, err)
	}
	return err
}

func (m userModel) toUser() *storage.User {
	return &storage.User{
		ID:         m.ID,
		Username:   m.Username,
		Password:   m.Password,
		Status:     m.Status,
		LastSeenAt: m.LastSeenAt,
		CreatedAt:  m.CreatedAt,
		UpdatedAt:  m.UpdatedAt,
	}
}

func (m chatModel) toChat() *storage.Chat {
	chat := &storage.Chat{
		ID:            m.ID,
		Type:          m.Type,
		Name:          m.Name,
		LastMessageID: m.LastMessageID,
		CreatedAt:     m.CreatedAt,
		UpdatedAt:     m.UpdatedAt,
	}
	for _, member := range m.Members {
		chat.Participants = append(chat.Participants, member.UserID)
		if member.IsAdmin {
			chat.Admins = append(chat.Admins, member.UserID)
		}
	}
	return chat
}

func fromMessage(msg *storage.Message) messageModel {
	return messageModel{
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

func (m messageModel) toMessage() *storage.Message {
	return &storage.Message{
		ID:             m.ID,
		ChatID:         m.ChatID,
		SenderID:       m.SenderID,
		Content:        storage.Content{Text: m.Text, Mentions: m.Mentions},
		Attachments:    m.Attachments,
		ReplyTo:        m.ReplyTo,
		IsEdited:       m.IsEdited,
		EditHistory:    m.EditHistory,
		IsDeleted:      m.IsDeleted,
		DeliveryStatus: m.DeliveryStatus,
		Reactions:      m.Reactions,
		ReadBy:         m.ReadBy,
		CreatedAt:      m.CreatedAt,
		UpdatedAt:      m.UpdatedAt,
	}
}

var _ storage.Store = (*Store)(nil)
