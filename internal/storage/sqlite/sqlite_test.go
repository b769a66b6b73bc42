package sqlite

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fenggwsx/SlashHub/internal/config"
	"github.com/fenggwsx/SlashHub/internal/storage"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := NewStore(config.DatabaseConfig{Path: filepath.Join(t.TempDir(), "hub.db")})
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	require.NoError(t, s.Migrate(context.Background()))
	return s
}

func TestUsersAndPresence(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	user := &storage.User{Username: "alice", Password: "hash"}
	require.NoError(t, s.CreateUser(ctx, user))
	require.NotEmpty(t, user.ID)

	byName, err := s.GetUserByUsername(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, user.ID, byName.ID)
	assert.Equal(t, storage.StatusOffline, byName.Status)

	seen := time.Now().UTC().Truncate(time.Second)
	require.NoError(t, s.UpdateUserPresence(ctx, user.ID, storage.StatusOnline, seen))

	loaded, err := s.LoadUser(ctx, user.ID)
	require.NoError(t, err)
	assert.Equal(t, storage.StatusOnline, loaded.Status)
	assert.WithinDuration(t, seen, loaded.LastSeenAt, time.Second)

	_, err = s.LoadUser(ctx, "nobody")
	assert.ErrorIs(t, err, storage.ErrNotFound)
	assert.ErrorIs(t, s.UpdateUserPresence(ctx, "nobody", storage.StatusOnline, seen), storage.ErrNotFound)
}

func TestChatMembership(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	older := &storage.Chat{Type: storage.ChatGroup, Name: "team", Participants: []string{"a", "b", "c"}, Admins: []string{"a"}, CreatedAt: time.Unix(100, 0).UTC()}
	newer := &storage.Chat{Type: storage.ChatPrivate, Participants: []string{"a", "d"}, CreatedAt: time.Unix(200, 0).UTC()}
	unrelated := &storage.Chat{Type: storage.ChatPrivate, Participants: []string{"b", "d"}}
	require.NoError(t, s.CreateChat(ctx, newer))
	require.NoError(t, s.CreateChat(ctx, older))
	require.NoError(t, s.CreateChat(ctx, unrelated))

	chats, err := s.LoadChatsForUser(ctx, "a")
	require.NoError(t, err)
	require.Len(t, chats, 2)
	assert.Equal(t, older.ID, chats[0].ChatID)
	assert.Equal(t, []string{"a", "b", "c"}, chats[0].Participants)
	assert.Equal(t, newer.ID, chats[1].ChatID)

	chat, err := s.LoadChat(ctx, older.ID)
	require.NoError(t, err)
	assert.Equal(t, "team", chat.Name)
	assert.Equal(t, []string{"a"}, chat.Admins)

	ok, err := s.IsParticipant(ctx, older.ID, "c")
	require.NoError(t, err)
	assert.True(t, ok)
	ok, err = s.IsParticipant(ctx, newer.ID, "c")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, s.UpdateChatLastMessage(ctx, newer.ID, "m1"))
	chat, err = s.LoadChat(ctx, newer.ID)
	require.NoError(t, err)
	assert.Equal(t, "m1", chat.LastMessageID)
	assert.ErrorIs(t, s.UpdateChatLastMessage(ctx, "missing", "m1"), storage.ErrNotFound)
}

func TestMessageLifecycle(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	msg := &storage.Message{
		ChatID:         "c1",
		SenderID:       "a",
		Content:        storage.Content{Text: "hi @bob", Mentions: []storage.Mention{{Username: "bob", Index: 3}}},
		Attachments:    []storage.Attachment{{Type: "image", URL: "https://cdn.test/x.png"}},
		DeliveryStatus: storage.DeliverySent,
	}
	require.NoError(t, s.PersistMessage(ctx, msg))
	require.NotEmpty(t, msg.ID)

	loaded, err := s.LoadMessage(ctx, msg.ID)
	require.NoError(t, err)
	assert.Equal(t, "hi @bob", loaded.Content.Text)
	assert.Equal(t, msg.Content.Mentions, loaded.Content.Mentions)
	assert.Equal(t, msg.Attachments, loaded.Attachments)

	loaded.Reactions = []storage.Reaction{{UserID: "b", Emoji: "👍"}}
	loaded.ReadBy = []storage.Receipt{{UserID: "b", ReadAt: time.Now().UTC()}}
	loaded.DeliveryStatus = storage.DeliveryRead
	require.NoError(t, s.SaveMessage(ctx, loaded))

	again, err := s.LoadMessage(ctx, msg.ID)
	require.NoError(t, err)
	assert.Equal(t, storage.DeliveryRead, again.DeliveryStatus)
	assert.Equal(t, loaded.Reactions, again.Reactions)
	require.Len(t, again.ReadBy, 1)
	assert.Equal(t, "b", again.ReadBy[0].UserID)

	_, err = s.LoadMessage(ctx, "missing")
	assert.ErrorIs(t, err, storage.ErrNotFound)
	assert.ErrorIs(t, s.SaveMessage(ctx, &storage.Message{ID: "missing"}), storage.ErrNotFound)
}

func TestListMessages(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	base := time.Unix(5000, 0).UTC()
	for i := 0; i < 4; i++ {
		require.NoError(t, s.PersistMessage(ctx, &storage.Message{
			ChatID:    "c1",
			Content:   storage.Content{Text: string(rune('a' + i))},
			CreatedAt: base.Add(time.Duration(i) * time.Minute),
		}))
	}

	page, err := s.ListMessages(ctx, "c1", time.Time{}, 3)
	require.NoError(t, err)
	require.Len(t, page, 3)
	assert.Equal(t, []string{"b", "c", "d"}, []string{page[0].Content.Text, page[1].Content.Text, page[2].Content.Text})

	page, err = s.ListMessages(ctx, "c1", base.Add(time.Minute), 10)
	require.NoError(t, err)
	require.Len(t, page, 1)
	assert.Equal(t, "a", page[0].Content.Text)
}

func TestListMessagesCursorInOtherZone(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	at := time.Date(2026, 4, 1, 9, 0, 0, 0, time.UTC)
	require.NoError(t, s.PersistMessage(ctx, &storage.Message{ChatID: "c1", Content: storage.Content{Text: "early"}, CreatedAt: at}))
	require.NoError(t, s.PersistMessage(ctx, &storage.Message{ChatID: "c1", Content: storage.Content{Text: "late"}, CreatedAt: at.Add(2 * time.Hour)}))

	// 05:00 at -05:00 is 10:00 UTC.
	cursor := time.Date(2026, 4, 1, 5, 0, 0, 0, time.FixedZone("", -5*3600))
	page, err := s.ListMessages(ctx, "c1", cursor, 10)
	require.NoError(t, err)
	require.Len(t, page, 1)
	assert.Equal(t, "early", page[0].Content.Text)
}

func TestSaveMessageKeepsUpdatedAt(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	msg := &storage.Message{ChatID: "c1", Content: storage.Content{Text: "hi"}, CreatedAt: time.Unix(5000, 0).UTC()}
	require.NoError(t, s.PersistMessage(ctx, msg))

	edited := time.Date(2026, 4, 1, 9, 30, 0, 0, time.UTC)
	msg.Content.Text = "hello"
	msg.UpdatedAt = edited
	require.NoError(t, s.SaveMessage(ctx, msg))

	loaded, err := s.LoadMessage(ctx, msg.ID)
	require.NoError(t, err)
	assert.True(t, edited.Equal(loaded.UpdatedAt), "got %s", loaded.UpdatedAt)
}
