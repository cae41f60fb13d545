package connection

import (
	"context"
	"io"
	"log/slog"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"filterbot/internal/domain"
	"filterbot/internal/store"
)

const (
	groupID = int64(-1001)
	adminID = int64(10)
	userID  = int64(20)
)

type replies struct {
	domain.Transport
	texts []string
}

func (r *replies) SendText(_ context.Context, _ int64, text string, _ domain.SendOptions) error {
	r.texts = append(r.texts, text)
	return nil
}

func (r *replies) last() string {
	if len(r.texts) == 0 {
		return ""
	}
	return r.texts[len(r.texts)-1]
}

type admins map[int64]bool

func (a admins) IsAdmin(_ context.Context, chatID, userID int64) (bool, error) {
	return chatID == groupID && a[userID], nil
}

func (a admins) IsCreator(context.Context, int64, int64) (bool, error) { return false, nil }

type titles map[int64]string

func (t titles) ChatTitle(_ context.Context, chatID int64) (string, error) {
	if title, ok := t[chatID]; ok {
		return title, nil
	}
	return "", domain.ErrNotFound
}

func newModule(t *testing.T) (*Module, *store.SQLiteStore, *replies) {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	s, err := store.NewSQLiteStore(filepath.Join(t.TempDir(), "conn.db"), logger)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })

	r := &replies{}
	m, err := New(Config{
		Store:       s,
		Transport:   r,
		Permissions: admins{adminID: true},
		Directory:   titles{groupID: "Group"},
		Logger:      logger,
	})
	require.NoError(t, err)
	return m, s, r
}

func private(sender int64, text string) domain.InboundMessage {
	return domain.InboundMessage{ChatID: sender, ChatType: domain.ChatPrivate, SenderID: sender, MessageID: 1, Text: text}
}

func handle(t *testing.T, m *Module, msg domain.InboundMessage) domain.Result {
	t.Helper()
	res, err := m.HandleMessage(context.Background(), msg)
	require.NoError(t, err)
	return res
}

func TestConnectFromPrivateChat(t *testing.T) {
	m, s, r := newModule(t)

	res := handle(t, m, private(adminID, "/connect -1001"))
	assert.True(t, res.Handled)
	assert.Equal(t, "Successfully connected to *Group*!", r.last())

	chatID, ok, err := s.ResolveTargetChat(context.Background(), adminID)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, groupID, chatID)

	handle(t, m, private(adminID, "/connection"))
	assert.Equal(t, "You are connected to *Group*.", r.last())

	handle(t, m, private(adminID, "/disconnect"))
	assert.Equal(t, msgDisconnected, r.last())
	handle(t, m, private(adminID, "/disconnect"))
	assert.Equal(t, msgNotConnected, r.last())
}

func TestConnectRejections(t *testing.T) {
	m, s, r := newModule(t)

	handle(t, m, private(adminID, "/connect"))
	assert.Equal(t, msgConnectUsage, r.last())

	handle(t, m, private(adminID, "/connect abc"))
	assert.Equal(t, msgInvalidChat, r.last())

	handle(t, m, private(userID, "/connect -1001"))
	assert.Equal(t, msgNotAdmin, r.last())

	_, ok, err := s.ResolveTargetChat(context.Background(), userID)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestConnectInGroup(t *testing.T) {
	m, s, r := newModule(t)
	msg := domain.InboundMessage{ChatID: groupID, ChatType: domain.ChatSupergroup, ChatTitle: "Group", SenderID: adminID, MessageID: 4, Text: "/connect"}

	handle(t, m, msg)
	assert.Equal(t, "Successfully connected to *Group*!", r.last())
	chatID, ok, err := s.ResolveTargetChat(context.Background(), adminID)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, groupID, chatID)
}

func TestIgnoresOtherMessages(t *testing.T) {
	m, _, r := newModule(t)
	assert.False(t, handle(t, m, private(adminID, "hello")).Handled)
	assert.False(t, handle(t, m, private(adminID, "/filters")).Handled)
	assert.Empty(t, r.texts)
}
