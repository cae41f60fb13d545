// Package connection lets admins manage a group's filters from a private
// chat with the bot.
package connection

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	"filterbot/internal/domain"
)

const (
	msgConnectUsage = "Give me the id of the chat to connect to: /connect <chat_id>"
	msgInvalidChat  = "Invalid chat id!"
	msgNotAdmin     = "You must be an admin of that chat to connect."
	msgNotConnected = "You aren't connected to any chat."
	msgDisconnected = "Disconnected from chat!"
	msgPrivateOnly  = "Use this command in a private chat with me."
)

const helpText = ` - /connect <chat_id>: manage a group's filters from this private chat (admins only). In a group, /connect links you to that group.
 - /disconnect: stop managing the connected chat.
 - /connection: show the chat you are connected to.`

// Store persists user -> chat connections.
type Store interface {
	Connect(ctx context.Context, userID, chatID int64) error
	Disconnect(ctx context.Context, userID int64) (bool, error)
	ResolveTargetChat(ctx context.Context, userID int64) (int64, bool, error)
}

// Config wires the module.
type Config struct {
	Store       Store
	Transport   domain.Transport
	Permissions domain.Permissions
	Directory   domain.ChatDirectory // optional
	BotUsername string
	Logger      *slog.Logger
}

// Module handles /connect, /disconnect and /connection.
type Module struct {
	store       Store
	transport   domain.Transport
	perms       domain.Permissions
	directory   domain.ChatDirectory
	botUsername string
	logger      *slog.Logger
}

func New(cfg Config) (*Module, error) {
	if cfg.Store == nil || cfg.Transport == nil || cfg.Permissions == nil {
		return nil, errors.New("connection: store, transport and permissions are required")
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Module{
		store:       cfg.Store,
		transport:   cfg.Transport,
		perms:       cfg.Permissions,
		directory:   cfg.Directory,
		botUsername: cfg.BotUsername,
		logger:      cfg.Logger,
	}, nil
}

func (m *Module) Name() string { return "connections" }

func (m *Module) Help() string { return helpText }

func (m *Module) HandleMessage(ctx context.Context, msg domain.InboundMessage) (domain.Result, error) {
	cmd := domain.ParseCommand(msg.Text)
	if cmd == nil || (cmd.Mention != "" && m.botUsername != "" && !strings.EqualFold(cmd.Mention, m.botUsername)) {
		return domain.Pass, nil
	}

	var err error
	switch cmd.Name {
	case "connect":
		err = m.connect(ctx, msg, cmd)
	case "disconnect":
		err = m.disconnect(ctx, msg)
	case "connection":
		err = m.show(ctx, msg)
	default:
		return domain.Pass, nil
	}
	if err != nil {
		return domain.Handled, fmt.Errorf("/%s: %w", cmd.Name, err)
	}
	return domain.Handled, nil
}

func (m *Module) connect(ctx context.Context, msg domain.InboundMessage, cmd *domain.Command) error {
	var chatID int64
	switch {
	case !msg.IsPrivate():
		chatID = msg.ChatID
	case len(cmd.Fields()) == 0:
		return m.answer(ctx, msg, msgConnectUsage, false)
	default:
		id, err := strconv.ParseInt(cmd.Fields()[0], 10, 64)
		if err != nil || id == msg.ChatID {
			return m.answer(ctx, msg, msgInvalidChat, false)
		}
		chatID = id
	}

	ok, err := m.perms.IsAdmin(ctx, chatID, msg.SenderID)
	if err != nil {
		m.logger.Debug("admin check failed", "chat_id", chatID, "user_id", msg.SenderID, "err", err)
		return m.answer(ctx, msg, msgInvalidChat, false)
	}
	if !ok {
		return m.answer(ctx, msg, msgNotAdmin, false)
	}

	if err := m.store.Connect(ctx, msg.SenderID, chatID); err != nil {
		return fmt.Errorf("store connection: %w", err)
	}
	m.logger.Info("user connected", "user_id", msg.SenderID, "chat_id", chatID)
	return m.answer(ctx, msg, fmt.Sprintf("Successfully connected to *%s*!", escape(m.title(ctx, chatID, msg))), true)
}

func (m *Module) disconnect(ctx context.Context, msg domain.InboundMessage) error {
	if !msg.IsPrivate() {
		return m.answer(ctx, msg, msgPrivateOnly, false)
	}
	removed, err := m.store.Disconnect(ctx, msg.SenderID)
	if err != nil {
		return fmt.Errorf("remove connection: %w", err)
	}
	if !removed {
		return m.answer(ctx, msg, msgNotConnected, false)
	}
	m.logger.Info("user disconnected", "user_id", msg.SenderID)
	return m.answer(ctx, msg, msgDisconnected, false)
}

func (m *Module) show(ctx context.Context, msg domain.InboundMessage) error {
	chatID, ok, err := m.store.ResolveTargetChat(ctx, msg.SenderID)
	if err != nil {
		return fmt.Errorf("resolve connection: %w", err)
	}
	if !ok {
		return m.answer(ctx, msg, msgNotConnected, false)
	}
	return m.answer(ctx, msg, fmt.Sprintf("You are connected to *%s*.", escape(m.title(ctx, chatID, msg))), true)
}

func (m *Module) title(ctx context.Context, chatID int64, msg domain.InboundMessage) string {
	if chatID == msg.ChatID && msg.ChatTitle != "" {
		return msg.ChatTitle
	}
	if m.directory != nil {
		if title, err := m.directory.ChatTitle(ctx, chatID); err == nil && title != "" {
			return title
		}
	}
	return strconv.FormatInt(chatID, 10)
}

func (m *Module) answer(ctx context.Context, msg domain.InboundMessage, text string, markdown bool) error {
	if err := m.transport.SendText(ctx, msg.ChatID, text, domain.SendOptions{ReplyTo: msg.MessageID, Markdown: markdown}); err != nil {
		return fmt.Errorf("send reply: %w", err)
	}
	return nil
}

var markdownEscaper = strings.NewReplacer("_", `\_`, "*", `\*`, "`", "\\`", "[", `\[`)

func escape(s string) string { return markdownEscaper.Replace(s) }
