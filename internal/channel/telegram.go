package channel

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"filterbot/internal/domain"
)

const (
	telegramPollTimeout      = 30
	defaultAdminCacheTTL     = 5 * time.Minute
	telegramChannelName      = "telegram"
	telegramDefaultParseMode = tgbotapi.ModeMarkdown
)

// botAPI is the subset of *tgbotapi.BotAPI the channel uses.
type botAPI interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
	GetChatMember(config tgbotapi.GetChatMemberConfig) (tgbotapi.ChatMember, error)
	GetChat(config tgbotapi.ChatInfoConfig) (tgbotapi.Chat, error)
}

// Telegram is the Telegram Bot API channel. Besides polling for updates it
// implements domain.Transport, domain.Permissions and domain.ChatDirectory.
type Telegram struct {
	token      string
	allowChats []int64 // empty = allow all
	parseMode  string

	api      *tgbotapi.BotAPI
	bot      botAPI
	username string
	limiter  *SendLimiter
	members  *memberCache
	logger   *slog.Logger
}

type TelegramConfig struct {
	Token         string
	AllowChats    []string // chat IDs as strings
	ParseMode     string
	AdminCacheTTL time.Duration
	Logger        *slog.Logger
}

func NewTelegram(cfg TelegramConfig) *Telegram {
	var allowed []int64
	for _, s := range cfg.AllowChats {
		if id, err := strconv.ParseInt(strings.TrimSpace(s), 10, 64); err == nil {
			allowed = append(allowed, id)
		}
	}
	if cfg.ParseMode == "" {
		cfg.ParseMode = telegramDefaultParseMode
	}
	if cfg.AdminCacheTTL <= 0 {
		cfg.AdminCacheTTL = defaultAdminCacheTTL
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Telegram{
		token:      cfg.Token,
		allowChats: allowed,
		parseMode:  cfg.ParseMode,
		limiter:    NewSendLimiter(telegramGlobalLimit, telegramChatLimit),
		members:    newMemberCache(cfg.AdminCacheTTL),
		logger:     cfg.Logger,
	}
}

func (t *Telegram) Name() string { return telegramChannelName }

// Connect authenticates with the Bot API. Start calls it when needed.
func (t *Telegram) Connect() error {
	if t.bot != nil {
		return nil
	}
	api, err := tgbotapi.NewBotAPI(t.token)
	if err != nil {
		return fmt.Errorf("telegram bot init: %w", err)
	}
	t.api = api
	t.bot = api
	t.username = api.Self.UserName
	t.logger.Info("telegram bot connected", "username", api.Self.UserName, "id", api.Self.ID)
	return nil
}

// Username is the bot's username, known after Connect.
func (t *Telegram) Username() string { return t.username }

// Start polls for updates and publishes them to bus until ctx is done.
func (t *Telegram) Start(ctx context.Context, bus domain.MessageBus) error {
	if err := t.Connect(); err != nil {
		return err
	}

	u := tgbotapi.NewUpdate(0)
	u.Timeout = telegramPollTimeout
	updates := t.api.GetUpdatesChan(u)

	t.logger.Info("telegram polling started")

	for {
		select {
		case <-ctx.Done():
			t.logger.Info("telegram channel stopping")
			t.api.StopReceivingUpdates()
			return nil
		case update, ok := <-updates:
			if !ok {
				return nil
			}
			t.handleUpdate(update, bus)
		}
	}
}

// Stop is a no-op: polling stops when Start's context is cancelled, and
// StopReceivingUpdates panics if called twice.
func (t *Telegram) Stop() error {
	return nil
}

func (t *Telegram) handleUpdate(update tgbotapi.Update, bus domain.MessageBus) {
	msg := update.Message
	if msg == nil || msg.Chat == nil {
		return
	}

	if !t.isAllowed(msg.Chat.ID) {
		t.logger.Debug("ignoring message from chat not in allow list", "chat_id", msg.Chat.ID)
		return
	}

	in := toInbound(msg)
	if in.Text == "" && in.MigrateToChatID == 0 {
		return
	}
	t.logger.Debug("telegram message received",
		"chat_id", in.ChatID, "user_id", in.SenderID, "text_len", len(in.Text))
	bus.Publish(in)
}

func (t *Telegram) isAllowed(chatID int64) bool {
	if len(t.allowChats) == 0 {
		return true
	}
	for _, id := range t.allowChats {
		if id == chatID {
			return true
		}
	}
	return false
}

// toInbound converts a Telegram message. Captions stand in for text on
// media messages.
func toInbound(m *tgbotapi.Message) domain.InboundMessage {
	in := domain.InboundMessage{
		Channel:         telegramChannelName,
		ChatID:          m.Chat.ID,
		ChatType:        domain.ChatType(m.Chat.Type),
		ChatTitle:       m.Chat.Title,
		MessageID:       m.MessageID,
		Text:            m.Text,
		Entities:        toEntities(m.Entities),
		ReplyTo:         toSource(m.ReplyToMessage),
		Timestamp:       time.Unix(int64(m.Date), 0),
		MigrateToChatID: m.MigrateToChatID,
	}
	if in.Text == "" && m.Caption != "" {
		in.Text = m.Caption
		in.Entities = toEntities(m.CaptionEntities)
	}
	if m.From != nil {
		in.SenderID = m.From.ID
	}
	return in
}

func toSource(m *tgbotapi.Message) *domain.SourceMessage {
	if m == nil {
		return nil
	}
	src := &domain.SourceMessage{
		MessageID:       m.MessageID,
		Text:            m.Text,
		Entities:        toEntities(m.Entities),
		Caption:         m.Caption,
		CaptionEntities: toEntities(m.CaptionEntities),
	}
	add := func(kind domain.Kind, fileID string) {
		if fileID != "" {
			src.Attachments = append(src.Attachments, domain.Attachment{Kind: kind, FileID: fileID})
		}
	}
	if m.Sticker != nil {
		add(domain.KindSticker, m.Sticker.FileID)
	}
	if m.Document != nil {
		add(domain.KindDocument, m.Document.FileID)
	}
	if len(m.Photo) > 0 {
		// sizes are ordered smallest first
		add(domain.KindImage, m.Photo[len(m.Photo)-1].FileID)
	}
	if m.Audio != nil {
		add(domain.KindAudio, m.Audio.FileID)
	}
	if m.Voice != nil {
		add(domain.KindVoice, m.Voice.FileID)
	}
	if m.Video != nil {
		add(domain.KindVideo, m.Video.FileID)
	}
	return src
}

func toEntities(es []tgbotapi.MessageEntity) []domain.Entity {
	if len(es) == 0 {
		return nil
	}
	out := make([]domain.Entity, len(es))
	for i, e := range es {
		out[i] = domain.Entity{Type: e.Type, Offset: e.Offset, Length: e.Length, URL: e.URL}
	}
	return out
}

func keyboard(rows [][]domain.Button) *tgbotapi.InlineKeyboardMarkup {
	if len(rows) == 0 {
		return nil
	}
	var kb [][]tgbotapi.InlineKeyboardButton
	for _, row := range rows {
		if len(row) == 0 {
			continue
		}
		var buttons []tgbotapi.InlineKeyboardButton
		for _, b := range row {
			buttons = append(buttons, tgbotapi.NewInlineKeyboardButtonURL(b.Label, b.Target))
		}
		kb = append(kb, tgbotapi.NewInlineKeyboardRow(buttons...))
	}
	if len(kb) == 0 {
		return nil
	}
	markup := tgbotapi.NewInlineKeyboardMarkup(kb...)
	return &markup
}

func (t *Telegram) SendText(ctx context.Context, chatID int64, text string, opts domain.SendOptions) error {
	msg := tgbotapi.NewMessage(chatID, text)
	if opts.Markdown {
		msg.ParseMode = t.parseMode
	}
	msg.DisableWebPagePreview = opts.DisablePreview
	msg.ReplyToMessageID = opts.ReplyTo
	if kb := keyboard(opts.Buttons); kb != nil {
		msg.ReplyMarkup = *kb
	}
	return t.send(ctx, chatID, domain.KindText, msg)
}

func (t *Telegram) SendSticker(ctx context.Context, chatID int64, fileID string, opts domain.SendOptions) error {
	cfg := tgbotapi.NewSticker(chatID, tgbotapi.FileID(fileID))
	cfg.ReplyToMessageID = opts.ReplyTo
	return t.send(ctx, chatID, domain.KindSticker, cfg)
}

func (t *Telegram) SendDocument(ctx context.Context, chatID int64, fileID string, opts domain.SendOptions) error {
	cfg := tgbotapi.NewDocument(chatID, tgbotapi.FileID(fileID))
	cfg.ReplyToMessageID = opts.ReplyTo
	return t.send(ctx, chatID, domain.KindDocument, cfg)
}

func (t *Telegram) SendPhoto(ctx context.Context, chatID int64, fileID string, opts domain.SendOptions) error {
	cfg := tgbotapi.NewPhoto(chatID, tgbotapi.FileID(fileID))
	cfg.ReplyToMessageID = opts.ReplyTo
	if kb := keyboard(opts.Buttons); kb != nil {
		cfg.ReplyMarkup = *kb
	}
	return t.send(ctx, chatID, domain.KindImage, cfg)
}

func (t *Telegram) SendAudio(ctx context.Context, chatID int64, fileID string, opts domain.SendOptions) error {
	cfg := tgbotapi.NewAudio(chatID, tgbotapi.FileID(fileID))
	cfg.ReplyToMessageID = opts.ReplyTo
	return t.send(ctx, chatID, domain.KindAudio, cfg)
}

func (t *Telegram) SendVoice(ctx context.Context, chatID int64, fileID string, opts domain.SendOptions) error {
	cfg := tgbotapi.NewVoice(chatID, tgbotapi.FileID(fileID))
	cfg.ReplyToMessageID = opts.ReplyTo
	return t.send(ctx, chatID, domain.KindVoice, cfg)
}

func (t *Telegram) SendVideo(ctx context.Context, chatID int64, fileID string, opts domain.SendOptions) error {
	cfg := tgbotapi.NewVideo(chatID, tgbotapi.FileID(fileID))
	cfg.ReplyToMessageID = opts.ReplyTo
	return t.send(ctx, chatID, domain.KindVideo, cfg)
}

// send delivers one request. Failures are not retried here; callers decide
// from the classified *domain.SendError.
func (t *Telegram) send(ctx context.Context, chatID int64, kind domain.Kind, c tgbotapi.Chattable) error {
	if t.bot == nil {
		return &domain.SendError{Kind: kind, Description: "telegram bot not connected"}
	}
	if err := t.limiter.Wait(ctx, chatID); err != nil {
		return &domain.SendError{Kind: kind, Description: err.Error()}
	}
	if _, err := t.bot.Send(c); err != nil {
		return classifySendError(kind, err)
	}
	return nil
}

// classifySendError maps Bot API failures onto the domain's send errors.
func classifySendError(kind domain.Kind, err error) *domain.SendError {
	apiErr, ok := asAPIError(err)
	if !ok {
		return &domain.SendError{Kind: kind, Description: err.Error()}
	}

	se := &domain.SendError{Kind: kind, Code: apiErr.Code, Description: apiErr.Message}
	desc := strings.ToLower(apiErr.Message)
	if apiErr.Code != 400 && !strings.HasPrefix(desc, "bad request") {
		return se
	}
	switch {
	case strings.Contains(desc, "unsupported url protocol"):
		se.Err = domain.ErrUnsupportedURLProtocol
	case strings.Contains(desc, "reply message not found"),
		strings.Contains(desc, "message to be replied not found"):
		se.Err = domain.ErrReplyNotFound
	default:
		se.Err = domain.ErrBadRequest
	}
	return se
}

// asAPIError unwraps a Bot API error, which the client returns by pointer.
func asAPIError(err error) (tgbotapi.Error, bool) {
	var ptr *tgbotapi.Error
	if errors.As(err, &ptr) && ptr != nil {
		return *ptr, true
	}
	var val tgbotapi.Error
	if errors.As(err, &val) {
		return val, true
	}
	return tgbotapi.Error{}, false
}

// IsAdmin reports whether userID administers chatID. In a private chat the
// user is the only admin.
func (t *Telegram) IsAdmin(ctx context.Context, chatID, userID int64) (bool, error) {
	if chatID > 0 {
		return chatID == userID, nil
	}
	status, err := t.memberStatus(ctx, chatID, userID)
	if err != nil {
		return false, err
	}
	return status == "creator" || status == "administrator", nil
}

// IsCreator reports whether userID created chatID.
func (t *Telegram) IsCreator(ctx context.Context, chatID, userID int64) (bool, error) {
	if chatID > 0 {
		return chatID == userID, nil
	}
	status, err := t.memberStatus(ctx, chatID, userID)
	if err != nil {
		return false, err
	}
	return status == "creator", nil
}

func (t *Telegram) memberStatus(ctx context.Context, chatID, userID int64) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if t.bot == nil {
		return "", errors.New("telegram bot not connected")
	}
	return t.members.status(chatID, userID, func() (string, error) {
		member, err := t.bot.GetChatMember(tgbotapi.GetChatMemberConfig{
			ChatConfigWithUser: tgbotapi.ChatConfigWithUser{ChatID: chatID, UserID: userID},
		})
		if err != nil {
			return "", fmt.Errorf("get chat member %d in %d: %w", userID, chatID, err)
		}
		return member.Status, nil
	})
}

// ChatTitle returns the title of a group, or the first name for a private chat.
func (t *Telegram) ChatTitle(ctx context.Context, chatID int64) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if t.bot == nil {
		return "", errors.New("telegram bot not connected")
	}
	chat, err := t.bot.GetChat(tgbotapi.ChatInfoConfig{ChatConfig: tgbotapi.ChatConfig{ChatID: chatID}})
	if err != nil {
		return "", fmt.Errorf("get chat %d: %w", chatID, err)
	}
	if chat.Title != "" {
		return chat.Title, nil
	}
	return chat.FirstName, nil
}
