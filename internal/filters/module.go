// Package filters implements chat-scoped keyword auto-replies: the
// /filter, /filters, /stop and /stopall commands and the matcher that
// answers ordinary messages.
package filters

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"filterbot/internal/bus"
	"filterbot/internal/domain"
	"filterbot/internal/metrics"
)

const (
	msgNotAdmin   = "You need to be an admin to do this."
	msgNotCreator = "You must be this chat creator."
	msgStopUsage  = "Usage: /stop <filter keyword>"
	msgNotAFilter = "That's not a current filter - run /filters for all active filters."
	localChatName = "local filters"
)

const helpText = ` - /filters: list all active filters in this chat.

*Admin only:*
 - /filter <keyword> <reply message>: add a filter to this chat. The bot will now reply that message whenever 'keyword' is mentioned. If you reply to a sticker with a keyword, the bot will reply with that sticker. NOTE: all filter keywords are in lowercase. If you want your keyword to be a sentence, use quotes. eg: /filter "hey there" How you doin?
 - /stop <filter keyword>: stop that filter.
 - /stopall: stop all filters (chat creator only).`

// Config wires a Module to its collaborators. Store, Transport and
// Permissions are required.
type Config struct {
	Store       domain.TriggerStore
	Transport   domain.Transport
	Permissions domain.Permissions
	Connections domain.ConnectionResolver // optional
	Directory   domain.ChatDirectory      // optional, used for connected chat titles
	Events      *bus.EventBus             // optional
	Metrics     *metrics.Metrics          // optional

	BotUsername      string   // commands addressed to another bot are ignored
	PreviewDomains   []string // nil uses DefaultPreviewDomains
	MaxMessageLength int      // 0 uses domain.MaxMessageLength
	Logger           *slog.Logger
}

// Module is the filters bot module.
type Module struct {
	store       domain.TriggerStore
	transport   domain.Transport
	perms       domain.Permissions
	connections domain.ConnectionResolver
	directory   domain.ChatDirectory
	events      *bus.EventBus
	metrics     *metrics.Metrics

	engine     *Engine
	dispatcher *Dispatcher

	botUsername string
	maxLen      int
	logger      *slog.Logger
}

func New(cfg Config) (*Module, error) {
	if cfg.Store == nil || cfg.Transport == nil || cfg.Permissions == nil {
		return nil, errors.New("filters: store, transport and permissions are required")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	maxLen := cfg.MaxMessageLength
	if maxLen <= 0 {
		maxLen = domain.MaxMessageLength
	}
	return &Module{
		store:       cfg.Store,
		transport:   cfg.Transport,
		perms:       cfg.Permissions,
		connections: cfg.Connections,
		directory:   cfg.Directory,
		events:      cfg.Events,
		metrics:     cfg.Metrics,
		engine:      NewEngine(cfg.Store),
		dispatcher:  NewDispatcher(cfg.Transport, cfg.PreviewDomains, logger),
		botUsername: cfg.BotUsername,
		maxLen:      maxLen,
		logger:      logger,
	}, nil
}

func (m *Module) Name() string { return "filters" }

func (m *Module) Help() string { return helpText }

// HandleMessage runs filter commands and otherwise answers the message
// with the first filter it triggers.
func (m *Module) HandleMessage(ctx context.Context, msg domain.InboundMessage) (domain.Result, error) {
	if cmd := domain.ParseCommand(msg.Text); cmd != nil && m.addressedToUs(cmd) {
		var err error
		switch cmd.Name {
		case "filter":
			err = m.addFilter(ctx, msg, cmd)
		case "filters":
			err = m.listFilters(ctx, msg)
		case "stop":
			err = m.stopFilter(ctx, msg, cmd)
		case "stopall":
			err = m.stopAll(ctx, msg)
		default:
			return m.reply(ctx, msg)
		}
		if err != nil {
			m.metrics.RecordCommand(cmd.Name, "error")
			return domain.Handled, fmt.Errorf("/%s: %w", cmd.Name, err)
		}
		return domain.Handled, nil
	}
	return m.reply(ctx, msg)
}

func (m *Module) addressedToUs(cmd *domain.Command) bool {
	return cmd.Mention == "" || m.botUsername == "" || strings.EqualFold(cmd.Mention, m.botUsername)
}

// scope is the chat a command operates on.
type scope struct {
	chatID    int64
	name      string
	local     bool // the caller's own private chat
	connected bool
}

func (m *Module) resolveScope(ctx context.Context, msg domain.InboundMessage) (scope, error) {
	if !msg.IsPrivate() {
		return scope{chatID: msg.ChatID, name: msg.ChatTitle}, nil
	}
	if m.connections != nil {
		chatID, ok, err := m.connections.ResolveTargetChat(ctx, msg.SenderID)
		if err != nil {
			return scope{}, fmt.Errorf("resolve connection: %w", err)
		}
		if ok {
			return scope{chatID: chatID, name: m.chatTitle(ctx, chatID), connected: true}, nil
		}
	}
	return scope{chatID: msg.ChatID, name: localChatName, local: true}, nil
}

func (m *Module) chatTitle(ctx context.Context, chatID int64) string {
	if m.directory != nil {
		title, err := m.directory.ChatTitle(ctx, chatID)
		if err == nil && title != "" {
			return title
		}
		if err != nil {
			m.logger.Debug("chat title lookup failed", "chat_id", chatID, "err", err)
		}
	}
	return fmt.Sprintf("%d", chatID)
}

// requireAdmin reports whether the sender may change filters in sc and
// tells them when they may not.
func (m *Module) requireAdmin(ctx context.Context, msg domain.InboundMessage, sc scope, command string) (bool, error) {
	if sc.local {
		return true, nil
	}
	ok, err := m.perms.IsAdmin(ctx, sc.chatID, msg.SenderID)
	if err != nil {
		return false, fmt.Errorf("check admin: %w", err)
	}
	if !ok {
		m.metrics.RecordCommand(command, "denied")
		return false, m.answer(ctx, msg, msgNotAdmin, false)
	}
	return true, nil
}

func (m *Module) addFilter(ctx context.Context, msg domain.InboundMessage, cmd *domain.Command) error {
	sc, err := m.resolveScope(ctx, msg)
	if err != nil {
		return err
	}
	if ok, err := m.requireAdmin(ctx, msg, sc, "filter"); !ok {
		return err
	}

	draft, err := BuildResponse(Registration{
		Text:     msg.Text,
		Entities: msg.Entities,
		Args:     cmd.Args,
		ReplyTo:  msg.ReplyTo,
	})
	var inputErr *domain.UserInputError
	if errors.As(err, &inputErr) {
		m.metrics.RecordCommand("filter", "rejected")
		return m.answer(ctx, msg, inputErr.Message, false)
	}
	if err != nil {
		return err
	}

	if err := m.store.Add(ctx, sc.chatID, draft.Keyword, draft.Response); err != nil {
		return fmt.Errorf("store filter: %w", err)
	}
	m.logger.Info("filter added", "chat_id", sc.chatID, "keyword", draft.Keyword, "kind", draft.Response.Kind)
	m.metrics.RecordCommand("filter", "ok")
	m.events.Emit(m.Name(), bus.FilterAdded{ChatID: sc.chatID, Keyword: draft.Keyword, Kind: string(draft.Response.Kind)})
	m.RefreshGauges(ctx)

	text := fmt.Sprintf("Filter '%s' added in *%s*!", EscapeMarkdown(draft.Keyword), EscapeMarkdown(sc.name))
	return m.answer(ctx, msg, text, true)
}

func (m *Module) listFilters(ctx context.Context, msg domain.InboundMessage) error {
	sc, err := m.resolveScope(ctx, msg)
	if err != nil {
		return err
	}
	keywords, err := m.store.ListKeywords(ctx, sc.chatID)
	if err != nil {
		return fmt.Errorf("list filters: %w", err)
	}
	m.metrics.RecordCommand("filters", "ok")

	chunks := ListingChunks(ListingHeader(sc.name, sc.local, m.maxLen), keywords, m.maxLen)
	if len(chunks) == 0 {
		return m.answer(ctx, msg, fmt.Sprintf("No filters in *%s*!", EscapeMarkdown(sc.name)), true)
	}
	for _, chunk := range chunks {
		if err := m.answer(ctx, msg, chunk, true); err != nil {
			return err
		}
	}
	return nil
}

func (m *Module) stopFilter(ctx context.Context, msg domain.InboundMessage, cmd *domain.Command) error {
	sc, err := m.resolveScope(ctx, msg)
	if err != nil {
		return err
	}
	if ok, err := m.requireAdmin(ctx, msg, sc, "stop"); !ok {
		return err
	}

	keyword := stopKeyword(cmd.Args)
	if keyword == "" {
		m.metrics.RecordCommand("stop", "rejected")
		return m.answer(ctx, msg, msgStopUsage, false)
	}

	removed, err := m.store.Remove(ctx, sc.chatID, keyword)
	if err != nil {
		return fmt.Errorf("remove filter: %w", err)
	}
	if !removed {
		m.metrics.RecordCommand("stop", "not_found")
		return m.answer(ctx, msg, msgNotAFilter, false)
	}

	m.logger.Info("filter removed", "chat_id", sc.chatID, "keyword", keyword)
	m.metrics.RecordCommand("stop", "ok")
	m.events.Emit(m.Name(), bus.FilterRemoved{ChatID: sc.chatID, Count: 1})
	m.RefreshGauges(ctx)
	return m.answer(ctx, msg, fmt.Sprintf("Yep, I'll stop replying to that in *%s*.", EscapeMarkdown(sc.name)), true)
}

// stopKeyword extracts the keyword of a /stop command. Unquoted keywords
// span the whole argument text.
func stopKeyword(args string) string {
	args = strings.TrimSpace(args)
	if args == "" {
		return ""
	}
	if strings.HasPrefix(args, "'") || strings.HasPrefix(args, `"`) || strings.HasPrefix(args, "“") {
		if parts := SplitQuotes(args); len(parts) > 0 {
			return domain.NormalizeKeyword(parts[0])
		}
	}
	return domain.NormalizeKeyword(args)
}

func (m *Module) stopAll(ctx context.Context, msg domain.InboundMessage) error {
	sc, err := m.resolveScope(ctx, msg)
	if err != nil {
		return err
	}
	if !sc.local {
		ok, err := m.perms.IsCreator(ctx, sc.chatID, msg.SenderID)
		if err != nil {
			return fmt.Errorf("check creator: %w", err)
		}
		if !ok {
			m.metrics.RecordCommand("stopall", "denied")
			return m.answer(ctx, msg, msgNotCreator, false)
		}
	}

	n, err := m.store.RemoveAll(ctx, sc.chatID)
	if err != nil {
		return fmt.Errorf("remove all filters: %w", err)
	}
	m.metrics.RecordCommand("stopall", "ok")
	if n == 0 {
		return m.answer(ctx, msg, fmt.Sprintf("There aren't any active filters in %s!", sc.name), false)
	}

	m.logger.Info("all filters removed", "chat_id", sc.chatID, "count", n)
	m.events.Emit(m.Name(), bus.FilterRemoved{ChatID: sc.chatID, Count: n})
	m.RefreshGauges(ctx)
	return m.answer(ctx, msg, fmt.Sprintf("%d filters from this chat have been removed.", n), false)
}

// reply answers an ordinary message with the first filter it triggers.
func (m *Module) reply(ctx context.Context, msg domain.InboundMessage) (domain.Result, error) {
	if strings.TrimSpace(msg.Text) == "" {
		return domain.Pass, nil
	}

	start := time.Now()
	trig, err := m.engine.Find(ctx, msg.ChatID, msg.Text)
	m.metrics.RecordMatch(time.Since(start).Seconds(), trig != nil)
	if err != nil {
		return domain.Pass, fmt.Errorf("match filters: %w", err)
	}
	if trig == nil {
		return domain.Pass, nil
	}

	target := Target{ChatID: msg.ChatID, ReplyTo: msg.MessageID}
	if msg.ReplyTo != nil && msg.ReplyTo.MessageID != 0 {
		target.ReplyTo = msg.ReplyTo.MessageID
	}
	outcome := m.dispatcher.Dispatch(ctx, target, trig)
	m.metrics.RecordDispatch(string(trig.Kind), string(outcome))
	m.events.Emit(m.Name(), bus.FilterMatched{ChatID: msg.ChatID, Keyword: trig.Keyword, Outcome: string(outcome)})
	return domain.Handled, nil
}

func (m *Module) answer(ctx context.Context, msg domain.InboundMessage, text string, markdown bool) error {
	opts := domain.SendOptions{ReplyTo: msg.MessageID, Markdown: markdown}
	if err := m.transport.SendText(ctx, msg.ChatID, text, opts); err != nil {
		return fmt.Errorf("send reply: %w", err)
	}
	return nil
}

// Stats summarises the store for the bot's stats command.
func (m *Module) Stats(ctx context.Context) (string, error) {
	filters, err := m.store.CountTriggers(ctx)
	if err != nil {
		return "", fmt.Errorf("count filters: %w", err)
	}
	chats, err := m.store.CountChats(ctx)
	if err != nil {
		return "", fmt.Errorf("count chats: %w", err)
	}
	return fmt.Sprintf("%d filters, across %d chats.", filters, chats), nil
}

// ChatSettings summarises one chat's filters.
func (m *Module) ChatSettings(ctx context.Context, chatID int64) (string, error) {
	keywords, err := m.store.ListKeywords(ctx, chatID)
	if err != nil {
		return "", fmt.Errorf("list filters: %w", err)
	}
	return fmt.Sprintf("There are `%d` custom filters here.", len(keywords)), nil
}

// MigrateChat moves every filter of oldChatID to newChatID.
func (m *Module) MigrateChat(ctx context.Context, oldChatID, newChatID int64) error {
	if err := m.store.MigrateChat(ctx, oldChatID, newChatID); err != nil {
		return fmt.Errorf("migrate filters %d -> %d: %w", oldChatID, newChatID, err)
	}
	m.logger.Info("filters migrated", "from", oldChatID, "to", newChatID)
	m.RefreshGauges(ctx)
	return nil
}

// Subscribe registers the module's chat migration hook on events.
func (m *Module) Subscribe(events *bus.EventBus) uint64 {
	return events.On(bus.EventChatMigrated, func(ev bus.Event) {
		mig, ok := ev.Payload.(bus.ChatMigrated)
		if !ok {
			m.logger.Warn("malformed chat migration event", "payload", ev.Payload)
			return
		}
		if err := m.MigrateChat(context.Background(), mig.From, mig.To); err != nil {
			m.logger.Error("chat migration failed", "err", err)
		}
	})
}

// RefreshGauges publishes the store totals to metrics.
func (m *Module) RefreshGauges(ctx context.Context) {
	if m.metrics == nil {
		return
	}
	filters, err := m.store.CountTriggers(ctx)
	if err != nil {
		m.logger.Debug("count filters failed", "err", err)
		return
	}
	chats, err := m.store.CountChats(ctx)
	if err != nil {
		m.logger.Debug("count chats failed", "err", err)
		return
	}
	m.metrics.SetStoreTotals(filters, chats)
}
