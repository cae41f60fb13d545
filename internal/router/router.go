// Package router consumes inbound messages and hands them to bot modules.
package router

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"golang.org/x/sync/errgroup"

	"filterbot/internal/bus"
	"filterbot/internal/domain"
	"filterbot/internal/metrics"
)

// Source supplies inbound messages as lanes. Messages on one lane are
// handled in order; lanes are handled in parallel.
type Source interface {
	Lanes() []<-chan domain.InboundMessage
}

// Config wires the router.
type Config struct {
	Bus       Source
	Handlers  []domain.MessageHandler // tried in order
	Transport domain.Transport        // used for /help
	Events    *bus.EventBus
	Metrics   *metrics.Metrics
	Logger    *slog.Logger
}

// Router hands inbound messages to handlers, one worker per bus lane.
type Router struct {
	bus       Source
	handlers  []domain.MessageHandler
	transport domain.Transport
	events    *bus.EventBus
	metrics   *metrics.Metrics
	logger    *slog.Logger
}

func New(cfg Config) *Router {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Router{
		bus:       cfg.Bus,
		handlers:  cfg.Handlers,
		transport: cfg.Transport,
		events:    cfg.Events,
		metrics:   cfg.Metrics,
		logger:    cfg.Logger,
	}
}

// Run consumes every lane until ctx is done or the bus is closed. It
// returns once the message in flight on each lane is finished.
func (r *Router) Run(ctx context.Context) error {
	lanes := r.bus.Lanes()
	r.logger.Info("router started", "lanes", len(lanes), "handlers", len(r.handlers))

	var g errgroup.Group
	for _, lane := range lanes {
		g.Go(func() error {
			r.drain(ctx, lane)
			return nil
		})
	}
	err := g.Wait()
	r.logger.Info("router stopped")
	return err
}

func (r *Router) drain(ctx context.Context, lane <-chan domain.InboundMessage) {
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-lane:
			if !ok {
				return
			}
			r.Dispatch(ctx, msg)
		}
	}
}

// Dispatch handles one message synchronously.
func (r *Router) Dispatch(ctx context.Context, msg domain.InboundMessage) {
	if msg.MigrateToChatID != 0 {
		r.logger.Info("chat migrated", "from", msg.ChatID, "to", msg.MigrateToChatID)
		r.events.Emit("router", bus.ChatMigrated{From: msg.ChatID, To: msg.MigrateToChatID})
		return
	}

	r.metrics.RecordMessage(string(msg.ChatType))

	if cmd := domain.ParseCommand(msg.Text); cmd != nil && cmd.Name == "help" && r.transport != nil {
		if err := r.transport.SendText(ctx, msg.ChatID, r.HelpText(), domain.SendOptions{ReplyTo: msg.MessageID, Markdown: true}); err != nil {
			r.logger.Warn("help reply failed", "chat_id", msg.ChatID, "err", err)
		}
		return
	}

	for _, h := range r.handlers {
		res, err := r.run(ctx, h, msg)
		if err != nil {
			r.logger.Error("handler failed",
				"handler", h.Name(), "chat_id", msg.ChatID, "message_id", msg.MessageID, "err", err)
		}
		if res.Handled {
			return
		}
	}
}

func (r *Router) run(ctx context.Context, h domain.MessageHandler, msg domain.InboundMessage) (res domain.Result, err error) {
	defer func() {
		if p := recover(); p != nil {
			res, err = domain.Handled, fmt.Errorf("panic in %s: %v", h.Name(), p)
		}
	}()
	return h.HandleMessage(ctx, msg)
}

// HelpText joins the help of every handler.
func (r *Router) HelpText() string {
	var b strings.Builder
	b.WriteString("*Commands*\n\n - /help: show this message.\n")
	for _, h := range r.handlers {
		help := h.Help()
		if help == "" {
			continue
		}
		fmt.Fprintf(&b, "\n*%s*\n%s\n", strings.ToUpper(h.Name()), help)
	}
	return b.String()
}
