package filters

import (
	"context"
	"errors"
	"log/slog"
	"strings"

	"filterbot/internal/domain"
)

// Outcome is the result of dispatching a filter.
type Outcome string

const (
	OutcomeSent           Outcome = "sent"
	OutcomeSentFresh      Outcome = "sent_fresh" // reply target was gone, sent as a new message
	OutcomeUnsupportedURL Outcome = "unsupported_url"
	OutcomeMalformed      Outcome = "malformed"
	OutcomeTransportError Outcome = "transport_error"
)

const (
	noticeUnsupportedURL = "You seem to be trying to use an unsupported url protocol. Telegram " +
		"doesn't support buttons for some protocols, such as tg://. Please try again."
	noticeMalformed = "This filter could not be sent, as it is incorrectly formatted. " +
		"Ask an admin to fix or re-add it."
)

// DefaultPreviewDomains keep link previews enabled when a reply mentions them.
var DefaultPreviewDomains = []string{"telegra.ph", "youtu.be"}

// Target is where a filter reply goes.
type Target struct {
	ChatID  int64
	ReplyTo int // message to reply to; 0 for a fresh message
}

// Dispatcher sends a matched filter through the transport.
type Dispatcher struct {
	transport      domain.Transport
	previewDomains []string
	logger         *slog.Logger
}

func NewDispatcher(transport domain.Transport, previewDomains []string, logger *slog.Logger) *Dispatcher {
	if previewDomains == nil {
		previewDomains = DefaultPreviewDomains
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Dispatcher{transport: transport, previewDomains: previewDomains, logger: logger}
}

// Dispatch renders trig to target. Failures are handled here and only
// reported through the returned Outcome.
func (d *Dispatcher) Dispatch(ctx context.Context, target Target, trig *domain.Trigger) Outcome {
	opts := domain.SendOptions{ReplyTo: target.ReplyTo}

	var err error
	switch trig.Kind {
	case domain.KindSticker:
		err = d.transport.SendSticker(ctx, target.ChatID, trig.Reply, opts)
	case domain.KindDocument:
		err = d.transport.SendDocument(ctx, target.ChatID, trig.Reply, opts)
	case domain.KindImage:
		opts.Buttons = trig.Buttons
		err = d.transport.SendPhoto(ctx, target.ChatID, trig.Reply, opts)
	case domain.KindAudio:
		err = d.transport.SendAudio(ctx, target.ChatID, trig.Reply, opts)
	case domain.KindVoice:
		err = d.transport.SendVoice(ctx, target.ChatID, trig.Reply, opts)
	case domain.KindVideo:
		err = d.transport.SendVideo(ctx, target.ChatID, trig.Reply, opts)
	default:
		if trig.HasMarkdown {
			return d.sendFormatted(ctx, target, trig)
		}
		err = d.transport.SendText(ctx, target.ChatID, trig.Reply, opts)
	}

	if err != nil {
		d.logger.Error("filter send failed",
			"chat_id", target.ChatID, "keyword", trig.Keyword, "kind", trig.Kind, "err", err)
		return OutcomeTransportError
	}
	return OutcomeSent
}

func (d *Dispatcher) sendFormatted(ctx context.Context, target Target, trig *domain.Trigger) Outcome {
	opts := domain.SendOptions{
		ReplyTo:        target.ReplyTo,
		Markdown:       true,
		DisablePreview: !d.allowsPreview(trig.Reply),
		Buttons:        trig.Buttons,
	}

	err := d.transport.SendText(ctx, target.ChatID, trig.Reply, opts)
	switch {
	case err == nil:
		return OutcomeSent

	case errors.Is(err, domain.ErrUnsupportedURLProtocol):
		d.notify(ctx, target, noticeUnsupportedURL)
		return OutcomeUnsupportedURL

	case errors.Is(err, domain.ErrReplyNotFound):
		opts.ReplyTo = 0
		if err := d.transport.SendText(ctx, target.ChatID, trig.Reply, opts); err != nil {
			d.logger.Error("filter resend failed",
				"chat_id", target.ChatID, "keyword", trig.Keyword, "err", err)
			return OutcomeTransportError
		}
		return OutcomeSentFresh

	case errors.Is(err, domain.ErrBadRequest):
		d.notify(ctx, target, noticeMalformed)
		d.logger.Warn("could not parse filter",
			"chat_id", target.ChatID, "keyword", trig.Keyword, "reply", trig.Reply, "err", err)
		return OutcomeMalformed

	default:
		d.logger.Error("filter send failed",
			"chat_id", target.ChatID, "keyword", trig.Keyword, "kind", trig.Kind, "err", err)
		return OutcomeTransportError
	}
}

func (d *Dispatcher) allowsPreview(text string) bool {
	for _, domainName := range d.previewDomains {
		if domainName != "" && strings.Contains(text, domainName) {
			return true
		}
	}
	return false
}

func (d *Dispatcher) notify(ctx context.Context, target Target, text string) {
	if err := d.transport.SendText(ctx, target.ChatID, text, domain.SendOptions{ReplyTo: target.ReplyTo}); err != nil {
		d.logger.Warn("notice send failed", "chat_id", target.ChatID, "err", err)
	}
}
