package channel

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"sync"
	"time"

	"filterbot/internal/domain"
)

// Console is a local channel for trying filters from a terminal. Every line
// is a message from one user in one chat; bot output is printed. The user
// is admin and creator of the chat.
type Console struct {
	chatID    int64
	chatTitle string
	userID    int64
	logger    *slog.Logger
	in        io.Reader

	mu     sync.Mutex
	out    io.Writer
	nextID int
}

type ConsoleConfig struct {
	ChatID    int64
	ChatTitle string
	UserID    int64
	Logger    *slog.Logger
	In        io.Reader
	Out       io.Writer
}

func NewConsole(cfg ConsoleConfig) *Console {
	if cfg.In == nil {
		cfg.In = os.Stdin
	}
	if cfg.Out == nil {
		cfg.Out = os.Stdout
	}
	if cfg.ChatID == 0 {
		cfg.ChatID = -1
	}
	if cfg.ChatTitle == "" {
		cfg.ChatTitle = "console"
	}
	if cfg.UserID == 0 {
		cfg.UserID = 1
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Console{
		chatID:    cfg.ChatID,
		chatTitle: cfg.ChatTitle,
		userID:    cfg.UserID,
		logger:    cfg.Logger,
		in:        cfg.In,
		out:       cfg.Out,
	}
}

func (c *Console) Name() string { return "console" }

// Start reads lines until EOF, /quit or ctx is done.
func (c *Console) Start(ctx context.Context, bus domain.MessageBus) error {
	c.printf("filterbot console, chat %d (%s). Type /quit to exit.\n", c.chatID, c.chatTitle)

	scanner := bufio.NewScanner(c.in)
	for {
		select {
		case <-ctx.Done():
			return nil
		default:
		}

		if !scanner.Scan() {
			return scanner.Err()
		}

		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		if line == "/quit" || line == "/exit" || line == "/q" {
			c.logger.Info("user requested quit")
			return nil
		}

		c.mu.Lock()
		c.nextID++
		id := c.nextID
		c.mu.Unlock()

		bus.Publish(domain.InboundMessage{
			Channel:   c.Name(),
			ChatID:    c.chatID,
			ChatType:  domain.ChatGroup,
			ChatTitle: c.chatTitle,
			SenderID:  c.userID,
			MessageID: id,
			Text:      line,
			Timestamp: time.Now(),
		})
	}
}

// Stop is a no-op; the console exits when Start returns.
func (c *Console) Stop() error { return nil }

func (c *Console) printf(format string, args ...any) {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, _ = fmt.Fprintf(c.out, format, args...)
}

func (c *Console) print(kind domain.Kind, chatID int64, content string, opts domain.SendOptions) error {
	var tags []string
	if opts.ReplyTo != 0 {
		tags = append(tags, fmt.Sprintf("reply to #%d", opts.ReplyTo))
	}
	if opts.Markdown {
		tags = append(tags, "markdown")
	}
	if opts.DisablePreview {
		tags = append(tags, "no preview")
	}

	header := fmt.Sprintf("--- bot %s -> %d", kind, chatID)
	if len(tags) > 0 {
		header += " (" + strings.Join(tags, ", ") + ")"
	}
	var b strings.Builder
	b.WriteString(header + "\n" + content + "\n")
	for _, row := range opts.Buttons {
		labels := make([]string, len(row))
		for i, btn := range row {
			labels[i] = fmt.Sprintf("[%s](%s)", btn.Label, btn.Target)
		}
		b.WriteString(strings.Join(labels, " ") + "\n")
	}
	c.printf("%s", b.String())
	return nil
}

func (c *Console) SendText(_ context.Context, chatID int64, text string, opts domain.SendOptions) error {
	return c.print(domain.KindText, chatID, text, opts)
}

func (c *Console) SendSticker(_ context.Context, chatID int64, fileID string, opts domain.SendOptions) error {
	return c.print(domain.KindSticker, chatID, fileID, opts)
}

func (c *Console) SendDocument(_ context.Context, chatID int64, fileID string, opts domain.SendOptions) error {
	return c.print(domain.KindDocument, chatID, fileID, opts)
}

func (c *Console) SendPhoto(_ context.Context, chatID int64, fileID string, opts domain.SendOptions) error {
	return c.print(domain.KindImage, chatID, fileID, opts)
}

func (c *Console) SendAudio(_ context.Context, chatID int64, fileID string, opts domain.SendOptions) error {
	return c.print(domain.KindAudio, chatID, fileID, opts)
}

func (c *Console) SendVoice(_ context.Context, chatID int64, fileID string, opts domain.SendOptions) error {
	return c.print(domain.KindVoice, chatID, fileID, opts)
}

func (c *Console) SendVideo(_ context.Context, chatID int64, fileID string, opts domain.SendOptions) error {
	return c.print(domain.KindVideo, chatID, fileID, opts)
}

func (c *Console) IsAdmin(_ context.Context, chatID, userID int64) (bool, error) {
	return chatID == c.chatID && userID == c.userID, nil
}

func (c *Console) IsCreator(ctx context.Context, chatID, userID int64) (bool, error) {
	return c.IsAdmin(ctx, chatID, userID)
}

func (c *Console) ChatTitle(_ context.Context, chatID int64) (string, error) {
	if chatID == c.chatID {
		return c.chatTitle, nil
	}
	return "", domain.ErrNotFound
}
