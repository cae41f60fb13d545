package channel

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"strings"
	"testing"

	"filterbot/internal/domain"
)

func TestConsole_PublishesLines(t *testing.T) {
	in := strings.NewReader("hello\n\n/filter hi there\n/quit\nignored\n")
	c := NewConsole(ConsoleConfig{ChatID: -7, ChatTitle: "Test", UserID: 3, In: in, Out: io.Discard,
		Logger: slog.New(slog.NewTextHandler(io.Discard, nil))})
	bus := &captureBus{}

	if err := c.Start(context.Background(), bus); err != nil {
		t.Fatalf("start: %v", err)
	}
	if len(bus.msgs) != 2 {
		t.Fatalf("expected 2 messages, got %d", len(bus.msgs))
	}
	first, second := bus.msgs[0], bus.msgs[1]
	if first.Text != "hello" || first.ChatID != -7 || first.SenderID != 3 || first.MessageID != 1 {
		t.Errorf("unexpected first message: %+v", first)
	}
	if second.MessageID != 2 || second.ChatType != domain.ChatGroup || second.ChatTitle != "Test" {
		t.Errorf("unexpected second message: %+v", second)
	}
}

func TestConsole_PrintsSends(t *testing.T) {
	var out bytes.Buffer
	c := NewConsole(ConsoleConfig{Out: &out})

	err := c.SendText(context.Background(), -1, "Rise and shine!", domain.SendOptions{
		ReplyTo:  4,
		Markdown: true,
		Buttons:  [][]domain.Button{{{Label: "A", Target: "a.com"}, {Label: "B", Target: "b.com"}}},
	})
	if err != nil {
		t.Fatal(err)
	}
	got := out.String()
	for _, want := range []string{"bot text -> -1 (reply to #4, markdown)", "Rise and shine!", "[A](a.com) [B](b.com)"} {
		if !strings.Contains(got, want) {
			t.Errorf("output %q missing %q", got, want)
		}
	}
}

func TestConsole_Permissions(t *testing.T) {
	c := NewConsole(ConsoleConfig{ChatID: -7, UserID: 3, Out: io.Discard})
	ctx := context.Background()
	if ok, _ := c.IsAdmin(ctx, -7, 3); !ok {
		t.Error("console user should be admin")
	}
	if ok, _ := c.IsCreator(ctx, -7, 4); ok {
		t.Error("other users are not creators")
	}
	if title, err := c.ChatTitle(ctx, -7); err != nil || title != "console" {
		t.Errorf("unexpected title %q, err %v", title, err)
	}
}
