package domain

import (
	"context"
	"strings"
	"unicode"
)

// Command is a parsed "/name args" message.
type Command struct {
	Name    string // lowercased, without "/" and "@bot" suffix
	Mention string // bot username after "@", if any
	Args    string // raw text after the command; a suffix of Raw
	Raw     string
}

// Fields splits Args on whitespace.
func (c *Command) Fields() []string {
	return strings.Fields(c.Args)
}

// ParseCommand parses text starting with "/" into a Command.
// Returns nil if the text is not a command.
func ParseCommand(text string) *Command {
	if !strings.HasPrefix(text, "/") || len(text) == 1 {
		return nil
	}

	head := text[1:]
	args := ""
	if idx := strings.IndexFunc(head, unicode.IsSpace); idx >= 0 {
		args = strings.TrimLeftFunc(head[idx:], unicode.IsSpace)
		head = head[:idx]
	}
	if head == "" {
		return nil
	}

	name, mention, _ := strings.Cut(head, "@")
	return &Command{
		Name:    strings.ToLower(name),
		Mention: mention,
		Args:    args,
		Raw:     text,
	}
}

// Result tells the router whether a handler consumed the message.
type Result struct {
	Handled bool
}

var (
	Handled = Result{Handled: true}
	Pass    = Result{}
)

// MessageHandler is a bot module. Handlers run in registration order until
// one reports the message as handled.
type MessageHandler interface {
	Name() string
	Help() string
	HandleMessage(ctx context.Context, msg InboundMessage) (Result, error)
}
