package domain

import (
	"context"
	"fmt"
	"strings"
)

// MaxMessageLength is Telegram's limit for a single text message.
const MaxMessageLength = 4096

// Kind is the content category of a filter reply.
type Kind string

const (
	KindText     Kind = "text"
	KindSticker  Kind = "sticker"
	KindDocument Kind = "document"
	KindImage    Kind = "image"
	KindAudio    Kind = "audio"
	KindVoice    Kind = "voice"
	KindVideo    Kind = "video"
)

// Valid reports whether k is one of the known kinds.
func (k Kind) Valid() bool {
	switch k {
	case KindText, KindSticker, KindDocument, KindImage, KindAudio, KindVoice, KindVideo:
		return true
	}
	return false
}

// AllowsButtons reports whether replies of kind k can carry an inline
// keyboard. Only text replies and image captions do.
func (k Kind) AllowsButtons() bool {
	return k == KindText || k == KindImage
}

// Button is a single inline keyboard button.
type Button struct {
	Label  string `json:"label" yaml:"label"`
	Target string `json:"target" yaml:"target"`
}

// Response is what a filter replies with.
type Response struct {
	Reply       string     `json:"reply" yaml:"reply"`
	Kind        Kind       `json:"kind" yaml:"kind"`
	HasMarkdown bool       `json:"has_markdown" yaml:"has_markdown"`
	Buttons     [][]Button `json:"buttons,omitempty" yaml:"buttons,omitempty"`
}

// ButtonCount returns the total number of buttons across all rows.
func (r Response) ButtonCount() int {
	n := 0
	for _, row := range r.Buttons {
		n += len(row)
	}
	return n
}

// Validate checks a response before it is stored. An empty kind is text.
func (r Response) Validate() error {
	kind := r.Kind
	if kind == "" {
		kind = KindText
	}
	if !kind.Valid() {
		return fmt.Errorf("unknown kind %q", kind)
	}
	if len(r.Buttons) > 0 && !kind.AllowsButtons() {
		return fmt.Errorf("%s reply: %w", kind, ErrButtonsNotAllowed)
	}
	return nil
}

// Trigger is a stored (chat, keyword) -> response binding.
type Trigger struct {
	ChatID  int64  `json:"chat_id"`
	Keyword string `json:"keyword"`
	Response
}

// NormalizeKeyword returns the stored form of a keyword.
func NormalizeKeyword(keyword string) string {
	return strings.ToLower(keyword)
}

// TriggerStore persists filters per chat. Keywords are normalized with
// NormalizeKeyword by every operation; ListKeywords returns insertion order.
// AddAll stores every trigger or, on error, none of them.
type TriggerStore interface {
	Add(ctx context.Context, chatID int64, keyword string, resp Response) error
	AddAll(ctx context.Context, triggers []Trigger) error
	Remove(ctx context.Context, chatID int64, keyword string) (bool, error)
	Get(ctx context.Context, chatID int64, keyword string) (*Trigger, error)
	ListKeywords(ctx context.Context, chatID int64) ([]string, error)
	RemoveAll(ctx context.Context, chatID int64) (int, error)
	MigrateChat(ctx context.Context, oldChatID, newChatID int64) error
	CountTriggers(ctx context.Context) (int, error)
	CountChats(ctx context.Context) (int, error)
}
