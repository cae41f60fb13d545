package domain

import "context"

// Channel is a chat network the bot is connected to.
type Channel interface {
	Name() string
	Start(ctx context.Context, bus MessageBus) error
	Stop() error
}

// SendOptions controls how a reply is rendered.
type SendOptions struct {
	ReplyTo        int // message id to reply to; 0 sends a fresh message
	Markdown       bool
	DisablePreview bool
	Buttons        [][]Button
}

// Transport sends content to a chat. Media methods take an opaque file
// reference understood only by the transport. Failures are *SendError.
type Transport interface {
	SendText(ctx context.Context, chatID int64, text string, opts SendOptions) error
	SendSticker(ctx context.Context, chatID int64, fileID string, opts SendOptions) error
	SendDocument(ctx context.Context, chatID int64, fileID string, opts SendOptions) error
	SendPhoto(ctx context.Context, chatID int64, fileID string, opts SendOptions) error
	SendAudio(ctx context.Context, chatID int64, fileID string, opts SendOptions) error
	SendVoice(ctx context.Context, chatID int64, fileID string, opts SendOptions) error
	SendVideo(ctx context.Context, chatID int64, fileID string, opts SendOptions) error
}

// Permissions answers role questions about chat members.
type Permissions interface {
	IsAdmin(ctx context.Context, chatID, userID int64) (bool, error)
	IsCreator(ctx context.Context, chatID, userID int64) (bool, error)
}

// ChatDirectory looks up chat metadata.
type ChatDirectory interface {
	ChatTitle(ctx context.Context, chatID int64) (string, error)
}

// ConnectionResolver maps a user to the remote chat they manage from a
// private session. ok is false when the user has no connection.
type ConnectionResolver interface {
	ResolveTargetChat(ctx context.Context, userID int64) (chatID int64, ok bool, err error)
}
