package domain

import "time"

// ChatType mirrors Telegram's chat types.
type ChatType string

const (
	ChatPrivate    ChatType = "private"
	ChatGroup      ChatType = "group"
	ChatSupergroup ChatType = "supergroup"
	ChatChannel    ChatType = "channel"
)

// Entity is a formatting span. Offset and Length are in UTF-16 code units.
type Entity struct {
	Type   string
	Offset int
	Length int
	URL    string
}

// Attachment is the media carried by a message. A message exposes
// at most one attachment per kind.
type Attachment struct {
	Kind   Kind
	FileID string
}

// attachmentPriority is the order in which a replied-to message's media
// decides a filter's kind.
var attachmentPriority = []Kind{KindSticker, KindDocument, KindImage, KindAudio, KindVoice, KindVideo}

// SourceMessage is a message referenced by a registration, usually the
// one being replied to.
type SourceMessage struct {
	MessageID       int
	Text            string
	Entities        []Entity
	Caption         string
	CaptionEntities []Entity
	Attachments     []Attachment
}

// PrimaryAttachment returns the attachment with the highest priority.
func (m *SourceMessage) PrimaryAttachment() (Attachment, bool) {
	if m == nil {
		return Attachment{}, false
	}
	for _, kind := range attachmentPriority {
		for _, a := range m.Attachments {
			if a.Kind == kind && a.FileID != "" {
				return a, true
			}
		}
	}
	return Attachment{}, false
}

// InboundMessage is a chat message delivered by a channel.
type InboundMessage struct {
	Channel   string
	ChatID    int64
	ChatType  ChatType
	ChatTitle string
	SenderID  int64
	MessageID int
	Text      string // text or caption
	Entities  []Entity
	ReplyTo   *SourceMessage
	Timestamp time.Time

	// MigrateToChatID is set when the chat was upgraded and moved to a new id.
	MigrateToChatID int64
}

// IsPrivate reports whether the message was sent in a private chat.
func (m InboundMessage) IsPrivate() bool {
	return m.ChatType == ChatPrivate
}
