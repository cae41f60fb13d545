package filters

import (
	"strings"

	"filterbot/internal/domain"
)

// User-facing rejection messages.
const (
	msgNoKeyword      = "You need to give the filter a keyword! Usage: /filter <keyword> <reply>"
	msgButtonsOnly    = "There is no note message - You can't JUST have buttons, you need a message to go with it!"
	msgNothingToReply = "You didn't specify what to reply with!"
)

// Registration is a /filter request.
type Registration struct {
	Text     string          // full message text including the command
	Entities []domain.Entity // formatting of Text
	Args     string          // text after the command, a suffix of Text
	ReplyTo  *domain.SourceMessage
}

// Draft is a validated filter ready to be stored.
type Draft struct {
	Keyword  string
	Response domain.Response
}

// BuildResponse turns a registration into a Draft. Failures are
// *domain.UserInputError and nothing should be stored.
func BuildResponse(reg Registration) (Draft, error) {
	parts := SplitQuotes(reg.Args)
	if len(parts) == 0 || strings.TrimSpace(parts[0]) == "" {
		return Draft{}, &domain.UserInputError{Err: domain.ErrNoKeyword, Message: msgNoKeyword}
	}
	draft := Draft{Keyword: domain.NormalizeKeyword(parts[0])}

	if len(parts) > 1 {
		body := renderBody(reg, parts[1])
		text, buttons := ParseButtons(body)
		text = strings.TrimSpace(text)
		if text == "" {
			return Draft{}, &domain.UserInputError{Err: domain.ErrButtonsOnly, Message: msgButtonsOnly}
		}
		draft.Response = domain.Response{
			Reply:       text,
			Kind:        domain.KindText,
			HasMarkdown: true,
			Buttons:     buttons,
		}
		return draft, nil
	}

	att, ok := reg.ReplyTo.PrimaryAttachment()
	if !ok {
		return Draft{}, &domain.UserInputError{Err: domain.ErrNothingToReply, Message: msgNothingToReply}
	}
	draft.Response = domain.Response{
		Reply:       att.FileID,
		Kind:        att.Kind,
		HasMarkdown: true,
	}
	if att.Kind == domain.KindImage && reg.ReplyTo.Caption != "" {
		caption := MarkdownFromEntities(reg.ReplyTo.Caption, reg.ReplyTo.CaptionEntities, 0, len(reg.ReplyTo.Caption))
		_, draft.Response.Buttons = ParseButtons(caption)
	}
	return draft, nil
}

// renderBody returns the body as legacy Markdown, restoring formatting from
// the message entities when the body can be located inside the message text.
func renderBody(reg Registration, body string) string {
	if !strings.HasSuffix(reg.Text, body) {
		return EscapeUnpaired(body)
	}
	start := len(reg.Text) - len(body)
	return MarkdownFromEntities(reg.Text, reg.Entities, start, len(reg.Text))
}
