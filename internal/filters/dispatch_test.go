package filters

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"filterbot/internal/domain"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

var testButtons = [][]domain.Button{{{Label: "Site", Target: "example.com"}}}

func trigger(kind domain.Kind, reply string, markdown bool) *domain.Trigger {
	return &domain.Trigger{
		ChatID:   1,
		Keyword:  "kw",
		Response: domain.Response{Reply: reply, Kind: kind, HasMarkdown: markdown, Buttons: testButtons},
	}
}

func TestDispatch_Media(t *testing.T) {
	tests := []struct {
		kind        domain.Kind
		method      string
		wantButtons bool
	}{
		{domain.KindSticker, "sticker", false},
		{domain.KindDocument, "document", false},
		{domain.KindImage, "photo", true},
		{domain.KindAudio, "audio", false},
		{domain.KindVoice, "voice", false},
		{domain.KindVideo, "video", false},
	}
	for _, tt := range tests {
		t.Run(string(tt.kind), func(t *testing.T) {
			tr := &fakeTransport{}
			d := NewDispatcher(tr, nil, quietLogger())

			out := d.Dispatch(context.Background(), Target{ChatID: 1, ReplyTo: 7}, trigger(tt.kind, "file-1", true))
			assert.Equal(t, OutcomeSent, out)

			require.Len(t, tr.all(), 1)
			got := tr.last()
			assert.Equal(t, tt.method, got.Method)
			assert.Equal(t, "file-1", got.Content)
			assert.Equal(t, 7, got.Opts.ReplyTo)
			assert.False(t, got.Opts.Markdown)
			if tt.wantButtons {
				assert.Equal(t, testButtons, got.Opts.Buttons)
			} else {
				assert.Empty(t, got.Opts.Buttons)
			}
		})
	}
}

func TestDispatch_MediaFailure(t *testing.T) {
	tr := &fakeTransport{mediaErr: errors.New("timeout")}
	d := NewDispatcher(tr, nil, quietLogger())
	out := d.Dispatch(context.Background(), Target{ChatID: 1}, trigger(domain.KindSticker, "s", true))
	assert.Equal(t, OutcomeTransportError, out)
	assert.Len(t, tr.all(), 1)
}

func TestDispatch_LegacyText(t *testing.T) {
	tr := &fakeTransport{}
	d := NewDispatcher(tr, nil, quietLogger())
	out := d.Dispatch(context.Background(), Target{ChatID: 1, ReplyTo: 7}, trigger(domain.KindText, "*plain*", false))
	assert.Equal(t, OutcomeSent, out)

	got := tr.last()
	assert.Equal(t, "text", got.Method)
	assert.Equal(t, "*plain*", got.Content)
	assert.Equal(t, domain.SendOptions{ReplyTo: 7}, got.Opts)
}

func TestDispatch_FormattedText(t *testing.T) {
	tr := &fakeTransport{}
	d := NewDispatcher(tr, nil, quietLogger())
	out := d.Dispatch(context.Background(), Target{ChatID: 1, ReplyTo: 7}, trigger(domain.KindText, "Rise and shine!", true))
	assert.Equal(t, OutcomeSent, out)
	assert.Equal(t, domain.SendOptions{ReplyTo: 7, Markdown: true, DisablePreview: true, Buttons: testButtons}, tr.last().Opts)
}

func TestDispatch_PreviewDomains(t *testing.T) {
	tr := &fakeTransport{}
	d := NewDispatcher(tr, nil, quietLogger())
	d.Dispatch(context.Background(), Target{ChatID: 1}, trigger(domain.KindText, "watch https://youtu.be/abc", true))
	assert.False(t, tr.last().Opts.DisablePreview)

	custom := NewDispatcher(tr, []string{"example.org"}, quietLogger())
	custom.Dispatch(context.Background(), Target{ChatID: 1}, trigger(domain.KindText, "watch https://youtu.be/abc", true))
	assert.True(t, tr.last().Opts.DisablePreview)
	custom.Dispatch(context.Background(), Target{ChatID: 1}, trigger(domain.KindText, "read example.org/post", true))
	assert.False(t, tr.last().Opts.DisablePreview)
}

func TestDispatch_UnsupportedURLProtocol(t *testing.T) {
	tr := &fakeTransport{textErrs: []error{&domain.SendError{Kind: domain.KindText, Err: domain.ErrUnsupportedURLProtocol, Code: 400}}}
	d := NewDispatcher(tr, nil, quietLogger())

	out := d.Dispatch(context.Background(), Target{ChatID: 1, ReplyTo: 7}, trigger(domain.KindText, "hi", true))
	assert.Equal(t, OutcomeUnsupportedURL, out)

	sends := tr.all()
	require.Len(t, sends, 2)
	assert.Equal(t, noticeUnsupportedURL, sends[1].Content)
	assert.Equal(t, 7, sends[1].Opts.ReplyTo)
}

func TestDispatch_ReplyNotFoundResendsFresh(t *testing.T) {
	tr := &fakeTransport{textErrs: []error{&domain.SendError{Kind: domain.KindText, Err: domain.ErrReplyNotFound, Code: 400}}}
	d := NewDispatcher(tr, nil, quietLogger())

	out := d.Dispatch(context.Background(), Target{ChatID: 1, ReplyTo: 7}, trigger(domain.KindText, "hi", true))
	assert.Equal(t, OutcomeSentFresh, out)

	sends := tr.all()
	require.Len(t, sends, 2)
	assert.Equal(t, "hi", sends[1].Content)
	assert.Equal(t, domain.SendOptions{Markdown: true, DisablePreview: true, Buttons: testButtons}, sends[1].Opts)
}

func TestDispatch_ReplyNotFoundRetriedOnce(t *testing.T) {
	notFound := &domain.SendError{Kind: domain.KindText, Err: domain.ErrReplyNotFound, Code: 400}
	tr := &fakeTransport{textErrs: []error{notFound, notFound}}
	d := NewDispatcher(tr, nil, quietLogger())

	out := d.Dispatch(context.Background(), Target{ChatID: 1, ReplyTo: 7}, trigger(domain.KindText, "hi", true))
	assert.Equal(t, OutcomeTransportError, out)
	assert.Len(t, tr.all(), 2)
}

func TestDispatch_Malformed(t *testing.T) {
	tr := &fakeTransport{textErrs: []error{&domain.SendError{Kind: domain.KindText, Err: domain.ErrBadRequest, Code: 400, Description: "can't parse entities"}}}
	d := NewDispatcher(tr, nil, quietLogger())

	out := d.Dispatch(context.Background(), Target{ChatID: 1, ReplyTo: 7}, trigger(domain.KindText, "*broken", true))
	assert.Equal(t, OutcomeMalformed, out)

	sends := tr.all()
	require.Len(t, sends, 2)
	assert.Equal(t, noticeMalformed, sends[1].Content)
	assert.False(t, sends[1].Opts.Markdown)
}

func TestDispatch_UnclassifiedFailureNotRetried(t *testing.T) {
	tr := &fakeTransport{textErrs: []error{errors.New("connection reset")}}
	d := NewDispatcher(tr, nil, quietLogger())

	out := d.Dispatch(context.Background(), Target{ChatID: 1}, trigger(domain.KindText, "hi", true))
	assert.Equal(t, OutcomeTransportError, out)
	assert.Len(t, tr.all(), 1)
}
