package filters

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"filterbot/internal/domain"
)

func TestExportImport(t *testing.T) {
	ctx := context.Background()
	src := newMemStore()
	addText(t, src, 1, "hi", "hello")
	require.NoError(t, src.Add(ctx, 1, "pic", domain.Response{
		Reply: "photo-1", Kind: domain.KindImage, HasMarkdown: true,
		Buttons: [][]domain.Button{{{Label: "Go", Target: "go.dev"}}},
	}))

	var buf bytes.Buffer
	n, err := Export(ctx, src, 1, &buf)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.Contains(t, buf.String(), "keyword: pic")

	dst := newMemStore()
	n, err = Import(ctx, dst, 2, &buf)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	kws, _ := dst.ListKeywords(ctx, 2)
	assert.Equal(t, []string{"hi", "pic"}, kws)
	want, _ := src.Get(ctx, 1, "pic")
	got, err := dst.Get(ctx, 2, "pic")
	require.NoError(t, err)
	assert.Equal(t, want.Response, got.Response)
}

func TestImport_Invalid(t *testing.T) {
	tests := []struct {
		name string
		doc  string
	}{
		{"bad version", "version: 9\nfilters: []\n"},
		{"missing keyword", "version: 1\nfilters:\n  - reply: x\n"},
		{"unknown kind", "version: 1\nfilters:\n  - keyword: a\n    reply: x\n    kind: gif\n"},
		{"missing reply", "version: 1\nfilters:\n  - keyword: a\n"},
		{"buttons on sticker", "version: 1\nfilters:\n  - keyword: a\n    reply: x\n  - keyword: s\n    reply: stk\n    kind: sticker\n    buttons:\n      - - label: L\n          target: https://x\n"},
		{"not yaml", "{{{"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := newMemStore()
			_, err := Import(context.Background(), s, 1, strings.NewReader(tt.doc))
			require.Error(t, err)
			kws, _ := s.ListKeywords(context.Background(), 1)
			assert.Empty(t, kws)
		})
	}
}

func TestImport_DefaultsKindToText(t *testing.T) {
	s := newMemStore()
	_, err := Import(context.Background(), s, 1, strings.NewReader("version: 1\nfilters:\n  - keyword: Hey\n    reply: there\n    has_markdown: true\n"))
	require.NoError(t, err)
	trig, err := s.Get(context.Background(), 1, "hey")
	require.NoError(t, err)
	assert.Equal(t, domain.KindText, trig.Kind)
}

func TestImport_FailedWriteStoresNothing(t *testing.T) {
	ctx := context.Background()
	s := newMemStore()
	s.addErr["b"] = errors.New("disk full")

	doc := "version: 1\nfilters:\n  - keyword: a\n    reply: one\n  - keyword: b\n    reply: two\n  - keyword: c\n    reply: three\n"
	n, err := Import(ctx, s, 1, strings.NewReader(doc))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "disk full")
	assert.Zero(t, n)

	kws, err := s.ListKeywords(ctx, 1)
	require.NoError(t, err)
	assert.Empty(t, kws)
}
