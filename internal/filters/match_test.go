package filters

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"filterbot/internal/domain"
)

func TestMatcher(t *testing.T) {
	tests := []struct {
		keyword string
		text    string
		want    bool
	}{
		{"hello", "I said HELLO there", true},
		{"hello", "hellothere", false},
		{"hello", "hello!", true},
		{"hello", "say hello", true},
		{"hello", "ahello", false},
		{"hello", "hello_world", false},
		{"hello", "(hello)", true},
		{"good morning", "well, good morning to you too", true},
		{"c++", "I love c++", true},
		{"a.b", "axb", false},
		{"héllo", "HÉLLO!", true},
		{"", "anything", false},
		{"hello", "", false},
	}
	m := NewMatcher()
	for _, tt := range tests {
		t.Run(tt.keyword+"/"+tt.text, func(t *testing.T) {
			assert.Equal(t, tt.want, m.Matches(tt.keyword, tt.text))
		})
	}
}

func TestMatcher_CacheBounded(t *testing.T) {
	m := NewMatcher()
	for i := 0; i < maxCachedPatterns+10; i++ {
		m.Matches(string(rune('a'+i%26))+string(rune(0x4e00+i)), "x")
	}
	assert.LessOrEqual(t, len(m.patterns), maxCachedPatterns)
}

func addText(t *testing.T, s domain.TriggerStore, chatID int64, keyword, reply string) {
	t.Helper()
	require.NoError(t, s.Add(context.Background(), chatID, keyword,
		domain.Response{Reply: reply, Kind: domain.KindText, HasMarkdown: true}))
}

func TestEngine_FirstMatchInStoreOrder(t *testing.T) {
	ctx := context.Background()
	s := newMemStore()
	addText(t, s, 1, "hi", "first")
	addText(t, s, 1, "hi there", "second")

	e := NewEngine(s)
	trig, err := e.Find(ctx, 1, "hi there friend")
	require.NoError(t, err)
	require.NotNil(t, trig)
	assert.Equal(t, "hi", trig.Keyword)

	trig, err = e.Find(ctx, 2, "hi there friend")
	require.NoError(t, err)
	assert.Nil(t, trig)
}

func TestEngine_EmptyText(t *testing.T) {
	s := newMemStore()
	addText(t, s, 1, "hi", "first")
	trig, err := NewEngine(s).Find(context.Background(), 1, "   ")
	require.NoError(t, err)
	assert.Nil(t, trig)
}

func TestEngine_SkipsFilterRemovedAfterListing(t *testing.T) {
	s := newMemStore()
	addText(t, s, 1, "hi", "first")
	addText(t, s, 1, "there", "second")
	s.getErr["hi"] = domain.ErrNotFound

	trig, err := NewEngine(s).Find(context.Background(), 1, "hi there")
	require.NoError(t, err)
	require.NotNil(t, trig)
	assert.Equal(t, "there", trig.Keyword)
}

func TestEngine_StoreError(t *testing.T) {
	s := newMemStore()
	addText(t, s, 1, "hi", "first")
	boom := errors.New("disk on fire")
	s.getErr["hi"] = boom

	_, err := NewEngine(s).Find(context.Background(), 1, "hi")
	require.ErrorIs(t, err, boom)
}
