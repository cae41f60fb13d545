package filters

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"sync"

	"filterbot/internal/domain"
)

const maxCachedPatterns = 1024

// Matcher tests whether a keyword occurs in text as a delimited,
// case-insensitive token. Compiled patterns are cached.
type Matcher struct {
	mu       sync.RWMutex
	patterns map[string]*regexp.Regexp
}

func NewMatcher() *Matcher {
	return &Matcher{patterns: make(map[string]*regexp.Regexp)}
}

// Matches reports whether keyword appears in text bounded by start/end of
// text, whitespace or a non-word character.
func (m *Matcher) Matches(keyword, text string) bool {
	if keyword == "" || text == "" {
		return false
	}
	return m.pattern(keyword).MatchString(text)
}

func (m *Matcher) pattern(keyword string) *regexp.Regexp {
	m.mu.RLock()
	re, ok := m.patterns[keyword]
	m.mu.RUnlock()
	if ok {
		return re
	}

	re = regexp.MustCompile(`(?i)(?:^|[^\p{L}\p{N}_])` + regexp.QuoteMeta(keyword) + `(?:$|[^\p{L}\p{N}_])`)

	m.mu.Lock()
	if len(m.patterns) >= maxCachedPatterns {
		clear(m.patterns)
	}
	m.patterns[keyword] = re
	m.mu.Unlock()
	return re
}

// Engine finds the filter an incoming message triggers.
type Engine struct {
	store   domain.TriggerStore
	matcher *Matcher
}

func NewEngine(store domain.TriggerStore) *Engine {
	return &Engine{store: store, matcher: NewMatcher()}
}

// Find returns the first trigger of chatID, in store order, whose keyword
// occurs in text. It returns nil when nothing matches.
func (e *Engine) Find(ctx context.Context, chatID int64, text string) (*domain.Trigger, error) {
	if strings.TrimSpace(text) == "" {
		return nil, nil
	}
	keywords, err := e.store.ListKeywords(ctx, chatID)
	if err != nil {
		return nil, fmt.Errorf("list keywords: %w", err)
	}
	for _, kw := range keywords {
		if !e.matcher.Matches(kw, text) {
			continue
		}
		trig, err := e.store.Get(ctx, chatID, kw)
		if errors.Is(err, domain.ErrNotFound) {
			// removed after listing
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("get filter %q: %w", kw, err)
		}
		return trig, nil
	}
	return nil, nil
}
