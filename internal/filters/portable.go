package filters

import (
	"context"
	"fmt"
	"io"

	"gopkg.in/yaml.v3"

	"filterbot/internal/domain"
)

const portableVersion = 1

// Document is the YAML form of a chat's filters.
type Document struct {
	Version int     `yaml:"version"`
	ChatID  int64   `yaml:"chat_id,omitempty"`
	Filters []Entry `yaml:"filters"`
}

// Entry is one exported filter.
type Entry struct {
	Keyword         string `yaml:"keyword"`
	domain.Response `yaml:",inline"`
}

// Export writes every filter of chatID to w as YAML, in store order.
func Export(ctx context.Context, store domain.TriggerStore, chatID int64, w io.Writer) (int, error) {
	keywords, err := store.ListKeywords(ctx, chatID)
	if err != nil {
		return 0, fmt.Errorf("list filters: %w", err)
	}

	doc := Document{Version: portableVersion, ChatID: chatID, Filters: make([]Entry, 0, len(keywords))}
	for _, kw := range keywords {
		trig, err := store.Get(ctx, chatID, kw)
		if err != nil {
			return 0, fmt.Errorf("get filter %q: %w", kw, err)
		}
		doc.Filters = append(doc.Filters, Entry{Keyword: trig.Keyword, Response: trig.Response})
	}

	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(doc); err != nil {
		return 0, fmt.Errorf("encode filters: %w", err)
	}
	if err := enc.Close(); err != nil {
		return 0, fmt.Errorf("encode filters: %w", err)
	}
	return len(doc.Filters), nil
}

// Import reads a YAML document from r and adds its filters to chatID,
// overwriting filters with the same keyword. The document is validated
// first and stored in one batch, so a rejected document stores nothing.
func Import(ctx context.Context, store domain.TriggerStore, chatID int64, r io.Reader) (int, error) {
	var doc Document
	if err := yaml.NewDecoder(r).Decode(&doc); err != nil {
		return 0, fmt.Errorf("decode filters: %w", err)
	}
	if doc.Version != portableVersion {
		return 0, fmt.Errorf("unsupported filters version %d", doc.Version)
	}

	triggers := make([]domain.Trigger, 0, len(doc.Filters))
	for i, e := range doc.Filters {
		if domain.NormalizeKeyword(e.Keyword) == "" {
			return 0, fmt.Errorf("filter %d: %w", i+1, domain.ErrNoKeyword)
		}
		if e.Kind == "" {
			e.Kind = domain.KindText
		}
		if err := e.Response.Validate(); err != nil {
			return 0, fmt.Errorf("filter %q: %w", e.Keyword, err)
		}
		if e.Reply == "" {
			return 0, fmt.Errorf("filter %q: %w", e.Keyword, domain.ErrNothingToReply)
		}
		triggers = append(triggers, domain.Trigger{ChatID: chatID, Keyword: e.Keyword, Response: e.Response})
	}

	if err := store.AddAll(ctx, triggers); err != nil {
		return 0, fmt.Errorf("store filters: %w", err)
	}
	return len(triggers), nil
}
