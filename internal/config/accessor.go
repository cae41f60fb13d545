package config

import (
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"
)

// Setting is one leaf of the config tree.
type Setting struct {
	Path  string
	Value any
}

// tree renders cfg as the generic JSON object it is saved as.
func tree(cfg *Config) (map[string]any, error) {
	data, err := json.Marshal(cfg)
	if err != nil {
		return nil, err
	}
	var m map[string]any
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, err
	}
	return m, nil
}

// GetByPath returns the value at a dot path such as "filters.maxMessageLength".
// List elements are addressed by index ("filters.previewDomains.0").
func GetByPath(cfg *Config, path string) (any, error) {
	m, err := tree(cfg)
	if err != nil {
		return nil, err
	}
	var node any = m
	for _, key := range strings.Split(path, ".") {
		switch v := node.(type) {
		case map[string]any:
			child, ok := v[key]
			if !ok {
				return nil, fmt.Errorf("unknown config path: %s", path)
			}
			node = child
		case []any:
			idx, err := strconv.Atoi(key)
			if err != nil || idx < 0 || idx >= len(v) {
				return nil, fmt.Errorf("invalid list index %q in %s", key, path)
			}
			node = v[idx]
		default:
			return nil, fmt.Errorf("%s: %q is not a section", path, key)
		}
	}
	return node, nil
}

// SetByPath parses raw according to the current type of the field at path
// and stores it in cfg. Only existing leaves can be set; list fields take
// a comma separated value.
func SetByPath(cfg *Config, path, raw string) error {
	m, err := tree(cfg)
	if err != nil {
		return err
	}

	parts := strings.Split(path, ".")
	parent := m
	for _, key := range parts[:len(parts)-1] {
		child, ok := parent[key].(map[string]any)
		if !ok {
			return fmt.Errorf("unknown config path: %s", path)
		}
		parent = child
	}
	last := parts[len(parts)-1]
	current, ok := parent[last]
	if !ok {
		return fmt.Errorf("unknown config path: %s", path)
	}

	value, err := coerce(current, raw)
	if err != nil {
		return fmt.Errorf("%s: %w", path, err)
	}
	parent[last] = value

	data, err := json.Marshal(m)
	if err != nil {
		return err
	}
	var next Config
	if err := json.Unmarshal(data, &next); err != nil {
		return fmt.Errorf("%s: %w", path, err)
	}
	*cfg = next
	return nil
}

func coerce(current any, raw string) (any, error) {
	switch current.(type) {
	case map[string]any:
		return nil, fmt.Errorf("is a section, set one of its fields instead")
	case bool:
		b, err := strconv.ParseBool(raw)
		if err != nil {
			return nil, fmt.Errorf("%q is not a boolean", raw)
		}
		return b, nil
	case float64:
		if n, err := strconv.ParseInt(raw, 10, 64); err == nil {
			return n, nil
		}
		f, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			return nil, fmt.Errorf("%q is not a number", raw)
		}
		return f, nil
	case []any, nil:
		items := []any{}
		for _, item := range strings.Split(raw, ",") {
			if item = strings.TrimSpace(item); item != "" {
				items = append(items, item)
			}
		}
		return items, nil
	default:
		return raw, nil
	}
}

// Sanitize returns a copy of the config with sensitive values masked.
func Sanitize(cfg *Config) *Config {
	out := *cfg
	out.Telegram.AllowChats = append(FlexStringList(nil), cfg.Telegram.AllowChats...)
	out.Filters.PreviewDomains = append([]string(nil), cfg.Filters.PreviewDomains...)

	if out.Telegram.Token != "" {
		out.Telegram.Token = maskString(out.Telegram.Token)
	}
	if out.Telegram.Webhook.Secret != "" {
		out.Telegram.Webhook.Secret = "***"
	}
	return &out
}

// maskString keeps the first and last 4 characters.
func maskString(s string) string {
	if len(s) <= 8 {
		return "***"
	}
	return s[:4] + "****" + s[len(s)-4:]
}

// ListPaths returns every settable leaf, sorted by path.
func ListPaths(cfg *Config) []Setting {
	m, err := tree(cfg)
	if err != nil {
		return nil
	}
	var out []Setting
	flatten("", m, &out)
	sort.Slice(out, func(i, j int) bool { return out[i].Path < out[j].Path })
	return out
}

func flatten(prefix string, m map[string]any, out *[]Setting) {
	for k, v := range m {
		path := k
		if prefix != "" {
			path = prefix + "." + k
		}
		if child, ok := v.(map[string]any); ok {
			flatten(path, child, out)
			continue
		}
		*out = append(*out, Setting{Path: path, Value: v})
	}
}
