package filters

import (
	"regexp"
	"sort"
	"strings"
	"unicode/utf16"

	"filterbot/internal/domain"
)

// MarkdownFromEntities renders text[start:end] as legacy Markdown, turning
// the formatting entities of the full text back into markup. Entity offsets
// are UTF-16 positions in text; entities that begin before start, run past
// end or overlap an earlier entity are left as plain text. Unpaired markup
// characters in plain text are escaped.
func MarkdownFromEntities(text string, entities []domain.Entity, start, end int) string {
	if start >= end {
		return ""
	}
	if len(entities) == 0 {
		return EscapeUnpaired(text[start:end])
	}

	units := utf16.Encode([]rune(text))
	from := utf16Len(text[:start])
	to := utf16Len(text[:end])

	sorted := make([]domain.Entity, len(entities))
	copy(sorted, entities)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Offset < sorted[j].Offset })

	var out []rune
	cursor := from
	for _, e := range sorted {
		if e.Offset < cursor || e.Length <= 0 || e.Offset+e.Length > to {
			continue
		}
		open, close, ok := markupFor(e)
		if !ok {
			continue
		}
		out = append(out, []rune(EscapeUnpaired(string(utf16.Decode(units[cursor:e.Offset]))))...)
		out = append(out, []rune(open)...)
		inner := utf16.Decode(units[e.Offset : e.Offset+e.Length])
		if e.Type == "url" {
			inner = []rune(EscapeMarkdown(string(inner)))
		}
		out = append(out, inner...)
		out = append(out, []rune(close)...)
		cursor = e.Offset + e.Length
	}
	out = append(out, []rune(EscapeUnpaired(string(utf16.Decode(units[cursor:to]))))...)
	return string(out)
}

var (
	// linkSpan matches [label](target), button markup included.
	linkSpan = regexp.MustCompile(`\[[^\]\n]*\]\([^)\n]*\)`)
	// pairSpan matches a balanced *bold*, _italic_ or `code` span at the
	// start of its input.
	pairSpan = regexp.MustCompile("^(?:\\*[^*\n]*\\*|_[^_\n]*_|`[^`\n]*`)")
)

// EscapeUnpaired escapes the legacy Markdown characters of text that do
// not belong to a balanced span. Links, balanced spans and backslash
// escapes are kept, so button markup survives for ParseButtons.
func EscapeUnpaired(text string) string {
	var b strings.Builder
	b.Grow(len(text))
	prev := 0
	for _, m := range linkSpan.FindAllStringIndex(text, -1) {
		escapeSegment(&b, text[prev:m[0]])
		b.WriteString(text[m[0]:m[1]])
		prev = m[1]
	}
	escapeSegment(&b, text[prev:])
	return b.String()
}

func escapeSegment(b *strings.Builder, s string) {
	for i := 0; i < len(s); {
		c := s[i]
		switch c {
		case '\\':
			if i+1 < len(s) {
				b.WriteString(s[i : i+2])
				i += 2
				continue
			}
		case '*', '_', '`':
			if span := pairSpan.FindString(s[i:]); span != "" {
				b.WriteString(span)
				i += len(span)
				continue
			}
			b.WriteByte('\\')
		case '[':
			b.WriteByte('\\')
		}
		b.WriteByte(c)
		i++
	}
}

func markupFor(e domain.Entity) (open, close string, ok bool) {
	switch e.Type {
	case "bold":
		return "*", "*", true
	case "italic":
		return "_", "_", true
	case "code":
		return "`", "`", true
	case "pre":
		return "```", "```", true
	case "url":
		return "", "", true
	case "text_link":
		if e.URL == "" {
			return "", "", false
		}
		return "[", "](" + e.URL + ")", true
	}
	return "", "", false
}

func utf16Len(s string) int {
	n := 0
	for _, r := range s {
		if r >= 0x10000 {
			n += 2
		} else {
			n++
		}
	}
	return n
}
