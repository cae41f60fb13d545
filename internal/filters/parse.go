package filters

import (
	"regexp"
	"strings"
	"unicode"

	"filterbot/internal/domain"
)

const (
	smartOpen  = '“'
	smartClose = '”'
)

// SplitQuotes splits command arguments into a keyword and an optional body.
// A keyword may be quoted with ', " or smart quotes to include spaces;
// backslash escapes are honored inside the quotes. Without a recognised
// quote the text is split at the first whitespace run. The body keeps its
// trailing text so it stays a suffix of the input.
func SplitQuotes(text string) []string {
	runes := []rune(text)
	if len(runes) == 0 {
		return nil
	}
	quote := runes[0]
	if quote != '\'' && quote != '"' && quote != smartOpen {
		return splitFirstField(text)
	}

	i := 1
	for ; i < len(runes); i++ {
		if runes[i] == '\\' {
			i++
			continue
		}
		if runes[i] == quote || (quote == smartOpen && runes[i] == smartClose) {
			break
		}
	}
	if i >= len(runes) {
		return splitFirstField(text)
	}

	key := removeEscapes(strings.TrimSpace(string(runes[1:i])))
	rest := strings.TrimLeftFunc(string(runes[i+1:]), unicode.IsSpace)
	if key == "" {
		key = string(quote) + string(quote)
	}
	if strings.TrimSpace(rest) == "" {
		return []string{key}
	}
	return []string{key, rest}
}

func splitFirstField(text string) []string {
	text = strings.TrimLeftFunc(text, unicode.IsSpace)
	if text == "" {
		return nil
	}
	idx := strings.IndexFunc(text, unicode.IsSpace)
	if idx < 0 {
		return []string{text}
	}
	rest := strings.TrimLeftFunc(text[idx:], unicode.IsSpace)
	if strings.TrimSpace(rest) == "" {
		return []string{text[:idx]}
	}
	return []string{text[:idx], rest}
}

func removeEscapes(text string) string {
	var b strings.Builder
	escaped := false
	for _, r := range text {
		switch {
		case escaped:
			b.WriteRune(r)
			escaped = false
		case r == '\\':
			escaped = true
		default:
			b.WriteRune(r)
		}
	}
	return b.String()
}

// buttonPattern matches [label](buttonurl:target) with an optional :same
// suffix that keeps the button on the previous row.
var buttonPattern = regexp.MustCompile(`\[([^\[]+?)\]\(buttonurl:(?:/{0,2})(.+?)(:same)?\)`)

// ParseButtons strips button markup from text and returns the remaining
// text with the button rows. Markup preceded by an odd number of
// backslashes is kept as literal text, minus the escaping backslash.
func ParseButtons(text string) (string, [][]domain.Button) {
	var (
		b    strings.Builder
		rows [][]domain.Button
		prev int
	)
	for _, m := range buttonPattern.FindAllStringSubmatchIndex(text, -1) {
		start, end := m[0], m[1]

		escapes := 0
		for i := start - 1; i >= 0 && text[i] == '\\'; i-- {
			escapes++
		}
		if escapes%2 == 1 {
			b.WriteString(text[prev : start-1])
			b.WriteString(text[start:end])
			prev = end
			continue
		}

		btn := domain.Button{Label: text[m[2]:m[3]], Target: text[m[4]:m[5]]}
		sameRow := m[6] >= 0
		if sameRow && len(rows) > 0 {
			rows[len(rows)-1] = append(rows[len(rows)-1], btn)
		} else {
			rows = append(rows, []domain.Button{btn})
		}
		b.WriteString(text[prev:start])
		prev = end
	}
	b.WriteString(text[prev:])
	return b.String(), rows
}

// EscapeMarkdown escapes the characters legacy Telegram Markdown treats
// as formatting.
func EscapeMarkdown(text string) string {
	var b strings.Builder
	b.Grow(len(text))
	for _, r := range text {
		switch r {
		case '_', '*', '`', '[':
			b.WriteByte('\\')
		}
		b.WriteRune(r)
	}
	return b.String()
}
