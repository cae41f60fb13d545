package filters

import (
	"strings"
	"unicode/utf8"

	"filterbot/internal/domain"
)

// ListingHeader is the first line of a filter listing. A chat name too
// long for maxLen is shortened so the header keeps its markup.
func ListingHeader(chatName string, private bool, maxLen int) string {
	if private {
		return "*local filters:*\n"
	}
	const prefix, suffix = "*Filters in ", ":*\n"
	if maxLen <= 0 {
		maxLen = domain.MaxMessageLength
	}
	budget := maxLen - utf8.RuneCountInString(prefix+suffix)
	return prefix + truncateEscaped(chatName, budget) + suffix
}

// truncateEscaped escapes s and cuts it to at most budget runes, never
// inside an escape. A cut name ends with an ellipsis.
func truncateEscaped(s string, budget int) string {
	escaped := EscapeMarkdown(s)
	if utf8.RuneCountInString(escaped) <= budget {
		return escaped
	}
	var b strings.Builder
	used := 0
	for _, r := range s {
		cost := 1
		if strings.ContainsRune("_*`[", r) {
			cost = 2
		}
		if used+cost > budget-1 {
			break
		}
		if cost == 2 {
			b.WriteByte('\\')
		}
		b.WriteRune(r)
		used += cost
	}
	if budget > 0 {
		b.WriteString("…")
	}
	return b.String()
}

// ListingChunks packs one escaped line per keyword into messages of at
// most maxLen characters. The first chunk starts with header. A nil
// result means there is nothing to list.
func ListingChunks(header string, keywords []string, maxLen int) []string {
	if len(keywords) == 0 {
		return nil
	}
	if maxLen <= 0 {
		maxLen = domain.MaxMessageLength
	}

	var chunks []string
	current := header
	size := utf8.RuneCountInString(header)
	if size > maxLen {
		current, _ = splitRunes(header, maxLen)
		size = maxLen
	}
	for _, kw := range keywords {
		entry := " - " + EscapeMarkdown(kw) + "\n"
		n := utf8.RuneCountInString(entry)
		if size+n > maxLen && size > 0 {
			chunks = append(chunks, current)
			current, size = "", 0
		}
		for n > maxLen {
			head, tail := splitRunes(entry, maxLen)
			chunks = append(chunks, head)
			entry, n = tail, n-maxLen
		}
		current += entry
		size += n
	}
	if size > 0 {
		chunks = append(chunks, current)
	}
	return chunks
}

// splitRunes splits s after n runes.
func splitRunes(s string, n int) (string, string) {
	i := 0
	for idx := range s {
		if i == n {
			return s[:idx], s[idx:]
		}
		i++
	}
	return s, ""
}
