package telegramtransport

import "strings"

// MaxMessageLen is Telegram's hard per-message character limit.
const MaxMessageLen = 4096

// SplitMessage breaks text into chunks of at most MaxMessageLen runes,
// preferring to break at a paragraph boundary, then a newline, then a
// sentence end, then a space, falling back to a hard break mid-word.
// Text exactly at the limit is returned unsplit (boundary behavior).
func SplitMessage(text string) []string {
	return splitAt(text, MaxMessageLen)
}

func splitAt(text string, limit int) []string {
	runes := []rune(text)
	if len(runes) <= limit {
		return []string{text}
	}

	var chunks []string
	for len(runes) > limit {
		cut := bestBoundary(runes, limit)
		chunks = append(chunks, string(runes[:cut]))
		runes = runes[cut:]
		// Drop all leading newlines/spaces left behind by a boundary
		// split so continuations don't start with stray whitespace.
		for len(runes) > 0 && (runes[0] == '\n' || runes[0] == ' ') {
			runes = runes[1:]
		}
	}
	if len(runes) > 0 {
		chunks = append(chunks, string(runes))
	}
	return chunks
}

// bestBoundary finds the best split point within runes[:limit], searching
// back from the limit: paragraph break (\n\n) > newline > sentence end
// (". ", "! ", "? ") > space > hard break at the limit itself. The result
// is guaranteed to leave at least half the limit in the first chunk so a
// pathological run of short tokens near the end can't force a tiny split.
func bestBoundary(runes []rune, limit int) int {
	if limit >= len(runes) {
		return len(runes)
	}
	window := runes[:limit]
	minCut := limit / 2

	if i := lastIndexRunes(window, []rune("\n\n")); i >= minCut {
		return i + 2
	}
	if i := lastIndexRune(window, '\n'); i >= minCut {
		return i + 1
	}
	for _, sep := range []string{". ", "! ", "? "} {
		if i := lastIndexRunes(window, []rune(sep)); i >= minCut {
			return i + len(sep)
		}
	}
	if i := lastIndexRune(window, ' '); i >= minCut {
		return i + 1
	}
	return limit
}

func lastIndexRune(rs []rune, target rune) int {
	for i := len(rs) - 1; i >= 0; i-- {
		if rs[i] == target {
			return i
		}
	}
	return -1
}

func lastIndexRunes(rs []rune, sub []rune) int {
	s := string(rs)
	idx := strings.LastIndex(s, string(sub))
	if idx < 0 {
		return -1
	}
	return len([]rune(s[:idx]))
}

// TruncateTopicName enforces Telegram's 128-character forum-topic name
// limit, truncating to 125 characters plus an ellipsis when over.
func TruncateTopicName(name string) string {
	runes := []rune(name)
	if len(runes) <= 128 {
		return name
	}
	return string(runes[:125]) + "…"
}

// SplitReasoning elides reasoning text over 60 characters to
// "beginning…end": the first half and the last half of a 60-character
// budget, split at the text's own midpoint so the two shown segments never
// overlap. Text at or under 60 characters is returned unchanged (§4.8.2,
// boundary behaviors).
func SplitReasoning(text string) string {
	runes := []rune(text)
	if len(runes) <= 60 {
		return text
	}
	mid := len(runes) / 2
	half := 30
	if half > mid {
		half = mid
	}
	beginning := runes[:half]
	end := runes[len(runes)-half:]
	return string(beginning) + "…" + string(end)
}
