package telegram

import "strings"

// telegramTextLimit is the Bot API cap on message text, in characters.
const telegramTextLimit = 4096

// splitTelegramText splits s into parts of at most limit runes. It prefers
// blank-line then newline boundaries and, in HTML mode, avoids cutting inside
// a tag. It always returns at least one part.
func splitTelegramText(s string, limit int, parseMode string) []string {
	if limit <= 0 {
		limit = telegramTextLimit
	}
	rs := []rune(s)
	if len(rs) <= limit {
		return []string{s}
	}

	out := make([]string, 0, (len(rs)+limit-1)/limit)
	start := 0
	for start < len(rs) {
		end := min(start+limit, len(rs))

		if end < len(rs) {
			if cut := lastBreak(rs, start, end, limit/3); cut != -1 {
				end = cut
			}
		}

		if strings.EqualFold(parseMode, "HTML") && end < len(rs) {
			lastOpen, lastClose := -1, -1
			for i := start; i < end; i++ {
				switch rs[i] {
				case '<':
					lastOpen = i
				case '>':
					lastClose = i
				}
			}
			if lastOpen > lastClose && lastOpen > start+1 {
				end = lastOpen
			}
		}

		out = append(out, strings.TrimRight(string(rs[start:end]), "\n"))
		start = end
		for start < len(rs) && rs[start] == '\n' {
			start++
		}
	}
	return out
}

// lastBreak finds the cut after the last "\n\n", or else the last "\n", in
// rs[start:end], ignoring cuts that leave less than minLen runes.
func lastBreak(rs []rune, start, end, minLen int) int {
	single := -1
	for i := end - 1; i > start; i-- {
		if rs[i] != '\n' || i-start < minLen {
			continue
		}
		if rs[i-1] == '\n' {
			return i + 1
		}
		if single == -1 {
			single = i + 1
		}
	}
	return single
}
