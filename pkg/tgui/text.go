package tgui

import (
	"strings"
	"unicode/utf8"
)

// MaxMessageRunes is Telegram's text limit per message.
const MaxMessageRunes = 4096

// TruncRunes returns s truncated to at most n runes, ending in "…" when cut.
func TruncRunes(s string, n int) string {
	if n <= 0 {
		return ""
	}
	count := 0
	cut := 0
	for i, r := range s {
		count++
		if count == n {
			cut = i + utf8.RuneLen(r)
			continue
		}
		if count > n {
			if cut <= 0 {
				cut = i
			}
			return s[:cut] + "…"
		}
	}
	return s
}

// SplitLines packs whole lines into chunks of at most n runes. A single
// line longer than n is truncated.
func SplitLines(s string, n int) []string {
	if n <= 0 {
		n = MaxMessageRunes
	}
	if utf8.RuneCountInString(s) <= n {
		return []string{s}
	}
	var (
		out  []string
		cur  strings.Builder
		size int
	)
	for _, line := range strings.Split(s, "\n") {
		ln := utf8.RuneCountInString(line)
		if ln > n {
			line = TruncRunes(line, n-1)
			ln = n
		}
		if size > 0 && size+1+ln > n {
			out = append(out, cur.String())
			cur.Reset()
			size = 0
		}
		if size > 0 {
			cur.WriteByte('\n')
			size++
		}
		cur.WriteString(line)
		size += ln
	}
	if size > 0 {
		out = append(out, cur.String())
	}
	return out
}
