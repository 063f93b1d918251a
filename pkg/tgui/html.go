package tgui

import (
	"html"
	"strings"
)

// H is HTML that is safe to send with ParseMode="HTML".
// Values of type H are already escaped.
type H string

func (h H) String() string { return string(h) }

// Esc escapes text for HTML parse mode.
func Esc(s string) H { return H(html.EscapeString(s)) }

// Raw marks a string as already-safe HTML. Use sparingly.
func Raw(s string) H { return H(s) }

func wrap(tag string, inner H) H { return H("<" + tag + ">" + inner.String() + "</" + tag + ">") }

func B(s string) H    { return wrap("b", Esc(s)) }
func I(s string) H    { return wrap("i", Esc(s)) }
func Code(s string) H { return wrap("code", Esc(s)) }

// Pre renders a preformatted block. Telegram needs balanced tags per
// message, so split long content before wrapping it.
func Pre(s string) H {
	return H("<pre>" + html.EscapeString(s) + "</pre>")
}

// JoinH joins non-blank parts with sep.
func JoinH(sep string, parts ...H) H {
	ss := make([]string, 0, len(parts))
	for _, p := range parts {
		if strings.TrimSpace(p.String()) == "" {
			continue
		}
		ss = append(ss, p.String())
	}
	return H(strings.Join(ss, sep))
}

// Lines accumulates one HTML line per call.
type Lines struct {
	parts []H
}

func (l *Lines) Add(parts ...H) *Lines {
	l.parts = append(l.parts, JoinH(" ", parts...))
	return l
}

// KV adds "<b>key</b>: value".
func (l *Lines) KV(key, value string) *Lines {
	return l.Add(H(B(key).String()+":"), Esc(value))
}

func (l *Lines) Blank() *Lines {
	l.parts = append(l.parts, "")
	return l
}

func (l *Lines) Len() int { return len(l.parts) }

func (l *Lines) H() H {
	ss := make([]string, len(l.parts))
	for i, p := range l.parts {
		ss[i] = p.String()
	}
	return H(strings.Join(ss, "\n"))
}

func (l *Lines) String() string { return l.H().String() }
