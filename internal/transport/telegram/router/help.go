package router

import (
	"fmt"

	"courtbot/pkg/tgui"
)

// helpText lists the commands visible to from, or details one command.
func (r *Router) helpText(from int64, args []string) string {
	owner := r.isOwner(from)

	if len(args) > 0 {
		c, ok := r.lookup(normalizeName(args[0]))
		if !ok || (c.Access == AccessOwnerOnly && !owner) {
			return tgui.JoinH("\n", tgui.B("Unknown command"), tgui.Raw("Try <code>/help</code>.")).String()
		}
		var l tgui.Lines
		l.Add(tgui.B("/" + c.Name))
		if c.Description != "" {
			l.Add(tgui.Esc(c.Description))
		}
		if c.Usage != "" {
			l.Blank().Add(tgui.B("Usage")).Add(tgui.Code(c.Usage))
		}
		if len(c.Aliases) > 0 {
			l.KV("Aliases", fmt.Sprint(c.Aliases))
		}
		if c.Access == AccessOwnerOnly {
			l.Add(tgui.I("owner only"))
		}
		return l.String()
	}

	r.mu.RLock()
	cmds := append([]*Command(nil), r.ordered...)
	r.mu.RUnlock()

	var l tgui.Lines
	l.Add(tgui.B("Commands"))
	for _, c := range cmds {
		if c.Access == AccessOwnerOnly && !owner {
			continue
		}
		l.Add(tgui.Code("/"+c.Name), tgui.Esc("- "+c.Description))
	}
	l.Blank().Add(tgui.I("/help <command> for details"))
	return l.String()
}
