// Package router dispatches chat commands to handlers.
//
// Commands are flat ("/poll", "/burst") with optional aliases. Handlers run
// on a small supervised worker pool behind panic recovery, request logging
// and a per-command timeout.
package router

import (
	"context"
	"fmt"
	"runtime/debug"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	rtsup "courtbot/internal/runtime/supervisor"
	kit "courtbot/internal/transport"
	logx "courtbot/pkg/logx"
)

type Access int

const (
	AccessEveryone Access = iota
	AccessOwnerOnly
)

type HandlerFunc func(ctx context.Context, req *Request) error

type Command struct {
	Name        string
	Aliases     []string
	Description string
	Usage       string
	Access      Access
	Timeout     time.Duration // 0 means the router default
	Handle      HandlerFunc
}

// Request is one parsed command invocation.
type Request struct {
	Chat         kit.ChatTarget
	FromID       int64
	FromUsername string
	Command      string
	Args         []string // positionals, flags removed
	RawArgs      []string
	Flags        map[string]string
	Bools        map[string]bool
	ReqID        string
	Logger       logx.Logger

	adapter kit.Adapter
}

// Reply sends HTML text back to the requesting chat.
func (r *Request) Reply(ctx context.Context, html string) error {
	_, err := r.adapter.SendText(ctx, r.Chat, html, &kit.SendOptions{ParseMode: "HTML", DisablePreview: true})
	return err
}

type Option func(*Router)

func WithWorkers(n int) Option {
	return func(r *Router) {
		if n > 0 {
			r.workers = n
		}
	}
}

func WithDefaultTimeout(d time.Duration) Option {
	return func(r *Router) {
		if d > 0 {
			r.timeout = d
		}
	}
}

type Router struct {
	mu       sync.RWMutex
	commands map[string]*Command // name and aliases
	ordered  []*Command
	owners   []int64

	log     logx.Logger
	adapter kit.Adapter
	workers int
	timeout time.Duration
	jobs    chan func(context.Context)
}

func New(adapter kit.Adapter, log logx.Logger, owners []int64, opts ...Option) *Router {
	if log.IsZero() {
		log = logx.Nop()
	}
	r := &Router{
		commands: map[string]*Command{},
		owners:   append([]int64(nil), owners...),
		log:      log,
		adapter:  adapter,
		workers:  4,
		timeout:  30 * time.Second,
		jobs:     make(chan func(context.Context), 256),
	}
	for _, o := range opts {
		o(r)
	}
	return r
}

// SetOwners replaces the owner list; safe during hot reload.
func (r *Router) SetOwners(owners []int64) {
	cp := append([]int64(nil), owners...)
	r.mu.Lock()
	r.owners = cp
	r.mu.Unlock()
}

func (r *Router) isOwner(id int64) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, o := range r.owners {
		if o == id {
			return true
		}
	}
	return false
}

// SetCommands replaces the registry. /help is always added. When the
// adapter supports it, the chat menu is refreshed in the background.
func (r *Router) SetCommands(ctx context.Context, cmds []Command) {
	cmds = append(cmds, Command{
		Name:        "help",
		Aliases:     []string{"start"},
		Description: "list commands",
		Usage:       "/help [command]",
		Access:      AccessEveryone,
		Handle: func(ctx context.Context, req *Request) error {
			return req.Reply(ctx, r.helpText(req.FromID, req.Args))
		},
	})

	reg := map[string]*Command{}
	ordered := make([]*Command, 0, len(cmds))
	for i := range cmds {
		c := &cmds[i]
		name := normalizeName(c.Name)
		if name == "" || c.Handle == nil {
			continue
		}
		c.Name = name
		reg[name] = c
		ordered = append(ordered, c)
		for _, a := range c.Aliases {
			if a = normalizeName(a); a != "" {
				if _, taken := reg[a]; !taken {
					reg[a] = c
				}
			}
		}
	}
	sort.Slice(ordered, func(i, j int) bool { return ordered[i].Name < ordered[j].Name })

	r.mu.Lock()
	r.commands = reg
	r.ordered = ordered
	r.mu.Unlock()

	if up, ok := r.adapter.(kit.CommandMenuUpdater); ok {
		menu := make([]kit.BotCommand, 0, len(ordered))
		for _, c := range ordered {
			menu = append(menu, kit.BotCommand{Command: c.Name, Description: c.Description})
		}
		go func() {
			mctx, cancel := context.WithTimeout(ctx, 5*time.Second)
			defer cancel()
			if err := up.UpdateMenuCommands(mctx, menu); err != nil {
				r.log.Debug("menu update failed", logx.Err(err))
			}
		}()
	}
}

func (r *Router) lookup(name string) (*Command, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.commands[name]
	return c, ok
}

// Run dispatches updates until ctx ends or updates closes.
func (r *Router) Run(ctx context.Context, updates <-chan kit.Update) error {
	sup := rtsup.New(ctx, rtsup.WithLogger(r.log), rtsup.WithCancelOnError(false))
	for i := 0; i < r.workers; i++ {
		sup.GoRestart(fmt.Sprintf("command.worker.%d", i), func(c context.Context) error {
			for {
				select {
				case <-c.Done():
					return nil
				case job := <-r.jobs:
					job(c)
				}
			}
		}, rtsup.WithRestartBackoff(200*time.Millisecond, 5*time.Second))
	}
	r.log.Info("command dispatcher started", logx.Int("workers", r.workers))
	defer func() {
		sup.Cancel()
		wctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		_ = sup.Wait(wctx)
		cancel()
		r.log.Info("command dispatcher stopped")
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case up, ok := <-updates:
			if !ok {
				return nil
			}
			job, ok := r.prepare(ctx, up)
			if !ok {
				continue
			}
			select {
			case r.jobs <- job:
			default:
				r.reply(ctx, up.Message, "busy, try again")
			}
		}
	}
}

// Handle runs one update synchronously on the calling goroutine.
func (r *Router) Handle(ctx context.Context, up kit.Update) {
	if job, ok := r.prepare(ctx, up); ok {
		job(ctx)
	}
}

// prepare parses and authorizes up. Replies for unknown or forbidden
// commands are sent here; ok is false when there is nothing to run.
func (r *Router) prepare(ctx context.Context, up kit.Update) (func(context.Context), bool) {
	msg := up.Message
	if up.Kind != kit.UpdateMessage || msg == nil {
		return nil, false
	}
	text := strings.TrimSpace(msg.Text)
	if !strings.HasPrefix(text, "/") {
		return nil, false
	}
	parts := tokenize(text)
	if len(parts) == 0 {
		return nil, false
	}
	word := strings.TrimPrefix(parts[0], "/")
	if i := strings.IndexByte(word, '@'); i >= 0 {
		word = word[:i]
	}
	cmd, ok := r.lookup(normalizeName(word))
	if !ok {
		r.reply(ctx, msg, "unknown command, try /help")
		return nil, false
	}
	if cmd.Access == AccessOwnerOnly && !r.isOwner(msg.FromID) {
		r.log.Warn("unauthorized command", logx.Int64("from_id", msg.FromID), logx.String("cmd", cmd.Name))
		r.reply(ctx, msg, "unauthorized")
		return nil, false
	}

	raw := parts[1:]
	pos, flags, bools := parseFlags(raw)
	rid := uuid.NewString()
	req := &Request{
		Chat:         kit.ChatTarget{ChatID: msg.ChatID, ThreadID: msg.ThreadID},
		FromID:       msg.FromID,
		FromUsername: msg.FromUsername,
		Command:      cmd.Name,
		Args:         pos,
		RawArgs:      raw,
		Flags:        flags,
		Bools:        bools,
		ReqID:        rid,
		Logger:       r.log.With(logx.String("rid", rid[:8]), logx.Int64("chat_id", msg.ChatID), logx.Int64("from_id", msg.FromID), logx.String("cmd", cmd.Name)),
		adapter:      r.adapter,
	}
	timeout := cmd.Timeout
	if timeout <= 0 {
		timeout = r.timeout
	}
	final := Chain(cmd.Handle, MWErrorReply(), MWRequestLog(), MWTimeout(timeout), MWPanicRecover())
	return func(c context.Context) {
		defer func() {
			if p := recover(); p != nil {
				r.log.Error("panic in command job", logx.Any("panic", p), logx.String("stack", string(debug.Stack())))
			}
		}()
		_ = final(c, req)
	}, true
}

func (r *Router) reply(ctx context.Context, msg *kit.Message, text string) {
	if msg == nil {
		return
	}
	if _, err := r.adapter.SendText(ctx, kit.ChatTarget{ChatID: msg.ChatID, ThreadID: msg.ThreadID}, text, nil); err != nil {
		r.log.Debug("reply failed", logx.Err(err))
	}
}

func normalizeName(s string) string {
	return strings.ToLower(strings.TrimPrefix(strings.TrimSpace(s), "/"))
}
