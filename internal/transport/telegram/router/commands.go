// Package router turns inbound chat lines into command requests and runs
// them on a bounded worker pool.
package router

import (
	"context"
	"regexp"
	"runtime"
	"runtime/debug"
	"strconv"
	"strings"
	"sync"
	"time"
	"unicode"

	"github.com/google/uuid"

	rtsup "remindme/internal/runtime/supervisor"
	kit "remindme/internal/transport"
	logx "remindme/pkg/logx"
)

type Command struct {
	Name        string
	Aliases     []string
	Description string
	Usage       string
	// Pattern is matched against the whole normalized line ("remindme 5 tea").
	// Submatches land in Request.Groups. A nil Pattern accepts any line.
	Pattern *regexp.Regexp
	Timeout time.Duration
	Handle  HandlerFunc
}

type Request struct {
	Msg     kit.Message
	Chat    kit.ChatTarget
	Command string
	Line    string
	Groups  []string
	ReqID   string

	Adapter kit.Adapter
	Logger  logx.Logger
}

func (r *Request) logger(fallback logx.Logger) logx.Logger {
	if r == nil || r.Logger.IsZero() {
		return fallback
	}
	return r.Logger
}

// Reply sends text back to the chat (and topic) the request came from.
func (r *Request) Reply(ctx context.Context, text string) error {
	_, err := r.Adapter.SendText(ctx, r.Chat, text, &kit.SendOptions{DisablePreview: true})
	return err
}

type Manager struct {
	mu    sync.RWMutex
	cmds  map[string]*Command
	menu  []kit.BotCommand
	botFn func() string

	log     logx.Logger
	adapter kit.Adapter

	jobs chan func()
}

// NewManager builds a router replying through adapter. botName reports the
// bot's own username so "/cmd@name" is recognized; it may be nil.
func NewManager(log logx.Logger, adapter kit.Adapter, botName func() string) *Manager {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Manager{
		cmds:    map[string]*Command{},
		botFn:   botName,
		log:     log,
		adapter: adapter,
		jobs:    make(chan func(), 256),
	}
}

// Menu returns the command menu built by the last SetRegistry.
func (m *Manager) Menu() []kit.BotCommand {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]kit.BotCommand(nil), m.menu...)
}

// SetRegistry replaces the command set and publishes the menu when the
// adapter supports it.
func (m *Manager) SetRegistry(ctx context.Context, cmds []Command) {
	reg := map[string]*Command{}
	menu := make([]kit.BotCommand, 0, len(cmds))
	for i := range cmds {
		c := cmds[i]
		name := strings.ToLower(strings.TrimSpace(c.Name))
		if name == "" || c.Handle == nil {
			continue
		}
		reg[name] = &c
		for _, a := range c.Aliases {
			if a = strings.ToLower(strings.TrimSpace(a)); a != "" {
				reg[a] = &c
			}
		}
		if mc := sanitizeMenuCommand(name); mc != "" {
			menu = append(menu, kit.BotCommand{Command: mc, Description: c.Description})
		}
	}

	m.mu.Lock()
	m.cmds = reg
	m.menu = menu
	m.mu.Unlock()

	if up, ok := m.adapter.(kit.CommandMenuUpdater); ok && ctx != nil {
		go func() {
			cctx, cancel := context.WithTimeout(ctx, 5*time.Second)
			defer cancel()
			if err := up.UpdateMenuCommands(cctx, menu); err != nil {
				m.log.Warn("menu update failed", logx.Err(err))
			}
		}()
	}
}

var reMenuName = regexp.MustCompile(`^[a-z0-9_]{1,32}$`)

func sanitizeMenuCommand(s string) string {
	s = strings.ReplaceAll(strings.ToLower(s), "-", "_")
	if !reMenuName.MatchString(s) {
		return ""
	}
	return s
}

func (m *Manager) tryEnqueue(fn func()) (ok bool) {
	defer func() {
		// jobs is closed once the loop exits
		if r := recover(); r != nil {
			ok = false
		}
	}()
	select {
	case m.jobs <- fn:
		return true
	default:
		return false
	}
}

// DispatchLoop reads messages until ctx is done or in is closed. Commands run
// on NumCPU (at least 2) workers; a full job queue answers "busy". It may be
// called only once per Manager.
func (m *Manager) DispatchLoop(ctx context.Context, in <-chan kit.Message) error {
	workers := max(runtime.NumCPU(), 2)
	sup := rtsup.New(ctx,
		rtsup.WithLogger(m.log),
		rtsup.WithCancelOnError(false),
	)
	m.log.Info("command dispatcher started", logx.Int("workers", workers), logx.Int("job_queue_cap", cap(m.jobs)))

	for i := 0; i < workers; i++ {
		idx := i
		sup.GoRestart("command.worker."+strconv.Itoa(idx), func(c context.Context) error {
			for {
				select {
				case <-c.Done():
					return nil
				case job, ok := <-m.jobs:
					if !ok {
						return nil
					}
					m.runJob(idx, job)
				}
			}
		},
			rtsup.WithRestartBackoff(200*time.Millisecond, 5*time.Second),
			rtsup.WithPublishFirstError(true),
		)
	}

	defer func() {
		close(m.jobs)
		wctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		_ = sup.Wait(wctx)
		cancel()
		m.log.Info("command dispatcher stopped")
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-in:
			if !ok {
				return nil
			}
			m.route(ctx, msg)
		}
	}
}

func (m *Manager) runJob(worker int, job func()) {
	defer func() {
		if r := recover(); r != nil {
			m.log.Error("panic in command job", logx.Int("worker", worker), logx.Any("panic", r), logx.Stack(string(debug.Stack())))
		}
	}()
	job()
}

// parseLine strips the command prefix and a "@bot" suffix. In groups the
// prefix ("/" or "!") is required so ordinary chatter isn't parsed.
func (m *Manager) parseLine(msg kit.Message) (name, line string, ok bool) {
	text := strings.TrimSpace(msg.Text)
	prefixed := strings.HasPrefix(text, "/") || strings.HasPrefix(text, "!")
	if !prefixed && msg.IsGroup {
		return "", "", false
	}
	if prefixed {
		text = text[1:]
	}
	word, rest := text, ""
	if i := strings.IndexFunc(text, unicode.IsSpace); i >= 0 {
		word, rest = text[:i], strings.TrimLeftFunc(text[i:], unicode.IsSpace)
	}
	if at := strings.IndexByte(word, '@'); at >= 0 {
		bot := ""
		if m.botFn != nil {
			bot = m.botFn()
		}
		if bot != "" && !strings.EqualFold(word[at+1:], bot) {
			// addressed to another bot
			return "", "", false
		}
		word = word[:at]
	}
	word = strings.ToLower(word)
	if word == "" {
		return "", "", false
	}
	if rest == "" {
		return word, word, true
	}
	return word, word + " " + rest, true
}

func (m *Manager) route(ctx context.Context, msg kit.Message) {
	name, line, ok := m.parseLine(msg)
	if !ok {
		return
	}
	m.mu.RLock()
	cmd := m.cmds[name]
	m.mu.RUnlock()
	if cmd == nil {
		return
	}

	var groups []string
	if cmd.Pattern != nil {
		sm := cmd.Pattern.FindStringSubmatch(line)
		if sm == nil {
			chat := kit.ChatTarget{ChatID: msg.ChatID, ThreadID: msg.ThreadID}
			_, _ = m.adapter.SendText(ctx, chat, "usage: "+cmd.Usage, nil)
			return
		}
		groups = sm[1:]
	}

	rid := uuid.NewString()
	req := &Request{
		Msg:     msg,
		Chat:    kit.ChatTarget{ChatID: msg.ChatID, ThreadID: msg.ThreadID},
		Command: cmd.Name,
		Line:    line,
		Groups:  groups,
		ReqID:   rid,
		Adapter: m.adapter,
		Logger: m.log.With(
			logx.String("rid", rid),
			logx.Int64("chat_id", msg.ChatID),
			logx.Int64("from_id", msg.FromID),
			logx.String("cmd", cmd.Name),
		),
	}
	final := Chain(cmd.Handle,
		MWPanicRecover(m.log),
		MWRequestLog(m.log),
		MWTimeout(cmd.Timeout),
	)
	if !m.tryEnqueue(func() { _ = final(ctx, req) }) {
		_, _ = m.adapter.SendText(ctx, req.Chat, "busy, try again", nil)
	}
}
