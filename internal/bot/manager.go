// Package bot routes chat updates to the subscription commands.
package bot

import (
	"context"
	"runtime"
	"runtime/debug"
	"sort"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	rtsup "farebot/internal/runtime/supervisor"
	kit "farebot/internal/transport"
	logx "farebot/pkg/logx"
)

// Subscriptions is the registry surface the commands drive.
type Subscriptions interface {
	Initialize(ctx context.Context, userID int64) error
	AddOrigin(ctx context.Context, userID int64, code string) error
	RemoveOrigin(ctx context.Context, userID int64, code string) error
	Pause(ctx context.Context, userID int64) error
	Resume(ctx context.Context, userID int64) error
	ListOrigins(ctx context.Context, userID int64) ([]string, error)
}

type Command struct {
	Name        string
	Description string
	Timeout     time.Duration
	Handle      HandlerFunc
}

// CallbackRoute handles inline button data of the form "<Prefix>:<payload>".
type CallbackRoute struct {
	Prefix  string
	Timeout time.Duration
	Handle  func(ctx context.Context, req *Request, payload string) error
}

type Request struct {
	Update  kit.Update
	ChatID  int64
	FromID  int64
	Command string
	Args    []string
	Text    string
	ReqID   string

	Adapter kit.Adapter
	Logger  logx.Logger
}

// Reply sends plain text to the request's chat.
func (r *Request) Reply(ctx context.Context, text string, opt *kit.SendOptions) error {
	_, err := r.Adapter.SendText(ctx, r.ChatID, text, opt)
	return err
}

// laneCap is the queue depth of one worker lane.
const laneCap = 64

type Config struct {
	// Workers is the handler pool size (default NumCPU, at least 2).
	Workers int
	// CommandTimeout bounds one command (default 15s).
	CommandTimeout time.Duration
	// AddTimeout bounds free-text subscription, which includes the
	// immediate dispatch (default 2m).
	AddTimeout time.Duration
}

type Manager struct {
	cfg     Config
	log     logx.Logger
	adapter kit.Adapter
	subs    Subscriptions

	mu        sync.RWMutex
	commands  map[string]Command
	callbacks map[string]CallbackRoute

	// announced is set once the added reply goes out from the trigger, ahead
	// of the fares.
	announced atomic.Bool

	runMu   sync.Mutex
	running bool
	sup     *rtsup.Supervisor

	// lanes[i] feeds worker i. A user always lands on the same lane, so
	// their updates are handled in arrival order.
	lanes []chan func()
}

func New(cfg Config, log logx.Logger, adapter kit.Adapter, subs Subscriptions) *Manager {
	if log.IsZero() {
		log = logx.Nop()
	}
	if cfg.Workers <= 0 {
		cfg.Workers = max(runtime.NumCPU(), 2)
	}
	if cfg.CommandTimeout <= 0 {
		cfg.CommandTimeout = 15 * time.Second
	}
	if cfg.AddTimeout <= 0 {
		cfg.AddTimeout = 2 * time.Minute
	}
	m := &Manager{
		cfg:     cfg,
		log:     log.With(logx.String("comp", "bot")),
		adapter: adapter,
		subs:    subs,
		lanes:   make([]chan func(), cfg.Workers),
	}
	for i := range m.lanes {
		m.lanes[i] = make(chan func(), laneCap)
	}
	m.setRegistry(m.builtinCommands(), m.builtinCallbacks())
	return m
}

// Supervisor returns the worker pool's supervisor (nil if not running).
func (m *Manager) Supervisor() *rtsup.Supervisor {
	m.runMu.Lock()
	defer m.runMu.Unlock()
	if !m.running {
		return nil
	}
	return m.sup
}

func (m *Manager) setSupervisor(sup *rtsup.Supervisor, running bool) {
	m.runMu.Lock()
	m.sup = sup
	m.running = running
	m.runMu.Unlock()
}

func (m *Manager) setRegistry(cmds []Command, cbs []CallbackRoute) {
	cm := make(map[string]Command, len(cmds))
	for _, c := range cmds {
		if c.Name == "" || c.Handle == nil {
			continue
		}
		cm[c.Name] = c
	}
	cb := make(map[string]CallbackRoute, len(cbs))
	for _, r := range cbs {
		if r.Prefix == "" || r.Handle == nil {
			continue
		}
		cb[r.Prefix] = r
	}
	m.mu.Lock()
	m.commands = cm
	m.callbacks = cb
	m.mu.Unlock()
}

// Commands returns the registered commands sorted by name.
func (m *Manager) Commands() []Command {
	m.mu.RLock()
	out := make([]Command, 0, len(m.commands))
	for _, c := range m.commands {
		out = append(out, c)
	}
	m.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// PublishMenu pushes the command list to the adapter's menu, if it has one.
func (m *Manager) PublishMenu(ctx context.Context) error {
	up, ok := m.adapter.(kit.CommandMenuUpdater)
	if !ok {
		return nil
	}
	cmds := m.Commands()
	menu := make([]kit.BotCommand, 0, len(cmds))
	for _, c := range cmds {
		menu = append(menu, kit.BotCommand{Command: c.Name, Description: c.Description})
	}
	return up.UpdateMenuCommands(ctx, menu)
}

func (m *Manager) lane(userID int64) chan func() {
	return m.lanes[uint64(userID)%uint64(len(m.lanes))]
}

// tryEnqueue queues fn on the lane owned by userID. Panic-safe: lanes are
// closed when the dispatcher stops.
func (m *Manager) tryEnqueue(userID int64, fn func()) (ok bool) {
	defer func() {
		if r := recover(); r != nil {
			ok = false
		}
	}()
	select {
	case m.lane(userID) <- fn:
		return true
	default:
		return false
	}
}

// DispatchLoop consumes updates until ctx is done or updates is closed.
// Handlers run on a bounded worker pool keyed by user id.
func (m *Manager) DispatchLoop(ctx context.Context, updates <-chan kit.Update) error {
	workers := m.cfg.Workers
	sup := rtsup.New(ctx, rtsup.WithLogger(m.log), rtsup.WithCancelOnError(false))
	m.setSupervisor(sup, true)
	m.log.Info("command dispatcher started", logx.Int("workers", workers), logx.Int("lane_cap", laneCap))

	var closeOnce sync.Once
	closeJobs := func() {
		closeOnce.Do(func() {
			m.setSupervisor(sup, false)
			for _, l := range m.lanes {
				close(l)
			}
		})
	}

	for i := 0; i < workers; i++ {
		idx := i
		jobs := m.lanes[idx]
		sup.GoRestart("command.worker."+strconv.Itoa(idx), func(c context.Context) error {
			for {
				select {
				case <-c.Done():
					return nil
				case job, ok := <-jobs:
					if !ok {
						return nil
					}
					func() {
						defer func() {
							if r := recover(); r != nil {
								m.log.Error("panic in command job", logx.Int("worker", idx), logx.Any("panic", r), logx.Stack(string(debug.Stack())))
							}
						}()
						job()
					}()
				}
			}
		},
			rtsup.WithRestartBackoff(200*time.Millisecond, 5*time.Second),
			rtsup.WithPublishFirstError(true),
		)
	}

	defer func() {
		closeJobs()
		wctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		_ = sup.Wait(wctx)
		cancel()
		m.setSupervisor(nil, false)
		m.log.Info("command dispatcher stopped")
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case up, ok := <-updates:
			if !ok {
				return nil
			}
			m.routeUpdate(ctx, up)
		}
	}
}

func (m *Manager) routeUpdate(ctx context.Context, up kit.Update) {
	switch up.Kind {
	case kit.UpdateMessage:
		m.routeMessage(ctx, up)
	case kit.UpdateCallback:
		m.routeCallback(ctx, up)
	}
}

func (m *Manager) routeMessage(ctx context.Context, up kit.Update) {
	msg := up.Message
	if msg == nil {
		return
	}
	text := strings.TrimSpace(msg.Text)
	if text == "" {
		return
	}
	if !msg.IsPrivate {
		_, _ = m.adapter.SendText(ctx, msg.ChatID, ReplyPrivateOnly, nil)
		return
	}

	if !strings.HasPrefix(text, "/") {
		m.enqueue(ctx, up, Command{Name: "add", Timeout: m.cfg.AddTimeout, Handle: m.handleAdd}, nil, text)
		return
	}

	parts := strings.Fields(text)
	word := strings.TrimPrefix(parts[0], "/")
	if i := strings.IndexByte(word, '@'); i >= 0 {
		word = word[:i]
	}
	word = strings.ToLower(word)

	m.mu.RLock()
	cmd, ok := m.commands[word]
	m.mu.RUnlock()
	if !ok {
		_, _ = m.adapter.SendText(ctx, msg.ChatID, ReplyUnknownCommand, nil)
		return
	}
	if cmd.Timeout <= 0 {
		cmd.Timeout = m.cfg.CommandTimeout
	}
	m.enqueue(ctx, up, cmd, parts[1:], text)
}

func (m *Manager) enqueue(ctx context.Context, up kit.Update, cmd Command, args []string, text string) {
	msg := up.Message
	rid := newReqID()
	req := &Request{
		Update:  up,
		ChatID:  msg.ChatID,
		FromID:  msg.FromID,
		Command: cmd.Name,
		Args:    args,
		Text:    text,
		ReqID:   rid,
		Adapter: m.adapter,
		Logger: m.log.With(
			logx.String("rid", rid),
			logx.Int64("chat_id", msg.ChatID),
			logx.Int64("from_id", msg.FromID),
			logx.String("cmd", cmd.Name),
		),
	}
	if !m.tryEnqueue(msg.FromID, func() { _ = invoke(ctx, req, cmd.Timeout, cmd.Handle) }) {
		_, _ = m.adapter.SendText(ctx, msg.ChatID, ReplyBusy, nil)
	}
}

func (m *Manager) routeCallback(ctx context.Context, up kit.Update) {
	cb := up.Callback
	if cb == nil {
		return
	}
	prefix, payload, ok := strings.Cut(strings.TrimSpace(cb.Data), ":")
	if !ok {
		_ = m.adapter.AnswerCallback(ctx, cb.ID, "")
		return
	}
	m.mu.RLock()
	route, ok := m.callbacks[prefix]
	m.mu.RUnlock()
	if !ok {
		_ = m.adapter.AnswerCallback(ctx, cb.ID, "")
		return
	}

	rid := newReqID()
	req := &Request{
		Update:  up,
		ChatID:  cb.ChatID,
		FromID:  cb.FromID,
		Command: "cb:" + prefix,
		ReqID:   rid,
		Adapter: m.adapter,
		Logger: m.log.With(
			logx.String("rid", rid),
			logx.Int64("chat_id", cb.ChatID),
			logx.Int64("from_id", cb.FromID),
			logx.String("cmd", "cb:"+prefix),
		),
	}
	h := func(ctx context.Context, r *Request) error { return route.Handle(ctx, r, payload) }
	timeout := route.Timeout
	if timeout <= 0 {
		timeout = m.cfg.CommandTimeout
	}
	if !m.tryEnqueue(cb.FromID, func() { _ = invoke(ctx, req, timeout, h) }) {
		_ = m.adapter.AnswerCallback(ctx, cb.ID, ReplyBusy)
	}
}

func newReqID() string {
	return uuid.NewString()[:8]
}
