package bot

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"farebot/internal/storage"
	"farebot/internal/subscription"
	kit "farebot/internal/transport"
	logx "farebot/pkg/logx"
)

type sentMsg struct {
	chatID int64
	text   string
	opt    *kit.SendOptions
}

type fakeAdapter struct {
	mu       sync.Mutex
	sent     []sentMsg
	edits    []string
	answers  []string
	menu     []kit.BotCommand
	nextID   int
	notifyCh chan struct{}
}

func newFakeAdapter() *fakeAdapter { return &fakeAdapter{notifyCh: make(chan struct{}, 64)} }

func (f *fakeAdapter) Start(context.Context, chan<- kit.Update) error { return nil }
func (f *fakeAdapter) Stop(context.Context) error                     { return nil }

func (f *fakeAdapter) SendText(_ context.Context, chatID int64, text string, opt *kit.SendOptions) (kit.MessageRef, error) {
	f.mu.Lock()
	f.nextID++
	f.sent = append(f.sent, sentMsg{chatID: chatID, text: text, opt: opt})
	id := f.nextID
	f.mu.Unlock()
	f.notifyCh <- struct{}{}
	return kit.MessageRef{ChatID: chatID, MessageID: id}, nil
}

func (f *fakeAdapter) EditText(_ context.Context, _ kit.MessageRef, text string, _ *kit.SendOptions) error {
	f.mu.Lock()
	f.edits = append(f.edits, text)
	f.mu.Unlock()
	f.notifyCh <- struct{}{}
	return nil
}

func (f *fakeAdapter) AnswerCallback(_ context.Context, _ string, text string) error {
	f.mu.Lock()
	f.answers = append(f.answers, text)
	f.mu.Unlock()
	f.notifyCh <- struct{}{}
	return nil
}

func (f *fakeAdapter) UpdateMenuCommands(_ context.Context, cmds []kit.BotCommand) error {
	f.mu.Lock()
	f.menu = cmds
	f.mu.Unlock()
	return nil
}

func (f *fakeAdapter) texts() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, 0, len(f.sent))
	for _, s := range f.sent {
		out = append(out, s.text)
	}
	return out
}

type codes map[string]bool

func (c codes) Valid(code string) bool { return c[code] }

type harness struct {
	t   *testing.T
	ad  *fakeAdapter
	reg *subscription.Registry
	m   *Manager
	in  chan kit.Update
}

func newHarness(t *testing.T, trigger subscription.Trigger) *harness {
	t.Helper()
	ad := newFakeAdapter()
	reg := subscription.NewRegistry(storage.NewMemory(), codes{"KRK": true, "WAW": true}, logx.Nop(), nil)
	m := New(Config{Workers: 1}, logx.Nop(), ad, reg)
	if trigger != nil {
		reg.SetTrigger(m.Announce(trigger))
	}
	h := &harness{t: t, ad: ad, reg: reg, m: m, in: make(chan kit.Update, 16)}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		_ = m.DispatchLoop(ctx, h.in)
		close(done)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
	return h
}

// say sends text from user 7 and waits for n outgoing actions.
func (h *harness) say(text string, n int) {
	h.t.Helper()
	h.in <- kit.Update{Kind: kit.UpdateMessage, Message: &kit.Message{ID: 1, ChatID: 7, FromID: 7, Text: text, IsPrivate: true}}
	h.wait(n)
}

func (h *harness) wait(n int) {
	h.t.Helper()
	for i := 0; i < n; i++ {
		select {
		case <-h.ad.notifyCh:
		case <-time.After(2 * time.Second):
			h.t.Fatalf("timed out waiting for action %d of %d; sent %q", i+1, n, h.ad.texts())
		}
	}
}

func (h *harness) last() string {
	h.t.Helper()
	got := h.ad.texts()
	if len(got) == 0 {
		h.t.Fatal("nothing sent")
	}
	return got[len(got)-1]
}

func TestAddBeforeStart(t *testing.T) {
	t.Parallel()
	h := newHarness(t, nil)
	h.say("KRK", 1)
	if got := h.last(); got != ReplyStartFirst {
		t.Fatalf("reply = %q", got)
	}
}

func TestSubscriptionConversation(t *testing.T) {
	t.Parallel()
	h := newHarness(t, nil)
	h.say("/start", 1)
	if h.last() != ReplyIntro {
		t.Fatalf("reply = %q", h.last())
	}
	h.say("krk", 1)
	if h.last() != ReplyAdded {
		t.Fatalf("reply = %q", h.last())
	}
	h.say("KRK", 1)
	if h.last() != ReplyAlreadyExists {
		t.Fatalf("reply = %q", h.last())
	}
	h.say("XYZ", 2)
	got := h.ad.texts()
	if got[len(got)-2] != ReplyInvalidCode || got[len(got)-1] != ReplyCodeList {
		t.Fatalf("invalid replies = %q", got[len(got)-2:])
	}
	h.say("WAW", 1)
	h.say("/get_subscriptions", 1)
	if h.last() != "KRK WAW" {
		t.Fatalf("list = %q", h.last())
	}
	h.say("/pause_updates", 1)
	if h.last() != ReplyPaused {
		t.Fatalf("reply = %q", h.last())
	}
	sub, _, _ := h.reg.Get(context.Background(), 7)
	if sub.Active {
		t.Fatal("subscription still active")
	}
	h.say("/start_updates", 1)
	if h.last() != ReplyResumed {
		t.Fatalf("reply = %q", h.last())
	}
}

func TestRemoveViaKeyboard(t *testing.T) {
	t.Parallel()
	h := newHarness(t, nil)
	h.say("/remove_subscription", 1)
	if h.last() != ReplyNoSubscriptions {
		t.Fatalf("reply = %q", h.last())
	}
	h.say("/start", 1)
	h.say("KRK", 1)
	h.say("WAW", 1)
	h.say("/remove_subscription", 1)

	h.ad.mu.Lock()
	menu := h.ad.sent[len(h.ad.sent)-1]
	h.ad.mu.Unlock()
	if menu.text != ReplyPickRemoval || menu.opt == nil || len(menu.opt.Keyboard) != 2 {
		t.Fatalf("menu = %+v", menu)
	}
	if b := menu.opt.Keyboard[0][0]; b.Text != "KRK" || b.Data != "rm:KRK" {
		t.Fatalf("button = %+v", b)
	}

	h.in <- kit.Update{Kind: kit.UpdateCallback, Callback: &kit.Callback{ID: "q1", FromID: 7, ChatID: 7, MessageID: 4, Data: "rm:KRK"}}
	h.wait(2)
	h.ad.mu.Lock()
	edits := append([]string(nil), h.ad.edits...)
	h.ad.mu.Unlock()
	if len(edits) != 1 || edits[0] != "Subscription removed: KRK" {
		t.Fatalf("edits = %q", edits)
	}
	codes, _ := h.reg.ListOrigins(context.Background(), 7)
	if len(codes) != 1 || codes[0] != "WAW" {
		t.Fatalf("origins = %v", codes)
	}

	// A stale button for an origin that is already gone.
	h.in <- kit.Update{Kind: kit.UpdateCallback, Callback: &kit.Callback{ID: "q2", FromID: 7, ChatID: 7, MessageID: 4, Data: "rm:KRK"}}
	h.wait(1)
	h.ad.mu.Lock()
	last := h.ad.answers[len(h.ad.answers)-1]
	h.ad.mu.Unlock()
	if last != ReplyNotSubscribed {
		t.Fatalf("answer = %q", last)
	}
}

func TestAnnounceOrdersReplyBeforeFares(t *testing.T) {
	t.Parallel()
	var h *harness
	h = newHarness(t, subscription.TriggerFunc(func(ctx context.Context, userID int64, code string) error {
		_, err := h.ad.SendText(ctx, userID, "<b>Price:</b> 10.00 USD", nil)
		return err
	}))
	h.say("/start", 1)
	h.say("KRK", 2)
	got := h.ad.texts()
	if got[1] != ReplyAdded || !strings.HasPrefix(got[2], "<b>Price:</b>") {
		t.Fatalf("order = %q", got)
	}
}

func TestImmediateDispatchFailureReply(t *testing.T) {
	t.Parallel()
	h := newHarness(t, subscription.TriggerFunc(func(context.Context, int64, string) error {
		return errors.New("fare source down")
	}))
	h.say("/start", 1)
	h.say("KRK", 2)
	got := h.ad.texts()
	if got[1] != ReplyAdded || got[2] != ReplyAddedNoFares {
		t.Fatalf("replies = %q", got)
	}
	codes, _ := h.reg.ListOrigins(context.Background(), 7)
	if len(codes) != 1 {
		t.Fatalf("origin should stay subscribed, got %v", codes)
	}
}

func TestUnknownCommandAndGroups(t *testing.T) {
	t.Parallel()
	h := newHarness(t, nil)
	h.say("/bogus", 1)
	if h.last() != ReplyUnknownCommand {
		t.Fatalf("reply = %q", h.last())
	}
	h.say("/START@farebot", 1)
	if h.last() != ReplyIntro {
		t.Fatalf("reply = %q", h.last())
	}
	h.in <- kit.Update{Kind: kit.UpdateMessage, Message: &kit.Message{ChatID: -100, FromID: 7, Text: "KRK"}}
	h.wait(1)
	if h.last() != ReplyPrivateOnly {
		t.Fatalf("reply = %q", h.last())
	}
}

func TestHelpAndMenu(t *testing.T) {
	t.Parallel()
	h := newHarness(t, nil)
	h.say("/help", 1)
	for _, c := range []string{"/start", "/get_subscriptions", "/remove_subscription", "/pause_updates", "/start_updates"} {
		if !strings.Contains(h.last(), c) {
			t.Fatalf("help missing %s: %q", c, h.last())
		}
	}
	if err := h.m.PublishMenu(context.Background()); err != nil {
		t.Fatalf("PublishMenu: %v", err)
	}
	h.ad.mu.Lock()
	n := len(h.ad.menu)
	h.ad.mu.Unlock()
	if n != 6 {
		t.Fatalf("menu entries = %d", n)
	}
}

func TestPanicInHandlerIsRecovered(t *testing.T) {
	t.Parallel()
	h := newHarness(t, nil)
	h.m.mu.Lock()
	h.m.commands["boom"] = Command{Name: "boom", Handle: func(context.Context, *Request) error { panic("kaput") }}
	h.m.mu.Unlock()
	h.in <- kit.Update{Kind: kit.UpdateMessage, Message: &kit.Message{ChatID: 7, FromID: 7, Text: "/boom", IsPrivate: true}}
	h.say("/get_subscriptions", 1)
	if h.last() != ReplyNoSubscriptions {
		t.Fatalf("reply = %q", h.last())
	}
}

func TestUpdatesFromOneUserKeepOrder(t *testing.T) {
	t.Parallel()
	ad := newFakeAdapter()
	reg := subscription.NewRegistry(storage.NewMemory(), codes{"KRK": true}, logx.Nop(), nil)
	m := New(Config{Workers: 4}, logx.Nop(), ad, reg)
	in := make(chan kit.Update, 32)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		_ = m.DispatchLoop(ctx, in)
		close(done)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})

	const users = 8
	for u := int64(1); u <= users; u++ {
		in <- kit.Update{Kind: kit.UpdateMessage, Message: &kit.Message{ID: 1, ChatID: u, FromID: u, Text: "/start", IsPrivate: true}}
		in <- kit.Update{Kind: kit.UpdateMessage, Message: &kit.Message{ID: 2, ChatID: u, FromID: u, Text: "KRK", IsPrivate: true}}
	}
	for i := 0; i < 2*users; i++ {
		select {
		case <-ad.notifyCh:
		case <-time.After(2 * time.Second):
			t.Fatalf("timed out after %d replies; sent %q", i, ad.texts())
		}
	}

	ad.mu.Lock()
	perChat := map[int64][]string{}
	for _, s := range ad.sent {
		perChat[s.chatID] = append(perChat[s.chatID], s.text)
	}
	ad.mu.Unlock()
	for u := int64(1); u <= users; u++ {
		got := perChat[u]
		if len(got) != 2 || got[0] != ReplyIntro || got[1] != ReplyAdded {
			t.Fatalf("user %d replies = %q, want intro then added", u, got)
		}
	}
}
