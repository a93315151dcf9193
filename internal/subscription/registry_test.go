package subscription

import (
	"context"
	"errors"
	"slices"
	"sync"
	"testing"
	"time"

	"farebot/internal/eventbus"
	"farebot/internal/storage"
	logx "farebot/pkg/logx"
)

type codeSet map[string]bool

func (s codeSet) Valid(code string) bool { return s[code] }

var testCodes = codeSet{"KRK": true, "WAW": true, "WMI": true, "DUB": true}

type recordingTrigger struct {
	mu    sync.Mutex
	calls []string
	err   error
}

func (t *recordingTrigger) DispatchOrigin(_ context.Context, _ int64, code string) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.calls = append(t.calls, code)
	return t.err
}

func newTestRegistry(t *testing.T) (*Registry, *recordingTrigger) {
	t.Helper()
	r := NewRegistry(storage.NewMemory(), testCodes, logx.Nop(), eventbus.New())
	trig := &recordingTrigger{}
	r.SetTrigger(trig)
	return r, trig
}

func TestOperationsRequireInitialize(t *testing.T) {
	t.Parallel()
	r, trig := newTestRegistry(t)
	ctx := context.Background()

	checks := map[string]error{
		"add":    r.AddOrigin(ctx, 1, "KRK"),
		"remove": r.RemoveOrigin(ctx, 1, "KRK"),
		"pause":  r.Pause(ctx, 1),
		"resume": r.Resume(ctx, 1),
	}
	for op, err := range checks {
		if !errors.Is(err, ErrNotInitialized) {
			t.Fatalf("%s: err = %v, want ErrNotInitialized", op, err)
		}
	}
	if _, ok, _ := r.Get(ctx, 1); ok {
		t.Fatal("failed operations must not create state")
	}
	got, err := r.ListOrigins(ctx, 1)
	if err != nil || got == nil || len(got) != 0 {
		t.Fatalf("ListOrigins(unknown) = %v, %v", got, err)
	}
	if len(trig.calls) != 0 {
		t.Fatalf("trigger ran: %v", trig.calls)
	}
}

func TestAddOriginIsIdempotentMembership(t *testing.T) {
	t.Parallel()
	r, trig := newTestRegistry(t)
	ctx := context.Background()
	if err := r.Initialize(ctx, 1); err != nil {
		t.Fatal(err)
	}

	if err := r.AddOrigin(ctx, 1, " krk "); err != nil {
		t.Fatalf("AddOrigin: %v", err)
	}
	for i := 0; i < 3; i++ {
		if err := r.AddOrigin(ctx, 1, "KRK"); !errors.Is(err, ErrAlreadySubscribed) {
			t.Fatalf("retry %d: err = %v, want ErrAlreadySubscribed", i, err)
		}
	}
	got, _ := r.ListOrigins(ctx, 1)
	if len(got) != 1 || got[0] != "KRK" {
		t.Fatalf("origins = %v", got)
	}
	if len(trig.calls) != 1 || trig.calls[0] != "KRK" {
		t.Fatalf("trigger calls = %v, want exactly one for KRK", trig.calls)
	}
}

func TestAddOriginRejectsUnknownCode(t *testing.T) {
	t.Parallel()
	r, trig := newTestRegistry(t)
	ctx := context.Background()
	_ = r.Initialize(ctx, 1)

	for _, code := range []string{"XYZ", "", "krakow"} {
		if err := r.AddOrigin(ctx, 1, code); !errors.Is(err, ErrInvalidAirportCode) {
			t.Fatalf("AddOrigin(%q) = %v, want ErrInvalidAirportCode", code, err)
		}
	}
	if got, _ := r.ListOrigins(ctx, 1); len(got) != 0 {
		t.Fatalf("origins = %v", got)
	}
	if len(trig.calls) != 0 {
		t.Fatalf("trigger ran for invalid codes: %v", trig.calls)
	}
}

func TestAddOriginKeepsOriginWhenDispatchFails(t *testing.T) {
	t.Parallel()
	r, trig := newTestRegistry(t)
	trig.err = errors.New("fare source down")
	ctx := context.Background()
	_ = r.Initialize(ctx, 1)

	err := r.AddOrigin(ctx, 1, "KRK")
	if !errors.Is(err, ErrImmediateDispatch) {
		t.Fatalf("err = %v, want ErrImmediateDispatch", err)
	}
	if got, _ := r.ListOrigins(ctx, 1); len(got) != 1 {
		t.Fatalf("origin should stay subscribed, got %v", got)
	}
}

func TestRemoveOrigin(t *testing.T) {
	t.Parallel()
	r, _ := newTestRegistry(t)
	ctx := context.Background()
	_ = r.Initialize(ctx, 1)
	_ = r.AddOrigin(ctx, 1, "KRK")
	_ = r.AddOrigin(ctx, 1, "WAW")
	_ = r.AddOrigin(ctx, 1, "DUB")

	before, _, _ := r.Get(ctx, 1)
	if err := r.RemoveOrigin(ctx, 1, "WMI"); !errors.Is(err, ErrNotSubscribed) {
		t.Fatalf("err = %v, want ErrNotSubscribed", err)
	}
	after, _ := r.ListOrigins(ctx, 1)
	if !slices.Equal(after, before.Origins) {
		t.Fatalf("state changed on failed remove: %v -> %v", before.Origins, after)
	}

	if err := r.RemoveOrigin(ctx, 1, "waw"); err != nil {
		t.Fatalf("RemoveOrigin: %v", err)
	}
	got, _ := r.ListOrigins(ctx, 1)
	if len(got) != 2 || got[0] != "KRK" || got[1] != "DUB" {
		t.Fatalf("origins = %v, want [KRK DUB]", got)
	}
	_ = r.RemoveOrigin(ctx, 1, "KRK")
	if err := r.RemoveOrigin(ctx, 1, "DUB"); err != nil {
		t.Fatalf("removing the last origin: %v", err)
	}
}

func TestPauseResumePreservesOrigins(t *testing.T) {
	t.Parallel()
	r, _ := newTestRegistry(t)
	ctx := context.Background()
	_ = r.Initialize(ctx, 1)
	_ = r.AddOrigin(ctx, 1, "KRK")
	_ = r.AddOrigin(ctx, 1, "WAW")

	if err := r.Pause(ctx, 1); err != nil {
		t.Fatal(err)
	}
	sub, _, _ := r.Get(ctx, 1)
	if sub.Active || sub.Eligible() {
		t.Fatal("paused subscription must not be eligible")
	}
	// Management still works while paused.
	if err := r.AddOrigin(ctx, 1, "DUB"); err != nil {
		t.Fatalf("AddOrigin while paused: %v", err)
	}
	if err := r.Resume(ctx, 1); err != nil {
		t.Fatal(err)
	}
	sub, _, _ = r.Get(ctx, 1)
	if !sub.Eligible() || len(sub.Origins) != 3 || sub.Origins[0] != "KRK" {
		t.Fatalf("after resume: %+v", sub)
	}
}

func TestInitializeResets(t *testing.T) {
	t.Parallel()
	r, _ := newTestRegistry(t)
	ctx := context.Background()
	_ = r.Initialize(ctx, 1)
	_ = r.AddOrigin(ctx, 1, "KRK")
	_ = r.Pause(ctx, 1)

	if err := r.Initialize(ctx, 1); err != nil {
		t.Fatal(err)
	}
	sub, ok, _ := r.Get(ctx, 1)
	if !ok || !sub.Active || len(sub.Origins) != 0 {
		t.Fatalf("after reset: %+v", sub)
	}
}

func TestGetReturnsCopies(t *testing.T) {
	t.Parallel()
	r, _ := newTestRegistry(t)
	ctx := context.Background()
	_ = r.Initialize(ctx, 1)
	_ = r.AddOrigin(ctx, 1, "KRK")

	sub, _, _ := r.Get(ctx, 1)
	sub.Origins[0] = "XXX"
	snap, _ := r.Snapshot(ctx)
	if snap[0].Origins[0] != "KRK" {
		t.Fatalf("registry state leaked: %v", snap[0].Origins)
	}
}

func TestConcurrentAddsSameUser(t *testing.T) {
	t.Parallel()
	r, _ := newTestRegistry(t)
	ctx := context.Background()
	_ = r.Initialize(ctx, 1)

	var (
		wg  sync.WaitGroup
		mu  sync.Mutex
		oks int
	)
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := r.AddOrigin(ctx, 1, "KRK"); err == nil {
				mu.Lock()
				oks++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	if oks != 1 {
		t.Fatalf("successful adds = %d, want 1", oks)
	}
	if got, _ := r.ListOrigins(ctx, 1); len(got) != 1 {
		t.Fatalf("origins = %v", got)
	}
	if n := r.locks.size(); n != 0 {
		t.Fatalf("leaked %d user locks", n)
	}
}

func TestMutationsPublishEvents(t *testing.T) {
	t.Parallel()
	bus := eventbus.New()
	events, unsub := bus.Subscribe(16)
	defer unsub()
	r := NewRegistry(nil, testCodes, logx.Nop(), bus)
	ctx := context.Background()
	_ = r.Initialize(ctx, 5)
	_ = r.AddOrigin(ctx, 5, "KRK")

	want := []string{"initialize", "add"}
	for _, op := range want {
		select {
		case e := <-events:
			ch, ok := e.Data.(eventbus.SubscriptionChange)
			if e.Type != eventbus.SubscriptionChanged || !ok || ch.Op != op || ch.UserID != 5 {
				t.Fatalf("event = %+v, want op %s", e, op)
			}
		case <-time.After(time.Second):
			t.Fatalf("missing %s event", op)
		}
	}
}

func TestRegistryOverSQLiteStore(t *testing.T) {
	t.Parallel()
	st, err := storage.Open(storage.Config{Driver: "sqlite", Path: t.TempDir() + "/subs.db"}, logx.Nop())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer st.Close()

	r := NewRegistry(st, testCodes, logx.Nop(), nil)
	ctx := context.Background()
	_ = r.Initialize(ctx, 9)
	_ = r.AddOrigin(ctx, 9, "WMI")
	_ = r.AddOrigin(ctx, 9, "KRK")
	if err := r.RemoveOrigin(ctx, 9, "XXX"); !errors.Is(err, ErrNotSubscribed) {
		t.Fatalf("err = %v", err)
	}
	got, err := r.ListOrigins(ctx, 9)
	if err != nil || len(got) != 2 || got[0] != "WMI" || got[1] != "KRK" {
		t.Fatalf("origins = %v, %v", got, err)
	}
}
