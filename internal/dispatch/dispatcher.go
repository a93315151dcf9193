// Package dispatch runs the fare notification pipeline: query, format,
// chunk and send, per (user, origin) pair.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"farebot/internal/eventbus"
	"farebot/internal/fares"
	"farebot/internal/subscription"
	logx "farebot/pkg/logx"
)

const (
	TriggerScheduled = "scheduled"
	TriggerImmediate = "immediate"

	StageQuery = "query"
	StageSend  = "send"
)

// DefaultFailureNotice goes to a user whose every pair failed in a cycle.
const DefaultFailureNotice = "Fare updates are temporarily unavailable. We will try again at the next scheduled update."

// Snapshotter is the read side of the subscription registry.
type Snapshotter interface {
	Snapshot(ctx context.Context) ([]subscription.Subscription, error)
}

// Settings are hot-swappable via Apply. Zero values get defaults.
type Settings struct {
	Location      *time.Location
	MaxMessageLen int
	Chunker       Chunker
	Workers       int
	WindowMonths  int
	QueryTimeout  time.Duration
	SendTimeout   time.Duration
	// SendRetries is the number of extra attempts per chunk, 0 or 1.
	SendRetries int
	RetryDelay  time.Duration
	// CycleTimeout bounds a whole scheduled cycle; 0 disables it.
	CycleTimeout  time.Duration
	FailureNotice string
}

func (s Settings) withDefaults() Settings {
	if s.Location == nil {
		s.Location = time.UTC
	}
	if s.MaxMessageLen <= 0 {
		s.MaxMessageLen = 4096
	}
	if s.Chunker == nil {
		s.Chunker = GreedyChunker{}
	}
	if s.Workers <= 0 {
		s.Workers = 4
	}
	if s.WindowMonths <= 0 {
		s.WindowMonths = 6
	}
	if s.QueryTimeout <= 0 {
		s.QueryTimeout = 20 * time.Second
	}
	if s.SendTimeout <= 0 {
		s.SendTimeout = 10 * time.Second
	}
	s.SendRetries = min(max(s.SendRetries, 0), 1)
	if s.RetryDelay <= 0 {
		s.RetryDelay = 500 * time.Millisecond
	}
	if s.FailureNotice == "" {
		s.FailureNotice = DefaultFailureNotice
	}
	return s
}

// PairResult is the outcome of one (user, origin) task.
type PairResult struct {
	UserID   int64
	Origin   string
	Listings int
	Chunks   int
	Sent     int
	Dropped  int
	Stage    string // set when Err != nil
	Err      error
}

func (r PairResult) Failed() bool { return r.Err != nil }

// Delivered reports whether the pair reached the user, or had nothing to say.
func (r PairResult) Delivered() bool {
	return r.Stage != StageQuery && (r.Chunks == 0 || r.Sent > 0)
}

type CycleReport struct {
	ID       string
	Started  time.Time
	Duration time.Duration
	Users    int
	Pairs    int
	Failed   int
	Messages int
	Notices  int
	Results  []PairResult
	Err      error // snapshot failure; pairs were not run
}

type Dispatcher struct {
	source fares.Source
	sender Sender
	subs   Snapshotter
	log    logx.Logger
	bus    eventbus.Bus
	m      *Metrics
	now    func() time.Time

	mu  sync.RWMutex
	set Settings
}

func New(source fares.Source, sender Sender, subs Snapshotter, set Settings, log logx.Logger, bus eventbus.Bus, m *Metrics) *Dispatcher {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Dispatcher{
		source: source,
		sender: sender,
		subs:   subs,
		log:    log.With(logx.String("comp", "dispatch")),
		bus:    bus,
		m:      m,
		now:    time.Now,
		set:    set.withDefaults(),
	}
}

// Apply swaps settings; in-flight pairs keep the settings they started with.
func (d *Dispatcher) Apply(set Settings) {
	d.mu.Lock()
	d.set = set.withDefaults()
	d.mu.Unlock()
}

func (d *Dispatcher) Settings() Settings {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.set
}

// RunCycle dispatches every eligible (active, with origins) subscription.
// Pair failures are isolated: they are logged, counted and published, and
// never stop sibling pairs. A user whose every pair failed receives a
// single notice.
func (d *Dispatcher) RunCycle(ctx context.Context) CycleReport {
	set := d.Settings()
	rep := CycleReport{ID: uuid.NewString(), Started: d.now()}
	log := d.log.With(logx.String("cycle", rep.ID))

	if set.CycleTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, set.CycleTimeout)
		defer cancel()
	}

	subs, err := d.subs.Snapshot(ctx)
	if err != nil {
		rep.Err = err
		log.Error("dispatch cycle aborted: snapshot failed", logx.Err(err))
		return rep
	}

	type pair struct {
		user int64
		code string
	}
	var pairs []pair
	for _, s := range subs {
		if !s.Eligible() {
			continue
		}
		rep.Users++
		for _, code := range s.Origins {
			pairs = append(pairs, pair{user: s.UserID, code: code})
		}
	}
	rep.Pairs = len(pairs)
	d.publish(eventbus.DispatchCycleStarted, eventbus.CycleSummary{CycleID: rep.ID, Pairs: rep.Pairs})
	log.Info("dispatch cycle started", logx.Int("users", rep.Users), logx.Int("pairs", rep.Pairs))

	from, to := Window(rep.Started, set.Location, set.WindowMonths)
	rep.Results = make([]PairResult, len(pairs))

	var g errgroup.Group
	g.SetLimit(set.Workers)
	for i, p := range pairs {
		g.Go(func() error {
			rep.Results[i] = d.runPair(ctx, set, log, rep.ID, TriggerScheduled, p.user, p.code, from, to)
			return nil
		})
	}
	_ = g.Wait()

	okUsers := map[int64]bool{}
	seen := map[int64]bool{}
	for _, r := range rep.Results {
		seen[r.UserID] = true
		rep.Messages += r.Sent
		if r.Failed() {
			rep.Failed++
		}
		if r.Delivered() {
			okUsers[r.UserID] = true
		}
	}
	for user := range seen {
		if okUsers[user] || ctx.Err() != nil {
			continue
		}
		if d.notify(ctx, set, user) {
			rep.Notices++
		}
	}

	rep.Duration = time.Since(rep.Started)
	d.m.cycle(rep.Duration.Seconds(), rep.Users)
	d.publish(eventbus.DispatchCycleDone, eventbus.CycleSummary{
		CycleID:    rep.ID,
		Pairs:      rep.Pairs,
		Failed:     rep.Failed,
		Messages:   rep.Messages,
		DurationMS: rep.Duration.Milliseconds(),
	})
	log.Info("dispatch cycle finished",
		logx.Int("pairs", rep.Pairs),
		logx.Int("failed", rep.Failed),
		logx.Int("messages", rep.Messages),
		logx.Int("notices", rep.Notices),
		logx.Duration("took", rep.Duration),
	)
	return rep
}

// DispatchPair runs the pipeline for one user and origin outside a cycle.
func (d *Dispatcher) DispatchPair(ctx context.Context, userID int64, code string) PairResult {
	set := d.Settings()
	from, to := Window(d.now(), set.Location, set.WindowMonths)
	return d.runPair(ctx, set, d.log, "", TriggerImmediate, userID, code, from, to)
}

// DispatchOrigin is the immediate trigger run after a new subscription. It
// fails when the query failed or no chunk reached the user.
func (d *Dispatcher) DispatchOrigin(ctx context.Context, userID int64, code string) error {
	r := d.DispatchPair(ctx, userID, code)
	if !r.Delivered() {
		return r.Err
	}
	return nil
}

func (d *Dispatcher) runPair(ctx context.Context, set Settings, log logx.Logger, cycleID, trigger string, userID int64, code string, from, to time.Time) PairResult {
	res := PairResult{UserID: userID, Origin: code}
	log = log.With(logx.Int64("user_id", userID), logx.String("origin", code), logx.String("trigger", trigger))

	qctx, cancel := context.WithTimeout(ctx, set.QueryTimeout)
	listings, err := d.source.Query(qctx, code, from, to)
	cancel()
	if err != nil {
		res.Stage, res.Err = StageQuery, err
		d.m.queryFailed()
		d.m.pair(trigger, "query_failed")
		d.pairFailed(log, cycleID, res)
		return res
	}
	res.Listings = len(listings)
	d.m.fetched(len(listings))

	chunks := set.Chunker.Chunk(fares.FormatAll(listings), set.MaxMessageLen)
	res.Chunks = len(chunks)

	var lastErr error
	for i, c := range chunks {
		if err := d.sendWithRetry(ctx, set, log, userID, c); err != nil {
			lastErr = err
			res.Dropped++
			d.m.sendFailed()
			log.Warn("chunk dropped", logx.Int("chunk", i), logx.Int("chunks", len(chunks)), logx.Err(err))
			if ctx.Err() != nil {
				res.Dropped += len(chunks) - i - 1
				break
			}
			continue
		}
		res.Sent++
		d.m.sent()
	}
	if res.Dropped > 0 {
		res.Stage = StageSend
		res.Err = fmt.Errorf("%w: %d of %d chunks: %w", ErrSendFailed, res.Dropped, res.Chunks, lastErr)
		d.m.pair(trigger, "send_failed")
		d.pairFailed(log, cycleID, res)
		return res
	}

	d.m.pair(trigger, "ok")
	log.Debug("pair dispatched", logx.Int("listings", res.Listings), logx.Int("chunks", res.Chunks))
	return res
}

// sendWithRetry makes at most 1+SendRetries attempts, each bounded by SendTimeout.
func (d *Dispatcher) sendWithRetry(ctx context.Context, set Settings, log logx.Logger, userID int64, text string) error {
	attempts := 1 + set.SendRetries
	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		sctx, cancel := context.WithTimeout(ctx, set.SendTimeout)
		err := d.sender.Send(sctx, userID, text)
		cancel()
		if err == nil {
			return nil
		}
		lastErr = err
		log.Debug("send failed", logx.Err(err), logx.Int("attempt", attempt), logx.Int("max", attempts))
		if attempt >= attempts {
			break
		}

		t := time.NewTimer(retryDelay(set.RetryDelay))
		select {
		case <-t.C:
		case <-ctx.Done():
			t.Stop()
			return errors.Join(lastErr, ctx.Err())
		}
	}
	return lastErr
}

// notify sends the all-failed notice once, without retry.
func (d *Dispatcher) notify(ctx context.Context, set Settings, userID int64) bool {
	sctx, cancel := context.WithTimeout(ctx, set.SendTimeout)
	defer cancel()
	if err := d.sender.Send(sctx, userID, set.FailureNotice); err != nil {
		d.log.Warn("failure notice not delivered", logx.Int64("user_id", userID), logx.Err(err))
		return false
	}
	return true
}

func (d *Dispatcher) pairFailed(log logx.Logger, cycleID string, r PairResult) {
	log.Warn("pair failed", logx.String("stage", r.Stage), logx.Err(r.Err))
	d.publish(eventbus.DispatchPairFailed, eventbus.PairFailure{
		CycleID: cycleID,
		UserID:  r.UserID,
		Origin:  r.Origin,
		Stage:   r.Stage,
		Err:     r.Err.Error(),
	})
}

func (d *Dispatcher) publish(typ string, data any) {
	if d.bus == nil {
		return
	}
	d.bus.Publish(eventbus.Event{Type: typ, Time: time.Now(), Data: data})
}

// retryDelay jitters base by 0.7..1.3.
func retryDelay(base time.Duration) time.Duration {
	j := 0.7 + rand.Float64()*0.6
	return time.Duration(float64(base) * j)
}
