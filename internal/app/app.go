// Package app wires the fare bot: config, logging, storage, the
// subscription registry, the dispatcher, the daily scheduler, the Telegram
// transport and the ops endpoint.
package app

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"farebot/internal/airports"
	"farebot/internal/bot"
	"farebot/internal/config"
	"farebot/internal/dispatch"
	"farebot/internal/eventbus"
	"farebot/internal/fares"
	"farebot/internal/observability/ops"
	rtsup "farebot/internal/runtime/supervisor"
	"farebot/internal/storage"
	"farebot/internal/subscription"
	"farebot/internal/task/scheduler"
	kit "farebot/internal/transport"
	"farebot/internal/transport/telegram"
	logx "farebot/pkg/logx"
)

// DispatchJob is the scheduler name of the daily cycle.
const DispatchJob = "dispatch.daily"

type App struct {
	cfgm *config.Manager
	sup  *rtsup.Supervisor

	log  logx.Logger
	logs *logx.Service
	bus  eventbus.Bus

	store    storage.Store
	airports *airports.Set
	prom     *prometheus.Registry

	adapter    kit.Adapter
	registry   *subscription.Registry
	dispatcher *dispatch.Dispatcher
	sched      *scheduler.Service
	bot        *bot.Manager
	ops        *ops.Service

	updates   chan kit.Update
	startedAt time.Time
}

type options struct {
	adapter kit.Adapter
	source  fares.Source
}

// Option replaces an outer dependency, mostly for tests.
type Option func(*options)

// WithAdapter uses a instead of a Telegram long-poll adapter.
func WithAdapter(a kit.Adapter) Option { return func(o *options) { o.adapter = a } }

// WithFareSource uses src instead of the Ryanair client.
func WithFareSource(src fares.Source) Option { return func(o *options) { o.source = src } }

// New loads the config at cfgPath and builds every service. Nothing runs
// until Start.
func New(cfgPath string, opts ...Option) (*App, error) {
	var o options
	for _, fn := range opts {
		fn(&o)
	}

	cfgm := config.NewManager(cfgPath)
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, err
	}

	logSvc, root := logx.New(mapLoggingConfig(cfg))
	log := root.With(logx.String("comp", "app"))
	cfgm.SetLogger(root.With(logx.String("comp", "config")))

	timeouts, err := cfg.Timeouts()
	if err != nil {
		return nil, fmt.Errorf("%w: %w", config.ErrInvalid, err)
	}
	set, err := mapDispatchSettings(cfg)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", config.ErrInvalid, err)
	}
	storeCfg, err := mapStorageConfig(cfg)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", config.ErrInvalid, err)
	}

	ap, err := loadAirports(cfg)
	if err != nil {
		return nil, err
	}
	log.Info("airports loaded", logx.Int("count", ap.Len()))

	adapter := o.adapter
	if adapter == nil {
		tg, err := telegram.New(telegram.Config{
			Token:       cfg.Telegram.Token,
			PollTimeout: timeouts.Poll,
		}, root)
		if err != nil {
			return nil, err
		}
		adapter = tg
	}
	if cs, ok := adapter.(logx.ChatSender); ok {
		logSvc.SetChatSink(cs, cfg.Telegram.LogChatID)
	}

	source := o.source
	if source == nil {
		source = fares.NewRyanairClient(fares.RyanairConfig{
			BaseURL:  cfg.Fares.BaseURL,
			Currency: cfg.Fares.Currency,
			Market:   cfg.Fares.Market,
			Timeout:  timeouts.HTTP,
			Location: ap.Location,
			Fallback: set.Location,
		}, root)
	}

	store, err := storage.Open(storeCfg, root.With(logx.String("comp", "storage")))
	if err != nil {
		return nil, err
	}
	log.Info("storage opened", logx.String("driver", storeCfg.Driver))

	bus := eventbus.New()

	prom := prometheus.NewRegistry()
	prom.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	metrics := dispatch.NewMetrics(prom)

	registry := subscription.NewRegistry(store, ap, root, bus)
	d := dispatch.New(source, dispatch.ChatSender{Adapter: adapter}, registry, set, root, bus, metrics)
	mgr := bot.New(bot.Config{}, root, adapter, registry)
	// The bot confirms the subscription before the first fares go out.
	registry.SetTrigger(mgr.Announce(d))

	sched := scheduler.New(mapSchedulerConfig(cfg), root, bus)

	a := &App{
		cfgm:       cfgm,
		log:        log,
		logs:       logSvc,
		bus:        bus,
		store:      store,
		airports:   ap,
		prom:       prom,
		adapter:    adapter,
		registry:   registry,
		dispatcher: d,
		sched:      sched,
		bot:        mgr,
		updates:    make(chan kit.Update, 256),
	}
	if _, err := sched.AddDaily(DispatchJob, cfg.Dispatch.At, 0, a.runCycle); err != nil {
		_ = store.Close()
		return nil, fmt.Errorf("%w: dispatch.at: %w", config.ErrInvalid, err)
	}
	a.ops = ops.New(mapOpsConfig(cfg), ops.Deps{
		Gatherer: prom,
		Status:   a.health,
		Trigger:  func() error { return sched.RunNow(DispatchJob) },
	}, root)
	return a, nil
}

func loadAirports(cfg *config.Config) (*airports.Set, error) {
	if p := strings.TrimSpace(cfg.Airports.File); p != "" {
		set, err := airports.Load(p)
		if err != nil {
			return nil, fmt.Errorf("airports.file: %w", err)
		}
		return set, nil
	}
	return airports.Default()
}

func (a *App) runCycle(ctx context.Context) error {
	rep := a.dispatcher.RunCycle(ctx)
	if rep.Err != nil {
		return rep.Err
	}
	if ctx.Err() != nil {
		return ctx.Err()
	}
	return nil
}

// Dispatcher exposes the dispatcher for manual cycles.
func (a *App) Dispatcher() *dispatch.Dispatcher { return a.dispatcher }

// Scheduler exposes the scheduler for snapshots.
func (a *App) Scheduler() *scheduler.Service { return a.sched }

// Done is closed when the app context ends, either by Stop or by a fatal
// error in a supervised goroutine.
func (a *App) Done() <-chan struct{} {
	if a.sup == nil {
		return nil
	}
	return a.sup.Context().Done()
}

// Err is the first fatal error, if any.
func (a *App) Err() error {
	if a.sup == nil {
		return nil
	}
	return a.sup.Err()
}

func (a *App) Start(ctx context.Context) error {
	if a.sup != nil {
		return errors.New("app already started")
	}
	a.startedAt = time.Now()
	a.sup = rtsup.New(ctx, rtsup.WithLogger(a.log), rtsup.WithCancelOnError(true))

	// Reject hot reloads the services could not apply.
	a.cfgm.SetValidator(func(_ context.Context, cfg *config.Config) error {
		if err := config.Validate(cfg); err != nil {
			return err
		}
		if _, err := mapDispatchSettings(cfg); err != nil {
			return err
		}
		if _, err := mapStorageConfig(cfg); err != nil {
			return err
		}
		return nil
	})

	if err := a.adapter.Start(a.sup.Context(), a.updates); err != nil {
		a.sup.Cancel()
		return err
	}

	a.sup.Go("bot.dispatch", func(c context.Context) error {
		return a.bot.DispatchLoop(c, a.updates)
	})
	a.sup.Go0("bot.menu", func(c context.Context) {
		mctx, cancel := context.WithTimeout(c, 10*time.Second)
		defer cancel()
		if err := a.bot.PublishMenu(mctx); err != nil {
			a.log.Warn("command menu not published", logx.Err(err))
		}
	})

	a.sched.Start(a.sup.Context())
	if a.ops != nil {
		a.ops.Reconfigure(a.sup.Context(), mapOpsConfig(a.cfgm.Get()))
	}

	a.startEventLog()
	a.startReload()
	a.sup.Go("config.watch", func(c context.Context) error {
		return a.cfgm.Watch(c)
	})

	a.log.Info("app started",
		logx.String("dispatch_at", a.cfgm.Get().Dispatch.At),
		logx.String("tz", a.sched.Location().String()),
		logx.Time("next_dispatch", a.sched.Next(DispatchJob)),
	)
	return nil
}

func (a *App) startEventLog() {
	events, unsub := a.bus.Subscribe(128)
	a.sup.Go0("eventbus.log", func(c context.Context) {
		defer unsub()
		for {
			select {
			case <-c.Done():
				return
			case e, ok := <-events:
				if !ok {
					return
				}
				a.log.Debug("event", logx.String("type", e.Type), logx.Time("time", e.Time))
			}
		}
	})
}

type healthStatus struct {
	Status       string                    `json:"status"`
	Uptime       string                    `json:"uptime"`
	NextDispatch time.Time                 `json:"next_dispatch,omitzero"`
	Scheduler    scheduler.Snapshot        `json:"scheduler"`
	Supervisors  map[string]rtsup.Snapshot `json:"supervisors"`
	EventsLost   uint64                    `json:"events_lost"`
	Error        string                    `json:"error,omitempty"`
}

func (a *App) health(context.Context) (any, bool) {
	st := healthStatus{
		Status:       "ok",
		NextDispatch: a.sched.Next(DispatchJob),
		Scheduler:    a.sched.Snapshot(),
		Supervisors:  map[string]rtsup.Snapshot{},
		EventsLost:   a.bus.Dropped(),
	}
	if !a.startedAt.IsZero() {
		st.Uptime = time.Since(a.startedAt).Round(time.Second).String()
	}
	if a.sup != nil {
		st.Supervisors["app"] = a.sup.Snapshot()
		if err := a.sup.Err(); err != nil {
			st.Status = "degraded"
			st.Error = err.Error()
		}
	}
	if sp, ok := a.adapter.(interface{ Supervisor() *rtsup.Supervisor }); ok {
		if s := sp.Supervisor(); s != nil {
			st.Supervisors["telegram"] = s.Snapshot()
		}
	}
	if s := a.bot.Supervisor(); s != nil {
		st.Supervisors["bot"] = s.Snapshot()
	}
	return st, st.Status == "ok"
}
