package app

import (
	"context"
	"strings"

	"farebot/internal/config"
	logx "farebot/pkg/logx"
)

// startReload fans committed config reloads out to the live services.
func (a *App) startReload() {
	sub := a.cfgm.Subscribe(8)
	a.sup.Go0("config.reload", func(c context.Context) {
		defer a.cfgm.Unsubscribe(sub)
		last := a.cfgm.Get()
		for {
			select {
			case <-c.Done():
				return
			case newCfg, ok := <-sub:
				if !ok {
					return
				}
				// Coalesce bursts: only the latest config matters.
			drain:
				for {
					select {
					case newer := <-sub:
						if newer != nil {
							newCfg = newer
						}
					default:
						break drain
					}
				}
				a.applyConfig(c, last, newCfg)
				last = newCfg
			}
		}
	})
}

func (a *App) applyConfig(ctx context.Context, oldCfg, newCfg *config.Config) {
	sections, attrs := config.SummarizeChange(oldCfg, newCfg)
	if len(sections) == 0 {
		a.log.Info("config reloaded (no changes)")
		return
	}
	changed := logx.String("changed", strings.Join(sections, ","))
	a.log.Debug("config change summary", append([]logx.Field{changed}, attrs...)...)

	if stale := restartOnly(oldCfg, newCfg, sections); len(stale) > 0 {
		a.log.Warn("config sections changed that need a restart", logx.Strings("sections", stale))
	}

	// Target first, so the chat sink never runs without one.
	if cs, ok := a.adapter.(logx.ChatSender); ok {
		a.logs.SetChatSink(cs, newCfg.Telegram.LogChatID)
	}
	a.logs.Apply(mapLoggingConfig(newCfg))

	if set, err := mapDispatchSettings(newCfg); err != nil {
		a.log.Warn("invalid dispatch config; keeping previous", logx.Err(err))
	} else {
		a.dispatcher.Apply(set)
	}

	// A timezone change restarts cron with the same schedules; a new time
	// replaces the daily entry in place.
	a.sched.Apply(mapSchedulerConfig(newCfg))
	if oldCfg.Dispatch.At != newCfg.Dispatch.At {
		if _, err := a.sched.AddDaily(DispatchJob, newCfg.Dispatch.At, 0, a.runCycle); err != nil {
			a.log.Warn("invalid dispatch.at; keeping previous", logx.Err(err))
		}
	}

	a.ops.Reconfigure(ctx, mapOpsConfig(newCfg))

	a.log.Info("config reloaded", append([]logx.Field{changed, logx.Time("next_dispatch", a.sched.Next(DispatchJob))}, attrs...)...)
}
