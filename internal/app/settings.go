package app

import (
	"strings"
	"time"

	"farebot/internal/config"
	"farebot/internal/dispatch"
	"farebot/internal/observability/ops"
	"farebot/internal/storage"
	"farebot/internal/task/scheduler"
	logx "farebot/pkg/logx"
)

// Config mappers turn the on-disk config into per-service settings. They
// run both at boot and on every hot reload; an error keeps the previous
// settings of that service.

func mapLoggingConfig(cfg *config.Config) logx.Config {
	return logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console,
		File: logx.FileConfig{
			Enabled: cfg.Logging.File.Enabled,
			Path:    cfg.Logging.File.Path,
		},
		Chat: logx.ChatConfig{
			// a chat sink without a target would only drop lines
			Enabled:    cfg.Logging.Chat.Enabled && cfg.Telegram.LogChatID != 0,
			MinLevel:   cfg.Logging.Chat.MinLevel,
			RatePerSec: cfg.Logging.Chat.RatePerSec,
		},
	}
}

func mapDispatchSettings(cfg *config.Config) (dispatch.Settings, error) {
	d := cfg.Dispatch
	loc, err := time.LoadLocation(strings.TrimSpace(d.Timezone))
	if err != nil {
		return dispatch.Settings{}, err
	}
	chunker, err := dispatch.NewChunker(d.Chunking)
	if err != nil {
		return dispatch.Settings{}, err
	}
	t, err := cfg.Timeouts()
	if err != nil {
		return dispatch.Settings{}, err
	}
	retries := 1
	if d.SendRetries != nil {
		retries = *d.SendRetries
	}
	return dispatch.Settings{
		Location:      loc,
		MaxMessageLen: d.MaxMessageLen,
		Chunker:       chunker,
		Workers:       d.Workers,
		WindowMonths:  d.WindowMonths,
		QueryTimeout:  t.Query,
		SendTimeout:   t.Send,
		SendRetries:   retries,
		CycleTimeout:  t.Cycle,
	}, nil
}

func mapSchedulerConfig(cfg *config.Config) scheduler.Config {
	return scheduler.Config{Timezone: strings.TrimSpace(cfg.Dispatch.Timezone)}
}

func mapStorageConfig(cfg *config.Config) (storage.Config, error) {
	t, err := cfg.Timeouts()
	if err != nil {
		return storage.Config{}, err
	}
	return storage.Config{
		Driver:      strings.ToLower(strings.TrimSpace(cfg.Storage.Driver)),
		Path:        strings.TrimSpace(cfg.Storage.Path),
		BusyTimeout: t.Busy,
	}, nil
}

func mapOpsConfig(cfg *config.Config) ops.Config {
	addr := strings.TrimSpace(cfg.Ops.Addr)
	if addr == "" {
		addr = ops.DefaultAddr
	}
	return ops.Config{
		Enabled:       cfg.Ops.Enabled,
		Addr:          addr,
		Token:         cfg.Ops.Token,
		AllowInsecure: cfg.Ops.AllowInsecure,
	}
}

// restartOnly lists changed sections that are read once at boot.
func restartOnly(oldCfg, newCfg *config.Config, sections []string) []string {
	var out []string
	for _, s := range sections {
		switch s {
		case "storage", "fares", "airports":
			out = append(out, s)
		case "telegram":
			if oldCfg.Telegram.Token != newCfg.Telegram.Token || oldCfg.Telegram.PollTimeout != newCfg.Telegram.PollTimeout {
				out = append(out, s)
			}
		}
	}
	return out
}
