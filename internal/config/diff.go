package config

import (
	"strings"

	logx "farebot/pkg/logx"
)

// SummarizeChange returns the changed top-level sections plus safe
// structured fields for logging. Secrets (tokens) are never included.
func SummarizeChange(oldCfg, newCfg *Config) ([]string, []logx.Field) {
	if oldCfg == nil {
		oldCfg = &Config{}
	}
	if newCfg == nil {
		newCfg = &Config{}
	}

	changed := make([]string, 0, 6)
	attrs := make([]logx.Field, 0, 16)

	if oldCfg.Telegram.Token != newCfg.Telegram.Token ||
		strings.TrimSpace(oldCfg.Telegram.PollTimeout) != strings.TrimSpace(newCfg.Telegram.PollTimeout) ||
		oldCfg.Telegram.LogChatID != newCfg.Telegram.LogChatID {
		changed = append(changed, "telegram")
		attrs = append(attrs,
			logx.String("telegram.poll_timeout", newCfg.Telegram.PollTimeout),
			logx.Bool("telegram.token_changed", oldCfg.Telegram.Token != newCfg.Telegram.Token),
		)
	}

	if oldCfg.Logging != newCfg.Logging {
		changed = append(changed, "logging")
		attrs = append(attrs,
			logx.String("logging.level", newCfg.Logging.Level),
			logx.Bool("logging.console", newCfg.Logging.Console),
			logx.Bool("logging.file_enabled", newCfg.Logging.File.Enabled),
			logx.Bool("logging.chat_enabled", newCfg.Logging.Chat.Enabled),
		)
	}

	if oldCfg.Fares != newCfg.Fares {
		changed = append(changed, "fares")
		attrs = append(attrs,
			logx.String("fares.base_url", newCfg.Fares.BaseURL),
			logx.String("fares.currency", newCfg.Fares.Currency),
		)
	}

	if !dispatchEqual(oldCfg.Dispatch, newCfg.Dispatch) {
		changed = append(changed, "dispatch")
		attrs = append(attrs,
			logx.String("dispatch.at", newCfg.Dispatch.At),
			logx.String("dispatch.timezone", newCfg.Dispatch.Timezone),
			logx.String("dispatch.chunking", newCfg.Dispatch.Chunking),
			logx.Int("dispatch.workers", newCfg.Dispatch.Workers),
		)
	}

	if oldCfg.Airports != newCfg.Airports {
		changed = append(changed, "airports")
	}
	if oldCfg.Storage != newCfg.Storage {
		changed = append(changed, "storage")
		attrs = append(attrs, logx.String("storage.driver", newCfg.Storage.Driver))
	}
	if oldCfg.Ops.Enabled != newCfg.Ops.Enabled ||
		oldCfg.Ops.Addr != newCfg.Ops.Addr ||
		oldCfg.Ops.AllowInsecure != newCfg.Ops.AllowInsecure ||
		oldCfg.Ops.Token != newCfg.Ops.Token {
		changed = append(changed, "ops")
		attrs = append(attrs,
			logx.Bool("ops.enabled", newCfg.Ops.Enabled),
			logx.String("ops.addr", newCfg.Ops.Addr),
			logx.Bool("ops.token_set", newCfg.Ops.Token != ""),
		)
	}

	return changed, attrs
}

func dispatchEqual(a, b DispatchConfig) bool {
	ra, rb := a.SendRetries, b.SendRetries
	a.SendRetries, b.SendRetries = nil, nil
	if a != b {
		return false
	}
	if (ra == nil) != (rb == nil) {
		return false
	}
	return ra == nil || *ra == *rb
}
