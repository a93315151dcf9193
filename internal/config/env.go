package config

import (
	"errors"
	"io/fs"
	"os"
	"strings"

	"github.com/joho/godotenv"
)

// Environment overrides, applied after the file is parsed.
const (
	EnvToken       = "FAREBOT_TELEGRAM_TOKEN"
	EnvTokenLegacy = "TG_API_KEY"
	EnvCurrency    = "FAREBOT_CURRENCY"
	EnvTimezone    = "FAREBOT_TIMEZONE"
	EnvLogLevel    = "FAREBOT_LOG_LEVEL"
)

// LoadDotEnv loads KEY=VALUE pairs from the given files (".env" when none)
// into the process environment. Missing files are ignored; variables that
// are already set win.
func LoadDotEnv(files ...string) error {
	if len(files) == 0 {
		files = []string{".env"}
	}
	for _, f := range files {
		if err := godotenv.Load(f); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return err
		}
	}
	return nil
}

// ApplyEnv overlays environment variables onto cfg.
func ApplyEnv(cfg *Config) {
	ApplyEnvFrom(cfg, os.LookupEnv)
}

// ApplyEnvFrom is ApplyEnv with an injectable lookup.
func ApplyEnvFrom(cfg *Config, lookup func(string) (string, bool)) {
	if cfg == nil || lookup == nil {
		return
	}
	get := func(keys ...string) (string, bool) {
		for _, k := range keys {
			if v, ok := lookup(k); ok && strings.TrimSpace(v) != "" {
				return strings.TrimSpace(v), true
			}
		}
		return "", false
	}
	if v, ok := get(EnvToken, EnvTokenLegacy); ok {
		cfg.Telegram.Token = v
	}
	if v, ok := get(EnvCurrency); ok {
		cfg.Fares.Currency = strings.ToUpper(v)
	}
	if v, ok := get(EnvTimezone); ok {
		cfg.Dispatch.Timezone = v
	}
	if v, ok := get(EnvLogLevel); ok {
		cfg.Logging.Level = v
	}
}
