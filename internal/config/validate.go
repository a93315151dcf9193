package config

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
	_ "time/tzdata" // zone database for hosts without /usr/share/zoneinfo

	logx "farebot/pkg/logx"
)

// ErrInvalid marks configuration errors. They are fatal at startup and
// cause a reload to be rejected.
var ErrInvalid = errors.New("invalid config")

// Validate checks cfg after defaults have been applied. Every problem is
// reported; the returned error wraps ErrInvalid.
func Validate(cfg *Config) error {
	if cfg == nil {
		return fmt.Errorf("%w: config is nil", ErrInvalid)
	}
	var errs []error
	add := func(format string, args ...any) {
		errs = append(errs, fmt.Errorf(format, args...))
	}

	if strings.TrimSpace(cfg.Telegram.Token) == "" {
		add("telegram.token: missing bot credential")
	}
	if _, _, err := ParseHHMM(cfg.Dispatch.At); err != nil {
		add("dispatch.at: %v", err)
	}
	if _, err := time.LoadLocation(strings.TrimSpace(cfg.Dispatch.Timezone)); err != nil {
		add("dispatch.timezone: %v", err)
	}
	switch strings.ToLower(strings.TrimSpace(cfg.Dispatch.Chunking)) {
	case "", "greedy", "count":
	default:
		add("dispatch.chunking: unknown mode %q (want greedy|count)", cfg.Dispatch.Chunking)
	}
	if cfg.Dispatch.MaxMessageLen < 0 {
		add("dispatch.max_message_len: must be > 0")
	}
	if r := cfg.Dispatch.SendRetries; r != nil && (*r < 0 || *r > 1) {
		add("dispatch.send_retries: must be 0 or 1")
	}
	if len(strings.TrimSpace(cfg.Fares.Currency)) != 3 && cfg.Fares.Currency != "" {
		add("fares.currency: want an ISO 4217 code, got %q", cfg.Fares.Currency)
	}
	switch strings.ToLower(strings.TrimSpace(cfg.Storage.Driver)) {
	case "", "memory":
	case "sqlite", "file":
		if strings.TrimSpace(cfg.Storage.Path) == "" {
			add("storage.path: required for %s", cfg.Storage.Driver)
		}
	default:
		add("storage.driver: unknown driver %q (want memory|sqlite|file)", cfg.Storage.Driver)
	}
	if !logx.ValidLevel(cfg.Logging.Level) {
		add("logging.level: unknown level %q", cfg.Logging.Level)
	}

	if _, err := cfg.Timeouts(); err != nil {
		errs = append(errs, err)
	}

	if len(errs) == 0 {
		return nil
	}
	return fmt.Errorf("%w: %w", ErrInvalid, errors.Join(errs...))
}

// ParseHHMM parses a 24h "HH:MM" wall-clock time.
func ParseHHMM(s string) (int, int, error) {
	parts := strings.Split(strings.TrimSpace(s), ":")
	if len(parts) != 2 {
		return 0, 0, fmt.Errorf("invalid time %q: want HH:MM", s)
	}
	h, err := strconv.Atoi(parts[0])
	if err != nil {
		return 0, 0, fmt.Errorf("invalid hour %q", parts[0])
	}
	m, err := strconv.Atoi(parts[1])
	if err != nil {
		return 0, 0, fmt.Errorf("invalid minute %q", parts[1])
	}
	if h < 0 || h > 23 || m < 0 || m > 59 {
		return 0, 0, fmt.Errorf("time out of range: %s", s)
	}
	return h, m, nil
}
