package config

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// Timeouts holds every duration field, parsed, with defaults applied.
type Timeouts struct {
	Poll  time.Duration // telegram.poll_timeout, default 10s
	HTTP  time.Duration // fares.http_timeout, default 30s
	Query time.Duration // dispatch.query_timeout, default 20s
	Send  time.Duration // dispatch.send_timeout, default 10s
	Cycle time.Duration // dispatch.cycle_timeout, default 30m
	Busy  time.Duration // storage.busy_timeout, default 1s
}

// Timeouts parses the duration fields. All invalid fields are reported.
func (c *Config) Timeouts() (Timeouts, error) {
	var errs []error
	parse := func(path, raw string, def time.Duration) time.Duration {
		d, err := ParseDurationOrDefault(path, raw, def)
		if err != nil {
			errs = append(errs, err)
		}
		return d
	}
	t := Timeouts{
		Poll:  parse("telegram.poll_timeout", c.Telegram.PollTimeout, 10*time.Second),
		HTTP:  parse("fares.http_timeout", c.Fares.HTTPTimeout, 30*time.Second),
		Query: parse("dispatch.query_timeout", c.Dispatch.QueryTimeout, 20*time.Second),
		Send:  parse("dispatch.send_timeout", c.Dispatch.SendTimeout, 10*time.Second),
		Cycle: parse("dispatch.cycle_timeout", c.Dispatch.CycleTimeout, 30*time.Minute),
		Busy:  parse("storage.busy_timeout", c.Storage.BusyTimeout, time.Second),
	}
	return t, errors.Join(errs...)
}

// ParseDurationField parses a Go duration; empty means 0. Negative values
// are rejected with the field path in the error.
func ParseDurationField(path, raw string) (time.Duration, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(s)
	switch {
	case err != nil:
		return 0, fmt.Errorf("%s: invalid duration %q: %w", path, raw, err)
	case d < 0:
		return 0, fmt.Errorf("%s: negative duration %q", path, raw)
	}
	return d, nil
}

// ParseDurationOrDefault is ParseDurationField with def for empty or zero.
func ParseDurationOrDefault(path, raw string, def time.Duration) (time.Duration, error) {
	d, err := ParseDurationField(path, raw)
	if err != nil || d > 0 {
		return d, err
	}
	return def, nil
}
