package storage

import (
	"errors"
	"fmt"
	"strings"

	logx "farebot/pkg/logx"
)

var ErrUnknownDriver = errors.New("unknown storage driver")

type opener func(cfg Config, log logx.Logger) (Store, error)

var drivers = map[string]opener{
	"memory": func(Config, logx.Logger) (Store, error) { return NewMemory(), nil },
	"file":   openFile,
	"sqlite": openSQLite,
}

// Open returns the store named by cfg.Driver; empty selects memory.
func Open(cfg Config, log logx.Logger) (Store, error) {
	if log.IsZero() {
		log = logx.Nop()
	}
	name := strings.ToLower(strings.TrimSpace(cfg.Driver))
	switch name {
	case "":
		name = "memory"
	case "sqlite3":
		name = "sqlite"
	}
	open, ok := drivers[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownDriver, cfg.Driver)
	}
	st, err := open(cfg, log.With(logx.String("driver", name)))
	if err != nil {
		return nil, fmt.Errorf("storage %s: %w", name, err)
	}
	return st, nil
}
