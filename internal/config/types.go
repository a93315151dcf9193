package config

// Config is the on-disk configuration (JSON or YAML).
//
// Durations are Go duration strings ("500ms", "10s", "1m"). Zero values fall
// back to the defaults documented on each section; see ApplyDefaults.
type Config struct {
	Telegram TelegramConfig `json:"telegram"`
	Logging  LoggingConfig  `json:"logging"`
	Fares    FaresConfig    `json:"fares"`
	Dispatch DispatchConfig `json:"dispatch"`
	Airports AirportsConfig `json:"airports,omitempty"`
	Storage  StorageConfig  `json:"storage,omitempty"`
	Ops      OpsConfig      `json:"ops,omitempty"`
}

type TelegramConfig struct {
	Token string `json:"token"`
	// PollTimeout is a Go duration string (e.g. "10s", "2m").
	PollTimeout string `json:"poll_timeout,omitempty"`
	// LogChatID receives log lines when logging.chat is enabled.
	LogChatID int64 `json:"log_chat_id,omitempty"`
}

type LoggingConfig struct {
	Level   string      `json:"level"`
	Console bool        `json:"console"`
	File    LoggingFile `json:"file"`
	Chat    LoggingChat `json:"chat"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

type LoggingChat struct {
	Enabled    bool   `json:"enabled"`
	MinLevel   string `json:"min_level"`
	RatePerSec int    `json:"rate_per_sec"`
}

// FaresConfig points at the fare finder.
//
// Defaults:
//   - base_url: "https://services-api.ryanair.com"
//   - currency: "USD"
//   - market: "en-gb"
//   - http_timeout: "30s"
type FaresConfig struct {
	BaseURL     string `json:"base_url,omitempty"`
	Currency    string `json:"currency,omitempty"`
	Market      string `json:"market,omitempty"`
	HTTPTimeout string `json:"http_timeout,omitempty"`
}

// DispatchConfig controls the daily notification cycle.
//
// Defaults:
//   - at: "12:00", timezone: "Europe/Vienna"
//   - max_message_len: 4096
//   - chunking: "greedy" ("count" reproduces the legacy sizing)
//   - workers: 4
//   - window_months: 6
//   - query_timeout: "20s", send_timeout: "10s", send_retries: 1
//   - cycle_timeout: "30m"
type DispatchConfig struct {
	At            string `json:"at,omitempty"`
	Timezone      string `json:"timezone,omitempty"`
	MaxMessageLen int    `json:"max_message_len,omitempty"`
	Chunking      string `json:"chunking,omitempty"`
	Workers       int    `json:"workers,omitempty"`
	WindowMonths  int    `json:"window_months,omitempty"`
	QueryTimeout  string `json:"query_timeout,omitempty"`
	SendTimeout   string `json:"send_timeout,omitempty"`
	// SendRetries is capped at 1.
	SendRetries  *int   `json:"send_retries,omitempty"`
	CycleTimeout string `json:"cycle_timeout,omitempty"`
}

// AirportsConfig optionally replaces the embedded airport reference set.
type AirportsConfig struct {
	File string `json:"file,omitempty"`
}

// StorageConfig selects the subscription store.
//
// Example:
//
//	"storage": { "driver": "sqlite", "path": "./farebot.db" }
type StorageConfig struct {
	Driver      string `json:"driver,omitempty"` // memory (default) | sqlite | file
	Path        string `json:"path,omitempty"`
	BusyTimeout string `json:"busy_timeout,omitempty"`
}

// OpsConfig controls the optional operational HTTP server (/healthz, /metrics, pprof).
//
// Prefer binding to localhost. A non-loopback address needs a token or allow_insecure.
type OpsConfig struct {
	Enabled       bool   `json:"enabled"`
	Addr          string `json:"addr,omitempty"`  // default: "127.0.0.1:9090"
	Token         string `json:"token,omitempty"` // optional bearer token (do not log)
	AllowInsecure bool   `json:"allow_insecure,omitempty"`
}

const (
	DefaultBaseURL       = "https://services-api.ryanair.com"
	DefaultCurrency      = "USD"
	DefaultMarket        = "en-gb"
	DefaultDispatchAt    = "12:00"
	DefaultTimezone      = "Europe/Vienna"
	DefaultMaxMessageLen = 4096
	DefaultChunking      = "greedy"
	DefaultWorkers       = 4
	DefaultWindowMonths  = 6
	DefaultOpsAddr       = "127.0.0.1:9090"
)

// ApplyDefaults fills zero values in place.
func ApplyDefaults(cfg *Config) {
	if cfg == nil {
		return
	}
	if cfg.Fares.BaseURL == "" {
		cfg.Fares.BaseURL = DefaultBaseURL
	}
	if cfg.Fares.Currency == "" {
		cfg.Fares.Currency = DefaultCurrency
	}
	if cfg.Fares.Market == "" {
		cfg.Fares.Market = DefaultMarket
	}
	d := &cfg.Dispatch
	if d.At == "" {
		d.At = DefaultDispatchAt
	}
	if d.Timezone == "" {
		d.Timezone = DefaultTimezone
	}
	if d.MaxMessageLen <= 0 {
		d.MaxMessageLen = DefaultMaxMessageLen
	}
	if d.Chunking == "" {
		d.Chunking = DefaultChunking
	}
	if d.Workers <= 0 {
		d.Workers = DefaultWorkers
	}
	if d.WindowMonths <= 0 {
		d.WindowMonths = DefaultWindowMonths
	}
	if d.SendRetries == nil {
		one := 1
		d.SendRetries = &one
	}
	if cfg.Storage.Driver == "" {
		cfg.Storage.Driver = "memory"
	}
	if cfg.Ops.Addr == "" {
		cfg.Ops.Addr = DefaultOpsAddr
	}
}
