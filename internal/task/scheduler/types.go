package scheduler

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/robfig/cron/v3"

	"farebot/internal/eventbus"
	logx "farebot/pkg/logx"
)

// Config controls the scheduler service.
type Config struct {
	Timezone    string // IANA TZ, e.g. "Europe/Warsaw"
	HistorySize int    // finished runs kept for Snapshot (default 20)
}

// Job is one scheduled unit of work. ctx carries the per-run timeout.
type Job func(ctx context.Context) error

type scheduleDef struct {
	id      string
	name    string
	spec    string // cron spec or @every
	timeout time.Duration
	job     Job
	entryID cron.EntryID
	running *atomic.Bool
}

type Service struct {
	mu sync.Mutex

	log logx.Logger
	cfg Config
	loc *time.Location
	bus eventbus.Bus

	parser cron.Parser
	c      *cron.Cron
	defs   []scheduleDef

	base   context.Context
	cancel context.CancelFunc
	runs   sync.WaitGroup

	hmu     sync.Mutex
	history []HistoryItem

	// Overlap skip throttling: key is schedule name.
	skipMu       sync.Mutex
	lastSkipWarn map[string]time.Time
}

type ScheduleInfo struct {
	ID      string
	Name    string
	Spec    string
	Timeout time.Duration
	Running bool
	Next    time.Time
	Prev    time.Time
}

// HistoryItem is one finished (or skipped) run.
type HistoryItem struct {
	Name     string
	Started  time.Time
	Duration time.Duration
	Skipped  bool
	Err      string
}

type Snapshot struct {
	Timezone  string
	Started   bool
	Schedules []ScheduleInfo
	History   []HistoryItem
}
