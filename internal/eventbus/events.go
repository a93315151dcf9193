package eventbus

// Event types published by the dispatch engine and the registry.
const (
	SubscriptionChanged  = "subscription.changed"
	DispatchPairFailed   = "dispatch.pair.failed"
	DispatchCycleStarted = "dispatch.cycle.started"
	DispatchCycleDone    = "dispatch.cycle.finished"
	ConfigReloaded       = "config.reloaded"
)

// SubscriptionChange is the Data of SubscriptionChanged.
type SubscriptionChange struct {
	UserID int64  `json:"user_id"`
	Op     string `json:"op"` // initialize|add|remove|pause|resume
	Code   string `json:"code,omitempty"`
}

// PairFailure is the Data of DispatchPairFailed.
type PairFailure struct {
	CycleID string `json:"cycle_id,omitempty"`
	UserID  int64  `json:"user_id"`
	Origin  string `json:"origin"`
	Stage   string `json:"stage"` // query|send
	Err     string `json:"err"`
}

// CycleSummary is the Data of DispatchCycleStarted and DispatchCycleDone.
type CycleSummary struct {
	CycleID    string `json:"cycle_id"`
	Pairs      int    `json:"pairs"`
	Failed     int    `json:"failed"`
	Messages   int    `json:"messages"`
	DurationMS int64  `json:"duration_ms"`
}
