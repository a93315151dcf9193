package scheduler

import (
	"time"

	logx "farebot/pkg/logx"
)

const skipWarnThrottle = 5 * time.Minute

// reportSkip warns about overlapping triggers, at most once per throttle
// window per schedule.
func (s *Service) reportSkip(name string) {
	now := time.Now()
	s.skipMu.Lock()
	last := s.lastSkipWarn[name]
	if !last.IsZero() && now.Sub(last) < skipWarnThrottle {
		s.skipMu.Unlock()
		s.log.Debug("schedule trigger skipped", logx.String("name", name))
		return
	}
	s.lastSkipWarn[name] = now
	s.skipMu.Unlock()

	s.log.Warn("schedule trigger skipped: previous run still in flight", logx.String("name", name))
}
