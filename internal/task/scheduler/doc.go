// Package scheduler fires named jobs on cron, interval or daily schedules in
// a configured timezone.
//
// Jobs run on their own goroutine with a per-run timeout. A job that is still
// running when its next trigger fires is skipped, not queued.
package scheduler
