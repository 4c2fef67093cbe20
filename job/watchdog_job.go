// Package job contains the cron-scheduled background jobs.
package job

import (
	"context"

	"github.com/mmvpn/warden/enforce"
)

// WatchdogJob runs one watchdog tick: poll traffic deltas first, then
// evaluate the enforcement state machine against the updated counters.
// An in-flight tick is allowed to finish during shutdown.
type WatchdogJob struct {
	collector *enforce.Collector
	engine    *enforce.Engine
}

func NewWatchdogJob(collector *enforce.Collector, engine *enforce.Engine) *WatchdogJob {
	return &WatchdogJob{collector: collector, engine: engine}
}

func (j *WatchdogJob) Run() {
	j.collector.Tick(context.Background())
	j.engine.Tick()
}
