package accessmanager

import "github.com/buildsandbox/sandbox-agent/pkg/accessevent"

// StepStats is a point-in-time snapshot of the reports attributed to one
// build step.
type StepStats struct {
	Reports     uint64
	SymlinkHops uint64
	Dropped     uint64
}

// AccessManager turns raw intercepted events into attributed, canonical
// access reports and publishes them on the report channel. ReportEvent is
// safe for concurrent use and never blocks on the forwarding side beyond the
// channel's overload policy.
type AccessManager interface {
	ReportEvent(event accessevent.RawEvent)
	StepStats(buildStepID uint64) (StepStats, bool)
	ForEachStepStats(fn func(buildStepID uint64, stats StepStats) bool)
}
