package metricsmanager

import (
	"time"

	"github.com/buildsandbox/sandbox-agent/pkg/accessevent"
)

// MetricsManager is an interface for reporting engine metrics.
type MetricsManager interface {
	Start()
	Destroy()
	ReportEvent(op accessevent.OperationKind)
	ReportSymlinkHop()
	ReportFailedEvent()
	ReportDroppedReport()
	ReportChannelOccupancy(occupancy int, maxObserved uint64)
	ReportBatchForwarded(size int, duration time.Duration)
	ReportForwardFailure()
}
