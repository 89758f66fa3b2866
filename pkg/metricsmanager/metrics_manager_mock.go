package metricsmanager

import (
	"sync/atomic"
	"time"

	"github.com/buildsandbox/sandbox-agent/pkg/accessevent"
)

var _ MetricsManager = (*MetricsMock)(nil)

type MetricsMock struct {
	Events          atomic.Uint64
	Hops            atomic.Uint64
	Failed          atomic.Uint64
	Dropped         atomic.Uint64
	Batches         atomic.Uint64
	ForwardFailures atomic.Uint64
}

func NewMetricsMock() *MetricsMock {
	return &MetricsMock{}
}

func (m *MetricsMock) Start()   {}
func (m *MetricsMock) Destroy() {}

func (m *MetricsMock) ReportEvent(accessevent.OperationKind) {
	m.Events.Add(1)
}

func (m *MetricsMock) ReportSymlinkHop() {
	m.Hops.Add(1)
}

func (m *MetricsMock) ReportFailedEvent() {
	m.Failed.Add(1)
}

func (m *MetricsMock) ReportDroppedReport() {
	m.Dropped.Add(1)
}

func (m *MetricsMock) ReportChannelOccupancy(int, uint64) {}

func (m *MetricsMock) ReportBatchForwarded(int, time.Duration) {
	m.Batches.Add(1)
}

func (m *MetricsMock) ReportForwardFailure() {
	m.ForwardFailures.Add(1)
}
