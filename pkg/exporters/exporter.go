package exporters

import (
	"github.com/buildsandbox/sandbox-agent/pkg/accessevent"
)

// Exporter forwards a batch of access reports to one destination. Forwarding
// is a single opaque call from the dispatcher's point of view; an error
// return makes the dispatcher retry the whole batch.
type Exporter interface {
	SendAccessReports(batch []accessevent.AccessReport) error
}

var _ Exporter = (*ExporterMock)(nil)

type ExporterMock struct {
	Batches [][]accessevent.AccessReport
	Err     error
}

func (e *ExporterMock) SendAccessReports(batch []accessevent.AccessReport) error {
	if e.Err != nil {
		return e.Err
	}
	copied := make([]accessevent.AccessReport, len(batch))
	copy(copied, batch)
	e.Batches = append(e.Batches, copied)
	return nil
}
