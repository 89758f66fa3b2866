package accessmanager

import (
	"sync"

	"github.com/buildsandbox/sandbox-agent/pkg/accessevent"
)

var _ AccessManager = (*AccessManagerMock)(nil)

type AccessManagerMock struct {
	mutex  sync.Mutex
	Events []accessevent.RawEvent
}

func (m *AccessManagerMock) ReportEvent(event accessevent.RawEvent) {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	m.Events = append(m.Events, event)
}

func (m *AccessManagerMock) Received() []accessevent.RawEvent {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	return append([]accessevent.RawEvent(nil), m.Events...)
}

func (m *AccessManagerMock) StepStats(uint64) (StepStats, bool) {
	return StepStats{}, false
}

func (m *AccessManagerMock) ForEachStepStats(func(uint64, StepStats) bool) {}
