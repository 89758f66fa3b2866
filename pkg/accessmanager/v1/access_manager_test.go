package accessmanager

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/buildsandbox/sandbox-agent/pkg/accessevent"
	"github.com/buildsandbox/sandbox-agent/pkg/config"
	"github.com/buildsandbox/sandbox-agent/pkg/metricsmanager"
	"github.com/buildsandbox/sandbox-agent/pkg/pathresolver"
	processtreev1 "github.com/buildsandbox/sandbox-agent/pkg/processtree/v1"
	"github.com/buildsandbox/sandbox-agent/pkg/reportchannel"
)

// fakeResolver replays canned resolutions and hop sequences.
type fakeResolver struct {
	hops map[string][]string
	out  map[string]pathresolver.Resolved
	errs map[string]error
}

func (f *fakeResolver) Resolve(rawPath, anchorDir string, hop pathresolver.HopFunc) (pathresolver.Resolved, error) {
	for _, link := range f.hops[rawPath] {
		if hop != nil {
			hop(link)
		}
	}
	if err := f.errs[rawPath]; err != nil {
		return pathresolver.Resolved{}, err
	}
	if r, ok := f.out[rawPath]; ok {
		return r, nil
	}
	return pathresolver.Resolved{Path: rawPath, FinalExists: true}, nil
}

type fixture struct {
	am      *AccessManagerImpl
	tree    *processtreev1.ProcessTreeImpl
	shards  []*reportchannel.Channel
	metrics *metricsmanager.MetricsMock
}

func newFixture(t *testing.T, cfg config.Config, resolver pathresolver.PathResolver, shardCount int) *fixture {
	t.Helper()
	tree := processtreev1.NewProcessTree(12)
	shards := make([]*reportchannel.Channel, shardCount)
	for i := range shards {
		c, err := reportchannel.New(64, reportchannel.Drop)
		require.NoError(t, err)
		shards[i] = c
	}
	metrics := metricsmanager.NewMetricsMock()
	return &fixture{
		am:      CreateAccessManager(cfg, resolver, tree, shards, metrics),
		tree:    tree,
		shards:  shards,
		metrics: metrics,
	}
}

func (f *fixture) drain() []accessevent.AccessReport {
	var reports []accessevent.AccessReport
	for _, shard := range f.shards {
		for {
			r, ok := shard.TryDequeue()
			if !ok {
				break
			}
			reports = append(reports, r)
		}
	}
	return reports
}

func TestReportEvent_AttributesToBuildStep(t *testing.T) {
	f := newFixture(t, config.Config{}, &fakeResolver{}, 1)
	require.NoError(t, f.tree.OnProcessStart(100, 1, 7))
	require.NoError(t, f.tree.OnProcessStart(200, 1, 9))

	f.am.ReportEvent(accessevent.RawEvent{PID: 100, RawPath: "/a/b", Operation: accessevent.OpRead, Timestamp: time.Now()})
	f.am.ReportEvent(accessevent.RawEvent{PID: 200, RawPath: "/a/c", Operation: accessevent.OpWrite, Timestamp: time.Now()})

	reports := f.drain()
	require.Len(t, reports, 2)
	assert.Equal(t, uint64(7), reports[0].BuildStepID)
	assert.Equal(t, accessevent.OpRead, reports[0].Operation)
	assert.Equal(t, "/a/b", reports[0].Path)
	assert.Equal(t, uint64(9), reports[1].BuildStepID)
	assert.Equal(t, accessevent.OpWrite, reports[1].Operation)

	stats, ok := f.am.StepStats(7)
	require.True(t, ok)
	assert.Equal(t, uint64(1), stats.Reports)
}

func TestReportEvent_UnknownPidRegistersFromEvent(t *testing.T) {
	f := newFixture(t, config.Config{}, &fakeResolver{}, 1)
	require.NoError(t, f.tree.OnProcessStart(100, 1, 7))

	// pid 555 was never announced; its ppid attributes it to step 7.
	f.am.ReportEvent(accessevent.RawEvent{PID: 555, PPID: 100, RawPath: "/x", Operation: accessevent.OpRead})

	reports := f.drain()
	require.Len(t, reports, 1)
	assert.Equal(t, uint64(7), reports[0].BuildStepID)

	step, err := f.tree.LookupBuildStep(555)
	require.NoError(t, err)
	assert.Equal(t, uint64(7), step)
}

func TestReportEvent_HopsSurviveResolutionFailure(t *testing.T) {
	resolver := &fakeResolver{
		hops: map[string][]string{"/loop": {"/loop/a", "/loop/b"}},
		errs: map[string]error{"/loop": pathresolver.ErrTooManySymlinkHops},
	}
	f := newFixture(t, config.Config{}, resolver, 1)
	require.NoError(t, f.tree.OnProcessStart(100, 1, 7))

	f.am.ReportEvent(accessevent.RawEvent{PID: 100, RawPath: "/loop", Operation: accessevent.OpRead})

	reports := f.drain()
	require.Len(t, reports, 2)
	for i, r := range reports {
		assert.Equal(t, accessevent.OpSymlinkHop, r.Operation, "report %d", i)
	}
	assert.Equal(t, "/loop/a", reports[0].Path)
	assert.Equal(t, "/loop/b", reports[1].Path)
	assert.Equal(t, uint64(1), f.metrics.Failed.Load())
	assert.Equal(t, uint64(2), f.metrics.Hops.Load())
}

func TestReportEvent_IgnoredOperations(t *testing.T) {
	f := newFixture(t, config.Config{IgnoredOperations: []string{"probe"}}, &fakeResolver{}, 1)
	require.NoError(t, f.tree.OnProcessStart(100, 1, 7))

	f.am.ReportEvent(accessevent.RawEvent{PID: 100, RawPath: "/a", Operation: accessevent.OpProbe})
	f.am.ReportEvent(accessevent.RawEvent{PID: 100, RawPath: "/a", Operation: accessevent.OpRead})

	reports := f.drain()
	require.Len(t, reports, 1)
	assert.Equal(t, accessevent.OpRead, reports[0].Operation)
	// The ignored event is still counted as observed.
	assert.Equal(t, uint64(2), f.metrics.Events.Load())
}

func TestReportEvent_ScopeFilter(t *testing.T) {
	cfg := config.Config{MonitoredRoots: []string{"/workspace"}, ChannelShards: 1, OverloadPolicy: "drop", SymlinkHopLimit: 40, NamespaceThreshold: 12}
	require.NoError(t, cfg.Validate())
	f := newFixture(t, cfg, &fakeResolver{}, 1)
	require.NoError(t, f.tree.OnProcessStart(100, 1, 7))

	f.am.ReportEvent(accessevent.RawEvent{PID: 100, RawPath: "/workspace/src/main.c", Operation: accessevent.OpRead})
	f.am.ReportEvent(accessevent.RawEvent{PID: 100, RawPath: "/etc/passwd", Operation: accessevent.OpRead})
	f.am.ReportEvent(accessevent.RawEvent{PID: 100, RawPath: "/workspacefoo", Operation: accessevent.OpRead})

	reports := f.drain()
	require.Len(t, reports, 1)
	assert.Equal(t, "/workspace/src/main.c", reports[0].Path)
}

func TestReportEvent_DedupWindow(t *testing.T) {
	f := newFixture(t, config.Config{DedupWindow: time.Minute}, &fakeResolver{}, 1)
	require.NoError(t, f.tree.OnProcessStart(100, 1, 7))

	for i := 0; i < 3; i++ {
		f.am.ReportEvent(accessevent.RawEvent{PID: 100, RawPath: "/a", Operation: accessevent.OpRead})
	}
	f.am.ReportEvent(accessevent.RawEvent{PID: 100, RawPath: "/a", Operation: accessevent.OpWrite})

	reports := f.drain()
	require.Len(t, reports, 2)
	assert.Equal(t, accessevent.OpRead, reports[0].Operation)
	assert.Equal(t, accessevent.OpWrite, reports[1].Operation)
}

func TestReportEvent_DropCountsAgainstStep(t *testing.T) {
	f := newFixture(t, config.Config{}, &fakeResolver{}, 1)
	require.NoError(t, f.tree.OnProcessStart(100, 1, 7))

	// 64 is the shard capacity; everything past it is dropped.
	for i := 0; i < 70; i++ {
		f.am.ReportEvent(accessevent.RawEvent{PID: 100, RawPath: "/a", Operation: accessevent.OpRead})
	}

	stats, ok := f.am.StepStats(7)
	require.True(t, ok)
	assert.Equal(t, uint64(64), stats.Reports)
	assert.Equal(t, uint64(6), stats.Dropped)
	assert.Equal(t, uint64(6), f.metrics.Dropped.Load())
}

func TestReportEvent_ShardingByPid(t *testing.T) {
	f := newFixture(t, config.Config{}, &fakeResolver{}, 2)
	require.NoError(t, f.tree.OnProcessStart(100, 1, 7))
	require.NoError(t, f.tree.OnProcessStart(101, 1, 7))

	f.am.ReportEvent(accessevent.RawEvent{PID: 100, RawPath: "/even", Operation: accessevent.OpRead})
	f.am.ReportEvent(accessevent.RawEvent{PID: 101, RawPath: "/odd", Operation: accessevent.OpRead})

	r0, ok := f.shards[0].TryDequeue()
	require.True(t, ok)
	assert.Equal(t, "/even", r0.Path)
	r1, ok := f.shards[1].TryDequeue()
	require.True(t, ok)
	assert.Equal(t, "/odd", r1.Path)
}
