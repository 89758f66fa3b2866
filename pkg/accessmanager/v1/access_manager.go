package accessmanager

import (
	"errors"
	"sync"
	"sync/atomic"

	"github.com/aquilax/truncate"
	mapset "github.com/deckarep/golang-set/v2"
	"github.com/dghubble/trie"
	"github.com/goradd/maps"
	"github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/kubescape/go-logger"
	"github.com/kubescape/go-logger/helpers"

	"github.com/buildsandbox/sandbox-agent/pkg/accessevent"
	"github.com/buildsandbox/sandbox-agent/pkg/accessmanager"
	"github.com/buildsandbox/sandbox-agent/pkg/config"
	"github.com/buildsandbox/sandbox-agent/pkg/metricsmanager"
	"github.com/buildsandbox/sandbox-agent/pkg/pathresolver"
	"github.com/buildsandbox/sandbox-agent/pkg/processtree"
	"github.com/buildsandbox/sandbox-agent/pkg/reportchannel"
)

const (
	dedupCacheSize = 8192
	// logPathLimit keeps runaway raw paths from flooding the log.
	logPathLimit = 256
)

var errInScope = errors.New("in scope")

var _ accessmanager.AccessManager = (*AccessManagerImpl)(nil)

type dedupKey struct {
	pid       uint32
	operation accessevent.OperationKind
	path      string
}

type stepCounters struct {
	reports     atomic.Uint64
	symlinkHops atomic.Uint64
	dropped     atomic.Uint64
}

// AccessManagerImpl is the observation pipeline: ignore filter, path
// canonicalization with per-hop reporting, build-step attribution, scope
// filter, de-duplication, then publication on a channel shard picked by pid.
type AccessManagerImpl struct {
	resolver pathresolver.PathResolver
	tree     processtree.ProcessTree
	shards   []*reportchannel.Channel
	metrics  metricsmanager.MetricsManager

	ignoredOps mapset.Set[accessevent.OperationKind]
	scope      *trie.PathTrie
	scopeEmpty bool
	dedup      *expirable.LRU[dedupKey, struct{}]

	stats      maps.SafeMap[uint64, *stepCounters]
	statsMutex sync.Mutex
}

func CreateAccessManager(cfg config.Config, resolver pathresolver.PathResolver, tree processtree.ProcessTree, shards []*reportchannel.Channel, metrics metricsmanager.MetricsManager) *AccessManagerImpl {
	ignored := mapset.NewSet[accessevent.OperationKind]()
	for _, op := range cfg.IgnoredOperations {
		ignored.Add(accessevent.ParseOperationKind(op))
	}

	scope := trie.NewPathTrie()
	for _, root := range cfg.MonitoredRoots {
		scope.Put(root, true)
	}

	var dedup *expirable.LRU[dedupKey, struct{}]
	if cfg.DedupWindow > 0 {
		dedup = expirable.NewLRU[dedupKey, struct{}](dedupCacheSize, nil, cfg.DedupWindow)
	}

	return &AccessManagerImpl{
		resolver:   resolver,
		tree:       tree,
		shards:     shards,
		metrics:    metrics,
		ignoredOps: ignored,
		scope:      scope,
		scopeEmpty: len(cfg.MonitoredRoots) == 0,
		dedup:      dedup,
	}
}

func (am *AccessManagerImpl) ReportEvent(event accessevent.RawEvent) {
	am.metrics.ReportEvent(event.Operation)

	if am.ignoredOps.Contains(event.Operation) {
		return
	}

	buildStep := am.attribute(event.PID, event.PPID)
	counters := am.countersFor(buildStep)

	resolved, err := am.resolver.Resolve(event.RawPath, event.WorkingDir, func(linkPath string) {
		// Hops are published as they are discovered, so a resolution that
		// later fails still leaves its traversed links on record.
		am.metrics.ReportSymlinkHop()
		counters.symlinkHops.Add(1)
		am.publish(accessevent.AccessReport{
			BuildStepID: buildStep,
			PID:         event.PID,
			Operation:   accessevent.OpSymlinkHop,
			Path:        linkPath,
			Timestamp:   event.Timestamp,
			FinalExists: true,
		}, counters)
	})
	if err != nil {
		am.metrics.ReportFailedEvent()
		logger.L().Debug("path resolution failed",
			helpers.String("path", truncate.Truncate(event.RawPath, logPathLimit, "...", truncate.PositionEnd)),
			helpers.Int("pid", int(event.PID)),
			helpers.Error(err))
		return
	}

	am.publish(accessevent.AccessReport{
		BuildStepID: buildStep,
		PID:         event.PID,
		Operation:   event.Operation,
		Path:        resolved.Path,
		Timestamp:   event.Timestamp,
		ResultCode:  int32(event.ResultCode),
		FinalExists: resolved.FinalExists,
	}, counters)
}

// attribute maps the pid to its build step. An untracked pid is registered on
// the fly from the event's ppid, mirroring how short-lived processes show up
// in events before any lifecycle notification.
func (am *AccessManagerImpl) attribute(pid, ppid uint32) uint64 {
	buildStep, err := am.tree.LookupBuildStep(pid)
	if err == nil {
		return buildStep
	}
	if startErr := am.tree.OnProcessStart(pid, ppid, processtree.NoBuildStep); startErr != nil {
		logger.L().Debug("late process registration",
			helpers.Int("pid", int(pid)),
			helpers.Error(startErr))
	}
	buildStep, err = am.tree.LookupBuildStep(pid)
	if err != nil {
		return processtree.NoBuildStep
	}
	return buildStep
}

func (am *AccessManagerImpl) publish(report accessevent.AccessReport, counters *stepCounters) {
	if !am.inScope(report.Path) {
		return
	}
	if am.dedup != nil {
		key := dedupKey{pid: report.PID, operation: report.Operation, path: report.Path}
		if _, seen := am.dedup.Get(key); seen {
			return
		}
		am.dedup.Add(key, struct{}{})
	}

	shard := am.shards[int(report.PID)%len(am.shards)]
	if err := shard.Enqueue(report); err != nil {
		am.metrics.ReportDroppedReport()
		counters.dropped.Add(1)
		return
	}
	counters.reports.Add(1)
}

// inScope reports whether path sits under any monitored root. The trie is
// walked along the path's segments, so the check costs the depth of the path
// rather than the number of roots.
func (am *AccessManagerImpl) inScope(path string) bool {
	if am.scopeEmpty {
		return true
	}
	err := am.scope.WalkPath(path, func(key string, value interface{}) error {
		if value != nil {
			return errInScope
		}
		return nil
	})
	return errors.Is(err, errInScope)
}

func (am *AccessManagerImpl) countersFor(buildStep uint64) *stepCounters {
	if counters := am.stats.Get(buildStep); counters != nil {
		return counters
	}
	am.statsMutex.Lock()
	defer am.statsMutex.Unlock()
	if counters := am.stats.Get(buildStep); counters != nil {
		return counters
	}
	counters := &stepCounters{}
	am.stats.Set(buildStep, counters)
	return counters
}

func (am *AccessManagerImpl) StepStats(buildStepID uint64) (accessmanager.StepStats, bool) {
	counters := am.stats.Get(buildStepID)
	if counters == nil {
		return accessmanager.StepStats{}, false
	}
	return snapshot(counters), true
}

func (am *AccessManagerImpl) ForEachStepStats(fn func(buildStepID uint64, stats accessmanager.StepStats) bool) {
	am.stats.Range(func(buildStep uint64, counters *stepCounters) bool {
		return fn(buildStep, snapshot(counters))
	})
}

func snapshot(counters *stepCounters) accessmanager.StepStats {
	return accessmanager.StepStats{
		Reports:     counters.reports.Load(),
		SymlinkHops: counters.symlinkHops.Load(),
		Dropped:     counters.dropped.Load(),
	}
}
