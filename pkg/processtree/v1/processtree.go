package processtree

import (
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/kubescape/go-logger"
	"github.com/kubescape/go-logger/helpers"

	"github.com/buildsandbox/sandbox-agent/pkg/namespace"
	"github.com/buildsandbox/sandbox-agent/pkg/processtree"
)

const exitedCacheSize = 1024

var _ processtree.ProcessTree = (*ProcessTreeImpl)(nil)

// ProcessTreeImpl tracks live processes and their build-step attribution.
// Lifecycle events may arrive from concurrent platform callbacks, so every
// operation takes the tree mutex; none of them ever blocks on channel or IO
// work.
type ProcessTreeImpl struct {
	mutex       sync.RWMutex
	processes   map[uint32]*processtree.ProcessNode
	exitedCache *lru.Cache[uint32, time.Time]
	metadata    *namespace.Map[processtree.ProcessMetadata]
}

// NewProcessTree builds a tree. namespaceThreshold configures the
// small/large fan-out switch of the path-keyed metadata namespace.
func NewProcessTree(namespaceThreshold int) *ProcessTreeImpl {
	exitedCache, err := lru.New[uint32, time.Time](exitedCacheSize)
	if err != nil {
		// Only reachable with a non-positive size; run without the cache.
		logger.L().Warning("failed to create exited-process cache", helpers.Error(err))
		exitedCache = nil
	}
	return &ProcessTreeImpl{
		processes:   make(map[uint32]*processtree.ProcessNode),
		exitedCache: exitedCache,
		metadata:    namespace.New[processtree.ProcessMetadata](namespaceThreshold),
	}
}

func (pt *ProcessTreeImpl) OnProcessStart(pid, ppid uint32, inheritedBuildStep uint64) error {
	pt.mutex.Lock()
	defer pt.mutex.Unlock()

	if existing, ok := pt.processes[pid]; ok && existing.Active {
		// A pid is never reused while active; seeing a second start means we
		// missed the exit. Replace the node rather than abandon the event.
		logger.L().Warning("process start for already-active pid, replacing",
			helpers.Int("pid", int(pid)),
			helpers.Int("oldBuildStep", int(existing.BuildStepID)))
		delete(pt.processes, pid)
	}

	node := &processtree.ProcessNode{
		PID:       pid,
		PPID:      ppid,
		StartTime: time.Now(),
		Active:    true,
	}

	var unknownParent error
	switch {
	case inheritedBuildStep != processtree.NoBuildStep:
		node.BuildStepID = inheritedBuildStep
	default:
		parent, ok := pt.processes[ppid]
		if ok {
			node.BuildStepID = parent.BuildStepID
		} else {
			// Tolerated: attribute the process to itself as a fallback root.
			node.BuildStepID = uint64(pid)
			unknownParent = &processtree.UnknownParentError{PID: pid, PPID: ppid}
			logger.L().Debug("unknown parent on process start, using fallback root",
				helpers.Int("pid", int(pid)),
				helpers.Int("ppid", int(ppid)))
		}
	}

	pt.processes[pid] = node
	return unknownParent
}

func (pt *ProcessTreeImpl) OnProcessExit(pid uint32) error {
	pt.mutex.Lock()
	defer pt.mutex.Unlock()

	node, ok := pt.processes[pid]
	if !ok {
		return &processtree.UnknownProcessError{PID: pid}
	}
	node.Active = false
	delete(pt.processes, pid)
	if pt.exitedCache != nil {
		pt.exitedCache.Add(pid, time.Now())
	}
	return nil
}

func (pt *ProcessTreeImpl) LookupBuildStep(pid uint32) (uint64, error) {
	pt.mutex.RLock()
	defer pt.mutex.RUnlock()

	node, ok := pt.processes[pid]
	if !ok {
		return 0, &processtree.UnknownProcessError{PID: pid}
	}
	return node.BuildStepID, nil
}

func (pt *ProcessTreeImpl) GetProcessNode(pid uint32) (processtree.ProcessNode, bool) {
	pt.mutex.RLock()
	defer pt.mutex.RUnlock()

	node, ok := pt.processes[pid]
	if !ok {
		return processtree.ProcessNode{}, false
	}
	return *node, true
}

func (pt *ProcessTreeImpl) ActiveCount() int {
	pt.mutex.RLock()
	defer pt.mutex.RUnlock()
	return len(pt.processes)
}

// Pids returns the tracked pids.
func (pt *ProcessTreeImpl) Pids() []uint32 {
	pt.mutex.RLock()
	defer pt.mutex.RUnlock()
	pids := make([]uint32, 0, len(pt.processes))
	for pid := range pt.processes {
		pids = append(pids, pid)
	}
	return pids
}

// RecentlyExited reports whether pid exited recently enough to still be in
// the exited cache. Used by feeders to avoid resurrecting dead processes.
func (pt *ProcessTreeImpl) RecentlyExited(pid uint32) bool {
	if pt.exitedCache == nil {
		return false
	}
	_, ok := pt.exitedCache.Get(pid)
	return ok
}

func (pt *ProcessTreeImpl) SetPathMetadata(path string, meta processtree.ProcessMetadata) {
	pt.mutex.Lock()
	defer pt.mutex.Unlock()
	pt.metadata.Insert(path, meta)
}

func (pt *ProcessTreeImpl) PathMetadata(path string) (processtree.ProcessMetadata, bool) {
	pt.mutex.RLock()
	defer pt.mutex.RUnlock()
	return pt.metadata.Get(path)
}

func (pt *ProcessTreeImpl) ErasePathMetadata(path string) bool {
	pt.mutex.Lock()
	defer pt.mutex.Unlock()
	return pt.metadata.Erase(path)
}

// ForEachPathMetadata iterates a snapshot taken under the read lock, so a
// concurrent insert or erase never tears the traversal.
func (pt *ProcessTreeImpl) ForEachPathMetadata(fn func(path string, meta processtree.ProcessMetadata) bool) {
	type entry struct {
		path string
		meta processtree.ProcessMetadata
	}
	pt.mutex.RLock()
	snapshot := make([]entry, 0, pt.metadata.Len())
	pt.metadata.ForEach(func(path string, meta processtree.ProcessMetadata) bool {
		snapshot = append(snapshot, entry{path: path, meta: meta})
		return true
	})
	pt.mutex.RUnlock()

	for _, e := range snapshot {
		if !fn(e.path, e.meta) {
			return
		}
	}
}

func (pt *ProcessTreeImpl) ClearPathMetadata() {
	pt.mutex.Lock()
	defer pt.mutex.Unlock()
	pt.metadata.Clear()
}
