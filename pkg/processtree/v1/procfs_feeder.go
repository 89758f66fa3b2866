package processtree

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/kubescape/go-logger"
	"github.com/kubescape/go-logger/helpers"
	"github.com/prometheus/procfs"

	"github.com/buildsandbox/sandbox-agent/pkg/processtree"
)

// ProcfsFeeder seeds the process tree from /proc so that attribution works
// for processes that were alive before the agent attached, and reaps
// processes whose exit event was missed. Lifecycle events from the
// interception layer remain the authoritative source; the feeder only fills
// gaps.
type ProcfsFeeder struct {
	mutex      sync.Mutex
	ctx        context.Context
	cancel     context.CancelFunc
	interval   time.Duration
	procfsPath string
	fs         procfs.FS
	tree       *ProcessTreeImpl
}

// NewProcfsFeeder creates a feeder scanning /proc every interval.
func NewProcfsFeeder(interval time.Duration, tree *ProcessTreeImpl) *ProcfsFeeder {
	return &ProcfsFeeder{
		interval:   interval,
		procfsPath: procfs.DefaultMountPoint,
		tree:       tree,
	}
}

// Start runs the initial scan synchronously, then begins the periodic loop.
func (pf *ProcfsFeeder) Start(ctx context.Context) error {
	pf.mutex.Lock()
	defer pf.mutex.Unlock()

	if pf.cancel != nil {
		return errors.New("procfs feeder already started")
	}

	fs, err := procfs.NewFS(pf.procfsPath)
	if err != nil {
		return fmt.Errorf("failed to initialize procfs: %w", err)
	}
	pf.fs = fs
	pf.ctx, pf.cancel = context.WithCancel(ctx)

	pf.scan()
	go pf.feedLoop()
	return nil
}

// Stop stops the periodic loop.
func (pf *ProcfsFeeder) Stop() {
	pf.mutex.Lock()
	defer pf.mutex.Unlock()

	if pf.cancel != nil {
		pf.cancel()
		pf.cancel = nil
	}
}

func (pf *ProcfsFeeder) feedLoop() {
	ctx := pf.ctx
	ticker := time.NewTicker(pf.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			pf.scan()
		}
	}
}

func (pf *ProcfsFeeder) scan() {
	procs, err := pf.fs.AllProcs()
	if err != nil {
		logger.L().Warning("procfs scan failed", helpers.Error(err))
		return
	}

	live := make(map[uint32]bool, len(procs))
	for _, p := range procs {
		pid := uint32(p.PID)
		live[pid] = true

		if _, tracked := pf.tree.GetProcessNode(pid); tracked {
			continue
		}
		if pf.tree.RecentlyExited(pid) {
			continue
		}

		stat, err := p.Stat()
		if err != nil {
			// Process vanished between the listing and the stat.
			continue
		}
		if err := pf.tree.OnProcessStart(pid, uint32(stat.PPID), processtree.NoBuildStep); err != nil {
			logger.L().Debug("procfs seed with fallback attribution",
				helpers.Int("pid", int(pid)),
				helpers.Error(err))
		}
		if exe, err := p.Executable(); err == nil && exe != "" {
			pf.tree.SetPathMetadata(exe, processtree.ProcessMetadata{
				PID:       pid,
				Comm:      stat.Comm,
				FirstSeen: time.Now(),
			})
		}
	}

	// Reap tracked processes that are gone from /proc.
	for _, pid := range pf.tree.Pids() {
		if !live[pid] {
			_ = pf.tree.OnProcessExit(pid)
		}
	}
}
