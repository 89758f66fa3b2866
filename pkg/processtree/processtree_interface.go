package processtree

import "time"

// NoBuildStep marks an absent inherited build-step id in OnProcessStart;
// the build step is then inherited from the parent process.
const NoBuildStep uint64 = 0

// ProcessNode is the per-process record owned by the tree. Every active pid
// maps to exactly one build step.
type ProcessNode struct {
	PID         uint32
	PPID        uint32
	BuildStepID uint64
	Comm        string
	ExePath     string
	StartTime   time.Time
	Active      bool
}

// ProcessMetadata is the opaque payload stored in the tree's path-keyed
// namespace (keyed by executable path, case-insensitively).
type ProcessMetadata struct {
	PID       uint32
	Comm      string
	FirstSeen time.Time
}

// ProcessTree maps live processes to the build step that owns them across
// fork/exec/exit. Lookups never block; unknown pids and unknown parents are
// recoverable conditions with deterministic fallbacks.
type ProcessTree interface {
	// OnProcessStart registers pid. When inheritedBuildStep is NoBuildStep
	// the build step is taken from the parent; an untracked parent is
	// tolerated: the process becomes its own build-step root and
	// ErrUnknownParent is returned for the caller's accounting.
	OnProcessStart(pid, ppid uint32, inheritedBuildStep uint64) error

	// OnProcessExit marks pid inactive and detaches it. Children already
	// forked keep their build step.
	OnProcessExit(pid uint32) error

	// LookupBuildStep resolves the owning build step of pid, failing with
	// ErrUnknownProcess when pid is not tracked.
	LookupBuildStep(pid uint32) (uint64, error)

	// GetProcessNode returns a copy of the node for pid, if tracked.
	GetProcessNode(pid uint32) (ProcessNode, bool)

	// ActiveCount returns the number of tracked live processes.
	ActiveCount() int

	// SetPathMetadata / PathMetadata / ErasePathMetadata / ForEachPathMetadata
	// mirror an associative-map contract over case-insensitive path keys.
	SetPathMetadata(path string, meta ProcessMetadata)
	PathMetadata(path string) (ProcessMetadata, bool)
	ErasePathMetadata(path string) bool
	ForEachPathMetadata(fn func(path string, meta ProcessMetadata) bool)
	ClearPathMetadata()
}
