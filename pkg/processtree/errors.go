package processtree

import (
	"errors"
	"fmt"
)

var (
	ErrUnknownProcess = errors.New("unknown process")
	ErrUnknownParent  = errors.New("unknown parent process")
)

// UnknownProcessError reports a lookup for an untracked pid. Callers
// attribute the access to an orphan build step instead of failing the
// pipeline.
type UnknownProcessError struct {
	PID uint32
}

func (e *UnknownProcessError) Error() string {
	return fmt.Sprintf("process %d is not tracked", e.PID)
}

func (e *UnknownProcessError) Unwrap() error {
	return ErrUnknownProcess
}

// UnknownParentError reports a process start whose parent is not tracked.
// The process was still registered, as its own build-step root.
type UnknownParentError struct {
	PID  uint32
	PPID uint32
}

func (e *UnknownParentError) Error() string {
	return fmt.Sprintf("parent %d of process %d is not tracked", e.PPID, e.PID)
}

func (e *UnknownParentError) Unwrap() error {
	return ErrUnknownParent
}
