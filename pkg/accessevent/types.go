package accessevent

import (
	"time"

	"golang.org/x/sys/unix"
)

// OperationKind classifies a filesystem-affecting operation observed by the
// interception layer.
type OperationKind int

const (
	OpRead OperationKind = iota
	OpWrite
	OpProbe
	OpCreate
	OpDelete
	OpRename
	OpEnumerateDirectory
	OpSymlinkHop
)

func (k OperationKind) String() string {
	switch k {
	case OpRead:
		return "read"
	case OpWrite:
		return "write"
	case OpProbe:
		return "probe"
	case OpCreate:
		return "create"
	case OpDelete:
		return "delete"
	case OpRename:
		return "rename"
	case OpEnumerateDirectory:
		return "enumerateDirectory"
	case OpSymlinkHop:
		return "symlinkHop"
	default:
		return "unknown"
	}
}

// ParseOperationKind maps the string form back to an OperationKind. Unknown
// strings map to OpProbe, the least privileged classification.
func ParseOperationKind(s string) OperationKind {
	switch s {
	case "read":
		return OpRead
	case "write":
		return OpWrite
	case "probe":
		return OpProbe
	case "create":
		return OpCreate
	case "delete":
		return OpDelete
	case "rename":
		return OpRename
	case "enumerateDirectory":
		return OpEnumerateDirectory
	case "symlinkHop":
		return OpSymlinkHop
	default:
		return OpProbe
	}
}

// RawEvent is the inbound record handed to the engine by the interception
// layer, one per observed operation. The path is whatever the intercepted
// call used, possibly relative and unresolved.
type RawEvent struct {
	PID        uint32
	PPID       uint32
	RawPath    string
	WorkingDir string
	Operation  OperationKind
	ResultCode unix.Errno
	Timestamp  time.Time
}

// AccessReport is the outbound record forwarded to the orchestrator. It is a
// value type: once enqueued it is owned by the channel slot until dequeued,
// then by the dispatcher until forwarded.
type AccessReport struct {
	BuildStepID uint64        `json:"buildStepId"`
	PID         uint32        `json:"pid"`
	Operation   OperationKind `json:"operation"`
	Path        string        `json:"path"`
	Timestamp   time.Time     `json:"timestamp"`
	ResultCode  int32         `json:"resultCode"`
	FinalExists bool          `json:"finalExists"`
}
