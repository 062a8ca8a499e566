package execkit

import (
	"time"

	"github.com/hearthd/hearthd/internal/protocol"
)

// newNotAllowed builds the −31001 error the executor raises for
// disallowed or unsafe commands (spec.md §7, §9 open question 2).
func newNotAllowed(message string) error {
	return protocol.NewCodedError(protocol.CodeInsufficientPrivilege, message, nil)
}

// Options configures a single Execute/ExecuteWithElevation call.
type Options struct {
	WorkDir       string
	Env           []string
	Deadline      time.Duration
	Stdin         []byte
	CaptureOutput bool
	Elevate       bool
}

// Result is the outcome of a completed (or timed-out) invocation.
type Result struct {
	ExitCode int
	Stdout   string
	Stderr   string
	Duration time.Duration
	Success  bool
	Signal   string // set when the child was terminated by signal
	TimedOut bool
}

// KillState enumerates the escalation state of a process the executor
// is tearing down.
type KillState int

const (
	KillNone KillState = iota
	KillGraceful
	KillForced
)

// ProcessInfo is a read-only snapshot of a live child-process record,
// returned by List/inspection calls.
type ProcessInfo struct {
	ID        string
	Command   string
	StartedAt time.Time
	Deadline  time.Time
	Kill      KillState
}
