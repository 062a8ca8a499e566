// Package execkit implements the Command Executor described in
// spec.md §4.4: a supervised, allowlisted, deadline-bound child
// process runner with graceful→forcible cancellation and a live
// process table, grounded on the teacher's agentexec server (process
// bookkeeping under a short-held mutex, context-cancellable process
// lifetime) and opencode sidecar (graceful-then-kill timer shape).
package execkit

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"os/user"
	"runtime"
	"strconv"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/hearthd/hearthd/internal/metrics"
)

// gracePeriod is the interval between the graceful and forcible
// termination signals (spec.md §4.4).
const gracePeriod = 5 * time.Second

// ElevationHelper is the non-interactive privilege-elevation command
// used to rewrite an elevated invocation when the process isn't
// already running as superuser, e.g. "sudo -n". Configurable so tests
// can swap in a no-op.
var ElevationHelper = []string{"sudo", "-n"}

type processRecord struct {
	id       string
	command  string
	cmd      *exec.Cmd
	started  time.Time
	deadline time.Time
	kill     KillState
	mu       sync.Mutex

	// done carries the single result of cmd.Wait(), fed by exactly one
	// goroutine spawned in run(). Escalation paths (timeout, ctx
	// cancellation, and an operator-initiated KillProcess) all read
	// from this same channel rather than calling cmd.Wait() a second
	// time, which os/exec forbids.
	done chan error
}

// Executor owns the live process table and the allowlist policy.
// policy is held behind an atomic.Pointer so UpdatePolicy can hot-swap
// it (SPEC_FULL.md §2.2's security.allowedCommands reload) without a
// lock; an in-flight invocation has already captured its own copy by
// the time policy.Evaluate is called, so a concurrent swap never
// changes the outcome of a check already in progress.
type Executor struct {
	policy atomic.Pointer[Policy]

	mu        sync.Mutex
	processes map[string]*processRecord

	isSuperuser func() bool
}

// New returns an Executor enforcing policy.
func New(policy *Policy) *Executor {
	metrics.Init()
	e := &Executor{
		processes:   make(map[string]*processRecord),
		isSuperuser: defaultIsSuperuser,
	}
	e.policy.Store(policy)
	return e
}

// UpdatePolicy hot-swaps the allowlist policy enforced by every
// Execute/ExecuteWithElevation call made from this point forward.
func (e *Executor) UpdatePolicy(policy *Policy) {
	e.policy.Store(policy)
}

func defaultIsSuperuser() bool {
	u, err := user.Current()
	if err != nil {
		return false
	}
	return u.Uid == "0"
}

// CheckCommandExists reports whether command resolves on PATH.
func (e *Executor) CheckCommandExists(command string) bool {
	_, err := exec.LookPath(firstToken(command))
	return err == nil
}

// Execute runs command with args under opts, enforcing the allowlist
// and injection-token checks before ever spawning a process.
func (e *Executor) Execute(ctx context.Context, command string, args []string, opts Options) (*Result, error) {
	return e.run(ctx, command, args, opts, false)
}

// ExecuteWithElevation runs command requesting superuser privileges.
// If the process is already superuser, elevation is a no-op; otherwise
// the invocation is rewritten through ElevationHelper.
func (e *Executor) ExecuteWithElevation(ctx context.Context, command string, args []string, opts Options) (*Result, error) {
	opts.Elevate = true
	return e.run(ctx, command, args, opts, true)
}

func (e *Executor) run(ctx context.Context, command string, args []string, opts Options, elevate bool) (result *Result, err error) {
	defer func() {
		if result != nil {
			metrics.CommandDuration.WithLabelValues(strconv.FormatBool(result.Success)).Observe(result.Duration.Seconds())
		}
	}()
	full := command
	for _, a := range args {
		full += " " + a
	}
	if err := e.policy.Load().Evaluate(full); err != nil {
		return nil, err
	}

	resolvedCmd, resolvedArgs := command, args
	if elevate && !e.isSuperuser() {
		if len(ElevationHelper) == 0 {
			return nil, newNotAllowed("elevation requested but no elevation helper is configured")
		}
		resolvedCmd = ElevationHelper[0]
		resolvedArgs = append(append([]string{}, ElevationHelper[1:]...), append([]string{command}, args...)...)
	}

	id := newProcessID()
	cmd := exec.Command(resolvedCmd, resolvedArgs...)
	if opts.WorkDir != "" {
		cmd.Dir = opts.WorkDir
	}
	if len(opts.Env) > 0 {
		cmd.Env = append(os.Environ(), opts.Env...)
	}

	var stdout, stderr bytes.Buffer
	if opts.CaptureOutput {
		cmd.Stdout = &stdout
		cmd.Stderr = &stderr
		if len(opts.Stdin) > 0 {
			cmd.Stdin = bytes.NewReader(opts.Stdin)
		}
	} else {
		cmd.Stdout = os.Stdout
		cmd.Stderr = os.Stderr
		cmd.Stdin = os.Stdin
	}

	deadline := opts.Deadline
	if deadline <= 0 {
		deadline = 30 * time.Second
	}

	rec := &processRecord{id: id, command: full, cmd: cmd, started: time.Now(), deadline: time.Now().Add(deadline), done: make(chan error, 1)}
	e.mu.Lock()
	e.processes[id] = rec
	e.mu.Unlock()
	defer func() {
		e.mu.Lock()
		delete(e.processes, id)
		e.mu.Unlock()
	}()

	if err := cmd.Start(); err != nil {
		rec.done <- err
		return nil, fmt.Errorf("spawn %s: %w", command, err)
	}

	go func() { rec.done <- cmd.Wait() }()

	timedOut := false
	timer := time.NewTimer(deadline)
	defer timer.Stop()

	var waitErr error
	select {
	case waitErr = <-rec.done:
	case <-timer.C:
		timedOut = true
		waitErr = e.escalate(rec)
	case <-ctx.Done():
		waitErr = e.escalate(rec)
	}

	duration := time.Since(rec.started)
	result = &Result{Duration: duration, Stdout: stdout.String(), Stderr: stderr.String(), TimedOut: timedOut}

	if timedOut {
		result.Success = false
		result.ExitCode = -1
		return result, nil
	}

	if waitErr == nil {
		result.ExitCode = 0
		result.Success = true
		return result, nil
	}

	if exitErr, ok := waitErr.(*exec.ExitError); ok {
		if status, ok := exitErr.Sys().(syscall.WaitStatus); ok {
			if status.Signaled() {
				result.Signal = status.Signal().String()
				result.Success = false
				return result, nil
			}
			result.ExitCode = status.ExitStatus()
			result.Success = result.ExitCode == 0
			return result, nil
		}
		result.ExitCode = exitErr.ExitCode()
		result.Success = false
		return result, nil
	}

	return nil, fmt.Errorf("execute %s: %w", command, waitErr)
}

// escalate sends a graceful termination signal, waits gracePeriod,
// then sends a forcible one if the child hasn't exited (spec.md
// §4.4). It blocks until the child exits, reading the single result
// off rec.done; after the forcible signal the wait has no time bound.
func (e *Executor) escalate(rec *processRecord) error {
	rec.mu.Lock()
	rec.kill = KillGraceful
	rec.mu.Unlock()
	signalProcess(rec.cmd, syscall.SIGTERM)

	select {
	case err := <-rec.done:
		return err
	case <-time.After(gracePeriod):
	}

	rec.mu.Lock()
	rec.kill = KillForced
	rec.mu.Unlock()
	signalProcess(rec.cmd, syscall.SIGKILL)

	return <-rec.done
}

func signalProcess(cmd *exec.Cmd, sig syscall.Signal) {
	if cmd.Process == nil {
		return
	}
	if runtime.GOOS == "windows" {
		_ = cmd.Process.Kill()
		return
	}
	if err := cmd.Process.Signal(sig); err != nil {
		log.Debug().Err(err).Int("pid", cmd.Process.Pid).Str("signal", sig.String()).Msg("failed to signal child process")
	}
}

// KillProcess sends a graceful-then-forced termination to the named
// live process, returning once escalation completes.
func (e *Executor) KillProcess(id string) error {
	e.mu.Lock()
	rec, ok := e.processes[id]
	e.mu.Unlock()
	if !ok {
		return fmt.Errorf("process %s not found", id)
	}

	e.escalate(rec)
	return nil
}

// KillAllProcesses initiates graceful termination of every live
// process concurrently and awaits completion; invoked during daemon
// shutdown (spec.md §4.4, §5).
func (e *Executor) KillAllProcesses() {
	e.mu.Lock()
	recs := make([]*processRecord, 0, len(e.processes))
	for _, r := range e.processes {
		recs = append(recs, r)
	}
	e.mu.Unlock()

	var wg sync.WaitGroup
	for _, r := range recs {
		wg.Add(1)
		go func(r *processRecord) {
			defer wg.Done()
			e.escalate(r)
		}(r)
	}
	wg.Wait()
}

// List returns a snapshot of currently live processes.
func (e *Executor) List() []ProcessInfo {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]ProcessInfo, 0, len(e.processes))
	for _, r := range e.processes {
		r.mu.Lock()
		out = append(out, ProcessInfo{ID: r.id, Command: r.command, StartedAt: r.started, Deadline: r.deadline, Kill: r.kill})
		r.mu.Unlock()
	}
	return out
}

func newProcessID() string {
	return uuid.New().String()
}
