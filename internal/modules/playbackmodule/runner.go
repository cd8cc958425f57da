package playbackmodule

import (
	"context"
	"fmt"
	"os/exec"
	"time"

	"github.com/hashicorp/go-hclog"
	"github.com/shirou/gopsutil/v4/process"
)

// ProcessHandle is the live handle to one external transcoder process
type ProcessHandle interface {
	Pid() int
	// Done is closed once the process has exited
	Done() <-chan struct{}
	// Err returns the exit error after Done is closed
	Err() error
	// KillTree kills the process and all of its children
	KillTree() error
}

// ProcessRunner launches external transcoder processes. The exec-backed
// implementation is replaced with a fake in tests.
type ProcessRunner interface {
	Start(ctx context.Context, name string, args []string, workDir string) (ProcessHandle, error)
}

// ExecRunner runs real OS processes
type ExecRunner struct {
	logger hclog.Logger
}

// NewExecRunner creates a runner
func NewExecRunner(logger hclog.Logger) *ExecRunner {
	return &ExecRunner{logger: logger.Named("process-runner")}
}

type execHandle struct {
	cmd  *exec.Cmd
	done chan struct{}
	err  error
}

func (h *execHandle) Pid() int {
	if h.cmd.Process == nil {
		return 0
	}
	return h.cmd.Process.Pid
}

func (h *execHandle) Done() <-chan struct{} { return h.done }

func (h *execHandle) Err() error {
	select {
	case <-h.done:
		return h.err
	default:
		return nil
	}
}

func (h *execHandle) KillTree() error {
	pid := h.Pid()
	if pid <= 0 {
		return nil
	}
	return KillProcessTree(pid)
}

// Start launches the process detached from the request context; the ctx
// passed here is the job's own cancellation context.
func (r *ExecRunner) Start(ctx context.Context, name string, args []string, workDir string) (ProcessHandle, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	if workDir != "" {
		cmd.Dir = workDir
	}

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("failed to start %s: %w", name, err)
	}

	h := &execHandle{cmd: cmd, done: make(chan struct{})}
	go func() {
		h.err = cmd.Wait()
		close(h.done)
	}()

	r.logger.Info("external process started", "binary", name, "pid", h.Pid())
	return h, nil
}

// KillProcessTree kills pid and every descendant, children first. "Already
// gone" is not an error.
func KillProcessTree(pid int) error {
	proc, err := process.NewProcess(int32(pid))
	if err != nil {
		// process already gone
		return nil
	}

	children, err := proc.Children()
	if err == nil {
		for _, child := range children {
			_ = KillProcessTree(int(child.Pid))
		}
	}

	if err := proc.Kill(); err != nil {
		running, checkErr := proc.IsRunning()
		if checkErr == nil && !running {
			return nil
		}
		return fmt.Errorf("failed to kill pid %d: %w", pid, err)
	}
	return nil
}

// PidExists reports whether an OS process with pid is still alive
func PidExists(pid int) bool {
	if pid <= 0 {
		return false
	}
	exists, err := process.PidExists(int32(pid))
	return err == nil && exists
}

// waitForExit blocks until the handle exits or the timeout elapses
func waitForExit(h ProcessHandle, timeout time.Duration) bool {
	select {
	case <-h.Done():
		return true
	case <-time.After(timeout):
		return false
	}
}
