package tools

import (
	"context"
	"os/exec"
	"sync"
	"syscall"
	"time"
)

// cappedWriter keeps at most max bytes and discards the rest as it arrives,
// so a runaway process cannot grow the buffer without bound.
type cappedWriter struct {
	mu      sync.Mutex
	buf     []byte
	max     int
	dropped bool
}

func newCappedWriter(max int) *cappedWriter {
	return &cappedWriter{max: max}
}

func (w *cappedWriter) Write(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	room := w.max - len(w.buf)
	if room > 0 {
		if len(p) <= room {
			w.buf = append(w.buf, p...)
		} else {
			w.buf = append(w.buf, p[:room]...)
			w.dropped = true
		}
	} else if len(p) > 0 {
		w.dropped = true
	}
	return len(p), nil
}

func (w *cappedWriter) String() string {
	w.mu.Lock()
	defer w.mu.Unlock()
	return string(w.buf)
}

func (w *cappedWriter) Dropped() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.dropped
}

// localRunner spawns commands on the host through sh -c. Processes get their
// own process group so the escalating kill reaches the whole tree.
type localRunner struct{}

func (localRunner) Run(ctx context.Context, spec CommandSpec) (CommandOutput, error) {
	timeout := spec.Timeout
	if timeout <= 0 {
		timeout = 120 * time.Second
	}
	grace := spec.Grace
	if grace <= 0 {
		grace = 5 * time.Second
	}

	cmd := exec.Command("sh", "-c", spec.Command)
	cmd.Dir = spec.Dir
	cmd.Env = spec.Env
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}

	stdout := newCappedWriter(spec.MaxOutput)
	stderr := newCappedWriter(spec.MaxOutput)
	cmd.Stdout = stdout
	cmd.Stderr = stderr

	if err := cmd.Start(); err != nil {
		return CommandOutput{ExitCode: -1}, err
	}

	done := make(chan error, 1)
	go func() { done <- cmd.Wait() }()

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	timedOut := false
	var waitErr error

	select {
	case waitErr = <-done:
	case <-timer.C:
		timedOut = true
		waitErr = terminate(cmd, done, grace)
	case <-ctx.Done():
		// External cancellation follows the same graceful-then-forceful
		// sequence as a timeout.
		timedOut = true
		waitErr = terminate(cmd, done, grace)
	}

	exitCode := 0
	if waitErr != nil {
		if ee, ok := waitErr.(*exec.ExitError); ok {
			exitCode = ee.ExitCode()
		} else {
			exitCode = -1
		}
	}

	return CommandOutput{
		Stdout:    stdout.String(),
		Stderr:    stderr.String(),
		ExitCode:  exitCode,
		TimedOut:  timedOut,
		Truncated: stdout.Dropped() || stderr.Dropped(),
	}, nil
}

// terminate signals the process group with SIGTERM, waits out the grace
// period, then SIGKILLs anything still alive.
func terminate(cmd *exec.Cmd, done chan error, grace time.Duration) error {
	pgid := -cmd.Process.Pid
	syscall.Kill(pgid, syscall.SIGTERM)

	graceTimer := time.NewTimer(grace)
	defer graceTimer.Stop()

	select {
	case err := <-done:
		return err
	case <-graceTimer.C:
		syscall.Kill(pgid, syscall.SIGKILL)
		return <-done
	}
}
