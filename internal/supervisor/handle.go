package supervisor

import (
	"io"
	"os"
	"os/exec"
	"sync"
	"syscall"
)

// Handle abstracts the spawned engine process so the supervisor's state
// machine can be driven by a fake in tests.
type Handle interface {
	// Start launches the process and returns its combined stdout/stderr stream.
	Start() (io.ReadCloser, error)
	// Done is closed once the process has exited. Multiple waiters are fine.
	Done() <-chan struct{}
	// ExitErr reports the process exit error. Valid only after Done is closed.
	ExitErr() error
	// Signal delivers a graceful-stop signal.
	Signal(sig os.Signal) error
	// Kill force-terminates the process.
	Kill() error
	// Pid reports the OS process id, 0 before Start.
	Pid() int
}

// NewHandleFunc constructs a Handle for the given command line and environment.
type NewHandleFunc func(bin string, args []string, env []string) Handle

// execHandle is the real Handle backed by os/exec.
type execHandle struct {
	cmd  *exec.Cmd
	done chan struct{}

	mu      sync.Mutex
	exitErr error
}

func newExecHandle(bin string, args []string, env []string) Handle {
	cmd := exec.Command(bin, args...)
	cmd.Env = append(os.Environ(), env...)
	return &execHandle{cmd: cmd, done: make(chan struct{})}
}

func (h *execHandle) Start() (io.ReadCloser, error) {
	pr, pw := io.Pipe()
	h.cmd.Stdout = pw
	h.cmd.Stderr = pw
	if err := h.cmd.Start(); err != nil {
		_ = pw.Close()
		return nil, err
	}
	go func() {
		err := h.cmd.Wait()
		_ = pw.Close()
		h.mu.Lock()
		h.exitErr = err
		h.mu.Unlock()
		close(h.done)
	}()
	return pr, nil
}

func (h *execHandle) Done() <-chan struct{} { return h.done }

func (h *execHandle) ExitErr() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.exitErr
}

func (h *execHandle) Signal(sig os.Signal) error {
	if h.cmd.Process == nil {
		return nil
	}
	return h.cmd.Process.Signal(sig)
}

func (h *execHandle) Kill() error {
	if h.cmd.Process == nil {
		return nil
	}
	return h.cmd.Process.Kill()
}

func (h *execHandle) Pid() int {
	if h.cmd.Process == nil {
		return 0
	}
	return h.cmd.Process.Pid
}

// stopSignal is the graceful-stop signal sent before force-kill.
var stopSignal os.Signal = syscall.SIGTERM
