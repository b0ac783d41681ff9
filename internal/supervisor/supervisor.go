// Package supervisor owns the lifecycle of spawned inference engine
// processes: spawning with the right flags and device environment, readiness
// detection against the process output, and idempotent termination.
//
// Lifecycle is an explicit state machine advanced by discrete events:
//
//	starting -> ready     (readiness marker observed on output)
//	starting -> error     (timeout, or exit before the marker)
//	ready    -> error     (unexpected process exit)
//	ready/error -> stopping -> stopped (explicit stop)
package supervisor

import (
	"bufio"
	"fmt"
	"io"
	"os/exec"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"nexusd/internal/provider"
)

// State is the lifecycle state of a supervised engine process.
type State string

const (
	StateStarting State = "starting"
	StateReady    State = "ready"
	StateError    State = "error"
	StateStopping State = "stopping"
	StateStopped  State = "stopped"
)

// DefaultReadyMarker is the substring llama.cpp's server prints once it
// accepts requests.
const DefaultReadyMarker = "server is listening"

const (
	defaultStartupTimeout = 30 * time.Second
	defaultStopTimeout    = 5 * time.Second
)

// Config describes one engine process to spawn.
type Config struct {
	BinPath   string
	ModelPath string
	ModelID   string
	Host      string
	Port      int
	CtxSize   int
	Threads   int
	GPULayers int
	Parallel  int
	DeviceIDs []int

	ReadyMarker    string
	StartupTimeout time.Duration
	StopTimeout    time.Duration

	// NewHandle overrides process creation; nil means os/exec. Tests install
	// a fake here.
	NewHandle NewHandleFunc
}

func (c *Config) applyDefaults() {
	if c.Host == "" {
		c.Host = "127.0.0.1"
	}
	if c.ReadyMarker == "" {
		c.ReadyMarker = DefaultReadyMarker
	}
	if c.StartupTimeout <= 0 {
		c.StartupTimeout = defaultStartupTimeout
	}
	if c.StopTimeout <= 0 {
		c.StopTimeout = defaultStopTimeout
	}
	if c.NewHandle == nil {
		c.NewHandle = newExecHandle
	}
}

// args builds the engine command line: model file, binding, context size,
// thread count, offload layers and concurrency flags.
func (c *Config) args() []string {
	args := []string{
		"-m", c.ModelPath,
		"--host", c.Host,
		"--port", strconv.Itoa(c.Port),
	}
	if c.CtxSize > 0 {
		args = append(args, "-c", strconv.Itoa(c.CtxSize))
	}
	if c.Threads > 0 {
		args = append(args, "-t", strconv.Itoa(c.Threads))
	}
	if c.GPULayers > 0 {
		args = append(args, "-ngl", strconv.Itoa(c.GPULayers))
	}
	if c.Parallel > 0 {
		args = append(args, "--parallel", strconv.Itoa(c.Parallel), "--cont-batching")
	}
	return args
}

// env exposes the assigned device ids to the engine. An empty assignment
// hides all devices so the process runs CPU-only.
func (c *Config) env() []string {
	ids := make([]string, 0, len(c.DeviceIDs))
	for _, id := range c.DeviceIDs {
		ids = append(ids, strconv.Itoa(id))
	}
	return []string{"CUDA_VISIBLE_DEVICES=" + strings.Join(ids, ",")}
}

// Process is one supervised engine process.
type Process struct {
	cfg    Config
	log    zerolog.Logger
	handle Handle

	mu     sync.Mutex
	state  State
	onExit func(err error)

	stopOnce sync.Once
	stopErr  error
}

// event is a discrete occurrence that advances the state machine.
type event int

const (
	evMarkerSeen event = iota
	evExited
	evStopRequested
	evStopFinished
)

// advance applies ev under the lock and reports whether the transition was
// taken. Illegal transitions are ignored, which is what makes Stop and the
// exit watcher safe to race.
func (p *Process) advance(ev event) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	switch {
	case ev == evMarkerSeen && p.state == StateStarting:
		p.state = StateReady
	case ev == evExited && p.state == StateStarting:
		p.state = StateError
	case ev == evExited && p.state == StateReady:
		p.state = StateError
	case ev == evStopRequested && (p.state == StateReady || p.state == StateError || p.state == StateStarting):
		p.state = StateStopping
	case ev == evStopFinished && p.state == StateStopping:
		p.state = StateStopped
	default:
		return false
	}
	return true
}

// State returns the current lifecycle state.
func (p *Process) State() State {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state
}

// Port returns the TCP port the engine was bound to.
func (p *Process) Port() int { return p.cfg.Port }

// Pid returns the engine's OS process id.
func (p *Process) Pid() int { return p.handle.Pid() }

// Start spawns the engine and blocks until the readiness marker is observed
// or startup fails. onExit is invoked exactly once if the process later exits
// unexpectedly while ready; it is not invoked for explicit stops.
func Start(cfg Config, log zerolog.Logger, onExit func(err error)) (*Process, error) {
	if cfg.NewHandle == nil {
		// Fail the load before spawning anything when the binary is absent
		// from the configured path and the search path.
		if _, err := exec.LookPath(cfg.BinPath); err != nil {
			return nil, provider.ErrBinaryNotFound(cfg.BinPath)
		}
	}
	cfg.applyDefaults()
	if onExit == nil {
		onExit = func(error) {}
	}

	p := &Process{
		cfg:    cfg,
		log:    log.With().Str("model", cfg.ModelID).Int("port", cfg.Port).Logger(),
		handle: cfg.NewHandle(cfg.BinPath, cfg.args(), cfg.env()),
		state:  StateStarting,
		onExit: onExit,
	}

	out, err := p.handle.Start()
	if err != nil {
		p.mu.Lock()
		p.state = StateError
		p.mu.Unlock()
		return nil, fmt.Errorf("start engine: %w", err)
	}
	p.log.Info().Int("pid", p.handle.Pid()).Msg("engine process spawned")

	markerCh := make(chan struct{}, 1)
	tailCh := make(chan string, 1)
	go scanForMarker(out, cfg.ReadyMarker, markerCh, tailCh)

	select {
	case <-markerCh:
		p.advance(evMarkerSeen)
		p.log.Info().Msg("engine ready")
		go p.watchExit()
		return p, nil

	case <-p.handle.Done():
		p.advance(evExited)
		werr := p.handle.ExitErr()
		tail := drainTail(tailCh)
		p.log.Error().Err(werr).Msg("engine exited before ready")
		if werr != nil {
			return nil, fmt.Errorf("engine exited before ready: %w; output tail: %s", werr, tail)
		}
		return nil, fmt.Errorf("engine exited before ready; output tail: %s", tail)

	case <-time.After(cfg.StartupTimeout):
		_ = p.handle.Kill()
		<-p.handle.Done()
		p.advance(evExited)
		p.log.Error().Dur("timeout", cfg.StartupTimeout).Msg("engine startup timed out, killed")
		return nil, provider.ErrStartupTimeout(cfg.ModelID)
	}
}

// watchExit waits for the process to exit after it became ready. Explicit
// stops win the advance race and suppress the error callback.
func (p *Process) watchExit() {
	<-p.handle.Done()
	if p.advance(evExited) {
		werr := p.handle.ExitErr()
		p.log.Error().Err(werr).Msg("engine exited unexpectedly")
		p.onExit(werr)
	}
}

// Stop terminates the process: graceful signal, bounded wait, then force
// kill. Safe to call multiple times and on an already-exited process.
func (p *Process) Stop() error {
	p.stopOnce.Do(func() {
		if !p.advance(evStopRequested) {
			// already stopped or never got past an earlier exit
			p.advance(evStopFinished)
			return
		}
		_ = p.handle.Signal(stopSignal)
		select {
		case <-p.handle.Done():
		case <-time.After(p.cfg.StopTimeout):
			p.log.Warn().Msg("engine did not exit after stop signal, killing")
			_ = p.handle.Kill()
			<-p.handle.Done()
		}
		p.advance(evStopFinished)
		p.log.Info().Msg("engine stopped")
	})
	return p.stopErr
}

// scanForMarker reads the process output line by line, signalling markerCh
// when the readiness substring appears and retaining a bounded tail of
// recent lines for diagnostics.
func scanForMarker(out io.Reader, marker string, markerCh chan<- struct{}, tailCh chan<- string) {
	const tailLines = 20
	var tail []string
	found := false
	sc := bufio.NewScanner(out)
	sc.Buffer(make([]byte, 0, 64*1024), 256*1024)
	for sc.Scan() {
		line := sc.Text()
		tail = append(tail, line)
		if len(tail) > tailLines {
			tail = tail[1:]
		}
		if !found && strings.Contains(line, marker) {
			found = true
			markerCh <- struct{}{}
		}
	}
	tailCh <- strings.Join(tail, "\n")
}

func drainTail(tailCh <-chan string) string {
	select {
	case t := <-tailCh:
		return t
	case <-time.After(time.Second):
		return ""
	}
}
