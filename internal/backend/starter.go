// Package backend selects and starts the engine variant configured at
// startup. One variant serves the whole process; readiness is always answered
// by the backend itself rather than a cached flag.
package backend

import (
	"context"

	"github.com/rs/zerolog"

	"nexusd/internal/provider"
	"nexusd/internal/supervisor"
	"nexusd/pkg/types"
)

// Config selects the engine variant and carries its launch parameters.
type Config struct {
	Kind provider.BackendKind

	// Spawned-process engine.
	EngineBin   string
	Host        string
	PortStart   int
	PortEnd     int
	CtxSize     int
	Threads     int
	GPULayers   int
	Parallel    int
	ReadyMarker string

	// Proxy engine.
	ProxyBaseURL string

	// Command-line engine.
	CLIBin string

	// Daemon engine.
	DaemonBaseURL string

	// NewHandle overrides process creation for tests.
	NewHandle supervisor.NewHandleFunc
}

// Starter starts instances of the configured backend kind.
type Starter struct {
	cfg Config
	log zerolog.Logger
}

// New builds a Starter for the configured backend kind.
func New(cfg Config, log zerolog.Logger) *Starter {
	if cfg.Host == "" {
		cfg.Host = "127.0.0.1"
	}
	return &Starter{cfg: cfg, log: log}
}

// Kind reports the configured backend kind.
func (s *Starter) Kind() provider.BackendKind { return s.cfg.Kind }

// Start launches the backend for one model. Only the spawned variant returns
// a supervisor process; the others are remote services or per-call binaries.
func (s *Starter) Start(ctx context.Context, m types.Model, deviceIDs []int, onExit func(err error)) (provider.Provider, *supervisor.Process, error) {
	switch s.cfg.Kind {
	case provider.KindProxy:
		return provider.NewProxy(s.cfg.ProxyBaseURL, m.ID), nil, nil
	case provider.KindCLI:
		// Verify the binary up front so a bad path fails the load, not the
		// first inference request.
		p := provider.NewCLI(s.cfg.CLIBin, m.Path, nil)
		if err := p.Check(); err != nil {
			return nil, nil, err
		}
		return p, nil, nil
	case provider.KindDaemon:
		return provider.NewOllama(s.cfg.DaemonBaseURL, m.ID), nil, nil
	default:
		return s.startSpawned(m, deviceIDs, onExit)
	}
}

func (s *Starter) startSpawned(m types.Model, deviceIDs []int, onExit func(err error)) (provider.Provider, *supervisor.Process, error) {
	var port int
	var err error
	if s.cfg.PortStart > 0 && s.cfg.PortEnd >= s.cfg.PortStart {
		port, err = supervisor.PickPortInRange(s.cfg.Host, s.cfg.PortStart, s.cfg.PortEnd)
	} else {
		port, err = supervisor.PickFreePort(s.cfg.Host)
	}
	if err != nil {
		return nil, nil, err
	}
	proc, err := supervisor.Start(supervisor.Config{
		BinPath:     s.cfg.EngineBin,
		ModelPath:   m.Path,
		ModelID:     m.ID,
		Host:        s.cfg.Host,
		Port:        port,
		CtxSize:     s.cfg.CtxSize,
		Threads:     s.cfg.Threads,
		GPULayers:   s.cfg.GPULayers,
		Parallel:    s.cfg.Parallel,
		DeviceIDs:   deviceIDs,
		ReadyMarker: s.cfg.ReadyMarker,
		NewHandle:   s.cfg.NewHandle,
	}, s.log, onExit)
	if err != nil {
		return nil, nil, err
	}
	return provider.NewLlamaServer(s.cfg.Host, port, m.ID), proc, nil
}
