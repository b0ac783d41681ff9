// Package health runs the background reachability monitor for remote
// engines. The loop is owned by the process, runs on the server-lifetime
// context and is never tied to an individual request.
package health

import (
	"context"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
)

// DefaultInterval is how often remote engines are probed.
const DefaultInterval = 10 * time.Second

const probeTimeout = 3 * time.Second

// Monitor polls the proxy and daemon engine base URLs at a fixed interval
// and exposes process-wide reachability flags.
type Monitor struct {
	proxyURL  string
	daemonURL string
	interval  time.Duration
	client    *http.Client
	log       zerolog.Logger

	proxyOK  atomic.Bool
	daemonOK atomic.Bool
}

// New builds a monitor for the configured remote engines. Empty URLs are not
// probed and stay unreachable.
func New(proxyURL, daemonURL string, interval time.Duration, log zerolog.Logger) *Monitor {
	if interval <= 0 {
		interval = DefaultInterval
	}
	return &Monitor{
		proxyURL:  proxyURL,
		daemonURL: daemonURL,
		interval:  interval,
		client:    &http.Client{Timeout: probeTimeout},
		log:       log.With().Str("component", "health").Logger(),
	}
}

// Run probes immediately and then on every tick until ctx is canceled.
func (m *Monitor) Run(ctx context.Context) {
	m.poll(ctx)
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.poll(ctx)
		}
	}
}

func (m *Monitor) poll(ctx context.Context) {
	if m.proxyURL != "" {
		up := m.probe(ctx, m.proxyURL+"/v1/models")
		if up != m.proxyOK.Swap(up) {
			m.log.Info().Str("target", m.proxyURL).Bool("reachable", up).Msg("proxy reachability changed")
		}
	}
	if m.daemonURL != "" {
		up := m.probe(ctx, m.daemonURL+"/api/tags")
		if up != m.daemonOK.Swap(up) {
			m.log.Info().Str("target", m.daemonURL).Bool("reachable", up).Msg("daemon reachability changed")
		}
	}
}

func (m *Monitor) probe(ctx context.Context, url string) bool {
	ctx, cancel := context.WithTimeout(ctx, probeTimeout)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return false
	}
	resp, err := m.client.Do(req)
	if err != nil {
		return false
	}
	defer resp.Body.Close()
	return resp.StatusCode >= 200 && resp.StatusCode < 300
}

// ProxyReachable reports the outcome of the most recent proxy probe.
func (m *Monitor) ProxyReachable() bool { return m.proxyOK.Load() }

// DaemonReachable reports the outcome of the most recent daemon probe.
func (m *Monitor) DaemonReachable() bool { return m.daemonOK.Load() }
