package service

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/rl1809/stock-sync/internal/core/domain"
	"github.com/rl1809/stock-sync/internal/port"
)

const (
	defaultProbeInterval = 5 * time.Second
	defaultProbeTimeout  = 2 * time.Second
)

// ConnectivityMonitor polls a Prober and publishes debounced reachability
// transitions. The device starts offline.
type ConnectivityMonitor struct {
	prober       port.Prober
	interval     time.Duration
	probeTimeout time.Duration
	stable       int
	online       atomic.Bool
	logger       zerolog.Logger

	mu        sync.Mutex
	candidate bool
	streak    int

	// single consumer; holds at most the latest undelivered transition
	events chan domain.Transition
}

// NewConnectivityMonitor adopts a new state only after stable consecutive
// probes agree on it.
func NewConnectivityMonitor(prober port.Prober, interval time.Duration, stable int, logger zerolog.Logger) *ConnectivityMonitor {
	if interval <= 0 {
		interval = defaultProbeInterval
	}
	if stable < 1 {
		stable = 1
	}
	probeTimeout := defaultProbeTimeout
	if interval < probeTimeout {
		probeTimeout = interval
	}
	return &ConnectivityMonitor{
		prober:       prober,
		interval:     interval,
		probeTimeout: probeTimeout,
		stable:       stable,
		logger:       logger.With().Str("component", "connectivity").Logger(),
		events:       make(chan domain.Transition, 1),
	}
}

func (m *ConnectivityMonitor) Online() bool {
	return m.online.Load()
}

func (m *ConnectivityMonitor) Events() <-chan domain.Transition {
	return m.events
}

// Run probes until ctx is done.
func (m *ConnectivityMonitor) Run(ctx context.Context) error {
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	m.Check(ctx)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			m.Check(ctx)
		}
	}
}

// Check runs one probe and returns the resulting state.
func (m *ConnectivityMonitor) Check(ctx context.Context) bool {
	probeCtx, cancel := context.WithTimeout(ctx, m.probeTimeout)
	err := m.prober.Probe(probeCtx)
	cancel()

	if err != nil {
		m.logger.Debug().Err(err).Msg("probe failed")
	}
	m.observe(err == nil)
	return m.Online()
}

func (m *ConnectivityMonitor) observe(up bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if up == m.online.Load() {
		m.streak = 0
		return
	}
	if m.streak > 0 && up == m.candidate {
		m.streak++
	} else {
		m.candidate = up
		m.streak = 1
	}
	if m.streak < m.stable {
		return
	}

	m.streak = 0
	m.online.Store(up)
	m.logger.Info().Bool("online", up).Msg("connectivity changed")
	m.publish(domain.Transition{Online: up, At: time.Now()})
}

// publish replaces an undelivered transition with t.
func (m *ConnectivityMonitor) publish(t domain.Transition) {
	for {
		select {
		case m.events <- t:
			return
		default:
		}
		select {
		case <-m.events:
		default:
		}
	}
}
