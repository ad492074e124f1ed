package session

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// probeTimeout bounds the liveness evaluation so a hung renderer cannot wedge
// the monitor goroutine.
const probeTimeout = 5 * time.Second

// startMonitor replaces any running health monitor with a fresh one, so
// exactly one monitor is ever active per session.
func (m *Manager) startMonitor() {
	m.stopMonitor()

	stop := make(chan struct{})
	m.mu.Lock()
	m.monitorStop = stop
	m.mu.Unlock()
	go m.monitor(stop)
}

// stopMonitor cancels the running monitor, if any.
func (m *Manager) stopMonitor() {
	m.mu.Lock()
	stop := m.monitorStop
	m.monitorStop = nil
	m.mu.Unlock()
	if stop != nil {
		close(stop)
	}
}

func (m *Manager) monitor(stop chan struct{}) {
	ticker := time.NewTicker(m.cfg.HealthInterval)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			m.checkHealth()
		}
	}
}

// checkHealth probes the live page with a trivial script evaluation and
// confirms the process has not terminated. Either failing marks the session
// unhealthy and schedules recovery; an in-flight command or recovery makes
// the monitor skip this cycle.
func (m *Manager) checkHealth() {
	m.mu.Lock()
	if !m.ready || m.recovering || m.closed {
		m.mu.Unlock()
		return
	}
	page, b := m.page, m.browser
	m.mu.Unlock()

	if !m.opMu.TryLock() {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), probeTimeout)
	_, err := page.Evaluate(ctx, "() => true")
	cancel()
	m.opMu.Unlock()

	if err != nil || !b.Connected() {
		m.mu.Lock()
		if m.closed || m.recovering || m.browser != b {
			m.mu.Unlock()
			return
		}
		m.log.Warn("Health check failed", zap.Error(err))
		m.ready = false
		if m.metrics != nil {
			m.metrics.SetSessionReady(false)
		}
		m.scheduleRetryLocked("health_check", m.cfg.HealthBackoff)
		m.mu.Unlock()
		return
	}

	m.mu.Lock()
	m.lastHealthCheck = time.Now()
	m.mu.Unlock()
}
