package license

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog/log"
)

// Monitor periodically pings the store and notices the trial cutoff so
// health probes and logs reflect state without a client request.
type Monitor struct {
	svc      *Service
	interval time.Duration
	stopCh   chan struct{}
	doneCh   chan struct{}
	started  bool

	healthy      atomic.Bool
	trialExpired atomic.Bool
	onCheck      func(healthy bool)
}

func NewMonitor(svc *Service, interval time.Duration, onCheck func(healthy bool)) *Monitor {
	if interval < time.Second {
		interval = time.Second
	}
	return &Monitor{svc: svc, interval: interval, stopCh: make(chan struct{}), doneCh: make(chan struct{}), onCheck: onCheck}
}

func (m *Monitor) Start() {
	if m.started {
		return
	}
	m.started = true
	m.RunOnce(context.Background())
	go m.loop()
}

func (m *Monitor) Stop() {
	if !m.started {
		return
	}
	close(m.stopCh)
	<-m.doneCh
}

// Healthy reports the outcome of the last store ping.
func (m *Monitor) Healthy() bool { return m.healthy.Load() }

func (m *Monitor) loop() {
	ticker := time.NewTicker(m.interval)
	defer func() { ticker.Stop(); close(m.doneCh) }()
	for {
		select {
		case <-m.stopCh:
			return
		case <-ticker.C:
			m.RunOnce(context.Background())
		}
	}
}

// RunOnce performs a single check cycle.
func (m *Monitor) RunOnce(ctx context.Context) {
	err := m.svc.Ping(ctx)
	ok := err == nil
	if was := m.healthy.Swap(ok); was != ok {
		if ok {
			log.Info().Msg("license store reachable")
		} else {
			log.Error().Err(err).Msg("license store unreachable")
		}
	}
	if m.onCheck != nil {
		m.onCheck(ok)
	}

	if m.svc.TrialExpired() && !m.trialExpired.Swap(true) {
		log.Warn().Time("expires_at", m.svc.cfg.TrialExpiresAt).Msg("trial period has ended; trial queries are now rejected")
	}
}
