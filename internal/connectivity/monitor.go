// Package connectivity tracks whether the record store is reachable and
// notifies subscribers on state transitions.
package connectivity

import (
	"context"
	"net/http"
	"sync"
	"time"
)

// ProbeFunc reports whether the network is currently usable.
type ProbeFunc func(ctx context.Context) bool

// probeTimeout bounds a single connectivity probe.
const probeTimeout = 5 * time.Second

// Monitor tracks the online/offline state. Subscribers are notified
// exactly once per transition; repeated reports of the same state are
// ignored.
type Monitor struct {
	probe    ProbeFunc
	interval time.Duration

	mu      sync.Mutex
	online  bool
	subs    []func(online bool)
	stopCh  chan struct{}
	running bool
}

// New creates a Monitor that considers the client offline until the
// first probe or SetOnline call says otherwise.
func New(probe ProbeFunc, interval time.Duration) *Monitor {
	if interval <= 0 {
		interval = 15 * time.Second
	}
	return &Monitor{
		probe:    probe,
		interval: interval,
		stopCh:   make(chan struct{}),
	}
}

// HTTPProbe returns a ProbeFunc that issues a HEAD request against url
// and treats any response, regardless of status, as proof of
// reachability.
func HTTPProbe(url string) ProbeFunc {
	client := &http.Client{Timeout: probeTimeout}
	return func(ctx context.Context) bool {
		req, err := http.NewRequestWithContext(ctx, http.MethodHead, url, nil)
		if err != nil {
			return false
		}
		resp, err := client.Do(req)
		if err != nil {
			return false
		}
		resp.Body.Close()
		return true
	}
}

// IsOnline reports the current connectivity state.
func (m *Monitor) IsOnline() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.online
}

// Subscribe registers a callback fired on every state transition. The
// callback runs on the monitor's goroutine and must not block.
func (m *Monitor) Subscribe(fn func(online bool)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.subs = append(m.subs, fn)
}

// SetOnline injects a connectivity observation. Callers other than the
// probe loop (request failures, platform network events) may report
// state here; duplicate reports of the current state fire nothing.
func (m *Monitor) SetOnline(online bool) {
	m.mu.Lock()
	if m.online == online {
		m.mu.Unlock()
		return
	}
	m.online = online
	subs := make([]func(bool), len(m.subs))
	copy(subs, m.subs)
	m.mu.Unlock()

	for _, fn := range subs {
		fn(online)
	}
}

// Start launches the background probe loop. Starting an already running
// monitor is a no-op. Monitors created without a probe can still be
// driven through SetOnline.
func (m *Monitor) Start() {
	m.mu.Lock()
	if m.running || m.probe == nil {
		m.mu.Unlock()
		return
	}
	m.running = true
	m.mu.Unlock()

	go m.probeLoop()
}

// Stop halts the probe loop.
func (m *Monitor) Stop() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.running {
		return
	}
	close(m.stopCh)
	m.running = false
}

// probeLoop probes immediately, then on every tick until stopped.
func (m *Monitor) probeLoop() {
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	m.runProbe()

	for {
		select {
		case <-m.stopCh:
			return
		case <-ticker.C:
			m.runProbe()
		}
	}
}

func (m *Monitor) runProbe() {
	ctx, cancel := context.WithTimeout(context.Background(), probeTimeout)
	defer cancel()
	m.SetOnline(m.probe(ctx))
}
