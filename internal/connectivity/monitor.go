// Package connectivity polls reachability and reports online/offline
// transitions to subscribers.
package connectivity

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"osb-tracker/internal/cache"
)

const (
	ModeWifi     = "wifi"
	ModeCellular = "cellular"
	ModeOffline  = "offline"
)

type State struct {
	Online bool
	Mode   string
}

// Prober reports the current reachability.
type Prober interface {
	Probe(ctx context.Context) State
}

// Monitor polls a Prober and publishes state changes.
type Monitor struct {
	prober   Prober
	interval time.Duration

	state cache.Snapshot[State]

	mu   sync.Mutex
	subs []chan State
}

func NewMonitor(p Prober, interval time.Duration) *Monitor {
	if interval <= 0 {
		interval = 5 * time.Second
	}
	m := &Monitor{prober: p, interval: interval}
	m.state.Store(State{Mode: ModeOffline})
	return m
}

func (m *Monitor) IsOnline() bool {
	s, _ := m.state.Load()
	return s.Online
}

// Mode is wifi, cellular or offline.
func (m *Monitor) Mode() string {
	s, _ := m.state.Load()
	if !s.Online {
		return ModeOffline
	}
	return s.Mode
}

// Subscribe returns a channel receiving every state transition. Slow
// subscribers miss intermediate states; the latest one is always readable
// through IsOnline.
func (m *Monitor) Subscribe() <-chan State {
	ch := make(chan State, 1)
	m.mu.Lock()
	m.subs = append(m.subs, ch)
	m.mu.Unlock()
	return ch
}

// Check probes once and publishes on change. It reports whether the state changed.
func (m *Monitor) Check(ctx context.Context) bool {
	next := m.prober.Probe(ctx)
	if !next.Online {
		next.Mode = ModeOffline
	}
	prev, _ := m.state.Load()
	if prev == next {
		return false
	}
	m.state.Store(next)
	log.Info().Bool("online", next.Online).Str("mode", next.Mode).Msg("connectivity changed")

	m.mu.Lock()
	defer m.mu.Unlock()
	for _, ch := range m.subs {
		select {
		case ch <- next:
		default:
			// drop the stale value so the newest wins
			select {
			case <-ch:
			default:
			}
			select {
			case ch <- next:
			default:
			}
		}
	}
	return true
}

// Run polls until ctx is cancelled. The first probe happens immediately.
func (m *Monitor) Run(ctx context.Context) {
	m.Check(ctx)

	t := time.NewTicker(m.interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("connectivity monitor stopped")
			return
		case <-t.C:
			m.Check(ctx)
		}
	}
}

// Static is a Prober whose state is pushed in by the host.
type Static struct {
	mu sync.RWMutex
	s  State
}

func NewStatic(online bool, mode string) *Static {
	return &Static{s: State{Online: online, Mode: mode}}
}

func (s *Static) Set(online bool, mode string) {
	s.mu.Lock()
	s.s = State{Online: online, Mode: mode}
	s.mu.Unlock()
}

func (s *Static) Probe(context.Context) State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.s
}

// HTTPProber treats any HTTP response from URL as online.
type HTTPProber struct {
	URL    string
	Mode   string
	Client *http.Client
}

func NewHTTPProber(url, mode string, timeout time.Duration) *HTTPProber {
	if timeout <= 0 {
		timeout = 3 * time.Second
	}
	return &HTTPProber{URL: url, Mode: mode, Client: &http.Client{Timeout: timeout}}
}

func (p *HTTPProber) Probe(ctx context.Context) State {
	if p.URL == "" {
		return State{Online: true, Mode: p.Mode}
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodHead, p.URL, nil)
	if err != nil {
		log.Error().Err(err).Str("url", p.URL).Msg("build probe request")
		return State{Mode: ModeOffline}
	}
	resp, err := p.Client.Do(req)
	if err != nil {
		log.Debug().Err(err).Str("url", p.URL).Msg("probe failed")
		return State{Mode: ModeOffline}
	}
	resp.Body.Close()
	return State{Online: true, Mode: p.Mode}
}
