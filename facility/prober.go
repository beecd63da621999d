/*
prober.go - Central system reachability probe

PURPOSE:
  Keeps a Toggle in step with whether the central system answers. The
  guard reads the toggle at evaluation time, so a facility that loses its
  uplink falls back to offline rules on the next dispense.

DESIGN:
  - Background goroutine with a fixed check interval
  - One HEAD request per check; any response below 500 counts as online
  - Transport errors and timeouts count as offline
  - State changes are logged, steady state is not

USAGE:
  prober := NewProber(url, toggle, logger)
  prober.Start()
  // ... later
  prober.Stop()
*/
package facility

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

const (
	DefaultProbeInterval = 30 * time.Second
	DefaultProbeTimeout  = 5 * time.Second
)

// Prober periodically checks the central system and updates a Toggle.
type Prober struct {
	URL           string
	CheckInterval time.Duration
	Timeout       time.Duration
	Client        *http.Client

	toggle *Toggle
	log    zerolog.Logger

	ticker  *time.Ticker
	stop    chan struct{}
	wg      sync.WaitGroup
	mu      sync.Mutex
	started bool
}

func NewProber(url string, toggle *Toggle, log zerolog.Logger) *Prober {
	return &Prober{
		URL:           url,
		CheckInterval: DefaultProbeInterval,
		Timeout:       DefaultProbeTimeout,
		Client:        &http.Client{},
		toggle:        toggle,
		log:           log.With().Str("component", "prober").Logger(),
	}
}

// Start begins probing. It does nothing when no URL is configured, leaving
// the toggle under manual control.
func (p *Prober) Start() {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.URL == "" {
		p.log.Info().Msg("no probe url configured, connectivity is manual")
		return
	}
	if p.started {
		return
	}

	p.ticker = time.NewTicker(p.CheckInterval)
	p.stop = make(chan struct{})
	p.started = true
	p.wg.Add(1)
	go p.run()

	p.log.Info().Str("url", p.URL).Dur("interval", p.CheckInterval).Msg("prober started")
}

// Stop halts probing and waits for an in-flight check to finish.
func (p *Prober) Stop() {
	p.mu.Lock()
	defer p.mu.Unlock()

	if !p.started {
		return
	}
	p.ticker.Stop()
	close(p.stop)
	p.wg.Wait()
	p.started = false
	p.log.Info().Msg("prober stopped")
}

func (p *Prober) run() {
	defer p.wg.Done()

	p.CheckNow()

	for {
		select {
		case <-p.ticker.C:
			p.CheckNow()
		case <-p.stop:
			return
		}
	}
}

// CheckNow performs a single probe and returns the resulting state.
func (p *Prober) CheckNow() bool {
	ctx, cancel := context.WithTimeout(context.Background(), p.Timeout)
	defer cancel()

	online := p.reachable(ctx)
	if p.toggle.Set(online) {
		p.log.Warn().Bool("online", online).Msg("connectivity changed")
	}
	return online
}

func (p *Prober) reachable(ctx context.Context) bool {
	req, err := http.NewRequestWithContext(ctx, http.MethodHead, p.URL, nil)
	if err != nil {
		p.log.Error().Err(err).Msg("invalid probe request")
		return false
	}
	resp, err := p.Client.Do(req)
	if err != nil {
		p.log.Debug().Err(err).Msg("probe failed")
		return false
	}
	resp.Body.Close()
	return resp.StatusCode < http.StatusInternalServerError
}
