package store

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// Poller drives the fixed-interval background refresh. It is idle while
// no session is present and polls while one is; the city filter is read
// from the store at every tick, so a filter change takes effect on the
// next tick without rebuilding anything.
type Poller struct {
	store    *Store
	interval time.Duration
	logger   *slog.Logger

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

func NewPoller(store *Store, interval time.Duration, logger *slog.Logger) *Poller {
	if interval <= 0 {
		interval = 5 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Poller{
		store:    store,
		interval: interval,
		logger:   logger.With("component", "poller"),
	}
}

// Start launches the polling loop. Calling Start on a running poller is a
// no-op.
func (p *Poller) Start() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.cancel != nil {
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	p.cancel = cancel
	p.done = make(chan struct{})
	go p.run(ctx, p.done)
	p.logger.Debug("poller_started", "interval", p.interval)
}

// Stop tears the loop down and waits for it to exit.
func (p *Poller) Stop() {
	p.mu.Lock()
	cancel := p.cancel
	done := p.done
	p.cancel = nil
	p.done = nil
	p.mu.Unlock()
	if cancel == nil {
		return
	}
	cancel()
	<-done
	p.logger.Debug("poller_stopped")
}

func (p *Poller) run(ctx context.Context, done chan struct{}) {
	defer close(done)
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.Tick(ctx)
		}
	}
}

// Tick performs one poll cycle: a silent refresh with the active city
// filter, skipped while no session is present. Exported so tests can
// drive the schedule deterministically.
func (p *Poller) Tick(ctx context.Context) {
	if p.store.CurrentUser() == nil {
		return
	}
	p.store.RefreshEvents(ctx, p.store.CityFilter(), true)
}
