package scraper

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// GovernorConfig tunes the per-host and global admission limits.
type GovernorConfig struct {
	// PerHostCapacity is the token bucket burst size per host.
	PerHostCapacity int
	// PerHostRefillPer is the sustained requests-per-second rate per host.
	PerHostRefillPer float64
	// GlobalLimit caps concurrent fetches across all hosts.
	GlobalLimit int
	// WaitBound is the longest Admit will block before giving up.
	WaitBound time.Duration
}

// Governor enforces per-host politeness and a global concurrency cap. Each
// host gets its own token bucket; a shared semaphore bounds in-flight
// fetches.
type Governor struct {
	limiters map[string]*rate.Limiter
	mu       sync.Mutex
	global   chan struct{}
	config   GovernorConfig
}

func NewGovernor(config GovernorConfig) *Governor {
	if config.PerHostCapacity <= 0 {
		config.PerHostCapacity = 1
	}
	if config.PerHostRefillPer <= 0 {
		config.PerHostRefillPer = 0.5
	}
	if config.GlobalLimit <= 0 {
		config.GlobalLimit = 1
	}
	return &Governor{
		limiters: make(map[string]*rate.Limiter),
		global:   make(chan struct{}, config.GlobalLimit),
		config:   config,
	}
}

// Admit blocks until a global slot and a host token are both held. It
// returns ok=false when the wait bound elapses or ctx is cancelled first;
// release must be called exactly once after an ok admission.
func (g *Governor) Admit(ctx context.Context, host string) (func(), bool) {
	waitCtx := ctx
	if g.config.WaitBound > 0 {
		var cancel context.CancelFunc
		waitCtx, cancel = context.WithTimeout(ctx, g.config.WaitBound)
		defer cancel()
	}

	select {
	case g.global <- struct{}{}:
	case <-waitCtx.Done():
		return nil, false
	}

	if err := g.hostLimiter(host).Wait(waitCtx); err != nil {
		<-g.global
		return nil, false
	}

	var once sync.Once
	release := func() {
		once.Do(func() { <-g.global })
	}
	return release, true
}

// hostLimiter returns the limiter for host, creating it on first use.
func (g *Governor) hostLimiter(host string) *rate.Limiter {
	g.mu.Lock()
	defer g.mu.Unlock()

	limiter, exists := g.limiters[host]
	if !exists {
		limiter = rate.NewLimiter(rate.Limit(g.config.PerHostRefillPer), g.config.PerHostCapacity)
		g.limiters[host] = limiter
	}
	return limiter
}

// InFlight reports the number of currently admitted fetches.
func (g *Governor) InFlight() int {
	return len(g.global)
}
