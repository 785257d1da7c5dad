// Package syncer keeps a client-side view of one account in step with the
// server: a version-token poller that reloads on change, and an optimistic
// writer that persists edits with a single retry before giving up loudly.
package syncer

import (
	"context"
	"log"
	"sync"
	"time"
)

// Poller polls the account's sync version and triggers a reload whenever the
// token changes. The first successful poll only establishes the baseline — a
// freshly started client must not reload state it just fetched.
type Poller struct {
	Interval     time.Duration
	FetchVersion func(ctx context.Context) (string, error)
	Reload       func(ctx context.Context) error
	// Suspended gates polling entirely; while it returns true the poller
	// neither fetches nor reloads. Used while a local edit is in flight so a
	// reload cannot clobber unsaved work.
	Suspended func() bool
	Logf      func(format string, args ...any)

	// mu guards the baseline: Observe runs on the writer's goroutine while
	// tick runs on the poll goroutine.
	mu      sync.Mutex
	version string
	seeded  bool
}

// Run polls until the context is cancelled.
func (p *Poller) Run(ctx context.Context) {
	interval := p.Interval
	if interval <= 0 {
		interval = 10 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.tick(ctx)
		}
	}
}

// Observe records a version token the caller already holds, typically from a
// successful write response. Making the token the baseline prevents the next
// poll from treating our own write as a remote change.
func (p *Poller) Observe(version string) {
	if version == "" {
		return
	}
	p.mu.Lock()
	p.version = version
	p.seeded = true
	p.mu.Unlock()
}

func (p *Poller) tick(ctx context.Context) {
	if p.Suspended != nil && p.Suspended() {
		return
	}

	version, err := p.FetchVersion(ctx)
	if err != nil {
		p.logf("syncer: version poll failed: %v", err)
		return
	}

	p.mu.Lock()
	if !p.seeded {
		p.version = version
		p.seeded = true
		p.mu.Unlock()
		return
	}
	if version == p.version {
		p.mu.Unlock()
		return
	}
	p.mu.Unlock()

	if err := p.Reload(ctx); err != nil {
		// Keep the stale baseline so the next tick retries the reload.
		p.logf("syncer: reload after version change failed: %v", err)
		return
	}
	p.mu.Lock()
	p.version = version
	p.mu.Unlock()
}

func (p *Poller) logf(format string, args ...any) {
	if p.Logf != nil {
		p.Logf(format, args...)
		return
	}
	log.Printf(format, args...)
}
