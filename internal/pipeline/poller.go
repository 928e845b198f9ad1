package pipeline

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/ndpham/inboxtriage/internal/mailbox"
)

const tickTimeout = 60 * time.Second

// Poller runs the pipeline on a fixed interval, with a manual trigger
// channel for on-demand runs.
type Poller struct {
	pipeline  *Pipeline
	interval  time.Duration
	logger    *slog.Logger
	triggerCh chan struct{}
	stopCh    chan struct{}
	mu        sync.Mutex
	running   bool
}

// NewPoller creates a poller around a pipeline.
func NewPoller(p *Pipeline, interval time.Duration, logger *slog.Logger) *Poller {
	if interval <= 0 {
		interval = 120 * time.Second
	}
	return &Poller{
		pipeline:  p,
		interval:  interval,
		logger:    logger,
		triggerCh: make(chan struct{}, 16),
		stopCh:    make(chan struct{}),
	}
}

// Run executes the polling loop until Stop is called or ctx is
// canceled. An initial tick runs immediately.
func (p *Poller) Run(ctx context.Context) error {
	p.mu.Lock()
	if p.running {
		p.mu.Unlock()
		return nil
	}
	p.running = true
	p.mu.Unlock()

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	p.tick(ctx)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-p.stopCh:
			return nil
		case <-ticker.C:
			p.tick(ctx)
		case <-p.triggerCh:
			p.tick(ctx)
		}
	}
}

// Stop halts the polling loop.
func (p *Poller) Stop() {
	p.mu.Lock()
	defer p.mu.Unlock()

	if !p.running {
		return
	}

	close(p.stopCh)
	p.running = false
}

// Trigger requests an immediate tick without blocking.
func (p *Poller) Trigger() {
	select {
	case p.triggerCh <- struct{}{}:
	default:
	}
}

// tick runs one pipeline cycle with a bounded timeout. Errors are
// logged, never fatal to the loop.
func (p *Poller) tick(parent context.Context) {
	ctx, cancel := context.WithTimeout(parent, tickTimeout)
	defer cancel()

	sum, err := p.pipeline.Tick(ctx)
	if err != nil {
		if mailbox.IsAuthError(err) {
			p.logger.Error("mailbox authentication expired", "error", err)
			return
		}
		p.logger.Error("triage tick failed", "error", err)
		return
	}

	p.logger.Info("triage tick complete",
		"listed", sum.Listed,
		"stored", sum.Stored,
		"notified", sum.Notified,
		"replied", sum.Replied,
		"purged", sum.Purged,
	)
}
