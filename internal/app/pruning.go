package app

import (
	"context"
	"io"
	"log"
	"sync"
	"time"

	"github.com/jaakkos/hangout/internal/clock"
	"github.com/jaakkos/hangout/internal/domain"
)

const minPruneInterval = time.Second

// Pruner keeps the local membership alive and deletes memberships whose
// owners stopped heartbeating (crashed clients never send a leave). Each
// cycle first touches the local row, unless the bound client has been idle
// longer than ttl, then prunes rows last seen before now-ttl. Deletions signal the affected spaces, so rosters reload through
// the ordinary change notification path.
type Pruner struct {
	store    StalePruner
	presence *PresenceManager
	activity *SessionRegistry
	logger   *log.Logger
	clock    clock.Clock
	ttl      time.Duration
	interval time.Duration

	stopOnce sync.Once
	stopCh   chan struct{}
	doneCh   chan struct{}
	mu       sync.Mutex
	started  bool
}

// PrunerOption configures the pruner.
type PrunerOption func(*Pruner)

// WithPruneInterval sets the cycle interval (default ttl/3).
func WithPruneInterval(d time.Duration) PrunerOption {
	return func(p *Pruner) { p.interval = d }
}

// WithPruneClock sets the clock used for cutoffs and the ticker.
func WithPruneClock(c clock.Clock) PrunerOption {
	return func(p *Pruner) { p.clock = c }
}

// WithActivity lets an idle client's membership expire: the heartbeat is
// skipped while the client bound to the local participant is idle.
func WithActivity(r *SessionRegistry) PrunerOption {
	return func(p *Pruner) { p.activity = r }
}

// NewPruner creates a pruner. A ttl of zero disables it. presence may be nil
// when no local session should be kept alive (e.g. a standalone janitor).
func NewPruner(store StalePruner, presence *PresenceManager, ttl time.Duration, logger *log.Logger, opts ...PrunerOption) *Pruner {
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}
	p := &Pruner{
		store:    store,
		presence: presence,
		logger:   logger,
		ttl:      ttl,
		interval: ttl / 3,
		stopCh:   make(chan struct{}),
		doneCh:   make(chan struct{}),
	}
	for _, o := range opts {
		o(p)
	}
	if p.interval < minPruneInterval {
		p.interval = minPruneInterval
	}
	p.clock = clock.OrReal(p.clock)
	return p
}

// Start runs the prune loop. Returns when ctx is cancelled or Stop is called.
func (p *Pruner) Start(ctx context.Context) {
	p.mu.Lock()
	p.started = true
	p.mu.Unlock()
	defer close(p.doneCh)

	if p.ttl <= 0 {
		p.logger.Println("Pruner: disabled (membership_ttl_seconds=0)")
		return
	}
	p.logger.Printf("Pruner: started (interval=%s, ttl=%s)", p.interval, p.ttl)

	ticker := p.clock.NewTicker(p.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			p.logger.Println("Pruner: stopped (context cancelled)")
			return
		case <-p.stopCh:
			p.logger.Println("Pruner: stopped")
			return
		case <-ticker.C:
			if _, err := p.CheckOnce(ctx); err != nil {
				p.logger.Printf("Pruner: %v", err)
			}
		}
	}
}

// Stop signals the loop to stop and waits for it. Safe to call without Start.
func (p *Pruner) Stop() {
	p.stopOnce.Do(func() { close(p.stopCh) })
	p.mu.Lock()
	started := p.started
	p.mu.Unlock()
	if started {
		<-p.doneCh
	}
}

// CheckOnce runs one heartbeat and prune cycle. Returns rows removed.
func (p *Pruner) CheckOnce(ctx context.Context) (int, error) {
	if p.presence != nil {
		if info, ok := p.presence.Session(); ok && p.clientIdle(info.Participant) {
			p.logger.Printf("Pruner: client for %s idle for over %s, skipping heartbeat", info.Participant, p.ttl)
		} else if err := p.presence.Heartbeat(ctx); err != nil {
			p.logger.Printf("Pruner: heartbeat failed: %v", err)
		}
	}
	if p.ttl <= 0 {
		return 0, nil
	}
	n, err := p.store.PruneStale(ctx, p.clock.Now().Add(-p.ttl))
	if err != nil {
		return 0, err
	}
	if n > 0 {
		p.logger.Printf("Pruner: removed %d stale membership(s)", n)
	}
	return n, nil
}

func (p *Pruner) clientIdle(participant domain.ParticipantID) bool {
	return p.activity != nil && p.ttl > 0 && p.activity.IdleFor(participant, p.ttl)
}
