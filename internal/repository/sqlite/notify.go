package sqlite

import (
	"context"
	"encoding/hex"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/jaakkos/hangout/internal/clock"
	"github.com/jaakkos/hangout/internal/domain"
)

const (
	defaultDebounce     = 50 * time.Millisecond
	defaultPollInterval = 10 * time.Second

	signalPrefix = "space-"
	signalSuffix = ".signal"
)

// Notifier turns writes to the session store into per-space change signals.
// Every write stamps a revision into the space's signal file; fsnotify watchers
// in other processes pick it up, a slow poll covers missed events, and
// same-process writes trigger subscribers directly. Signals carry no payload:
// subscribers re-read the space.
type Notifier struct {
	dir          string
	logger       *log.Logger
	clock        clock.Clock
	debounce     time.Duration
	pollInterval time.Duration

	mu     sync.Mutex
	subs   map[domain.SpaceID]map[uint64]func()
	nextID uint64
	timers map[domain.SpaceID]*clock.Timer
	revs   map[domain.SpaceID]string

	stopOnce sync.Once
	stopCh   chan struct{}
	doneCh   chan struct{}
	started  bool
}

// NotifierOption configures the notifier.
type NotifierOption func(*Notifier)

// WithDebounce sets how long a burst of signals for one space is coalesced.
func WithDebounce(d time.Duration) NotifierOption {
	return func(n *Notifier) { n.debounce = d }
}

// WithPollInterval sets the fallback poll interval (default 10s).
func WithPollInterval(d time.Duration) NotifierOption {
	return func(n *Notifier) { n.pollInterval = d }
}

// WithNotifyClock sets the clock used for debounce timers and polling.
func WithNotifyClock(c clock.Clock) NotifierOption {
	return func(n *Notifier) { n.clock = c }
}

// NewNotifier creates a notifier whose signal files live in dir.
func NewNotifier(dir string, logger *log.Logger, opts ...NotifierOption) *Notifier {
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}
	n := &Notifier{
		dir:          dir,
		logger:       logger,
		debounce:     defaultDebounce,
		pollInterval: defaultPollInterval,
		subs:         make(map[domain.SpaceID]map[uint64]func()),
		timers:       make(map[domain.SpaceID]*clock.Timer),
		revs:         make(map[domain.SpaceID]string),
		stopCh:       make(chan struct{}),
		doneCh:       make(chan struct{}),
	}
	for _, o := range opts {
		o(n)
	}
	n.clock = clock.OrReal(n.clock)
	return n
}

// SignalPath returns the signal file for a space. The space id is hex encoded
// so arbitrary ids map to safe file names.
func (n *Notifier) SignalPath(space domain.SpaceID) string {
	return filepath.Join(n.dir, signalPrefix+hex.EncodeToString([]byte(space))+signalSuffix)
}

func spaceFromSignal(name string) (domain.SpaceID, bool) {
	if !strings.HasPrefix(name, signalPrefix) || !strings.HasSuffix(name, signalSuffix) {
		return "", false
	}
	raw, err := hex.DecodeString(strings.TrimSuffix(strings.TrimPrefix(name, signalPrefix), signalSuffix))
	if err != nil {
		return "", false
	}
	return domain.SpaceID(raw), true
}

// Touch writes a new revision to the space's signal file and triggers local
// subscribers. fsnotify may miss same-process writes, hence the direct trigger.
// Local subscribers are triggered even when the file cannot be written.
func (n *Notifier) Touch(space domain.SpaceID) error {
	defer n.Trigger(space)
	if err := os.MkdirAll(n.dir, 0755); err != nil {
		return fmt.Errorf("create signal dir: %w", err)
	}
	rev := strconv.FormatInt(n.clock.Now().UnixNano(), 10) + "-" + strconv.Itoa(os.Getpid())
	if err := os.WriteFile(n.SignalPath(space), []byte(rev), 0644); err != nil {
		return fmt.Errorf("write signal: %w", err)
	}
	return nil
}

// Subscribe registers fn for change signals on space. The returned func
// unsubscribes. fn runs on a timer goroutine and must not block.
func (n *Notifier) Subscribe(space domain.SpaceID, fn func()) func() {
	n.mu.Lock()
	n.nextID++
	id := n.nextID
	if n.subs[space] == nil {
		n.subs[space] = make(map[uint64]func())
		n.revs[space] = n.readRevision(space)
	}
	n.subs[space][id] = fn
	n.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			n.mu.Lock()
			defer n.mu.Unlock()
			delete(n.subs[space], id)
			if len(n.subs[space]) == 0 {
				delete(n.subs, space)
				delete(n.revs, space)
				if t := n.timers[space]; t != nil {
					t.Stop()
					delete(n.timers, space)
				}
			}
		})
	}
}

// Trigger schedules a debounced fire for space.
func (n *Notifier) Trigger(space domain.SpaceID) {
	n.mu.Lock()
	if len(n.subs[space]) == 0 {
		n.mu.Unlock()
		return
	}
	if t := n.timers[space]; t != nil {
		t.Stop()
		delete(n.timers, space)
	}
	if n.debounce <= 0 {
		n.mu.Unlock()
		n.fire(space)
		return
	}
	n.timers[space] = n.clock.AfterFunc(n.debounce, func() { n.fire(space) })
	n.mu.Unlock()
}

// Start watches the signal dir and runs the fallback poll. Returns when ctx
// is cancelled or Stop is called. If fsnotify fails to initialize, falls back
// to poll-only mode.
func (n *Notifier) Start(ctx context.Context) {
	n.mu.Lock()
	n.started = true
	n.mu.Unlock()
	defer close(n.doneCh)

	if err := os.MkdirAll(n.dir, 0755); err != nil {
		n.logger.Printf("Notifier: create %s failed (%v), using poll-only", n.dir, err)
	}
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		n.logger.Printf("Notifier: fsnotify init failed (%v), using poll-only", err)
	} else if err := watcher.Add(n.dir); err != nil {
		n.logger.Printf("Notifier: fsnotify add %s failed (%v), using poll-only", n.dir, err)
		_ = watcher.Close()
		watcher = nil
	}
	if watcher != nil {
		defer watcher.Close()
		go n.watchLoop(ctx, watcher)
	}
	n.pollLoop(ctx)
}

// Stop signals Start to return and waits for it. Pending debounce timers are cancelled.
func (n *Notifier) Stop() {
	n.stopOnce.Do(func() { close(n.stopCh) })
	n.mu.Lock()
	started := n.started
	for space, t := range n.timers {
		t.Stop()
		delete(n.timers, space)
	}
	n.mu.Unlock()
	if started {
		<-n.doneCh
	}
}

func (n *Notifier) watchLoop(ctx context.Context, watcher *fsnotify.Watcher) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-n.stopCh:
			return
		case event, ok := <-watcher.Events:
			if !ok {
				return
			}
			if event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			if space, ok := spaceFromSignal(filepath.Base(event.Name)); ok {
				n.Trigger(space)
			}
		case err, ok := <-watcher.Errors:
			if !ok {
				return
			}
			n.logger.Printf("Notifier: watch error: %v", err)
		}
	}
}

func (n *Notifier) pollLoop(ctx context.Context) {
	ticker := n.clock.NewTicker(n.pollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-n.stopCh:
			return
		case <-ticker.C:
			n.PollOnce()
		}
	}
}

// PollOnce compares each subscribed space's signal revision with the last one
// delivered and triggers spaces that changed.
func (n *Notifier) PollOnce() {
	n.mu.Lock()
	var changed []domain.SpaceID
	for space := range n.subs {
		if rev := n.readRevision(space); rev != n.revs[space] {
			changed = append(changed, space)
		}
	}
	n.mu.Unlock()
	for _, space := range changed {
		n.Trigger(space)
	}
}

func (n *Notifier) fire(space domain.SpaceID) {
	n.mu.Lock()
	delete(n.timers, space)
	if _, ok := n.subs[space]; ok {
		n.revs[space] = n.readRevision(space)
	}
	fns := make([]func(), 0, len(n.subs[space]))
	for _, fn := range n.subs[space] {
		fns = append(fns, fn)
	}
	n.mu.Unlock()
	for _, fn := range fns {
		fn()
	}
}

func (n *Notifier) readRevision(space domain.SpaceID) string {
	data, err := os.ReadFile(n.SignalPath(space))
	if err != nil {
		return ""
	}
	return string(data)
}
