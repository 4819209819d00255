package keyedcache

import (
	"fmt"
	"log/slog"
	"sync"
	"time"
)

const (
	// DefaultReapInterval is how often the reaper sweeps lock tables.
	DefaultReapInterval = 5 * time.Minute

	// stopTimeout bounds how long Stop waits for the background goroutine.
	stopTimeout = 5 * time.Second
)

// ReaperOption configures a Reaper.
type ReaperOption func(*Reaper)

// WithReapInterval sets the sweep interval. Non-positive values are ignored.
func WithReapInterval(d time.Duration) ReaperOption {
	return func(r *Reaper) {
		if d > 0 {
			r.interval = d
		}
	}
}

func WithReaperLogger(log *slog.Logger) ReaperOption {
	return func(r *Reaper) {
		if log != nil {
			r.log = log
		}
	}
}

// Reaper runs a cleanup function on a fixed interval in a single background
// goroutine. It exists to reclaim orphaned per-key locks, but the cleanup
// function is opaque to it. Start and Stop are idempotent and safe to call
// repeatedly; cleanup panics are logged and never terminate the loop.
type Reaper struct {
	interval time.Duration
	cleanup  func()
	log      *slog.Logger

	mu   sync.Mutex
	stop chan struct{}
	done chan struct{}
}

// NewReaper creates a reaper over cleanup. The reaper does not run until
// Start is called.
func NewReaper(cleanup func(), opts ...ReaperOption) *Reaper {
	r := &Reaper{
		interval: DefaultReapInterval,
		cleanup:  cleanup,
		log:      slog.Default(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Start launches the background goroutine. Calling Start on a running reaper
// is a no-op.
func (r *Reaper) Start() {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.stop != nil {
		return
	}
	r.stop = make(chan struct{})
	r.done = make(chan struct{})
	go r.run(r.stop, r.done)

	r.log.Info("lock reaper started", slog.Duration("interval", r.interval))
}

// Stop signals the background goroutine to exit and waits for it, bounded by
// a short timeout. A goroutine that fails to exit in time is logged, not
// waited on; Stop never blocks indefinitely. Calling Stop on a stopped
// reaper is a no-op.
func (r *Reaper) Stop() {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.stop == nil {
		return
	}
	close(r.stop)

	select {
	case <-r.done:
		r.log.Info("lock reaper stopped")
	case <-time.After(stopTimeout):
		r.log.Warn("lock reaper did not stop within timeout",
			slog.Duration("timeout", stopTimeout))
	}

	r.stop = nil
	r.done = nil
}

// Trigger runs the cleanup once, out of band. Safe to call whether or not
// the background goroutine is running.
func (r *Reaper) Trigger() {
	r.tick()
}

func (r *Reaper) run(stop, done chan struct{}) {
	defer close(done)

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	// Sweep once at startup, then on every tick.
	r.tick()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			r.tick()
		}
	}
}

func (r *Reaper) tick() {
	defer func() {
		if rec := recover(); rec != nil {
			r.log.Error("lock cleanup panicked",
				slog.String("panic", fmt.Sprint(rec)))
		}
	}()
	r.cleanup()
}
