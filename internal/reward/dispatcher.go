// Package reward hands claim commits to the systems that credit winners.
//
// The simulation emits a commit from inside its tick; Submit never blocks.
// Delivery runs on a small worker pool with bounded retries, and a failed
// delivery never rolls back the claim in the simulation.
package reward

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"

	"goblin-dig/internal/config"
	"goblin-dig/internal/game"
)

var (
	ErrQueueFull = errors.New("reward: queue full")
	ErrDuplicate = errors.New("reward: commit already submitted")
	ErrStopped   = errors.New("reward: dispatcher stopped")
)

// Sink delivers one commit. Deliver must be safe to repeat for the same
// resource key; the dispatcher retries on error.
type Sink interface {
	Name() string
	Deliver(ctx context.Context, c game.ClaimCommit) error
}

// permanentError marks a failure that retrying cannot fix.
type permanentError struct{ err error }

func (p *permanentError) Error() string { return p.err.Error() }
func (p *permanentError) Unwrap() error { return p.err }

// Permanent wraps err so the dispatcher gives up without retrying.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

// IsPermanent reports whether err was wrapped with Permanent.
func IsPermanent(err error) bool {
	var p *permanentError
	return errors.As(err, &p)
}

// Result is reported once per (commit, sink) after the final attempt.
type Result struct {
	Commit   game.ClaimCommit
	Sink     string
	Attempts int
	Err      error
}

type job struct {
	commit     game.ClaimCommit
	enqueuedAt time.Time
}

// Dispatcher is a non-blocking, idempotent delivery queue.
type Dispatcher struct {
	cfg     config.RewardConfig
	sinks   []Sink
	limiter *rate.Limiter

	jobs   chan job
	mu     sync.RWMutex // guards closed and the jobs channel close
	closed bool

	seenMu sync.Mutex
	seen   map[string]struct{}

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	onResult func(Result)
	backoff  func(attempt int) time.Duration

	submitted  atomic.Uint64
	delivered  atomic.Uint64
	failed     atomic.Uint64
	dropped    atomic.Uint64
	duplicates atomic.Uint64
}

// NewDispatcher creates a dispatcher over sinks. With no sinks every commit
// is accepted and discarded after logging.
func NewDispatcher(cfg config.RewardConfig, sinks ...Sink) *Dispatcher {
	if cfg.Workers <= 0 {
		cfg.Workers = 1
	}
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = 64
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 1
	}
	limit := rate.Inf
	if cfg.RatePerSec > 0 {
		limit = rate.Limit(cfg.RatePerSec)
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Dispatcher{
		cfg:     cfg,
		sinks:   sinks,
		limiter: rate.NewLimiter(limit, cfg.Workers),
		jobs:    make(chan job, cfg.BufferSize),
		seen:    make(map[string]struct{}),
		ctx:     ctx,
		cancel:  cancel,
		backoff: exponentialBackoff,
	}
}

// OnResult installs a callback for final delivery outcomes. Call before Start.
func (d *Dispatcher) OnResult(fn func(Result)) {
	d.onResult = fn
}

// Start launches the worker pool.
func (d *Dispatcher) Start() {
	log.Printf("🎁 Reward dispatcher starting: %d workers, buffer %d, %d sinks",
		d.cfg.Workers, cap(d.jobs), len(d.sinks))

	for i := 0; i < d.cfg.Workers; i++ {
		d.wg.Add(1)
		go d.worker()
	}
}

// Submit queues a commit for delivery without blocking. A resource key is
// accepted at most once for the dispatcher's lifetime.
func (d *Dispatcher) Submit(c game.ClaimCommit) error {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.closed {
		return ErrStopped
	}

	d.seenMu.Lock()
	if _, dup := d.seen[c.ResourceKey]; dup {
		d.seenMu.Unlock()
		d.duplicates.Add(1)
		return ErrDuplicate
	}
	d.seen[c.ResourceKey] = struct{}{}
	d.seenMu.Unlock()

	select {
	case d.jobs <- job{commit: c, enqueuedAt: time.Now()}:
		d.submitted.Add(1)
		return nil
	default:
		// a dropped key may be submitted again
		d.seenMu.Lock()
		delete(d.seen, c.ResourceKey)
		d.seenMu.Unlock()
		d.dropped.Add(1)
		log.Printf("⚠️ Reward queue full, dropped commit %s for %s", c.ResourceKey, c.WinnerID)
		return ErrQueueFull
	}
}

// Stop refuses new commits and drains the queue. When ctx expires first,
// in-flight retries are cancelled and the remaining commits are abandoned.
func (d *Dispatcher) Stop(ctx context.Context) error {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return nil
	}
	d.closed = true
	close(d.jobs)
	d.mu.Unlock()

	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()

	var err error
	select {
	case <-done:
	case <-ctx.Done():
		err = fmt.Errorf("reward drain: %w", ctx.Err())
		d.cancel()
		<-done
	}
	d.cancel()

	s := d.Stats()
	log.Printf("📊 Reward dispatcher stopped - submitted: %d, delivered: %d, failed: %d, dropped: %d",
		s.Submitted, s.Delivered, s.Failed, s.Dropped)
	return err
}

func (d *Dispatcher) worker() {
	defer d.wg.Done()

	for j := range d.jobs {
		if wait := time.Since(j.enqueuedAt); wait > time.Second {
			log.Printf("⚠️ Commit %s waited %.1fs in reward queue", j.commit.ResourceKey, wait.Seconds())
		}
		if len(d.sinks) == 0 {
			log.Printf("🎁 Commit %s -> %s (no reward sink configured)", j.commit.ResourceKey, j.commit.WinnerID)
			d.delivered.Add(1)
			continue
		}

		ok := true
		for _, sink := range d.sinks {
			attempts, err := d.deliver(sink, j.commit)
			if err != nil {
				ok = false
				log.Printf("❌ Reward delivery to %s failed for %s after %d attempts: %v",
					sink.Name(), j.commit.ResourceKey, attempts, err)
			}
			if d.onResult != nil {
				d.onResult(Result{Commit: j.commit, Sink: sink.Name(), Attempts: attempts, Err: err})
			}
		}
		if ok {
			d.delivered.Add(1)
		} else {
			d.failed.Add(1)
		}
	}
}

// deliver runs the retry loop for one sink.
func (d *Dispatcher) deliver(sink Sink, c game.ClaimCommit) (int, error) {
	var err error
	for attempt := 1; attempt <= d.cfg.MaxAttempts; attempt++ {
		if werr := d.limiter.Wait(d.ctx); werr != nil {
			return attempt - 1, fmt.Errorf("rate wait: %w", werr)
		}

		ctx := d.ctx
		var cancel context.CancelFunc = func() {}
		if d.cfg.Timeout > 0 {
			ctx, cancel = context.WithTimeout(d.ctx, d.cfg.Timeout)
		}
		err = sink.Deliver(ctx, c)
		cancel()

		if err == nil {
			return attempt, nil
		}
		if IsPermanent(err) || attempt == d.cfg.MaxAttempts {
			return attempt, err
		}

		select {
		case <-time.After(d.backoff(attempt)):
		case <-d.ctx.Done():
			return attempt, fmt.Errorf("%w (cancelled during backoff)", err)
		}
	}
	return d.cfg.MaxAttempts, err
}

func exponentialBackoff(attempt int) time.Duration {
	b := 200 * time.Millisecond << (attempt - 1)
	if b > 5*time.Second || b <= 0 {
		return 5 * time.Second
	}
	return b
}

// Stats returns current dispatcher statistics.
func (d *Dispatcher) Stats() DispatcherStats {
	return DispatcherStats{
		Submitted:  d.submitted.Load(),
		Delivered:  d.delivered.Load(),
		Failed:     d.failed.Load(),
		Dropped:    d.dropped.Load(),
		Duplicates: d.duplicates.Load(),
		Pending:    len(d.jobs),
	}
}

// DispatcherStats holds dispatcher metrics.
type DispatcherStats struct {
	Submitted  uint64 `json:"submitted"`
	Delivered  uint64 `json:"delivered"`
	Failed     uint64 `json:"failed"`
	Dropped    uint64 `json:"dropped"`
	Duplicates uint64 `json:"duplicates"`
	Pending    int    `json:"pending"`
}
