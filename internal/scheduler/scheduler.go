// ABOUTME: Polling loop with tick and foreground-resume firings
// ABOUTME: Tracks consecutive refresh failures to expose a degraded flag

package scheduler

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/trovato-app/msgsync/internal/api"
	"github.com/trovato-app/msgsync/internal/guard"
)

// DefaultInterval is the polling period while the engine is started.
const DefaultInterval = 5 * time.Second

// DefaultFailureThreshold is how many consecutive conversations-refresh
// failures are tolerated before the degraded flag is raised for the UI.
const DefaultFailureThreshold = 3

// Refresher is what the scheduler drives on every firing. The two refreshes
// are independent: either may fail without affecting the other. Both must be
// internally guarded so that a call overlapping an in-flight one for the
// same target is skipped, not queued; a skip is reported as
// guard.ErrSkipped so it is not mistaken for a completed refresh.
type Refresher interface {
	RefreshConversations(ctx context.Context) error
	RefreshOpenMessages(ctx context.Context) error
}

// Scheduler fires the refresher on a fixed interval and on demand via Wake.
type Scheduler struct {
	refresher Refresher
	interval  time.Duration
	threshold int
	logger    *slog.Logger

	wake chan struct{}

	mu       sync.Mutex
	cancel   context.CancelFunc
	loopDone chan struct{}
	firings  sync.WaitGroup

	failMu       sync.Mutex
	convFailures int
	degraded     bool
	lastErr      error
}

// New creates a scheduler. interval <= 0 uses DefaultInterval, threshold <= 0
// uses DefaultFailureThreshold, logger may be nil.
func New(r Refresher, interval time.Duration, threshold int, logger *slog.Logger) *Scheduler {
	if interval <= 0 {
		interval = DefaultInterval
	}
	if threshold <= 0 {
		threshold = DefaultFailureThreshold
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Scheduler{
		refresher: r,
		interval:  interval,
		threshold: threshold,
		logger:    logger.With("component", "scheduler"),
		wake:      make(chan struct{}, 1),
	}
}

// Start begins the polling loop, firing once immediately. Calling Start on a
// running scheduler is a no-op.
func (s *Scheduler) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cancel != nil {
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	s.loopDone = make(chan struct{})
	s.resetFailures()

	go s.run(ctx, s.loopDone)
}

// Stop tears down the loop synchronously: when Stop returns, no further
// firing will occur. In-flight refreshes are canceled via their context.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if s.cancel == nil {
		s.mu.Unlock()
		return
	}
	cancel := s.cancel
	done := s.loopDone
	s.cancel = nil
	s.loopDone = nil
	s.mu.Unlock()

	cancel()
	<-done
	s.firings.Wait()
}

// Wake requests an immediate firing, coalescing with any firing already
// requested. Called when the host transitions from background to foreground
// so stale data is not served after a long suspension.
func (s *Scheduler) Wake() {
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

// Degraded reports whether conversations refreshes have failed at least the
// threshold number of consecutive times. The UI may choose to surface it.
func (s *Scheduler) Degraded() bool {
	s.failMu.Lock()
	defer s.failMu.Unlock()
	return s.degraded
}

// LastError returns the most recent refresh failure, or nil after a success.
func (s *Scheduler) LastError() error {
	s.failMu.Lock()
	defer s.failMu.Unlock()
	return s.lastErr
}

func (s *Scheduler) run(ctx context.Context, done chan struct{}) {
	defer close(done)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	// Fire immediately on start so the first paint is not 5s stale.
	s.fire(ctx)

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.fire(ctx)
		case <-s.wake:
			s.fire(ctx)
		}
	}
}

// fire launches both refresh targets. Each runs in its own goroutine so a
// slow messages fetch cannot delay the conversations fetch; the refresher's
// own per-target guards provide the non-reentrancy, so a firing that
// overlaps an in-flight refresh for a target is a cheap no-op for it.
func (s *Scheduler) fire(ctx context.Context) {
	if ctx.Err() != nil {
		return
	}

	s.firings.Add(2)
	go func() {
		defer s.firings.Done()
		err := s.refresher.RefreshConversations(ctx)
		s.recordConversationsResult(err)
	}()
	go func() {
		defer s.firings.Done()
		if err := s.refresher.RefreshOpenMessages(ctx); err != nil && !api.IsAuth(err) && !errors.Is(err, guard.ErrSkipped) {
			s.logger.Debug("messages refresh failed", "error", err)
		}
	}()
}

// recordConversationsResult updates the consecutive-failure count. Auth
// failures are not counted toward degradation: they are surfaced, not
// retried into a failure streak. A guard-skipped firing carries no signal
// either way and leaves the streak alone; without that, an outage whose
// failed requests outlast the poll interval would have every failure
// bracketed by streak-resetting skips and the degraded flag could never
// rise. A refresh canceled by Stop is likewise not counted, so a stopped
// scheduler does not report degraded.
func (s *Scheduler) recordConversationsResult(err error) {
	if errors.Is(err, guard.ErrSkipped) || errors.Is(err, context.Canceled) {
		return
	}

	s.failMu.Lock()
	defer s.failMu.Unlock()

	if err == nil {
		s.convFailures = 0
		s.degraded = false
		s.lastErr = nil
		return
	}

	s.lastErr = err
	if api.IsAuth(err) {
		s.logger.Warn("conversations refresh needs sign-in", "error", err)
		return
	}

	s.convFailures++
	if s.convFailures >= s.threshold && !s.degraded {
		s.degraded = true
		s.logger.Warn("conversations refresh degraded",
			"consecutive_failures", s.convFailures,
			"error", err)
	} else {
		s.logger.Debug("conversations refresh failed",
			"consecutive_failures", s.convFailures,
			"error", err)
	}
}

// resetFailures clears failure tracking; called on Start.
func (s *Scheduler) resetFailures() {
	s.failMu.Lock()
	defer s.failMu.Unlock()
	s.convFailures = 0
	s.degraded = false
	s.lastErr = nil
}
