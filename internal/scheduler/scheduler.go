package scheduler

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"
)

const (
	// DefaultDebounce is the quiet period after the latest edit before a
	// scheduled persist fires.
	DefaultDebounce = 2 * time.Second
	// DefaultFlushInterval bounds how stale pending content may get under
	// continuous editing that keeps restarting the debounce window.
	DefaultFlushInterval = 30 * time.Second
)

var (
	// ErrMissingPersist indicates the scheduler was constructed without a persistence callback.
	ErrMissingPersist = errors.New("scheduler: persist callback is required")
	// ErrClosed indicates an operation on a scheduler whose timers were already torn down.
	ErrClosed = errors.New("scheduler: closed")
)

// PersistFunc persists the supplied content. It is invoked from debounce and
// periodic timers as well as from SaveImmediately.
type PersistFunc func(ctx context.Context, content string) error

// Config carries the dependencies for New. OnSettled is optional; it fires
// when a skip path confirms the content already matches the last successful
// persist, so callers can reconcile state they derive from persist calls.
type Config struct {
	Persist       PersistFunc
	OnSettled     func(content string)
	Debounce      time.Duration
	FlushInterval time.Duration
	Logger        *zap.Logger
}

// Scheduler coalesces rapid edits into infrequent persistence calls. Each
// Trigger restarts the debounce window, so any number of edits inside one
// window produce exactly one persist; an independent periodic flush fires
// regardless of debounce state so content can never stay pending longer than
// the flush interval.
type Scheduler struct {
	persist       PersistFunc
	settled       func(content string)
	debounce      time.Duration
	flushInterval time.Duration
	logger        *zap.Logger

	mu            sync.Mutex
	debounceTimer *time.Timer
	ticker        *time.Ticker
	done          chan struct{}
	enabled       bool
	closed        bool
	pending       bool
	latest        string
	lastPersisted string
	hasPersisted  bool
}

// New validates the configuration, starts the periodic flush loop, and
// returns a Scheduler. The scheduler starts enabled.
func New(cfg Config) (*Scheduler, error) {
	if cfg.Persist == nil {
		return nil, ErrMissingPersist
	}

	debounce := cfg.Debounce
	if debounce <= 0 {
		debounce = DefaultDebounce
	}
	flushInterval := cfg.FlushInterval
	if flushInterval <= 0 {
		flushInterval = DefaultFlushInterval
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	s := &Scheduler{
		persist:       cfg.Persist,
		settled:       cfg.OnSettled,
		debounce:      debounce,
		flushInterval: flushInterval,
		logger:        logger,
		ticker:        time.NewTicker(flushInterval),
		done:          make(chan struct{}),
		enabled:       true,
	}
	go s.runPeriodicFlush()
	return s, nil
}

// Trigger records content as the latest unsaved state and (re)arms the
// debounce timer. No-op when autosave is disabled or the scheduler is closed.
func (s *Scheduler) Trigger(content string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed || !s.enabled {
		return
	}
	s.latest = content
	s.pending = true
	if s.debounceTimer != nil {
		s.debounceTimer.Stop()
	}
	s.debounceTimer = time.AfterFunc(s.debounce, func() {
		s.flushScheduled("debounce")
	})
}

// SaveImmediately cancels any pending debounce timer and persists content
// synchronously, propagating the persistence error to the caller. It works
// regardless of the enabled flag so explicit saves bypass a disabled autosave.
func (s *Scheduler) SaveImmediately(ctx context.Context, content string) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrClosed
	}
	s.cancelDebounceLocked()
	s.latest = content
	s.pending = false
	skip := s.hasPersisted && content == s.lastPersisted
	s.mu.Unlock()

	if skip {
		s.notifySettled(content)
		return nil
	}
	if err := s.persist(ctx, content); err != nil {
		s.logger.Warn("immediate save failed", zap.Error(err))
		s.markUnpersisted(content)
		return err
	}
	s.markPersisted(content)
	return nil
}

// Flush persists pending content now, if any. Used on session close so the
// last edits do not wait out a debounce window that will never fire.
func (s *Scheduler) Flush(ctx context.Context) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrClosed
	}
	if !s.pending {
		s.mu.Unlock()
		return nil
	}
	s.cancelDebounceLocked()
	content := s.latest
	s.pending = false
	skip := s.hasPersisted && content == s.lastPersisted
	s.mu.Unlock()

	if skip {
		s.notifySettled(content)
		return nil
	}
	if err := s.persist(ctx, content); err != nil {
		s.markUnpersisted(content)
		return err
	}
	s.markPersisted(content)
	return nil
}

// SetEnabled toggles the autosave paths. Disabling cancels an armed debounce
// timer; explicit SaveImmediately calls still work.
func (s *Scheduler) SetEnabled(enabled bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.enabled = enabled
	if !enabled {
		s.cancelDebounceLocked()
	}
}

// HasPendingChanges reports whether edits occurred since the last successful persist.
func (s *Scheduler) HasPendingChanges() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pending
}

// Close cancels both timers. Triggers after Close are ignored; persisting
// into a torn-down session is not allowed.
func (s *Scheduler) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.closed = true
	s.cancelDebounceLocked()
	s.ticker.Stop()
	close(s.done)
}

func (s *Scheduler) runPeriodicFlush() {
	for {
		select {
		case <-s.done:
			return
		case <-s.ticker.C:
			s.flushScheduled("periodic")
		}
	}
}

// flushScheduled is the fire-and-forget persistence path shared by the
// debounce timer and the periodic ticker. Errors are logged, never
// propagated; the content stays pending so a later flush retries it.
func (s *Scheduler) flushScheduled(trigger string) {
	s.mu.Lock()
	if s.closed || !s.pending {
		s.mu.Unlock()
		return
	}
	content := s.latest
	s.pending = false
	skip := s.hasPersisted && content == s.lastPersisted
	s.mu.Unlock()

	if skip {
		s.notifySettled(content)
		return
	}

	if err := s.persist(context.Background(), content); err != nil {
		s.logger.Warn("scheduled save failed",
			zap.String("trigger", trigger),
			zap.Error(err))
		s.markUnpersisted(content)
		return
	}
	s.markPersisted(content)
}

func (s *Scheduler) notifySettled(content string) {
	if s.settled != nil {
		s.settled(content)
	}
}

func (s *Scheduler) markPersisted(content string) {
	s.mu.Lock()
	s.lastPersisted = content
	s.hasPersisted = true
	s.mu.Unlock()
}

// markUnpersisted re-flags content as pending after a failed persist, unless
// a newer edit already superseded it.
func (s *Scheduler) markUnpersisted(content string) {
	s.mu.Lock()
	if s.latest == content {
		s.pending = true
	}
	s.mu.Unlock()
}

func (s *Scheduler) cancelDebounceLocked() {
	if s.debounceTimer != nil {
		s.debounceTimer.Stop()
		s.debounceTimer = nil
	}
}
