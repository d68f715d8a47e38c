package editor

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/plannerlab/draftsync/internal/cache"
	"github.com/plannerlab/draftsync/internal/drafts"
	"github.com/plannerlab/draftsync/internal/scheduler"
)

// SaveStatus describes the persistence state of one open editor session.
type SaveStatus string

const (
	// StatusSaved means the buffer matches the last successful persist.
	StatusSaved SaveStatus = "saved"
	// StatusSaving means a persistence attempt is in flight.
	StatusSaving SaveStatus = "saving"
	// StatusUnsaved means the buffer has edits not yet persisted.
	StatusUnsaved SaveStatus = "unsaved"
	// StatusError means the last persistence attempt failed; the buffer is retained.
	StatusError SaveStatus = "error"
)

var (
	errMissingManager = errors.New("editor: draft sync manager is required")
	errMissingCache   = errors.New("editor: autosave cache is required")
	errMissingDraftID = errors.New("editor: draft id is required")
	// ErrNotOpen indicates an operation before Open or after Close.
	ErrNotOpen = errors.New("editor: session not open")
)

// RecoveryPrompt describes divergent cached content found on open.
type RecoveryPrompt struct {
	DraftID         string
	CachedContent   string
	BaselineContent string
	SavedAt         time.Time
}

// RecoveryDecider makes the binary recover-or-discard choice for divergent
// cached content. The editor does not become interactive with the content
// until the decision is made; this is a correctness gate, not cosmetics.
type RecoveryDecider interface {
	AcceptRecovered(prompt RecoveryPrompt) bool
}

// DiscardRecovered is a RecoveryDecider that always keeps the baseline.
type DiscardRecovered struct{}

// AcceptRecovered reports false: cached content is discarded.
func (DiscardRecovered) AcceptRecovered(RecoveryPrompt) bool { return false }

// ControllerConfig carries the dependencies for NewController.
type ControllerConfig struct {
	Draft           drafts.Draft
	Manager         *drafts.Manager
	Cache           *cache.Cache
	Decider         RecoveryDecider
	Keys            KeyProvider
	Debounce        time.Duration
	FlushInterval   time.Duration
	AutosaveEnabled bool
	Clock           func() time.Time
	Logger          *zap.Logger
}

// Controller orchestrates one open document: it wires content changes into
// the autosave scheduler, recovers unsaved work from the durable cache on
// open, tracks the save status, and performs immediate saves.
type Controller struct {
	draftID  string
	manager  *drafts.Manager
	cache    *cache.Cache
	decider  RecoveryDecider
	keys     KeyProvider
	clock    func() time.Time
	logger   *zap.Logger
	autosave bool

	debounce      time.Duration
	flushInterval time.Duration

	sched *scheduler.Scheduler

	mu          sync.Mutex
	alive       bool
	sessionKey  string
	content     string
	title       string
	titleDirty  bool
	status      SaveStatus
	recovered   bool
	lastSavedAt time.Time
}

// NewController validates the configuration and returns a Controller. The
// session is inert until Open runs.
func NewController(cfg ControllerConfig) (*Controller, error) {
	if cfg.Manager == nil {
		return nil, errMissingManager
	}
	if cfg.Cache == nil {
		return nil, errMissingCache
	}
	if cfg.Draft.ID == "" {
		return nil, errMissingDraftID
	}

	decider := cfg.Decider
	if decider == nil {
		decider = DiscardRecovered{}
	}
	keys := cfg.Keys
	if keys == nil {
		keys = NewUUIDKeyProvider()
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Controller{
		draftID:       cfg.Draft.ID,
		manager:       cfg.Manager,
		cache:         cfg.Cache,
		decider:       decider,
		keys:          keys,
		clock:         clock,
		logger:        logger,
		autosave:      cfg.AutosaveEnabled,
		debounce:      cfg.Debounce,
		flushInterval: cfg.FlushInterval,
		content:       cfg.Draft.Content,
		title:         cfg.Draft.Title,
		status:        StatusSaved,
	}, nil
}

// Open generates a fresh ephemeral session key, resolves divergent cached
// content through the recovery decider, and starts the autosave scheduler.
func (c *Controller) Open(ctx context.Context) error {
	c.mu.Lock()
	if c.alive {
		c.mu.Unlock()
		return fmt.Errorf("editor: session already open")
	}
	baseline := c.content
	c.mu.Unlock()

	sessionKey, err := c.keys.NewKey()
	if err != nil {
		return fmt.Errorf("editor: session key generation failed: %w", err)
	}

	// Recovery targets the stable per-document key, not the fresh session
	// key, so a reopened editor finds work saved by a previous session.
	recoveredContent := ""
	recovered := false
	if record, found := c.cache.Load(ctx, cache.DraftKey(c.draftID)); found && record.Content != baseline {
		accepted := c.decider.AcceptRecovered(RecoveryPrompt{
			DraftID:         c.draftID,
			CachedContent:   record.Content,
			BaselineContent: baseline,
			SavedAt:         record.SavedAt(),
		})
		if accepted {
			recoveredContent = record.Content
			recovered = true
		}
	}

	sched, err := scheduler.New(scheduler.Config{
		Persist:       c.persistContent,
		OnSettled:     c.settleContent,
		Debounce:      c.debounce,
		FlushInterval: c.flushInterval,
		Logger:        c.logger,
	})
	if err != nil {
		return err
	}
	sched.SetEnabled(c.autosave)

	c.mu.Lock()
	c.sessionKey = sessionKey
	c.sched = sched
	c.alive = true
	c.recovered = recovered
	if recovered {
		c.content = recoveredContent
		c.status = StatusUnsaved
	}
	c.mu.Unlock()

	c.logger.Info("editor session opened",
		zap.String("draft_id", c.draftID),
		zap.String("session_key", sessionKey),
		zap.Bool("recovered", recovered))
	return nil
}

// SetContent updates the editing buffer. With autosave enabled the status
// flips to unsaved and the debounce window restarts.
func (c *Controller) SetContent(content string) {
	c.mu.Lock()
	if !c.alive {
		c.mu.Unlock()
		return
	}
	c.content = content
	if c.autosave {
		c.status = StatusUnsaved
	}
	sched := c.sched
	autosave := c.autosave
	c.mu.Unlock()

	if autosave {
		sched.Trigger(content)
	}
}

// SetTitle updates the draft title; the next persist carries it.
func (c *Controller) SetTitle(title string) {
	c.mu.Lock()
	if !c.alive {
		c.mu.Unlock()
		return
	}
	c.title = title
	c.titleDirty = true
	if c.autosave {
		c.status = StatusUnsaved
	}
	content := c.content
	sched := c.sched
	autosave := c.autosave
	c.mu.Unlock()

	if autosave {
		sched.Trigger(content)
	}
}

// Save performs a manual immediate save of the current buffer, as wired to
// explicit save actions and keyboard shortcuts. The pending debounce timer
// is cancelled first so it cannot race a save that already happened.
func (c *Controller) Save(ctx context.Context) error {
	c.mu.Lock()
	if !c.alive {
		c.mu.Unlock()
		return ErrNotOpen
	}
	content := c.content
	sched := c.sched
	c.mu.Unlock()

	return sched.SaveImmediately(ctx, content)
}

// Close flushes pending content, cancels both scheduler timers, and marks
// the session disposed. The durable cache is left intact so a later reopen
// can still recover.
func (c *Controller) Close(ctx context.Context) {
	c.mu.Lock()
	if !c.alive {
		c.mu.Unlock()
		return
	}
	sched := c.sched
	c.mu.Unlock()

	if err := sched.Flush(ctx); err != nil {
		c.logger.Warn("flush on close failed",
			zap.String("draft_id", c.draftID),
			zap.Error(err))
	}
	sched.Close()

	c.mu.Lock()
	c.alive = false
	c.mu.Unlock()

	c.logger.Info("editor session closed", zap.String("draft_id", c.draftID))
}

// Content returns the current editing buffer.
func (c *Controller) Content() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.content
}

// Title returns the current draft title.
func (c *Controller) Title() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.title
}

// Status returns the save status of this session.
func (c *Controller) Status() SaveStatus {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.status
}

// SessionKey returns the ephemeral key generated on Open.
func (c *Controller) SessionKey() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sessionKey
}

// Recovered reports whether cached content was accepted on Open.
func (c *Controller) Recovered() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.recovered
}

// LastSavedAt returns the time of the last successful persist, zero before one.
func (c *Controller) LastSavedAt() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastSavedAt
}

// settleContent marks the session saved when a skipped persist confirms the
// buffer was edited back to the last successfully persisted content.
func (c *Controller) settleContent(content string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.alive && c.content == content {
		c.status = StatusSaved
	}
}

// persistContent is the persistence callback wired into the scheduler. It
// performs both the remote save and the durable cache write; the cache is
// advisory while a remote failure is fatal to the attempt.
func (c *Controller) persistContent(ctx context.Context, content string) error {
	c.mu.Lock()
	if !c.alive {
		// Completion after teardown: ignore, never mutate a closed session.
		c.mu.Unlock()
		return nil
	}
	if err := drafts.ValidateContent(content); err != nil {
		c.status = StatusError
		c.mu.Unlock()
		return err
	}
	c.status = StatusSaving
	var title *string
	if c.titleDirty {
		pending := c.title
		title = &pending
	}
	sessionKey := c.sessionKey
	c.mu.Unlock()

	// Durable cache first: content from a failed remote save must still be
	// recoverable after a crash.
	c.cache.Save(ctx, cache.DraftKey(c.draftID), c.draftID, content)
	c.cache.Save(ctx, cache.SessionKey(sessionKey), c.draftID, content)

	if _, err := c.manager.SaveEditedContent(ctx, c.draftID, content, title); err != nil {
		c.mu.Lock()
		if c.alive {
			c.status = StatusError
		}
		c.mu.Unlock()
		return err
	}

	c.mu.Lock()
	if c.alive {
		// Edits that arrived while the save was in flight keep the
		// session unsaved; only a save of the current buffer settles it.
		if c.content == content {
			c.status = StatusSaved
		}
		c.titleDirty = false
		c.lastSavedAt = c.clock().UTC()
	}
	c.mu.Unlock()
	return nil
}
