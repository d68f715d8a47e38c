package drafts

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
)

var (
	errMissingRemote = errors.New("remote store is required")
	errDraftNotFound = errors.New("draft not found")
	noOpLogger       = zap.NewNop()
)

// ManagerError carries a dot-separated operation code alongside the cause.
type ManagerError struct {
	code string
	err  error
}

func (e *ManagerError) Error() string {
	if e.err == nil {
		return e.code
	}
	return fmt.Sprintf("%s: %v", e.code, e.err)
}

func (e *ManagerError) Unwrap() error {
	return e.err
}

// Code returns the machine-readable error code.
func (e *ManagerError) Code() string {
	return e.code
}

const (
	opManagerNew  = "drafts.manager.new"
	opRefresh     = "drafts.refresh"
	opCreate      = "drafts.create"
	opUpdate      = "drafts.update"
	opDelete      = "drafts.delete"
	opSaveContent = "drafts.save_edited_content"
)

func newManagerError(operation, reason string, cause error) error {
	code := fmt.Sprintf("%s.%s", operation, reason)
	return &ManagerError{code: code, err: cause}
}

// ManagerConfig carries the dependencies for NewManager.
type ManagerConfig struct {
	Remote Remote
	Clock  func() time.Time
	Logger *zap.Logger
}

// Manager owns the canonical in-memory draft collection. All mutations go
// through its methods; the only sanctioned temporary inconsistency is the
// optimistic-update-then-rollback protocol in SaveEditedContent.
type Manager struct {
	remote Remote
	clock  func() time.Time
	logger *zap.Logger

	mu        sync.Mutex
	drafts    []Draft
	revisions map[string]int64
	lastError string
}

// NewManager validates the configuration and returns a Manager.
func NewManager(cfg ManagerConfig) (*Manager, error) {
	if cfg.Remote == nil {
		return nil, newManagerError(opManagerNew, "missing_remote", errMissingRemote)
	}

	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := cfg.Logger
	if logger == nil {
		logger = noOpLogger
	}

	return &Manager{
		remote:    cfg.Remote,
		clock:     clock,
		logger:    logger,
		revisions: make(map[string]int64),
	}, nil
}

// Refresh fetches the authoritative draft list. On success the local
// collection is replaced wholesale; on failure it is left untouched.
func (m *Manager) Refresh(ctx context.Context) error {
	listed, err := m.remote.ListDrafts(ctx)
	if err != nil {
		m.setError(opRefresh, "remote_list_failed", err)
		return newManagerError(opRefresh, "remote_list_failed", err)
	}

	m.mu.Lock()
	m.drafts = listed
	m.revisions = make(map[string]int64, len(listed))
	for _, draft := range listed {
		m.revisions[draft.ID] = 1
	}
	m.lastError = ""
	m.mu.Unlock()
	return nil
}

// Create asks the server for a new draft and prepends it on success. There
// is no optimistic insert: ids are server-assigned, and inventing a
// placeholder id is deliberately avoided.
func (m *Manager) Create(ctx context.Context, sessionRef, title, content string, metadata map[string]any) (*Draft, error) {
	created, err := m.remote.CreateDraft(ctx, CreateRequest{
		SessionID: sessionRef,
		Title:     title,
		Content:   content,
		Metadata:  metadata,
	})
	if err != nil {
		m.setError(opCreate, "remote_create_failed", err)
		return nil, newManagerError(opCreate, "remote_create_failed", err)
	}

	m.mu.Lock()
	m.drafts = append([]Draft{created}, m.drafts...)
	m.revisions[created.ID] = 1
	m.lastError = ""
	m.mu.Unlock()

	result := created.Clone()
	return &result, nil
}

// Update is the non-optimistic update path: the remote call happens first,
// and the local entry only changes once the server confirmed.
func (m *Manager) Update(ctx context.Context, id string, updates UpdateRequest) (*Draft, error) {
	m.mu.Lock()
	issued := m.revisions[id]
	m.mu.Unlock()

	updated, err := m.remote.UpdateDraft(ctx, id, updates)
	if err != nil {
		m.setError(opUpdate, "remote_update_failed", err)
		return nil, newManagerError(opUpdate, "remote_update_failed", err)
	}

	m.mu.Lock()
	applied := m.applyAuthoritativeLocked(updated, issued)
	m.lastError = ""
	m.mu.Unlock()

	if !applied {
		current, found := m.Get(id)
		if !found {
			// Untracked id: the remote write succeeded, so hand back the
			// server's entity without inserting it locally.
			result := updated.Clone()
			return &result, nil
		}
		// Stale completion: a newer local state exists. Not an error.
		return &current, nil
	}
	result := updated.Clone()
	return &result, nil
}

// Delete removes a draft remotely, then locally. No rollback content is
// needed beyond leaving the collection untouched on failure.
func (m *Manager) Delete(ctx context.Context, id string) error {
	if err := m.remote.DeleteDraft(ctx, id); err != nil {
		m.setError(opDelete, "remote_delete_failed", err)
		return newManagerError(opDelete, "remote_delete_failed", err)
	}

	m.mu.Lock()
	if index := m.indexLocked(id); index >= 0 {
		m.drafts = append(m.drafts[:index], m.drafts[index+1:]...)
	}
	delete(m.revisions, id)
	m.lastError = ""
	m.mu.Unlock()
	return nil
}

// SaveEditedContent is the optimistic save path used by active editing. The
// snapshot is captured synchronously before the optimistic write, so a
// rollback always restores the exact pre-mutation value for this id even if
// unrelated entries changed while the request was in flight.
func (m *Manager) SaveEditedContent(ctx context.Context, id, content string, title *string) (*Draft, error) {
	if err := ValidateContent(content); err != nil {
		m.setError(opSaveContent, "empty_content", err)
		return nil, newManagerError(opSaveContent, "empty_content", err)
	}

	m.mu.Lock()
	index := m.indexLocked(id)
	if index < 0 {
		m.mu.Unlock()
		m.setError(opSaveContent, "draft_not_found", errDraftNotFound)
		return nil, newManagerError(opSaveContent, "draft_not_found", errDraftNotFound)
	}
	snapshot := m.drafts[index].Clone()
	m.drafts[index].Content = content
	if title != nil {
		m.drafts[index].Title = *title
	}
	m.drafts[index].UpdatedAt = m.clock().UTC()
	m.revisions[id]++
	issued := m.revisions[id]
	m.mu.Unlock()

	updated, err := m.remote.UpdateDraft(ctx, id, UpdateRequest{Content: &content, Title: title})
	if err != nil {
		m.rollback(id, snapshot)
		m.setError(opSaveContent, "remote_update_failed", err)
		return nil, newManagerError(opSaveContent, "remote_update_failed", err)
	}

	m.mu.Lock()
	m.applyAuthoritativeLocked(updated, issued)
	m.lastError = ""
	m.mu.Unlock()

	result := updated.Clone()
	return &result, nil
}

// GetWithPendingUpdates returns the entry merged with updates, without
// mutating the collection. Used for UI preview before commit.
func (m *Manager) GetWithPendingUpdates(id string, updates UpdateRequest) (*Draft, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	index := m.indexLocked(id)
	if index < 0 {
		return nil, false
	}
	merged := m.drafts[index].Clone()
	updates.applyTo(&merged)
	return &merged, true
}

// Get returns a copy of the draft with the given id.
func (m *Manager) Get(id string) (Draft, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	index := m.indexLocked(id)
	if index < 0 {
		return Draft{}, false
	}
	return m.drafts[index].Clone(), true
}

// Drafts returns a copy of the canonical collection.
func (m *Manager) Drafts() []Draft {
	m.mu.Lock()
	defer m.mu.Unlock()
	listed := make([]Draft, 0, len(m.drafts))
	for _, draft := range m.drafts {
		listed = append(listed, draft.Clone())
	}
	return listed
}

// Count returns the number of drafts in the collection.
func (m *Manager) Count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.drafts)
}

// LastError returns the user-visible message from the most recent failed
// operation, empty after a success.
func (m *Manager) LastError() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lastError
}

// applyAuthoritativeLocked replaces the local entry with the server's
// response unless the response is stale: a newer local revision was issued
// since the request went out, or the response timestamp is older than what
// is currently displayed. Stale responses are discarded, not surfaced.
func (m *Manager) applyAuthoritativeLocked(authoritative Draft, issuedRevision int64) bool {
	index := m.indexLocked(authoritative.ID)
	if index < 0 {
		return false
	}
	if m.revisions[authoritative.ID] != issuedRevision {
		m.logger.Debug("discarding stale draft response",
			zap.String("draft_id", authoritative.ID),
			zap.Int64("issued_revision", issuedRevision),
			zap.Int64("current_revision", m.revisions[authoritative.ID]))
		return false
	}
	if authoritative.UpdatedAt.Before(m.drafts[index].UpdatedAt) {
		// Server may normalize timestamps; never let UpdatedAt move backwards.
		authoritative.UpdatedAt = m.drafts[index].UpdatedAt
	}
	m.drafts[index] = authoritative
	return true
}

// rollback restores the captured snapshot for one id. The fresh index lookup
// tolerates unrelated entries having moved; the restored value is the
// snapshot, never a re-read of the possibly-mutated live entry.
func (m *Manager) rollback(id string, snapshot Draft) {
	m.mu.Lock()
	defer m.mu.Unlock()
	index := m.indexLocked(id)
	if index < 0 {
		return
	}
	m.drafts[index] = snapshot
	m.revisions[id]++
}

func (m *Manager) indexLocked(id string) int {
	for index := range m.drafts {
		if m.drafts[index].ID == id {
			return index
		}
	}
	return -1
}

func (m *Manager) setError(operation, reason string, err error) {
	m.mu.Lock()
	m.lastError = fmt.Sprintf("%s.%s: %v", operation, reason, err)
	m.mu.Unlock()
	m.logger.Error("draft sync error",
		zap.String("operation", operation),
		zap.String("reason", reason),
		zap.Error(err))
}
