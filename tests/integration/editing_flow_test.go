package integration_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/plannerlab/draftsync/internal/api"
	"github.com/plannerlab/draftsync/internal/cache"
	"github.com/plannerlab/draftsync/internal/database"
	"github.com/plannerlab/draftsync/internal/drafts"
	"github.com/plannerlab/draftsync/internal/editor"
)

// fakeDraftsServer is a gin-backed stand-in for the remote drafts API. It
// speaks the wrapped {ok, data|message} envelope and can be told to fail
// writes to exercise rollback paths.
type fakeDraftsServer struct {
	mu         sync.Mutex
	drafts     map[string]draftRow
	failWrites bool
}

type draftRow struct {
	ID              string         `json:"id"`
	Title           string         `json:"title"`
	Content         string         `json:"content"`
	OriginalContent string         `json:"original_content,omitempty"`
	Metadata        map[string]any `json:"metadata,omitempty"`
	CreatedAt       time.Time      `json:"created_at"`
	UpdatedAt       time.Time      `json:"updated_at"`
}

func newFakeDraftsServer() *fakeDraftsServer {
	return &fakeDraftsServer{drafts: make(map[string]draftRow)}
}

func (s *fakeDraftsServer) setFailWrites(fail bool) {
	s.mu.Lock()
	s.failWrites = fail
	s.mu.Unlock()
}

func (s *fakeDraftsServer) setContent(id, content string) {
	s.mu.Lock()
	row := s.drafts[id]
	row.Content = content
	s.drafts[id] = row
	s.mu.Unlock()
}

func (s *fakeDraftsServer) handler() http.Handler {
	router := gin.New()
	router.Use(gin.Recovery())

	router.GET("/drafts", s.handleList)
	router.POST("/drafts", s.handleCreate)
	router.PUT("/drafts/:id", s.handleUpdate)
	router.DELETE("/drafts/:id", s.handleDelete)

	return router
}

func (s *fakeDraftsServer) handleList(c *gin.Context) {
	s.mu.Lock()
	listed := make([]draftRow, 0, len(s.drafts))
	for _, row := range s.drafts {
		listed = append(listed, row)
	}
	s.mu.Unlock()
	c.JSON(http.StatusOK, gin.H{"ok": true, "data": listed})
}

func (s *fakeDraftsServer) handleCreate(c *gin.Context) {
	var request struct {
		SessionID string         `json:"session_id"`
		Title     string         `json:"title"`
		Content   string         `json:"content"`
		Metadata  map[string]any `json:"metadata"`
	}
	if err := c.ShouldBindJSON(&request); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"ok": false, "message": "invalid_request"})
		return
	}
	s.mu.Lock()
	if s.failWrites {
		s.mu.Unlock()
		c.JSON(http.StatusServiceUnavailable, gin.H{"ok": false, "message": "write_unavailable"})
		return
	}
	now := time.Now().UTC().Truncate(time.Second)
	row := draftRow{
		ID:        uuid.NewString(),
		Title:     request.Title,
		Content:   request.Content,
		Metadata:  request.Metadata,
		CreatedAt: now,
		UpdatedAt: now,
	}
	s.drafts[row.ID] = row
	s.mu.Unlock()
	c.JSON(http.StatusOK, gin.H{"ok": true, "data": row})
}

func (s *fakeDraftsServer) handleUpdate(c *gin.Context) {
	var request struct {
		Title    *string        `json:"title"`
		Content  *string        `json:"content"`
		Metadata map[string]any `json:"metadata"`
	}
	if err := c.ShouldBindJSON(&request); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"ok": false, "message": "invalid_request"})
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failWrites {
		c.JSON(http.StatusServiceUnavailable, gin.H{"ok": false, "message": "write_unavailable"})
		return
	}
	row, found := s.drafts[c.Param("id")]
	if !found {
		c.JSON(http.StatusNotFound, gin.H{"ok": false, "message": "draft_not_found"})
		return
	}
	if request.Title != nil {
		row.Title = *request.Title
	}
	if request.Content != nil {
		row.OriginalContent = row.Content
		row.Content = *request.Content
	}
	if request.Metadata != nil {
		row.Metadata = request.Metadata
	}
	row.UpdatedAt = time.Now().UTC().Truncate(time.Second)
	s.drafts[row.ID] = row
	c.JSON(http.StatusOK, gin.H{"ok": true, "data": row})
}

func (s *fakeDraftsServer) handleDelete(c *gin.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failWrites {
		c.JSON(http.StatusServiceUnavailable, gin.H{"ok": false, "message": "write_unavailable"})
		return
	}
	if _, found := s.drafts[c.Param("id")]; !found {
		c.JSON(http.StatusNotFound, gin.H{"ok": false, "message": "draft_not_found"})
		return
	}
	delete(s.drafts, c.Param("id"))
	c.JSON(http.StatusOK, gin.H{"ok": true, "data": gin.H{"deleted": true}})
}

type stack struct {
	server  *fakeDraftsServer
	manager *drafts.Manager
	cache   *cache.Cache
}

func newStack(testContext *testing.T) *stack {
	testContext.Helper()
	gin.SetMode(gin.TestMode)

	fake := newFakeDraftsServer()
	httpServer := httptest.NewServer(fake.handler())
	testContext.Cleanup(httpServer.Close)

	client, err := api.NewClient(api.ClientConfig{BaseURL: httpServer.URL, Logger: zap.NewNop()})
	if err != nil {
		testContext.Fatalf("failed to build api client: %v", err)
	}
	remote, err := drafts.NewRemoteStore(client)
	if err != nil {
		testContext.Fatalf("failed to build remote store: %v", err)
	}
	manager, err := drafts.NewManager(drafts.ManagerConfig{Remote: remote, Logger: zap.NewNop()})
	if err != nil {
		testContext.Fatalf("failed to build manager: %v", err)
	}

	databasePath := filepath.Join(testContext.TempDir(), "autosave.db")
	db, err := database.OpenSQLite(databasePath, zap.NewNop())
	if err != nil {
		testContext.Fatalf("failed to open autosave database: %v", err)
	}
	backend, err := cache.NewSQLiteBackend(db)
	if err != nil {
		testContext.Fatalf("failed to build cache backend: %v", err)
	}

	return &stack{
		server:  fake,
		manager: manager,
		cache:   cache.New(cache.Config{Backend: backend, Logger: zap.NewNop()}),
	}
}

type acceptAll struct{}

func (acceptAll) AcceptRecovered(editor.RecoveryPrompt) bool { return true }

func TestEditingFlowEndToEnd(testContext *testing.T) {
	env := newStack(testContext)
	ctx := context.Background()

	created, err := env.manager.Create(ctx, "session-ref", "Photosynthesis", "Lesson outline", nil)
	if err != nil {
		testContext.Fatalf("failed to create draft: %v", err)
	}

	controller, err := editor.NewController(editor.ControllerConfig{
		Draft:           *created,
		Manager:         env.manager,
		Cache:           env.cache,
		Decider:         acceptAll{},
		Debounce:        30 * time.Millisecond,
		FlushInterval:   time.Hour,
		AutosaveEnabled: true,
		Logger:          zap.NewNop(),
	})
	if err != nil {
		testContext.Fatalf("failed to build controller: %v", err)
	}
	if err := controller.Open(ctx); err != nil {
		testContext.Fatalf("failed to open session: %v", err)
	}

	controller.SetContent("Lesson outline with objectives")
	deadline := time.Now().Add(2 * time.Second)
	for controller.Status() != editor.StatusSaved && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	if controller.Status() != editor.StatusSaved {
		testContext.Fatalf("autosave never settled, status %s", controller.Status())
	}

	entry, found := env.manager.Get(created.ID)
	if !found || entry.Content != "Lesson outline with objectives" {
		testContext.Fatalf("unexpected synced entry %+v found=%v", entry, found)
	}
	if entry.OriginalContent != "Lesson outline" {
		testContext.Fatalf("server-normalized baseline missing, got %+v", entry)
	}

	record, found := env.cache.Load(ctx, cache.DraftKey(created.ID))
	if !found || record.Content != "Lesson outline with objectives" {
		testContext.Fatalf("expected durable autosave record, got %+v found=%v", record, found)
	}

	controller.Close(ctx)
}

func TestRemoteFailureRollsBackAndCacheRetainsEdits(testContext *testing.T) {
	env := newStack(testContext)
	ctx := context.Background()

	created, err := env.manager.Create(ctx, "session-ref", "Fractions", "v1", nil)
	if err != nil {
		testContext.Fatalf("failed to create draft: %v", err)
	}

	controller, err := editor.NewController(editor.ControllerConfig{
		Draft:           *created,
		Manager:         env.manager,
		Cache:           env.cache,
		Debounce:        time.Hour,
		FlushInterval:   time.Hour,
		AutosaveEnabled: true,
		Logger:          zap.NewNop(),
	})
	if err != nil {
		testContext.Fatalf("failed to build controller: %v", err)
	}
	if err := controller.Open(ctx); err != nil {
		testContext.Fatalf("failed to open session: %v", err)
	}
	defer controller.Close(ctx)

	// First save succeeds and lands in the cache.
	controller.SetContent("v2")
	if err := controller.Save(ctx); err != nil {
		testContext.Fatalf("unexpected save error: %v", err)
	}

	// Second save fails remotely; the collection rolls back to v2 while the
	// buffer keeps the edits.
	env.server.setFailWrites(true)
	controller.SetContent("v3")
	if err := controller.Save(ctx); err == nil {
		testContext.Fatalf("expected remote failure")
	}
	if controller.Status() != editor.StatusError {
		testContext.Fatalf("expected error status, got %s", controller.Status())
	}
	if controller.Content() != "v3" {
		testContext.Fatalf("buffer must keep failed edits, got %q", controller.Content())
	}
	entry, _ := env.manager.Get(created.ID)
	if entry.Content != "v2" {
		testContext.Fatalf("expected rollback to v2, got %q", entry.Content)
	}
	if env.manager.LastError() == "" {
		testContext.Fatalf("expected user-visible error message")
	}

	// The durable cache carries the failed edits so a crash can recover them.
	record, found := env.cache.Load(ctx, cache.DraftKey(created.ID))
	if !found || record.Content != "v3" {
		testContext.Fatalf("expected failed edits in the cache, got %+v found=%v", record, found)
	}
}

func TestRecoveryAcrossSessions(testContext *testing.T) {
	env := newStack(testContext)
	ctx := context.Background()

	created, err := env.manager.Create(ctx, "session-ref", "Volcanoes", "v1", nil)
	if err != nil {
		testContext.Fatalf("failed to create draft: %v", err)
	}

	first, err := editor.NewController(editor.ControllerConfig{
		Draft:           *created,
		Manager:         env.manager,
		Cache:           env.cache,
		Debounce:        time.Hour,
		FlushInterval:   time.Hour,
		AutosaveEnabled: true,
		Logger:          zap.NewNop(),
	})
	if err != nil {
		testContext.Fatalf("failed to build first controller: %v", err)
	}
	if err := first.Open(ctx); err != nil {
		testContext.Fatalf("failed to open first session: %v", err)
	}
	first.SetContent("v2 with unsaved polish")
	if err := first.Save(ctx); err != nil {
		testContext.Fatalf("unexpected save error: %v", err)
	}
	first.Close(ctx)

	// The server loses the update (restored backup); a reopened editor sees
	// the stale baseline but the durable cache still has the newer content.
	env.server.setContent(created.ID, "v1")
	if err := env.manager.Refresh(ctx); err != nil {
		testContext.Fatalf("unexpected refresh error: %v", err)
	}
	baseline, _ := env.manager.Get(created.ID)
	if baseline.Content != "v1" {
		testContext.Fatalf("expected stale baseline, got %q", baseline.Content)
	}

	second, err := editor.NewController(editor.ControllerConfig{
		Draft:           baseline,
		Manager:         env.manager,
		Cache:           env.cache,
		Decider:         acceptAll{},
		Debounce:        time.Hour,
		FlushInterval:   time.Hour,
		AutosaveEnabled: true,
		Logger:          zap.NewNop(),
	})
	if err != nil {
		testContext.Fatalf("failed to build second controller: %v", err)
	}
	if err := second.Open(ctx); err != nil {
		testContext.Fatalf("failed to open second session: %v", err)
	}
	defer second.Close(ctx)

	if !second.Recovered() {
		testContext.Fatalf("expected recovery of cached content")
	}
	if second.Content() != "v2 with unsaved polish" {
		testContext.Fatalf("unexpected recovered content %q", second.Content())
	}
	if second.Status() != editor.StatusUnsaved {
		testContext.Fatalf("recovered content must read as unsaved, got %s", second.Status())
	}
}
